// Package migrations embeds the SQL schema for the SQLite event log.
package migrations

import "embed"

// FS holds the versioned up migrations.
//
//go:embed *.sql
var FS embed.FS
