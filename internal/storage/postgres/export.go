// Package postgres mirrors the acquisition registry into a Postgres table.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/url-acquirer/internal/acquisition"
	"github.com/JakeFAU/url-acquirer/internal/metrics"
)

const (
	defaultTable     = "acquisition_items"
	defaultBatchSize = 500
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var columns = []string{
	"id",
	"source_url",
	"canonical_url",
	"state",
	"error_message",
	"content_kind",
	"raw_artifact_path",
	"artifact_size_bytes",
	"content_sha256",
	"mirror_uri",
	"ingested_at",
	"classified_at",
	"fetched_at",
	"processed_file_path",
	"document_page_count",
	"detected_language",
	"processed_at",
	"run_id",
}

// Config controls the Postgres connection pool and target table.
type Config struct {
	DSN             string
	Table           string
	BatchSize       int
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type txBeginner interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Exporter upserts registry rows keyed by id.
type Exporter struct {
	pool      txBeginner
	table     string
	batchSize int
	builder   sq.StatementBuilderType
}

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Exporter, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("export.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	exp, err := NewWithPool(pool, cfg.Table, cfg.BatchSize)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return exp, nil
}

// NewWithPool wraps an existing pool.
func NewWithPool(pool txBeginner, table string, batchSize int) (*Exporter, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Exporter{
		pool:      pool,
		table:     table,
		batchSize: batchSize,
		builder:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

// Close releases the pool.
func (e *Exporter) Close() {
	if e == nil || e.pool == nil {
		return
	}
	e.pool.Close()
}

// EnsureTable creates the target table when it does not exist.
func (e *Exporter) EnsureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id                  INTEGER PRIMARY KEY,
	source_url          TEXT NOT NULL,
	canonical_url       TEXT,
	state               TEXT NOT NULL,
	error_message       TEXT,
	content_kind        TEXT,
	raw_artifact_path   TEXT,
	artifact_size_bytes BIGINT,
	content_sha256      TEXT,
	mirror_uri          TEXT,
	ingested_at         TIMESTAMPTZ NOT NULL,
	classified_at       TIMESTAMPTZ,
	fetched_at          TIMESTAMPTZ,
	processed_file_path TEXT,
	document_page_count INTEGER,
	detected_language   TEXT,
	processed_at        TIMESTAMPTZ,
	run_id              TEXT,
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, e.table)
	if _, err := e.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", e.table, err)
	}
	return nil
}

// Export upserts items in batches inside one transaction and returns the
// number of rows written.
func (e *Exporter) Export(ctx context.Context, runID string, items []acquisition.Item) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin export: %w", err)
	}
	rollback := func(err error) (int, error) {
		tx.Rollback(ctx) //nolint:errcheck,gosec // already failing
		return 0, err
	}

	written := 0
	for start := 0; start < len(items); start += e.batchSize {
		end := min(start+e.batchSize, len(items))
		query, args, err := e.upsert(runID, items[start:end])
		if err != nil {
			return rollback(err)
		}
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return rollback(fmt.Errorf("upsert rows %d-%d: %w", items[start].ID, items[end-1].ID, err))
		}
		written += int(tag.RowsAffected())
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit export: %w", err)
	}
	metrics.ObserveExport(written)
	return written, nil
}

func (e *Exporter) upsert(runID string, items []acquisition.Item) (string, []any, error) {
	stmt := e.builder.Insert(e.table).Columns(columns...)
	for _, it := range items {
		stmt = stmt.Values(row(runID, it)...)
	}
	updates := make([]string, 0, len(columns))
	for _, col := range columns[1:] {
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}
	updates = append(updates, "updated_at = NOW()")
	query, args, err := stmt.Suffix("ON CONFLICT (id) DO UPDATE SET " + strings.Join(updates, ", ")).ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build upsert: %w", err)
	}
	return query, args, nil
}

func row(runID string, it acquisition.Item) []any {
	var size any
	if it.RawArtifactPath != "" {
		size = it.ArtifactSize
	}
	var pages any
	if it.PageCount > 0 {
		pages = it.PageCount
	}
	return []any{
		it.ID,
		it.SourceURL,
		nullString(it.CanonicalURL),
		string(it.State),
		nullString(it.ErrorMessage),
		nullString(string(it.Kind)),
		nullString(it.RawArtifactPath),
		size,
		nullString(it.ContentSHA256),
		nullString(it.MirrorURI),
		it.IngestedAt,
		nullTime(it.ClassifiedAt),
		nullTime(it.FetchedAt),
		nullString(it.ProcessedPath),
		pages,
		nullString(it.Language),
		nullTime(it.ProcessedAt),
		nullString(runID),
	}
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
