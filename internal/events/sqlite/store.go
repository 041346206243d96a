// Package sqlite persists the event log in a local SQLite database so that a
// later process can reconcile a run, for example via the reconcile command.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/url-acquirer/internal/acquisition"
	"github.com/JakeFAU/url-acquirer/internal/events"
	"github.com/JakeFAU/url-acquirer/internal/events/sqlite/migrations"
)

const tsLayout = time.RFC3339Nano

// Store is an events.Log backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

var _ events.Log = (*Store)(nil)

// Open creates or opens the database at path and applies pending migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite event log path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating event log directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	// Writers are serialized so sequence numbers follow append order.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.migrate(migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running event log migrations: %w", err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing event log: %w", err)
	}
	return nil
}

// Append implements events.Log.
func (s *Store) Append(ctx context.Context, evt acquisition.Event) (acquisition.Event, error) {
	if err := evt.Validate(); err != nil {
		return evt, fmt.Errorf("append event: %w", err)
	}
	detail, err := json.Marshal(evt.Detail)
	if err != nil {
		return evt, fmt.Errorf("marshalling event detail: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events (run_id, item_id, subject_url, phase, outcome, detail, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		evt.RunID, evt.ItemID, evt.SubjectURL, string(evt.Phase), string(evt.Outcome),
		string(detail), evt.Timestamp.UTC().Format(tsLayout))
	if err != nil {
		return evt, fmt.Errorf("inserting event: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return evt, fmt.Errorf("reading event sequence: %w", err)
	}
	evt.Seq = seq
	return evt, nil
}

// Events implements events.Log.
func (s *Store) Events(ctx context.Context, runID string, phase acquisition.Phase) ([]acquisition.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, run_id, item_id, subject_url, phase, outcome, detail, recorded_at
		FROM events
		WHERE run_id = ? AND phase = ?
		ORDER BY seq`, runID, string(phase))
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var out []acquisition.Event
	for rows.Next() {
		var (
			evt            acquisition.Event
			phaseCol, outc string
			detail, ts     string
		)
		if err := rows.Scan(&evt.Seq, &evt.RunID, &evt.ItemID, &evt.SubjectURL, &phaseCol, &outc, &detail, &ts); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		evt.Phase = acquisition.Phase(phaseCol)
		evt.Outcome = acquisition.Outcome(outc)
		if err := json.Unmarshal([]byte(detail), &evt.Detail); err != nil {
			return nil, fmt.Errorf("decoding event %d detail: %w", evt.Seq, err)
		}
		if evt.Timestamp, err = time.Parse(tsLayout, ts); err != nil {
			return nil, fmt.Errorf("decoding event %d timestamp: %w", evt.Seq, err)
		}
		out = append(out, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return out, nil
}

// LatestRun implements events.Log.
func (s *Store) LatestRun(ctx context.Context) (string, error) {
	var runID string
	err := s.db.QueryRowContext(ctx, `SELECT run_id FROM events ORDER BY seq DESC LIMIT 1`).Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", events.ErrNoRuns
	}
	if err != nil {
		return "", fmt.Errorf("querying latest run: %w", err)
	}
	return runID, nil
}

func (s *Store) migrate(fsys fs.FS) error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations: %w", err)
	}
	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}
