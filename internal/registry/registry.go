// Package registry maintains the durable per-URL acquisition ledger. Phase
// workers never write it directly; they emit events which Reconcile folds into
// the ledger one phase at a time, rewriting the backing file atomically.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/url-acquirer/internal/acquisition"
	"github.com/JakeFAU/url-acquirer/internal/clock/system"
)

var (
	// ErrNotFound is returned when an item id is not present.
	ErrNotFound = errors.New("item not found")
	// ErrUnknownPhase is returned for phases the registry cannot reconcile.
	ErrUnknownPhase = errors.New("unknown phase")
	// ErrNoEventSource is returned when Reconcile runs before Bind.
	ErrNoEventSource = errors.New("registry has no event source")
)

// EventSource yields the events recorded for one phase of a run, in append order.
type EventSource interface {
	Events(ctx context.Context, runID string, phase acquisition.Phase) ([]acquisition.Event, error)
}

// Config controls where the registry persists and how it reports.
type Config struct {
	Path   string
	Logger *zap.Logger
	Clock  acquisition.Clock
}

// Registry is the in-memory view of the ledger plus its backing CSV file. It
// is safe for concurrent readers; writers are serialized.
type Registry struct {
	mu     sync.RWMutex
	path   string
	items  []acquisition.Item
	index  map[int]int
	source EventSource
	runID  string
	logger *zap.Logger
	clock  acquisition.Clock
}

// New returns an empty registry persisting to cfg.Path.
func New(cfg Config) (*Registry, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("registry path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = system.New()
	}
	return &Registry{
		path:   cfg.Path,
		index:  map[int]int{},
		logger: logger,
		clock:  clock,
	}, nil
}

// Open loads the registry file at cfg.Path. A missing file yields an empty registry.
func Open(cfg Config) (*Registry, error) {
	r, err := New(cfg)
	if err != nil {
		return nil, err
	}
	items, err := readFile(cfg.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return r, nil
		}
		return nil, err
	}
	r.replace(items)
	return r, nil
}

// Load reads the rows of a registry file without opening it for writes.
func Load(path string) ([]acquisition.Item, error) {
	return readFile(path)
}

// Path returns the backing file location.
func (r *Registry) Path() string {
	return r.path
}

// Bind attaches the event source and run that Reconcile reads from.
func (r *Registry) Bind(source EventSource, runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.source = source
	r.runID = runID
}

// RunID returns the run currently bound to the registry.
func (r *Registry) RunID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runID
}

// Ingest replaces the ledger with fresh pending rows for items and persists it.
func (r *Registry) Ingest(ctx context.Context, items []acquisition.Item) error {
	now := r.clock.Now()
	rows := make([]acquisition.Item, 0, len(items))
	seen := make(map[int]struct{}, len(items))
	for _, it := range items {
		if it.ID <= 0 {
			return fmt.Errorf("ingest: invalid item id %d", it.ID)
		}
		if _, dup := seen[it.ID]; dup {
			return fmt.Errorf("ingest: duplicate item id %d", it.ID)
		}
		if it.SourceURL == "" {
			return fmt.Errorf("ingest: item %d has no source line", it.ID)
		}
		seen[it.ID] = struct{}{}
		rows = append(rows, acquisition.Item{
			ID:         it.ID,
			SourceURL:  it.SourceURL,
			State:      acquisition.StatePending,
			IngestedAt: now,
		})
	}
	sortByID(rows)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if err := writeFile(r.path, rows); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	r.replace(rows)
	r.logger.Info("registry ingested", zap.Int("items", len(rows)), zap.String("path", r.path))
	return nil
}

// Restore keeps the loaded ledger when it describes exactly the same input
// (same ids carrying the same source lines) and reports whether it did.
func (r *Registry) Restore(items []acquisition.Item) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.items) == 0 || len(r.items) != len(items) {
		return false
	}
	for _, it := range items {
		pos, ok := r.index[it.ID]
		if !ok || r.items[pos].SourceURL != it.SourceURL {
			return false
		}
	}
	return true
}

// Items returns a copy of all rows sorted by id.
func (r *Registry) Items() []acquisition.Item {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]acquisition.Item(nil), r.items...)
}

// Get returns the row with the given id.
func (r *Registry) Get(id int) (acquisition.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pos, ok := r.index[id]
	if !ok {
		return acquisition.Item{}, fmt.Errorf("item %d: %w", id, ErrNotFound)
	}
	return r.items[pos], nil
}

// Eligible returns the rows that take part in phase, sorted by id.
func (r *Registry) Eligible(phase acquisition.Phase) []acquisition.Item {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []acquisition.Item
	for _, it := range r.items {
		if acquisition.Eligible(phase, it.State, it.Kind) {
			out = append(out, it)
		}
	}
	return out
}

// Handoffs lists the processing payload for every fetched row.
func (r *Registry) Handoffs() []acquisition.Handoff {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []acquisition.Handoff
	for _, it := range r.items {
		if it.State != acquisition.StateFetched {
			continue
		}
		out = append(out, acquisition.Handoff{
			ID:              it.ID,
			RawArtifactPath: it.RawArtifactPath,
			ContentKind:     it.Kind,
			CanonicalURL:    it.CanonicalURL,
			MirrorURI:       it.MirrorURI,
		})
	}
	return out
}

// Summary counts rows per state.
type Summary struct {
	RunID   string                    `json:"run_id,omitempty"`
	Total   int                       `json:"total"`
	ByState map[acquisition.State]int `json:"by_state"`
}

// Summary returns per-state counts.
func (r *Registry) Summary() Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Summarize(r.runID, r.items)
}

// Summarize counts items per state.
func Summarize(runID string, items []acquisition.Item) Summary {
	s := Summary{RunID: runID, Total: len(items), ByState: map[acquisition.State]int{}}
	for _, it := range items {
		s.ByState[it.State]++
	}
	return s
}

// Save rewrites the backing file from the in-memory rows.
func (r *Registry) Save(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("save registry: %w", err)
	}
	if err := writeFile(r.path, r.items); err != nil {
		return fmt.Errorf("save registry: %w", err)
	}
	return nil
}

func (r *Registry) replace(rows []acquisition.Item) {
	r.items = rows
	r.index = make(map[int]int, len(rows))
	for i, it := range rows {
		r.index[it.ID] = i
	}
}

func sortByID(items []acquisition.Item) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].ID < items[j].ID })
}

// removeStale deletes a leftover temp file; errors are irrelevant to callers.
func removeStale(path string) {
	_ = os.Remove(path)
}
