package api

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/url-acquirer/internal/acquisition"
	"github.com/JakeFAU/url-acquirer/internal/registry"
)

const (
	defaultItemLimit = 100
	maxItemLimit     = 1000
	ledgerTimeout    = 3 * time.Second
)

// Ledger yields the current registry rows sorted by id.
type Ledger interface {
	Items(ctx context.Context) ([]acquisition.Item, error)
	RunID() string
}

type liveLedger struct {
	reg *registry.Registry
}

// Live serves the in-memory view of a registry owned by a running pipeline.
func Live(reg *registry.Registry) Ledger {
	return liveLedger{reg: reg}
}

func (l liveLedger) Items(context.Context) ([]acquisition.Item, error) {
	return l.reg.Items(), nil
}

func (l liveLedger) RunID() string {
	return l.reg.RunID()
}

type fileLedger struct {
	path string
}

// File serves the registry file at path, re-reading it on every request so
// rewrites by another process are picked up. A missing file is empty.
func File(path string) Ledger {
	return fileLedger{path: path}
}

func (f fileLedger) Items(ctx context.Context) ([]acquisition.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	items, err := registry.Load(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return items, err
}

func (fileLedger) RunID() string {
	return ""
}

// ItemsHandler exposes read-only registry endpoints.
type ItemsHandler struct {
	ledger  Ledger
	timeout time.Duration
	logger  *zap.Logger
}

// NewItemsHandler wires the ledger and logger.
func NewItemsHandler(ledger Ledger, logger *zap.Logger) *ItemsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ItemsHandler{ledger: ledger, timeout: ledgerTimeout, logger: logger}
}

// Summary handles GET /v1/summary.
func (h *ItemsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	items, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, registry.Summarize(h.ledger.RunID(), items))
}

// List handles GET /v1/items?state=&limit=&offset=. It returns
// {"items": [...], "total": n} where total counts rows matching the filter.
func (h *ItemsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultItemLimit, maxItemLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var state acquisition.State
	if raw := strings.TrimSpace(r.URL.Query().Get("state")); raw != "" {
		if state, err = acquisition.ParseState(strings.ToLower(raw)); err != nil {
			writeError(w, http.StatusBadRequest, "invalid state")
			return
		}
	}
	items, ok := h.load(w, r)
	if !ok {
		return
	}

	matched := make([]acquisition.Item, 0, len(items))
	for _, it := range items {
		if state == "" || it.State == state {
			matched = append(matched, it)
		}
	}
	total := len(matched)
	if offset > total {
		offset = total
	}
	end := min(offset+limit, total)
	writeJSON(w, http.StatusOK, map[string]any{
		"items": matched[offset:end],
		"total": total,
	})
}

// Get handles GET /v1/items/{id}. It returns 400 for malformed ids and 404
// for ids not in the registry.
func (h *ItemsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	items, ok := h.load(w, r)
	if !ok {
		return
	}
	for _, it := range items {
		if it.ID == id {
			writeJSON(w, http.StatusOK, map[string]any{"item": it})
			return
		}
	}
	writeError(w, http.StatusNotFound, "item not found")
}

func (h *ItemsHandler) load(w http.ResponseWriter, r *http.Request) ([]acquisition.Item, bool) {
	if h.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "registry unavailable")
		return nil, false
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	items, err := h.ledger.Items(ctx)
	if err != nil {
		h.logger.Error("load registry failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load registry")
		return nil, false
	}
	return items, true
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
