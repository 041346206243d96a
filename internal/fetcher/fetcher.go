// Package fetcher runs the fetch phase: it downloads every classified page or
// document under robots and pacing constraints and persists the body as a raw
// artifact.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/url-acquirer/internal/acquisition"
	"github.com/JakeFAU/url-acquirer/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/url-acquirer/internal/fetcher/colly"
	"github.com/JakeFAU/url-acquirer/internal/fetcher/headless"
	"github.com/JakeFAU/url-acquirer/internal/policy/blocklist"
	"github.com/JakeFAU/url-acquirer/internal/robots"
	"github.com/JakeFAU/url-acquirer/internal/storage/local"
)

const (
	defaultConcurrency = 10
	defaultTimeout     = 15 * time.Second
)

// Getter downloads a URL.
type Getter interface {
	Get(ctx context.Context, url string) (collyfetcher.Response, error)
}

// Pacer hands out per-host request slots.
type Pacer interface {
	Acquire(ctx context.Context, rawURL string) (release func(), err error)
}

// Store persists artifacts atomically.
type Store interface {
	Put(ctx context.Context, objectPath string, r io.Reader) (local.Object, error)
	Remove(path string) error
}

// Mirror copies artifacts to secondary storage and returns their URI.
type Mirror interface {
	PutObject(ctx context.Context, objectPath, contentType string, r io.Reader) (string, error)
}

// Renderer re-renders a page in a browser.
type Renderer interface {
	Render(ctx context.Context, url string) (headless.Page, error)
}

// ShellDetector decides whether a static page body needs rendering.
type ShellDetector interface {
	NeedsRender(body []byte) bool
}

// Config bounds the fetch pool.
type Config struct {
	Concurrency int
	Timeout     time.Duration
}

// Deps are the collaborators of a Fetcher. Getter, Store and Recorder are
// required; nil Robots allows everything; Pacer, Mirror, Renderer and
// Blocklist are optional.
type Deps struct {
	Getter    Getter
	Store     Store
	Recorder  acquisition.Recorder
	Robots    robots.Checker
	Blocklist *blocklist.List
	Pacer     Pacer
	Mirror    Mirror
	Renderer  Renderer
	Detector  ShellDetector
	Logger    *zap.Logger
}

// Fetcher downloads items and records exactly one fetch event per item.
type Fetcher struct {
	deps    Deps
	pool    *dispatcher.Pool
	timeout time.Duration
	logger  *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config, deps Deps) (*Fetcher, error) {
	switch {
	case deps.Getter == nil:
		return nil, errors.New("fetcher: getter is required")
	case deps.Store == nil:
		return nil, errors.New("fetcher: artifact store is required")
	case deps.Recorder == nil:
		return nil, errors.New("fetcher: recorder is required")
	}
	if deps.Robots == nil {
		deps.Robots = robots.AllowAll{}
	}
	if deps.Renderer != nil && deps.Detector == nil {
		deps.Detector = headless.NewDetector(0)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Fetcher{
		deps:    deps,
		pool:    dispatcher.New(string(acquisition.PhaseFetch), cfg.Concurrency, deps.Logger),
		timeout: cfg.Timeout,
		logger:  deps.Logger,
	}, nil
}

// Fetch downloads every item. Per-item failures are recorded as events; the
// returned error only reflects cancellation of ctx.
func (f *Fetcher) Fetch(ctx context.Context, items []acquisition.Item) error {
	f.logger.Info("fetch phase starting", zap.Int("items", len(items)), zap.Int("concurrency", f.pool.Limit()))
	err := dispatcher.Run(ctx, f.pool, items, func(ctx context.Context, it acquisition.Item) error {
		if evt, ok := f.fetch(ctx, it); ok {
			// A finished item is recorded even if the run was canceled after
			// its artifact was written, so no file outlives its event.
			f.deps.Recorder.Record(context.WithoutCancel(ctx), evt)
		}
		return nil
	}, func(it acquisition.Item, err error) {
		f.removeStale(it)
		f.deps.Recorder.Record(context.WithoutCancel(ctx),
			acquisition.Failure(acquisition.PhaseFetch, it, acquisition.ReasonTransport, err.Error()))
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("fetch: %w", ctxErr)
	}
	if err != nil {
		f.logger.Warn("fetch phase finished with worker errors", zap.Error(err))
	}
	return nil
}

// fetch handles one item. ok is false when the run was canceled before the
// item finished; such items produce no event.
func (f *Fetcher) fetch(ctx context.Context, it acquisition.Item) (acquisition.Event, bool) {
	url := it.CanonicalURL
	start := time.Now()
	fail := func(reason acquisition.Reason, msg string, status int) (acquisition.Event, bool) {
		f.removeStale(it)
		evt := acquisition.Failure(acquisition.PhaseFetch, it, reason, msg)
		evt.Detail.StatusCode = status
		evt.Detail.Elapsed = time.Since(start)
		return evt, true
	}

	if f.deps.Blocklist.BlockedURL(url) {
		f.logger.Info("fetch denied", zap.Int("item_id", it.ID), zap.String("url", url), zap.String("reason", "host is blocked"))
		return fail(acquisition.ReasonPolicyDenied, "host is blocked", 0)
	}
	if decision := f.deps.Robots.Check(ctx, url); !decision.Allowed {
		if ctx.Err() != nil {
			return acquisition.Event{}, false
		}
		f.logger.Info("fetch denied", zap.Int("item_id", it.ID), zap.String("url", url), zap.String("reason", decision.Reason))
		return fail(acquisition.ReasonPolicyDenied, decision.Reason, 0)
	}

	resp, err := f.download(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return acquisition.Event{}, false
		}
		reason := acquisition.ReasonTransport
		if collyfetcher.IsTimeout(err) {
			reason = acquisition.ReasonTimeout
		}
		f.logger.Warn("fetch failed",
			zap.Int("item_id", it.ID),
			zap.String("url", url),
			zap.String("reason", string(reason)),
			zap.Error(err))
		return fail(reason, err.Error(), resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		f.logger.Warn("fetch returned non-200",
			zap.Int("item_id", it.ID),
			zap.String("url", url),
			zap.Int("status", resp.StatusCode))
		return fail(acquisition.ReasonHTTPStatus,
			fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)), resp.StatusCode)
	}

	body, rendered := f.maybeRender(ctx, it, resp.Body)
	objectPath := ObjectPath(it.Kind, ArtifactName(it.ID, url, it.Kind))
	obj, err := f.deps.Store.Put(ctx, objectPath, bytes.NewReader(body))
	if err != nil {
		if ctx.Err() != nil {
			return acquisition.Event{}, false
		}
		f.logger.Error("artifact write failed", zap.Int("item_id", it.ID), zap.String("path", objectPath), zap.Error(err))
		return fail(acquisition.ReasonStorage, err.Error(), resp.StatusCode)
	}
	if it.RawArtifactPath != "" && it.RawArtifactPath != obj.Path {
		f.remove(it.ID, it.RawArtifactPath)
	}

	detail := acquisition.Detail{
		Kind:        it.Kind,
		StatusCode:  resp.StatusCode,
		ContentType: resp.ContentType(),
		Path:        obj.Path,
		Size:        obj.Size,
		SHA256:      obj.SHA256,
		Rendered:    rendered,
	}
	if f.deps.Mirror != nil {
		uri, err := f.deps.Mirror.PutObject(ctx, objectPath, detail.ContentType, bytes.NewReader(body))
		if err != nil {
			f.logger.Warn("artifact mirror failed", zap.Int("item_id", it.ID), zap.String("path", objectPath), zap.Error(err))
		} else {
			detail.MirrorURI = uri
		}
	}
	detail.Elapsed = time.Since(start)
	f.logger.Debug("fetched",
		zap.Int("item_id", it.ID),
		zap.String("url", url),
		zap.String("path", obj.Path),
		zap.Int64("bytes", obj.Size),
		zap.Bool("rendered", rendered))
	return acquisition.Success(acquisition.PhaseFetch, it, detail), true
}

func (f *Fetcher) download(ctx context.Context, url string) (collyfetcher.Response, error) {
	if f.deps.Pacer != nil {
		release, err := f.deps.Pacer.Acquire(ctx, url)
		if err != nil {
			return collyfetcher.Response{}, err
		}
		defer release()
	}
	fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return f.deps.Getter.Get(fetchCtx, url)
}

// maybeRender swaps a JavaScript shell for its rendered DOM. A render error
// keeps the static body.
func (f *Fetcher) maybeRender(ctx context.Context, it acquisition.Item, body []byte) ([]byte, bool) {
	if f.deps.Renderer == nil || it.Kind != acquisition.KindPage || !f.deps.Detector.NeedsRender(body) {
		return body, false
	}
	page, err := f.deps.Renderer.Render(ctx, it.CanonicalURL)
	if err != nil {
		f.logger.Warn("headless render failed; keeping static body",
			zap.Int("item_id", it.ID), zap.String("url", it.CanonicalURL), zap.Error(err))
		return body, false
	}
	if page.StatusCode != http.StatusOK || len(page.Body) == 0 {
		f.logger.Warn("headless render unusable; keeping static body",
			zap.Int("item_id", it.ID), zap.String("url", it.CanonicalURL), zap.Int("status", page.StatusCode))
		return body, false
	}
	return page.Body, true
}

// removeStale deletes artifacts an earlier run left for the item.
func (f *Fetcher) removeStale(it acquisition.Item) {
	f.remove(it.ID, it.RawArtifactPath)
	if it.Kind.Fetchable() {
		f.remove(it.ID, ObjectPath(it.Kind, ArtifactName(it.ID, it.CanonicalURL, it.Kind)))
	}
}

func (f *Fetcher) remove(id int, path string) {
	if path == "" {
		return
	}
	if err := f.deps.Store.Remove(path); err != nil {
		f.logger.Warn("stale artifact removal failed", zap.Int("item_id", id), zap.String("path", path), zap.Error(err))
	}
}
