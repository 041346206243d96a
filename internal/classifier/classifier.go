// Package classifier runs the classify phase: a header probe per cleaned URL
// that decides whether it names a document, a page, or something else.
package classifier

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/url-acquirer/internal/acquisition"
	"github.com/JakeFAU/url-acquirer/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/url-acquirer/internal/fetcher/colly"
)

const (
	defaultConcurrency = 10
	defaultTimeout     = 15 * time.Second
)

// Prober reads response headers for a URL.
type Prober interface {
	Probe(ctx context.Context, url string) (collyfetcher.Response, error)
}

// Config bounds the probe pool.
type Config struct {
	Concurrency int
	Timeout     time.Duration
}

// Classifier probes items and records exactly one classify event per item.
type Classifier struct {
	prober   Prober
	recorder acquisition.Recorder
	pool     *dispatcher.Pool
	timeout  time.Duration
	logger   *zap.Logger
}

// New builds a Classifier.
func New(cfg Config, prober Prober, recorder acquisition.Recorder, logger *zap.Logger) *Classifier {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		prober:   prober,
		recorder: recorder,
		pool:     dispatcher.New(string(acquisition.PhaseClassify), cfg.Concurrency, logger),
		timeout:  cfg.Timeout,
		logger:   logger,
	}
}

// Classify probes every item. Per-item failures are recorded as events; the
// returned error only reflects cancellation of ctx.
func (c *Classifier) Classify(ctx context.Context, items []acquisition.Item) error {
	c.logger.Info("classify phase starting", zap.Int("items", len(items)), zap.Int("concurrency", c.pool.Limit()))
	err := dispatcher.Run(ctx, c.pool, items, func(ctx context.Context, it acquisition.Item) error {
		evt, ok := c.classify(ctx, it)
		if ok {
			c.recorder.Record(ctx, evt)
		}
		return nil
	}, func(it acquisition.Item, err error) {
		c.recorder.Record(ctx, acquisition.Failure(acquisition.PhaseClassify, it, acquisition.ReasonTransport, err.Error()))
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("classify: %w", ctxErr)
	}
	if err != nil {
		c.logger.Warn("classify phase finished with worker errors", zap.Error(err))
	}
	return nil
}

// classify probes one item. ok is false when the run was canceled mid-probe
// and the item should stay unprocessed.
func (c *Classifier) classify(ctx context.Context, it acquisition.Item) (acquisition.Event, bool) {
	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.prober.Probe(probeCtx, it.CanonicalURL)
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return acquisition.Event{}, false
		}
		reason := acquisition.ReasonTransport
		if collyfetcher.IsTimeout(err) || probeCtx.Err() != nil {
			reason = acquisition.ReasonTimeout
		}
		c.logger.Warn("classify probe failed",
			zap.Int("item_id", it.ID),
			zap.String("url", it.CanonicalURL),
			zap.String("reason", string(reason)),
			zap.Error(err))
		evt := acquisition.Failure(acquisition.PhaseClassify, it, reason, err.Error())
		evt.Detail.Elapsed = elapsed
		return evt, true
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("classify probe returned non-2xx",
			zap.Int("item_id", it.ID),
			zap.String("url", it.CanonicalURL),
			zap.Int("status", resp.StatusCode))
		evt := acquisition.Failure(acquisition.PhaseClassify, it, acquisition.ReasonHTTPStatus,
			fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)))
		evt.Detail.StatusCode = resp.StatusCode
		evt.Detail.Elapsed = elapsed
		return evt, true
	}

	contentType := resp.ContentType()
	kind := KindFor(contentType)
	c.logger.Debug("classified",
		zap.Int("item_id", it.ID),
		zap.String("url", it.CanonicalURL),
		zap.String("content_type", contentType),
		zap.String("kind", string(kind)))
	return acquisition.Success(acquisition.PhaseClassify, it, acquisition.Detail{
		Kind:        kind,
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Elapsed:     elapsed,
	}), true
}

// KindFor maps a media type to a content kind.
func KindFor(contentType string) acquisition.Kind {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case strings.HasPrefix(ct, "text/html"):
		return acquisition.KindPage
	case strings.HasPrefix(ct, "application/pdf"):
		return acquisition.KindDocument
	default:
		return acquisition.KindUnknown
	}
}
