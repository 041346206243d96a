// Package processor extracts plain text from fetched artifacts and reports
// each result as a process-phase event.
package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/url-acquirer/internal/acquisition"
	"github.com/JakeFAU/url-acquirer/internal/dispatcher"
	"github.com/JakeFAU/url-acquirer/internal/storage/local"
)

const defaultConcurrency = 4

// Store writes processed text.
type Store interface {
	Put(ctx context.Context, objectPath string, r io.Reader) (local.Object, error)
}

// Config bounds the processing pool.
type Config struct {
	Concurrency int
}

// Processor turns fetched artifacts into .txt files.
type Processor struct {
	store    Store
	recorder acquisition.Recorder
	pool     *dispatcher.Pool
	logger   *zap.Logger
}

// New builds a Processor writing through store.
func New(cfg Config, store Store, recorder acquisition.Recorder, logger *zap.Logger) *Processor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		store:    store,
		recorder: recorder,
		pool:     dispatcher.New(string(acquisition.PhaseProcess), cfg.Concurrency, logger),
		logger:   logger,
	}
}

// Process extracts every handoff and records one process event per item.
func (p *Processor) Process(ctx context.Context, handoffs []acquisition.Handoff) error {
	p.logger.Info("process phase starting", zap.Int("items", len(handoffs)), zap.Int("concurrency", p.pool.Limit()))
	err := dispatcher.Run(ctx, p.pool, handoffs, func(ctx context.Context, h acquisition.Handoff) error {
		if evt, ok := p.process(ctx, h); ok {
			// Recorded even after cancellation: the output file already exists.
			p.recorder.Record(context.WithoutCancel(ctx), evt)
		}
		return nil
	}, func(h acquisition.Handoff, err error) {
		p.recorder.Record(context.WithoutCancel(ctx), failure(h, acquisition.ReasonExtract, err.Error(), 0))
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("process: %w", ctxErr)
	}
	if err != nil {
		p.logger.Warn("process phase finished with worker errors", zap.Error(err))
	}
	return nil
}

func (p *Processor) process(ctx context.Context, h acquisition.Handoff) (acquisition.Event, bool) {
	start := time.Now()
	fail := func(reason acquisition.Reason, msg string) (acquisition.Event, bool) {
		p.logger.Warn("processing failed",
			zap.Int("item_id", h.ID),
			zap.String("path", h.RawArtifactPath),
			zap.String("reason", string(reason)),
			zap.String("error", msg))
		return failure(h, reason, msg, time.Since(start)), true
	}

	data, err := os.ReadFile(h.RawArtifactPath) // #nosec G304 -- artifact path recorded by the fetch phase.
	if err != nil {
		return fail(acquisition.ReasonStorage, fmt.Sprintf("read artifact: %v", err))
	}

	var text Text
	switch h.ContentKind {
	case acquisition.KindPage:
		text, err = ExtractHTML(bytes.NewReader(data))
	case acquisition.KindDocument:
		text, err = ExtractPDF(data)
	default:
		return fail(acquisition.ReasonUnsupported, fmt.Sprintf("no extractor for content kind %q", h.ContentKind))
	}
	if err != nil {
		return fail(acquisition.ReasonExtract, err.Error())
	}

	obj, err := p.store.Put(ctx, OutputPath(h), strings.NewReader(text.Body))
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return acquisition.Event{}, false
		}
		return fail(acquisition.ReasonStorage, err.Error())
	}
	p.logger.Debug("processed",
		zap.Int("item_id", h.ID),
		zap.String("path", obj.Path),
		zap.Int("pages", text.PageCount),
		zap.String("language", text.Language))
	return acquisition.Success(acquisition.PhaseProcess, subject(h), acquisition.Detail{
		SourcePath:    h.RawArtifactPath,
		ProcessedPath: obj.Path,
		Size:          obj.Size,
		PageCount:     text.PageCount,
		Language:      text.Language,
		Elapsed:       time.Since(start),
	}), true
}

// OutputPath is "<kind dir>/<raw basename>.txt".
func OutputPath(h acquisition.Handoff) string {
	return path.Join(h.ContentKind.Dir(), filepath.Base(h.RawArtifactPath)+".txt")
}

func subject(h acquisition.Handoff) acquisition.Item {
	return acquisition.Item{ID: h.ID, CanonicalURL: h.CanonicalURL}
}

func failure(h acquisition.Handoff, reason acquisition.Reason, msg string, elapsed time.Duration) acquisition.Event {
	evt := acquisition.Failure(acquisition.PhaseProcess, subject(h), reason, msg)
	evt.Detail.SourcePath = h.RawArtifactPath
	evt.Detail.Elapsed = elapsed
	return evt
}
