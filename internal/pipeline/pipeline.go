// Package pipeline runs one acquisition: it normalizes the input, then drives
// the classify, fetch and process phases in order, reconciling the registry
// after each one.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/url-acquirer/internal/acquisition"
	"github.com/JakeFAU/url-acquirer/internal/clock/system"
	"github.com/JakeFAU/url-acquirer/internal/normalize"
	"github.com/JakeFAU/url-acquirer/internal/progress"
	"github.com/JakeFAU/url-acquirer/internal/registry"
)

// Classifier runs the classify phase over eligible items.
type Classifier interface {
	Classify(ctx context.Context, items []acquisition.Item) error
}

// Fetcher runs the fetch phase over eligible items.
type Fetcher interface {
	Fetch(ctx context.Context, items []acquisition.Item) error
}

// Processor runs the process phase over fetched artifacts.
type Processor interface {
	Process(ctx context.Context, handoffs []acquisition.Handoff) error
}

// Publisher hands fetched items to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, h acquisition.Handoff) (string, error)
}

// Exporter copies the registry into an external store.
type Exporter interface {
	Export(ctx context.Context, runID string, items []acquisition.Item) (int, error)
}

// Config toggles run behavior.
type Config struct {
	// Resume keeps an existing registry describing the same input.
	Resume bool
}

// Deps are the collaborators of a Pipeline. Registry, Normalizer, Classifier,
// Fetcher and Recorder are required.
type Deps struct {
	Registry   *registry.Registry
	Normalizer *normalize.Normalizer
	Classifier Classifier
	Fetcher    Fetcher
	Processor  Processor
	Publisher  Publisher
	Exporter   Exporter
	Recorder   acquisition.Recorder
	Progress   progress.Reporter
	RunID      uuid.UUID
	Clock      acquisition.Clock
	Logger     *zap.Logger
}

// Report summarizes a finished run.
type Report struct {
	RunID     string
	Resumed   bool
	Phases    []registry.Stats
	Published int
	Exported  int
	Summary   registry.Summary
}

// Pipeline sequences the phases of one run.
type Pipeline struct {
	cfg  Config
	deps Deps
}

// New validates deps and returns a Pipeline.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	switch {
	case deps.Registry == nil:
		return nil, errors.New("pipeline: registry is required")
	case deps.Normalizer == nil:
		return nil, errors.New("pipeline: normalizer is required")
	case deps.Classifier == nil:
		return nil, errors.New("pipeline: classifier is required")
	case deps.Fetcher == nil:
		return nil, errors.New("pipeline: fetcher is required")
	case deps.Recorder == nil:
		return nil, errors.New("pipeline: recorder is required")
	case deps.RunID == uuid.Nil:
		return nil, errors.New("pipeline: run id is required")
	}
	if deps.Progress == nil {
		deps.Progress = progress.Nop{}
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Pipeline{cfg: cfg, deps: deps}, nil
}

// Run acquires every line of input. Per-item failures end up in the registry;
// only registry, event log or cancellation errors are returned. The registry
// is reconciled with whatever was recorded even when ctx is canceled.
func (p *Pipeline) Run(ctx context.Context, lines []string) (Report, error) {
	start := time.Now()
	report := Report{RunID: p.deps.RunID.String()}
	logger := p.deps.Logger.With(zap.String("run_id", report.RunID))
	p.mark(ctx, progress.Event{Stage: progress.StageRunStart, Total: len(lines)})
	logger.Info("acquisition run started", zap.Int("lines", len(lines)))

	err := p.run(ctx, lines, &report)
	report.Summary = p.deps.Registry.Summary()
	if err != nil {
		p.mark(ctx, progress.Event{Stage: progress.StageRunError, Dur: time.Since(start), Note: err.Error()})
		logger.Error("acquisition run failed", zap.Error(err))
		return report, err
	}
	p.mark(ctx, progress.Event{Stage: progress.StageRunDone, Dur: time.Since(start)})
	logger.Info("acquisition run finished",
		zap.Int("items", report.Summary.Total),
		zap.Any("by_state", report.Summary.ByState),
		zap.Duration("elapsed", time.Since(start)))
	return report, nil
}

func (p *Pipeline) run(ctx context.Context, lines []string, report *Report) error {
	reg := p.deps.Registry
	results := p.deps.Normalizer.Normalize(lines)
	items := make([]acquisition.Item, len(results))
	for i, res := range results {
		items[i] = acquisition.Item{ID: res.Item.ID, SourceURL: res.Item.SourceURL}
	}

	report.Resumed = p.cfg.Resume && reg.Restore(items)
	if report.Resumed {
		p.deps.Logger.Info("resuming existing registry", zap.String("path", reg.Path()))
	} else if err := reg.Ingest(ctx, items); err != nil {
		return err
	}

	steps := []struct {
		phase acquisition.Phase
		run   func(context.Context, []acquisition.Item) error
	}{
		{acquisition.PhaseNormalize, func(ctx context.Context, _ []acquisition.Item) error {
			for _, res := range results {
				p.deps.Recorder.Record(ctx, res.Event())
			}
			return nil
		}},
		{acquisition.PhaseClassify, p.deps.Classifier.Classify},
		{acquisition.PhaseFetch, p.deps.Fetcher.Fetch},
		{acquisition.PhaseProcess, func(ctx context.Context, eligible []acquisition.Item) error {
			report.Published = p.publish(ctx)
			if p.deps.Processor == nil {
				return nil
			}
			return p.deps.Processor.Process(ctx, handoffs(eligible))
		}},
	}
	for _, step := range steps {
		stats, err := p.phase(ctx, step.phase, step.run)
		report.Phases = append(report.Phases, stats)
		if err != nil {
			return err
		}
	}

	if err := reg.Save(ctx); err != nil {
		return err
	}
	if p.deps.Exporter != nil {
		n, err := p.deps.Exporter.Export(ctx, report.RunID, reg.Items())
		if err != nil {
			return fmt.Errorf("export registry: %w", err)
		}
		report.Exported = n
	}
	return nil
}

// phase runs one step over the eligible items and reconciles its events.
func (p *Pipeline) phase(
	ctx context.Context,
	phase acquisition.Phase,
	run func(context.Context, []acquisition.Item) error,
) (registry.Stats, error) {
	start := time.Now()
	eligible := p.deps.Registry.Eligible(phase)
	p.mark(ctx, progress.Event{Stage: progress.StagePhaseStart, Phase: phase, Total: len(eligible)})
	p.deps.Logger.Info("phase started", zap.String("phase", string(phase)), zap.Int("eligible", len(eligible)))

	runErr := run(ctx, eligible)
	stats, err := p.deps.Registry.Reconcile(context.WithoutCancel(ctx), phase)
	if err != nil {
		return stats, err
	}
	p.mark(ctx, progress.Event{Stage: progress.StagePhaseDone, Phase: phase, Total: len(eligible), Dur: time.Since(start)})
	if runErr != nil {
		return stats, runErr
	}
	return stats, nil
}

// publish sends every fetched item to the publisher and returns how many
// were accepted.
func (p *Pipeline) publish(ctx context.Context) int {
	if p.deps.Publisher == nil {
		return 0
	}
	sent := 0
	for _, h := range p.deps.Registry.Handoffs() {
		if ctx.Err() != nil {
			break
		}
		id, err := p.deps.Publisher.Publish(ctx, h)
		if err != nil {
			p.deps.Logger.Warn("handoff publish failed",
				zap.Int("item_id", h.ID),
				zap.String("path", h.RawArtifactPath),
				zap.Error(err))
			continue
		}
		sent++
		p.deps.Logger.Debug("handoff published", zap.Int("item_id", h.ID), zap.String("message_id", id))
	}
	return sent
}

// mark reports a run or phase boundary. Boundaries are reported even after
// cancellation so sinks see how the run ended.
func (p *Pipeline) mark(ctx context.Context, evt progress.Event) {
	evt.RunID = p.deps.RunID
	evt.TS = p.deps.Clock.Now()
	if err := p.deps.Progress.Mark(context.WithoutCancel(ctx), evt); err != nil {
		p.deps.Logger.Debug("progress milestone not delivered", zap.String("stage", string(evt.Stage)), zap.Error(err))
	}
}

func handoffs(items []acquisition.Item) []acquisition.Handoff {
	out := make([]acquisition.Handoff, 0, len(items))
	for _, it := range items {
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
