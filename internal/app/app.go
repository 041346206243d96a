// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/url-acquirer/internal/acquisition"
	"github.com/JakeFAU/url-acquirer/internal/classifier"
	"github.com/JakeFAU/url-acquirer/internal/clock/system"
	"github.com/JakeFAU/url-acquirer/internal/config"
	"github.com/JakeFAU/url-acquirer/internal/events"
	"github.com/JakeFAU/url-acquirer/internal/events/sqlite"
	"github.com/JakeFAU/url-acquirer/internal/fetcher"
	collyfetcher "github.com/JakeFAU/url-acquirer/internal/fetcher/colly"
	"github.com/JakeFAU/url-acquirer/internal/fetcher/headless"
	idgen "github.com/JakeFAU/url-acquirer/internal/id/uuid"
	"github.com/JakeFAU/url-acquirer/internal/logging"
	"github.com/JakeFAU/url-acquirer/internal/normalize"
	"github.com/JakeFAU/url-acquirer/internal/pipeline"
	"github.com/JakeFAU/url-acquirer/internal/policy/blocklist"
	"github.com/JakeFAU/url-acquirer/internal/policy/ratelimit"
	"github.com/JakeFAU/url-acquirer/internal/processor"
	"github.com/JakeFAU/url-acquirer/internal/progress"
	"github.com/JakeFAU/url-acquirer/internal/progress/sinks"
	publishermemory "github.com/JakeFAU/url-acquirer/internal/publisher/memory"
	"github.com/JakeFAU/url-acquirer/internal/publisher/pubsub"
	"github.com/JakeFAU/url-acquirer/internal/registry"
	"github.com/JakeFAU/url-acquirer/internal/robots"
	"github.com/JakeFAU/url-acquirer/internal/storage/gcs"
	"github.com/JakeFAU/url-acquirer/internal/storage/local"
	storagememory "github.com/JakeFAU/url-acquirer/internal/storage/memory"
	"github.com/JakeFAU/url-acquirer/internal/storage/postgres"
)

const closeTimeout = 10 * time.Second

// Publisher is a handoff publisher owned by the container.
type Publisher interface {
	Publish(ctx context.Context, h acquisition.Handoff) (string, error)
	Close() error
}

// Options override process-wide collaborators, mainly for tests.
type Options struct {
	// Logger replaces the logger built from config.Logging.
	Logger *zap.Logger
	// Registerer receives the progress collectors (default prometheus.DefaultRegisterer).
	Registerer prometheus.Registerer
	// ProgressOut receives the terminal progress bar (default os.Stderr).
	ProgressOut io.Writer
	// FreshRegistry skips reading an existing registry file. Set it when the
	// ledger is about to be rebuilt by a non-resuming run.
	FreshRegistry bool
}

// App holds all the shared, long-lived services for one CLI invocation.
type App struct {
	Config     config.Config
	Logger     *zap.Logger
	RunID      uuid.UUID
	Hub        *progress.Hub
	Events     events.Log
	Recorder   *events.Recorder
	Registry   *registry.Registry
	Normalizer *normalize.Normalizer
	Classifier *classifier.Classifier
	Fetcher    *fetcher.Fetcher
	Processor  *processor.Processor
	Publisher  Publisher
	Mirror     fetcher.Mirror
	Renderer   *headless.Renderer

	closers []func() error
}

// New builds every service described by cfg. Anything opened before a
// failure is closed again.
func New(ctx context.Context, cfg config.Config, opts Options) (_ *App, err error) {
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.Logger = opts.Logger; a.Logger == nil {
		a.Logger, err = logging.New(logging.Config{
			Development: cfg.Logging.Development,
			Level:       cfg.Logging.Level,
			File:        cfg.Logging.File,
			MaxSizeMB:   cfg.Logging.MaxSizeMB,
			MaxBackups:  cfg.Logging.MaxBackups,
			MaxAgeDays:  cfg.Logging.MaxAgeDays,
		})
		if err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
	}

	if a.RunID, err = idgen.New().NewRunID(); err != nil {
		return nil, err
	}
	a.Logger = a.Logger.With(zap.String("run_id", a.RunID.String()))
	clock := system.New()

	if err = a.initProgress(opts); err != nil {
		return nil, err
	}
	if err = a.initEvents(); err != nil {
		return nil, err
	}
	a.Recorder = events.NewRecorder(a.Events, a.Hub, a.RunID, clock, a.Logger)

	openRegistry := registry.Open
	if opts.FreshRegistry {
		openRegistry = registry.New
	}
	a.Registry, err = openRegistry(registry.Config{Path: cfg.Registry.Path, Logger: a.Logger, Clock: clock})
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	a.Registry.Bind(a.Events, a.RunID.String())

	a.Normalizer = normalize.New(cfg.Normalizer.TrackingParams)
	prober := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.Classifier.UserAgent,
		Timeout:      cfg.Classifier.Timeout,
		MaxBodyBytes: cfg.Fetcher.MaxBodyBytes,
	})
	a.Classifier = classifier.New(classifier.Config{
		Concurrency: cfg.Classifier.Concurrency,
		Timeout:     cfg.Classifier.Timeout,
	}, prober, a.Recorder, a.Logger)

	if err = a.initMirror(ctx); err != nil {
		return nil, err
	}
	if err = a.initFetcher(); err != nil {
		return nil, err
	}
	if err = a.initProcessor(); err != nil {
		return nil, err
	}
	if err = a.initPublisher(ctx); err != nil {
		return nil, err
	}

	a.Logger.Info("application services initialized",
		zap.String("events_driver", cfg.Events.Driver),
		zap.String("mirror", cfg.Mirror.Provider),
		zap.String("handoff", cfg.Handoff.Provider),
		zap.Bool("headless", cfg.Headless.Enabled))
	return a, nil
}

func (a *App) initProgress(opts Options) error {
	promSink, err := sinks.NewPrometheusSink(opts.Registerer)
	if err != nil {
		return err
	}
	all := []progress.Sink{sinks.NewLogSink(a.Logger), promSink}
	if a.Config.Progress.Bar {
		out := opts.ProgressOut
		if out == nil {
			out = os.Stderr
		}
		all = append(all, sinks.NewBarSink(out))
	}
	a.Hub = progress.NewHub(progress.Config{Logger: a.Logger}, all...)
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		return a.Hub.Close(ctx)
	})
	return nil
}

func (a *App) initEvents() error {
	switch a.Config.Events.Driver {
	case "sqlite":
		store, err := sqlite.Open(a.Config.Events.SQLitePath)
		if err != nil {
			return fmt.Errorf("open event log: %w", err)
		}
		a.Events = store
	default:
		a.Events = events.NewMemory()
	}
	a.closers = append(a.closers, a.Events.Close)
	return nil
}

func (a *App) initMirror(ctx context.Context) error {
	switch a.Config.Mirror.Provider {
	case "memory":
		a.Mirror = storagememory.NewBlobStore()
	case "gcs":
		store, err := gcs.Open(ctx, gcs.Config{Bucket: a.Config.Mirror.Bucket, Prefix: a.Config.Mirror.Prefix})
		if err != nil {
			return fmt.Errorf("init mirror: %w", err)
		}
		a.Mirror = store
		a.closers = append(a.closers, store.Close)
	}
	return nil
}

func (a *App) initFetcher() error {
	cfg := a.Config
	raw, err := local.New(local.Config{BaseDir: cfg.Fetcher.RawDir})
	if err != nil {
		return fmt.Errorf("init raw store: %w", err)
	}

	deps := fetcher.Deps{
		Getter: collyfetcher.New(collyfetcher.Config{
			UserAgent:    cfg.Fetcher.UserAgent,
			Timeout:      cfg.Fetcher.Timeout,
			MaxBodyBytes: cfg.Fetcher.MaxBodyBytes,
		}),
		Store:     raw,
		Recorder:  a.Recorder,
		Robots:    robots.AllowAll{},
		Blocklist: blocklist.New(cfg.Fetcher.BlockedHosts),
		Pacer: ratelimit.New(ratelimit.Config{
			Delay:      cfg.Fetcher.Delay,
			Burst:      cfg.Fetcher.Burst,
			PerHostMax: cfg.Fetcher.PerHostMax,
		}),
		Mirror: a.Mirror,
		Logger: a.Logger,
	}
	if cfg.Fetcher.RespectRobots {
		deps.Robots = robots.New(robots.Config{
			UserAgent: cfg.Fetcher.UserAgent,
			Timeout:   cfg.Fetcher.Timeout,
			FailOpen:  cfg.Fetcher.RobotsFailOpen,
			Logger:    a.Logger,
		})
	}
	if cfg.Headless.Enabled {
		a.Renderer, err = headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Fetcher.UserAgent,
			NavigationTimeout: cfg.Headless.NavTimeout,
		})
		if err != nil {
			return fmt.Errorf("init headless renderer: %w", err)
		}
		a.closers = append(a.closers, a.Renderer.Close)
		deps.Renderer = a.Renderer
		deps.Detector = headless.NewDetector(cfg.Headless.BodyThreshold)
	}

	a.Fetcher, err = fetcher.New(fetcher.Config{
		Concurrency: cfg.Fetcher.Concurrency,
		Timeout:     cfg.Fetcher.Timeout,
	}, deps)
	return err
}

func (a *App) initProcessor() error {
	if !a.Config.Processor.Enabled {
		return nil
	}
	out, err := local.New(local.Config{BaseDir: a.Config.Processor.OutputDir})
	if err != nil {
		return fmt.Errorf("init processed store: %w", err)
	}
	a.Processor = processor.New(processor.Config{Concurrency: a.Config.Processor.Concurrency}, out, a.Recorder, a.Logger)
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	switch a.Config.Handoff.Provider {
	case "memory":
		a.Publisher = publishermemory.New()
	case "pubsub":
		pub, err := pubsub.New(ctx, pubsub.Config{ProjectID: a.Config.Handoff.ProjectID, TopicID: a.Config.Handoff.Topic})
		if err != nil {
			return fmt.Errorf("init handoff publisher: %w", err)
		}
		a.Publisher = pub
	default:
		return nil
	}
	a.closers = append(a.closers, a.Publisher.Close)
	return nil
}

// OpenExporter connects the Postgres registry export.
func (a *App) OpenExporter(ctx context.Context) (*postgres.Exporter, error) {
	exp, err := postgres.New(ctx, postgres.Config{
		DSN:       a.Config.Export.DSN,
		Table:     a.Config.Export.Table,
		BatchSize: a.Config.Export.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("open exporter: %w", err)
	}
	if err := exp.EnsureTable(ctx); err != nil {
		exp.Close()
		return nil, err
	}
	return exp, nil
}

// Pipeline assembles the orchestrator for one run. exporter may be nil.
func (a *App) Pipeline(exporter pipeline.Exporter) (*pipeline.Pipeline, error) {
	deps := pipeline.Deps{
		Registry:   a.Registry,
		Normalizer: a.Normalizer,
		Classifier: a.Classifier,
		Fetcher:    a.Fetcher,
		Recorder:   a.Recorder,
		Exporter:   exporter,
		Progress:   a.Hub,
		RunID:      a.RunID,
		Logger:     a.Logger,
	}
	if a.Processor != nil {
		deps.Processor = a.Processor
	}
	if a.Publisher != nil {
		deps.Publisher = a.Publisher
	}
	return pipeline.New(pipeline.Config{Resume: a.Config.Registry.Resume}, deps)
}

// Close shuts down services in reverse order of creation and flushes the logger.
func (a *App) Close() {
	if a == nil {
		return
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.Logger == nil {
		return
	}
	if err := errors.Join(errs...); err != nil {
		a.Logger.Warn("error shutting down services", zap.Error(err))
	}
	_ = a.Logger.Sync()
}
