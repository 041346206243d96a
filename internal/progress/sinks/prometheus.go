package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/url-acquirer/internal/progress"
)

// PrometheusSink exports run and item progress as Prometheus collectors.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsActive    prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	items        *prometheus.CounterVec
	itemDuration *prometheus.HistogramVec
	fetchBytes    *prometheus.CounterVec
	phaseBacklog  *prometheus.GaugeVec
	phaseDuration *prometheus.HistogramVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "acquirer_runs_started_total",
			Help: "Acquisition runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acquirer_runs_completed_total",
			Help: "Acquisition runs completed partitioned by result.",
		}, []string{"result"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "acquirer_runs_active",
			Help: "Acquisition runs in progress.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "acquirer_run_duration_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"result"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acquirer_items_total",
			Help: "Item outcomes partitioned by phase, outcome, and reason.",
		}, []string{"phase", "outcome", "reason"}),
		itemDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "acquirer_item_duration_seconds",
			Help:    "Per-item latency partitioned by phase.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"phase"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acquirer_fetch_bytes_total",
			Help: "Artifact bytes written per site.",
		}, []string{"site"}),
		phaseBacklog: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "acquirer_phase_remaining_items",
			Help: "Eligible items not yet completed in the running phase.",
		}, []string{"phase"}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "acquirer_phase_duration_seconds",
			Help:    "Wall time per phase, from start to reconciled registry.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"phase"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsActive,
		s.runDuration,
		s.items,
		s.itemDuration,
		s.fetchBytes,
		s.phaseBacklog,
		s.phaseDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsActive.Inc()
		}
	case progress.StageRunDone, progress.StageRunError:
		result := "success"
		if evt.Stage == progress.StageRunError {
			result = "error"
		}
		s.runsCompleted.WithLabelValues(result).Inc()
		if evt.Dur > 0 {
			s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.RunID) {
			s.runsActive.Dec()
		}
	case progress.StagePhaseStart:
		s.phaseBacklog.WithLabelValues(string(evt.Phase)).Set(float64(evt.Total))
	case progress.StagePhaseDone:
		s.phaseBacklog.WithLabelValues(string(evt.Phase)).Set(0)
		s.phaseDuration.WithLabelValues(string(evt.Phase)).Observe(evt.Dur.Seconds())
	case progress.StageItemDone:
		s.handleItem(evt)
	}
}

func (s *PrometheusSink) handleItem(evt progress.Event) {
	phase := string(evt.Phase)
	reason := string(evt.Reason)
	if reason == "" {
		reason = "none"
	}
	s.items.WithLabelValues(phase, string(evt.Outcome), reason).Inc()
	s.phaseBacklog.WithLabelValues(phase).Dec()
	if evt.Dur > 0 {
		s.itemDuration.WithLabelValues(phase).Observe(evt.Dur.Seconds())
	}
	if evt.Bytes > 0 {
		site := evt.Site
		if site == "" {
			site = "unknown"
		}
		s.fetchBytes.WithLabelValues(site).Add(float64(evt.Bytes))
	}
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[uuid.UUID]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[uuid.UUID]struct{})}
}

func (t *runTracker) start(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
