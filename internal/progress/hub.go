package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrHubClosed is returned by Mark once Close has been called.
var ErrHubClosed = errors.New("progress hub closed")

// Config tunes a Hub. Zero values select the defaults.
type Config struct {
	// Queue bounds item events waiting for delivery (default 4096).
	Queue int
	// FlushEvery delivers queued item events at least this often so bars keep
	// moving inside long phases (default 250ms).
	FlushEvery time.Duration
	// SinkTimeout bounds every Consume and Close call (default 10s).
	SinkTimeout time.Duration
	Logger      *zap.Logger
}

const (
	defaultQueue       = 4096
	defaultFlushEvery  = 250 * time.Millisecond
	defaultSinkTimeout = 10 * time.Second
)

type milestone struct {
	evt       Event
	delivered chan struct{}
}

// Hub delivers progress to sinks on one goroutine. Item events from phase
// workers are queued without blocking and may be dropped when the queue is
// full. Run and phase milestones go through Mark, which first delivers every
// item event queued before it, so a PHASE_DONE batch always closes the items
// of its phase.
type Hub struct {
	cfg    Config
	sinks  []Sink
	logger *zap.Logger

	items      chan Event
	milestones chan milestone
	quit       chan struct{}
	done       chan struct{}
	closeOnce  sync.Once

	dropped      atomic.Int64
	phaseDropped atomic.Int64
}

// NewHub starts delivering to sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.Queue <= 0 {
		cfg.Queue = defaultQueue
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = defaultFlushEvery
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:        cfg,
		sinks:      append([]Sink(nil), sinks...),
		logger:     logger,
		items:      make(chan Event, cfg.Queue),
		milestones: make(chan milestone),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go h.loop()
	return h
}

// Emit queues an item event and never blocks.
func (h *Hub) Emit(evt Event) {
	if h == nil {
		return
	}
	select {
	case <-h.quit:
		return
	default:
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.items <- evt:
	default:
		h.dropped.Add(1)
		h.phaseDropped.Add(1)
	}
}

// Mark delivers a run or phase milestone after every item event queued before
// it and returns once the sinks have consumed it.
func (h *Hub) Mark(ctx context.Context, evt Event) error {
	if h == nil {
		return nil
	}
	if evt.Stage == StageItemDone {
		return errors.New("progress mark: item events go through Emit")
	}
	if err := evt.Validate(); err != nil {
		return fmt.Errorf("progress mark: %w", err)
	}
	m := milestone{evt: evt, delivered: make(chan struct{})}
	select {
	case h.milestones <- m:
	case <-h.quit:
		return ErrHubClosed
	case <-ctx.Done():
		return fmt.Errorf("progress mark: %w", ctx.Err())
	}
	select {
	case <-m.delivered:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress mark: %w", ctx.Err())
	}
}

// Dropped reports how many item events were discarded because the queue was full.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

// Close delivers what is queued, closes the sinks and stops the hub.
// Repeated calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	h.closeOnce.Do(func() { close(h.quit) })
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close progress hub: %w", ctx.Err())
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	ticker := time.NewTicker(h.cfg.FlushEvery)
	defer ticker.Stop()

	var pending []Event
	for {
		select {
		case evt := <-h.items:
			pending = append(pending, evt)
		case <-ticker.C:
			pending = h.deliver(pending)
		case m := <-h.milestones:
			pending = h.deliver(append(h.drain(pending), m.evt))
			if m.evt.Stage == StagePhaseDone {
				h.reportDrops(m.evt)
			}
			close(m.delivered)
		case <-h.quit:
			h.deliver(h.drain(pending))
			h.closeSinks()
			return
		}
	}
}

// drain moves every queued item event into pending.
func (h *Hub) drain(pending []Event) []Event {
	for {
		select {
		case evt := <-h.items:
			pending = append(pending, evt)
		default:
			return pending
		}
	}
}

// deliver hands batch to every sink and returns it emptied for reuse.
func (h *Hub) deliver(batch []Event) []Event {
	if len(batch) == 0 {
		return batch
	}
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		err := sink.Consume(ctx, batch)
		cancel()
		if err != nil {
			h.logger.Warn("progress sink rejected batch", zap.Int("events", len(batch)), zap.Error(err))
		}
	}
	return batch[:0]
}

func (h *Hub) reportDrops(evt Event) {
	if n := h.phaseDropped.Swap(0); n > 0 {
		h.logger.Warn("progress events dropped",
			zap.String("phase", string(evt.Phase)),
			zap.Int64("dropped", n))
	}
}

func (h *Hub) closeSinks() {
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("closing progress sink", zap.Error(err))
		}
		cancel()
	}
}
