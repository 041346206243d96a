package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/url-acquirer/internal/acquisition"
	"github.com/JakeFAU/url-acquirer/internal/progress"
)

// Recorder stamps events with the run id and time, appends them to the Log,
// and mirrors each one to a progress emitter. A failed append is logged and
// remembered; the item then shows up as not run when its phase reconciles.
type Recorder struct {
	log     Log
	emitter progress.Emitter
	runID   uuid.UUID
	clock   acquisition.Clock
	logger  *zap.Logger

	recorded atomic.Int64
	mu       sync.Mutex
	firstErr error
}

// NewRecorder returns a Recorder for one run. emitter may be nil.
func NewRecorder(log Log, emitter progress.Emitter, runID uuid.UUID, clock acquisition.Clock, logger *zap.Logger) *Recorder {
	if emitter == nil {
		emitter = progress.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{log: log, emitter: emitter, runID: runID, clock: clock, logger: logger}
}

// RunID returns the run the recorder stamps.
func (r *Recorder) RunID() string {
	return r.runID.String()
}

// Record implements acquisition.Recorder.
func (r *Recorder) Record(ctx context.Context, evt acquisition.Event) {
	evt.RunID = r.runID.String()
	if evt.Timestamp.IsZero() {
		evt.Timestamp = r.clock.Now()
	}
	stored, err := r.log.Append(ctx, evt)
	if err != nil {
		r.mu.Lock()
		if r.firstErr == nil {
			r.firstErr = err
		}
		r.mu.Unlock()
		r.logger.Error("event append failed",
			zap.String("phase", string(evt.Phase)),
			zap.Int("item_id", evt.ItemID),
			zap.String("url", evt.SubjectURL),
			zap.Error(err))
		return
	}
	r.recorded.Add(1)
	r.emitter.Emit(progress.ItemDone(r.runID, stored, stored.Detail.Elapsed))
}

// Recorded returns how many events were stored.
func (r *Recorder) Recorded() int64 {
	return r.recorded.Load()
}

// Err returns the first append failure, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.firstErr
}
