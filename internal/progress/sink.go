package progress

import "context"

// Sink consumes batches of progress events. Implementations must be safe for
// repeated calls and honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter takes item events from phase workers without blocking them.
type Emitter interface {
	Emit(evt Event)
}

// Reporter is what the orchestrator reports to: item events plus run and
// phase milestones that are delivered in order.
type Reporter interface {
	Emitter
	Mark(ctx context.Context, evt Event) error
}

// Nop discards every event.
type Nop struct{}

// Emit implements Emitter.
func (Nop) Emit(Event) {}

// Mark implements Reporter.
func (Nop) Mark(context.Context, Event) error { return nil }
