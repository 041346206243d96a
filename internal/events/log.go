// Package events is the durable record of item outcomes. Phase workers append
// events through a Recorder; the registry later reads them back per phase.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/url-acquirer/internal/acquisition"
)

// ErrNoRuns is returned by LatestRun when the log is empty.
var ErrNoRuns = errors.New("event log has no runs")

// Log stores events in append order.
type Log interface {
	// Append validates evt, assigns its sequence number, and stores it.
	Append(ctx context.Context, evt acquisition.Event) (acquisition.Event, error)
	// Events returns the events of one run and phase ordered by sequence.
	Events(ctx context.Context, runID string, phase acquisition.Phase) ([]acquisition.Event, error)
	// LatestRun returns the run that appended most recently.
	LatestRun(ctx context.Context) (string, error)
	Close() error
}

// Memory is a process-local Log.
type Memory struct {
	mu     sync.RWMutex
	seq    int64
	events []acquisition.Event
}

// NewMemory returns an empty in-memory log.
func NewMemory() *Memory {
	return &Memory{}
}

// Append implements Log.
func (m *Memory) Append(ctx context.Context, evt acquisition.Event) (acquisition.Event, error) {
	if err := ctx.Err(); err != nil {
		return evt, fmt.Errorf("append event: %w", err)
	}
	if err := evt.Validate(); err != nil {
		return evt, fmt.Errorf("append event: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	evt.Seq = m.seq
	m.events = append(m.events, evt)
	return evt, nil
}

// Events implements Log.
func (m *Memory) Events(ctx context.Context, runID string, phase acquisition.Phase) ([]acquisition.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []acquisition.Event
	for _, e := range m.events {
		if e.RunID == runID && e.Phase == phase {
			out = append(out, e)
		}
	}
	return out, nil
}

// LatestRun implements Log.
func (m *Memory) LatestRun(context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.events) == 0 {
		return "", ErrNoRuns
	}
	return m.events[len(m.events)-1].RunID, nil
}

// Close implements Log.
func (m *Memory) Close() error {
	return nil
}
