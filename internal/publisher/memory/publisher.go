// Package memory keeps handoff messages in process for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/url-acquirer/internal/acquisition"
)

// Publisher stores published handoffs for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []acquisition.Handoff
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the handoff and returns a pseudo message id.
func (p *Publisher) Publish(ctx context.Context, h acquisition.Handoff) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("publish handoff %d: %w", h.ID, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, h)
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns the recorded handoffs in publish order.
func (p *Publisher) Messages() []acquisition.Handoff {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]acquisition.Handoff, len(p.messages))
	copy(out, p.messages)
	return out
}

// Close implements the publisher contract; it holds no resources.
func (p *Publisher) Close() error {
	return nil
}
