// Package dispatcher fans per-item work out over a bounded goroutine pool.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/url-acquirer/internal/metrics"
)

// ErrPanic wraps a recovered panic from an item handler.
var ErrPanic = errors.New("item handler panicked")

// Pool bounds concurrency for one phase.
type Pool struct {
	phase  string
	limit  int
	logger *zap.Logger
}

// New creates a Pool running at most limit items at once (minimum 1).
func New(phase string, limit int, logger *zap.Logger) *Pool {
	if limit <= 0 {
		limit = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{phase: phase, limit: limit, logger: logger}
}

// Limit returns the configured concurrency.
func (p *Pool) Limit() int {
	return p.limit
}

// Run calls fn for every item. Item errors do not cancel siblings; each is
// passed to onErr (when non-nil) and joined into the returned error. A
// panicking handler is reported as an ErrPanic error for its item. Once ctx is
// done no further items start and ctx.Err() is included in the result.
func Run[T any](ctx context.Context, p *Pool, items []T, fn func(context.Context, T) error, onErr func(T, error)) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	collect := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(p.limit)
	for i, item := range items {
		if ctx.Err() != nil {
			p.logger.Warn("dispatch stopped early",
				zap.String("phase", p.phase),
				zap.Int("remaining", len(items)-i))
			collect(fmt.Errorf("%s: %w", p.phase, ctx.Err()))
			break
		}
		g.Go(func() error {
			if err := call(ctx, p, item, fn); err != nil {
				if onErr != nil {
					onErr(item, err)
				}
				collect(err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func call[T any](ctx context.Context, p *Pool, item T, fn func(context.Context, T) error) (err error) {
	metrics.IncActiveWorkers(p.phase)
	defer metrics.DecActiveWorkers(p.phase)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("item handler panicked",
				zap.String("phase", p.phase),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("%s: %w: %v", p.phase, ErrPanic, r)
		}
	}()
	return fn(ctx, item)
}
