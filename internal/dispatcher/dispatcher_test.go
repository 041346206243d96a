package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunVisitsEveryItem(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		seen []int
	)
	err := Run(context.Background(), New("fetch", 3, zap.NewNop()), []int{1, 2, 3, 4, 5}, func(_ context.Context, n int) error {
		mu.Lock()
		seen = append(seen, n)
		mu.Unlock()
		return nil
	}, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1, 2, 3, 4, 5}, seen)
}

func TestRunBoundsConcurrency(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	items := make([]int, 20)
	err := Run(context.Background(), New("classify", 4, nil), items, func(context.Context, int) error {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return nil
	}, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(4))
}

func TestRunIsolatesErrorsAndPanics(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	var (
		mu     sync.Mutex
		failed = map[int]error{}
		done   atomic.Int32
	)
	err := Run(context.Background(), New("process", 2, nil), []int{1, 2, 3, 4}, func(_ context.Context, n int) error {
		switch n {
		case 2:
			return boom
		case 3:
			panic("kaboom")
		}
		done.Add(1)
		return nil
	}, func(n int, err error) {
		mu.Lock()
		failed[n] = err
		mu.Unlock()
	})

	require.Error(t, err)
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, err, ErrPanic)
	assert.Equal(t, int32(2), done.Load())
	require.Len(t, failed, 2)
	assert.ErrorIs(t, failed[2], boom)
	assert.ErrorIs(t, failed[3], ErrPanic)
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	var started atomic.Int32
	err := Run(ctx, New("fetch", 1, nil), []int{1, 2, 3}, func(context.Context, int) error {
		started.Add(1)
		cancel()
		return nil
	}, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, started.Load(), int32(3))
}

func TestNewDefaultsLimit(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, New("x", 0, nil).Limit())
	assert.Equal(t, 7, New("x", 7, nil).Limit())
}
