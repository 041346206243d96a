// Package ratelimit enforces per-host politeness: a token bucket spacing
// request starts plus a cap on concurrent requests to the same host.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/url-acquirer/internal/metrics"
)

// Config holds per-host limits.
//   - Delay: minimum spacing between request starts to one host (0 disables).
//   - Burst: requests allowed back to back before Delay applies (default 1).
//   - PerHostMax: concurrent requests per host (default 1).
type Config struct {
	Delay      time.Duration
	Burst      int
	PerHostMax int
}

type hostSlot struct {
	bucket *rate.Limiter
	sem    *semaphore.Weighted
}

// Limiter manages per-host slots. The zero value is not usable; call New.
type Limiter struct {
	mu     sync.Mutex
	hosts  map[string]*hostSlot
	limit  rate.Limit
	burst  int
	maxCon int64
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	limit := rate.Inf
	if cfg.Delay > 0 {
		limit = rate.Every(cfg.Delay)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	maxCon := int64(cfg.PerHostMax)
	if maxCon <= 0 {
		maxCon = 1
	}
	return &Limiter{
		hosts:  make(map[string]*hostSlot),
		limit:  limit,
		burst:  burst,
		maxCon: maxCon,
	}
}

// Acquire blocks until rawURL's host has a free concurrency slot and a token.
// The returned release must be called once the request finishes.
func (l *Limiter) Acquire(ctx context.Context, rawURL string) (func(), error) {
	host := Host(rawURL)
	slot := l.slot(host)

	start := time.Now()
	if err := slot.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("rate limit slot for %s: %w", host, err)
	}
	if err := slot.bucket.Wait(ctx); err != nil {
		slot.sem.Release(1)
		return nil, fmt.Errorf("rate limit wait for %s: %w", host, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	var once sync.Once
	return func() { once.Do(func() { slot.sem.Release(1) }) }, nil
}

func (l *Limiter) slot(host string) *hostSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.hosts[host]
	if !ok {
		s = &hostSlot{
			bucket: rate.NewLimiter(l.limit, l.burst),
			sem:    semaphore.NewWeighted(l.maxCon),
		}
		l.hosts[host] = s
	}
	return s
}

// Host returns the lower-cased hostname of rawURL, or "unknown".
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
