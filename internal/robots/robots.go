// Package robots answers whether a URL may be fetched under the target
// host's robots.txt, caching one parsed file per host.
package robots

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/url-acquirer/internal/metrics"
)

const maxRobotsBytes = 1 << 20

var retryBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
}

// Decision is the outcome of a robots check.
type Decision struct {
	Allowed bool
	// Reason explains a denial or an indeterminate lookup.
	Reason string
}

// Checker decides robots access for a URL.
type Checker interface {
	Check(ctx context.Context, rawURL string) Decision
}

// Config tunes the Policy.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// FailOpen allows fetching when robots.txt cannot be retrieved.
	FailOpen bool
	Client   *http.Client
	Logger   *zap.Logger
}

type entry struct {
	data *robotstxt.RobotsData
	err  error
}

// Policy enforces robots.txt per host.
type Policy struct {
	client    *http.Client
	userAgent string
	failOpen  bool
	logger    *zap.Logger

	cache sync.Map // host -> entry
	group singleflight.Group
}

// New builds a Policy.
func New(cfg Config) *Policy {
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{
		client:    client,
		userAgent: cfg.UserAgent,
		failOpen:  cfg.FailOpen,
		logger:    logger,
	}
}

// Check implements Checker.
func (p *Policy) Check(ctx context.Context, rawURL string) Decision {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return Decision{Allowed: false, Reason: "invalid url"}
	}
	e := p.load(ctx, parsed)
	if e.err != nil {
		if p.failOpen {
			p.logger.Debug("robots.txt unavailable; allowing", zap.String("host", parsed.Host), zap.Error(e.err))
			return Decision{Allowed: true, Reason: "robots.txt unavailable"}
		}
		return Decision{Allowed: false, Reason: "robots.txt unavailable: " + e.err.Error()}
	}
	group := e.data.FindGroup(p.userAgent)
	if group == nil {
		return Decision{Allowed: true}
	}
	target := parsed.EscapedPath()
	if target == "" {
		target = "/"
	}
	if parsed.RawQuery != "" {
		target += "?" + parsed.RawQuery
	}
	if !group.Test(target) {
		return Decision{Allowed: false, Reason: "disallowed by robots.txt"}
	}
	return Decision{Allowed: true}
}

func (p *Policy) load(ctx context.Context, parsed *url.URL) entry {
	hostKey := strings.ToLower(parsed.Scheme + "://" + parsed.Host)
	if cached, ok := p.cache.Load(hostKey); ok {
		if e, ok := cached.(entry); ok {
			return e
		}
	}
	v, _, _ := p.group.Do(hostKey, func() (any, error) {
		data, err := p.fetch(ctx, parsed)
		e := entry{data: data, err: err}
		// A cancelled caller must not poison the cache for the host.
		if ctx.Err() == nil {
			p.cache.Store(hostKey, e)
		}
		return e, nil
	})
	e, ok := v.(entry)
	if !ok {
		return entry{err: fmt.Errorf("robots cache type mismatch: %T", v)}
	}
	return e
}

func (p *Policy) fetch(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	robotsURL := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}
	var lastErr error
	for attempt := 0; attempt <= len(retryBackoff); attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, retryBackoff[attempt-1]); err != nil {
				return nil, err
			}
		}
		data, err := p.fetchOnce(ctx, robotsURL.String())
		if err == nil {
			metrics.ObserveRobotsFetch("ok")
			return data, nil
		}
		lastErr = err
		if !isTransient(err) {
			break
		}
	}
	metrics.ObserveRobotsFetch("error")
	return nil, lastErr
}

func (p *Policy) fetchOnce(ctx context.Context, robotsURL string) (*robotstxt.RobotsData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			p.logger.Debug("closing robots body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("fetch robots: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	// FromStatusAndBytes treats 4xx as allow-all.
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	return data, nil
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("robots backoff: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// AllowAll permits every URL.
type AllowAll struct{}

// Check implements Checker.
func (AllowAll) Check(context.Context, string) Decision {
	return Decision{Allowed: true}
}
