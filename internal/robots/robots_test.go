package robots

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func robotsServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestCheckHonorsDisallow(t *testing.T) {
	t.Parallel()

	srv, hits := robotsServer(t, http.StatusOK, "User-agent: *\nDisallow: /private\n\nUser-agent: strictbot\nDisallow: /\n")
	p := New(Config{UserAgent: "url-acquirer/0.1", Client: srv.Client()})
	ctx := context.Background()

	assert.True(t, p.Check(ctx, srv.URL+"/public/a.pdf").Allowed)
	denied := p.Check(ctx, srv.URL+"/private/b.pdf")
	assert.False(t, denied.Allowed)
	assert.Equal(t, "disallowed by robots.txt", denied.Reason)
	assert.Equal(t, int32(1), hits.Load(), "robots.txt is cached per host")

	strict := New(Config{UserAgent: "strictbot", Client: srv.Client()})
	assert.False(t, strict.Check(ctx, srv.URL+"/public/a.pdf").Allowed)
}

func TestCheckSharesConcurrentLoads(t *testing.T) {
	t.Parallel()

	srv, hits := robotsServer(t, http.StatusOK, "User-agent: *\nAllow: /\n")
	p := New(Config{UserAgent: "bot", Client: srv.Client()})

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, p.Check(context.Background(), srv.URL+"/x").Allowed)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, hits.Load(), int32(2))
}

func TestCheckMissingRobotsAllows(t *testing.T) {
	t.Parallel()

	srv, _ := robotsServer(t, http.StatusNotFound, "")
	p := New(Config{UserAgent: "bot", Client: srv.Client()})
	assert.True(t, p.Check(context.Background(), srv.URL+"/anything").Allowed)
}

func TestCheckUnavailableRobots(t *testing.T) {
	t.Parallel()

	srv, _ := robotsServer(t, http.StatusServiceUnavailable, "")
	ctx := context.Background()

	open := New(Config{UserAgent: "bot", Client: srv.Client(), FailOpen: true})
	got := open.Check(ctx, srv.URL+"/doc.pdf")
	assert.True(t, got.Allowed)
	assert.Equal(t, "robots.txt unavailable", got.Reason)

	closed := New(Config{UserAgent: "bot", Client: srv.Client(), FailOpen: false})
	got = closed.Check(ctx, srv.URL+"/doc.pdf")
	require.False(t, got.Allowed)
	assert.Contains(t, got.Reason, "robots.txt unavailable")
}

func TestCheckInvalidURL(t *testing.T) {
	t.Parallel()

	assert.False(t, New(Config{}).Check(context.Background(), "::nope").Allowed)
	assert.True(t, AllowAll{}.Check(context.Background(), "::nope").Allowed)
}
