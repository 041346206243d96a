package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSanitizeSite(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestObserversInitLazily(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(robotsFetchTotal.WithLabelValues("error"))
	ObserveRobotsFetch("error")
	assert.InDelta(t, before+1, testutil.ToFloat64(robotsFetchTotal.WithLabelValues("error")), 1e-9)

	IncActiveWorkers("fetch")
	IncActiveWorkers("fetch")
	DecActiveWorkers("fetch")
	assert.InDelta(t, 1.0, testutil.ToFloat64(activeWorkers.WithLabelValues("fetch")), 1e-9)
	DecActiveWorkers("fetch")

	beforeRows := testutil.ToFloat64(exportRowsTotal)
	ObserveExport(3)
	assert.InDelta(t, beforeRows+3, testutil.ToFloat64(exportRowsTotal), 1e-9)

	ObserveReconcile("fetch", "applied", 0)
	ObserveReconcile("fetch", "applied", 2)
	assert.InDelta(t, 2.0, testutil.ToFloat64(reconcileEventsTotal.WithLabelValues("fetch", "applied")), 1e-9)

	ObserveRateLimitDelay("https://Example.com/x", 250*time.Millisecond)
	assert.Positive(t, testutil.CollectAndCount(rateLimitDelaySeconds))
	ObserveHeadlessRender("ok")
	assert.InDelta(t, 1.0, testutil.ToFloat64(headlessRendersTotal.WithLabelValues("ok")), 1e-9)
}

func FuzzSanitizeSite(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://google.com", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
