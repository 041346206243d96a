package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/url-acquirer/internal/acquisition"
	"github.com/JakeFAU/url-acquirer/internal/classifier"
	"github.com/JakeFAU/url-acquirer/internal/events"
	"github.com/JakeFAU/url-acquirer/internal/fetcher"
	collyfetcher "github.com/JakeFAU/url-acquirer/internal/fetcher/colly"
	"github.com/JakeFAU/url-acquirer/internal/input"
	"github.com/JakeFAU/url-acquirer/internal/normalize"
	"github.com/JakeFAU/url-acquirer/internal/policy/ratelimit"
	"github.com/JakeFAU/url-acquirer/internal/processor"
	"github.com/JakeFAU/url-acquirer/internal/progress"
	publishermemory "github.com/JakeFAU/url-acquirer/internal/publisher/memory"
	"github.com/JakeFAU/url-acquirer/internal/registry"
	"github.com/JakeFAU/url-acquirer/internal/robots"
	"github.com/JakeFAU/url-acquirer/internal/storage/local"
)

type fixture struct {
	dir       string
	registry  *registry.Registry
	publisher *publishermemory.Publisher
	deps      Deps
}

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/a.html", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html lang="en"><body><p>Prices rose.</p><script>x()</script></body></html>`))
	})
	mux.HandleFunc("/private/b.html", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>secret</body></html>"))
	})
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// newFixture wires real phase components the way the app container does.
func newFixture(t *testing.T, dir string) *fixture {
	t.Helper()
	runID, err := uuid.NewV7()
	require.NoError(t, err)

	log := events.NewMemory()
	rec := events.NewRecorder(log, nil, runID, fixedClock{}, nil)
	reg, err := registry.Open(registry.Config{Path: filepath.Join(dir, "results_registry.csv")})
	require.NoError(t, err)
	reg.Bind(log, runID.String())

	client := collyfetcher.New(collyfetcher.Config{UserAgent: "test-agent", Timeout: 2 * time.Second})
	raw, err := local.New(local.Config{BaseDir: filepath.Join(dir, "raw_downloads")})
	require.NoError(t, err)
	processed, err := local.New(local.Config{BaseDir: filepath.Join(dir, "processed_data")})
	require.NoError(t, err)

	f, err := fetcher.New(fetcher.Config{Concurrency: 4, Timeout: 2 * time.Second}, fetcher.Deps{
		Getter:   client,
		Store:    raw,
		Recorder: rec,
		Robots:   robots.New(robots.Config{UserAgent: "test-agent", Timeout: time.Second, FailOpen: true}),
		Pacer:    ratelimit.New(ratelimit.Config{PerHostMax: 2}),
	})
	require.NoError(t, err)

	pub := publishermemory.New()
	return &fixture{
		dir:       dir,
		registry:  reg,
		publisher: pub,
		deps: Deps{
			Registry:   reg,
			Normalizer: normalize.New(nil),
			Classifier: classifier.New(classifier.Config{Concurrency: 4, Timeout: 2 * time.Second}, client, rec, nil),
			Fetcher:    f,
			Processor:  processor.New(processor.Config{Concurrency: 2}, processed, rec, nil),
			Publisher:  pub,
			Recorder:   rec,
			RunID:      runID,
		},
	}
}

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

func writeInput(t *testing.T, dir string, lines ...string) []string {
	t.Helper()
	path := filepath.Join(dir, "urls.txt")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	read, err := input.ReadFile(path)
	require.NoError(t, err)
	return read
}

func TestRunEndToEnd(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	fx := newFixture(t, t.TempDir())
	p, err := New(Config{}, fx.deps)
	require.NoError(t, err)

	lines := writeInput(t, fx.dir, srv.URL+"/a.html", srv.URL+"/a.html?utm_source=x", "not a url", "")
	report, err := p.Run(context.Background(), lines)
	require.NoError(t, err)
	require.Len(t, report.Phases, 4)
	assert.False(t, report.Resumed)

	items := fx.registry.Items()
	require.Len(t, items, 3)

	first := items[0]
	assert.Equal(t, srv.URL+"/a.html", first.CanonicalURL)
	assert.Equal(t, acquisition.KindPage, first.Kind)
	assert.False(t, first.ClassifiedAt.IsZero())
	assert.Equal(t, acquisition.StateProcessed, first.State)
	assert.FileExists(t, first.RawArtifactPath)
	assert.NotEmpty(t, first.ContentSHA256)
	assert.Equal(t, "en", first.Language)
	text, err := os.ReadFile(first.ProcessedPath)
	require.NoError(t, err)
	assert.Contains(t, string(text), "Prices rose.")
	assert.NotContains(t, string(text), "x()")

	assert.Equal(t, acquisition.StateRejected, items[1].State)
	assert.Contains(t, items[1].ErrorMessage, "duplicate")
	assert.Contains(t, items[1].ErrorMessage, "item 1")
	assert.Equal(t, acquisition.StateRejected, items[2].State)
	assert.Contains(t, items[2].ErrorMessage, "not_a_url")

	assert.Equal(t, 1, report.Published)
	msgs := fx.publisher.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, first.ID, msgs[0].ID)
	assert.Equal(t, acquisition.KindPage, msgs[0].ContentKind)

	onDisk, err := registry.Load(fx.registry.Path())
	require.NoError(t, err)
	assert.Equal(t, items, onDisk)
	assert.Equal(t, 3, report.Summary.Total)
}

func TestRunPolicyDenialLeavesNoArtifact(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	fx := newFixture(t, t.TempDir())
	p, err := New(Config{}, fx.deps)
	require.NoError(t, err)

	_, err = p.Run(context.Background(), []string{srv.URL + "/private/b.html"})
	require.NoError(t, err)

	it, err := fx.registry.Get(1)
	require.NoError(t, err)
	assert.Equal(t, acquisition.StateSkipped, it.State)
	assert.Contains(t, it.ErrorMessage, "policy_denied")
	assert.Empty(t, it.RawArtifactPath)

	entries, err := os.ReadDir(filepath.Join(fx.dir, "raw_downloads", "pages"))
	if err == nil {
		assert.Empty(t, entries)
	}
}

func TestRunResumeKeepsRegistry(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	dir := t.TempDir()
	lines := []string{srv.URL + "/a.html", "not a url"}

	first := newFixture(t, dir)
	p, err := New(Config{}, first.deps)
	require.NoError(t, err)
	_, err = p.Run(context.Background(), lines)
	require.NoError(t, err)
	before, err := first.registry.Get(1)
	require.NoError(t, err)

	second := newFixture(t, dir)
	p, err = New(Config{Resume: true}, second.deps)
	require.NoError(t, err)
	report, err := p.Run(context.Background(), lines)
	require.NoError(t, err)
	assert.True(t, report.Resumed)

	after, err := second.registry.Get(1)
	require.NoError(t, err)
	assert.Equal(t, acquisition.StateProcessed, after.State)
	assert.Equal(t, before.IngestedAt, after.IngestedAt)
	assert.Equal(t, before.ProcessedPath, after.ProcessedPath)
	assert.Len(t, second.registry.Items(), 2)
}

type stubExporter struct {
	runID string
	rows  int
	err   error
}

func (s *stubExporter) Export(_ context.Context, runID string, items []acquisition.Item) (int, error) {
	s.runID = runID
	s.rows = len(items)
	return len(items), s.err
}

func TestRunExports(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, t.TempDir())
	exp := &stubExporter{}
	fx.deps.Exporter = exp
	fx.deps.Processor = nil
	p, err := New(Config{}, fx.deps)
	require.NoError(t, err)

	report, err := p.Run(context.Background(), []string{"not a url", "also not"})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Exported)
	assert.Equal(t, fx.deps.RunID.String(), exp.runID)

	exp.err = errors.New("db down")
	_, err = p.Run(context.Background(), []string{"not a url"})
	require.ErrorContains(t, err, "export registry")
}

func TestRunCanceledBeforeIngest(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, t.TempDir())
	p, err := New(Config{}, fx.deps)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Run(ctx, []string{"https://a.invalid/"})
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, Deps{})
	require.Error(t, err)

	fx := newFixture(t, t.TempDir())
	deps := fx.deps
	deps.RunID = uuid.Nil
	_, err = New(Config{}, deps)
	require.ErrorContains(t, err, "run id")
}

func TestHandoffs(t *testing.T) {
	t.Parallel()

	got := handoffs([]acquisition.Item{{
		ID:              4,
		RawArtifactPath: "raw/pages/4_a.html",
		Kind:            acquisition.KindPage,
		CanonicalURL:    "https://a.com/a.html",
		MirrorURI:       "gs://b/pages/4_a.html",
	}})
	require.Len(t, got, 1)
	assert.Equal(t, acquisition.Handoff{
		ID:              4,
		RawArtifactPath: "raw/pages/4_a.html",
		ContentKind:     acquisition.KindPage,
		CanonicalURL:    "https://a.com/a.html",
		MirrorURI:       "gs://b/pages/4_a.html",
	}, got[0])
}

// MockPublisher mocks the Publisher interface.
type MockPublisher struct {
	mock.Mock
}

// Publish satisfies the Publisher interface for the mock.
func (m *MockPublisher) Publish(ctx context.Context, h acquisition.Handoff) (string, error) {
	args := m.Called(ctx, h)
	return args.String(0), args.Error(1)
}

func TestRunPublishFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	fx := newFixture(t, t.TempDir())
	pub := new(MockPublisher)
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(h acquisition.Handoff) bool {
		return h.ID == 1 && h.ContentKind == acquisition.KindPage
	})).Return("", errors.New("topic not found")).Once()
	fx.deps.Publisher = pub

	p, err := New(Config{}, fx.deps)
	require.NoError(t, err)
	report, err := p.Run(context.Background(), []string{srv.URL + "/a.html"})
	require.NoError(t, err)
	assert.Zero(t, report.Published)
	pub.AssertExpectations(t)

	it, err := fx.registry.Get(1)
	require.NoError(t, err)
	assert.Equal(t, acquisition.StateProcessed, it.State)
}

type cancelingClassifier struct {
	rec    acquisition.Recorder
	cancel context.CancelFunc
}

// Classify records the first item, then simulates an operator interrupt.
func (c cancelingClassifier) Classify(ctx context.Context, items []acquisition.Item) error {
	c.rec.Record(ctx, acquisition.Success(acquisition.PhaseClassify, items[0], acquisition.Detail{Kind: acquisition.KindPage}))
	c.cancel()
	return ctx.Err()
}

func TestRunInterruptedMidPhaseKeepsRecordedWork(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx.deps.Classifier = cancelingClassifier{rec: fx.deps.Recorder, cancel: cancel}
	p, err := New(Config{}, fx.deps)
	require.NoError(t, err)

	report, err := p.Run(ctx, []string{"https://a.invalid/one", "https://a.invalid/two"})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, report.Phases, 2)
	assert.Equal(t, 1, report.Phases[1].Applied)
	assert.Equal(t, 1, report.Phases[1].NotRun)

	onDisk, err := registry.Load(fx.registry.Path())
	require.NoError(t, err)
	require.Len(t, onDisk, 2)
	assert.Equal(t, acquisition.StateClassified, onDisk[0].State)
	assert.Equal(t, acquisition.StateCleaned, onDisk[1].State)
}

type boundaryLog struct {
	mu     sync.Mutex
	marked []string
}

func (b *boundaryLog) Emit(progress.Event) {}

func (b *boundaryLog) Mark(_ context.Context, evt progress.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.marked = append(b.marked, strings.TrimSpace(string(evt.Stage)+" "+string(evt.Phase)))
	return nil
}

func TestRunMarksBoundariesInOrder(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, t.TempDir())
	marks := &boundaryLog{}
	fx.deps.Progress = marks
	p, err := New(Config{}, fx.deps)
	require.NoError(t, err)

	_, err = p.Run(context.Background(), []string{"not a url"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"RUN_START",
		"PHASE_START normalize", "PHASE_DONE normalize",
		"PHASE_START classify", "PHASE_DONE classify",
		"PHASE_START fetch", "PHASE_DONE fetch",
		"PHASE_START process", "PHASE_DONE process",
		"RUN_DONE",
	}, marks.marked)
}
