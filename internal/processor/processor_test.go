package processor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/url-acquirer/internal/acquisition"
	"github.com/JakeFAU/url-acquirer/internal/storage/local"
)

type collector struct {
	mu     sync.Mutex
	events []acquisition.Event
}

func (c *collector) Record(_ context.Context, evt acquisition.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *collector) byID() map[int]acquisition.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int]acquisition.Event, len(c.events))
	for _, evt := range c.events {
		out[evt.ItemID] = evt
	}
	return out
}

func writeArtifact(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
	require.NoError(t, os.WriteFile(p, data, 0o600))
	return p
}

func TestOutputPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "pages/1_a.html.txt", OutputPath(acquisition.Handoff{
		RawArtifactPath: "raw_downloads/pages/1_a.html", ContentKind: acquisition.KindPage,
	}))
	assert.Equal(t, "documents/2_b.pdf.txt", OutputPath(acquisition.Handoff{
		RawArtifactPath: "raw_downloads/documents/2_b.pdf", ContentKind: acquisition.KindDocument,
	}))
}

func TestProcess(t *testing.T) {
	t.Parallel()

	raw := t.TempDir()
	store, err := local.New(local.Config{BaseDir: filepath.Join(t.TempDir(), "processed_data")})
	require.NoError(t, err)

	page := writeArtifact(t, raw, "pages/1_a.html", []byte(`<html lang="fr"><body><p>Bonjour</p></body></html>`))
	doc := writeArtifact(t, raw, "documents/2_r.pdf", minimalPDF("Report"))
	broken := writeArtifact(t, raw, "documents/3_bad.pdf", []byte("garbage"))

	rec := &collector{}
	p := New(Config{Concurrency: 2}, store, rec, nil)
	require.NoError(t, p.Process(context.Background(), []acquisition.Handoff{
		{ID: 1, RawArtifactPath: page, ContentKind: acquisition.KindPage},
		{ID: 2, RawArtifactPath: doc, ContentKind: acquisition.KindDocument},
		{ID: 3, RawArtifactPath: broken, ContentKind: acquisition.KindDocument},
		{ID: 4, RawArtifactPath: filepath.Join(raw, "pages/4_missing.html"), ContentKind: acquisition.KindPage},
		{ID: 5, RawArtifactPath: page, ContentKind: acquisition.KindUnknown},
	}))
	got := rec.byID()
	require.Len(t, got, 5)

	require.Equal(t, acquisition.OutcomeSuccess, got[1].Outcome)
	assert.Equal(t, "fr", got[1].Detail.Language)
	assert.Equal(t, page, got[1].Detail.SourcePath)
	assert.Equal(t, filepath.Join(store.BaseDir(), "pages", "1_a.html.txt"), got[1].Detail.ProcessedPath)
	text, err := os.ReadFile(got[1].Detail.ProcessedPath)
	require.NoError(t, err)
	assert.Equal(t, "Bonjour", string(text))

	require.Equal(t, acquisition.OutcomeSuccess, got[2].Outcome)
	assert.Equal(t, 1, got[2].Detail.PageCount)

	assert.Equal(t, acquisition.ReasonExtract, got[3].Detail.Reason)
	assert.Equal(t, broken, got[3].Detail.SourcePath)
	assert.Equal(t, acquisition.ReasonStorage, got[4].Detail.Reason)
	assert.Equal(t, acquisition.ReasonUnsupported, got[5].Detail.Reason)

	for _, evt := range got {
		assert.Equal(t, acquisition.PhaseProcess, evt.Phase)
	}
}
