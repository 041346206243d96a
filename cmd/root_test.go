package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/url-acquirer/internal/acquisition"
	"github.com/JakeFAU/url-acquirer/internal/app"
	"github.com/JakeFAU/url-acquirer/internal/config"
	"github.com/JakeFAU/url-acquirer/internal/input"
	"github.com/JakeFAU/url-acquirer/internal/registry"
)

func useTestApp(t *testing.T) {
	t.Helper()
	orig := newApp
	newApp = func(ctx context.Context, cfg config.Config, opts app.Options) (*app.App, error) {
		opts.Logger = zap.NewNop()
		opts.Registerer = prometheus.NewRegistry()
		opts.ProgressOut = io.Discard
		return app.New(ctx, cfg, opts)
	}
	t.Cleanup(func() { newApp = orig })
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf(`
fetcher:
  raw_dir: %[1]s/raw_downloads
processor:
  output_dir: %[1]s/processed_data
registry:
  path: %[1]s/results_registry.csv
events:
  driver: sqlite
  sqlite_path: %[1]s/events.db
logging:
  file: ""
progress:
  bar: false
`, dir)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root, closeApp := newRootCmd()
	defer closeApp()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunMissingInputFailsBeforeServices(t *testing.T) {
	orig := newApp
	newApp = func(context.Context, config.Config, app.Options) (*app.App, error) {
		t.Fatal("services must not be built for a missing input file")
		return nil, nil
	}
	t.Cleanup(func() { newApp = orig })

	_, err := execute(t, "run", filepath.Join(t.TempDir(), "missing.txt"))
	require.ErrorIs(t, err, input.ErrNotFound)

	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("\n  \n"), 0o600))
	_, err = execute(t, "run", empty)
	require.ErrorIs(t, err, input.ErrEmptyInput)

	_, err = execute(t, "run")
	require.Error(t, err)
}

func TestRunAndReconcile(t *testing.T) {
	useTestApp(t)
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	inputPath := filepath.Join(dir, "urls.txt")
	require.NoError(t, os.WriteFile(inputPath, []byte("not a url\n\nalso not a url\n"), 0o600))

	out, err := execute(t, "--config", cfgPath, "run", inputPath)
	require.NoError(t, err)
	var summary registry.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.ByState[acquisition.StateRejected])

	out, err = execute(t, "--config", cfgPath, "reconcile", "normalize")
	require.NoError(t, err)
	var stats registry.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, acquisition.PhaseNormalize, stats.Phase)
	assert.Equal(t, 2, stats.Events)
	assert.Equal(t, 2, stats.Ineligible)

	items, err := registry.Load(filepath.Join(dir, "results_registry.csv"))
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, acquisition.StateRejected, items[0].State)
}

func TestReconcileRejectsUnknownPhase(t *testing.T) {
	useTestApp(t)
	cfgPath := writeConfig(t, t.TempDir())

	_, err := execute(t, "--config", cfgPath, "reconcile", "polish")
	require.Error(t, err)
}

func TestExportRequiresDSN(t *testing.T) {
	useTestApp(t)
	cfgPath := writeConfig(t, t.TempDir())

	_, err := execute(t, "--config", cfgPath, "export")
	require.ErrorContains(t, err, "export.dsn")
}

func TestRunReplacesUnreadableRegistry(t *testing.T) {
	useTestApp(t)
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	registryPath := filepath.Join(dir, "results_registry.csv")
	require.NoError(t, os.WriteFile(registryPath, []byte("id,url,status\n1,https://a.example,done\n"), 0o600))
	inputPath := filepath.Join(dir, "urls.txt")
	require.NoError(t, os.WriteFile(inputPath, []byte("not a url\n"), 0o600))

	_, err := execute(t, "--config", cfgPath, "reconcile", "normalize")
	require.ErrorContains(t, err, "open registry")

	_, err = execute(t, "--config", cfgPath, "run", inputPath)
	require.NoError(t, err)
	items, err := registry.Load(registryPath)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, acquisition.StateRejected, items[0].State)
	assert.Equal(t, "not a url", items[0].SourceURL)
}
