package local_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/url-acquirer/internal/hash/sha256"
	"github.com/JakeFAU/url-acquirer/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("creates missing directory", func(t *testing.T) {
		t.Parallel()
		dir := filepath.Join(t.TempDir(), "nested", "raw")
		store, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		assert.DirExists(t, dir)
		assert.Equal(t, dir, store.BaseDir())
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries, "writability probe must be cleaned up")
	})

	t.Run("missing base dir", func(t *testing.T) {
		t.Parallel()
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("base dir is a file", func(t *testing.T) {
		t.Parallel()
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutWritesAtomically(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	store, err := local.New(local.Config{BaseDir: base})
	require.NoError(t, err)

	obj, err := store.Put(context.Background(), "pages/1_a.html", strings.NewReader("<html>one</html>"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "pages", "1_a.html"), obj.Path)
	assert.EqualValues(t, len("<html>one</html>"), obj.Size)
	assert.Equal(t, sha256.Sum([]byte("<html>one</html>")), obj.SHA256)

	obj, err = store.Put(context.Background(), "pages/1_a.html", strings.NewReader("two"))
	require.NoError(t, err)
	data, err := os.ReadFile(obj.Path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := os.ReadDir(filepath.Join(base, "pages"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not survive")
}

func TestPutRejectsTraversal(t *testing.T) {
	t.Parallel()

	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "../escape.txt", strings.NewReader("x"))
	require.ErrorIs(t, err, local.ErrPathTraversal)
	_, err = store.Put(context.Background(), " ", strings.NewReader("x"))
	require.Error(t, err)
}

func TestPutCanceledLeavesNothing(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	store, err := local.New(local.Config{BaseDir: base})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.Put(ctx, "documents/2_a.pdf", strings.NewReader("%PDF"))
	require.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(filepath.Join(base, "documents"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRemove(t *testing.T) {
	t.Parallel()

	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	obj, err := store.Put(context.Background(), "pages/3_x.html", strings.NewReader("x"))
	require.NoError(t, err)
	require.NoError(t, store.Remove(obj.Path))
	assert.NoFileExists(t, obj.Path)

	_, err = store.Put(context.Background(), "pages/3_x.html", strings.NewReader("x"))
	require.NoError(t, err)
	require.NoError(t, store.Remove("pages/3_x.html"))
	assert.NoFileExists(t, obj.Path)

	require.NoError(t, store.Remove("pages/missing.html"))
	require.NoError(t, store.Remove(""))
	require.ErrorIs(t, store.Remove("../../etc/passwd"), local.ErrPathTraversal)
}
