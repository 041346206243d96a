// Package local persists fetched artifacts on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/url-acquirer/internal/hash/sha256"
)

// ErrPathTraversal is returned for object paths that escape the base directory.
var ErrPathTraversal = errors.New("path escapes base directory")

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the root directory artifacts are written under.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Object describes a stored artifact.
type Object struct {
	// Path is BaseDir joined with the object path.
	Path   string
	Size   int64
	SHA256 string
}

// BlobStore writes artifacts under a base directory. Writes go to a temp file
// in the destination directory that is renamed into place, so a reader never
// sees a partial artifact.
type BlobStore struct {
	baseDir string
}

// New creates a filesystem blob store, creating BaseDir when missing.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	probe, err := os.CreateTemp(cfg.BaseDir, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	probe.Close() //nolint:errcheck,gosec // probe only
	if err := os.Remove(probe.Name()); err != nil {
		return nil, fmt.Errorf("clean up probe file: %w", err)
	}

	return &BlobStore{baseDir: cfg.BaseDir}, nil
}

// BaseDir returns the configured root.
func (s *BlobStore) BaseDir() string {
	return s.baseDir
}

// Resolve joins an object path onto the base directory.
func (s *BlobStore) Resolve(objectPath string) (string, error) {
	if strings.TrimSpace(objectPath) == "" {
		return "", fmt.Errorf("path is required")
	}
	fullPath := filepath.Join(s.baseDir, objectPath)
	if !s.contains(fullPath) {
		return "", fmt.Errorf("%q: %w", objectPath, ErrPathTraversal)
	}
	return fullPath, nil
}

// Put streams r to objectPath, replacing any existing file, and returns the
// stored size and checksum.
func (s *BlobStore) Put(ctx context.Context, objectPath string, r io.Reader) (Object, error) {
	fullPath, err := s.Resolve(objectPath)
	if err != nil {
		return Object{}, err
	}
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Object{}, fmt.Errorf("create parent directories: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(fullPath)+".part-*")
	if err != nil {
		return Object{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	fail := func(err error) (Object, error) {
		tmp.Close()        //nolint:errcheck,gosec // already failing
		os.Remove(tmpName) //nolint:errcheck,gosec // best effort
		return Object{}, err
	}

	digest := sha256.NewDigest()
	if _, err := io.Copy(io.MultiWriter(tmp, digest), r); err != nil {
		return fail(fmt.Errorf("write artifact: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("write artifact: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("sync artifact: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck,gosec // best effort
		return Object{}, fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		os.Remove(tmpName) //nolint:errcheck,gosec // best effort
		return Object{}, fmt.Errorf("move artifact into place: %w", err)
	}
	return Object{Path: fullPath, Size: digest.Size(), SHA256: digest.Hex()}, nil
}

// Remove deletes a stored artifact given either its object path or the Path
// returned by Put. A missing file is not an error.
func (s *BlobStore) Remove(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	fullPath := path
	if !s.contains(filepath.Clean(path)) {
		var err error
		if fullPath, err = s.Resolve(path); err != nil {
			return err
		}
	}
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove artifact: %w", err)
	}
	return nil
}

func (s *BlobStore) contains(fullPath string) bool {
	base := filepath.Clean(s.baseDir)
	clean := filepath.Clean(fullPath)
	return strings.HasPrefix(clean, base+string(filepath.Separator))
}
