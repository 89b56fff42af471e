// Package local implements a local filesystem blob store whose writes are atomic:
// data lands in a sibling temporary file that is renamed onto the canonical path
// only after it has been fully written and flushed.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/thesis-harvester/internal/crawler"
)

// TempSuffix marks in-progress writes next to their canonical path.
const TempSuffix = ".part"

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the root directory where blobs will be stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// BlobStore writes artifacts to the local filesystem.
type BlobStore struct {
	baseDir string
}

// New creates a new local filesystem-backed blob store.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	// Check if the directory exists and is writable.
	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &BlobStore{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

// BaseDir returns the root directory of the store.
func (s *BlobStore) BaseDir() string {
	return s.baseDir
}

// Resolve maps a relative path onto the store, rejecting anything that escapes BaseDir.
func (s *BlobStore) Resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	fullPath := filepath.Clean(filepath.Join(s.baseDir, path))
	if !strings.HasPrefix(fullPath, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return fullPath, nil
}

// Exists reports whether a complete object is present at path.
func (s *BlobStore) Exists(path string) (bool, error) {
	fullPath, err := s.Resolve(path)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, &crawler.FilesystemError{Op: "stat", Path: fullPath, Err: err}
	}
	return info.Mode().IsRegular(), nil
}

// WriteAtomic streams an object to path through write and returns its full path.
func (s *BlobStore) WriteAtomic(ctx context.Context, path string, write func(io.Writer) error) (string, error) {
	fullPath, err := s.Resolve(path)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := WriteFileAtomic(fullPath, write); err != nil {
		return "", err
	}
	return fullPath, nil
}

// WriteFileAtomic writes path via a sibling temporary file and a rename. The
// canonical path either does not exist or holds the complete content; a failed
// write removes the temporary file. Errors from write are returned wrapped,
// filesystem failures as *crawler.FilesystemError.
func WriteFileAtomic(path string, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
		return &crawler.FilesystemError{Op: "mkdir", Path: dir, Err: mkErr}
	}
	tmpPath := path + TempSuffix
	if rmErr := os.Remove(tmpPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		return &crawler.FilesystemError{Op: "remove stale temp", Path: tmpPath, Err: rmErr}
	}

	// #nosec G304 -- path is resolved by the caller inside a managed directory.
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return &crawler.FilesystemError{Op: "create", Path: tmpPath, Err: err}
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if err = write(f); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err = f.Sync(); err != nil {
		return &crawler.FilesystemError{Op: "sync", Path: tmpPath, Err: err}
	}
	if err = f.Close(); err != nil {
		return &crawler.FilesystemError{Op: "close", Path: tmpPath, Err: err}
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return &crawler.FilesystemError{Op: "rename", Path: path, Err: err}
	}
	return nil
}

// WriteBytesAtomic is WriteFileAtomic for an in-memory payload.
func WriteBytesAtomic(path string, data []byte) error {
	return WriteFileAtomic(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}
