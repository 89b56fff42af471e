// Package local_test tests the local filesystem blob store.
package local_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/thesis-harvester/internal/crawler"
	"github.com/JakeFAU/thesis-harvester/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		tempDir := t.TempDir()
		cfg := local.Config{BaseDir: tempDir}
		store, err := local.New(cfg)
		require.NoError(t, err)
		assert.NotNil(t, store)
	})
	t.Run("MissingBaseDir", func(t *testing.T) {
		cfg := local.Config{}
		_, err := local.New(cfg)
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		tempFile, err := os.CreateTemp("", "testfile")
		require.NoError(t, err)
		t.Cleanup(func() {
			removeErr := os.Remove(tempFile.Name())
			if removeErr != nil && !os.IsNotExist(removeErr) {
				t.Fatalf("failed to remove temp file: %v", removeErr)
			}
		})

		cfg := local.Config{BaseDir: tempFile.Name()}
		_, err = local.New(cfg)
		assert.Error(t, err)
	})

	t.Run("BaseDirNotWritable", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("permission bits are not enforced for root")
		}
		tempDir := t.TempDir()
		// Change permissions to read-only
		// #nosec G302 -- directory permissions adjusted intentionally for test coverage.
		err := os.Chmod(tempDir, 0o500)
		require.NoError(t, err)

		cfg := local.Config{BaseDir: tempDir}
		_, err = local.New(cfg)
		assert.Error(t, err)

		// Change back to writable so cleanup can happen
		// #nosec G302 -- reverting permissions to allow cleanup in the test environment.
		err = os.Chmod(tempDir, 0o700)
		require.NoError(t, err)
	})
}

func TestWriteAtomicFromReader(t *testing.T) {
	tempDir := t.TempDir()
	cfg := local.Config{BaseDir: tempDir}
	store, err := local.New(cfg)
	require.NoError(t, err)

	t.Run("ValidPut", func(t *testing.T) {
		path := "test/object.txt"
		data := []byte("hello world")
		fullPath, err := store.WriteAtomic(context.Background(), path, copyFrom(data))
		require.NoError(t, err)

		assert.Equal(t, filepath.Join(tempDir, path), fullPath)

		// Verify the file was written correctly.
		// #nosec G304 -- test reads from the controlled temp directory.
		readData, err := os.ReadFile(filepath.Join(tempDir, path))
		require.NoError(t, err)
		assert.Equal(t, data, readData)
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.WriteAtomic(context.Background(), "", copyFrom([]byte("data")))
		assert.Error(t, err)
	})

	t.Run("NestedPath", func(t *testing.T) {
		path := "a/b/c/object.txt"
		data := []byte("nested hello")
		fullPath, err := store.WriteAtomic(context.Background(), path, copyFrom(data))
		require.NoError(t, err)

		assert.Equal(t, filepath.Join(tempDir, path), fullPath)

		// Verify the file was written correctly.
		// #nosec G304 -- test reads from the controlled temp directory.
		readData, err := os.ReadFile(filepath.Join(tempDir, path))
		require.NoError(t, err)
		assert.Equal(t, data, readData)
	})

	t.Run("PathTraversal", func(t *testing.T) {
		_, err := store.WriteAtomic(context.Background(), "../escape.txt", copyFrom([]byte("x")))
		assert.Error(t, err)
	})
}

func copyFrom(data []byte) func(io.Writer) error {
	return func(w io.Writer) error {
		_, err := io.Copy(w, bytes.NewReader(data))
		return err
	}
}

func TestWriteAtomic(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("InterruptedWriteLeavesNoCanonicalFile", func(t *testing.T) {
		boom := errors.New("connection reset")
		_, err := store.WriteAtomic(ctx, "docs/1.thesis.pdf", func(w io.Writer) error {
			_, writeErr := w.Write([]byte("%PDF-1.4 partial"))
			require.NoError(t, writeErr)
			return boom
		})
		require.ErrorIs(t, err, boom)

		_, statErr := os.Stat(filepath.Join(tempDir, "docs/1.thesis.pdf"))
		assert.True(t, os.IsNotExist(statErr), "canonical path must not exist after a failed write")
		_, statErr = os.Stat(filepath.Join(tempDir, "docs/1.thesis.pdf"+local.TempSuffix))
		assert.True(t, os.IsNotExist(statErr), "temporary file is removed after a failed write")

		exists, err := store.Exists("docs/1.thesis.pdf")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("StaleTempIsReplaced", func(t *testing.T) {
		target := filepath.Join(tempDir, "docs/2.thesis.pdf")
		require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o750))
		require.NoError(t, os.WriteFile(target+local.TempSuffix, []byte("stale"), 0o600))

		fullPath, err := store.WriteAtomic(ctx, "docs/2.thesis.pdf", func(w io.Writer) error {
			_, writeErr := w.Write([]byte("complete"))
			return writeErr
		})
		require.NoError(t, err)
		assert.Equal(t, target, fullPath)

		// #nosec G304 -- test reads from the controlled temp directory.
		data, err := os.ReadFile(target)
		require.NoError(t, err)
		assert.Equal(t, "complete", string(data))
		_, statErr := os.Stat(target + local.TempSuffix)
		assert.True(t, os.IsNotExist(statErr))

		exists, err := store.Exists("docs/2.thesis.pdf")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("CanceledContext", func(t *testing.T) {
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := store.WriteAtomic(canceled, "docs/3.pdf", func(io.Writer) error { return nil })
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("FilesystemFailureIsTyped", func(t *testing.T) {
		blocker := filepath.Join(tempDir, "blocker")
		require.NoError(t, os.WriteFile(blocker, []byte("file, not dir"), 0o600))

		err := local.WriteBytesAtomic(filepath.Join(blocker, "child.pdf"), []byte("x"))
		var fsErr *crawler.FilesystemError
		require.ErrorAs(t, err, &fsErr)
		assert.Equal(t, "mkdir", fsErr.Op)
	})
}
