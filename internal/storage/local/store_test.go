// Package local_test tests the local filesystem store.
package local_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-mirror/internal/crawler"
	"github.com/JakeFAU/catalog-mirror/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		tempDir := t.TempDir()
		store, err := local.New(local.Config{BaseDir: tempDir})
		require.NoError(t, err)
		assert.Equal(t, tempDir, store.Root())
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "out")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		tempFile, err := os.CreateTemp(t.TempDir(), "testfile")
		require.NoError(t, err)
		require.NoError(t, tempFile.Close())

		_, err = local.New(local.Config{BaseDir: tempFile.Name()})
		assert.Error(t, err)
	})

	t.Run("BaseDirNotWritable", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("root ignores directory permissions")
		}
		tempDir := t.TempDir()
		// #nosec G302 -- directory permissions adjusted intentionally for test coverage.
		require.NoError(t, os.Chmod(tempDir, 0o500))

		_, err := local.New(local.Config{BaseDir: tempDir})
		assert.Error(t, err)

		// #nosec G302 -- reverting permissions to allow cleanup in the test environment.
		require.NoError(t, os.Chmod(tempDir, 0o700))
	})
}

func TestWriteAndRead(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)
	ctx := context.Background()

	full, err := store.Write(ctx, filepath.Join("catalogue", "a-light_1000", "index.html"), []byte("v1"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tempDir, "catalogue", "a-light_1000", "index.html"), full)

	// Overwrites replace the content silently.
	_, err = store.Write(ctx, filepath.Join("catalogue", "a-light_1000", "index.html"), []byte("v2"))
	require.NoError(t, err)

	got, err := store.Read(ctx, filepath.Join("catalogue", "a-light_1000", "index.html"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	entries, err := os.ReadDir(filepath.Join(tempDir, "catalogue", "a-light_1000"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestWriteRejectsEscapes(t *testing.T) {
	t.Parallel()

	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	for _, path := range []string{"../outside.html", "a/../../outside.html", "/etc/passwd", ""} {
		_, err := store.Write(context.Background(), path, []byte("x"))
		require.Error(t, err, path)
		if path != "" {
			assert.ErrorIs(t, err, crawler.ErrPathEscapesRoot, path)
		}
	}
}

func TestWriteHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = store.Write(ctx, "index.html", []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConcurrentWrites(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, werr := store.Write(context.Background(), filepath.Join("media", fmt.Sprintf("%d.jpg", i%4)), []byte{byte(i)})
			assert.NoError(t, werr)
		}()
	}
	wg.Wait()

	entries, err := os.ReadDir(filepath.Join(tempDir, "media"))
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}

func TestPutObject(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)

	t.Run("ValidPut", func(t *testing.T) {
		path := "test/object.txt"
		data := []byte("hello world")
		uri, err := store.PutObject(context.Background(), path, "text/plain", bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(tempDir, path), uri)

		// #nosec G304 -- test reads from the controlled temp directory.
		readData, err := os.ReadFile(filepath.Join(tempDir, path))
		require.NoError(t, err)
		assert.Equal(t, data, readData)
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "", "text/plain", bytes.NewReader([]byte("data")))
		assert.Error(t, err)
	})
}

func TestOpenIsPageStoreFactory(t *testing.T) {
	t.Parallel()

	var factory crawler.PageStoreFactory = local.Open
	store, err := factory(t.TempDir())
	require.NoError(t, err)
	require.NotEmpty(t, store.Root())
}
