package badger

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/chatkeep/storage"
	"github.com/poiesic/chatkeep/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenBackend_InMemory(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestOpenBackend_FileSystem(t *testing.T) {
	tmpDir := filepath.Join(t.TempDir(), "data")
	backend, err := OpenBackend(tmpDir, false)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	info, err := os.Stat(tmpDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestOpenBackend_NotADirectory(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(tmpFile, []byte("x"), 0644))

	backend, err := OpenBackend(tmpFile, false)
	assert.Error(t, err)
	assert.Nil(t, backend)
	assert.True(t, storage.IsStorageError(err))
}

func TestBackendClose(t *testing.T) {
	backend, err := NewMemoryBackend()
	require.NoError(t, err)

	assert.False(t, backend.IsClosed())
	require.NoError(t, backend.Ping(context.Background()))

	require.NoError(t, backend.Close())
	assert.True(t, backend.IsClosed())

	err = backend.Ping(context.Background())
	assert.ErrorIs(t, err, storage.ErrStorageClosed)

	_, err = backend.Get(context.Background(), "room", "1")
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}

func TestBackendConformance(t *testing.T) {
	storagetest.RunKeyValueStoreTests(t, func(t *testing.T) storage.KeyValueStore {
		backend, err := NewMemoryBackend()
		require.NoError(t, err)
		return backend
	})
}

func TestBackend_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	backend, err := OpenBackend(dir, false)
	require.NoError(t, err)
	require.NoError(t, backend.EnsureTable(ctx, "room", "info"))
	require.NoError(t, backend.Put(ctx, "room", storage.NewMutation("7").Set("info", "name", []byte("kept"))))
	require.NoError(t, backend.Close())

	backend, err = OpenBackend(dir, false)
	require.NoError(t, err)
	defer backend.Close()

	row, err := backend.Get(ctx, "room", "7")
	require.NoError(t, err)
	assert.Equal(t, []byte("kept"), row.Value("info", "name"))
}

func TestBackend_PutBatchSplitsOversizedTransactions(t *testing.T) {
	backend, err := NewMemoryBackend()
	require.NoError(t, err)
	defer backend.Close()
	ctx := context.Background()
	require.NoError(t, backend.EnsureTable(ctx, "msg", "message"))

	// Large enough to exceed a single transaction's size limit.
	const rows = 400
	value := bytes.Repeat([]byte("x"), 64<<10)
	batch := make([]*storage.Mutation, 0, rows)
	for i := range rows {
		batch = append(batch, storage.NewMutation(fmt.Sprintf("%05d", i)).
			Set("message", "a", value).
			Set("message", "b", []byte{byte(i)}))
	}
	require.NoError(t, backend.PutBatch(ctx, "msg", batch))

	count := 0
	for row, err := range backend.ScanRange(ctx, "msg", "message", "", "\xff") {
		require.NoError(t, err)
		// Every row arrives whole.
		require.Len(t, row.Families["message"], 2, row.Key)
		count++
	}
	assert.Equal(t, rows, count)
}

func TestBackend_InvalidNames(t *testing.T) {
	backend, err := NewMemoryBackend()
	require.NoError(t, err)
	defer backend.Close()
	ctx := context.Background()

	assert.ErrorIs(t, backend.EnsureTable(ctx, ""), storage.ErrInvalidKey)
	assert.ErrorIs(t, backend.EnsureTable(ctx, "room", "in\x00fo"), storage.ErrInvalidKey)

	require.NoError(t, backend.EnsureTable(ctx, "room", "info"))
	err = backend.Put(ctx, "room", storage.NewMutation("a\x00b").Set("info", "c", []byte("v")))
	assert.ErrorIs(t, err, storage.ErrInvalidKey)

	_, err = backend.ConditionalUpdate(ctx, "room", "1", "info", "", storage.Greater, []byte("v"))
	assert.ErrorIs(t, err, storage.ErrInvalidKey)
}

func TestBackend_ScanRangeCanceledContext(t *testing.T) {
	backend, err := NewMemoryBackend()
	require.NoError(t, err)
	defer backend.Close()
	require.NoError(t, backend.EnsureTable(context.Background(), "msg", "message"))
	require.NoError(t, backend.Put(context.Background(), "msg", storage.NewMutation("a").Set("message", "c", []byte("v"))))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var scanErr error
	for _, err := range backend.ScanRange(ctx, "msg", "message", "", "\xff") {
		scanErr = err
	}
	assert.ErrorIs(t, scanErr, context.Canceled)
}
