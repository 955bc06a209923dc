package chatkeep

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/chatkeep/config"
	"github.com/poiesic/chatkeep/core"
	"github.com/poiesic/chatkeep/ingest"
	"github.com/poiesic/chatkeep/retry"
	"github.com/poiesic/chatkeep/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func badgerConfig(dir string) *config.Config {
	cfg := config.Default()
	cfg.DataDir = dir
	return cfg
}

func TestNewDatabase(t *testing.T) {
	ctx := context.Background()

	t.Run("create new database", func(t *testing.T) {
		db, err := NewDatabase(ctx, badgerConfig(filepath.Join(t.TempDir(), "test_db")))
		require.NoError(t, err)
		require.NotNil(t, db)
		defer db.Close()

		// Verify components are initialized
		assert.NotNil(t, db.ChatRepository())
		assert.NotNil(t, db.Store())
		assert.NotNil(t, db.logger)
		assert.NoError(t, db.Ping(ctx))
	})

	t.Run("in memory", func(t *testing.T) {
		cfg := config.Default()
		cfg.DataDir = ""
		cfg.InMemory = true
		db, err := NewDatabase(ctx, cfg)
		require.NoError(t, err)
		defer db.Close()
		assert.NoError(t, db.Ping(ctx))
	})

	t.Run("error with invalid path", func(t *testing.T) {
		// Try to create a database at a file path instead of directory
		tmpFile := filepath.Join(t.TempDir(), "not_a_dir")
		require.NoError(t, os.WriteFile(tmpFile, []byte("test"), 0644))

		db, err := NewDatabase(ctx, badgerConfig(tmpFile))
		assert.Error(t, err)
		assert.True(t, storage.IsStorageError(err))
		assert.Nil(t, db)
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := config.Default()
		cfg.Backend = config.BackendRedis

		db, err := NewDatabase(ctx, cfg)
		assert.ErrorIs(t, err, config.ErrInvalidConfig)
		assert.Nil(t, db)
	})
}

func TestDatabase_Close(t *testing.T) {
	ctx := context.Background()
	db, err := NewDatabase(ctx, badgerConfig(t.TempDir()))
	require.NoError(t, err)

	require.NoError(t, db.Close())
	assert.ErrorIs(t, db.Ping(ctx), storage.ErrStorageClosed)
}

func TestDatabase_Reopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	db, err := NewDatabase(ctx, badgerConfig(dir))
	require.NoError(t, err)
	require.NoError(t, db.ChatRepository().CreateRoom(ctx, &core.Room{ID: 3, Name: "kept", Created: 5}))
	require.NoError(t, db.Close())

	db, err = NewDatabase(ctx, badgerConfig(dir))
	require.NoError(t, err)
	defer db.Close()

	room, err := db.ChatRepository().GetRoom(ctx, 3)
	require.NoError(t, err)
	require.NotNil(t, room)
	assert.Equal(t, "kept", room.Name)
	assert.Equal(t, &core.RoomMeta{Created: 5, LastMessageTimestamp: 5}, room.Meta)
}

func TestDatabase_FactoryMethods(t *testing.T) {
	ctx := context.Background()
	db, err := NewDatabase(ctx, badgerConfig(t.TempDir()))
	require.NoError(t, err)
	defer db.Close()

	t.Run("can create importer", func(t *testing.T) {
		importer, err := db.NewImporter(ingest.WithPoolSize(2))
		require.NoError(t, err)
		require.NotNil(t, importer)
		defer importer.Release()

		require.NoError(t, db.ChatRepository().CreateRoom(ctx, &core.Room{ID: 1, Name: "r"}))
		result, err := importer.Import(ctx, []core.MessageBatch{
			{ChatRoomID: 1, Messages: []core.Message{{Index: 1, Timestamp: 10}, {Index: 2, Timestamp: 20}}},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, result.Messages)

		n, err := db.ChatRepository().CountLongPauses(ctx, 1, 0, 100)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("importer options are validated", func(t *testing.T) {
		_, err := db.NewImporter(ingest.WithRetry(0, 0))
		assert.ErrorIs(t, err, retry.ErrInvalidMaxAttempts)
	})
}
