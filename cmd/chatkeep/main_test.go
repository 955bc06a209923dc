package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/poiesic/chatkeep/core"
	"github.com/poiesic/chatkeep/ingest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

// run executes the app against a badger store in dir and returns stdout.
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	app.ErrWriter = io.Discard
	app.ExitErrHandler = func(*cli.Context, error) {}

	full := append([]string{"chatkeep", "--log-level", "error", "--db", dir}, args...)
	err := app.Run(full)
	return out.String(), err
}

func TestCommandFlags(t *testing.T) {
	app := newApp()

	t.Run("every command is registered", func(t *testing.T) {
		var names []string
		for _, cmd := range app.Commands {
			names = append(names, cmd.Name)
		}
		assert.ElementsMatch(t, []string{
			"serve", "create-room", "room", "add-messages", "messages",
			"long-pauses", "pauses", "import", "seed",
		}, names)
	})

	t.Run("backend defaults to badger", func(t *testing.T) {
		var backend *cli.StringFlag
		for _, flag := range app.Flags {
			if f, ok := flag.(*cli.StringFlag); ok && f.Name == "backend" {
				backend = f
				break
			}
		}
		require.NotNil(t, backend)
		assert.Equal(t, "badger", backend.Value)
	})

	t.Run("window is required", func(t *testing.T) {
		_, err := run(t, t.TempDir(), "long-pauses", "--room", "1", "--start", "0")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "end")
	})

	t.Run("unknown backend is rejected", func(t *testing.T) {
		_, err := run(t, t.TempDir(), "--backend", "cassandra", "room", "--id", "1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown backend")
	})
}

func TestRoomWorkflow(t *testing.T) {
	dir := t.TempDir()

	out, err := run(t, dir, "create-room", "--id", "7", "--name", "general", "--created", "0",
		"-p", "a@a.com", "-p", "b@b.com")
	require.NoError(t, err)
	assert.Equal(t, "created room 7\n", out)

	batchFile := filepath.Join(t.TempDir(), "batch.json")
	require.NoError(t, os.WriteFile(batchFile, []byte(`{"chatRoomId":7,"messages":[
		{"index":1,"timestamp":0,"author":"a@a.com","message":"hi"},
		{"index":2,"timestamp":10,"author":"b@b.com","message":"hello"},
		{"index":3,"timestamp":20,"author":"a@a.com","message":"how are you"},
		{"index":4,"timestamp":100,"author":"b@b.com","message":"fine"}]}`), 0o644))

	out, err = run(t, dir, "add-messages", batchFile)
	require.NoError(t, err)
	assert.Equal(t, "added 4 messages to room 7\n", out)

	out, err = run(t, dir, "room", "--id", "7")
	require.NoError(t, err)
	var room core.Room
	require.NoError(t, json.Unmarshal([]byte(out), &room))
	assert.Equal(t, "general", room.Name)
	require.NotNil(t, room.Meta)
	assert.Equal(t, core.RoomMeta{MessageCount: 4, Created: 0, LastMessageTimestamp: 100}, *room.Meta)

	out, err = run(t, dir, "messages", "--room", "7", "--start", "0", "--end", "50")
	require.NoError(t, err)
	assert.Equal(t, "1, [0] a@a.com: hi\n2, [10] b@b.com: hello\n3, [20] a@a.com: how are you\n", out)

	out, err = run(t, dir, "long-pauses", "--room", "7", "--start", "0", "--end", "101")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)

	out, err = run(t, dir, "pauses", "--room", "7", "--start", "0", "--end", "101")
	require.NoError(t, err)
	var stats core.PauseStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, int64(25), stats.AveragePause)
	assert.Equal(t, []int64{0, 10, 10, 80}, stats.Gaps)
}

func TestRoomNotFound(t *testing.T) {
	_, err := run(t, t.TempDir(), "room", "--id", "99")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "room 99 not found")
}

func TestImportAndSeed(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(t.TempDir(), "batches.jsonl")

	out, err := run(t, dir, "seed", "--rooms", "2", "--messages", "40", "--batch-size", "10", "--out", file)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 2 rooms")

	f, err := os.Open(file)
	require.NoError(t, err)
	defer f.Close()
	var rooms []core.RoomID
	for batch, err := range ingest.ReadBatches(f) {
		require.NoError(t, err)
		if len(rooms) == 0 || rooms[len(rooms)-1] != batch.ChatRoomID {
			rooms = append(rooms, batch.ChatRoomID)
		}
	}
	assert.Equal(t, []core.RoomID{1, 2}, rooms)

	out, err = run(t, dir, "import", "--workers", "2", file)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "imported 8 batches (80 messages), 0 failed"), out)

	// messages land even though the rooms were never created
	_, err = run(t, dir, "long-pauses", "--room", "1", "--start", "0", "--end", "9223372036854775807")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "room meta")

	out, err = run(t, t.TempDir(), "seed", "--rooms", "2", "--messages", "40", "--batch-size", "10")
	require.NoError(t, err)
	assert.Equal(t, "seeded 2 rooms with 80 messages\n", out)
}

func TestImportRequiresFile(t *testing.T) {
	_, err := run(t, t.TempDir(), "import")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input file is required")
}

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		level   string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			app := &cli.App{
				Name:      "chatkeep",
				ErrWriter: io.Discard,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "log-level", Value: "info"},
				},
				Before: setupLogger,
				Action: func(*cli.Context) error { return nil },
			}
			err := app.Run([]string{"chatkeep", "--log-level", tt.level})
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid log level")
				return
			}
			require.NoError(t, err)
			assert.True(t, slog.Default().Enabled(context.Background(), tt.want))
			if tt.want > slog.LevelDebug {
				assert.False(t, slog.Default().Enabled(context.Background(), tt.want-1))
			}
		})
	}
}

func TestMain(m *testing.M) {
	orig := slog.Default()
	code := m.Run()
	slog.SetDefault(orig)
	os.Exit(code)
}
