package repository

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/chatkeep/core"
	"github.com/poiesic/chatkeep/storage"
	"github.com/poiesic/chatkeep/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTables = []Option{WithRoomTable("test_room"), WithMessageTable("test_message")}

func newTestRepository(t *testing.T) (*ChatRepository, *badger.Backend) {
	t.Helper()
	backend, err := badger.NewMemoryBackend()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	require.NoError(t, EnsureSchema(context.Background(), backend, testTables...))
	return NewChatRepository(backend, testTables...), backend
}

func testRoom() *core.Room {
	return &core.Room{
		ID:           1,
		Name:         "testRoom",
		Created:      0,
		Participants: []string{"a@a.com", "b@b.com"},
	}
}

func msg(index, ts int64) core.Message {
	return core.Message{Index: index, Timestamp: ts, Author: "a@a.com", Text: "message"}
}

func TestCreateRoom_RoundTrip(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	room := testRoom()
	require.NoError(t, repo.CreateRoom(ctx, room))

	got, err := repo.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	want := *room
	want.Meta = &core.RoomMeta{MessageCount: 0, Created: 0, LastMessageTimestamp: 0}
	assert.Equal(t, &want, got)
}

func TestCreateRoom_NoParticipants(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateRoom(ctx, &core.Room{ID: 3, Name: "quiet", Created: 500}))

	got, err := repo.GetRoom(ctx, 3)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got.Participants)
	assert.Equal(t, &core.RoomMeta{MessageCount: 0, Created: 500, LastMessageTimestamp: 500}, got.Meta)
}

func TestCreateRoom_Invalid(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	err := repo.CreateRoom(ctx, &core.Room{ID: 1})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	assert.ErrorIs(t, err, core.ErrEmptyRoomName)

	err = repo.CreateRoom(ctx, nil)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestCreateRoom_OverwritesExisting(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateRoom(ctx, testRoom()))
	require.NoError(t, repo.AddMessages(ctx, 1, []core.Message{msg(1, 10), msg(2, 20)}))

	renamed := testRoom()
	renamed.Name = "renamed"
	renamed.Created = 5
	require.NoError(t, repo.CreateRoom(ctx, renamed))

	got, err := repo.GetRoom(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, &core.RoomMeta{MessageCount: 0, Created: 5, LastMessageTimestamp: 5}, got.Meta)
}

func TestGetRoom_Missing(t *testing.T) {
	repo, _ := newTestRepository(t)

	room, err := repo.GetRoom(context.Background(), 99)
	require.NoError(t, err)
	assert.Nil(t, room)

	meta, err := repo.GetRoomMeta(context.Background(), 99)
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestAddMessages_IdempotentResend(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateRoom(ctx, testRoom()))

	batch := []core.Message{msg(1, 1), msg(2, 2)}
	require.NoError(t, repo.AddMessages(ctx, 1, batch))
	require.NoError(t, repo.AddMessages(ctx, 1, batch))

	got, err := repo.GetMessages(ctx, 1, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, batch, got)
}

func TestAddMessages_OverlappingBatches(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateRoom(ctx, testRoom()))

	m1, m2, m3 := msg(1, 1), msg(2, 2), msg(3, 3)
	require.NoError(t, repo.AddMessages(ctx, 1, []core.Message{m1, m2}))
	require.NoError(t, repo.AddMessages(ctx, 1, []core.Message{m2, m3}))

	got, err := repo.GetMessages(ctx, 1, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, []core.Message{m1, m2, m3}, got)
}

func TestAddMessages_ResendWithOverlapLongPauses(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateRoom(ctx, testRoom()))

	m1, m2, m3, m4 := msg(1, 0), msg(2, 10), msg(3, 20), msg(4, 100)
	require.NoError(t, repo.AddMessages(ctx, 1, []core.Message{m1, m2, m3, m4}))
	require.NoError(t, repo.AddMessages(ctx, 1, []core.Message{m2, m3}))

	got, err := repo.GetMessages(ctx, 1, 0, 101)
	require.NoError(t, err)
	assert.Equal(t, []core.Message{m1, m2, m3, m4}, got)

	meta, err := repo.GetRoomMeta(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, &core.RoomMeta{MessageCount: 4, Created: 0, LastMessageTimestamp: 100}, meta)

	pauses, err := repo.CountLongPauses(ctx, 1, 0, 101)
	require.NoError(t, err)
	assert.Equal(t, 1, pauses)
}

func TestAddMessages_EmptyBatch(t *testing.T) {
	repo, backend := newTestRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateRoom(ctx, testRoom()))

	err := repo.AddMessages(ctx, 1, nil)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	assert.ErrorIs(t, err, core.ErrEmptyBatch)

	err = repo.AddMessages(ctx, 1, []core.Message{})
	assert.ErrorIs(t, err, core.ErrEmptyBatch)

	count := 0
	for _, err := range backend.ScanRange(ctx, "test_message", FamilyMessage, "", "\xff") {
		require.NoError(t, err)
		count++
	}
	assert.Zero(t, count)
}

func TestAddMessages_InvalidMessage(t *testing.T) {
	repo, _ := newTestRepository(t)
	err := repo.AddMessages(context.Background(), 1, []core.Message{msg(1, -1)})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	assert.ErrorIs(t, err, core.ErrInvalidTimestamp)
}

func TestAddMessages_MetaNeverMovesBackward(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateRoom(ctx, testRoom()))

	require.NoError(t, repo.AddMessages(ctx, 1, []core.Message{msg(5, 500), msg(6, 600)}))
	require.NoError(t, repo.AddMessages(ctx, 1, []core.Message{msg(1, 100), msg(2, 200)}))

	meta, err := repo.GetRoomMeta(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(6), meta.MessageCount)
	assert.Equal(t, int64(600), meta.LastMessageTimestamp)
}

func TestAddMessages_OnlyLastMessageDrivesMeta(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateRoom(ctx, testRoom()))

	// Not ordered: the largest values sit in the middle.
	require.NoError(t, repo.AddMessages(ctx, 1, []core.Message{msg(1, 10), msg(9, 900), msg(2, 20)}))

	meta, err := repo.GetRoomMeta(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), meta.MessageCount)
	assert.Equal(t, int64(20), meta.LastMessageTimestamp)
}

func TestAddMessages_RoomNeverCreated(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.AddMessages(ctx, 7, []core.Message{msg(1, 10)}))

	got, err := repo.GetMessages(ctx, 7, 0, 100)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	meta, err := repo.GetRoomMeta(ctx, 7)
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestAddMessages_ConcurrentMetaConvergence(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateRoom(ctx, testRoom()))

	const batches = 40
	pool, err := ants.NewPool(8)
	require.NoError(t, err)
	defer pool.Release()

	// Overlapping batches of three, submitted in random order.
	order := rand.Perm(batches)
	var wg sync.WaitGroup
	errs := make(chan error, batches)
	for _, i := range order {
		base := int64(i + 1)
		batch := []core.Message{msg(base, base*10), msg(base+1, (base+1)*10), msg(base+2, (base+2)*10)}
		wg.Add(1)
		require.NoError(t, pool.Submit(func() {
			defer wg.Done()
			errs <- repo.AddMessages(ctx, 1, batch)
		}))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	meta, err := repo.GetRoomMeta(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(batches+2), meta.MessageCount)
	assert.Equal(t, int64((batches+2)*10), meta.LastMessageTimestamp)

	got, err := repo.GetMessages(ctx, 1, 0, math.MaxInt32)
	require.NoError(t, err)
	assert.Len(t, got, batches+2)
}

func TestGetMessages_OrderingAndBounds(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.AddMessages(ctx, 1, []core.Message{msg(3, 30), msg(1, 10), msg(5, 50), msg(2, 20), msg(4, 40)}))
	// Neighbouring rooms must not leak into the range.
	require.NoError(t, repo.AddMessages(ctx, 2, []core.Message{msg(1, 15)}))
	require.NoError(t, repo.AddMessages(ctx, 10, []core.Message{msg(1, 25)}))

	got, err := repo.GetMessages(ctx, 1, 20, 50)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, m := range got {
		assert.Equal(t, int64(20+10*i), m.Timestamp)
		assert.GreaterOrEqual(t, m.Timestamp, int64(20))
		assert.Less(t, m.Timestamp, int64(50))
	}

	all, err := repo.GetMessages(ctx, 1, -100, 1000)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestGetMessages_EmptyRanges(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.AddMessages(ctx, 1, []core.Message{msg(1, 10)}))

	for _, r := range [][2]int64{{10, 10}, {20, 10}, {11, 100}, {0, 10}} {
		got, err := repo.GetMessages(ctx, 1, r[0], r[1])
		require.NoError(t, err)
		assert.Empty(t, got, "range %v", r)
	}
}

func TestGetMessages_InvalidRoom(t *testing.T) {
	repo, _ := newTestRepository(t)
	_, err := repo.GetMessages(context.Background(), -1, 0, 10)
	assert.ErrorIs(t, err, core.ErrInvalidRoomID)
}

func TestCountLongPauses_LifetimeBaseline(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	const created = int64(1578283920000)
	room := &core.Room{ID: math.MaxInt32, Name: "pauses", Created: created, Participants: []string{"a@a.com"}}
	require.NoError(t, repo.CreateRoom(ctx, room))
	require.NoError(t, repo.AddMessages(ctx, room.ID, []core.Message{
		msg(1, created+1),
		msg(2, created+2),
		msg(3, created+3),
		msg(4, created+10),
		msg(5, created+12),
	}))

	n, err := repo.CountLongPauses(ctx, room.ID, created, created+11)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err := repo.Pauses(ctx, room.ID, created, created+11)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.AveragePause)
	assert.Equal(t, []int64{0, 1, 1, 7}, stats.Gaps)
}

func TestCountLongPauses_EmptyWindow(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateRoom(ctx, testRoom()))
	require.NoError(t, repo.AddMessages(ctx, 1, []core.Message{msg(1, 10)}))

	n, err := repo.CountLongPauses(ctx, 1, 100, 200)
	require.NoError(t, err)
	assert.Equal(t, -1, n)
}

func TestCountLongPauses_NoMessagesYet(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateRoom(ctx, testRoom()))

	n, err := repo.CountLongPauses(ctx, 1, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, -1, n)
}

func TestCountLongPauses_MissingRoom(t *testing.T) {
	repo, _ := newTestRepository(t)

	_, err := repo.CountLongPauses(context.Background(), 12345, 0, 100)
	assert.ErrorIs(t, err, storage.ErrRoomMetaNotFound)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRepository_StorageErrorsPropagate(t *testing.T) {
	repo, backend := newTestRepository(t)
	ctx := context.Background()
	require.NoError(t, backend.Close())

	_, err := repo.GetRoom(ctx, 1)
	assert.True(t, storage.IsStorageError(err))
	assert.ErrorIs(t, err, storage.ErrStorageClosed)

	err = repo.AddMessages(ctx, 1, []core.Message{msg(1, 1)})
	assert.True(t, storage.IsStorageError(err))

	_, err = repo.GetMessages(ctx, 1, 0, 10)
	assert.True(t, storage.IsStorageError(err))
}

func TestRepository_MissingSchema(t *testing.T) {
	backend, err := badger.NewMemoryBackend()
	require.NoError(t, err)
	defer backend.Close()

	repo := NewChatRepository(backend)
	err = repo.CreateRoom(context.Background(), testRoom())
	assert.ErrorIs(t, err, storage.ErrTableNotFound)
}

func TestDropSchema(t *testing.T) {
	repo, backend := newTestRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateRoom(ctx, testRoom()))

	require.NoError(t, DropSchema(ctx, backend, testTables...))
	_, err := repo.GetRoom(ctx, 1)
	assert.ErrorIs(t, err, storage.ErrTableNotFound)

	require.NoError(t, EnsureSchema(ctx, backend, testTables...))
	room, err := repo.GetRoom(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, room)
}
