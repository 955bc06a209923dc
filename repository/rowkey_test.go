package repository

import (
	"math"
	"sort"
	"testing"

	"github.com/poiesic/chatkeep/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRowKey(t *testing.T) {
	assert.Equal(t, "0000000001_0000000000010", MessageRowKey(1, 10))
	assert.Equal(t, "2147483647_1578283920001", MessageRowKey(math.MaxInt32, 1578283920001))
	assert.Equal(t, "0000000000_0000000000000", MessageRowKey(0, 0))
}

func TestRoomRowKey(t *testing.T) {
	assert.Equal(t, "1", RoomRowKey(1))
	assert.Equal(t, "2147483647", RoomRowKey(math.MaxInt32))
}

func TestMessageRowKey_OrderMatchesNumericOrder(t *testing.T) {
	type pair struct {
		room core.RoomID
		ts   int64
	}
	pairs := []pair{
		{2, 5}, {1, 100}, {10, 0}, {1, 9}, {2, 1578283920000}, {1, 10}, {9, 99999},
	}
	keys := make([]string, len(pairs))
	for i, p := range pairs {
		keys[i] = MessageRowKey(p.room, p.ts)
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].room != pairs[j].room {
			return pairs[i].room < pairs[j].room
		}
		return pairs[i].ts < pairs[j].ts
	})
	sort.Strings(keys)

	for i, p := range pairs {
		assert.Equal(t, MessageRowKey(p.room, p.ts), keys[i])
	}
}

func TestMessageRowKey_NegativeStartSortsBeforeRoom(t *testing.T) {
	assert.Less(t, MessageRowKey(3, -5), MessageRowKey(3, 0))
	assert.Greater(t, MessageRowKey(3, -5), MessageRowKey(2, 9999999999999))
}

func TestParseMessageRowKey(t *testing.T) {
	room, ts, err := ParseMessageRowKey(MessageRowKey(42, 1578283920012))
	require.NoError(t, err)
	assert.Equal(t, core.RoomID(42), room)
	assert.Equal(t, int64(1578283920012), ts)

	for _, bad := range []string{"", "42", "x_1", "1_y", "1_"} {
		_, _, err := ParseMessageRowKey(bad)
		assert.ErrorIs(t, err, ErrInvalidRowKey, bad)
	}
}
