package repository

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/poiesic/chatkeep/core"
)

// ErrInvalidRowKey is returned when a message row key cannot be parsed.
var ErrInvalidRowKey = errors.New("invalid message row key")

// MessageRowKey returns the key of a message row: the room ID padded to 10
// digits and the timestamp padded to 13, joined by '_'. Byte order of these
// keys equals numeric order of (room, timestamp) as long as both values fit
// their widths; wider values still work as keys but sort out of place.
func MessageRowKey(roomID core.RoomID, timestamp int64) string {
	return fmt.Sprintf("%010d_%013d", int64(roomID), timestamp)
}

// RoomRowKey returns the key of a room row, the unpadded decimal ID.
// Room rows are only ever read by exact key.
func RoomRowKey(id core.RoomID) string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseMessageRowKey splits a message row key into room ID and timestamp.
func ParseMessageRowKey(key string) (core.RoomID, int64, error) {
	room, ts, ok := strings.Cut(key, "_")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidRowKey, key)
	}
	roomID, err := strconv.ParseInt(room, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q: %w", ErrInvalidRowKey, key, err)
	}
	timestamp, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q: %w", ErrInvalidRowKey, key, err)
	}
	return core.RoomID(roomID), timestamp, nil
}
