package storage

import (
	"context"
	"iter"

	"github.com/poiesic/chatkeep/core"
)

// Cells maps column qualifiers to raw values within one column family.
type Cells map[string][]byte

// Row is the result of a read: a row key plus the requested families.
// A Row with no families represents an absent key.
type Row struct {
	Key      string
	Families map[string]Cells
}

// IsEmpty reports whether the row holds no columns at all.
func (r Row) IsEmpty() bool {
	for _, cells := range r.Families {
		if len(cells) > 0 {
			return false
		}
	}
	return true
}

// Value returns the value stored at family:column, or nil if absent.
func (r Row) Value(family, column string) []byte {
	if r.Families == nil {
		return nil
	}
	return r.Families[family][column]
}

// Mutation is a write of column values to a single row.
// All families in one Mutation are applied atomically.
type Mutation struct {
	Key     string
	Columns map[string]Cells // family -> column -> value
}

// NewMutation creates an empty Mutation for key.
func NewMutation(key string) *Mutation {
	return &Mutation{Key: key, Columns: make(map[string]Cells)}
}

// Set adds family:column=value to the mutation and returns it for chaining.
func (m *Mutation) Set(family, column string, value []byte) *Mutation {
	cells, ok := m.Columns[family]
	if !ok {
		cells = make(Cells)
		m.Columns[family] = cells
	}
	cells[column] = value
	return m
}

// CompareOp is the comparison applied by ConditionalUpdate.
// The proposed value is the left operand: Greater means "write if new > stored".
type CompareOp int

const (
	Less CompareOp = iota + 1
	LessOrEqual
	Equal
	NotEqual
	GreaterOrEqual
	Greater
)

// Holds reports whether cmp, the result of bytes.Compare(new, stored),
// satisfies the operator.
func (op CompareOp) Holds(cmp int) bool {
	switch op {
	case Less:
		return cmp < 0
	case LessOrEqual:
		return cmp <= 0
	case Equal:
		return cmp == 0
	case NotEqual:
		return cmp != 0
	case GreaterOrEqual:
		return cmp >= 0
	case Greater:
		return cmp > 0
	}
	return false
}

// String returns the operator symbol.
func (op CompareOp) String() string {
	switch op {
	case Less:
		return "<"
	case LessOrEqual:
		return "<="
	case Equal:
		return "=="
	case NotEqual:
		return "!="
	case GreaterOrEqual:
		return ">="
	case Greater:
		return ">"
	}
	return "?"
}

// KeyValueStore is an ordered, table/column-family oriented key-value store.
// It knows nothing about rooms or messages.
// Implementations must be thread-safe and support concurrent access.
type KeyValueStore interface {
	// EnsureTable creates the table with the given column families if it
	// does not exist. Families missing from an existing table are added.
	EnsureTable(ctx context.Context, table string, families ...string) error

	// DeleteTable removes the table schema and all of its rows.
	DeleteTable(ctx context.Context, table string) error

	// Put writes a single row atomically.
	Put(ctx context.Context, table string, mutation *Mutation) error

	// PutBatch writes many rows. Each row is atomic; the batch is not.
	PutBatch(ctx context.Context, table string, mutations []*Mutation) error

	// Get reads the requested families of a row (all families if none given).
	// Returns an empty Row, not an error, if the key does not exist.
	Get(ctx context.Context, table, key string, families ...string) (Row, error)

	// ScanRange returns the rows of one family whose keys fall in [start, end),
	// in byte-lexicographic key order. The sequence is lazy and restartable:
	// every range over it runs the scan again.
	ScanRange(ctx context.Context, table, family, start, end string) iter.Seq2[Row, error]

	// ConditionalUpdate atomically sets family:column to value if
	// "value op stored" holds under byte-lexicographic comparison.
	// A missing column never satisfies the comparison.
	// Returns true if the value was written.
	ConditionalUpdate(ctx context.Context, table, key, family, column string, op CompareOp, value []byte) (bool, error)

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}

// ChatRepository provides the chat room and message operations.
type ChatRepository interface {
	// CreateRoom stores a room and initializes its meta.
	// Existing rooms with the same ID are overwritten.
	CreateRoom(ctx context.Context, room *core.Room) error

	// GetRoom retrieves a room with its meta attached.
	// Returns nil, nil if the room doesn't exist.
	GetRoom(ctx context.Context, id core.RoomID) (*core.Room, error)

	// GetRoomMeta retrieves the aggregate meta of a room.
	// Returns nil, nil if the room doesn't exist.
	GetRoomMeta(ctx context.Context, id core.RoomID) (*core.RoomMeta, error)

	// AddMessages stores an ordered, non-empty batch of messages and advances
	// the room meta from the last message of the batch.
	AddMessages(ctx context.Context, roomID core.RoomID, messages []core.Message) error

	// GetMessages retrieves messages with start <= Timestamp < end,
	// ordered by timestamp.
	GetMessages(ctx context.Context, roomID core.RoomID, start, end int64) ([]core.Message, error)

	// CountLongPauses counts the gaps between consecutive messages in
	// [start, end) that exceed the room's lifetime average gap.
	// Returns -1 if the window holds no messages and ErrRoomMetaNotFound
	// if the room was never created.
	CountLongPauses(ctx context.Context, roomID core.RoomID, start, end int64) (int, error)
}
