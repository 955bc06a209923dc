package core

import "fmt"

// RoomID identifies a chat room. Room IDs are caller assigned and immutable.
type RoomID int64

// String returns the decimal form of the ID.
func (id RoomID) String() string {
	return fmt.Sprintf("%d", int64(id))
}

// Room holds the descriptive fields of a chat room.
// Meta is not persisted with the room itself; it is attached at read time.
type Room struct {
	ID           RoomID    `json:"id"`
	Name         string    `json:"name"`
	Created      int64     `json:"created"` // Unix millis
	Participants []string  `json:"participants"`
	Meta         *RoomMeta `json:"meta,omitempty"`
}

// RoomMeta is the aggregate maintained by message ingestion.
// MessageCount and LastMessageTimestamp only ever move forward.
type RoomMeta struct {
	MessageCount         int64 `json:"messageCount"`
	Created              int64 `json:"created"`
	LastMessageTimestamp int64 `json:"lastMessageTimestamp"`
}

// Message is a single chat message. Within a room, two messages with the same
// Timestamp are the same stored record.
type Message struct {
	Index     int64  `json:"index"`
	Timestamp int64  `json:"timestamp"` // Unix millis
	Author    string `json:"author"`
	Text      string `json:"message"`
}

// String formats the message as "index, [timestamp] author: text".
func (m Message) String() string {
	return fmt.Sprintf("%d, [%d] %s: %s", m.Index, m.Timestamp, m.Author, m.Text)
}

// MessageBatch is an ordered group of messages destined for one room.
type MessageBatch struct {
	ChatRoomID RoomID    `json:"chatRoomId"`
	Messages   []Message `json:"messages"`
}

// Last returns the final message of the batch and false if the batch is empty.
func (b MessageBatch) Last() (Message, bool) {
	if len(b.Messages) == 0 {
		return Message{}, false
	}
	return b.Messages[len(b.Messages)-1], true
}

// NewRoomMeta returns the zero-valued aggregate for a freshly created room.
func NewRoomMeta(created int64) *RoomMeta {
	return &RoomMeta{
		MessageCount:         0,
		Created:              created,
		LastMessageTimestamp: created,
	}
}

// AveragePause returns the lifetime average gap between messages in millis,
// truncated toward zero. A room without counted messages has a zero average.
func (m *RoomMeta) AveragePause() int64 {
	if m.MessageCount <= 0 {
		return 0
	}
	return (m.LastMessageTimestamp - m.Created) / m.MessageCount
}
