// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package repository maps rooms and messages onto a storage.KeyValueStore.
//
// Rooms live in one table keyed by room ID with an "info" family for the
// descriptive fields and a "meta" family for the ingestion aggregate.
// Messages live in a second table keyed by MessageRowKey, so the messages of
// one room form a contiguous, time-ordered key range.
package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/chatkeep/core"
	"github.com/poiesic/chatkeep/storage"
)

const (
	DefaultRoomTable    = "room"
	DefaultMessageTable = "message"

	FamilyInfo    = "info"
	FamilyMeta    = "meta"
	FamilyMessage = "message"
)

// Column names.
const (
	colName         = "name"
	colCreated      = "created"
	colParticipants = "participants"

	colCount     = "count"
	colLastMsgTs = "lastMsgTs"

	colIndex     = "index"
	colTimestamp = "timestamp"
	colAuthor    = "author"
	colText      = "message"
)

// ChatRepository implements storage.ChatRepository on any KeyValueStore.
type ChatRepository struct {
	store        storage.KeyValueStore
	roomTable    string
	messageTable string
	logger       *slog.Logger
}

var _ storage.ChatRepository = (*ChatRepository)(nil)

// Option configures a ChatRepository.
type Option func(*ChatRepository)

// WithRoomTable overrides the room table name.
func WithRoomTable(name string) Option {
	return func(r *ChatRepository) {
		if name != "" {
			r.roomTable = name
		}
	}
}

// WithMessageTable overrides the message table name.
func WithMessageTable(name string) Option {
	return func(r *ChatRepository) {
		if name != "" {
			r.messageTable = name
		}
	}
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *ChatRepository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewChatRepository creates a repository over store. The tables must already
// exist; see EnsureSchema.
func NewChatRepository(store storage.KeyValueStore, opts ...Option) *ChatRepository {
	r := &ChatRepository{
		store:        store,
		roomTable:    DefaultRoomTable,
		messageTable: DefaultMessageTable,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EnsureSchema provisions the room and message tables. It is idempotent and
// meant to run once at startup. opts select the table names.
func EnsureSchema(ctx context.Context, store storage.KeyValueStore, opts ...Option) error {
	r := NewChatRepository(store, opts...)
	if err := store.EnsureTable(ctx, r.roomTable, FamilyInfo, FamilyMeta); err != nil {
		return err
	}
	return store.EnsureTable(ctx, r.messageTable, FamilyMessage)
}

// DropSchema deletes both tables and all their data.
func DropSchema(ctx context.Context, store storage.KeyValueStore, opts ...Option) error {
	r := NewChatRepository(store, opts...)
	if err := store.DeleteTable(ctx, r.messageTable); err != nil {
		return err
	}
	return store.DeleteTable(ctx, r.roomTable)
}

// CreateRoom writes the room and a fresh meta in one row. An existing room
// with the same ID is overwritten, meta included.
func (r *ChatRepository) CreateRoom(ctx context.Context, room *core.Room) error {
	if err := core.ValidateRoom(room); err != nil {
		return err
	}

	meta := core.NewRoomMeta(room.Created)
	m := storage.NewMutation(RoomRowKey(room.ID)).
		Set(FamilyInfo, colName, storage.MarshalString(room.Name)).
		Set(FamilyInfo, colCreated, storage.MarshalInt64(room.Created)).
		Set(FamilyInfo, colParticipants, storage.MarshalStrings(room.Participants))
	setMeta(m, meta)

	if err := r.store.Put(ctx, r.roomTable, m); err != nil {
		return err
	}
	r.logger.Info("created room", "room", room.ID, "name", room.Name, "participants", len(room.Participants))
	return nil
}

// GetRoom reads a room with its meta attached. Returns nil, nil if the room
// doesn't exist.
func (r *ChatRepository) GetRoom(ctx context.Context, id core.RoomID) (*core.Room, error) {
	row, err := r.store.Get(ctx, r.roomTable, RoomRowKey(id), FamilyInfo, FamilyMeta)
	if err != nil {
		return nil, err
	}
	if len(row.Families[FamilyInfo]) == 0 {
		return nil, nil
	}

	room, err := decodeRoom(id, row)
	if err != nil {
		return nil, err
	}
	if len(row.Families[FamilyMeta]) > 0 {
		room.Meta, err = decodeMeta(row)
		if err != nil {
			return nil, err
		}
	}
	return room, nil
}

// GetRoomMeta reads only the meta of a room. Returns nil, nil if the room
// doesn't exist.
func (r *ChatRepository) GetRoomMeta(ctx context.Context, id core.RoomID) (*core.RoomMeta, error) {
	row, err := r.store.Get(ctx, r.roomTable, RoomRowKey(id), FamilyMeta)
	if err != nil {
		return nil, err
	}
	if len(row.Families[FamilyMeta]) == 0 {
		return nil, nil
	}
	return decodeMeta(row)
}

// AddMessages stores messages under their (room, timestamp) keys, replacing
// any message already stored at the same timestamp, then advances the room
// meta from the last message of the batch. The meta counters only move
// forward, so overlapping and out-of-order batches from concurrent writers
// converge on the highest index and timestamp seen.
func (r *ChatRepository) AddMessages(ctx context.Context, roomID core.RoomID, messages []core.Message) error {
	if err := core.ValidateMessageBatch(roomID, messages); err != nil {
		return err
	}

	mutations := make([]*storage.Mutation, 0, len(messages))
	for i := range messages {
		mutations = append(mutations, encodeMessage(roomID, &messages[i]))
	}
	if err := r.store.PutBatch(ctx, r.messageTable, mutations); err != nil {
		return err
	}

	last := messages[len(messages)-1]
	key := RoomRowKey(roomID)
	countMoved, err := r.store.ConditionalUpdate(ctx, r.roomTable, key, FamilyMeta, colCount,
		storage.Greater, storage.MarshalOrderedInt64(last.Index))
	if err != nil {
		return err
	}
	tsMoved, err := r.store.ConditionalUpdate(ctx, r.roomTable, key, FamilyMeta, colLastMsgTs,
		storage.Greater, storage.MarshalOrderedInt64(last.Timestamp))
	if err != nil {
		return err
	}

	r.logger.Info("added messages", "room", roomID, "count", len(messages))
	r.logger.Debug("room meta update", "room", roomID,
		"index", last.Index, "indexAdvanced", countMoved,
		"timestamp", last.Timestamp, "timestampAdvanced", tsMoved)
	return nil
}

// GetMessages returns the messages of a room with start <= Timestamp < end in
// timestamp order.
func (r *ChatRepository) GetMessages(ctx context.Context, roomID core.RoomID, start, end int64) ([]core.Message, error) {
	if err := core.ValidateRoomID(roomID); err != nil {
		return nil, err
	}

	var messages []core.Message
	for row, err := range r.store.ScanRange(ctx, r.messageTable, FamilyMessage,
		MessageRowKey(roomID, start), MessageRowKey(roomID, end)) {
		if err != nil {
			return nil, err
		}
		msg, err := decodeMessage(row)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// CountLongPauses counts the gaps between consecutive messages of the window
// that exceed the room's lifetime average gap. Returns -1 for an empty window.
func (r *ChatRepository) CountLongPauses(ctx context.Context, roomID core.RoomID, start, end int64) (int, error) {
	stats, err := r.Pauses(ctx, roomID, start, end)
	if err != nil {
		return 0, err
	}
	return stats.LongPauses(), nil
}

// Pauses returns the gaps between consecutive messages of the window with the
// room's lifetime average gap. Fails with storage.ErrRoomMetaNotFound if the
// room was never created.
func (r *ChatRepository) Pauses(ctx context.Context, roomID core.RoomID, start, end int64) (*core.PauseStats, error) {
	meta, err := r.GetRoomMeta(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, fmt.Errorf("%w: room %d", storage.ErrRoomMetaNotFound, roomID)
	}

	messages, err := r.GetMessages(ctx, roomID, start, end)
	if err != nil {
		return nil, err
	}
	stats := core.NewPauseStats(meta.AveragePause(), messages)
	r.logger.Debug("pauses", "room", roomID, "start", start, "end", end,
		"averagePause", stats.AveragePause, "gaps", stats.Gaps)
	return stats, nil
}
