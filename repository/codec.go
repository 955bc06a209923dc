package repository

import (
	"fmt"

	"github.com/poiesic/chatkeep/core"
	"github.com/poiesic/chatkeep/storage"
)

// Meta columns that take part in compare-and-swap use the ordered encoding so
// byte order equals numeric order; everything else is mus encoded.

func setMeta(m *storage.Mutation, meta *core.RoomMeta) {
	m.Set(FamilyMeta, colCount, storage.MarshalOrderedInt64(meta.MessageCount)).
		Set(FamilyMeta, colCreated, storage.MarshalInt64(meta.Created)).
		Set(FamilyMeta, colLastMsgTs, storage.MarshalOrderedInt64(meta.LastMessageTimestamp))
}

func decodeMeta(row storage.Row) (*core.RoomMeta, error) {
	var (
		meta core.RoomMeta
		err  error
	)
	if meta.MessageCount, err = orderedColumn(row, FamilyMeta, colCount); err != nil {
		return nil, err
	}
	if meta.Created, err = int64Column(row, FamilyMeta, colCreated); err != nil {
		return nil, err
	}
	if meta.LastMessageTimestamp, err = orderedColumn(row, FamilyMeta, colLastMsgTs); err != nil {
		return nil, err
	}
	return &meta, nil
}

func decodeRoom(id core.RoomID, row storage.Row) (*core.Room, error) {
	room := &core.Room{ID: id}
	var err error
	if room.Name, err = stringColumn(row, FamilyInfo, colName); err != nil {
		return nil, err
	}
	if room.Created, err = int64Column(row, FamilyInfo, colCreated); err != nil {
		return nil, err
	}
	if data := row.Value(FamilyInfo, colParticipants); data != nil {
		if room.Participants, err = storage.UnmarshalStrings(data); err != nil {
			return nil, fmt.Errorf("column %s:%s: %w", FamilyInfo, colParticipants, err)
		}
	}
	return room, nil
}

func encodeMessage(roomID core.RoomID, msg *core.Message) *storage.Mutation {
	return storage.NewMutation(MessageRowKey(roomID, msg.Timestamp)).
		Set(FamilyMessage, colIndex, storage.MarshalInt64(msg.Index)).
		Set(FamilyMessage, colTimestamp, storage.MarshalInt64(msg.Timestamp)).
		Set(FamilyMessage, colAuthor, storage.MarshalString(msg.Author)).
		Set(FamilyMessage, colText, storage.MarshalString(msg.Text))
}

func decodeMessage(row storage.Row) (core.Message, error) {
	var (
		msg core.Message
		err error
	)
	if msg.Index, err = int64Column(row, FamilyMessage, colIndex); err != nil {
		return msg, err
	}
	if row.Value(FamilyMessage, colTimestamp) == nil {
		// the key carries the timestamp as well
		if _, msg.Timestamp, err = ParseMessageRowKey(row.Key); err != nil {
			return msg, err
		}
	} else if msg.Timestamp, err = int64Column(row, FamilyMessage, colTimestamp); err != nil {
		return msg, err
	}
	if msg.Author, err = stringColumn(row, FamilyMessage, colAuthor); err != nil {
		return msg, err
	}
	if msg.Text, err = stringColumn(row, FamilyMessage, colText); err != nil {
		return msg, err
	}
	return msg, nil
}

// Missing columns decode to zero values.

func int64Column(row storage.Row, family, column string) (int64, error) {
	data := row.Value(family, column)
	if data == nil {
		return 0, nil
	}
	v, err := storage.UnmarshalInt64(data)
	if err != nil {
		return 0, fmt.Errorf("column %s:%s: %w", family, column, err)
	}
	return v, nil
}

func orderedColumn(row storage.Row, family, column string) (int64, error) {
	data := row.Value(family, column)
	if data == nil {
		return 0, nil
	}
	v, err := storage.UnmarshalOrderedInt64(data)
	if err != nil {
		return 0, fmt.Errorf("column %s:%s: %w", family, column, err)
	}
	return v, nil
}

func stringColumn(row storage.Row, family, column string) (string, error) {
	data := row.Value(family, column)
	if data == nil {
		return "", nil
	}
	v, err := storage.UnmarshalString(data)
	if err != nil {
		return "", fmt.Errorf("column %s:%s: %w", family, column, err)
	}
	return v, nil
}
