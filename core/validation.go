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


package core

import (
	"fmt"
)

// ValidateRoom validates a Room according to domain rules.
//
// Validation rules:
//   - ID must not be negative
//   - Name must not be empty
//   - Created must not be negative
//
// NOT validated:
//   - Participants (an empty room is allowed)
//   - Meta (derived, ignored on write)
func ValidateRoom(room *Room) error {
	if room == nil {
		return fmt.Errorf("%w: room is nil", ErrInvalidInput)
	}

	if err := ValidateRoomID(room.ID); err != nil {
		return err
	}

	if room.Name == "" {
		return fmt.Errorf("%w: %w", ErrInvalidInput, ErrEmptyRoomName)
	}

	if room.Created < 0 {
		return fmt.Errorf("%w: room created: %w", ErrInvalidInput, ErrInvalidTimestamp)
	}

	return nil
}

// ValidateRoomID validates that a RoomID is usable as a key component.
func ValidateRoomID(id RoomID) error {
	if id < 0 {
		return fmt.Errorf("%w: %w: value %d", ErrInvalidInput, ErrInvalidRoomID, id)
	}
	return nil
}

// ValidateMessage validates a single Message.
// Index, Author and Text are caller-owned and not checked.
func ValidateMessage(msg *Message) error {
	if msg == nil {
		return fmt.Errorf("%w: message is nil", ErrInvalidInput)
	}
	if msg.Timestamp < 0 {
		return fmt.Errorf("%w: message %d: %w", ErrInvalidInput, msg.Index, ErrInvalidTimestamp)
	}
	return nil
}

// ValidateMessageBatch validates a batch destined for a room.
// The batch must contain at least one message and every message must be valid.
func ValidateMessageBatch(roomID RoomID, messages []Message) error {
	if err := ValidateRoomID(roomID); err != nil {
		return err
	}
	if len(messages) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidInput, ErrEmptyBatch)
	}
	for i := range messages {
		if err := ValidateMessage(&messages[i]); err != nil {
			return err
		}
	}
	return nil
}
