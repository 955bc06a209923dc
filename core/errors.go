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

import "errors"

// Domain validation errors
var (
	// ErrInvalidInput indicates a request failed domain validation.
	// All other validation errors are reported wrapped in it.
	ErrInvalidInput = errors.New("invalid input")

	// ErrEmptyBatch indicates a message batch with no messages.
	ErrEmptyBatch = errors.New("message batch cannot be empty")

	// ErrInvalidRoomID indicates a negative room ID.
	ErrInvalidRoomID = errors.New("room id cannot be negative")

	// ErrEmptyRoomName indicates the room Name field is empty.
	ErrEmptyRoomName = errors.New("room name cannot be empty")

	// ErrInvalidTimestamp indicates a negative timestamp.
	ErrInvalidTimestamp = errors.New("timestamp cannot be negative")
)
