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


package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
)

// MarshalInt64 serializes an int64 column value (zigzag varint).
func MarshalInt64(v int64) []byte {
	buf := make([]byte, varint.Int64.Size(v))
	varint.Int64.Marshal(v, buf)
	return buf
}

// UnmarshalInt64 deserializes an int64 column value.
func UnmarshalInt64(data []byte) (int64, error) {
	v, _, err := varint.Int64.Unmarshal(data)
	if err != nil {
		return 0, fmt.Errorf("%w: int64: %w", ErrSerializationFailed, err)
	}
	return v, nil
}

// MarshalString serializes a string column value (length-prefixed).
func MarshalString(s string) []byte {
	buf := make([]byte, ord.String.Size(s))
	ord.String.Marshal(s, buf)
	return buf
}

// UnmarshalString deserializes a string column value.
func UnmarshalString(data []byte) (string, error) {
	s, _, err := ord.String.Unmarshal(data)
	if err != nil {
		return "", fmt.Errorf("%w: string: %w", ErrSerializationFailed, err)
	}
	return s, nil
}

// MarshalStrings serializes an ordered string list as a varint count
// followed by length-prefixed strings.
func MarshalStrings(list []string) []byte {
	size := varint.Uint64.Size(uint64(len(list)))
	for _, s := range list {
		size += ord.String.Size(s)
	}
	buf := make([]byte, size)
	n := varint.Uint64.Marshal(uint64(len(list)), buf)
	for _, s := range list {
		n += ord.String.Marshal(s, buf[n:])
	}
	return buf
}

// UnmarshalStrings deserializes a list written by MarshalStrings.
// An empty list decodes as nil.
func UnmarshalStrings(data []byte) ([]string, error) {
	count, n, err := varint.Uint64.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: list length: %w", ErrSerializationFailed, err)
	}
	// Every element takes at least one byte
	if count > uint64(len(data)-n) {
		return nil, fmt.Errorf("%w: list of %d elements in %d bytes", ErrTruncatedData, count, len(data)-n)
	}
	if count == 0 {
		return nil, nil
	}
	list := make([]string, 0, count)
	for i := uint64(0); i < count; i++ {
		s, m, err := ord.String.Unmarshal(data[n:])
		if err != nil {
			return nil, fmt.Errorf("%w: list element %d: %w", ErrSerializationFailed, i, err)
		}
		list = append(list, s)
		n += m
	}
	return list, nil
}

// orderedInt64Size is the width of an order-preserving int64.
const orderedInt64Size = 8

// MarshalOrderedInt64 serializes an int64 so that bytes.Compare on two
// encodings agrees with numeric comparison of the values. Columns updated
// through ConditionalUpdate must use this encoding.
func MarshalOrderedInt64(v int64) []byte {
	buf := make([]byte, orderedInt64Size)
	binary.BigEndian.PutUint64(buf, uint64(v)^(1<<63))
	return buf
}

// UnmarshalOrderedInt64 deserializes a value written by MarshalOrderedInt64.
func UnmarshalOrderedInt64(data []byte) (int64, error) {
	if len(data) != orderedInt64Size {
		return 0, fmt.Errorf("%w: ordered int64 needs %d bytes, got %d", ErrTruncatedData, orderedInt64Size, len(data))
	}
	return int64(binary.BigEndian.Uint64(data) ^ (1 << 63)), nil
}
