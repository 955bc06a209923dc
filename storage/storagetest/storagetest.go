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

// Package storagetest holds a conformance suite every storage.KeyValueStore
// implementation is expected to pass.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/poiesic/chatkeep/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewStoreFunc returns a fresh, empty store. The suite closes it.
type NewStoreFunc func(t *testing.T) storage.KeyValueStore

// RunKeyValueStoreTests runs the conformance suite against stores built by newStore.
func RunKeyValueStoreTests(t *testing.T, newStore NewStoreFunc) {
	tests := []struct {
		name string
		fn   func(t *testing.T, store storage.KeyValueStore)
	}{
		{"EnsureTableIdempotent", testEnsureTableIdempotent},
		{"PutAndGet", testPutAndGet},
		{"GetMissingRow", testGetMissingRow},
		{"UnknownTable", testUnknownTable},
		{"UnknownFamily", testUnknownFamily},
		{"PutOverwritesColumns", testPutOverwritesColumns},
		{"ScanRangeOrderAndBounds", testScanRangeOrderAndBounds},
		{"ScanRangeEmptyRange", testScanRangeEmptyRange},
		{"ScanRangeEarlyStop", testScanRangeEarlyStop},
		{"ScanRangeRestartable", testScanRangeRestartable},
		{"ScanRangeIsolatesTables", testScanRangeIsolatesTables},
		{"PutBatchLarge", testPutBatchLarge},
		{"ConditionalUpdate", testConditionalUpdate},
		{"ConditionalUpdateMissingColumn", testConditionalUpdateMissingColumn},
		{"ConditionalUpdateConcurrent", testConditionalUpdateConcurrent},
		{"DeleteTable", testDeleteTable},
		{"Ping", testPing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			defer store.Close()
			tt.fn(t, store)
		})
	}
}

func ensure(t *testing.T, store storage.KeyValueStore, table string, families ...string) {
	t.Helper()
	require.NoError(t, store.EnsureTable(context.Background(), table, families...))
}

func collect(t *testing.T, store storage.KeyValueStore, table, family, start, end string) []storage.Row {
	t.Helper()
	var rows []storage.Row
	for row, err := range store.ScanRange(context.Background(), table, family, start, end) {
		require.NoError(t, err)
		rows = append(rows, row)
	}
	return rows
}

func keys(rows []storage.Row) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Key)
	}
	return out
}

func testEnsureTableIdempotent(t *testing.T, store storage.KeyValueStore) {
	ctx := context.Background()
	ensure(t, store, "room", "info")
	ensure(t, store, "room", "info")
	ensure(t, store, "room", "info", "meta")

	require.NoError(t, store.Put(ctx, "room", storage.NewMutation("1").
		Set("info", "name", []byte("a")).
		Set("meta", "count", []byte("b"))))

	row, err := store.Get(ctx, "room", "1")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), row.Value("info", "name"))
	assert.Equal(t, []byte("b"), row.Value("meta", "count"))
}

func testPutAndGet(t *testing.T, store storage.KeyValueStore) {
	ctx := context.Background()
	ensure(t, store, "room", "info", "meta")

	m := storage.NewMutation("42").
		Set("info", "name", []byte("general")).
		Set("info", "created", []byte{0, 1, 2}).
		Set("meta", "count", []byte{9})
	require.NoError(t, store.Put(ctx, "room", m))

	row, err := store.Get(ctx, "room", "42")
	require.NoError(t, err)
	assert.Equal(t, "42", row.Key)
	assert.Equal(t, []byte("general"), row.Value("info", "name"))
	assert.Equal(t, []byte{0, 1, 2}, row.Value("info", "created"))
	assert.Equal(t, []byte{9}, row.Value("meta", "count"))

	infoOnly, err := store.Get(ctx, "room", "42", "info")
	require.NoError(t, err)
	assert.Len(t, infoOnly.Families, 1)
	assert.Nil(t, infoOnly.Value("meta", "count"))
}

func testGetMissingRow(t *testing.T, store storage.KeyValueStore) {
	ensure(t, store, "room", "info")
	row, err := store.Get(context.Background(), "room", "nope")
	require.NoError(t, err)
	assert.True(t, row.IsEmpty())
}

func testUnknownTable(t *testing.T, store storage.KeyValueStore) {
	ctx := context.Background()
	err := store.Put(ctx, "missing", storage.NewMutation("1").Set("f", "c", []byte("v")))
	assert.ErrorIs(t, err, storage.ErrTableNotFound)
	assert.True(t, storage.IsStorageError(err))

	_, err = store.Get(ctx, "missing", "1")
	assert.ErrorIs(t, err, storage.ErrTableNotFound)

	var scanErr error
	for _, err := range store.ScanRange(ctx, "missing", "f", "a", "z") {
		scanErr = err
	}
	assert.ErrorIs(t, scanErr, storage.ErrTableNotFound)
}

func testUnknownFamily(t *testing.T, store storage.KeyValueStore) {
	ctx := context.Background()
	ensure(t, store, "room", "info")
	err := store.Put(ctx, "room", storage.NewMutation("1").Set("other", "c", []byte("v")))
	assert.ErrorIs(t, err, storage.ErrFamilyNotFound)

	_, err = store.ConditionalUpdate(ctx, "room", "1", "other", "c", storage.Greater, []byte("v"))
	assert.ErrorIs(t, err, storage.ErrFamilyNotFound)
}

func testPutOverwritesColumns(t *testing.T, store storage.KeyValueStore) {
	ctx := context.Background()
	ensure(t, store, "room", "info")
	require.NoError(t, store.Put(ctx, "room", storage.NewMutation("1").
		Set("info", "name", []byte("old")).
		Set("info", "keep", []byte("k"))))
	require.NoError(t, store.Put(ctx, "room", storage.NewMutation("1").
		Set("info", "name", []byte("new"))))

	row, err := store.Get(ctx, "room", "1")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), row.Value("info", "name"))
	assert.Equal(t, []byte("k"), row.Value("info", "keep"))
}

func testScanRangeOrderAndBounds(t *testing.T, store storage.KeyValueStore) {
	ctx := context.Background()
	ensure(t, store, "msg", "message")

	// Inserted out of order on purpose.
	var batch []*storage.Mutation
	for _, k := range []string{"b3", "a1", "b1", "c0", "b2", "b"} {
		batch = append(batch, storage.NewMutation(k).
			Set("message", "text", []byte("v"+k)).
			Set("message", "author", []byte("x")))
	}
	require.NoError(t, store.PutBatch(ctx, "msg", batch))

	rows := collect(t, store, "msg", "message", "b", "b3")
	assert.Equal(t, []string{"b", "b1", "b2"}, keys(rows))
	for _, r := range rows {
		assert.Equal(t, []byte("v"+r.Key), r.Value("message", "text"))
		assert.Equal(t, []byte("x"), r.Value("message", "author"))
	}

	all := collect(t, store, "msg", "message", "", "\xff")
	assert.Equal(t, []string{"a1", "b", "b1", "b2", "b3", "c0"}, keys(all))
}

func testScanRangeEmptyRange(t *testing.T, store storage.KeyValueStore) {
	ctx := context.Background()
	ensure(t, store, "msg", "message")
	require.NoError(t, store.Put(ctx, "msg", storage.NewMutation("k").Set("message", "c", []byte("v"))))

	assert.Empty(t, collect(t, store, "msg", "message", "k", "k"))
	assert.Empty(t, collect(t, store, "msg", "message", "z", "a"))
}

func testScanRangeEarlyStop(t *testing.T, store storage.KeyValueStore) {
	ctx := context.Background()
	ensure(t, store, "msg", "message")
	for i := range 5 {
		require.NoError(t, store.Put(ctx, "msg", storage.NewMutation(fmt.Sprintf("k%d", i)).
			Set("message", "c", []byte("v"))))
	}

	var seen []string
	for row, err := range store.ScanRange(ctx, "msg", "message", "k0", "k9") {
		require.NoError(t, err)
		seen = append(seen, row.Key)
		if len(seen) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"k0", "k1"}, seen)
}

func testScanRangeRestartable(t *testing.T, store storage.KeyValueStore) {
	ctx := context.Background()
	ensure(t, store, "msg", "message")
	require.NoError(t, store.Put(ctx, "msg", storage.NewMutation("a").Set("message", "c", []byte("v"))))

	seq := store.ScanRange(ctx, "msg", "message", "a", "z")
	count := func() int {
		n := 0
		for _, err := range seq {
			require.NoError(t, err)
			n++
		}
		return n
	}
	assert.Equal(t, 1, count())

	require.NoError(t, store.Put(ctx, "msg", storage.NewMutation("b").Set("message", "c", []byte("v"))))
	assert.Equal(t, 2, count())
}

func testScanRangeIsolatesTables(t *testing.T, store storage.KeyValueStore) {
	ctx := context.Background()
	ensure(t, store, "t", "f", "g")
	ensure(t, store, "tt", "f")
	require.NoError(t, store.Put(ctx, "t", storage.NewMutation("a").
		Set("f", "c", []byte("1")).
		Set("g", "c", []byte("2"))))
	require.NoError(t, store.Put(ctx, "tt", storage.NewMutation("b").Set("f", "c", []byte("3"))))

	rows := collect(t, store, "t", "f", "", "\xff")
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0].Key)
	assert.Nil(t, rows[0].Value("g", "c"))
}

func testPutBatchLarge(t *testing.T, store storage.KeyValueStore) {
	ctx := context.Background()
	ensure(t, store, "msg", "message")

	const n = 2000
	batch := make([]*storage.Mutation, 0, n)
	for i := range n {
		batch = append(batch, storage.NewMutation(fmt.Sprintf("%06d", i)).
			Set("message", "text", []byte(fmt.Sprintf("message %d", i))))
	}
	require.NoError(t, store.PutBatch(ctx, "msg", batch))

	rows := collect(t, store, "msg", "message", "", "\xff")
	require.Len(t, rows, n)
	assert.Equal(t, "000000", rows[0].Key)
	assert.Equal(t, fmt.Sprintf("%06d", n-1), rows[n-1].Key)
	assert.Equal(t, []byte("message 7"), rows[7].Value("message", "text"))
}

func testConditionalUpdate(t *testing.T, store storage.KeyValueStore) {
	ctx := context.Background()
	ensure(t, store, "room", "meta")
	require.NoError(t, store.Put(ctx, "room", storage.NewMutation("1").Set("meta", "last", []byte{5})))

	tests := []struct {
		name    string
		op      storage.CompareOp
		value   []byte
		written bool
		stored  []byte
	}{
		{"greater rejects smaller", storage.Greater, []byte{4}, false, []byte{5}},
		{"greater rejects equal", storage.Greater, []byte{5}, false, []byte{5}},
		{"greater accepts larger", storage.Greater, []byte{7}, true, []byte{7}},
		{"greater or equal accepts equal", storage.GreaterOrEqual, []byte{7}, true, []byte{7}},
		{"less accepts smaller", storage.Less, []byte{3}, true, []byte{3}},
		{"equal rejects different", storage.Equal, []byte{4}, false, []byte{3}},
		{"not equal accepts different", storage.NotEqual, []byte{6}, true, []byte{6}},
	}
	for _, tt := range tests {
		written, err := store.ConditionalUpdate(ctx, "room", "1", "meta", "last", tt.op, tt.value)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.written, written, tt.name)

		row, err := store.Get(ctx, "room", "1")
		require.NoError(t, err)
		assert.Equal(t, tt.stored, row.Value("meta", "last"), tt.name)
	}
}

func testConditionalUpdateMissingColumn(t *testing.T, store storage.KeyValueStore) {
	ctx := context.Background()
	ensure(t, store, "room", "meta")

	written, err := store.ConditionalUpdate(ctx, "room", "1", "meta", "last", storage.Greater, []byte{1})
	require.NoError(t, err)
	assert.False(t, written)

	row, err := store.Get(ctx, "room", "1")
	require.NoError(t, err)
	assert.True(t, row.IsEmpty())
}

func testConditionalUpdateConcurrent(t *testing.T, store storage.KeyValueStore) {
	ctx := context.Background()
	ensure(t, store, "room", "meta")
	require.NoError(t, store.Put(ctx, "room", storage.NewMutation("1").
		Set("meta", "last", storage.MarshalOrderedInt64(0))))

	const writers = 16
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 1; i <= writers; i++ {
		wg.Add(1)
		go func(v int64) {
			defer wg.Done()
			_, err := store.ConditionalUpdate(ctx, "room", "1", "meta", "last", storage.Greater, storage.MarshalOrderedInt64(v))
			errs <- err
		}(int64(i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	row, err := store.Get(ctx, "room", "1")
	require.NoError(t, err)
	last, err := storage.UnmarshalOrderedInt64(row.Value("meta", "last"))
	require.NoError(t, err)
	assert.Equal(t, int64(writers), last)
}

func testDeleteTable(t *testing.T, store storage.KeyValueStore) {
	ctx := context.Background()
	ensure(t, store, "room", "info")
	ensure(t, store, "keep", "info")
	require.NoError(t, store.Put(ctx, "room", storage.NewMutation("1").Set("info", "name", []byte("x"))))
	require.NoError(t, store.Put(ctx, "keep", storage.NewMutation("1").Set("info", "name", []byte("y"))))

	require.NoError(t, store.DeleteTable(ctx, "room"))

	_, err := store.Get(ctx, "room", "1")
	assert.ErrorIs(t, err, storage.ErrTableNotFound)

	ensure(t, store, "room", "info")
	row, err := store.Get(ctx, "room", "1")
	require.NoError(t, err)
	assert.True(t, row.IsEmpty())

	kept, err := store.Get(ctx, "keep", "1")
	require.NoError(t, err)
	assert.Equal(t, []byte("y"), kept.Value("info", "name"))
}

func testPing(t *testing.T, store storage.KeyValueStore) {
	assert.NoError(t, store.Ping(context.Background()))
}
