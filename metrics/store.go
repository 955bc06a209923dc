package metrics

import (
	"context"
	"iter"
	"strconv"
	"time"

	"github.com/poiesic/chatkeep/storage"
)

// InstrumentedStore records latency and failures of every call to the
// wrapped store.
type InstrumentedStore struct {
	next    storage.KeyValueStore
	backend string
}

var _ storage.KeyValueStore = (*InstrumentedStore)(nil)

// InstrumentStore wraps next; backend labels the recorded series.
func InstrumentStore(next storage.KeyValueStore, backend string) *InstrumentedStore {
	return &InstrumentedStore{next: next, backend: backend}
}

func (s *InstrumentedStore) observe(op string, start time.Time, err error) {
	StoreOperationDuration.WithLabelValues(s.backend, op).Observe(time.Since(start).Seconds())
	if err != nil {
		StoreErrors.WithLabelValues(s.backend, op).Inc()
	}
}

func (s *InstrumentedStore) EnsureTable(ctx context.Context, table string, families ...string) (err error) {
	defer func(start time.Time) { s.observe("ensure_table", start, err) }(time.Now())
	return s.next.EnsureTable(ctx, table, families...)
}

func (s *InstrumentedStore) DeleteTable(ctx context.Context, table string) (err error) {
	defer func(start time.Time) { s.observe("delete_table", start, err) }(time.Now())
	return s.next.DeleteTable(ctx, table)
}

func (s *InstrumentedStore) Put(ctx context.Context, table string, mutation *storage.Mutation) (err error) {
	defer func(start time.Time) { s.observe("put", start, err) }(time.Now())
	return s.next.Put(ctx, table, mutation)
}

func (s *InstrumentedStore) PutBatch(ctx context.Context, table string, mutations []*storage.Mutation) (err error) {
	defer func(start time.Time) { s.observe("put_batch", start, err) }(time.Now())
	return s.next.PutBatch(ctx, table, mutations)
}

func (s *InstrumentedStore) Get(ctx context.Context, table, key string, families ...string) (row storage.Row, err error) {
	defer func(start time.Time) { s.observe("get", start, err) }(time.Now())
	return s.next.Get(ctx, table, key, families...)
}

// ScanRange times each full pass over the sequence, including the time the
// consumer spends between rows.
func (s *InstrumentedStore) ScanRange(ctx context.Context, table, family, start, end string) iter.Seq2[storage.Row, error] {
	seq := s.next.ScanRange(ctx, table, family, start, end)
	return func(yield func(storage.Row, error) bool) {
		began := time.Now()
		var scanErr error
		for row, err := range seq {
			if err != nil {
				scanErr = err
			}
			if !yield(row, err) {
				break
			}
		}
		s.observe("scan", began, scanErr)
	}
}

func (s *InstrumentedStore) ConditionalUpdate(ctx context.Context, table, key, family, column string, op storage.CompareOp, value []byte) (written bool, err error) {
	defer func(start time.Time) {
		s.observe("conditional_update", start, err)
		if err == nil {
			ConditionalUpdates.WithLabelValues(s.backend, strconv.FormatBool(written)).Inc()
		}
	}(time.Now())
	return s.next.ConditionalUpdate(ctx, table, key, family, column, op, value)
}

func (s *InstrumentedStore) Ping(ctx context.Context) (err error) {
	defer func(start time.Time) { s.observe("ping", start, err) }(time.Now())
	return s.next.Ping(ctx)
}

func (s *InstrumentedStore) Close() error {
	return s.next.Close()
}

// Unwrap returns the wrapped store.
func (s *InstrumentedStore) Unwrap() storage.KeyValueStore {
	return s.next
}
