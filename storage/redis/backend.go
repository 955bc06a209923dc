// Package redis implements storage.KeyValueStore on Redis.
//
// Rows of a column family are Redis hashes; each family keeps a sorted set of
// its row keys with score 0 so ZRANGEBYLEX yields them in byte order. Row
// writes run inside MULTI/EXEC and conditional updates use WATCH.
//
// Unlike the BadgerDB backend, a scan is not a snapshot: rows written while
// a scan is in progress may or may not be observed.
package redis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"time"

	"github.com/poiesic/chatkeep/retry"
	"github.com/poiesic/chatkeep/storage"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix           = "chatkeep"
	defaultBatchSize        = 256
	defaultConflictAttempts = 10
	defaultConflictDelay    = 2 * time.Millisecond
)

// Backend implements storage.KeyValueStore on a Redis server.
type Backend struct {
	client           *redis.Client
	prefix           string
	batchSize        int
	logger           *slog.Logger
	conflictAttempts int
	conflictDelay    time.Duration
}

var _ storage.KeyValueStore = (*Backend)(nil)

// BackendOption configures a Backend.
type BackendOption func(*Backend)

// WithPrefix namespaces every key the backend writes. Default is "chatkeep".
func WithPrefix(prefix string) BackendOption {
	return func(b *Backend) {
		if prefix != "" {
			b.prefix = prefix
		}
	}
}

// WithBatchSize sets how many rows PutBatch groups into one MULTI/EXEC
// and how many rows ScanRange fetches per round trip.
func WithBatchSize(size int) BackendOption {
	return func(b *Backend) {
		if size > 0 {
			b.batchSize = size
		}
	}
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) BackendOption {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithConflictRetry sets how often a WATCH transaction is retried after
// another client touched the watched key, and the base backoff between tries.
func WithConflictRetry(attempts int, baseDelay time.Duration) BackendOption {
	return func(b *Backend) {
		if attempts > 0 {
			b.conflictAttempts = attempts
		}
		if baseDelay > 0 {
			b.conflictDelay = baseDelay
		}
	}
}

// NewBackend connects to the Redis server at redisURL and verifies the connection.
func NewBackend(ctx context.Context, redisURL string, opts ...BackendOption) (*Backend, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, storage.NewStorageError("open", "", err)
	}

	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, storage.NewStorageError("open", "", err)
	}
	return NewBackendWithClient(client, opts...), nil
}

// NewBackendWithClient wraps an existing client. Close closes the client.
func NewBackendWithClient(client *redis.Client, opts ...BackendOption) *Backend {
	b := &Backend{
		client:           client,
		prefix:           defaultPrefix,
		batchSize:        defaultBatchSize,
		logger:           slog.Default(),
		conflictAttempts: defaultConflictAttempts,
		conflictDelay:    defaultConflictDelay,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Close closes the Redis connection.
func (b *Backend) Close() error {
	return b.client.Close()
}

// Ping checks the Redis connection.
func (b *Backend) Ping(ctx context.Context) error {
	return b.wrap("ping", "", b.client.Ping(ctx).Err())
}

// EnsureTable creates the table or adds missing families to it.
func (b *Backend) EnsureTable(ctx context.Context, table string, families ...string) error {
	if err := validateName("table", table); err != nil {
		return b.wrap("ensure table", table, err)
	}
	for _, family := range families {
		if err := validateName("family", family); err != nil {
			return b.wrap("ensure table", table, err)
		}
	}

	key := b.schemaKey(table)
	created := false
	err := b.onConflict(ctx, func() error {
		return b.client.Watch(ctx, func(tx *redis.Tx) error {
			existing, err := b.readFamilies(ctx, tx, table)
			if err != nil && !errors.Is(err, storage.ErrTableNotFound) {
				return err
			}
			created = errors.Is(err, storage.ErrTableNotFound)
			merged := slices.Clone(existing)
			for _, family := range families {
				if !slices.Contains(merged, family) {
					merged = append(merged, family)
				}
			}
			if !created && len(merged) == len(existing) {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, storage.MarshalStrings(merged), 0)
				return nil
			})
			return err
		}, key)
	})
	if err != nil {
		return b.wrap("ensure table", table, err)
	}
	if created {
		b.logger.Info("created table", "table", table, "families", families)
	}
	return nil
}

// DeleteTable removes every row of the table and its schema.
// Deleting a table that doesn't exist is not an error.
func (b *Backend) DeleteTable(ctx context.Context, table string) error {
	if err := validateName("table", table); err != nil {
		return b.wrap("delete table", table, err)
	}
	families, err := b.readFamilies(ctx, b.client, table)
	if errors.Is(err, storage.ErrTableNotFound) {
		return nil
	}
	if err != nil {
		return b.wrap("delete table", table, err)
	}

	for _, family := range families {
		idx := b.indexKey(table, family)
		members, err := b.client.ZRange(ctx, idx, 0, -1).Result()
		if err != nil {
			return b.wrap("delete table", table, err)
		}
		for chunk := range slices.Chunk(members, b.batchSize) {
			keys := make([]string, 0, len(chunk))
			for _, m := range chunk {
				keys = append(keys, b.rowKey(table, family, m))
			}
			if err := b.client.Del(ctx, keys...).Err(); err != nil {
				return b.wrap("delete table", table, err)
			}
		}
		if err := b.client.Del(ctx, idx).Err(); err != nil {
			return b.wrap("delete table", table, err)
		}
	}
	return b.wrap("delete table", table, b.client.Del(ctx, b.schemaKey(table)).Err())
}

// Put writes a single row inside one MULTI/EXEC.
func (b *Backend) Put(ctx context.Context, table string, mutation *storage.Mutation) error {
	return b.PutBatch(ctx, table, []*storage.Mutation{mutation})
}

// PutBatch writes rows in MULTI/EXEC blocks of whole rows.
func (b *Backend) PutBatch(ctx context.Context, table string, mutations []*storage.Mutation) error {
	if len(mutations) == 0 {
		return nil
	}
	for _, m := range mutations {
		if err := validateMutation(m); err != nil {
			return b.wrap("put", table, err)
		}
	}
	if err := b.checkSchema(ctx, table, mutationFamilies(mutations)); err != nil {
		return b.wrap("put", table, err)
	}

	for chunk := range slices.Chunk(mutations, b.batchSize) {
		_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, m := range chunk {
				for family, cells := range m.Columns {
					if len(cells) == 0 {
						continue
					}
					values := make([]any, 0, 2*len(cells))
					for column, value := range cells {
						values = append(values, column, value)
					}
					pipe.HSet(ctx, b.rowKey(table, family, m.Key), values...)
					pipe.ZAdd(ctx, b.indexKey(table, family), redis.Z{Score: 0, Member: m.Key})
				}
			}
			return nil
		})
		if err != nil {
			return b.wrap("put", table, err)
		}
	}
	return nil
}

// Get reads one row.
func (b *Backend) Get(ctx context.Context, table, key string, families ...string) (storage.Row, error) {
	row := storage.Row{Key: key}
	if err := validateName("row key", key); err != nil {
		return row, b.wrap("get", table, err)
	}
	schema, err := b.readFamilies(ctx, b.client, table)
	if err != nil {
		return row, b.wrap("get", table, err)
	}
	if len(families) == 0 {
		families = schema
	}

	for _, family := range families {
		if !slices.Contains(schema, family) {
			return row, b.wrap("get", table, fmt.Errorf("%w: %s", storage.ErrFamilyNotFound, family))
		}
	}

	cmds := make(map[string]*redis.MapStringStringCmd, len(families))
	_, err = b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, family := range families {
			cmds[family] = pipe.HGetAll(ctx, b.rowKey(table, family, key))
		}
		return nil
	})
	if err != nil {
		return row, b.wrap("get", table, err)
	}
	for family, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil {
			return storage.Row{Key: key}, b.wrap("get", table, err)
		}
		if len(fields) == 0 {
			continue
		}
		if row.Families == nil {
			row.Families = make(map[string]storage.Cells)
		}
		row.Families[family] = toCells(fields)
	}
	return row, nil
}

// ScanRange iterates rows of one family with start <= key < end, fetching
// them page by page.
func (b *Backend) ScanRange(ctx context.Context, table, family, start, end string) iter.Seq2[storage.Row, error] {
	return func(yield func(storage.Row, error) bool) {
		if start >= end {
			return
		}
		if err := b.checkSchema(ctx, table, []string{family}); err != nil {
			yield(storage.Row{}, b.wrap("scan", table, err))
			return
		}

		idx := b.indexKey(table, family)
		lower := lexMin(start)
		for {
			keys, err := b.client.ZRangeByLex(ctx, idx, &redis.ZRangeBy{
				Min:   lower,
				Max:   lexMax(end),
				Count: int64(b.batchSize),
			}).Result()
			if err != nil {
				yield(storage.Row{}, b.wrap("scan", table, err))
				return
			}
			if len(keys) == 0 {
				return
			}

			cmds := make([]*redis.MapStringStringCmd, len(keys))
			_, err = b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
				for i, k := range keys {
					cmds[i] = pipe.HGetAll(ctx, b.rowKey(table, family, k))
				}
				return nil
			})
			if err != nil {
				yield(storage.Row{}, b.wrap("scan", table, err))
				return
			}
			for i, k := range keys {
				fields, err := cmds[i].Result()
				if err != nil {
					yield(storage.Row{}, b.wrap("scan", table, err))
					return
				}
				if len(fields) == 0 {
					continue
				}
				row := storage.Row{Key: k, Families: map[string]storage.Cells{family: toCells(fields)}}
				if !yield(row, nil) {
					return
				}
			}
			if len(keys) < b.batchSize {
				return
			}
			lower = "(" + keys[len(keys)-1]
		}
	}
}

// ConditionalUpdate sets family:column to value if "value op stored" holds.
// The row hash is watched; a concurrent write aborts and retries the attempt.
func (b *Backend) ConditionalUpdate(ctx context.Context, table, key, family, column string, op storage.CompareOp, value []byte) (bool, error) {
	for kind, name := range map[string]string{"row key": key, "family": family, "column": column} {
		if err := validateName(kind, name); err != nil {
			return false, b.wrap("check and put", table, err)
		}
	}
	if err := b.checkSchema(ctx, table, []string{family}); err != nil {
		return false, b.wrap("check and put", table, err)
	}

	hashKey := b.rowKey(table, family, key)
	written := false
	err := b.onConflict(ctx, func() error {
		written = false
		return b.client.Watch(ctx, func(tx *redis.Tx) error {
			stored, err := tx.HGet(ctx, hashKey, column).Bytes()
			if errors.Is(err, redis.Nil) {
				return nil
			}
			if err != nil {
				return err
			}
			if !op.Holds(bytes.Compare(value, stored)) {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, hashKey, column, value)
				return nil
			})
			if err != nil {
				return err
			}
			written = true
			return nil
		}, hashKey)
	})
	if err != nil {
		return false, b.wrap("check and put", table, err)
	}
	return written, nil
}

func (b *Backend) onConflict(ctx context.Context, fn func() error) error {
	return retry.WithBackoff(ctx, fn, b.conflictAttempts, b.conflictDelay, func(err error) bool {
		return errors.Is(err, redis.TxFailedErr)
	})
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// readFamilies reads the column families of a table.
func (b *Backend) readFamilies(ctx context.Context, c getter, table string) ([]string, error) {
	data, err := c.Get(ctx, b.schemaKey(table)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", storage.ErrTableNotFound, table)
	}
	if err != nil {
		return nil, err
	}
	return storage.UnmarshalStrings(data)
}

// checkSchema verifies that table exists and has all the given families.
func (b *Backend) checkSchema(ctx context.Context, table string, families []string) error {
	if err := validateName("table", table); err != nil {
		return err
	}
	schema, err := b.readFamilies(ctx, b.client, table)
	if err != nil {
		return err
	}
	for _, family := range families {
		if !slices.Contains(schema, family) {
			return fmt.Errorf("%w: %s", storage.ErrFamilyNotFound, family)
		}
	}
	return nil
}

// wrap turns err into a StorageError, mapping a closed client to ErrStorageClosed.
func (b *Backend) wrap(op, table string, err error) error {
	if errors.Is(err, redis.ErrClosed) {
		err = fmt.Errorf("%w: %w", storage.ErrStorageClosed, err)
	}
	return storage.NewStorageError(op, table, err)
}

func toCells(fields map[string]string) storage.Cells {
	cells := make(storage.Cells, len(fields))
	for column, value := range fields {
		cells[column] = []byte(value)
	}
	return cells
}

func mutationFamilies(mutations []*storage.Mutation) []string {
	var families []string
	for _, m := range mutations {
		for family := range m.Columns {
			if !slices.Contains(families, family) {
				families = append(families, family)
			}
		}
	}
	return families
}
