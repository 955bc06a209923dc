package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/poiesic/chatkeep/retry"
	"github.com/poiesic/chatkeep/storage"
)

const (
	defaultConflictAttempts = 10
	defaultConflictDelay    = 2 * time.Millisecond
)

// Backend wraps a BadgerDB instance and implements storage.KeyValueStore on it.
// Tables and column families are emulated with key prefixes; see keys.go.
type Backend struct {
	db               *badger.DB
	logger           *slog.Logger
	conflictAttempts int
	conflictDelay    time.Duration
}

var _ storage.KeyValueStore = (*Backend)(nil)

// BackendOption configures a Backend.
type BackendOption func(*Backend)

// WithLogger sets the logger used by the backend and by BadgerDB itself.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) BackendOption {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithConflictRetry sets how often a compare-and-swap is attempted when it
// loses an optimistic-transaction race, and the base backoff between attempts.
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

// badgerLoggerAdapter adapts slog.Logger to badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Info(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// OpenBackend opens a BadgerDB database at the specified path.
// Creates the directory if it doesn't exist. With inMemory set the path is ignored.
func OpenBackend(filePath string, inMemory bool, opts ...BackendOption) (*Backend, error) {
	b := &Backend{
		logger:           slog.Default(),
		conflictAttempts: defaultConflictAttempts,
		conflictDelay:    defaultConflictDelay,
	}
	for _, opt := range opts {
		opt(b)
	}

	var dbOpts badger.Options
	if inMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		// Ensure directory exists
		info, err := os.Stat(filePath)
		if err != nil {
			if os.IsNotExist(err) {
				if err := os.MkdirAll(filePath, 0755); err != nil {
					return nil, storage.NewStorageError("open", "", err)
				}
				info, err = os.Stat(filePath)
				if err != nil {
					return nil, storage.NewStorageError("open", "", err)
				}
			} else {
				return nil, storage.NewStorageError("open", "", err)
			}
		}
		if !info.IsDir() {
			return nil, storage.NewStorageError("open", "", fmt.Errorf("%s is not a directory", filePath))
		}
		dbOpts = badger.DefaultOptions(filePath)
	}

	dbOpts.Logger = &badgerLoggerAdapter{logger: b.logger}
	dbOpts.Compression = options.None

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, storage.NewStorageError("open", "", err)
	}
	b.db = db
	return b, nil
}

// Close closes the BadgerDB database.
func (b *Backend) Close() error {
	return b.db.Close()
}

// IsClosed returns true if the database is closed.
func (b *Backend) IsClosed() bool {
	return b.db.IsClosed()
}

// Ping reports ErrStorageClosed once the database has been closed.
func (b *Backend) Ping(ctx context.Context) error {
	if b.db.IsClosed() {
		return storage.NewStorageError("ping", "", storage.ErrStorageClosed)
	}
	return nil
}

// WithTx executes a function within a BadgerDB transaction.
// If isWrite is true, creates a read-write transaction.
// The transaction is automatically discarded; fn must commit write transactions.
func (b *Backend) WithTx(fn func(tx *badger.Txn) error, isWrite bool) error {
	if b.db.IsClosed() {
		return storage.ErrStorageClosed
	}
	tx := b.db.NewTransaction(isWrite)
	defer tx.Discard()
	return fn(tx)
}

// EnsureTable creates the table or adds missing families to it.
func (b *Backend) EnsureTable(ctx context.Context, table string, families ...string) error {
	if err := validateName("table", table); err != nil {
		return storage.NewStorageError("ensure table", table, err)
	}
	for _, family := range families {
		if err := validateName("family", family); err != nil {
			return storage.NewStorageError("ensure table", table, err)
		}
	}

	created := false
	err := b.onConflict(ctx, func() error {
		created = false
		return b.WithTx(func(tx *badger.Txn) error {
			existing, err := readFamilies(tx, table)
			if err != nil && !errors.Is(err, storage.ErrTableNotFound) {
				return err
			}
			created = existing == nil
			merged := slices.Clone(existing)
			for _, family := range families {
				if !slices.Contains(merged, family) {
					merged = append(merged, family)
				}
			}
			if !created && len(merged) == len(existing) {
				return nil
			}
			if err := tx.Set(makeSchemaKey(table), storage.MarshalStrings(merged)); err != nil {
				return err
			}
			return tx.Commit()
		}, true)
	})
	if err != nil {
		return storage.NewStorageError("ensure table", table, err)
	}
	if created {
		b.logger.Info("created table", "table", table, "families", families)
	}
	return nil
}

// DeleteTable drops every cell of the table and its schema.
func (b *Backend) DeleteTable(ctx context.Context, table string) error {
	if err := validateName("table", table); err != nil {
		return storage.NewStorageError("delete table", table, err)
	}
	if b.db.IsClosed() {
		return storage.NewStorageError("delete table", table, storage.ErrStorageClosed)
	}
	if err := b.db.DropPrefix(makeTablePrefix(table)); err != nil {
		return storage.NewStorageError("delete table", table, err)
	}
	err := b.WithTx(func(tx *badger.Txn) error {
		if err := tx.Delete(makeSchemaKey(table)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	return storage.NewStorageError("delete table", table, err)
}

// Put writes a single row in one transaction.
func (b *Backend) Put(ctx context.Context, table string, mutation *storage.Mutation) error {
	return b.PutBatch(ctx, table, []*storage.Mutation{mutation})
}

// PutBatch writes rows in as few transactions as BadgerDB allows.
// Transactions are only ever split between rows, never inside one.
func (b *Backend) PutBatch(ctx context.Context, table string, mutations []*storage.Mutation) error {
	if len(mutations) == 0 {
		return nil
	}
	for _, m := range mutations {
		if err := validateMutation(m); err != nil {
			return storage.NewStorageError("put", table, err)
		}
	}
	if err := b.checkSchema(table, mutationFamilies(mutations)); err != nil {
		return storage.NewStorageError("put", table, err)
	}
	if b.db.IsClosed() {
		return storage.NewStorageError("put", table, storage.ErrStorageClosed)
	}

	tx := b.db.NewTransaction(true)
	defer func() { tx.Discard() }()

	first := 0 // first mutation held by tx
	for i := 0; i < len(mutations); i++ {
		if err := ctx.Err(); err != nil {
			return storage.NewStorageError("put", table, err)
		}
		err := setRow(tx, table, mutations[i])
		if errors.Is(err, badger.ErrTxnTooBig) && i > first {
			// tx may hold part of row i; replay the complete rows into a fresh one
			tx.Discard()
			tx = b.db.NewTransaction(true)
			for _, m := range mutations[first:i] {
				if err := setRow(tx, table, m); err != nil {
					return storage.NewStorageError("put", table, err)
				}
			}
			if err := tx.Commit(); err != nil {
				return storage.NewStorageError("put", table, err)
			}
			b.logger.Debug("split batch write", "table", table, "rows", i-first)
			tx = b.db.NewTransaction(true)
			first = i
			i--
			continue
		}
		if err != nil {
			return storage.NewStorageError("put", table, err)
		}
	}
	return storage.NewStorageError("put", table, tx.Commit())
}

// Get reads one row.
func (b *Backend) Get(ctx context.Context, table, key string, families ...string) (storage.Row, error) {
	row := storage.Row{Key: key}
	if err := validateName("row key", key); err != nil {
		return row, storage.NewStorageError("get", table, err)
	}
	err := b.WithTx(func(tx *badger.Txn) error {
		schema, err := readFamilies(tx, table)
		if err != nil {
			return err
		}
		if len(families) == 0 {
			families = schema
		}
		for _, family := range families {
			if !slices.Contains(schema, family) {
				return fmt.Errorf("%w: %s", storage.ErrFamilyNotFound, family)
			}
			cells, err := readRowCells(tx, makeRowPrefix(table, family, key))
			if err != nil {
				return err
			}
			if len(cells) == 0 {
				continue
			}
			if row.Families == nil {
				row.Families = make(map[string]storage.Cells)
			}
			row.Families[family] = cells
		}
		return nil
	}, false)
	if err != nil {
		return storage.Row{Key: key}, storage.NewStorageError("get", table, err)
	}
	return row, nil
}

// ScanRange iterates rows of one family with start <= key < end.
// Each pass runs in its own read transaction and therefore sees a consistent
// snapshot of the table.
func (b *Backend) ScanRange(ctx context.Context, table, family, start, end string) iter.Seq2[storage.Row, error] {
	return func(yield func(storage.Row, error) bool) {
		if start >= end {
			return
		}
		stopped := false
		err := b.WithTx(func(tx *badger.Txn) error {
			schema, err := readFamilies(tx, table)
			if err != nil {
				return err
			}
			if !slices.Contains(schema, family) {
				return fmt.Errorf("%w: %s", storage.ErrFamilyNotFound, family)
			}

			prefix := makeFamilyPrefix(table, family)
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			it := tx.NewIterator(opts)
			defer it.Close()

			var current *storage.Row
			seek := append(slices.Clip(prefix), start...)
			for it.Seek(seek); it.Valid(); it.Next() {
				if err := ctx.Err(); err != nil {
					return err
				}
				item := it.Item()
				rowKey, column, ok := splitCellKey(prefix, item.Key())
				if !ok {
					continue
				}
				if rowKey >= end {
					break
				}
				if current != nil && current.Key != rowKey {
					if !yield(*current, nil) {
						stopped = true
						return nil
					}
					current = nil
				}
				if current == nil {
					current = &storage.Row{
						Key:      rowKey,
						Families: map[string]storage.Cells{family: {}},
					}
				}
				val, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				current.Families[family][column] = val
			}
			if current != nil && !yield(*current, nil) {
				stopped = true
			}
			return nil
		}, false)
		if err != nil && !stopped {
			yield(storage.Row{}, storage.NewStorageError("scan", table, err))
		}
	}
}

// ConditionalUpdate sets family:column to value if "value op stored" holds.
// Lost optimistic-transaction races are retried with backoff.
func (b *Backend) ConditionalUpdate(ctx context.Context, table, key, family, column string, op storage.CompareOp, value []byte) (bool, error) {
	for kind, name := range map[string]string{"row key": key, "family": family, "column": column} {
		if err := validateName(kind, name); err != nil {
			return false, storage.NewStorageError("check and put", table, err)
		}
	}
	if err := b.checkSchema(table, []string{family}); err != nil {
		return false, storage.NewStorageError("check and put", table, err)
	}

	cellKey := makeCellKey(table, family, key, column)
	written := false
	err := b.onConflict(ctx, func() error {
		written = false
		return b.WithTx(func(tx *badger.Txn) error {
			item, err := tx.Get(cellKey)
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					return nil
				}
				return err
			}
			stored, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if !op.Holds(bytes.Compare(value, stored)) {
				return nil
			}
			if err := tx.Set(cellKey, value); err != nil {
				return err
			}
			if err := tx.Commit(); err != nil {
				return err
			}
			written = true
			return nil
		}, true)
	})
	if err != nil {
		return false, storage.NewStorageError("check and put", table, err)
	}
	return written, nil
}

// onConflict runs fn, retrying while it fails with badger.ErrConflict.
func (b *Backend) onConflict(ctx context.Context, fn func() error) error {
	return retry.WithBackoff(ctx, fn, b.conflictAttempts, b.conflictDelay, func(err error) bool {
		return errors.Is(err, badger.ErrConflict)
	})
}

// checkSchema verifies that table exists and has all the given families.
func (b *Backend) checkSchema(table string, families []string) error {
	if err := validateName("table", table); err != nil {
		return err
	}
	return b.WithTx(func(tx *badger.Txn) error {
		schema, err := readFamilies(tx, table)
		if err != nil {
			return err
		}
		for _, family := range families {
			if !slices.Contains(schema, family) {
				return fmt.Errorf("%w: %s", storage.ErrFamilyNotFound, family)
			}
		}
		return nil
	}, false)
}

// Helper functions

// readFamilies reads the column families of a table.
func readFamilies(tx *badger.Txn, table string) ([]string, error) {
	item, err := tx.Get(makeSchemaKey(table))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", storage.ErrTableNotFound, table)
		}
		return nil, err
	}
	var families []string
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		families, unmarshalErr = storage.UnmarshalStrings(val)
		return unmarshalErr
	})
	return families, err
}

// readRowCells reads all cells below a row prefix.
func readRowCells(tx *badger.Txn, rowPrefix []byte) (storage.Cells, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = rowPrefix
	iter := tx.NewIterator(opts)
	defer iter.Close()

	var cells storage.Cells
	for iter.Rewind(); iter.Valid(); iter.Next() {
		item := iter.Item()
		val, err := item.ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		if cells == nil {
			cells = make(storage.Cells)
		}
		cells[string(item.Key()[len(rowPrefix):])] = val
	}
	return cells, nil
}

// setRow stages every cell of a mutation in tx.
func setRow(tx *badger.Txn, table string, m *storage.Mutation) error {
	for family, cells := range m.Columns {
		for column, value := range cells {
			if err := tx.Set(makeCellKey(table, family, m.Key, column), value); err != nil {
				return err
			}
		}
	}
	return nil
}

// mutationFamilies returns the distinct families touched by a set of mutations.
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
