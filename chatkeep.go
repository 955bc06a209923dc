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


package chatkeep

import (
	"context"
	"log/slog"

	"github.com/poiesic/chatkeep/config"
	"github.com/poiesic/chatkeep/ingest"
	"github.com/poiesic/chatkeep/metrics"
	"github.com/poiesic/chatkeep/repository"
	"github.com/poiesic/chatkeep/storage"
	"github.com/poiesic/chatkeep/storage/badger"
	"github.com/poiesic/chatkeep/storage/redis"
)

type Database struct {
	store    storage.KeyValueStore
	chatRepo *repository.ChatRepository
	logger   *slog.Logger
}

// DatabaseOption configures a Database.
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	logger *slog.Logger
}

// WithLogger sets the logger handed to the store and the repository.
func WithLogger(logger *slog.Logger) DatabaseOption {
	return func(o *databaseOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewDatabase opens the store selected by cfg, provisions the tables and
// builds the chat repository on top of it.
func NewDatabase(ctx context.Context, cfg *config.Config, opts ...DatabaseOption) (*Database, error) {
	// Apply options
	options := &databaseOptions{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Open backend
	var (
		store storage.KeyValueStore
		err   error
	)
	switch cfg.Backend {
	case config.BackendRedis:
		store, err = redis.NewBackend(ctx, cfg.RedisURL,
			redis.WithPrefix(cfg.RedisPrefix), redis.WithLogger(options.logger))
	default:
		store, err = badger.OpenBackend(cfg.DataDir, cfg.InMemory, badger.WithLogger(options.logger))
	}
	if err != nil {
		return nil, err
	}
	store = metrics.InstrumentStore(store, cfg.Backend)

	repoOpts := []repository.Option{
		repository.WithRoomTable(cfg.RoomTable),
		repository.WithMessageTable(cfg.MessageTable),
		repository.WithLogger(options.logger),
	}
	if err := repository.EnsureSchema(ctx, store, repoOpts...); err != nil {
		store.Close()
		return nil, err
	}

	return &Database{
		store:    store,
		chatRepo: repository.NewChatRepository(store, repoOpts...),
		logger:   options.logger,
	}, nil
}

func (db *Database) Close() error {
	if err := db.store.Close(); err != nil {
		db.logger.Error("error closing backend storage", "err", err)
		return err
	}
	return nil
}

func (db *Database) ChatRepository() *repository.ChatRepository {
	return db.chatRepo
}

// Store returns the underlying key-value store.
func (db *Database) Store() storage.KeyValueStore {
	return db.store
}

// Ping checks that the store is reachable.
func (db *Database) Ping(ctx context.Context) error {
	return db.store.Ping(ctx)
}

func (db *Database) NewImporter(opts ...ingest.Option) (*ingest.Importer, error) {
	return ingest.NewImporter(db.chatRepo, opts...)
}
