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


// Package storage provides the storage abstraction layer for chatkeep.
//
// The package defines two contracts:
//
//   - KeyValueStore: a domain-agnostic, ordered key-value store organized in
//     tables and column families (a Bigtable-style data model). It offers per-row
//     atomic writes, exact-key reads, ordered range scans over half-open key
//     intervals and a single-column compare-and-swap.
//   - ChatRepository: rooms, messages and the long-pause statistic, built on
//     top of a KeyValueStore (see package repository).
//
// # Backends
//
//	backend, err := badger.OpenBackend("/path/to/db", false) // embedded BadgerDB
//	backend, err := redis.NewBackend(ctx, "redis://localhost:6379/0")
//
// Both satisfy KeyValueStore and pass the conformance suite in storagetest.
//
// # Ordering
//
// Keys compare byte-lexicographically. Anything that must range-scan in
// numeric order has to encode its numbers at a fixed width (see
// repository.MessageRowKey) and anything compared through ConditionalUpdate
// has to use an order-preserving encoding (see MarshalOrderedInt64).
//
// # Errors
//
// Every failure of a backend is reported as a *StorageError. Use errors.As to
// tell store failures from domain errors, and errors.Is with the sentinel
// errors of this package for the specific cause.
//
// # Thread Safety
//
// All implementations must be thread-safe and support concurrent access from
// multiple goroutines.
package storage
