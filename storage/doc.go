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


// Package storage provides the storage abstraction layer for pagerag.
//
// This package defines the interfaces that decouple storage implementation
// from the ingestion and retrieval logic:
//
//   - ObjectStore: key-addressed blobs holding raw pages and metadata documents
//   - VectorIndex: namespaced vector records with filtered similarity queries
//   - JobStore: ingestion job bookkeeping for locally run syncs
//
// # Constructor Return Type Pattern
//
// Public constructors return the interface, not the concrete type:
//
//	store, err := object.NewStore("s3://bucket/root")   // storage.ObjectStore
//	index, err := badger.OpenVectorIndex("/path/to/db") // storage.VectorIndex
//	index, err := postgres.NewIndex(ctx, pool, 1536)    // storage.VectorIndex
//
// Test helpers (badger.NewMemoryStores) return concrete types so tests can
// reach backend specifics.
//
// # Filters
//
// MatchFilter is the reference semantics for core.SearchFilter. Backends that
// evaluate filters natively (postgres.BuildFilter) must agree with it.
//
// # Serialization
//
// Everything written to the object store is indented JSON produced by
// MarshalDocument. Vector records and jobs use compact JSON.
//
// # Thread Safety
//
// All implementations must be safe for concurrent use.
package storage
