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
	"context"
	"fmt"

	"github.com/poiesic/pagerag/core"
)

// ObjectStore is durable key/value blob storage for raw pages and metadata.
// Keys are slash separated paths such as "scrapbox/proj/Foo.json".
type ObjectStore interface {
	// Put writes data at key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte) error

	// Get reads the object at key.
	// Returns ErrNotFound if the object doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists reports whether an object is stored at key.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes the object at key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns the keys of every object under prefix, recursively,
	// in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// VectorIndex stores (id, vector, metadata) records partitioned by namespace.
// Implementations must be thread-safe.
type VectorIndex interface {
	// Upsert writes records, replacing vector and metadata of existing ids
	// entirely. Returns the number of records accepted.
	Upsert(ctx context.Context, namespace string, records []core.VectorRecord) (int, error)

	// Query returns up to topK records nearest to vector, highest similarity
	// first. A nil or empty filter matches every record; filter conditions
	// are ANDed.
	Query(ctx context.Context, namespace string, vector []float32, topK int, filter *core.SearchFilter) ([]core.SearchMatch, error)

	// Delete removes records selected by exactly one mode of req.
	// Returns the number of records removed.
	Delete(ctx context.Context, namespace string, req DeleteRequest) (int, error)

	// Close releases resources held by the index.
	Close() error
}

// DeleteRequest selects records to delete. Exactly one of IDs, Filter or
// All must be set.
type DeleteRequest struct {
	IDs    []string
	Filter *core.SearchFilter
	All    bool
}

// DeleteByIDs selects records by id.
func DeleteByIDs(ids ...string) DeleteRequest {
	return DeleteRequest{IDs: ids}
}

// DeleteByFilter selects records matching filter.
func DeleteByFilter(filter *core.SearchFilter) DeleteRequest {
	return DeleteRequest{Filter: filter}
}

// DeleteAll selects every record in the namespace.
func DeleteAll() DeleteRequest {
	return DeleteRequest{All: true}
}

// Validate checks that exactly one deletion mode is set.
func (r DeleteRequest) Validate() error {
	modes := 0
	if len(r.IDs) > 0 {
		modes++
	}
	if !r.Filter.IsEmpty() {
		modes++
	}
	if r.All {
		modes++
	}
	if modes != 1 {
		return fmt.Errorf("%w: delete needs exactly one of ids, filter or all, got %d", ErrInvalidQuery, modes)
	}
	return nil
}

// JobStore persists ingestion jobs run by the local job service.
type JobStore interface {
	// SaveJob inserts or replaces job.
	SaveJob(ctx context.Context, job *core.IngestionJob) error

	// GetJob returns the job with id.
	// Returns ErrNotFound if the job doesn't exist.
	GetJob(ctx context.Context, id string) (*core.IngestionJob, error)

	// ListJobs returns jobs for the knowledge base and data source pair,
	// most recently started first, at most limit (0 means no limit).
	ListJobs(ctx context.Context, knowledgeBaseID, dataSourceID string, limit int) ([]*core.IngestionJob, error)
}
