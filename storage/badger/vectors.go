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


package badger

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/pagerag/ai"
	"github.com/poiesic/pagerag/core"
	"github.com/poiesic/pagerag/storage"
)

// VectorIndex implements storage.VectorIndex for BadgerDB.
// Queries are brute-force cosine similarity over a namespace.
type VectorIndex struct {
	backend   *Backend
	dimension int
	ownsDB    bool
	logger    *slog.Logger
}

var _ storage.VectorIndex = (*VectorIndex)(nil)

// IndexOption configures a VectorIndex.
type IndexOption func(*VectorIndex) error

// WithDimension rejects vectors whose length is not dim.
// Default is 0, which accepts any length.
func WithDimension(dim int) IndexOption {
	return func(v *VectorIndex) error {
		if dim < 0 {
			return fmt.Errorf("dimension must not be negative: %d", dim)
		}
		v.dimension = dim
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) IndexOption {
	return func(v *VectorIndex) error {
		if logger == nil {
			logger = slog.Default()
		}
		v.logger = logger.With("component", "badger-vector-index")
		return nil
	}
}

// NewVectorIndex creates a vector index on an open backend. Closing the
// index leaves the backend open.
func NewVectorIndex(backend *Backend, opts ...IndexOption) (*VectorIndex, error) {
	v := &VectorIndex{
		backend: backend,
		logger:  slog.Default().With("component", "badger-vector-index"),
	}
	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// OpenVectorIndex opens a backend at path and creates a vector index that
// owns it.
//
// Returns storage.VectorIndex interface to enforce abstraction.
func OpenVectorIndex(path string, opts ...IndexOption) (storage.VectorIndex, error) {
	backend, err := OpenBackend(path, false)
	if err != nil {
		return nil, err
	}
	v, err := NewVectorIndex(backend, opts...)
	if err != nil {
		backend.Close()
		return nil, err
	}
	v.ownsDB = true
	return v, nil
}

// Upsert writes records, replacing existing ids entirely.
func (v *VectorIndex) Upsert(ctx context.Context, namespace string, records []core.VectorRecord) (int, error) {
	if v.backend.IsClosed() {
		return 0, storage.ErrStorageClosed
	}
	for i := range records {
		if records[i].ID == "" {
			return 0, fmt.Errorf("%w: record %d has no id", storage.ErrInvalidQuery, i)
		}
		if err := v.checkDimension(records[i].Values); err != nil {
			return 0, err
		}
	}

	err := v.backend.WithTx(func(tx *badger.Txn) error {
		for i := range records {
			value, err := storage.MarshalVectorRecord(&records[i])
			if err != nil {
				return err
			}
			if err := tx.Set(makeVectorKey(namespace, records[i].ID), value); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return 0, err
	}

	v.logger.Debug("upserted vectors", "namespace", namespace, "count", len(records))
	return len(records), nil
}

// Query returns up to topK records most similar to vector that match filter.
func (v *VectorIndex) Query(ctx context.Context, namespace string, vector []float32, topK int, filter *core.SearchFilter) ([]core.SearchMatch, error) {
	if v.backend.IsClosed() {
		return nil, storage.ErrStorageClosed
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive", storage.ErrInvalidQuery)
	}
	if err := v.checkDimension(vector); err != nil {
		return nil, err
	}

	var matches []core.SearchMatch
	err := v.backend.scanPrefix(makeVectorNamespacePrefix(namespace), func(_, val []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		record, err := storage.UnmarshalVectorRecord(val)
		if err != nil {
			return err
		}
		metadata := record.Metadata.Map()
		if !storage.MatchFilter(filter, metadata) {
			return nil
		}
		matches = append(matches, core.SearchMatch{
			ID:       record.ID,
			Score:    ai.Similarity(vector, record.Values),
			Content:  record.Metadata.ContentPreview,
			Metadata: metadata,
			Location: record.Metadata.URL,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Sort by similarity descending, ties by id for a deterministic order
	slices.SortStableFunc(matches, func(a, b core.SearchMatch) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Delete removes the records selected by req.
func (v *VectorIndex) Delete(ctx context.Context, namespace string, req storage.DeleteRequest) (int, error) {
	if v.backend.IsClosed() {
		return 0, storage.ErrStorageClosed
	}
	if err := req.Validate(); err != nil {
		return 0, err
	}

	var keys [][]byte
	var err error
	if len(req.IDs) > 0 {
		keys, err = v.existingKeys(namespace, req.IDs)
	} else {
		keys, err = v.scanKeys(namespace, req)
	}
	if err != nil {
		return 0, err
	}

	if err := v.backend.deleteKeys(keys); err != nil {
		return 0, err
	}
	v.logger.Debug("deleted vectors", "namespace", namespace, "count", len(keys))
	return len(keys), nil
}

// Count returns the number of records in namespace.
func (v *VectorIndex) Count(ctx context.Context, namespace string) (int, error) {
	n := 0
	err := v.backend.scanPrefix(makeVectorNamespacePrefix(namespace), func(_, _ []byte) error {
		n++
		return nil
	})
	return n, err
}

// Close closes the backend if the index opened it.
func (v *VectorIndex) Close() error {
	if v.ownsDB {
		return v.backend.Close()
	}
	return nil
}

func (v *VectorIndex) checkDimension(vector []float32) error {
	if v.dimension > 0 && len(vector) != v.dimension {
		return fmt.Errorf("%w: got %d, want %d", storage.ErrDimensionMismatch, len(vector), v.dimension)
	}
	return nil
}

func (v *VectorIndex) existingKeys(namespace string, ids []string) ([][]byte, error) {
	var keys [][]byte
	seen := make(map[string]struct{}, len(ids))
	err := v.backend.WithTx(func(tx *badger.Txn) error {
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			key := makeVectorKey(namespace, id)
			if _, err := tx.Get(key); err != nil {
				if err == badger.ErrKeyNotFound {
					continue
				}
				return err
			}
			keys = append(keys, key)
		}
		return nil
	}, false)
	return keys, err
}

func (v *VectorIndex) scanKeys(namespace string, req storage.DeleteRequest) ([][]byte, error) {
	var keys [][]byte
	err := v.backend.scanPrefix(makeVectorNamespacePrefix(namespace), func(key, val []byte) error {
		if !req.All {
			record, err := storage.UnmarshalVectorRecord(val)
			if err != nil {
				return err
			}
			if !storage.MatchFilter(req.Filter, record.Metadata.Map()) {
				return nil
			}
		}
		keys = append(keys, slices.Clone(key))
		return nil
	})
	return keys, err
}
