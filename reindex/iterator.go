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


package reindex

import (
	"context"
	"strings"

	"github.com/poiesic/pagerag/storage"
	"github.com/poiesic/pagerag/storage/object"
)

const (
	// DefaultBatchSize is the default number of pages embedded per batch
	DefaultBatchSize = 10
)

// KeyIterator iterates over the raw page keys of a project in batches.
type KeyIterator struct {
	store     storage.ObjectStore
	project   string
	batchSize int
}

// NewKeyIterator creates a new key iterator.
// batchSize: number of keys handed to each call (must be > 0)
func NewKeyIterator(store storage.ObjectStore, project string, batchSize int) *KeyIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &KeyIterator{
		store:     store,
		project:   project,
		batchSize: batchSize,
	}
}

// Keys returns every raw page key of the project in lexical order. Objects
// under the prefix that are not page payloads are ignored.
func (it *KeyIterator) Keys(ctx context.Context) ([]string, error) {
	listed, err := it.store.List(ctx, object.RawPagePrefix(it.project))
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(listed))
	for _, key := range listed {
		title, ok := object.TitleFromRawKey(it.project, key)
		// Titles may contain slashes, so nested keys are pages too.
		if !ok || strings.TrimSpace(title) == "" {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// ForEach lists the raw page keys once and calls fn for each batch.
// Iteration stops on first error from fn or when all keys are processed.
// Context cancellation is checked between batches.
func (it *KeyIterator) ForEach(ctx context.Context, fn func([]string) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	keys, err := it.Keys(ctx)
	if err != nil {
		return err
	}
	return it.batches(ctx, keys, fn)
}

func (it *KeyIterator) batches(ctx context.Context, keys []string, fn func([]string) error) error {
	for i := 0; i < len(keys); i += it.batchSize {
		end := min(i+it.batchSize, len(keys))

		if err := fn(keys[i:end]); err != nil {
			return err
		}

		// Check context after each batch
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}
