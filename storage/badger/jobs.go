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
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/pagerag/core"
	"github.com/poiesic/pagerag/storage"
)

// JobStore implements storage.JobStore for BadgerDB.
type JobStore struct {
	backend *Backend
}

var _ storage.JobStore = (*JobStore)(nil)

// NewJobStore creates a new JobStore.
func NewJobStore(backend *Backend) *JobStore {
	return &JobStore{
		backend: backend,
	}
}

// SaveJob persists job, stamping UpdatedAt when it is unset.
func (r *JobStore) SaveJob(ctx context.Context, job *core.IngestionJob) error {
	if job.ID == "" {
		return fmt.Errorf("%w: job has no id", storage.ErrInvalidQuery)
	}
	return r.backend.WithTx(func(tx *badger.Txn) error {
		if job.UpdatedAt.IsZero() {
			job.UpdatedAt = time.Now().UTC()
		}
		value, err := storage.MarshalJob(job)
		if err != nil {
			return err
		}
		if err := tx.Set(makeJobKey(job.ID), value); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// GetJob retrieves the job with id.
func (r *JobStore) GetJob(ctx context.Context, id string) (*core.IngestionJob, error) {
	var job *core.IngestionJob
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeJobKey(id))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return fmt.Errorf("%w: job %s", storage.ErrNotFound, id)
			}
			return err
		}

		return item.Value(func(val []byte) error {
			var unmarshalErr error
			job, unmarshalErr = storage.UnmarshalJob(val)
			return unmarshalErr
		})
	}, false)

	return job, err
}

// ListJobs returns the jobs of a knowledge base and data source pair, most
// recently started first.
func (r *JobStore) ListJobs(ctx context.Context, knowledgeBaseID, dataSourceID string, limit int) ([]*core.IngestionJob, error) {
	var jobs []*core.IngestionJob
	err := r.backend.scanPrefix(makeJobPrefix(), func(_, val []byte) error {
		job, err := storage.UnmarshalJob(val)
		if err != nil {
			return err
		}
		if job.KnowledgeBaseID == knowledgeBaseID && job.DataSourceID == dataSourceID {
			jobs = append(jobs, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(jobs, func(a, b *core.IngestionJob) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}
