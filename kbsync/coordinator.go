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


// Package kbsync keeps a knowledge base in step with the object store.
//
// A Coordinator reacts to object store change notifications by starting an
// ingestion job for its knowledge base and data source, unless one is
// already starting or in progress. Jobs run on a JobService: the managed
// Bedrock agent service or a local service that drives the ingestion
// pipeline itself.
//
// The active-job check and the job start are two separate calls. Triggers
// arriving close together can both pass the check and start two jobs. That
// is accepted: a duplicate sync is wasteful but harmless, and the service
// serializes the actual ingestion.
package kbsync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/pagerag/core"
)

// DefaultSyncDescription is attached to jobs started by TriggerSync.
const DefaultSyncDescription = "Automatic sync triggered by object store event"

// ListJobsLimit is how many recent jobs are inspected for an active one.
const ListJobsLimit = 10

// JobService starts and inspects ingestion jobs for a knowledge base and
// data source pair.
type JobService interface {
	// ListIngestionJobs returns recent jobs, most recently started first.
	ListIngestionJobs(ctx context.Context, knowledgeBaseID, dataSourceID string) ([]core.IngestionJob, error)

	// StartIngestionJob starts a new job.
	StartIngestionJob(ctx context.Context, knowledgeBaseID, dataSourceID, description string) (core.IngestionJob, error)

	// GetIngestionJob returns the job with jobID.
	GetIngestionJob(ctx context.Context, knowledgeBaseID, dataSourceID, jobID string) (core.IngestionJob, error)
}

// SyncResult is the outcome of TriggerSync.
type SyncResult struct {
	JobID   string            `json:"sync_job_id"`
	Started bool              `json:"started"` // false when an active job was reused
	Job     core.IngestionJob `json:"job"`
}

// NotificationResult is the outcome of HandleNotification.
type NotificationResult struct {
	EventsProcessed int            `json:"processed_events"`
	Events          []ChangeRecord `json:"events"`
	Sync            *SyncResult    `json:"sync,omitempty"` // nil when there was nothing to sync
}

// Coordinator triggers ingestion jobs for one knowledge base and data source.
type Coordinator struct {
	jobs            JobService
	knowledgeBaseID string
	dataSourceID    string
	description     string
	logger          *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger.With("component", "sync-coordinator")
		return nil
	}
}

// WithDescription overrides the description of started jobs.
func WithDescription(description string) Option {
	return func(c *Coordinator) error {
		c.description = description
		return nil
	}
}

// NewCoordinator creates a coordinator for the knowledge base and data
// source pair. Both ids are required.
func NewCoordinator(jobs JobService, knowledgeBaseID, dataSourceID string, opts ...Option) (*Coordinator, error) {
	if jobs == nil {
		return nil, ErrJobServiceRequired
	}
	if knowledgeBaseID == "" || dataSourceID == "" {
		return nil, ErrNotConfigured
	}
	c := &Coordinator{
		jobs:            jobs,
		knowledgeBaseID: knowledgeBaseID,
		dataSourceID:    dataSourceID,
		description:     DefaultSyncDescription,
		logger:          slog.Default().With("component", "sync-coordinator"),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// TriggerSync returns the first starting or in-progress job if there is
// one, and starts a new job otherwise. Service errors are returned as is.
func (c *Coordinator) TriggerSync(ctx context.Context) (SyncResult, error) {
	jobs, err := c.jobs.ListIngestionJobs(ctx, c.knowledgeBaseID, c.dataSourceID)
	if err != nil {
		c.logger.Error("error listing ingestion jobs", "err", err)
		return SyncResult{}, fmt.Errorf("list ingestion jobs: %w", err)
	}

	for _, job := range jobs {
		if job.Status.Active() {
			c.logger.Info("ingestion job already running", "job_id", job.ID, "status", job.Status)
			return SyncResult{JobID: job.ID, Job: job}, nil
		}
	}

	job, err := c.jobs.StartIngestionJob(ctx, c.knowledgeBaseID, c.dataSourceID, c.description)
	if err != nil {
		c.logger.Error("error starting ingestion job", "err", err)
		return SyncResult{}, fmt.Errorf("start ingestion job: %w", err)
	}
	c.logger.Info("started ingestion job", "job_id", job.ID)
	return SyncResult{JobID: job.ID, Started: true, Job: job}, nil
}

// JobStatus returns the job with jobID.
func (c *Coordinator) JobStatus(ctx context.Context, jobID string) (core.IngestionJob, error) {
	job, err := c.jobs.GetIngestionJob(ctx, c.knowledgeBaseID, c.dataSourceID, jobID)
	if err != nil {
		c.logger.Error("error getting ingestion job status", "job_id", jobID, "err", err)
		return core.IngestionJob{}, fmt.Errorf("get ingestion job %s: %w", jobID, err)
	}
	return job, nil
}

// HandleNotification triggers one sync for a batch of change records.
// An empty batch triggers nothing.
func (c *Coordinator) HandleNotification(ctx context.Context, records []ChangeRecord) (NotificationResult, error) {
	result := NotificationResult{EventsProcessed: len(records), Events: records}
	if len(records) == 0 {
		c.logger.Info("no change records to process")
		result.Events = []ChangeRecord{}
		return result, nil
	}

	c.logger.Info("processing change records", "count", len(records))
	sync, err := c.TriggerSync(ctx)
	if err != nil {
		return NotificationResult{}, err
	}
	result.Sync = &sync
	return result, nil
}
