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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/poiesic/pagerag/ai"
	"github.com/poiesic/pagerag/core"
	"github.com/poiesic/pagerag/ingestion"
	"github.com/poiesic/pagerag/retry"
	"github.com/poiesic/pagerag/storage"
	"github.com/poiesic/pagerag/storage/object"
)

// Config holds configuration for the reindex operation.
type Config struct {
	// BatchSize is the number of pages embedded in each batch
	BatchSize int

	// ReportInterval is how often to report progress (number of pages)
	ReportInterval int

	// MaxRetries is the maximum number of attempts for each batch operation
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      DefaultBatchSize,
		ReportInterval: DefaultBatchSize,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
	}
}

// Summary reports the outcome of a reindex run.
type Summary struct {
	Total   int
	Indexed int
	Skipped int
	Elapsed time.Duration
}

// Option configures a Reindexer.
type Option func(*Reindexer) error

// WithLogger sets the logger. A nil logger selects the default.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reindexer) error {
		if logger == nil {
			logger = slog.Default().With("component", "reindex")
		}
		r.logger = logger
		return nil
	}
}

// WithNamespace sets the vector index namespace records are written to.
func WithNamespace(namespace string) Option {
	return func(r *Reindexer) error {
		r.namespace = namespace
		return nil
	}
}

// WithSiteURL sets the public base URL document links point at.
func WithSiteURL(siteURL string) Option {
	return func(r *Reindexer) error {
		r.siteURL = siteURL
		return nil
	}
}

// WithClock sets the time source stamped into processed metadata.
func WithClock(now func() time.Time) Option {
	return func(r *Reindexer) error {
		if now == nil {
			return errors.New("clock required")
		}
		r.now = now
		return nil
	}
}

// Reindexer orchestrates re-embedding every stored raw page of a project.
type Reindexer struct {
	store     storage.ObjectStore
	embedder  ai.Embedder
	index     storage.VectorIndex
	project   string
	namespace string
	siteURL   string
	config    *Config
	progress  io.Writer
	now       func() time.Time
	logger    *slog.Logger
	iterator  *KeyIterator
	processor *BatchProcessor
}

// NewReindexer creates a new reindexer.
// progress: where to write progress output (typically os.Stderr)
func NewReindexer(store storage.ObjectStore, embedder ai.Embedder, index storage.VectorIndex, project string, config *Config, progress io.Writer, opts ...Option) (*Reindexer, error) {
	switch {
	case store == nil:
		return nil, ErrObjectStoreRequired
	case embedder == nil:
		return nil, ErrEmbedderRequired
	case index == nil:
		return nil, ErrVectorIndexRequired
	}
	project = strings.TrimSpace(project)
	if project == "" {
		return nil, fmt.Errorf("%w: %w", core.ErrValidationFailed, core.ErrEmptyProject)
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxRetries <= 0 {
		return nil, retry.ErrInvalidMaxAttempts
	}
	if progress == nil {
		progress = io.Discard
	}

	r := &Reindexer{
		store:    store,
		embedder: embedder,
		index:    index,
		project:  project,
		siteURL:  ingestion.DefaultSiteURL,
		config:   config,
		progress: progress,
		now:      time.Now,
		logger:   slog.Default().With("component", "reindex"),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}

	r.iterator = NewKeyIterator(store, project, config.BatchSize)
	r.processor = &BatchProcessor{
		store:     store,
		embedder:  embedder,
		index:     index,
		project:   project,
		namespace: r.namespace,
		siteURL:   r.siteURL,
		policy: retry.Policy{
			MaxAttempts: config.MaxRetries,
			BaseDelay:   config.RetryDelay,
		},
		now:    r.now,
		logger: r.logger,
	}
	return r, nil
}

// Run re-embeds every raw page stored for the project.
// Progress is reported to the configured writer.
func (r *Reindexer) Run(ctx context.Context) (Summary, error) {
	var summary Summary

	keys, err := r.iterator.Keys(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to list raw pages: %w", err)
	}

	summary.Total = len(keys)
	if summary.Total == 0 {
		fmt.Fprintf(r.progress, "No raw pages found under %s (0 pages)\n", object.RawPagePrefix(r.project))
		return summary, nil
	}

	fmt.Fprintf(r.progress, "Starting reindex of %d pages (batch size: %d)\n",
		summary.Total, r.iterator.batchSize)
	r.logger.Info("reindex started", "project", r.project, "pages", summary.Total)

	tracker := NewProgressTracker(r.progress, summary.Total, r.config.ReportInterval)
	tracker.now = r.now
	tracker.Start()

	processed := 0
	err = r.iterator.batches(ctx, keys, func(batch []string) error {
		result, err := r.processor.Process(ctx, batch)
		summary.Indexed += result.Indexed
		summary.Skipped += result.Skipped
		if err != nil {
			return fmt.Errorf("failed to process batch: %w", err)
		}

		processed += len(batch)
		tracker.Update(processed)
		return nil
	})
	summary.Elapsed = tracker.Elapsed()
	if err != nil {
		r.logger.Error("reindex aborted", "project", r.project, "indexed", summary.Indexed, "err", err)
		return summary, err
	}

	tracker.Finish()

	rate := 0.0
	if summary.Elapsed > 0 {
		rate = float64(summary.Total) / summary.Elapsed.Seconds()
	}
	fmt.Fprintf(r.progress, "Reindex complete. Indexed %d pages, skipped %d in %v (%.1f pages/sec)\n",
		summary.Indexed, summary.Skipped, summary.Elapsed.Round(time.Second), rate)
	r.logger.Info("reindex complete", "project", r.project, "indexed", summary.Indexed, "skipped", summary.Skipped)
	return summary, nil
}
