package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/poiesic/pagerag/ai"
	"github.com/poiesic/pagerag/core"
	"github.com/poiesic/pagerag/retry"
	"github.com/poiesic/pagerag/source"
	"github.com/poiesic/pagerag/storage"
)

const (
	// DefaultSiteURL is the public base URL document links point at.
	DefaultSiteURL = "https://scrapbox.io"

	// DefaultMaxAttempts is how often an I/O step is tried before it fails.
	DefaultMaxAttempts = 3

	// DefaultRetryDelay is the delay before the first retry of an I/O step.
	DefaultRetryDelay = 500 * time.Millisecond

	// DefaultStepTimeout bounds a single attempt of an I/O step.
	DefaultStepTimeout = 30 * time.Second

	maxRetryDelay = 10 * time.Second
)

// SourceClient reads pages from the content source.
type SourceClient interface {
	// ListPages returns every page of the project in listing order.
	ListPages(ctx context.Context) ([]core.PageSummary, error)

	// GetPage fetches a single page by title.
	GetPage(ctx context.Context, title string) (*core.Page, error)
}

var _ SourceClient = (*source.Client)(nil)

// Pipeline ingests the pages of one project.
// It holds no state between calls and is safe for concurrent use.
type Pipeline struct {
	source    SourceClient
	store     storage.ObjectStore
	embedder  ai.Embedder
	index     storage.VectorIndex
	project   string
	namespace string
	siteURL   string
	retry     retry.Policy
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger.With("component", "ingestion")
		return nil
	}
}

// WithRetry sets how often an I/O step is attempted and the delay before
// the first retry. The delay doubles on every further retry.
// Default is DefaultMaxAttempts and DefaultRetryDelay.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(p *Pipeline) error {
		if maxAttempts < 1 {
			return retry.ErrInvalidMaxAttempts
		}
		p.retry.MaxAttempts = maxAttempts
		p.retry.BaseDelay = baseDelay
		return nil
	}
}

// WithStepTimeout bounds every attempt of an I/O step. Zero disables the
// timeout. Default is DefaultStepTimeout.
func WithStepTimeout(d time.Duration) Option {
	return func(p *Pipeline) error {
		if d < 0 {
			return ErrInvalidStepTimeout
		}
		p.retry.Timeout = d
		return nil
	}
}

// WithClock sets the time source used for processed_at and run timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) error {
		if now == nil {
			return ErrClockRequired
		}
		p.now = now
		return nil
	}
}

// WithSiteURL sets the base URL of document links.
// Default is DefaultSiteURL.
func WithSiteURL(u string) Option {
	return func(p *Pipeline) error {
		p.siteURL = strings.TrimSuffix(u, "/")
		return nil
	}
}

// WithNamespace sets the vector index namespace records are written to.
// Default is the empty namespace.
func WithNamespace(ns string) Option {
	return func(p *Pipeline) error {
		p.namespace = ns
		return nil
	}
}

// NewPipeline creates a pipeline for project.
func NewPipeline(
	src SourceClient,
	store storage.ObjectStore,
	embedder ai.Embedder,
	index storage.VectorIndex,
	project string,
	opts ...Option,
) (*Pipeline, error) {
	if src == nil {
		return nil, ErrSourceRequired
	}
	if store == nil {
		return nil, ErrObjectStoreRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if index == nil {
		return nil, ErrVectorIndexRequired
	}
	if project == "" {
		return nil, fmt.Errorf("%w: %w", core.ErrValidationFailed, core.ErrEmptyProject)
	}

	p := &Pipeline{
		source:   src,
		store:    store,
		embedder: embedder,
		index:    index,
		project:  project,
		siteURL:  DefaultSiteURL,
		retry: retry.Policy{
			MaxAttempts: DefaultMaxAttempts,
			BaseDelay:   DefaultRetryDelay,
			MaxDelay:    maxRetryDelay,
			Timeout:     DefaultStepTimeout,
		},
		now:    time.Now,
		logger: slog.Default().With("component", "ingestion"),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Project returns the project the pipeline ingests.
func (p *Pipeline) Project() string {
	return p.project
}

// ProcessAll lists the project's pages and processes each one in listing
// order. Pages with an empty title are skipped. Page failures are recorded
// in the run and never abort it. A listing failure leaves the run empty
// with Err set. Cancelling ctx stops the run after the current page and
// records the cancellation in Err.
func (p *Pipeline) ProcessAll(ctx context.Context) core.IngestionRun {
	run := core.IngestionRun{
		Project:   p.project,
		Pages:     []core.PageResult{},
		StartedAt: p.now().UTC(),
	}
	p.logger.Info("fetching page list", "project", p.project)

	var pages []core.PageSummary
	err := p.do(ctx, core.ErrSourceFetchFailed, func(ctx context.Context) error {
		var err error
		pages, err = p.source.ListPages(ctx)
		return err
	})
	if err != nil {
		p.logger.Error("error listing pages", "project", p.project, "err", err)
		run.Err = err
		run.FinishedAt = p.now().UTC()
		return run
	}

	for i, page := range pages {
		if strings.TrimSpace(page.Title) == "" {
			run.Skipped++
			continue
		}
		if err := ctx.Err(); err != nil {
			p.logger.Warn("run cancelled", "project", p.project, "processed", run.TotalPages)
			run.Err = err
			break
		}

		p.logger.Debug("processing page", "index", i+1, "of", len(pages), "title", page.Title)
		result := p.ProcessOne(ctx, page.Title)
		if !result.Success {
			p.logger.Warn("page failed", "title", page.Title, "kind", core.KindOf(result.Err), "err", result.Err)
		}
		run.Add(result)
	}

	run.FinishedAt = p.now().UTC()
	p.logger.Info("ingestion run finished",
		"project", p.project,
		"total", run.TotalPages,
		"successful", run.Successful,
		"failed", run.Failed,
		"skipped", run.Skipped,
		"duration", run.FinishedAt.Sub(run.StartedAt))
	return run
}

// do runs an I/O operation under the retry policy and wraps a final
// failure with kind. Context errors are not retried.
func (p *Pipeline) do(ctx context.Context, kind error, operation func(ctx context.Context) error) error {
	err := retry.Do(ctx, p.retry, func(ctx context.Context) error {
		err := operation(ctx)
		if err != nil && (errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %w", kind, err)
	}
	return nil
}
