package kbsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/pagerag/core"
	"github.com/poiesic/pagerag/ingestion"
	"github.com/poiesic/pagerag/storage"
)

// maxFailureReasons caps the page failures copied into a job.
const maxFailureReasons = 10

// Runner performs one full ingestion run.
type Runner interface {
	ProcessAll(ctx context.Context) core.IngestionRun
}

var _ Runner = (*ingestion.Pipeline)(nil)

// LocalJobService runs ingestion jobs in process. Jobs are persisted in a
// JobStore and executed on a worker pool, one run per worker.
type LocalJobService struct {
	store   storage.JobStore
	runner  Runner
	pool    *ants.Pool
	workers int
	now     func() time.Time
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

var _ JobService = (*LocalJobService)(nil)

// LocalOption configures a LocalJobService.
type LocalOption func(*LocalJobService) error

// WithLocalLogger sets a custom logger.
// Default is slog.Default().
func WithLocalLogger(logger *slog.Logger) LocalOption {
	return func(s *LocalJobService) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger.With("component", "local-jobs")
		return nil
	}
}

// WithWorkers sets how many jobs may run at once. Starting a job while all
// workers are busy fails with ErrServiceBusy.
// Default is 1.
func WithWorkers(n int) LocalOption {
	return func(s *LocalJobService) error {
		if n < 1 {
			n = 1
		}
		s.workers = n
		return nil
	}
}

// WithLocalClock sets the time source for job timestamps.
func WithLocalClock(now func() time.Time) LocalOption {
	return func(s *LocalJobService) error {
		if now == nil {
			return errors.New("clock required")
		}
		s.now = now
		return nil
	}
}

// NewLocalJobService creates a job service that runs runner for every job.
// Call Close to stop running jobs and release the workers.
func NewLocalJobService(store storage.JobStore, runner Runner, opts ...LocalOption) (*LocalJobService, error) {
	if store == nil {
		return nil, ErrJobStoreRequired
	}
	if runner == nil {
		return nil, ErrRunnerRequired
	}

	s := &LocalJobService{
		store:   store,
		runner:  runner,
		workers: 1,
		now:     time.Now,
		logger:  slog.Default().With("component", "local-jobs"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	pool, err := ants.NewPool(s.workers, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}
	s.pool = pool
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// ListIngestionJobs returns the ListJobsLimit most recently started jobs.
func (s *LocalJobService) ListIngestionJobs(ctx context.Context, knowledgeBaseID, dataSourceID string) ([]core.IngestionJob, error) {
	stored, err := s.store.ListJobs(ctx, knowledgeBaseID, dataSourceID, ListJobsLimit)
	if err != nil {
		return nil, err
	}
	jobs := make([]core.IngestionJob, len(stored))
	for i, job := range stored {
		jobs[i] = *job
	}
	return jobs, nil
}

// StartIngestionJob records a STARTING job and hands it to a worker.
func (s *LocalJobService) StartIngestionJob(ctx context.Context, knowledgeBaseID, dataSourceID, description string) (core.IngestionJob, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return core.IngestionJob{}, ErrServiceClosed
	}
	s.wg.Add(1)
	s.mu.Unlock()

	now := s.now().UTC()
	job := core.IngestionJob{
		ID:              uuid.NewString(),
		KnowledgeBaseID: knowledgeBaseID,
		DataSourceID:    dataSourceID,
		Status:          core.JobStarting,
		Description:     description,
		StartedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.SaveJob(ctx, &job); err != nil {
		s.wg.Done()
		return core.IngestionJob{}, err
	}

	queued := job
	err := s.pool.Submit(func() {
		defer s.wg.Done()
		s.run(queued)
	})
	if err != nil {
		s.wg.Done()
		job.Status = core.JobFailed
		job.FailureReasons = []string{err.Error()}
		s.save(&job)
		if errors.Is(err, ants.ErrPoolOverload) {
			err = fmt.Errorf("%w: %w", ErrServiceBusy, err)
		}
		return job, err
	}

	s.logger.Info("queued ingestion job", "job_id", job.ID)
	return job, nil
}

// GetIngestionJob returns the job with jobID.
// Returns storage.ErrNotFound for unknown jobs or jobs of another pair.
func (s *LocalJobService) GetIngestionJob(ctx context.Context, knowledgeBaseID, dataSourceID, jobID string) (core.IngestionJob, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return core.IngestionJob{}, err
	}
	if job.KnowledgeBaseID != knowledgeBaseID || job.DataSourceID != dataSourceID {
		return core.IngestionJob{}, fmt.Errorf("%w: job %s", storage.ErrNotFound, jobID)
	}
	return *job, nil
}

// Wait blocks until every queued job has finished.
func (s *LocalJobService) Wait() {
	s.wg.Wait()
}

// Close cancels running jobs, waits for them and releases the workers.
func (s *LocalJobService) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.pool.Release()
	return nil
}

func (s *LocalJobService) run(job core.IngestionJob) {
	logger := s.logger.With("job_id", job.ID)
	job.Status = core.JobInProgress
	s.save(&job)
	logger.Info("ingestion job started")

	result := s.runner.ProcessAll(s.ctx)

	job.Statistics = core.JobStatistics{
		PagesScanned: result.TotalPages + result.Skipped,
		PagesIndexed: result.Successful,
		PagesFailed:  result.Failed,
	}
	switch {
	case errors.Is(result.Err, context.Canceled):
		job.Status = core.JobStopped
		job.FailureReasons = append(job.FailureReasons, result.Err.Error())
	case result.Err != nil:
		job.Status = core.JobFailed
		job.FailureReasons = append(job.FailureReasons, result.Err.Error())
	default:
		job.Status = core.JobComplete
	}
	for _, page := range result.Pages {
		if len(job.FailureReasons) >= maxFailureReasons {
			break
		}
		if !page.Success {
			job.FailureReasons = append(job.FailureReasons, page.Title+": "+page.Error())
		}
	}

	s.save(&job)
	logger.Info("ingestion job finished",
		"status", job.Status,
		"indexed", job.Statistics.PagesIndexed,
		"failed", job.Statistics.PagesFailed)
}

func (s *LocalJobService) save(job *core.IngestionJob) {
	job.UpdatedAt = s.now().UTC()
	if err := s.store.SaveJob(context.WithoutCancel(s.ctx), job); err != nil {
		s.logger.Error("error saving ingestion job", "job_id", job.ID, "status", job.Status, "err", err)
	}
}
