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


// Package pagerag ingests Scrapbox projects into a vector index and answers
// questions over them.
//
// Open wires a validated config.Config into every component: the page
// source, object store, vector index, embedder, ingestion pipeline,
// retrieval backend, knowledge service and sync coordinator.
package pagerag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/poiesic/pagerag/ai"
	"github.com/poiesic/pagerag/ai/hashed"
	"github.com/poiesic/pagerag/ai/openai"
	"github.com/poiesic/pagerag/config"
	"github.com/poiesic/pagerag/ingestion"
	"github.com/poiesic/pagerag/kbsync"
	"github.com/poiesic/pagerag/rag"
	"github.com/poiesic/pagerag/reindex"
	"github.com/poiesic/pagerag/search"
	"github.com/poiesic/pagerag/source"
	"github.com/poiesic/pagerag/storage"
	"github.com/poiesic/pagerag/storage/badger"
	"github.com/poiesic/pagerag/storage/object"
	"github.com/poiesic/pagerag/storage/postgres"
	"github.com/poiesic/pagerag/webhook"
)

// LocalKnowledgeBaseID identifies the local index to the coordinator when
// no knowledge base is configured.
const LocalKnowledgeBaseID = "local"

// System is a fully wired pagerag deployment.
type System struct {
	config      *config.Config
	source      *source.Client
	store       storage.ObjectStore
	backend     *badger.Backend
	index       storage.VectorIndex
	provider    ai.AIProvider
	pipeline    *ingestion.Pipeline
	rag         rag.RAG
	service     *search.KnowledgeService
	jobs        kbsync.JobService
	local       *kbsync.LocalJobService
	coordinator *kbsync.Coordinator
	logger      *slog.Logger
}

// Option configures Open.
type Option func(*options)

type options struct {
	provider   ai.AIProvider
	awsConfig  *aws.Config
	inMemory   bool
	sourceOpts []source.Option
	logger     *slog.Logger
}

// WithProvider supplies the AI provider instead of building one from
// config.AI. The system takes ownership and closes it.
func WithProvider(provider ai.AIProvider) Option {
	return func(o *options) {
		o.provider = provider
	}
}

// WithAWSConfig supplies the AWS configuration used by the managed
// knowledge base and the Bedrock job service.
func WithAWSConfig(cfg aws.Config) Option {
	return func(o *options) {
		o.awsConfig = &cfg
	}
}

// WithInMemoryIndex keeps the badger database in memory.
func WithInMemoryIndex() Option {
	return func(o *options) {
		o.inMemory = true
	}
}

// WithSourceOptions appends options to the Scrapbox client.
func WithSourceOptions(opts ...source.Option) Option {
	return func(o *options) {
		o.sourceOpts = append(o.sourceOpts, opts...)
	}
}

// WithLogger sets the logger. A nil logger selects the default.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Open validates cfg and builds a System. Close releases everything Open
// acquired.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*System, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", config.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	s := &System{config: cfg, logger: o.logger.With("component", "pagerag")}
	if err := s.open(ctx, o); err != nil {
		if cerr := s.Close(); cerr != nil {
			s.logger.Error("error releasing partially opened system", "err", cerr)
		}
		return nil, err
	}
	s.logger.Info("system ready",
		"project", cfg.Source.Project,
		"index", cfg.Index.Driver,
		"backend", cfg.KnowledgeBase.Backend,
		"jobs", cfg.Sync.JobService)
	return s, nil
}

func (s *System) open(ctx context.Context, o *options) error {
	cfg := s.config
	var err error

	// Create AI provider
	s.provider = o.provider
	if s.provider == nil {
		if s.provider, err = newProvider(&cfg.AI); err != nil {
			return fmt.Errorf("failed to create AI provider: %w", err)
		}
	}
	dimension := s.provider.Embedder().ModelInfo().Dimension

	// Create page source
	sourceOpts := []source.Option{
		source.WithBaseURL(cfg.Source.BaseURL),
		source.WithPageSize(cfg.Source.PageSize),
		source.WithRateLimit(cfg.Source.RequestsPerSecond, source.DefaultBurst),
		source.WithLogger(o.logger),
	}
	if cfg.Source.Token != "" {
		sourceOpts = append(sourceOpts, source.WithToken(cfg.Source.Token))
	}
	if s.source, err = source.NewClient(cfg.Source.Project, append(sourceOpts, o.sourceOpts...)...); err != nil {
		return fmt.Errorf("failed to create source client: %w", err)
	}

	// Create object store
	storeURL, err := cfg.ObjectStoreURL()
	if err != nil {
		return err
	}
	if s.store, err = object.NewStore(storeURL, object.WithLogger(o.logger)); err != nil {
		return fmt.Errorf("failed to open object store: %w", err)
	}

	// Open badger when it backs the index or the local job store
	if cfg.Index.Driver == config.IndexBadger || cfg.Sync.JobService == config.JobsLocal {
		if o.inMemory {
			s.backend, err = badger.OpenBackend("", true)
		} else {
			s.backend, err = badger.OpenBackend(cfg.IndexPath(), false)
		}
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
	}

	// Create vector index
	switch cfg.Index.Driver {
	case config.IndexPostgres:
		s.index, err = postgres.Open(ctx, cfg.Index.DSN, dimension,
			postgres.WithTable(cfg.Index.Table), postgres.WithLogger(o.logger))
	default:
		var index *badger.VectorIndex
		index, err = badger.NewVectorIndex(s.backend,
			badger.WithDimension(dimension), badger.WithLogger(o.logger))
		if err == nil {
			s.index = index
		}
	}
	if err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}

	// Create ingestion pipeline
	s.pipeline, err = ingestion.NewPipeline(s.source, s.store, s.provider.Embedder(), s.index, cfg.Source.Project,
		ingestion.WithLogger(o.logger.With("component", "ingestion")),
		ingestion.WithRetry(cfg.Ingestion.MaxAttempts, cfg.Ingestion.RetryDelay),
		ingestion.WithStepTimeout(cfg.Ingestion.StepTimeout),
		ingestion.WithSiteURL(cfg.Source.SiteURL),
		ingestion.WithNamespace(cfg.Index.Namespace),
	)
	if err != nil {
		return fmt.Errorf("failed to create ingestion pipeline: %w", err)
	}

	// Create retrieval backend and knowledge service
	if s.rag, err = s.newRAG(ctx, o); err != nil {
		return fmt.Errorf("failed to create retrieval backend: %w", err)
	}
	policyOpts := []search.PolicyOption{}
	if o.logger.Enabled(ctx, slog.LevelDebug) {
		policyOpts = append(policyOpts, search.WithMonitor(search.NewLogMonitor(o.logger)))
	}
	policy, err := search.NewPolicy(policyOpts...)
	if err != nil {
		return fmt.Errorf("failed to create retrieval policy: %w", err)
	}
	if s.service, err = search.NewKnowledgeService(s.rag, search.WithLogger(o.logger), search.WithPolicy(policy)); err != nil {
		return fmt.Errorf("failed to create knowledge service: %w", err)
	}

	// Create job service and coordinator
	knowledgeBaseID, dataSourceID := cfg.KnowledgeBase.ID, cfg.KnowledgeBase.DataSourceID
	switch cfg.Sync.JobService {
	case config.JobsBedrock:
		awsCfg, err := s.awsConfig(ctx, o)
		if err != nil {
			return err
		}
		if s.jobs, err = kbsync.NewBedrockJobServiceFromConfig(awsCfg, kbsync.WithBedrockLogger(o.logger)); err != nil {
			return fmt.Errorf("failed to create job service: %w", err)
		}
	default:
		s.local, err = kbsync.NewLocalJobService(badger.NewJobStore(s.backend), s.pipeline,
			kbsync.WithWorkers(cfg.Sync.Workers), kbsync.WithLocalLogger(o.logger))
		if err != nil {
			return fmt.Errorf("failed to create job service: %w", err)
		}
		s.jobs = s.local
		if knowledgeBaseID == "" {
			knowledgeBaseID = LocalKnowledgeBaseID
		}
		if dataSourceID == "" {
			dataSourceID = cfg.Source.Project
		}
	}
	if s.coordinator, err = kbsync.NewCoordinator(s.jobs, knowledgeBaseID, dataSourceID, kbsync.WithLogger(o.logger)); err != nil {
		return fmt.Errorf("failed to create sync coordinator: %w", err)
	}
	return nil
}

func (s *System) newRAG(ctx context.Context, o *options) (rag.RAG, error) {
	cfg := s.config
	switch cfg.KnowledgeBase.Backend {
	case config.BackendManaged:
		awsCfg, err := s.awsConfig(ctx, o)
		if err != nil {
			return nil, err
		}
		return rag.NewManagedKBFromConfig(awsCfg, cfg.KnowledgeBase.ID, cfg.KnowledgeBase.ModelID, rag.WithLogger(o.logger))
	case config.BackendStub:
		return rag.NewStub(), nil
	default:
		return rag.NewIndexBackend(s.provider.Embedder(), s.index, s.provider.Generator(), cfg.Index.Namespace, rag.WithLogger(o.logger))
	}
}

func (s *System) awsConfig(ctx context.Context, o *options) (aws.Config, error) {
	if o.awsConfig != nil {
		return *o.awsConfig, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(s.config.KnowledgeBase.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	o.awsConfig = &cfg
	return cfg, nil
}

// newProvider builds the provider selected by cfg.Provider. The hashed
// provider embeds offline and still generates answers over the
// OpenAI-compatible generator endpoint.
func newProvider(cfg *ai.Config) (ai.AIProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Provider == ai.ProviderOpenAI {
		return openai.NewProvider(cfg)
	}
	embedder, err := hashed.NewEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	generator, err := openai.NewGenerator(cfg)
	if err != nil {
		if c, ok := embedder.(io.Closer); ok {
			c.Close()
		}
		return nil, err
	}
	return ai.NewProvider(embedder, generator), nil
}

// Close stops running jobs and releases every component.
func (s *System) Close() error {
	var errs []error
	if s.local != nil {
		errs = append(errs, s.local.Close())
	}
	if s.provider != nil {
		if err := s.provider.Close(); err != nil {
			s.logger.Error("error closing AI provider", "err", err)
			errs = append(errs, err)
		}
	}
	if s.index != nil {
		if err := s.index.Close(); err != nil {
			s.logger.Error("error closing vector index", "err", err)
			errs = append(errs, err)
		}
	}
	if s.backend != nil {
		if err := s.backend.Close(); err != nil {
			s.logger.Error("error closing backend storage", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Config returns the configuration the system was opened with.
func (s *System) Config() *config.Config {
	return s.config
}

// Pipeline returns the ingestion pipeline.
func (s *System) Pipeline() *ingestion.Pipeline {
	return s.pipeline
}

// Service returns the knowledge service.
func (s *System) Service() *search.KnowledgeService {
	return s.service
}

// Coordinator returns the sync coordinator.
func (s *System) Coordinator() *kbsync.Coordinator {
	return s.coordinator
}

func (s *System) ObjectStore() storage.ObjectStore {
	return s.store
}

func (s *System) VectorIndex() storage.VectorIndex {
	return s.index
}

func (s *System) Embedder() ai.Embedder {
	return s.provider.Embedder()
}

// WaitForJobs blocks until locally running ingestion jobs finish. It
// returns immediately for remote job services.
func (s *System) WaitForJobs() {
	if s.local != nil {
		s.local.Wait()
	}
}

// NewReindexer returns a reindexer over the system's store, embedder and
// index, tuned by config.Reindex. Progress is written to progress.
func (s *System) NewReindexer(progress io.Writer, opts ...reindex.Option) (*reindex.Reindexer, error) {
	cfg := s.config
	rc := &reindex.Config{
		BatchSize:      cfg.Reindex.BatchSize,
		ReportInterval: cfg.Reindex.ReportInterval,
		MaxRetries:     cfg.Reindex.MaxRetries,
		RetryDelay:     cfg.Reindex.RetryDelay,
	}
	opts = append([]reindex.Option{
		reindex.WithLogger(s.logger.With("component", "reindex")),
		reindex.WithNamespace(cfg.Index.Namespace),
		reindex.WithSiteURL(cfg.Source.SiteURL),
	}, opts...)
	return reindex.NewReindexer(s.store, s.provider.Embedder(), s.index, cfg.Source.Project, rc, progress, opts...)
}

// HandleNotification authenticates and processes a change notification
// body. When a webhook secret is configured the signature must verify;
// otherwise it is ignored.
func (s *System) HandleNotification(ctx context.Context, body []byte, signature string) (kbsync.NotificationResult, error) {
	if secret := s.config.Webhook.Secret; secret != "" {
		if err := webhook.Verify(body, signature, secret); err != nil {
			s.logger.Warn("rejected notification", "err", err)
			return kbsync.NotificationResult{}, err
		}
	}
	records, err := kbsync.ParseNotification(body)
	if err != nil {
		return kbsync.NotificationResult{}, err
	}
	return s.coordinator.HandleNotification(ctx, records)
}

// HandleNotificationRequest is HandleNotification for an HTTP request
// carrying the signature in webhook.SignatureHeader.
func (s *System) HandleNotificationRequest(r *http.Request) (kbsync.NotificationResult, error) {
	var body []byte
	var err error
	if secret := s.config.Webhook.Secret; secret != "" {
		if body, err = webhook.VerifyRequest(r, secret); err != nil {
			s.logger.Warn("rejected notification", "err", err)
			return kbsync.NotificationResult{}, err
		}
	} else if r.Body != nil {
		defer r.Body.Close()
		if body, err = io.ReadAll(io.LimitReader(r.Body, webhook.MaxBodyBytes)); err != nil {
			return kbsync.NotificationResult{}, fmt.Errorf("read body: %w", err)
		}
	}
	records, err := kbsync.ParseNotification(body)
	if err != nil {
		return kbsync.NotificationResult{}, err
	}
	return s.coordinator.HandleNotification(r.Context(), records)
}
