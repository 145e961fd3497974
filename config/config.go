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


// Package config assembles the settings of every pagerag component into a
// single Config value.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// an optional .env file, then the process environment. Later layers win.
// The result is validated once and passed to constructors; nothing reads
// the environment after Load returns.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/poiesic/pagerag/ai"
	"github.com/poiesic/pagerag/ingestion"
	"github.com/poiesic/pagerag/reindex"
	"github.com/poiesic/pagerag/source"
	"github.com/poiesic/pagerag/storage/postgres"
)

// Index drivers.
const (
	IndexBadger   = "badger"
	IndexPostgres = "postgres"
)

// Retrieval backends.
const (
	BackendIndex   = "index"
	BackendManaged = "managed"
	BackendStub    = "stub"
)

// Job services.
const (
	JobsLocal   = "local"
	JobsBedrock = "bedrock"
)

// Config is the complete configuration of a pagerag deployment.
type Config struct {
	// DataDir holds local state when no explicit locations are configured.
	DataDir string `yaml:"dataDir"`

	Source        SourceConfig        `yaml:"source"`
	Storage       StorageConfig       `yaml:"storage"`
	Index         IndexConfig         `yaml:"index"`
	AI            ai.Config           `yaml:"ai"`
	KnowledgeBase KnowledgeBaseConfig `yaml:"knowledgeBase"`
	Sync          SyncConfig          `yaml:"sync"`
	Ingestion     IngestionConfig     `yaml:"ingestion"`
	Reindex       ReindexConfig       `yaml:"reindex"`
	Webhook       WebhookConfig       `yaml:"webhook"`
}

// SourceConfig selects the Scrapbox project to ingest.
type SourceConfig struct {
	Project           string  `yaml:"project"`
	Token             string  `yaml:"-"` // connect.sid cookie, env only
	BaseURL           string  `yaml:"baseURL"`
	SiteURL           string  `yaml:"siteURL"`
	PageSize          int     `yaml:"pageSize"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
}

// StorageConfig locates the object store.
type StorageConfig struct {
	// URL is an afs location such as "s3://bucket/prefix" or
	// "file:///var/lib/pagerag/objects". Empty selects DataDir/objects.
	URL string `yaml:"url"`
}

// IndexConfig selects and locates the vector index.
type IndexConfig struct {
	Driver    string `yaml:"driver"`
	Path      string `yaml:"path"` // badger directory, empty selects DataDir/index
	DSN       string `yaml:"-"`    // postgres connection string, env only
	Table     string `yaml:"table"`
	Namespace string `yaml:"namespace"`
}

// KnowledgeBaseConfig selects the retrieval backend.
type KnowledgeBaseConfig struct {
	Backend      string `yaml:"backend"`
	ID           string `yaml:"id"`
	DataSourceID string `yaml:"dataSourceId"`
	ModelID      string `yaml:"modelId"`
	Region       string `yaml:"region"`
}

// SyncConfig selects the ingestion job service.
type SyncConfig struct {
	JobService string `yaml:"jobService"`
	Workers    int    `yaml:"workers"`
}

// IngestionConfig tunes per-step retries of the ingestion pipeline.
type IngestionConfig struct {
	MaxAttempts int           `yaml:"maxAttempts"`
	RetryDelay  time.Duration `yaml:"retryDelay"`
	StepTimeout time.Duration `yaml:"stepTimeout"`
}

// ReindexConfig tunes batch re-embedding.
type ReindexConfig struct {
	BatchSize      int           `yaml:"batchSize"`
	ReportInterval int           `yaml:"reportInterval"`
	MaxRetries     int           `yaml:"maxRetries"`
	RetryDelay     time.Duration `yaml:"retryDelay"`
}

// WebhookConfig holds the change notification signing secret.
type WebhookConfig struct {
	Secret string `yaml:"-"`
}

// Default returns the configuration used when nothing is overridden: a
// local badger index and file object store under ./data, offline hashed
// embeddings and a local job service.
func Default() *Config {
	return &Config{
		DataDir: "data",
		Source: SourceConfig{
			BaseURL:           source.DefaultBaseURL,
			SiteURL:           ingestion.DefaultSiteURL,
			PageSize:          source.DefaultPageSize,
			RequestsPerSecond: source.DefaultRequestsPerSecond,
		},
		Index: IndexConfig{
			Driver: IndexBadger,
			Table:  postgres.DefaultTable,
		},
		AI: *ai.DefaultConfig(),
		KnowledgeBase: KnowledgeBaseConfig{
			Backend: BackendIndex,
		},
		Sync: SyncConfig{
			JobService: JobsLocal,
			Workers:    1,
		},
		Ingestion: IngestionConfig{
			MaxAttempts: ingestion.DefaultMaxAttempts,
			RetryDelay:  ingestion.DefaultRetryDelay,
			StepTimeout: ingestion.DefaultStepTimeout,
		},
		Reindex: ReindexConfig{
			BatchSize:      reindex.DefaultBatchSize,
			ReportInterval: reindex.DefaultBatchSize,
			MaxRetries:     3,
			RetryDelay:     time.Second,
		},
	}
}

// ObjectStoreURL returns Storage.URL, or a file URL under DataDir.
func (c *Config) ObjectStoreURL() (string, error) {
	if c.Storage.URL != "" {
		return c.Storage.URL, nil
	}
	dir, err := filepath.Abs(filepath.Join(c.DataDir, "objects"))
	if err != nil {
		return "", fmt.Errorf("resolve object store directory: %w", err)
	}
	return "file://" + filepath.ToSlash(dir), nil
}

// IndexPath returns Index.Path, or a directory under DataDir.
func (c *Config) IndexPath() string {
	if c.Index.Path != "" {
		return c.Index.Path
	}
	return filepath.Join(c.DataDir, "index")
}

// Validate checks that the selected backends have what they need.
func (c *Config) Validate() error {
	if c.Source.Project == "" {
		return fmt.Errorf("%w: source project is required", ErrInvalidConfig)
	}
	if c.Source.PageSize <= 0 {
		return fmt.Errorf("%w: source page size must be positive", ErrInvalidConfig)
	}
	if c.Source.RequestsPerSecond <= 0 {
		return fmt.Errorf("%w: source requests per second must be positive", ErrInvalidConfig)
	}

	if err := c.AI.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	switch c.Index.Driver {
	case IndexBadger:
	case IndexPostgres:
		if c.Index.DSN == "" {
			return fmt.Errorf("%w: postgres index needs a DSN", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: index driver %q must be %s or %s", ErrInvalidConfig, c.Index.Driver, IndexBadger, IndexPostgres)
	}

	switch c.KnowledgeBase.Backend {
	case BackendIndex, BackendStub:
	case BackendManaged:
		if err := c.requireKnowledgeBase(false); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: knowledge base backend %q must be %s, %s or %s",
			ErrInvalidConfig, c.KnowledgeBase.Backend, BackendIndex, BackendManaged, BackendStub)
	}

	switch c.Sync.JobService {
	case JobsLocal:
		if c.Sync.Workers <= 0 {
			return fmt.Errorf("%w: sync workers must be positive", ErrInvalidConfig)
		}
	case JobsBedrock:
		if err := c.requireKnowledgeBase(true); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: job service %q must be %s or %s", ErrInvalidConfig, c.Sync.JobService, JobsLocal, JobsBedrock)
	}

	if c.Ingestion.MaxAttempts <= 0 {
		return fmt.Errorf("%w: ingestion max attempts must be positive", ErrInvalidConfig)
	}
	if c.Ingestion.RetryDelay < 0 || c.Ingestion.StepTimeout < 0 {
		return fmt.Errorf("%w: ingestion durations must not be negative", ErrInvalidConfig)
	}

	if c.Reindex.BatchSize <= 0 || c.Reindex.ReportInterval <= 0 || c.Reindex.MaxRetries <= 0 {
		return fmt.Errorf("%w: reindex batch size, report interval and max retries must be positive", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) requireKnowledgeBase(dataSource bool) error {
	if c.KnowledgeBase.ID == "" {
		return fmt.Errorf("%w: knowledge base id is required", ErrInvalidConfig)
	}
	if dataSource && c.KnowledgeBase.DataSourceID == "" {
		return fmt.Errorf("%w: data source id is required", ErrInvalidConfig)
	}
	if c.KnowledgeBase.Region == "" {
		return fmt.Errorf("%w: AWS region is required", ErrInvalidConfig)
	}
	return nil
}
