package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultEnvFile is read when present unless another file is selected.
const DefaultEnvFile = ".env"

type loadOptions struct {
	file         string
	envFile      string
	envFileGiven bool
	lookup       func(string) (string, bool)
}

// LoadOption configures Load.
type LoadOption func(*loadOptions)

// WithFile reads YAML settings from path. A missing file is an error.
func WithFile(path string) LoadOption {
	return func(o *loadOptions) {
		o.file = path
	}
}

// WithEnvFile reads dotenv settings from path instead of DefaultEnvFile.
// A missing file is an error; an empty path disables dotenv loading.
func WithEnvFile(path string) LoadOption {
	return func(o *loadOptions) {
		o.envFile = path
		o.envFileGiven = true
	}
}

// WithLookup replaces os.LookupEnv as the source of environment values.
func WithLookup(lookup func(string) (string, bool)) LoadOption {
	return func(o *loadOptions) {
		o.lookup = lookup
	}
}

// Load builds a Config from defaults, the optional YAML file, the optional
// dotenv file and the environment, in that order. The result is not
// validated; call Validate before use.
func Load(opts ...LoadOption) (*Config, error) {
	o := &loadOptions{envFile: DefaultEnvFile, lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(o)
	}

	cfg := Default()

	if o.file != "" {
		data, err := os.ReadFile(o.file)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", o.file, err)
		}
	}

	dotenv := map[string]string{}
	if o.envFile != "" {
		values, err := godotenv.Read(o.envFile)
		switch {
		case err == nil:
			dotenv = values
		case errors.Is(err, fs.ErrNotExist) && !o.envFileGiven:
		default:
			return nil, fmt.Errorf("read env file: %w", err)
		}
	}

	// Process environment wins over the dotenv file.
	env := envReader{lookup: func(key string) (string, bool) {
		if v, ok := o.lookup(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}}
	env.apply(cfg)
	if env.err != nil {
		return nil, env.err
	}
	return cfg, nil
}

// envReader applies environment overrides and keeps the first parse error.
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

// get returns the first non-empty value among keys.
func (e *envReader) get(keys ...string) (string, bool) {
	for _, key := range keys {
		if v, ok := e.lookup(key); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

func (e *envReader) str(dst *string, keys ...string) {
	if v, ok := e.get(keys...); ok {
		*dst = v
	}
}

func (e *envReader) integer(dst *int, keys ...string) {
	v, ok := e.get(keys...)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(keys[0], v, err)
		return
	}
	*dst = n
}

func (e *envReader) float(dst *float64, keys ...string) {
	v, ok := e.get(keys...)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(keys[0], v, err)
		return
	}
	*dst = f
}

func (e *envReader) duration(dst *time.Duration, keys ...string) {
	v, ok := e.get(keys...)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(keys[0], v, err)
		return
	}
	*dst = d
}

// seconds reads a whole number of seconds.
func (e *envReader) seconds(dst *time.Duration, keys ...string) {
	v, ok := e.get(keys...)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(keys[0], v, err)
		return
	}
	*dst = time.Duration(n) * time.Second
}

func (e *envReader) fail(key, value string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%w: %s=%q: %w", ErrInvalidValue, key, value, err)
	}
}

func (e *envReader) apply(c *Config) {
	e.str(&c.DataDir, "PAGERAG_DATA_DIR")

	e.str(&c.Source.Project, "PAGERAG_SCRAPBOX_PROJECT", "SCRAPBOX_PROJECT")
	e.str(&c.Source.Token, "PAGERAG_SCRAPBOX_TOKEN", "SCRAPBOX_TOKEN", "SCRAPBOX_API_TOKEN")
	e.str(&c.Source.BaseURL, "PAGERAG_SCRAPBOX_BASE_URL")
	e.str(&c.Source.SiteURL, "PAGERAG_SITE_URL")
	e.integer(&c.Source.PageSize, "PAGERAG_SCRAPBOX_PAGE_SIZE")
	e.float(&c.Source.RequestsPerSecond, "PAGERAG_SCRAPBOX_RPS")

	e.str(&c.Storage.URL, "PAGERAG_OBJECT_STORE_URL")
	if c.Storage.URL == "" {
		if bucket, ok := e.get("S3_BUCKET"); ok {
			c.Storage.URL = "s3://" + bucket
		}
	}

	e.str(&c.Index.Driver, "PAGERAG_INDEX_DRIVER")
	e.str(&c.Index.Path, "PAGERAG_INDEX_PATH")
	e.str(&c.Index.DSN, "PAGERAG_POSTGRES_DSN", "DATABASE_URL")
	e.str(&c.Index.Table, "PAGERAG_POSTGRES_TABLE")
	e.str(&c.Index.Namespace, "PAGERAG_NAMESPACE")

	e.str(&c.AI.Provider, "PAGERAG_AI_PROVIDER")
	e.str(&c.AI.EmbeddingHost, "PAGERAG_EMBEDDING_HOST")
	e.str(&c.AI.EmbeddingModel, "PAGERAG_EMBEDDING_MODEL", "EMBEDDING_MODEL_ID")
	e.str(&c.AI.GeneratorHost, "PAGERAG_GENERATOR_HOST")
	e.str(&c.AI.GeneratorModel, "PAGERAG_GENERATOR_MODEL")
	e.str(&c.AI.Token, "PAGERAG_AI_TOKEN", "OPENAI_API_KEY")
	e.integer(&c.AI.Dimensions, "PAGERAG_EMBEDDING_DIMENSIONS")
	e.integer(&c.AI.Workers, "PAGERAG_EMBEDDING_WORKERS")

	e.str(&c.KnowledgeBase.Backend, "PAGERAG_RAG_BACKEND")
	e.str(&c.KnowledgeBase.ID, "PAGERAG_KNOWLEDGE_BASE_ID", "KNOWLEDGE_BASE_ID")
	e.str(&c.KnowledgeBase.DataSourceID, "PAGERAG_DATA_SOURCE_ID", "DATA_SOURCE_ID")
	e.str(&c.KnowledgeBase.ModelID, "PAGERAG_BEDROCK_MODEL_ID", "BEDROCK_MODEL_ID")
	e.str(&c.KnowledgeBase.Region, "PAGERAG_AWS_REGION", "AWS_REGION")

	e.str(&c.Sync.JobService, "PAGERAG_JOB_SERVICE")
	e.integer(&c.Sync.Workers, "PAGERAG_SYNC_WORKERS")

	e.integer(&c.Ingestion.MaxAttempts, "PAGERAG_MAX_ATTEMPTS", "EMBEDDING_MAX_RETRIES")
	e.duration(&c.Ingestion.RetryDelay, "PAGERAG_RETRY_DELAY")
	e.duration(&c.Ingestion.StepTimeout, "PAGERAG_STEP_TIMEOUT")
	if _, ok := e.get("PAGERAG_STEP_TIMEOUT"); !ok {
		e.seconds(&c.Ingestion.StepTimeout, "EMBEDDING_TIMEOUT_SECONDS")
	}

	e.integer(&c.Reindex.BatchSize, "PAGERAG_REINDEX_BATCH_SIZE", "EMBEDDING_BATCH_SIZE")
	e.integer(&c.Reindex.ReportInterval, "PAGERAG_REINDEX_REPORT_INTERVAL")
	e.integer(&c.Reindex.MaxRetries, "PAGERAG_REINDEX_MAX_RETRIES")
	e.duration(&c.Reindex.RetryDelay, "PAGERAG_REINDEX_RETRY_DELAY")

	e.str(&c.Webhook.Secret, "PAGERAG_WEBHOOK_SECRET", "WEBHOOK_SECRET")
}
