package pagerag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/pagerag/ai/mock"
	"github.com/poiesic/pagerag/config"
	"github.com/poiesic/pagerag/core"
	"github.com/poiesic/pagerag/rag"
	"github.com/poiesic/pagerag/search"
	"github.com/poiesic/pagerag/source"
	"github.com/poiesic/pagerag/storage/object"
	"github.com/poiesic/pagerag/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testProject = "proj"

// scrapboxServer serves a fixed project in the Scrapbox API shape.
func scrapboxServer(t *testing.T, pages map[string][]string) *httptest.Server {
	t.Helper()
	titles := make([]string, 0, len(pages))
	for title := range pages {
		titles = append(titles, title)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /pages/{project}", func(w http.ResponseWriter, r *http.Request) {
		summaries := make([]core.PageSummary, 0, len(titles))
		for _, title := range titles {
			summaries = append(summaries, core.PageSummary{ID: "id-" + title, Title: title})
		}
		json.NewEncoder(w).Encode(map[string]any{"count": len(summaries), "pages": summaries})
	})
	mux.HandleFunc("GET /pages/{project}/{title}", func(w http.ResponseWriter, r *http.Request) {
		title := r.PathValue("title")
		lines, ok := pages[title]
		if !ok {
			http.NotFound(w, r)
			return
		}
		page := core.Page{ID: "id-" + title, Title: title, Updated: time.Now().Unix(), Links: []string{"go"}}
		for _, l := range lines {
			page.Lines = append(page.Lines, core.Line{Text: l})
		}
		json.NewEncoder(w).Encode(page)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Source.Project = testProject
	cfg.Storage.URL = fmt.Sprintf("mem://localhost/%s-%d", strings.ReplaceAll(t.Name(), "/", "_"), time.Now().UnixNano())
	cfg.Ingestion.MaxAttempts = 1
	cfg.Ingestion.RetryDelay = 0
	cfg.Reindex.RetryDelay = 0
	return cfg
}

func openTestSystem(t *testing.T, cfg *config.Config, pages map[string][]string) *System {
	t.Helper()
	srv := scrapboxServer(t, pages)
	s, err := Open(context.Background(), cfg,
		WithInMemoryIndex(),
		WithProvider(mock.NewMockProvider()),
		WithSourceOptions(source.WithBaseURL(srv.URL), source.WithRateLimit(1000, 100)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var testPages = map[string][]string{
	"Go":   {"Go is a programming language", "goroutines and channels"},
	"Rust": {"Rust is a systems language"},
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("nil config", func(t *testing.T) {
		_, err := Open(ctx, nil)
		assert.ErrorIs(t, err, config.ErrInvalidConfig)
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := Open(ctx, config.Default())
		assert.ErrorIs(t, err, config.ErrInvalidConfig)
	})

	t.Run("components are wired", func(t *testing.T) {
		s := openTestSystem(t, testConfig(t), nil)
		assert.NotNil(t, s.Pipeline())
		assert.NotNil(t, s.Service())
		assert.NotNil(t, s.Coordinator())
		assert.NotNil(t, s.ObjectStore())
		assert.NotNil(t, s.VectorIndex())
		assert.Equal(t, "mock", s.Embedder().ModelInfo().ModelID)
		assert.Equal(t, testProject, s.Pipeline().Project())
		assert.Equal(t, testProject, s.Config().Source.Project)
	})

	t.Run("hashed provider from config", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.AI.Dimensions = 64
		s, err := Open(ctx, cfg, WithInMemoryIndex())
		require.NoError(t, err)
		defer s.Close()
		assert.Equal(t, 64, s.Embedder().ModelInfo().Dimension)
	})

	t.Run("on-disk badger", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Index.Path = t.TempDir()
		s, err := Open(ctx, cfg, WithProvider(mock.NewMockProvider()))
		require.NoError(t, err)
		require.NoError(t, s.Close())
	})
}

func TestSystem_IngestAndSearch(t *testing.T) {
	ctx := context.Background()
	s := openTestSystem(t, testConfig(t), testPages)

	run := s.Pipeline().ProcessAll(ctx)
	require.NoError(t, run.Err)
	assert.Equal(t, 2, run.TotalPages)
	assert.Equal(t, 2, run.Successful)

	exists, err := s.ObjectStore().Exists(ctx, object.RawPageKey(testProject, "Go"))
	require.NoError(t, err)
	assert.True(t, exists)

	text := "Go\n\nGo is a programming language\ngoroutines and channels"
	resp := s.Service().SearchDocuments(ctx, text, 5, nil)
	require.Equal(t, search.StatusSuccess, resp.Status, resp.Message)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, testProject+"#Go", resp.Results[0].ID)
	assert.Equal(t, 1, resp.Results[0].Rank)

	answer := s.Service().Ask(ctx, "what is Go?", 3)
	require.Equal(t, search.StatusSuccess, answer.Status, answer.Message)
	assert.Equal(t, "mock answer", answer.Answer)
	assert.NotEmpty(t, answer.Citations)

	t.Run("reindex rebuilds from stored pages", func(t *testing.T) {
		var progress bytes.Buffer
		r, err := s.NewReindexer(&progress)
		require.NoError(t, err)
		summary, err := r.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, summary.Indexed)
		assert.Contains(t, progress.String(), "2/2")
	})
}

func TestSystem_Sync(t *testing.T) {
	ctx := context.Background()
	s := openTestSystem(t, testConfig(t), testPages)

	result, err := s.Coordinator().TriggerSync(ctx)
	require.NoError(t, err)
	assert.True(t, result.Started)
	s.WaitForJobs()

	job, err := s.Coordinator().JobStatus(ctx, result.JobID)
	require.NoError(t, err)
	assert.Equal(t, core.JobComplete, job.Status)
	assert.Equal(t, LocalKnowledgeBaseID, job.KnowledgeBaseID)
	assert.Equal(t, testProject, job.DataSourceID)
	assert.Equal(t, core.JobStatistics{PagesScanned: 2, PagesIndexed: 2}, job.Statistics)

	resp := s.Service().SearchDocuments(ctx, "Rust\n\nRust is a systems language", 1, nil)
	require.Equal(t, search.StatusSuccess, resp.Status, resp.Message)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, testProject+"#Rust", resp.Results[0].ID)
}

func TestSystem_HandleNotification(t *testing.T) {
	ctx := context.Background()
	body := []byte(`{"Records": [{"eventSource": "aws:s3", "eventName": "ObjectCreated:Put",
		"s3": {"bucket": {"name": "pages"}, "object": {"key": "scrapbox/proj/Go.json"}}}]}`)

	t.Run("signed", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Webhook.Secret = "s3cr3t"
		s := openTestSystem(t, cfg, testPages)

		_, err := s.HandleNotification(ctx, body, "")
		assert.ErrorIs(t, err, webhook.ErrSignatureMissing)

		_, err = s.HandleNotification(ctx, body, strings.Repeat("0", 64))
		assert.ErrorIs(t, err, core.ErrSignatureInvalid)

		sig, err := webhook.Sign(body, cfg.Webhook.Secret)
		require.NoError(t, err)
		result, err := s.HandleNotification(ctx, body, sig)
		require.NoError(t, err)
		assert.Equal(t, 1, result.EventsProcessed)
		require.NotNil(t, result.Sync)
		assert.True(t, result.Sync.Started)
		s.WaitForJobs()
	})

	t.Run("unsigned without secret", func(t *testing.T) {
		s := openTestSystem(t, testConfig(t), testPages)

		result, err := s.HandleNotification(ctx, []byte(`{"Records": []}`), "")
		require.NoError(t, err)
		assert.Zero(t, result.EventsProcessed)
		assert.Nil(t, result.Sync)

		_, err = s.HandleNotification(ctx, []byte(`nope`), "")
		assert.Error(t, err)
	})
}

func TestSystem_HandleNotificationRequest(t *testing.T) {
	body := `{"Records": [{"eventSource": "aws:s3", "eventName": "ObjectCreated:Put",
		"s3": {"bucket": {"name": "pages"}, "object": {"key": "scrapbox/proj/Go.json"}}}]}`

	t.Run("signed", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Webhook.Secret = "s3cr3t"
		s := openTestSystem(t, cfg, testPages)

		r := httptest.NewRequest(http.MethodPost, "/notify", strings.NewReader(body))
		_, err := s.HandleNotificationRequest(r)
		assert.ErrorIs(t, err, webhook.ErrSignatureMissing)

		sig, err := webhook.Sign([]byte(body), cfg.Webhook.Secret)
		require.NoError(t, err)
		r = httptest.NewRequest(http.MethodPost, "/notify", strings.NewReader(body))
		r.Header.Set(webhook.SignatureHeader, sig)
		result, err := s.HandleNotificationRequest(r)
		require.NoError(t, err)
		assert.Equal(t, 1, result.EventsProcessed)
		require.NotNil(t, result.Sync)
		s.WaitForJobs()
	})

	t.Run("unsigned without secret", func(t *testing.T) {
		s := openTestSystem(t, testConfig(t), testPages)

		r := httptest.NewRequest(http.MethodPost, "/notify", strings.NewReader(`{"Records": []}`))
		result, err := s.HandleNotificationRequest(r)
		require.NoError(t, err)
		assert.Zero(t, result.EventsProcessed)
		assert.Nil(t, result.Sync)
	})
}

func TestSystem_DebugLogsPolicyStages(t *testing.T) {
	ctx := context.Background()
	srv := scrapboxServer(t, testPages)
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	s, err := Open(ctx, testConfig(t),
		WithInMemoryIndex(),
		WithProvider(mock.NewMockProvider()),
		WithSourceOptions(source.WithBaseURL(srv.URL), source.WithRateLimit(1000, 100)),
		WithLogger(logger),
	)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Pipeline().ProcessAll(ctx).Err)
	resp := s.Service().SearchDocuments(ctx, "Go\n\nGo is a programming language\ngoroutines and channels", 5, nil)
	require.Equal(t, search.StatusSuccess, resp.Status, resp.Message)

	assert.Contains(t, logs.String(), "component=retrieval-policy")
	assert.Contains(t, logs.String(), "stage=filter")
	assert.Contains(t, logs.String(), "applied search policies")
}

func TestSystem_StubBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.KnowledgeBase.Backend = config.BackendStub
	s := openTestSystem(t, cfg, nil)

	status := s.Service().Status(context.Background())
	require.Equal(t, search.StatusSuccess, status.Status)
	assert.Equal(t, rag.StatusStub, status.SystemInfo.Status)
}
