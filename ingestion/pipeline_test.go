package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/pagerag/ai/mock"
	"github.com/poiesic/pagerag/core"
	"github.com/poiesic/pagerag/retry"
	"github.com/poiesic/pagerag/source"
	"github.com/poiesic/pagerag/storage"
	"github.com/poiesic/pagerag/storage/badger"
	"github.com/poiesic/pagerag/storage/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testProject = "proj"

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

// fakeSource serves pages from memory. failGets makes the next n fetches
// of a title fail with a transient error.
type fakeSource struct {
	mu       sync.Mutex
	pages    map[string]*core.Page
	listing  []core.PageSummary
	listErr  error
	failGets map[string]int
	block    bool
	gets     []string
}

func newFakeSource(pages ...*core.Page) *fakeSource {
	f := &fakeSource{pages: map[string]*core.Page{}, failGets: map[string]int{}}
	for _, p := range pages {
		f.pages[p.Title] = p
		f.listing = append(f.listing, core.PageSummary{ID: p.ID, Title: p.Title})
	}
	return f
}

func (f *fakeSource) ListPages(context.Context) ([]core.PageSummary, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.listing, nil
}

func (f *fakeSource) GetPage(ctx context.Context, title string) (*core.Page, error) {
	f.mu.Lock()
	f.gets = append(f.gets, title)
	block := f.block
	n := f.failGets[title]
	if n > 0 {
		f.failGets[title] = n - 1
	}
	page, ok := f.pages[title]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if n > 0 {
		return nil, errors.New("connection reset by peer")
	}
	if !ok {
		return nil, &source.StatusError{Code: http.StatusNotFound, URL: "/pages/proj/" + title}
	}
	cp := *page
	cp.Project = testProject
	return &cp, nil
}

func (f *fakeSource) getCount(title string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, g := range f.gets {
		if g == title {
			n++
		}
	}
	return n
}

// failingStore fails every Put under prefix.
type failingStore struct {
	storage.ObjectStore
	prefix string
}

func (s *failingStore) Put(ctx context.Context, key string, data []byte) error {
	if strings.HasPrefix(key, s.prefix) {
		return errors.New("access denied")
	}
	return s.ObjectStore.Put(ctx, key, data)
}

func testPage(title string, lines ...string) *core.Page {
	page := &core.Page{
		ID:           "id-" + title,
		Title:        title,
		Links:        []string{"go", "rag"},
		Descriptions: []string{"about " + title},
		Created:      1700000000,
		Updated:      1749556800,
		CharsCount:   42,
		LinesCount:   len(lines) + 1,
	}
	page.Lines = append(page.Lines, core.Line{Text: title})
	for _, l := range lines {
		page.Lines = append(page.Lines, core.Line{Text: l})
	}
	raw, _ := json.Marshal(page)
	page.Raw = raw
	return page
}

type fixture struct {
	src      *fakeSource
	store    storage.ObjectStore
	embedder *mock.MockEmbedder
	index    *badger.VectorIndex
}

func newFixture(t *testing.T, pages ...*core.Page) *fixture {
	t.Helper()
	index, _, backend, err := badger.NewMemoryStores()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	store, err := object.NewStore(fmt.Sprintf("mem://localhost/%s-%d", strings.ReplaceAll(t.Name(), "/", "_"), time.Now().UnixNano()))
	require.NoError(t, err)

	return &fixture{
		src:      newFakeSource(pages...),
		store:    store,
		embedder: mock.NewMockEmbedder(),
		index:    index,
	}
}

func (f *fixture) pipeline(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()
	opts = append([]Option{
		WithRetry(1, 0),
		WithClock(func() time.Time { return fixedNow }),
	}, opts...)
	p, err := NewPipeline(f.src, f.store, f.embedder, f.index, testProject, opts...)
	require.NoError(t, err)
	return p
}

func TestNewPipeline(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name string
		make func() (*Pipeline, error)
		want error
	}{
		{"nil source", func() (*Pipeline, error) { return NewPipeline(nil, f.store, f.embedder, f.index, testProject) }, ErrSourceRequired},
		{"nil store", func() (*Pipeline, error) { return NewPipeline(f.src, nil, f.embedder, f.index, testProject) }, ErrObjectStoreRequired},
		{"nil embedder", func() (*Pipeline, error) { return NewPipeline(f.src, f.store, nil, f.index, testProject) }, ErrEmbedderRequired},
		{"nil index", func() (*Pipeline, error) { return NewPipeline(f.src, f.store, f.embedder, nil, testProject) }, ErrVectorIndexRequired},
		{"empty project", func() (*Pipeline, error) { return NewPipeline(f.src, f.store, f.embedder, f.index, "") }, core.ErrValidationFailed},
		{"zero attempts", func() (*Pipeline, error) {
			return NewPipeline(f.src, f.store, f.embedder, f.index, testProject, WithRetry(0, 0))
		}, retry.ErrInvalidMaxAttempts},
		{"negative timeout", func() (*Pipeline, error) {
			return NewPipeline(f.src, f.store, f.embedder, f.index, testProject, WithStepTimeout(-time.Second))
		}, ErrInvalidStepTimeout},
		{"nil clock", func() (*Pipeline, error) {
			return NewPipeline(f.src, f.store, f.embedder, f.index, testProject, WithClock(nil))
		}, ErrClockRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := tc.make()
			assert.ErrorIs(t, err, tc.want)
			assert.Nil(t, p)
		})
	}

	p := f.pipeline(t, WithLogger(nil), WithSiteURL("https://example.com/"), WithNamespace("ns"))
	assert.Equal(t, testProject, p.Project())
}

func TestProcessOne_Success(t *testing.T) {
	ctx := context.Background()
	page := testPage("Foo", "first line", "", "  ", "second line")
	f := newFixture(t, page)
	p := f.pipeline(t)

	result := p.ProcessOne(ctx, "Foo")
	require.True(t, result.Success, result.Error())
	assert.Equal(t, "Foo", result.Title)
	assert.Equal(t, "proj#Foo", result.DocumentID)
	assert.Equal(t, core.Steps, result.Steps)
	require.Len(t, result.Ledger, len(core.Steps))
	for i, rec := range result.Ledger {
		assert.Equal(t, core.Steps[i], rec.Step)
		assert.Equal(t, core.StepSucceeded, rec.Status)
		assert.NoError(t, rec.Err)
	}
	assert.Empty(t, result.Error())

	t.Run("raw page persisted verbatim", func(t *testing.T) {
		data, err := f.store.Get(ctx, "scrapbox/proj/Foo.json")
		require.NoError(t, err)
		assert.JSONEq(t, string(page.Raw), string(data))
	})

	t.Run("embedded text is title and non-empty lines", func(t *testing.T) {
		assert.Equal(t, []string{"Foo\n\nFoo\nfirst line\nsecond line"}, f.embedder.Texts())
	})

	t.Run("vector indexed under project#title", func(t *testing.T) {
		matches, err := f.index.Query(ctx, "", mock.Vector(f.embedder.Texts()[0]), 5, nil)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "proj#Foo", matches[0].ID)
		assert.InDelta(t, 1.0, matches[0].Score, 1e-5)
		assert.Equal(t, "about Foo", matches[0].Content)
		assert.Equal(t, "https://scrapbox.io/proj/Foo", matches[0].Location)
		assert.Equal(t, "scrapbox/proj/Foo.json", matches[0].Metadata["s3_key"])
	})

	t.Run("processed metadata persisted", func(t *testing.T) {
		var processed ProcessedMetadata
		require.NoError(t, storage.GetJSON(ctx, f.store, "metadata/proj/Foo.json", &processed))
		assert.Equal(t, "proj#Foo", processed.VectorID)
		assert.Equal(t, f.embedder.ModelInfo(), processed.EmbeddingsModel)
		assert.True(t, fixedNow.Equal(processed.ProcessedAt))
		assert.Equal(t, "Foo", processed.Metadata.PageTitle)
		assert.Equal(t, "id-Foo", processed.Metadata.PageID)
		assert.Equal(t, []string{"go", "rag"}, processed.Metadata.Tags)
		assert.Equal(t, 1, processed.Metadata.TotalChunks)
	})
}

func TestProcessOne_EmptyTitle(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t)

	for _, title := range []string{"", "   "} {
		result := p.ProcessOne(context.Background(), title)
		assert.False(t, result.Success)
		assert.ErrorIs(t, result.Err, core.ErrValidationFailed)
		assert.Empty(t, result.Steps)
		assert.Empty(t, result.Ledger)
	}
	assert.Empty(t, f.src.gets, "source must not be called")
}

func TestProcessOne_FetchFailures(t *testing.T) {
	t.Run("missing page is not retried", func(t *testing.T) {
		f := newFixture(t)
		p := f.pipeline(t, WithRetry(3, time.Millisecond))

		result := p.ProcessOne(context.Background(), "Missing")
		assert.False(t, result.Success)
		assert.ErrorIs(t, result.Err, core.ErrSourceFetchFailed)
		assert.ErrorIs(t, result.Err, source.ErrNotFound)
		assert.Equal(t, "SourceFetchFailed", core.KindOf(result.Err))
		assert.Empty(t, result.Steps)
		require.Len(t, result.Ledger, 1)
		assert.Equal(t, core.StepFailed, result.Ledger[0].Status)
		assert.Equal(t, 1, f.src.getCount("Missing"))
	})

	t.Run("transient errors are retried", func(t *testing.T) {
		f := newFixture(t, testPage("Foo", "x"))
		f.src.failGets["Foo"] = 2
		p := f.pipeline(t, WithRetry(3, time.Millisecond))

		result := p.ProcessOne(context.Background(), "Foo")
		assert.True(t, result.Success, result.Error())
		assert.Equal(t, 3, f.src.getCount("Foo"))
	})

	t.Run("retries exhausted", func(t *testing.T) {
		f := newFixture(t, testPage("Foo", "x"))
		f.src.failGets["Foo"] = 5
		p := f.pipeline(t, WithRetry(2, time.Millisecond))

		result := p.ProcessOne(context.Background(), "Foo")
		assert.ErrorIs(t, result.Err, core.ErrSourceFetchFailed)
		assert.Contains(t, result.Error(), "connection reset")
		assert.Equal(t, 2, f.src.getCount("Foo"))
	})

	t.Run("step timeout", func(t *testing.T) {
		f := newFixture(t, testPage("Foo", "x"))
		f.src.block = true
		p := f.pipeline(t, WithStepTimeout(20*time.Millisecond))

		result := p.ProcessOne(context.Background(), "Foo")
		assert.ErrorIs(t, result.Err, core.ErrSourceFetchFailed)
		assert.ErrorIs(t, result.Err, context.DeadlineExceeded)
	})
}

func TestProcessOne_PartialWrites(t *testing.T) {
	ctx := context.Background()

	t.Run("embed failure keeps the raw copy", func(t *testing.T) {
		f := newFixture(t, testPage("Foo", "x"))
		f.embedder.EmbedTextFunc = func(context.Context, string) ([]float32, error) {
			return nil, errors.New("model unavailable")
		}
		p := f.pipeline(t)

		result := p.ProcessOne(ctx, "Foo")
		assert.False(t, result.Success)
		assert.ErrorIs(t, result.Err, core.ErrEmbedFailed)
		assert.Equal(t, []core.Step{core.StepFetch, core.StepStoreRaw, core.StepExtractText}, result.Steps)
		require.Len(t, result.Ledger, 4)
		assert.Equal(t, core.StepEmbed, result.Ledger[3].Step)
		assert.Equal(t, core.StepFailed, result.Ledger[3].Status)

		exists, err := f.store.Exists(ctx, "scrapbox/proj/Foo.json")
		require.NoError(t, err)
		assert.True(t, exists)
		count, err := f.index.Count(ctx, "")
		require.NoError(t, err)
		assert.Zero(t, count)

		t.Run("rerun self-heals", func(t *testing.T) {
			f.embedder.EmbedTextFunc = nil
			result := p.ProcessOne(ctx, "Foo")
			assert.True(t, result.Success, result.Error())
			count, err := f.index.Count(ctx, "")
			require.NoError(t, err)
			assert.Equal(t, 1, count)
		})
	})

	t.Run("raw store failure", func(t *testing.T) {
		f := newFixture(t, testPage("Foo", "x"))
		f.store = &failingStore{ObjectStore: f.store, prefix: "scrapbox/"}
		p := f.pipeline(t)

		result := p.ProcessOne(ctx, "Foo")
		assert.ErrorIs(t, result.Err, core.ErrStoreWriteFailed)
		assert.Equal(t, []core.Step{core.StepFetch}, result.Steps)
		assert.Zero(t, f.embedder.CallCount())
	})

	t.Run("metadata store failure keeps the vector", func(t *testing.T) {
		f := newFixture(t, testPage("Foo", "x"))
		f.store = &failingStore{ObjectStore: f.store, prefix: "metadata/"}
		p := f.pipeline(t)

		result := p.ProcessOne(ctx, "Foo")
		assert.ErrorIs(t, result.Err, core.ErrStoreWriteFailed)
		assert.Len(t, result.Steps, 6)
		count, err := f.index.Count(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("index write failure is not retried on dimension mismatch", func(t *testing.T) {
		f := newFixture(t, testPage("Foo", "x"))
		index, _, backend, err := badger.NewMemoryStores(badger.WithDimension(mock.DefaultDimensions + 1))
		require.NoError(t, err)
		t.Cleanup(func() { backend.Close() })
		f.index = index
		p := f.pipeline(t, WithRetry(3, time.Millisecond))

		result := p.ProcessOne(ctx, "Foo")
		assert.ErrorIs(t, result.Err, core.ErrIndexWriteFailed)
		assert.ErrorIs(t, result.Err, storage.ErrDimensionMismatch)
		assert.Equal(t, "IndexWriteFailed", core.KindOf(result.Err))
		assert.Len(t, result.Steps, 5)
	})
}

func TestProcessOne_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testPage("Foo", "x"))
	p := f.pipeline(t, WithNamespace("pages"))

	for range 3 {
		result := p.ProcessOne(ctx, "Foo")
		require.True(t, result.Success, result.Error())
	}
	count, err := f.index.Count(ctx, "pages")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	keys, err := f.store.List(ctx, object.RawPagePrefix(testProject))
	require.NoError(t, err)
	assert.Equal(t, []string{"scrapbox/proj/Foo.json"}, keys)
}

func TestProcessAll(t *testing.T) {
	ctx := context.Background()

	t.Run("isolates failures and skips empty titles", func(t *testing.T) {
		f := newFixture(t, testPage("A", "x"), testPage("B", "y"))
		f.src.listing = []core.PageSummary{
			{Title: "A"},
			{Title: ""},
			{Title: "Missing"},
			{Title: "B"},
		}
		p := f.pipeline(t)

		run := p.ProcessAll(ctx)
		require.NoError(t, run.Err)
		assert.Equal(t, testProject, run.Project)
		assert.Equal(t, 3, run.TotalPages)
		assert.Equal(t, 2, run.Successful)
		assert.Equal(t, 1, run.Failed)
		assert.Equal(t, 1, run.Skipped)
		assert.Equal(t, run.TotalPages, run.Successful+run.Failed)
		assert.InDelta(t, 2.0/3.0, run.SuccessRate(), 1e-9)
		assert.Equal(t, fixedNow, run.StartedAt)
		assert.Equal(t, fixedNow, run.FinishedAt)

		titles := make([]string, len(run.Pages))
		for i, r := range run.Pages {
			titles[i] = r.Title
		}
		assert.Equal(t, []string{"A", "Missing", "B"}, titles, "listing order")
		assert.ErrorIs(t, run.Pages[1].Err, core.ErrSourceFetchFailed)
	})

	t.Run("listing failure", func(t *testing.T) {
		f := newFixture(t, testPage("A", "x"))
		f.src.listErr = errors.New("503 service unavailable")
		p := f.pipeline(t)

		run := p.ProcessAll(ctx)
		assert.ErrorIs(t, run.Err, core.ErrSourceFetchFailed)
		assert.Zero(t, run.TotalPages)
		assert.Zero(t, run.Successful)
		assert.Zero(t, run.Failed)
		assert.Empty(t, run.Pages)
		assert.Zero(t, run.SuccessRate())
		assert.Empty(t, f.src.gets)
	})

	t.Run("empty project", func(t *testing.T) {
		f := newFixture(t)
		run := f.pipeline(t).ProcessAll(ctx)
		assert.NoError(t, run.Err)
		assert.Zero(t, run.TotalPages)
		assert.Zero(t, run.SuccessRate())
	})

	t.Run("cancelled context stops the run", func(t *testing.T) {
		f := newFixture(t, testPage("A", "x"), testPage("B", "y"))
		p := f.pipeline(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		run := p.ProcessAll(cctx)
		assert.ErrorIs(t, run.Err, context.Canceled)
		assert.Equal(t, run.TotalPages, run.Successful+run.Failed)
	})
}
