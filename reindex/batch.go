package reindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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

// BatchResult counts the outcome of one batch.
type BatchResult struct {
	Indexed int
	Skipped int // missing, undecodable or empty pages
}

// BatchProcessor re-embeds batches of stored raw pages and writes the
// resulting vectors and processed metadata.
type BatchProcessor struct {
	store     storage.ObjectStore
	embedder  ai.Embedder
	index     storage.VectorIndex
	project   string
	namespace string
	siteURL   string
	policy    retry.Policy
	now       func() time.Time
	logger    *slog.Logger
}

type pending struct {
	key  string
	text string
	doc  *core.Document
}

// Process embeds the pages stored at keys and upserts them. Pages that
// vanished, fail to decode or carry no text are skipped. Embedding and
// index writes are retried per batch under the processor's policy.
func (bp *BatchProcessor) Process(ctx context.Context, keys []string) (BatchResult, error) {
	var result BatchResult
	if len(keys) == 0 {
		return result, nil
	}

	batch := make([]pending, 0, len(keys))
	for _, key := range keys {
		item, ok, err := bp.load(ctx, key)
		if err != nil {
			return result, err
		}
		if !ok {
			result.Skipped++
			continue
		}
		batch = append(batch, item)
	}
	if len(batch) == 0 {
		return result, nil
	}

	texts := make([]string, len(batch))
	for i, item := range batch {
		texts[i] = item.text
	}

	var embeddings [][]float32
	err := bp.do(ctx, core.ErrEmbedFailed, func(ctx context.Context) error {
		var err error
		embeddings, err = bp.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return err
		}
		if len(embeddings) != len(batch) {
			return retry.Permanent(fmt.Errorf("%w: expected %d, got %d", ErrEmbeddingCountMismatch, len(batch), len(embeddings)))
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	records := make([]core.VectorRecord, len(batch))
	for i, item := range batch {
		records[i] = core.VectorRecord{
			ID:       item.doc.ID.String(),
			Values:   ai.Normalize(embeddings[i]),
			Metadata: item.doc.Metadata(item.key),
		}
	}

	err = bp.do(ctx, core.ErrIndexWriteFailed, func(ctx context.Context) error {
		_, err := bp.index.Upsert(ctx, bp.namespace, records)
		if errors.Is(err, storage.ErrDimensionMismatch) || errors.Is(err, storage.ErrInvalidQuery) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return result, err
	}

	model := bp.embedder.ModelInfo()
	processedAt := bp.now().UTC()
	for i, item := range batch {
		processed := ingestion.ProcessedMetadata{
			VectorID:        records[i].ID,
			EmbeddingsModel: model,
			Metadata:        records[i].Metadata,
			ProcessedAt:     processedAt,
		}
		key := object.MetadataKey(bp.project, item.doc.Title)
		err := bp.do(ctx, core.ErrStoreWriteFailed, func(ctx context.Context) error {
			return storage.PutJSON(ctx, bp.store, key, processed)
		})
		if err != nil {
			return result, err
		}
	}

	result.Indexed = len(batch)
	return result, nil
}

// load reads and decodes the raw page at key. ok is false when the page
// should be skipped.
func (bp *BatchProcessor) load(ctx context.Context, key string) (item pending, ok bool, err error) {
	var data []byte
	err = bp.do(ctx, core.ErrSourceFetchFailed, func(ctx context.Context) error {
		var err error
		data, err = bp.store.Get(ctx, key)
		if errors.Is(err, storage.ErrNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
	if errors.Is(err, storage.ErrNotFound) {
		bp.logger.Warn("raw page disappeared", "key", key)
		return item, false, nil
	}
	if err != nil {
		return item, false, err
	}

	var page core.Page
	if err := json.Unmarshal(data, &page); err != nil {
		bp.logger.Warn("skipping undecodable raw page", "key", key, "err", err)
		return item, false, nil
	}
	page.Project = bp.project
	if page.Title == "" {
		page.Title, _ = object.TitleFromRawKey(bp.project, key)
	}

	text := page.Text()
	if strings.TrimSpace(text) == "" {
		bp.logger.Debug("skipping page without text", "key", key)
		return item, false, nil
	}

	doc, err := page.ToDocument(bp.siteURL)
	if err != nil {
		bp.logger.Warn("skipping invalid raw page", "key", key, "err", err)
		return item, false, nil
	}
	return pending{key: key, text: text, doc: doc}, true, nil
}

func (bp *BatchProcessor) do(ctx context.Context, kind error, op func(ctx context.Context) error) error {
	err := retry.Do(ctx, bp.policy, op)
	if err == nil {
		return nil
	}
	if errors.Is(err, retry.ErrInvalidMaxAttempts) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}
