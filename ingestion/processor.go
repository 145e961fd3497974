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


package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/poiesic/pagerag/ai"
	"github.com/poiesic/pagerag/core"
	"github.com/poiesic/pagerag/retry"
	"github.com/poiesic/pagerag/source"
	"github.com/poiesic/pagerag/storage"
	"github.com/poiesic/pagerag/storage/object"
)

// ProcessedMetadata is the record written to the metadata key of a page
// once it has been indexed.
type ProcessedMetadata struct {
	VectorID        string              `json:"vector_id"`
	EmbeddingsModel ai.ModelInfo        `json:"embeddings_model"`
	Metadata        core.VectorMetadata `json:"metadata"`
	ProcessedAt     time.Time           `json:"processed_at"`
}

// pageProcessor carries the state of one page through the steps.
type pageProcessor struct {
	p      *Pipeline
	id     core.DocumentID
	rawKey string
	page   *core.Page
	text   string
	vector []float32
	meta   core.VectorMetadata
}

// ProcessOne ingests the page titled title. Steps run in order and the
// first failure aborts the rest; writes made by earlier steps are kept.
func (p *Pipeline) ProcessOne(ctx context.Context, title string) core.PageResult {
	result := core.PageResult{
		Title:  title,
		Steps:  []core.Step{},
		Ledger: []core.StepRecord{},
	}

	if strings.TrimSpace(title) == "" {
		result.Err = fmt.Errorf("%w: %w", core.ErrValidationFailed, core.ErrEmptyTitle)
		return result
	}
	id, err := core.NewDocumentID(p.project, title)
	if err != nil {
		result.Err = err
		return result
	}
	result.DocumentID = id.String()

	proc := &pageProcessor{
		p:      p,
		id:     id,
		rawKey: object.RawPageKey(p.project, title),
	}
	steps := []struct {
		step core.Step
		run  func(context.Context) error
	}{
		{core.StepFetch, proc.fetch},
		{core.StepStoreRaw, proc.storeRaw},
		{core.StepExtractText, proc.extractText},
		{core.StepEmbed, proc.embed},
		{core.StepBuildMetadata, proc.buildMetadata},
		{core.StepUpsertVector, proc.upsertVector},
		{core.StepStoreMetadata, proc.storeMetadata},
	}

	for _, s := range steps {
		start := p.now()
		err := s.run(ctx)
		record := core.StepRecord{Step: s.step, Status: core.StepSucceeded, Duration: p.now().Sub(start)}
		if err != nil {
			record.Status = core.StepFailed
			record.Err = err
			result.Ledger = append(result.Ledger, record)
			result.Err = fmt.Errorf("%s: %w", s.step, err)
			p.logger.Debug("step failed", "title", title, "step", s.step, "err", err)
			return result
		}
		result.Ledger = append(result.Ledger, record)
		result.Steps = append(result.Steps, s.step)
		p.logger.Debug("step completed", "title", title, "step", s.step, "duration", record.Duration)
	}

	result.Success = true
	p.logger.Info("processed page", "title", title, "id", result.DocumentID)
	return result
}

func (pp *pageProcessor) fetch(ctx context.Context) error {
	return pp.p.do(ctx, core.ErrSourceFetchFailed, func(ctx context.Context) error {
		page, err := pp.p.source.GetPage(ctx, pp.id.Title())
		if errors.Is(err, source.ErrNotFound) {
			return retry.Permanent(err)
		}
		if err != nil {
			return err
		}
		if page == nil {
			return retry.Permanent(fmt.Errorf("%w: %s", source.ErrNotFound, pp.id.Title()))
		}
		pp.page = page
		return nil
	})
}

func (pp *pageProcessor) storeRaw(ctx context.Context) error {
	if pp.page.Project == "" {
		pp.page.Project = pp.p.project
	}
	var raw any = pp.page
	if len(pp.page.Raw) > 0 {
		raw = pp.page.Raw
	}
	return pp.p.do(ctx, core.ErrStoreWriteFailed, func(ctx context.Context) error {
		return storage.PutJSON(ctx, pp.p.store, pp.rawKey, raw)
	})
}

func (pp *pageProcessor) extractText(context.Context) error {
	if pp.page.Title == "" {
		pp.page.Title = pp.id.Title()
	}
	pp.text = pp.page.Text()
	if strings.TrimSpace(pp.text) == "" {
		return fmt.Errorf("%w: %w", core.ErrValidationFailed, core.ErrEmptyPageText)
	}
	return nil
}

func (pp *pageProcessor) embed(ctx context.Context) error {
	return pp.p.do(ctx, core.ErrEmbedFailed, func(ctx context.Context) error {
		vector, err := pp.p.embedder.EmbedText(ctx, pp.text)
		if err != nil {
			return err
		}
		if len(vector) == 0 {
			return retry.Permanent(errors.New("embedder returned an empty vector"))
		}
		pp.vector = vector
		return nil
	})
}

func (pp *pageProcessor) buildMetadata(context.Context) error {
	doc, err := pp.page.ToDocument(pp.p.siteURL)
	if err != nil {
		return err
	}
	pp.meta = doc.Metadata(pp.rawKey)
	return nil
}

func (pp *pageProcessor) upsertVector(ctx context.Context) error {
	record := core.VectorRecord{ID: pp.id.String(), Values: pp.vector, Metadata: pp.meta}
	return pp.p.do(ctx, core.ErrIndexWriteFailed, func(ctx context.Context) error {
		_, err := pp.p.index.Upsert(ctx, pp.p.namespace, []core.VectorRecord{record})
		if errors.Is(err, storage.ErrDimensionMismatch) || errors.Is(err, storage.ErrInvalidQuery) {
			return retry.Permanent(err)
		}
		return err
	})
}

func (pp *pageProcessor) storeMetadata(ctx context.Context) error {
	processed := ProcessedMetadata{
		VectorID:        pp.id.String(),
		EmbeddingsModel: pp.p.embedder.ModelInfo(),
		Metadata:        pp.meta,
		ProcessedAt:     pp.p.now().UTC(),
	}
	key := object.MetadataKey(pp.p.project, pp.id.Title())
	return pp.p.do(ctx, core.ErrStoreWriteFailed, func(ctx context.Context) error {
		return storage.PutJSON(ctx, pp.p.store, key, processed)
	})
}
