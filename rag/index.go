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


package rag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/pagerag/ai"
	"github.com/poiesic/pagerag/core"
	"github.com/poiesic/pagerag/storage"
)

// counter is implemented by indexes that can report their size.
type counter interface {
	Count(ctx context.Context, namespace string) (int, error)
}

// IndexBackend answers from a local vector index. Retrieval embeds the
// query and queries the index; generation prompts the generator with the
// retrieved passages.
type IndexBackend struct {
	embedder  ai.Embedder
	index     storage.VectorIndex
	generator ai.Generator
	namespace string
	logger    *slog.Logger
}

var _ RAG = (*IndexBackend)(nil)

// NewIndexBackend creates a backend over index. generator may be nil, in
// which case SearchAndGenerate fails with ErrGeneratorRequired.
func NewIndexBackend(embedder ai.Embedder, index storage.VectorIndex, generator ai.Generator, namespace string, opts ...Option) (*IndexBackend, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if index == nil {
		return nil, ErrIndexRequired
	}
	o, err := buildOptions("index-rag", opts)
	if err != nil {
		return nil, err
	}
	return &IndexBackend{
		embedder:  embedder,
		index:     index,
		generator: generator,
		namespace: namespace,
		logger:    o.logger,
	}, nil
}

// Search embeds the query text and returns the index's nearest matches.
func (b *IndexBackend) Search(ctx context.Context, q core.SearchQuery) ([]core.SearchMatch, error) {
	vector, err := b.embedder.EmbedText(ctx, q.Text())
	if err != nil {
		b.logger.Error("error generating embedding for query", "err", err)
		return nil, fmt.Errorf("%w: %w", core.ErrEmbedFailed, err)
	}

	matches, err := b.index.Query(ctx, b.namespace, vector, q.TopK(), q.Filter())
	if err != nil {
		b.logger.Error("error querying vector index", "err", err)
		return nil, fmt.Errorf("%w: %w", core.ErrIndexQueryFailed, err)
	}

	b.logger.Debug("retrieved matches", "count", len(matches), "top_k", q.TopK())
	return matches, nil
}

// SearchAndGenerate retrieves passages and asks the generator to answer
// from them. Every retrieved passage is returned as a citation.
func (b *IndexBackend) SearchAndGenerate(ctx context.Context, q core.SearchQuery) (*core.Answer, error) {
	if b.generator == nil {
		return nil, ErrGeneratorRequired
	}

	passages, err := b.Search(ctx, q)
	if err != nil {
		return nil, err
	}

	model := b.embedder.ModelInfo()
	answer := &core.Answer{
		Citations: make([]core.Citation, 0, len(passages)),
		Metadata: map[string]any{
			"backend":         BackendVectorIndex,
			"embedding_model": model.ModelID,
			"top_k":           q.TopK(),
			"passages":        len(passages),
		},
	}
	if len(passages) == 0 {
		answer.Text = NoAnswer
		return answer, nil
	}

	text, err := b.generator.Generate(ctx, buildPrompt(q.Text(), passages))
	if err != nil {
		b.logger.Error("error generating answer", "err", err)
		return nil, fmt.Errorf("%w: %w", core.ErrIndexQueryFailed, err)
	}
	answer.Text = text
	for _, p := range passages {
		answer.Citations = append(answer.Citations, core.Citation{
			Content:  p.Content,
			Location: p.Location,
		})
	}
	return answer, nil
}

// Status reports the index namespace and embedding model. When the index
// can count its records, a failed count yields StatusError.
func (b *IndexBackend) Status(ctx context.Context) (*core.SystemStatus, error) {
	model := b.embedder.ModelInfo()
	status := &core.SystemStatus{
		Backend: BackendVectorIndex,
		Status:  StatusAvailable,
		Name:    b.namespace,
		Details: map[string]any{
			"namespace":           b.namespace,
			"embedding_model":     model.ModelID,
			"embedding_dimension": model.Dimension,
			"embedding_provider":  model.Provider,
			"generator":           b.generator != nil,
		},
	}

	if c, ok := b.index.(counter); ok {
		n, err := c.Count(ctx, b.namespace)
		if err != nil {
			b.logger.Error("error counting records", "err", err)
			status.Status = StatusError
			status.Details["error"] = err.Error()
		} else {
			status.Details["records"] = n
		}
	}
	return status, nil
}
