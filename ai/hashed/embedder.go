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


// Package hashed provides an offline Embedder whose vectors are derived
// from a keyed hash of the input text.
//
// Vectors carry no semantic meaning: identical texts map to identical
// vectors and different texts map to unrelated ones. It exists so that
// ingestion and retrieval can run end to end without a model server.
package hashed

import (
	"context"
	"log/slog"
	"math"
	"sync"

	"github.com/minio/highwayhash"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/pagerag/ai"
)

var key = []byte("pagerag-hashed-embedder-key-0001")

// Embedder implements ai.Embedder without any model.
type Embedder struct {
	dim    int
	model  string
	pool   *ants.Pool
	logger *slog.Logger
}

var _ ai.Embedder = (*Embedder)(nil)

// newEmbedder is an internal constructor that returns the concrete type.
func newEmbedder(config *ai.Config) (*Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	pool, err := ants.NewPool(config.Workers)
	if err != nil {
		return nil, err
	}

	return &Embedder{
		dim:    config.Dimensions,
		model:  config.EmbeddingModel,
		pool:   pool,
		logger: slog.Default().With("component", "hashed-embedder"),
	}, nil
}

// NewEmbedder creates a hashed embedder producing config.Dimensions wide vectors.
//
// Returns ai.Embedder interface to enforce abstraction.
func NewEmbedder(config *ai.Config) (ai.Embedder, error) {
	return newEmbedder(config)
}

// EmbedText returns the unit vector for text.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return vectorFor(text, e.dim)
}

// EmbedTexts embeds texts concurrently on the worker pool. Results are
// written by index so the output order matches the input.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	e.logger.Debug("generating embeddings for texts", "count", len(texts))

	out := make([][]float32, len(texts))
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for i, text := range texts {
		wg.Add(1)
		submitErr := e.pool.Submit(func() {
			defer wg.Done()
			vec, err := e.EmbedText(ctx, text)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			out[i] = vec
		})
		if submitErr != nil {
			wg.Done()
			wg.Wait()
			return nil, submitErr
		}
	}
	wg.Wait()

	if firstErr != nil {
		e.logger.Error("failed to generate embeddings", "count", len(texts), "err", firstErr)
		return nil, firstErr
	}
	return out, nil
}

// ModelInfo describes the embedder.
func (e *Embedder) ModelInfo() ai.ModelInfo {
	return ai.ModelInfo{ModelID: e.model, Dimension: e.dim, Provider: ai.ProviderHashed}
}

// Close releases the worker pool.
func (e *Embedder) Close() error {
	e.pool.Release()
	return nil
}

// vectorFor expands a 64-bit highwayhash of text into dim components with
// splitmix64 and normalizes the result.
func vectorFor(text string, dim int) ([]float32, error) {
	h, err := highwayhash.New64(key)
	if err != nil {
		return nil, err
	}
	if _, err := h.Write([]byte(text)); err != nil {
		return nil, err
	}
	state := h.Sum64()

	v := make([]float32, dim)
	for i := range v {
		state += 0x9e3779b97f4a7c15
		z := state
		z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
		z = (z ^ (z >> 27)) * 0x94d049bb133111eb
		z ^= z >> 31
		// Map to [-1, 1)
		v[i] = float32(float64(z>>11)/float64(1<<53)*2 - 1)
	}
	if allZero(v) {
		v[0] = 1
	}
	return ai.Normalize(v), nil
}

func allZero(v []float32) bool {
	for _, x := range v {
		if math.Abs(float64(x)) > 0 {
			return false
		}
	}
	return true
}
