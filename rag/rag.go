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


// Package rag provides the retrieval backends behind question answering.
//
// Every backend implements RAG:
//
//   - ManagedKB: a Bedrock knowledge base, retrieval and generation done by AWS
//   - VectorIndex: a local storage.VectorIndex plus an ai.Embedder and ai.Generator
//   - Stub: fixed empty results, for wiring tests and dry runs
//
// The backend is chosen once, at construction, from configuration.
package rag

import (
	"context"
	"errors"
	"log/slog"

	"github.com/poiesic/pagerag/core"
)

// Backend names, as reported in core.SystemStatus.Backend.
const (
	BackendManagedKB   = "managed_kb"
	BackendVectorIndex = "vector_index"
	BackendStub        = "stub"
)

// Status values reported by backends besides the managed service's own.
const (
	StatusAvailable = "AVAILABLE"
	StatusError     = "ERROR"
	StatusStub      = "STUB"
)

var (
	// ErrEmbedderRequired is returned when a VectorIndex backend has no embedder.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrIndexRequired is returned when a VectorIndex backend has no index.
	ErrIndexRequired = errors.New("vector index required")

	// ErrGeneratorRequired is returned by SearchAndGenerate when no generator is configured.
	ErrGeneratorRequired = errors.New("generator required")

	// ErrKnowledgeBaseRequired is returned when a ManagedKB has no knowledge base id.
	ErrKnowledgeBaseRequired = errors.New("knowledge base id required")
)

// RAG is a retrieval backend.
type RAG interface {
	// Search returns the raw matches for q, before any retrieval policy.
	Search(ctx context.Context, q core.SearchQuery) ([]core.SearchMatch, error)

	// SearchAndGenerate answers q from retrieved passages, with citations.
	SearchAndGenerate(ctx context.Context, q core.SearchQuery) (*core.Answer, error)

	// Status describes the backend. Backends report their own failures in
	// the returned status rather than as an error where they can.
	Status(ctx context.Context) (*core.SystemStatus, error)
}

type options struct {
	logger *slog.Logger
}

// Option configures a backend.
type Option func(*options) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		if logger == nil {
			logger = slog.Default()
		}
		o.logger = logger
		return nil
	}
}

func buildOptions(component string, opts []Option) (*options, error) {
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	o.logger = o.logger.With("component", component)
	return o, nil
}
