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


package search

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/pagerag/core"
	"github.com/poiesic/pagerag/rag"
)

// MaxResults caps top_k for service requests. core.SearchQuery itself
// allows more.
const MaxResults = 20

// Response status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Failure carries the error of a failed response.
type Failure struct {
	Err     error  `json:"-"`
	Kind    string `json:"error_kind,omitempty"`
	Message string `json:"error,omitempty"`
}

func failure(err error) Failure {
	return Failure{Err: err, Kind: core.KindOf(err), Message: err.Error()}
}

// SearchResponse is the result of KnowledgeService.SearchDocuments.
type SearchResponse struct {
	Query      string             `json:"query"`
	Results    []core.SearchMatch `json:"results"`
	TotalCount int                `json:"total_count"`
	Status     string             `json:"status"`
	Failure
}

// AnswerResponse is the result of KnowledgeService.Ask.
type AnswerResponse struct {
	Query     string          `json:"query"`
	Answer    string          `json:"answer"`
	Citations []core.Citation `json:"citations"`
	SessionID string          `json:"session_id,omitempty"`
	Metadata  map[string]any  `json:"metadata"`
	Status    string          `json:"status"`
	Failure
}

// StatusResponse is the result of KnowledgeService.Status.
type StatusResponse struct {
	Status     string             `json:"status"`
	SystemInfo *core.SystemStatus `json:"system_info"`
	Failure
}

// KnowledgeService answers search and question requests from a RAG
// backend. It never returns errors: validation and backend failures are
// reported inside the response.
type KnowledgeService struct {
	backend rag.RAG
	policy  *Policy
	apply   ApplyOptions
	logger  *slog.Logger
}

// Option configures a KnowledgeService.
type Option func(*KnowledgeService) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *KnowledgeService) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger.With("component", "knowledge-service")
		return nil
	}
}

// WithPolicy sets the retrieval policy applied to search results.
func WithPolicy(p *Policy) Option {
	return func(s *KnowledgeService) error {
		if p == nil {
			return ErrPolicyRequired
		}
		s.policy = p
		return nil
	}
}

// WithApplyOptions sets the policy stages applied to search results.
// Default is DefaultApplyOptions().
func WithApplyOptions(opts ApplyOptions) Option {
	return func(s *KnowledgeService) error {
		s.apply = opts
		return nil
	}
}

// NewKnowledgeService creates a service over backend.
func NewKnowledgeService(backend rag.RAG, opts ...Option) (*KnowledgeService, error) {
	if backend == nil {
		return nil, ErrBackendRequired
	}
	policy, err := NewPolicy()
	if err != nil {
		return nil, err
	}
	s := &KnowledgeService{
		backend: backend,
		policy:  policy,
		apply:   DefaultApplyOptions(),
		logger:  slog.Default().With("component", "knowledge-service"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// NewQuery validates a service request: non-empty text and
// 1 <= topK <= MaxResults.
func NewQuery(text string, topK int, filter *core.SearchFilter) (core.SearchQuery, error) {
	if topK > MaxResults {
		return core.SearchQuery{}, fmt.Errorf("%w: %w: top_k %d not in [%d, %d]",
			core.ErrValidationFailed, core.ErrTopKRange, topK, core.MinTopK, MaxResults)
	}
	return core.NewSearchQuery(text, topK, filter)
}

// SearchDocuments retrieves documents for text and applies the retrieval
// policy.
func (s *KnowledgeService) SearchDocuments(ctx context.Context, text string, topK int, filter *core.SearchFilter) SearchResponse {
	resp := SearchResponse{Query: text, Results: []core.SearchMatch{}}

	q, err := NewQuery(text, topK, filter)
	if err != nil {
		return s.searchFailed(resp, err)
	}
	s.logger.Info("searching documents", "query", core.Truncate(q.Text(), 50), "top_k", q.TopK())

	matches, err := s.backend.Search(ctx, q)
	if err != nil {
		return s.searchFailed(resp, wrapQueryError(err))
	}

	resp.Results = s.policy.Apply(matches, s.apply)
	resp.TotalCount = len(resp.Results)
	resp.Status = StatusSuccess
	s.logger.Info("found documents", "count", resp.TotalCount, "raw", len(matches))
	return resp
}

func (s *KnowledgeService) searchFailed(resp SearchResponse, err error) SearchResponse {
	s.logger.Error("error in search", "err", err)
	resp.Status = StatusError
	resp.Failure = failure(err)
	return resp
}

// Ask answers text from retrieved passages.
func (s *KnowledgeService) Ask(ctx context.Context, text string, topK int) AnswerResponse {
	resp := AnswerResponse{
		Query:     text,
		Citations: []core.Citation{},
		Metadata:  map[string]any{},
	}

	q, err := NewQuery(text, topK, nil)
	if err != nil {
		return s.askFailed(resp, err)
	}
	s.logger.Info("generating answer", "query", core.Truncate(q.Text(), 50), "top_k", q.TopK())

	answer, err := s.backend.SearchAndGenerate(ctx, q)
	if err != nil {
		return s.askFailed(resp, wrapQueryError(err))
	}

	resp.Answer = answer.Text
	resp.SessionID = answer.SessionID
	if answer.Citations != nil {
		resp.Citations = answer.Citations
	}
	if answer.Metadata != nil {
		resp.Metadata = answer.Metadata
	}
	resp.Status = StatusSuccess
	s.logger.Info("answer generated", "citations", len(resp.Citations))
	return resp
}

func (s *KnowledgeService) askFailed(resp AnswerResponse, err error) AnswerResponse {
	s.logger.Error("error in ask", "err", err)
	resp.Status = StatusError
	resp.Failure = failure(err)
	return resp
}

// Status reports the backend status.
func (s *KnowledgeService) Status(ctx context.Context) StatusResponse {
	info, err := s.backend.Status(ctx)
	if err != nil {
		s.logger.Error("error getting system status", "err", err)
		return StatusResponse{
			Status:     StatusError,
			SystemInfo: &core.SystemStatus{},
			Failure:    failure(wrapQueryError(err)),
		}
	}
	return StatusResponse{Status: StatusSuccess, SystemInfo: info}
}

// wrapQueryError attaches ErrIndexQueryFailed unless err already carries a kind.
func wrapQueryError(err error) error {
	if core.KindOf(err) != "" {
		return err
	}
	return fmt.Errorf("%w: %w", core.ErrIndexQueryFailed, err)
}
