package rag

import (
	"context"

	"github.com/poiesic/pagerag/core"
)

// Stub is a backend with no data. Search finds nothing and answers are empty.
type Stub struct{}

var _ RAG = (*Stub)(nil)

// NewStub creates a stub backend.
func NewStub() *Stub {
	return &Stub{}
}

func (s *Stub) Search(_ context.Context, _ core.SearchQuery) ([]core.SearchMatch, error) {
	return []core.SearchMatch{}, nil
}

func (s *Stub) SearchAndGenerate(_ context.Context, q core.SearchQuery) (*core.Answer, error) {
	return &core.Answer{
		Citations: []core.Citation{},
		Metadata:  map[string]any{"backend": BackendStub, "top_k": q.TopK()},
	}, nil
}

func (s *Stub) Status(_ context.Context) (*core.SystemStatus, error) {
	return &core.SystemStatus{
		Backend: BackendStub,
		Status:  StatusStub,
		Name:    "stub",
	}, nil
}
