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


package core

import (
	"fmt"
	"strings"
)

const (
	// MinTopK and MaxTopK bound the result count of a SearchQuery.
	MinTopK = 1
	MaxTopK = 100

	idSeparator = "#"
)

// DocumentID identifies a document as project#title. It is the join key
// across the object store, the vector index and the metadata store.
type DocumentID struct {
	project string
	title   string
}

// NewDocumentID validates project and title and returns their DocumentID.
//
// Validation rules:
//   - project must not be empty
//   - title must not be empty
func NewDocumentID(project, title string) (DocumentID, error) {
	if project == "" {
		return DocumentID{}, fmt.Errorf("%w: %w", ErrValidationFailed, ErrEmptyProject)
	}
	if title == "" {
		return DocumentID{}, fmt.Errorf("%w: %w", ErrValidationFailed, ErrEmptyTitle)
	}
	return DocumentID{project: project, title: title}, nil
}

// ParseDocumentID parses "project#title", splitting on the first '#'.
// Titles may themselves contain '#'.
func ParseDocumentID(s string) (DocumentID, error) {
	project, title, ok := strings.Cut(s, idSeparator)
	if !ok {
		return DocumentID{}, fmt.Errorf("%w: %w: %q", ErrValidationFailed, ErrMalformedID, s)
	}
	return NewDocumentID(project, title)
}

// Project returns the project part of the id.
func (id DocumentID) Project() string {
	return id.project
}

// Title returns the title part of the id.
func (id DocumentID) Title() string {
	return id.title
}

// String returns the full id, project#title.
func (id DocumentID) String() string {
	return id.project + idSeparator + id.title
}

// IsZero reports whether id was never constructed.
func (id DocumentID) IsZero() bool {
	return id.project == "" && id.title == ""
}

// SearchQuery is a validated retrieval request.
type SearchQuery struct {
	text   string
	topK   int
	filter *SearchFilter
}

// NewSearchQuery trims text and validates it.
//
// Validation rules:
//   - text must not be blank
//   - topK must be within [MinTopK, MaxTopK]
func NewSearchQuery(text string, topK int, filter *SearchFilter) (SearchQuery, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return SearchQuery{}, fmt.Errorf("%w: %w", ErrValidationFailed, ErrEmptyQuery)
	}
	if topK < MinTopK || topK > MaxTopK {
		return SearchQuery{}, fmt.Errorf("%w: %w: top_k %d not in [%d, %d]",
			ErrValidationFailed, ErrTopKRange, topK, MinTopK, MaxTopK)
	}
	return SearchQuery{text: text, topK: topK, filter: filter}, nil
}

// Text returns the trimmed query text.
func (q SearchQuery) Text() string {
	return q.text
}

// TopK returns the requested result count.
func (q SearchQuery) TopK() int {
	return q.topK
}

// Filter returns the metadata filter, which may be nil.
func (q SearchQuery) Filter() *SearchFilter {
	return q.filter
}
