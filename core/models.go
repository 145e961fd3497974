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
	"encoding/binary"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-crypt/x/blake2b"
)

const (
	// SourceScrapbox tags documents that originate from Scrapbox.
	SourceScrapbox = "scrapbox"

	// MaxTags caps the number of page links carried as tags.
	MaxTags = 10

	// MaxPreviewChars caps the length of a content preview, in characters.
	MaxPreviewChars = 500

	// previewDescriptions is how many description lines feed a preview.
	previewDescriptions = 3
)

// ContentHash generates a deterministic 64-bit hash of text using BLAKE2b.
// Identical text always produces the same value.
func ContentHash(text string) uint64 {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return binary.LittleEndian.Uint64(sum)
}

// PageSummary is a page as it appears in a project listing.
type PageSummary struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Updated int64  `json:"updated"`
}

// Line is a single line of page text.
type Line struct {
	Text string `json:"text"`
}

// Page is a content unit fetched from the source. It is read-only once fetched.
type Page struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Lines        []Line          `json:"lines"`
	Links        []string        `json:"links"`
	Descriptions []string        `json:"descriptions"`
	Created      int64           `json:"created"`
	Updated      int64           `json:"updated"`
	CharsCount   int             `json:"charsCount"`
	LinesCount   int             `json:"linesCount"`
	Project      string          `json:"-"`
	Raw          json.RawMessage `json:"-"` // Undecoded source payload, persisted verbatim
}

// Text concatenates the title and every non-empty line, separating the
// title from the body with a blank line.
func (p *Page) Text() string {
	lines := make([]string, 0, len(p.Lines))
	for _, l := range p.Lines {
		if strings.TrimSpace(l.Text) != "" {
			lines = append(lines, l.Text)
		}
	}
	return p.Title + "\n\n" + strings.Join(lines, "\n")
}

// ToDocument projects the page into a Document. siteURL is the public base
// URL of the source, e.g. "https://scrapbox.io".
func (p *Page) ToDocument(siteURL string) (*Document, error) {
	id, err := NewDocumentID(p.Project, p.Title)
	if err != nil {
		return nil, err
	}

	tags := p.Links
	if len(tags) > MaxTags {
		tags = tags[:MaxTags]
	}

	descriptions := p.Descriptions
	if len(descriptions) > previewDescriptions {
		descriptions = descriptions[:previewDescriptions]
	}

	content := p.Text()
	return &Document{
		ID:             id,
		Title:          p.Title,
		Content:        content,
		Source:         SourceScrapbox,
		Project:        p.Project,
		URL:            strings.TrimSuffix(siteURL, "/") + "/" + p.Project + "/" + p.Title,
		CreatedAt:      p.Created,
		UpdatedAt:      p.Updated,
		Tags:           append([]string(nil), tags...),
		CharacterCount: p.CharsCount,
		LinesCount:     p.LinesCount,
		ContentPreview: Preview(strings.Join(descriptions, " "), content),
		PageID:         p.ID,
	}, nil
}

// Document is the storage and search ready projection of a Page.
type Document struct {
	ID             DocumentID
	Title          string
	Content        string
	Source         string
	Project        string
	URL            string
	CreatedAt      int64
	UpdatedAt      int64
	Tags           []string
	CharacterCount int
	LinesCount     int
	ContentPreview string
	PageID         string
	Score          *float64
}

// Preview returns preview truncated to MaxPreviewChars characters. When
// preview is blank the content is used instead.
func Preview(preview, content string) string {
	if strings.TrimSpace(preview) == "" {
		preview = content
	}
	return Truncate(preview, MaxPreviewChars)
}

// Truncate cuts s to at most n characters without splitting a rune.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// VectorMetadata carries the provenance of a VectorRecord.
type VectorMetadata struct {
	Source         string   `json:"source"`
	ProjectName    string   `json:"project_name"`
	PageTitle      string   `json:"page_title"`
	PageID         string   `json:"page_id"`
	ContentPreview string   `json:"content_preview"`
	URL            string   `json:"url"`
	S3Key          string   `json:"s3_key"`
	CreatedAt      int64    `json:"created_at"`
	UpdatedAt      int64    `json:"updated_at"`
	Tags           []string `json:"tags"`
	CharacterCount int      `json:"character_count"`
	LinesCount     int      `json:"lines_count"`
	ChunkIndex     int      `json:"chunk_index"`
	TotalChunks    int      `json:"total_chunks"`
}

// Metadata builds vector metadata for the document stored at objectKey.
func (d *Document) Metadata(objectKey string) VectorMetadata {
	return VectorMetadata{
		Source:         d.Source,
		ProjectName:    d.Project,
		PageTitle:      d.Title,
		PageID:         d.PageID,
		ContentPreview: d.ContentPreview,
		URL:            d.URL,
		S3Key:          objectKey,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
		Tags:           append([]string{}, d.Tags...),
		CharacterCount: d.CharacterCount,
		LinesCount:     d.LinesCount,
		ChunkIndex:     0,
		TotalChunks:    1,
	}
}

// Map renders the metadata as a generic map, the shape search matches carry.
func (m VectorMetadata) Map() map[string]any {
	tags := make([]any, len(m.Tags))
	for i, t := range m.Tags {
		tags[i] = t
	}
	return map[string]any{
		"source":          m.Source,
		"project_name":    m.ProjectName,
		"page_title":      m.PageTitle,
		"page_id":         m.PageID,
		"content_preview": m.ContentPreview,
		"url":             m.URL,
		"s3_key":          m.S3Key,
		"created_at":      m.CreatedAt,
		"updated_at":      m.UpdatedAt,
		"tags":            tags,
		"character_count": m.CharacterCount,
		"lines_count":     m.LinesCount,
		"chunk_index":     m.ChunkIndex,
		"total_chunks":    m.TotalChunks,
	}
}

// VectorRecord is an (id, embedding, metadata) tuple held by a vector index.
// The ID always equals the owning Document's ID.
type VectorRecord struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata VectorMetadata `json:"metadata"`
}

// SearchMatch is a transient similarity query result. Retrieval policies
// work on copies; the index is never mutated through a match.
type SearchMatch struct {
	ID          string
	Score       float64
	Content     string
	Metadata    map[string]any
	Location    string
	BoostFactor float64 // 0 until a recency boost has been applied
	Rank        int     // 1-based, 0 until ranked
}

// Clone returns a deep enough copy of the match for policy stages to mutate.
func (m SearchMatch) Clone() SearchMatch {
	if m.Metadata != nil {
		md := make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			md[k] = v
		}
		m.Metadata = md
	}
	return m
}

// SearchFilter is a conjunctive predicate over vector metadata. Zero-valued
// fields impose no constraint; an empty filter matches everything.
type SearchFilter struct {
	Source        string   `json:"source,omitempty" yaml:"source"`
	Tags          []string `json:"tags,omitempty" yaml:"tags"`
	CreatedAfter  *int64   `json:"created_after,omitempty" yaml:"createdAfter"`
	CreatedBefore *int64   `json:"created_before,omitempty" yaml:"createdBefore"`
	UpdatedAfter  *int64   `json:"updated_after,omitempty" yaml:"updatedAfter"`
	UpdatedBefore *int64   `json:"updated_before,omitempty" yaml:"updatedBefore"`
}

// IsEmpty reports whether the filter has no conditions.
func (f *SearchFilter) IsEmpty() bool {
	return f == nil || (f.Source == "" && len(f.Tags) == 0 &&
		f.CreatedAfter == nil && f.CreatedBefore == nil &&
		f.UpdatedAfter == nil && f.UpdatedBefore == nil)
}

// Citation is a passage an answer was grounded on.
type Citation struct {
	Content  string `json:"content"`
	Location string `json:"location"`
}

// Answer is a generated response to a question.
type Answer struct {
	Text      string         `json:"answer"`
	Citations []Citation     `json:"citations"`
	SessionID string         `json:"session_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SystemStatus describes the health of a retrieval backend.
type SystemStatus struct {
	Backend     string         `json:"backend"`
	Status      string         `json:"status"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	CreatedAt   *time.Time     `json:"created_at,omitempty"`
	UpdatedAt   *time.Time     `json:"updated_at,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}
