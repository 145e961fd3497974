package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewDocumentID(t *testing.T) {
	tests := []struct {
		name    string
		project string
		title   string
		wantErr error
	}{
		{name: "valid", project: "proj", title: "Foo"},
		{name: "title with hash", project: "proj", title: "C# notes"},
		{name: "empty project", project: "", title: "Foo", wantErr: ErrEmptyProject},
		{name: "empty title", project: "proj", title: "", wantErr: ErrEmptyTitle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := NewDocumentID(tt.project, tt.title)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("NewDocumentID() error = %v, want %v", err, tt.wantErr)
				}
				if !errors.Is(err, ErrValidationFailed) {
					t.Errorf("error does not carry ErrValidationFailed: %v", err)
				}
				if !id.IsZero() {
					t.Errorf("invalid id exposed: %v", id)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewDocumentID() unexpected error = %v", err)
			}
			if id.String() != tt.project+"#"+tt.title {
				t.Errorf("String() = %q", id.String())
			}
		})
	}
}

func TestParseDocumentID_RoundTrip(t *testing.T) {
	pairs := [][2]string{
		{"proj", "Foo"},
		{"proj", "a#b#c"},
		{"日本", "ページ タイトル"},
		{"p", "#"},
	}

	for _, p := range pairs {
		t.Run(fmt.Sprintf("%s/%s", p[0], p[1]), func(t *testing.T) {
			id, err := NewDocumentID(p[0], p[1])
			if err != nil {
				t.Fatalf("NewDocumentID() error = %v", err)
			}
			parsed, err := ParseDocumentID(id.String())
			if err != nil {
				t.Fatalf("ParseDocumentID() error = %v", err)
			}
			if parsed != id {
				t.Errorf("round trip = %#v, want %#v", parsed, id)
			}
		})
	}
}

func TestParseDocumentID_Invalid(t *testing.T) {
	for _, s := range []string{"", "noseparator", "#title", "proj#"} {
		t.Run(s, func(t *testing.T) {
			if _, err := ParseDocumentID(s); !errors.Is(err, ErrValidationFailed) {
				t.Errorf("ParseDocumentID(%q) error = %v, want validation failure", s, err)
			}
		})
	}
}

func TestNewSearchQuery(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		topK    int
		wantErr error
	}{
		{name: "valid", text: "what is go", topK: 5},
		{name: "upper bound", text: "q", topK: MaxTopK},
		{name: "blank text", text: "   ", topK: 5, wantErr: ErrEmptyQuery},
		{name: "zero top k", text: "q", topK: 0, wantErr: ErrTopKRange},
		{name: "too many", text: "q", topK: MaxTopK + 1, wantErr: ErrTopKRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := NewSearchQuery(tt.text, tt.topK, nil)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) || !errors.Is(err, ErrValidationFailed) {
					t.Errorf("NewSearchQuery() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewSearchQuery() unexpected error = %v", err)
			}
			if q.TopK() != tt.topK {
				t.Errorf("TopK() = %d", q.TopK())
			}
		})
	}

	t.Run("text is trimmed", func(t *testing.T) {
		q, err := NewSearchQuery("  hello  ", 1, nil)
		if err != nil {
			t.Fatal(err)
		}
		if q.Text() != "hello" {
			t.Errorf("Text() = %q", q.Text())
		}
	})
}

func TestKindOf(t *testing.T) {
	if got := KindOf(fmt.Errorf("%w: boom", ErrEmbedFailed)); got != "EmbedFailed" {
		t.Errorf("KindOf() = %q", got)
	}
	if got := KindOf(errors.New("other")); got != "" {
		t.Errorf("KindOf() = %q, want empty", got)
	}
	if got := KindOf(nil); got != "" {
		t.Errorf("KindOf(nil) = %q", got)
	}
}
