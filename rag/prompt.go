package rag

import (
	"fmt"
	"strings"

	"github.com/poiesic/pagerag/core"
)

// NoAnswer is returned as the answer text when retrieval found no passages.
const NoAnswer = "No relevant documents were found."

// buildPrompt numbers passages from 1 in the order given and appends the
// question.
func buildPrompt(question string, passages []core.SearchMatch) string {
	var sb strings.Builder
	sb.WriteString("Passages:\n\n")
	for i, p := range passages {
		title, _ := p.Metadata["page_title"].(string)
		fmt.Fprintf(&sb, "[%d] %s", i+1, title)
		if p.Location != "" {
			fmt.Fprintf(&sb, " (%s)", p.Location)
		}
		sb.WriteString("\n")
		sb.WriteString(strings.TrimSpace(p.Content))
		sb.WriteString("\n\n")
	}
	sb.WriteString("Question: ")
	sb.WriteString(question)
	return sb.String()
}
