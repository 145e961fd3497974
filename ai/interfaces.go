package ai

import "context"

// Embedder turns text into fixed-dimension vectors for similarity search.
// Implementations must be deterministic for a given text, return
// L2-normalized vectors and be safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings.
	// The returned slice holds embeddings in the same order as texts and is
	// element-wise identical to calling EmbedText on each.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)

	// ModelInfo describes the model producing the vectors.
	ModelInfo() ModelInfo
}

// Generator produces free text answers from a prompt.
// Implementations must be safe for concurrent use.
type Generator interface {
	// Generate returns the model's completion for prompt.
	Generate(ctx context.Context, prompt string) (string, error)
}

// AIProvider aggregates AI services for convenient initialization and lifecycle management.
type AIProvider interface {
	// Embedder returns the text embedding service.
	Embedder() Embedder

	// Generator returns the answer generation service.
	Generator() Generator

	// Close releases resources held by the provider and its services.
	// After Close is called, the provider and its services should not be used.
	Close() error
}
