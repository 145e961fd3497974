// Package mock provides test double implementations of AI service interfaces.
//
// This package contains mock implementations of ai.Embedder, ai.Generator,
// and ai.AIProvider for use in unit tests. The mocks run without external
// services and behave deterministically.
//
// # Usage in Tests
//
//	embedder := mock.NewMockEmbedder()
//	embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
//	    return nil, errors.New("model offline")
//	}
//
//	generator := mock.NewMockGenerator("42")
//	// ... exercise code ...
//	prompts := generator.Prompts()
//
// # Default Behavior
//
//   - MockEmbedder: Returns unit vectors derived from an FNV hash of the text
//   - MockGenerator: Returns its canned Answer
//   - MockProvider: Aggregates mock embedder and generator
package mock
