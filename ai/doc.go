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


// Package ai provides abstractions for the AI services used by pagerag.
//
// The package defines three interfaces:
//
//   - Embedder: turns text into deterministic, unit-length vectors
//   - Generator: produces answers from a prompt
//   - AIProvider: aggregates both for initialization and shutdown
//
// It also holds the vector helpers shared by every index backend
// (Normalize, Similarity).
//
// # Implementation Packages
//
//   - ai/hashed: offline embedder seeded from a keyed hash of the text
//   - ai/openai: OpenAI-compatible APIs through langchaingo
//   - ai/mock: test doubles
//
// Public constructors in implementation packages return interface types.
// Mock constructors return concrete types so tests can inject behavior and
// assert on call counts.
//
// # Usage Example
//
//	provider, err := hashed.NewProvider(ai.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	vec, err := provider.Embedder().EmbedText(ctx, "Hello world")
package ai
