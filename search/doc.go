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


// Package search turns raw retrieval matches into answers for callers.
//
// Policy post-processes matches in a fixed order:
//
//  1. FilterByScore drops low scores and blank content
//  2. RemoveDuplicates keeps the first match per id
//  3. BoostRecent scales scores by document age
//  4. Rank sorts by score and numbers the results
//
// KnowledgeService validates requests, calls a rag.RAG backend, applies
// the policy to search results, and reports every outcome, failures
// included, as a structured response.
package search
