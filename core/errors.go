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

import "errors"

// Error kinds. Failures are wrapped with one of these so callers can
// branch with errors.Is instead of matching messages.
var (
	// ErrSourceFetchFailed indicates a network or API error from the content source.
	ErrSourceFetchFailed = errors.New("source fetch failed")

	// ErrStoreWriteFailed indicates an object store write error.
	ErrStoreWriteFailed = errors.New("object store write failed")

	// ErrEmbedFailed indicates an embedding computation error.
	ErrEmbedFailed = errors.New("embedding failed")

	// ErrIndexWriteFailed indicates a vector index write error.
	ErrIndexWriteFailed = errors.New("vector index write failed")

	// ErrIndexQueryFailed indicates a vector index or retrieval query error.
	ErrIndexQueryFailed = errors.New("vector index query failed")

	// ErrValidationFailed indicates invalid input such as an empty title or query.
	ErrValidationFailed = errors.New("validation failed")

	// ErrSignatureInvalid indicates a missing or mismatched request signature.
	ErrSignatureInvalid = errors.New("signature invalid")
)

// Validation details
var (
	ErrEmptyProject  = errors.New("project cannot be empty")
	ErrEmptyTitle    = errors.New("title cannot be empty")
	ErrEmptyQuery    = errors.New("query text cannot be empty")
	ErrTopKRange     = errors.New("result count out of range")
	ErrMalformedID   = errors.New("document id must have the form project#title")
	ErrEmptyPageText = errors.New("page has no text")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrSourceFetchFailed, "SourceFetchFailed"},
	{ErrStoreWriteFailed, "StoreWriteFailed"},
	{ErrEmbedFailed, "EmbedFailed"},
	{ErrIndexWriteFailed, "IndexWriteFailed"},
	{ErrIndexQueryFailed, "IndexQueryFailed"},
	{ErrValidationFailed, "ValidationFailed"},
	{ErrSignatureInvalid, "SignatureInvalid"},
}

// KindOf returns the name of the error kind err wraps, or "" if none.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return ""
}
