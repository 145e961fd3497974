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

import "time"

// Step names a stage of single page ingestion.
type Step string

// Ingestion steps in execution order.
const (
	StepFetch         Step = "fetch"
	StepStoreRaw      Step = "store_raw"
	StepExtractText   Step = "extract_text"
	StepEmbed         Step = "embed"
	StepBuildMetadata Step = "build_metadata"
	StepUpsertVector  Step = "upsert_vector"
	StepStoreMetadata Step = "store_metadata"
)

// Steps lists every ingestion step in execution order.
var Steps = []Step{
	StepFetch,
	StepStoreRaw,
	StepExtractText,
	StepEmbed,
	StepBuildMetadata,
	StepUpsertVector,
	StepStoreMetadata,
}

// StepStatus is the outcome of a ledger entry.
type StepStatus string

const (
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
)

// StepRecord is one entry of a page's step ledger.
type StepRecord struct {
	Step     Step
	Status   StepStatus
	Duration time.Duration
	Err      error
}

// PageResult is the outcome of ingesting a single page.
type PageResult struct {
	Title      string
	DocumentID string
	Success    bool
	Steps      []Step       // Completed steps, in order
	Ledger     []StepRecord // Every attempted step, in order
	Err        error        // Wraps one of the error kinds when Success is false
}

// Error returns the failure message, or "" for a successful page.
func (r *PageResult) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// IngestionRun aggregates the results of one batch over a project.
// Successful + Failed always equals TotalPages.
type IngestionRun struct {
	Project    string
	TotalPages int
	Successful int
	Failed     int
	Skipped    int // Listed pages with an empty title, not part of TotalPages
	Pages      []PageResult
	Err        error // Set when listing failed; TotalPages is then 0
	StartedAt  time.Time
	FinishedAt time.Time
}

// SuccessRate returns Successful / TotalPages, or 0 for an empty run.
func (r *IngestionRun) SuccessRate() float64 {
	if r.TotalPages == 0 {
		return 0
	}
	return float64(r.Successful) / float64(r.TotalPages)
}

// Add records a page result and updates the counters.
func (r *IngestionRun) Add(result PageResult) {
	r.Pages = append(r.Pages, result)
	r.TotalPages++
	if result.Success {
		r.Successful++
	} else {
		r.Failed++
	}
}
