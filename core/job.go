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

// JobStatus is the lifecycle state of an ingestion job.
type JobStatus string

// Job states as reported by the knowledge base service.
const (
	JobStarting   JobStatus = "STARTING"
	JobInProgress JobStatus = "IN_PROGRESS"
	JobComplete   JobStatus = "COMPLETE"
	JobFailed     JobStatus = "FAILED"
	JobStopping   JobStatus = "STOPPING"
	JobStopped    JobStatus = "STOPPED"
)

// Active reports whether the status is non-terminal for deduplication,
// i.e. starting or in progress.
func (s JobStatus) Active() bool {
	return s == JobStarting || s == JobInProgress
}

// JobStatistics summarizes the pages a job touched.
type JobStatistics struct {
	PagesScanned int `json:"pages_scanned"`
	PagesIndexed int `json:"pages_indexed"`
	PagesFailed  int `json:"pages_failed"`
}

// IngestionJob is a unit of sync work tracked for one knowledge base and
// data source pair.
type IngestionJob struct {
	ID              string        `json:"id"`
	KnowledgeBaseID string        `json:"knowledge_base_id"`
	DataSourceID    string        `json:"data_source_id"`
	Status          JobStatus     `json:"status"`
	Description     string        `json:"description,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	Statistics      JobStatistics `json:"statistics"`
	FailureReasons  []string      `json:"failure_reasons,omitempty"`
}
