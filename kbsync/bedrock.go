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


package kbsync

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagent"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagent/types"
	"github.com/poiesic/pagerag/core"
)

// AgentClient is the subset of *bedrockagent.Client BedrockJobService uses.
type AgentClient interface {
	ListIngestionJobs(ctx context.Context, params *bedrockagent.ListIngestionJobsInput, optFns ...func(*bedrockagent.Options)) (*bedrockagent.ListIngestionJobsOutput, error)
	StartIngestionJob(ctx context.Context, params *bedrockagent.StartIngestionJobInput, optFns ...func(*bedrockagent.Options)) (*bedrockagent.StartIngestionJobOutput, error)
	GetIngestionJob(ctx context.Context, params *bedrockagent.GetIngestionJobInput, optFns ...func(*bedrockagent.Options)) (*bedrockagent.GetIngestionJobOutput, error)
}

var _ AgentClient = (*bedrockagent.Client)(nil)

// BedrockJobService runs ingestion jobs on Amazon Bedrock knowledge bases.
type BedrockJobService struct {
	client AgentClient
	logger *slog.Logger
}

var _ JobService = (*BedrockJobService)(nil)

// BedrockOption configures a BedrockJobService.
type BedrockOption func(*BedrockJobService) error

// WithBedrockLogger sets a custom logger.
// Default is slog.Default().
func WithBedrockLogger(logger *slog.Logger) BedrockOption {
	return func(s *BedrockJobService) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger.With("component", "bedrock-jobs")
		return nil
	}
}

// NewBedrockJobService creates a job service over client.
func NewBedrockJobService(client AgentClient, opts ...BedrockOption) (*BedrockJobService, error) {
	if client == nil {
		return nil, ErrAgentClientRequired
	}
	s := &BedrockJobService{
		client: client,
		logger: slog.Default().With("component", "bedrock-jobs"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// NewBedrockJobServiceFromConfig creates a job service with a client built
// from cfg.
func NewBedrockJobServiceFromConfig(cfg aws.Config, opts ...BedrockOption) (*BedrockJobService, error) {
	return NewBedrockJobService(bedrockagent.NewFromConfig(cfg), opts...)
}

// ListIngestionJobs returns the ListJobsLimit most recently started jobs.
func (s *BedrockJobService) ListIngestionJobs(ctx context.Context, knowledgeBaseID, dataSourceID string) ([]core.IngestionJob, error) {
	out, err := s.client.ListIngestionJobs(ctx, &bedrockagent.ListIngestionJobsInput{
		KnowledgeBaseId: aws.String(knowledgeBaseID),
		DataSourceId:    aws.String(dataSourceID),
		MaxResults:      aws.Int32(ListJobsLimit),
		SortBy: &types.IngestionJobSortBy{
			Attribute: types.IngestionJobSortByAttributeStartedAt,
			Order:     types.SortOrderDescending,
		},
	})
	if err != nil {
		return nil, err
	}

	jobs := make([]core.IngestionJob, 0, len(out.IngestionJobSummaries))
	for _, summary := range out.IngestionJobSummaries {
		jobs = append(jobs, core.IngestionJob{
			ID:              aws.ToString(summary.IngestionJobId),
			KnowledgeBaseID: aws.ToString(summary.KnowledgeBaseId),
			DataSourceID:    aws.ToString(summary.DataSourceId),
			Status:          core.JobStatus(summary.Status),
			Description:     aws.ToString(summary.Description),
			StartedAt:       aws.ToTime(summary.StartedAt),
			UpdatedAt:       aws.ToTime(summary.UpdatedAt),
			Statistics:      statistics(summary.Statistics),
		})
	}
	s.logger.Debug("listed ingestion jobs", "knowledge_base_id", knowledgeBaseID, "count", len(jobs))
	return jobs, nil
}

// StartIngestionJob starts a sync of the data source.
func (s *BedrockJobService) StartIngestionJob(ctx context.Context, knowledgeBaseID, dataSourceID, description string) (core.IngestionJob, error) {
	input := &bedrockagent.StartIngestionJobInput{
		KnowledgeBaseId: aws.String(knowledgeBaseID),
		DataSourceId:    aws.String(dataSourceID),
	}
	if description != "" {
		input.Description = aws.String(description)
	}
	out, err := s.client.StartIngestionJob(ctx, input)
	if err != nil {
		return core.IngestionJob{}, err
	}
	return ingestionJob(out.IngestionJob), nil
}

// GetIngestionJob returns the job with jobID.
func (s *BedrockJobService) GetIngestionJob(ctx context.Context, knowledgeBaseID, dataSourceID, jobID string) (core.IngestionJob, error) {
	out, err := s.client.GetIngestionJob(ctx, &bedrockagent.GetIngestionJobInput{
		KnowledgeBaseId: aws.String(knowledgeBaseID),
		DataSourceId:    aws.String(dataSourceID),
		IngestionJobId:  aws.String(jobID),
	})
	if err != nil {
		return core.IngestionJob{}, err
	}
	return ingestionJob(out.IngestionJob), nil
}

func ingestionJob(j *types.IngestionJob) core.IngestionJob {
	if j == nil {
		return core.IngestionJob{}
	}
	return core.IngestionJob{
		ID:              aws.ToString(j.IngestionJobId),
		KnowledgeBaseID: aws.ToString(j.KnowledgeBaseId),
		DataSourceID:    aws.ToString(j.DataSourceId),
		Status:          core.JobStatus(j.Status),
		Description:     aws.ToString(j.Description),
		StartedAt:       aws.ToTime(j.StartedAt),
		UpdatedAt:       aws.ToTime(j.UpdatedAt),
		Statistics:      statistics(j.Statistics),
		FailureReasons:  j.FailureReasons,
	}
}

func statistics(s *types.IngestionJobStatistics) core.JobStatistics {
	if s == nil {
		return core.JobStatistics{}
	}
	return core.JobStatistics{
		PagesScanned: int(s.NumberOfDocumentsScanned),
		PagesIndexed: int(s.NumberOfNewDocumentsIndexed + s.NumberOfModifiedDocumentsIndexed),
		PagesFailed:  int(s.NumberOfDocumentsFailed),
	}
}
