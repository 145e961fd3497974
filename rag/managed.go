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


package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagent"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
	"github.com/poiesic/pagerag/core"
)

// DefaultModelID is the foundation model used for managed generation.
const DefaultModelID = "anthropic.claude-3-sonnet-20240229-v1:0"

// sourceURIKey is the retrieval metadata entry holding the source document URI.
const sourceURIKey = "x-amz-bedrock-kb-source-uri"

// RuntimeClient is the subset of *bedrockagentruntime.Client ManagedKB uses.
type RuntimeClient interface {
	Retrieve(ctx context.Context, params *bedrockagentruntime.RetrieveInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RetrieveOutput, error)
	RetrieveAndGenerate(ctx context.Context, params *bedrockagentruntime.RetrieveAndGenerateInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RetrieveAndGenerateOutput, error)
}

// AgentClient is the subset of *bedrockagent.Client ManagedKB uses.
type AgentClient interface {
	GetKnowledgeBase(ctx context.Context, params *bedrockagent.GetKnowledgeBaseInput, optFns ...func(*bedrockagent.Options)) (*bedrockagent.GetKnowledgeBaseOutput, error)
}

// ManagedKB answers from an Amazon Bedrock knowledge base.
type ManagedKB struct {
	runtime         RuntimeClient
	agent           AgentClient
	knowledgeBaseID string
	region          string
	modelID         string
	logger          *slog.Logger
}

var _ RAG = (*ManagedKB)(nil)

// NewManagedKB creates a backend for knowledgeBaseID. An empty modelID
// selects DefaultModelID.
func NewManagedKB(runtime RuntimeClient, agent AgentClient, knowledgeBaseID, region, modelID string, opts ...Option) (*ManagedKB, error) {
	if knowledgeBaseID == "" {
		return nil, ErrKnowledgeBaseRequired
	}
	if modelID == "" {
		modelID = DefaultModelID
	}
	o, err := buildOptions("managed-kb", opts)
	if err != nil {
		return nil, err
	}
	o.logger.Info("managed knowledge base configured", "knowledge_base_id", knowledgeBaseID, "region", region)
	return &ManagedKB{
		runtime:         runtime,
		agent:           agent,
		knowledgeBaseID: knowledgeBaseID,
		region:          region,
		modelID:         modelID,
		logger:          o.logger,
	}, nil
}

// NewManagedKBFromConfig creates a backend with clients built from cfg.
func NewManagedKBFromConfig(cfg aws.Config, knowledgeBaseID, modelID string, opts ...Option) (*ManagedKB, error) {
	return NewManagedKB(
		bedrockagentruntime.NewFromConfig(cfg),
		bedrockagent.NewFromConfig(cfg),
		knowledgeBaseID, cfg.Region, modelID, opts...)
}

// ModelArn returns the foundation model ARN used for generation.
func (m *ManagedKB) ModelArn() string {
	return fmt.Sprintf("arn:aws:bedrock:%s::foundation-model/%s", m.region, m.modelID)
}

func (m *ManagedKB) retrievalConfiguration(topK int) *types.KnowledgeBaseRetrievalConfiguration {
	return &types.KnowledgeBaseRetrievalConfiguration{
		VectorSearchConfiguration: &types.KnowledgeBaseVectorSearchConfiguration{
			NumberOfResults: aws.Int32(int32(topK)),
		},
	}
}

// Search retrieves matches from the knowledge base. A match's ID is its
// source document URI.
func (m *ManagedKB) Search(ctx context.Context, q core.SearchQuery) ([]core.SearchMatch, error) {
	out, err := m.runtime.Retrieve(ctx, &bedrockagentruntime.RetrieveInput{
		KnowledgeBaseId:        aws.String(m.knowledgeBaseID),
		RetrievalQuery:         &types.KnowledgeBaseQuery{Text: aws.String(q.Text())},
		RetrievalConfiguration: m.retrievalConfiguration(q.TopK()),
	})
	if err != nil {
		m.logger.Error("knowledge base retrieve failed", "err", err)
		return nil, fmt.Errorf("%w: %w", core.ErrIndexQueryFailed, err)
	}

	matches := make([]core.SearchMatch, 0, len(out.RetrievalResults))
	for _, item := range out.RetrievalResults {
		metadata := documentMap(item.Metadata, m.logger)
		id, _ := metadata[sourceURIKey].(string)
		matches = append(matches, core.SearchMatch{
			ID:       id,
			Score:    aws.ToFloat64(item.Score),
			Content:  contentText(item.Content),
			Metadata: metadata,
			Location: locationString(item.Location),
		})
	}

	m.logger.Debug("retrieved matches", "count", len(matches), "top_k", q.TopK())
	return matches, nil
}

// SearchAndGenerate runs retrieval and generation inside the managed service.
func (m *ManagedKB) SearchAndGenerate(ctx context.Context, q core.SearchQuery) (*core.Answer, error) {
	out, err := m.runtime.RetrieveAndGenerate(ctx, &bedrockagentruntime.RetrieveAndGenerateInput{
		Input: &types.RetrieveAndGenerateInput{Text: aws.String(q.Text())},
		RetrieveAndGenerateConfiguration: &types.RetrieveAndGenerateConfiguration{
			Type: types.RetrieveAndGenerateTypeKnowledgeBase,
			KnowledgeBaseConfiguration: &types.KnowledgeBaseRetrieveAndGenerateConfiguration{
				KnowledgeBaseId:        aws.String(m.knowledgeBaseID),
				ModelArn:               aws.String(m.ModelArn()),
				RetrievalConfiguration: m.retrievalConfiguration(q.TopK()),
			},
		},
	})
	if err != nil {
		m.logger.Error("knowledge base retrieve and generate failed", "err", err)
		return nil, fmt.Errorf("%w: %w", core.ErrIndexQueryFailed, err)
	}

	answer := &core.Answer{
		Citations: []core.Citation{},
		SessionID: aws.ToString(out.SessionId),
		Metadata: map[string]any{
			"backend":           BackendManagedKB,
			"model_id":          m.modelID,
			"knowledge_base_id": m.knowledgeBaseID,
			"top_k":             q.TopK(),
		},
	}
	if out.Output != nil {
		answer.Text = aws.ToString(out.Output.Text)
	}
	for _, citation := range out.Citations {
		for _, ref := range citation.RetrievedReferences {
			answer.Citations = append(answer.Citations, core.Citation{
				Content:  contentText(ref.Content),
				Location: locationString(ref.Location),
			})
		}
	}
	return answer, nil
}

// Status describes the knowledge base. Lookup failures are reported as
// StatusError with the message in Details, not as an error.
func (m *ManagedKB) Status(ctx context.Context) (*core.SystemStatus, error) {
	status := &core.SystemStatus{
		Backend: BackendManagedKB,
		Details: map[string]any{
			"knowledge_base_id": m.knowledgeBaseID,
			"model_id":          m.modelID,
			"region":            m.region,
		},
	}

	out, err := m.agent.GetKnowledgeBase(ctx, &bedrockagent.GetKnowledgeBaseInput{
		KnowledgeBaseId: aws.String(m.knowledgeBaseID),
	})
	if err != nil {
		m.logger.Error("error getting knowledge base status", "err", err)
		status.Status = StatusError
		status.Details["error"] = err.Error()
		return status, nil
	}

	if kb := out.KnowledgeBase; kb != nil {
		status.Status = string(kb.Status)
		status.Name = aws.ToString(kb.Name)
		status.Description = aws.ToString(kb.Description)
		status.CreatedAt = kb.CreatedAt
		status.UpdatedAt = kb.UpdatedAt
	}
	return status, nil
}

func contentText(c *types.RetrievalResultContent) string {
	if c == nil {
		return ""
	}
	return aws.ToString(c.Text)
}

func locationString(l *types.RetrievalResultLocation) string {
	switch {
	case l == nil:
		return ""
	case l.S3Location != nil:
		return aws.ToString(l.S3Location.Uri)
	case l.WebLocation != nil:
		return aws.ToString(l.WebLocation.Url)
	case l.ConfluenceLocation != nil:
		return aws.ToString(l.ConfluenceLocation.Url)
	default:
		return string(l.Type)
	}
}

// smithyDocument is the SDK's document.Interface.
type smithyDocument interface {
	MarshalSmithyDocument() ([]byte, error)
	UnmarshalSmithyDocument(v any) error
}

// documentMap decodes retrieval metadata. Documents built client side
// cannot unmarshal into an interface value, so those are decoded from
// their JSON encoding instead. Entries that decode neither way are logged
// and dropped.
func documentMap[D smithyDocument](in map[string]D, logger *slog.Logger) map[string]any {
	out := make(map[string]any, len(in))
	for k, doc := range in {
		if any(doc) == nil {
			continue
		}
		var v any
		err := doc.UnmarshalSmithyDocument(&v)
		if err != nil {
			var data []byte
			if data, err = doc.MarshalSmithyDocument(); err == nil {
				err = json.Unmarshal(data, &v)
			}
		}
		if err != nil {
			logger.Warn("dropping undecodable metadata entry", "key", k, "err", err)
			continue
		}
		out[k] = v
	}
	return out
}
