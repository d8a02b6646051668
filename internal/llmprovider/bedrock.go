// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package llmprovider

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// BedrockProvider implements Provider against AWS Bedrock's Anthropic
// message API, authenticated via the ambient AWS credential chain (IAM role
// or the credentials resolved from Secrets Manager at config load time).
type BedrockProvider struct {
	client *bedrockruntime.Client
	region string
}

// NewBedrockProvider constructs a provider around an already-configured
// bedrockruntime client.
func NewBedrockProvider(client *bedrockruntime.Client, region string) *BedrockProvider {
	return &BedrockProvider{client: client, region: region}
}

func (p *BedrockProvider) Name() string { return "bedrock" }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	Temperature      float64            `json:"temperature"`
	System           string             `json:"system,omitempty"`
	Messages         []anthropicMessage `json:"messages"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	Content []anthropicContentBlock `json:"content"`
	Usage   anthropicUsage          `json:"usage"`
}

func (p *BedrockProvider) ChatCompletion(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	body := anthropicRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
	}
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			body.System = m.Content
			continue
		}
		body.Messages = append(body.Messages, anthropicMessage{Role: string(m.Role), Content: m.Content})
	}
	if len(body.Messages) == 0 {
		return nil, NewError(p.Name(), ErrCodeInvalidRequest, "at least one non-system message is required", nil)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, NewError(p.Name(), ErrCodeInvalidRequest, "failed to marshal request", err)
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(req.Model),
		Body:        payload,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, NewError(p.Name(), ErrCodeServerError, "bedrock invoke failed", err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(out.Body, &parsed); err != nil {
		return nil, NewError(p.Name(), ErrCodeServerError, "failed to parse bedrock response", err)
	}

	var content string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return &Response{
		Content: content,
		Model:   req.Model,
		Usage: Usage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
		},
		Latency: time.Since(start),
	}, nil
}
