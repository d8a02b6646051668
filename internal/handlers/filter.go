// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package handlers

import (
	"context"
	"time"

	"github.com/axonflow-oss/orchestration-core/internal/compression"
	"github.com/axonflow-oss/orchestration-core/internal/llmprovider"
	"github.com/axonflow-oss/orchestration-core/internal/types"
)

const filterSystemPrompt = `Filter the input records per the stated criteria, removing or deduplicating as instructed. Return only the filtered result as JSON.`

func newFilterHandler(llm llmprovider.Provider, compressor *compression.Service) Handler {
	b := &Base{LLM: llm, Compressor: compressor}
	b.HandleFunc = func(ctx context.Context, hc HandlerContext) types.HandlerResult {
		start := time.Now()
		content, saved := compress(ctx, b, hc, inputText(hc))

		resp, err := chatPrompt(ctx, b, hc, filterSystemPrompt, content, maxTokensFor(hc))
		if err != nil {
			return types.HandlerResult{Success: false, Error: err.Error()}
		}

		return types.HandlerResult{
			Success:    true,
			Output:     map[string]interface{}{"filtered": resp.Content},
			TokensUsed: types.TokenUsage{Input: resp.Usage.PromptTokens, Output: resp.Usage.CompletionTokens, Total: resp.Usage.Total()},
			LatencyMS:  time.Since(start).Milliseconds(),
			Compressed: intPtr(saved),
		}
	}
	return b
}
