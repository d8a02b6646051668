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

const enrichSystemPrompt = `Augment/annotate the input with the requested supplementary lookup data. Return only the enriched result as JSON.`

func newEnrichHandler(llm llmprovider.Provider, compressor *compression.Service) Handler {
	b := &Base{LLM: llm, Compressor: compressor}
	b.HandleFunc = func(ctx context.Context, hc HandlerContext) types.HandlerResult {
		start := time.Now()
		content, saved := compress(ctx, b, hc, inputText(hc))

		resp, err := chatPrompt(ctx, b, hc, enrichSystemPrompt, content, maxTokensFor(hc))
		if err != nil {
			return types.HandlerResult{Success: false, Error: err.Error()}
		}

		return types.HandlerResult{
			Success:    true,
			Output:     map[string]interface{}{"enriched": resp.Content},
			TokensUsed: types.TokenUsage{Input: resp.Usage.PromptTokens, Output: resp.Usage.CompletionTokens, Total: resp.Usage.Total()},
			LatencyMS:  time.Since(start).Milliseconds(),
			Compressed: intPtr(saved),
		}
	}
	return b
}
