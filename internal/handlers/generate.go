// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/axonflow-oss/orchestration-core/internal/compression"
	"github.com/axonflow-oss/orchestration-core/internal/llmprovider"
	"github.com/axonflow-oss/orchestration-core/internal/types"
)

const generateSystemPrompt = `Generate the requested content. Follow the prompt's instructions exactly; return only the generated content.`

func newGenerateHandler(llm llmprovider.Provider, compressor *compression.Service) Handler {
	b := &Base{LLM: llm, Compressor: compressor}
	b.HandleFunc = func(ctx context.Context, hc HandlerContext) types.HandlerResult {
		start := time.Now()
		prompt, _ := hc.Input["prompt"].(string)
		if prompt == "" {
			prompt = inputText(hc)
		}
		content, saved := compress(ctx, b, hc, prompt)

		resp, err := chatPrompt(ctx, b, hc, generateSystemPrompt, content, maxTokensFor(hc))
		if err != nil {
			return types.HandlerResult{Success: false, Error: err.Error()}
		}
		if resp.Content == "" {
			return types.HandlerResult{Success: false, Error: fmt.Sprintf("generate: empty response from %s", resp.Model)}
		}

		return types.HandlerResult{
			Success:    true,
			Output:     map[string]interface{}{"content": resp.Content},
			TokensUsed: types.TokenUsage{Input: resp.Usage.PromptTokens, Output: resp.Usage.CompletionTokens, Total: resp.Usage.Total()},
			LatencyMS:  time.Since(start).Milliseconds(),
			Compressed: intPtr(saved),
		}
	}
	return b
}
