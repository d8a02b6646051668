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

const sendComposeSystemPrompt = `Compose the message body to send, following the prompt's instructions. Return only the message body.`

// newSendHandler builds the one handler whose output is a plugin dispatch
// (to the step's plugin_key). The core itself never talks to the plugin
// runtime, so Handle performs no side effect: it only produces the payload,
// marked dispatch=true, for the embedder's plugin executor.
func newSendHandler(llm llmprovider.Provider, compressor *compression.Service) Handler {
	b := &Base{LLM: llm, Compressor: compressor}
	b.HandleFunc = func(ctx context.Context, hc HandlerContext) types.HandlerResult {
		start := time.Now()

		prompt, hasPrompt := hc.Input["prompt"].(string)
		if !hasPrompt || prompt == "" {
			body, _ := hc.Input["body"].(string)
			return types.HandlerResult{
				Success:   true,
				Output:    map[string]interface{}{"body": body, "dispatch": true},
				LatencyMS: time.Since(start).Milliseconds(),
			}
		}

		content, saved := compress(ctx, b, hc, prompt)
		resp, err := chatPrompt(ctx, b, hc, sendComposeSystemPrompt, content, maxTokensFor(hc))
		if err != nil {
			return types.HandlerResult{Success: false, Error: err.Error()}
		}

		return types.HandlerResult{
			Success:    true,
			Output:     map[string]interface{}{"body": resp.Content, "dispatch": true},
			TokensUsed: types.TokenUsage{Input: resp.Usage.PromptTokens, Output: resp.Usage.CompletionTokens, Total: resp.Usage.Total()},
			LatencyMS:  time.Since(start).Milliseconds(),
			Compressed: intPtr(saved),
		}
	}
	return b
}
