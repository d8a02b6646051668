// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package handlers

import (
	"context"
	"encoding/json"
	"regexp"
	"time"

	"github.com/axonflow-oss/orchestration-core/internal/compression"
	"github.com/axonflow-oss/orchestration-core/internal/llmprovider"
	"github.com/axonflow-oss/orchestration-core/internal/types"
)

const validateSystemPrompt = `Validate the input against its stated criteria. Respond with JSON {"valid": <bool>, "reason": "<short reason>"} only.`

var validationJSONRe = regexp.MustCompile(`(?s)\{.*\}`)

func newValidateHandler(llm llmprovider.Provider, compressor *compression.Service) Handler {
	b := &Base{LLM: llm, Compressor: compressor}
	b.HandleFunc = func(ctx context.Context, hc HandlerContext) types.HandlerResult {
		start := time.Now()
		content, saved := compress(ctx, b, hc, inputText(hc))

		resp, err := chatPrompt(ctx, b, hc, validateSystemPrompt, content, maxTokensFor(hc))
		if err != nil {
			return types.HandlerResult{Success: false, Error: err.Error()}
		}

		var parsed struct {
			Valid  bool   `json:"valid"`
			Reason string `json:"reason"`
		}
		match := validationJSONRe.FindString(resp.Content)
		_ = json.Unmarshal([]byte(match), &parsed)

		return types.HandlerResult{
			Success:    true,
			Output:     map[string]interface{}{"valid": parsed.Valid, "reason": parsed.Reason},
			TokensUsed: types.TokenUsage{Input: resp.Usage.PromptTokens, Output: resp.Usage.CompletionTokens, Total: resp.Usage.Total()},
			LatencyMS:  time.Since(start).Milliseconds(),
			Compressed: intPtr(saved),
		}
	}
	return b
}
