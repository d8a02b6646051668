// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package handlers

import (
	"context"
	"testing"

	"github.com/axonflow-oss/orchestration-core/internal/llmprovider"
	"github.com/axonflow-oss/orchestration-core/internal/types"
)

func TestExtractHandler_Handle_ReturnsExtractedField(t *testing.T) {
	llm := llmprovider.NewMockProvider()
	llm.Push(&llmprovider.Response{Content: `{"name":"ok"}`, Usage: llmprovider.Usage{PromptTokens: 10, CompletionTokens: 5}})
	h := newExtractHandler(llm, nil)

	hc := HandlerContext{Input: map[string]interface{}{"text": "extract the name"}}
	result := h.Handle(context.Background(), hc)

	if !result.Success {
		t.Fatalf("Handle() failed: %+v", result)
	}
	out, ok := result.Output.(map[string]interface{})
	if !ok || out["extracted"] != `{"name":"ok"}` {
		t.Errorf("Output = %+v, want extracted field with the LLM response", result.Output)
	}
	if result.TokensUsed.Total != 15 {
		t.Errorf("TokensUsed.Total = %d, want 15", result.TokensUsed.Total)
	}
	if result.Compressed == nil || *result.Compressed != 0 {
		t.Errorf("Compressed = %v, want pointer to 0 (no compressor wired)", result.Compressed)
	}
}

func TestExtractHandler_Handle_PropagatesLLMError(t *testing.T) {
	llm := llmprovider.NewMockProvider()
	llm.PushError(llmprovider.NewError("mock", llmprovider.ErrCodeTimeout, "timed out", nil))
	h := newExtractHandler(llm, nil)

	result := h.Handle(context.Background(), HandlerContext{Input: map[string]interface{}{"text": "x"}})
	if result.Success || result.Error == "" {
		t.Errorf("Handle() = %+v, want a failed result with an error message", result)
	}
}

func TestExtractHandler_Handle_RefusesOverBudget(t *testing.T) {
	llm := llmprovider.NewMockProvider()
	h := newExtractHandler(llm, nil)

	hc := HandlerContext{
		Input:  map[string]interface{}{"text": "a very long piece of text to extract from indeed"},
		Budget: &types.TokenBudget{Allocated: 1, Remaining: 1},
	}
	result := h.Handle(context.Background(), hc)
	if result.Success || result.Error != "budget exceeded" {
		t.Errorf("Handle() = %+v, want budget-exceeded refusal", result)
	}
	if len(llm.Calls()) != 0 {
		t.Error("expected no LLM call when the budget check refuses the step")
	}
}
