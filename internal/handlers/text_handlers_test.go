// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package handlers

import (
	"context"
	"testing"

	"github.com/axonflow-oss/orchestration-core/internal/llmprovider"
)

// These five handlers (summarize/transform/aggregate/filter/enrich) share the
// same compress-then-chatPrompt shape as extract/generate, differing only in
// their system prompt and output key; one table covers all five.
func TestTextHandlers_Handle_ReturnKeyedOutputFromLLMResponse(t *testing.T) {
	t.Run("summarize", func(t *testing.T) {
		llm := llmprovider.NewMockProvider()
		llm.Push(&llmprovider.Response{Content: "the summary"})
		h := newSummarizeHandler(llm, nil)
		result := h.Handle(context.Background(), HandlerContext{Input: map[string]interface{}{"text": "long document"}})
		out := result.Output.(map[string]interface{})
		if !result.Success || out["summary"] != "the summary" {
			t.Errorf("Handle() = %+v, want summary key populated", result)
		}
	})

	t.Run("transform", func(t *testing.T) {
		llm := llmprovider.NewMockProvider()
		llm.Push(&llmprovider.Response{Content: "the transformed result"})
		h := newTransformHandler(llm, nil)
		result := h.Handle(context.Background(), HandlerContext{Input: map[string]interface{}{"text": "raw data"}})
		out := result.Output.(map[string]interface{})
		if !result.Success || out["transformed"] != "the transformed result" {
			t.Errorf("Handle() = %+v, want transformed key populated", result)
		}
	})

	t.Run("aggregate", func(t *testing.T) {
		llm := llmprovider.NewMockProvider()
		llm.Push(&llmprovider.Response{Content: `{"count":3}`})
		h := newAggregateHandler(llm, nil)
		result := h.Handle(context.Background(), HandlerContext{Input: map[string]interface{}{"text": "records"}})
		out := result.Output.(map[string]interface{})
		if !result.Success || out["aggregated"] != `{"count":3}` {
			t.Errorf("Handle() = %+v, want aggregated key populated", result)
		}
	})

	t.Run("filter", func(t *testing.T) {
		llm := llmprovider.NewMockProvider()
		llm.Push(&llmprovider.Response{Content: `[1,2]`})
		h := newFilterHandler(llm, nil)
		result := h.Handle(context.Background(), HandlerContext{Input: map[string]interface{}{"text": "records"}})
		out := result.Output.(map[string]interface{})
		if !result.Success || out["filtered"] != `[1,2]` {
			t.Errorf("Handle() = %+v, want filtered key populated", result)
		}
	})

	t.Run("enrich", func(t *testing.T) {
		llm := llmprovider.NewMockProvider()
		llm.Push(&llmprovider.Response{Content: `{"enriched":true}`})
		h := newEnrichHandler(llm, nil)
		result := h.Handle(context.Background(), HandlerContext{Input: map[string]interface{}{"text": "records"}})
		out := result.Output.(map[string]interface{})
		if !result.Success || out["enriched"] != `{"enriched":true}` {
			t.Errorf("Handle() = %+v, want enriched key populated", result)
		}
	})
}

func TestTextHandlers_Handle_PropagateLLMErrors(t *testing.T) {
	llm := llmprovider.NewMockProvider()
	llm.PushError(llmprovider.NewError("mock", llmprovider.ErrCodeServerError, "boom", nil))
	h := newSummarizeHandler(llm, nil)
	result := h.Handle(context.Background(), HandlerContext{Input: map[string]interface{}{"text": "x"}})
	if result.Success || result.Error == "" {
		t.Errorf("Handle() = %+v, want a failed result on LLM error", result)
	}
}
