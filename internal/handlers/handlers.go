// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package handlers implements the Intent Handler Registry and the ten
// concrete intent handlers it dispatches to.
package handlers

import (
	"context"

	"github.com/axonflow-oss/orchestration-core/internal/compression"
	"github.com/axonflow-oss/orchestration-core/internal/llmprovider"
	"github.com/axonflow-oss/orchestration-core/internal/types"
)

// HandlerContext carries everything a handler needs to process one step.
type HandlerContext struct {
	ExecutionID string
	StepID      string
	AgentID     string
	UserID      string

	Intent            types.Intent
	Input             map[string]interface{}
	Budget            *types.TokenBudget
	CompressionPolicy types.CompressionPolicy
	Routing           types.RoutingDecision
	Metadata          *types.OrchestrationMetadata
	MemoryBlock       string

	Vars map[string]interface{} // execution context for variable resolution
}

// Handler is what the registry dispatches to for a classified intent.
type Handler interface {
	EstimateTokens(ctx context.Context, hc HandlerContext) int
	Validate(ctx context.Context, hc HandlerContext) bool
	Handle(ctx context.Context, hc HandlerContext) types.HandlerResult
}

// Base supplies the budget-check/validation scaffolding shared by every
// concrete handler. Each concrete handler is a *Base whose HandleFunc
// supplies the intent-specific Handle body.
type Base struct {
	LLM          llmprovider.Provider
	Compressor   *compression.Service
	EstimateFunc func(ctx context.Context, hc HandlerContext) int
	ValidateFunc func(ctx context.Context, hc HandlerContext) bool
	HandleFunc   func(ctx context.Context, hc HandlerContext) types.HandlerResult
}

func (b *Base) EstimateTokens(ctx context.Context, hc HandlerContext) int {
	if b.EstimateFunc != nil {
		return b.EstimateFunc(ctx, hc)
	}
	return types.EstimateTokens(inputText(hc))
}

func (b *Base) Validate(ctx context.Context, hc HandlerContext) bool {
	if b.ValidateFunc != nil {
		return b.ValidateFunc(ctx, hc)
	}
	return true
}

// Handle refuses to run when the budget check fails (rule a), then
// delegates to HandleFunc.
func (b *Base) Handle(ctx context.Context, hc HandlerContext) types.HandlerResult {
	if hc.Budget != nil {
		estimated := b.EstimateTokens(ctx, hc)
		if !hc.Budget.CanAfford(estimated) {
			return types.HandlerResult{Success: false, Error: "budget exceeded"}
		}
	}
	if !b.Validate(ctx, hc) {
		return types.HandlerResult{Success: false, Error: "input validation failed"}
	}
	if b.HandleFunc == nil {
		return types.HandlerResult{Success: false, Error: "handler not implemented"}
	}
	return b.HandleFunc(ctx, hc)
}

func inputText(hc HandlerContext) string {
	if v, ok := hc.Input["text"].(string); ok {
		return v
	}
	if v, ok := hc.Input["prompt"].(string); ok {
		return v
	}
	return ""
}

// compress is a convenience shared by handlers that pass their input
// through the Compression Service before building a prompt; it only
// compresses when the handler context's policy is enabled, and returns the
// tokens saved (0 if disabled or identity fallback fired).
func compress(ctx context.Context, b *Base, hc HandlerContext, content string) (out string, tokensSaved int) {
	if b.Compressor == nil || !hc.CompressionPolicy.Enabled {
		return content, 0
	}
	result := b.Compressor.Compress(ctx, content, hc.CompressionPolicy, hc.Intent)
	if result.StrategyUsed == types.StrategyNone {
		return content, 0
	}
	saved := result.InputTokens - result.OutputTokens
	if saved < 0 {
		saved = 0
	}
	return result.Content, saved
}

// maxTokensFor derives a chat completion's max_tokens from the step's
// remaining budget, falling back to 1024 when there is no budget or none
// remains.
func maxTokensFor(hc HandlerContext) int {
	if hc.Budget != nil && hc.Budget.Remaining > 0 {
		return hc.Budget.Remaining
	}
	return 1024
}

// chatPrompt runs a single-turn chat completion through the handler's LLM
// collaborator, returning content and usage; errors are folded into a
// failed HandlerResult by the caller.
func chatPrompt(ctx context.Context, b *Base, hc HandlerContext, system, user string, maxTokens int) (*llmprovider.Response, error) {
	return b.LLM.ChatCompletion(ctx, llmprovider.Request{
		Model:       hc.Routing.Model,
		Temperature: 0.3,
		MaxTokens:   maxTokens,
		Messages: []llmprovider.Message{
			{Role: llmprovider.RoleSystem, Content: system},
			{Role: llmprovider.RoleUser, Content: user},
		},
		Metadata: llmprovider.Metadata{UserID: hc.UserID, Feature: "orchestration", Component: "intent-handler", Category: string(hc.Intent)},
	})
}
