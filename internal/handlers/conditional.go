// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/axonflow-oss/orchestration-core/internal/compression"
	"github.com/axonflow-oss/orchestration-core/internal/llmprovider"
	"github.com/axonflow-oss/orchestration-core/internal/types"
)

// newConditionalHandler evaluates a simple equality condition against the
// execution's context variables and never calls the LLM — conditional
// steps are pure control flow.
func newConditionalHandler(llm llmprovider.Provider, compressor *compression.Service) Handler {
	b := &Base{LLM: llm, Compressor: compressor}
	b.EstimateFunc = func(ctx context.Context, hc HandlerContext) int { return 0 }
	b.HandleFunc = func(ctx context.Context, hc HandlerContext) types.HandlerResult {
		start := time.Now()
		condition, _ := hc.Input["condition"].(string)

		result := evaluateCondition(condition, hc.Vars)
		branch := "if_false"
		if result {
			branch = "if_true"
		}

		return types.HandlerResult{
			Success: true,
			Output: map[string]interface{}{
				"condition_evaluated": condition,
				"condition_result":    result,
				"branch_taken":        branch,
			},
			LatencyMS: time.Since(start).Milliseconds(),
		}
	}
	return b
}

// evaluateCondition parses basic "{{path}} == value" equality expressions
// against vars, resolving path via resolveVarPath.
func evaluateCondition(condition string, vars map[string]interface{}) bool {
	if !strings.Contains(condition, "==") {
		return false
	}
	parts := strings.SplitN(condition, "==", 2)
	if len(parts) != 2 {
		return false
	}
	left := strings.TrimSpace(parts[0])
	right := strings.Trim(strings.TrimSpace(parts[1]), ` "'`)

	leftValue := resolveVarPath(left, vars)
	return fmt.Sprintf("%v", leftValue) == right
}

// resolveVarPath resolves a "{{a.b.c}}" or "a.b.c" dotted path against vars.
func resolveVarPath(path string, vars map[string]interface{}) interface{} {
	path = strings.TrimSpace(path)
	path = strings.TrimPrefix(path, "{{")
	path = strings.TrimSuffix(path, "}}")
	path = strings.TrimSpace(path)

	parts := strings.Split(path, ".")
	var cur interface{} = vars
	for _, p := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur, ok = m[p]
		if !ok {
			return nil
		}
	}
	return cur
}
