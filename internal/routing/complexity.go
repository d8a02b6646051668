// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package routing implements the Routing Service: six-factor step-
// complexity scoring, agent/step complexity blending, tier selection, and
// model selection.
package routing

import (
	"encoding/json"
	"regexp"

	"github.com/axonflow-oss/orchestration-core/internal/types"
)

var templateRefRe = regexp.MustCompile(`\{\{[^}]*\}\}`)

// bucket maps a raw measurement into {low=2, med=5, high=7, extreme=9} using
// the configured (med, high, extreme) thresholds for that factor.
func bucket(raw, med, high, extreme float64) float64 {
	switch {
	case raw >= extreme:
		return 9
	case raw >= high:
		return 7
	case raw >= med:
		return 5
	default:
		return 2
	}
}

func serializeParams(params map[string]interface{}) string {
	if len(params) == 0 {
		return ""
	}
	b, err := json.Marshal(params)
	if err != nil {
		return ""
	}
	return string(b)
}

// rawPromptChars sums characters across name, prompt, and serialized params
// -- the "prompt_length" raw measurement.
func rawPromptChars(step types.Step) int {
	return len(step.Name) + len(step.Prompt) + len(serializeParams(step.Params))
}

// rawDataBytes is the byte length of serialized params plus serialized
// context variables.
func rawDataBytes(step types.Step, contextVars map[string]interface{}) int {
	return len(serializeParams(step.Params)) + len(serializeParams(contextVars))
}

// rawConditionCount recursively counts leaf conditions (and/or/not/field-op)
// in a condition tree shaped like {"and": [...]}, {"or": [...]}, {"not": {...}},
// or a leaf {"field": ..., "op": ...}.
func rawConditionCount(cond map[string]interface{}) int {
	if cond == nil {
		return 0
	}
	if children, ok := cond["and"].([]interface{}); ok {
		return sumConditionList(children)
	}
	if children, ok := cond["or"].([]interface{}); ok {
		return sumConditionList(children)
	}
	if child, ok := cond["not"].(map[string]interface{}); ok {
		return rawConditionCount(child)
	}
	if _, ok := cond["field"]; ok {
		return 1
	}
	if _, ok := cond["op"]; ok {
		return 1
	}
	return 0
}

func sumConditionList(list []interface{}) int {
	total := 0
	for _, item := range list {
		if m, ok := item.(map[string]interface{}); ok {
			total += rawConditionCount(m)
		}
	}
	return total
}

// rawContextRefs counts {{ ... }} template references across the step's
// serialized surface.
func rawContextRefs(step types.Step) int {
	text := step.InputExpr + " " + step.Prompt + " " + serializeParams(step.Params)
	return len(templateRefRe.FindAllString(text, -1))
}

// reasoningDepth is fixed per step-kind.
func reasoningDepth(stepKind string) float64 {
	switch stepKind {
	case "generate", "llm_decision":
		return 8
	case "conditional", "validate":
		return 6
	case "transform", "summarize":
		return 4
	case "extract", "filter":
		return 3
	case "action", "send":
		return 2
	default:
		return 5
	}
}

// outputComplexity is fixed per step-kind, with adjustments for transform
// aggregations and mapping fan-out.
func outputComplexity(step types.Step) float64 {
	base := outputComplexityBase(step.Kind)
	if step.Kind == "transform" {
		if agg, ok := step.Params["aggregate"].(bool); ok && agg {
			base += 2
		}
		if mapExpr, ok := step.Params["map"]; ok && mapExpr != nil {
			base += 1
		}
	}
	if base > 10 {
		base = 10
	}
	return base
}

func outputComplexityBase(stepKind string) float64 {
	switch stepKind {
	case "generate", "aggregate":
		return 7
	case "transform":
		return 5
	case "conditional":
		return 3
	case "extract", "filter", "validate":
		return 4
	case "action", "send":
		return 2
	default:
		return 5
	}
}
