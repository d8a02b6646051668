// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package routing

import (
	"context"
	"testing"

	"github.com/axonflow-oss/orchestration-core/internal/config"
	"github.com/axonflow-oss/orchestration-core/internal/types"
)

func newTestService() *Service {
	return New(config.New(config.Options{}))
}

func TestBucket(t *testing.T) {
	tests := []struct {
		name string
		raw  float64
		want float64
	}{
		{"below med is low", 1, 2},
		{"at med is med", 5, 5},
		{"at high is high", 10, 7},
		{"at extreme is extreme", 20, 9},
		{"above extreme is extreme", 100, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := bucket(tt.raw, 5, 10, 20); got != tt.want {
				t.Errorf("bucket(%v) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestRawConditionCount(t *testing.T) {
	tests := []struct {
		name string
		cond map[string]interface{}
		want int
	}{
		{"nil condition", nil, 0},
		{"single leaf", map[string]interface{}{"field": "status", "op": "eq"}, 1},
		{
			"and of three leaves", map[string]interface{}{
				"and": []interface{}{
					map[string]interface{}{"field": "a", "op": "eq"},
					map[string]interface{}{"field": "b", "op": "eq"},
					map[string]interface{}{"field": "c", "op": "eq"},
				},
			}, 3,
		},
		{
			"nested not", map[string]interface{}{
				"not": map[string]interface{}{"field": "a", "op": "eq"},
			}, 1,
		},
		{
			"or nested inside and", map[string]interface{}{
				"and": []interface{}{
					map[string]interface{}{"field": "a", "op": "eq"},
					map[string]interface{}{"or": []interface{}{
						map[string]interface{}{"field": "b", "op": "eq"},
						map[string]interface{}{"field": "c", "op": "eq"},
					}},
				},
			}, 3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rawConditionCount(tt.cond); got != tt.want {
				t.Errorf("rawConditionCount() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRawContextRefs_CountsTemplateReferences(t *testing.T) {
	step := types.Step{InputExpr: "{{ steps.prior.output }}", Prompt: "use {{ context.goal }} here"}
	if got := rawContextRefs(step); got != 2 {
		t.Errorf("rawContextRefs() = %d, want 2", got)
	}
}

func TestReasoningDepth_VariesByStepKind(t *testing.T) {
	if reasoningDepth("generate") <= reasoningDepth("extract") {
		t.Error("expected generate to require deeper reasoning than extract")
	}
	if reasoningDepth("unknown_kind") != 5 {
		t.Errorf("reasoningDepth(unknown) = %v, want default 5", reasoningDepth("unknown_kind"))
	}
}

func TestOutputComplexity_TransformAdjustments(t *testing.T) {
	base := outputComplexity(types.Step{Kind: "transform"})
	withAgg := outputComplexity(types.Step{Kind: "transform", Params: map[string]interface{}{"aggregate": true}})
	withMap := outputComplexity(types.Step{Kind: "transform", Params: map[string]interface{}{"map": "x => x.id"}})
	withBoth := outputComplexity(types.Step{Kind: "transform", Params: map[string]interface{}{"aggregate": true, "map": "x => x.id"}})

	if withAgg <= base {
		t.Error("expected aggregate:true to raise output complexity")
	}
	if withMap <= base {
		t.Error("expected a map expression to raise output complexity")
	}
	if withBoth <= withAgg || withBoth <= withMap {
		t.Error("expected both adjustments to stack")
	}
	if withBoth > 10 {
		t.Errorf("outputComplexity() = %v, want clamped to <= 10", withBoth)
	}
}

func TestStepComplexity_HigherForRicherSteps(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	simple := types.Step{Kind: "action", Name: "ping"}
	rich := types.Step{
		Kind:   "generate",
		Name:   "draft a long response",
		Prompt: "this is a much longer prompt with a great deal more detail than the simple step above, spanning many words to push the prompt-length bucket well past medium",
		Params: map[string]interface{}{
			"condition": map[string]interface{}{
				"and": []interface{}{
					map[string]interface{}{"field": "a", "op": "eq"},
					map[string]interface{}{"field": "b", "op": "eq"},
				},
			},
		},
	}

	simpleComplexity := s.StepComplexity(ctx, simple, nil)
	richComplexity := s.StepComplexity(ctx, rich, nil)

	if richComplexity.Composite <= simpleComplexity.Composite {
		t.Errorf("rich step Composite=%v, want > simple step Composite=%v",
			richComplexity.Composite, simpleComplexity.Composite)
	}
	if richComplexity.Composite > 10 || richComplexity.Composite < 0 {
		t.Errorf("Composite = %v, want within [0,10]", richComplexity.Composite)
	}
}

func TestEffectiveComplexity(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	if got := s.EffectiveComplexity(ctx, nil, nil); got != 5.0 {
		t.Errorf("EffectiveComplexity(nil, nil) = %v, want 5.0 default", got)
	}

	ais := &types.AgentAIS{CombinedScore: 8}
	if got := s.EffectiveComplexity(ctx, ais, nil); got != 8 {
		t.Errorf("EffectiveComplexity(ais, nil) = %v, want ais.CombinedScore", got)
	}

	step := types.StepComplexity{Composite: 3}
	if got := s.EffectiveComplexity(ctx, nil, &step); got != 3 {
		t.Errorf("EffectiveComplexity(nil, step) = %v, want step.Composite", got)
	}

	blended := s.EffectiveComplexity(ctx, ais, &step)
	want := 8*0.6 + 3*0.4 // default mixing weights
	if blended != want {
		t.Errorf("EffectiveComplexity(ais, step) = %v, want %v", blended, want)
	}
}

func TestSelectTier_MapsComplexityToConfiguredThresholds(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	tests := []struct {
		effective float64
		want      types.Tier
	}{
		{1.0, types.TierFast},
		{2.99, types.TierFast},
		{3.0, types.TierBalanced},
		{6.49, types.TierBalanced},
		{6.5, types.TierPowerful},
		{10.0, types.TierPowerful},
	}
	for _, tt := range tests {
		if got := s.SelectTier(ctx, tt.effective); got != tt.want {
			t.Errorf("SelectTier(%v) = %v, want %v", tt.effective, got, tt.want)
		}
	}
}

func TestDecide_ProducesConsistentRoutingDecision(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	step := types.Step{Kind: "generate", Name: "draft", Prompt: "write something"}
	decision, complexity := s.Decide(ctx, step, types.IntentGenerate, nil, nil, 1000, 0)

	if decision.Tier == "" || decision.Model == "" || decision.Provider == "" {
		t.Errorf("Decide() produced an incomplete decision: %+v", decision)
	}
	if decision.EstimatedCost < 0 {
		t.Errorf("EstimatedCost = %v, want non-negative", decision.EstimatedCost)
	}
	if decision.EstimatedLatencyMS <= 0 {
		t.Errorf("EstimatedLatencyMS = %v, want positive", decision.EstimatedLatencyMS)
	}
	if decision.AgentAIS != nil {
		t.Error("expected nil AgentAIS on the decision when none was supplied")
	}
	if complexity.Composite < 0 || complexity.Composite > 10 {
		t.Errorf("Composite = %v, want within [0,10]", complexity.Composite)
	}
}

func TestDecide_AttachesAgentAISWhenProvided(t *testing.T) {
	s := newTestService()
	ais := &types.AgentAIS{AgentID: "agent-1", CombinedScore: 7}
	decision, _ := s.Decide(context.Background(), types.Step{Kind: "generate"}, types.IntentGenerate, ais, nil, 1000, 0)
	if decision.AgentAIS == nil || decision.AgentAIS.AgentID != "agent-1" {
		t.Errorf("AgentAIS = %+v, want the supplied agent AIS", decision.AgentAIS)
	}
}

func TestDecide_MorePreviousFailuresIncreasesEstimatedLatency(t *testing.T) {
	s := newTestService()
	step := types.Step{Kind: "generate"}

	clean, _ := s.Decide(context.Background(), step, types.IntentGenerate, nil, nil, 1000, 0)
	flaky, _ := s.Decide(context.Background(), step, types.IntentGenerate, nil, nil, 1000, 5)

	if flaky.EstimatedLatencyMS <= clean.EstimatedLatencyMS {
		t.Errorf("expected more previous failures to raise latency estimate: clean=%v flaky=%v",
			clean.EstimatedLatencyMS, flaky.EstimatedLatencyMS)
	}
}

func TestFallback_ReturnsBalancedTierDefault(t *testing.T) {
	s := newTestService()
	decision := s.Fallback(context.Background(), types.IntentGenerate)
	if decision.Tier != types.TierBalanced {
		t.Errorf("Fallback() Tier = %v, want balanced", decision.Tier)
	}
	if decision.Model == "" || decision.Provider == "" {
		t.Error("expected Fallback() to populate model/provider from the balanced tier default")
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		v, lo, hi, want float64
	}{
		{-5, 0, 10, 0},
		{15, 0, 10, 10},
		{5, 0, 10, 5},
	}
	for _, tt := range tests {
		if got := clamp(tt.v, tt.lo, tt.hi); got != tt.want {
			t.Errorf("clamp(%v, %v, %v) = %v, want %v", tt.v, tt.lo, tt.hi, got, tt.want)
		}
	}
}
