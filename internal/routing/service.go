// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package routing

import (
	"context"
	"fmt"
	"math"

	"github.com/axonflow-oss/orchestration-core/internal/config"
	"github.com/axonflow-oss/orchestration-core/internal/types"
)

// Service scores step complexity, blends it with agent complexity, and
// selects a tier and model.
type Service struct {
	store *config.Store
}

// New constructs a routing Service.
func New(store *config.Store) *Service {
	return &Service{store: store}
}

// StepComplexity scores step's six factors and returns the weighted
// composite per spec.md §4.5.
func (s *Service) StepComplexity(ctx context.Context, step types.Step, contextVars map[string]interface{}) types.StepComplexity {
	rawPrompt := rawPromptChars(step)
	rawData := rawDataBytes(step, contextVars)
	rawCond := 0
	if condMap, ok := step.Params["condition"].(map[string]interface{}); ok {
		rawCond = rawConditionCount(condMap)
	}
	rawCtx := rawContextRefs(step)

	pt := s.store.BucketThresholds(ctx, "prompt_length")
	dt := s.store.BucketThresholds(ctx, "data_size")
	ct := s.store.BucketThresholds(ctx, "condition_count")
	xt := s.store.BucketThresholds(ctx, "context_depth")

	promptScore := bucket(float64(rawPrompt), pt.Med, pt.High, pt.Extreme)
	dataScore := bucket(float64(rawData), dt.Med, dt.High, dt.Extreme)
	condScore := bucket(float64(rawCond), ct.Med, ct.High, ct.Extreme)
	ctxScore := bucket(float64(rawCtx), xt.Med, xt.High, xt.Extreme)
	reasonScore := reasoningDepth(step.Kind)
	outputScore := outputComplexity(step)

	w := s.store.ComplexityWeights(ctx, step.Kind)
	composite := promptScore*w.PromptLength + dataScore*w.DataSize + condScore*w.ConditionCount +
		ctxScore*w.ContextDepth + reasonScore*w.ReasoningDepth + outputScore*w.OutputComplexity
	composite = clamp(composite, 0, 10)

	return types.StepComplexity{
		PromptLength:      promptScore,
		DataSize:          dataScore,
		ConditionCount:    condScore,
		ContextDepth:      ctxScore,
		ReasoningDepth:    reasonScore,
		OutputComplexity:  outputScore,
		RawPromptChars:    rawPrompt,
		RawDataBytes:      rawData,
		RawConditionCount: rawCond,
		RawContextRefs:    rawCtx,
		Composite:         composite,
	}
}

// EffectiveComplexity blends agent AIS and step complexity per the
// configured mixing weights. ais may be nil.
func (s *Service) EffectiveComplexity(ctx context.Context, ais *types.AgentAIS, stepComplexity *types.StepComplexity) float64 {
	if stepComplexity == nil {
		if ais == nil {
			return 5.0
		}
		return ais.CombinedScore
	}
	if ais == nil {
		return stepComplexity.Composite
	}
	wAgent, wStep := s.store.MixingWeights(ctx)
	return ais.CombinedScore*wAgent + stepComplexity.Composite*wStep
}

// SelectTier maps effective complexity to a tier using strict less-than
// comparisons, so a value equal to a threshold selects the higher tier.
func (s *Service) SelectTier(ctx context.Context, effective float64) types.Tier {
	fast, balanced := s.store.TierThresholds(ctx)
	switch {
	case effective < fast:
		return types.TierFast
	case effective < balanced:
		return types.TierBalanced
	default:
		return types.TierPowerful
	}
}

// Decide produces a full RoutingDecision for a step, given its
// classification, optional agent AIS, a rounded previous-step-failure
// count, and the budget remaining at decision time.
func (s *Service) Decide(ctx context.Context, step types.Step, intent types.Intent, ais *types.AgentAIS, contextVars map[string]interface{}, budgetRemaining int, previousFailures int) (types.RoutingDecision, types.StepComplexity) {
	complexity := s.StepComplexity(ctx, step, contextVars)
	effective := s.EffectiveComplexity(ctx, ais, &complexity)
	tier := s.SelectTier(ctx, effective)
	model := s.store.ModelFor(ctx, tier, intent)

	cost := 0.7 * float64(budgetRemaining) * model.CostPerToken

	latencyFactor := clamp(math.Log10(math.Max(float64(budgetRemaining), 1))/3, 0.5, 2.0)
	latency := model.AvgLatencyMS * latencyFactor * (1 + 0.1*float64(previousFailures))

	decision := types.RoutingDecision{
		Tier:               tier,
		Model:              model.Model,
		Provider:           model.Provider,
		Reason:             fmt.Sprintf("effective_complexity=%.2f selected %s tier for intent %s", effective, tier, intent),
		EstimatedCost:      cost,
		EstimatedLatencyMS: latency,
		EffectiveComplexity: effective,
	}
	if ais != nil {
		decision.AgentAIS = ais
	}
	return decision, complexity
}

// Fallback returns the documented default routing decision used when
// complexity analysis or config lookup fails: balanced tier with the
// tier's generic default model.
func (s *Service) Fallback(ctx context.Context, intent types.Intent) types.RoutingDecision {
	model := s.store.ModelFor(ctx, types.TierBalanced, intent)
	return types.RoutingDecision{
		Tier:     types.TierBalanced,
		Model:    model.Model,
		Provider: model.Provider,
		Reason:   "routing failure: falling back to balanced tier default",
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
