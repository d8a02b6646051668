// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package budget implements the Token Budget Manager: allocation of
// per-step token budgets across a workflow, usage tracking, overage
// checking, and compression-savings bookkeeping.
package budget

import (
	"context"
	"math"

	"github.com/axonflow-oss/orchestration-core/internal/config"
	"github.com/axonflow-oss/orchestration-core/internal/predictor"
	"github.com/axonflow-oss/orchestration-core/internal/types"
)

// Strategy names a configured allocation strategy.
type Strategy string

const (
	StrategyEqual       Strategy = "equal"
	StrategyProportional Strategy = "proportional"
	StrategyAdaptive    Strategy = "adaptive"
	StrategyPriority    Strategy = "priority"
	StrategyPredictive  Strategy = "predictive"
)

// StepInput is what the manager needs to allocate one step's budget.
type StepInput struct {
	StepID         string
	Intent         types.Intent
	Classification types.IntentClassification
	StepKind       string
	Tier           types.Tier
	Complexity     float64 // rounded composite complexity, used by predictive strategy
}

// Manager allocates and tracks TokenBudgets for the steps of one execution.
// It is confined to a single workflow execution and requires no locking when
// used only by the driver goroutine, per spec.md §5.
type Manager struct {
	store     *config.Store
	predictor *predictor.Predictor
	budgets   map[string]*types.TokenBudget
}

// New constructs a Manager. predictor may be nil; the predictive strategy
// then behaves as if every prediction query returned no data.
func New(store *config.Store, pred *predictor.Predictor) *Manager {
	return &Manager{store: store, predictor: pred, budgets: make(map[string]*types.TokenBudget)}
}

// Allocate computes per-step TokenBudgets for an entire workflow, enforcing
// I2: the sum of allocated tokens never exceeds the configured workflow cap.
func (m *Manager) Allocate(ctx context.Context, workflowCap int, strategy Strategy, ais *types.AgentAIS, steps []StepInput) map[string]*types.TokenBudget {
	perStepCap := m.store.PerStepCap(ctx)
	overageThreshold := m.store.OverageThreshold(ctx)

	var baseline map[string]int
	switch strategy {
	case StrategyEqual:
		baseline = m.allocateEqual(workflowCap, steps, perStepCap)
	case StrategyPriority:
		baseline = m.allocatePriority(ctx, steps, perStepCap)
	case StrategyPredictive:
		baseline = m.allocatePredictive(ctx, steps, perStepCap,
			m.allocateProportional(ctx, workflowCap, steps, ais, perStepCap))
	case StrategyAdaptive:
		// Adaptive falls back to proportional unless historical data is
		// available; predictive allocation already implements exactly that
		// fallback per-step, so adaptive reuses it.
		baseline = m.allocatePredictive(ctx, steps, perStepCap,
			m.allocateProportional(ctx, workflowCap, steps, ais, perStepCap))
	default: // proportional, and unrecognized strategies
		baseline = m.allocateProportional(ctx, workflowCap, steps, ais, perStepCap)
	}

	total := 0
	for _, v := range baseline {
		total += v
	}
	if total > workflowCap && total > 0 {
		scale := float64(workflowCap) / float64(total)
		for k, v := range baseline {
			baseline[k] = int(float64(v) * scale)
		}
	}

	out := make(map[string]*types.TokenBudget, len(steps))
	for _, s := range steps {
		allocated := baseline[s.StepID]
		overageLimit := int(math.Floor(float64(allocated) * (overageThreshold - 1)))
		b := &types.TokenBudget{
			Allocated:      allocated,
			OverageAllowed: overageLimit > 0,
			OverageLimit:   overageLimit,
		}
		b.Recompute()
		out[s.StepID] = b
	}
	m.budgets = out
	return out
}

func (m *Manager) allocateEqual(workflowCap int, steps []StepInput, perStepCap int) map[string]int {
	out := make(map[string]int, len(steps))
	if len(steps) == 0 {
		return out
	}
	share := workflowCap / len(steps)
	if share > perStepCap {
		share = perStepCap
	}
	for _, s := range steps {
		out[s.StepID] = share
	}
	return out
}

func aisMultiplier(ais *types.AgentAIS) float64 {
	if ais == nil {
		return 1.0
	}
	return 1.0 + (ais.CombinedScore/10)*0.5
}

func (m *Manager) allocateProportional(ctx context.Context, workflowCap int, steps []StepInput, ais *types.AgentAIS, perStepCap int) map[string]int {
	intentBudgets := m.store.IntentBudgets(ctx)
	out := make(map[string]int, len(steps))
	if len(steps) == 0 {
		return out
	}

	totalBaseline := 0
	baselines := make(map[string]int, len(steps))
	for _, s := range steps {
		b := intentBudgets[s.Intent]
		if b <= 0 {
			b = 1000
		}
		baselines[s.StepID] = b
		totalBaseline += b
	}
	if totalBaseline == 0 {
		return out
	}

	mult := aisMultiplier(ais)
	for _, s := range steps {
		share := float64(workflowCap) * (float64(baselines[s.StepID]) / float64(totalBaseline)) * mult
		v := int(share)
		if v > perStepCap {
			v = perStepCap
		}
		out[s.StepID] = v
	}
	return out
}

func (m *Manager) allocatePriority(ctx context.Context, steps []StepInput, perStepCap int) map[string]int {
	intentBudgets := m.store.IntentBudgets(ctx)
	out := make(map[string]int, len(steps))
	for _, s := range steps {
		baseline := intentBudgets[s.Intent]
		if baseline <= 0 {
			baseline = 1000
		}
		priority := m.store.IntentPriority(ctx, s.Intent)
		if priority <= 0 {
			priority = 1.0
		}
		conf := s.Classification.Confidence
		if conf <= 0 {
			conf = 1.0
		}
		v := int(float64(baseline) * priority * conf)
		if v > perStepCap {
			v = perStepCap
		}
		out[s.StepID] = v
	}
	return out
}

// allocatePredictive uses the predictor's budget for each step that has one
// and the step's proportional share (from fallback) for each step that does
// not.
func (m *Manager) allocatePredictive(ctx context.Context, steps []StepInput, perStepCap int, fallback map[string]int) map[string]int {
	out := make(map[string]int, len(steps))
	for _, s := range steps {
		if m.predictor != nil {
			if pred, ok := m.predictor.Predict(ctx, s.StepKind, s.Tier, s.Complexity); ok {
				v := pred.Budget
				if v > perStepCap {
					v = perStepCap
				}
				out[s.StepID] = v
				continue
			}
		}
		out[s.StepID] = fallback[s.StepID]
	}
	return out
}

// CanAfford reports whether stepID's budget can absorb required additional
// tokens, honoring the overage policy (I3).
func (m *Manager) CanAfford(stepID string, required int) bool {
	b, ok := m.budgets[stepID]
	if !ok {
		return false
	}
	return b.CanAfford(required)
}

// Budget returns the TokenBudget for stepID, or nil if unallocated.
func (m *Manager) Budget(stepID string) *types.TokenBudget {
	return m.budgets[stepID]
}

// TrackUsage increments used and recomputes remaining for stepID.
func (m *Manager) TrackUsage(stepID string, tokensUsed int) {
	b, ok := m.budgets[stepID]
	if !ok {
		return
	}
	b.Used += tokensUsed
	b.Recompute()
}

// RecordCompression adds to the compressed (savings) counter; it never
// reduces Used and never inflates Remaining.
func (m *Manager) RecordCompression(stepID string, tokensSaved int) {
	b, ok := m.budgets[stepID]
	if !ok {
		return
	}
	b.Compressed += tokensSaved
}

// Reset clears all allocated budgets, ending this execution's lifecycle.
func (m *Manager) Reset() {
	m.budgets = make(map[string]*types.TokenBudget)
}
