// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/axonflow-oss/orchestration-core/internal/audit"
	"github.com/axonflow-oss/orchestration-core/internal/budget"
	"github.com/axonflow-oss/orchestration-core/internal/classifier"
	"github.com/axonflow-oss/orchestration-core/internal/compression"
	"github.com/axonflow-oss/orchestration-core/internal/config"
	"github.com/axonflow-oss/orchestration-core/internal/handlers"
	"github.com/axonflow-oss/orchestration-core/internal/metrics"
	"github.com/axonflow-oss/orchestration-core/internal/orcherr"
	"github.com/axonflow-oss/orchestration-core/internal/predictor"
	"github.com/axonflow-oss/orchestration-core/internal/routing"
	"github.com/axonflow-oss/orchestration-core/internal/types"
	"github.com/axonflow-oss/orchestration-core/shared/logger"
)

// classifyConcurrency bounds parallel classification calls at initialize
// time, per spec.md §5.
const classifyConcurrency = 5

// Deps bundles every collaborator the Orchestrator needs. All fields are
// required except Predictor, Audit, and the AgentAIS/MemoryStore/Execution
// stores, which degrade to documented defaults when nil.
type Deps struct {
	Config      *config.Store
	Classifier  *classifier.Classifier
	Predictor   *predictor.Predictor
	Routing     *routing.Service
	Compression *compression.Service
	Memory      *compression.Memory
	Handlers    *handlers.Registry
	Audit       *audit.Sink
	AgentAIS    AgentAISStore
	MemoryStore MemoryStore
	Execution   ExecutionStore
	Logger      *logger.Logger
}

// Orchestrator drives exactly one workflow execution at a time. Every
// method holds a single mutex, so calls from several goroutines against
// the same instance are serialized.
type Orchestrator struct {
	deps Deps

	mu    sync.Mutex
	state State
	meta  *types.OrchestrationMetadata

	steps      []types.Step
	stepIndex  map[string]int
	budgetMgr  *budget.Manager
	memoryCtx  map[string]interface{}
	active     bool
}

// New constructs an Orchestrator over deps.
func New(deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = logger.New("workflow-orchestrator")
	}
	return &Orchestrator{deps: deps, state: StateInit}
}

// IsActive reports whether the driver is managing an in-progress execution.
func (o *Orchestrator) IsActive() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// Metadata returns the current execution's metadata snapshot, or nil
// before Initialize or after Reset. Intended for introspection endpoints;
// callers must not mutate the returned value.
func (o *Orchestrator) Metadata() *types.OrchestrationMetadata {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.meta
}

// Initialize loads feature flags, agent AIS, classifies every step
// (batched, concurrency ≤ 5), allocates budgets, and builds each step's
// initial routing decision. Returns false ("inactive") when orchestration
// is disabled by feature flag; callers must then run their own
// non-orchestrated path.
func (o *Orchestrator) Initialize(ctx context.Context, workflowID, agentID, userID string, steps []types.Step) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	flags := o.deps.Config.FeatureFlags(ctx)
	if !flags.OrchestrationEnabled {
		o.active = false
		return false
	}

	executionID := uuid.NewString()
	o.steps = steps
	o.stepIndex = make(map[string]int, len(steps))
	for i, s := range steps {
		o.stepIndex[s.StepID] = i
	}

	var ais *types.AgentAIS
	if o.deps.AgentAIS != nil {
		if a, err := o.deps.AgentAIS.GetAgentScores(ctx, agentID); err == nil {
			ais = a
		}
	}

	classifications := o.classifyAll(ctx, steps)

	workflowCap := o.workflowCap(ctx, steps, classifications)
	strategy := budget.Strategy(o.deps.Config.AllocationStrategy(ctx))
	o.budgetMgr = budget.New(o.deps.Config, o.deps.Predictor)

	budgetInputs := make([]budget.StepInput, len(steps))
	for i, s := range steps {
		cls := classifications[s.StepID]
		budgetInputs[i] = budget.StepInput{
			StepID:         s.StepID,
			Intent:         cls.Intent,
			Classification: cls,
			StepKind:       s.Kind,
		}
	}
	o.budgetMgr.Allocate(ctx, workflowCap, strategy, ais, budgetInputs)

	stepMetas := make([]*types.StepMetadata, len(steps))
	for i, s := range steps {
		cls := classifications[s.StepID]
		policy := o.deps.Config.CompressionPolicy(ctx, cls.Intent)
		decision, complexity := o.deps.Routing.Decide(ctx, s, cls.Intent, ais, nil, o.budgetMgr.Budget(s.StepID).Allocated, 0)
		stepMetas[i] = &types.StepMetadata{
			StepID:            s.StepID,
			Classification:    cls,
			Budget:            *o.budgetMgr.Budget(s.StepID),
			CompressionPolicy: policy,
			Routing:           decision,
			Complexity:        complexity,
		}
	}

	featureFlagMap := map[string]bool{
		"orchestration_enabled":                             flags.OrchestrationEnabled,
		"orchestration_compression_enabled":                 flags.CompressionEnabled,
		"orchestration_ais_routing_enabled":                 flags.AISRoutingEnabled,
		"orchestration_adaptive_budget_enabled":             flags.AdaptiveBudgetEnabled,
		"orchestration_bulletproof_classification_enabled":  flags.BulletproofClassificationEnabled,
		"orchestration_validation_enabled":                  flags.ValidationEnabled,
		"orchestration_ambiguity_detection_enabled":         flags.AmbiguityDetectionEnabled,
	}

	o.meta = &types.OrchestrationMetadata{
		ExecutionID:        executionID,
		WorkflowID:         workflowID,
		AgentID:            agentID,
		UserID:             userID,
		StartedAt:          time.Now().UTC(),
		TotalBudget:        workflowCap,
		AllocationStrategy: string(strategy),
		FeatureFlags:       featureFlagMap,
		Steps:              stepMetas,
		AgentAIS:           ais,
	}

	if o.deps.MemoryStore != nil {
		if block, _, err := o.deps.MemoryStore.GetMemoryBlock(ctx, userID, agentID); err == nil {
			o.memoryCtx = map[string]interface{}{"memory_block": block}
		}
	}

	o.state = StateReady
	o.active = true

	o.emitAudit(executionID, "", types.SeverityInfo, "orchestration.start",
		fmt.Sprintf("initialized workflow %s with %d steps", workflowID, len(steps)), nil)

	return true
}

// workflowCap sums each step's configured per-intent baseline budget into
// the workflow-wide cap the Budget Manager allocates against.
func (o *Orchestrator) workflowCap(ctx context.Context, steps []types.Step, classifications map[string]types.IntentClassification) int {
	intentBudgets := o.deps.Config.IntentBudgets(ctx)
	perStepCap := o.deps.Config.PerStepCap(ctx)

	total := 0
	for _, s := range steps {
		cls := classifications[s.StepID]
		b, ok := intentBudgets[cls.Intent]
		if !ok || b <= 0 {
			b = perStepCap
		}
		total += b
	}
	if total == 0 {
		total = perStepCap
	}
	return total
}

// classifyAll batch-classifies every step with a concurrency cap.
func (o *Orchestrator) classifyAll(ctx context.Context, steps []types.Step) map[string]types.IntentClassification {
	results := make(map[string]types.IntentClassification, len(steps))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, classifyConcurrency)

	for i := range steps {
		step := steps[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			wfCtx := classifier.WorkflowContext{
				StepIndex:  o.stepIndex[step.StepID],
				TotalSteps: len(steps),
			}
			cls, overhead := o.deps.Classifier.Classify(ctx, step, wfCtx)
			metrics.RecordOverheadTokens("classifier", overhead)

			mu.Lock()
			results[step.StepID] = cls
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

// ExecuteStep runs stepID through budget-check, route, execute, record.
// Returns nil when orchestration is inactive; the caller must then run its
// own non-orchestrated path.
func (o *Orchestrator) ExecuteStep(ctx context.Context, stepID string, stepInput map[string]interface{}, memoryContext map[string]interface{}) *types.HandlerResult {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.active || o.state.Terminal() {
		return nil
	}

	idx, ok := o.stepIndex[stepID]
	if !ok {
		return &types.HandlerResult{Success: false, Error: "unknown step_id"}
	}
	stepMeta := o.meta.Steps[idx]
	step := o.steps[idx]
	stepMeta.StartedAt = time.Now().UTC()

	// STEP_BUDGET_CHECK
	o.state = StateStepBudgetCheck
	estimated := types.EstimateTokens(fmt.Sprintf("%v", stepInput))
	if !o.budgetMgr.CanAfford(stepID, estimated) {
		o.state = StateStepFailed
		o.emitAudit(o.meta.ExecutionID, stepID, types.SeverityWarning, "step.budget_exceeded",
			"step would exceed allocated budget", map[string]interface{}{"estimated": estimated})
		result := &types.HandlerResult{Success: false, Error: orcherr.ErrBudgetExceeded.Error()}
		stepMeta.Result = result
		stepMeta.EndedAt = time.Now().UTC()
		o.persistStep(ctx, stepMeta)
		if !step.ContinueOnError {
			return result
		}
		o.state = StateReady
		return result
	}

	// STEP_ROUTE: re-route with the richer step object itself (I4: this
	// supersedes the initialize-time decision).
	o.state = StateStepRoute
	vars := mergeVars(o.memoryCtx, memoryContext)
	decision, complexity := o.deps.Routing.Decide(ctx, step, stepMeta.Classification.Intent, o.meta.AgentAIS, vars, o.budgetMgr.Budget(stepID).Remaining, 0)
	stepMeta.Routing = decision
	stepMeta.Complexity = complexity
	metrics.RecordRoutingDecision(decision.Tier)
	o.persistStep(ctx, stepMeta)

	// STEP_EXECUTE
	o.state = StateStepExecute
	handler := o.deps.Handlers.For(stepMeta.Classification.Intent)
	hc := handlers.HandlerContext{
		ExecutionID:       o.meta.ExecutionID,
		StepID:            stepID,
		AgentID:           o.meta.AgentID,
		UserID:            o.meta.UserID,
		Intent:            stepMeta.Classification.Intent,
		Input:             stepInput,
		Budget:            o.budgetMgr.Budget(stepID),
		CompressionPolicy: stepMeta.CompressionPolicy,
		Routing:           decision,
		Metadata:          o.meta,
		Vars:              vars,
	}

	start := time.Now()
	result := handler.Handle(ctx, hc)
	metrics.RecordHandlerLatency(stepMeta.Classification.Intent, time.Since(start))

	if !result.Success {
		o.state = StateStepFailed
		o.emitAudit(o.meta.ExecutionID, stepID, types.SeverityCritical, "step.failed", result.Error, nil)
		stepMeta.Result = &result
		stepMeta.EndedAt = time.Now().UTC()
		o.persistStep(ctx, stepMeta)
		if !step.ContinueOnError {
			return &result
		}
		o.state = StateReady
		return &result
	}

	// STEP_RECORD
	o.state = StateStepRecord
	o.budgetMgr.TrackUsage(stepID, result.TokensUsed.Total)
	if result.Compressed != nil {
		o.budgetMgr.RecordCompression(stepID, *result.Compressed)
	}
	stepMeta.Budget = *o.budgetMgr.Budget(stepID)
	stepMeta.Result = &result
	stepMeta.EndedAt = time.Now().UTC()
	metrics.RecordBudgetUtilization(stepMeta.Classification.Intent, o.budgetMgr.Budget(stepID))
	o.persistStep(ctx, stepMeta)

	o.state = StateReady
	return &result
}

func mergeVars(base, overlay map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// Complete aggregates final metrics and transitions to COMPLETE.
func (o *Orchestrator) Complete(ctx context.Context) *types.ExecutionSummary {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.active {
		return nil
	}

	var totalUsed, totalSaved int
	var totalCost float64
	var totalAllocated int
	for _, sm := range o.meta.Steps {
		totalUsed += sm.Budget.Used
		totalSaved += sm.Budget.Compressed
		totalAllocated += sm.Budget.Allocated
		if sm.Result != nil {
			totalCost += sm.Result.Cost
		}
	}

	utilization := 0.0
	if totalAllocated > 0 {
		utilization = float64(totalUsed) / float64(totalAllocated)
	}

	o.meta.EndedAt = time.Now().UTC()
	o.meta.TotalTokensUsed = totalUsed
	o.meta.TotalTokensSaved = totalSaved
	o.meta.TotalCost = totalCost
	o.meta.BudgetUtilization = utilization

	o.state = StateComplete
	o.active = false

	o.emitAudit(o.meta.ExecutionID, "", types.SeverityInfo, "orchestration.complete",
		"workflow execution complete", map[string]interface{}{"total_tokens_used": totalUsed})

	return &types.ExecutionSummary{
		TotalTokensUsed:   totalUsed,
		TotalTokensSaved:  totalSaved,
		TotalCost:         totalCost,
		BudgetUtilization: utilization,
	}
}

// Reset clears all execution state, ending this driver's lifecycle so a
// new Initialize call may begin.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.budgetMgr != nil {
		o.budgetMgr.Reset()
	}
	o.state = StateInit
	o.active = false
	o.meta = nil
	o.steps = nil
	o.stepIndex = nil
	o.memoryCtx = nil
}

func (o *Orchestrator) persistStep(ctx context.Context, meta *types.StepMetadata) {
	if o.deps.Execution == nil {
		return
	}
	if err := o.deps.Execution.UpsertStep(ctx, meta, o.meta.ExecutionID); err != nil {
		o.deps.Logger.Warn("", "", "step persistence failed", map[string]interface{}{"error": err.Error(), "step_id": meta.StepID})
	}
}

func (o *Orchestrator) emitAudit(executionID, stepID string, severity types.AuditSeverity, kind, message string, details map[string]interface{}) {
	if o.deps.Audit == nil {
		return
	}
	o.deps.Audit.Emit(executionID, stepID, severity, kind, message, details)
}
