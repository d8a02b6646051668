// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package store provides Postgres-backed implementations of the
// Orchestrator's read/write collaborators: agent AIS lookup, per-user
// memory block retrieval, and per-step execution persistence.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/axonflow-oss/orchestration-core/internal/types"
)

// AgentStore reads agent creation/execution intensity scores from the
// agent_ais_scores table maintained outside this service.
type AgentStore struct {
	db *sql.DB
}

func NewAgentStore(db *sql.DB) *AgentStore {
	return &AgentStore{db: db}
}

const agentScoresQuery = `
	SELECT creation_score, execution_score, combined_score
	FROM agent_ais_scores
	WHERE agent_id = $1
`

// GetAgentScores returns nil, nil when no scores are on file for agentID,
// matching AgentAISStore's documented contract.
func (s *AgentStore) GetAgentScores(ctx context.Context, agentID string) (*types.AgentAIS, error) {
	var ais types.AgentAIS
	err := s.db.QueryRowContext(ctx, agentScoresQuery, agentID).Scan(
		&ais.CreationScore, &ais.ExecutionScore, &ais.CombinedScore,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query agent ais scores: %w", err)
	}
	ais.AgentID = agentID
	return &ais, nil
}

// MemoryRepository reads the pre-formatted agent memory block (user
// profile, recent runs, learned patterns) that the Memory Compressor
// operates over.
type MemoryRepository struct {
	db *sql.DB
}

func NewMemoryRepository(db *sql.DB) *MemoryRepository {
	return &MemoryRepository{db: db}
}

const memoryBlockQuery = `
	SELECT content, nominal_budget
	FROM agent_memory_blocks
	WHERE user_id = $1 AND agent_id = $2
`

// GetMemoryBlock returns an empty block (not an error) when no memory is
// on file, since most workflows run without prior agent memory.
func (r *MemoryRepository) GetMemoryBlock(ctx context.Context, userID, agentID string) (string, int, error) {
	var content string
	var nominalBudget int
	err := r.db.QueryRowContext(ctx, memoryBlockQuery, userID, agentID).Scan(&content, &nominalBudget)
	if err == sql.ErrNoRows {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, fmt.Errorf("query memory block: %w", err)
	}
	return content, nominalBudget, nil
}

// ExecutionRepository persists per-step orchestration telemetry to
// workflow_step_executions, the same table the Budget Predictor reads its
// historical samples from.
type ExecutionRepository struct {
	db *sql.DB
}

func NewExecutionRepository(db *sql.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

const upsertStepQuery = `
	INSERT INTO workflow_step_executions (
		execution_id, step_id, intent, classification_method, confidence,
		step_type, selected_tier, complexity_score, tokens_allocated,
		tokens_used, tokens_compressed, status, started_at, ended_at, details
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	ON CONFLICT (execution_id, step_id) DO UPDATE SET
		classification_method = EXCLUDED.classification_method,
		confidence = EXCLUDED.confidence,
		selected_tier = EXCLUDED.selected_tier,
		complexity_score = EXCLUDED.complexity_score,
		tokens_allocated = EXCLUDED.tokens_allocated,
		tokens_used = EXCLUDED.tokens_used,
		tokens_compressed = EXCLUDED.tokens_compressed,
		status = EXCLUDED.status,
		ended_at = EXCLUDED.ended_at,
		details = EXCLUDED.details
`

// UpsertStep writes or updates one step's execution row. Called twice per
// step by the Orchestrator: once after routing (status "running", no
// result yet) and once after the handler returns (status "completed" or
// "failed").
func (r *ExecutionRepository) UpsertStep(ctx context.Context, meta *types.StepMetadata, executionID string) error {
	status := "running"
	var endedAt interface{}
	if meta.Result != nil {
		endedAt = meta.EndedAt
		if meta.Result.Success {
			status = "completed"
		} else {
			status = "failed"
		}
	}

	details, err := json.Marshal(resultDetails(meta))
	if err != nil {
		return fmt.Errorf("marshal step details: %w", err)
	}

	_, err = r.db.ExecContext(ctx, upsertStepQuery,
		executionID, meta.StepID, string(meta.Classification.Intent), string(meta.Classification.Method),
		meta.Classification.Confidence, "", string(meta.Routing.Tier), meta.Complexity.Composite,
		meta.Budget.Allocated, meta.Budget.Used, meta.Budget.Compressed, status,
		meta.StartedAt, endedAt, details,
	)
	if err != nil {
		return fmt.Errorf("upsert step execution: %w", err)
	}
	return nil
}

func resultDetails(meta *types.StepMetadata) map[string]interface{} {
	out := map[string]interface{}{
		"routing_reason": meta.Routing.Reason,
		"model":          meta.Routing.Model,
	}
	if meta.Result != nil {
		out["success"] = meta.Result.Success
		out["cost"] = meta.Result.Cost
		out["latency_ms"] = meta.Result.LatencyMS
		if meta.Result.Error != "" {
			out["error"] = meta.Result.Error
		}
	}
	return out
}
