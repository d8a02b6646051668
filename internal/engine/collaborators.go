// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package engine

import (
	"context"

	"github.com/axonflow-oss/orchestration-core/internal/types"
)

// AgentAISStore is the read-only collaborator providing agent intensity
// scores. Returns nil, nil when no scores are on file for agentID.
type AgentAISStore interface {
	GetAgentScores(ctx context.Context, agentID string) (*types.AgentAIS, error)
}

// MemoryStore is the read-only collaborator providing the pre-formatted
// memory block for (userID, agentID) and its nominal token budget.
type MemoryStore interface {
	GetMemoryBlock(ctx context.Context, userID, agentID string) (block string, nominalBudget int, err error)
}

// ExecutionStore is the collaborator owning the per-step execution table
// (workflow_step_executions). Persistence failures are non-fatal: callers
// log and continue (I5, and the "persistence failure" error kind).
type ExecutionStore interface {
	UpsertStep(ctx context.Context, meta *types.StepMetadata, executionID string) error
}
