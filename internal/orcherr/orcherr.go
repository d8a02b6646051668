// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package orcherr defines the orchestration-core error taxonomy as sentinel
// errors so callers can branch on kind with errors.Is rather than string
// matching. Only handler failure and budget exceeded are meant to surface
// from the Orchestrator to the embedder; the rest describe internal
// degradations that are logged and swallowed.
package orcherr

import "errors"

var (
	// ErrBudgetExceeded: a step would consume more than its allocated
	// (+overage) budget. Reported upward; the workflow halts unless the
	// step declares continue_on_error.
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrClassificationFailed: all classifier tiers failed or returned an
	// invalid intent. Never surfaces; the classifier degrades to the
	// Tier-1 guess, or to generate at confidence 0.5 when that guess is
	// unusable, and logs a warning.
	ErrClassificationFailed = errors.New("classification failed")

	// ErrCompressionFailed: a compression strategy errored or the quality
	// floor was violated. Never surfaces; falls back to the original
	// content.
	ErrCompressionFailed = errors.New("compression failed")

	// ErrRoutingFailed: complexity analysis or a configuration lookup
	// failed. Never surfaces; falls back to the balanced tier.
	ErrRoutingFailed = errors.New("routing failed")

	// ErrPredictorUnavailable: insufficient historical samples or a query
	// error. Never surfaces; the Budget Manager falls back to proportional
	// allocation for that step.
	ErrPredictorUnavailable = errors.New("predictor unavailable")

	// ErrPersistenceFailed: a non-critical telemetry or step-row write
	// failed. Never surfaces; logged and swallowed.
	ErrPersistenceFailed = errors.New("persistence failed")

	// ErrHandlerFailed: an intent handler returned success=false. Surfaces
	// from the Orchestrator; the workflow halts unless continue_on_error.
	ErrHandlerFailed = errors.New("handler failed")
)
