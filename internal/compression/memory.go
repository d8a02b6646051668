// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package compression

import (
	"context"
	"strings"

	"github.com/axonflow-oss/orchestration-core/internal/types"
)

// MemoryPolicy configures the Memory Compressor.
type MemoryPolicy struct {
	PreserveUserContext bool
	PreserveRecentRuns  int
	TargetRatio         float64
	Strategy            types.CompressionStrategy
	MinQualityScore     float64
}

// DefaultMemoryPolicy matches spec.md §4.7's documented defaults.
func DefaultMemoryPolicy() MemoryPolicy {
	return MemoryPolicy{
		PreserveUserContext: true,
		PreserveRecentRuns:  2,
		TargetRatio:         0.3,
		Strategy:            types.StrategySemantic,
		MinQualityScore:     0.8,
	}
}

// MemoryBlock is a pre-formatted memory block split into its three
// sections, newest-first within RecentRuns.
type MemoryBlock struct {
	UserProfile    string
	RecentRuns     []string
	LearnedPatterns string
}

// sectionMarkers are headers the reassembled compressed chunk is checked
// against; if the compressed output lacks any of them an additional-context
// header is prepended so downstream consumers can still section it.
var sectionMarkers = []string{"User profile", "Recent runs", "Learned patterns", "Additional context"}

// Memory applies the Compression Service to a MemoryBlock, preserving the
// user profile (if configured) and the N most recent runs verbatim, and
// compressing the remainder (older runs + patterns) with intent
// "summarize".
type Memory struct {
	svc *Service
}

// NewMemory constructs a Memory Compressor over svc.
func NewMemory(svc *Service) *Memory {
	return &Memory{svc: svc}
}

// Compress reassembles block with preserved sections first, followed by the
// compressed remainder. targetTokens, if > 0, recomputes the effective
// target ratio to fit the remaining budget after preserved sections.
func (m *Memory) Compress(ctx context.Context, block MemoryBlock, policy MemoryPolicy, targetTokens int) string {
	var preserved strings.Builder
	if policy.PreserveUserContext && block.UserProfile != "" {
		preserved.WriteString("User profile\n")
		preserved.WriteString(block.UserProfile)
		preserved.WriteString("\n\n")
	}

	keep := policy.PreserveRecentRuns
	if keep > len(block.RecentRuns) {
		keep = len(block.RecentRuns)
	}
	if keep > 0 {
		preserved.WriteString("Recent runs\n")
		for _, r := range block.RecentRuns[:keep] {
			preserved.WriteString(r)
			preserved.WriteString("\n")
		}
		preserved.WriteString("\n")
	}

	var compressible strings.Builder
	for _, r := range block.RecentRuns[keep:] {
		compressible.WriteString(r)
		compressible.WriteString("\n")
	}
	if block.LearnedPatterns != "" {
		compressible.WriteString(block.LearnedPatterns)
	}

	if compressible.Len() == 0 {
		return strings.TrimRight(preserved.String(), "\n")
	}

	ratio := policy.TargetRatio
	if targetTokens > 0 {
		preservedTokens := types.EstimateTokens(preserved.String())
		remaining := targetTokens - preservedTokens
		compressibleTokens := types.EstimateTokens(compressible.String())
		if remaining > 0 && compressibleTokens > 0 {
			ratio = clamp01(1 - float64(remaining)/float64(compressibleTokens))
		}
	}

	result := m.svc.Compress(ctx, compressible.String(), types.CompressionPolicy{
		Enabled:         true,
		Strategy:        policy.Strategy,
		TargetRatio:     ratio,
		MinQualityScore: policy.MinQualityScore,
		Aggressiveness:  types.AggressivenessMedium,
	}, types.IntentSummarize)

	var out strings.Builder
	out.WriteString(preserved.String())
	if !hasAnyMarker(result.Content) {
		out.WriteString("Additional context\n")
	}
	out.WriteString(result.Content)
	return out.String()
}

func hasAnyMarker(content string) bool {
	for _, marker := range sectionMarkers {
		if strings.Contains(content, marker) {
			return true
		}
	}
	return false
}
