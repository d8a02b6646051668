// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package compression

import (
	"context"
	"strings"
	"testing"

	"github.com/axonflow-oss/orchestration-core/internal/types"
)

func TestDefaultMemoryPolicy(t *testing.T) {
	p := DefaultMemoryPolicy()
	if !p.PreserveUserContext || p.PreserveRecentRuns != 2 || p.TargetRatio != 0.3 ||
		p.Strategy != types.StrategySemantic || p.MinQualityScore != 0.8 {
		t.Errorf("DefaultMemoryPolicy() = %+v, want the documented defaults", p)
	}
}

func TestMemoryCompress_PreservesUserProfileAndRecentRuns(t *testing.T) {
	m := NewMemory(New(nil))
	block := MemoryBlock{
		UserProfile: "likes concise answers",
		RecentRuns:  []string{"run-3", "run-2", "run-1"},
	}
	policy := MemoryPolicy{PreserveUserContext: true, PreserveRecentRuns: 2, TargetRatio: 0.3, Strategy: types.StrategyStructural, MinQualityScore: 0}

	out := m.Compress(context.Background(), block, policy, 0)

	if !strings.Contains(out, "User profile") || !strings.Contains(out, "likes concise answers") {
		t.Errorf("expected user profile preserved verbatim, got %q", out)
	}
	if !strings.Contains(out, "run-3") || !strings.Contains(out, "run-2") {
		t.Errorf("expected the 2 most recent runs preserved verbatim, got %q", out)
	}
}

func TestMemoryCompress_OlderRunsGetCompressed(t *testing.T) {
	m := NewMemory(New(nil))
	block := MemoryBlock{
		RecentRuns: []string{"run-new-1", "run-new-2", "run-old-1", "run-old-2"},
	}
	policy := MemoryPolicy{PreserveUserContext: false, PreserveRecentRuns: 2, TargetRatio: 0.5, Strategy: types.StrategyStructural, MinQualityScore: 0}

	out := m.Compress(context.Background(), block, policy, 0)

	if !strings.Contains(out, "run-new-1") || !strings.Contains(out, "run-new-2") {
		t.Errorf("expected preserved recent runs present, got %q", out)
	}
	// structural/medium joins the older runs' lines into one.
	if !strings.Contains(out, "run-old-1 run-old-2") {
		t.Errorf("expected older runs compressed onto one line, got %q", out)
	}
}

func TestMemoryCompress_NoUserProfileSkipsSection(t *testing.T) {
	m := NewMemory(New(nil))
	block := MemoryBlock{RecentRuns: []string{"run-1"}}
	policy := MemoryPolicy{PreserveUserContext: true, PreserveRecentRuns: 1, Strategy: types.StrategyStructural, MinQualityScore: 0}

	out := m.Compress(context.Background(), block, policy, 0)
	if strings.Contains(out, "User profile") {
		t.Errorf("expected no User profile section with an empty profile, got %q", out)
	}
}

func TestMemoryCompress_NothingToCompressReturnsPreservedOnly(t *testing.T) {
	m := NewMemory(New(nil))
	block := MemoryBlock{UserProfile: "profile text", RecentRuns: []string{"run-1"}}
	policy := MemoryPolicy{PreserveUserContext: true, PreserveRecentRuns: 5, Strategy: types.StrategyStructural, MinQualityScore: 0}

	out := m.Compress(context.Background(), block, policy, 0)
	if strings.Contains(out, "Additional context") {
		t.Errorf("expected no Additional context section when there's nothing to compress, got %q", out)
	}
	if !strings.Contains(out, "profile text") || !strings.Contains(out, "run-1") {
		t.Errorf("expected preserved content present, got %q", out)
	}
}

func TestMemoryCompress_AddsAdditionalContextHeaderWhenMissing(t *testing.T) {
	m := NewMemory(New(nil))
	block := MemoryBlock{RecentRuns: []string{"run-1", "run-2", "run-3"}, LearnedPatterns: "likes short replies"}
	policy := MemoryPolicy{PreserveUserContext: false, PreserveRecentRuns: 1, Strategy: types.StrategyStructural, MinQualityScore: 0}

	out := m.Compress(context.Background(), block, policy, 0)
	if !strings.Contains(out, "Additional context") {
		t.Errorf("expected an Additional context header for unmarked compressed output, got %q", out)
	}
}

func TestMemoryCompress_TargetTokensAdjustsRatio(t *testing.T) {
	// Truncate reads policy.TargetRatio without needing an LLM, so it can
	// observe Compress's ratio recomputation from targetTokens here.
	m := NewMemory(New(nil))
	block := MemoryBlock{LearnedPatterns: strings.Repeat("pattern text ", 50)}
	policy := MemoryPolicy{Strategy: types.StrategyTruncate, TargetRatio: 0.1, MinQualityScore: 0}

	loose := m.Compress(context.Background(), block, policy, 0)
	tight := m.Compress(context.Background(), block, policy, 10) // very small budget forces a higher compression ratio

	if len(tight) > len(loose) {
		t.Errorf("expected a tight token budget to compress at least as aggressively: tight=%d loose=%d", len(tight), len(loose))
	}
}

func TestHasAnyMarker(t *testing.T) {
	if !hasAnyMarker("User profile\nsomething") {
		t.Error("expected marker detection to find 'User profile'")
	}
	if hasAnyMarker("nothing relevant here") {
		t.Error("expected no marker match for unrelated content")
	}
}
