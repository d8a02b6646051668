// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package compression implements the Compression Service: four content
// compression strategies gated by a quality floor, and the Memory
// Compressor that applies the service to persisted agent memory.
package compression

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/axonflow-oss/orchestration-core/internal/llmprovider"
	"github.com/axonflow-oss/orchestration-core/internal/types"
)

// Service compresses content according to a CompressionPolicy and intent.
type Service struct {
	llm llmprovider.Provider
}

// New constructs a compression Service. llm may be nil; the semantic
// strategy then degrades to the identity fallback.
func New(llm llmprovider.Provider) *Service {
	return &Service{llm: llm}
}

// Compress runs the policy's configured strategy and applies the quality
// gate: any result scoring below policy.MinQualityScore, or any panic
// recovered from within a strategy, returns the original content unchanged
// with strategy "none" and ratio 1.0.
func (s *Service) Compress(ctx context.Context, content string, policy types.CompressionPolicy, intent types.Intent) (result types.CompressionResult) {
	if !policy.Enabled || content == "" {
		return identity(content)
	}

	defer func() {
		if r := recover(); r != nil {
			result = identity(content)
		}
	}()

	var out types.CompressionResult
	switch policy.Strategy {
	case types.StrategySemantic:
		out = s.semantic(ctx, content, policy, intent)
	case types.StrategyStructural:
		out = structural(content, policy.Aggressiveness)
	case types.StrategyTemplate:
		out = template(content, intent)
	case types.StrategyTruncate:
		out = truncate(content, policy)
	default:
		return identity(content)
	}

	if out.QualityScore < policy.MinQualityScore {
		return identity(content)
	}
	return out
}

func identity(content string) types.CompressionResult {
	tokens := types.EstimateTokens(content)
	return types.CompressionResult{
		Content:      content,
		InputTokens:  tokens,
		OutputTokens: tokens,
		Ratio:        1.0,
		QualityScore: 1.0,
		StrategyUsed: types.StrategyNone,
	}
}

const semanticSystemPromptTemplate = `Compress the following content for intent "%s". Aggressiveness: %s.
Preserve all information material to downstream processing of this intent; remove redundancy, filler, and repeated context.
Target output length is approximately %d tokens. Respond with only the compressed content, no preamble.`

func (s *Service) semantic(ctx context.Context, content string, policy types.CompressionPolicy, intent types.Intent) types.CompressionResult {
	if s.llm == nil {
		return identity(content)
	}

	inputTokens := types.EstimateTokens(content)
	targetTokens := int(float64(inputTokens) * (1 - policy.TargetRatio))
	if targetTokens < 1 {
		targetTokens = 1
	}

	system := sprintfSemantic(intent, policy.Aggressiveness, targetTokens)
	resp, err := s.llm.ChatCompletion(ctx, llmprovider.Request{
		Model:       "fast",
		Temperature: 0.2,
		MaxTokens:   targetTokens * 2,
		Messages: []llmprovider.Message{
			{Role: llmprovider.RoleSystem, Content: system},
			{Role: llmprovider.RoleUser, Content: content},
		},
		Metadata: llmprovider.Metadata{Feature: "orchestration", Component: "compression", Category: "semantic"},
	})
	if err != nil || resp.Content == "" {
		return identity(content)
	}

	outputTokens := types.EstimateTokens(resp.Content)
	ratio := float64(outputTokens) / float64(inputTokens)

	quality := baseAggressivenessQuality(policy.Aggressiveness)
	delta := ratio - policy.TargetRatio
	if delta < 0 {
		delta = -delta
	}
	switch {
	case delta <= 0.1:
		quality += 0.05
	case ratio > policy.TargetRatio+0.2:
		quality -= 0.1
	}
	quality = clamp01(quality)

	return types.CompressionResult{
		Content:      resp.Content,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Ratio:        ratio,
		QualityScore: quality,
		StrategyUsed: types.StrategySemantic,
	}
}

func sprintfSemantic(intent types.Intent, aggr types.Aggressiveness, targetTokens int) string {
	return fmt.Sprintf(semanticSystemPromptTemplate, string(intent), string(aggr), targetTokens)
}

func baseAggressivenessQuality(a types.Aggressiveness) float64 {
	switch a {
	case types.AggressivenessLow:
		return 0.9
	case types.AggressivenessHigh:
		return 0.8
	default:
		return 0.85
	}
}

func structural(content string, aggr types.Aggressiveness) types.CompressionResult {
	inputTokens := types.EstimateTokens(content)
	var out string
	var quality float64

	switch aggr {
	case types.AggressivenessLow:
		out = collapseRuns(content, '\n', 2) // preserve paragraph breaks
		quality = 0.95
	case types.AggressivenessHigh:
		out = strings.Join(strings.Fields(content), " ")
		out = stripBracketSpacing(out)
		quality = 0.75
	default:
		out = collapseRuns(content, '\n', 1)
		out = strings.Join(strings.Fields(out), " ")
		quality = 0.85
	}

	outputTokens := types.EstimateTokens(out)
	return types.CompressionResult{
		Content:      out,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Ratio:        ratioOf(outputTokens, inputTokens),
		QualityScore: quality,
		StrategyUsed: types.StrategyStructural,
	}
}

// collapseRuns collapses runs of more than maxRun consecutive sep
// characters down to maxRun.
func collapseRuns(content string, sep rune, maxRun int) string {
	var b strings.Builder
	run := 0
	for _, r := range content {
		if r == sep {
			run++
			if run <= maxRun {
				b.WriteRune(r)
			}
			continue
		}
		run = 0
		b.WriteRune(r)
	}
	return b.String()
}

func stripBracketSpacing(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == ' ' {
			prevIsOpen := i > 0 && isOpenBracket(runes[i-1])
			nextIsClose := i+1 < len(runes) && isCloseBracket(runes[i+1])
			prevIsPunct := i > 0 && unicode.IsPunct(runes[i-1]) && !isCloseBracket(runes[i-1])
			if prevIsOpen || nextIsClose || prevIsPunct {
				continue
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isOpenBracket(r rune) bool  { return r == '(' || r == '[' || r == '{' }
func isCloseBracket(r rune) bool { return r == ')' || r == ']' || r == '}' }

var templatePhrases = map[types.Intent][][2]string{
	types.IntentSummarize: {{"Please summarize:", "Summarize:"}, {"can you summarize", "summarize"}},
	types.IntentTransform: {{"from X to Y", "X→Y"}},
}

var genericPhrases = [][2]string{
	{"for example", "e.g."},
	{"that is to say", "i.e."},
}

func template(content string, intent types.Intent) types.CompressionResult {
	inputTokens := types.EstimateTokens(content)
	out := content
	for _, pair := range templatePhrases[intent] {
		out = strings.ReplaceAll(out, pair[0], pair[1])
	}
	for _, pair := range genericPhrases {
		out = strings.ReplaceAll(out, pair[0], pair[1])
	}
	outputTokens := types.EstimateTokens(out)
	return types.CompressionResult{
		Content:      out,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Ratio:        ratioOf(outputTokens, inputTokens),
		QualityScore: 0.9,
		StrategyUsed: types.StrategyTemplate,
	}
}

func truncate(content string, policy types.CompressionPolicy) types.CompressionResult {
	inputTokens := types.EstimateTokens(content)
	targetChars := int(float64(len(content)) * (1 - policy.TargetRatio))
	if targetChars <= 0 {
		targetChars = 1
	}
	if targetChars >= len(content) {
		return identity(content)
	}

	cut := targetChars
	if policy.Aggressiveness != types.AggressivenessHigh {
		cut = nearestSentenceBoundary(content, targetChars, 100)
	}
	if cut > len(content) {
		cut = len(content)
	}

	trimmed := strings.TrimRight(content[:cut], " \t\n")
	out := trimmed
	if len(trimmed) < len(content) {
		out = trimmed + "…"
	}

	outputTokens := types.EstimateTokens(out)
	preservedRatio := float64(len(out)) / float64(len(content))
	quality := preservedRatio * 1.1
	if quality > 0.9 {
		quality = 0.9
	}

	return types.CompressionResult{
		Content:      out,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Ratio:        ratioOf(outputTokens, inputTokens),
		QualityScore: quality,
		StrategyUsed: types.StrategyTruncate,
	}
}

// nearestSentenceBoundary looks for '.', '!', or '?' within ±window of
// target in content, preferring the closest one; falls back to target if
// none is found.
func nearestSentenceBoundary(content string, target, window int) int {
	lo := target - window
	if lo < 0 {
		lo = 0
	}
	hi := target + window
	if hi > len(content) {
		hi = len(content)
	}

	best := -1
	bestDist := window + 1
	for i := lo; i < hi; i++ {
		switch content[i] {
		case '.', '!', '?':
			dist := i - target
			if dist < 0 {
				dist = -dist
			}
			if dist < bestDist {
				best, bestDist = i+1, dist
			}
		}
	}
	if best == -1 {
		return target
	}
	return best
}

func ratioOf(output, input int) float64 {
	if input == 0 {
		return 1.0
	}
	return float64(output) / float64(input)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
