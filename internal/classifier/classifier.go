// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package classifier implements the Intent Classifier: a three-tier,
// escalating pipeline (deterministic pattern match → fast LLM → context-
// enhanced LLM) that assigns each step exactly one of the ten closed-set
// intents with a confidence and reasoning. It never returns an error to its
// callers; every failure mode degrades to a documented fallback.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/axonflow-oss/orchestration-core/internal/cache"
	"github.com/axonflow-oss/orchestration-core/internal/config"
	"github.com/axonflow-oss/orchestration-core/internal/llmprovider"
	"github.com/axonflow-oss/orchestration-core/internal/types"
	"github.com/axonflow-oss/orchestration-core/shared/logger"
)

// WorkflowContext supplies the step's position and neighbors for Tier 3's
// context-enhanced prompt.
type WorkflowContext struct {
	Goal              string
	StepIndex         int
	TotalSteps        int
	PreviousIntents   []types.Intent
	UpcomingStepDescs []string
}

// Classifier is the Intent Classifier.
type Classifier struct {
	llm   llmprovider.Provider
	store *config.Store
	cache cache.Store[types.IntentClassification]
	log   *logger.Logger
}

// New constructs a Classifier. llm may be nil only if every step is
// expected to resolve at Tier 1; any Tier 2/3 escalation with a nil
// provider degrades straight to the fallback path.
func New(llm llmprovider.Provider, store *config.Store, log *logger.Logger) *Classifier {
	if log == nil {
		log = logger.New("intent-classifier")
	}
	return &Classifier{
		llm:   llm,
		store: store,
		cache: cache.NewFromEnv[types.IntentClassification]("classifier", 0), // process-scoped, no TTL, unless CACHE_BACKEND=redis
		log:   log,
	}
}

func cacheKey(step types.Step) string {
	prompt := step.Prompt
	if len(prompt) > 100 {
		prompt = prompt[:100]
	}
	return step.Kind + "|" + step.PluginKey + "|" + prompt
}

// Classify assigns step exactly one intent. overheadTokens accumulates any
// tokens spent on LLM classification calls, to be folded into the
// orchestration-overhead counter by the caller (never into the step's own
// budget, per spec.md §9).
func (c *Classifier) Classify(ctx context.Context, step types.Step, wf WorkflowContext) (types.IntentClassification, int) {
	key := cacheKey(step)
	if cached, ok := c.cache.Get(key); ok {
		return cached, 0
	}

	start := time.Now()
	flags := c.store.FeatureFlags(ctx)
	thresholds := c.store.ClassifierThresholds(ctx)

	tier1 := c.tier1(step)
	tier1.LatencyMS = time.Since(start).Milliseconds()

	if flags.AmbiguityDetectionEnabled {
		c.detectAmbiguity(step, &tier1)
	}

	result := tier1
	overhead := 0

	if tier1.Confidence < thresholds.Tier1Confidence {
		tier2, tokens := c.tier2(ctx, step, tier1)
		overhead += tokens
		result = tier2

		escalate := flags.ValidationEnabled && result.Confidence < thresholds.Tier2Confidence
		if flags.ValidationEnabled && result.Confidence < 0.9 {
			validated, valTokens := c.validate(ctx, step, result, thresholds)
			overhead += valTokens
			if validated {
				result.WasValidated = true
			} else {
				escalate = true
			}
		}

		if escalate && c.llm != nil {
			tier3, tokens := c.tier3(ctx, step, wf, result)
			overhead += tokens
			result = tier3
		}
	}

	if !result.Intent.IsValid() {
		result = fallback(tier1)
	}
	if result.Method == types.MethodFallback {
		c.log.Warn("", "", "intent classification degraded to fallback", map[string]interface{}{
			"step_id": step.StepID, "intent": string(result.Intent),
		})
	}

	result.LatencyMS = time.Since(start).Milliseconds()
	result.TokensUsed = overhead
	c.cache.Set(key, result)
	return result, overhead
}

// tier1 is the deterministic pattern-matching pass. Never fails: worst case
// it falls through to the final ordered-pattern loop and returns whatever
// matched, or a low-confidence (0.3) generate guess.
func (c *Classifier) tier1(step types.Step) types.IntentClassification {
	base := types.IntentClassification{Method: types.MethodPattern, Tier: 1}

	// Explicit input expression + prompt: the step is already plumbed, so
	// treat it as generate at full confidence to avoid keyword-driven
	// misrouting.
	if step.InputExpr != "" && step.Prompt != "" {
		base.Intent, base.Confidence = types.IntentGenerate, 1.0
		base.Reasoning = "step has both an input expression and a prompt"
		return base
	}

	if step.Kind == "action" {
		text := step.PluginKey + " " + step.Prompt
		if sendSemanticTokens.MatchString(text) {
			base.Intent, base.Confidence = types.IntentSend, 1.0
			base.Reasoning = "action step matched send-semantic vocabulary"
		} else {
			base.Intent, base.Confidence = types.IntentExtract, 1.0
			base.Reasoning = "action step with no send-semantic vocabulary"
		}
		return base
	}

	if step.Kind == "conditional" || strings.Contains(strings.ToLower(step.Name), "branch") {
		base.Intent, base.Confidence = types.IntentConditional, 1.0
		base.Reasoning = "conditional step kind or name"
		return base
	}

	text := matchText(step)
	hits := firingPatterns(text)
	if len(hits) > 0 {
		base.Intent = hits[0].Intent
		base.Confidence = hits[0].Confidence
		base.Reasoning = fmt.Sprintf("matched %q pattern", hits[0].Intent)
		return base
	}

	base.Intent, base.Confidence = types.IntentGenerate, 0.3
	base.Reasoning = "no deterministic pattern matched"
	return base
}

// detectAmbiguity tallies how many intent patterns fire on the step's text.
// It never changes the classification, only its ambiguity annotations.
func (c *Classifier) detectAmbiguity(step types.Step, result *types.IntentClassification) {
	hits := firingPatterns(matchText(step))
	if len(hits) >= 2 {
		result.IsAmbiguous = true
	}
	switch {
	case len(hits) >= 3:
		result.Recommendation = "split_step"
	case len(hits) == 2:
		result.Recommendation = "escalate"
	}
	for _, h := range hits {
		if h.Intent != result.Intent {
			result.Alternatives = append(result.Alternatives, h.Intent)
		}
	}
}

const tier2SystemPrompt = `You classify workflow automation steps into exactly one intent.
Allowed intents: extract, summarize, generate, validate, send, transform, conditional, aggregate, filter, enrich.
Respond with a single JSON object: {"intent": "<one of the allowed intents>", "confidence": <0-1>, "reasoning": "<short reason>"}.
Respond with JSON only, no other text.`

// tier2 invokes a fast model with the fixed enumeration prompt.
func (c *Classifier) tier2(ctx context.Context, step types.Step, tier1 types.IntentClassification) (types.IntentClassification, int) {
	if c.llm == nil {
		return fallback(tier1), 0
	}

	resp, err := c.llm.ChatCompletion(ctx, llmprovider.Request{
		Model:       "fast",
		Temperature: 0.1,
		MaxTokens:   200,
		Messages: []llmprovider.Message{
			{Role: llmprovider.RoleSystem, Content: tier2SystemPrompt},
			{Role: llmprovider.RoleUser, Content: describeStep(step)},
		},
		Metadata: llmprovider.Metadata{Feature: "orchestration", Component: "intent-classifier", Category: "tier2"},
	})
	if err != nil {
		return fallback(tier1), 0
	}

	result, ok := parseClassificationJSON(resp.Content)
	if !ok {
		return fallback(tier1), resp.Usage.Total()
	}
	result.Method, result.Tier = types.MethodLLM, 2
	return result, resp.Usage.Total()
}

// validate runs a second classification and compares it to result.
func (c *Classifier) validate(ctx context.Context, step types.Step, result types.IntentClassification, thresholds config.ClassifierThresholds) (agree bool, tokens int) {
	if c.llm == nil {
		return true, 0
	}
	second, usedTokens := c.tier2(ctx, step, result)
	tokens = usedTokens
	if second.Intent != result.Intent {
		return false, tokens
	}
	delta := result.Confidence - second.Confidence
	if delta < 0 {
		delta = -delta
	}
	if delta > thresholds.DisagreementThreshold {
		return false, tokens
	}
	return true, tokens
}

const tier3SystemPromptTemplate = `You classify workflow automation steps into exactly one intent, using the full workflow context to disambiguate.
Allowed intents: extract, summarize, generate, validate, send, transform, conditional, aggregate, filter, enrich.
Workflow goal: %s
This is step %d of %d.
Previous step intents: %s
Upcoming steps: %s
Respond with a single JSON object: {"intent": "<one of the allowed intents>", "confidence": <0-1>, "reasoning": "<short reason>"}.
Respond with JSON only, no other text.`

// tier3 is the context-enhanced LLM pass, entered only when validation is
// enabled and either disagrees or Tier-2 confidence is below threshold.
func (c *Classifier) tier3(ctx context.Context, step types.Step, wf WorkflowContext, fallbackResult types.IntentClassification) (types.IntentClassification, int) {
	if c.llm == nil {
		return fallback(fallbackResult), 0
	}

	prev := make([]string, len(wf.PreviousIntents))
	for i, in := range wf.PreviousIntents {
		prev[i] = string(in)
	}
	system := fmt.Sprintf(tier3SystemPromptTemplate, wf.Goal, wf.StepIndex+1, wf.TotalSteps,
		strings.Join(prev, ", "), strings.Join(wf.UpcomingStepDescs, "; "))

	resp, err := c.llm.ChatCompletion(ctx, llmprovider.Request{
		Model:       "powerful",
		Temperature: 0.1,
		MaxTokens:   300,
		Messages: []llmprovider.Message{
			{Role: llmprovider.RoleSystem, Content: system},
			{Role: llmprovider.RoleUser, Content: describeStep(step)},
		},
		Metadata: llmprovider.Metadata{Feature: "orchestration", Component: "intent-classifier", Category: "tier3"},
	})
	if err != nil {
		return fallback(fallbackResult), 0
	}

	result, ok := parseClassificationJSON(resp.Content)
	if !ok {
		return fallback(fallbackResult), resp.Usage.Total()
	}
	result.Method, result.Tier = types.MethodEnhanced, 3
	return result, resp.Usage.Total()
}

func describeStep(step types.Step) string {
	return fmt.Sprintf("kind=%s name=%q plugin_key=%q prompt=%q", step.Kind, step.Name, step.PluginKey, step.Prompt)
}

// fallback degrades to the best Tier-1 guess, or generate at 0.5 if even
// that is unusable, per spec.md's classification-failure semantics.
func fallback(tier1 types.IntentClassification) types.IntentClassification {
	if tier1.Intent.IsValid() && tier1.Confidence > 0 {
		tier1.Method, tier1.Tier = types.MethodFallback, tier1.Tier
		return tier1
	}
	return types.IntentClassification{
		Intent: types.IntentGenerate, Confidence: 0.5,
		Reasoning: "classification failed in all tiers", Method: types.MethodFallback, Tier: 1,
	}
}

var jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

// parseClassificationJSON extracts the first JSON object from an LLM
// response and validates the intent against the closed set.
func parseClassificationJSON(content string) (types.IntentClassification, bool) {
	match := jsonObjectRe.FindString(content)
	if match == "" {
		return types.IntentClassification{}, false
	}

	var raw struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(match), &raw); err != nil {
		return types.IntentClassification{}, false
	}

	intent := types.Intent(strings.ToLower(strings.TrimSpace(raw.Intent)))
	if !intent.IsValid() {
		return types.IntentClassification{}, false
	}

	return types.IntentClassification{
		Intent:     intent,
		Confidence: clamp01(raw.Confidence),
		Reasoning:  raw.Reasoning,
	}, true
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
