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

// Package config implements the orchestration core's Configuration Store: a
// typed-read facade over a durable key/value table, with a three-tier
// priority (database > config file > environment) and a process-wide cache
// with explicit invalidation. Unknown keys and parse failures always degrade
// to documented defaults; nothing in this package panics or returns an error
// from a read path.
package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/axonflow-oss/orchestration-core/internal/cache"
	"github.com/axonflow-oss/orchestration-core/internal/types"
	"github.com/axonflow-oss/orchestration-core/shared/logger"
)

// Source indicates where a configuration value was ultimately resolved from.
type Source string

const (
	SourceDatabase Source = "database"
	SourceFile     Source = "config_file"
	SourceEnvVars  Source = "env_vars"
	SourceDefault  Source = "default"
)

// Row is one record of the `system_settings_config` table.
type Row struct {
	Key       string
	Value     json.RawMessage
	UpdatedAt time.Time
}

// Store is the Configuration Store. It is safe for concurrent use.
type Store struct {
	db      *sql.DB
	cache   *cache.Cache[json.RawMessage]
	file    map[string]json.RawMessage
	secrets SecretsManager
	log     *logger.Logger
	envEnabled bool
}

// Options configures a Store.
type Options struct {
	DB       *sql.DB // may be nil: database tier is then skipped
	CacheTTL time.Duration
	FilePath string // optional YAML defaults file, OSS/self-hosted mode
	// Secrets resolves provider credential references returned by
	// ModelFor; may be nil, in which case ResolveSecret always misses.
	Secrets SecretsManager
	Logger  *logger.Logger
	// DisableEnvTier is normally left false; set true only in tests that
	// want to force a deterministic fall-through to hardcoded defaults.
	DisableEnvTier bool
}

// New constructs a Store. Config-file parse errors are logged as a warning
// and treated as "no file tier" rather than failing construction.
func New(opts Options) *Store {
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = logger.New("config-store")
	}

	s := &Store{
		db:         opts.DB,
		cache:      cache.New[json.RawMessage](ttl),
		secrets:    opts.Secrets,
		log:        log,
		envEnabled: !opts.DisableEnvTier,
	}

	if opts.FilePath != "" {
		if raw, err := os.ReadFile(opts.FilePath); err != nil {
			log.Warn("", "", "config file unreadable, file tier disabled", map[string]interface{}{
				"path": opts.FilePath, "error": err.Error(),
			})
		} else {
			expanded := expandEnvVars(string(raw))
			var parsed map[string]interface{}
			if err := yaml.Unmarshal([]byte(expanded), &parsed); err != nil {
				log.Warn("", "", "config file parse failed, file tier disabled", map[string]interface{}{
					"path": opts.FilePath, "error": err.Error(),
				})
			} else {
				s.file = make(map[string]json.RawMessage, len(parsed))
				for k, v := range parsed {
					if b, err := json.Marshal(v); err == nil {
						s.file[k] = b
					}
				}
			}
		}
	}

	return s
}

// envVarRegex matches ${VAR_NAME} and ${VAR_NAME:-default} references inside
// a config file, expanded before YAML parsing so defaults can reference
// deployment-specific env vars without a template engine.
var envVarRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarRegex.FindStringSubmatch(match)
		name, def := groups[1], groups[3]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return def
	})
}

// ResolveSecret resolves ref through the configured SecretsManager. It
// returns (nil, nil) rather than an error when no SecretsManager is
// configured, so callers can treat "no secrets backend" the same as "secret
// not found" and fall back to their own default credential resolution.
func (s *Store) ResolveSecret(ctx context.Context, ref string) (map[string]string, error) {
	if s.secrets == nil || ref == "" {
		return nil, nil
	}
	return s.secrets.GetSecret(ctx, ref)
}

// Reload invalidates the process-wide cache, forcing the next Get to
// re-resolve through the database/file/env cascade.
func (s *Store) Reload() {
	s.cache.InvalidateAll()
}

// get resolves key through the cache, then DB, then file, then env var,
// returning the raw JSON value and where it came from. The cache does not
// record the tier, so a cache hit reports SourceDatabase whichever tier
// supplied the value. Returns ok=false if no tier has the key; callers fall
// back to their documented default.
func (s *Store) get(ctx context.Context, key string) (json.RawMessage, Source, bool) {
	if cached, ok := s.cache.Get(key); ok {
		return cached, SourceDatabase, true
	}

	if s.db != nil {
		if v, err := s.queryDatabase(ctx, key); err == nil {
			s.cache.Set(key, v)
			return v, SourceDatabase, true
		} else if err != sql.ErrNoRows {
			s.log.Warn("", "", "config database read failed, falling through", map[string]interface{}{
				"key": key, "error": err.Error(),
			})
		}
	}

	if v, ok := s.file[key]; ok {
		s.cache.Set(key, v)
		return v, SourceFile, true
	}

	if s.envEnabled {
		if raw, ok := os.LookupEnv(envKey(key)); ok {
			v := json.RawMessage(raw)
			if !json.Valid(v) {
				v = json.RawMessage(fmt.Sprintf("%q", raw))
			}
			s.cache.Set(key, v)
			return v, SourceEnvVars, true
		}
	}

	return nil, "", false
}

func envKey(key string) string {
	out := make([]byte, 0, len(key)+20)
	out = append(out, "ORCH_"...)
	for _, r := range key {
		if r >= 'a' && r <= 'z' {
			out = append(out, byte(r-32))
		} else if r == '.' || r == '-' {
			out = append(out, '_')
		} else {
			out = append(out, byte(r))
		}
	}
	return string(out)
}

func (s *Store) queryDatabase(ctx context.Context, key string) (json.RawMessage, error) {
	const query = `SELECT value FROM system_settings_config WHERE key = $1`
	var raw []byte
	row := s.db.QueryRowContext(ctx, query, key)
	if err := row.Scan(&raw); err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

// getTyped resolves key and unmarshals it into dst; on any miss or parse
// failure it logs a warning and leaves dst untouched, so callers should pass
// a dst pre-populated with the documented default.
func (s *Store) getTyped(ctx context.Context, key string, dst interface{}) {
	raw, _, ok := s.get(ctx, key)
	if !ok {
		return
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.log.Warn("", "", "config value parse failed, using default", map[string]interface{}{
			"key": key, "error": err.Error(),
		})
	}
}

// ---- Typed domain getters -------------------------------------------------

// defaultIntentBudgets are the baseline per-intent token budgets used by the
// proportional and priority allocation strategies.
var defaultIntentBudgets = map[types.Intent]int{
	types.IntentExtract:     800,
	types.IntentSummarize:   1200,
	types.IntentGenerate:    2500,
	types.IntentValidate:    600,
	types.IntentSend:        400,
	types.IntentTransform:   900,
	types.IntentConditional: 300,
	types.IntentAggregate:   1000,
	types.IntentFilter:      500,
	types.IntentEnrich:      1100,
}

// IntentBudgets returns the per-intent baseline token budgets.
func (s *Store) IntentBudgets(ctx context.Context) map[types.Intent]int {
	out := make(map[types.Intent]int, len(defaultIntentBudgets))
	for k, v := range defaultIntentBudgets {
		out[k] = v
	}
	s.getTyped(ctx, "budget.intent_budgets", &out)
	return out
}

// PerStepCap is the hard per-step token ceiling applied regardless of
// allocation strategy.
func (s *Store) PerStepCap(ctx context.Context) int {
	v := 4000
	s.getTyped(ctx, "budget.per_step_cap", &v)
	return v
}

// OverageThreshold is the multiplier (default 1.2) applied to an allocation
// to derive its overage limit.
func (s *Store) OverageThreshold(ctx context.Context) float64 {
	v := 1.2
	s.getTyped(ctx, "budget.overage_threshold", &v)
	return v
}

// AllocationStrategy selects equal/proportional/adaptive/priority/predictive.
func (s *Store) AllocationStrategy(ctx context.Context) string {
	v := "proportional"
	s.getTyped(ctx, "budget.allocation_strategy", &v)
	return v
}

// defaultIntentPriority is used by the *priority* allocation strategy.
var defaultIntentPriority = map[types.Intent]float64{
	types.IntentGenerate:    1.5,
	types.IntentValidate:    1.3,
	types.IntentExtract:     1.2,
	types.IntentConditional: 0.5,
	types.IntentFilter:      0.5,
}

// IntentPriority returns the priority multiplier for intent, default 1.0.
func (s *Store) IntentPriority(ctx context.Context, intent types.Intent) float64 {
	out := make(map[types.Intent]float64, len(defaultIntentPriority))
	for k, v := range defaultIntentPriority {
		out[k] = v
	}
	s.getTyped(ctx, "budget.intent_priority", &out)
	if v, ok := out[intent]; ok {
		return v
	}
	return 1.0
}

// CompressionPolicy returns the compression policy configured for intent.
func (s *Store) CompressionPolicy(ctx context.Context, intent types.Intent) types.CompressionPolicy {
	policy := defaultCompressionPolicy(intent)
	s.getTyped(ctx, "compression.policy."+string(intent), &policy)
	return policy
}

// MemoryCompressionPolicy returns the compression policy used for persisted
// agent memory.
func (s *Store) MemoryCompressionPolicy(ctx context.Context) types.CompressionPolicy {
	policy := types.CompressionPolicy{
		Enabled:         true,
		Strategy:        types.StrategySemantic,
		TargetRatio:     0.3,
		MinQualityScore: 0.8,
		Aggressiveness:  types.AggressivenessMedium,
	}
	s.getTyped(ctx, "compression.policy.memory", &policy)
	return policy
}

func defaultCompressionPolicy(intent types.Intent) types.CompressionPolicy {
	switch intent {
	case types.IntentSummarize, types.IntentAggregate:
		return types.CompressionPolicy{Enabled: true, Strategy: types.StrategySemantic, TargetRatio: 0.4, MinQualityScore: 0.8, Aggressiveness: types.AggressivenessMedium}
	case types.IntentConditional, types.IntentFilter:
		return types.CompressionPolicy{Enabled: false, Strategy: types.StrategyNone, TargetRatio: 1.0, MinQualityScore: 1.0, Aggressiveness: types.AggressivenessLow}
	default:
		return types.CompressionPolicy{Enabled: true, Strategy: types.StrategyStructural, TargetRatio: 0.6, MinQualityScore: 0.75, Aggressiveness: types.AggressivenessLow}
	}
}

// TierThresholds returns (fastThreshold, balancedThreshold) for effective
// complexity → tier selection.
func (s *Store) TierThresholds(ctx context.Context) (fast, balanced float64) {
	fast, balanced = 3.0, 6.5
	s.getTyped(ctx, "routing.fast_threshold", &fast)
	s.getTyped(ctx, "routing.balanced_threshold", &balanced)
	return fast, balanced
}

// MixingWeights returns (wAgent, wStep) for effective-complexity blending.
func (s *Store) MixingWeights(ctx context.Context) (wAgent, wStep float64) {
	wAgent, wStep = 0.6, 0.4
	s.getTyped(ctx, "routing.w_agent", &wAgent)
	s.getTyped(ctx, "routing.w_step", &wStep)
	return wAgent, wStep
}

// ModelConfig is the per-(tier,intent) routing target.
type ModelConfig struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	MaxTokens    int     `json:"max_tokens"`
	Temperature  float64 `json:"temperature"`
	CostPerToken float64 `json:"cost_per_token"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	// CredentialsRef, when set, names a secret for ResolveSecret to fetch
	// this provider's API credentials instead of the ambient environment.
	CredentialsRef string `json:"credentials_ref,omitempty"`
}

// ModelFor returns the model configuration for (tier, intent), falling back
// to the tier's generic default when no intent-specific override is configured.
func (s *Store) ModelFor(ctx context.Context, tier types.Tier, intent types.Intent) ModelConfig {
	cfg := defaultModelConfig(tier)
	s.getTyped(ctx, fmt.Sprintf("routing.model.%s", tier), &cfg)
	s.getTyped(ctx, fmt.Sprintf("routing.model.%s.%s", tier, intent), &cfg)
	return cfg
}

func defaultModelConfig(tier types.Tier) ModelConfig {
	switch tier {
	case types.TierFast:
		return ModelConfig{Provider: "bedrock", Model: "anthropic.claude-3-haiku-20240307-v1:0", MaxTokens: 1024, Temperature: 0.3, CostPerToken: 0.00000025, AvgLatencyMS: 400}
	case types.TierPowerful:
		return ModelConfig{Provider: "bedrock", Model: "anthropic.claude-3-5-sonnet-20241022-v2:0", MaxTokens: 4096, Temperature: 0.4, CostPerToken: 0.000003, AvgLatencyMS: 2200}
	default:
		return ModelConfig{Provider: "bedrock", Model: "anthropic.claude-3-5-sonnet-20240620-v1:0", MaxTokens: 2048, Temperature: 0.35, CostPerToken: 0.000001, AvgLatencyMS: 1100}
	}
}

// ComplexityWeights holds the six factor weights for a step kind. The
// caller multiplies each factor score by its weight as given, without
// normalizing, and clamps the weighted sum to [0,10]; the weights are not
// required to sum to 1.
type ComplexityWeights struct {
	PromptLength     float64 `json:"prompt_length"`
	DataSize         float64 `json:"data_size"`
	ConditionCount   float64 `json:"condition_count"`
	ContextDepth     float64 `json:"context_depth"`
	ReasoningDepth   float64 `json:"reasoning_depth"`
	OutputComplexity float64 `json:"output_complexity"`
}

func (s *Store) ComplexityWeights(ctx context.Context, stepKind string) ComplexityWeights {
	w := defaultComplexityWeights(stepKind)
	s.getTyped(ctx, "routing.complexity_weights."+stepKind, &w)
	return w
}

func defaultComplexityWeights(stepKind string) ComplexityWeights {
	switch stepKind {
	case "ai_processing", "generate", "llm_decision":
		return ComplexityWeights{0.2, 0.15, 0.1, 0.15, 0.3, 0.1}
	case "conditional":
		return ComplexityWeights{0.1, 0.1, 0.45, 0.1, 0.2, 0.05}
	case "transform":
		return ComplexityWeights{0.15, 0.3, 0.1, 0.15, 0.1, 0.2}
	default:
		return ComplexityWeights{0.2, 0.2, 0.15, 0.15, 0.15, 0.15}
	}
}

// BucketThresholds holds the raw-measurement thresholds used to
// bucket a raw value into {low=2, med=5, high=7, extreme=9}.
type BucketThresholds struct {
	Med     float64 `json:"med"`
	High    float64 `json:"high"`
	Extreme float64 `json:"extreme"`
}

func (s *Store) BucketThresholds(ctx context.Context, factor string) BucketThresholds {
	t := defaultBucketThresholds(factor)
	s.getTyped(ctx, "routing.bucket_thresholds."+factor, &t)
	return t
}

func defaultBucketThresholds(factor string) BucketThresholds {
	switch factor {
	case "prompt_length":
		return BucketThresholds{Med: 200, High: 800, Extreme: 2000}
	case "data_size":
		return BucketThresholds{Med: 1024, High: 8192, Extreme: 65536}
	case "condition_count":
		return BucketThresholds{Med: 2, High: 5, Extreme: 10}
	case "context_depth":
		return BucketThresholds{Med: 2, High: 5, Extreme: 10}
	default:
		return BucketThresholds{Med: 5, High: 7, Extreme: 9}
	}
}

// FeatureFlags returns the current state of every orchestration feature
// flag. All default false; flags only add behavior, never remove it.
type FeatureFlags struct {
	OrchestrationEnabled                 bool `json:"orchestration_enabled"`
	CompressionEnabled                   bool `json:"orchestration_compression_enabled"`
	AISRoutingEnabled                    bool `json:"orchestration_ais_routing_enabled"`
	AdaptiveBudgetEnabled                bool `json:"orchestration_adaptive_budget_enabled"`
	BulletproofClassificationEnabled     bool `json:"orchestration_bulletproof_classification_enabled"`
	ValidationEnabled                    bool `json:"orchestration_validation_enabled"`
	AmbiguityDetectionEnabled            bool `json:"orchestration_ambiguity_detection_enabled"`
}

func (s *Store) FeatureFlags(ctx context.Context) FeatureFlags {
	var f FeatureFlags
	s.getTyped(ctx, "feature_flags", &f)
	return f
}

// ClassifierThresholds returns the tier-escalation thresholds.
type ClassifierThresholds struct {
	Tier1Confidence        float64 `json:"tier1_confidence"`
	Tier2Confidence        float64 `json:"tier2_confidence"`
	DisagreementThreshold  float64 `json:"disagreement_threshold"`
}

func (s *Store) ClassifierThresholds(ctx context.Context) ClassifierThresholds {
	t := ClassifierThresholds{Tier1Confidence: 0.9, Tier2Confidence: 0.9, DisagreementThreshold: 0.3}
	s.getTyped(ctx, "classifier.thresholds", &t)
	return t
}
