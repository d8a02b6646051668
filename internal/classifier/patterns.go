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

package classifier

import (
	"regexp"
	"strings"

	"github.com/axonflow-oss/orchestration-core/internal/types"
)

// intentPattern is a single word-boundary pattern that, on a hit, votes for
// Intent at the given confidence. Order matters: patterns are tried in list
// order and the first hit wins for Tier 1, but ambiguity detection tallies
// every pattern that fires regardless of order.
type intentPattern struct {
	Intent     types.Intent
	Pattern    *regexp.Regexp
	Confidence float64
}

func wb(words ...string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b(` + strings.Join(words, "|") + `)\b`)
}

// orderedPatterns is deliberately ordered so summarize is tried before
// extract: "summarize" shares vocabulary ("summary", "extract the summary")
// that would otherwise fire the extract pattern first.
var orderedPatterns = []intentPattern{
	{types.IntentSummarize, wb("summarize", "summary", "condense", "digest", "tl;dr", "recap"), 0.95},
	{types.IntentExtract, wb("extract", "parse", "pull out", "retrieve", "find", "scrape"), 0.9},
	{types.IntentGenerate, wb("generate", "create", "write", "draft", "compose", "produce"), 0.9},
	{types.IntentValidate, wb("validate", "verify", "check", "confirm", "ensure", "assert"), 0.9},
	{types.IntentSend, wb("send", "email", "notify", "webhook", "slack", "sms", "push", "post", "publish"), 0.9},
	{types.IntentTransform, wb("transform", "convert", "reformat", "map", "normalize", "reshape"), 0.9},
	{types.IntentFilter, wb("filter", "exclude", "include only", "remove", "dedupe", "deduplicate"), 0.9},
	{types.IntentConditional, wb("if", "when", "branch", "otherwise", "unless"), 0.9},
	{types.IntentAggregate, wb("aggregate", "combine", "merge", "sum", "group by", "collect"), 0.9},
	{types.IntentEnrich, wb("enrich", "augment", "annotate", "supplement", "lookup"), 0.9},
}

// sendSemanticTokens is the plugin-key/prompt vocabulary that marks an
// "action" step as a send, per spec.md Tier 1.
var sendSemanticTokens = wb("send", "email", "notify", "webhook", "slack", "sms", "push", "post", "publish")

// matchText builds the text Tier 1 patterns run against: name + prompt +
// plugin key, the same surface the ambiguity tally scans.
func matchText(step types.Step) string {
	var b strings.Builder
	b.WriteString(step.Name)
	b.WriteByte(' ')
	b.WriteString(step.Prompt)
	b.WriteByte(' ')
	b.WriteString(step.PluginKey)
	return b.String()
}

// firingPatterns returns every pattern in orderedPatterns that matches text,
// used both for the first-hit Tier 1 decision and for ambiguity counting.
func firingPatterns(text string) []intentPattern {
	var hits []intentPattern
	for _, p := range orderedPatterns {
		if p.Pattern.MatchString(text) {
			hits = append(hits, p)
		}
	}
	return hits
}
