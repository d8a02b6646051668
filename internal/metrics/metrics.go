// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package metrics registers and exposes the Prometheus collectors the
// orchestration core emits: overhead-token counters, cache hit-rate
// gauges, per-tier routing counters, and handler latency histograms.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/axonflow-oss/orchestration-core/internal/cache"
	"github.com/axonflow-oss/orchestration-core/internal/types"
)

var (
	overheadTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestration_overhead_tokens_total",
			Help: "Tokens spent on orchestration overhead (classification, compression), not charged to step budgets.",
		},
		[]string{"component"},
	)

	cacheHits = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestration_cache_hit_rate",
			Help: "Hit rate of a named process-wide cache.",
		},
		[]string{"cache"},
	)

	routingDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestration_routing_decisions_total",
			Help: "Routing decisions by selected tier.",
		},
		[]string{"tier"},
	)

	handlerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestration_handler_latency_ms",
			Help:    "Intent handler latency in milliseconds, by intent.",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		},
		[]string{"intent"},
	)

	budgetUtilization = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestration_budget_utilization_ratio",
			Help:    "Fraction of allocated budget used, per step, at step completion.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 12),
		},
		[]string{"intent"},
	)
)

func init() {
	prometheus.MustRegister(overheadTokens, cacheHits, routingDecisions, handlerLatency, budgetUtilization)
}

// RecordOverheadTokens adds tokens spent by component (e.g. "classifier",
// "compression") to the orchestration-overhead counter.
func RecordOverheadTokens(component string, tokens int) {
	if tokens <= 0 {
		return
	}
	overheadTokens.WithLabelValues(component).Add(float64(tokens))
}

// RecordCacheStats publishes a named cache's current hit rate.
func RecordCacheStats(name string, stats cache.Stats) {
	total := stats.Hits + stats.Misses
	if total == 0 {
		cacheHits.WithLabelValues(name).Set(0)
		return
	}
	cacheHits.WithLabelValues(name).Set(float64(stats.Hits) / float64(total))
}

// RecordRoutingDecision increments the per-tier routing counter.
func RecordRoutingDecision(tier types.Tier) {
	routingDecisions.WithLabelValues(string(tier)).Inc()
}

// RecordHandlerLatency observes a handler invocation's latency for intent.
func RecordHandlerLatency(intent types.Intent, d time.Duration) {
	handlerLatency.WithLabelValues(string(intent)).Observe(float64(d.Milliseconds()))
}

// RecordBudgetUtilization observes a step's final used/allocated ratio.
func RecordBudgetUtilization(intent types.Intent, budget *types.TokenBudget) {
	if budget == nil || budget.Allocated <= 0 {
		return
	}
	ratio := float64(budget.Used) / float64(budget.Allocated)
	budgetUtilization.WithLabelValues(string(intent)).Observe(ratio)
}
