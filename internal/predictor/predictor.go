// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package predictor implements the Budget Predictor: historical, query-
// driven token-budget estimation from the per-step execution table. Never
// raises on query failure; an insufficient-data or query-error outcome is
// reported as a plain "no prediction", not an error.
package predictor

import (
	"context"
	"database/sql"
	"math"
	"strconv"
	"time"

	"github.com/axonflow-oss/orchestration-core/internal/cache"
	"github.com/axonflow-oss/orchestration-core/internal/types"
	"github.com/axonflow-oss/orchestration-core/shared/logger"
)

const (
	minSamples   = 10
	lookbackDays = 30
	cacheTTL     = time.Hour
)

// Prediction is the result of a successful predictor query.
type Prediction struct {
	Budget     int
	Confidence float64
	SampleSize int
}

type sample struct {
	Mean   float64
	Stddev float64
	N      int
}

// Predictor queries workflow_step_executions for historical token usage and
// derives a µ+2σ budget estimate.
type Predictor struct {
	db    *sql.DB
	cache cache.Store[sample]
	log   *logger.Logger
}

// New constructs a Predictor. db may be nil in deployments with no
// persisted execution history; all queries then report no prediction.
func New(db *sql.DB, log *logger.Logger) *Predictor {
	if log == nil {
		log = logger.New("budget-predictor")
	}
	return &Predictor{db: db, cache: cache.NewFromEnv[sample]("predictor", cacheTTL), log: log}
}

func key(stepKind string, tier types.Tier, complexity float64) string {
	return stepKind + "|" + string(tier) + "|" + strconv.Itoa(int(math.Round(complexity)))
}

// Predict returns a budget estimate for (stepKind, tier, complexity), or
// false if there isn't enough historical data (fewer than minSamples rows
// in the last lookbackDays) or the query failed.
func (p *Predictor) Predict(ctx context.Context, stepKind string, tier types.Tier, complexity float64) (Prediction, bool) {
	k := key(stepKind, tier, complexity)
	if s, ok := p.cache.Get(k); ok {
		return fromSample(s)
	}

	if p.db == nil {
		return Prediction{}, false
	}

	s, ok := p.query(ctx, stepKind, tier, complexity)
	if !ok {
		return Prediction{}, false
	}
	p.cache.Set(k, s)
	return fromSample(s)
}

func fromSample(s sample) (Prediction, bool) {
	if s.N < minSamples {
		return Prediction{}, false
	}
	budget := int(math.Ceil(s.Mean + 2*s.Stddev))
	if budget < 100 {
		budget = 100
	}
	if budget > 100000 {
		budget = 100000
	}
	confidence := 1.0 / (1.0 + math.Exp(-0.1*(float64(s.N)-50)))
	return Prediction{Budget: budget, Confidence: confidence, SampleSize: s.N}, true
}

const historyQuery = `
SELECT tokens_used
FROM workflow_step_executions
WHERE step_type = $1
  AND selected_tier = $2
  AND complexity_score BETWEEN $3 AND $4
  AND status = 'completed'
  AND tokens_used IS NOT NULL
  AND created_at >= $5
`

func (p *Predictor) query(ctx context.Context, stepKind string, tier types.Tier, complexity float64) (sample, bool) {
	since := timeNow().AddDate(0, 0, -lookbackDays)

	rows, err := p.db.QueryContext(ctx, historyQuery, stepKind, string(tier), complexity-1, complexity+1, since)
	if err != nil {
		p.log.Warn("", "", "predictor query failed", map[string]interface{}{"error": err.Error()})
		return sample{}, false
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			continue
		}
		values = append(values, float64(v))
	}
	if err := rows.Err(); err != nil {
		p.log.Warn("", "", "predictor row iteration failed", map[string]interface{}{"error": err.Error()})
		return sample{}, false
	}

	if len(values) < minSamples {
		return sample{}, false
	}

	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))

	return sample{Mean: mean, Stddev: math.Sqrt(variance), N: len(values)}, true
}

// timeNow is a seam so tests can deterministically control the lookback
// window boundary.
var timeNow = func() time.Time { return time.Now().UTC() }
