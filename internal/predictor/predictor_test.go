// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package predictor

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/axonflow-oss/orchestration-core/internal/types"
)

func TestPredict_NilDB_NoPrediction(t *testing.T) {
	p := New(nil, nil)
	_, ok := p.Predict(context.Background(), "ai_processing", types.TierBalanced, 5.0)
	if ok {
		t.Error("expected no prediction with nil db")
	}
}

func TestPredict_InsufficientHistory(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"tokens_used"})
	for i := 0; i < minSamples-1; i++ {
		rows.AddRow(500)
	}
	mock.ExpectQuery(`SELECT tokens_used`).WillReturnRows(rows)

	p := New(db, nil)
	_, ok := p.Predict(context.Background(), "ai_processing", types.TierBalanced, 5.0)
	if ok {
		t.Error("expected no prediction with fewer than minSamples rows")
	}
}

func TestPredict_SufficientHistory(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"tokens_used"})
	values := []int64{900, 1000, 1100, 950, 1050, 1000, 900, 1100, 1000, 1050, 980, 1020}
	for _, v := range values {
		rows.AddRow(v)
	}
	mock.ExpectQuery(`SELECT tokens_used`).WillReturnRows(rows)

	p := New(db, nil)
	pred, ok := p.Predict(context.Background(), "ai_processing", types.TierBalanced, 5.0)
	if !ok {
		t.Fatal("expected a prediction with 12 historical rows")
	}
	if pred.SampleSize != len(values) {
		t.Errorf("SampleSize = %d, want %d", pred.SampleSize, len(values))
	}
	if pred.Budget < 1000 || pred.Budget > 1300 {
		t.Errorf("Budget = %d, want roughly mean+2sigma in [1000,1300]", pred.Budget)
	}
	if pred.Confidence <= 0 || pred.Confidence >= 1 {
		t.Errorf("Confidence = %v, want in (0,1)", pred.Confidence)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet sqlmock expectations: %v", err)
	}
}

func TestPredict_QueryErrorYieldsNoPrediction(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT tokens_used`).WillReturnError(sql.ErrConnDone)

	p := New(db, nil)
	_, ok := p.Predict(context.Background(), "ai_processing", types.TierBalanced, 5.0)
	if ok {
		t.Error("expected no prediction on query error")
	}
}

func TestPredict_CachesSecondCallWithoutRequery(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"tokens_used"})
	for i := 0; i < minSamples+2; i++ {
		rows.AddRow(1000)
	}
	mock.ExpectQuery(`SELECT tokens_used`).WillReturnRows(rows)

	p := New(db, nil)
	ctx := context.Background()
	first, ok := p.Predict(ctx, "ai_processing", types.TierBalanced, 5.0)
	if !ok {
		t.Fatal("expected a prediction on first call")
	}
	second, ok := p.Predict(ctx, "ai_processing", types.TierBalanced, 5.0)
	if !ok {
		t.Fatal("expected a prediction on second (cached) call")
	}
	if second.Budget != first.Budget {
		t.Errorf("cached Budget = %d, want %d", second.Budget, first.Budget)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected second query issued: %v", err)
	}
}

func TestFromSample_BudgetClampedToBounds(t *testing.T) {
	tests := []struct {
		name string
		s    sample
		ok   bool
		want int
	}{
		{"below floor clamps to 100", sample{Mean: 10, Stddev: 1, N: minSamples}, true, 100},
		{"above ceiling clamps to 100000", sample{Mean: 200000, Stddev: 1000, N: minSamples}, true, 100000},
		{"insufficient samples rejected", sample{Mean: 1000, Stddev: 10, N: minSamples - 1}, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred, ok := fromSample(tt.s)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && pred.Budget != tt.want {
				t.Errorf("Budget = %d, want %d", pred.Budget, tt.want)
			}
		})
	}
}

func TestKey_DistinguishesDimensions(t *testing.T) {
	a := key("ai_processing", types.TierBalanced, 5.0)
	b := key("ai_processing", types.TierFast, 5.0)
	c := key("transform", types.TierBalanced, 5.0)
	d := key("ai_processing", types.TierBalanced, 5.4) // rounds to same bucket as 5.0

	if a == b || a == c {
		t.Error("expected different tiers/step kinds to produce different keys")
	}
	if a != d {
		t.Errorf("expected 5.0 and 5.4 to round to the same complexity bucket: %q != %q", a, d)
	}
}

func TestTimeNow_SeamAllowsOverride(t *testing.T) {
	original := timeNow
	defer func() { timeNow = original }()

	fixed := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	timeNow = func() time.Time { return fixed }

	if got := timeNow(); !got.Equal(fixed) {
		t.Errorf("timeNow() = %v, want %v", got, fixed)
	}
}
