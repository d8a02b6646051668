// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package audit implements the write-only audit sink: a background-queued,
// batch-writing event stream for orchestration lifecycle and per-step
// routing/failure events, severities constrained to {info, warning,
// critical}.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/axonflow-oss/orchestration-core/internal/types"
	"github.com/axonflow-oss/orchestration-core/shared/logger"
)

// Event is a single audit record.
type Event struct {
	ID          string
	Timestamp   time.Time
	ExecutionID string
	StepID      string
	Severity    types.AuditSeverity
	Kind        string // e.g. "orchestration.start", "step.routed", "step.failed"
	Message     string
	Details     map[string]interface{}
}

var eventCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "orchestration_audit_events_total",
		Help: "Count of audit events emitted by the orchestration core, by severity and kind.",
	},
	[]string{"severity", "kind"},
)

func init() {
	prometheus.MustRegister(eventCounter)
}

// Sink queues Events and flushes them to the audit table in batches. It
// never blocks the orchestration driver: if the queue is full, events are
// dropped and logged, per spec.md §7's "persistence failure... degrades
// telemetry, not correctness".
type Sink struct {
	db        *sql.DB
	log       *logger.Logger
	queue     chan *Event
	batchSize int
	mu        sync.Mutex
	batch     []*Event
	wg        sync.WaitGroup
	shutdown  chan struct{}
}

// New constructs a Sink and starts its background flush worker. db may be
// nil, in which case events are counted and logged but never persisted.
func New(db *sql.DB, log *logger.Logger, batchSize int) *Sink {
	if log == nil {
		log = logger.New("audit-sink")
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	s := &Sink{db: db, log: log, queue: make(chan *Event, 10000), batchSize: batchSize, shutdown: make(chan struct{})}
	s.wg.Add(1)
	go s.run()
	return s
}

// Emit records an audit event. Never blocks the caller for more than a
// channel send; drops and logs on a full queue.
func (s *Sink) Emit(executionID, stepID string, severity types.AuditSeverity, kind, message string, details map[string]interface{}) {
	eventCounter.WithLabelValues(string(severity), kind).Inc()

	ev := &Event{
		ID:          uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		ExecutionID: executionID,
		StepID:      stepID,
		Severity:    severity,
		Kind:        kind,
		Message:     message,
		Details:     details,
	}

	select {
	case s.queue <- ev:
	default:
		s.log.Warn("", "", "audit queue full, dropping event", map[string]interface{}{"kind": kind})
	}
}

func (s *Sink) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev := <-s.queue:
			s.mu.Lock()
			s.batch = append(s.batch, ev)
			full := len(s.batch) >= s.batchSize
			s.mu.Unlock()
			if full {
				s.flush()
			}
		case <-ticker.C:
			s.flush()
		case <-s.shutdown:
			s.flush()
			return
		}
	}
}

func (s *Sink) flush() {
	s.mu.Lock()
	if len(s.batch) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.batch
	s.batch = nil
	s.mu.Unlock()

	if s.db == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, ev := range batch {
		details, _ := json.Marshal(ev.Details)
		_, err := s.db.ExecContext(ctx, insertAuditEvent,
			ev.ID, ev.Timestamp, ev.ExecutionID, ev.StepID, string(ev.Severity), ev.Kind, ev.Message, details)
		if err != nil {
			s.log.Warn("", "", "audit write failed", map[string]interface{}{"error": err.Error()})
		}
	}
}

const insertAuditEvent = `
INSERT INTO orchestration_audit_events (id, occurred_at, execution_id, step_id, severity, kind, message, details)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

// Close stops the background worker after flushing any pending batch.
func (s *Sink) Close() {
	close(s.shutdown)
	s.wg.Wait()
}
