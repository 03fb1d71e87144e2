package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/proctor/internal/native"
)

// Event type names as persisted in the type column.
const (
	EventRunStart   = "run_start"
	EventStepWait   = "step_wait"
	EventStepResult = "step_result"
	EventTestResult = "test_result"
	EventRunFailed  = "run_failed"
)

// Record is one persisted event row.
type Record struct {
	Seq         int64
	RunID       string
	Type        string
	NodeID      int64 // 0 for run-level events
	Outcome     string
	FailureKind string
	Message     string
	ElapsedMs   int64
	Payload     string
}

// Sink persists every dispatched event under a run id and forwards it to
// an optional downstream sink. Implements native.EventSink.
type Sink struct {
	store *Store
	clock *Clock
	runID string
	next  native.EventSink
}

// NewSink creates an event sink writing to st under runID. next may be
// nil when persistence is the only consumer.
func NewSink(st *Store, runID string, next native.EventSink) *Sink {
	return &Sink{store: st, clock: NewClock(), runID: runID, next: next}
}

// Dispatch persists the event and then forwards it downstream. The write
// happens first so a crashing downstream reporter cannot lose the record.
func (s *Sink) Dispatch(ev native.Event) error {
	if err := s.store.WriteEvent(context.Background(), s.runID, s.clock.Next(), ev); err != nil {
		return err
	}
	if s.next != nil {
		return s.next.Dispatch(ev)
	}
	return nil
}

// WriteEvent inserts one event row. Rows are append-only; a duplicate
// (run_id, seq) pair is a caller bug and surfaces as a constraint error.
func (s *Store) WriteEvent(ctx context.Context, runID string, seq int64, ev native.Event) error {
	rec, err := encodeEvent(ev)
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events
		(seq, run_id, type, node_id, outcome, failure_kind, message, elapsed_ms, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		seq,
		runID,
		rec.Type,
		nullableID(rec.NodeID),
		nullableString(rec.Outcome),
		nullableString(rec.FailureKind),
		nullableString(rec.Message),
		rec.ElapsedMs,
		rec.Payload,
	)
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// encodeEvent flattens a native event into its row shape plus a full JSON
// payload for lossless inspection.
func encodeEvent(ev native.Event) (Record, error) {
	rec := Record{}
	payload := map[string]any{}

	switch e := ev.(type) {
	case native.RunStart:
		rec.Type = EventRunStart
		payload["tests"] = e.Tests

	case native.StepWait:
		rec.Type = EventStepWait
		rec.NodeID = e.ID
		payload["id"] = e.ID

	case native.StepResult:
		rec.Type = EventStepResult
		rec.NodeID = e.ID
		rec.ElapsedMs = e.ElapsedMs
		fillOutcome(&rec, payload, e.Outcome)
		payload["id"] = e.ID
		payload["elapsed_ms"] = e.ElapsedMs

	case native.TestResult:
		rec.Type = EventTestResult
		rec.NodeID = e.ID
		rec.ElapsedMs = e.ElapsedMs
		fillOutcome(&rec, payload, e.Outcome)
		payload["id"] = e.ID
		payload["elapsed_ms"] = e.ElapsedMs

	case native.RunFailed:
		rec.Type = EventRunFailed
		rec.Message = e.Message
		payload["message"] = e.Message

	default:
		return Record{}, fmt.Errorf("unknown event type %T", ev)
	}

	payload["type"] = rec.Type
	raw, err := json.Marshal(payload)
	if err != nil {
		return Record{}, fmt.Errorf("marshal payload: %w", err)
	}
	rec.Payload = string(raw)
	return rec, nil
}

func fillOutcome(rec *Record, payload map[string]any, out native.Outcome) {
	rec.Outcome = out.Kind.String()
	payload["outcome"] = rec.Outcome
	if out.Failure != nil {
		rec.FailureKind = native.FailureName(out.Failure)
		rec.Message = out.Failure.Message()
		payload["failure_kind"] = rec.FailureKind
		payload["message"] = rec.Message
	}
}

func nullableID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
