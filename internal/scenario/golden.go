package scenario

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/proctor/internal/native"
	"github.com/roach88/proctor/internal/store"
)

// TraceSnapshot captures a scenario's full event trace for golden file
// comparison. Field order is fixed by the struct so serialization is
// deterministic.
type TraceSnapshot struct {
	Scenario string       `json:"scenario"`
	Pass     bool         `json:"pass"`
	Errors   []string     `json:"errors,omitempty"`
	Events   []eventJSON  `json:"events"`
	Tests    []TestResult `json:"tests"`
}

type eventJSON struct {
	Type        string `json:"type"`
	ID          int64  `json:"id,omitempty"`
	Tests       int    `json:"tests,omitempty"`
	Outcome     string `json:"outcome,omitempty"`
	FailureKind string `json:"failure_kind,omitempty"`
	Message     string `json:"message,omitempty"`
	ElapsedMs   int64  `json:"elapsed_ms,omitempty"`
}

// Snapshot renders a result into its golden-comparable form.
func Snapshot(sc *Scenario, result *Result) TraceSnapshot {
	events := make([]eventJSON, 0, len(result.Events))
	for _, ev := range result.Events {
		events = append(events, encodeEventJSON(ev))
	}
	return TraceSnapshot{
		Scenario: sc.Name,
		Pass:     result.Pass,
		Errors:   result.Errors,
		Events:   events,
		Tests:    result.Tests,
	}
}

func encodeEventJSON(ev native.Event) eventJSON {
	switch e := ev.(type) {
	case native.RunStart:
		return eventJSON{Type: store.EventRunStart, Tests: e.Tests}
	case native.StepWait:
		return eventJSON{Type: store.EventStepWait, ID: e.ID}
	case native.StepResult:
		out := eventJSON{Type: store.EventStepResult, ID: e.ID, ElapsedMs: e.ElapsedMs}
		fillOutcomeJSON(&out, e.Outcome)
		return out
	case native.TestResult:
		out := eventJSON{Type: store.EventTestResult, ID: e.ID, ElapsedMs: e.ElapsedMs}
		fillOutcomeJSON(&out, e.Outcome)
		return out
	case native.RunFailed:
		return eventJSON{Type: store.EventRunFailed, Message: e.Message}
	default:
		return eventJSON{Type: fmt.Sprintf("unknown(%T)", ev)}
	}
}

func fillOutcomeJSON(out *eventJSON, o native.Outcome) {
	out.Outcome = o.Kind.String()
	if o.Failure != nil {
		out.FailureKind = native.FailureName(o.Failure)
		out.Message = o.Failure.Message()
	}
}

// AssertGolden compares a result's trace snapshot against the golden
// file testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/scenario -update
func AssertGolden(t *testing.T, sc *Scenario, result *Result) {
	t.Helper()

	data, err := json.MarshalIndent(Snapshot(sc, result), "", "  ")
	if err != nil {
		t.Fatalf("marshal trace snapshot: %v", err)
	}
	data = append(data, '\n')

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, sc.Name, data)
}
