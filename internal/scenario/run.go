package scenario

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/proctor/internal/harness"
	"github.com/roach88/proctor/internal/native"
	"github.com/roach88/proctor/internal/simrt"
	"github.com/roach88/proctor/internal/store"
	"github.com/roach88/proctor/internal/testutil"
)

// TestResult is the observed outcome of one scenario test.
type TestResult struct {
	Name        string `json:"name"`
	ID          int64  `json:"id"`
	Outcome     string `json:"outcome"`
	FailureKind string `json:"failure_kind,omitempty"`
	Message     string `json:"message,omitempty"`
	ElapsedMs   int64  `json:"elapsed_ms"`
}

// Result is the outcome of executing a scenario.
type Result struct {
	// Pass is true when every expect clause matched.
	Pass bool `json:"pass"`

	// Errors lists expectation mismatches. Empty when Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Tests holds per-test observed outcomes in execution order.
	Tests []TestResult `json:"tests"`

	// Summary is the harness-level aggregate.
	Summary harness.RunSummary `json:"summary"`

	// Events is the full dispatched event stream, for trace rendering
	// and golden comparison.
	Events []native.Event `json:"-"`
}

// RunOption configures scenario execution.
type RunOption func(*runner)

// WithEventLog persists the dispatched event stream to st under the
// scenario's name as run id, in addition to the in-memory trace.
func WithEventLog(st *store.Store) RunOption {
	return func(r *runner) {
		r.eventLog = st
	}
}

// WithLogger sets the structured logger for harness internals.
// Scenario runs default to a discard logger so traces stay clean.
func WithLogger(logger *slog.Logger) RunOption {
	return func(r *runner) {
		r.logger = logger
	}
}

// WithOrigins overrides the origin generator for the simulated runtime.
// Golden tests substitute testutil.FixedOrigins for byte-stable origins.
func WithOrigins(origins simrt.OriginGenerator) RunOption {
	return func(r *runner) {
		r.origins = origins
	}
}

type runner struct {
	sc       *Scenario
	rt       *simrt.Runtime
	origins  simrt.OriginGenerator
	eventLog *store.Store
	logger   *slog.Logger

	ops  map[string]int64
	rids map[string]int32
}

// Run executes a scenario against a fresh simulated runtime.
//
// Each scenario runs with a stepped clock, so elapsed times in traces are
// deterministic across runs. Registration origins default to time-sortable
// UUIDv7s; use WithOrigins to substitute a deterministic generator. An
// error is returned for harness-level problems (registration failures,
// machinery panics); expectation mismatches are reported through
// Result.Errors instead.
func Run(ctx context.Context, sc *Scenario, opts ...RunOption) (*Result, error) {
	r := &runner{
		sc:      sc,
		origins: simrt.UUIDv7Origins{},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		ops:     make(map[string]int64),
		rids:    make(map[string]int32),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.rt = simrt.New(r.origins)
	r.rt.EnableOpTracing(sc.TraceOps)

	if err := r.exec(ctx, nil, sc.Setup); err != nil {
		return nil, fmt.Errorf("scenario %s: setup: %w", sc.Name, err)
	}

	hopts := []harness.Option{
		harness.WithNow(testutil.NewSteppedClock(time.Millisecond).Now),
		harness.WithLogger(r.logger),
	}
	if sc.DrainTurns > 0 {
		hopts = append(hopts, harness.WithDrainTurns(sc.DrainTurns))
	}
	if r.eventLog != nil {
		hopts = append(hopts, harness.WithEventSink(store.NewSink(r.eventLog, sc.Name, r.rt)))
	}
	h := harness.New(r.rt, hopts...)

	names := make(map[int64]string, len(sc.Tests))
	for i, test := range sc.Tests {
		id, err := h.Register(harness.TestDescription{
			Name:              test.Name,
			Fn:                r.body(test.Actions),
			Ignore:            test.Ignore,
			Only:              test.Only,
			SanitizeOps:       toggle(test.SanitizeOps),
			SanitizeResources: toggle(test.SanitizeResources),
			SanitizeExit:      toggle(test.SanitizeExit),
			Permissions:       permissionsOf(test.Permissions),
		})
		if err != nil {
			return nil, fmt.Errorf("scenario %s: tests[%d]: %w", sc.Name, i, err)
		}
		names[id] = test.Name
	}

	summary, err := h.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}

	result := &Result{Pass: true, Summary: summary, Events: r.rt.Events()}
	observed := make(map[string]TestResult, len(sc.Tests))
	for _, ev := range result.Events {
		tr, ok := ev.(native.TestResult)
		if !ok {
			continue
		}
		res := TestResult{
			Name:      names[tr.ID],
			ID:        tr.ID,
			Outcome:   tr.Outcome.Kind.String(),
			ElapsedMs: tr.ElapsedMs,
		}
		if tr.Outcome.Failure != nil {
			res.FailureKind = native.FailureName(tr.Outcome.Failure)
			res.Message = tr.Outcome.Failure.Message()
		}
		result.Tests = append(result.Tests, res)
		observed[res.Name] = res
	}

	for _, test := range sc.Tests {
		evaluateExpect(result, test, observed)
	}
	return result, nil
}

// evaluateExpect checks one test's expect clause against its observed
// outcome and records mismatches on the result.
func evaluateExpect(result *Result, test TestSpec, observed map[string]TestResult) {
	if test.Expect == nil {
		return
	}
	res, ok := observed[test.Name]
	if !ok {
		result.addError(fmt.Sprintf("test %q: no result observed (filtered out by only?)", test.Name))
		return
	}
	if res.Outcome != test.Expect.Outcome {
		result.addError(fmt.Sprintf("test %q: outcome = %s, want %s", test.Name, res.Outcome, test.Expect.Outcome))
		return
	}
	if test.Expect.Failure != "" && res.FailureKind != test.Expect.Failure {
		result.addError(fmt.Sprintf("test %q: failure = %s, want %s", test.Name, res.FailureKind, test.Expect.Failure))
	}
	for _, substr := range test.Expect.MessageContains {
		if !strings.Contains(res.Message, substr) {
			result.addError(fmt.Sprintf("test %q: message does not contain %q:\n%s", test.Name, substr, res.Message))
		}
	}
}

func (r *Result) addError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

// body builds a harness body that interprets the action list.
func (r *runner) body(actions []Action) harness.Fn {
	return func(ctx context.Context, t *harness.T) error {
		return r.exec(ctx, t, actions)
	}
}

// exec interprets actions against the simulated runtime. t is nil during
// setup, where step and body-control actions are rejected.
func (r *runner) exec(ctx context.Context, t *harness.T, actions []Action) error {
	for i, a := range actions {
		switch {
		case a.StartOp != nil:
			id := r.rt.StartOp(a.StartOp.Kind)
			if a.StartOp.As != "" {
				r.ops[a.StartOp.As] = id
			}

		case a.CompleteOp != "":
			id, ok := r.ops[a.CompleteOp]
			if !ok {
				return fmt.Errorf("actions[%d]: unknown op ref %q", i, a.CompleteOp)
			}
			r.rt.CompleteOp(id)

		case a.CompleteOpOnTurn != nil:
			id, ok := r.ops[a.CompleteOpOnTurn.Ref]
			if !ok {
				return fmt.Errorf("actions[%d]: unknown op ref %q", i, a.CompleteOpOnTurn.Ref)
			}
			r.rt.CompleteOpOnTurn(id, a.CompleteOpOnTurn.Turn)

		case a.CompleteForeignOp != "":
			r.rt.CompleteForeignOp(a.CompleteForeignOp)

		case a.OpenResource != nil:
			rid := r.rt.OpenResource(a.OpenResource.Kind)
			if a.OpenResource.As != "" {
				r.rids[a.OpenResource.As] = rid
			}

		case a.CloseResource != "":
			rid, ok := r.rids[a.CloseResource]
			if !ok {
				return fmt.Errorf("actions[%d]: unknown resource ref %q", i, a.CloseResource)
			}
			r.rt.CloseResource(rid)

		case a.ReplaceResource != nil:
			rid, ok := r.rids[a.ReplaceResource.Ref]
			if !ok {
				return fmt.Errorf("actions[%d]: unknown resource ref %q", i, a.ReplaceResource.Ref)
			}
			r.rt.ReplaceResource(rid, a.ReplaceResource.Kind)

		case a.Exit != nil:
			if t == nil {
				return fmt.Errorf("actions[%d]: exit is not allowed in setup", i)
			}
			r.rt.Exit(*a.Exit)

		case a.Fail != "":
			if t == nil {
				return fmt.Errorf("actions[%d]: fail is not allowed in setup", i)
			}
			return errors.New(a.Fail)

		case a.Step != nil:
			if t == nil {
				return fmt.Errorf("actions[%d]: step is not allowed in setup", i)
			}
			if _, err := t.RunStep(ctx, r.stepDescription(a.Step)); err != nil {
				return err
			}

		case a.ParentStep != nil:
			if t == nil {
				return fmt.Errorf("actions[%d]: parent_step is not allowed in setup", i)
			}
			parent := t.Parent()
			if parent == nil {
				return fmt.Errorf("actions[%d]: parent_step requires a step context", i)
			}
			if _, err := parent.RunStep(ctx, r.stepDescription(a.ParentStep)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *runner) stepDescription(spec *StepSpec) harness.StepDescription {
	return harness.StepDescription{
		Name:              spec.Name,
		Fn:                r.body(spec.Actions),
		Ignore:            spec.Ignore,
		SanitizeOps:       toggle(spec.SanitizeOps),
		SanitizeResources: toggle(spec.SanitizeResources),
		SanitizeExit:      toggle(spec.SanitizeExit),
	}
}

func toggle(b *bool) harness.Toggle {
	switch {
	case b == nil:
		return harness.ToggleInherit
	case *b:
		return harness.ToggleOn
	default:
		return harness.ToggleOff
	}
}

// permissionsOf converts scenario permission requests into the native
// declarative set. Returns nil when no categories are requested, which
// skips the permission scoper entirely.
func permissionsOf(reqs map[string]PermissionRequest) *native.Permissions {
	if len(reqs) == 0 {
		return nil
	}
	perms := &native.Permissions{}
	for cat, req := range reqs {
		spec := native.PermissionSpec{Allow: req.Allow}
		if req.State == "denied" {
			spec.State = native.PermDenied
		} else {
			spec.State = native.PermGranted
		}
		switch cat {
		case "env":
			perms.Env = spec
		case "ffi":
			perms.FFI = spec
		case "import":
			perms.Import = spec
		case "net":
			perms.Net = spec
		case "read":
			perms.Read = spec
		case "run":
			perms.Run = spec
		case "sys":
			perms.Sys = spec
		case "write":
			perms.Write = spec
		}
	}
	return perms
}
