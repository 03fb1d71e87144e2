package harness

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/roach88/proctor/internal/native"
)

// DefaultDrainTurns is the number of scheduler turns the op sanitizer
// yields after a body settles, so that ops whose cleanup is deferred to a
// later turn (notably cancelled timers) are counted before comparison.
//
// The value 2 is empirical, not a proven bound, and is a known source of
// flakiness on runtimes that defer cleanup further. Tune with
// WithDrainTurns if a runtime needs more.
const DefaultDrainTurns = 2

// UnitTest and UnitBench select the label used when an intercepted exit
// is reported.
const (
	UnitTest  = "Test case"
	UnitBench = "Bench"
)

// bodyFn is a fully-wrapped body stage: it runs and reports a structured
// outcome. Stages short-circuit an inner failure but still run their
// cleanup regions.
type bodyFn func(ctx context.Context) native.Outcome

// wrapper is one sanitizer stage of the composition pipeline.
type wrapper func(bodyFn) bodyFn

// Harness drives registration and execution of tests and steps against
// an injected native runtime.
//
// A Harness must be used from a single goroutine.
type Harness struct {
	registrar native.Registrar
	intro     native.Introspection
	perms     native.PermissionController
	exits     native.ExitController
	sched     native.Scheduler
	sink      native.EventSink

	registry   *registry
	drainTurns int
	unit       string
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures a Harness.
type Option func(*Harness)

// WithDrainTurns overrides the op-sanitizer drain turn count.
func WithDrainTurns(turns int) Option {
	return func(h *Harness) {
		h.drainTurns = turns
	}
}

// WithUnit sets the unit label used in exit-interception failures
// (UnitTest or UnitBench).
func WithUnit(unit string) Option {
	return func(h *Harness) {
		h.unit = unit
	}
}

// WithNow overrides the wall clock used for elapsed measurement.
// Tests use a deterministic clock here.
func WithNow(now func() time.Time) Option {
	return func(h *Harness) {
		h.now = now
	}
}

// WithEventSink routes dispatched events somewhere other than the
// runtime's own sink (e.g. a persistent event log that tees to it).
func WithEventSink(sink native.EventSink) Option {
	return func(h *Harness) {
		h.sink = sink
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = logger
	}
}

// New creates a Harness bound to the given native runtime.
func New(rt native.Runtime, opts ...Option) *Harness {
	h := &Harness{
		registrar:  rt,
		intro:      rt,
		perms:      rt,
		exits:      rt,
		sched:      rt,
		sink:       rt,
		registry:   newRegistry(),
		drainTurns: DefaultDrainTurns,
		unit:       UnitTest,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register validates a test description, obtains an identifier from the
// native registrar, resolves sanitizer toggles (inherit means "on" at the
// top level), and installs the composed wrapper pipeline.
//
// The returned id is the runtime-assigned test identifier.
func (h *Harness) Register(desc TestDescription) (int64, error) {
	if desc.Name == "" {
		return 0, fmt.Errorf("register test: name is required")
	}
	if desc.Fn == nil {
		return 0, fmt.Errorf("register test %q: body is required", desc.Name)
	}

	name := normalizeName(desc.Name)
	location := desc.Location
	if location == (native.Location{}) {
		location = callerLocation(1)
	}

	reg, err := h.registrar.RegisterTest(native.TestInfo{Name: name, Location: location})
	if err != nil {
		return 0, fmt.Errorf("register test %q: %w", name, err)
	}

	n := &node{
		id:                reg.ID,
		name:              name,
		fn:                desc.Fn,
		origin:            reg.Origin,
		ignore:            desc.Ignore,
		only:              desc.Only,
		sanitizeOps:       desc.SanitizeOps.resolve(true),
		sanitizeResources: desc.SanitizeResources.resolve(true),
		sanitizeExit:      desc.SanitizeExit.resolve(true),
		permissions:       desc.Permissions,
		location:          location,
		level:             0,
		rootID:            reg.ID,
		rootName:          name,
	}
	n.context = &T{h: h, n: n}
	n.wrapped = h.wrap(n)
	h.registry.addRoot(n)

	h.logger.Debug("test registered",
		"id", n.id,
		"name", n.name,
		"origin", n.origin,
	)
	return n.id, nil
}

// RunSummary is the aggregate result of executing a registered batch.
type RunSummary struct {
	Passed  int
	Failed  int
	Ignored int

	// UsedOnly is set when the run was filtered by the Only flag. Such a
	// run fails overall even when every executed test passed.
	UsedOnly bool
}

// OK reports whether the run as a whole should be considered passing.
func (s RunSummary) OK() bool {
	return s.Failed == 0 && !s.UsedOnly
}

// Run executes every registered test in registration order and reports
// results through the event sink. If any test sets Only, execution is
// restricted to those tests and the summary is marked accordingly.
//
// A panic escaping the execution machinery itself (never a test body;
// those are captured per test) is reported as a RunFailed event and
// returned as an error.
func (h *Harness) Run(ctx context.Context) (summary RunSummary, err error) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("test harness failed: %v", r)
			h.dispatch(native.RunFailed{Message: msg})
			err = fmt.Errorf("%s", msg)
		}
	}()

	toRun := h.registry.roots
	for _, n := range h.registry.roots {
		if n.only {
			summary.UsedOnly = true
		}
	}
	if summary.UsedOnly {
		only := make([]*node, 0, len(toRun))
		for _, n := range toRun {
			if n.only {
				only = append(only, n)
			}
		}
		toRun = only
	}

	h.dispatch(native.RunStart{Tests: len(toRun)})

	for _, n := range toRun {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		start := h.now()
		out := n.wrapped(ctx)
		elapsed := h.now().Sub(start).Milliseconds()

		switch out.Kind {
		case native.OutcomePassed:
			summary.Passed++
		case native.OutcomeIgnored:
			summary.Ignored++
		case native.OutcomeFailed:
			summary.Failed++
			n.failed = true
		}

		h.dispatch(native.TestResult{ID: n.id, Outcome: out, ElapsedMs: elapsed})
		h.logger.Info("test finished",
			"id", n.id,
			"name", n.name,
			"outcome", out.Kind.String(),
			"elapsed_ms", elapsed,
		)
	}

	return summary, nil
}

// wrap builds the full wrapper pipeline for a node. The stage list is
// fixed at registration time; only enabled sanitizers appear in it.
func (h *Harness) wrap(n *node) bodyFn {
	pipeline := make([]wrapper, 0, 4)
	if n.sanitizeOps {
		pipeline = append(pipeline, h.opSanitizer())
	}
	if n.sanitizeResources {
		pipeline = append(pipeline, h.resourceSanitizer())
	}
	if n.sanitizeExit {
		pipeline = append(pipeline, h.exitSanitizer())
	}
	if n.parent == nil && n.permissions != nil && !n.permissions.IsInherit() {
		pipeline = append(pipeline, h.permissionScoper(*n.permissions))
	}

	// Apply in reverse so the first stage listed ends up outermost:
	// ops -> resources -> exit -> permission scope -> inner execution.
	fn := h.inner(n)
	for i := len(pipeline) - 1; i >= 0; i-- {
		fn = pipeline[i](fn)
	}
	return h.outer(n, fn)
}

// inner is the innermost stage: sibling-overlap rejection, the user body,
// and the direct-child sweep.
func (h *Harness) inner(n *node) bodyFn {
	return func(ctx context.Context) native.Outcome {
		// Overlap decisions are made synchronously against the current
		// sibling completion state, before the body ever runs.
		pending := h.registry.pendingSiblings(n)
		var sanitized []*node
		for _, sibling := range pending {
			if sibling.usesSanitizer() {
				sanitized = append(sanitized, sibling)
			}
		}
		if len(sanitized) > 0 {
			return native.Fail(native.OverlapsWithSanitizers{Names: qualifiedNames(sanitized)})
		}
		if n.usesSanitizer() && len(pending) > 0 {
			return native.Fail(native.HasSanitizersAndOverlaps{Names: qualifiedNames(pending)})
		}

		if err := n.fn(ctx, n.context); err != nil {
			return native.Fail(native.ThrownError{Err: err})
		}

		failed := 0
		for _, child := range n.children {
			if !child.completed {
				return native.Fail(native.IncompleteSteps{})
			}
			if child.failed {
				failed++
			}
		}
		if failed > 0 {
			return native.Fail(native.FailedSteps{Count: failed})
		}
		return native.Pass()
	}
}

// outer is the outermost stage. It short-circuits ignored nodes, captures
// panics from the body (and from the exit interceptor), and guarantees on
// every exit path that pending children are force-completed and the
// node's own completed flag is set.
func (h *Harness) outer(n *node, fn bodyFn) bodyFn {
	return func(ctx context.Context) (out native.Outcome) {
		defer func() {
			if r := recover(); r != nil {
				out = native.Fail(recoveredFailure(r))
			}
			for _, child := range n.children {
				if !child.completed {
					child.failed = true
					h.reportStepResult(child, native.Fail(native.Incomplete{}), 0)
				}
			}
			n.markCompleted()
		}()

		if n.ignore {
			return native.Ignored()
		}
		return fn(ctx)
	}
}

// reportStepResult finalizes a step: any still-pending children are
// recursively forced to a failed-incomplete outcome first, then the
// step's own result event is dispatched. Children are always finalized
// strictly before their parent.
func (h *Harness) reportStepResult(n *node, out native.Outcome, elapsedMs int64) {
	for _, child := range n.children {
		if !child.completed {
			child.failed = true
			h.reportStepResult(child, native.Fail(native.Incomplete{}), 0)
		}
	}
	n.markCompleted()
	h.dispatch(native.StepResult{ID: n.id, Outcome: out, ElapsedMs: elapsedMs})
}

// dispatch forwards an event to the sink. Sink failures are logged and
// swallowed: reporting must never alter test outcomes.
func (h *Harness) dispatch(ev native.Event) {
	if err := h.sink.Dispatch(ev); err != nil {
		h.logger.Error("event dispatch failed", "error", err)
	}
}

// recoveredFailure converts a recovered panic value into a failure.
// Exit-interception panics carry their own message; everything else is
// wrapped with the capture-time stack.
func recoveredFailure(r interface{}) native.Failure {
	if exit, ok := r.(*ExitAttemptError); ok {
		return native.ThrownError{Err: exit}
	}
	err, ok := r.(error)
	if !ok {
		err = fmt.Errorf("%v", r)
	}
	return native.ThrownError{Err: err, Stack: string(debug.Stack())}
}
