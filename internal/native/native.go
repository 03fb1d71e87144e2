package native

import "context"

// Registration is the runtime's answer to registering a test or step.
// ID is unique within the process; Origin identifies the registering
// module (file URL or equivalent) for reporting.
type Registration struct {
	ID     int64
	Origin string
}

// TestInfo describes a top-level test to the registrar.
type TestInfo struct {
	Name     string
	Location Location
}

// StepInfo describes a nested step to the registrar.
type StepInfo struct {
	Name     string
	ParentID int64
	RootID   int64
	RootName string
	Location Location
}

// Location is the declaring call site of a test or step body.
type Location struct {
	File string
	Line int
	Col  int
}

// Registrar assigns identifiers to tests and steps.
//
// Identifiers are assigned in registration order and never reused. The
// harness threads them through all subsequent events for the node.
type Registrar interface {
	RegisterTest(info TestInfo) (Registration, error)
	RegisterStep(info StepInfo) (Registration, error)
}

// OpMetrics counts asynchronous operations for one op kind.
type OpMetrics struct {
	DispatchedAsync int64
	CompletedAsync  int64
}

// MetricsSnapshot is a point-in-time copy of the runtime's async-op
// counters: the aggregate plus a per-kind breakdown.
//
// Counts are monotonically non-decreasing for the life of the process.
// Sanitizers diff two snapshots; they never interpret absolute values.
type MetricsSnapshot struct {
	Aggregate OpMetrics
	Ops       map[string]OpMetrics
}

// OpTrace records where an in-flight async op was dispatched from.
// Present only when op call tracing is enabled in the runtime.
type OpTrace struct {
	Kind  string
	Stack string
}

// Introspection exposes read-only snapshots of runtime-wide mutable state.
//
// Snapshots must be stable copies: mutating runtime state after a snapshot
// is taken must not alter a previously returned value.
type Introspection interface {
	// Metrics returns the current async-op dispatch/completion counters.
	Metrics() MetricsSnapshot

	// OpTraces returns call traces for currently in-flight async ops,
	// keyed by op id. Empty when tracing is disabled.
	OpTraces() map[int64]OpTrace

	// OpTracingEnabled reports whether op call tracing is active.
	OpTracingEnabled() bool

	// Resources returns the open resource table, rid -> kind.
	Resources() map[int32]string
}

// ExitController owns the process-exit interception slot.
//
// There is exactly one slot per process. SetExitHandler(nil) clears it.
// The handler is invoked synchronously by the runtime in place of the
// actual exit; it may panic to abort the calling body.
type ExitController interface {
	SetExitHandler(handler func(code int))
}

// Scheduler yields control back to the runtime's event loop.
type Scheduler interface {
	// Drain runs the scheduler for the given number of macrotask turns,
	// allowing deferred op cleanup to settle before counters are read.
	Drain(ctx context.Context, turns int) error
}

// EventSink receives structured harness events for reporting.
type EventSink interface {
	Dispatch(ev Event) error
}

// Runtime bundles the full native surface the harness consumes.
type Runtime interface {
	Registrar
	Introspection
	PermissionController
	ExitController
	Scheduler
	EventSink
}
