package simrt

import (
	"context"
	"fmt"

	"github.com/roach88/proctor/internal/native"
)

// OriginGenerator produces origin strings for registrations.
// Implemented by UUIDv7Origins (production-like) and, for deterministic
// traces, testutil.FixedOrigins.
type OriginGenerator interface {
	Generate() string
}

// Runtime is an in-memory native runtime.
type Runtime struct {
	origins OriginGenerator

	nextRegID int64
	nextOpID  int64
	nextRID   int32

	aggregate native.OpMetrics
	ops       map[string]native.OpMetrics
	inflight  map[int64]string // op id -> kind, for CompleteOp bookkeeping
	traces    map[int64]native.OpTrace
	tracing   bool

	resources map[int32]string

	// turns is the macrotask queue: turns[0] runs on the next drained
	// turn, turns[1] on the one after, and so on.
	turns [][]func()

	exitHandler func(code int)
	exitedWith  *int

	nextToken native.PledgeToken
	pledged   map[native.PledgeToken]string
	scope     string // serialized form of the current permission scope

	events []native.Event
}

// New creates an empty simulated runtime.
func New(origins OriginGenerator) *Runtime {
	return &Runtime{
		origins:   origins,
		ops:       make(map[string]native.OpMetrics),
		inflight:  make(map[int64]string),
		traces:    make(map[int64]native.OpTrace),
		resources: make(map[int32]string),
		pledged:   make(map[native.PledgeToken]string),
		scope:     "inherit",
	}
}

// RegisterTest assigns the next identifier to a top-level test.
func (r *Runtime) RegisterTest(info native.TestInfo) (native.Registration, error) {
	if info.Name == "" {
		return native.Registration{}, fmt.Errorf("register test: empty name")
	}
	r.nextRegID++
	return native.Registration{ID: r.nextRegID, Origin: r.origins.Generate()}, nil
}

// RegisterStep assigns the next identifier to a step.
func (r *Runtime) RegisterStep(info native.StepInfo) (native.Registration, error) {
	if info.Name == "" {
		return native.Registration{}, fmt.Errorf("register step: empty name")
	}
	if info.ParentID == 0 || info.RootID == 0 {
		return native.Registration{}, fmt.Errorf("register step %q: missing parent or root id", info.Name)
	}
	r.nextRegID++
	return native.Registration{ID: r.nextRegID, Origin: r.origins.Generate()}, nil
}

// Metrics returns a deep copy of the op counters.
func (r *Runtime) Metrics() native.MetricsSnapshot {
	ops := make(map[string]native.OpMetrics, len(r.ops))
	for kind, m := range r.ops {
		ops[kind] = m
	}
	return native.MetricsSnapshot{Aggregate: r.aggregate, Ops: ops}
}

// OpTraces returns a copy of the in-flight op call traces.
func (r *Runtime) OpTraces() map[int64]native.OpTrace {
	out := make(map[int64]native.OpTrace, len(r.traces))
	for id, t := range r.traces {
		out[id] = t
	}
	return out
}

// OpTracingEnabled reports whether call traces are being recorded.
func (r *Runtime) OpTracingEnabled() bool { return r.tracing }

// EnableOpTracing toggles call-trace recording for subsequently
// dispatched ops.
func (r *Runtime) EnableOpTracing(on bool) { r.tracing = on }

// Resources returns a copy of the open resource table.
func (r *Runtime) Resources() map[int32]string {
	out := make(map[int32]string, len(r.resources))
	for rid, kind := range r.resources {
		out[rid] = kind
	}
	return out
}

// SetExitHandler installs or clears (nil) the exit interceptor.
func (r *Runtime) SetExitHandler(handler func(code int)) {
	r.exitHandler = handler
}

// Drain runs the macrotask queue for the given number of turns. Each turn
// executes the callbacks scheduled for it, in scheduling order.
func (r *Runtime) Drain(ctx context.Context, turns int) error {
	for i := 0; i < turns; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(r.turns) == 0 {
			continue
		}
		batch := r.turns[0]
		r.turns = r.turns[1:]
		for _, fn := range batch {
			fn()
		}
	}
	return nil
}

// Pledge swaps the permission scope and returns a token for the prior one.
func (r *Runtime) Pledge(p native.Permissions) (native.PledgeToken, error) {
	r.nextToken++
	token := r.nextToken
	r.pledged[token] = r.scope
	r.scope = p.Serialize()
	return token, nil
}

// Restore reinstates the scope captured by token. Each token is redeemed
// at most once.
func (r *Runtime) Restore(token native.PledgeToken) error {
	prior, ok := r.pledged[token]
	if !ok {
		return fmt.Errorf("restore permissions: unknown or already-restored token %d", int64(token))
	}
	delete(r.pledged, token)
	r.scope = prior
	return nil
}

// Scope returns the serialized form of the current permission scope.
func (r *Runtime) Scope() string { return r.scope }

// PledgedCount returns the number of outstanding (unrestored) pledges.
func (r *Runtime) PledgedCount() int { return len(r.pledged) }

// Dispatch records a harness event.
func (r *Runtime) Dispatch(ev native.Event) error {
	r.events = append(r.events, ev)
	return nil
}

// Events returns all recorded events in dispatch order.
func (r *Runtime) Events() []native.Event { return r.events }

// StartOp dispatches a simulated async op of the given kind and returns
// its id.
func (r *Runtime) StartOp(kind string) int64 {
	return r.StartOpTraced(kind, fmt.Sprintf("    at %s (simulated:1:1)", kind))
}

// StartOpTraced dispatches a simulated async op with an explicit
// originating stack for the call-trace map.
func (r *Runtime) StartOpTraced(kind, stack string) int64 {
	r.nextOpID++
	id := r.nextOpID

	r.aggregate.DispatchedAsync++
	m := r.ops[kind]
	m.DispatchedAsync++
	r.ops[kind] = m

	r.inflight[id] = kind
	if r.tracing {
		r.traces[id] = native.OpTrace{Kind: kind, Stack: stack}
	}
	return id
}

// CompleteOp completes a previously dispatched op immediately.
func (r *Runtime) CompleteOp(id int64) {
	kind, ok := r.inflight[id]
	if !ok {
		panic(fmt.Sprintf("simrt: completing unknown op %d", id))
	}
	delete(r.inflight, id)
	delete(r.traces, id)

	r.aggregate.CompletedAsync++
	m := r.ops[kind]
	m.CompletedAsync++
	r.ops[kind] = m
}

// CompleteForeignOp bumps completion counters for an op that was never
// dispatched through this runtime's counters window. Used to simulate an
// op started before a test completing inside it.
func (r *Runtime) CompleteForeignOp(kind string) {
	r.aggregate.CompletedAsync++
	m := r.ops[kind]
	m.CompletedAsync++
	r.ops[kind] = m
}

// CompleteOpOnTurn schedules the op's completion for the given future
// scheduler turn (1 = the next drained turn).
func (r *Runtime) CompleteOpOnTurn(id int64, turn int) {
	if turn < 1 {
		panic("simrt: turn must be >= 1")
	}
	for len(r.turns) < turn {
		r.turns = append(r.turns, nil)
	}
	r.turns[turn-1] = append(r.turns[turn-1], func() { r.CompleteOp(id) })
}

// OpenResource adds an entry to the resource table and returns its rid.
func (r *Runtime) OpenResource(kind string) int32 {
	r.nextRID++
	r.resources[r.nextRID] = kind
	return r.nextRID
}

// CloseResource removes an entry from the resource table.
func (r *Runtime) CloseResource(rid int32) {
	if _, ok := r.resources[rid]; !ok {
		panic(fmt.Sprintf("simrt: closing unknown resource %d", rid))
	}
	delete(r.resources, rid)
}

// ReplaceResource rebinds an rid to a different kind, simulating close
// plus id reuse by an unrelated open.
func (r *Runtime) ReplaceResource(rid int32, kind string) {
	if _, ok := r.resources[rid]; !ok {
		panic(fmt.Sprintf("simrt: replacing unknown resource %d", rid))
	}
	r.resources[rid] = kind
}

// Exit invokes the process-exit primitive. With an interceptor installed
// the call is forwarded to it (which typically panics out of the test
// body); otherwise the exit code is recorded.
func (r *Runtime) Exit(code int) {
	if r.exitHandler != nil {
		r.exitHandler(code)
		return
	}
	c := code
	r.exitedWith = &c
}

// ExitedWith returns the recorded un-intercepted exit code, or nil.
func (r *Runtime) ExitedWith() *int { return r.exitedWith }
