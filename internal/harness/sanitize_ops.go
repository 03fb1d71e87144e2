package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/proctor/internal/native"
)

// opDetail describes an async op kind for leak messages.
type opDetail struct {
	// what the op does, completing "N async operations to <what>".
	what string
	// hint completes "This is often caused by not <hint>". Empty when no
	// actionable remediation is known.
	hint string
}

// opDetails maps op kinds to human descriptions. Kinds not listed fall
// back to the raw kind name with no hint.
var opDetails = map[string]opDetail{
	"timer":        {"start a timer", "clearing a timeout or interval"},
	"sleep":        {"sleep for a duration", "cancelling a sleep call"},
	"read":         {"read from a stream or file", "closing the reader before the test ends"},
	"write":        {"write to a stream or file", "awaiting the result of the write"},
	"net_accept":   {"accept a connection", "closing the listener before the test ends"},
	"net_connect":  {"open an outbound connection", "closing the connection before the test ends"},
	"process_wait": {"wait for a child process", "awaiting the child process status"},
	"fetch":        {"send an HTTP request", "awaiting the response body"},
}

func detailForOp(kind string) opDetail {
	if d, ok := opDetails[kind]; ok {
		return d
	}
	return opDetail{what: fmt.Sprintf("%q", kind)}
}

// opSanitizer wraps a body with before/after async-op accounting.
//
// Counters are always diffed against the body's own pre snapshot, never
// against zero: an op dispatched before the body (a server accept loop,
// say) must not be attributed to it.
func (h *Harness) opSanitizer() wrapper {
	return func(fn bodyFn) bodyFn {
		return func(ctx context.Context) native.Outcome {
			pre := h.intro.Metrics()
			preTraces := h.intro.OpTraces()

			out := h.runWithDrain(ctx, fn)
			if out.Kind == native.OutcomeFailed {
				// The body's own failure takes precedence over any leak.
				return out
			}

			post := h.intro.Metrics()

			dispatched := post.Aggregate.DispatchedAsync - pre.Aggregate.DispatchedAsync
			completed := post.Aggregate.CompletedAsync - pre.Aggregate.CompletedAsync
			if dispatched == completed {
				return out
			}

			details := h.opLeakDetails(pre, post, preTraces, h.intro.OpTraces())
			if len(details) == 0 {
				return out
			}
			return native.Fail(native.LeakedOps{
				Details:        details,
				TracingEnabled: h.intro.OpTracingEnabled(),
			})
		}
	}
}

// runWithDrain invokes the body and, on every exit path including panics,
// yields the configured number of scheduler turns before returning. The
// drain lets ops whose cleanup lands on a later turn settle before the
// post snapshot is taken.
func (h *Harness) runWithDrain(ctx context.Context, fn bodyFn) native.Outcome {
	defer func() {
		if err := h.sched.Drain(ctx, h.drainTurns); err != nil {
			h.logger.Warn("op sanitizer drain interrupted", "error", err)
		}
	}()
	return fn(ctx)
}

// opLeakDetails renders one message per op kind with a dispatch/completion
// imbalance, in kind order for deterministic output.
func (h *Harness) opLeakDetails(
	pre, post native.MetricsSnapshot,
	preTraces, postTraces map[int64]native.OpTrace,
) []string {
	kinds := make([]string, 0, len(post.Ops))
	for kind := range post.Ops {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	var details []string
	for _, kind := range kinds {
		preOps := pre.Ops[kind] // zero value when the kind is new
		postOps := post.Ops[kind]

		dispatched := postOps.DispatchedAsync - preOps.DispatchedAsync
		completed := postOps.CompletedAsync - preOps.CompletedAsync
		if dispatched == completed {
			continue
		}

		detail := detailForOp(kind)
		var b strings.Builder
		if dispatched > completed {
			count := dispatched - completed
			fmt.Fprintf(&b, "%s to %s %s started in this test, but never completed.",
				pluralOps(count), detail.what, wereWas(count))
			if detail.hint != "" {
				fmt.Fprintf(&b, " This is often caused by not %s.", detail.hint)
			}
			for _, stack := range newTracesForKind(kind, preTraces, postTraces) {
				b.WriteString("\nThe operation was started here:\n")
				b.WriteString(stack)
			}
		} else {
			count := completed - dispatched
			fmt.Fprintf(&b, "%s to %s %s started before this test, but completed during it. "+
				"Async operations should not complete in a test if they were not started in that test.",
				pluralOps(count), detail.what, wereWas(count))
		}
		details = append(details, b.String())
	}
	return details
}

// newTracesForKind returns stacks of ops of the given kind that are
// in flight after the body but were not before it, in op id order.
func newTracesForKind(kind string, preTraces, postTraces map[int64]native.OpTrace) []string {
	ids := make([]int64, 0, len(postTraces))
	for id, trace := range postTraces {
		if trace.Kind != kind {
			continue
		}
		if _, existed := preTraces[id]; existed {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	stacks := make([]string, len(ids))
	for i, id := range ids {
		stacks[i] = postTraces[id].Stack
	}
	return stacks
}

func pluralOps(n int64) string {
	if n == 1 {
		return "1 async operation"
	}
	return fmt.Sprintf("%d async operations", n)
}

func wereWas(n int64) string {
	if n == 1 {
		return "was"
	}
	return "were"
}
