package harness

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/proctor/internal/native"
	"github.com/roach88/proctor/internal/simrt"
)

// runSingle registers one test and runs it, returning its outcome.
func runSingle(t *testing.T, h *Harness, rt *simrt.Runtime, desc TestDescription) native.Outcome {
	t.Helper()
	id, err := h.Register(desc)
	require.NoError(t, err)
	_, err = h.Run(context.Background())
	require.NoError(t, err)
	return lastTestResult(t, rt, id).Outcome
}

func TestOpSanitizer_BalancedOpsPass(t *testing.T) {
	h, rt := newTestHarness(t)

	out := runSingle(t, h, rt, TestDescription{
		Name: "balanced",
		Fn: func(ctx context.Context, tt *T) error {
			id := rt.StartOp("timer")
			rt.CompleteOp(id)
			return nil
		},
	})
	assert.Equal(t, native.OutcomePassed, out.Kind)
}

func TestOpSanitizer_LeakFails(t *testing.T) {
	h, rt := newTestHarness(t)

	out := runSingle(t, h, rt, TestDescription{
		Name: "leaks a timer",
		Fn: func(ctx context.Context, tt *T) error {
			rt.StartOp("timer")
			return nil
		},
	})

	require.Equal(t, native.OutcomeFailed, out.Kind)
	assert.Equal(t, "leakedOps", native.FailureName(out.Failure))

	msg := out.Failure.Message()
	assert.Contains(t, msg, "Test case is leaking async ops.")
	assert.Contains(t, msg, "1 async operation to start a timer was started in this test, but never completed.")
	assert.Contains(t, msg, "This is often caused by not clearing a timeout or interval.")
	// Tracing was off, so the re-run hint appears.
	assert.Contains(t, msg, "--trace-leaks")
}

func TestOpSanitizer_MultipleLeaksCounted(t *testing.T) {
	h, rt := newTestHarness(t)

	out := runSingle(t, h, rt, TestDescription{
		Name: "leaks three reads",
		Fn: func(ctx context.Context, tt *T) error {
			rt.StartOp("read")
			rt.StartOp("read")
			rt.StartOp("read")
			return nil
		},
	})

	require.Equal(t, native.OutcomeFailed, out.Kind)
	assert.Contains(t, out.Failure.Message(),
		"3 async operations to read from a stream or file were started in this test, but never completed.")
}

func TestOpSanitizer_UnknownKindFallsBackToQuotedName(t *testing.T) {
	h, rt := newTestHarness(t)

	out := runSingle(t, h, rt, TestDescription{
		Name: "leaks custom op",
		Fn: func(ctx context.Context, tt *T) error {
			rt.StartOp("quantum_entangle")
			return nil
		},
	})

	require.Equal(t, native.OutcomeFailed, out.Kind)
	msg := out.Failure.Message()
	assert.Contains(t, msg, `1 async operation to "quantum_entangle" was started in this test, but never completed.`)
	assert.NotContains(t, msg, "This is often caused by")
}

func TestOpSanitizer_TracingAppendsOriginStack(t *testing.T) {
	h, rt := newTestHarness(t)
	rt.EnableOpTracing(true)

	stack := "    at startTimer (runtime/timers.go:80)"
	out := runSingle(t, h, rt, TestDescription{
		Name: "traced leak",
		Fn: func(ctx context.Context, tt *T) error {
			rt.StartOpTraced("timer", stack)
			return nil
		},
	})

	require.Equal(t, native.OutcomeFailed, out.Kind)
	msg := out.Failure.Message()
	assert.Contains(t, msg, "The operation was started here:")
	assert.Contains(t, msg, stack)
	// With tracing on there is nothing to re-run for.
	assert.NotContains(t, msg, "--trace-leaks")
}

func TestOpSanitizer_ForeignCompletionFails(t *testing.T) {
	h, rt := newTestHarness(t)

	out := runSingle(t, h, rt, TestDescription{
		Name: "completes foreign op",
		Fn: func(ctx context.Context, tt *T) error {
			rt.CompleteForeignOp("fetch")
			return nil
		},
	})

	require.Equal(t, native.OutcomeFailed, out.Kind)
	msg := out.Failure.Message()
	assert.Contains(t, msg, "1 async operation to send an HTTP request was started before this test, but completed during it.")
	assert.Contains(t, msg, "Async operations should not complete in a test if they were not started in that test.")
}

func TestOpSanitizer_DiffsAgainstOwnBaseline(t *testing.T) {
	h, rt := newTestHarness(t)

	// An op in flight before the test (a server accept loop, say) is not
	// attributed to the test.
	rt.StartOp("net_accept")

	out := runSingle(t, h, rt, TestDescription{Name: "does nothing", Fn: noop})
	assert.Equal(t, native.OutcomePassed, out.Kind)
}

func TestOpSanitizer_DrainAllowsDeferredCompletion(t *testing.T) {
	h, rt := newTestHarness(t)

	// Completion lands two scheduler turns after the body settles, the
	// pattern of a cancelled timer's deferred cleanup. The default drain
	// covers exactly this.
	out := runSingle(t, h, rt, TestDescription{
		Name: "deferred cleanup",
		Fn: func(ctx context.Context, tt *T) error {
			id := rt.StartOp("timer")
			rt.CompleteOpOnTurn(id, 2)
			return nil
		},
	})
	assert.Equal(t, native.OutcomePassed, out.Kind)
}

func TestOpSanitizer_ShortDrainMissesDeferredCompletion(t *testing.T) {
	h, rt := newTestHarness(t, WithDrainTurns(1))

	out := runSingle(t, h, rt, TestDescription{
		Name: "cleanup lands too late",
		Fn: func(ctx context.Context, tt *T) error {
			id := rt.StartOp("timer")
			rt.CompleteOpOnTurn(id, 2)
			return nil
		},
	})

	require.Equal(t, native.OutcomeFailed, out.Kind)
	assert.Equal(t, "leakedOps", native.FailureName(out.Failure))
}

func TestOpSanitizer_BodyFailureTakesPrecedence(t *testing.T) {
	h, rt := newTestHarness(t)

	out := runSingle(t, h, rt, TestDescription{
		Name: "fails and leaks",
		Fn: func(ctx context.Context, tt *T) error {
			rt.StartOp("timer")
			return errors.New("assertion failed")
		},
	})

	require.Equal(t, native.OutcomeFailed, out.Kind)
	assert.Equal(t, "thrown", native.FailureName(out.Failure))
}

func TestOpSanitizer_DisabledSkipsAccounting(t *testing.T) {
	h, rt := newTestHarness(t)

	out := runSingle(t, h, rt, TestDescription{
		Name:        "leak without sanitizer",
		SanitizeOps: ToggleOff,
		Fn: func(ctx context.Context, tt *T) error {
			rt.StartOp("timer")
			return nil
		},
	})
	assert.Equal(t, native.OutcomePassed, out.Kind)
}
