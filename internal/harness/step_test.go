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

// stepResults collects StepResult events keyed by node id.
func stepResults(rt *simrt.Runtime) map[int64]native.StepResult {
	out := make(map[int64]native.StepResult)
	for _, ev := range rt.Events() {
		if sr, ok := ev.(native.StepResult); ok {
			out[sr.ID] = sr
		}
	}
	return out
}

func TestStep_CapturesCallerLocation(t *testing.T) {
	h, rt := newTestHarness(t)

	preset := native.Location{File: "elsewhere.go", Line: 7, Col: 1}
	out := runSingle(t, h, rt, TestDescription{
		Name: "records locations",
		Fn: func(ctx context.Context, tt *T) error {
			if _, err := tt.Step(ctx, "captured", noop); err != nil {
				return err
			}
			_, err := tt.RunStep(ctx, StepDescription{Name: "preset", Fn: noop, Location: preset})
			return err
		},
	})
	require.Equal(t, native.OutcomePassed, out.Kind)

	captured, ok := h.registry.get(2)
	require.True(t, ok)
	assert.Contains(t, captured.location.File, "step_test.go")

	kept, ok := h.registry.get(3)
	require.True(t, ok)
	assert.Equal(t, preset, kept.location)
}

func TestStep_NestedPassingSteps(t *testing.T) {
	h, rt := newTestHarness(t)

	var order []string
	out := runSingle(t, h, rt, TestDescription{
		Name: "root",
		Fn: func(ctx context.Context, tt *T) error {
			ok, err := tt.Step(ctx, "first", func(ctx context.Context, st *T) error {
				order = append(order, "first")
				return nil
			})
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = tt.Step(ctx, "second", func(ctx context.Context, st *T) error {
				order = append(order, "second")
				return nil
			})
			require.NoError(t, err)
			assert.True(t, ok)
			return nil
		},
	})

	assert.Equal(t, native.OutcomePassed, out.Kind)
	assert.Equal(t, []string{"first", "second"}, order)

	results := stepResults(rt)
	require.Len(t, results, 2)
	for _, sr := range results {
		assert.Equal(t, native.OutcomePassed, sr.Outcome.Kind)
	}
}

func TestStep_ContextThreading(t *testing.T) {
	h, rt := newTestHarness(t)

	out := runSingle(t, h, rt, TestDescription{
		Name: "root",
		Fn: func(ctx context.Context, tt *T) error {
			assert.Equal(t, 0, tt.Level())
			assert.Nil(t, tt.Parent())

			_, err := tt.Step(ctx, "outer step", func(ctx context.Context, st *T) error {
				assert.Equal(t, 1, st.Level())
				assert.Equal(t, "outer step", st.Name())
				require.NotNil(t, st.Parent())
				assert.Equal(t, "root", st.Parent().Name())

				_, err := st.Step(ctx, "inner step", func(ctx context.Context, gt *T) error {
					assert.Equal(t, 2, gt.Level())
					return nil
				})
				return err
			})
			return err
		},
	})
	assert.Equal(t, native.OutcomePassed, out.Kind)
}

func TestStep_OneFailingStepFailsParent(t *testing.T) {
	h, rt := newTestHarness(t)

	var failedStepID int64
	out := runSingle(t, h, rt, TestDescription{
		Name: "root",
		Fn: func(ctx context.Context, tt *T) error {
			_, err := tt.Step(ctx, "passes a", noop)
			require.NoError(t, err)

			p, err := tt.StartStep(StepDescription{
				Name: "throws",
				Fn: func(ctx context.Context, st *T) error {
					return errors.New("step assertion failed")
				},
			})
			require.NoError(t, err)
			failedStepID = p.n.id
			ok, err := p.Run(ctx)
			require.NoError(t, err)
			assert.False(t, ok)

			_, err = tt.Step(ctx, "passes b", noop)
			require.NoError(t, err)
			return nil
		},
	})

	require.Equal(t, native.OutcomeFailed, out.Kind)
	assert.Equal(t, "failedSteps", native.FailureName(out.Failure))
	assert.Equal(t, "1 test step failed", out.Failure.Message())

	sr := stepResults(rt)[failedStepID]
	require.Equal(t, native.OutcomeFailed, sr.Outcome.Kind)
	assert.Equal(t, "thrown", native.FailureName(sr.Outcome.Failure))
	assert.Equal(t, "step assertion failed", sr.Outcome.Failure.Message())
}

func TestStep_MultipleFailedStepsCounted(t *testing.T) {
	h, rt := newTestHarness(t)

	fail := func(ctx context.Context, st *T) error { return errors.New("nope") }
	out := runSingle(t, h, rt, TestDescription{
		Name: "root",
		Fn: func(ctx context.Context, tt *T) error {
			for _, name := range []string{"a", "b"} {
				if _, err := tt.Step(ctx, name, fail); err != nil {
					return err
				}
			}
			return nil
		},
	})

	require.Equal(t, native.OutcomeFailed, out.Kind)
	assert.Equal(t, "2 test steps failed", out.Failure.Message())
}

func TestStep_ForcedIncompleteOnParentThrow(t *testing.T) {
	h, rt := newTestHarness(t)

	var stepIDs []int64
	out := runSingle(t, h, rt, TestDescription{
		Name: "root",
		Fn: func(ctx context.Context, tt *T) error {
			// Three steps registered but never run before the body throws.
			for _, name := range []string{"a", "b", "c"} {
				p, err := tt.StartStep(StepDescription{Name: name, Fn: noop})
				require.NoError(t, err)
				stepIDs = append(stepIDs, p.n.id)
			}
			return errors.New("root throws first")
		},
	})

	require.Equal(t, native.OutcomeFailed, out.Kind)
	assert.Equal(t, "thrown", native.FailureName(out.Failure))

	results := stepResults(rt)
	require.Len(t, stepIDs, 3)
	for _, id := range stepIDs {
		sr, ok := results[id]
		require.True(t, ok, "no StepResult for forced step %d", id)
		require.Equal(t, native.OutcomeFailed, sr.Outcome.Kind)
		assert.Equal(t, "incomplete", native.FailureName(sr.Outcome.Failure))
		assert.Equal(t, "didn't complete before parent promise resolved", sr.Outcome.Failure.Message())
	}
}

func TestStep_PendingStepFailsParentAsIncompleteSteps(t *testing.T) {
	h, rt := newTestHarness(t)

	out := runSingle(t, h, rt, TestDescription{
		Name: "root",
		Fn: func(ctx context.Context, tt *T) error {
			_, err := tt.StartStep(StepDescription{Name: "never run", Fn: noop})
			return err
		},
	})

	require.Equal(t, native.OutcomeFailed, out.Kind)
	assert.Equal(t, "incompleteSteps", native.FailureName(out.Failure))
}

func TestStep_RunAfterForcedCompletionIsNoop(t *testing.T) {
	h, rt := newTestHarness(t)

	var pending *PendingStep
	runSingle(t, h, rt, TestDescription{
		Name: "root",
		Fn: func(ctx context.Context, tt *T) error {
			p, err := tt.StartStep(StepDescription{Name: "left behind", Fn: noop})
			require.NoError(t, err)
			pending = p
			return nil
		},
	})

	before := len(rt.Events())
	ok, err := pending.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	// Already finalized; no second StepResult is dispatched.
	assert.Len(t, rt.Events(), before)
}

func TestStep_RegistrationAfterParentCompleted(t *testing.T) {
	h, rt := newTestHarness(t)

	var leaked *T
	runSingle(t, h, rt, TestDescription{
		Name: "root",
		Fn: func(ctx context.Context, tt *T) error {
			leaked = tt
			return nil
		},
	})

	_, err := leaked.Step(context.Background(), "too late", noop)
	require.ErrorIs(t, err, ErrParentCompleted)
}

func TestStep_Validation(t *testing.T) {
	h, rt := newTestHarness(t)

	out := runSingle(t, h, rt, TestDescription{
		Name: "root",
		Fn: func(ctx context.Context, tt *T) error {
			_, err := tt.RunStep(ctx, StepDescription{Fn: noop})
			assert.ErrorContains(t, err, "name is required")

			_, err = tt.RunStep(ctx, StepDescription{Name: "no body"})
			assert.ErrorContains(t, err, "body is required")
			return nil
		},
	})
	assert.Equal(t, native.OutcomePassed, out.Kind)
}

func TestStep_OverlapWithSanitizedSibling(t *testing.T) {
	h, rt := newTestHarness(t)

	var overlapID int64
	out := runSingle(t, h, rt, TestDescription{
		Name: "root",
		Fn: func(ctx context.Context, tt *T) error {
			// Step A is sanitized (inherited defaults) and still pending
			// when its body registers sibling B on the parent.
			ok, err := tt.Step(ctx, "step a", func(ctx context.Context, st *T) error {
				p, err := st.Parent().StartStep(StepDescription{Name: "step b", Fn: noop})
				require.NoError(t, err)
				overlapID = p.n.id
				ok, err := p.Run(ctx)
				require.NoError(t, err)
				assert.False(t, ok)
				return nil
			})
			require.NoError(t, err)
			// Step A itself is unaffected by B's overlap failure.
			assert.True(t, ok)
			return nil
		},
	})

	// The parent still fails: one of its direct steps failed.
	require.Equal(t, native.OutcomeFailed, out.Kind)
	assert.Equal(t, "failedSteps", native.FailureName(out.Failure))

	sr := stepResults(rt)[overlapID]
	require.Equal(t, native.OutcomeFailed, sr.Outcome.Kind)
	assert.Equal(t, "overlapsWithSanitizers", native.FailureName(sr.Outcome.Failure))

	msg := sr.Outcome.Failure.Message()
	assert.Contains(t, msg, "Started test step while another test step with sanitizers was running:")
	assert.Contains(t, msg, "  * root > step a")
}

func TestStep_SanitizedStepOverlappingUnsanitizedSibling(t *testing.T) {
	h, rt := newTestHarness(t)

	off := StepDescription{
		Name:              "step a",
		SanitizeOps:       ToggleOff,
		SanitizeResources: ToggleOff,
		SanitizeExit:      ToggleOff,
	}

	var overlapID int64
	out := runSingle(t, h, rt, TestDescription{
		Name: "root",
		Fn: func(ctx context.Context, tt *T) error {
			off.Fn = func(ctx context.Context, st *T) error {
				// Sibling B keeps the inherited sanitizers; A has none.
				p, err := st.Parent().StartStep(StepDescription{Name: "step b", Fn: noop})
				require.NoError(t, err)
				overlapID = p.n.id
				_, err = p.Run(ctx)
				return err
			}
			_, err := tt.RunStep(ctx, off)
			return err
		},
	})

	require.Equal(t, native.OutcomeFailed, out.Kind)

	sr := stepResults(rt)[overlapID]
	require.Equal(t, native.OutcomeFailed, sr.Outcome.Kind)
	assert.Equal(t, "hasSanitizersAndOverlaps", native.FailureName(sr.Outcome.Failure))

	msg := sr.Outcome.Failure.Message()
	assert.Contains(t, msg, "Started test step with sanitizers while another test step was running:")
	assert.Contains(t, msg, "  * root > step a")
}

func TestStep_SanitizerInheritance(t *testing.T) {
	h, rt := newTestHarness(t)

	out := runSingle(t, h, rt, TestDescription{
		Name:        "root without op sanitizer",
		SanitizeOps: ToggleOff,
		Fn: func(ctx context.Context, tt *T) error {
			// Inherits the parent's disabled op sanitizer: leaking is fine.
			ok, err := tt.Step(ctx, "inherits off", func(ctx context.Context, st *T) error {
				rt.StartOp("timer")
				return nil
			})
			require.NoError(t, err)
			assert.True(t, ok)

			// Explicit opt-in overrides the parent.
			ok, err = tt.RunStep(ctx, StepDescription{
				Name:        "opts back in",
				SanitizeOps: ToggleOn,
				Fn: func(ctx context.Context, st *T) error {
					rt.StartOp("timer")
					return nil
				},
			})
			require.NoError(t, err)
			assert.False(t, ok)
			return nil
		},
	})

	// The opted-in step failed, so the root reports a failed step.
	require.Equal(t, native.OutcomeFailed, out.Kind)
	assert.Equal(t, "failedSteps", native.FailureName(out.Failure))
}

func TestStep_IgnoredStepPasses(t *testing.T) {
	h, rt := newTestHarness(t)

	out := runSingle(t, h, rt, TestDescription{
		Name: "root",
		Fn: func(ctx context.Context, tt *T) error {
			ran := false
			ok, err := tt.RunStep(ctx, StepDescription{
				Name:   "ignored",
				Ignore: true,
				Fn: func(ctx context.Context, st *T) error {
					ran = true
					return nil
				},
			})
			require.NoError(t, err)
			// Ignored is not a pass, but it is not a failure either.
			assert.False(t, ok)
			assert.False(t, ran)
			return nil
		},
	})
	assert.Equal(t, native.OutcomePassed, out.Kind)
}

func TestStep_StepWaitPrecedesStepResult(t *testing.T) {
	h, rt := newTestHarness(t)

	runSingle(t, h, rt, TestDescription{
		Name: "root",
		Fn: func(ctx context.Context, tt *T) error {
			_, err := tt.Step(ctx, "only step", noop)
			return err
		},
	})

	var waitIdx, resultIdx int
	for i, ev := range rt.Events() {
		switch ev.(type) {
		case native.StepWait:
			waitIdx = i
		case native.StepResult:
			resultIdx = i
		}
	}
	assert.Less(t, waitIdx, resultIdx)
}
