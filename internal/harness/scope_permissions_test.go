package harness

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/proctor/internal/native"
)

func TestPermissionScoper_PledgesForBodyAndRestores(t *testing.T) {
	h, rt := newTestHarness(t)

	perms := &native.Permissions{
		Read: native.PermissionSpec{State: native.PermGranted, Allow: []string{"/tmp"}},
		Net:  native.PermissionSpec{State: native.PermDenied},
	}

	var scopeInside string
	out := runSingle(t, h, rt, TestDescription{
		Name:        "scoped",
		Permissions: perms,
		Fn: func(ctx context.Context, tt *T) error {
			scopeInside = rt.Scope()
			return nil
		},
	})

	assert.Equal(t, native.OutcomePassed, out.Kind)
	assert.Equal(t, perms.Serialize(), scopeInside)

	// The prior scope is restored and no pledge is left outstanding.
	assert.Equal(t, "inherit", rt.Scope())
	assert.Zero(t, rt.PledgedCount())
}

func TestPermissionScoper_RestoresAfterBodyFailure(t *testing.T) {
	h, rt := newTestHarness(t)

	perms := &native.Permissions{
		Env: native.PermissionSpec{State: native.PermGranted},
	}

	out := runSingle(t, h, rt, TestDescription{
		Name:        "scoped and failing",
		Permissions: perms,
		Fn: func(ctx context.Context, tt *T) error {
			return errors.New("boom")
		},
	})

	require.Equal(t, native.OutcomeFailed, out.Kind)
	assert.Equal(t, "inherit", rt.Scope())
	assert.Zero(t, rt.PledgedCount())
}

func TestPermissionScoper_RestoresAfterPanic(t *testing.T) {
	h, rt := newTestHarness(t)

	perms := &native.Permissions{
		Run: native.PermissionSpec{State: native.PermDenied},
	}

	runSingle(t, h, rt, TestDescription{
		Name:        "scoped and panicking",
		Permissions: perms,
		Fn: func(ctx context.Context, tt *T) error {
			panic("kaboom")
		},
	})

	assert.Equal(t, "inherit", rt.Scope())
	assert.Zero(t, rt.PledgedCount())
}

func TestPermissionScoper_InheritSkipsPledge(t *testing.T) {
	h, rt := newTestHarness(t)

	// A fully-inherit permission set never touches the controller.
	out := runSingle(t, h, rt, TestDescription{
		Name:        "inherit everything",
		Permissions: &native.Permissions{},
		Fn: func(ctx context.Context, tt *T) error {
			assert.Equal(t, "inherit", rt.Scope())
			return nil
		},
	})

	assert.Equal(t, native.OutcomePassed, out.Kind)
	assert.Zero(t, rt.PledgedCount())
}

func TestPermissionScoper_StepsRunInRootScope(t *testing.T) {
	h, rt := newTestHarness(t)

	perms := &native.Permissions{
		Write: native.PermissionSpec{State: native.PermGranted, Allow: []string{"out"}},
	}

	out := runSingle(t, h, rt, TestDescription{
		Name:        "root scope",
		Permissions: perms,
		Fn: func(ctx context.Context, tt *T) error {
			_, err := tt.Step(ctx, "inside", func(ctx context.Context, st *T) error {
				// Steps are not scoped separately; the root's pledge is
				// still the only outstanding one.
				assert.Equal(t, perms.Serialize(), rt.Scope())
				assert.Equal(t, 1, rt.PledgedCount())
				return nil
			})
			return err
		},
	})
	assert.Equal(t, native.OutcomePassed, out.Kind)
}
