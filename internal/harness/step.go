package harness

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/proctor/internal/native"
)

// ErrParentCompleted is returned when a step is registered after its
// enclosing test or step has already finished.
var ErrParentCompleted = errors.New("cannot run a test step after the parent scope has finished execution")

// T is the execution context handed to every test and step body. Its only
// capability is registering nested steps under the owning node.
type T struct {
	h *Harness
	n *node
}

// Name returns the owning node's name.
func (t *T) Name() string { return t.n.name }

// Origin returns the owning node's registration origin.
func (t *T) Origin() string { return t.n.origin }

// Level returns the nesting depth: 0 for the root test, parent level + 1
// for each nested step.
func (t *T) Level() int { return t.n.level }

// Parent returns the context of the enclosing test or step, or nil for a
// top-level test.
func (t *T) Parent() *T {
	if t.n.parent == nil {
		return nil
	}
	return t.n.parent.context
}

// Step registers and immediately runs a nested step with inherited
// sanitizer settings. It reports whether the step passed.
func (t *T) Step(ctx context.Context, name string, fn Fn) (bool, error) {
	return t.runStep(ctx, StepDescription{Name: name, Fn: fn, Location: callerLocation(1)})
}

// RunStep registers a step described by desc under the owning node and
// immediately runs it. It reports whether the step passed.
//
// Overlap with pending sanitized siblings is not an error here: it is
// detected inside the wrapped body and reported as the step's failure
// outcome, leaving the running sibling unaffected.
func (t *T) RunStep(ctx context.Context, desc StepDescription) (bool, error) {
	if desc.Location == (native.Location{}) {
		desc.Location = callerLocation(1)
	}
	return t.runStep(ctx, desc)
}

// runStep assumes desc.Location was resolved by the public entry point.
func (t *T) runStep(ctx context.Context, desc StepDescription) (bool, error) {
	p, err := t.StartStep(desc)
	if err != nil {
		return false, err
	}
	return p.Run(ctx)
}

// PendingStep is a step that has been registered under its parent but
// whose body has not run yet. If the parent settles first, the step is
// force-finalized with a failed-incomplete outcome and Run becomes a
// no-op reporting failure.
type PendingStep struct {
	h *Harness
	n *node
}

// StartStep registers a step without running it. The step counts as a
// pending child of the owning node until Run is called.
//
// Registration is rejected with ErrParentCompleted once the owning node
// has completed.
func (t *T) StartStep(desc StepDescription) (*PendingStep, error) {
	parent := t.n
	if parent.completed {
		return nil, fmt.Errorf("step %q: %w", desc.Name, ErrParentCompleted)
	}
	if desc.Name == "" {
		return nil, fmt.Errorf("register step: name is required")
	}
	if desc.Fn == nil {
		return nil, fmt.Errorf("register step %q: body is required", desc.Name)
	}

	h := t.h
	name := normalizeName(desc.Name)
	location := desc.Location
	if location == (native.Location{}) {
		location = callerLocation(1)
	}

	reg, err := h.registrar.RegisterStep(native.StepInfo{
		Name:     name,
		ParentID: parent.id,
		RootID:   parent.rootID,
		RootName: parent.rootName,
		Location: location,
	})
	if err != nil {
		return nil, fmt.Errorf("register step %q: %w", name, err)
	}

	n := &node{
		id:                reg.ID,
		name:              name,
		fn:                desc.Fn,
		origin:            reg.Origin,
		ignore:            desc.Ignore,
		sanitizeOps:       desc.SanitizeOps.resolve(parent.sanitizeOps),
		sanitizeResources: desc.SanitizeResources.resolve(parent.sanitizeResources),
		sanitizeExit:      desc.SanitizeExit.resolve(parent.sanitizeExit),
		location:          location,
		parent:            parent,
		level:             parent.level + 1,
		rootID:            parent.rootID,
		rootName:          parent.rootName,
	}
	n.context = &T{h: h, n: n}
	n.wrapped = h.wrap(n)
	h.registry.addStep(n)

	h.dispatch(native.StepWait{ID: n.id})
	h.logger.Debug("step registered",
		"id", n.id,
		"name", n.fullName(),
		"level", n.level,
	)
	return &PendingStep{h: h, n: n}, nil
}

// Run executes the step's wrapped body, reports its result event, and
// returns whether it passed.
//
// A step force-finalized by its parent settling first reports failure
// without running the body.
func (p *PendingStep) Run(ctx context.Context) (bool, error) {
	h, n := p.h, p.n
	if n.completed {
		return false, nil
	}

	start := h.now()
	out := n.wrapped(ctx)
	elapsed := h.now().Sub(start).Milliseconds()

	n.failed = out.Kind == native.OutcomeFailed
	h.reportStepResult(n, out, elapsed)

	return out.Passed(), nil
}
