package harness

import (
	"context"
	"runtime"

	"github.com/roach88/proctor/internal/native"
)

// Fn is a test or step body. A body fails by returning a non-nil error or
// by panicking; both are captured by the outer wrapper and never escape
// the harness.
type Fn func(ctx context.Context, t *T) error

// Toggle is a tri-state sanitizer setting. The zero value inherits: from
// the parent step for nested steps, or "on" for top-level tests.
type Toggle int

const (
	// ToggleInherit takes the parent's resolved setting.
	ToggleInherit Toggle = iota
	// ToggleOn enables the sanitizer explicitly.
	ToggleOn
	// ToggleOff disables the sanitizer explicitly.
	ToggleOff
)

// resolve collapses the toggle against the parent's resolved setting.
func (t Toggle) resolve(parent bool) bool {
	switch t {
	case ToggleOn:
		return true
	case ToggleOff:
		return false
	default:
		return parent
	}
}

// TestDescription declares a top-level test. Immutable once registered.
type TestDescription struct {
	Name string
	Fn   Fn

	// Ignore skips the body entirely; the test reports "ignored".
	Ignore bool

	// Only restricts the run to tests that set it. A run that used Only
	// filtering is marked failed overall.
	Only bool

	SanitizeOps       Toggle
	SanitizeResources Toggle
	SanitizeExit      Toggle

	// Permissions, when non-nil, is pledged for the duration of the body
	// and restored afterwards. Steps inherit the root's scope.
	Permissions *native.Permissions

	// Location is the declaring call site. Captured from the caller of
	// Register when left zero.
	Location native.Location
}

// StepDescription declares a nested step. Sanitizer toggles default to
// the parent's resolved settings.
type StepDescription struct {
	Name string
	Fn   Fn

	Ignore bool

	SanitizeOps       Toggle
	SanitizeResources Toggle
	SanitizeExit      Toggle

	// Location is the declaring call site. Captured from the caller of
	// RunStep when left zero.
	Location native.Location
}

// callerLocation resolves the declaring call site skipping the given
// number of harness frames.
func callerLocation(skip int) native.Location {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return native.Location{}
	}
	return native.Location{File: file, Line: line, Col: 1}
}
