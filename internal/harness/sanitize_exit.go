package harness

import (
	"context"
	"fmt"

	"github.com/roach88/proctor/internal/native"
)

// ExitAttemptError is the failure raised when a body calls the process
// exit primitive while the exit sanitizer is active.
type ExitAttemptError struct {
	Unit string // UnitTest or UnitBench
	Code int
}

func (e *ExitAttemptError) Error() string {
	return fmt.Sprintf("%s attempted to exit with exit code: %d", e.Unit, e.Code)
}

// exitSanitizer installs the process-exit interceptor around a body.
//
// The interceptor slot is a process-wide singleton: it is installed at
// body entry and cleared on every exit path, so it is never left dangling
// across tests. An intercepted exit panics out of the body and is
// captured by the outer wrapper as a test failure instead of terminating
// the harness.
func (h *Harness) exitSanitizer() wrapper {
	return func(fn bodyFn) bodyFn {
		return func(ctx context.Context) native.Outcome {
			h.exits.SetExitHandler(func(code int) {
				panic(&ExitAttemptError{Unit: h.unit, Code: code})
			})
			defer h.exits.SetExitHandler(nil)

			return fn(ctx)
		}
	}
}
