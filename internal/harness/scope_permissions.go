package harness

import (
	"context"
	"fmt"

	"github.com/roach88/proctor/internal/native"
)

// permissionScoper exchanges the declared permission set for a pledge
// token before the body runs and restores the prior scope afterwards, on
// every exit path.
//
// Only top-level tests are scoped; steps run inside the root's scope.
func (h *Harness) permissionScoper(perms native.Permissions) wrapper {
	return func(fn bodyFn) bodyFn {
		return func(ctx context.Context) native.Outcome {
			token, err := h.perms.Pledge(perms)
			if err != nil {
				return native.Fail(native.ThrownError{
					Err: fmt.Errorf("pledge test permissions: %w", err),
				})
			}
			defer func() {
				if err := h.perms.Restore(token); err != nil {
					h.logger.Error("restore test permissions failed",
						"token", int64(token),
						"error", err,
					)
				}
			}()

			return fn(ctx)
		}
	}
}
