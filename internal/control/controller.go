package control

import (
	"context"
	"errors"
	"fmt"
)

// Controller starts and stops the OS process behind a service. The
// supervisor core only depends on this interface so restart logic stays
// platform-independent and testable without spawning real processes.
type Controller interface {
	// Start launches the service's command detached and returns without
	// waiting for it to become healthy. A missing executable or working
	// directory yields a *StartError.
	Start(ctx context.Context, spec Spec) error
	// Stop finds running instances via spec.Match and terminates them,
	// graceful-then-forceful. No matching process is success.
	Stop(ctx context.Context, spec Spec) error
	// Running reports whether any process currently matches spec.Match.
	Running(ctx context.Context, spec Spec) (bool, error)
}

// StartError reports a failed launch: the command never produced a
// running process. The supervisor still records the restart attempt so a
// broken command cannot retry in a tight loop, but it skips the
// startup-health wait.
type StartError struct {
	Name string
	Err  error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start %s: %v", e.Name, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// IsStartFailed reports whether err is (or wraps) a *StartError.
func IsStartFailed(err error) bool {
	var se *StartError
	return errors.As(err, &se)
}
