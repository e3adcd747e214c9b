package commands

import (
	"errors"
	"fmt"

	apperrors "hostfleet/internal/errors"
	"hostfleet/internal/runner"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitAborted = 2
)

// ExitError carries the exit code a command decided on.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode maps an error returned by a command to the process exit code.
// Errors that prevented anything from being attempted exit 2.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	if apperrors.IsPrecondition(err) || apperrors.IsFatal(err) {
		return ExitAborted
	}
	return ExitFailure
}

// HandleError adds a hint to errors with a common remedy.
func HandleError(err error) error {
	if err == nil {
		return nil
	}
	var exit *ExitError
	if errors.As(err, &exit) && exit.Err == nil {
		return nil
	}

	switch {
	case runner.HasReason(err, runner.ReasonPermission):
		return fmt.Errorf("%w\n\nTip: run as root or set runner.sudo = true in the config file", err)
	case runner.HasReason(err, runner.ReasonNotFound):
		return fmt.Errorf("%w\n\nTip: install podman and systemd, or check PATH", err)
	case apperrors.HasCode(err, apperrors.ErrLocked):
		return fmt.Errorf("%w\n\nTip: another hostfleet batch is running on this host", err)
	case apperrors.HasCode(err, apperrors.ErrMissingPrerequisite):
		return fmt.Errorf("%w\n\nTip: check base_dir and required_files in the config file", err)
	default:
		return err
	}
}
