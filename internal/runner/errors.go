package runner

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	apperrors "hostfleet/internal/errors"
)

// Reason classifies why an external command failed.
type Reason string

const (
	// ReasonNotFound indicates the executable does not exist
	ReasonNotFound Reason = "not-found"
	// ReasonPermission indicates the executable could not be started or the
	// command reported a permission problem
	ReasonPermission Reason = "permission"
	// ReasonTimeout indicates the command exceeded its deadline
	ReasonTimeout Reason = "timeout"
	// ReasonNonZeroExit indicates the command ran and exited non-zero
	ReasonNonZeroExit Reason = "nonzero-exit"
)

// ExecutionFailure is the typed failure of one external command.
type ExecutionFailure struct {
	Reason     Reason
	Command    string
	ExitCode   int
	Output     string
	Underlying error
}

// Error implements the error interface
func (e *ExecutionFailure) Error() string {
	parts := []string{fmt.Sprintf("%s: %s", e.Command, e.Reason)}

	if e.Reason == ReasonNonZeroExit {
		parts = append(parts, fmt.Sprintf("exit=%d", e.ExitCode))
	}

	if e.Output != "" {
		parts = append(parts, fmt.Sprintf("output=%s", truncate(strings.TrimSpace(e.Output), maxOutput)))
	}

	if e.Underlying != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Underlying))
	}

	return strings.Join(parts, ", ")
}

const maxOutput = 200

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// Unwrap returns the underlying error
func (e *ExecutionFailure) Unwrap() error {
	return e.Underlying
}

func newFailure(reason Reason, command []string, exitCode int, output string, underlying error) error {
	failure := &ExecutionFailure{
		Reason:     reason,
		Command:    strings.Join(command, " "),
		ExitCode:   exitCode,
		Output:     output,
		Underlying: underlying,
	}
	return apperrors.Wrap(apperrors.ErrExecutionFailure, "External command failed", failure)
}

// AsFailure finds the ExecutionFailure in err's chain.
func AsFailure(err error) (*ExecutionFailure, bool) {
	var failure *ExecutionFailure
	if errors.As(err, &failure) {
		return failure, true
	}
	return nil, false
}

// HasReason reports whether err carries an ExecutionFailure with the reason.
func HasReason(err error, reason Reason) bool {
	failure, ok := AsFailure(err)
	return ok && failure.Reason == reason
}
