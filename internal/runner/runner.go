// Package runner is the only place hostfleet starts external processes.
// Every other package reaches the container engine, the init system and the
// journal through a Runner.
package runner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os/exec"
	"strings"
	"time"

	apperrors "hostfleet/internal/errors"
	"hostfleet/internal/logger"
)

// Runner executes external commands.
type Runner interface {
	// Run executes the command and captures its output. A non-zero exit is
	// reported through Result.ExitCode, not as an error.
	Run(ctx context.Context, name string, args ...string) (*Result, error)

	// Stream executes the command with stdout and stderr attached to w. It
	// is used for long-running readers such as journal follow.
	Stream(ctx context.Context, w io.Writer, name string, args ...string) error
}

// Result holds the outcome of a command that was started successfully.
type Result struct {
	Command  []string
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Success reports whether the command exited zero.
func (r *Result) Success() bool {
	return r.ExitCode == 0
}

// Check turns a non-zero exit into an ExecutionFailure.
func (r *Result) Check() error {
	if r.ExitCode == 0 {
		return nil
	}
	reason := ReasonNonZeroExit
	if isPermissionOutput(r.Stderr) {
		reason = ReasonPermission
	}
	return newFailure(reason, r.Command, r.ExitCode, r.Output(), nil)
}

// Output returns stderr and stdout combined, stderr first.
func (r *Result) Output() string {
	switch {
	case r.Stderr == "":
		return r.Stdout
	case r.Stdout == "":
		return r.Stderr
	default:
		return r.Stderr + "\n" + r.Stdout
	}
}

// Lines returns the non-empty lines of stdout.
func (r *Result) Lines() []string {
	var lines []string
	for _, line := range strings.Split(r.Stdout, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Options configures an ExecRunner.
type Options struct {
	// Sudo prefixes every command with "sudo -n".
	Sudo bool
	// Timeout bounds each Run call. Zero means no limit.
	Timeout time.Duration
}

// ExecRunner runs commands on the local host.
type ExecRunner struct {
	executor CommandExecutor
	opts     Options
}

// New creates an ExecRunner. A nil executor uses os/exec directly.
func New(executor CommandExecutor, opts Options) *ExecRunner {
	if executor == nil {
		executor = &DefaultCommandExecutor{}
	}
	return &ExecRunner{executor: executor, opts: opts}
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	argv := r.argv(name, args)
	cmd := r.executor.CommandContext(ctx, argv[0], argv[1:]...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.WithContext(ctx).WithField("command", strings.Join(argv, " ")).Debug("Running command")

	start := time.Now()
	err := cmd.Run()
	result := &Result{
		Command:  argv,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err == nil {
		return result, nil
	}
	return r.classify(ctx, result, err)
}

// Stream implements Runner.
func (r *ExecRunner) Stream(ctx context.Context, w io.Writer, name string, args ...string) error {
	argv := r.argv(name, args)
	cmd := r.executor.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = w
	cmd.Stderr = w

	err := cmd.Run()
	if err == nil {
		return nil
	}
	result, err := r.classify(ctx, &Result{Command: argv}, err)
	if err != nil {
		return err
	}
	return result.Check()
}

func (r *ExecRunner) argv(name string, args []string) []string {
	argv := make([]string, 0, len(args)+3)
	if r.opts.Sudo {
		argv = append(argv, "sudo", "-n")
	}
	argv = append(argv, name)
	return append(argv, args...)
}

func (r *ExecRunner) classify(ctx context.Context, result *Result, err error) (*Result, error) {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return nil, newFailure(ReasonTimeout, result.Command, -1, result.Output(), ctx.Err())
	case errors.Is(ctx.Err(), context.Canceled):
		return nil, apperrors.Wrap(apperrors.ErrCancelled, "Command interrupted", ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}

	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return nil, newFailure(ReasonNotFound, result.Command, -1, "", err)
	case errors.Is(err, fs.ErrPermission):
		return nil, newFailure(ReasonPermission, result.Command, -1, "", err)
	default:
		return nil, newFailure(ReasonNonZeroExit, result.Command, -1, result.Output(), err)
	}
}

func isPermissionOutput(stderr string) bool {
	lower := strings.ToLower(stderr)
	return strings.Contains(lower, "permission denied") ||
		strings.Contains(lower, "access denied") ||
		strings.Contains(lower, "interactive authentication required") ||
		strings.Contains(lower, "a password is required")
}
