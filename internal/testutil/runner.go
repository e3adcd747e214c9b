package testutil

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/stretchr/testify/mock"

	apperrors "hostfleet/internal/errors"
	"hostfleet/internal/runner"
)

// Handler answers one fake command. args excludes the command name.
type Handler func(args []string) *runner.Result

// FakeRunner is a runner.Runner that dispatches by command name to
// registered handlers and records every call. Unhandled commands succeed
// with empty output.
type FakeRunner struct {
	mu       sync.Mutex
	calls    [][]string
	handlers map[string]Handler
}

// NewFakeRunner creates an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{handlers: make(map[string]Handler)}
}

// Handle registers the handler for a command name.
func (f *FakeRunner) Handle(name string, h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[name] = h
}

// Run implements runner.Runner.
func (f *FakeRunner) Run(ctx context.Context, name string, args ...string) (*runner.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCancelled, "Command interrupted", err)
	}

	argv := append([]string{name}, args...)

	f.mu.Lock()
	f.calls = append(f.calls, argv)
	h := f.handlers[name]
	f.mu.Unlock()

	res := &runner.Result{}
	if h != nil {
		res = h(args)
	}
	res.Command = argv
	return res, nil
}

// Stream implements runner.Runner by writing the handler's stdout to w.
func (f *FakeRunner) Stream(ctx context.Context, w io.Writer, name string, args ...string) error {
	res, err := f.Run(ctx, name, args...)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, res.Stdout); err != nil {
		return err
	}
	return res.Check()
}

// Calls returns every recorded command line, space-joined.
func (f *FakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, argv := range f.calls {
		out[i] = strings.Join(argv, " ")
	}
	return out
}

// CallsWithPrefix returns the recorded command lines starting with prefix.
func (f *FakeRunner) CallsWithPrefix(prefix string) []string {
	var out []string
	for _, call := range f.Calls() {
		if strings.HasPrefix(call, prefix) {
			out = append(out, call)
		}
	}
	return out
}

// Reset forgets recorded calls.
func (f *FakeRunner) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// OK is a successful result with stdout.
func OK(stdout string) *runner.Result {
	return &runner.Result{Stdout: stdout}
}

// Exit is a failed result with the exit code and stderr.
func Exit(code int, stderr string) *runner.Result {
	return &runner.Result{ExitCode: code, Stderr: stderr}
}

// MockRunner is a testify mock keyed on the full space-joined command line.
type MockRunner struct {
	mock.Mock
}

// Run implements runner.Runner.
func (m *MockRunner) Run(ctx context.Context, name string, args ...string) (*runner.Result, error) {
	line := strings.Join(append([]string{name}, args...), " ")
	ret := m.Called(line)
	res, _ := ret.Get(0).(*runner.Result)
	if res != nil {
		res.Command = append([]string{name}, args...)
	}
	return res, ret.Error(1)
}

// Stream implements runner.Runner.
func (m *MockRunner) Stream(ctx context.Context, w io.Writer, name string, args ...string) error {
	res, err := m.Run(ctx, name, args...)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, res.Stdout); err != nil {
		return err
	}
	return res.Check()
}
