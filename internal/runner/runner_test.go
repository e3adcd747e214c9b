package runner

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	apperrors "hostfleet/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExecutor struct {
	calls [][]string
}

func (e *recordingExecutor) CommandContext(ctx context.Context, name string, args ...string) *exec.Cmd {
	e.calls = append(e.calls, append([]string{name}, args...))
	return exec.CommandContext(ctx, "true")
}

func TestRun_Success(t *testing.T) {
	r := New(nil, Options{})

	result, err := r.Run(context.Background(), "sh", "-c", "echo out; echo err >&2")
	require.NoError(t, err)
	assert.True(t, result.Success())
	assert.Equal(t, "out\n", result.Stdout)
	assert.Equal(t, "err\n", result.Stderr)
	assert.Equal(t, []string{"out"}, result.Lines())
	assert.NoError(t, result.Check())
}

func TestRun_NonZeroExitIsNotAnError(t *testing.T) {
	r := New(nil, Options{})

	result, err := r.Run(context.Background(), "sh", "-c", "echo boom >&2; exit 3")
	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)

	checkErr := result.Check()
	require.Error(t, checkErr)
	assert.True(t, apperrors.HasCode(checkErr, apperrors.ErrExecutionFailure))
	failure, ok := AsFailure(checkErr)
	require.True(t, ok)
	assert.Equal(t, ReasonNonZeroExit, failure.Reason)
	assert.Equal(t, 3, failure.ExitCode)
	assert.Contains(t, failure.Output, "boom")
}

func TestRun_PermissionOutput(t *testing.T) {
	result := &Result{Command: []string{"systemctl", "start", "x"}, ExitCode: 1, Stderr: "Failed to start x: Access denied"}
	assert.True(t, HasReason(result.Check(), ReasonPermission))
}

func TestRun_NotFound(t *testing.T) {
	r := New(nil, Options{})

	_, err := r.Run(context.Background(), "hostfleet-definitely-missing-binary")
	require.Error(t, err)
	assert.True(t, HasReason(err, ReasonNotFound))
}

func TestRun_Timeout(t *testing.T) {
	r := New(nil, Options{Timeout: 50 * time.Millisecond})

	_, err := r.Run(context.Background(), "sleep", "5")
	require.Error(t, err)
	assert.True(t, HasReason(err, ReasonTimeout))
}

func TestRun_Cancelled(t *testing.T) {
	r := New(nil, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx, "sleep", "5")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCancelled))
}

func TestRun_SudoPrefix(t *testing.T) {
	rec := &recordingExecutor{}
	r := New(rec, Options{Sudo: true})

	_, err := r.Run(context.Background(), "systemctl", "daemon-reload")
	require.NoError(t, err)
	require.Len(t, rec.calls, 1)
	assert.Equal(t, []string{"sudo", "-n", "systemctl", "daemon-reload"}, rec.calls[0])
}

func TestStream(t *testing.T) {
	r := New(nil, Options{})

	var buf bytes.Buffer
	require.NoError(t, r.Stream(context.Background(), &buf, "sh", "-c", "echo line1; echo line2"))
	assert.Equal(t, "line1\nline2\n", buf.String())

	err := r.Stream(context.Background(), &buf, "sh", "-c", "exit 4")
	assert.True(t, HasReason(err, ReasonNonZeroExit))
}

func TestExecutionFailure_TruncatesOnRuneBoundary(t *testing.T) {
	output := strings.Repeat("a", 199) + "é" + strings.Repeat("b", 50)
	failure := &ExecutionFailure{Reason: ReasonNonZeroExit, Command: "podman ps", ExitCode: 125, Output: output}

	msg := failure.Error()
	assert.True(t, utf8.ValidString(msg))
	assert.Contains(t, msg, "output="+strings.Repeat("a", 199)+"...")
	assert.NotContains(t, msg, "é")

	short := &ExecutionFailure{Reason: ReasonNonZeroExit, Command: "podman ps", Output: "déjà vu\n"}
	assert.Contains(t, short.Error(), "output=déjà vu")
}
