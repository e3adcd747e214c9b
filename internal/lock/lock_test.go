//go:build unix

package lock

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "hostfleet/internal/errors"
)

func TestTryLock_Exclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "hostfleet.lock")

	first, err := TryLock(path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(data)))

	_, err = TryLock(path)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrLocked))
	assert.Contains(t, err.Error(), "Holder PID")

	require.NoError(t, first.Unlock())
	assert.NoError(t, first.Unlock(), "second unlock is a no-op")

	second, err := TryLock(path)
	require.NoError(t, err)
	assert.Equal(t, path, second.Path())
	require.NoError(t, second.Unlock())
}

func TestLock_WaitsForRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hostfleet.lock")

	held, err := TryLock(path)
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = held.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	l, err := Lock(ctx, path, 10*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, l.Unlock())
}

func TestLock_GivesUpWhenContextDone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hostfleet.lock")

	held, err := TryLock(path)
	require.NoError(t, err)
	defer held.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = Lock(ctx, path, 5*time.Millisecond)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrLocked))
}
