package health

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "hostfleet/internal/errors"
)

func TestProbe_Check(t *testing.T) {
	t.Run("answers PONG", func(t *testing.T) {
		mr := miniredis.RunT(t)

		err := Probe{Addr: mr.Addr()}.Check(context.Background())
		assert.NoError(t, err)
	})

	t.Run("authenticates with password", func(t *testing.T) {
		mr := miniredis.RunT(t)
		mr.RequireAuth("s3cret")

		err := Probe{Addr: mr.Addr(), Password: "s3cret"}.Check(context.Background())
		assert.NoError(t, err)
	})

	t.Run("wrong password fails", func(t *testing.T) {
		mr := miniredis.RunT(t)
		mr.RequireAuth("s3cret")

		err := Probe{Addr: mr.Addr(), Password: "nope", Attempts: 2, Interval: time.Millisecond}.Check(context.Background())
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrHealthCheckFailed))
	})

	t.Run("server gone", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		err := Probe{Addr: addr, Attempts: 3, Interval: time.Millisecond, Timeout: 100 * time.Millisecond}.Check(context.Background())
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrHealthCheckFailed))
		assert.Contains(t, err.Error(), "Attempts: 3")
	})

	t.Run("cancelled context stops retrying", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := Probe{Addr: "127.0.0.1:1", Attempts: 50, Interval: time.Second}.Check(ctx)
		assert.Error(t, err)
	})
}
