package systemd

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "hostfleet/internal/errors"
	"hostfleet/internal/runner"
	"hostfleet/internal/testutil"
)

func TestParseUnits(t *testing.T) {
	output := "onetime@7043.service loaded active running OneTimeSecret web 7043\n" +
		"onetime@7044.service loaded inactive dead OneTimeSecret web 7044\n" +
		"● onetime@7045.service not-found failed failed onetime@7045.service\n"

	units, err := ParseUnits(output)
	require.NoError(t, err)
	require.Len(t, units, 3)

	assert.Equal(t, "onetime@7043.service", units[0].Name)
	assert.Equal(t, "active", units[0].Active)
	assert.Equal(t, "OneTimeSecret web 7043", units[0].Description)
	assert.True(t, units[0].Loaded())

	assert.Equal(t, "onetime@7045.service", units[2].Name)
	assert.False(t, units[2].Loaded())
}

func TestParseUnits_ShortLineIsParseFailure(t *testing.T) {
	_, err := ParseUnits("onetime@7043.service loaded active\n")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrParseFailure))
}

func TestParseUnits_Empty(t *testing.T) {
	units, err := ParseUnits("\n")
	require.NoError(t, err)
	assert.Empty(t, units)
}

func TestClient_ListUnitsArguments(t *testing.T) {
	m := &testutil.MockRunner{}
	m.On("Run", "systemctl list-units onetime@* --all --plain --no-legend --no-pager").
		Return(testutil.OK("onetime@7043.service loaded active running web\n"), nil)

	units, err := New(m).ListUnits(context.Background(), "onetime@*")
	require.NoError(t, err)
	require.Len(t, units, 1)
	m.AssertExpectations(t)
}

func TestClient_StateQueries(t *testing.T) {
	fr := testutil.NewFakeRunner()
	fs := testutil.NewFakeSystemd("")
	fs.Install(fr)
	fs.SetUnit("onetime@7043", true, false)

	c := New(fr)
	ctx := context.Background()

	active, err := c.IsActive(ctx, "onetime@7043.service")
	require.NoError(t, err)
	assert.True(t, active)

	enabled, err := c.IsEnabled(ctx, "onetime@7043.service")
	require.NoError(t, err)
	assert.False(t, enabled)

	active, err = c.IsActive(ctx, "onetime@9999.service")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestClient_ControlFailureIsExecutionFailure(t *testing.T) {
	fr := testutil.NewFakeRunner()
	fs := testutil.NewFakeSystemd("")
	fs.Install(fr)

	err := New(fr).Start(context.Background(), "onetime@7043.service")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrExecutionFailure))
	assert.True(t, runner.HasReason(err, runner.ReasonNonZeroExit))
}

func TestClient_Unavailable(t *testing.T) {
	fr := testutil.NewFakeRunner()
	fs := testutil.NewFakeSystemd("")
	fs.Unavailable = true
	fs.Install(fr)

	_, err := New(fr).ListUnits(context.Background(), "onetime@*")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrSystemUnavailable))
	assert.True(t, apperrors.IsFatal(err))
}

func TestClient_StatusInactiveIsNotError(t *testing.T) {
	fr := testutil.NewFakeRunner()
	testutil.NewFakeSystemd("").Install(fr)

	out, err := New(fr).Status(context.Background(), "onetime@7043.service", 10)
	require.NoError(t, err)
	assert.Contains(t, out, "inactive")
	assert.Equal(t, []string{"systemctl status --no-pager -n 10 onetime@7043.service"}, fr.Calls())
}

func TestClient_Logs(t *testing.T) {
	fr := testutil.NewFakeRunner()
	testutil.NewFakeSystemd("").Install(fr)

	var buf bytes.Buffer
	require.NoError(t, New(fr).Logs(context.Background(), &buf, "onetime@7043.service", 50, true))
	assert.Equal(t, []string{"journalctl -u onetime@7043.service -n 50 --no-pager -f"}, fr.Calls())
	assert.NotEmpty(t, buf.String())
}
