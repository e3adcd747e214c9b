package discovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "hostfleet/internal/errors"
	"hostfleet/internal/systemd"
	"hostfleet/internal/testutil"
	"hostfleet/internal/types"
)

var templates = []types.UnitTemplate{
	{Family: types.FamilyWeb, Prefix: "onetime@"},
	{Family: types.FamilyWorker, Prefix: "onetime-worker@"},
	{Family: types.FamilyService, Package: "valkey", Prefix: "valkey-server@"},
}

func setup(t *testing.T) (*Discoverer, *testutil.FakeSystemd, *testutil.FakeRunner) {
	t.Helper()
	fr := testutil.NewFakeRunner()
	fs := testutil.NewFakeSystemd("")
	fs.Install(fr)
	return New(systemd.New(fr), templates), fs, fr
}

func identifiers(instances []types.Instance) []string {
	var ids []string
	for _, inst := range instances {
		ids = append(ids, inst.Identifier)
	}
	return ids
}

func TestDiscover_OrderingIsDeterministic(t *testing.T) {
	d, fs, _ := setup(t)
	fs.SetUnit("onetime-worker@7044", true, true)
	fs.SetUnit("onetime-worker@worker-a", true, false)
	fs.SetUnit("onetime-worker@7043", false, true)

	sel := Selector{Family: types.FamilyWorker}
	first, err := d.Discover(context.Background(), sel)
	require.NoError(t, err)
	assert.Equal(t, []string{"7043", "7044", "worker-a"}, identifiers(first))

	second, err := d.Discover(context.Background(), sel)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDiscover_State(t *testing.T) {
	d, fs, _ := setup(t)
	fs.SetUnit("onetime@7043", true, true)
	fs.SetUnit("onetime@7044", false, true)

	instances, err := d.Discover(context.Background(), Selector{Family: types.FamilyWeb})
	require.NoError(t, err)
	require.Len(t, instances, 2)

	assert.Equal(t, "onetime@7043.service", instances[0].Unit)
	assert.Equal(t, types.InstanceState{Defined: true, Active: true, Enabled: true}, instances[0].State)
	assert.Equal(t, types.InstanceState{Defined: true, Active: false, Enabled: true}, instances[1].State)
}

func TestDiscover_RunningOnly(t *testing.T) {
	d, fs, _ := setup(t)
	fs.SetUnit("onetime@7043", true, true)
	fs.SetUnit("onetime@7044", false, true)

	instances, err := d.Discover(context.Background(), Selector{Family: types.FamilyWeb, RunningOnly: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"7043"}, identifiers(instances))
}

func TestDiscover_AllFamilies(t *testing.T) {
	d, fs, _ := setup(t)
	fs.SetUnit("valkey-server@6379", true, true)
	fs.SetUnit("onetime-worker@1", true, true)
	fs.SetUnit("onetime@7043", true, true)

	instances, err := d.Discover(context.Background(), Selector{})
	require.NoError(t, err)
	require.Len(t, instances, 3)
	assert.Equal(t, types.FamilyWeb, instances[0].Family)
	assert.Equal(t, types.FamilyWorker, instances[1].Family)
	assert.Equal(t, types.FamilyService, instances[2].Family)
	assert.Equal(t, "valkey", instances[2].Package)
}

func TestDiscover_EmptyIsNotAnError(t *testing.T) {
	d, _, _ := setup(t)

	instances, err := d.Discover(context.Background(), Selector{Family: types.FamilyWeb})
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestDiscover_SystemUnavailableIsFatal(t *testing.T) {
	d, fs, _ := setup(t)
	fs.Unavailable = true

	instances, err := d.Discover(context.Background(), Selector{Family: types.FamilyWeb})
	require.Error(t, err)
	assert.Nil(t, instances)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrSystemUnavailable))
}

func TestDiscover_ParseFailure(t *testing.T) {
	m := &testutil.MockRunner{}
	m.On("Run", "systemctl list-units onetime@* --all --plain --no-legend --no-pager").
		Return(testutil.OK("onetime@7043.service loaded\n"), nil)

	d := New(systemd.New(m), templates)
	_, err := d.Discover(context.Background(), Selector{Family: types.FamilyWeb})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrParseFailure))
}

func TestDiscover_UnknownPackage(t *testing.T) {
	d, _, _ := setup(t)

	_, err := d.Discover(context.Background(), Selector{Family: types.FamilyService, Package: "memcached"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotFound))
}

func TestAll_IsLazy(t *testing.T) {
	d, fs, fr := setup(t)
	fs.SetUnit("onetime@7043", true, true)
	fs.SetUnit("onetime@7044", true, true)
	fs.SetUnit("onetime@7045", true, true)

	for inst, err := range d.All(context.Background(), Selector{Family: types.FamilyWeb}) {
		require.NoError(t, err)
		assert.Equal(t, "7043", inst.Identifier)
		break
	}

	assert.Len(t, fr.CallsWithPrefix("systemctl is-active"), 1)
	assert.Len(t, fr.CallsWithPrefix("systemctl list-units"), 1)
}

func TestAll_ReflectsExternalChanges(t *testing.T) {
	d, fs, _ := setup(t)
	fs.SetUnit("onetime@7043", true, true)
	seq := d.All(context.Background(), Selector{Family: types.FamilyWeb})

	count := 0
	for range seq {
		count++
	}
	assert.Equal(t, 1, count)

	fs.SetUnit("onetime@7044", true, true)
	count = 0
	for range seq {
		count++
	}
	assert.Equal(t, 2, count)
}

func TestObserve_UnlistedInstance(t *testing.T) {
	d, _, _ := setup(t)

	inst, err := d.Observe(context.Background(), templates[0], "7043")
	require.NoError(t, err)
	assert.Equal(t, "onetime@7043.service", inst.Unit)
	assert.False(t, inst.State.Defined)
	assert.False(t, inst.State.Active)
}

func TestFamilySelectors(t *testing.T) {
	sels := FamilySelectors(true)
	require.Len(t, sels, len(types.ContainerFamilies))
	for i, sel := range sels {
		assert.Equal(t, types.ContainerFamilies[i], sel.Family)
		assert.True(t, sel.RunningOnly)
		assert.Empty(t, sel.Package)
	}
}
