package podman

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "hostfleet/internal/errors"
	"hostfleet/internal/testutil"
)

func TestImages(t *testing.T) {
	m := &testutil.MockRunner{}
	m.On("Run", "podman images --format "+imageFormat+" ghcr.io/onetimesecret/onetimesecret").
		Return(testutil.OK("ghcr.io/onetimesecret/onetimesecret\tv0.23.0\tabc123\t2 days ago\n"), nil)

	images, err := New(m).Images(context.Background(), "ghcr.io/onetimesecret/onetimesecret")
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, "v0.23.0", images[0].Tag)
	assert.Equal(t, "2 days ago", images[0].Created)
}

func TestImages_ColumnMismatchIsParseFailure(t *testing.T) {
	m := &testutil.MockRunner{}
	m.On("Run", "podman images --format "+imageFormat).Return(testutil.OK("repo\ttag\tid\n"), nil)

	_, err := New(m).Images(context.Background(), "")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrParseFailure))
}

func TestPS(t *testing.T) {
	fr := testutil.NewFakeRunner()
	fp := testutil.NewFakePodman("")
	fp.Install(fr)
	fp.AddContainer("onetime-7043", "ghcr.io/onetimesecret/onetimesecret:v1", "Up 2 hours")

	containers, err := New(fr).PS(context.Background(), "onetime")
	require.NoError(t, err)
	require.Len(t, containers, 1)
	assert.Equal(t, "onetime-7043", containers[0].Name)
	assert.Equal(t, "Up 2 hours", containers[0].Status)
}

func TestContainerExists(t *testing.T) {
	fr := testutil.NewFakeRunner()
	fp := testutil.NewFakePodman("")
	fp.Install(fr)
	fp.AddContainer("onetime-7043", "img", "Up")

	c := New(fr)
	exists, err := c.ContainerExists(context.Background(), "onetime-7043")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = c.ContainerExists(context.Background(), "onetime-7044")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestContainerExists_EngineError(t *testing.T) {
	m := &testutil.MockRunner{}
	m.On("Run", "podman container exists x").Return(testutil.Exit(125, "Error: cannot connect"), nil)

	_, err := New(m).ContainerExists(context.Background(), "x")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrExecutionFailure))
}

func TestPull_Failure(t *testing.T) {
	fr := testutil.NewFakeRunner()
	fp := testutil.NewFakePodman("")
	fp.FailPull["ghcr.io/x/y:bad"] = true
	fp.Install(fr)

	err := New(fr).Pull(context.Background(), "ghcr.io/x/y:bad")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrExecutionFailure))
}

func TestSyncAssets(t *testing.T) {
	mount := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(mount, "web/dist/.vite"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(mount, "web/dist/.vite/manifest.json"), []byte("{}"), 0o644))

	fr := testutil.NewFakeRunner()
	fp := testutil.NewFakePodman(mount)
	fp.Install(fr)

	got, err := New(fr).SyncAssets(context.Background(), AssetSync{
		Image:    "ghcr.io/onetimesecret/onetimesecret:v1",
		Volume:   "static_assets",
		Source:   "/app/public",
		Manifest: "web/dist/.vite/manifest.json",
	})
	require.NoError(t, err)
	assert.Equal(t, mount, got)

	assert.Len(t, fr.CallsWithPrefix("podman volume create --ignore static_assets"), 1)
	copies := fr.CallsWithPrefix("podman cp ")
	require.Len(t, copies, 1)
	assert.Contains(t, copies[0], ":/app/public/. "+mount)
	assert.Empty(t, fp.Containers(), "scratch container must be removed")
}

func TestSyncAssets_RemovesScratchOnCopyFailure(t *testing.T) {
	m := &testutil.MockRunner{}
	m.On("Run", "podman volume create --ignore static_assets").Return(testutil.OK(""), nil)
	m.On("Run", "podman volume mount static_assets").Return(testutil.OK("/var/lib/containers/storage/volumes/static_assets/_data\n"), nil)
	m.On("Run", mock.MatchedBy(func(line string) bool {
		return len(line) > len("podman create") && line[:len("podman create")] == "podman create"
	})).Return(testutil.OK("deadbeef\n"), nil)
	m.On("Run", "podman cp deadbeef:/app/public/. /var/lib/containers/storage/volumes/static_assets/_data").
		Return(testutil.Exit(125, "Error: no such file"), nil)
	m.On("Run", "podman rm --force deadbeef").Return(testutil.OK(""), nil).Once()

	_, err := New(m).SyncAssets(context.Background(), AssetSync{
		Image:  "img:v1",
		Volume: "static_assets",
		Source: "/app/public",
	})
	require.Error(t, err)
	m.AssertExpectations(t)
}
