package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "hostfleet/internal/errors"
	"hostfleet/internal/types"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_DefaultsWhenDefaultFileMissing(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(base, "config"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(base, "state"))
	if os.Geteuid() == 0 {
		t.Skip("root reads /etc/hostfleet")
	}

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "/opt/onetimesecret", cfg.BaseDir)
	assert.Equal(t, "ghcr.io/onetimesecret/onetimesecret:current", cfg.ImageRef())
	assert.Equal(t, filepath.Join(base, "state", "hostfleet", "hostfleet.db"), cfg.Database)
	assert.Equal(t, filepath.Join(base, "state", "hostfleet", "hostfleet.lock"), cfg.LockPath())
	assert.Equal(t, filepath.Join(base, "config", "hostfleet", "packages.yaml"), cfg.PackagesFile)
	assert.Equal(t, time.Duration(0), cfg.Delay())
	assert.Equal(t, 2*time.Minute, cfg.CommandTimeout())
	assert.Len(t, cfg.Packages, 2)
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"), nil)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrConfigNotFound))
}

func TestLoad_ParseError(t *testing.T) {
	path := writeConfig(t, "base_dir = [unterminated")
	_, err := Load(path, nil)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrConfigParse))
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	state := t.TempDir()
	path := writeConfig(t, `
base_dir = "/srv/app"
quadlet_dir = "/etc/containers/systemd"
state_dir = "`+state+`"

[image]
name = "registry.local/app"
tag = "v1.2.0"

[batch]
delay = "5s"

[web]
unit = "app-web@"
network = "app"
`)

	cfg, err := Load(path, envMap(map[string]string{
		"TAG":                "v1.3.0",
		"HOSTFLEET_BASE_DIR": "/srv/override",
		"IMAGE":              "",
	}))
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Path())
	assert.Equal(t, "/srv/override", cfg.BaseDir)
	assert.Equal(t, "registry.local/app:v1.3.0", cfg.ImageRef(), "empty IMAGE is ignored")
	assert.Equal(t, 5*time.Second, cfg.Delay())
	assert.Equal(t, "app-web@", cfg.Web.Unit)
	assert.Equal(t, "app", cfg.Web.Network)
	assert.Equal(t, "onetime-worker@", cfg.Worker.Unit, "unset tables keep defaults")
	assert.Equal(t, filepath.Join(state, "hostfleet.db"), cfg.Database)
	assert.Equal(t, []string{"/srv/override/config/.env", "/srv/override/config/config.yaml"}, cfg.RequiredPaths())
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad delay", "[batch]\ndelay = \"soon\"\n"},
		{"template without @", "[web]\nunit = \"app-web\"\n"},
		{"shared template", "[worker]\nunit = \"onetime-web@\"\n"},
		{"bad listen", "[server]\nlisten = \"nowhere\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "state_dir = \""+t.TempDir()+"\"\n"+tt.content)
			_, err := Load(path, nil)
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrConfigValidation), err.Error())
		})
	}
}

func TestLoad_PackagesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("state_dir = \""+dir+"\"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "packages.yaml"), []byte(`
packages:
  - name: keydb
    template: keydb-server@
    config_dir: /etc/keydb
    data_dir: /var/lib/keydb
    default_config: /etc/keydb/keydb.conf
    default_port: 6380
  - name: redis
    template: redis-server@
    config_dir: /srv/redis
    data_dir: /srv/redis/data
    default_config: /srv/redis/redis.conf
`), 0o644))

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	registry, err := cfg.Registry()
	require.NoError(t, err)
	assert.Equal(t, []string{"keydb", "redis", "valkey"}, registry.Names())

	redis, err := registry.Get("redis")
	require.NoError(t, err)
	assert.Equal(t, "/srv/redis", redis.ConfigDir, "packages file replaces built-in")
}

func TestUnitTemplatesAndSpec(t *testing.T) {
	cfg := Default()
	cfg.QuadletDir = "/etc/containers/systemd"

	templates := cfg.UnitTemplates()
	require.Len(t, templates, 3)
	assert.Equal(t, types.UnitTemplate{Family: types.FamilyWeb, Prefix: "onetime-web@"}, templates[0])

	assert.Equal(t, "/etc/containers/systemd/onetime-web@.container", cfg.QuadletPath(types.FamilyWeb))

	spec := cfg.UnitSpec(types.FamilyWeb, "ghcr.io/onetimesecret/onetimesecret:v1")
	assert.Equal(t, "ghcr.io/onetimesecret/onetimesecret:v1", spec.Image)
	assert.Equal(t, "/opt/onetimesecret", spec.Vars["base_dir"])
	assert.Equal(t, "onetime", spec.Vars["app"])
	require.NotNil(t, spec.Health)
	assert.Equal(t, 3, spec.Health.Retries)

	worker := cfg.UnitSpec(types.FamilyWorker, "img:v1")
	assert.Nil(t, worker.Health)
	assert.Equal(t, "bin/entrypoint.sh worker", worker.Exec)
}

func TestSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.StateDir = dir
	cfg.Image.Tag = "v9"

	path := filepath.Join(dir, "nested", "config.toml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "v9", loaded.Image.Tag)
	assert.Equal(t, cfg.Web.Volumes, loaded.Web.Volumes)
}
