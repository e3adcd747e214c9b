// Package config loads the hostfleet TOML configuration and resolves it,
// with environment overrides applied, into the values the orchestrator is
// constructed with.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"

	"hostfleet/internal/constants"
	apperrors "hostfleet/internal/errors"
	"hostfleet/internal/materialize"
	"hostfleet/internal/quadlet"
	"hostfleet/internal/types"
	"hostfleet/internal/xdg"
)

// Config is the resolved hostfleet configuration.
type Config struct {
	BaseDir      string `toml:"base_dir" validate:"required"`
	QuadletDir   string `toml:"quadlet_dir" validate:"required"`
	StateDir     string `toml:"state_dir"`
	Database     string `toml:"database"`
	PackagesFile string `toml:"packages_file"`
	// RequiredFiles are checked before any batch touches an instance.
	// Relative paths are resolved against BaseDir.
	RequiredFiles []string `toml:"required_files"`

	Image     ImageConfig     `toml:"image"`
	Runner    RunnerConfig    `toml:"runner"`
	Batch     BatchConfig     `toml:"batch"`
	Server    ServerConfig    `toml:"server"`
	Assets    AssetsConfig    `toml:"assets"`
	Web       ContainerConfig `toml:"web"`
	Worker    ContainerConfig `toml:"worker"`
	Scheduler ContainerConfig `toml:"scheduler"`

	// Packages holds the built-in service packages plus those loaded from
	// PackagesFile.
	Packages []materialize.Package `toml:"-"`

	path string
}

// ImageConfig selects the application image.
type ImageConfig struct {
	Name string `toml:"name" validate:"required"`
	// Tag may be "current" or "rollback" to resolve through the image aliases.
	Tag string `toml:"tag" validate:"required"`
}

// RunnerConfig controls how external commands run.
type RunnerConfig struct {
	Sudo           bool   `toml:"sudo"`
	CommandTimeout string `toml:"command_timeout" validate:"omitempty,duration"`
}

// BatchConfig controls batch execution.
type BatchConfig struct {
	Delay    string `toml:"delay" validate:"omitempty,duration"`
	LockWait string `toml:"lock_wait" validate:"omitempty,duration"`
	// HealthCheck pings Redis-protocol service packages after start.
	HealthCheck bool `toml:"health_check"`
}

// ServerConfig configures the read-only API.
type ServerConfig struct {
	Listen string `toml:"listen" validate:"required,hostname_port"`
}

// AssetsConfig controls static asset sync before web deploys.
type AssetsConfig struct {
	Enabled  bool   `toml:"enabled"`
	Volume   string `toml:"volume" validate:"required_if=Enabled true"`
	Source   string `toml:"source" validate:"required_if=Enabled true"`
	Manifest string `toml:"manifest"`
}

// ContainerConfig is the unit template of one container family.
type ContainerConfig struct {
	// Unit is the template prefix, ending in "@".
	Unit             string            `toml:"unit" validate:"required,endswith=@"`
	Description      string            `toml:"description"`
	Exec             string            `toml:"exec"`
	Network          string            `toml:"network"`
	Environment      map[string]string `toml:"environment"`
	EnvironmentFiles []string          `toml:"environment_files"`
	Secrets          map[string]string `toml:"secrets"`
	Volumes          []string          `toml:"volumes"`
	PodmanArgs       []string          `toml:"podman_args"`
	TimeoutStop      string            `toml:"timeout_stop"`
	Health           HealthConfig      `toml:"health"`
}

// HealthConfig maps to the quadlet health-check keys.
type HealthConfig struct {
	Command     string `toml:"command"`
	Interval    string `toml:"interval"`
	Timeout     string `toml:"timeout"`
	StartPeriod string `toml:"start_period"`
	Retries     int    `toml:"retries" validate:"min=0"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		BaseDir:       constants.DefaultBaseDir,
		QuadletDir:    constants.DefaultQuadletDir,
		RequiredFiles: []string{"config/.env", "config/config.yaml"},
		Image: ImageConfig{
			Name: constants.DefaultImage,
			Tag:  constants.DefaultTag,
		},
		Runner: RunnerConfig{
			CommandTimeout: constants.DefaultCommandTimeout.String(),
		},
		Batch: BatchConfig{
			Delay:    "0s",
			LockWait: constants.DefaultLockWait.String(),
		},
		Server: ServerConfig{
			Listen: constants.DefaultListenAddr,
		},
		Assets: AssetsConfig{
			Enabled:  true,
			Volume:   "static_assets",
			Source:   "/app/public",
			Manifest: "web/dist/.vite/manifest.json",
		},
		Web: ContainerConfig{
			Unit:             "onetime-web@",
			Description:      "OneTimeSecret web %i",
			Network:          "host",
			Environment:      map[string]string{"PORT": "%i"},
			EnvironmentFiles: []string{"{{base_dir}}/.env-%i"},
			Volumes: []string{
				"{{base_dir}}/config/config.yaml:/app/etc/config.yaml:ro",
				"static_assets:/app/public:ro",
			},
			Health: HealthConfig{
				Command:  "curl -fsS http://127.0.0.1:%i/api/v2/status",
				Interval: "30s",
				Timeout:  "5s",
				Retries:  3,
			},
		},
		Worker: ContainerConfig{
			Unit:             "onetime-worker@",
			Description:      "OneTimeSecret worker %i",
			Exec:             "bin/entrypoint.sh worker",
			Network:          "host",
			Environment:      map[string]string{"WORKER_ID": "%i"},
			EnvironmentFiles: []string{"{{base_dir}}/config/.env"},
			Volumes:          []string{"{{base_dir}}/config/config.yaml:/app/etc/config.yaml:ro"},
			TimeoutStop:      "60",
		},
		Scheduler: ContainerConfig{
			Unit:             "onetime-scheduler@",
			Description:      "OneTimeSecret scheduler %i",
			Exec:             "bin/entrypoint.sh scheduler",
			Network:          "host",
			Environment:      map[string]string{"SCHEDULER_ID": "%i"},
			EnvironmentFiles: []string{"{{base_dir}}/config/.env"},
			Volumes:          []string{"{{base_dir}}/config/config.yaml:/app/etc/config.yaml:ro"},
		},
	}
}

// Load reads the config file at path, applies environment overrides from
// lookup and validates the result. An empty path selects DefaultPath; a
// missing default file yields the built-in defaults, while a missing
// explicit file is an error.
func Load(path string, lookup func(string) (string, bool)) (*Config, error) {
	if lookup == nil {
		lookup = func(string) (string, bool) { return "", false }
	}

	explicit := path != ""
	if !explicit {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrConfigInvalid, "Cannot determine config location", err)
		}
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, apperrors.ConfigParseError(path, err)
		}
	case os.IsNotExist(err) && !explicit:
	case os.IsNotExist(err):
		return nil, apperrors.ConfigNotFound(path)
	default:
		return nil, apperrors.WrapWithDetails(apperrors.ErrFileRead, "Failed to read configuration", "Path: "+path, err)
	}
	cfg.path = path

	cfg.applyEnv(lookup)
	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	if err := cfg.loadPackages(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultPath returns /etc/hostfleet/config.toml for root and the XDG
// config location otherwise.
func DefaultPath() (string, error) {
	if os.Geteuid() == 0 {
		return constants.SystemConfigPath, nil
	}
	dir, err := xdg.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Path returns the file the configuration was loaded from.
func (c *Config) Path() string {
	return c.path
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	overrides := []struct {
		name string
		dest *string
	}{
		{"IMAGE", &c.Image.Name},
		{"TAG", &c.Image.Tag},
		{"HOSTFLEET_DB", &c.Database},
		{"HOSTFLEET_BASE_DIR", &c.BaseDir},
		{"HOSTFLEET_QUADLET_DIR", &c.QuadletDir},
		{"HOSTFLEET_STATE_DIR", &c.StateDir},
	}
	for _, o := range overrides {
		if v, ok := lookup(o.name); ok && v != "" {
			*o.dest = v
		}
	}
}

func (c *Config) resolvePaths() error {
	if c.StateDir == "" {
		if os.Geteuid() == 0 {
			c.StateDir = constants.SystemStateDir
		} else {
			dir, err := xdg.StateDir()
			if err != nil {
				return apperrors.Wrap(apperrors.ErrConfigInvalid, "Cannot determine state directory", err)
			}
			c.StateDir = dir
		}
	}
	if c.Database == "" {
		c.Database = filepath.Join(c.StateDir, constants.DatabaseFile)
	}
	if c.PackagesFile == "" && c.path != "" {
		c.PackagesFile = filepath.Join(filepath.Dir(c.path), constants.PackagesFile)
	}
	return nil
}

func (c *Config) loadPackages() error {
	packages := materialize.BuiltinPackages()
	if c.PackagesFile != "" {
		data, err := os.ReadFile(c.PackagesFile)
		switch {
		case err == nil:
			extra, err := materialize.ParsePackages(data)
			if err != nil {
				return apperrors.ConfigParseError(c.PackagesFile, err)
			}
			packages = mergePackages(packages, extra)
		case !os.IsNotExist(err):
			return apperrors.WrapWithDetails(apperrors.ErrFileRead, "Failed to read package definitions",
				"Path: "+c.PackagesFile, err)
		}
	}
	c.Packages = packages
	return nil
}

// mergePackages lets a definition from the packages file replace a built-in
// package of the same name.
func mergePackages(base, extra []materialize.Package) []materialize.Package {
	index := make(map[string]int, len(base))
	for i, p := range base {
		index[p.Name] = i
	}
	for _, p := range extra {
		if i, ok := index[p.Name]; ok {
			base[i] = p
			continue
		}
		index[p.Name] = len(base)
		base = append(base, p)
	}
	return base
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		_, err := time.ParseDuration(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return apperrors.ConfigValidationError(fe.Namespace(), fmt.Sprintf("failed %q check", fe.Tag()))
		}
		return apperrors.Wrap(apperrors.ErrConfigValidation, "Configuration validation failed", err)
	}

	seen := map[string]types.Family{}
	for _, f := range types.ContainerFamilies {
		unit := c.Container(f).Unit
		if other, ok := seen[unit]; ok {
			return apperrors.ConfigValidationError(f.Short()+".unit",
				fmt.Sprintf("template %s is also used by %s", unit, other.Short()))
		}
		seen[unit] = f
	}
	if _, err := materialize.NewRegistry(c.Packages...); err != nil {
		return err
	}
	return nil
}

// Container returns the unit settings of a container family.
func (c *Config) Container(f types.Family) ContainerConfig {
	switch f {
	case types.FamilyWeb:
		return c.Web
	case types.FamilyWorker:
		return c.Worker
	case types.FamilyScheduler:
		return c.Scheduler
	default:
		return ContainerConfig{}
	}
}

// UnitTemplates returns the templates of the container families.
func (c *Config) UnitTemplates() []types.UnitTemplate {
	templates := make([]types.UnitTemplate, 0, len(types.ContainerFamilies))
	for _, f := range types.ContainerFamilies {
		templates = append(templates, types.UnitTemplate{Family: f, Prefix: c.Container(f).Unit})
	}
	return templates
}

// QuadletPath returns the quadlet file of a container family.
func (c *Config) QuadletPath(f types.Family) string {
	return filepath.Join(c.QuadletDir, c.Container(f).Unit+".container")
}

// Vars are the {{name}} tags available in unit settings.
func (c *Config) Vars(image string) map[string]string {
	return map[string]string{
		"base_dir": c.BaseDir,
		"image":    image,
		"app":      strings.TrimSuffix(c.Web.Unit, "-web@"),
	}
}

// UnitSpec builds the renderer input for a container family running image.
func (c *Config) UnitSpec(f types.Family, image string) quadlet.UnitSpec {
	cc := c.Container(f)
	spec := quadlet.UnitSpec{
		Description:      cc.Description,
		Image:            image,
		Exec:             cc.Exec,
		Network:          cc.Network,
		Environment:      cc.Environment,
		EnvironmentFiles: cc.EnvironmentFiles,
		Secrets:          cc.Secrets,
		Volumes:          cc.Volumes,
		PodmanArgs:       cc.PodmanArgs,
		TimeoutStop:      cc.TimeoutStop,
		Vars:             c.Vars(image),
	}
	if cc.Health.Command != "" {
		spec.Health = &quadlet.HealthCheck{
			Command:     cc.Health.Command,
			Interval:    cc.Health.Interval,
			Timeout:     cc.Health.Timeout,
			StartPeriod: cc.Health.StartPeriod,
			Retries:     cc.Health.Retries,
		}
	}
	return spec
}

// ImageRef returns image:tag for the configured image.
func (c *Config) ImageRef() string {
	return c.Image.Name + ":" + c.Image.Tag
}

// RequiredPaths returns RequiredFiles as absolute paths.
func (c *Config) RequiredPaths() []string {
	paths := make([]string, 0, len(c.RequiredFiles))
	for _, p := range c.RequiredFiles {
		if !filepath.IsAbs(p) {
			p = filepath.Join(c.BaseDir, p)
		}
		paths = append(paths, p)
	}
	return paths
}

// LockPath returns the host lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.StateDir, constants.LockFile)
}

// Delay returns the inter-instance delay.
func (c *Config) Delay() time.Duration {
	return parseDuration(c.Batch.Delay, 0)
}

// LockWait returns how long to wait for the host lock.
func (c *Config) LockWait() time.Duration {
	return parseDuration(c.Batch.LockWait, constants.DefaultLockWait)
}

// CommandTimeout returns the per-command timeout.
func (c *Config) CommandTimeout() time.Duration {
	return parseDuration(c.Runner.CommandTimeout, constants.DefaultCommandTimeout)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Registry builds the service package registry.
func (c *Config) Registry() (*materialize.Registry, error) {
	return materialize.NewRegistry(c.Packages...)
}

// Save writes the configuration as TOML.
func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), constants.DirPermissions); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return os.WriteFile(path, data, constants.FilePermissions)
}
