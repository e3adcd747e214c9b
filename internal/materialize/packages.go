// Package materialize produces per-instance configuration for native
// service packages (valkey, redis) by copy-on-write from the package
// default config.
package materialize

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/valyala/fasttemplate"
	"gopkg.in/yaml.v3"

	apperrors "hostfleet/internal/errors"
	"hostfleet/internal/types"
)

// Format is the line format of a package config file.
type Format string

const (
	// FormatSpace is "key value"
	FormatSpace Format = "space"
	// FormatEquals is "key=value"
	FormatEquals Format = "equals"
)

// Separator returns the string placed between key and value.
func (f Format) Separator() string {
	if f == FormatEquals {
		return "="
	}
	return " "
}

// Secrets describes the separate secrets file of a package.
type Secrets struct {
	Keys        []string `yaml:"keys"`
	FilePattern string   `yaml:"file_pattern" validate:"required"`
	Include     string   `yaml:"include"`
}

// Package describes a native service shipped with a systemd template unit.
// Patterns accept the {instance} tag.
type Package struct {
	Name            string   `yaml:"name" validate:"required,alphanum"`
	Template        string   `yaml:"template" validate:"required,endswith=@"`
	ConfigDir       string   `yaml:"config_dir" validate:"required"`
	DataDir         string   `yaml:"data_dir" validate:"required"`
	ConfigPattern   string   `yaml:"config_pattern"`
	InstancesSubdir bool     `yaml:"instances_subdir"`
	DefaultService  string   `yaml:"default_service"`
	DefaultConfig   string   `yaml:"default_config" validate:"required"`
	Secrets         *Secrets `yaml:"secrets"`
	User            string   `yaml:"user"`
	Group           string   `yaml:"group"`
	DefaultPort     int      `yaml:"default_port" validate:"omitempty,min=1,max=65535"`
	PortKey         string   `yaml:"port_key"`
	BindKey         string   `yaml:"bind_key"`
	DataDirKey      string   `yaml:"data_dir_key"`
	Format          Format   `yaml:"format" validate:"omitempty,oneof=space equals"`
	CommentPrefix   string   `yaml:"comment_prefix"`
	// HealthPing marks packages speaking the Redis protocol.
	HealthPing bool `yaml:"health_ping"`
}

func (p Package) withDefaults() Package {
	if p.ConfigPattern == "" {
		p.ConfigPattern = "{instance}.conf"
	}
	if p.PortKey == "" {
		p.PortKey = "port"
	}
	if p.BindKey == "" {
		p.BindKey = "bind"
	}
	if p.DataDirKey == "" {
		p.DataDirKey = "dir"
	}
	if p.Format == "" {
		p.Format = FormatSpace
	}
	if p.CommentPrefix == "" {
		p.CommentPrefix = "#"
	}
	if p.Group == "" {
		p.Group = p.User
	}
	if p.Secrets != nil && p.Secrets.Include == "" {
		p.Secrets.Include = "include {secrets_path}"
	}
	return p
}

// InstancesDir is where instance config files live.
func (p Package) InstancesDir() string {
	if p.InstancesSubdir {
		return filepath.Join(p.ConfigDir, "instances")
	}
	return p.ConfigDir
}

// ConfigFile returns the instance config path.
func (p Package) ConfigFile(instance string) string {
	return filepath.Join(p.InstancesDir(), expand(p.ConfigPattern, instance))
}

// SecretsFile returns the instance secrets path, or "" when the package
// keeps no separate secrets file.
func (p Package) SecretsFile(instance string) string {
	if p.Secrets == nil || p.Secrets.FilePattern == "" {
		return ""
	}
	return filepath.Join(p.InstancesDir(), expand(p.Secrets.FilePattern, instance))
}

// DataPath returns the instance data directory.
func (p Package) DataPath(instance string) string {
	return filepath.Join(p.DataDir, instance)
}

// IncludeLine returns the directive that pulls the secrets file into the
// instance config.
func (p Package) IncludeLine(secretsPath string) string {
	if p.Secrets == nil {
		return ""
	}
	return fasttemplate.ExecuteStringStd(p.Secrets.Include, "{", "}", map[string]interface{}{
		"secrets_path": secretsPath,
	})
}

// Port returns the port an instance listens on: the identifier when it is
// numeric, else the package default.
func (p Package) Port(instance string) int {
	if port, err := strconv.Atoi(instance); err == nil && port > 0 && port <= 65535 {
		return port
	}
	return p.DefaultPort
}

// UnitTemplate returns the naming template of the package's units.
func (p Package) UnitTemplate() types.UnitTemplate {
	return types.UnitTemplate{Family: types.FamilyService, Package: p.Name, Prefix: p.Template}
}

func expand(pattern, instance string) string {
	return fasttemplate.ExecuteStringStd(pattern, "{", "}", map[string]interface{}{
		"instance": instance,
	})
}

// BuiltinPackages returns the packages known without configuration.
func BuiltinPackages() []Package {
	return []Package{
		{
			Name:           "valkey",
			Template:       "valkey-server@",
			ConfigDir:      "/etc/valkey",
			DataDir:        "/var/lib/valkey",
			ConfigPattern:  "valkey-{instance}.conf",
			DefaultService: "valkey-server.service",
			DefaultConfig:  "/etc/valkey/valkey.conf",
			Secrets: &Secrets{
				Keys:        []string{"requirepass", "masterauth"},
				FilePattern: "valkey-{instance}.secrets",
			},
			User:        "valkey",
			DefaultPort: 6379,
			HealthPing:  true,
		},
		{
			Name:            "redis",
			Template:        "redis-server@",
			ConfigDir:       "/etc/redis",
			DataDir:         "/var/lib/redis",
			InstancesSubdir: true,
			DefaultService:  "redis-server.service",
			DefaultConfig:   "/etc/redis/redis.conf",
			Secrets: &Secrets{
				Keys:        []string{"requirepass", "masterauth"},
				FilePattern: "{instance}.secrets",
			},
			User:        "redis",
			DefaultPort: 6379,
			HealthPing:  true,
		},
	}
}

// ParsePackages decodes a YAML document of the form `packages: [...]`.
func ParsePackages(data []byte) ([]Package, error) {
	var doc struct {
		Packages []Package `yaml:"packages"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfigParse, "Failed to parse package definitions", err)
	}
	return doc.Packages, nil
}

// Registry holds the known service packages by name.
type Registry struct {
	packages map[string]Package
}

// NewRegistry validates packages and applies defaults. Later definitions
// replace earlier ones with the same name.
func NewRegistry(packages ...Package) (*Registry, error) {
	validate := validator.New()
	r := &Registry{packages: make(map[string]Package, len(packages))}
	for _, p := range packages {
		if err := validate.Struct(p); err != nil {
			return nil, apperrors.ConfigValidationError("packages."+p.Name, err.Error())
		}
		r.packages[p.Name] = p.withDefaults()
	}
	return r, nil
}

// Get returns a package by name.
func (r *Registry) Get(name string) (Package, error) {
	p, ok := r.packages[name]
	if !ok {
		return Package{}, apperrors.NewWithDetails(apperrors.ErrNotFound, "Unknown service package",
			fmt.Sprintf("Package: %s, available: %v", name, r.Names()))
	}
	return p, nil
}

// Names returns the registered package names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.packages))
	for name := range r.packages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Templates returns the unit templates of every package, sorted by name.
func (r *Registry) Templates() []types.UnitTemplate {
	var out []types.UnitTemplate
	for _, name := range r.Names() {
		out = append(out, r.packages[name].UnitTemplate())
	}
	return out
}
