package materialize

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"hostfleet/internal/constants"
	apperrors "hostfleet/internal/errors"
	"hostfleet/internal/logger"
)

// Step names one stage of Init, in execution order.
type Step string

const (
	StepInstancesDir Step = "instances-dir"
	StepCopyDefault  Step = "copy-default"
	StepPort         Step = "port"
	StepBind         Step = "bind"
	StepDataDirKey   Step = "data-dir-key"
	StepDataDir      Step = "data-dir"
	StepSecrets      Step = "secrets"
	StepInclude      Step = "include"
)

const (
	instancesDirMode os.FileMode = constants.DirPermissions
	dataDirMode      os.FileMode = 0o750
	configMode       os.FileMode = constants.FilePermissions
	secretsMode      os.FileMode = constants.SecureFilePermissions
)

// InitOptions controls Init and Reconfigure.
type InitOptions struct {
	// Port defaults to the numeric identifier, then the package default.
	Port        int
	Bind        string
	WithSecrets bool
	// Secrets are written to a newly created secrets file.
	Secrets map[string]string
}

// Artifact describes the files of one instance and which Init steps
// completed.
type Artifact struct {
	ConfigPath  string `json:"config_path"`
	SecretsPath string `json:"secrets_path,omitempty"`
	DataDir     string `json:"data_dir"`
	Completed   []Step `json:"completed"`
}

func (a *Artifact) complete(step Step) {
	a.Completed = append(a.Completed, step)
}

// Materializer writes instance configs. Ownership is only applied when
// running as root; failures to chown are ignored.
type Materializer struct {
	chownEnabled bool
}

// New creates a Materializer.
func New() *Materializer {
	return &Materializer{chownEnabled: os.Geteuid() == 0}
}

// Exists reports whether the instance config file exists.
func (m *Materializer) Exists(pkg Package, instance string) bool {
	_, err := os.Stat(pkg.ConfigFile(instance))
	return err == nil
}

// Init creates the instance config from the package default. An existing
// instance config is never touched: Init returns ErrAlreadyInitialized.
// A failing step returns ErrPartialMaterialization naming the step; the
// returned Artifact lists the steps that completed before it.
func (m *Materializer) Init(pkg Package, instance string, opts InitOptions) (*Artifact, error) {
	art := &Artifact{ConfigPath: pkg.ConfigFile(instance), DataDir: pkg.DataPath(instance)}
	fail := func(step Step, err error) (*Artifact, error) {
		return art, apperrors.PartialMaterialization(pkg.Name+"@"+instance, string(step), err).
			WithContext("completed", art.Completed)
	}

	if err := m.ensureDir(pkg, pkg.InstancesDir(), instancesDirMode); err != nil {
		return fail(StepInstancesDir, err)
	}
	art.complete(StepInstancesDir)

	if _, err := os.Stat(art.ConfigPath); err == nil {
		return art, apperrors.AlreadyInitialized(art.ConfigPath)
	}

	if err := m.copyDefault(pkg, art.ConfigPath); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return art, apperrors.AlreadyInitialized(art.ConfigPath)
		}
		return fail(StepCopyDefault, err)
	}
	art.complete(StepCopyDefault)

	for _, s := range m.keySteps(pkg, instance, opts, false) {
		if err := m.setKey(pkg, art.ConfigPath, s.key, s.value); err != nil {
			return fail(s.step, err)
		}
		art.complete(s.step)
	}

	if err := m.ensureDir(pkg, art.DataDir, dataDirMode); err != nil {
		return fail(StepDataDir, err)
	}
	art.complete(StepDataDir)

	if opts.WithSecrets && pkg.Secrets != nil {
		if err := m.secrets(pkg, instance, opts, art, fail); err != nil {
			return art, err
		}
	}

	logger.WithFields(logger.Fields{
		"package":  pkg.Name,
		"instance": instance,
		"config":   art.ConfigPath,
	}).Info("Materialized instance config")
	return art, nil
}

// Reconfigure re-applies the instance-scoped keys to an existing config and
// ensures the secrets include when requested. Port and bind are only
// rewritten when given in opts; otherwise the values chosen at deploy
// time stay in place.
func (m *Materializer) Reconfigure(pkg Package, instance string, opts InitOptions) (*Artifact, error) {
	art := &Artifact{ConfigPath: pkg.ConfigFile(instance), DataDir: pkg.DataPath(instance)}
	if !m.Exists(pkg, instance) {
		return art, apperrors.NotFound("instance config", art.ConfigPath)
	}
	fail := func(step Step, err error) (*Artifact, error) {
		return art, apperrors.PartialMaterialization(pkg.Name+"@"+instance, string(step), err)
	}

	for _, s := range m.keySteps(pkg, instance, opts, true) {
		if err := m.setKey(pkg, art.ConfigPath, s.key, s.value); err != nil {
			return fail(s.step, err)
		}
		art.complete(s.step)
	}
	if err := m.ensureDir(pkg, art.DataDir, dataDirMode); err != nil {
		return fail(StepDataDir, err)
	}
	art.complete(StepDataDir)

	if opts.WithSecrets && pkg.Secrets != nil {
		if err := m.secrets(pkg, instance, opts, art, fail); err != nil {
			return art, err
		}
	}
	return art, nil
}

// Remove deletes the instance config and secrets files. The data
// directory is kept. Missing files are not an error.
func (m *Materializer) Remove(pkg Package, instance string) error {
	paths := []string{pkg.ConfigFile(instance)}
	if secrets := pkg.SecretsFile(instance); secrets != "" {
		paths = append(paths, secrets)
	}
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return apperrors.WrapWithDetails(apperrors.ErrFileWrite, "Failed to remove instance file", "Path: "+path, err)
		}
	}
	return nil
}

type keyStep struct {
	step  Step
	key   string
	value string
}

// keySteps lists the key rewrites for an instance. With explicitOnly set,
// port and bind are left out unless opts names them.
func (m *Materializer) keySteps(pkg Package, instance string, opts InitOptions, explicitOnly bool) []keyStep {
	port := opts.Port
	if port == 0 && !explicitOnly {
		port = pkg.Port(instance)
	}
	bind := opts.Bind
	if bind == "" && !explicitOnly {
		bind = "127.0.0.1"
	}

	var steps []keyStep
	if port > 0 {
		steps = append(steps, keyStep{StepPort, pkg.PortKey, strconv.Itoa(port)})
	}
	if bind != "" {
		steps = append(steps, keyStep{StepBind, pkg.BindKey, bind})
	}
	return append(steps, keyStep{StepDataDirKey, pkg.DataDirKey, pkg.DataPath(instance)})
}

// Setting reads key from the instance config file.
func (m *Materializer) Setting(pkg Package, instance, key string) (string, bool) {
	return readKey(pkg, pkg.ConfigFile(instance), key)
}

// Secret reads key from the instance secrets file.
func (m *Materializer) Secret(pkg Package, instance, key string) (string, bool) {
	path := pkg.SecretsFile(instance)
	if path == "" {
		return "", false
	}
	return readKey(pkg, path, key)
}

func readKey(pkg Package, path, key string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return LookupKey(string(data), key, pkg.Format, pkg.CommentPrefix)
}

func (m *Materializer) setKey(pkg Package, path, key, value string) error {
	return rewriteFile(path, func(content string) string {
		return RewriteKey(content, key, value, pkg.Format, pkg.CommentPrefix)
	})
}

func (m *Materializer) secrets(pkg Package, instance string, opts InitOptions, art *Artifact,
	fail func(Step, error) (*Artifact, error)) error {
	art.SecretsPath = pkg.SecretsFile(instance)

	if err := m.createSecrets(pkg, instance, art.SecretsPath, opts.Secrets); err != nil {
		_, err = fail(StepSecrets, err)
		return err
	}
	art.complete(StepSecrets)

	include := pkg.IncludeLine(art.SecretsPath)
	err := rewriteFile(art.ConfigPath, func(content string) string {
		if include == "" || HasLine(content, include) {
			return content
		}
		return content + "\n# Include secrets file\n" + include + "\n"
	})
	if err != nil {
		_, err = fail(StepInclude, err)
		return err
	}
	art.complete(StepInclude)
	return nil
}

// createSecrets creates the secrets file with its final mode in a single
// open call. An existing secrets file is kept as is.
func (m *Materializer) createSecrets(pkg Package, instance, path string, secrets map[string]string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, secretsMode)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s Secrets for %s instance %s\n\n", pkg.CommentPrefix, pkg.Name, instance)
	keys := make([]string, 0, len(secrets))
	for k := range secrets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k + pkg.Format.Separator() + secrets[k] + "\n")
	}

	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	m.chown(pkg, path)
	return nil
}

func (m *Materializer) copyDefault(pkg Package, dest string) error {
	src, err := os.Open(pkg.DefaultConfig)
	if err != nil {
		if os.IsNotExist(err) {
			return apperrors.MissingPrerequisite(pkg.DefaultConfig).
				WithContext("hint", fmt.Sprintf("is the %s package installed?", pkg.Name))
		}
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, configMode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dest)
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	m.chown(pkg, dest)
	return nil
}

func (m *Materializer) ensureDir(pkg Package, dir string, mode os.FileMode) error {
	if _, err := os.Stat(dir); err == nil {
		return nil
	}
	if err := os.MkdirAll(dir, mode); err != nil {
		return err
	}
	m.chown(pkg, dir)
	return nil
}

func (m *Materializer) chown(pkg Package, path string) {
	if !m.chownEnabled || pkg.User == "" {
		return
	}
	u, err := user.Lookup(pkg.User)
	if err != nil {
		return
	}
	uid, _ := strconv.Atoi(u.Uid)
	gid, _ := strconv.Atoi(u.Gid)
	if g, err := user.LookupGroup(pkg.Group); err == nil {
		gid, _ = strconv.Atoi(g.Gid)
	}
	if err := os.Chown(filepath.Clean(path), uid, gid); err != nil {
		logger.WithError(err).WithField("path", path).Debug("Could not change owner")
	}
}
