// Package quadlet renders podman quadlet container templates and writes
// them only when their content changes.
package quadlet

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/valyala/fasttemplate"

	apperrors "hostfleet/internal/errors"
	"hostfleet/internal/types"
)

// InstancePlaceholder is substituted by the init system, never by us.
const InstancePlaceholder = "%i"

// HealthCheck maps to the quadlet Health* keys.
type HealthCheck struct {
	Command     string
	Interval    string
	Timeout     string
	StartPeriod string
	Retries     int
}

// UnitSpec is the desired content of one family's template unit.
type UnitSpec struct {
	Description      string
	Image            string
	ContainerName    string
	Exec             string
	Network          string
	Environment      map[string]string
	EnvironmentFiles []string
	// Secrets maps a podman secret name to the environment variable it is
	// exposed as.
	Secrets     map[string]string
	Volumes     []string
	PodmanArgs  []string
	Health      *HealthCheck
	After       []string
	Wants       []string
	Restart     string
	TimeoutStop string
	WantedBy    string
	// Vars expands {{name}} tags in every value. Unknown tags are kept.
	Vars map[string]string
}

// Render produces the quadlet text for a container family. It is a pure
// function of its inputs: map-valued settings are emitted sorted by key.
func Render(family types.Family, spec UnitSpec) (string, error) {
	if !family.IsContainer() {
		return "", apperrors.InvalidInput(fmt.Sprintf("family %s has no container unit", family))
	}
	if spec.Image == "" {
		return "", apperrors.InvalidInput("unit image is required")
	}

	w := &unitWriter{vars: spec.Vars}

	w.section("Unit")
	description := spec.Description
	if description == "" {
		description = family.Short() + " container " + InstancePlaceholder
	}
	w.kv("Description", description)
	after := spec.After
	if len(after) == 0 {
		after = []string{"local-fs.target", "network-online.target"}
	}
	w.kv("After", strings.Join(after, " "))
	wants := spec.Wants
	if len(wants) == 0 {
		wants = []string{"network-online.target"}
	}
	w.kv("Wants", strings.Join(wants, " "))

	w.section("Container")
	w.kv("Image", spec.Image)
	w.kv("ContainerName", spec.ContainerName)
	w.kv("Exec", spec.Exec)
	w.kv("Network", spec.Network)
	for _, key := range sortedKeys(spec.Environment) {
		w.kv("Environment", key+"="+spec.Environment[key])
	}
	for _, file := range spec.EnvironmentFiles {
		w.kv("EnvironmentFile", file)
	}
	for _, name := range sortedKeys(spec.Secrets) {
		w.kv("Secret", fmt.Sprintf("%s,type=env,target=%s", name, spec.Secrets[name]))
	}
	for _, volume := range spec.Volumes {
		w.kv("Volume", volume)
	}
	if h := spec.Health; h != nil && h.Command != "" {
		w.kv("HealthCmd", h.Command)
		w.kv("HealthInterval", h.Interval)
		w.kv("HealthTimeout", h.Timeout)
		w.kv("HealthStartPeriod", h.StartPeriod)
		if h.Retries > 0 {
			w.kv("HealthRetries", strconv.Itoa(h.Retries))
		}
	}
	for _, arg := range spec.PodmanArgs {
		w.kv("PodmanArgs", arg)
	}

	w.section("Service")
	restart := spec.Restart
	if restart == "" {
		restart = "on-failure"
	}
	w.kv("Restart", restart)
	w.kv("TimeoutStopSec", spec.TimeoutStop)

	w.section("Install")
	wantedBy := spec.WantedBy
	if wantedBy == "" {
		wantedBy = "multi-user.target"
	}
	w.kv("WantedBy", wantedBy)

	return w.String(), nil
}

type unitWriter struct {
	b    strings.Builder
	vars map[string]string
}

func (w *unitWriter) section(name string) {
	if w.b.Len() > 0 {
		w.b.WriteString("\n")
	}
	w.b.WriteString("[" + name + "]\n")
}

// kv writes key=value, skipping empty values.
func (w *unitWriter) kv(key, value string) {
	if value == "" {
		return
	}
	w.b.WriteString(key + "=" + w.expand(value) + "\n")
}

func (w *unitWriter) expand(value string) string {
	if len(w.vars) == 0 || !strings.Contains(value, "{{") {
		return value
	}
	expanded, err := fasttemplate.ExecuteFuncStringWithErr(value, "{{", "}}", func(out io.Writer, tag string) (int, error) {
		if v, ok := w.vars[strings.TrimSpace(tag)]; ok {
			return out.Write([]byte(v))
		}
		return out.Write([]byte("{{" + tag + "}}"))
	})
	if err != nil {
		// unterminated tag
		return value
	}
	return expanded
}

func (w *unitWriter) String() string {
	return w.b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
