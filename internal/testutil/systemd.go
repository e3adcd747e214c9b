package testutil

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"hostfleet/internal/runner"
)

const unavailableStderr = "System has not been booted with systemd as init system (PID 1). Can't operate.\n" +
	"Failed to connect to bus: Host is down"

// FakeUnit is the state the fake init system holds for one unit instance.
type FakeUnit struct {
	Active  bool
	Enabled bool
}

// FakeSystemd is an in-memory init system answering systemctl and
// journalctl through a FakeRunner. Template units are learned from
// "<name>@.container" files in QuadletDir on daemon-reload, or registered
// with AddTemplate. An instance that is neither active nor enabled is
// garbage collected and no longer listed.
type FakeSystemd struct {
	mu         sync.Mutex
	quadletDir string
	templates  map[string]bool
	units      map[string]*FakeUnit

	// FailStart makes start/restart of the named unit fail with this stderr.
	FailStart map[string]string
	// Unavailable makes every systemctl call report a missing init system.
	Unavailable bool
	// Reloads counts daemon-reload calls.
	Reloads int
}

// NewFakeSystemd creates a fake init system reading quadlets from dir.
func NewFakeSystemd(quadletDir string) *FakeSystemd {
	return &FakeSystemd{
		quadletDir: quadletDir,
		templates:  make(map[string]bool),
		units:      make(map[string]*FakeUnit),
		FailStart:  make(map[string]string),
	}
}

// Install registers the fake's handlers on r.
func (s *FakeSystemd) Install(r *FakeRunner) {
	r.Handle("systemctl", s.systemctl)
	r.Handle("journalctl", func(args []string) *runner.Result {
		return OK("-- No entries --\n")
	})
}

// AddTemplate registers a template prefix such as "valkey-server@".
func (s *FakeSystemd) AddTemplate(prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[prefix] = true
}

// SetUnit forces the state of a unit instance.
func (s *FakeSystemd) SetUnit(name string, active, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units[normalize(name)] = &FakeUnit{Active: active, Enabled: enabled}
	s.gc(normalize(name))
}

// Unit returns the state of a unit instance.
func (s *FakeSystemd) Unit(name string) (FakeUnit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.units[normalize(name)]
	if !ok {
		return FakeUnit{}, false
	}
	return *u, true
}

func (s *FakeSystemd) systemctl(args []string) *runner.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Unavailable {
		return Exit(1, unavailableStderr)
	}
	if len(args) == 0 {
		return Exit(1, "too few arguments")
	}

	switch args[0] {
	case "daemon-reload":
		s.Reloads++
		s.scanQuadlets()
		return OK("")
	case "list-units":
		return s.listUnits(args[1])
	case "status":
		unit := normalize(args[len(args)-1])
		if u, ok := s.units[unit]; ok && u.Active {
			return OK(fmt.Sprintf("● %s\n     Active: active (running)\n", unit))
		}
		return &runner.Result{ExitCode: 3, Stdout: fmt.Sprintf("○ %s\n     Active: inactive (dead)\n", unit)}
	}

	if len(args) < 2 {
		return Exit(1, "too few arguments")
	}
	unit := normalize(args[1])

	switch args[0] {
	case "is-active":
		if u, ok := s.units[unit]; ok && u.Active {
			return OK("active\n")
		}
		return &runner.Result{ExitCode: 3, Stdout: "inactive\n"}
	case "is-enabled":
		if u, ok := s.units[unit]; ok && u.Enabled {
			return OK("enabled\n")
		}
		return &runner.Result{ExitCode: 1, Stdout: "disabled\n"}
	case "start", "restart":
		if msg, ok := s.FailStart[unit]; ok {
			return Exit(1, msg)
		}
		if !s.known(unit) {
			return Exit(5, fmt.Sprintf("Failed to %s %s: Unit %s not found.", args[0], unit, unit))
		}
		s.unit(unit).Active = true
	case "stop":
		if !s.known(unit) {
			return Exit(5, fmt.Sprintf("Failed to stop %s: Unit %s not loaded.", unit, unit))
		}
		if u, ok := s.units[unit]; ok {
			u.Active = false
		}
	case "enable":
		if !s.known(unit) {
			return Exit(1, fmt.Sprintf("Failed to enable unit: Unit file %s does not exist.", unit))
		}
		s.unit(unit).Enabled = true
	case "disable":
		if u, ok := s.units[unit]; ok {
			u.Enabled = false
		}
	default:
		return Exit(1, fmt.Sprintf("Unknown command verb '%s'.", args[0]))
	}

	s.gc(unit)
	return OK("")
}

func (s *FakeSystemd) listUnits(pattern string) *runner.Result {
	names := make([]string, 0, len(s.units))
	for name := range s.units {
		if ok, _ := path.Match(pattern, name); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		active, sub := "inactive", "dead"
		if s.units[name].Active {
			active, sub = "active", "running"
		}
		fmt.Fprintf(&b, "%s loaded %s %s %s\n", name, active, sub, strings.TrimSuffix(name, ".service"))
	}
	return OK(b.String())
}

func (s *FakeSystemd) scanQuadlets() {
	if s.quadletDir == "" {
		return
	}
	entries, err := os.ReadDir(s.quadletDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), "@.container") {
			s.templates[strings.TrimSuffix(e.Name(), ".container")] = true
		}
	}
}

func (s *FakeSystemd) known(unit string) bool {
	if _, ok := s.units[unit]; ok {
		return true
	}
	at := strings.Index(unit, "@")
	return at >= 0 && s.templates[unit[:at+1]]
}

func (s *FakeSystemd) unit(name string) *FakeUnit {
	u, ok := s.units[name]
	if !ok {
		u = &FakeUnit{}
		s.units[name] = u
	}
	return u
}

func (s *FakeSystemd) gc(name string) {
	if u, ok := s.units[name]; ok && !u.Active && !u.Enabled {
		delete(s.units, name)
	}
}

func normalize(unit string) string {
	if strings.Contains(unit, ".") {
		return unit
	}
	return unit + ".service"
}
