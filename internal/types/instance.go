// Package types provides the instance data model shared by discovery,
// orchestration and the timeline store.
package types

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Family is the category of an instance. All instances of one family share
// a single unit template.
type Family string

const (
	FamilyWeb       Family = "container-web"
	FamilyWorker    Family = "container-worker"
	FamilyScheduler Family = "container-scheduler"
	FamilyService   Family = "service-package"
)

// Families lists every family in display order.
var Families = []Family{FamilyWeb, FamilyWorker, FamilyScheduler, FamilyService}

// ContainerFamilies lists the families backed by container units.
var ContainerFamilies = []Family{FamilyWeb, FamilyWorker, FamilyScheduler}

// IsContainer reports whether the family is backed by a container unit.
func (f Family) IsContainer() bool {
	switch f {
	case FamilyWeb, FamilyWorker, FamilyScheduler:
		return true
	default:
		return false
	}
}

// Short returns the CLI name of the family (web, worker, scheduler, service).
func (f Family) Short() string {
	switch f {
	case FamilyWeb:
		return "web"
	case FamilyWorker:
		return "worker"
	case FamilyScheduler:
		return "scheduler"
	case FamilyService:
		return "service"
	default:
		return string(f)
	}
}

// ParseFamily accepts either the full family name or its short form.
func ParseFamily(s string) (Family, error) {
	for _, f := range Families {
		if s == string(f) || s == f.Short() {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown family %q (expected web, worker, scheduler or service)", s)
}

// InstanceRef identifies one instance. Package is only set for the
// service-package family, where it qualifies the identifier.
type InstanceRef struct {
	Family     Family `json:"family" db:"family"`
	Package    string `json:"package,omitempty" db:"package"`
	Identifier string `json:"identifier" db:"identifier"`
}

// Key returns the primary key of the instance.
func (r InstanceRef) Key() string {
	if r.Package != "" {
		return string(r.Family) + "/" + r.Package + "/" + r.Identifier
	}
	return string(r.Family) + "/" + r.Identifier
}

func (r InstanceRef) String() string {
	if r.Package != "" {
		return r.Package + "@" + r.Identifier
	}
	return r.Family.Short() + "@" + r.Identifier
}

// Validate checks that the reference can be substituted into a unit name.
func (r InstanceRef) Validate() error {
	if r.Identifier == "" {
		return fmt.Errorf("instance identifier cannot be empty")
	}
	if strings.ContainsAny(r.Identifier, "@/ \t\n") {
		return fmt.Errorf("invalid instance identifier %q", r.Identifier)
	}
	if r.Family == FamilyService && r.Package == "" {
		return fmt.Errorf("service-package instance %q requires a package", r.Identifier)
	}
	if r.Family == FamilyWeb {
		port, err := strconv.Atoi(r.Identifier)
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("web instance identifier must be a port number, got %q", r.Identifier)
		}
	}
	return nil
}

// InstanceState is observed from the init system on every query and never
// cached.
type InstanceState struct {
	Defined bool `json:"defined"`
	Active  bool `json:"active"`
	Enabled bool `json:"enabled"`
}

// Instance pairs a reference with its observed state.
type Instance struct {
	InstanceRef
	Unit  string        `json:"unit"`
	State InstanceState `json:"state"`
}

// LessIdentifier orders numeric identifiers ascending before non-numeric
// ones, which are ordered lexically.
func LessIdentifier(a, b string) bool {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		if na != nb {
			return na < nb
		}
		return a < b
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}

// SortRefs sorts references by family, package, then identifier.
func SortRefs(refs []InstanceRef) {
	sort.SliceStable(refs, func(i, j int) bool {
		return lessRef(refs[i], refs[j])
	})
}

// SortInstances sorts instances the same way as SortRefs.
func SortInstances(instances []Instance) {
	sort.SliceStable(instances, func(i, j int) bool {
		return lessRef(instances[i].InstanceRef, instances[j].InstanceRef)
	})
}

func lessRef(a, b InstanceRef) bool {
	if a.Family != b.Family {
		return familyRank(a.Family) < familyRank(b.Family)
	}
	if a.Package != b.Package {
		return a.Package < b.Package
	}
	return LessIdentifier(a.Identifier, b.Identifier)
}

func familyRank(f Family) int {
	for i, known := range Families {
		if f == known {
			return i
		}
	}
	return len(Families)
}

// UnitTemplate names the parametrized unit shared by every instance of one
// family (or one service package). Prefix includes the trailing "@".
type UnitTemplate struct {
	Family  Family
	Package string
	Prefix  string
}

// Unit returns the instance unit name for an identifier.
func (t UnitTemplate) Unit(identifier string) string {
	return t.Prefix + identifier + ".service"
}

// Pattern returns the glob matching every instance unit of the template.
func (t UnitTemplate) Pattern() string {
	return t.Prefix + "*"
}

// Identifier extracts the instance identifier from a unit name.
func (t UnitTemplate) Identifier(unit string) (string, bool) {
	if !strings.HasPrefix(unit, t.Prefix) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(unit, t.Prefix), ".service")
	if id == "" || strings.Contains(id, ".") {
		return "", false
	}
	return id, true
}

// Ref builds the reference of one instance of the template.
func (t UnitTemplate) Ref(identifier string) InstanceRef {
	return InstanceRef{Family: t.Family, Package: t.Package, Identifier: identifier}
}
