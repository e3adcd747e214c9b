// Package discovery lists instances from the init system's unit namespace.
// Nothing is cached: every call reflects the current host state.
package discovery

import (
	"context"
	"iter"

	apperrors "hostfleet/internal/errors"
	"hostfleet/internal/systemd"
	"hostfleet/internal/types"
)

// Selector narrows discovery. The zero value selects every template.
type Selector struct {
	Family      types.Family
	Package     string
	RunningOnly bool
}

// FamilySelectors returns one selector per container family, in family
// order.
func FamilySelectors(runningOnly bool) []Selector {
	sels := make([]Selector, 0, len(types.ContainerFamilies))
	for _, f := range types.ContainerFamilies {
		sels = append(sels, Selector{Family: f, RunningOnly: runningOnly})
	}
	return sels
}

// Discoverer resolves instances for a fixed set of unit templates.
type Discoverer struct {
	systemd   *systemd.Client
	templates []types.UnitTemplate
}

// New creates a Discoverer over the given templates.
func New(sd *systemd.Client, templates []types.UnitTemplate) *Discoverer {
	return &Discoverer{systemd: sd, templates: templates}
}

// Templates returns the templates matched by sel.
func (d *Discoverer) Templates(sel Selector) ([]types.UnitTemplate, error) {
	var out []types.UnitTemplate
	for _, t := range d.templates {
		if sel.Family != "" && t.Family != sel.Family {
			continue
		}
		if sel.Package != "" && t.Package != sel.Package {
			continue
		}
		out = append(out, t)
	}
	if len(out) == 0 && sel.Package != "" {
		return nil, apperrors.NotFound("service package", sel.Package)
	}
	return out, nil
}

type candidate struct {
	ref  types.InstanceRef
	unit systemd.Unit
}

// All returns a sequence of instances ordered by family, package and
// identifier. Unit listings are fetched when iteration starts; each
// instance's active and enabled flags are queried as it is yielded.
// The sequence can be iterated again to get a fresh view.
func (d *Discoverer) All(ctx context.Context, sel Selector) iter.Seq2[types.Instance, error] {
	return func(yield func(types.Instance, error) bool) {
		candidates, err := d.list(ctx, sel)
		if err != nil {
			yield(types.Instance{}, err)
			return
		}

		for _, c := range candidates {
			inst, err := d.observe(ctx, c)
			if err != nil {
				yield(types.Instance{}, err)
				return
			}
			if sel.RunningOnly && !inst.State.Active {
				continue
			}
			if !yield(inst, nil) {
				return
			}
		}
	}
}

// Discover collects All into a slice.
func (d *Discoverer) Discover(ctx context.Context, sel Selector) ([]types.Instance, error) {
	var out []types.Instance
	for inst, err := range d.All(ctx, sel) {
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

// Refs returns the references of the discovered instances.
func (d *Discoverer) Refs(ctx context.Context, sel Selector) ([]types.InstanceRef, error) {
	instances, err := d.Discover(ctx, sel)
	if err != nil {
		return nil, err
	}
	refs := make([]types.InstanceRef, len(instances))
	for i, inst := range instances {
		refs[i] = inst.InstanceRef
	}
	return refs, nil
}

// Observe queries the state of a single instance, whether or not it is
// currently listed by the init system.
func (d *Discoverer) Observe(ctx context.Context, tmpl types.UnitTemplate, identifier string) (types.Instance, error) {
	name := tmpl.Unit(identifier)
	units, err := d.systemd.ListUnits(ctx, name)
	if err != nil {
		return types.Instance{}, err
	}
	c := candidate{ref: tmpl.Ref(identifier), unit: systemd.Unit{Name: name, Load: "not-found"}}
	if len(units) > 0 {
		c.unit = units[0]
	}
	return d.observe(ctx, c)
}

func (d *Discoverer) list(ctx context.Context, sel Selector) ([]candidate, error) {
	templates, err := d.Templates(sel)
	if err != nil {
		return nil, err
	}

	var candidates []candidate
	for _, t := range templates {
		units, err := d.systemd.ListUnits(ctx, t.Pattern())
		if err != nil {
			return nil, err
		}
		for _, u := range units {
			id, ok := t.Identifier(u.Name)
			if !ok {
				continue
			}
			candidates = append(candidates, candidate{ref: t.Ref(id), unit: u})
		}
	}

	refs := make([]types.InstanceRef, len(candidates))
	byKey := make(map[string]candidate, len(candidates))
	for i, c := range candidates {
		refs[i] = c.ref
		byKey[c.ref.Key()] = c
	}
	types.SortRefs(refs)

	sorted := make([]candidate, 0, len(refs))
	for _, r := range refs {
		sorted = append(sorted, byKey[r.Key()])
	}
	return sorted, nil
}

func (d *Discoverer) observe(ctx context.Context, c candidate) (types.Instance, error) {
	inst := types.Instance{InstanceRef: c.ref, Unit: c.unit.Name}
	inst.State.Defined = c.unit.Loaded()

	active, err := d.systemd.IsActive(ctx, c.unit.Name)
	if err != nil {
		return inst, err
	}
	enabled, err := d.systemd.IsEnabled(ctx, c.unit.Name)
	if err != nil {
		return inst, err
	}
	inst.State.Active = active
	inst.State.Enabled = enabled
	return inst, nil
}
