package orchestrator

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	apperrors "hostfleet/internal/errors"
	"hostfleet/internal/health"
	"hostfleet/internal/logger"
	"hostfleet/internal/materialize"
	"hostfleet/internal/podman"
	"hostfleet/internal/quadlet"
	"hostfleet/internal/types"
)

// handler applies a batch operation to one instance of a family. It
// returns the steps it performed.
type handler interface {
	apply(ctx context.Context, b *batch, ref types.InstanceRef) ([]string, error)
	plan(op types.Operation, ref types.InstanceRef, b *batch) []string
}

func (o *Orchestrator) handlerFor(f types.Family) handler {
	switch f {
	case types.FamilyWeb, types.FamilyWorker, types.FamilyScheduler:
		return containerHandler{o}
	case types.FamilyService:
		return serviceHandler{o}
	default:
		panic(fmt.Sprintf("orchestrator: unhandled family %q", f))
	}
}

// steps accumulates the performed steps of one target.
type steps []string

func (s *steps) add(format string, args ...interface{}) {
	*s = append(*s, fmt.Sprintf(format, args...))
}

func joinSteps(s []string) string {
	return strings.Join(s, "; ")
}

// isGenerated matches systemctl refusing to enable or disable units
// produced by a generator such as quadlet.
func isGenerated(err error) bool {
	return err != nil && strings.Contains(err.Error(), "transient or generated")
}

type containerHandler struct {
	o *Orchestrator
}

func (h containerHandler) template(f types.Family) types.UnitTemplate {
	return types.UnitTemplate{Family: f, Prefix: h.o.cfg.Container(f).Unit}
}

func (h containerHandler) apply(ctx context.Context, b *batch, ref types.InstanceRef) ([]string, error) {
	o := h.o
	unit := h.template(ref.Family).Unit(ref.Identifier)
	var done steps

	switch b.op {
	case types.OpDeploy:
		if err := h.prepare(ctx, b, ref.Family); err != nil {
			return done, err
		}
		inst, err := o.discovery.Observe(ctx, h.template(ref.Family), ref.Identifier)
		if err != nil {
			return done, err
		}
		if b.opts.Exclusive && inst.State.Defined {
			return done, apperrors.DuplicateInstance(unit)
		}
		if inst.State.Active {
			done.add("already active")
		} else {
			if err := o.systemd.Start(ctx, unit); err != nil {
				return done, err
			}
			done.add("started %s", unit)
		}
		if err := h.enable(ctx, unit, &done); err != nil {
			return done, err
		}

	case types.OpRedeploy:
		if err := h.prepare(ctx, b, ref.Family); err != nil {
			return done, err
		}
		if b.opts.Force {
			active, err := o.systemd.IsActive(ctx, unit)
			if err != nil {
				return done, err
			}
			if active {
				if err := o.systemd.Stop(ctx, unit); err != nil {
					return done, err
				}
				done.add("stopped %s", unit)
			}
			if err := o.systemd.Start(ctx, unit); err != nil {
				return done, err
			}
			done.add("started %s", unit)
			break
		}
		exists, err := o.podman.ContainerExists(ctx, podman.ContainerName(unit))
		if err != nil {
			return done, err
		}
		if exists {
			if err := o.systemd.Restart(ctx, unit); err != nil {
				return done, err
			}
			done.add("restarted %s", unit)
		} else {
			if err := o.systemd.Start(ctx, unit); err != nil {
				return done, err
			}
			done.add("started %s", unit)
		}

	case types.OpUndeploy:
		if err := stopIfActive(ctx, o, unit, &done); err != nil {
			return done, err
		}
		if err := o.systemd.Disable(ctx, unit); err != nil && !isGenerated(err) {
			return done, err
		}
		done.add("disabled %s", unit)

	case types.OpEnable:
		if err := h.enable(ctx, unit, &done); err != nil {
			return done, err
		}

	default:
		if err := control(ctx, o, b.op, unit, &done); err != nil {
			return done, err
		}
	}
	return done, nil
}

func (h containerHandler) enable(ctx context.Context, unit string, done *steps) error {
	err := h.o.systemd.Enable(ctx, unit)
	switch {
	case err == nil:
		done.add("enabled %s", unit)
	case isGenerated(err):
		done.add("enable skipped for generated unit")
	default:
		return err
	}
	return nil
}

// prepare writes the family's unit template once per batch, reloading the
// init system only when it changed, and syncs static assets for web.
func (h containerHandler) prepare(ctx context.Context, b *batch, f types.Family) error {
	if err, ok := b.prepared[f]; ok {
		return err
	}
	err := h.writeTemplate(ctx, b, f)
	if err == nil && f == types.FamilyWeb && h.o.cfg.Assets.Enabled && !b.opts.SkipAssets {
		_, err = h.o.podman.SyncAssets(ctx, podman.AssetSync{
			Image:    b.imageRef(),
			Volume:   h.o.cfg.Assets.Volume,
			Source:   h.o.cfg.Assets.Source,
			Manifest: h.o.cfg.Assets.Manifest,
		})
	}
	b.prepared[f] = err
	return err
}

func (h containerHandler) writeTemplate(ctx context.Context, b *batch, f types.Family) error {
	o := h.o
	text, err := quadlet.Render(f, o.cfg.UnitSpec(f, b.imageRef()))
	if err != nil {
		return err
	}
	path := o.cfg.QuadletPath(f)
	written, err := quadlet.WriteIfChanged(path, text)
	if err != nil {
		return err
	}
	log := logger.WithContext(ctx).WithField("path", path)
	if !written {
		log.Debug("Unit template unchanged")
		return nil
	}
	log.Info("Unit template written")
	return o.systemd.DaemonReload(ctx)
}

func (h containerHandler) plan(op types.Operation, ref types.InstanceRef, b *batch) []string {
	unit := h.template(ref.Family).Unit(ref.Identifier)
	path := h.o.cfg.QuadletPath(ref.Family)
	switch op {
	case types.OpDeploy:
		p := []string{"write " + path + " for " + b.imageRef()}
		if ref.Family == types.FamilyWeb && h.o.cfg.Assets.Enabled && !b.opts.SkipAssets {
			p = append(p, "sync assets into volume "+h.o.cfg.Assets.Volume)
		}
		return append(p, "start "+unit+" unless active", "enable "+unit)
	case types.OpRedeploy:
		if b.opts.Force {
			return []string{"write " + path + " for " + b.imageRef(), "stop " + unit, "start " + unit}
		}
		return []string{"write " + path + " for " + b.imageRef(), "restart or start " + unit}
	case types.OpUndeploy:
		return []string{"stop " + unit, "disable " + unit}
	default:
		return []string{string(op) + " " + unit}
	}
}

type serviceHandler struct {
	o *Orchestrator
}

func (h serviceHandler) apply(ctx context.Context, b *batch, ref types.InstanceRef) ([]string, error) {
	o := h.o
	var done steps

	pkg, err := o.registry.Get(ref.Package)
	if err != nil {
		return done, err
	}
	unit := pkg.UnitTemplate().Unit(ref.Identifier)

	switch b.op {
	case types.OpDeploy:
		if b.opts.Exclusive && o.materializer.Exists(pkg, ref.Identifier) {
			return done, apperrors.DuplicateInstance(unit)
		}
		art, err := o.materializer.Init(pkg, ref.Identifier, b.opts.Materialize)
		switch {
		case err == nil:
			done.add("materialized %s", art.ConfigPath)
		case apperrors.HasCode(err, apperrors.ErrAlreadyInitialized):
			done.add("config exists")
		default:
			return done, err
		}
		h.warnDefaultService(ctx, pkg, ref.Identifier, b.opts.Materialize.Port)
		if err := o.systemd.Enable(ctx, unit); err != nil {
			return done, err
		}
		done.add("enabled %s", unit)
		if err := o.systemd.Start(ctx, unit); err != nil {
			return done, err
		}
		done.add("started %s", unit)
		if err := h.probe(ctx, b, pkg, ref.Identifier, &done); err != nil {
			return done, err
		}

	case types.OpRedeploy:
		_, err := o.materializer.Reconfigure(pkg, ref.Identifier, b.opts.Materialize)
		if apperrors.HasCode(err, apperrors.ErrNotFound) {
			_, err = o.materializer.Init(pkg, ref.Identifier, b.opts.Materialize)
		}
		if err != nil {
			return done, err
		}
		done.add("reconfigured %s", pkg.ConfigFile(ref.Identifier))
		if err := o.systemd.Restart(ctx, unit); err != nil {
			return done, err
		}
		done.add("restarted %s", unit)
		if err := h.probe(ctx, b, pkg, ref.Identifier, &done); err != nil {
			return done, err
		}

	case types.OpUndeploy:
		if err := stopIfActive(ctx, o, unit, &done); err != nil {
			return done, err
		}
		if err := o.systemd.Disable(ctx, unit); err != nil {
			return done, err
		}
		done.add("disabled %s", unit)
		if err := o.materializer.Remove(pkg, ref.Identifier); err != nil {
			return done, err
		}
		done.add("removed config")

	case types.OpStart, types.OpRestart:
		if err := control(ctx, o, b.op, unit, &done); err != nil {
			return done, err
		}
		if err := h.probe(ctx, b, pkg, ref.Identifier, &done); err != nil {
			return done, err
		}

	default:
		if err := control(ctx, o, b.op, unit, &done); err != nil {
			return done, err
		}
	}
	return done, nil
}

// warnDefaultService logs when the package's stock service is running on
// the port this instance is about to use.
func (h serviceHandler) warnDefaultService(ctx context.Context, pkg materialize.Package, instance string, port int) {
	if pkg.DefaultService == "" {
		return
	}
	if port == 0 {
		port = pkg.Port(instance)
	}
	if port != pkg.DefaultPort {
		return
	}
	active, err := h.o.systemd.IsActive(ctx, pkg.DefaultService)
	if err != nil || !active {
		return
	}
	logger.WithContext(ctx).WithFields(logger.Fields{
		"service": pkg.DefaultService,
		"port":    port,
	}).Warn("Default service is active on the same port; stop and disable it first")
}

func (h serviceHandler) probe(ctx context.Context, b *batch, pkg materialize.Package, instance string, done *steps) error {
	if !b.opts.HealthCheck || !pkg.HealthPing || h.o.probe == nil {
		return nil
	}
	port := b.opts.Materialize.Port
	if port == 0 {
		if v, ok := h.o.materializer.Setting(pkg, instance, pkg.PortKey); ok {
			port, _ = strconv.Atoi(v)
		}
	}
	if port == 0 {
		port = pkg.Port(instance)
	}
	if port == 0 {
		return nil
	}
	addr := net.JoinHostPort(h.pingHost(pkg, instance, b.opts.Materialize.Bind), strconv.Itoa(port))
	if err := h.o.probe(ctx, addr, h.password(pkg, instance, b.opts.Materialize.Secrets)); err != nil {
		return err
	}
	done.add("answered PING on %s", addr)
	return nil
}

// pingHost picks the first configured bind address, mapping wildcards and
// a missing bind to loopback.
func (h serviceHandler) pingHost(pkg materialize.Package, instance, bind string) string {
	if bind == "" {
		bind, _ = h.o.materializer.Setting(pkg, instance, pkg.BindKey)
	}
	host := "127.0.0.1"
	if fields := strings.Fields(bind); len(fields) > 0 {
		host = strings.TrimPrefix(fields[0], "-")
	}
	if host == "0.0.0.0" || host == "::" || host == "*" {
		host = "127.0.0.1"
	}
	return host
}

// password returns requirepass from the batch options, then from the
// instance secrets file, then from the instance config.
func (h serviceHandler) password(pkg materialize.Package, instance string, secrets map[string]string) string {
	if pass := secrets["requirepass"]; pass != "" {
		return pass
	}
	if pass, ok := h.o.materializer.Secret(pkg, instance, "requirepass"); ok {
		return pass
	}
	pass, _ := h.o.materializer.Setting(pkg, instance, "requirepass")
	return pass
}

func (h serviceHandler) plan(op types.Operation, ref types.InstanceRef, b *batch) []string {
	pkg, err := h.o.registry.Get(ref.Package)
	if err != nil {
		return []string{err.Error()}
	}
	unit := pkg.UnitTemplate().Unit(ref.Identifier)
	switch op {
	case types.OpDeploy:
		return []string{"materialize " + pkg.ConfigFile(ref.Identifier), "enable " + unit, "start " + unit}
	case types.OpRedeploy:
		return []string{"reconfigure " + pkg.ConfigFile(ref.Identifier), "restart " + unit}
	case types.OpUndeploy:
		return []string{"stop " + unit, "disable " + unit, "remove " + pkg.ConfigFile(ref.Identifier)}
	default:
		return []string{string(op) + " " + unit}
	}
}

func stopIfActive(ctx context.Context, o *Orchestrator, unit string, done *steps) error {
	active, err := o.systemd.IsActive(ctx, unit)
	if err != nil {
		return err
	}
	if !active {
		done.add("already stopped")
		return nil
	}
	if err := o.systemd.Stop(ctx, unit); err != nil {
		return err
	}
	done.add("stopped %s", unit)
	return nil
}

// control runs the plain unit operations shared by every family.
func control(ctx context.Context, o *Orchestrator, op types.Operation, unit string, done *steps) error {
	var err error
	switch op {
	case types.OpStart:
		err = o.systemd.Start(ctx, unit)
	case types.OpStop:
		err = o.systemd.Stop(ctx, unit)
	case types.OpRestart:
		err = o.systemd.Restart(ctx, unit)
	case types.OpEnable:
		err = o.systemd.Enable(ctx, unit)
	case types.OpDisable:
		err = o.systemd.Disable(ctx, unit)
		if isGenerated(err) {
			err = nil
		}
	default:
		return apperrors.InvalidInput(fmt.Sprintf("operation %s is not supported here", op))
	}
	if err != nil {
		return err
	}
	done.add("%s %s", op, unit)
	return nil
}

func redisProbe(ctx context.Context, addr, password string) error {
	return health.Probe{Addr: addr, Password: password}.Check(ctx)
}
