package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"hostfleet/internal/discovery"
	apperrors "hostfleet/internal/errors"
	"hostfleet/internal/orchestrator"
	"hostfleet/internal/types"
)

// batchFlags are the flags shared by every batch command.
type batchFlags struct {
	delay      time.Duration
	dryRun     bool
	yes        bool
	json       bool
	exclusive  bool
	force      bool
	image      string
	tag        string
	skipAssets bool
	health     bool
	port       int
	bind       string
	secrets    bool
	secret     map[string]string
	lastKnown  bool
}

func (f *batchFlags) register(cmd *cobra.Command, op types.Operation, service bool) {
	flags := cmd.Flags()
	flags.DurationVar(&f.delay, "delay", -1, "Pause between targets (default from config)")
	flags.BoolVar(&f.dryRun, "dry-run", false, "Print the plan without acting")
	flags.BoolVar(&f.json, "json", false, "Print the report as JSON")
	if needsConfirmation(op) {
		flags.BoolVarP(&f.yes, "yes", "y", false, "Do not ask for confirmation")
	}

	if op != types.OpDeploy {
		flags.BoolVar(&f.lastKnown, "last-known", false, "Without identifiers, also target instances the timeline last saw deployed")
	}

	switch op {
	case types.OpDeploy:
		flags.BoolVar(&f.exclusive, "exclusive", false, "Fail targets that are already defined")
	case types.OpRedeploy:
		flags.BoolVar(&f.force, "force", false, "Stop and start instead of restarting")
	}

	if service {
		if op == types.OpDeploy || op == types.OpRedeploy {
			flags.IntVar(&f.port, "port", 0, "Port (default: numeric identifier)")
			flags.StringVar(&f.bind, "bind", "", "Bind address")
		}
		if op == types.OpDeploy {
			flags.BoolVar(&f.secrets, "secrets", false, "Create a secrets file")
			flags.StringToStringVar(&f.secret, "secret", nil, "Secret value for a new secrets file (key=value)")
		}
		if op == types.OpDeploy || op == types.OpRedeploy || op == types.OpStart || op == types.OpRestart {
			flags.BoolVar(&f.health, "health-check", false, "PING Redis-protocol instances after start")
		}
		return
	}
	if op == types.OpDeploy || op == types.OpRedeploy {
		flags.StringVar(&f.image, "image", "", "Image name (default from config)")
		flags.StringVar(&f.tag, "tag", "", "Image tag or alias (default from config)")
		flags.BoolVar(&f.skipAssets, "skip-assets", false, "Do not sync static assets")
	}
}

func needsConfirmation(op types.Operation) bool {
	return op == types.OpUndeploy || op == types.OpDisable
}

// runBatch resolves targets, asks for confirmation when needed, applies op
// and prints the report. A non-zero report exit code is returned as an
// ExitError.
func runBatch(cmd *cobra.Command, env *Env, op types.Operation, sel discovery.Selector, ids []string, f *batchFlags) error {
	ctx := cmd.Context()
	rt, err := env.Runtime(ctx)
	if err != nil {
		return err
	}

	targets, err := resolveTargets(cmd, rt, op, sel, ids, f.lastKnown)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		fmt.Fprintln(env.Out, "No instances found")
		return nil
	}

	if needsConfirmation(op) && !f.yes && !f.dryRun {
		names := make([]string, len(targets))
		for i, t := range targets {
			names[i] = t.String()
		}
		if !confirm(env.In, env.Err, fmt.Sprintf("%s %s?", op, strings.Join(names, ", "))) {
			return &ExitError{Code: ExitFailure, Err: apperrors.New(apperrors.ErrCancelled, "Aborted by user")}
		}
	}

	delay := f.delay
	if delay < 0 {
		delay = rt.Config.Delay()
	}
	opts := orchestrator.Options{
		Delay:       delay,
		Force:       f.force,
		Exclusive:   f.exclusive,
		DryRun:      f.dryRun,
		Image:       f.image,
		Tag:         f.tag,
		SkipAssets:  f.skipAssets,
		HealthCheck: f.health || rt.Config.Batch.HealthCheck,
	}
	opts.Materialize.Port = f.port
	opts.Materialize.Bind = f.bind
	opts.Materialize.WithSecrets = f.secrets || len(f.secret) > 0
	opts.Materialize.Secrets = f.secret

	report, err := rt.Orchestrator.Apply(ctx, op, targets, opts)
	if err != nil {
		return err
	}

	if f.json {
		if err := writeJSON(env.Out, viewReport(report)); err != nil {
			return err
		}
	} else {
		printReport(env.Out, report)
	}

	if code := report.ExitCode(); code != ExitOK {
		return &ExitError{Code: code, Err: report.Err()}
	}
	return nil
}

// resolveTargets turns identifiers into references. Without identifiers
// every discovered instance matching sel is targeted, except for deploy,
// which needs explicit identifiers. Stop and restart then only reach
// active instances. With lastKnown the instances whose latest timeline
// entry left them deployed are added, so units removed by hand are
// reached too.
func resolveTargets(cmd *cobra.Command, rt *Runtime, op types.Operation, sel discovery.Selector, ids []string, lastKnown bool) ([]types.InstanceRef, error) {
	if len(ids) == 0 {
		if op == types.OpDeploy {
			return nil, apperrors.InvalidInput("deploy needs at least one identifier")
		}
		if op == types.OpStop || op == types.OpRestart {
			sel.RunningOnly = true
		}
		refs, err := rt.Discovery.Refs(cmd.Context(), sel)
		if err != nil || !lastKnown {
			return refs, err
		}
		known, err := rt.Timeline.LastKnown(cmd.Context(), sel.Family)
		if err != nil {
			return nil, err
		}
		return mergeRefs(refs, known, sel.Package), nil
	}

	refs := make([]types.InstanceRef, 0, len(ids))
	for _, id := range ids {
		ref := types.InstanceRef{Family: sel.Family, Package: sel.Package, Identifier: id}
		if err := ref.Validate(); err != nil {
			return nil, apperrors.InvalidInput(err.Error())
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// mergeRefs returns the union of discovered and known refs in target
// order. Known refs of other packages are dropped when pkg is set.
func mergeRefs(discovered, known []types.InstanceRef, pkg string) []types.InstanceRef {
	seen := make(map[string]bool, len(discovered)+len(known))
	out := make([]types.InstanceRef, 0, len(discovered)+len(known))
	for _, list := range [][]types.InstanceRef{discovered, known} {
		for _, ref := range list {
			if pkg != "" && ref.Package != pkg {
				continue
			}
			if seen[ref.Key()] {
				continue
			}
			seen[ref.Key()] = true
			out = append(out, ref)
		}
	}
	types.SortRefs(out)
	return out
}
