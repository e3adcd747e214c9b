package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"hostfleet/internal/constants"
	"hostfleet/internal/discovery"
	apperrors "hostfleet/internal/errors"
	"hostfleet/internal/podman"
	"hostfleet/internal/types"
)

// InstanceCommands creates the container instance commands.
func InstanceCommands(env *Env) []*cobra.Command {
	commands := []*cobra.Command{instanceListCommand(env)}

	for _, op := range types.Operations {
		commands = append(commands, instanceBatchCommand(env, op))
	}

	commands = append(commands,
		instanceStatusCommand(env),
		instanceLogsCommand(env),
		instanceExecCommand(env),
	)
	return commands
}

var batchShort = map[types.Operation]string{
	types.OpDeploy:   "Write the unit template, then start and enable instances",
	types.OpRedeploy: "Rewrite the unit template and restart instances",
	types.OpStart:    "Start instances",
	types.OpStop:     "Stop instances",
	types.OpRestart:  "Restart instances",
	types.OpUndeploy: "Stop and disable instances",
	types.OpEnable:   "Enable instances at boot",
	types.OpDisable:  "Disable instances at boot",
}

// containerFamily parses a family argument and rejects service packages.
func containerFamily(arg string) (types.Family, error) {
	f, err := types.ParseFamily(arg)
	if err != nil {
		return "", apperrors.InvalidInput(err.Error())
	}
	if !f.IsContainer() {
		return "", apperrors.InvalidInput("use 'hostfleet service' for service packages")
	}
	return f, nil
}

func instanceBatchCommand(env *Env, op types.Operation) *cobra.Command {
	var flags batchFlags
	cmd := &cobra.Command{
		Use:   string(op) + " <web|worker|scheduler> [identifier...]",
		Short: batchShort[op],
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			family, err := containerFamily(args[0])
			if err != nil {
				return err
			}
			return runBatch(cmd, env, op, discovery.Selector{Family: family}, args[1:], &flags)
		},
	}
	flags.register(cmd, op, false)
	return cmd
}

func instanceListCommand(env *Env) *cobra.Command {
	var (
		familyArg string
		running   bool
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List container instances and their state",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := env.Runtime(cmd.Context())
			if err != nil {
				return err
			}

			var instances []types.Instance
			sels := discovery.FamilySelectors(running)
			if familyArg != "" {
				f, err := containerFamily(familyArg)
				if err != nil {
					return err
				}
				sels = []discovery.Selector{{Family: f, RunningOnly: running}}
			}
			for _, sel := range sels {
				found, err := rt.Discovery.Discover(cmd.Context(), sel)
				if err != nil {
					return err
				}
				instances = append(instances, found...)
			}
			return printInstances(env, instances, asJSON)
		},
	}
	cmd.Flags().StringVarP(&familyArg, "family", "f", "", "Only list one family")
	cmd.Flags().BoolVar(&running, "running", false, "Only list active instances")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func printInstances(env *Env, instances []types.Instance, asJSON bool) error {
	if asJSON {
		if instances == nil {
			instances = []types.Instance{}
		}
		return writeJSON(env.Out, instances)
	}
	if len(instances) == 0 {
		fmt.Fprintln(env.Out, "No instances found")
		return nil
	}

	w := newTable(env.Out)
	fmt.Fprintln(w, "INSTANCE\tUNIT\tSTATE\tENABLED")
	for _, inst := range instances {
		state := activeLabel(inst.State.Active)
		if !inst.State.Defined {
			state = faint("not-found")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", inst.String(), inst.Unit, state, yesNo(inst.State.Enabled))
	}
	return w.Flush()
}

func instanceUnit(env *Env, cmd *cobra.Command, familyArg, id string) (*Runtime, types.InstanceRef, string, error) {
	rt, err := env.Runtime(cmd.Context())
	if err != nil {
		return nil, types.InstanceRef{}, "", err
	}
	family, err := containerFamily(familyArg)
	if err != nil {
		return nil, types.InstanceRef{}, "", err
	}
	ref := types.InstanceRef{Family: family, Identifier: id}
	if err := ref.Validate(); err != nil {
		return nil, types.InstanceRef{}, "", apperrors.InvalidInput(err.Error())
	}
	tmpl := types.UnitTemplate{Family: family, Prefix: rt.Config.Container(family).Unit}
	return rt, ref, tmpl.Unit(id), nil
}

func instanceStatusCommand(env *Env) *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "status <web|worker|scheduler> <identifier>",
		Short: "Show unit status and the last recorded operation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, ref, unit, err := instanceUnit(env, cmd, args[0], args[1])
			if err != nil {
				return err
			}
			return printStatus(cmd, env, rt, ref, unit, lines)
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", constants.DefaultLogLines/5, "Journal lines to include")
	return cmd
}

func printStatus(cmd *cobra.Command, env *Env, rt *Runtime, ref types.InstanceRef, unit string, lines int) error {
	out, err := rt.Systemd.Status(cmd.Context(), unit, lines)
	if err != nil {
		return err
	}
	fmt.Fprint(env.Out, out)

	last, err := rt.Timeline.Latest(cmd.Context(), ref)
	switch {
	case err == nil:
		fmt.Fprintf(env.Out, "\nLast operation: %s %s %s (batch %s)\n",
			last.Operation, outcomeLabel(last.Outcome), since(last.Timestamp), last.BatchID)
		if last.Image != "" {
			fmt.Fprintf(env.Out, "Image: %s:%s\n", last.Image, last.Tag)
		}
	case apperrors.HasCode(err, apperrors.ErrNotFound):
		fmt.Fprintln(env.Out, "\nNo recorded operations")
	default:
		return err
	}
	return nil
}

func instanceLogsCommand(env *Env) *cobra.Command {
	var (
		lines  int
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "logs <web|worker|scheduler> <identifier>",
		Short: "Show journal lines of an instance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, _, unit, err := instanceUnit(env, cmd, args[0], args[1])
			if err != nil {
				return err
			}
			return rt.Systemd.Logs(cmd.Context(), env.Out, unit, lines, follow)
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", constants.DefaultLogLines, "Number of lines")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow the journal")
	return cmd
}

func instanceExecCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <web|worker|scheduler> <identifier> -- <command...>",
		Short: "Run a command inside an instance container",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, _, unit, err := instanceUnit(env, cmd, args[0], args[1])
			if err != nil {
				return err
			}
			return rt.Podman.Exec(cmd.Context(), env.Out, podman.ContainerName(unit), args[2:])
		},
	}
}
