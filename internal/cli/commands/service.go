package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"hostfleet/internal/constants"
	"hostfleet/internal/discovery"
	apperrors "hostfleet/internal/errors"
	"hostfleet/internal/materialize"
	"hostfleet/internal/types"
)

// ServiceCommands creates the service-package instance commands.
func ServiceCommands(env *Env) []*cobra.Command {
	commands := []*cobra.Command{
		servicePackagesCommand(env),
		serviceListCommand(env),
		serviceInitCommand(env),
	}
	for _, op := range types.Operations {
		commands = append(commands, serviceBatchCommand(env, op, string(op), batchShort[op]))
	}
	commands = append(commands,
		serviceBatchCommand(env, types.OpRedeploy, "reconfigure", "Re-apply port, bind and data dir, then restart"),
		serviceStatusCommand(env),
		serviceLogsCommand(env),
	)
	return commands
}

func servicePackagesCommand(env *Env) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "packages",
		Short: "List known service packages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := env.Runtime(cmd.Context())
			if err != nil {
				return err
			}
			var packages []materialize.Package
			for _, name := range rt.Registry.Names() {
				pkg, _ := rt.Registry.Get(name)
				packages = append(packages, pkg)
			}
			if asJSON {
				return writeJSON(env.Out, packages)
			}

			w := newTable(env.Out)
			fmt.Fprintln(w, "PACKAGE\tTEMPLATE\tCONFIG\tDEFAULT PORT\tSECRETS")
			for _, p := range packages {
				secrets := faint("-")
				if p.Secrets != nil {
					secrets = strings.Join(p.Secrets.Keys, ",")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", p.Name, p.Template, p.ConfigFile("<id>"), p.DefaultPort, secrets)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func serviceListCommand(env *Env) *cobra.Command {
	var (
		running bool
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:     "list [package]",
		Short:   "List service-package instances and their state",
		Aliases: []string{"ls"},
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := env.Runtime(cmd.Context())
			if err != nil {
				return err
			}
			sel := discovery.Selector{Family: types.FamilyService, RunningOnly: running}
			if len(args) == 1 {
				if _, err := rt.Registry.Get(args[0]); err != nil {
					return apperrors.InvalidInput(err.Error())
				}
				sel.Package = args[0]
			}
			instances, err := rt.Discovery.Discover(cmd.Context(), sel)
			if err != nil {
				return err
			}
			return printInstances(env, instances, asJSON)
		},
	}
	cmd.Flags().BoolVar(&running, "running", false, "Only list active instances")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func serviceInitCommand(env *Env) *cobra.Command {
	var (
		opts   materialize.InitOptions
		secret map[string]string
	)
	cmd := &cobra.Command{
		Use:   "init <package> <identifier>",
		Short: "Materialize an instance config without starting it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, pkg, id, err := serviceTarget(env, cmd, args[0], args[1])
			if err != nil {
				return err
			}
			if len(secret) > 0 {
				opts.WithSecrets = true
				opts.Secrets = secret
			}

			art, err := rt.Materializer.Init(pkg, id, opts)
			if apperrors.HasCode(err, apperrors.ErrAlreadyInitialized) {
				fmt.Fprintf(env.Out, "%s %s exists, left untouched\n", yellow("already initialized:"), art.ConfigPath)
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(env.Out, "%s %s\n", green("config:"), art.ConfigPath)
			if art.SecretsPath != "" {
				fmt.Fprintf(env.Out, "%s %s\n", green("secrets:"), art.SecretsPath)
			}
			fmt.Fprintf(env.Out, "%s %s\n", green("data:"), art.DataDir)
			fmt.Fprintf(env.Out, "Next: hostfleet service deploy %s %s\n", pkg.Name, id)
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.Port, "port", 0, "Port (default: numeric identifier)")
	cmd.Flags().StringVar(&opts.Bind, "bind", "", "Bind address")
	cmd.Flags().BoolVar(&opts.WithSecrets, "secrets", false, "Create a secrets file")
	cmd.Flags().StringToStringVar(&secret, "secret", nil, "Secret value for a new secrets file (key=value)")
	return cmd
}

func serviceTarget(env *Env, cmd *cobra.Command, pkgName, id string) (*Runtime, materialize.Package, string, error) {
	rt, err := env.Runtime(cmd.Context())
	if err != nil {
		return nil, materialize.Package{}, "", err
	}
	pkg, err := rt.Registry.Get(pkgName)
	if err != nil {
		return nil, materialize.Package{}, "", apperrors.InvalidInput(err.Error())
	}
	ref := types.InstanceRef{Family: types.FamilyService, Package: pkgName, Identifier: id}
	if err := ref.Validate(); err != nil {
		return nil, materialize.Package{}, "", apperrors.InvalidInput(err.Error())
	}
	return rt, pkg, id, nil
}

func serviceBatchCommand(env *Env, op types.Operation, name, short string) *cobra.Command {
	var flags batchFlags
	cmd := &cobra.Command{
		Use:   name + " <package> [identifier...]",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sel := discovery.Selector{Family: types.FamilyService, Package: args[0]}
			return runBatch(cmd, env, op, sel, args[1:], &flags)
		},
	}
	flags.register(cmd, op, true)
	return cmd
}

func serviceStatusCommand(env *Env) *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "status <package> <identifier>",
		Short: "Show unit status, config files and the last recorded operation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, pkg, id, err := serviceTarget(env, cmd, args[0], args[1])
			if err != nil {
				return err
			}
			ref := types.InstanceRef{Family: types.FamilyService, Package: pkg.Name, Identifier: id}
			if err := printStatus(cmd, env, rt, ref, pkg.UnitTemplate().Unit(id), lines); err != nil {
				return err
			}
			fmt.Fprintf(env.Out, "Config: %s %s\n", pkg.ConfigFile(id), fileState(pkg.ConfigFile(id)))
			if pkg.Secrets != nil {
				fmt.Fprintf(env.Out, "Secrets: %s %s\n", pkg.SecretsFile(id), fileState(pkg.SecretsFile(id)))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", constants.DefaultLogLines/5, "Journal lines to include")
	return cmd
}

func fileState(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return red("(missing)")
	}
	return faint(fmt.Sprintf("(%s)", info.Mode().Perm()))
}

func serviceLogsCommand(env *Env) *cobra.Command {
	var (
		lines  int
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "logs <package> <identifier>",
		Short: "Show journal lines of a service instance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, pkg, id, err := serviceTarget(env, cmd, args[0], args[1])
			if err != nil {
				return err
			}
			return rt.Systemd.Logs(cmd.Context(), env.Out, pkg.UnitTemplate().Unit(id), lines, follow)
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", constants.DefaultLogLines, "Number of lines")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow the journal")
	return cmd
}
