package commands

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"hostfleet/internal/config"
	apperrors "hostfleet/internal/errors"
)

// ConfigCommands creates configuration commands.
func ConfigCommands(env *Env, global *GlobalOptions) []*cobra.Command {
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := env.Runtime(cmd.Context())
			if err != nil {
				return err
			}
			data, err := toml.Marshal(rt.Config)
			if err != nil {
				return err
			}
			fmt.Fprintf(env.Out, "# %s\n", rt.Config.Path())
			_, err = env.Out.Write(data)
			return err
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a configuration file with the defaults",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := global.ConfigPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				var err error
				if path, err = config.DefaultPath(); err != nil {
					return err
				}
			}
			if _, err := os.Stat(path); err == nil && !force {
				return apperrors.NewWithDetails(apperrors.ErrInvalidInput, "Configuration file already exists",
					"Path: "+path+" (use --force to overwrite)")
			}
			if err := config.Default().Save(path); err != nil {
				return apperrors.Wrap(apperrors.ErrFileWrite, "Failed to write configuration", err)
			}
			fmt.Fprintf(env.Out, "%s %s\n", green("wrote"), path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := env.Runtime(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(env.Out, "%s %s (%d service packages)\n", green("valid"), rt.Config.Path(), len(rt.Registry.Names()))
			return nil
		},
	}

	return []*cobra.Command{showCmd, initCmd, validateCmd}
}
