package cli

import (
	"github.com/spf13/cobra"

	"hostfleet/internal/cli/commands"
	"hostfleet/internal/logger"
)

// createRootCommand creates the root command with global flags
func createRootCommand(opts *commands.GlobalOptions) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hostfleet",
		Short: "Single-host orchestration of templated container and service instances",
		Long: `hostfleet deploys and operates many instances of an application on one
host. Container instances run from podman quadlet templates, service-package
instances (valkey, redis) from their packaged systemd templates. Every
operation is recorded in an append-only deployment timeline.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.LogLevel != "" {
				logger.SetLevel(opts.LogLevel)
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.ConfigPath, "config", "c", "", "Configuration file")
	flags.StringVar(&opts.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.BoolVar(&opts.Sudo, "sudo", false, "Run podman and systemctl through sudo -n")

	return rootCmd
}
