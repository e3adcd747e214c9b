package commands

import (
	"github.com/spf13/cobra"

	"hostfleet/internal/server"
)

// ServeCommand creates the read-only API server command.
func ServeCommand(env *Env) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only API and Prometheus metrics",
		Long: `Serve instance state, the deployment timeline and metrics over HTTP.
The API has no mutating endpoints. It stops on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := env.Runtime(cmd.Context())
			if err != nil {
				return err
			}
			cfg := server.DefaultConfig()
			cfg.Listen = rt.Config.Server.Listen
			if listen != "" {
				cfg.Listen = listen
			}

			srv := server.New(cfg, server.Deps{
				Instances: rt.Discovery,
				Timeline:  rt.Timeline,
				Database:  rt.DB,
				Metrics:   rt.Metrics,
			})
			return srv.Start(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address (default from config)")
	return cmd
}
