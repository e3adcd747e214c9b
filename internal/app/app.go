// Package app wires configuration, the execution boundary and storage into
// the CLI.
package app

import (
	"context"
	"os"

	"hostfleet/internal/cli"
	"hostfleet/internal/cli/commands"
	"hostfleet/internal/config"
	"hostfleet/internal/db"
	"hostfleet/internal/discovery"
	"hostfleet/internal/logger"
	"hostfleet/internal/materialize"
	"hostfleet/internal/metrics"
	"hostfleet/internal/orchestrator"
	"hostfleet/internal/podman"
	"hostfleet/internal/runner"
	"hostfleet/internal/systemd"
)

// App represents the main application
type App struct {
	// Lookup reads environment overrides. Defaults to os.LookupEnv.
	Lookup func(string) (string, bool)
	// Runner replaces the host command runner, for tests.
	Runner runner.Runner

	CLI *cli.Manager
}

// New creates a new application instance
func New() *App {
	return &App{Lookup: os.LookupEnv}
}

// Run starts the application
func (a *App) Run(args []string) error {
	return a.RunWithContext(context.Background(), args)
}

// RunWithContext runs the CLI with a context for cancellation
func (a *App) RunWithContext(ctx context.Context, args []string, opts ...cli.Option) error {
	a.CLI = cli.New(a.Build, opts...)
	if len(args) == 0 {
		return a.CLI.ExecuteWithContext(ctx, []string{"--help"})
	}
	return a.CLI.ExecuteWithContext(ctx, args)
}

// Build resolves the configuration and constructs the runtime.
func (a *App) Build(ctx context.Context, opts commands.GlobalOptions) (*commands.Runtime, error) {
	cfg, err := config.Load(opts.ConfigPath, a.Lookup)
	if err != nil {
		return nil, err
	}
	if opts.Sudo {
		cfg.Runner.Sudo = true
	}

	r := a.Runner
	if r == nil {
		r = runner.New(nil, runner.Options{Sudo: cfg.Runner.Sudo, Timeout: cfg.CommandTimeout()})
	}

	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}

	database, err := db.Open(db.DefaultConfig(cfg.Database))
	if err != nil {
		return nil, err
	}

	sd := systemd.New(r)
	pm := podman.New(r)
	timeline := db.NewTimelineStore(database)
	aliases := db.NewAliasStore(database)
	m := metrics.New()

	logger.WithContext(ctx).WithFields(logger.Fields{
		"config":   cfg.Path(),
		"database": database.Path(),
	}).Debug("Runtime ready")

	return &commands.Runtime{
		Config:       cfg,
		Systemd:      sd,
		Podman:       pm,
		Discovery:    discovery.New(sd, append(cfg.UnitTemplates(), registry.Templates()...)),
		Registry:     registry,
		Materializer: materialize.New(),
		DB:           database,
		Timeline:     timeline,
		Aliases:      aliases,
		Orchestrator: orchestrator.New(cfg, sd, pm, registry, timeline,
			orchestrator.WithMetrics(m),
			orchestrator.WithImageResolver(aliases)),
		Metrics: m,
	}, nil
}

// ExitCode maps an error from Run to the process exit code.
func ExitCode(err error) int {
	return commands.ExitCode(err)
}

// Message returns the text to print for err, or "" when the command has
// already reported it.
func Message(err error) string {
	if err = commands.HandleError(err); err == nil {
		return ""
	}
	return err.Error()
}
