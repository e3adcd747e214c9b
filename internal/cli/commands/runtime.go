package commands

import (
	"context"
	"io"

	"hostfleet/internal/config"
	"hostfleet/internal/db"
	"hostfleet/internal/discovery"
	"hostfleet/internal/materialize"
	"hostfleet/internal/metrics"
	"hostfleet/internal/orchestrator"
	"hostfleet/internal/podman"
	"hostfleet/internal/systemd"
)

// GlobalOptions are the persistent root flags.
type GlobalOptions struct {
	ConfigPath string
	LogLevel   string
	Sudo       bool
}

// Runtime holds the components a command works with. It is built once per
// invocation from the resolved configuration.
type Runtime struct {
	Config       *config.Config
	Systemd      *systemd.Client
	Podman       *podman.Client
	Discovery    *discovery.Discoverer
	Registry     *materialize.Registry
	Materializer *materialize.Materializer
	DB           *db.DB
	Timeline     *db.TimelineStore
	Aliases      *db.AliasStore
	Orchestrator *orchestrator.Orchestrator
	Metrics      *metrics.Metrics
}

// Close releases the database.
func (r *Runtime) Close() error {
	if r == nil || r.DB == nil {
		return nil
	}
	return r.DB.Close()
}

// Env carries the process streams and the lazily built runtime.
type Env struct {
	Out io.Writer
	Err io.Writer
	In  io.Reader

	// Runtime returns the runtime, building it on first use.
	Runtime func(ctx context.Context) (*Runtime, error)
}
