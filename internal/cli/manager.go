package cli

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"hostfleet/internal/cli/commands"
	"hostfleet/internal/lazy"
)

// Builder creates the runtime for the resolved global options.
type Builder func(ctx context.Context, opts commands.GlobalOptions) (*commands.Runtime, error)

// Manager handles CLI operations
type Manager struct {
	opts    commands.GlobalOptions
	env     *commands.Env
	build   Builder
	rootCmd *cobra.Command

	runtime *lazy.Lazy[*commands.Runtime]
}

// Option configures a Manager.
type Option func(*Manager)

// WithStreams replaces the process streams.
func WithStreams(in io.Reader, out, errOut io.Writer) Option {
	return func(m *Manager) {
		m.env.In, m.env.Out, m.env.Err = in, out, errOut
	}
}

// New creates a new CLI manager. The runtime is built on first use so
// commands that need none, such as help, work without a configuration.
func New(build Builder, opts ...Option) *Manager {
	m := &Manager{
		build: build,
		env:   &commands.Env{In: os.Stdin, Out: os.Stdout, Err: os.Stderr},
	}
	m.runtime = lazy.New[*commands.Runtime](func(ctx context.Context) (*commands.Runtime, error) {
		return m.build(ctx, m.opts)
	})
	m.env.Runtime = m.runtime.Get
	for _, opt := range opts {
		opt(m)
	}

	m.rootCmd = createRootCommand(&m.opts)
	m.rootCmd.SetOut(m.env.Out)
	m.rootCmd.SetErr(m.env.Err)
	m.setupCommands()
	return m
}

// Execute executes the CLI with the given arguments
func (m *Manager) Execute(args []string) error {
	return m.ExecuteWithContext(context.Background(), args)
}

// ExecuteWithContext executes the CLI with the given arguments and context
func (m *Manager) ExecuteWithContext(ctx context.Context, args []string) error {
	defer func() {
		if rt, ok := m.runtime.Peek(); ok {
			_ = rt.Close()
		}
	}()
	m.rootCmd.SetArgs(args)
	return m.rootCmd.ExecuteContext(ctx)
}

// setupCommands sets up all CLI commands
func (m *Manager) setupCommands() {
	instanceCmd := &cobra.Command{
		Use:     "instance",
		Short:   "Container instance commands (web, worker, scheduler)",
		Aliases: []string{"inst", "i"},
	}
	for _, cmd := range commands.InstanceCommands(m.env) {
		instanceCmd.AddCommand(cmd)
	}
	m.rootCmd.AddCommand(instanceCmd)

	serviceCmd := &cobra.Command{
		Use:     "service",
		Short:   "Service-package instance commands (valkey, redis)",
		Aliases: []string{"svc"},
	}
	for _, cmd := range commands.ServiceCommands(m.env) {
		serviceCmd.AddCommand(cmd)
	}
	m.rootCmd.AddCommand(serviceCmd)

	imageCmd := &cobra.Command{
		Use:     "image",
		Short:   "Image and image alias commands",
		Aliases: []string{"img"},
	}
	for _, cmd := range commands.ImageCommands(m.env) {
		imageCmd.AddCommand(cmd)
	}
	m.rootCmd.AddCommand(imageCmd)

	configCmd := &cobra.Command{
		Use:     "config",
		Short:   "Configuration commands",
		Aliases: []string{"cfg"},
	}
	for _, cmd := range commands.ConfigCommands(m.env, &m.opts) {
		configCmd.AddCommand(cmd)
	}
	m.rootCmd.AddCommand(configCmd)

	m.rootCmd.AddCommand(commands.TimelineCommand(m.env))
	m.rootCmd.AddCommand(commands.ServeCommand(m.env))
}
