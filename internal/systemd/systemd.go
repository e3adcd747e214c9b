// Package systemd drives the init system through systemctl and journalctl.
package systemd

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"

	apperrors "hostfleet/internal/errors"
	"hostfleet/internal/runner"
)

// Unit is one row of `systemctl list-units`.
type Unit struct {
	Name        string
	Load        string
	Active      string
	Sub         string
	Description string
}

// Loaded reports whether the init system has a definition for the unit.
func (u Unit) Loaded() bool {
	return u.Load != "not-found" && u.Load != "masked"
}

// Client wraps systemctl and journalctl.
type Client struct {
	runner runner.Runner
}

// New creates a Client that runs commands through r.
func New(r runner.Runner) *Client {
	return &Client{runner: r}
}

// DaemonReload makes the init system re-read unit definitions.
func (c *Client) DaemonReload(ctx context.Context) error {
	return c.control(ctx, "daemon-reload")
}

// Start starts a unit.
func (c *Client) Start(ctx context.Context, unit string) error {
	return c.control(ctx, "start", unit)
}

// Stop stops a unit.
func (c *Client) Stop(ctx context.Context, unit string) error {
	return c.control(ctx, "stop", unit)
}

// Restart restarts a unit, starting it if it was not running.
func (c *Client) Restart(ctx context.Context, unit string) error {
	return c.control(ctx, "restart", unit)
}

// Enable marks a unit to start at boot.
func (c *Client) Enable(ctx context.Context, unit string) error {
	return c.control(ctx, "enable", unit)
}

// Disable removes a unit from boot.
func (c *Client) Disable(ctx context.Context, unit string) error {
	return c.control(ctx, "disable", unit)
}

// IsActive reports whether a unit is running. A non-zero exit means
// inactive, not failure.
func (c *Client) IsActive(ctx context.Context, unit string) (bool, error) {
	res, err := c.systemctl(ctx, "is-active", unit)
	if err != nil {
		return false, err
	}
	return res.Success(), nil
}

// IsEnabled reports whether a unit is enabled.
func (c *Client) IsEnabled(ctx context.Context, unit string) (bool, error) {
	res, err := c.systemctl(ctx, "is-enabled", unit)
	if err != nil {
		return false, err
	}
	return res.Success(), nil
}

// ListUnits lists units matching a glob pattern, including inactive ones.
// Every line must have at least the UNIT, LOAD, ACTIVE and SUB columns.
func (c *Client) ListUnits(ctx context.Context, pattern string) ([]Unit, error) {
	res, err := c.systemctl(ctx, "list-units", pattern, "--all", "--plain", "--no-legend", "--no-pager")
	if err != nil {
		return nil, err
	}
	if err := res.Check(); err != nil {
		return nil, err
	}
	return ParseUnits(res.Stdout)
}

// ParseUnits parses `systemctl list-units --plain --no-legend` output.
func ParseUnits(output string) ([]Unit, error) {
	var units []Unit
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Fields(line)
		// Failed units are prefixed with a bullet even in plain mode on some versions.
		if fields[0] == "●" || fields[0] == "*" {
			fields = fields[1:]
		}
		if len(fields) < 4 {
			return nil, apperrors.ParseFailure("systemctl list-units", line)
		}
		units = append(units, Unit{
			Name:        fields[0],
			Load:        fields[1],
			Active:      fields[2],
			Sub:         fields[3],
			Description: strings.Join(fields[4:], " "),
		})
	}
	return units, nil
}

// Status returns the human-readable status of a unit. Inactive units are
// not an error.
func (c *Client) Status(ctx context.Context, unit string, lines int) (string, error) {
	res, err := c.systemctl(ctx, "status", "--no-pager", "-n", strconv.Itoa(lines), unit)
	if err != nil {
		return "", err
	}
	// 3 means the unit is not running, 4 that it does not exist.
	if res.ExitCode != 0 && res.ExitCode != 3 {
		return res.Output(), res.Check()
	}
	return res.Stdout, nil
}

// Logs writes the journal of a unit to w. With follow it blocks until ctx
// is cancelled.
func (c *Client) Logs(ctx context.Context, w io.Writer, unit string, lines int, follow bool) error {
	args := []string{"-u", unit, "-n", strconv.Itoa(lines), "--no-pager"}
	if follow {
		args = append(args, "-f")
	}
	return c.runner.Stream(ctx, w, "journalctl", args...)
}

func (c *Client) control(ctx context.Context, args ...string) error {
	res, err := c.systemctl(ctx, args...)
	if err != nil {
		return err
	}
	return res.Check()
}

func (c *Client) systemctl(ctx context.Context, args ...string) (*runner.Result, error) {
	res, err := c.runner.Run(ctx, "systemctl", args...)
	if err != nil {
		if runner.HasReason(err, runner.ReasonNotFound) {
			return nil, apperrors.SystemUnavailable("systemctl is not installed", err)
		}
		return nil, err
	}
	if reason := unavailableReason(res.Stderr); reason != "" {
		return nil, apperrors.SystemUnavailable(reason, errors.New(strings.TrimSpace(res.Stderr)))
	}
	return res, nil
}

func unavailableReason(stderr string) string {
	switch {
	case strings.Contains(stderr, "not been booted with systemd"):
		return "host was not booted with systemd"
	case strings.Contains(stderr, "Failed to connect to bus"):
		return "cannot connect to the systemd bus"
	default:
		return ""
	}
}
