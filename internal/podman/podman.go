// Package podman wraps the podman CLI. Listings are requested with an
// explicit tab-separated --format and parsed strictly.
package podman

import (
	"context"
	"io"
	"strings"

	apperrors "hostfleet/internal/errors"
	"hostfleet/internal/runner"
	"hostfleet/internal/types"
)

const (
	imageFormat     = "{{.Repository}}\t{{.Tag}}\t{{.ID}}\t{{.CreatedSince}}"
	containerFormat = "{{.ID}}\t{{.Names}}\t{{.Image}}\t{{.Status}}"
)

// Client runs podman subcommands.
type Client struct {
	runner runner.Runner
}

// New creates a Client.
func New(r runner.Runner) *Client {
	return &Client{runner: r}
}

// Pull fetches an image reference.
func (c *Client) Pull(ctx context.Context, ref string) error {
	return c.run(ctx, "pull", ref)
}

// Images lists local images, optionally restricted to a reference.
func (c *Client) Images(ctx context.Context, reference string) ([]types.Image, error) {
	args := []string{"images", "--format", imageFormat}
	if reference != "" {
		args = append(args, reference)
	}
	res, err := c.output(ctx, args...)
	if err != nil {
		return nil, err
	}

	var images []types.Image
	for _, line := range res.Lines() {
		cols, err := splitColumns("podman images", line, 4)
		if err != nil {
			return nil, err
		}
		images = append(images, types.Image{Repository: cols[0], Tag: cols[1], ID: cols[2], Created: cols[3]})
	}
	return images, nil
}

// RemoveImage removes an image.
func (c *Client) RemoveImage(ctx context.Context, ref string, force bool) error {
	args := []string{"rmi"}
	if force {
		args = append(args, "--force")
	}
	return c.run(ctx, append(args, ref)...)
}

// PruneImages removes dangling images, or every unused image with all.
func (c *Client) PruneImages(ctx context.Context, all bool) (string, error) {
	args := []string{"image", "prune", "--force"}
	if all {
		args = append(args, "--all")
	}
	res, err := c.output(ctx, args...)
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

// PS lists containers, including stopped ones, whose name matches filter.
func (c *Client) PS(ctx context.Context, nameFilter string) ([]types.Container, error) {
	args := []string{"ps", "--all", "--format", containerFormat}
	if nameFilter != "" {
		args = append(args, "--filter", "name="+nameFilter)
	}
	res, err := c.output(ctx, args...)
	if err != nil {
		return nil, err
	}

	var containers []types.Container
	for _, line := range res.Lines() {
		cols, err := splitColumns("podman ps", line, 4)
		if err != nil {
			return nil, err
		}
		containers = append(containers, types.Container{ID: cols[0], Name: cols[1], Image: cols[2], Status: cols[3]})
	}
	return containers, nil
}

// ContainerExists reports whether a container with the name exists.
func (c *Client) ContainerExists(ctx context.Context, name string) (bool, error) {
	res, err := c.runner.Run(ctx, "podman", "container", "exists", name)
	if err != nil {
		return false, err
	}
	switch res.ExitCode {
	case 0:
		return true, nil
	case 1:
		return false, nil
	default:
		return false, res.Check()
	}
}

// Inspect renders a Go template against a container or image.
func (c *Client) Inspect(ctx context.Context, name, format string) (string, error) {
	res, err := c.output(ctx, "inspect", "--format", format, name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// VolumeCreate creates a named volume if it does not exist.
func (c *Client) VolumeCreate(ctx context.Context, name string) error {
	return c.run(ctx, "volume", "create", "--ignore", name)
}

// VolumeMount mounts a volume and returns its host path.
func (c *Client) VolumeMount(ctx context.Context, name string) (string, error) {
	res, err := c.output(ctx, "volume", "mount", name)
	if err != nil {
		return "", err
	}
	path := strings.TrimSpace(res.Stdout)
	if path == "" {
		return "", apperrors.ParseFailure("podman volume mount", res.Stdout)
	}
	return path, nil
}

// Create creates a stopped container and returns its id.
func (c *Client) Create(ctx context.Context, image, name string) (string, error) {
	args := []string{"create"}
	if name != "" {
		args = append(args, "--name", name)
	}
	res, err := c.output(ctx, append(args, image)...)
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(res.Stdout)
	if id == "" {
		return "", apperrors.ParseFailure("podman create", res.Stdout)
	}
	return id, nil
}

// Copy copies files between a container and the host.
func (c *Client) Copy(ctx context.Context, src, dst string) error {
	return c.run(ctx, "cp", src, dst)
}

// Remove force-removes a container.
func (c *Client) Remove(ctx context.Context, id string) error {
	return c.run(ctx, "rm", "--force", id)
}

// ContainerName is the default name quadlet gives the container of a unit.
func ContainerName(unit string) string {
	return "systemd-" + strings.TrimSuffix(unit, ".service")
}

// Exec runs a command inside a running container with output on w.
func (c *Client) Exec(ctx context.Context, w io.Writer, container string, command []string) error {
	args := append([]string{"exec", container}, command...)
	return c.runner.Stream(ctx, w, "podman", args...)
}

func (c *Client) run(ctx context.Context, args ...string) error {
	_, err := c.output(ctx, args...)
	return err
}

func (c *Client) output(ctx context.Context, args ...string) (*runner.Result, error) {
	res, err := c.runner.Run(ctx, "podman", args...)
	if err != nil {
		return nil, err
	}
	if err := res.Check(); err != nil {
		return nil, err
	}
	return res, nil
}

func splitColumns(source, line string, want int) ([]string, error) {
	cols := strings.Split(line, "\t")
	if len(cols) != want {
		return nil, apperrors.ParseFailure(source, line)
	}
	return cols, nil
}
