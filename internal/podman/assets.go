package podman

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"hostfleet/internal/logger"
)

// AssetSync describes how static assets are copied out of an image.
type AssetSync struct {
	Image    string
	Volume   string
	Source   string
	Manifest string
}

// SyncAssets copies AssetSync.Source out of the image into the named volume
// through a scratch container. The scratch container is always removed.
// It returns the volume's host path.
func (c *Client) SyncAssets(ctx context.Context, sync AssetSync) (string, error) {
	if err := c.VolumeCreate(ctx, sync.Volume); err != nil {
		return "", err
	}

	mount, err := c.VolumeMount(ctx, sync.Volume)
	if err != nil {
		return "", err
	}

	scratch := "hostfleet-assets-" + uuid.NewString()[:8]
	id, err := c.Create(ctx, sync.Image, scratch)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := c.Remove(context.WithoutCancel(ctx), id); err != nil {
			logger.WithError(err).WithField("container", scratch).Warn("Failed to remove scratch container")
		}
	}()

	if err := c.Copy(ctx, id+":"+sync.Source+"/.", mount); err != nil {
		return "", err
	}

	if sync.Manifest != "" {
		manifest := filepath.Join(mount, sync.Manifest)
		if _, err := os.Stat(manifest); err != nil {
			logger.WithField("manifest", manifest).Warn("Asset manifest not found after sync")
		} else {
			logger.WithField("manifest", manifest).Debug("Asset manifest found")
		}
	}

	return mount, nil
}
