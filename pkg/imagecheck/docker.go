// Package imagecheck verifies that image references resolve in their registry.
package imagecheck

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"

	"github.com/3s-rg-codes/faasctl/pkg/function"
)

type distributionInspector interface {
	DistributionInspect(ctx context.Context, imageRef, encodedRegistryAuth string) (registry.DistributionInspect, error)
}

// DockerChecker asks the Docker daemon to resolve the image manifest in its registry.
type DockerChecker struct {
	cli    distributionInspector
	logger *slog.Logger
}

// NewDockerChecker connects to the daemon configured in the environment.
func NewDockerChecker(logger *slog.Logger) (*DockerChecker, func() error, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, nil, fmt.Errorf("imagecheck: docker client: %w", err)
	}
	return newDockerChecker(cli, logger), cli.Close, nil
}

func newDockerChecker(cli distributionInspector, logger *slog.Logger) *DockerChecker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &DockerChecker{cli: cli, logger: logger}
}

// CheckImage returns function.ErrImageNotFound when the registry does not know
// ref. Any other failure is returned as is.
func (d *DockerChecker) CheckImage(ctx context.Context, ref string) error {
	info, err := d.cli.DistributionInspect(ctx, ref, "")
	if client.IsErrNotFound(err) {
		return fmt.Errorf("%w: %s", function.ErrImageNotFound, ref)
	}
	if err != nil {
		return err
	}
	d.logger.Debug("image resolved", "image", ref, "digest", info.Descriptor.Digest.String())
	return nil
}
