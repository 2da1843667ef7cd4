// Package pull ensures container images are present on the host before
// use, collapsing concurrent pulls of the same reference into one.
package pull

import (
	"context"
	"fmt"

	"github.com/distribution/reference"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Source is the image surface of the engine the coordinator drives.
type Source interface {
	ListImages(ctx context.Context) ([]string, error)
	PullImage(ctx context.Context, ref string, registryAuth string) error
}

// Coordinator answers "make sure this image is local" requests. Images
// already present are never re-pulled, and two concurrent requests for
// the same reference share a single in-flight pull and its outcome.
type Coordinator struct {
	source Source
	group  singleflight.Group
	logger *logrus.Logger
}

// NewCoordinator creates a pull coordinator over the given image source.
func NewCoordinator(source Source, logger *logrus.Logger) *Coordinator {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
	}
	return &Coordinator{
		source: source,
		logger: logger,
	}
}

// EnsurePresent returns once ref is available locally, pulling it if
// needed. registryAuth is an optional base64 auth header for private
// registries. Pull failures are returned untouched to every waiter.
func (c *Coordinator) EnsurePresent(ctx context.Context, ref string, registryAuth string) error {
	normalized, err := normalizeRef(ref)
	if err != nil {
		return err
	}

	present, err := c.isPresent(ctx, normalized)
	if err == nil && present {
		c.logger.WithField("image", normalized).Debug("Image already present, skipping pull")
		return nil
	}

	_, err, shared := c.group.Do(normalized, func() (interface{}, error) {
		// Re-check inside the flight: a pull that just finished may have
		// brought the image in between our check and joining the group.
		if present, err := c.isPresent(ctx, normalized); err == nil && present {
			return nil, nil
		}
		return nil, c.source.PullImage(ctx, normalized, registryAuth)
	})
	if shared {
		c.logger.WithField("image", normalized).Debug("Joined in-flight pull")
	}
	return err
}

// isPresent reports whether ref is among the host's local images.
func (c *Coordinator) isPresent(ctx context.Context, ref string) (bool, error) {
	local, err := c.source.ListImages(ctx)
	if err != nil {
		return false, err
	}
	for _, tag := range local {
		if tag == ref {
			return true, nil
		}
	}
	return false, nil
}

// normalizeRef resolves a bare reference like "nginx" to its tagged
// familiar form "nginx:latest" so presence checks match the engine's
// repo tag listing.
func normalizeRef(ref string) (string, error) {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return "", fmt.Errorf("invalid image reference %q: %w", ref, err)
	}
	return reference.FamiliarString(reference.TagNameOnly(named)), nil
}
