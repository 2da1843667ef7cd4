// Package engine defines the container engine surface the lifecycle
// manager depends on. Production code uses DockerEngine; tests use the
// mock engine from test/fixtures.
package engine

import (
	"context"
	"errors"
)

// ErrNotFound reports that the engine does not know the referenced
// container. Stop and remove paths treat it as idempotent success;
// status paths treat it as a stale handle. Implementations wrap it so
// errors.Is(err, ErrNotFound) holds.
var ErrNotFound = errors.New("not found")

// ContainerSpec describes a container to create and start.
type ContainerSpec struct {
	Name        string
	Image       string
	Env         []string
	Command     []string
	Entrypoint  []string
	ExposedPort int
	HostPort    int
	Labels      map[string]string
}

// ContainerState is the live state of a container as reported by the engine.
type ContainerState struct {
	Status   string
	Running  bool
	ExitCode int
}

// Engine is the minimal capability surface consumed by the lifecycle manager.
type Engine interface {
	// Ping checks that the engine daemon is reachable.
	Ping(ctx context.Context) error

	// ListImages returns the references of images already present on the host.
	ListImages(ctx context.Context) ([]string, error)

	// PullImage pulls an image and blocks until the pull stream completes
	// or fails. registryAuth is an optional base64 auth header for private
	// registries.
	PullImage(ctx context.Context, ref string, registryAuth string) error

	// CreateContainer creates a container from the spec and returns the
	// engine-assigned container ID.
	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)

	// StartContainer starts a created container.
	StartContainer(ctx context.Context, id string) error

	// InspectContainer returns the live state of a container.
	InspectContainer(ctx context.Context, id string) (ContainerState, error)

	// StopContainer gracefully stops a container, waiting up to
	// graceSeconds before the engine kills it.
	StopContainer(ctx context.Context, id string, graceSeconds int) error

	// RemoveContainer removes a container from the engine.
	RemoveContainer(ctx context.Context, id string, force bool) error

	// Close releases the engine client.
	Close() error
}
