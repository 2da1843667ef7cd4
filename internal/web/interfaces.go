package web

import (
	"context"
	"time"

	"github.com/suren-cb/qatestsuit/internal/instance"
	"github.com/suren-cb/qatestsuit/pkg/api"
)

// InstanceManager defines the interface for container instance lifecycle management
type InstanceManager interface {
	Start(ctx context.Context, opts instance.StartOptions) (*api.ContainerInfo, error)
	Stop(ctx context.Context, id string) error
	Status(ctx context.Context, id string) (*api.ContainerInfo, error)
	List(ctx context.Context) []api.ContainerInfo
	Cleanup(ctx context.Context, maxAge time.Duration) instance.SweepResult
	StopAll(ctx context.Context) instance.SweepResult
}

// ImageCatalog defines the interface for image definition management
type ImageCatalog interface {
	Register(req api.RegisterImageRequest) (*api.ImageDefinition, error)
	Get(id string) (*api.ImageDefinition, error)
	List() ([]api.ImageDefinition, error)
	Delete(id string) error
}

// ImagePuller defines the interface for fetching images ahead of use
type ImagePuller interface {
	EnsurePresent(ctx context.Context, ref string, registryAuth string) error
}

// EnginePinger defines the interface for engine reachability checks
type EnginePinger interface {
	Ping(ctx context.Context) error
}
