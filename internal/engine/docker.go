package engine

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/go-connections/nat"
	"github.com/sirupsen/logrus"
)

// DockerEngine implements Engine against a Docker daemon.
type DockerEngine struct {
	cli    *client.Client
	logger *logrus.Logger
}

// NewDockerEngine creates a Docker-backed engine. An empty host uses the
// DOCKER_HOST environment variable or the default daemon socket.
func NewDockerEngine(host string, logger *logrus.Logger) (*DockerEngine, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
	}

	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return &DockerEngine{
		cli:    cli,
		logger: logger,
	}, nil
}

// Ping checks that the Docker daemon is reachable.
func (e *DockerEngine) Ping(ctx context.Context) error {
	if _, err := e.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon unreachable: %w", err)
	}
	return nil
}

// ListImages returns all repo tags known to the local daemon.
func (e *DockerEngine) ListImages(ctx context.Context) ([]string, error) {
	summaries, err := e.cli.ImageList(ctx, image.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}

	var refs []string
	for _, s := range summaries {
		refs = append(refs, s.RepoTags...)
	}
	return refs, nil
}

// PullImage pulls ref and drains the progress stream. An error embedded
// in the stream by the daemon is surfaced the same way as a transport error.
func (e *DockerEngine) PullImage(ctx context.Context, ref string, registryAuth string) error {
	e.logger.WithField("image", ref).Info("Pulling image")

	reader, err := e.cli.ImagePull(ctx, ref, image.PullOptions{RegistryAuth: registryAuth})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer reader.Close()

	if err := jsonmessage.DisplayJSONMessagesStream(reader, io.Discard, 0, false, nil); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}

	e.logger.WithField("image", ref).Info("Successfully pulled image")
	return nil
}

// CreateContainer creates a container publishing spec.HostPort to
// spec.ExposedPort inside the container.
func (e *DockerEngine) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	e.logger.WithFields(logrus.Fields{
		"name":      spec.Name,
		"image":     spec.Image,
		"host_port": spec.HostPort,
	}).Info("Creating container")

	exposed := nat.Port(fmt.Sprintf("%d/tcp", spec.ExposedPort))

	config := &container.Config{
		Image:        spec.Image,
		Env:          spec.Env,
		Cmd:          spec.Command,
		Entrypoint:   spec.Entrypoint,
		Labels:       spec.Labels,
		ExposedPorts: nat.PortSet{exposed: struct{}{}},
	}
	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			exposed: []nat.PortBinding{{
				HostIP:   "0.0.0.0",
				HostPort: strconv.Itoa(spec.HostPort),
			}},
		},
	}

	resp, err := e.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", spec.Name, err)
	}

	e.logger.WithFields(logrus.Fields{
		"name":         spec.Name,
		"container_id": resp.ID,
	}).Info("Successfully created container")

	return resp.ID, nil
}

// StartContainer starts a created container.
func (e *DockerEngine) StartContainer(ctx context.Context, id string) error {
	if err := e.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return e.wrapContainerErr(id, "start", err)
	}
	return nil
}

// InspectContainer returns the live state of a container.
func (e *DockerEngine) InspectContainer(ctx context.Context, id string) (ContainerState, error) {
	info, err := e.cli.ContainerInspect(ctx, id)
	if err != nil {
		return ContainerState{}, e.wrapContainerErr(id, "inspect", err)
	}

	state := ContainerState{}
	if info.State != nil {
		state.Status = info.State.Status
		state.Running = info.State.Running
		state.ExitCode = info.State.ExitCode
	}
	return state, nil
}

// StopContainer gracefully stops a container with the given grace period.
func (e *DockerEngine) StopContainer(ctx context.Context, id string, graceSeconds int) error {
	e.logger.WithFields(logrus.Fields{
		"container_id": id,
		"grace_s":      graceSeconds,
	}).Info("Stopping container")

	timeout := graceSeconds
	if err := e.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		return e.wrapContainerErr(id, "stop", err)
	}
	return nil
}

// RemoveContainer removes a container, optionally killing it first.
func (e *DockerEngine) RemoveContainer(ctx context.Context, id string, force bool) error {
	if err := e.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: force}); err != nil {
		return e.wrapContainerErr(id, "remove", err)
	}

	e.logger.WithField("container_id", id).Info("Successfully removed container")
	return nil
}

// Close releases the Docker client.
func (e *DockerEngine) Close() error {
	return e.cli.Close()
}

// wrapContainerErr converts the daemon's 404 into ErrNotFound so callers
// can distinguish a missing container from other failures.
func (e *DockerEngine) wrapContainerErr(id, op string, err error) error {
	if client.IsErrNotFound(err) {
		return fmt.Errorf("%s container %s: %w", op, id, ErrNotFound)
	}
	return fmt.Errorf("failed to %s container %s: %w", op, id, err)
}
