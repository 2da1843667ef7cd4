package instance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/suren-cb/qatestsuit/internal/engine"
	"github.com/suren-cb/qatestsuit/internal/ports"
	"github.com/suren-cb/qatestsuit/internal/pull"
	"github.com/suren-cb/qatestsuit/pkg/api"
)

const (
	managedLabel    = "qatestsuit.managed"
	instanceIDLabel = "qatestsuit.instance-id"

	// publicHostPlaceholder in env values is replaced with the configured
	// public host, so containers can hand out URLs that work from the
	// QA runner's side.
	publicHostPlaceholder = "{PUBLIC_HOST}"
)

// Config carries the lifecycle policy knobs.
type Config struct {
	// Capacity is the maximum number of non-terminal instances (default 10).
	Capacity int
	// StopGrace is how long the engine waits before killing a container
	// on stop (default 10s).
	StopGrace time.Duration
	// CleanupMaxAge is the default reclamation age (default 1h).
	CleanupMaxAge time.Duration
	// NamePrefix prefixes every container name this manager creates
	// (default "qa").
	NamePrefix string
	// PublicHost is the hostname placed in instance URLs (default "localhost").
	PublicHost string
}

func (c *Config) applyDefaults() {
	if c.Capacity <= 0 {
		c.Capacity = 10
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 10 * time.Second
	}
	if c.CleanupMaxAge <= 0 {
		c.CleanupMaxAge = time.Hour
	}
	if c.NamePrefix == "" {
		c.NamePrefix = "qa"
	}
	if c.PublicHost == "" {
		c.PublicHost = "localhost"
	}
}

// Manager orchestrates the registry, pull coordinator, port allocator
// and engine to implement the instance lifecycle. Operations on
// different instances proceed concurrently; operations on the same
// instance are serialized through a per-id lock.
type Manager struct {
	config    Config
	registry  *Registry
	engine    engine.Engine
	puller    *pull.Coordinator
	allocator ports.Allocator
	logger    *logrus.Logger

	// startMu makes the capacity check and the Pending insert one
	// critical section; it is never held across engine calls.
	startMu sync.Mutex

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewManager creates a lifecycle manager.
func NewManager(cfg Config, eng engine.Engine, puller *pull.Coordinator, allocator ports.Allocator, logger *logrus.Logger) *Manager {
	cfg.applyDefaults()
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
	}
	return &Manager{
		config:    cfg,
		registry:  NewRegistry(),
		engine:    eng,
		puller:    puller,
		allocator: allocator,
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
	}
}

// Registry exposes the instance table, for status surfaces that only read.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Start provisions a new instance: reserve a row, ensure the image,
// allocate a host port, create and start the container. Any failure
// deletes the row so no placeholder survives a failed start.
func (m *Manager) Start(ctx context.Context, opts StartOptions) (*api.ContainerInfo, error) {
	if opts.ExposedPort <= 0 || opts.ExposedPort > 65535 {
		return nil, &ValidationError{Reason: fmt.Sprintf("exposed port must be in 1-65535, got %d", opts.ExposedPort)}
	}
	if strings.TrimSpace(opts.ImageRef) == "" {
		return nil, &ValidationError{Reason: "image reference is required"}
	}

	id := newInstanceID()
	inst := &Instance{
		ID:            id,
		ImageID:       opts.ImageID,
		ImageRef:      opts.ImageRef,
		ContainerName: m.containerName(opts.ImageID, id),
		ExposedPort:   opts.ExposedPort,
		State:         StatePending,
		CreatedAt:     time.Now().UTC(),
		Credentials:   opts.Credentials,
	}

	// Capacity check and Pending insert are atomic with respect to other
	// starts; the per-id lock is taken before the row becomes visible so
	// a racing stop cannot slip in between.
	m.startMu.Lock()
	if active := m.registry.CountActive(); active >= m.config.Capacity {
		m.startMu.Unlock()
		return nil, &CapacityError{Limit: m.config.Capacity, Active: active}
	}
	lock := m.lockFor(id)
	lock.Lock()
	if err := m.registry.Insert(inst); err != nil {
		m.startMu.Unlock()
		lock.Unlock()
		m.dropLock(id)
		return nil, &RuntimeError{Op: "register instance", Err: err}
	}
	m.startMu.Unlock()
	defer lock.Unlock()

	log := m.logger.WithFields(logrus.Fields{
		"instance_id": id,
		"image":       opts.ImageRef,
	})
	log.Info("Starting instance")

	view, err := m.provision(ctx, id, opts)
	if err != nil {
		m.registry.Update(id, func(in *Instance) { in.State = StateFailed })
		m.registry.Delete(id)
		m.dropLock(id)
		log.WithError(err).Error("Instance start failed")
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"container_id": view.ContainerID,
		"host_port":    view.HostPort,
	}).Info("Instance running")
	return view, nil
}

// provision walks the Pending row through Pulling, Creating and Running.
// The caller holds the per-id lock and handles row deletion on error.
func (m *Manager) provision(ctx context.Context, id string, opts StartOptions) (*api.ContainerInfo, error) {
	m.registry.Update(id, func(in *Instance) { in.State = StatePulling })
	if err := m.puller.EnsurePresent(ctx, opts.ImageRef, opts.RegistryAuth); err != nil {
		return nil, &RuntimeError{Op: fmt.Sprintf("pull image %s", opts.ImageRef), Err: err}
	}

	hostPort := opts.HostPort
	if hostPort == 0 {
		allocated, err := m.allocator.Allocate()
		if err != nil {
			return nil, &RuntimeError{Op: "allocate host port", Err: err}
		}
		hostPort = allocated
	}
	m.registry.Update(id, func(in *Instance) {
		in.State = StateCreating
		in.HostPort = hostPort
	})

	inst, ok := m.registry.Get(id)
	if !ok {
		return nil, &RuntimeError{Op: "provision instance", Err: fmt.Errorf("instance %s vanished from registry", id)}
	}

	spec := engine.ContainerSpec{
		Name:        inst.ContainerName,
		Image:       opts.ImageRef,
		Env:         substitutePublicHost(opts.Env, m.config.PublicHost),
		Command:     opts.Command,
		Entrypoint:  opts.Entrypoint,
		ExposedPort: opts.ExposedPort,
		HostPort:    hostPort,
		Labels: map[string]string{
			managedLabel:    "true",
			instanceIDLabel: id,
		},
	}

	containerID, err := m.engine.CreateContainer(ctx, spec)
	if err != nil {
		return nil, &RuntimeError{Op: "create container", Err: err}
	}
	if err := m.engine.StartContainer(ctx, containerID); err != nil {
		// Remove the half-created container so a failed start leaves
		// nothing behind at the engine.
		if rmErr := m.engine.RemoveContainer(ctx, containerID, true); rmErr != nil && !errors.Is(rmErr, engine.ErrNotFound) {
			m.logger.WithError(rmErr).WithField("container_id", containerID).Warn("Failed to remove container after failed start")
		}
		return nil, &RuntimeError{Op: "start container", Err: err}
	}

	m.registry.Update(id, func(in *Instance) {
		in.State = StateRunning
		in.ContainerID = containerID
	})

	inst, _ = m.registry.Get(id)
	return m.view(inst, string(StateRunning), false), nil
}

// Stop ensures the instance's container is gone and forgets the row.
// A container the engine no longer knows already satisfies that, so
// engine not-found is success. Other engine errors leave the row in
// place for a retry.
func (m *Manager) Stop(ctx context.Context, id string) error {
	if _, ok := m.registry.Get(id); !ok {
		return &NotFoundError{ID: id}
	}

	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	inst, ok := m.registry.Get(id)
	if !ok {
		// A concurrent stop or cleanup removed it while we waited for the
		// lock. It is gone, which is exactly what was asked for.
		return nil
	}

	log := m.logger.WithFields(logrus.Fields{
		"instance_id":  id,
		"container_id": inst.ContainerID,
	})
	log.Info("Stopping instance")

	m.registry.Update(id, func(in *Instance) { in.State = StateStopping })

	if inst.ContainerID != "" {
		grace := int(m.config.StopGrace / time.Second)
		if err := m.engine.StopContainer(ctx, inst.ContainerID, grace); err != nil && !errors.Is(err, engine.ErrNotFound) {
			return &RuntimeError{Op: "stop container", Err: err}
		}
		if err := m.engine.RemoveContainer(ctx, inst.ContainerID, true); err != nil && !errors.Is(err, engine.ErrNotFound) {
			return &RuntimeError{Op: "remove container", Err: err}
		}
	}

	m.registry.Update(id, func(in *Instance) { in.State = StateRemoved })
	m.registry.Delete(id)
	m.dropLock(id)

	log.Info("Instance stopped and removed")
	return nil
}

// Status returns the live view of one instance, merging the engine's
// state with registry metadata. If the engine no longer knows the
// container the row is dropped and NotFound returned: the handle is
// stale and the registry converges to engine reality.
func (m *Manager) Status(ctx context.Context, id string) (*api.ContainerInfo, error) {
	inst, ok := m.registry.Get(id)
	if !ok {
		return nil, &NotFoundError{ID: id}
	}

	if inst.ContainerID == "" {
		// Start still in flight; report the lifecycle state as-is.
		return m.view(inst, string(inst.State), true), nil
	}

	state, err := m.engine.InspectContainer(ctx, inst.ContainerID)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			m.registry.Delete(id)
			m.dropLock(id)
			return nil, &NotFoundError{ID: id}
		}
		return nil, &RuntimeError{Op: "inspect container", Err: err}
	}

	if !state.Running {
		m.registry.Update(id, func(in *Instance) {
			if in.State == StateRunning {
				in.State = StateStopped
			}
		})
	}
	return m.view(inst, state.Status, true), nil
}

// List returns a status view for every tracked instance in insertion
// order. Rows whose container the engine no longer knows are dropped
// from both the result and the registry; listing itself never fails
// because one row went stale.
func (m *Manager) List(ctx context.Context) []api.ContainerInfo {
	snapshot := m.registry.List()
	views := make([]api.ContainerInfo, 0, len(snapshot))

	for _, inst := range snapshot {
		if inst.ContainerID == "" {
			views = append(views, *m.view(inst, string(inst.State), true))
			continue
		}

		state, err := m.engine.InspectContainer(ctx, inst.ContainerID)
		if err != nil {
			if errors.Is(err, engine.ErrNotFound) {
				m.logger.WithField("instance_id", inst.ID).Info("Dropping stale instance, container gone from engine")
				m.registry.Delete(inst.ID)
				m.dropLock(inst.ID)
				continue
			}
			// Transient engine trouble: keep the row, report what we know.
			views = append(views, *m.view(inst, "unknown", true))
			continue
		}

		if !state.Running {
			m.registry.Update(inst.ID, func(in *Instance) {
				if in.State == StateRunning {
					in.State = StateStopped
				}
			})
		}
		views = append(views, *m.view(inst, state.Status, true))
	}
	return views
}

// Cleanup stops every instance older than maxAge. A failing row never
// aborts the sweep; per-row errors are collected and reported together.
func (m *Manager) Cleanup(ctx context.Context, maxAge time.Duration) SweepResult {
	if maxAge < 0 {
		maxAge = m.config.CleanupMaxAge
	}

	result := SweepResult{Errors: make(map[string]string)}
	now := time.Now().UTC()

	for _, inst := range m.registry.List() {
		if now.Sub(inst.CreatedAt) <= maxAge {
			continue
		}
		m.stopTracked(ctx, inst.ID, &result)
	}

	m.logger.WithFields(logrus.Fields{
		"cleaned": result.Stopped,
		"errors":  len(result.Errors),
		"max_age": maxAge.String(),
	}).Info("Cleanup sweep finished")
	return result
}

// StopAll stops every tracked instance, with the same per-row error
// isolation as Cleanup. Called at shutdown before the process gives up
// its listening endpoint, so no instance outlives its manager.
func (m *Manager) StopAll(ctx context.Context) SweepResult {
	result := SweepResult{Errors: make(map[string]string)}
	for _, inst := range m.registry.List() {
		m.stopTracked(ctx, inst.ID, &result)
	}

	m.logger.WithFields(logrus.Fields{
		"stopped": result.Stopped,
		"errors":  len(result.Errors),
	}).Info("Stopped all instances")
	return result
}

// stopTracked runs Stop for a sweep, folding the outcome into result.
// A row that vanished mid-sweep counts as stopped: both the sweep and
// whoever beat it to the row converge on the same end state.
func (m *Manager) stopTracked(ctx context.Context, id string, result *SweepResult) {
	err := m.Stop(ctx, id)

	var notFound *NotFoundError
	if err == nil || errors.As(err, &notFound) {
		result.Stopped++
		result.IDs = append(result.IDs, id)
		return
	}
	result.Errors[id] = err.Error()
}

// StartReclaimLoop periodically sweeps instances older than the
// configured cleanup age until ctx is done.
func (m *Manager) StartReclaimLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Cleanup(ctx, m.config.CleanupMaxAge)
			}
		}
	}()
}

// view renders the wire representation of an instance.
func (m *Manager) view(inst Instance, status string, withUptime bool) *api.ContainerInfo {
	info := &api.ContainerInfo{
		InstanceID:    inst.ID,
		ImageID:       inst.ImageID,
		ContainerID:   inst.ContainerID,
		ContainerName: inst.ContainerName,
		ImageName:     inst.ImageRef,
		HostPort:      inst.HostPort,
		ExposedPort:   inst.ExposedPort,
		URL:           inst.URL(m.config.PublicHost),
		Status:        status,
		CreatedAt:     inst.CreatedAt,
		Credentials:   inst.Credentials,
	}
	if withUptime {
		info.Uptime = formatUptime(time.Since(inst.CreatedAt))
	}
	return info
}

// lockFor returns the mutual-exclusion lock for one instance id,
// creating it on first use.
func (m *Manager) lockFor(id string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	lock, ok := m.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[id] = lock
	}
	return lock
}

// dropLock forgets the lock of a removed instance.
func (m *Manager) dropLock(id string) {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	delete(m.locks, id)
}

// containerName derives the engine-level container name. Instance ids
// are unique for the process lifetime, which keeps names unique too.
func (m *Manager) containerName(imageID, instanceID string) string {
	if imageID == "" {
		return fmt.Sprintf("%s-%s", m.config.NamePrefix, instanceID)
	}
	return fmt.Sprintf("%s-%s-%s", m.config.NamePrefix, imageID, instanceID)
}

// newInstanceID generates a short opaque instance id.
func newInstanceID() string {
	return uuid.NewString()[:8]
}

// substitutePublicHost replaces the public host placeholder in env values.
func substitutePublicHost(env []string, publicHost string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, len(env))
	for i, e := range env {
		out[i] = strings.ReplaceAll(e, publicHostPlaceholder, publicHost)
	}
	return out
}
