// Package fixtures provides shared test doubles and helpers.
package fixtures

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/suren-cb/qatestsuit/internal/engine"
)

// FakeContainer is one container tracked by the fake engine.
type FakeContainer struct {
	ID      string
	Spec    engine.ContainerSpec
	Running bool
}

// FakeEngine is an in-memory engine.Engine. Containers live in a map,
// pulls are recorded per reference, and individual operations can be
// made to fail by setting the corresponding error field.
type FakeEngine struct {
	mu         sync.Mutex
	logger     *logrus.Logger
	containers map[string]*FakeContainer
	images     map[string]bool
	pullCounts map[string]int
	nextID     int

	PingErr    error
	PullErr    error
	CreateErr  error
	StartErr   error
	InspectErr error
	StopErr    error
	RemoveErr  error
}

// NewFakeEngine creates an empty fake engine.
func NewFakeEngine(logger *logrus.Logger) *FakeEngine {
	if logger == nil {
		logger = TestLogger()
	}
	return &FakeEngine{
		logger:     logger,
		containers: make(map[string]*FakeContainer),
		images:     make(map[string]bool),
		pullCounts: make(map[string]int),
	}
}

// Ping implements engine.Engine.
func (f *FakeEngine) Ping(ctx context.Context) error {
	return f.PingErr
}

// ListImages implements engine.Engine.
func (f *FakeEngine) ListImages(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	refs := make([]string, 0, len(f.images))
	for ref := range f.images {
		refs = append(refs, ref)
	}
	return refs, nil
}

// PullImage implements engine.Engine.
func (f *FakeEngine) PullImage(ctx context.Context, ref string, registryAuth string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pullCounts[ref]++
	if f.PullErr != nil {
		return f.PullErr
	}
	f.images[ref] = true
	f.logger.WithField("image", ref).Debug("fake: pulled image")
	return nil
}

// CreateContainer implements engine.Engine.
func (f *FakeEngine) CreateContainer(ctx context.Context, spec engine.ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	f.nextID++
	id := fmt.Sprintf("engine-%04d", f.nextID)
	f.containers[id] = &FakeContainer{ID: id, Spec: spec}
	f.logger.WithFields(logrus.Fields{"container_id": id, "name": spec.Name}).Debug("fake: created container")
	return id, nil
}

// StartContainer implements engine.Engine.
func (f *FakeEngine) StartContainer(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.StartErr != nil {
		return f.StartErr
	}
	c, ok := f.containers[id]
	if !ok {
		return fmt.Errorf("start container %s: %w", id, engine.ErrNotFound)
	}
	c.Running = true
	return nil
}

// InspectContainer implements engine.Engine.
func (f *FakeEngine) InspectContainer(ctx context.Context, id string) (engine.ContainerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.InspectErr != nil {
		return engine.ContainerState{}, f.InspectErr
	}
	c, ok := f.containers[id]
	if !ok {
		return engine.ContainerState{}, fmt.Errorf("inspect container %s: %w", id, engine.ErrNotFound)
	}
	status := "exited"
	if c.Running {
		status = "running"
	}
	return engine.ContainerState{Status: status, Running: c.Running}, nil
}

// StopContainer implements engine.Engine.
func (f *FakeEngine) StopContainer(ctx context.Context, id string, graceSeconds int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.StopErr != nil {
		return f.StopErr
	}
	c, ok := f.containers[id]
	if !ok {
		return fmt.Errorf("stop container %s: %w", id, engine.ErrNotFound)
	}
	c.Running = false
	return nil
}

// RemoveContainer implements engine.Engine.
func (f *FakeEngine) RemoveContainer(ctx context.Context, id string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.RemoveErr != nil {
		return f.RemoveErr
	}
	if _, ok := f.containers[id]; !ok {
		return fmt.Errorf("remove container %s: %w", id, engine.ErrNotFound)
	}
	delete(f.containers, id)
	return nil
}

// Close implements engine.Engine.
func (f *FakeEngine) Close() error {
	return nil
}

// AddImage marks a reference as already present locally.
func (f *FakeEngine) AddImage(ref string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images[ref] = true
}

// RemoveExternally deletes a container behind the manager's back, the
// way a "docker rm -f" outside this process would.
func (f *FakeEngine) RemoveExternally(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, id)
}

// ContainerCount returns how many containers exist at the engine.
func (f *FakeEngine) ContainerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.containers)
}

// Container returns a copy of one container by engine id.
func (f *FakeEngine) Container(id string) (FakeContainer, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.containers[id]
	if !ok {
		return FakeContainer{}, false
	}
	return *c, true
}

// Pulls returns how many times ref was pulled.
func (f *FakeEngine) Pulls(ref string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pullCounts[ref]
}
