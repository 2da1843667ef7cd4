// Package instance tracks the containers this service has created and
// drives them through their lifecycle.
//
// State transitions:
//
//	Pending → Pulling → Creating → Running → Stopping → Removed
//
// Any failure before Running moves the instance to Failed. Failed and
// Removed rows are deleted from the registry immediately, so the
// registry only ever holds instances that still have (or are acquiring)
// an engine-side resource.
package instance

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a tracked instance.
type State string

const (
	// StatePending marks a row that was inserted but whose engine work has not started.
	StatePending State = "pending"
	// StatePulling marks an instance whose image is being pulled.
	StatePulling State = "pulling"
	// StateCreating marks an instance whose container is being created and started.
	StateCreating State = "creating"
	// StateRunning marks an instance whose container is running.
	StateRunning State = "running"
	// StateStopping marks an instance with a stop in flight.
	StateStopping State = "stopping"
	// StateStopped marks an instance whose container has exited but still exists.
	StateStopped State = "stopped"
	// StateRemoved marks an instance whose container is gone from the engine.
	StateRemoved State = "removed"
	// StateFailed marks an instance whose start failed before it was running.
	StateFailed State = "failed"
)

// isActive reports whether a state counts against the capacity limit.
func isActive(s State) bool {
	switch s {
	case StatePending, StatePulling, StateCreating, StateRunning, StateStopping:
		return true
	}
	return false
}

// Instance is one tracked container. The registry owns all field
// mutation; callers receive value copies.
type Instance struct {
	ID            string
	ImageID       string
	ImageRef      string
	ContainerID   string
	ContainerName string
	ExposedPort   int
	HostPort      int
	State         State
	CreatedAt     time.Time
	Credentials   map[string]string
}

// URL returns the address QA suites reach the instance at.
func (i Instance) URL(publicHost string) string {
	return fmt.Sprintf("http://%s:%d", publicHost, i.HostPort)
}

// StartOptions describes the container an instance should run.
type StartOptions struct {
	ImageID      string
	ImageRef     string
	ExposedPort  int
	HostPort     int // fixed host port; 0 allocates one
	Env          []string
	Command      []string
	Entrypoint   []string
	Credentials  map[string]string
	RegistryAuth string
}

// SweepResult reports the outcome of a cleanup or stop-all pass.
type SweepResult struct {
	Stopped int
	IDs     []string
	Errors  map[string]string
}

// ValidationError reports malformed caller input, rejected before any
// side effect.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// CapacityError reports that starting another instance would exceed the
// configured limit. No side effect has taken place.
type CapacityError struct {
	Limit  int
	Active int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("capacity exceeded: %d of %d instances active", e.Active, e.Limit)
}

// NotFoundError reports an instance id this manager does not track, or
// whose engine-side resource is gone.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("instance %s not found", e.ID)
}

// RuntimeError wraps an engine failure with the operation that hit it.
type RuntimeError struct {
	Op  string
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// formatUptime renders a duration the way QA dashboards show it.
func formatUptime(d time.Duration) string {
	seconds := int(d.Seconds())
	if seconds < 0 {
		seconds = 0
	}
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
	default:
		return fmt.Sprintf("%dh %dm", seconds/3600, (seconds%3600)/60)
	}
}
