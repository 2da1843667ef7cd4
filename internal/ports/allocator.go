// Package ports hands out unused host ports for container port publishing.
package ports

import (
	"fmt"
	"net"
)

// Allocator obtains unused host ports.
type Allocator interface {
	Allocate() (int, error)
}

// OSAllocator defers to the operating system's ephemeral port assignment
// by transiently binding a listener on port 0 and reading back the
// assigned port. No port state is kept between calls.
type OSAllocator struct{}

// NewAllocator creates an OS-backed port allocator.
func NewAllocator() *OSAllocator {
	return &OSAllocator{}
}

// Allocate returns a port that was unused at the time of the call. The
// socket is released before returning, so the result is a hint: a later
// bind on the port can still fail if another process claims it first,
// and callers must treat that as retryable.
func (a *OSAllocator) Allocate() (int, error) {
	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, fmt.Errorf("failed to reserve host port: %w", err)
	}

	addr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		return 0, fmt.Errorf("unexpected listener address type %T", listener.Addr())
	}
	port := addr.Port

	if err := listener.Close(); err != nil {
		return 0, fmt.Errorf("failed to release reserved port %d: %w", port, err)
	}
	return port, nil
}
