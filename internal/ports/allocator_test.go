package ports

import (
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestAllocateReturnsUsablePort(t *testing.T) {
	allocator := NewAllocator()

	port, err := allocator.Allocate()
	require.NoError(t, err)
	assert.Greater(t, port, 0)
	assert.LessOrEqual(t, port, 65535)

	// The port was released, so binding it right away must work.
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	require.NoError(t, err)
	listener.Close()
}

func TestAllocateUnderConcurrency(t *testing.T) {
	allocator := NewAllocator()

	var g errgroup.Group
	results := make([]int, 20)
	for i := 0; i < 20; i++ {
		i := i
		g.Go(func() error {
			port, err := allocator.Allocate()
			if err != nil {
				return err
			}
			results[i] = port
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for _, port := range results {
		assert.Greater(t, port, 0)
	}
}
