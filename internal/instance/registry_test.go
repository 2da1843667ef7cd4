package instance

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryInsertGetDelete(t *testing.T) {
	registry := NewRegistry()

	inst := &Instance{ID: "abc12345", ImageRef: "nginx:latest", State: StatePending, CreatedAt: time.Now()}
	require.NoError(t, registry.Insert(inst))

	got, ok := registry.Get("abc12345")
	require.True(t, ok)
	assert.Equal(t, "nginx:latest", got.ImageRef)
	assert.Equal(t, StatePending, got.State)

	assert.True(t, registry.Delete("abc12345"))
	_, ok = registry.Get("abc12345")
	assert.False(t, ok)
	assert.False(t, registry.Delete("abc12345"))
}

func TestRegistryRejectsDuplicateIDs(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Insert(&Instance{ID: "dup"}))
	err := registry.Insert(&Instance{ID: "dup"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
	assert.Equal(t, 1, registry.Len())
}

func TestRegistryListKeepsInsertionOrder(t *testing.T) {
	registry := NewRegistry()

	for _, id := range []string{"first", "second", "third", "fourth"} {
		require.NoError(t, registry.Insert(&Instance{ID: id}))
	}
	registry.Delete("second")

	list := registry.List()
	require.Len(t, list, 3)
	assert.Equal(t, "first", list[0].ID)
	assert.Equal(t, "third", list[1].ID)
	assert.Equal(t, "fourth", list[2].ID)
}

func TestRegistryUpdateMutatesStoredRow(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Insert(&Instance{ID: "x", State: StatePending}))

	ok := registry.Update("x", func(in *Instance) {
		in.State = StateRunning
		in.ContainerID = "engine-0001"
	})
	require.True(t, ok)

	got, _ := registry.Get("x")
	assert.Equal(t, StateRunning, got.State)
	assert.Equal(t, "engine-0001", got.ContainerID)

	assert.False(t, registry.Update("missing", func(in *Instance) {}))
}

func TestRegistryGetReturnsCopy(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Insert(&Instance{ID: "x", State: StatePending}))

	got, _ := registry.Get("x")
	got.State = StateFailed

	stored, _ := registry.Get("x")
	assert.Equal(t, StatePending, stored.State)
}

func TestRegistryCountActive(t *testing.T) {
	registry := NewRegistry()

	states := []State{StatePending, StatePulling, StateCreating, StateRunning, StateStopping, StateStopped}
	for i, s := range states {
		require.NoError(t, registry.Insert(&Instance{ID: fmt.Sprintf("i%d", i), State: s}))
	}

	// Stopped does not count against capacity.
	assert.Equal(t, 5, registry.CountActive())
	assert.Equal(t, 6, registry.Len())
}

func TestRegistryConcurrentAccess(t *testing.T) {
	registry := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("inst-%d", i)
			_ = registry.Insert(&Instance{ID: id, State: StateRunning})
			registry.Update(id, func(in *Instance) { in.HostPort = 40000 + i })
			registry.List()
			if i%2 == 0 {
				registry.Delete(id)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 25, registry.Len())
}
