package pull

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource is an image source with controllable pull behavior.
type fakeSource struct {
	mu        sync.Mutex
	local     []string
	pullCount int
	pullErr   error

	// When set, PullImage blocks until the channel is closed. started is
	// closed once the first pull is underway.
	block   chan struct{}
	started chan struct{}
	once    sync.Once
}

func (f *fakeSource) ListImages(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.local...), nil
}

func (f *fakeSource) PullImage(ctx context.Context, ref string, registryAuth string) error {
	f.mu.Lock()
	f.pullCount++
	f.mu.Unlock()

	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if f.block != nil {
		<-f.block
	}
	if f.pullErr != nil {
		return f.pullErr
	}

	f.mu.Lock()
	f.local = append(f.local, ref)
	f.mu.Unlock()
	return nil
}

func (f *fakeSource) pulls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pullCount
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestEnsurePresent(t *testing.T) {
	ctx := context.Background()

	t.Run("skips pull when image is local", func(t *testing.T) {
		source := &fakeSource{local: []string{"nginx:latest"}}
		coordinator := NewCoordinator(source, newTestLogger())

		err := coordinator.EnsurePresent(ctx, "nginx", "")
		require.NoError(t, err)
		assert.Equal(t, 0, source.pulls())
	})

	t.Run("pulls missing image with normalized tag", func(t *testing.T) {
		source := &fakeSource{}
		coordinator := NewCoordinator(source, newTestLogger())

		err := coordinator.EnsurePresent(ctx, "nginx", "")
		require.NoError(t, err)
		assert.Equal(t, 1, source.pulls())
		assert.Contains(t, source.local, "nginx:latest")
	})

	t.Run("second call after pull hits the local cache", func(t *testing.T) {
		source := &fakeSource{}
		coordinator := NewCoordinator(source, newTestLogger())

		require.NoError(t, coordinator.EnsurePresent(ctx, "redis:7", ""))
		require.NoError(t, coordinator.EnsurePresent(ctx, "redis:7", ""))
		assert.Equal(t, 1, source.pulls())
	})

	t.Run("rejects invalid references", func(t *testing.T) {
		source := &fakeSource{}
		coordinator := NewCoordinator(source, newTestLogger())

		err := coordinator.EnsurePresent(ctx, "NOT a ref", "")
		require.Error(t, err)
		assert.Equal(t, 0, source.pulls())
	})
}

func TestEnsurePresentConcurrentPullsCollapse(t *testing.T) {
	source := &fakeSource{
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	coordinator := NewCoordinator(source, newTestLogger())

	const waiters = 5
	errs := make(chan error, waiters)

	// First caller initiates the pull and parks on the block channel.
	go func() {
		errs <- coordinator.EnsurePresent(context.Background(), "postgres:16", "")
	}()

	select {
	case <-source.started:
	case <-time.After(2 * time.Second):
		t.Fatal("pull never started")
	}

	// Remaining callers must join the in-flight pull instead of starting
	// their own.
	for i := 1; i < waiters; i++ {
		go func() {
			errs <- coordinator.EnsurePresent(context.Background(), "postgres:16", "")
		}()
	}
	time.Sleep(100 * time.Millisecond)
	close(source.block)

	for i := 0; i < waiters; i++ {
		select {
		case err := <-errs:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("waiter did not finish")
		}
	}
	assert.Equal(t, 1, source.pulls())
}

func TestEnsurePresentSharesPullFailure(t *testing.T) {
	pullErr := errors.New("registry unreachable")
	source := &fakeSource{
		block:   make(chan struct{}),
		started: make(chan struct{}),
		pullErr: pullErr,
	}
	coordinator := NewCoordinator(source, newTestLogger())

	const waiters = 3
	errs := make(chan error, waiters)
	go func() {
		errs <- coordinator.EnsurePresent(context.Background(), "ghost:1", "")
	}()

	select {
	case <-source.started:
	case <-time.After(2 * time.Second):
		t.Fatal("pull never started")
	}
	for i := 1; i < waiters; i++ {
		go func() {
			errs <- coordinator.EnsurePresent(context.Background(), "ghost:1", "")
		}()
	}
	// Give the waiters time to join the in-flight pull before releasing it.
	time.Sleep(100 * time.Millisecond)
	close(source.block)

	for i := 0; i < waiters; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, pullErr)
		case <-time.After(2 * time.Second):
			t.Fatal("waiter did not finish")
		}
	}
	assert.Equal(t, 1, source.pulls())
}
