package integration

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suren-cb/qatestsuit/internal/catalog"
	"github.com/suren-cb/qatestsuit/internal/instance"
	"github.com/suren-cb/qatestsuit/internal/pull"
	"github.com/suren-cb/qatestsuit/internal/web"
	"github.com/suren-cb/qatestsuit/pkg/api"
	"github.com/suren-cb/qatestsuit/pkg/client"
	"github.com/suren-cb/qatestsuit/test/fixtures"
)

const (
	testUser     = "qa"
	testPassword = "secret"
)

// stack is the full service wired up in-process: sqlite catalog, fake
// engine, lifecycle manager and the HTTP layer behind a test listener.
type stack struct {
	engine  *fixtures.FakeEngine
	manager *instance.Manager
	client  *client.Client
	httpURL string
}

func newStack(t *testing.T, cfg instance.Config) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := fixtures.TestLogger()

	eng := fixtures.NewFakeEngine(logger)
	puller := pull.NewCoordinator(eng, logger)
	manager := instance.NewManager(cfg, eng, puller, &fixtures.SequentialAllocator{Base: 42000}, logger)

	imageCatalog, err := catalog.New(t.TempDir(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { imageCatalog.Close() })

	server := web.NewServer(web.Options{
		Username: testUser,
		Password: testPassword,
		Version:  "test",
	}, manager, imageCatalog, puller, eng, logger)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return &stack{
		engine:  eng,
		manager: manager,
		client:  client.NewClient(ts.URL, client.WithBasicAuth(testUser, testPassword)),
		httpURL: ts.URL,
	}
}

func (s *stack) registerWebImage(t *testing.T) string {
	t.Helper()
	def, err := s.client.RegisterImage(api.RegisterImageRequest{
		Name:        "Web App",
		ImageName:   "web:1",
		ExposedPort: 80,
	})
	require.NoError(t, err)
	require.NotNil(t, def)
	return def.ImageID
}

// TestInstanceLifecycle drives the happy path end to end through the
// REST API: register an image, start an instance, inspect it, stop it.
func TestInstanceLifecycle(t *testing.T) {
	s := newStack(t, instance.Config{PublicHost: "qa.example.com"})

	imageID := s.registerWebImage(t)
	assert.Equal(t, "web-app", imageID)

	info, err := s.client.StartContainer(imageID)
	require.NoError(t, err)
	require.NotNil(t, info)

	assert.NotEmpty(t, info.InstanceID)
	assert.NotEqual(t, 80, info.HostPort)
	assert.Contains(t, info.URL, fmt.Sprintf(":%d", info.HostPort))
	assert.Contains(t, info.URL, "qa.example.com")
	assert.Equal(t, "running", info.Status)
	assert.Equal(t, 1, s.engine.ContainerCount())

	status, err := s.client.ContainerStatus(info.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, info.InstanceID, status.InstanceID)
	assert.Equal(t, "running", status.Status)
	assert.NotEmpty(t, status.Uptime)

	list, err := s.client.ListContainers()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, info.InstanceID, list[0].InstanceID)

	require.NoError(t, s.client.StopContainer(info.InstanceID))
	assert.Equal(t, 0, s.engine.ContainerCount())

	_, err = s.client.ContainerStatus(info.InstanceID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

// TestStopIsIdempotentOverTheAPI exercises the "stop means ensure it is
// gone" contract: a container deleted behind the service's back still
// stops cleanly, and only a never-tracked id yields 404.
func TestStopIsIdempotentOverTheAPI(t *testing.T) {
	s := newStack(t, instance.Config{})

	imageID := s.registerWebImage(t)
	info, err := s.client.StartContainer(imageID)
	require.NoError(t, err)

	s.engine.RemoveExternally(info.ContainerID)
	require.NoError(t, s.client.StopContainer(info.InstanceID))

	err = s.client.StopContainer(info.InstanceID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestCapacityExceededOverTheAPI(t *testing.T) {
	s := newStack(t, instance.Config{Capacity: 1})

	imageID := s.registerWebImage(t)
	first, err := s.client.StartContainer(imageID)
	require.NoError(t, err)

	_, err = s.client.StartContainer(imageID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")

	require.NoError(t, s.client.StopContainer(first.InstanceID))
	_, err = s.client.StartContainer(imageID)
	require.NoError(t, err)
}

func TestCleanupAndStopAllOverTheAPI(t *testing.T) {
	s := newStack(t, instance.Config{})

	imageID := s.registerWebImage(t)
	for i := 0; i < 3; i++ {
		_, err := s.client.StartContainer(imageID)
		require.NoError(t, err)
	}
	time.Sleep(5 * time.Millisecond)

	// A huge threshold reclaims nothing.
	result, err := s.client.Cleanup(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Stopped)
	assert.Equal(t, 3, s.engine.ContainerCount())

	// A zero threshold reclaims everything, fresh instances included.
	result, err = s.client.Cleanup(0)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Stopped)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 0, s.engine.ContainerCount())

	_, err = s.client.StartContainer(imageID)
	require.NoError(t, err)

	result, err = s.client.StopAll()
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stopped)
	assert.Equal(t, 0, s.engine.ContainerCount())

	list, err := s.client.ListContainers()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestUnknownImageYields404(t *testing.T) {
	s := newStack(t, instance.Config{})

	_, err := s.client.StartContainer("no-such-image")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestAPIRejectsBadCredentials(t *testing.T) {
	s := newStack(t, instance.Config{})

	badClient := client.NewClient(s.httpURL, client.WithBasicAuth(testUser, "wrong"))
	_, err := badClient.ListContainers()
	require.Error(t, err)

	req, err := http.NewRequest(http.MethodGet, s.httpURL+"/api/containers", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Basic")
}

// TestCatalogRoundTripOverTheAPI covers the image registry surface the
// container endpoints depend on.
func TestCatalogRoundTripOverTheAPI(t *testing.T) {
	s := newStack(t, instance.Config{})

	def, err := s.client.RegisterImage(api.RegisterImageRequest{
		Name:        "Postgres 16",
		ImageName:   "postgres:16",
		ExposedPort: 5432,
		Env:         []string{"POSTGRES_PASSWORD=qa"},
		Credentials: map[string]string{"username": "postgres", "password": "qa"},
	})
	require.NoError(t, err)
	assert.Equal(t, "postgres-16", def.ImageID)

	fetched, err := s.client.GetImage(def.ImageID)
	require.NoError(t, err)
	assert.Equal(t, "postgres:16", fetched.ImageName)
	assert.Equal(t, []string{"POSTGRES_PASSWORD=qa"}, fetched.Env)

	require.NoError(t, s.client.PullImage(def.ImageID))
	assert.Equal(t, 1, s.engine.Pulls("postgres:16"))

	defs, err := s.client.ListImages()
	require.NoError(t, err)
	require.Len(t, defs, 1)

	require.NoError(t, s.client.DeleteImage(def.ImageID))
	_, err = s.client.GetImage(def.ImageID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestHealthReportsEngineReachability(t *testing.T) {
	s := newStack(t, instance.Config{})

	health, err := s.client.Health()
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)

	s.engine.PingErr = fmt.Errorf("daemon down")
	health, err = s.client.Health()
	require.NoError(t, err)
	assert.Equal(t, "degraded", health.Status)
}
