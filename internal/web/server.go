// Package web exposes the instance lifecycle and image catalog over a
// Basic Auth guarded REST API.
package web

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Options configures the HTTP server.
type Options struct {
	// Host is the bind address.
	Host string
	// Port is the listen port.
	Port int
	// Username and Password guard every route.
	Username string
	Password string
	// Version is reported by the info endpoint.
	Version string
}

// Server is the REST facade over the instance manager and image catalog.
type Server struct {
	opts    Options
	router  *gin.Engine
	manager InstanceManager
	catalog ImageCatalog
	puller  ImagePuller
	pinger  EnginePinger
	logger  *logrus.Logger
	version string
	started time.Time
	server  *http.Server
	mu      sync.RWMutex
}

// NewServer creates the API server and wires up its routes.
func NewServer(
	opts Options,
	manager InstanceManager,
	imageCatalog ImageCatalog,
	puller ImagePuller,
	pinger EnginePinger,
	logger *logrus.Logger,
) *Server {
	if logger == nil {
		logger = logrus.New()
	}

	ws := &Server{
		opts:    opts,
		router:  gin.New(),
		manager: manager,
		catalog: imageCatalog,
		puller:  puller,
		pinger:  pinger,
		logger:  logger,
		version: opts.Version,
		started: time.Now().UTC(),
	}

	ws.setupMiddleware()
	ws.setupRoutes()

	return ws
}

// setupMiddleware sets up the middleware
func (ws *Server) setupMiddleware() {
	ws.router.Use(RecoveryHandler(ws.logger))
	ws.router.Use(LoggingMiddleware(ws.logger))
	ws.router.Use(ErrorHandler(ws.logger))

	// Response time tracking
	ws.router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)
		c.Header("X-Response-Time", duration.String())
	})

	ws.router.Use(CORSMiddleware())
	// Every route, the health check included, sits behind Basic Auth:
	// the service starts arbitrary registered images, so nothing about
	// it is safe to expose unauthenticated.
	ws.router.Use(BasicAuth(ws.opts.Username, ws.opts.Password))
}

// setupRoutes sets up the HTTP routes
func (ws *Server) setupRoutes() {
	ws.router.GET("/health", ws.healthHandler)

	api := ws.router.Group("/api")
	{
		api.GET("/info", ws.infoHandler)

		api.POST("/images/register", ws.registerImageHandler)
		api.GET("/images", ws.listImagesHandler)
		api.GET("/images/:id", ws.getImageHandler)
		api.DELETE("/images/:id", ws.deleteImageHandler)
		api.POST("/images/:id/pull", ws.pullImageHandler)

		api.POST("/containers/start", ws.startContainerHandler)
		api.POST("/containers/:id/stop", ws.stopContainerHandler)
		api.GET("/containers/:id", ws.containerStatusHandler)
		api.GET("/containers", ws.listContainersHandler)
		api.POST("/containers/stop-all", ws.stopAllHandler)
		api.POST("/containers/cleanup", ws.cleanupHandler)
	}
}

// Handler returns the HTTP handler, for tests that drive the API
// without a listening socket.
func (ws *Server) Handler() http.Handler {
	return ws.router
}

// Start starts the API server.
func (ws *Server) Start() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	addr := fmt.Sprintf("%s:%d", ws.opts.Host, ws.opts.Port)
	ws.logger.Infof("Starting API server on %s", addr)

	ws.server = &http.Server{
		Addr:    addr,
		Handler: ws.router,
	}

	go func() {
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ws.logger.Errorf("Failed to start API server: %v", err)
		}
	}()

	return nil
}

// Stop stops the API server.
func (ws *Server) Stop(ctx context.Context) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.server == nil {
		return nil
	}

	ws.logger.Info("Stopping API server")

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown API server: %w", err)
	}

	ws.server = nil
	return nil
}
