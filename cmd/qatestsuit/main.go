package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/suren-cb/qatestsuit/internal/catalog"
	"github.com/suren-cb/qatestsuit/internal/config"
	"github.com/suren-cb/qatestsuit/internal/engine"
	"github.com/suren-cb/qatestsuit/internal/instance"
	"github.com/suren-cb/qatestsuit/internal/ports"
	"github.com/suren-cb/qatestsuit/internal/pull"
	"github.com/suren-cb/qatestsuit/internal/web"
)

var (
	// Version is set during build
	Version = "dev"
	// BuildTime is set during build
	BuildTime = "unknown"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	var (
		configPath string
		debug      bool
	)

	rootCmd := &cobra.Command{
		Use:   "qatestsuit",
		Short: "Disposable container instances for QA automation",
		Long: `qatestsuit exposes a small REST API over a container engine so QA
suites can start disposable, isolated service instances on demand and
tear them down deterministically.`,
		Run: func(cmd *cobra.Command, args []string) {
			if debug {
				log.SetLevel(logrus.DebugLevel)
			}
			log.Infof("Starting qatestsuit %s (built at %s)", Version, BuildTime)
			runServer(log, configPath)
		},
	}

	rootCmd.Flags().StringVar(&configPath, "config", "config.yaml", "Path to the configuration file")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("qatestsuit %s (built at %s)\n", Version, BuildTime)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Failed to execute command: %v", err)
	}
}

func runServer(log *logrus.Logger, configPath string) {
	cfg, err := config.Load(configPath, log)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, err := createServer(ctx, log, cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Infof("qatestsuit is listening on %s:%d. Press Ctrl+C to stop.", cfg.Server.Host, cfg.Server.Port)

	sig := <-sigCh
	log.Infof("Received signal %v, shutting down...", sig)

	cancel()

	if err := shutdownServer(server); err != nil {
		log.Errorf("Error during shutdown: %v", err)
	}

	log.Info("Shutdown complete")
}

// server bundles everything that has to be shut down in order.
type server struct {
	engine    *engine.DockerEngine
	catalog   *catalog.Catalog
	manager   *instance.Manager
	webServer *web.Server
	logger    *logrus.Logger
}

func createServer(ctx context.Context, log *logrus.Logger, cfg config.Config) (*server, error) {
	dockerEngine, err := engine.NewDockerEngine(cfg.Engine.Host, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine client: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := dockerEngine.Ping(pingCtx); err != nil {
		log.WithError(err).Warn("Container engine is not reachable yet; container operations will fail until it is")
	}

	imageCatalog, err := catalog.New(cfg.Storage.DataDir, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open image catalog: %w", err)
	}
	if seeds := cfg.SeedRequests(); len(seeds) > 0 {
		if _, err := imageCatalog.Seed(seeds); err != nil {
			return nil, fmt.Errorf("failed to seed image catalog: %w", err)
		}
	}

	puller := pull.NewCoordinator(dockerEngine, log)
	manager := instance.NewManager(instance.Config{
		Capacity:      cfg.Lifecycle.MaxContainers,
		StopGrace:     time.Duration(cfg.Lifecycle.StopGraceSeconds) * time.Second,
		CleanupMaxAge: time.Duration(cfg.Lifecycle.CleanupMaxAgeSeconds) * time.Second,
		NamePrefix:    cfg.Lifecycle.NamePrefix,
		PublicHost:    cfg.Server.PublicHost,
	}, dockerEngine, puller, ports.NewAllocator(), log)

	manager.StartReclaimLoop(ctx, time.Duration(cfg.Lifecycle.ReclaimIntervalSeconds)*time.Second)

	webServer := web.NewServer(web.Options{
		Host:     cfg.Server.Host,
		Port:     cfg.Server.Port,
		Username: cfg.Auth.Username,
		Password: cfg.Auth.Password,
		Version:  Version,
	}, manager, imageCatalog, puller, dockerEngine, log)

	if err := webServer.Start(); err != nil {
		return nil, fmt.Errorf("failed to start web server: %w", err)
	}

	return &server{
		engine:    dockerEngine,
		catalog:   imageCatalog,
		manager:   manager,
		webServer: webServer,
		logger:    log,
	}, nil
}

// shutdownServer drains the HTTP listener first, then stops every
// tracked instance before the process exits, so no container outlives
// its manager.
func shutdownServer(s *server) error {
	if s.webServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.webServer.Stop(ctx); err != nil {
			s.logger.Errorf("Failed to stop web server: %v", err)
		}
	}

	if s.manager != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		result := s.manager.StopAll(ctx)
		if len(result.Errors) > 0 {
			s.logger.Errorf("Failed to stop %d instances during shutdown: %v", len(result.Errors), result.Errors)
		}
	}

	if s.catalog != nil {
		if err := s.catalog.Close(); err != nil {
			s.logger.Errorf("Failed to close image catalog: %v", err)
		}
	}

	if s.engine != nil {
		if err := s.engine.Close(); err != nil {
			s.logger.Errorf("Failed to close engine client: %v", err)
		}
	}

	return nil
}
