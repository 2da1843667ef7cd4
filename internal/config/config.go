// Package config loads service configuration. Values come from three
// layers, each overriding the last: built-in defaults, an optional
// YAML file, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/suren-cb/qatestsuit/pkg/api"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Engine    EngineConfig    `yaml:"engine"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Auth      AuthConfig      `yaml:"auth"`
	Storage   StorageConfig   `yaml:"storage"`
	Images    []ImageSeed     `yaml:"images"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the listen port.
	Port int `yaml:"port"`
	// PublicHost is the hostname QA suites use to reach started
	// containers; it is embedded in instance URLs.
	PublicHost string `yaml:"public_host"`
}

// EngineConfig configures the connection to the container engine.
type EngineConfig struct {
	// Host is the engine endpoint, e.g. unix:///var/run/docker.sock or
	// tcp://host:2375. Empty uses the engine client's default.
	Host string `yaml:"host"`
}

// LifecycleConfig carries the instance lifecycle policy.
type LifecycleConfig struct {
	// MaxContainers caps concurrently active instances.
	MaxContainers int `yaml:"max_containers"`
	// StopGraceSeconds is granted to a container before it is killed.
	StopGraceSeconds int `yaml:"stop_grace_seconds"`
	// CleanupMaxAgeSeconds is the default reclamation age.
	CleanupMaxAgeSeconds int `yaml:"cleanup_max_age_seconds"`
	// ReclaimIntervalSeconds is the background sweep period. Zero
	// disables the background sweep.
	ReclaimIntervalSeconds int `yaml:"reclaim_interval_seconds"`
	// NamePrefix prefixes every container name the service creates.
	NamePrefix string `yaml:"name_prefix"`
}

// AuthConfig carries the Basic Auth credentials guarding the API.
type AuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// StorageConfig configures local persistence.
type StorageConfig struct {
	// DataDir holds the catalog database.
	DataDir string `yaml:"data_dir"`
}

// ImageSeed is one catalog entry applied at boot.
type ImageSeed struct {
	Name            string            `yaml:"name"`
	Image           string            `yaml:"image"`
	ExposedPort     int               `yaml:"exposed_port"`
	HostPort        int               `yaml:"host_port"`
	Command         []string          `yaml:"command"`
	Entrypoint      []string          `yaml:"entrypoint"`
	Env             []string          `yaml:"env"`
	Credentials     map[string]string `yaml:"credentials"`
	Description     string            `yaml:"description"`
	HealthCheckPath string            `yaml:"health_check_path"`
	RegistryAuth    string            `yaml:"registry_auth"`
	WaitTimeMs      int               `yaml:"wait_time_ms"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:       "0.0.0.0",
			Port:       8085,
			PublicHost: "localhost",
		},
		Lifecycle: LifecycleConfig{
			MaxContainers:          10,
			StopGraceSeconds:       10,
			CleanupMaxAgeSeconds:   3600,
			ReclaimIntervalSeconds: 600,
			NamePrefix:             "qa",
		},
		Auth: AuthConfig{
			Username: "qatestsuit",
			Password: "d09r5uBDo7o3cq3C",
		},
		Storage: StorageConfig{
			DataDir: "data",
		},
	}
}

// Load builds the effective configuration: defaults, overlaid with the
// YAML file at path if one exists, overlaid with environment variables.
// An empty path skips the file layer.
func Load(path string, logger *logrus.Logger) (Config, error) {
	if logger == nil {
		logger = logrus.New()
	}
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			logger.WithField("path", path).Info("No config file found, using defaults")
		case err != nil:
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
			logger.WithField("path", path).Info("Loaded configuration file")
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto the configuration.
func (c *Config) applyEnv() error {
	setString(&c.Server.Host, "HOST")
	if err := setInt(&c.Server.Port, "PORT"); err != nil {
		return err
	}
	setString(&c.Server.PublicHost, "PUBLIC_HOST")
	setString(&c.Engine.Host, "DOCKER_HOST")
	if err := setInt(&c.Lifecycle.MaxContainers, "MAX_CONTAINERS"); err != nil {
		return err
	}
	setString(&c.Auth.Username, "BASIC_AUTH_USERNAME")
	setString(&c.Auth.Password, "BASIC_AUTH_PASSWORD")
	setString(&c.Storage.DataDir, "DATA_DIR")

	// A standalone images file can extend the seed list, so QA teams can
	// ship their image set separately from the service config.
	if path := os.Getenv("SAAS_IMAGES_CONFIG"); path != "" {
		seeds, err := loadImagesFile(path)
		if err != nil {
			return err
		}
		c.Images = append(c.Images, seeds...)
	}
	return nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be in 1-65535, got %d", c.Server.Port)
	}
	if c.Lifecycle.MaxContainers < 1 {
		return fmt.Errorf("max containers must be at least 1, got %d", c.Lifecycle.MaxContainers)
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("data directory must not be empty")
	}
	for i, seed := range c.Images {
		if seed.Name == "" || seed.Image == "" {
			return fmt.Errorf("image seed %d: name and image are required", i)
		}
		if seed.ExposedPort < 1 || seed.ExposedPort > 65535 {
			return fmt.Errorf("image seed %q: exposed port must be in 1-65535, got %d", seed.Name, seed.ExposedPort)
		}
	}
	return nil
}

// SeedRequests converts the configured image seeds into catalog
// registration requests.
func (c *Config) SeedRequests() []api.RegisterImageRequest {
	reqs := make([]api.RegisterImageRequest, 0, len(c.Images))
	for _, seed := range c.Images {
		reqs = append(reqs, api.RegisterImageRequest{
			Name:            seed.Name,
			ImageName:       seed.Image,
			ExposedPort:     seed.ExposedPort,
			HostPort:        seed.HostPort,
			Command:         seed.Command,
			Entrypoint:      seed.Entrypoint,
			Env:             seed.Env,
			Credentials:     seed.Credentials,
			Description:     seed.Description,
			HealthCheckPath: seed.HealthCheckPath,
			RegistryAuth:    seed.RegistryAuth,
			WaitTimeMs:      seed.WaitTimeMs,
		})
	}
	return reqs
}

// loadImagesFile reads a YAML file holding a bare list of image seeds.
func loadImagesFile(path string) ([]ImageSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read images file %s: %w", path, err)
	}
	var seeds []ImageSeed
	if err := yaml.Unmarshal(data, &seeds); err != nil {
		return nil, fmt.Errorf("failed to parse images file %s: %w", path, err)
	}
	return seeds, nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("environment variable %s must be an integer, got %q", key, v)
	}
	*dst = n
	return nil
}
