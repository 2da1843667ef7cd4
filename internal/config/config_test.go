package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suren-cb/qatestsuit/test/fixtures"
)

// clearEnv blanks every variable the loader reads, so host machines
// with DOCKER_HOST or PORT set do not leak into assertions.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"HOST", "PORT", "PUBLIC_HOST", "DOCKER_HOST", "MAX_CONTAINERS",
		"BASIC_AUTH_USERNAME", "BASIC_AUTH_PASSWORD", "DATA_DIR", "SAAS_IMAGES_CONFIG",
	} {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("", fixtures.TestLogger())
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8085, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.PublicHost)
	assert.Empty(t, cfg.Engine.Host)
	assert.Equal(t, 10, cfg.Lifecycle.MaxContainers)
	assert.Equal(t, 10, cfg.Lifecycle.StopGraceSeconds)
	assert.Equal(t, 3600, cfg.Lifecycle.CleanupMaxAgeSeconds)
	assert.Equal(t, "qa", cfg.Lifecycle.NamePrefix)
	assert.Equal(t, "qatestsuit", cfg.Auth.Username)
	assert.Equal(t, "data", cfg.Storage.DataDir)
	assert.Empty(t, cfg.Images)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), fixtures.TestLogger())
	require.NoError(t, err)
	assert.Equal(t, 8085, cfg.Server.Port)
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	clearEnv(t)

	path := writeFile(t, "config.yaml", `
server:
  port: 9090
  public_host: qa.example.com
lifecycle:
  max_containers: 3
images:
  - name: Web
    image: qa/web:1
    exposed_port: 80
`)

	cfg, err := Load(path, fixtures.TestLogger())
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "qa.example.com", cfg.Server.PublicHost)
	assert.Equal(t, 3, cfg.Lifecycle.MaxContainers)
	// Untouched sections keep their defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "qa", cfg.Lifecycle.NamePrefix)

	require.Len(t, cfg.Images, 1)
	assert.Equal(t, "qa/web:1", cfg.Images[0].Image)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.yaml", "server:\n  port: 9090\n")

	t.Setenv("PORT", "7000")
	t.Setenv("PUBLIC_HOST", "ci.internal")
	t.Setenv("DOCKER_HOST", "tcp://build-03:2375")
	t.Setenv("MAX_CONTAINERS", "25")
	t.Setenv("BASIC_AUTH_PASSWORD", "hunter2")

	cfg, err := Load(path, fixtures.TestLogger())
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "ci.internal", cfg.Server.PublicHost)
	assert.Equal(t, "tcp://build-03:2375", cfg.Engine.Host)
	assert.Equal(t, 25, cfg.Lifecycle.MaxContainers)
	assert.Equal(t, "hunter2", cfg.Auth.Password)
}

func TestImagesFileExtendsSeeds(t *testing.T) {
	clearEnv(t)

	configPath := writeFile(t, "config.yaml", `
images:
  - name: Web
    image: qa/web:1
    exposed_port: 80
`)
	imagesPath := writeFile(t, "images.yaml", `
- name: Mail
  image: qa/mail:2
  exposed_port: 8025
  credentials:
    username: qa
    password: secret
`)
	t.Setenv("SAAS_IMAGES_CONFIG", imagesPath)

	cfg, err := Load(configPath, fixtures.TestLogger())
	require.NoError(t, err)

	require.Len(t, cfg.Images, 2)
	assert.Equal(t, "Mail", cfg.Images[1].Name)

	reqs := cfg.SeedRequests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "qa/mail:2", reqs[1].ImageName)
	assert.Equal(t, map[string]string{"username": "qa", "password": "secret"}, reqs[1].Credentials)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) string
		want  string
	}{
		{
			name: "malformed yaml",
			setup: func(t *testing.T) string {
				return writeFile(t, "config.yaml", "server: [not a map")
			},
			want: "failed to parse",
		},
		{
			name: "non-numeric port env",
			setup: func(t *testing.T) string {
				t.Setenv("PORT", "eighty")
				return ""
			},
			want: "PORT",
		},
		{
			name: "port out of range",
			setup: func(t *testing.T) string {
				return writeFile(t, "config.yaml", "server:\n  port: 99999\n")
			},
			want: "server port",
		},
		{
			name: "zero max containers",
			setup: func(t *testing.T) string {
				return writeFile(t, "config.yaml", "lifecycle:\n  max_containers: -1\n")
			},
			want: "max containers",
		},
		{
			name: "seed without image",
			setup: func(t *testing.T) string {
				return writeFile(t, "config.yaml", "images:\n  - name: Web\n    exposed_port: 80\n")
			},
			want: "name and image",
		},
		{
			name: "seed with bad port",
			setup: func(t *testing.T) string {
				return writeFile(t, "config.yaml", "images:\n  - name: Web\n    image: qa/web:1\n    exposed_port: 0\n")
			},
			want: "exposed port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			path := tt.setup(t)

			_, err := Load(path, fixtures.TestLogger())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
