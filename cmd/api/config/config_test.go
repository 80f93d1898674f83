package config

import (
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "IMAGE_NAMESPACE", "BUILD_WORKERS", "SYNC_PARALLELISM",
		"REGISTRY_TIMEOUT", "REGISTRY_MAX_ATTEMPTS", "MAX_ARCHIVE_SIZE", "SYNC_ON_STARTUP", "OTEL_ENABLED"} {
		t.Setenv(key, "")
	}
	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "agentaai", cfg.ImageNamespace)
	assert.Equal(t, 4, cfg.BuildWorkers)
	assert.Equal(t, 4, cfg.SyncParallelism)
	assert.Equal(t, 10*time.Second, cfg.RegistryTimeout)
	assert.Equal(t, uint(5), cfg.RegistryMaxAttempts)
	assert.Equal(t, 2*datasize.GB, cfg.MaxArchiveSize)
	assert.True(t, cfg.SyncOnStartup)
	assert.False(t, cfg.OtelEnabled)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("DOCKER_REGISTRY_URL", "http://127.0.0.1:5000/v2")
	t.Setenv("DOCKER_HUB_REPO_OWNER", "agentaai")
	t.Setenv("DOCKER_HUB_REPO_NAME", "templates")
	t.Setenv("BUILD_WORKERS", "8")
	t.Setenv("SYNC_ON_STARTUP", "false")
	t.Setenv("REGISTRY_TIMEOUT", "3s")
	t.Setenv("REGISTRY_CACHE_TTL", "1m")
	t.Setenv("MAX_ARCHIVE_SIZE", "512MB")

	cfg := Load()
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "http://127.0.0.1:5000/v2", cfg.RegistryURL)
	assert.Equal(t, "agentaai", cfg.RepoOwner)
	assert.Equal(t, "templates", cfg.RepoName)
	assert.Equal(t, 8, cfg.BuildWorkers)
	assert.False(t, cfg.SyncOnStartup)
	assert.Equal(t, 3*time.Second, cfg.RegistryTimeout)
	assert.Equal(t, time.Minute, cfg.RegistryCacheTTL)
	assert.Equal(t, 512*datasize.MB, cfg.MaxArchiveSize)
}

func TestLoad_MalformedFallsBack(t *testing.T) {
	t.Setenv("BUILD_WORKERS", "many")
	t.Setenv("SYNC_ON_STARTUP", "maybe")
	t.Setenv("MAX_ARCHIVE_SIZE", "huge")

	cfg := Load()
	assert.Equal(t, 4, cfg.BuildWorkers)
	assert.True(t, cfg.SyncOnStartup)
	assert.Equal(t, 2*datasize.GB, cfg.MaxArchiveSize)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			RegistryURL:         "http://127.0.0.1:5000/v2",
			RegistryMaxAttempts: 5,
			BuildWorkers:        4,
			SyncParallelism:     4,
			SyncOnStartup:       true,
			MaxArchiveSize:      datasize.GB,
			JwtSecret:           "secret",
		}
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"zero workers", func(c *Config) { c.BuildWorkers = 0 }, "BUILD_WORKERS"},
		{"zero parallelism", func(c *Config) { c.SyncParallelism = 0 }, "SYNC_PARALLELISM"},
		{"zero attempts", func(c *Config) { c.RegistryMaxAttempts = 0 }, "REGISTRY_MAX_ATTEMPTS"},
		{"sync without registry", func(c *Config) { c.RegistryURL = "" }, "DOCKER_REGISTRY_URL"},
		{"zero archive size", func(c *Config) { c.MaxArchiveSize = 0 }, "MAX_ARCHIVE_SIZE"},
		{"no jwt secret", func(c *Config) { c.JwtSecret = "" }, "JWT_SECRET"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Run("registry optional without startup sync", func(t *testing.T) {
		c := valid()
		c.RegistryURL = ""
		c.SyncOnStartup = false
		assert.NoError(t, c.Validate())
	})
}
