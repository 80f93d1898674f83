package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/joho/godotenv"
)

type Config struct {
	Port    string
	DataDir string

	// Registry
	RegistryURL         string
	RegistryUser        string
	RegistryPass        string
	RegistryLocation    string
	RegistryTimeout     time.Duration
	RegistryMaxAttempts uint
	RegistryCacheTTL    time.Duration

	// Template images are pulled as {RepoOwner}/{RepoName}:{image_name}.
	RepoOwner string
	RepoName  string

	// Builds
	ImageNamespace string
	BuildWorkers   int
	MaxArchiveSize datasize.ByteSize

	// Template sync
	SyncParallelism int
	SyncOnStartup   bool
	SyncPullImages  bool

	JwtSecret  string
	AdminToken string

	// OpenTelemetry
	OtelEnabled     bool
	OtelEndpoint    string
	OtelInsecure    bool
	OtelServiceName string
	Environment     string
	Version         string
}

// Load loads configuration from environment variables
// Automatically loads .env file if present
func Load() *Config {
	// Try to load .env file (fail silently if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:    getEnv("PORT", "8080"),
		DataDir: getEnv("DATA_DIR", "/var/lib/imagehub"),

		RegistryURL:         getEnv("DOCKER_REGISTRY_URL", ""),
		RegistryUser:        getEnv("DOCKER_REGISTRY_USER", ""),
		RegistryPass:        getEnv("DOCKER_REGISTRY_PASS", ""),
		RegistryLocation:    getEnv("DOCKER_REGISTRY_LOC", ""),
		RegistryTimeout:     getEnvDuration("REGISTRY_TIMEOUT", 10*time.Second),
		RegistryMaxAttempts: uint(getEnvInt("REGISTRY_MAX_ATTEMPTS", 5)),
		RegistryCacheTTL:    getEnvDuration("REGISTRY_CACHE_TTL", 0),

		RepoOwner: getEnv("DOCKER_HUB_REPO_OWNER", ""),
		RepoName:  getEnv("DOCKER_HUB_REPO_NAME", ""),

		ImageNamespace: getEnv("IMAGE_NAMESPACE", "agentaai"),
		BuildWorkers:   getEnvInt("BUILD_WORKERS", 4),
		MaxArchiveSize: getEnvSize("MAX_ARCHIVE_SIZE", 2*datasize.GB),

		SyncParallelism: getEnvInt("SYNC_PARALLELISM", 4),
		SyncOnStartup:   getEnvBool("SYNC_ON_STARTUP", true),
		SyncPullImages:  getEnvBool("SYNC_PULL_IMAGES", true),

		JwtSecret:  getEnv("JWT_SECRET", ""),
		AdminToken: getEnv("ADMIN_TOKEN", ""),

		OtelEnabled:     getEnvBool("OTEL_ENABLED", false),
		OtelEndpoint:    getEnv("OTEL_ENDPOINT", "127.0.0.1:4317"),
		OtelInsecure:    getEnvBool("OTEL_INSECURE", true),
		OtelServiceName: getEnv("OTEL_SERVICE_NAME", "imagehub"),
		Environment:     getEnv("ENV", "unset"),
		Version:         getEnv("VERSION", "dev"),
	}

	return cfg
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.BuildWorkers < 1 {
		errs = append(errs, fmt.Errorf("BUILD_WORKERS must be positive, got %d", c.BuildWorkers))
	}
	if c.SyncParallelism < 1 {
		errs = append(errs, fmt.Errorf("SYNC_PARALLELISM must be positive, got %d", c.SyncParallelism))
	}
	if c.RegistryMaxAttempts < 1 {
		errs = append(errs, errors.New("REGISTRY_MAX_ATTEMPTS must be positive"))
	}
	if c.SyncOnStartup && c.RegistryURL == "" {
		errs = append(errs, errors.New("DOCKER_REGISTRY_URL is required when SYNC_ON_STARTUP is set"))
	}
	if c.MaxArchiveSize == 0 {
		errs = append(errs, errors.New("MAX_ARCHIVE_SIZE must be positive"))
	}
	if c.JwtSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSize(key string, defaultValue datasize.ByteSize) datasize.ByteSize {
	if value := os.Getenv(key); value != "" {
		var s datasize.ByteSize
		if err := s.UnmarshalText([]byte(value)); err == nil {
			return s
		}
	}
	return defaultValue
}
