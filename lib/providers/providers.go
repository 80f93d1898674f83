// Package providers holds the wire providers that assemble the API server.
package providers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kedeai/imagehub/cmd/api/config"
	"github.com/kedeai/imagehub/lib/builds"
	"github.com/kedeai/imagehub/lib/containers"
	"github.com/kedeai/imagehub/lib/images"
	"github.com/kedeai/imagehub/lib/logger"
	hubotel "github.com/kedeai/imagehub/lib/otel"
	"github.com/kedeai/imagehub/lib/paths"
	"github.com/kedeai/imagehub/lib/registry"
	"github.com/kedeai/imagehub/lib/runtime"
	"github.com/kedeai/imagehub/lib/templates"
)

// ProvideContext provides a base context
func ProvideContext() context.Context {
	return context.Background()
}

// ProvideConfig provides the validated application configuration
func ProvideConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ProvideOtel installs telemetry providers; they are flushed on cleanup.
func ProvideOtel(ctx context.Context, cfg *config.Config) (*hubotel.Provider, func(), error) {
	p, err := hubotel.Init(ctx, hubotel.Config{
		Enabled:        cfg.OtelEnabled,
		Endpoint:       cfg.OtelEndpoint,
		Insecure:       cfg.OtelInsecure,
		ServiceName:    cfg.OtelServiceName,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init otel: %w", err)
	}
	return p, func() { _ = p.Shutdown(context.Background()) }, nil
}

// ProvideLogger provides the api subsystem logger and installs it as the
// default.
func ProvideLogger(otel *hubotel.Provider) *slog.Logger {
	log := logger.NewSubsystemLogger(logger.SubsystemAPI, logger.NewConfig(), otel.LogHandler)
	slog.SetDefault(log)
	return log
}

func subsystemLogger(otel *hubotel.Provider, subsystem string) *slog.Logger {
	return logger.NewSubsystemLogger(subsystem, logger.NewConfig(), otel.LogHandler)
}

// ProvidePaths provides the data directory layout
func ProvidePaths(cfg *config.Config) *paths.Paths {
	return paths.New(cfg.DataDir)
}

// ProvideRuntime connects to the container runtime once; the same client
// backs builds, pulls and restarts.
func ProvideRuntime() (runtime.Runtime, func(), error) {
	d, err := runtime.NewDocker()
	if err != nil {
		return nil, nil, err
	}
	return d, func() { _ = d.Close() }, nil
}

// ProvideRegistryClient provides the registry client, cached when
// REGISTRY_CACHE_TTL is set.
func ProvideRegistryClient(cfg *config.Config, otel *hubotel.Provider) (registry.Client, error) {
	metrics, err := hubotel.NewRegistryMetrics(otel.Meter("imagehub/registry"))
	if err != nil {
		return nil, err
	}
	c, err := registry.NewHTTPClient(registry.Config{
		URL:         cfg.RegistryURL,
		Username:    cfg.RegistryUser,
		Password:    cfg.RegistryPass,
		Timeout:     cfg.RegistryTimeout,
		MaxAttempts: cfg.RegistryMaxAttempts,
	},
		registry.WithMetrics(metrics),
		registry.WithTracer(otel.Tracer("imagehub/registry")),
		registry.WithLogger(subsystemLogger(otel, logger.SubsystemRegistry)),
	)
	if err != nil {
		return nil, err
	}
	if cfg.RegistryCacheTTL > 0 {
		return registry.NewCachedClient(c, cfg.RegistryCacheTTL), nil
	}
	return c, nil
}

// ProvideImageMetrics provides the build and pull instruments
func ProvideImageMetrics(otel *hubotel.Provider) (*hubotel.ImageMetrics, error) {
	return hubotel.NewImageMetrics(otel.Meter("imagehub/images"))
}

// ProvideBuilder provides the image builder
func ProvideBuilder(rt runtime.Runtime, p *paths.Paths, cfg *config.Config, metrics *hubotel.ImageMetrics) *images.Builder {
	return images.NewBuilder(rt, p, images.BuilderConfig{
		Namespace:       cfg.ImageNamespace,
		MaxArchiveBytes: int64(cfg.MaxArchiveSize.Bytes()),
	}, metrics)
}

// ProvidePuller provides the image puller
func ProvidePuller(rt runtime.Runtime, metrics *hubotel.ImageMetrics) *images.Puller {
	return images.NewPuller(rt, metrics)
}

// ProvideCoordinator provides the build coordinator. Cleanup waits up to a
// minute for running builds.
func ProvideCoordinator(builder *images.Builder, cfg *config.Config, otel *hubotel.Provider) (*builds.Coordinator, func(), error) {
	log := subsystemLogger(otel, logger.SubsystemBuilds)
	c := builds.NewCoordinator(builder, builds.Config{
		Workers:   cfg.BuildWorkers,
		Namespace: cfg.ImageNamespace,
	}, log, nil)

	metrics, err := builds.NewMetrics(otel.Meter("imagehub/builds"), c.Queue())
	if err != nil {
		return nil, nil, err
	}
	c.SetMetrics(metrics)

	return c, func() {
		ctx, cancel := context.WithTimeout(context.Background(), builds.ShutdownTimeout)
		defer cancel()
		if err := c.Close(ctx); err != nil {
			log.Warn("builds still running at shutdown", "error", err)
		}
	}, nil
}

// ProvideTemplateStore opens the template catalog database
func ProvideTemplateStore(ctx context.Context, p *paths.Paths) (templates.Store, func(), error) {
	s, err := templates.OpenSQLite(ctx, p.CatalogDB())
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}

// ProvideSynchronizer provides the template synchronizer
func ProvideSynchronizer(
	reg registry.Client,
	store templates.Store,
	puller *images.Puller,
	cfg *config.Config,
	otel *hubotel.Provider,
) (*templates.Synchronizer, error) {
	metrics, err := hubotel.NewSyncMetrics(otel.Meter("imagehub/templates"), store.Count)
	if err != nil {
		return nil, err
	}
	return templates.NewSynchronizer(reg, store, puller, templates.SyncConfig{
		Parallelism: cfg.SyncParallelism,
		PullImages:  cfg.SyncPullImages,
		Registry:    cfg.RegistryLocation,
		Username:    cfg.RegistryUser,
		Password:    cfg.RegistryPass,
	},
		subsystemLogger(otel, logger.SubsystemTemplates),
		templates.WithMetrics(metrics),
		templates.WithTracer(otel.Tracer("imagehub/templates")),
	), nil
}

// ProvideRestarter provides the container restarter
func ProvideRestarter(rt runtime.Runtime) *containers.Restarter {
	return containers.NewRestarter(rt)
}
