//go:build wireinject

package main

import (
	"context"
	"log/slog"

	"github.com/google/wire"
	"github.com/kedeai/imagehub/cmd/api/api"
	"github.com/kedeai/imagehub/cmd/api/config"
	"github.com/kedeai/imagehub/lib/builds"
	"github.com/kedeai/imagehub/lib/containers"
	"github.com/kedeai/imagehub/lib/images"
	hubotel "github.com/kedeai/imagehub/lib/otel"
	"github.com/kedeai/imagehub/lib/paths"
	"github.com/kedeai/imagehub/lib/providers"
	"github.com/kedeai/imagehub/lib/registry"
	"github.com/kedeai/imagehub/lib/runtime"
	"github.com/kedeai/imagehub/lib/templates"
)

// application struct to hold initialized components
type application struct {
	Ctx          context.Context
	Logger       *slog.Logger
	Config       *config.Config
	Otel         *hubotel.Provider
	Paths        *paths.Paths
	Runtime      runtime.Runtime
	Registry     registry.Client
	Store        templates.Store
	Builder      *images.Builder
	Puller       *images.Puller
	Coordinator  *builds.Coordinator
	Synchronizer *templates.Synchronizer
	Restarter    *containers.Restarter
	ApiService   *api.ApiService
}

// initializeApp is the injector function
func initializeApp() (*application, func(), error) {
	panic(wire.Build(
		providers.ProvideContext,
		providers.ProvideConfig,
		providers.ProvideOtel,
		providers.ProvideLogger,
		providers.ProvidePaths,
		providers.ProvideRuntime,
		providers.ProvideRegistryClient,
		providers.ProvideImageMetrics,
		providers.ProvideBuilder,
		providers.ProvidePuller,
		providers.ProvideCoordinator,
		providers.ProvideTemplateStore,
		providers.ProvideSynchronizer,
		providers.ProvideRestarter,
		api.New,
		wire.Struct(new(application), "*"),
	))
}
