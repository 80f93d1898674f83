// Command templatesync runs one template synchronization pass against the
// configured registry and prints the result as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kedeai/imagehub/cmd/api/config"
	"github.com/kedeai/imagehub/lib/logger"
	hubotel "github.com/kedeai/imagehub/lib/otel"
	"github.com/kedeai/imagehub/lib/paths"
	"github.com/kedeai/imagehub/lib/providers"
	"github.com/kedeai/imagehub/lib/templates"
)

type options struct {
	noPull      bool
	parallelism int
	db          string
	verbose     bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "templatesync",
		Short: "Synchronize the template catalog with the registry",
		Long: `templatesync lists every repository tag in DOCKER_REGISTRY_URL, records one
template per tag in the catalog database and prunes templates whose tag is
gone. A failed pass leaves the catalog untouched.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSync(ctx, config.Load(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.noPull, "no-pull", false, "Only update the catalog, skip pulling images")
	cmd.Flags().IntVar(&opts.parallelism, "parallelism", 0, "Concurrent registry requests (default SYNC_PARALLELISM)")
	cmd.Flags().StringVar(&opts.db, "db", "", "Catalog database path (default DATA_DIR/catalog.db)")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log every described template")

	return cmd
}

func runSync(ctx context.Context, cfg *config.Config, opts options) error {
	if cfg.RegistryURL == "" {
		return errors.New("DOCKER_REGISTRY_URL is not set")
	}
	if opts.parallelism > 0 {
		cfg.SyncParallelism = opts.parallelism
	}
	if opts.noPull {
		cfg.SyncPullImages = false
	}
	dbPath := opts.db
	if dbPath == "" {
		dbPath = paths.New(cfg.DataDir).CatalogDB()
	}

	logCfg := logger.NewConfig()
	if opts.verbose {
		logCfg.SubsystemLevels[logger.SubsystemTemplates] = slog.LevelDebug
	}
	log := logger.NewSubsystemLogger(logger.SubsystemTemplates, logCfg, nil)

	// Telemetry stays off for one-shot runs.
	otel, err := hubotel.Init(ctx, hubotel.Config{})
	if err != nil {
		return err
	}

	reg, err := providers.ProvideRegistryClient(cfg, otel)
	if err != nil {
		return fmt.Errorf("create registry client: %w", err)
	}

	store, err := templates.OpenSQLite(ctx, dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	var puller templates.Puller
	if cfg.SyncPullImages {
		rt, closeRuntime, err := providers.ProvideRuntime()
		if err != nil {
			return fmt.Errorf("connect to container runtime: %w", err)
		}
		defer closeRuntime()
		metrics, err := providers.ProvideImageMetrics(otel)
		if err != nil {
			return err
		}
		puller = providers.ProvidePuller(rt, metrics)
	}

	sync := templates.NewSynchronizer(reg, store, puller, templates.SyncConfig{
		Parallelism: cfg.SyncParallelism,
		PullImages:  cfg.SyncPullImages,
		Registry:    cfg.RegistryLocation,
		Username:    cfg.RegistryUser,
		Password:    cfg.RegistryPass,
	}, log)

	res, err := sync.Sync(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
