// fluxcached is the worker/server process: it loads config, opens the
// configured persistence backend, installs a recipe, and keeps the
// dataflow graph running until signaled. It carries no client wire
// listener — that framing is an explicit non-goal (see spec's "External
// collaborators" note) — the process exists to host the dataflow graph;
// cmd/fluxctl talks to one directly in-process for the admin operations.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fluxcache/fluxcache/internal/config"
	"github.com/fluxcache/fluxcache/internal/metrics"
	"github.com/fluxcache/fluxcache/internal/worker"
)

var (
	configPath string
	recipePath string
)

var rootCmd = &cobra.Command{
	Use:   "fluxcached",
	Short: "fluxcached - the fluxcache dataflow worker",
	Long:  `fluxcached hosts one domain's worth of the dataflow graph: base tables, operators, and partially materialized views, serving lookups and absorbing writes per the installed recipe.`,
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "fluxcache.yaml", "path to the worker's YAML config")
	rootCmd.Flags().StringVar(&recipePath, "recipe", "", "optional recipe file to install at startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	loader, err := config.NewLoader(configPath)
	if err != nil {
		return fmt.Errorf("fluxcached: %w", err)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("fluxcached: %w", err)
	}

	logger := log.New(log.Writer(), "[fluxcached] ", log.LstdFlags)

	reader, err := metrics.NewStdoutExporter()
	if err != nil {
		return fmt.Errorf("fluxcached: metrics: %w", err)
	}
	registry, err := metrics.New(ctx, reader)
	if err != nil {
		return fmt.Errorf("fluxcached: metrics: %w", err)
	}

	builder := worker.NewBuilder(cfg).WithMetrics(registry).WithLogger(logger)
	if backend := cfg.PersistenceBackend(); backend != "" {
		builder = builder.WithPersistence(backend, cfg.PersistenceDSN)
	}

	w, err := builder.Build(ctx)
	if err != nil {
		return fmt.Errorf("fluxcached: build: %w", err)
	}
	defer func() {
		if err := w.Close(context.Background()); err != nil {
			logger.Printf("close: %v", err)
		}
	}()

	if recipePath != "" {
		src, err := os.ReadFile(recipePath)
		if err != nil {
			return fmt.Errorf("fluxcached: reading recipe: %w", err)
		}
		if _, err := w.InstallRecipe(string(src)); err != nil {
			return fmt.Errorf("fluxcached: installing recipe: %w", err)
		}
		logger.Printf("installed recipe from %s", recipePath)
	}

	if err := loader.Watch(func(next config.Config) {
		logger.Printf("config changed: reloaded hot-reloadable fields %v", config.HotReloadableFields())
	}); err != nil {
		logger.Printf("config: watch failed, continuing without hot-reload: %v", err)
	}

	logger.Printf("fluxcached running (durability=%s, reuse=%s)", cfg.Durability, cfg.Reuse)
	<-ctx.Done()
	logger.Printf("shutting down")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
