// fluxctl is the admin CLI issuing install_recipe/extend_recipe/status/
// graphviz operations (§6). There is no admin RPC surface in scope (the
// original spec's "controller's HTTP admin surface" is an explicit
// non-goal, §1) so fluxctl does not dial a remote fluxcached: it builds a
// worker.Worker against the same config and persistence backend a
// long-running fluxcached would use, applies the requested operation, and
// exits — the same pattern the teacher's cmd/bd uses for one-shot
// operations against its local store rather than a server round-trip.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fluxcache/fluxcache/internal/config"
	"github.com/fluxcache/fluxcache/internal/worker"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "fluxctl",
	Short: "fluxctl - fluxcache admin CLI",
	Long:  `fluxctl applies recipe activations and reports graph status against a fluxcache worker built from the same config a fluxcached process would use.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "fluxcache.yaml", "path to the worker's YAML config")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.AddCommand(installRecipeCmd)
	rootCmd.AddCommand(extendRecipeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(graphvizCmd)
}

var installRecipeCmd = &cobra.Command{
	Use:   "install-recipe <recipe-file>",
	Short: "install a recipe, replacing any previously installed queries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorker(func(ctx context.Context, w *worker.Worker) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("fluxctl: reading recipe: %w", err)
			}
			id, err := w.InstallRecipe(string(src))
			if err != nil {
				return fmt.Errorf("fluxctl: install-recipe: %w", err)
			}
			res := w.Controller.LastActivation()
			fmt.Fprintf(cmd.OutOrStdout(), "migration %s: added=%d removed=%d reused=%d\n", id, res.Added, res.Removed, res.Reused)
			return nil
		})
	},
}

var extendRecipeCmd = &cobra.Command{
	Use:   "extend-recipe <recipe-file>",
	Short: "add statements onto the currently active recipe",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorker(func(ctx context.Context, w *worker.Worker) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("fluxctl: reading recipe: %w", err)
			}
			id, err := w.ExtendRecipe(string(src))
			if err != nil {
				return fmt.Errorf("fluxctl: extend-recipe: %w", err)
			}
			res := w.Controller.LastActivation()
			fmt.Fprintf(cmd.OutOrStdout(), "migration %s: added=%d removed=%d reused=%d\n", id, res.Added, res.Removed, res.Reused)
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "print the admin status vector (§6 status())",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorker(func(ctx context.Context, w *worker.Worker) error {
			for k, v := range w.Status() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", k, v)
			}
			return nil
		})
	},
}

var graphvizCmd = &cobra.Command{
	Use:   "graphviz",
	Short: "dump the dataflow graph in dot format (§6 graphviz())",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorker(func(ctx context.Context, w *worker.Worker) error {
			fmt.Fprint(cmd.OutOrStdout(), w.Graphviz())
			return nil
		})
	},
}

// withWorker builds a worker.Worker from the --config path, runs fn against
// it, and closes it afterward; every subcommand goes through this so the
// backend-open/close lifecycle is never duplicated across commands.
func withWorker(fn func(ctx context.Context, w *worker.Worker) error) error {
	ctx := context.Background()

	loader, err := config.NewLoader(configPath)
	if err != nil {
		return fmt.Errorf("fluxctl: %w", err)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("fluxctl: %w", err)
	}

	logger := log.New(log.Writer(), "[fluxctl] ", log.LstdFlags)
	builder := worker.NewBuilder(cfg).WithLogger(logger)
	if backend := cfg.PersistenceBackend(); backend != "" {
		builder = builder.WithPersistence(backend, cfg.PersistenceDSN)
	}

	w, err := builder.Build(ctx)
	if err != nil {
		return fmt.Errorf("fluxctl: build: %w", err)
	}
	defer func() {
		if err := w.Close(context.Background()); err != nil {
			logger.Printf("close: %v", err)
		}
	}()

	return fn(ctx, w)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
