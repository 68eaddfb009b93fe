// Package cmd provides the CLI commands for apollos.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jrmatherly/apollos/internal/config"
	"github.com/jrmatherly/apollos/internal/embed"
	"github.com/jrmatherly/apollos/internal/logging"
	"github.com/jrmatherly/apollos/internal/store"
	"github.com/jrmatherly/apollos/pkg/version"
)

// Persistent flags shared by all subcommands.
var (
	configPath     string
	dataDirFlag    string
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the apollos CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apollos",
		Short: "Semantic search over personal content",
		Long: `Apollos indexes personal content (notes, files, web pages, email)
into per-user corpora and answers natural-language queries with
embedding search, optional cross-encoder reranking, and query-syntax
filters for dates, paths, and exact words.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("apollos version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (YAML)")
	cmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Override data directory")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRunE = teardownLogging

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func setupLogging(_ *cobra.Command, _ []string) error {
	logCfg := logging.DefaultConfig()
	if debugMode {
		logCfg.Level = "debug"
	}
	cleanup, err := logging.SetupDefault(logCfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	loggingCleanup = cleanup
	return nil
}

func teardownLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig resolves configuration from file, environment, and flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dataDirFlag != "" {
		cfg.DataDir = dataDirFlag
	}
	return cfg, nil
}

// openCore builds the embedder and entry store from configuration. The
// store dimension follows the embedder so that provider auto-detection
// and configured dimensions agree.
func openCore(ctx context.Context, cfg *config.Config) (embed.Embedder, *store.Store, error) {
	embedder, err := embed.New(ctx, cfg.Embeddings)
	if err != nil {
		return nil, nil, err
	}

	s, err := store.Open(ctx, store.Config{
		Dir:        filepath.Join(cfg.DataDir, "store"),
		Dimensions: embedder.Dimensions(),
		Model:      embedder.ModelName(),
	})
	if err != nil {
		_ = embedder.Close()
		return nil, nil, err
	}
	return embedder, s, nil
}

// closeCore closes the store and embedder, logging failures.
func closeCore(embedder embed.Embedder, s *store.Store) {
	if err := s.Close(); err != nil {
		slog.Warn("store_close_failed", slog.String("error", err.Error()))
	}
	if err := embedder.Close(); err != nil {
		slog.Warn("embedder_close_failed", slog.String("error", err.Error()))
	}
}
