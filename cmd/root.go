// Package cmd defines the leadharvest command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/leadharvest/internal/config"
	"github.com/JakeFAU/leadharvest/internal/logging"
)

// env is what PersistentPreRunE hands to the subcommands.
type env struct {
	configPath string
	cfg        config.Config
	logger     *zap.Logger
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	e := &env{logger: zap.NewNop()}
	cmd := &cobra.Command{
		Use:   "leadharvest",
		Short: "Harvest business contacts from maps listings and their websites.",
		Long: `leadharvest searches a maps query for businesses, crawls each business
website (plus a few external and archived pages), extracts people with an
LLM and merges the results into a deduplicated contact store.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(e.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Config{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)
			e.cfg = cfg
			e.logger = logger
			return nil
		},

		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			// stderr sync fails on some terminals; nothing useful to do about it
			_ = e.logger.Sync()
		},
	}

	cmd.PersistentFlags().StringVar(&e.configPath, "config", "", "config file (YAML)")

	cmd.AddCommand(
		newRunCmd(e),
		newImportCmd(e),
		newMigrateCmd(e),
		newServeCmd(e),
	)
	return cmd
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
