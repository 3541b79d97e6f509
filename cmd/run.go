package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/leadharvest/internal/app"
	"github.com/JakeFAU/leadharvest/internal/export"
	"github.com/JakeFAU/leadharvest/internal/leads"
	localstorage "github.com/JakeFAU/leadharvest/internal/storage/local"
)

func newRunCmd(e *env) *cobra.Command {
	var (
		maxBusinesses int
		output        string
	)
	cmd := &cobra.Command{
		Use:   "run <query>",
		Short: "Run the harvest pipeline for a maps query",
		Example: `  leadharvest run "lawyers in New York, NY" --max-businesses 5
  leadharvest run "dentists in Austin" --output leads.json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.TrimSpace(strings.Join(args, " "))
			if query == "" {
				return fmt.Errorf("query must not be empty")
			}
			if maxBusinesses < 0 {
				return fmt.Errorf("--max-businesses must be >= 0")
			}
			a, err := app.New(cmd.Context(), e.cfg, e.logger, app.Options{Crawl: true})
			if err != nil {
				return err
			}
			defer a.Close()

			result, runErr := a.Pipeline.Run(cmd.Context(), query, maxBusinesses)
			doc := export.Document(result.Contacts)
			// a canceled run still reports what it merged
			writeCtx := context.WithoutCancel(cmd.Context())
			if err := writeRunOutput(writeCtx, cmd, output, doc); err != nil {
				return err
			}
			if a.Blobs != nil {
				path := export.ObjectPath(e.cfg.Export.Prefix, query, a.Clock().Now())
				uri, err := export.Store(writeCtx, a.Blobs, path, doc)
				if err != nil {
					e.logger.Warn("export failed", zap.Error(err))
				} else {
					e.logger.Info("results exported", zap.String("uri", uri))
				}
			}
			logSummary(e.logger, "harvest finished", result.Counters)
			if runErr != nil {
				return fmt.Errorf("run %q: %w", query, runErr)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxBusinesses, "max-businesses", 0, "limit processing to the first N businesses (0 = all)")
	cmd.Flags().StringVar(&output, "output", "", "write the JSON results to this file instead of stdout")
	return cmd
}

// writeRunOutput prints doc, or writes it atomically to path.
func writeRunOutput(ctx context.Context, cmd *cobra.Command, path string, doc export.Document) error {
	if path == "" {
		if err := export.Write(cmd.OutOrStdout(), doc); err != nil {
			return fmt.Errorf("print results: %w", err)
		}
		return nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}
	store, err := localstorage.New(localstorage.Config{BaseDir: filepath.Dir(abs)})
	if err != nil {
		return fmt.Errorf("open output directory: %w", err)
	}
	if _, err := export.Store(ctx, store, filepath.Base(abs), doc); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %d contacts to %s\n", doc.Count(), path)
	return nil
}

func logSummary(logger *zap.Logger, msg string, c leads.HarvestCounter) {
	logger.Info(msg,
		zap.Int("businesses", c.Businesses),
		zap.Int("observations", c.Observations),
		zap.Int("rejected", c.Rejected),
		zap.Int("inserted", c.Inserted),
		zap.Int("updated", c.Updated),
		zap.Int("failed", c.Failed),
	)
}
