package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/leadharvest/internal/app"
	"github.com/JakeFAU/leadharvest/internal/export"
)

func newImportCmd(e *env) *cobra.Command {
	var (
		input        string
		defaultQuery string
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Backfill the database from a JSON export",
		Long: `import reads a JSON document keyed by business name (the output of
"leadharvest run --output") and merges its contacts into the database the
same way a live run would.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := os.Open(input)
			if err != nil {
				return fmt.Errorf("open input: %w", err)
			}
			defer f.Close()
			backfill, err := export.Read(f, e.logger)
			if err != nil {
				return fmt.Errorf("read %s: %w", input, err)
			}

			a, err := app.New(cmd.Context(), e.cfg, e.logger, app.Options{RequireDB: true})
			if err != nil {
				return err
			}
			defer a.Close()

			counters, err := a.Pipeline.Import(cmd.Context(), backfill, defaultQuery)
			logSummary(e.logger, "import finished", counters)
			if err != nil {
				return fmt.Errorf("import %s: %w", input, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d businesses: %d inserted, %d updated, %d rejected\n",
				counters.Businesses, counters.Inserted, counters.Updated, counters.Rejected)
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "path to a leads JSON export")
	cmd.Flags().StringVar(&defaultQuery, "default-query", "", "query recorded on imported businesses")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}
