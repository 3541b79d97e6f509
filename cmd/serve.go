package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/leadharvest/internal/app"
)

func newServeCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP harvest service",
		Long: `serve accepts harvest jobs over HTTP, runs them on a worker pool and
keeps their results in memory until the process exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(cmd.Context(), e.cfg, e.logger, app.Options{Crawl: true})
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Service(nil).ListenAndRun(cmd.Context())
		},
	}
}
