package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/leadharvest/internal/storage/postgres"
)

func newMigrateCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply the embedded database schema",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{string(postgres.Up), string(postgres.Down)},
		RunE: func(_ *cobra.Command, args []string) error {
			raw := ""
			if len(args) == 1 {
				raw = args[0]
			}
			direction, err := postgres.ParseDirection(raw)
			if err != nil {
				return err
			}
			if err := e.cfg.RequireDB(); err != nil {
				return err
			}
			return postgres.Migrate(e.cfg.DB.DSN, direction, e.logger)
		},
	}
}
