package main

import (
	"fmt"

	"deal_intake/pkg/core/store"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Long: `Apply the embedded schema to the database named by database.url in the
config file or the DATABASE_URL environment variable. The schema is
idempotent and safe to re-run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := store.InitDB(ctx, cfg.Database.URL); err != nil {
				return err
			}
			defer store.Close()
			if err := store.Migrate(ctx, store.GetPool()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}
