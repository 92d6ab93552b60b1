package main

import (
	"fmt"

	"github.com/md-rashed-zaman/salonbook/libs/config"
	"github.com/md-rashed-zaman/salonbook/libs/db"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/storage"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema to DATABASE_URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = config.LoadDotEnv()
			databaseURL, _ := cmd.Flags().GetString("database-url")
			if databaseURL == "" {
				var err error
				if databaseURL, err = config.RequiredString("DATABASE_URL"); err != nil {
					return err
				}
			}

			store, err := storage.Open(cmd.Context(), databaseURL, db.PoolOptions{MaxConns: 2})
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema applied successfully.")
			return nil
		},
	}
	cmd.Flags().String("database-url", "", "database URL, overrides DATABASE_URL")
	return cmd
}
