package main

import (
	"github.com/spf13/cobra"

	"github.com/hearthkeep/hearthkeep/internal/db"
	"github.com/hearthkeep/hearthkeep/internal/logging"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			database, err := db.Open(cfg.DataDir)
			if err != nil {
				return err
			}
			defer database.Close()

			migrator := db.NewMigrator(database.DB)
			if err := migrator.Initialize(); err != nil {
				return err
			}
			if err := migrator.Up(); err != nil {
				return err
			}

			version, err := migrator.CurrentVersion()
			if err != nil {
				return err
			}
			logging.Info("migrations applied", map[string]interface{}{
				"schema_version": version,
			})
			return nil
		},
	}
}
