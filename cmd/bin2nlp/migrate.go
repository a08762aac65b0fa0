package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bin2nlp/bin2nlp/pkg/config"
	"github.com/bin2nlp/bin2nlp/pkg/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or inspect the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Root().PersistentFlags().GetString("config")
		statusOnly, _ := cmd.Flags().GetBool("status")
		return runMigrate(configPath, statusOnly)
	},
}

func init() {
	migrateCmd.Flags().Bool("status", false, "report migration status without applying anything")
}

func runMigrate(configPath string, statusOnly bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if statusOnly {
		return storage.MigrationStatus(cfg.Database.DSN)
	}

	if err := storage.Migrate(cfg.Database.DSN); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	fmt.Println("migrations applied")
	return nil
}
