package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bin2nlp/bin2nlp/pkg/auth"
	"github.com/bin2nlp/bin2nlp/pkg/config"
	"github.com/bin2nlp/bin2nlp/pkg/storage"
)

var bootstrapAdminCmd = &cobra.Command{
	Use:   "bootstrap-admin",
	Short: "Create the first admin API key (one-shot, spec §4.9)",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Root().PersistentFlags().GetString("config")
		userID, _ := cmd.Flags().GetString("user-id")
		return runBootstrapAdmin(configPath, userID)
	},
}

func init() {
	bootstrapAdminCmd.Flags().String("user-id", "", "user id to own the new admin key (required)")
	bootstrapAdminCmd.MarkFlagRequired("user-id")
}

func runBootstrapAdmin(configPath, userID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := storage.NewPostgresStore(ctx, cfg.Database.DSN, cfg.Database.MaxOpenConns)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer store.Close()

	authn := auth.NewAuthenticator(store, cfg.Auth.APIKeySalt)
	key, secret, err := authn.BootstrapAdmin(ctx, userID)
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	fmt.Printf("Admin API key created for user %s\n", key.UserID)
	fmt.Printf("  key_id: %s\n", key.KeyID)
	fmt.Printf("  secret: %s\n", secret)
	fmt.Println("\nThis secret is shown once. Store it securely; it cannot be recovered.")
	return nil
}
