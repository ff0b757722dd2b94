package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soochol/convograph/internal/db"
	"github.com/soochol/convograph/internal/knowledge"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.Database.URL == "" && cfg.Knowledge.DatabaseURL == "" {
		return errors.New("no database configured")
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if cfg.Database.URL != "" {
		database, err := db.New(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer database.Close()
		if err := database.Migrate(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "conversation schema up to date")
	}
	if cfg.Knowledge.DatabaseURL != "" {
		store, err := knowledge.Open(ctx, cfg.Knowledge.DatabaseURL, nil, cfg.Knowledge.Dimensions)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "knowledge schema up to date")
	}
	return nil
}
