package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/queenflow/internal/state"
)

var purgeOlderThan time.Duration

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete finished sessions older than a duration",
	Long: `Delete completed and failed sessions last updated before --older-than.
Sessions still in progress are never removed. Works on the local database
directly, so the server does not need to be running.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if purgeOlderThan <= 0 {
			return fmt.Errorf("--older-than must be positive")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		dbPath := cfg.Storage.Path
		if dbPath == "" {
			dbPath = state.DefaultDBPath()
		}
		db, err := state.OpenWithDriver(cfg.Storage.Driver, dbPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		if err := db.Migrate(); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}

		n, err := db.PurgeOldSessions(purgeOlderThan)
		if err != nil {
			return err
		}
		printStatus("✓", fmt.Sprintf("Purged %d session(s) older than %s", n, purgeOlderThan), colorGreen)
		return nil
	},
}

func init() {
	purgeCmd.Flags().DurationVar(&purgeOlderThan, "older-than", 30*24*time.Hour, "Age threshold")
}
