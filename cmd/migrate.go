package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/database/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().Bool("status", false, "Only list applied migrations")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	pool, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pool.Close()

	if !mustGetBool(cmd, "status") {
		if err := pool.Migrate(cmd.Context()); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	applied, err := pool.MigrationsApplied(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Applied migrations (%d):\n", len(applied))
	for _, v := range applied {
		fmt.Printf("  %s\n", v)
	}
	return nil
}
