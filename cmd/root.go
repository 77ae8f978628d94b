package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database/postgres"
	"github.com/kozaktomas/face-attendance/internal/logging"
	"github.com/kozaktomas/face-attendance/internal/service"
)

var rootCmd = &cobra.Command{
	Use:   "face-attendance",
	Short: "Face recognition attendance engine",
	Long: `Face Attendance consumes face detections from camera detector feeds,
matches them against enrolled identities, tracks faces across frames and
records at most one attendance event per identity per cooldown window.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// loadConfig reads and validates the configuration and sets up logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if err := logging.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openDatabase connects to PostgreSQL and applies pending migrations.
func openDatabase(ctx context.Context, cfg *config.Config) (*postgres.Pool, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}
	pool, err := postgres.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	return pool, nil
}

// repositories returns the PostgreSQL repositories of the service.
func repositories(pool *postgres.Pool) service.Repositories {
	return service.Repositories{
		Embeddings: postgres.NewEmbeddingRepository(pool),
		Attendance: postgres.NewAttendanceRepository(pool),
		SystemLogs: postgres.NewSystemLogRepository(pool),
		DB:         pool,
	}
}
