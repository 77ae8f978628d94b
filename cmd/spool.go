package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/database/postgres"
	"github.com/kozaktomas/face-attendance/internal/logging"
	"github.com/kozaktomas/face-attendance/internal/service"
	"github.com/kozaktomas/face-attendance/internal/spool"
)

var spoolCmd = &cobra.Command{
	Use:   "spool",
	Short: "Inspect and drain the attendance overflow spool",
	Long: `Attendance events the database could not take are kept in a local
SQLite spool (SPOOL_PATH) and retried by the running server. These commands
work on the spool while the server is stopped.`,
}

var spoolStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show how many events are spooled",
	RunE:  runSpoolStatus,
}

var spoolDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Push spooled events into PostgreSQL",
	RunE:  runSpoolDrain,
}

func init() {
	rootCmd.AddCommand(spoolCmd)
	spoolCmd.AddCommand(spoolStatusCmd, spoolDrainCmd)
}

func runSpoolStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sp, err := spool.Open(cfg.Spool.Path)
	if err != nil {
		return fmt.Errorf("failed to open spool: %w", err)
	}
	defer sp.Close()

	n, err := sp.Len(cmd.Context())
	if err != nil {
		return err
	}
	dead, err := sp.DeadLetters(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d spooled events, %d dead letters\n", cfg.Spool.Path, n, dead)
	return nil
}

func runSpoolDrain(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sp, err := spool.Open(cfg.Spool.Path)
	if err != nil {
		return fmt.Errorf("failed to open spool: %w", err)
	}
	defer sp.Close()

	pool, err := openDatabase(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	sink := service.NewSink(postgres.NewAttendanceRepository(pool))
	writer := attendance.NewWriter(sink, sp, cfg.WriterConfig(),
		attendance.WithWriterLogger(logging.Component("writer")))

	n, err := writer.DrainSpool(cmd.Context())
	fmt.Printf("Drained %d events\n", n)
	if err != nil {
		return fmt.Errorf("draining spool: %w", err)
	}
	left, err := sp.Len(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("%d events left in %s\n", left, cfg.Spool.Path)
	return nil
}
