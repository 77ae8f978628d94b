package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/service"
)

var attendanceCmd = &cobra.Command{
	Use:   "attendance",
	Short: "Query recorded attendance",
}

var attendanceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List attendance logs, newest first",
	Long: `List attendance logs, newest first.

Example:
  face-attendance attendance list --identity E1042 --from 2026-03-01
  face-attendance attendance list --from 2026-03-02T06:00:00Z --limit 20`,
	RunE: runAttendanceList,
}

var attendanceSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show who was present on a day",
	RunE:  runAttendanceSummary,
}

func init() {
	rootCmd.AddCommand(attendanceCmd)
	attendanceCmd.AddCommand(attendanceListCmd, attendanceSummaryCmd)

	attendanceListCmd.Flags().String("identity", "", "Only show this identity")
	attendanceListCmd.Flags().String("from", "", "Start time, RFC 3339 or YYYY-MM-DD")
	attendanceListCmd.Flags().String("to", "", "End time (exclusive), RFC 3339 or YYYY-MM-DD")
	attendanceListCmd.Flags().Int("limit", 0, "Maximum number of logs (default 100)")

	attendanceSummaryCmd.Flags().String("date", "", "Day as YYYY-MM-DD (default today)")
}

// parseTimeFlag accepts RFC 3339 timestamps and dates, which are read in loc.
func parseTimeFlag(value string, loc *time.Location) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: expected RFC 3339 or YYYY-MM-DD", value)
	}
	return t, nil
}

func runAttendanceList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	loc := cfg.Attendance.Location
	from, err := parseTimeFlag(mustGetString(cmd, "from"), loc)
	if err != nil {
		return err
	}
	to, err := parseTimeFlag(mustGetString(cmd, "to"), loc)
	if err != nil {
		return err
	}

	pool, err := openDatabase(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	svc, err := service.New(cfg, repositories(pool))
	if err != nil {
		return err
	}
	logs, err := svc.Attendance(cmd.Context(), database.AttendanceFilter{
		IdentityID: facematch.NormalizeIdentityID(mustGetString(cmd, "identity")),
		From:       from,
		To:         to,
		Limit:      mustGetInt(cmd, "limit"),
	})
	if err != nil {
		return err
	}

	if len(logs) == 0 {
		fmt.Println("No attendance recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tIDENTITY\tSTATUS\tCONFIDENCE\tCAMERA\tEVENT")
	for _, l := range logs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.3f\t%s\t%s\n",
			l.Timestamp.In(loc).Format(time.DateTime), l.IdentityID, l.Status,
			l.ConfidenceScore, l.SourceCameraID, l.EventID)
	}
	return w.Flush()
}

func runAttendanceSummary(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	loc := cfg.Attendance.Location
	day := time.Now().In(loc)
	if s := mustGetString(cmd, "date"); s != "" {
		if day, err = time.ParseInLocation(time.DateOnly, s, loc); err != nil {
			return fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
		}
	}

	pool, err := openDatabase(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	svc, err := service.New(cfg, repositories(pool))
	if err != nil {
		return err
	}
	summary, err := svc.DailySummary(cmd.Context(), day)
	if err != nil {
		return err
	}

	fmt.Printf("Attendance on %s (%s): %d present\n\n", day.Format(time.DateOnly), loc, len(summary))
	if len(summary) == 0 {
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTITY\tFIRST SEEN\tEVENTS\tMAX CONFIDENCE\tCAMERA")
	for _, s := range summary {
		fmt.Fprintf(w, "%s\t%s\t%d\t%.3f\t%s\n",
			s.IdentityID, s.FirstSeen.In(loc).Format(time.TimeOnly), s.Events, s.MaxConfidence, s.SourceCameraID)
	}
	return w.Flush()
}
