package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/logging"
	"github.com/kozaktomas/face-attendance/internal/service"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Manage enrolled face embeddings",
	Long: `Enroll and revoke face embeddings in PostgreSQL.

A running server loads embeddings at startup; to enroll into a live server
use POST /api/v1/embeddings instead.`,
}

var enrollAddCmd = &cobra.Command{
	Use:   "add <identity-id>",
	Short: "Enroll one embedding for an identity",
	Long: `Enroll one embedding read from a JSON array of floats.

Example:
  face-attendance enroll add E1042 --vector-file e1042.json --quality 0.93
  cat e1042.json | face-attendance enroll add E1042 --vector-file -`,
	Args: cobra.ExactArgs(1),
	RunE: runEnrollAdd,
}

var enrollImportCmd = &cobra.Command{
	Use:   "import <file.jsonl>",
	Short: "Enroll embeddings from a JSON lines file",
	Long: `Enroll embeddings from a file with one JSON object per line:

  {"identity_id": "E1042", "vector": [0.12, ...], "quality_score": 0.93}

Blank lines are skipped. Invalid lines are reported and do not stop the import.`,
	Args: cobra.ExactArgs(1),
	RunE: runEnrollImport,
}

var enrollRevokeCmd = &cobra.Command{
	Use:   "revoke <identity-id>...",
	Short: "Deactivate every embedding of one or more identities",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runEnrollRevoke,
}

func init() {
	rootCmd.AddCommand(enrollCmd)
	enrollCmd.AddCommand(enrollAddCmd, enrollImportCmd, enrollRevokeCmd)

	enrollAddCmd.Flags().String("vector-file", "", "File with a JSON array of floats, - for stdin")
	enrollAddCmd.Flags().Float64("quality", 1, "Quality score of the source detection [0,1]")
	enrollAddCmd.Flags().Bool("replace", false, "Deactivate the identity's previous embeddings")
	_ = enrollAddCmd.MarkFlagRequired("vector-file")

	enrollImportCmd.Flags().Bool("replace", false, "Replace instead of add for every line")
}

// withService opens the database and builds a service that is never run.
func withService(ctx context.Context, fn func(*service.Service) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pool, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	svc, err := service.New(cfg, repositories(pool))
	if err != nil {
		return err
	}
	return fn(svc)
}

func readVector(path string) ([]float32, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening vector file: %w", err)
		}
		defer f.Close()
		r = f
	}
	var vec []float32
	if err := json.NewDecoder(r).Decode(&vec); err != nil {
		return nil, fmt.Errorf("decoding vector: %w", err)
	}
	return vec, nil
}

func runEnrollAdd(cmd *cobra.Command, args []string) error {
	vec, err := readVector(mustGetString(cmd, "vector-file"))
	if err != nil {
		return err
	}
	req := service.EnrollRequest{
		IdentityID: args[0],
		Vector:     vec,
		Quality:    mustGetFloat64(cmd, "quality"),
		Replace:    mustGetBool(cmd, "replace"),
	}

	return withService(cmd.Context(), func(svc *service.Service) error {
		rec, err := svc.Enroll(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Printf("Enrolled %s (embedding %d)\n", rec.IdentityID, rec.ID)
		return nil
	})
}

// importLine is one parsed line of an import file.
type importLine struct {
	number int
	req    service.EnrollRequest
}

func readImportFile(path string) ([]importLine, []error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening import file: %w", err)
	}
	defer f.Close()

	var (
		lines []importLine
		errs  []error
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), constants.MaxEnrollBodySize)
	n := 0
	for scanner.Scan() {
		n++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var req service.EnrollRequest
		if err := json.Unmarshal([]byte(text), &req); err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", n, err))
			continue
		}
		lines = append(lines, importLine{number: n, req: req})
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("reading import file: %w", err)
	}
	return lines, errs, nil
}

func runEnrollImport(cmd *cobra.Command, args []string) error {
	lines, errs, err := readImportFile(args[0])
	if err != nil {
		return err
	}
	replace := mustGetBool(cmd, "replace")
	log := logging.Component("import")

	return withService(cmd.Context(), func(svc *service.Service) error {
		bar := progressbar.NewOptions(len(lines),
			progressbar.OptionSetDescription("Enrolling embeddings"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("embeddings"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionFullWidth(),
		)

		enrolled := 0
		for i, line := range lines {
			req := line.req
			req.Replace = req.Replace || replace
			if _, err := svc.Enroll(cmd.Context(), req); err != nil {
				errs = append(errs, fmt.Errorf("line %d (%s): %w", line.number, req.IdentityID, err))
			} else {
				enrolled++
			}
			_ = bar.Add(1)
			if (i+1)%constants.ImportBatchLog == 0 {
				log.Debug().Int("processed", i+1).Int("enrolled", enrolled).Msg("import progress")
			}
			if cmd.Context().Err() != nil {
				break
			}
		}
		_ = bar.Finish()

		fmt.Printf("\nEnrolled %d embeddings, %d failed\n", enrolled, len(errs))
		for _, err := range errs {
			fmt.Printf("  %v\n", err)
		}
		if enrolled == 0 && len(errs) > 0 {
			return errors.New("no embeddings were enrolled")
		}
		return nil
	})
}

func runEnrollRevoke(cmd *cobra.Command, args []string) error {
	return withService(cmd.Context(), func(svc *service.Service) error {
		for _, id := range args {
			n, err := svc.Revoke(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("revoking %s: %w", id, err)
			}
			fmt.Printf("Revoked %s (%d embeddings deactivated)\n", id, n)
		}
		return nil
	})
}
