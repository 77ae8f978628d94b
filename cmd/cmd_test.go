package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

func TestParseTimeFlag(t *testing.T) {
	prague, err := time.LoadLocation("Europe/Prague")
	if err != nil {
		t.Skipf("time zone data unavailable: %v", err)
	}

	got, err := parseTimeFlag("2026-03-02", prague)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := time.Date(2026, 3, 2, 0, 0, 0, 0, prague); !got.Equal(want) {
		t.Errorf("expected local midnight %v, got %v", want, got)
	}

	got, err = parseTimeFlag("2026-03-02T06:00:00Z", prague)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	if got, err := parseTimeFlag("", prague); err != nil || !got.IsZero() {
		t.Errorf("expected zero time for empty flag, got %v, %v", got, err)
	}
	if _, err := parseTimeFlag("yesterday", prague); err == nil {
		t.Error("expected error for unparseable time")
	}
}

func TestReadImportFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enroll.jsonl")
	content := `{"identity_id": "E1", "vector": [1, 0, 0, 0], "quality_score": 0.9}

{"identity_id": "E2", "vector": [0, 1, 0, 0], "quality_score": 0.8, "replace": true}
not json
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write import file: %v", err)
	}

	lines, errs, err := readImportFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 parsed lines, got %d", len(lines))
	}
	if lines[1].number != 3 || lines[1].req.IdentityID != "E2" || !lines[1].req.Replace {
		t.Errorf("unexpected second line %+v", lines[1])
	}
	if len(lines[0].req.Vector) != 4 || lines[0].req.Quality != 0.9 {
		t.Errorf("unexpected first line %+v", lines[0].req)
	}
	if len(errs) != 1 {
		t.Fatalf("expected 1 line error, got %d", len(errs))
	}
}

func TestReadImportFile_Missing(t *testing.T) {
	if _, _, err := readImportFile(filepath.Join(t.TempDir(), "missing.jsonl")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestReadVector(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vec.json")
	if err := os.WriteFile(path, []byte("[0.5, -0.25, 1e-3]"), 0o600); err != nil {
		t.Fatalf("failed to write vector file: %v", err)
	}

	vec, err := readVector(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 3 || vec[1] != -0.25 {
		t.Errorf("unexpected vector %v", vec)
	}

	if err := os.WriteFile(path, []byte(`{"vector": []}`), 0o600); err != nil {
		t.Fatalf("failed to write vector file: %v", err)
	}
	if _, err := readVector(path); err == nil {
		t.Error("expected error for non-array vector file")
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := map[string]bool{"serve": false, "enroll": false, "attendance": false, "spool": false, "migrate": false, "version": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("command %q is not registered", name)
		}
	}
}

func TestMustGetFlags(t *testing.T) {
	c := &cobra.Command{Use: "test"}
	c.Flags().Bool("replace", true, "")
	c.Flags().Int("limit", 7, "")
	c.Flags().String("date", "2026-03-02", "")
	c.Flags().Float64("quality", 0.5, "")

	if !mustGetBool(c, "replace") || mustGetInt(c, "limit") != 7 ||
		mustGetString(c, "date") != "2026-03-02" || mustGetFloat64(c, "quality") != 0.5 {
		t.Error("unexpected flag values")
	}

	defer func() {
		r := recover()
		msg, ok := r.(string)
		if !ok || !strings.Contains(msg, "--missing") {
			t.Errorf("expected panic naming the flag, got %v", r)
		}
	}()
	mustGetInt(c, "missing")
}
