package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
)

// clearEnv blanks every variable Load reads so host settings cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DATABASE_URL", "EMBEDDING_DIM", "MATCH_QUALITY_THRESHOLD", "MATCH_SIMILARITY_THRESHOLD",
		"MATCH_AMBIGUITY_MARGIN", "TRACK_LOST_TIMEOUT", "TRACK_TICK_INTERVAL", "ATTENDANCE_COOLDOWN",
		"ATTENDANCE_COOLDOWN_MODE", "ATTENDANCE_TIMEZONE", "ATTENDANCE_MERGE_WINDOW", "CAMERAS_FILE",
		"FEED_INITIAL_BACKOFF", "LOG_FORMAT", "WEB_PORT", "SPOOL_PATH", "MQTT_BROKER",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Embedding.Dim != 512 {
		t.Errorf("expected default embedding dim 512, got %d", cfg.Embedding.Dim)
	}
	if cfg.Match.QualityThreshold != 0.5 || cfg.Match.SimilarityThreshold != 0.8 || cfg.Match.AmbiguityMargin != 0.05 {
		t.Errorf("unexpected match defaults: %+v", cfg.Match)
	}
	if cfg.Track.LostTimeout != 3*time.Second {
		t.Errorf("expected lost timeout 3s, got %v", cfg.Track.LostTimeout)
	}
	if cfg.Attendance.Cooldown != 24*time.Hour {
		t.Errorf("expected cooldown 24h, got %v", cfg.Attendance.Cooldown)
	}
	if cfg.Attendance.Mode != string(attendance.CooldownRolling) {
		t.Errorf("expected rolling cooldown, got %q", cfg.Attendance.Mode)
	}
	if cfg.Attendance.Location != time.Local {
		t.Errorf("expected local time zone, got %v", cfg.Attendance.Location)
	}
	if cfg.Spool.Path != "attendance-spool.db" {
		t.Errorf("expected default spool path, got %q", cfg.Spool.Path)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Web.Port)
	}
	if len(cfg.Cameras) != 0 {
		t.Errorf("expected no cameras, got %d", len(cfg.Cameras))
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should be valid: %v", err)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("EMBEDDING_DIM", "128")
	t.Setenv("MATCH_SIMILARITY_THRESHOLD", "0.75")
	t.Setenv("TRACK_LOST_TIMEOUT", "5s")
	t.Setenv("ATTENDANCE_COOLDOWN_MODE", "daily")
	t.Setenv("ATTENDANCE_TIMEZONE", "Europe/Prague")
	t.Setenv("ATTENDANCE_MERGE_WINDOW", "0s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Embedding.Dim != 128 {
		t.Errorf("expected embedding dim 128, got %d", cfg.Embedding.Dim)
	}
	if cfg.Match.SimilarityThreshold != 0.75 {
		t.Errorf("expected similarity threshold 0.75, got %v", cfg.Match.SimilarityThreshold)
	}
	if cfg.Track.LostTimeout != 5*time.Second {
		t.Errorf("expected lost timeout 5s, got %v", cfg.Track.LostTimeout)
	}
	if cfg.Attendance.Location.String() != "Europe/Prague" {
		t.Errorf("expected Europe/Prague, got %v", cfg.Attendance.Location)
	}
	if cfg.Attendance.MergeWindow != 0 {
		t.Errorf("expected merge window 0, got %v", cfg.Attendance.MergeWindow)
	}

	ec := cfg.EngineConfig()
	if ec.Mode != attendance.CooldownDaily {
		t.Errorf("expected daily mode, got %q", ec.Mode)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("EMBEDDING_DIM", "-100")
	t.Setenv("MATCH_QUALITY_THRESHOLD", "high")
	t.Setenv("TRACK_LOST_TIMEOUT", "-3s")
	t.Setenv("WEB_PORT", "abc")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Embedding.Dim != 512 {
		t.Errorf("expected default embedding dim for negative input, got %d", cfg.Embedding.Dim)
	}
	if cfg.Match.QualityThreshold != 0.5 {
		t.Errorf("expected default quality threshold, got %v", cfg.Match.QualityThreshold)
	}
	if cfg.Track.LostTimeout != 3*time.Second {
		t.Errorf("expected default lost timeout, got %v", cfg.Track.LostTimeout)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("expected default port, got %d", cfg.Web.Port)
	}
}

func TestLoad_UnknownTimezone(t *testing.T) {
	clearEnv(t)
	t.Setenv("ATTENDANCE_TIMEZONE", "Mars/Olympus_Mons")

	if _, err := Load(); err == nil {
		t.Error("expected error for unknown time zone")
	}
}

func TestValidate_ReportsAllErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("ATTENDANCE_COOLDOWN_MODE", "weekly")
	t.Setenv("MATCH_SIMILARITY_THRESHOLD", "1.5")
	t.Setenv("LOG_FORMAT", "xml")
	t.Setenv("FEED_INITIAL_BACKOFF", "0s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"attendance", "match", "LOG_FORMAT", "tracking"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %q, got: %v", want, err)
		}
	}
}

const camerasYAML = `
cameras:
  - id: cam-entry
    name: Main entrance
    stream_source: ws://detector:9000/cam-entry
    type: entry
    resolution: 1920x1080
    fps: 15
  - id: cam-exit
    name: Back door
    stream_source: mqtt://broker:1883/faces/cam-exit
    type: exit
    active: false
`

func TestParseCameras(t *testing.T) {
	cameras, err := ParseCameras([]byte(camerasYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cameras) != 2 {
		t.Fatalf("expected 2 cameras, got %d", len(cameras))
	}

	entry := cameras[0]
	if !entry.IsActive() {
		t.Error("cameras are active unless disabled")
	}
	w, h, err := entry.FrameSize()
	if err != nil || w != 1920 || h != 1080 {
		t.Errorf("expected 1920x1080, got %dx%d (%v)", w, h, err)
	}
	sc := entry.Session()
	if sc.ID != "cam-entry" || sc.Source != "ws://detector:9000/cam-entry" || sc.FrameWidth != 1920 {
		t.Errorf("unexpected session camera: %+v", sc)
	}

	exit := cameras[1]
	if exit.IsActive() {
		t.Error("expected cam-exit to be inactive")
	}
	if exit.Type != CameraExit {
		t.Errorf("expected exit type, got %q", exit.Type)
	}
}

func TestParseCameras_DefaultType(t *testing.T) {
	cameras, err := ParseCameras([]byte("cameras:\n  - id: c1\n    stream_source: ws://d/c1\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cameras[0].Type != CameraEntry {
		t.Errorf("expected default type entry, got %q", cameras[0].Type)
	}
}

func TestParseCameras_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing id", "cameras:\n  - stream_source: ws://d/c1\n"},
		{"missing source", "cameras:\n  - id: c1\n"},
		{"duplicate id", "cameras:\n  - id: c1\n    stream_source: ws://a\n  - id: c1\n    stream_source: ws://b\n"},
		{"bad type", "cameras:\n  - id: c1\n    stream_source: ws://a\n    type: lobby\n"},
		{"bad resolution", "cameras:\n  - id: c1\n    stream_source: ws://a\n    resolution: 1080p\n"},
		{"not yaml", "cameras: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCameras([]byte(tt.yaml)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoad_CamerasFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "cameras.yaml")
	if err := os.WriteFile(path, []byte(camerasYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CAMERAS_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Cameras) != 2 {
		t.Fatalf("expected 2 cameras, got %d", len(cfg.Cameras))
	}
	if _, ok := cfg.FindCamera("cam-exit"); !ok {
		t.Error("expected to find cam-exit")
	}
	if _, ok := cfg.FindCamera("cam-lobby"); ok {
		t.Error("did not expect cam-lobby")
	}
}

func TestLoad_MissingCamerasFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("CAMERAS_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := Load(); err == nil {
		t.Error("expected error for missing cameras file")
	}
}
