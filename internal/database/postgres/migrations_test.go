package postgres

import (
	"strings"
	"testing"
)

func TestPendingMigrationFiles(t *testing.T) {
	files, err := getPendingMigrationFiles(map[string]bool{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) < 3 {
		t.Fatalf("expected at least 3 migrations, got %v", files)
	}
	for i := 1; i < len(files); i++ {
		if files[i-1] >= files[i] {
			t.Errorf("migrations not sorted: %v", files)
		}
	}
	if files[0] != "001_face_embeddings.sql" {
		t.Errorf("expected embeddings migration first, got %s", files[0])
	}

	pending, err := getPendingMigrationFiles(map[string]bool{files[0]: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pending) != len(files)-1 {
		t.Errorf("expected %d pending, got %v", len(files)-1, pending)
	}
	for _, f := range pending {
		if f == files[0] {
			t.Errorf("applied migration %s listed as pending", f)
		}
	}
}

func TestMigrationsCreateTables(t *testing.T) {
	want := map[string]string{
		"001_face_embeddings.sql": "CREATE TABLE IF NOT EXISTS face_embeddings",
		"002_attendance_logs.sql": "event_id         UUID NOT NULL UNIQUE",
		"003_system_logs.sql":     "CREATE TABLE IF NOT EXISTS system_logs",
	}
	for file, fragment := range want {
		content, err := migrationsFS.ReadFile("migrations/" + file)
		if err != nil {
			t.Fatalf("read %s: %v", file, err)
		}
		if !strings.Contains(string(content), fragment) {
			t.Errorf("%s does not contain %q", file, fragment)
		}
	}
}
