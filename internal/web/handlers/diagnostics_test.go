package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/diagnostics"
)

func TestEventFilter(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/v1/diagnostics/stream?types=rejection,%20outcome&camera_id=cam-entry", nil)
	f := parseEventFilter(req)

	tests := []struct {
		name string
		ev   diagnostics.Event
		want bool
	}{
		{"matching", diagnostics.Event{Type: diagnostics.EventRejection, CameraID: "cam-entry"}, true},
		{"trimmed type", diagnostics.Event{Type: diagnostics.EventOutcome, CameraID: "cam-entry"}, true},
		{"other type", diagnostics.Event{Type: diagnostics.EventTransition, CameraID: "cam-entry"}, false},
		{"other camera", diagnostics.Event{Type: diagnostics.EventRejection, CameraID: "cam-exit"}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := f.match(tc.ev); got != tc.want {
				t.Errorf("match = %v, want %v", got, tc.want)
			}
		})
	}

	all := parseEventFilter(httptest.NewRequest("GET", "/api/v1/diagnostics/stream", nil))
	if !all.match(diagnostics.Event{Type: diagnostics.EventWriterStatus}) {
		t.Error("an empty filter must match every event")
	}
}

// readSSEEvent reads lines until an event of the given type and returns its data.
func readSSEEvent(t *testing.T, reader *bufio.Reader, eventType string) string {
	t.Helper()
	current := ""
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("stream ended before %s event: %v", eventType, err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			current = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: ") && current == eventType:
			return strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestDiagnosticsHandler_Stream(t *testing.T) {
	ts := newTestService(t)
	handler := NewDiagnosticsHandler(ts.svc)

	r := chi.NewRouter()
	r.Get("/api/v1/diagnostics/stream", handler.Stream)
	server := httptest.NewServer(r)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", server.URL+"/api/v1/diagnostics/stream?camera_id=cam-entry", nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected text/event-stream, got %s", ct)
	}

	reader := bufio.NewReader(resp.Body)
	readSSEEvent(t, reader, "status")

	diag := ts.svc.Diagnostics()
	diag.Publish(diagnostics.Event{Type: diagnostics.EventRejection, CameraID: "cam-exit", Reason: "ambiguous"})
	diag.Publish(diagnostics.Event{Type: diagnostics.EventRejection, CameraID: "cam-entry", Reason: "low_quality"})

	var ev diagnostics.Event
	if err := json.Unmarshal([]byte(readSSEEvent(t, reader, "rejection")), &ev); err != nil {
		t.Fatalf("failed to parse event: %v", err)
	}
	if ev.CameraID != "cam-entry" || ev.Reason != "low_quality" {
		t.Errorf("expected filtered cam-entry rejection, got %+v", ev)
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for diag.ListenerCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := diag.ListenerCount(); n != 0 {
		t.Errorf("expected listener removed after disconnect, got %d", n)
	}
}

func TestDiagnosticsHandler_SystemLogs(t *testing.T) {
	ts := newTestService(t)
	for _, msg := range []string{"first", "second", "third"} {
		if err := ts.systemLogs.Write(context.Background(), database.SystemLog{Level: "warning", Component: "session", Message: msg}); err != nil {
			t.Fatalf("failed to seed system log: %v", err)
		}
	}
	handler := NewDiagnosticsHandler(ts.svc)

	recorder := httptest.NewRecorder()
	handler.SystemLogs(recorder, httptest.NewRequest("GET", "/api/v1/system-logs?limit=2", nil))

	assertStatusCode(t, recorder, http.StatusOK)

	var logs []database.SystemLog
	parseJSONResponse(t, recorder, &logs)
	if len(logs) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(logs))
	}
	if logs[0].Message != "third" {
		t.Errorf("expected newest log first, got %s", logs[0].Message)
	}
}

func TestDiagnosticsHandler_SystemLogs_InvalidLimit(t *testing.T) {
	ts := newTestService(t)
	handler := NewDiagnosticsHandler(ts.svc)

	recorder := httptest.NewRecorder()
	handler.SystemLogs(recorder, httptest.NewRequest("GET", "/api/v1/system-logs?limit=many", nil))

	assertStatusCode(t, recorder, http.StatusBadRequest)
}
