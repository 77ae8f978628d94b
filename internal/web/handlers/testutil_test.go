package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
	"github.com/kozaktomas/face-attendance/internal/feed"
	"github.com/kozaktomas/face-attendance/internal/service"
)

var testNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

// testConfig creates a minimal config with a 4-dimensional embedding space
func testConfig() *config.Config {
	inactive := false
	return &config.Config{
		Embedding: config.EmbeddingConfig{Dim: 4},
		Match:     config.MatchConfig{QualityThreshold: 0.5, SimilarityThreshold: 0.8, AmbiguityMargin: 0.05},
		Track: config.TrackConfig{
			AssociationWindow:   time.Second,
			AssociationDistance: 0.15,
			LostTimeout:         3 * time.Second,
			ReacquireWindow:     5 * time.Second,
			HistorySize:         10,
		},
		Attendance: config.AttendanceConfig{
			Cooldown: 24 * time.Hour,
			Mode:     string(attendance.CooldownRolling),
			Location: time.UTC,
		},
		Writer: config.WriterConfig{QueueSize: 16, MaxAttempts: 2, InitialBackoff: time.Millisecond, DrainInterval: time.Hour},
		Feed:   config.FeedConfig{MaxRetries: 1, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
		Cameras: []config.Camera{
			{ID: "cam-entry", Name: "Main entrance", StreamSource: "ws://detector/cam-entry", Type: config.CameraEntry},
			{ID: "cam-exit", Name: "Back door", StreamSource: "ws://detector/cam-exit", Type: config.CameraExit, Active: &inactive},
		},
	}
}

// testService bundles a service with the mock repositories behind it
type testService struct {
	svc        *service.Service
	cfg        *config.Config
	embeddings *mock.MockEmbeddingWriter
	attendance *mock.MockAttendanceWriter
	systemLogs *mock.MockSystemLogWriter
}

// newTestService creates a service backed by mocks. Camera feeds are
// in-memory channels that never deliver a detection.
func newTestService(t *testing.T) *testService {
	t.Helper()
	ts := &testService{
		cfg:        testConfig(),
		embeddings: mock.NewMockEmbeddingWriter(),
		attendance: mock.NewMockAttendanceWriter(),
		systemLogs: mock.NewMockSystemLogWriter(),
	}
	dial := func(_ context.Context, _ feed.Source) (feed.Feed, error) {
		return feed.NewChan(1), nil
	}

	svc, err := service.New(ts.cfg, service.Repositories{
		Embeddings: ts.embeddings,
		Attendance: ts.attendance,
		SystemLogs: ts.systemLogs,
	}, service.WithDialer(dial), service.WithClock(func() time.Time { return testNow }))
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	ts.svc = svc
	return ts
}

// enroll stores an embedding through the service
func (ts *testService) enroll(t *testing.T, identityID string, vec []float32) {
	t.Helper()
	_, err := ts.svc.Enroll(context.Background(), service.EnrollRequest{IdentityID: identityID, Vector: vec, Quality: 0.9})
	if err != nil {
		t.Fatalf("failed to enroll %s: %v", identityID, err)
	}
}

// jsonRequest creates a request with a JSON-encoded body
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
