package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseAllowedOrigins(t *testing.T) {
	got := ParseAllowedOrigins(" https://a.example , ,https://b.example")
	if len(got) != 2 {
		t.Fatalf("expected 2 origins, got %d", len(got))
	}
	for _, o := range []string{"https://a.example", "https://b.example"} {
		if _, ok := got[o]; !ok {
			t.Errorf("expected %s in allowed origins", o)
		}
	}
}

func TestIsOriginAllowed(t *testing.T) {
	allowed := ParseAllowedOrigins("https://dashboard.example")
	tests := []struct {
		origin string
		want   bool
	}{
		{"", false},
		{"https://dashboard.example", true},
		{"https://evil.example", false},
		{"http://localhost", true},
		{"http://localhost:5173", true},
		{"https://localhost:8443", true},
		{"http://localhost.evil.example", false},
	}
	for _, tc := range tests {
		t.Run(tc.origin, func(t *testing.T) {
			if got := isOriginAllowed(tc.origin, allowed); got != tc.want {
				t.Errorf("isOriginAllowed(%q) = %v, want %v", tc.origin, got, tc.want)
			}
		})
	}
}

func TestCORS_Preflight(t *testing.T) {
	called := false
	h := CORS("https://dashboard.example")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/embeddings", nil)
	req.Header.Set("Origin", "https://dashboard.example")
	recorder := httptest.NewRecorder()
	h.ServeHTTP(recorder, req)

	if called {
		t.Error("preflight request reached the handler")
	}
	if recorder.Code != http.StatusNoContent {
		t.Errorf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "https://dashboard.example" {
		t.Errorf("expected allow-origin header, got %q", got)
	}
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	h := CORS("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	recorder := httptest.NewRecorder()
	h.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, recorder.Code)
	}
	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no allow-origin header, got %q", got)
	}
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	recorder := httptest.NewRecorder()
	h.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := recorder.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("expected nosniff, got %q", got)
	}
	if got := recorder.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("expected DENY, got %q", got)
	}
}
