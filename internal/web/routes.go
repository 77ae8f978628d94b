package web

import (
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kozaktomas/face-attendance/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	healthHandler := handlers.NewHealthHandler(s.svc)
	matchHandler := handlers.NewMatchHandler(s.svc)
	embeddingsHandler := handlers.NewEmbeddingsHandler(s.svc)
	attendanceHandler := handlers.NewAttendanceHandler(s.config, s.svc)
	camerasHandler := handlers.NewCamerasHandler(s.svc)
	diagnosticsHandler := handlers.NewDiagnosticsHandler(s.svc)

	if s.registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		// Long-lived stream, not subject to the request timeout
		r.Get("/diagnostics/stream", diagnosticsHandler.Stream)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(requestTimeout))

			r.Get("/health", healthHandler.Get)

			r.Post("/resolve", matchHandler.Resolve)
			r.Get("/present", matchHandler.Present)

			r.Post("/embeddings", embeddingsHandler.Enroll)
			r.Get("/embeddings/stats", embeddingsHandler.Stats)
			r.Delete("/embeddings/{identityID}", embeddingsHandler.Revoke)

			r.Get("/attendance", attendanceHandler.List)
			r.Get("/attendance/summary/daily", attendanceHandler.DailySummary)

			r.Get("/cameras", camerasHandler.List)
			r.Post("/cameras/{cameraID}/start", camerasHandler.Start)
			r.Post("/cameras/{cameraID}/stop", camerasHandler.Stop)

			r.Get("/system-logs", diagnosticsHandler.SystemLogs)
		})
	})
}
