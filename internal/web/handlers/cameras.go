package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-attendance/internal/service"
	"github.com/kozaktomas/face-attendance/internal/session"
)

// CamerasHandler handles camera session endpoints
type CamerasHandler struct {
	svc *service.Service
}

// NewCamerasHandler creates a new cameras handler
func NewCamerasHandler(svc *service.Service) *CamerasHandler {
	return &CamerasHandler{svc: svc}
}

// List returns every configured camera with its session status.
func (h *CamerasHandler) List(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.svc.Cameras())
}

// Start starts the session of a camera. A degraded session is replaced.
func (h *CamerasHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.svc.StartCamera)
}

// Stop gracefully stops the session of a camera.
func (h *CamerasHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.svc.StopCamera)
}

func (h *CamerasHandler) control(w http.ResponseWriter, r *http.Request, action func(string) error) {
	cameraID := chi.URLParam(r, "cameraID")
	if cameraID == "" {
		respondError(w, http.StatusBadRequest, "missing camera ID")
		return
	}

	if err := action(cameraID); err != nil {
		switch {
		case errors.Is(err, service.ErrUnknownCamera):
			respondError(w, http.StatusNotFound, "camera not found")
		case errors.Is(err, session.ErrAlreadyRunning), errors.Is(err, session.ErrNotRunning):
			respondError(w, http.StatusConflict, err.Error())
		default:
			log.Error().Err(err).Str("camera_id", sanitizeForLog(cameraID)).Msg("camera control failed")
			respondError(w, http.StatusInternalServerError, "camera control failed")
		}
		return
	}

	for _, cam := range h.svc.Cameras() {
		if cam.ID == cameraID {
			respondJSON(w, http.StatusOK, cam)
			return
		}
	}
	respondJSON(w, http.StatusOK, nil)
}
