package handlers

import (
	"errors"
	"net/http"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/service"
	"github.com/kozaktomas/face-attendance/internal/store"
	"github.com/kozaktomas/face-attendance/internal/tracker"
)

// MatchHandler exposes the matcher and the current presence view
type MatchHandler struct {
	svc *service.Service
}

// NewMatchHandler creates a new match handler
func NewMatchHandler(svc *service.Service) *MatchHandler {
	return &MatchHandler{svc: svc}
}

// ResolveRequest is one detection to resolve against the enrolled identities.
type ResolveRequest struct {
	Vector   []float32 `json:"vector"`
	Quality  float64   `json:"quality_score"`
	CameraID string    `json:"camera_id,omitempty"`
}

// Resolve matches a single detection without touching tracks or attendance.
// Rejections are regular 200 responses with matched=false and a reason.
func (h *MatchHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := decodeJSON(w, r, constants.MaxEnrollBodySize, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Vector) != h.svc.Store().Dim() {
		respondError(w, http.StatusBadRequest, store.ErrDimensionMismatch.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.svc.Resolve(req.Vector, req.Quality, req.CameraID))
}

// Present lists the identities currently in view on any camera.
func (h *MatchHandler) Present(w http.ResponseWriter, r *http.Request) {
	present := h.svc.CurrentlyPresent()
	if present == nil {
		present = []tracker.Presence{}
	}
	respondJSON(w, http.StatusOK, present)
}

// isValidationError reports whether err is caused by a malformed embedding.
func isValidationError(err error) bool {
	return errors.Is(err, store.ErrDimensionMismatch) ||
		errors.Is(err, store.ErrInvalidVector) ||
		errors.Is(err, store.ErrInvalidQuality) ||
		errors.Is(err, store.ErrEmptyIdentity)
}
