package handlers

import (
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/service"
)

// EmbeddingsHandler handles enrollment endpoints
type EmbeddingsHandler struct {
	svc *service.Service
}

// NewEmbeddingsHandler creates a new embeddings handler
func NewEmbeddingsHandler(svc *service.Service) *EmbeddingsHandler {
	return &EmbeddingsHandler{svc: svc}
}

// EnrollResponse describes a stored embedding
type EnrollResponse struct {
	ID         int64     `json:"id"`
	IdentityID string    `json:"identity_id"`
	Quality    float64   `json:"quality_score"`
	CreatedAt  time.Time `json:"created_at"`
}

// RevokeResponse reports how many embeddings were deactivated
type RevokeResponse struct {
	IdentityID  string `json:"identity_id"`
	Deactivated int    `json:"deactivated"`
}

// Enroll stores a new embedding and makes it visible to the next query.
func (h *EmbeddingsHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req service.EnrollRequest
	if err := decodeJSON(w, r, constants.MaxEnrollBodySize, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.svc.Enroll(r.Context(), req)
	if err != nil {
		if isValidationError(err) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error().Err(err).Str("identity_id", sanitizeForLog(req.IdentityID)).Msg("enrollment failed")
		respondError(w, http.StatusInternalServerError, "failed to enroll embedding")
		return
	}

	respondJSON(w, http.StatusCreated, EnrollResponse{
		ID:         rec.ID,
		IdentityID: rec.IdentityID,
		Quality:    rec.Quality,
		CreatedAt:  rec.CreatedAt,
	})
}

// Revoke deactivates every embedding of an identity.
func (h *EmbeddingsHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	identityID, err := url.PathUnescape(chi.URLParam(r, "identityID"))
	if err != nil || identityID == "" {
		respondError(w, http.StatusBadRequest, "missing identity ID")
		return
	}

	n, err := h.svc.Revoke(r.Context(), identityID)
	if err != nil {
		if isValidationError(err) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error().Err(err).Str("identity_id", sanitizeForLog(identityID)).Msg("revocation failed")
		respondError(w, http.StatusInternalServerError, "failed to revoke identity")
		return
	}
	if n == 0 {
		respondError(w, http.StatusNotFound, "identity has no active embeddings")
		return
	}

	respondJSON(w, http.StatusOK, RevokeResponse{IdentityID: facematch.NormalizeIdentityID(identityID), Deactivated: n})
}

// Stats reports persisted and in-memory embedding counts.
func (h *EmbeddingsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.EmbeddingStats(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("reading embedding stats failed")
		respondError(w, http.StatusInternalServerError, "failed to read embedding stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}
