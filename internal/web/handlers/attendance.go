package handlers

import (
	"net/http"
	"time"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/service"
)

// AttendanceHandler handles attendance log queries
type AttendanceHandler struct {
	config *config.Config
	svc    *service.Service
	now    func() time.Time
}

// NewAttendanceHandler creates a new attendance handler
func NewAttendanceHandler(cfg *config.Config, svc *service.Service) *AttendanceHandler {
	return &AttendanceHandler{config: cfg, svc: svc, now: time.Now}
}

// DailySummaryResponse is the attendance summary of one calendar day
type DailySummaryResponse struct {
	Date       string                  `json:"date"`
	Timezone   string                  `json:"timezone"`
	Identities []database.DailySummary `json:"identities"`
}

// List returns attendance logs, newest first. Supported query parameters are
// identity_id, from and to (RFC 3339, to is exclusive) and limit.
func (h *AttendanceHandler) List(w http.ResponseWriter, r *http.Request) {
	from, err := queryTime(r, "from")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !from.IsZero() && !to.IsZero() && !to.After(from) {
		respondError(w, http.StatusBadRequest, "to must be after from")
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	logs, err := h.svc.Attendance(r.Context(), database.AttendanceFilter{
		IdentityID: facematch.NormalizeIdentityID(r.URL.Query().Get("identity_id")),
		From:       from,
		To:         to,
		Limit:      limit,
	})
	if err != nil {
		log.Error().Err(err).Msg("listing attendance failed")
		respondError(w, http.StatusInternalServerError, "failed to list attendance")
		return
	}
	if logs == nil {
		logs = []database.AttendanceLog{}
	}
	respondJSON(w, http.StatusOK, logs)
}

// DailySummary returns the identities present on ?date=YYYY-MM-DD, which
// defaults to today in the attendance time zone.
func (h *AttendanceHandler) DailySummary(w http.ResponseWriter, r *http.Request) {
	loc := h.config.Attendance.Location
	if loc == nil {
		loc = time.Local
	}

	day := h.now().In(loc)
	if s := r.URL.Query().Get("date"); s != "" {
		parsed, err := time.ParseInLocation(time.DateOnly, s, loc)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid date: expected YYYY-MM-DD")
			return
		}
		day = parsed
	}

	summary, err := h.svc.DailySummary(r.Context(), day)
	if err != nil {
		log.Error().Err(err).Msg("summarizing attendance failed")
		respondError(w, http.StatusInternalServerError, "failed to summarize attendance")
		return
	}
	if summary == nil {
		summary = []database.DailySummary{}
	}
	respondJSON(w, http.StatusOK, DailySummaryResponse{
		Date:       day.Format(time.DateOnly),
		Timezone:   loc.String(),
		Identities: summary,
	})
}
