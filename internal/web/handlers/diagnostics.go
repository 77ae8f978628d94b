package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/diagnostics"
	"github.com/kozaktomas/face-attendance/internal/service"
)

// DiagnosticsHandler streams the diagnostic events and serves persisted system logs
type DiagnosticsHandler struct {
	svc       *service.Service
	keepAlive time.Duration
}

// NewDiagnosticsHandler creates a new diagnostics handler
func NewDiagnosticsHandler(svc *service.Service) *DiagnosticsHandler {
	return &DiagnosticsHandler{svc: svc, keepAlive: constants.SSEKeepAliveInterval}
}

// eventFilter selects the events a stream client asked for. Empty fields match everything.
type eventFilter struct {
	types    map[diagnostics.EventType]struct{}
	cameraID string
}

func parseEventFilter(r *http.Request) eventFilter {
	f := eventFilter{cameraID: r.URL.Query().Get("camera_id")}
	if raw := r.URL.Query().Get("types"); raw != "" {
		f.types = make(map[diagnostics.EventType]struct{})
		for t := range strings.SplitSeq(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				f.types[diagnostics.EventType(t)] = struct{}{}
			}
		}
	}
	return f
}

func (f eventFilter) match(ev diagnostics.Event) bool {
	if f.cameraID != "" && ev.CameraID != f.cameraID {
		return false
	}
	if len(f.types) > 0 {
		if _, ok := f.types[ev.Type]; !ok {
			return false
		}
	}
	return true
}

// Stream sends diagnostic events as server-sent events until the client
// disconnects. Query parameters types (comma-separated) and camera_id narrow
// the stream. A slow client misses events rather than slowing the engine.
func (h *DiagnosticsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	filter := parseEventFilter(r)

	flusher, ok := setupSSEConnection(w)
	if !ok {
		return
	}

	// The stream outlives the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	diag := h.svc.Diagnostics()
	eventCh := diag.AddListener()
	defer diag.RemoveListener(eventCh)

	sendSSEEvent(w, flusher, "status", h.svc.Cameras())

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			sendSSEComment(w, flusher, "keepalive")
		case ev, ok := <-eventCh:
			if !ok {
				return
			}
			if filter.match(ev) {
				sendSSEEvent(w, flusher, string(ev.Type), ev)
			}
		}
	}
}

// SystemLogs returns the newest persisted degraded signals and enrollment changes.
func (h *DiagnosticsHandler) SystemLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	logs, err := h.svc.SystemLogs(r.Context(), min(limit, constants.MaxAttendanceLimit))
	if err != nil {
		log.Error().Err(err).Msg("reading system logs failed")
		respondError(w, http.StatusInternalServerError, "failed to read system logs")
		return
	}
	if logs == nil {
		logs = []database.SystemLog{}
	}
	respondJSON(w, http.StatusOK, logs)
}
