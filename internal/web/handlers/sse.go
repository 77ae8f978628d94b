package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
)

// setupSSEConnection sets the event stream headers. On failure it writes an
// error response and returns false.
func setupSSEConnection(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher, true
}

// sendSSEEvent writes one named event with a JSON payload.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Debug().Err(err).Str("event", eventType).Msg("failed to encode SSE event")
		return
	}
	_, _ = io.WriteString(w, "event: "+eventType+"\n")
	_, _ = io.WriteString(w, "data: ")
	_, _ = io.Copy(w, bytes.NewReader(jsonData))
	_, _ = io.WriteString(w, "\n\n")
	flusher.Flush()
}

// sendSSEComment writes a comment line, used as a keepalive.
func sendSSEComment(w http.ResponseWriter, flusher http.Flusher, comment string) {
	_, _ = io.WriteString(w, ": "+comment+"\n\n")
	flusher.Flush()
}
