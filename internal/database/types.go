package database

import (
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/face-attendance/internal/attendance"
)

// StoredEmbedding represents an enrolled face embedding stored in the database
type StoredEmbedding struct {
	ID            int64
	IdentityID    string
	Embedding     []float32
	QualityScore  float64
	Active        bool
	CreatedAt     time.Time
	DeactivatedAt *time.Time
}

// EmbeddingStats summarizes the enrolled embeddings
type EmbeddingStats struct {
	Active     int   `json:"active"`
	Inactive   int   `json:"inactive"`
	Identities int   `json:"identities"`
	MaxID      int64 `json:"max_id"`
}

// AttendanceLog is one persisted attendance event
type AttendanceLog struct {
	ID              int64     `json:"id"`
	EventID         uuid.UUID `json:"event_id"`
	IdentityID      string    `json:"identity_id"`
	Timestamp       time.Time `json:"timestamp"`
	Status          string    `json:"status"`
	ConfidenceScore float64   `json:"confidence_score"`
	SourceCameraID  string    `json:"source_camera_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// LogFromEvent converts a recorded attendance event into its row.
func LogFromEvent(ev attendance.Event) AttendanceLog {
	return AttendanceLog{
		EventID:         ev.EventID,
		IdentityID:      ev.IdentityID,
		Timestamp:       ev.Timestamp,
		Status:          string(ev.Status),
		ConfidenceScore: ev.Confidence,
		SourceCameraID:  ev.SourceCameraID,
	}
}

// AttendanceFilter narrows an attendance listing. Zero values mean no bound.
type AttendanceFilter struct {
	IdentityID string
	From       time.Time
	To         time.Time
	Limit      int
}

// WithLimit returns the filter with Limit clamped to (0, maxLimit], using def when unset.
func (f AttendanceFilter) WithLimit(def, maxLimit int) AttendanceFilter {
	if f.Limit <= 0 {
		f.Limit = def
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	return f
}

// DailySummary is one identity's attendance on one day
type DailySummary struct {
	IdentityID     string    `json:"identity_id"`
	FirstSeen      time.Time `json:"first_seen"`
	Events         int       `json:"events"`
	MaxConfidence  float64   `json:"max_confidence"`
	SourceCameraID string    `json:"source_camera_id"`
}

// DayRange returns the start of day's calendar day in loc and the start of the next one.
func DayRange(day time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.Local
	}
	d := day.In(loc)
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// SystemLog is a persisted diagnostic signal, e.g. a degraded camera or writer
type SystemLog struct {
	ID         int64     `json:"id"`
	Level      string    `json:"level"`
	Component  string    `json:"component"`
	Message    string    `json:"message"`
	IdentityID string    `json:"identity_id,omitempty"`
	CameraID   string    `json:"camera_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
