package tracker

import (
	"slices"
	"time"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// State is the lifecycle state of a track.
type State int

// Track states. DEPARTED is terminal.
const (
	StateNew State = iota
	StateActive
	StateLost
	StateDeparted
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateActive:
		return "active"
	case StateLost:
		return "lost"
	case StateDeparted:
		return "departed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state as its name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Track is one continuous physical presence in a camera's field of view.
type Track struct {
	ID                string          `json:"id"`
	CameraID          string          `json:"camera_id"`
	State             State           `json:"state"`
	CandidateIdentity string          `json:"candidate_identity,omitempty"`
	ConfidenceHistory []float64       `json:"confidence_history,omitempty"`
	LastSeen          time.Time       `json:"last_seen"`
	CreatedAt         time.Time       `json:"created_at"`
	Position          facematch.Point `json:"position"`
	Detections        int             `json:"detections"`
	Reported          bool            `json:"reported"`
}

// live reports whether the track can still associate detections.
func (t *Track) live() bool {
	return t.State != StateDeparted
}

// MaxConfidence returns the highest similarity in the history, or 0.
func (t *Track) MaxConfidence() float64 {
	if len(t.ConfidenceHistory) == 0 {
		return 0
	}
	return slices.Max(t.ConfidenceHistory)
}

// MeanConfidence returns the average similarity in the history, or 0.
func (t *Track) MeanConfidence() float64 {
	if len(t.ConfidenceHistory) == 0 {
		return 0
	}
	var sum float64
	for _, c := range t.ConfidenceHistory {
		sum += c
	}
	return sum / float64(len(t.ConfidenceHistory))
}

// clone returns a copy that shares no memory with t.
func (t *Track) clone() Track {
	c := *t
	c.ConfidenceHistory = slices.Clone(t.ConfidenceHistory)
	return c
}

// appendConfidence records a similarity score, keeping at most size entries.
func (t *Track) appendConfidence(sim float64, size int) {
	t.ConfidenceHistory = append(t.ConfidenceHistory, sim)
	if over := len(t.ConfidenceHistory) - size; over > 0 {
		t.ConfidenceHistory = slices.Delete(t.ConfidenceHistory, 0, over)
	}
}

// Transition records one state change of a track.
type Transition struct {
	TrackID    string    `json:"track_id"`
	CameraID   string    `json:"camera_id"`
	IdentityID string    `json:"identity_id,omitempty"`
	From       State     `json:"from"`
	To         State     `json:"to"`
	At         time.Time `json:"at"`
}

// Report asks the attendance engine to observe an identity. Each track yields at most one.
type Report struct {
	TrackID    string
	CameraID   string
	IdentityID string
	Confidence float64
	At         time.Time
}

// Presence is one identity currently in view (ACTIVE or LOST track).
type Presence struct {
	IdentityID string    `json:"identity_id"`
	CameraID   string    `json:"camera_id"`
	TrackID    string    `json:"track_id"`
	State      State     `json:"state"`
	Since      time.Time `json:"since"`
	LastSeen   time.Time `json:"last_seen"`
}
