// Package tracker associates one camera's detections into tracks, each
// modeling a continuous physical presence, and drives their
// NEW -> ACTIVE -> LOST -> DEPARTED lifecycle.
//
// A Tracker is owned by a single camera session goroutine and is not safe for
// concurrent use.
package tracker

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// Config holds the tracker timeouts. All durations are wall-clock time so the
// behavior does not depend on the camera frame rate.
type Config struct {
	// AssociationWindow is how long a NEW track waits for a corroborating detection.
	AssociationWindow time.Duration
	// AssociationDistance is the maximum distance, in normalized frame
	// coordinates, between a track and a detection it may absorb.
	AssociationDistance float64
	// LostTimeout is how long an ACTIVE track may go unseen before it is LOST.
	LostTimeout time.Duration
	// ReacquireWindow extends LostTimeout for a LOST track to be reacquired.
	ReacquireWindow time.Duration
	// HistorySize bounds the confidence history of a track.
	HistorySize int
}

// DefaultConfig returns the default tracker configuration.
func DefaultConfig() Config {
	return Config{
		AssociationWindow:   time.Second,
		AssociationDistance: 0.15,
		LostTimeout:         3 * time.Second,
		ReacquireWindow:     5 * time.Second,
		HistorySize:         10,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.AssociationWindow <= 0 {
		errs = append(errs, errors.New("association window must be positive"))
	}
	if c.AssociationDistance <= 0 {
		errs = append(errs, errors.New("association distance must be positive"))
	}
	if c.LostTimeout <= 0 {
		errs = append(errs, errors.New("lost timeout must be positive"))
	}
	if c.ReacquireWindow < 0 {
		errs = append(errs, errors.New("reacquire window must not be negative"))
	}
	if c.HistorySize <= 0 {
		errs = append(errs, fmt.Errorf("history size must be positive, got %d", c.HistorySize))
	}
	return errors.Join(errs...)
}

// Tracker owns the live tracks of one camera.
type Tracker struct {
	cameraID string
	cfg      Config
	tracks   []*Track
	newID    func() string
	log      zerolog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithIDGenerator overrides how track ids are generated.
func WithIDGenerator(fn func() string) Option {
	return func(t *Tracker) {
		t.newID = fn
	}
}

// WithLogger sets the logger used for identity conflicts.
func WithLogger(l zerolog.Logger) Option {
	return func(t *Tracker) {
		t.log = l
	}
}

// New creates a tracker for one camera.
func New(cameraID string, cfg Config, opts ...Option) *Tracker {
	t := &Tracker{
		cameraID: cameraID,
		cfg:      cfg,
		newID:    func() string { return uuid.NewString() },
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Len returns the number of live tracks.
func (t *Tracker) Len() int {
	return len(t.tracks)
}

// Tracks returns copies of the live tracks.
func (t *Tracker) Tracks() []Track {
	out := make([]Track, 0, len(t.tracks))
	for _, tr := range t.tracks {
		out = append(out, tr.clone())
	}
	return out
}

// Associate attaches d to the nearest compatible live track, or starts a NEW
// track for it. Timeouts up to d.Timestamp are applied first. It returns a
// copy of the track that absorbed the detection and every state change made.
func (t *Tracker) Associate(d facematch.Detection) (Track, []Transition) {
	now := d.Timestamp
	transitions := t.Advance(now)

	tr := t.nearest(d)
	if tr == nil {
		tr = &Track{
			ID:        t.newID(),
			CameraID:  t.cameraID,
			State:     StateNew,
			CreatedAt: now,
		}
		t.tracks = append(t.tracks, tr)
	} else {
		switch tr.State {
		case StateNew:
			transitions = append(transitions, t.transition(tr, StateActive, now))
		case StateLost:
			// Reacquired within the window: same track, no new identity event.
			transitions = append(transitions, t.transition(tr, StateActive, now))
		}
	}

	// A late, out-of-order detection must not rewind the track's timeouts.
	if !now.Before(tr.LastSeen) {
		tr.LastSeen = now
		tr.Position = d.Position
	}
	tr.Detections++
	return tr.clone(), transitions
}

// nearest returns the closest live track d may be associated with. Ties are
// broken by the most recently seen track, then by track id.
func (t *Tracker) nearest(d facematch.Detection) *Track {
	var (
		best     *Track
		bestDist float64
	)
	for _, tr := range t.tracks {
		if !t.compatible(tr, d.Timestamp) {
			continue
		}
		dist := facematch.Distance(tr.Position, d.Position)
		if dist > t.cfg.AssociationDistance {
			continue
		}
		if best == nil || dist < bestDist ||
			(dist == bestDist && (tr.LastSeen.After(best.LastSeen) ||
				(tr.LastSeen.Equal(best.LastSeen) && tr.ID < best.ID))) {
			best, bestDist = tr, dist
		}
	}
	return best
}

// compatible reports whether tr is still within its association timeout at now.
// A track already updated at exactly now belongs to another face of the same frame.
func (t *Tracker) compatible(tr *Track, now time.Time) bool {
	if !tr.live() || tr.LastSeen.Equal(now) {
		return false
	}
	elapsed := now.Sub(tr.LastSeen)
	switch tr.State {
	case StateNew:
		return elapsed <= t.cfg.AssociationWindow
	case StateActive:
		return elapsed < t.cfg.LostTimeout
	case StateLost:
		return elapsed <= t.cfg.LostTimeout+t.cfg.ReacquireWindow
	default:
		return false
	}
}

// Advance applies timeouts as of now and retires DEPARTED tracks:
// an uncorroborated NEW track departs after the association window, an ACTIVE
// track is LOST once unseen for LostTimeout, and a LOST track departs once
// unseen for longer than LostTimeout + ReacquireWindow.
func (t *Tracker) Advance(now time.Time) []Transition {
	var transitions []Transition
	for _, tr := range t.tracks {
		elapsed := now.Sub(tr.LastSeen)
		if elapsed <= 0 {
			continue
		}
		switch tr.State {
		case StateNew:
			if elapsed > t.cfg.AssociationWindow {
				transitions = append(transitions, t.transition(tr, StateDeparted, now))
			}
			continue
		case StateActive:
			if elapsed >= t.cfg.LostTimeout {
				transitions = append(transitions, t.transition(tr, StateLost, now))
			}
		}
		if tr.State == StateLost && elapsed > t.cfg.LostTimeout+t.cfg.ReacquireWindow {
			transitions = append(transitions, t.transition(tr, StateDeparted, now))
		}
	}
	t.retire()
	return transitions
}

// RecordMatch attaches a resolved match to a live track. The candidate
// identity is fixed by the first match; a later match to a different identity
// is logged as a conflict and ignored. It reports whether the match was applied.
func (t *Tracker) RecordMatch(trackID, identityID string, similarity float64) bool {
	tr := t.find(trackID)
	if tr == nil {
		return false
	}
	if tr.CandidateIdentity == "" {
		tr.CandidateIdentity = identityID
	} else if tr.CandidateIdentity != identityID {
		t.log.Warn().
			Str("camera_id", t.cameraID).
			Str("track_id", tr.ID).
			Str("candidate", tr.CandidateIdentity).
			Str("conflicting", identityID).
			Float64("similarity", similarity).
			Msg("conflicting identity for track, keeping first match")
		return false
	}
	tr.appendConfidence(similarity, t.cfg.HistorySize)
	return true
}

// TakeReports returns one report for every ACTIVE track that carries a
// candidate identity and has not been reported yet, and marks those tracks
// reported. Reacquiring a LOST track never yields a second report.
func (t *Tracker) TakeReports() []Report {
	var reports []Report
	for _, tr := range t.tracks {
		if tr.State != StateActive || tr.CandidateIdentity == "" || tr.Reported {
			continue
		}
		tr.Reported = true
		reports = append(reports, Report{
			TrackID:    tr.ID,
			CameraID:   tr.CameraID,
			IdentityID: tr.CandidateIdentity,
			Confidence: tr.MaxConfidence(),
			At:         tr.LastSeen,
		})
	}
	return reports
}

// Present returns the identities of ACTIVE and LOST tracks, ordered by identity.
func (t *Tracker) Present() []Presence {
	var out []Presence
	for _, tr := range t.tracks {
		if tr.CandidateIdentity == "" || (tr.State != StateActive && tr.State != StateLost) {
			continue
		}
		out = append(out, Presence{
			IdentityID: tr.CandidateIdentity,
			CameraID:   tr.CameraID,
			TrackID:    tr.ID,
			State:      tr.State,
			Since:      tr.CreatedAt,
			LastSeen:   tr.LastSeen,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IdentityID != out[j].IdentityID {
			return out[i].IdentityID < out[j].IdentityID
		}
		return out[i].TrackID < out[j].TrackID
	})
	return out
}

// Finalize retires every live track. It produces transitions for
// diagnostics but never reports: departure is not attendance.
func (t *Tracker) Finalize(now time.Time) []Transition {
	transitions := make([]Transition, 0, len(t.tracks))
	for _, tr := range t.tracks {
		transitions = append(transitions, t.transition(tr, StateDeparted, now))
	}
	t.tracks = nil
	return transitions
}

func (t *Tracker) find(trackID string) *Track {
	for _, tr := range t.tracks {
		if tr.ID == trackID && tr.live() {
			return tr
		}
	}
	return nil
}

func (t *Tracker) transition(tr *Track, to State, now time.Time) Transition {
	from := tr.State
	tr.State = to
	return Transition{
		TrackID:    tr.ID,
		CameraID:   tr.CameraID,
		IdentityID: tr.CandidateIdentity,
		From:       from,
		To:         to,
		At:         now,
	}
}

// retire drops departed tracks.
func (t *Tracker) retire() {
	live := t.tracks[:0]
	for _, tr := range t.tracks {
		if tr.live() {
			live = append(live, tr)
		}
	}
	clear(t.tracks[len(live):])
	t.tracks = live
}
