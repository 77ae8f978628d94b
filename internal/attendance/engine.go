package attendance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kozaktomas/face-attendance/internal/diagnostics"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/metrics"
)

// CooldownMode selects how the cooldown window is measured.
type CooldownMode string

// Cooldown modes.
const (
	// CooldownRolling suppresses observations less than Cooldown after the last recorded event.
	CooldownRolling CooldownMode = "rolling"
	// CooldownDaily suppresses observations on the same calendar day as the last recorded event.
	CooldownDaily CooldownMode = "daily"
)

// Config configures the decision engine.
type Config struct {
	Cooldown time.Duration
	Mode     CooldownMode
	// Location is the time zone of calendar days in daily mode.
	Location *time.Location
	// MergeWindow holds a recorded event before delivery so that
	// near-simultaneous observations from other cameras can raise its
	// confidence. Zero delivers immediately.
	MergeWindow time.Duration
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Cooldown:    24 * time.Hour,
		Mode:        CooldownRolling,
		Location:    time.Local,
		MergeWindow: 2 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Mode {
	case CooldownRolling:
		if c.Cooldown <= 0 {
			return errors.New("cooldown must be positive in rolling mode")
		}
	case CooldownDaily:
	default:
		return fmt.Errorf("unknown cooldown mode %q", c.Mode)
	}
	if c.MergeWindow < 0 {
		return errors.New("merge window must not be negative")
	}
	return nil
}

// Aggregate summarizes suppressed observations of one identity.
type Aggregate struct {
	Count      int       `json:"count"`
	Max        float64   `json:"max"`
	Mean       float64   `json:"mean"`
	LastCamera string    `json:"last_camera"`
	LastSeen   time.Time `json:"last_seen"`
}

type heldEvent struct {
	event Event
	due   time.Time
}

// Engine decides whether an observation becomes an attendance event.
// Observe calls are applied in a strict serial order under one mutex; the
// per-identity last-recorded time is never touched outside it.
type Engine struct {
	cfg   Config
	out   Enqueuer
	now   func() time.Time
	newID func() uuid.UUID
	log   zerolog.Logger
	m     *metrics.Metrics
	diag  diagnostics.Publisher

	mu           sync.Mutex
	lastRecorded map[string]time.Time
	held         map[string]*heldEvent
	aggregates   map[string]*Aggregate
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock overrides the clock used for the merge window.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithEventIDs overrides event id generation.
func WithEventIDs(fn func() uuid.UUID) EngineOption {
	return func(e *Engine) { e.newID = fn }
}

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

// WithMetrics sets the metrics the engine reports to.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.m = m }
}

// WithDiagnostics sets where outcomes are published.
func WithDiagnostics(p diagnostics.Publisher) EngineOption {
	return func(e *Engine) { e.diag = p }
}

// NewEngine creates a decision engine delivering recorded events to out.
func NewEngine(cfg Config, out Enqueuer, opts ...EngineOption) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	e := &Engine{
		cfg:          cfg,
		out:          out,
		now:          time.Now,
		newID:        uuid.New,
		log:          zerolog.Nop(),
		lastRecorded: make(map[string]time.Time),
		held:         make(map[string]*heldEvent),
		aggregates:   make(map[string]*Aggregate),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Observe records identityID as present at ts unless it was already recorded
// within the cooldown window.
func (e *Engine) Observe(identityID string, confidence float64, cameraID string, ts time.Time) Outcome {
	identityID = facematch.NormalizeIdentityID(identityID)

	e.mu.Lock()
	out, deliver := e.observeLocked(identityID, confidence, cameraID, ts)
	e.mu.Unlock()

	if deliver != nil {
		e.out.Enqueue(*deliver)
	}

	e.m.ObserveOutcome(out.Label())
	ev := diagnostics.Event{
		Type:       diagnostics.EventOutcome,
		CameraID:   cameraID,
		IdentityID: identityID,
		Reason:     string(out.Reason),
		Data:       out,
	}
	if e.diag != nil {
		e.diag.Publish(ev)
	}
	e.log.Debug().
		Str("identity_id", identityID).
		Str("camera_id", cameraID).
		Str("outcome", out.Label()).
		Float64("confidence", confidence).
		Msg("attendance observation")
	return out
}

func (e *Engine) observeLocked(identityID string, confidence float64, cameraID string, ts time.Time) (Outcome, *Event) {
	if last, ok := e.lastRecorded[identityID]; ok && e.withinCooldown(last, ts) {
		if h, ok := e.held[identityID]; ok && confidence > h.event.Confidence {
			h.event.Confidence = confidence
		}
		e.aggregate(identityID, confidence, cameraID, ts)
		return Outcome{
			Reason:       ReasonWithinCooldown,
			IdentityID:   identityID,
			LastRecorded: last,
		}, nil
	}

	ev := Event{
		EventID:        e.newID(),
		IdentityID:     identityID,
		Timestamp:      ts,
		Status:         StatusPresent,
		Confidence:     confidence,
		SourceCameraID: cameraID,
	}
	e.lastRecorded[identityID] = ts
	delete(e.aggregates, identityID)

	out := Outcome{Recorded: true, IdentityID: identityID, EventID: ev.EventID, LastRecorded: ts}
	if e.cfg.MergeWindow <= 0 {
		return out, &ev
	}
	// An identity has at most one held event: a new one is only recorded
	// after the cooldown, which is longer than any sensible merge window.
	if prev, ok := e.held[identityID]; ok {
		e.held[identityID] = &heldEvent{event: ev, due: e.now().Add(e.cfg.MergeWindow)}
		return out, &prev.event
	}
	e.held[identityID] = &heldEvent{event: ev, due: e.now().Add(e.cfg.MergeWindow)}
	return out, nil
}

// withinCooldown reports whether ts falls in the cooldown window opened at last.
// Observations older than last are always within it.
func (e *Engine) withinCooldown(last, ts time.Time) bool {
	if ts.Before(last) {
		return true
	}
	switch e.cfg.Mode {
	case CooldownDaily:
		ly, lm, ld := last.In(e.cfg.Location).Date()
		ty, tm, td := ts.In(e.cfg.Location).Date()
		return ly == ty && lm == tm && ld == td
	default:
		return ts.Sub(last) < e.cfg.Cooldown
	}
}

func (e *Engine) aggregate(identityID string, confidence float64, cameraID string, ts time.Time) {
	a, ok := e.aggregates[identityID]
	if !ok {
		a = &Aggregate{}
		e.aggregates[identityID] = a
	}
	a.Count++
	a.Mean += (confidence - a.Mean) / float64(a.Count)
	a.Max = max(a.Max, confidence)
	a.LastCamera = cameraID
	a.LastSeen = ts
}

// Prime seeds the last recorded time of an identity, typically from
// persistence at startup, so a restart does not record it again within the window.
func (e *Engine) Prime(identityID string, ts time.Time) {
	identityID = facematch.NormalizeIdentityID(identityID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if last, ok := e.lastRecorded[identityID]; !ok || ts.After(last) {
		e.lastRecorded[identityID] = ts
	}
}

// LastRecorded returns the last recorded time of an identity.
func (e *Engine) LastRecorded(identityID string) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ts, ok := e.lastRecorded[facematch.NormalizeIdentityID(identityID)]
	return ts, ok
}

// Aggregate returns the suppressed-observation summary of an identity since
// its last recorded event.
func (e *Engine) Aggregate(identityID string) (Aggregate, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.aggregates[facematch.NormalizeIdentityID(identityID)]
	if !ok {
		return Aggregate{}, false
	}
	return *a, true
}

// Held returns the number of events waiting for their merge window to close.
func (e *Engine) Held() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.held)
}

// Flush delivers held events whose merge window closed at or before now.
func (e *Engine) Flush(now time.Time) int {
	return e.flush(func(h *heldEvent) bool { return !h.due.After(now) })
}

// FlushAll delivers every held event. These are real recorded events, so
// they are delivered on shutdown rather than dropped.
func (e *Engine) FlushAll() int {
	return e.flush(func(*heldEvent) bool { return true })
}

func (e *Engine) flush(due func(*heldEvent) bool) int {
	e.mu.Lock()
	var ready []Event
	for id, h := range e.held {
		if due(h) {
			ready = append(ready, h.event)
			delete(e.held, id)
		}
	}
	e.mu.Unlock()

	sort.Slice(ready, func(i, j int) bool { return ready[i].Timestamp.Before(ready[j].Timestamp) })
	for _, ev := range ready {
		e.out.Enqueue(ev)
	}
	return len(ready)
}

// Run flushes due events every interval until ctx is done, then flushes the rest.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if n := e.FlushAll(); n > 0 {
				e.log.Info().Int("events", n).Msg("flushed held attendance events on shutdown")
			}
			return nil
		case <-ticker.C:
			e.Flush(e.now())
		}
	}
}
