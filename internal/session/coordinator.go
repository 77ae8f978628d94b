// Package session runs one detection pipeline per active camera.
//
// Every camera session is a goroutine that owns the camera's tracker. It reads
// detections from the camera's feed, resolves them with the matcher and hands
// the first resolved match of each active track to the attendance engine.
// Sessions never share track state and never block each other.
package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/diagnostics"
	"github.com/kozaktomas/face-attendance/internal/feed"
	"github.com/kozaktomas/face-attendance/internal/logging"
	"github.com/kozaktomas/face-attendance/internal/matcher"
	"github.com/kozaktomas/face-attendance/internal/metrics"
	"github.com/kozaktomas/face-attendance/internal/tracker"
)

var (
	// ErrAlreadyRunning is returned when starting a camera that has a live session.
	ErrAlreadyRunning = errors.New("camera session already running")
	// ErrNotRunning is returned when stopping a camera without a session.
	ErrNotRunning = errors.New("camera session not running")
)

// Camera describes one camera to run a session for.
type Camera struct {
	ID          string
	Name        string
	Source      string
	FrameWidth  int
	FrameHeight int
}

// Config configures camera sessions.
type Config struct {
	Tracker tracker.Config
	// TickInterval advances tracker time when no detections arrive. Zero disables it.
	TickInterval time.Duration
	// MaxRetries is how many consecutive feed failures are retried before the
	// session gives up and reports the camera degraded.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		Tracker:        tracker.DefaultConfig(),
		TickInterval:   500 * time.Millisecond,
		MaxRetries:     5,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if err := c.Tracker.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.TickInterval < 0 {
		errs = append(errs, errors.New("tick interval must not be negative"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries must not be negative"))
	}
	if c.InitialBackoff <= 0 {
		errs = append(errs, errors.New("initial backoff must be positive"))
	}
	if c.MaxBackoff < c.InitialBackoff {
		errs = append(errs, errors.New("max backoff must not be below initial backoff"))
	}
	return errors.Join(errs...)
}

// Resolver matches one detection against enrolled identities.
type Resolver interface {
	Resolve(vec []float32, quality float64) matcher.Result
}

// Observer receives identity observations. *attendance.Engine implements it.
type Observer interface {
	Observe(identityID string, confidence float64, cameraID string, ts time.Time) attendance.Outcome
}

// Coordinator starts, stops and reports on camera sessions.
type Coordinator struct {
	cfg      Config
	dial     feed.DialFunc
	resolver Resolver
	observer Observer
	now      func() time.Time
	log      zerolog.Logger
	m        *metrics.Metrics
	diag     diagnostics.Publisher
	sampler  *logging.Sampler

	mu       sync.Mutex
	sessions map[string]*session
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the clock used to advance trackers between detections.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithLogger sets the coordinator logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// WithMetrics sets the metrics sessions report to.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.m = m }
}

// WithDiagnostics sets where rejections, transitions and camera status are published.
func WithDiagnostics(p diagnostics.Publisher) Option {
	return func(c *Coordinator) { c.diag = p }
}

// NewCoordinator creates a coordinator with no running sessions.
func NewCoordinator(cfg Config, dial feed.DialFunc, resolver Resolver, observer Observer, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	if dial == nil || resolver == nil || observer == nil {
		return nil, errors.New("session coordinator needs a dialer, a resolver and an observer")
	}
	c := &Coordinator{
		cfg:      cfg,
		dial:     dial,
		resolver: resolver,
		observer: observer,
		now:      time.Now,
		log:      zerolog.Nop(),
		sampler:  logging.NewSampler(10*time.Second, 1),
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start launches a session for cam. A previous session that ended degraded is replaced.
func (c *Coordinator) Start(cam Camera) error {
	if cam.ID == "" {
		return errors.New("camera id is empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.sessions[cam.ID]; ok {
		if !s.replaceable() {
			return fmt.Errorf("%w: %s", ErrAlreadyRunning, cam.ID)
		}
		s.stop()
		delete(c.sessions, cam.ID)
	}

	s := newSession(c, cam)
	c.sessions[cam.ID] = s
	go s.run()
	c.log.Info().Str("camera_id", cam.ID).Str("source", cam.Source).Msg("camera session started")
	return nil
}

// Stop gracefully stops a camera session: the detection in progress is
// finished, live tracks are finalized without attendance, and Stop returns
// once the session goroutines have exited.
func (c *Coordinator) Stop(cameraID string) error {
	c.mu.Lock()
	s, ok := c.sessions[cameraID]
	if ok {
		delete(c.sessions, cameraID)
	}
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRunning, cameraID)
	}

	s.stop()
	c.m.SetCameraDegraded(cameraID, false)
	c.log.Info().Str("camera_id", cameraID).Msg("camera session stopped")
	return nil
}

// StopAll stops every session concurrently and waits for all of them.
func (c *Coordinator) StopAll() {
	c.mu.Lock()
	sessions := make([]*session, 0, len(c.sessions))
	for id, s := range c.sessions {
		sessions = append(sessions, s)
		delete(c.sessions, id)
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.stop()
		}()
	}
	wg.Wait()
}

// Status returns the status of every known session, ordered by camera id.
func (c *Coordinator) Status() []CameraStatus {
	c.mu.Lock()
	out := make([]CameraStatus, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s.status())
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CameraID < out[j].CameraID })
	return out
}

// CameraStatus returns the status of one camera's session.
func (c *Coordinator) CameraStatus(cameraID string) (CameraStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[cameraID]
	if !ok {
		return CameraStatus{}, false
	}
	return s.status(), true
}

// CurrentlyPresent returns the identities currently tracked on any camera,
// ordered by identity, then camera. Each session publishes an immutable
// snapshot after every step, so this never waits for a pipeline.
func (c *Coordinator) CurrentlyPresent() []tracker.Presence {
	c.mu.Lock()
	var out []tracker.Presence
	for _, s := range c.sessions {
		if p := s.present.Load(); p != nil {
			out = append(out, *p...)
		}
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].IdentityID != out[j].IdentityID {
			return out[i].IdentityID < out[j].IdentityID
		}
		if out[i].CameraID != out[j].CameraID {
			return out[i].CameraID < out[j].CameraID
		}
		return out[i].TrackID < out[j].TrackID
	})
	return out
}

// Degraded returns the ids of cameras whose session gave up on their feed.
func (c *Coordinator) Degraded() []string {
	var out []string
	for _, st := range c.Status() {
		if st.Status == StatusDegraded {
			out = append(out, st.CameraID)
		}
	}
	return out
}
