package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/kozaktomas/face-attendance/internal/diagnostics"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/feed"
	"github.com/kozaktomas/face-attendance/internal/tracker"
)

// Status is the lifecycle state of a camera session.
type Status string

// Session statuses.
const (
	StatusStarting     Status = "starting"
	StatusRunning      Status = "running"
	StatusReconnecting Status = "reconnecting"
	StatusDegraded     Status = "degraded"
	StatusStopped      Status = "stopped"
)

// CameraStatus is a point-in-time view of a camera session.
type CameraStatus struct {
	CameraID      string    `json:"camera_id"`
	Name          string    `json:"name,omitempty"`
	Status        Status    `json:"status"`
	Tracks        int       `json:"tracks"`
	Detections    int64     `json:"detections"`
	Reconnects    int       `json:"reconnects"`
	LastError     string    `json:"last_error,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	LastDetection time.Time `json:"last_detection,omitzero"`
}

type session struct {
	c   *Coordinator
	cam Camera
	log zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// clock is only touched by the session goroutine.
	clock feedClock

	present    atomic.Pointer[[]tracker.Presence]
	detections atomic.Int64
	tracks     atomic.Int64

	mu            sync.Mutex
	state         Status
	reconnects    int
	lastErr       string
	startedAt     time.Time
	lastDetection time.Time
}

// feedClock maps coordinator time onto the detector's clock. The tracker
// is driven by detection timestamps, so ticks must advance it on the same
// time base: the newest detection time plus the time elapsed since it was
// received.
type feedClock struct {
	feed     time.Time
	received time.Time
}

func (c *feedClock) observe(ts, received time.Time) {
	if ts.After(c.feed) {
		c.feed, c.received = ts, received
	}
}

// at returns the feed time corresponding to now. Before the first detection
// there is no feed time and now is returned unchanged.
func (c *feedClock) at(now time.Time) time.Time {
	if c.feed.IsZero() {
		return now
	}
	elapsed := now.Sub(c.received)
	if elapsed < 0 {
		elapsed = 0
	}
	return c.feed.Add(elapsed)
}

func newSession(c *Coordinator, cam Camera) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		c:         c,
		cam:       cam,
		log:       c.log.With().Str("camera_id", cam.ID).Logger(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     StatusStarting,
		startedAt: time.Now(),
	}
	empty := []tracker.Presence{}
	s.present.Store(&empty)
	return s
}

func (s *session) stop() {
	s.cancel()
	<-s.done
}

// replaceable reports whether a new session may take this one's place.
func (s *session) replaceable() bool {
	select {
	case <-s.done:
		return true
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StatusDegraded
}

func (s *session) status() CameraStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CameraStatus{
		CameraID:      s.cam.ID,
		Name:          s.cam.Name,
		Status:        s.state,
		Tracks:        int(s.tracks.Load()),
		Detections:    s.detections.Load(),
		Reconnects:    s.reconnects,
		LastError:     s.lastErr,
		StartedAt:     s.startedAt,
		LastDetection: s.lastDetection,
	}
}

// setStatus records a status change. Metrics are updated before the status
// becomes visible through Status.
func (s *session) setStatus(st Status, cause error) {
	if st == StatusReconnecting {
		s.c.m.IncCameraReconnects(s.cam.ID)
	}
	s.c.m.SetCameraDegraded(s.cam.ID, st == StatusDegraded)

	s.mu.Lock()
	prev := s.state
	s.state = st
	if cause != nil {
		s.lastErr = cause.Error()
	}
	if st == StatusReconnecting {
		s.reconnects++
	}
	s.mu.Unlock()

	if prev == st {
		return
	}

	ev := diagnostics.Event{Type: diagnostics.EventCameraStatus, CameraID: s.cam.ID, Reason: string(st)}
	switch st {
	case StatusDegraded:
		ev.Level = diagnostics.LevelError
		s.log.Error().Err(cause).Msg("camera feed unavailable, session degraded")
	case StatusReconnecting:
		ev.Level = diagnostics.LevelWarning
		s.log.Warn().Err(cause).Msg("camera feed failed, reconnecting")
	default:
		s.log.Info().Str("status", string(st)).Msg("camera session status")
	}
	if cause != nil {
		ev.Message = cause.Error()
	}
	if s.c.diag != nil {
		s.c.diag.Publish(ev)
	}
}

// run dials the feed and processes detections until stopped. Feed failures
// are retried with exponential backoff; after MaxRetries consecutive failures
// the session ends degraded.
func (s *session) run() {
	defer close(s.done)

	tk := tracker.New(s.cam.ID, s.c.cfg.Tracker, tracker.WithLogger(s.log))
	defer s.finalize(tk)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.c.cfg.InitialBackoff
	bo.MaxInterval = s.c.cfg.MaxBackoff
	bo.MaxElapsedTime = 0
	bo.Reset()

	src := feed.Source{
		CameraID:    s.cam.ID,
		URL:         s.cam.Source,
		FrameWidth:  s.cam.FrameWidth,
		FrameHeight: s.cam.FrameHeight,
	}

	failures := 0
	for {
		f, err := s.c.dial(s.ctx, src)
		if err == nil {
			s.setStatus(StatusRunning, nil)
			var processed int
			processed, err = s.consume(f, tk)
			f.Close()
			if processed > 0 {
				failures = 0
				bo.Reset()
			}
		}
		if s.ctx.Err() != nil {
			return
		}
		if errors.Is(err, feed.ErrUnsupportedSource) {
			s.setStatus(StatusDegraded, err)
			return
		}

		failures++
		if failures > s.c.cfg.MaxRetries {
			s.setStatus(StatusDegraded, err)
			return
		}
		s.setStatus(StatusReconnecting, err)

		wait := time.NewTimer(bo.NextBackOff())
		select {
		case <-s.ctx.Done():
			wait.Stop()
			return
		case <-wait.C:
		}
	}
}

// consume processes detections from f until the feed fails or the session
// is stopped. A detection already received is always processed in full.
func (s *session) consume(f feed.Feed, tk *tracker.Tracker) (int, error) {
	readCtx, cancelRead := context.WithCancel(s.ctx)
	detections := make(chan facematch.Detection)
	readErr := make(chan error, 1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			d, err := f.Next(readCtx)
			if err != nil {
				readErr <- err
				return
			}
			select {
			case detections <- d:
			case <-readCtx.Done():
				return
			}
		}
	}()
	defer func() {
		cancelRead()
		wg.Wait()
	}()

	var tick <-chan time.Time
	if s.c.cfg.TickInterval > 0 {
		ticker := time.NewTicker(s.c.cfg.TickInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	processed := 0
	for {
		select {
		case <-s.ctx.Done():
			return processed, s.ctx.Err()
		case err := <-readErr:
			return processed, err
		case d := <-detections:
			s.process(tk, d)
			processed++
		case <-tick:
			s.publishTransitions(tk.Advance(s.clock.at(s.c.now())))
			s.publishPresent(tk)
		}
	}
}

// process runs one detection through association, matching and the
// attendance engine.
func (s *session) process(tk *tracker.Tracker, d facematch.Detection) {
	d.CameraID = s.cam.ID
	s.c.m.ObserveDetection(s.cam.ID)
	s.detections.Add(1)
	s.mu.Lock()
	s.lastDetection = d.Timestamp
	s.mu.Unlock()
	s.clock.observe(d.Timestamp, s.c.now())

	track, transitions := tk.Associate(d)
	s.publishTransitions(transitions)

	start := time.Now()
	res := s.c.resolver.Resolve(d.Vector, d.Quality)
	s.c.m.ObserveMatch(res.Label(), time.Since(start))

	if res.Matched {
		tk.RecordMatch(track.ID, res.IdentityID, res.Similarity)
	} else {
		s.reject(track, res.Label(), res)
	}

	for _, r := range tk.TakeReports() {
		out := s.c.observer.Observe(r.IdentityID, r.Confidence, r.CameraID, r.At)
		s.log.Info().
			Str("track_id", r.TrackID).
			Str("identity_id", r.IdentityID).
			Float64("confidence", r.Confidence).
			Str("outcome", out.Label()).
			Msg("identity observed")
	}
	s.publishPresent(tk)
}

func (s *session) reject(track tracker.Track, reason string, res any) {
	if s.c.sampler.Allow(s.cam.ID + "/" + reason) {
		s.log.Debug().Str("track_id", track.ID).Str("reason", reason).Msg("detection rejected")
	}
	if s.c.diag != nil {
		s.c.diag.Publish(diagnostics.Event{
			Type:     diagnostics.EventRejection,
			CameraID: s.cam.ID,
			TrackID:  track.ID,
			Reason:   reason,
			Data:     res,
		})
	}
}

func (s *session) publishTransitions(transitions []tracker.Transition) {
	for _, tr := range transitions {
		s.c.m.ObserveTransition(tr.From.String(), tr.To.String())
		s.log.Debug().
			Str("track_id", tr.TrackID).
			Str("identity_id", tr.IdentityID).
			Stringer("from", tr.From).
			Stringer("to", tr.To).
			Msg("track transition")
		if s.c.diag != nil {
			s.c.diag.Publish(diagnostics.Event{
				Type:       diagnostics.EventTransition,
				Time:       tr.At,
				CameraID:   tr.CameraID,
				TrackID:    tr.TrackID,
				IdentityID: tr.IdentityID,
				Reason:     tr.To.String(),
				Data:       tr,
			})
		}
	}
}

func (s *session) publishPresent(tk *tracker.Tracker) {
	present := tk.Present()
	if present == nil {
		present = []tracker.Presence{}
	}
	s.present.Store(&present)
	s.tracks.Store(int64(tk.Len()))
}

// finalize retires live tracks on exit. Departure is not attendance, so this
// only produces transitions.
func (s *session) finalize(tk *tracker.Tracker) {
	s.publishTransitions(tk.Finalize(s.clock.at(s.c.now())))
	s.publishPresent(tk)

	s.mu.Lock()
	degraded := s.state == StatusDegraded
	s.mu.Unlock()
	if !degraded {
		s.setStatus(StatusStopped, nil)
	}
}
