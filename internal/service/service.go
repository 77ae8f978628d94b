// Package service assembles the attendance engine: the embedding store and
// matcher, the per-camera sessions, the decision engine and its writer. One
// Service is built by the serve command and shared by reference with the HTTP
// handlers.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/diagnostics"
	"github.com/kozaktomas/face-attendance/internal/feed"
	"github.com/kozaktomas/face-attendance/internal/logging"
	"github.com/kozaktomas/face-attendance/internal/matcher"
	"github.com/kozaktomas/face-attendance/internal/metrics"
	"github.com/kozaktomas/face-attendance/internal/session"
	"github.com/kozaktomas/face-attendance/internal/store"
	"github.com/kozaktomas/face-attendance/internal/tracker"
)

// ErrUnknownCamera is returned for camera ids missing from the cameras file.
var ErrUnknownCamera = errors.New("unknown camera")

// Pinger reports whether persistence is reachable. *postgres.Pool implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Repositories are the persistence collaborators of the service.
type Repositories struct {
	Embeddings database.EmbeddingWriter
	Attendance database.AttendanceWriter
	// SystemLogs is optional; without it degraded signals are only logged.
	SystemLogs database.SystemLogWriter
	// DB is optional and used by Health.
	DB Pinger
}

// Service is the long-lived attendance engine.
type Service struct {
	cfg   *config.Config
	repos Repositories
	log   zerolog.Logger
	now   func() time.Time

	store   *store.Store
	matcher *matcher.Matcher
	engine  *attendance.Engine
	writer  *attendance.Writer
	coord   *session.Coordinator
	diag    *diagnostics.Broadcaster
	m       *metrics.Metrics
	spool   attendance.Spool
	mqtt    *diagnostics.MQTTPublisher
	dial    feed.DialFunc

	enrollMu  sync.Mutex // keeps database and store writes in the same order
	startedAt time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithSpool sets the overflow spool of the attendance writer.
func WithSpool(sp attendance.Spool) Option {
	return func(s *Service) { s.spool = sp }
}

// WithMetrics sets the metrics every component reports to.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.m = m }
}

// WithDialer overrides how camera feeds are opened.
func WithDialer(dial feed.DialFunc) Option {
	return func(s *Service) { s.dial = dial }
}

// WithMQTT forwards the diagnostic stream to an MQTT broker while Run is active.
func WithMQTT(p *diagnostics.MQTTPublisher) Option {
	return func(s *Service) { s.mqtt = p }
}

// WithClock overrides the clock of the engine and the sessions.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the service logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// New builds the service from validated configuration.
func New(cfg *config.Config, repos Repositories, opts ...Option) (*Service, error) {
	if repos.Embeddings == nil || repos.Attendance == nil {
		return nil, errors.New("embedding and attendance repositories are required")
	}
	s := &Service{
		cfg:       cfg,
		repos:     repos,
		log:       logging.Component("service"),
		now:       time.Now,
		diag:      diagnostics.NewBroadcaster(),
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dial == nil {
		s.dial = feed.Dialer{Log: logging.Component("feed"), ClientID: cfg.MQTT.ClientID}.Dial
	}

	storeOpts := []store.Option{
		store.WithClock(s.now),
		store.WithPublishHook(func(snap *store.Snapshot) {
			s.m.SetStoreActiveRecords(snap.ActiveLen())
		}),
	}
	if cfg.Embedding.HNSWMinRecords > 0 {
		storeOpts = append(storeOpts, store.WithHNSW(cfg.Embedding.HNSWMinRecords))
	}
	st, err := store.New(cfg.Embedding.Dim, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating embedding store: %w", err)
	}
	s.store = st

	if s.matcher, err = matcher.New(cfg.MatcherConfig(), st); err != nil {
		return nil, fmt.Errorf("creating matcher: %w", err)
	}

	s.writer = attendance.NewWriter(attendanceSink{repo: repos.Attendance}, s.spool, cfg.WriterConfig(),
		attendance.WithWriterLogger(logging.Component("writer")),
		attendance.WithWriterMetrics(s.m),
		attendance.WithWriterDiagnostics(s.diag),
	)

	s.engine, err = attendance.NewEngine(cfg.EngineConfig(), s.writer,
		attendance.WithClock(s.now),
		attendance.WithLogger(logging.Component("attendance")),
		attendance.WithMetrics(s.m),
		attendance.WithDiagnostics(s.diag),
	)
	if err != nil {
		return nil, fmt.Errorf("creating attendance engine: %w", err)
	}

	s.coord, err = session.NewCoordinator(cfg.SessionConfig(), s.dial, s.matcher, s.engine,
		session.WithClock(s.now),
		session.WithLogger(logging.Component("session")),
		session.WithMetrics(s.m),
		session.WithDiagnostics(s.diag),
	)
	if err != nil {
		return nil, fmt.Errorf("creating session coordinator: %w", err)
	}
	return s, nil
}

// Diagnostics returns the diagnostic stream.
func (s *Service) Diagnostics() *diagnostics.Broadcaster {
	return s.diag
}

// Metrics returns the metrics, which may be nil.
func (s *Service) Metrics() *metrics.Metrics {
	return s.m
}

// Store returns the embedding store.
func (s *Service) Store() *store.Store {
	return s.store
}

// Engine returns the attendance decision engine.
func (s *Service) Engine() *attendance.Engine {
	return s.engine
}

// Writer returns the attendance writer.
func (s *Service) Writer() *attendance.Writer {
	return s.writer
}

// Resolve matches one detection against the enrolled identities. It has no
// effect on tracks or attendance; rejections are published as diagnostics.
func (s *Service) Resolve(vec []float32, quality float64, cameraID string) matcher.Result {
	start := time.Now()
	res := s.matcher.Resolve(vec, quality)
	s.m.ObserveMatch(res.Label(), time.Since(start))
	if !res.Matched {
		s.diag.Publish(diagnostics.Event{
			Type:     diagnostics.EventRejection,
			CameraID: cameraID,
			Reason:   res.Label(),
			Data:     res,
		})
	}
	return res
}

// CurrentlyPresent returns the identities currently tracked on any camera.
func (s *Service) CurrentlyPresent() []tracker.Presence {
	return s.coord.CurrentlyPresent()
}

// CameraInfo pairs a configured camera with its session status.
type CameraInfo struct {
	config.Camera
	Session session.CameraStatus `json:"session"`
}

// Cameras returns every configured camera with its session status. Cameras
// without a session report stopped.
func (s *Service) Cameras() []CameraInfo {
	out := make([]CameraInfo, 0, len(s.cfg.Cameras))
	for _, cam := range s.cfg.Cameras {
		st, ok := s.coord.CameraStatus(cam.ID)
		if !ok {
			st = session.CameraStatus{CameraID: cam.ID, Name: cam.Name, Status: session.StatusStopped}
		}
		out = append(out, CameraInfo{Camera: cam, Session: st})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// StartCamera starts the session of a configured camera.
func (s *Service) StartCamera(cameraID string) error {
	cam, ok := s.cfg.FindCamera(cameraID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCamera, cameraID)
	}
	if err := s.coord.Start(cam.Session()); err != nil {
		return fmt.Errorf("starting camera %s: %w", cameraID, err)
	}
	return nil
}

// StopCamera gracefully stops a camera session.
func (s *Service) StopCamera(cameraID string) error {
	if _, ok := s.cfg.FindCamera(cameraID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCamera, cameraID)
	}
	if err := s.coord.Stop(cameraID); err != nil {
		return fmt.Errorf("stopping camera %s: %w", cameraID, err)
	}
	return nil
}

// startActiveCameras starts every camera not disabled in the cameras file.
func (s *Service) startActiveCameras() {
	for _, cam := range s.cfg.Cameras {
		if !cam.IsActive() {
			continue
		}
		if err := s.coord.Start(cam.Session()); err != nil {
			s.log.Error().Err(err).Str("camera_id", cam.ID).Msg("failed to start camera session")
		}
	}
}

// Health is the service health report.
type Health struct {
	Status          string      `json:"status"`
	Database        string      `json:"database"`
	WriterDegraded  bool        `json:"writer_degraded"`
	QueueLength     int         `json:"queue_length"`
	SpoolDepth      int         `json:"spool_depth"`
	DegradedCameras []string    `json:"degraded_cameras"`
	HeldEvents      int         `json:"held_events"`
	Store           store.Stats `json:"store"`
	Uptime          string      `json:"uptime"`
}

// Health reports the degraded signals of the writer, the cameras and the database.
func (s *Service) Health(ctx context.Context) Health {
	h := Health{
		Status:          "ok",
		Database:        "ok",
		WriterDegraded:  s.writer.Degraded(),
		QueueLength:     s.writer.QueueLen(),
		DegradedCameras: s.coord.Degraded(),
		HeldEvents:      s.engine.Held(),
		Store:           s.store.Stats(),
		Uptime:          time.Since(s.startedAt).Round(time.Second).String(),
	}
	if h.DegradedCameras == nil {
		h.DegradedCameras = []string{}
	}
	if s.spool != nil {
		if n, err := s.spool.Len(ctx); err == nil {
			h.SpoolDepth = n
		}
	}
	if s.repos.DB != nil {
		if err := s.repos.DB.Ping(ctx); err != nil {
			h.Database = "unavailable"
		}
	}
	if h.WriterDegraded || len(h.DegradedCameras) > 0 || h.Database != "ok" {
		h.Status = "degraded"
	}
	return h
}

// Attendance lists persisted attendance logs.
func (s *Service) Attendance(ctx context.Context, f database.AttendanceFilter) ([]database.AttendanceLog, error) {
	f = f.WithLimit(constants.DefaultAttendanceLimit, constants.MaxAttendanceLimit)
	logs, err := s.repos.Attendance.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("listing attendance: %w", err)
	}
	return logs, nil
}

// DailySummary summarizes attendance on day's calendar day in the attendance time zone.
func (s *Service) DailySummary(ctx context.Context, day time.Time) ([]database.DailySummary, error) {
	from, to := database.DayRange(day, s.cfg.Attendance.Location)
	summary, err := s.repos.Attendance.Summary(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("summarizing attendance: %w", err)
	}
	return summary, nil
}

// SystemLogs returns the newest persisted diagnostic signals.
func (s *Service) SystemLogs(ctx context.Context, limit int) ([]database.SystemLog, error) {
	if s.repos.SystemLogs == nil {
		return []database.SystemLog{}, nil
	}
	if limit <= 0 {
		limit = constants.DefaultSystemLogLimit
	}
	return s.repos.SystemLogs.Recent(ctx, limit)
}

// Close releases the spool and the MQTT connection and persists the HNSW graph.
// It must be called after Run has returned.
func (s *Service) Close() error {
	var errs []error
	if path := s.cfg.Embedding.HNSWIndexPath; path != "" {
		if err := s.store.SaveIndex(path); err != nil {
			errs = append(errs, fmt.Errorf("saving HNSW index: %w", err))
		}
	}
	if s.mqtt != nil {
		s.mqtt.Close()
	}
	s.diag.Close()
	if c, ok := s.spool.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing spool: %w", err))
		}
	}
	return errors.Join(errs...)
}
