package service

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/diagnostics"
)

// Run starts the active cameras and the attendance pipeline and blocks until
// ctx is done. Shutdown stops every camera session first, then flushes events
// held by the engine into the writer, and stops the writer last so that no
// recorded event is left undelivered or unspooled.
func (s *Service) Run(ctx context.Context) error {
	// The pipeline outlives ctx until the cameras are stopped.
	base := context.WithoutCancel(ctx)
	engineCtx, stopEngine := context.WithCancel(base)
	defer stopEngine()
	writerCtx, stopWriter := context.WithCancel(base)
	defer stopWriter()

	var pipeline errgroup.Group
	engineDone := make(chan struct{})
	pipeline.Go(func() error {
		defer close(engineDone)
		return s.engine.Run(engineCtx, constants.EngineFlushInterval)
	})
	pipeline.Go(func() error {
		return s.writer.Run(writerCtx)
	})

	g, gctx := errgroup.WithContext(ctx)
	if s.mqtt != nil {
		g.Go(func() error {
			return s.mqtt.Run(gctx, s.diag)
		})
	}
	if s.repos.SystemLogs != nil {
		ch := s.diag.AddListener()
		g.Go(func() error {
			defer s.diag.RemoveListener(ch)
			s.persistSystemLogs(gctx, ch)
			return nil
		})
	}

	s.startActiveCameras()
	s.log.Info().Int("cameras", len(s.cfg.Cameras)).Msg("attendance service running")

	<-gctx.Done()
	s.log.Info().Msg("stopping attendance service")

	s.coord.StopAll()
	stopEngine()
	<-engineDone
	stopWriter()

	return errors.Join(g.Wait(), pipeline.Wait())
}

// persistSystemLogs stores degraded signals and enrollment changes until ctx is done.
func (s *Service) persistSystemLogs(ctx context.Context, ch <-chan diagnostics.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			entry, keep := systemLogFor(ev)
			if !keep {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, constants.SystemLogTimeout)
			if err := s.repos.SystemLogs.Write(writeCtx, entry); err != nil {
				s.log.Warn().Err(err).Str("type", string(ev.Type)).Msg("failed to persist system log")
			}
			cancel()
		}
	}
}

// systemLogFor maps a diagnostic event to a system log entry. Per-detection
// events are not persisted.
func systemLogFor(ev diagnostics.Event) (database.SystemLog, bool) {
	var component string
	switch ev.Type {
	case diagnostics.EventCameraStatus:
		if ev.Level != diagnostics.LevelError && ev.Level != diagnostics.LevelWarning {
			return database.SystemLog{}, false
		}
		component = "session"
	case diagnostics.EventWriterStatus:
		component = "writer"
	case diagnostics.EventEnrollment:
		component = "enrollment"
	default:
		return database.SystemLog{}, false
	}

	msg := ev.Reason
	if ev.Message != "" {
		msg += ": " + ev.Message
	}
	level := string(ev.Level)
	if level == "" {
		level = string(diagnostics.LevelInfo)
	}
	return database.SystemLog{
		Level:      level,
		Component:  component,
		Message:    msg,
		IdentityID: ev.IdentityID,
		CameraID:   ev.CameraID,
		Timestamp:  ev.Time,
	}, true
}
