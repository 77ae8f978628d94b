package service

import (
	"context"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/database"
)

// attendanceSink adapts an attendance repository to the writer's sink.
type attendanceSink struct {
	repo database.AttendanceWriter
}

// Append writes ev. A duplicate event id is not an error.
func (s attendanceSink) Append(ctx context.Context, ev attendance.Event) error {
	_, err := s.repo.Append(ctx, database.LogFromEvent(ev))
	return err
}

// NewSink returns the attendance sink backed by repo, for use outside a
// running service such as draining the spool from the CLI.
func NewSink(repo database.AttendanceWriter) attendance.Sink {
	return attendanceSink{repo: repo}
}
