package database

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/face-attendance/internal/attendance"
)

func TestAttendanceFilterWithLimit(t *testing.T) {
	tests := []struct {
		limit int
		want  int
	}{
		{0, 100},
		{-5, 100},
		{20, 20},
		{1000, 1000},
		{5000, 1000},
	}

	for _, tc := range tests {
		got := AttendanceFilter{Limit: tc.limit}.WithLimit(100, 1000).Limit
		if got != tc.want {
			t.Errorf("WithLimit(%d) = %d, want %d", tc.limit, got, tc.want)
		}
	}
}

func TestDayRange(t *testing.T) {
	prague, err := time.LoadLocation("Europe/Prague")
	if err != nil {
		t.Skipf("time zone data not available: %v", err)
	}

	// 23:30 UTC on March 1 is already March 2 in Prague.
	day := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	start, end := DayRange(day, prague)

	wantStart := time.Date(2026, 3, 2, 0, 0, 0, 0, prague)
	if !start.Equal(wantStart) {
		t.Errorf("start = %v, want %v", start, wantStart)
	}
	if !end.Equal(wantStart.AddDate(0, 0, 1)) {
		t.Errorf("end = %v, want next midnight", end)
	}
}

func TestDayRange_DSTChange(t *testing.T) {
	prague, err := time.LoadLocation("Europe/Prague")
	if err != nil {
		t.Skipf("time zone data not available: %v", err)
	}

	// Clocks move forward on 2026-03-29, so the day is 23 hours long.
	start, end := DayRange(time.Date(2026, 3, 29, 12, 0, 0, 0, prague), prague)
	if got := end.Sub(start); got != 23*time.Hour {
		t.Errorf("expected 23h day, got %v", got)
	}
}

func TestLogFromEvent(t *testing.T) {
	id := uuid.New()
	ts := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	log := LogFromEvent(attendance.Event{
		EventID:        id,
		IdentityID:     "emp-1",
		Timestamp:      ts,
		Status:         attendance.StatusPresent,
		Confidence:     0.91,
		SourceCameraID: "cam-entry",
	})

	if log.EventID != id || log.IdentityID != "emp-1" || !log.Timestamp.Equal(ts) {
		t.Errorf("unexpected log: %+v", log)
	}
	if log.Status != "present" || log.ConfidenceScore != 0.91 || log.SourceCameraID != "cam-entry" {
		t.Errorf("unexpected log fields: %+v", log)
	}
}
