package spool

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/face-attendance/internal/attendance"
)

func openTestSpool(t *testing.T) (*SQLite, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spool.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func event(identity string, at time.Time) attendance.Event {
	return attendance.Event{
		EventID:        uuid.New(),
		IdentityID:     identity,
		Timestamp:      at,
		Status:         attendance.StatusPresent,
		Confidence:     0.91,
		SourceCameraID: "cam-1",
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}

func TestPushAndDrainInOrder(t *testing.T) {
	s, _ := openTestSpool(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	pushed := []attendance.Event{event("E1", at), event("E2", at.Add(time.Second)), event("E3", at.Add(2*time.Second))}
	for _, ev := range pushed {
		require.NoError(t, s.Push(ctx, ev))
	}
	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	var got []attendance.Event
	drained, err := s.Drain(ctx, func(ev attendance.Event) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, drained)
	require.Len(t, got, 3)
	for i := range pushed {
		assert.Equal(t, pushed[i].EventID, got[i].EventID)
		assert.Equal(t, pushed[i].IdentityID, got[i].IdentityID)
		assert.True(t, pushed[i].Timestamp.Equal(got[i].Timestamp))
		assert.Equal(t, pushed[i].Confidence, got[i].Confidence)
	}

	n, err = s.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPush_DuplicateEventKeptOnce(t *testing.T) {
	s, _ := openTestSpool(t)
	ctx := context.Background()
	ev := event("E1", time.Now())

	require.NoError(t, s.Push(ctx, ev))
	require.NoError(t, s.Push(ctx, ev))

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDrain_StopsAtFirstError(t *testing.T) {
	s, _ := openTestSpool(t)
	ctx := context.Background()
	now := time.Now()
	for _, id := range []string{"E1", "E2", "E3"} {
		require.NoError(t, s.Push(ctx, event(id, now)))
	}

	errDown := errors.New("database down")
	calls := 0
	drained, err := s.Drain(ctx, func(attendance.Event) error {
		calls++
		if calls == 2 {
			return errDown
		}
		return nil
	})
	require.ErrorIs(t, err, errDown)
	assert.Equal(t, 1, drained)

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var next []string
	_, err = s.Drain(ctx, func(ev attendance.Event) error {
		next = append(next, ev.IdentityID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"E2", "E3"}, next, "the failed event stays at the head")
}

func TestDrain_MovesCorruptRowsAside(t *testing.T) {
	s, _ := openTestSpool(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Push(ctx, event("E1", now)))
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO spooled_events (event_id, identity_id, payload) VALUES (?, ?, ?)`,
		uuid.NewString(), "E9", "{not json")
	require.NoError(t, err)
	require.NoError(t, s.Push(ctx, event("E2", now)))

	var got []string
	drained, err := s.Drain(ctx, func(ev attendance.Event) error {
		got = append(got, ev.IdentityID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, drained)
	assert.Equal(t, []string{"E1", "E2"}, got)

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	dead, err := s.DeadLetters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, dead)
}

func TestDrain_MoreThanOneBatch(t *testing.T) {
	s, _ := openTestSpool(t)
	ctx := context.Background()
	now := time.Now()
	for range drainBatch + 5 {
		require.NoError(t, s.Push(ctx, event("E1", now)))
	}

	drained, err := s.Drain(ctx, func(attendance.Event) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, drainBatch+5, drained)
}

func TestSpool_SurvivesReopen(t *testing.T) {
	s, path := openTestSpool(t)
	ctx := context.Background()
	ev := event("E1", time.Now())
	require.NoError(t, s.Push(ctx, ev))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	n, err := reopened.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// The spool plugs into the attendance writer as its overflow queue.
func TestSpool_WithWriter(t *testing.T) {
	s, _ := openTestSpool(t)
	ctx := context.Background()
	ev := event("E1", time.Now())
	require.NoError(t, s.Push(ctx, ev))

	sink := &sliceSink{}
	w := attendance.NewWriter(sink, s, attendance.DefaultWriterConfig())
	n, err := w.DrainSpool(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, sink.events, 1)
	assert.Equal(t, ev.EventID, sink.events[0].EventID)
}

type sliceSink struct {
	events []attendance.Event
}

func (s *sliceSink) Append(_ context.Context, ev attendance.Event) error {
	s.events = append(s.events, ev)
	return nil
}
