package attendance

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/face-attendance/internal/diagnostics"
)

var errSinkDown = errors.New("sink unavailable")

// memSink is an idempotent in-memory Sink that can be switched to fail.
type memSink struct {
	mu      sync.Mutex
	events  []Event
	seen    map[uuid.UUID]bool
	failing bool
	failN   int // fail this many calls before succeeding
	calls   int
}

func newMemSink() *memSink {
	return &memSink{seen: make(map[uuid.UUID]bool)}
}

func (s *memSink) Append(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failing {
		return errSinkDown
	}
	if s.failN > 0 {
		s.failN--
		return errSinkDown
	}
	if !s.seen[ev.EventID] {
		s.seen[ev.EventID] = true
		s.events = append(s.events, ev)
	}
	return nil
}

func (s *memSink) setFailing(f bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = f
}

func (s *memSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func (s *memSink) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// memSpool is an in-memory Spool.
type memSpool struct {
	mu     sync.Mutex
	events []Event
}

func (s *memSpool) Push(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *memSpool) Drain(_ context.Context, fn func(Event) error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for len(s.events) > 0 {
		if err := fn(s.events[0]); err != nil {
			return n, err
		}
		s.events = s.events[1:]
		n++
	}
	return n, nil
}

func (s *memSpool) Len(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events), nil
}

// recordingPublisher keeps published diagnostics.
type recordingPublisher struct {
	mu     sync.Mutex
	events []diagnostics.Event
}

func (p *recordingPublisher) Publish(ev diagnostics.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) Reasons(t diagnostics.EventType) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, ev := range p.events {
		if ev.Type == t {
			out = append(out, ev.Reason)
		}
	}
	return out
}

// collector is an Enqueuer that keeps what it receives.
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) Enqueue(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
