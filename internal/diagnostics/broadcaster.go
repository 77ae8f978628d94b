// Package diagnostics carries the engine's diagnostic stream: matcher
// rejections, track transitions, attendance outcomes and degraded signals.
// Consumers are SSE clients, the MQTT forwarder and the system log writer.
package diagnostics

import (
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
)

// EventType classifies a diagnostic event.
type EventType string

// Diagnostic event types.
const (
	EventRejection    EventType = "rejection"
	EventTransition   EventType = "transition"
	EventOutcome      EventType = "outcome"
	EventCameraStatus EventType = "camera_status"
	EventWriterStatus EventType = "writer_status"
	EventEnrollment   EventType = "enrollment"
)

// Level is the severity of an event, used when events are persisted.
type Level string

// Event levels.
const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// listenerBuffer is the channel buffer of one listener. A slow listener
// loses events instead of blocking the publisher.
const listenerBuffer = constants.EventChannelBuffer

// Event is one diagnostic record.
type Event struct {
	Type       EventType `json:"type"`
	Level      Level     `json:"level"`
	Time       time.Time `json:"time"`
	CameraID   string    `json:"camera_id,omitempty"`
	TrackID    string    `json:"track_id,omitempty"`
	IdentityID string    `json:"identity_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Message    string    `json:"message,omitempty"`
	Data       any       `json:"data,omitempty"`
}

// Publisher accepts diagnostic events. Publish must not block.
type Publisher interface {
	Publish(ev Event)
}

// Broadcaster fans events out to any number of listeners.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners []chan Event
	now       func() time.Time
}

// NewBroadcaster creates a broadcaster with no listeners.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{now: time.Now}
}

// AddListener adds an event listener.
func (b *Broadcaster) AddListener() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, listenerBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener and closes its channel.
func (b *Broadcaster) RemoveListener(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// ListenerCount returns the number of attached listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Publish sends ev to all listeners. It is a no-op on a nil Broadcaster.
func (b *Broadcaster) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = b.now()
	}
	if ev.Level == "" {
		ev.Level = LevelInfo
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- ev:
		default:
			// Listener buffer full, skip.
		}
	}
}

// Close removes every listener.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.listeners {
		close(ch)
	}
	b.listeners = nil
}
