package diagnostics

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcaster_FanOut(t *testing.T) {
	b := NewBroadcaster()
	a := b.AddListener()
	c := b.AddListener()
	assert.Equal(t, 2, b.ListenerCount())

	b.Publish(Event{Type: EventRejection, CameraID: "cam-1", Reason: "low_quality"})

	for _, ch := range []chan Event{a, c} {
		select {
		case ev := <-ch:
			assert.Equal(t, EventRejection, ev.Type)
			assert.Equal(t, LevelInfo, ev.Level, "level defaults to info")
			assert.False(t, ev.Time.IsZero(), "time is stamped on publish")
		case <-time.After(time.Second):
			t.Fatal("listener did not receive the event")
		}
	}
}

func TestBroadcaster_RemoveListenerClosesChannel(t *testing.T) {
	b := NewBroadcaster()
	ch := b.AddListener()
	b.RemoveListener(ch)

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, b.ListenerCount())

	// Removing twice must not panic on a double close.
	assert.NotPanics(t, func() { b.RemoveListener(ch) })
}

func TestBroadcaster_SlowListenerDoesNotBlock(t *testing.T) {
	b := NewBroadcaster()
	_ = b.AddListener()

	done := make(chan struct{})
	go func() {
		for range listenerBuffer * 2 {
			b.Publish(Event{Type: EventOutcome})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full listener")
	}
}

func TestBroadcaster_NilIsNoop(t *testing.T) {
	var b *Broadcaster
	assert.NotPanics(t, func() { b.Publish(Event{Type: EventOutcome}) })
}

func TestMQTTPublisher_ForwardsJSON(t *testing.T) {
	_, err := NewMQTTPublisher(MQTTConfig{Topic: "x"}, zerolog.Nop())
	require.Error(t, err, "broker is required")

	p, err := NewMQTTPublisher(MQTTConfig{Broker: "tcp://localhost:1883", Topic: "attendance/diagnostics"}, zerolog.Nop())
	require.NoError(t, err)

	var mu sync.Mutex
	var topics []string
	var payloads [][]byte
	received := make(chan struct{}, 1)
	p.publish = func(topic string, payload []byte) error {
		mu.Lock()
		topics = append(topics, topic)
		payloads = append(payloads, payload)
		mu.Unlock()
		received <- struct{}{}
		return nil
	}

	b := NewBroadcaster()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, b) }()

	require.Eventually(t, func() bool { return b.ListenerCount() == 1 }, time.Second, 5*time.Millisecond)
	b.Publish(Event{Type: EventCameraStatus, CameraID: "cam-1", Level: LevelWarning, Message: "degraded"})

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("event was not forwarded")
	}
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, topics, 1)
	assert.Equal(t, "attendance/diagnostics/camera_status", topics[0])

	var ev Event
	require.NoError(t, json.Unmarshal(payloads[0], &ev))
	assert.Equal(t, "cam-1", ev.CameraID)
	assert.Equal(t, LevelWarning, ev.Level)
	assert.Equal(t, 0, b.ListenerCount(), "listener removed after Run returns")
}
