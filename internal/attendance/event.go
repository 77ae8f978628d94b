// Package attendance turns identity observations into deduplicated attendance
// events and delivers them to persistence.
package attendance

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status of an attendance event. Only presence is recorded; departure is not.
type Status string

// StatusPresent marks an identity as present.
const StatusPresent Status = "present"

// Event is one recorded attendance row. Events are append-only and carry a
// unique EventID so that retried writes are idempotent.
type Event struct {
	EventID        uuid.UUID `json:"event_id"`
	IdentityID     string    `json:"identity_id"`
	Timestamp      time.Time `json:"timestamp"`
	Status         Status    `json:"status"`
	Confidence     float64   `json:"confidence_score"`
	SourceCameraID string    `json:"source_camera_id"`
}

// Reason says why an observation did not produce an event.
type Reason string

// ReasonWithinCooldown means the identity was already recorded in the current cooldown window.
const ReasonWithinCooldown Reason = "within_cooldown"

// Outcome is the result of one observation.
type Outcome struct {
	Recorded     bool      `json:"recorded"`
	Reason       Reason    `json:"reason,omitempty"`
	IdentityID   string    `json:"identity_id"`
	EventID      uuid.UUID `json:"event_id,omitzero"`
	LastRecorded time.Time `json:"last_recorded"`
}

// Label is the metric/log label of the outcome.
func (o Outcome) Label() string {
	if o.Recorded {
		return "recorded"
	}
	return "suppressed"
}

// Sink is durable storage for attendance events. Append must be idempotent
// by EventID: the writer may deliver the same event more than once.
type Sink interface {
	Append(ctx context.Context, ev Event) error
}

// Spool is the local overflow queue used while the sink is unavailable.
type Spool interface {
	Push(ctx context.Context, ev Event) error
	// Drain calls fn for spooled events in insertion order and removes each
	// one fn accepts. It stops at the first error and returns how many were removed.
	Drain(ctx context.Context, fn func(Event) error) (int, error)
	Len(ctx context.Context) (int, error)
}

// Enqueuer accepts recorded events for delivery. Enqueue must not block.
type Enqueuer interface {
	Enqueue(ev Event)
}
