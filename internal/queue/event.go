// Package queue defines the domain events exchanged over the message broker
// and the worker that turns them into user notifications.
package queue

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys on the events topic exchange.
const (
	KeyBookingCreated   = "booking.created"
	KeyBookingConfirmed = "booking.confirmed"
	KeyBookingCancelled = "booking.cancelled"
	KeyPaymentPaid      = "payment.paid"
	KeyPaymentFailed    = "payment.failed"
	KeyPaymentRefunded  = "payment.refunded"
	KeyMatchJoined      = "match.joined"
	KeyMatchLeft        = "match.left"
	KeyMatchCancelled   = "match.cancelled"
	KeyMatchCompleted   = "match.completed"
	KeyChatMessage      = "chat.message"
)

// Attribute keys carried in Event.Attrs.
const (
	AttrFacility    = "facility"
	AttrTitle       = "title"
	AttrPlayer      = "player"
	AttrFailureCode = "failure_code"
	AttrPreview     = "preview"
	AttrRoomID      = "room_id"
	AttrStartsAt    = "starts_at"
)

// NotificationBindings are the patterns the notification queue is bound
// with.
var NotificationBindings = []string{"booking.*", "payment.*", "match.*", KeyChatMessage}

// Event is the envelope published for every domain change.  Recipients are
// the users to notify; a non-zero actor is never notified about their own
// action.
type Event struct {
	ID          string            `json:"id"`
	Key         string            `json:"key"`
	OccurredAt  time.Time         `json:"occurred_at"`
	ActorID     uint64            `json:"actor_id,omitempty"`
	Recipients  []uint64          `json:"recipients"`
	SubjectID   uint64            `json:"subject_id"`
	AmountCents uint32            `json:"amount_cents,omitempty"`
	Currency    string            `json:"currency,omitempty"`
	Attrs       map[string]string `json:"attrs,omitempty"`
}

// NewEvent stamps a new event with a random id and the current time.
func NewEvent(key string, subjectID, actorID uint64, recipients ...uint64) Event {
	return Event{
		ID:         uuid.NewString(),
		Key:        key,
		OccurredAt: time.Now().UTC(),
		ActorID:    actorID,
		Recipients: recipients,
		SubjectID:  subjectID,
	}
}

// With sets an attribute and returns the event for chaining.
func (e Event) With(k, v string) Event {
	if e.Attrs == nil {
		e.Attrs = map[string]string{}
	}
	e.Attrs[k] = v
	return e
}

// Audience returns the recipients minus the actor, de-duplicated.  System
// events such as payment results carry no actor and reach every recipient.
func (e Event) Audience() []uint64 {
	seen := map[uint64]bool{}
	out := make([]uint64, 0, len(e.Recipients))
	for _, id := range e.Recipients {
		if id == 0 || id == e.ActorID || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
