// Package events is the typed event bus every engine publishes to and the
// Notification/Metrics/Audit sinks consume from. There is one buffered
// channel per event kind rather than listener
// registration on the hot path: publishing is a non-blocking best-effort
// send, never a fan-out callback invoked in the publisher's goroutine.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Kind names one of the publish-only event types the engines emit.
type Kind string

const (
	KindStateChanged         Kind = "state-changed"
	KindPickupCompleted      Kind = "pickup-completed"
	KindDeliveryCompleted    Kind = "delivery-completed"
	KindBreakRequired        Kind = "break-required"
	KindBreakStarted         Kind = "break-started"
	KindBreakEnded           Kind = "break-ended"
	KindShiftStarted         Kind = "shift-started"
	KindShiftEnded           Kind = "shift-ended"
	KindLocationUpdated      Kind = "location-updated"
	KindDailyReset           Kind = "daily-reset"
	KindOrderAssigned        Kind = "order-assigned"
	KindBatchCreated         Kind = "batch-created"
	KindReassignmentSucceeded Kind = "reassignment-succeeded"
	KindReassignmentFailed   Kind = "reassignment-failed"
	KindSLABreach            Kind = "sla-breach"
	KindEscalationRequired   Kind = "escalation-required"
	KindErrorTracked         Kind = "error-tracked"
	KindAlert                Kind = "alert"
)

// Event is the single envelope carried on every channel. Payload is
// intentionally untyped (per-kind schemas would force one channel type
// per kind at the Go type level, which the bus already provides via Kind
// dispatch) — sinks downcast based on Kind.
type Event struct {
	Kind      Kind
	Payload   any
	EntityID  uuid.UUID
	Timestamp time.Time
}

// bufferSize is generous enough that a slow sink does not make a fast
// engine block on a publish; a full channel drops the event rather than
// stalling the publisher (see Publish).
const bufferSize = 256

// Bus is the process-wide typed event bus. It is constructed once at
// startup by the process entrypoint (cmd/dispatchd) and injected into
// every engine; engines never
// reach it through an ambient global.
type Bus struct {
	channels map[Kind]chan Event
}

// NewBus allocates one buffered channel per known event kind.
func NewBus() *Bus {
	b := &Bus{channels: make(map[Kind]chan Event)}
	for _, k := range allKinds {
		b.channels[k] = make(chan Event, bufferSize)
	}
	return b
}

var allKinds = []Kind{
	KindStateChanged, KindPickupCompleted, KindDeliveryCompleted,
	KindBreakRequired, KindBreakStarted, KindBreakEnded,
	KindShiftStarted, KindShiftEnded, KindLocationUpdated, KindDailyReset,
	KindOrderAssigned, KindBatchCreated, KindReassignmentSucceeded,
	KindReassignmentFailed, KindSLABreach, KindEscalationRequired,
	KindErrorTracked, KindAlert,
}

// Publish enqueues an event on its kind's channel. If no sink is
// consuming fast enough and the buffer is full, the event is dropped
// rather than blocking the caller — engines must never stall on
// observability.
func (b *Bus) Publish(kind Kind, entityID uuid.UUID, payload any, now time.Time) {
	ch, ok := b.channels[kind]
	if !ok {
		return
	}
	ev := Event{Kind: kind, Payload: payload, EntityID: entityID, Timestamp: now}
	select {
	case ch <- ev:
	default:
	}
}

// Subscribe returns the receive-only channel for a given event kind, for
// a sink to range over.
func (b *Bus) Subscribe(kind Kind) <-chan Event {
	return b.channels[kind]
}
