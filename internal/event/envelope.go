// Package event defines the inputs the engine consumes and the envelope it
// wraps them in after processing.
package event

import (
	"time"
)

// EventType identifies the kind of input event.
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeTroveOpen
	EventTypeTroveAdjust
	EventTypeTroveClose
	EventTypeCollPriceUpdate
)

func (e EventType) String() string {
	switch e {
	case EventTypeTroveOpen:
		return "trove_open"
	case EventTypeTroveAdjust:
		return "trove_adjust"
	case EventTypeTroveClose:
		return "trove_close"
	case EventTypeCollPriceUpdate:
		return "coll_price_update"
	default:
		return "unknown"
	}
}

// Event is an input the engine can process.
type Event interface {
	// IdempotencyKey uniquely identifies this event for deduplication.
	IdempotencyKey() string
	EventType() EventType
	// SourceSequence is the producer's own sequence number, used for
	// staleness checks on ordered feeds.
	SourceSequence() int64
}

// EventEnvelope wraps a processed event with its assigned global sequence
// and the state-hash chain values computed after applying it.
type EventEnvelope struct {
	Sequence       int64
	IdempotencyKey string
	EventType      EventType
	Timestamp      time.Time
	SourceSequence int64
	Payload        Event
	StateHash      [32]byte
	PrevHash       [32]byte
}
