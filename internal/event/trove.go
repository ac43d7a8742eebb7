package event

import (
	"time"

	"github.com/google/uuid"
)

// TroveOpen requests opening a trove. Amounts are decimal strings of
// WAD-scaled values; the engine parses and validates them.
// Idempotency key: request_id.
type TroveOpen struct {
	RequestID uuid.UUID `json:"request_id"`
	Owner     uuid.UUID `json:"owner"`
	Coll      string    `json:"coll"`
	Debt      string    `json:"debt"`
	Sequence  int64     `json:"sequence"` // source sequence from the submitter
	Timestamp time.Time `json:"timestamp"`
}

func (e *TroveOpen) IdempotencyKey() string { return e.RequestID.String() }
func (e *TroveOpen) EventType() EventType   { return EventTypeTroveOpen }
func (e *TroveOpen) SourceSequence() int64  { return e.Sequence }

// TroveAdjust requests a combined collateral/debt change on an active trove.
// Idempotency key: request_id.
type TroveAdjust struct {
	RequestID    uuid.UUID `json:"request_id"`
	Owner        uuid.UUID `json:"owner"`
	CollChange   string    `json:"coll_change"`
	CollIncrease bool      `json:"coll_increase"`
	DebtChange   string    `json:"debt_change"`
	DebtIncrease bool      `json:"debt_increase"`
	Sequence     int64     `json:"sequence"`
	Timestamp    time.Time `json:"timestamp"`
}

func (e *TroveAdjust) IdempotencyKey() string { return e.RequestID.String() }
func (e *TroveAdjust) EventType() EventType   { return EventTypeTroveAdjust }
func (e *TroveAdjust) SourceSequence() int64  { return e.Sequence }

// TroveClose requests closing an active trove.
// Idempotency key: request_id.
type TroveClose struct {
	RequestID uuid.UUID `json:"request_id"`
	Owner     uuid.UUID `json:"owner"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *TroveClose) IdempotencyKey() string { return e.RequestID.String() }
func (e *TroveClose) EventType() EventType   { return EventTypeTroveClose }
func (e *TroveClose) SourceSequence() int64  { return e.Sequence }
