package event

import (
	"fmt"
	"time"
)

// CollPriceUpdate is an oracle tick for the collateral price, WAD-scaled as
// a decimal string. PriceSequence is the oracle's own sequence; the engine
// drops updates that arrive out of order.
// Idempotency key: source:price_sequence.
type CollPriceUpdate struct {
	Source        string    `json:"source"`
	Price         string    `json:"price"`
	PriceSequence int64     `json:"price_sequence"`
	Timestamp     time.Time `json:"timestamp"`
}

func (e *CollPriceUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%s:%d", e.Source, e.PriceSequence)
}

func (e *CollPriceUpdate) EventType() EventType  { return EventTypeCollPriceUpdate }
func (e *CollPriceUpdate) SourceSequence() int64 { return e.PriceSequence }
