package query

import (
	"time"

	"github.com/google/uuid"
)

// TroveResponse represents a projected trove for API queries. Amounts are
// decimal strings of WAD-scaled values.
type TroveResponse struct {
	Owner        uuid.UUID `json:"owner"`
	Debt         string    `json:"debt"`
	Coll         string    `json:"coll"`
	Status       string    `json:"status"`
	NICR         string    `json:"nicr,omitempty"`
	UpdatedSeq   int64     `json:"updated_seq"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// TroveHistoryEntry is one lifecycle operation on a trove.
type TroveHistoryEntry struct {
	Sequence     int64     `json:"sequence"`
	Owner        uuid.UUID `json:"owner"`
	EventType    string    `json:"event_type"`
	Debt         string    `json:"debt"`
	Coll         string    `json:"coll"`
	Fee          string    `json:"fee"`
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// SystemResponse aggregates system-wide totals from the projections.
type SystemResponse struct {
	TroveCount   int64  `json:"trove_count"`
	TotalColl    string `json:"total_coll"`
	TotalDebt    string `json:"total_debt"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	EventCount      int64   `json:"event_count"`
}
