package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"TroveLedger/internal/event"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into a
// typed event.Event. The shell validates identifiers and amounts here so a
// malformed message is NAKed instead of reaching the engine.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "TroveOpen":
		return parseTroveOpen(raw.Data)
	case "TroveAdjust":
		return parseTroveAdjust(raw.Data)
	case "TroveClose":
		return parseTroveClose(raw.Data)
	case "CollPriceUpdate":
		return parseCollPriceUpdate(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Amounts are
// decimal strings of WAD-scaled values.

type troveOpenJSON struct {
	RequestID   string `json:"request_id"`
	Owner       string `json:"owner"`
	Coll        string `json:"coll"`
	Debt        string `json:"debt"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseTroveOpen(data []byte) (*event.TroveOpen, error) {
	var j troveOpenJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TroveOpen: %w", err)
	}

	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	owner, err := uuid.Parse(j.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}
	if err := checkAmount("coll", j.Coll); err != nil {
		return nil, err
	}
	if err := checkAmount("debt", j.Debt); err != nil {
		return nil, err
	}

	return &event.TroveOpen{
		RequestID: requestID,
		Owner:     owner,
		Coll:      j.Coll,
		Debt:      j.Debt,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type troveAdjustJSON struct {
	RequestID    string `json:"request_id"`
	Owner        string `json:"owner"`
	CollChange   string `json:"coll_change"`
	CollIncrease bool   `json:"coll_increase"`
	DebtChange   string `json:"debt_change"`
	DebtIncrease bool   `json:"debt_increase"`
	Sequence     int64  `json:"sequence"`
	TimestampUs  int64  `json:"timestamp_us"`
}

func parseTroveAdjust(data []byte) (*event.TroveAdjust, error) {
	var j troveAdjustJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TroveAdjust: %w", err)
	}

	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	owner, err := uuid.Parse(j.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}
	if err := checkAmount("coll_change", j.CollChange); err != nil {
		return nil, err
	}
	if err := checkAmount("debt_change", j.DebtChange); err != nil {
		return nil, err
	}

	return &event.TroveAdjust{
		RequestID:    requestID,
		Owner:        owner,
		CollChange:   j.CollChange,
		CollIncrease: j.CollIncrease,
		DebtChange:   j.DebtChange,
		DebtIncrease: j.DebtIncrease,
		Sequence:     j.Sequence,
		Timestamp:    time.UnixMicro(j.TimestampUs),
	}, nil
}

type troveCloseJSON struct {
	RequestID   string `json:"request_id"`
	Owner       string `json:"owner"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseTroveClose(data []byte) (*event.TroveClose, error) {
	var j troveCloseJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TroveClose: %w", err)
	}

	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	owner, err := uuid.Parse(j.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}

	return &event.TroveClose{
		RequestID: requestID,
		Owner:     owner,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type collPriceJSON struct {
	Source        string `json:"source"`
	Price         string `json:"price"`
	PriceSequence int64  `json:"price_sequence"`
	TimestampUs   int64  `json:"timestamp_us"`
}

func parseCollPriceUpdate(data []byte) (*event.CollPriceUpdate, error) {
	var j collPriceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CollPriceUpdate: %w", err)
	}
	if j.Source == "" {
		return nil, fmt.Errorf("parse CollPriceUpdate: empty source")
	}
	if j.Price == "" {
		return nil, fmt.Errorf("parse CollPriceUpdate: empty price")
	}
	if err := checkAmount("price", j.Price); err != nil {
		return nil, err
	}

	return &event.CollPriceUpdate{
		Source:        j.Source,
		Price:         j.Price,
		PriceSequence: j.PriceSequence,
		Timestamp:     time.UnixMicro(j.TimestampUs),
	}, nil
}

// checkAmount validates that a non-empty amount string is a decimal that
// fits in 256 bits. Empty strings mean zero and pass through.
func checkAmount(field, s string) error {
	if s == "" {
		return nil
	}
	if _, err := uint256.FromDecimal(s); err != nil {
		return fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	return nil
}
