package state

import (
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Status is the lifecycle state of a trove.
type Status int32

const (
	StatusNonExistent Status = iota
	StatusActive
	StatusClosedByOwner
	StatusClosedByLiquidation
	StatusClosedByRedemption
)

func (s Status) String() string {
	switch s {
	case StatusNonExistent:
		return "NON_EXISTENT"
	case StatusActive:
		return "ACTIVE"
	case StatusClosedByOwner:
		return "CLOSED_BY_OWNER"
	case StatusClosedByLiquidation:
		return "CLOSED_BY_LIQUIDATION"
	case StatusClosedByRedemption:
		return "CLOSED_BY_REDEMPTION"
	default:
		return "UNKNOWN"
	}
}

// Closed reports whether the status is one of the terminal closed states.
func (s Status) Closed() bool {
	switch s {
	case StatusClosedByOwner, StatusClosedByLiquidation, StatusClosedByRedemption:
		return true
	}
	return false
}

// validTransitions defines the legal status changes. Closed troves may be
// reopened by their owner.
var validTransitions = map[Status][]Status{
	StatusNonExistent:         {StatusActive},
	StatusActive:              {StatusClosedByOwner, StatusClosedByLiquidation, StatusClosedByRedemption},
	StatusClosedByOwner:       {StatusActive},
	StatusClosedByLiquidation: {StatusActive},
	StatusClosedByRedemption:  {StatusActive},
}

// CanTransitionTo reports whether s -> target is a legal status change.
func (s Status) CanTransitionTo(target Status) bool {
	for _, t := range validTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// Trove is a single collateralized debt position. Debt and Coll are
// WAD-scaled. ArrayIndex is the trove's slot in the ledger's owner array
// while active, -1 otherwise.
type Trove struct {
	Owner      uuid.UUID
	Debt       *uint256.Int
	Coll       *uint256.Int
	Status     Status
	ArrayIndex int
}

// CanonicalBytes returns a deterministic byte encoding for state hashing.
// Field order is fixed; never reorder.
func (t *Trove) CanonicalBytes() []byte {
	buf := make([]byte, 0, 16+32+32+4)
	buf = append(buf, t.Owner[:]...)
	debt := t.Debt.Bytes32()
	buf = append(buf, debt[:]...)
	coll := t.Coll.Bytes32()
	buf = append(buf, coll[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(t.Status))
	return buf
}
