package state

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"TroveLedger/internal/math"
)

// TroveLedger holds every trove record plus the unordered array of active
// owners. The array exists for O(1) membership iteration and random sampling;
// each active trove stores its own slot so removal is a swap with the tail.
//
// Not thread-safe. The engine serializes all access behind its lock.
type TroveLedger struct {
	troves map[uuid.UUID]*Trove
	owners []uuid.UUID
}

func NewTroveLedger() *TroveLedger {
	return &TroveLedger{
		troves: make(map[uuid.UUID]*Trove),
	}
}

// Get returns the trove record for owner, or nil if none was ever opened.
// Closed troves remain in the map with zeroed amounts.
func (l *TroveLedger) Get(owner uuid.UUID) *Trove {
	return l.troves[owner]
}

// StatusOf returns the trove status, StatusNonExistent for unknown owners.
func (l *TroveLedger) StatusOf(owner uuid.UUID) Status {
	if t, ok := l.troves[owner]; ok {
		return t.Status
	}
	return StatusNonExistent
}

// DebtOf returns the trove's debt, zero for unknown or closed owners.
func (l *TroveLedger) DebtOf(owner uuid.UUID) *uint256.Int {
	if t, ok := l.troves[owner]; ok && t.Status == StatusActive {
		return new(uint256.Int).Set(t.Debt)
	}
	return new(uint256.Int)
}

// CollOf returns the trove's collateral, zero for unknown or closed owners.
func (l *TroveLedger) CollOf(owner uuid.UUID) *uint256.Int {
	if t, ok := l.troves[owner]; ok && t.Status == StatusActive {
		return new(uint256.Int).Set(t.Coll)
	}
	return new(uint256.Int)
}

// Count returns the number of active troves.
func (l *TroveLedger) Count() int {
	return len(l.owners)
}

// OwnerAt returns the owner at slot i of the active array.
// Panics on out-of-range access; callers bound i by Count.
func (l *TroveLedger) OwnerAt(i int) uuid.UUID {
	return l.owners[i]
}

// Owners returns a copy of the active owner array.
func (l *TroveLedger) Owners() []uuid.UUID {
	out := make([]uuid.UUID, len(l.owners))
	copy(out, l.owners)
	return out
}

// Insert creates an active trove for owner with the given amounts and
// appends it to the owner array. Fails if the owner already has an active
// trove or the status transition is illegal.
func (l *TroveLedger) Insert(owner uuid.UUID, debt, coll *uint256.Int) (*Trove, error) {
	prev := l.StatusOf(owner)
	if prev == StatusActive {
		return nil, fmt.Errorf("insert %s: %w", owner, ErrTroveAlreadyActive)
	}
	if !prev.CanTransitionTo(StatusActive) {
		return nil, fmt.Errorf("insert %s: %s -> ACTIVE: %w", owner, prev, ErrInvalidTransition)
	}

	t := &Trove{
		Owner:      owner,
		Debt:       new(uint256.Int).Set(debt),
		Coll:       new(uint256.Int).Set(coll),
		Status:     StatusActive,
		ArrayIndex: len(l.owners),
	}
	l.troves[owner] = t
	l.owners = append(l.owners, owner)
	return t, nil
}

// Remove closes an active trove with the given terminal status, zeroes its
// amounts, and swap-removes it from the owner array. The last remaining
// trove cannot be closed.
func (l *TroveLedger) Remove(owner uuid.UUID, closed Status) error {
	t, ok := l.troves[owner]
	if !ok || t.Status != StatusActive {
		return fmt.Errorf("remove %s: %w", owner, ErrTroveNotActive)
	}
	if !closed.Closed() {
		return fmt.Errorf("remove %s: target %s: %w", owner, closed, ErrInvalidTransition)
	}
	if len(l.owners) == 1 {
		return fmt.Errorf("remove %s: %w", owner, ErrOnlyOneTroveRemains)
	}

	idx := t.ArrayIndex
	last := len(l.owners) - 1
	if idx != last {
		moved := l.owners[last]
		l.owners[idx] = moved
		l.troves[moved].ArrayIndex = idx
	}
	l.owners = l.owners[:last]

	t.Status = closed
	t.Debt = new(uint256.Int)
	t.Coll = new(uint256.Int)
	t.ArrayIndex = -1
	return nil
}

// active returns the trove if it exists and is active.
func (l *TroveLedger) active(owner uuid.UUID) (*Trove, error) {
	t, ok := l.troves[owner]
	if !ok || t.Status != StatusActive {
		return nil, fmt.Errorf("trove %s: %w", owner, ErrTroveNotActive)
	}
	return t, nil
}

// SetDebt replaces an active trove's debt and returns the new value.
func (l *TroveLedger) SetDebt(owner uuid.UUID, debt *uint256.Int) (*uint256.Int, error) {
	t, err := l.active(owner)
	if err != nil {
		return nil, err
	}
	t.Debt = new(uint256.Int).Set(debt)
	return new(uint256.Int).Set(t.Debt), nil
}

// SetColl replaces an active trove's collateral and returns the new value.
func (l *TroveLedger) SetColl(owner uuid.UUID, coll *uint256.Int) (*uint256.Int, error) {
	t, err := l.active(owner)
	if err != nil {
		return nil, err
	}
	t.Coll = new(uint256.Int).Set(coll)
	return new(uint256.Int).Set(t.Coll), nil
}

// IncreaseDebt adds amount to an active trove's debt.
func (l *TroveLedger) IncreaseDebt(owner uuid.UUID, amount *uint256.Int) (*uint256.Int, error) {
	t, err := l.active(owner)
	if err != nil {
		return nil, err
	}
	d, err := math.CheckedAdd(t.Debt, amount)
	if err != nil {
		return nil, fmt.Errorf("increase debt %s: %w", owner, err)
	}
	t.Debt = d
	return new(uint256.Int).Set(d), nil
}

// DecreaseDebt subtracts amount from an active trove's debt.
func (l *TroveLedger) DecreaseDebt(owner uuid.UUID, amount *uint256.Int) (*uint256.Int, error) {
	t, err := l.active(owner)
	if err != nil {
		return nil, err
	}
	d, err := math.CheckedSub(t.Debt, amount)
	if err != nil {
		return nil, fmt.Errorf("decrease debt %s: %w", owner, err)
	}
	t.Debt = d
	return new(uint256.Int).Set(d), nil
}

// IncreaseColl adds amount to an active trove's collateral.
func (l *TroveLedger) IncreaseColl(owner uuid.UUID, amount *uint256.Int) (*uint256.Int, error) {
	t, err := l.active(owner)
	if err != nil {
		return nil, err
	}
	c, err := math.CheckedAdd(t.Coll, amount)
	if err != nil {
		return nil, fmt.Errorf("increase coll %s: %w", owner, err)
	}
	t.Coll = c
	return new(uint256.Int).Set(c), nil
}

// DecreaseColl subtracts amount from an active trove's collateral.
func (l *TroveLedger) DecreaseColl(owner uuid.UUID, amount *uint256.Int) (*uint256.Int, error) {
	t, err := l.active(owner)
	if err != nil {
		return nil, err
	}
	c, err := math.CheckedSub(t.Coll, amount)
	if err != nil {
		return nil, fmt.Errorf("decrease coll %s: %w", owner, err)
	}
	t.Coll = c
	return new(uint256.Int).Set(c), nil
}

// RestoreClosed reinstates a closed trove record from a snapshot.
func (l *TroveLedger) RestoreClosed(owner uuid.UUID, closed Status) error {
	if !closed.Closed() {
		return fmt.Errorf("restore closed %s: status %s: %w", owner, closed, ErrInvalidTransition)
	}
	if _, ok := l.troves[owner]; ok {
		return fmt.Errorf("restore closed %s: record already exists", owner)
	}
	l.troves[owner] = &Trove{
		Owner:      owner,
		Debt:       new(uint256.Int),
		Coll:       new(uint256.Int),
		Status:     closed,
		ArrayIndex: -1,
	}
	return nil
}

// ClosedRecords returns closed trove records sorted by owner, for snapshots.
func (l *TroveLedger) ClosedRecords() []*Trove {
	var out []*Trove
	for _, t := range l.troves {
		if t.Status.Closed() {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Owner[:], out[j].Owner[:]) < 0
	})
	return out
}

// CanonicalDigest hashes every active trove in array order. The array order
// is itself a deterministic function of the operation history, so two
// replicas that applied the same sequence agree on the digest.
func (l *TroveLedger) CanonicalDigest() [32]byte {
	h := sha256.New()
	for _, owner := range l.owners {
		h.Write(l.troves[owner].CanonicalBytes())
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}
