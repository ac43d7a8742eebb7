package state

import (
	"fmt"

	"github.com/holiman/uint256"

	"TroveLedger/internal/math"
)

// ActivePool tracks the running totals of collateral and debt across all
// active troves. Only the lifecycle mutates it; the invariant that the pool
// equals the ledger sum is checked in tests and on snapshot restore.
type ActivePool struct {
	coll *uint256.Int
	debt *uint256.Int
}

func NewActivePool() *ActivePool {
	return &ActivePool{
		coll: new(uint256.Int),
		debt: new(uint256.Int),
	}
}

// Coll returns the total active collateral.
func (p *ActivePool) Coll() *uint256.Int {
	return new(uint256.Int).Set(p.coll)
}

// Debt returns the total active debt.
func (p *ActivePool) Debt() *uint256.Int {
	return new(uint256.Int).Set(p.debt)
}

func (p *ActivePool) AddColl(amount *uint256.Int) error {
	c, err := math.CheckedAdd(p.coll, amount)
	if err != nil {
		return fmt.Errorf("pool add coll: %w", err)
	}
	p.coll = c
	return nil
}

func (p *ActivePool) RemoveColl(amount *uint256.Int) error {
	c, err := math.CheckedSub(p.coll, amount)
	if err != nil {
		return fmt.Errorf("pool remove coll: %w", err)
	}
	p.coll = c
	return nil
}

func (p *ActivePool) AddDebt(amount *uint256.Int) error {
	d, err := math.CheckedAdd(p.debt, amount)
	if err != nil {
		return fmt.Errorf("pool add debt: %w", err)
	}
	p.debt = d
	return nil
}

func (p *ActivePool) RemoveDebt(amount *uint256.Int) error {
	d, err := math.CheckedSub(p.debt, amount)
	if err != nil {
		return fmt.Errorf("pool remove debt: %w", err)
	}
	p.debt = d
	return nil
}

// Restore overwrites the pool totals, used by snapshot recovery.
func (p *ActivePool) Restore(coll, debt *uint256.Int) {
	p.coll = new(uint256.Int).Set(coll)
	p.debt = new(uint256.Int).Set(debt)
}
