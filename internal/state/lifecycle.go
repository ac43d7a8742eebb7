package state

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"TroveLedger/internal/math"
)

// FeePolicy computes the one-time borrowing fee charged on newly drawn debt.
type FeePolicy interface {
	BorrowingFee(debt *uint256.Int) (*uint256.Int, error)
}

// DebtToken mints and burns the stable debt token. Custody mechanics live
// outside this service; the lifecycle only reports the required movements
// and consults the balance before a close repays the full debt.
type DebtToken interface {
	Mint(owner uuid.UUID, amount *uint256.Int) error
	Burn(owner uuid.UUID, amount *uint256.Int) error
	BalanceOf(owner uuid.UUID) (*uint256.Int, error)
}

// CollateralVault moves collateral between the owner and the system.
type CollateralVault interface {
	MoveIn(owner uuid.UUID, amount *uint256.Int) error
	MoveOut(owner uuid.UUID, amount *uint256.Int) error
}

// OrderedIndex keeps troves ordered by nominal collateral ratio for the
// hint walkers. Rebalancing strategy is the index's own business.
type OrderedIndex interface {
	Insert(owner uuid.UUID, nicr *uint256.Int)
	Reinsert(owner uuid.UUID, nicr *uint256.Int)
	Remove(owner uuid.UUID)
}

// ZeroFeePolicy charges no borrowing fee.
type ZeroFeePolicy struct{}

func (ZeroFeePolicy) BorrowingFee(*uint256.Int) (*uint256.Int, error) {
	return new(uint256.Int), nil
}

// ProportionalFeePolicy charges rate (WAD-scaled) of the drawn debt.
type ProportionalFeePolicy struct {
	Rate *uint256.Int
}

func (p ProportionalFeePolicy) BorrowingFee(debt *uint256.Int) (*uint256.Int, error) {
	return math.WadMul(debt, p.Rate)
}

type nopToken struct{}

func (nopToken) Mint(uuid.UUID, *uint256.Int) error { return nil }
func (nopToken) Burn(uuid.UUID, *uint256.Int) error { return nil }

// The nop token is permissive: every balance check passes.
func (nopToken) BalanceOf(uuid.UUID) (*uint256.Int, error) {
	return new(uint256.Int).SetAllOne(), nil
}

type nopVault struct{}

func (nopVault) MoveIn(uuid.UUID, *uint256.Int) error  { return nil }
func (nopVault) MoveOut(uuid.UUID, *uint256.Int) error { return nil }

type nopIndex struct{}

func (nopIndex) Insert(uuid.UUID, *uint256.Int)   {}
func (nopIndex) Reinsert(uuid.UUID, *uint256.Int) {}
func (nopIndex) Remove(uuid.UUID)                 {}

// TroveManager drives the open/adjust/close state machine. Every operation
// validates fully before touching any state; on failure the ledger, pool,
// and index are untouched. External effects (token, vault) run only after
// the ledger is consistent.
//
// Not thread-safe. The engine serializes mutations behind its write lock.
type TroveManager struct {
	ledger *TroveLedger
	pool   *ActivePool
	ratios *RatioEngine
	fees   FeePolicy
	token  DebtToken
	vault  CollateralVault
	index  OrderedIndex
}

// ManagerOption overrides a collaborator on construction.
type ManagerOption func(*TroveManager)

func WithFeePolicy(f FeePolicy) ManagerOption       { return func(m *TroveManager) { m.fees = f } }
func WithDebtToken(t DebtToken) ManagerOption       { return func(m *TroveManager) { m.token = t } }
func WithCollateralVault(v CollateralVault) ManagerOption {
	return func(m *TroveManager) { m.vault = v }
}
func WithOrderedIndex(i OrderedIndex) ManagerOption { return func(m *TroveManager) { m.index = i } }

func NewTroveManager(ledger *TroveLedger, pool *ActivePool, ratios *RatioEngine, opts ...ManagerOption) *TroveManager {
	m := &TroveManager{
		ledger: ledger,
		pool:   pool,
		ratios: ratios,
		fees:   ZeroFeePolicy{},
		token:  nopToken{},
		vault:  nopVault{},
		index:  nopIndex{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OpResult reports the outcome of a lifecycle operation.
type OpResult struct {
	Owner      uuid.UUID
	Debt       *uint256.Int // resulting trove debt, fee included
	Coll       *uint256.Int // resulting trove collateral
	Fee        *uint256.Int // borrowing fee charged by this operation
	NICR       *uint256.Int // resulting nominal ratio, nil after close
	Status     Status
	ArrayIndex int
}

// Open creates a trove for owner with the given collateral and drawn debt.
// The recorded debt includes the borrowing fee. Price is WAD-scaled.
func (m *TroveManager) Open(owner uuid.UUID, coll, debt, price *uint256.Int) (*OpResult, error) {
	if m.ledger.StatusOf(owner) == StatusActive {
		return nil, fmt.Errorf("open: owner %s: %w", owner, ErrTroveAlreadyActive)
	}

	fee, err := m.fees.BorrowingFee(debt)
	if err != nil {
		return nil, fmt.Errorf("open: fee: %w", err)
	}
	totalDebt, err := math.CheckedAdd(debt, fee)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	// Net debt includes the fee: the trove carries both.
	if err := m.ratios.CheckMinNetDebt(totalDebt); err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	newPoolDebt, err := math.CheckedAdd(m.pool.Debt(), totalDebt)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	if err := m.ratios.CheckDebtCeiling(newPoolDebt); err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	newPoolColl, err := math.CheckedAdd(m.pool.Coll(), coll)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	if err := m.ratios.ValidateTroveRatio(coll, totalDebt, price); err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	if err := m.ratios.ValidateSystemRatio(newPoolColl, newPoolDebt, price); err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	// Validation complete; mutations below cannot fail except Insert's own
	// status check, which ran above.
	t, err := m.ledger.Insert(owner, totalDebt, coll)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	m.pool.Restore(newPoolColl, newPoolDebt)
	nicr := m.ratios.NominalCR(t.Coll, t.Debt)
	m.index.Insert(owner, nicr)

	if err := m.vault.MoveIn(owner, coll); err != nil {
		panic(fmt.Sprintf("open: vault move-in after commit: %v", err))
	}
	if err := m.token.Mint(owner, debt); err != nil {
		panic(fmt.Sprintf("open: debt mint after commit: %v", err))
	}

	return &OpResult{
		Owner:      owner,
		Debt:       new(uint256.Int).Set(t.Debt),
		Coll:       new(uint256.Int).Set(t.Coll),
		Fee:        fee,
		NICR:       nicr,
		Status:     t.Status,
		ArrayIndex: t.ArrayIndex,
	}, nil
}

// Adjustment describes a combined collateral/debt change. A zero change on
// both axes is rejected.
type Adjustment struct {
	CollChange   *uint256.Int
	CollIncrease bool
	DebtChange   *uint256.Int
	DebtIncrease bool
}

// Adjust applies a collateral and/or debt change to an active trove.
func (m *TroveManager) Adjust(owner uuid.UUID, adj Adjustment, price *uint256.Int) (*OpResult, error) {
	t, err := m.ledger.active(owner)
	if err != nil {
		return nil, fmt.Errorf("adjust: %w", err)
	}
	if adj.CollChange.IsZero() && adj.DebtChange.IsZero() {
		return nil, fmt.Errorf("adjust: owner %s: %w", owner, ErrNoOpAdjustment)
	}

	newColl := new(uint256.Int).Set(t.Coll)
	newPoolColl := m.pool.Coll()
	if !adj.CollChange.IsZero() {
		if adj.CollIncrease {
			if newColl, err = math.CheckedAdd(t.Coll, adj.CollChange); err != nil {
				return nil, fmt.Errorf("adjust coll: %w", err)
			}
			if newPoolColl, err = math.CheckedAdd(newPoolColl, adj.CollChange); err != nil {
				return nil, fmt.Errorf("adjust coll: %w", err)
			}
		} else {
			if newColl, err = math.CheckedSub(t.Coll, adj.CollChange); err != nil {
				return nil, fmt.Errorf("adjust coll: %w", err)
			}
			if newPoolColl, err = math.CheckedSub(newPoolColl, adj.CollChange); err != nil {
				return nil, fmt.Errorf("adjust coll: %w", err)
			}
		}
	}

	fee := new(uint256.Int)
	newDebt := new(uint256.Int).Set(t.Debt)
	newPoolDebt := m.pool.Debt()
	if !adj.DebtChange.IsZero() {
		if adj.DebtIncrease {
			if fee, err = m.fees.BorrowingFee(adj.DebtChange); err != nil {
				return nil, fmt.Errorf("adjust: fee: %w", err)
			}
			debtDelta, err := math.CheckedAdd(adj.DebtChange, fee)
			if err != nil {
				return nil, fmt.Errorf("adjust debt: %w", err)
			}
			if newDebt, err = math.CheckedAdd(t.Debt, debtDelta); err != nil {
				return nil, fmt.Errorf("adjust debt: %w", err)
			}
			if newPoolDebt, err = math.CheckedAdd(newPoolDebt, debtDelta); err != nil {
				return nil, fmt.Errorf("adjust debt: %w", err)
			}
		} else {
			if newDebt, err = math.CheckedSub(t.Debt, adj.DebtChange); err != nil {
				return nil, fmt.Errorf("adjust debt: %w", err)
			}
			if newPoolDebt, err = math.CheckedSub(newPoolDebt, adj.DebtChange); err != nil {
				return nil, fmt.Errorf("adjust debt: %w", err)
			}
		}
	}

	if err := m.ratios.CheckMinNetDebt(newDebt); err != nil {
		return nil, fmt.Errorf("adjust: %w", err)
	}
	if adj.DebtIncrease {
		if err := m.ratios.CheckDebtCeiling(newPoolDebt); err != nil {
			return nil, fmt.Errorf("adjust: %w", err)
		}
	}
	if err := m.ratios.ValidateTroveRatio(newColl, newDebt, price); err != nil {
		return nil, fmt.Errorf("adjust: %w", err)
	}
	if err := m.ratios.ValidateSystemRatio(newPoolColl, newPoolDebt, price); err != nil {
		return nil, fmt.Errorf("adjust: %w", err)
	}

	t.Coll = newColl
	t.Debt = newDebt
	m.pool.Restore(newPoolColl, newPoolDebt)
	nicr := m.ratios.NominalCR(t.Coll, t.Debt)
	m.index.Reinsert(owner, nicr)

	if !adj.CollChange.IsZero() {
		var verr error
		if adj.CollIncrease {
			verr = m.vault.MoveIn(owner, adj.CollChange)
		} else {
			verr = m.vault.MoveOut(owner, adj.CollChange)
		}
		if verr != nil {
			panic(fmt.Sprintf("adjust: vault move after commit: %v", verr))
		}
	}
	if !adj.DebtChange.IsZero() {
		var terr error
		if adj.DebtIncrease {
			terr = m.token.Mint(owner, adj.DebtChange)
		} else {
			terr = m.token.Burn(owner, adj.DebtChange)
		}
		if terr != nil {
			panic(fmt.Sprintf("adjust: token move after commit: %v", terr))
		}
	}

	return &OpResult{
		Owner:      owner,
		Debt:       new(uint256.Int).Set(newDebt),
		Coll:       new(uint256.Int).Set(newColl),
		Fee:        fee,
		NICR:       nicr,
		Status:     t.Status,
		ArrayIndex: t.ArrayIndex,
	}, nil
}

// Close repays an active trove's full debt and returns its collateral.
// The last remaining trove cannot be closed, and the close must not drag
// the remaining system below the critical ratio.
func (m *TroveManager) Close(owner uuid.UUID, price *uint256.Int) (*OpResult, error) {
	t, err := m.ledger.active(owner)
	if err != nil {
		return nil, fmt.Errorf("close: %w", err)
	}
	debt := new(uint256.Int).Set(t.Debt)
	coll := new(uint256.Int).Set(t.Coll)

	// The owner repays the full debt, so their token balance must cover it.
	balance, err := m.token.BalanceOf(owner)
	if err != nil {
		return nil, fmt.Errorf("close: balance: %w", err)
	}
	if balance.Lt(debt) {
		return nil, fmt.Errorf("close: balance %s below debt %s: %w",
			balance.Dec(), debt.Dec(), ErrInsufficientDebtToken)
	}

	// Pool totals must cover the trove's amounts or state is already
	// inconsistent; validate before any mutation.
	newPoolDebt, err := math.CheckedSub(m.pool.Debt(), debt)
	if err != nil {
		return nil, fmt.Errorf("close: %w", err)
	}
	newPoolColl, err := math.CheckedSub(m.pool.Coll(), coll)
	if err != nil {
		return nil, fmt.Errorf("close: %w", err)
	}
	if err := m.ratios.ValidateSystemRatio(newPoolColl, newPoolDebt, price); err != nil {
		return nil, fmt.Errorf("close: %w", err)
	}

	if err := m.ledger.Remove(owner, StatusClosedByOwner); err != nil {
		return nil, fmt.Errorf("close: %w", err)
	}
	m.pool.Restore(newPoolColl, newPoolDebt)
	m.index.Remove(owner)

	if err := m.token.Burn(owner, debt); err != nil {
		panic(fmt.Sprintf("close: debt burn after commit: %v", err))
	}
	if err := m.vault.MoveOut(owner, coll); err != nil {
		panic(fmt.Sprintf("close: vault move-out after commit: %v", err))
	}

	return &OpResult{
		Owner:      owner,
		Debt:       new(uint256.Int),
		Coll:       new(uint256.Int),
		Fee:        new(uint256.Int),
		Status:     StatusClosedByOwner,
		ArrayIndex: -1,
	}, nil
}
