package state_test

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"TroveLedger/internal/state"
)

type managerFixture struct {
	ledger  *state.TroveLedger
	pool    *state.ActivePool
	manager *state.TroveManager
	price   *uint256.Int
}

func newManagerFixture(t *testing.T, opts ...state.ManagerOption) *managerFixture {
	t.Helper()
	ledger := state.NewTroveLedger()
	pool := state.NewActivePool()
	ratios := testRatioEngine(t, state.FloorValidation{})
	return &managerFixture{
		ledger:  ledger,
		pool:    pool,
		manager: state.NewTroveManager(ledger, pool, ratios, opts...),
		price:   wad(100),
	}
}

// ============================================================
// Test: open
// ============================================================

func TestOpenTrove(t *testing.T) {
	f := newManagerFixture(t)
	owner := uuid.New()

	res, err := f.manager.Open(owner, wad(2), wad(100), f.price)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if res.Debt.Cmp(wad(100)) != 0 {
		t.Errorf("debt: got %s, want %s", res.Debt.Dec(), wad(100).Dec())
	}
	if res.ArrayIndex != 0 {
		t.Errorf("array index: got %d, want 0", res.ArrayIndex)
	}
	if f.pool.Debt().Cmp(wad(100)) != 0 {
		t.Errorf("pool debt: got %s", f.pool.Debt().Dec())
	}
	if f.pool.Coll().Cmp(wad(2)) != 0 {
		t.Errorf("pool coll: got %s", f.pool.Coll().Dec())
	}
}

func TestOpenBelowMinimumDebtLeavesNoRecord(t *testing.T) {
	f := newManagerFixture(t)
	owner := uuid.New()

	// Minimum net debt is 10; a request for 5 must fail with no trove
	// created and nothing added to the pool.
	_, err := f.manager.Open(owner, wad(1), wad(5), f.price)
	if !errors.Is(err, state.ErrBelowMinimumDebt) {
		t.Fatalf("got %v, want ErrBelowMinimumDebt", err)
	}
	if f.ledger.Get(owner) != nil {
		t.Error("failed open must leave no record")
	}
	if f.ledger.Count() != 0 {
		t.Errorf("count: got %d, want 0", f.ledger.Count())
	}
	if !f.pool.Debt().IsZero() || !f.pool.Coll().IsZero() {
		t.Error("failed open must not touch the pool")
	}
}

func TestOpenAlreadyActive(t *testing.T) {
	f := newManagerFixture(t)
	owner := uuid.New()
	if _, err := f.manager.Open(owner, wad(2), wad(100), f.price); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.manager.Open(owner, wad(2), wad(100), f.price); !errors.Is(err, state.ErrTroveAlreadyActive) {
		t.Errorf("got %v, want ErrTroveAlreadyActive", err)
	}
}

func TestOpenBelowMCRRejected(t *testing.T) {
	f := newManagerFixture(t)
	// coll=1, debt=100, price=100 => CR 1.0 < MCR 1.1
	_, err := f.manager.Open(uuid.New(), wad(1), wad(100), f.price)
	if !errors.Is(err, state.ErrRatioMismatch) {
		t.Errorf("got %v, want ErrRatioMismatch", err)
	}
}

func TestOpenOverDebtCeiling(t *testing.T) {
	f := newManagerFixture(t)
	// Ceiling is 1,000,000. Plenty of collateral, too much debt.
	_, err := f.manager.Open(uuid.New(), wad(1_000_000), wad(1_000_001), f.price)
	if !errors.Is(err, state.ErrDebtCeilingExceeded) {
		t.Errorf("got %v, want ErrDebtCeilingExceeded", err)
	}
}

func TestOpenChargesBorrowingFee(t *testing.T) {
	// 5% borrowing fee.
	f := newManagerFixture(t, state.WithFeePolicy(state.ProportionalFeePolicy{Rate: wadFrac(5, 100)}))
	owner := uuid.New()

	res, err := f.manager.Open(owner, wad(3), wad(100), f.price)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if res.Fee.Cmp(wad(5)) != 0 {
		t.Errorf("fee: got %s, want %s", res.Fee.Dec(), wad(5).Dec())
	}
	// Recorded debt includes the fee.
	if res.Debt.Cmp(wad(105)) != 0 {
		t.Errorf("debt: got %s, want %s", res.Debt.Dec(), wad(105).Dec())
	}
	if f.pool.Debt().Cmp(wad(105)) != 0 {
		t.Errorf("pool debt: got %s", f.pool.Debt().Dec())
	}
}

func TestOpenFeeCountsTowardMinimumDebt(t *testing.T) {
	// 5% borrowing fee. The trove carries debt plus fee, so a request of
	// 9.6 lands at net debt 10.08, just over the minimum of 10.
	f := newManagerFixture(t, state.WithFeePolicy(state.ProportionalFeePolicy{Rate: wadFrac(5, 100)}))
	owner := uuid.New()

	res, err := f.manager.Open(owner, wad(1), wadFrac(96, 10), f.price)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if res.Debt.Cmp(wadFrac(1008, 100)) != 0 {
		t.Errorf("debt: got %s, want %s", res.Debt.Dec(), wadFrac(1008, 100).Dec())
	}
}

// ============================================================
// Test: adjust
// ============================================================

func TestAdjustNoOpRejected(t *testing.T) {
	f := newManagerFixture(t)
	owner := uuid.New()
	f.manager.Open(owner, wad(2), wad(100), f.price)

	_, err := f.manager.Adjust(owner, state.Adjustment{
		CollChange: new(uint256.Int),
		DebtChange: new(uint256.Int),
	}, f.price)
	if !errors.Is(err, state.ErrNoOpAdjustment) {
		t.Errorf("got %v, want ErrNoOpAdjustment", err)
	}
}

func TestAdjustNotActive(t *testing.T) {
	f := newManagerFixture(t)
	_, err := f.manager.Adjust(uuid.New(), state.Adjustment{
		CollChange:   wad(1),
		CollIncrease: true,
		DebtChange:   new(uint256.Int),
	}, f.price)
	if !errors.Is(err, state.ErrTroveNotActive) {
		t.Errorf("got %v, want ErrTroveNotActive", err)
	}
}

func TestAdjustCombinedChange(t *testing.T) {
	f := newManagerFixture(t)
	owner := uuid.New()
	f.manager.Open(owner, wad(2), wad(100), f.price)

	res, err := f.manager.Adjust(owner, state.Adjustment{
		CollChange:   wad(1),
		CollIncrease: true,
		DebtChange:   wad(40),
		DebtIncrease: false,
	}, f.price)
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if res.Coll.Cmp(wad(3)) != 0 {
		t.Errorf("coll: got %s, want %s", res.Coll.Dec(), wad(3).Dec())
	}
	if res.Debt.Cmp(wad(60)) != 0 {
		t.Errorf("debt: got %s, want %s", res.Debt.Dec(), wad(60).Dec())
	}
	if f.pool.Debt().Cmp(wad(60)) != 0 {
		t.Errorf("pool debt: got %s", f.pool.Debt().Dec())
	}
}

func TestAdjustFailureIsAtomic(t *testing.T) {
	f := newManagerFixture(t)
	owner := uuid.New()
	f.manager.Open(owner, wad(2), wad(100), f.price)

	// Withdrawing 1.5 collateral would leave CR 0.5, below MCR. The failed
	// adjustment must leave trove and pool untouched.
	_, err := f.manager.Adjust(owner, state.Adjustment{
		CollChange:   wadFrac(15, 10),
		CollIncrease: false,
		DebtChange:   new(uint256.Int),
	}, f.price)
	if !errors.Is(err, state.ErrRatioMismatch) {
		t.Fatalf("got %v, want ErrRatioMismatch", err)
	}
	if f.ledger.CollOf(owner).Cmp(wad(2)) != 0 {
		t.Errorf("coll: got %s, want %s", f.ledger.CollOf(owner).Dec(), wad(2).Dec())
	}
	if f.ledger.DebtOf(owner).Cmp(wad(100)) != 0 {
		t.Errorf("debt: got %s, want %s", f.ledger.DebtOf(owner).Dec(), wad(100).Dec())
	}
	if f.pool.Coll().Cmp(wad(2)) != 0 || f.pool.Debt().Cmp(wad(100)) != 0 {
		t.Error("failed adjust must not touch the pool")
	}
}

func TestAdjustRepayBelowMinimum(t *testing.T) {
	f := newManagerFixture(t)
	owner := uuid.New()
	f.manager.Open(owner, wad(2), wad(100), f.price)

	_, err := f.manager.Adjust(owner, state.Adjustment{
		CollChange:   new(uint256.Int),
		DebtChange:   wad(95),
		DebtIncrease: false,
	}, f.price)
	if !errors.Is(err, state.ErrBelowMinimumDebt) {
		t.Errorf("got %v, want ErrBelowMinimumDebt", err)
	}
}

// ============================================================
// Test: close
// ============================================================

func TestCloseTrove(t *testing.T) {
	f := newManagerFixture(t)
	a, b := uuid.New(), uuid.New()
	f.manager.Open(a, wad(2), wad(100), f.price)
	f.manager.Open(b, wad(3), wad(50), f.price)

	res, err := f.manager.Close(a, f.price)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if res.Status != state.StatusClosedByOwner {
		t.Errorf("status: got %v", res.Status)
	}
	if f.pool.Debt().Cmp(wad(50)) != 0 {
		t.Errorf("pool debt: got %s, want %s", f.pool.Debt().Dec(), wad(50).Dec())
	}
	if f.pool.Coll().Cmp(wad(3)) != 0 {
		t.Errorf("pool coll: got %s, want %s", f.pool.Coll().Dec(), wad(3).Dec())
	}
}

func TestCloseLastTroveRejected(t *testing.T) {
	f := newManagerFixture(t)
	owner := uuid.New()
	f.manager.Open(owner, wad(2), wad(100), f.price)

	_, err := f.manager.Close(owner, f.price)
	if !errors.Is(err, state.ErrOnlyOneTroveRemains) {
		t.Fatalf("got %v, want ErrOnlyOneTroveRemains", err)
	}
	// Trove and pool untouched.
	if f.ledger.StatusOf(owner) != state.StatusActive {
		t.Errorf("status: got %v, want ACTIVE", f.ledger.StatusOf(owner))
	}
	if f.pool.Debt().Cmp(wad(100)) != 0 {
		t.Errorf("pool debt: got %s", f.pool.Debt().Dec())
	}
}

func TestCloseBreakingSystemRatioRejected(t *testing.T) {
	f := newManagerFixture(t)
	a, b := uuid.New(), uuid.New()
	// a carries most of the collateral: CR 2.0 vs b's 1.2, TCR 1.6.
	f.manager.Open(a, wad(2), wad(100), f.price)
	f.manager.Open(b, wadFrac(12, 10), wad(100), f.price)

	// Closing a would leave only b, dropping TCR to 1.2, below CCR 1.5.
	_, err := f.manager.Close(a, f.price)
	if !errors.Is(err, state.ErrRatioMismatch) {
		t.Fatalf("got %v, want ErrRatioMismatch", err)
	}
	// Both troves and the pool untouched.
	if f.ledger.StatusOf(a) != state.StatusActive {
		t.Errorf("status of a: got %v, want ACTIVE", f.ledger.StatusOf(a))
	}
	if f.pool.Debt().Cmp(wad(200)) != 0 {
		t.Errorf("pool debt: got %s, want %s", f.pool.Debt().Dec(), wad(200).Dec())
	}
	if f.pool.Coll().Cmp(wadFrac(32, 10)) != 0 {
		t.Errorf("pool coll: got %s, want %s", f.pool.Coll().Dec(), wadFrac(32, 10).Dec())
	}
}

// fixedBalanceToken reports the same balance for every owner and ignores
// mint and burn movements.
type fixedBalanceToken struct {
	balance *uint256.Int
}

func (fixedBalanceToken) Mint(uuid.UUID, *uint256.Int) error { return nil }
func (fixedBalanceToken) Burn(uuid.UUID, *uint256.Int) error { return nil }
func (tok fixedBalanceToken) BalanceOf(uuid.UUID) (*uint256.Int, error) {
	return new(uint256.Int).Set(tok.balance), nil
}

func TestCloseWithoutTokenBalanceRejected(t *testing.T) {
	ledger := state.NewTroveLedger()
	pool := state.NewActivePool()
	ratios := testRatioEngine(t, state.FloorValidation{})
	// The owner holds 60 debt tokens but owes 100.
	manager := state.NewTroveManager(ledger, pool, ratios,
		state.WithDebtToken(fixedBalanceToken{balance: wad(60)}))
	price := wad(100)

	a, b := uuid.New(), uuid.New()
	manager.Open(a, wad(20), wad(100), price)
	manager.Open(b, wad(20), wad(100), price)

	_, err := manager.Close(a, price)
	if !errors.Is(err, state.ErrInsufficientDebtToken) {
		t.Fatalf("got %v, want ErrInsufficientDebtToken", err)
	}
	if ledger.StatusOf(a) != state.StatusActive {
		t.Errorf("status of a: got %v, want ACTIVE", ledger.StatusOf(a))
	}
	if pool.Debt().Cmp(wad(200)) != 0 {
		t.Errorf("pool debt: got %s, want %s", pool.Debt().Dec(), wad(200).Dec())
	}
}

// ============================================================
// Test: conservation
// ============================================================

func TestPoolMatchesLedgerUnderRandomOps(t *testing.T) {
	f := newManagerFixture(t)
	rng := rand.New(rand.NewSource(7))

	var active []uuid.UUID
	for step := 0; step < 500; step++ {
		switch {
		case len(active) < 2 || rng.Intn(3) == 0:
			owner := uuid.New()
			coll := wad(uint64(rng.Intn(50) + 10))
			debt := wad(uint64(rng.Intn(100) + 10))
			if _, err := f.manager.Open(owner, coll, debt, f.price); err != nil {
				t.Fatalf("step %d open: %v", step, err)
			}
			active = append(active, owner)

		case rng.Intn(2) == 0:
			owner := active[rng.Intn(len(active))]
			adj := state.Adjustment{
				CollChange:   wad(uint64(rng.Intn(5) + 1)),
				CollIncrease: true,
				DebtChange:   wad(uint64(rng.Intn(10) + 1)),
				DebtIncrease: rng.Intn(2) == 0,
			}
			if _, err := f.manager.Adjust(owner, adj, f.price); err != nil {
				// Rejections are fine; state must simply be unchanged,
				// which the final sum check verifies.
				continue
			}

		default:
			i := rng.Intn(len(active))
			if _, err := f.manager.Close(active[i], f.price); err != nil {
				continue
			}
			active[i] = active[len(active)-1]
			active = active[:len(active)-1]
		}

		sumDebt := new(uint256.Int)
		sumColl := new(uint256.Int)
		for _, owner := range f.ledger.Owners() {
			sumDebt.Add(sumDebt, f.ledger.DebtOf(owner))
			sumColl.Add(sumColl, f.ledger.CollOf(owner))
		}
		if sumDebt.Cmp(f.pool.Debt()) != 0 {
			t.Fatalf("step %d: debt sum %s != pool %s", step, sumDebt.Dec(), f.pool.Debt().Dec())
		}
		if sumColl.Cmp(f.pool.Coll()) != 0 {
			t.Fatalf("step %d: coll sum %s != pool %s", step, sumColl.Dec(), f.pool.Coll().Dec())
		}
	}
}
