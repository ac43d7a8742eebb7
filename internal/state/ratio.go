package state

import (
	"fmt"

	"github.com/holiman/uint256"

	"TroveLedger/internal/math"
)

// ValidationStrategy decides whether a position's collateral ratio is
// acceptable against the configured threshold. Dispatch is dynamic so
// deployments can pick the floor or the exact-target rule without touching
// the lifecycle.
type ValidationStrategy interface {
	// Validate returns ErrRatioMismatch (wrapped) when ratio fails against
	// threshold.
	Validate(ratio, threshold *uint256.Int) error
	// Name identifies the strategy in logs and snapshots.
	Name() string
}

// FloorValidation accepts any ratio at or above the threshold.
type FloorValidation struct{}

func (FloorValidation) Validate(ratio, threshold *uint256.Int) error {
	if ratio.Lt(threshold) {
		return fmt.Errorf("ratio %s below threshold %s: %w", ratio.Dec(), threshold.Dec(), ErrRatioMismatch)
	}
	return nil
}

func (FloorValidation) Name() string { return "floor" }

// ExactValidation accepts only a ratio exactly equal to the threshold.
// Positions must be opened and adjusted to land precisely on the target.
type ExactValidation struct{}

func (ExactValidation) Validate(ratio, threshold *uint256.Int) error {
	if !ratio.Eq(threshold) {
		return fmt.Errorf("ratio %s != target %s: %w", ratio.Dec(), threshold.Dec(), ErrRatioMismatch)
	}
	return nil
}

func (ExactValidation) Name() string { return "exact" }

// RatioConfig carries the system ratio parameters. All values WAD-scaled
// except CollDecimals.
type RatioConfig struct {
	MCR          *uint256.Int // minimum collateral ratio per trove
	CCR          *uint256.Int // critical system collateral ratio
	DebtCeiling  *uint256.Int // maximum total system debt, zero = unlimited
	MinNetDebt   *uint256.Int // minimum net debt per trove
	CollDecimals uint8        // collateral token decimals, <= 18
	Strategy     ValidationStrategy
}

// RatioEngine computes collateral ratios and enforces the ratio, ceiling,
// and minimum-debt rules. Collateral amounts are scaled by the decimal
// adjustment exactly once, here; the ledger stores raw token units.
type RatioEngine struct {
	cfg RatioConfig
	adj *uint256.Int
}

func NewRatioEngine(cfg RatioConfig) (*RatioEngine, error) {
	adj, err := math.DecimalAdjustment(cfg.CollDecimals)
	if err != nil {
		return nil, fmt.Errorf("ratio engine: %w", err)
	}
	if cfg.Strategy == nil {
		cfg.Strategy = FloorValidation{}
	}
	return &RatioEngine{cfg: cfg, adj: adj}, nil
}

// MCR returns the per-trove minimum collateral ratio.
func (e *RatioEngine) MCR() *uint256.Int { return new(uint256.Int).Set(e.cfg.MCR) }

// CCR returns the critical system collateral ratio.
func (e *RatioEngine) CCR() *uint256.Int { return new(uint256.Int).Set(e.cfg.CCR) }

// MinNetDebt returns the minimum per-trove net debt.
func (e *RatioEngine) MinNetDebt() *uint256.Int { return new(uint256.Int).Set(e.cfg.MinNetDebt) }

// Strategy returns the active validation strategy.
func (e *RatioEngine) Strategy() ValidationStrategy { return e.cfg.Strategy }

// AdjustedColl scales a raw collateral amount to WAD.
func (e *RatioEngine) AdjustedColl(coll *uint256.Int) *uint256.Int {
	// adj <= 1e18 and coll is a token amount; overflow would mean a
	// balance above 2^196 raw units.
	c, err := math.CheckedMul(coll, e.adj)
	if err != nil {
		panic("ratio: collateral adjustment overflow: " + err.Error())
	}
	return c
}

// NominalCR returns the price-independent ratio for raw coll and debt.
func (e *RatioEngine) NominalCR(coll, debt *uint256.Int) *uint256.Int {
	return math.NominalCR(e.AdjustedColl(coll), debt)
}

// CR returns the price-weighted ratio for raw coll and debt.
func (e *RatioEngine) CR(coll, debt, price *uint256.Int) *uint256.Int {
	return math.CR(e.AdjustedColl(coll), price, debt)
}

// TCR returns the system-wide ratio for the given totals.
func (e *RatioEngine) TCR(totalColl, totalDebt, price *uint256.Int) *uint256.Int {
	return math.CR(e.AdjustedColl(totalColl), price, totalDebt)
}

// ValidateTroveRatio checks the trove's resulting CR against MCR using the
// configured strategy.
func (e *RatioEngine) ValidateTroveRatio(coll, debt, price *uint256.Int) error {
	return e.cfg.Strategy.Validate(e.CR(coll, debt, price), e.cfg.MCR)
}

// ValidateSystemRatio checks the resulting TCR stays at or above CCR.
// This is always a floor regardless of the per-trove strategy.
func (e *RatioEngine) ValidateSystemRatio(totalColl, totalDebt, price *uint256.Int) error {
	tcr := e.TCR(totalColl, totalDebt, price)
	if tcr.Lt(e.cfg.CCR) {
		return fmt.Errorf("system ratio %s below critical %s: %w", tcr.Dec(), e.cfg.CCR.Dec(), ErrRatioMismatch)
	}
	return nil
}

// CheckDebtCeiling rejects a total debt above the ceiling. A zero ceiling
// disables the check.
func (e *RatioEngine) CheckDebtCeiling(totalDebt *uint256.Int) error {
	if e.cfg.DebtCeiling.IsZero() {
		return nil
	}
	if totalDebt.Gt(e.cfg.DebtCeiling) {
		return fmt.Errorf("total debt %s over ceiling %s: %w", totalDebt.Dec(), e.cfg.DebtCeiling.Dec(), ErrDebtCeilingExceeded)
	}
	return nil
}

// CheckMinNetDebt rejects a net debt below the minimum.
func (e *RatioEngine) CheckMinNetDebt(netDebt *uint256.Int) error {
	if netDebt.Lt(e.cfg.MinNetDebt) {
		return fmt.Errorf("net debt %s below minimum %s: %w", netDebt.Dec(), e.cfg.MinNetDebt.Dec(), ErrBelowMinimumDebt)
	}
	return nil
}
