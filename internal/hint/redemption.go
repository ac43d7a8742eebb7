package hint

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"TroveLedger/internal/math"
	"TroveLedger/internal/state"
)

// RedistributionSource reports debt and collateral pending from past
// liquidation redistributions that a trove would absorb on its next touch.
type RedistributionSource interface {
	PendingDebt(owner uuid.UUID) *uint256.Int
	PendingColl(owner uuid.UUID) *uint256.Int
}

// ZeroRedistribution is the default source: nothing pending.
type ZeroRedistribution struct{}

func (ZeroRedistribution) PendingDebt(uuid.UUID) *uint256.Int { return new(uint256.Int) }
func (ZeroRedistribution) PendingColl(uuid.UUID) *uint256.Int { return new(uint256.Int) }

// RedemptionHints is the result of a redemption simulation.
type RedemptionHints struct {
	// FirstRedemptionHint is the first trove the redemption would touch:
	// the worst-ratio trove whose CR is at or above MCR. uuid.Nil when no
	// trove qualifies.
	FirstRedemptionHint uuid.UUID
	// PartialRedemptionNICR is the nominal ratio the final trove would be
	// left at after a partial redemption, zero when the walk ends without
	// a partial.
	PartialRedemptionNICR *uint256.Int
	// TruncatedAmount is the portion of the requested amount the walk
	// could actually place.
	TruncatedAmount *uint256.Int
}

// RedemptionSimulator computes redemption hints by walking troves from
// worst to best ratio. It never mutates ledger state.
type RedemptionSimulator struct {
	ledger *state.TroveLedger
	ratios *state.RatioEngine
	cursor Cursor
	redist RedistributionSource
}

func NewRedemptionSimulator(ledger *state.TroveLedger, ratios *state.RatioEngine, cursor Cursor, redist RedistributionSource) *RedemptionSimulator {
	if redist == nil {
		redist = ZeroRedistribution{}
	}
	return &RedemptionSimulator{ledger: ledger, ratios: ratios, cursor: cursor, redist: redist}
}

// Hints simulates redeeming amount of debt at the given WAD price.
// maxIterations bounds the number of troves examined after the first
// redeemable one; zero means unbounded.
func (s *RedemptionSimulator) Hints(amount, price *uint256.Int, maxIterations uint64) (*RedemptionHints, error) {
	if price.IsZero() {
		return nil, fmt.Errorf("redemption hints: price: %w", math.ErrDivisionByZero)
	}

	out := &RedemptionHints{
		FirstRedemptionHint:   uuid.Nil,
		PartialRedemptionNICR: new(uint256.Int),
		TruncatedAmount:       new(uint256.Int),
	}

	remaining := new(uint256.Int).Set(amount)
	mcr := s.ratios.MCR()
	minNetDebt := s.ratios.MinNetDebt()

	// Troves below MCR are liquidation territory, not redemption targets;
	// skip them to find the first redeemable trove.
	current := s.cursor.Last()
	for current != uuid.Nil {
		coll, debt, err := s.effectiveAmounts(current)
		if err != nil {
			return nil, err
		}
		if !math.CR(s.ratios.AdjustedColl(coll), price, debt).Lt(mcr) {
			break
		}
		current = s.cursor.Prev(current)
	}
	out.FirstRedemptionHint = current

	unbounded := maxIterations == 0
	for current != uuid.Nil && !remaining.IsZero() && (unbounded || maxIterations > 0) {
		if !unbounded {
			maxIterations--
		}

		coll, debt, err := s.effectiveAmounts(current)
		if err != nil {
			return nil, err
		}

		if debt.Gt(remaining) {
			// Final trove: redeem partially, but never leave it below the
			// minimum net debt. A trove too small to keep the minimum
			// after any partial is skipped entirely.
			if debt.Gt(minNetDebt) {
				maxRedeemable, err := math.CheckedSub(debt, minNetDebt)
				if err != nil {
					return nil, fmt.Errorf("redemption hints: %w", err)
				}
				if remaining.Lt(maxRedeemable) {
					maxRedeemable = new(uint256.Int).Set(remaining)
				}

				adjColl := s.ratios.AdjustedColl(coll)
				collDrawn, err := math.MulDiv(maxRedeemable, math.Wad, price)
				if err != nil {
					return nil, fmt.Errorf("redemption hints: %w", err)
				}
				newColl, err := math.CheckedSub(adjColl, collDrawn)
				if err != nil {
					return nil, fmt.Errorf("redemption hints: collateral short of drawn amount: %w", err)
				}
				newDebt, err := math.CheckedSub(debt, maxRedeemable)
				if err != nil {
					return nil, fmt.Errorf("redemption hints: %w", err)
				}

				out.PartialRedemptionNICR = math.NominalCR(newColl, newDebt)
				remaining.Sub(remaining, maxRedeemable)
			}
			break
		}

		// Full absorption of this trove's debt.
		remaining.Sub(remaining, debt)
		current = s.cursor.Prev(current)
	}

	truncated, err := math.CheckedSub(amount, remaining)
	if err != nil {
		return nil, fmt.Errorf("redemption hints: %w", err)
	}
	out.TruncatedAmount = truncated
	return out, nil
}

// effectiveAmounts returns the trove's raw collateral and debt including
// pending redistributions.
func (s *RedemptionSimulator) effectiveAmounts(owner uuid.UUID) (*uint256.Int, *uint256.Int, error) {
	coll, err := math.CheckedAdd(s.ledger.CollOf(owner), s.redist.PendingColl(owner))
	if err != nil {
		return nil, nil, fmt.Errorf("redemption hints: pending coll %s: %w", owner, err)
	}
	debt, err := math.CheckedAdd(s.ledger.DebtOf(owner), s.redist.PendingDebt(owner))
	if err != nil {
		return nil, nil, fmt.Errorf("redemption hints: pending debt %s: %w", owner, err)
	}
	return coll, debt, nil
}
