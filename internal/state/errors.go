package state

import "errors"

// Domain errors. Callers branch with errors.Is; everything else wraps these
// with context via fmt.Errorf("%w").
var (
	// ErrTroveAlreadyActive is returned when opening a trove for an owner
	// that already has an active one.
	ErrTroveAlreadyActive = errors.New("trove already active")

	// ErrTroveNotActive is returned when adjusting or closing a trove that
	// does not exist or is closed.
	ErrTroveNotActive = errors.New("trove not active")

	// ErrRatioMismatch is returned when a resulting collateral ratio fails
	// the configured validation strategy.
	ErrRatioMismatch = errors.New("collateral ratio mismatch")

	// ErrBelowMinimumDebt is returned when a trove's net debt would fall
	// below the system minimum.
	ErrBelowMinimumDebt = errors.New("net debt below minimum")

	// ErrDebtCeilingExceeded is returned when an operation would push total
	// system debt over the ceiling.
	ErrDebtCeilingExceeded = errors.New("debt ceiling exceeded")

	// ErrOnlyOneTroveRemains is returned when closing the last active trove.
	// The system never goes back to zero troves once bootstrapped.
	ErrOnlyOneTroveRemains = errors.New("only one trove remains")

	// ErrNoOpAdjustment is returned when an adjustment changes neither
	// collateral nor debt.
	ErrNoOpAdjustment = errors.New("adjustment changes nothing")

	// ErrInvalidTransition is returned on an illegal trove status change.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInsufficientDebtToken is returned when an owner's debt-token
	// balance cannot cover the repayment a close requires.
	ErrInsufficientDebtToken = errors.New("debt token balance below required repayment")
)
