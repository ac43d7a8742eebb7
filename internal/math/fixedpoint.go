// Package math implements the fixed-point arithmetic used by the trove engine.
//
// All amounts (collateral, debt, prices) are unsigned 256-bit integers scaled
// by 1e18 (WAD). Nominal collateral ratios use a finer 1e20 scale so that
// price-independent orderings survive small collateral or debt values.
// Every operation either returns an explicit error or is documented as
// total; nothing silently wraps.
package math

import (
	"errors"

	"github.com/holiman/uint256"
)

var (
	// ErrOverflow is returned when a checked operation exceeds 2^256-1.
	ErrOverflow = errors.New("arithmetic overflow")
	// ErrUnderflow is returned when a checked subtraction would go below zero.
	ErrUnderflow = errors.New("arithmetic underflow")
	// ErrDivisionByZero is returned when a divisor is zero.
	ErrDivisionByZero = errors.New("division by zero")
)

// Wad is the base scale for amounts and prices: 1e18.
var Wad = uint256.NewInt(1e18)

// NICRPrecision is the scale for nominal collateral ratios: 1e20.
var NICRPrecision = new(uint256.Int).Mul(uint256.NewInt(1e18), uint256.NewInt(100))

// MaxRatio is the sentinel ratio for zero-debt positions. A position with no
// debt cannot be undercollateralized, so its ratio compares above every
// finite ratio.
var MaxRatio = new(uint256.Int).SetAllOne()

// CheckedAdd returns a+b or ErrOverflow.
func CheckedAdd(a, b *uint256.Int) (*uint256.Int, error) {
	sum, carry := new(uint256.Int).AddOverflow(a, b)
	if carry {
		return nil, ErrOverflow
	}
	return sum, nil
}

// CheckedSub returns a-b or ErrUnderflow.
func CheckedSub(a, b *uint256.Int) (*uint256.Int, error) {
	diff, borrow := new(uint256.Int).SubOverflow(a, b)
	if borrow {
		return nil, ErrUnderflow
	}
	return diff, nil
}

// CheckedMul returns a*b or ErrOverflow.
func CheckedMul(a, b *uint256.Int) (*uint256.Int, error) {
	prod, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return prod, nil
}

// MulDiv returns a*b/denominator rounded toward zero. The intermediate
// product is checked, not truncated.
func MulDiv(a, b, denominator *uint256.Int) (*uint256.Int, error) {
	if denominator.IsZero() {
		return nil, ErrDivisionByZero
	}
	prod, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return prod.Div(prod, denominator), nil
}

// WadMul returns a*b/1e18 rounded down.
func WadMul(a, b *uint256.Int) (*uint256.Int, error) {
	return MulDiv(a, b, Wad)
}

// WadDiv returns a*1e18/b rounded down.
func WadDiv(a, b *uint256.Int) (*uint256.Int, error) {
	return MulDiv(a, Wad, b)
}

// DecimalAdjustment returns the factor that scales a raw collateral amount
// with the given token decimals up to WAD: 10^(18-decimals). Tokens with more
// than 18 decimals are not supported.
func DecimalAdjustment(decimals uint8) (*uint256.Int, error) {
	if decimals > 18 {
		return nil, ErrOverflow
	}
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(18-decimals))), nil
}

// NominalCR returns coll*1e20/debt, the price-independent collateral ratio
// used for ordering positions. Zero debt yields MaxRatio.
func NominalCR(coll, debt *uint256.Int) *uint256.Int {
	if debt.IsZero() {
		return new(uint256.Int).Set(MaxRatio)
	}
	// Collateral is bounded well below 2^236 in practice; a genuine overflow
	// here means state is already corrupt.
	r, err := MulDiv(coll, NICRPrecision, debt)
	if err != nil {
		panic("math: nominal ratio overflow: " + err.Error())
	}
	return r
}

// CR returns coll*price/debt, the price-weighted collateral ratio, where
// price is WAD-scaled and the result is WAD-scaled. Zero debt yields
// MaxRatio.
func CR(coll, price, debt *uint256.Int) *uint256.Int {
	if debt.IsZero() {
		return new(uint256.Int).Set(MaxRatio)
	}
	r, err := MulDiv(coll, price, debt)
	if err != nil {
		panic("math: collateral ratio overflow: " + err.Error())
	}
	return r
}
