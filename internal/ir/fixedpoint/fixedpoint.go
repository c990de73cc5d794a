// Package fixedpoint implements the agent's unsigned 256-bit, 18-decimal
// fixed-point arithmetic: the rate-policy formulas in strategyengine and the
// recharge-swap conversion in recharge both need overflow-checked
// multiply/divide over e18-scaled values, so it lives in one small package
// rather than being duplicated.
package fixedpoint

import (
	"math/big"

	"github.com/holiman/uint256"

	"github.com/liquity/ir-manager/internal/ir/ierrors"
)

// Scale is 1e18, the fixed-point unit used throughout the rate policy.
var Scale = uint256.NewInt(1_000_000_000_000_000_000)

// FromBig converts a *big.Int to *uint256.Int, failing with an Arithmetic
// error if the value doesn't fit in 256 bits or is negative.
func FromBig(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return uint256.NewInt(0), nil
	}
	if v.Sign() < 0 {
		return nil, ierrors.Arithmetic("negative value cannot be represented as uint256")
	}
	u, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ierrors.Arithmetic("value overflows uint256")
	}
	return u, nil
}

// MulFixed computes (a*b)/Scale, the product of two e18-scaled fixed-point
// values, failing with an Arithmetic error on multiplication overflow.
func MulFixed(a, b *uint256.Int) (*uint256.Int, error) {
	product, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ierrors.Arithmetic("fixed-point multiplication overflow")
	}
	return new(uint256.Int).Div(product, Scale), nil
}

// DivFixed computes (a*Scale)/b, the quotient of two e18-scaled fixed-point
// values rescaled back to e18, failing with an Arithmetic error on
// multiplication overflow or division by zero.
func DivFixed(a, b *uint256.Int) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, ierrors.Arithmetic("division by zero")
	}
	scaled, overflow := new(uint256.Int).MulOverflow(a, Scale)
	if overflow {
		return nil, ierrors.Arithmetic("fixed-point division overflow")
	}
	return new(uint256.Int).Div(scaled, b), nil
}

// Add computes a+b, failing with an Arithmetic error on overflow.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ierrors.Arithmetic("addition overflow")
	}
	return sum, nil
}

// MulUint64 computes a*n for a small integer multiplier n, failing with an
// Arithmetic error on overflow.
func MulUint64(a *uint256.Int, n uint64) (*uint256.Int, error) {
	product, overflow := new(uint256.Int).MulOverflow(a, uint256.NewInt(n))
	if overflow {
		return nil, ierrors.Arithmetic("multiplication overflow")
	}
	return product, nil
}

// FromPct converts a float percentage (e.g. 0.25) to its e18-scaled
// fixed-point representation. Only used for compile-time system constants,
// never for on-chain values, so float precision loss is immaterial.
func FromPct(pct float64) *uint256.Int {
	scaled := new(big.Int).Mul(big.NewInt(int64(pct*1e9)), big.NewInt(1_000_000_000))
	u, _ := uint256.FromBig(scaled)
	return u
}
