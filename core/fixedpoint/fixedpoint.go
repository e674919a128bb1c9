// Package fixedpoint implements the scaled integer arithmetic used by the
// staking ledger. Fractional shares are represented as integers multiplied by
// Scale (10^18) and every operation truncates toward zero.
package fixedpoint

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// PercentDenominator is the denominator applied to percentage rates.
const PercentDenominator = 100

// ErrOverflow is returned when a result does not fit into 256 bits.
var ErrOverflow = errors.New("fixedpoint: arithmetic overflow")

// ErrDivisionByZero is returned when a denominator is zero.
var ErrDivisionByZero = errors.New("fixedpoint: division by zero")

var scale = uint256.NewInt(1_000_000_000_000_000_000)

// Scale returns a copy of the scale factor S.
func Scale() *uint256.Int {
	return new(uint256.Int).Set(scale)
}

// Zero returns a freshly allocated zero value.
func Zero() *uint256.Int {
	return new(uint256.Int)
}

// Copy returns a copy of v, treating nil as zero.
func Copy(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

// MulDiv computes x*y/d with a 512-bit intermediate product.
func MulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d == nil || d.IsZero() {
		return nil, ErrDivisionByZero
	}
	if x == nil || y == nil {
		return new(uint256.Int), nil
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, fmt.Errorf("%w: %s*%s/%s", ErrOverflow, x.Dec(), y.Dec(), d.Dec())
	}
	return z, nil
}

// Add returns x+y or ErrOverflow.
func Add(x, y *uint256.Int) (*uint256.Int, error) {
	a, b := Copy(x), Copy(y)
	z, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, fmt.Errorf("%w: %s+%s", ErrOverflow, a.Dec(), b.Dec())
	}
	return z, nil
}

// Sub returns x-y. A negative result is reported as ErrOverflow since every
// quantity in the ledger is unsigned.
func Sub(x, y *uint256.Int) (*uint256.Int, error) {
	a, b := Copy(x), Copy(y)
	z, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, fmt.Errorf("%w: %s-%s", ErrOverflow, a.Dec(), b.Dec())
	}
	return z, nil
}

// Mul returns x*y or ErrOverflow.
func Mul(x, y *uint256.Int) (*uint256.Int, error) {
	a, b := Copy(x), Copy(y)
	z, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, fmt.Errorf("%w: %s*%s", ErrOverflow, a.Dec(), b.Dec())
	}
	return z, nil
}

// PerUnit returns amount*S/units, the scaled amount attributable to a single
// unit when amount is split across units.
func PerUnit(amount *uint256.Int, units uint64) (*uint256.Int, error) {
	if units == 0 {
		return nil, ErrDivisionByZero
	}
	return MulDiv(amount, scale, uint256.NewInt(units))
}

// Share returns part*S/whole.
func Share(part, whole uint64) (*uint256.Int, error) {
	if whole == 0 {
		return nil, ErrDivisionByZero
	}
	return MulDiv(uint256.NewInt(part), scale, uint256.NewInt(whole))
}

// ApplyShare returns amount*share/S.
func ApplyShare(amount, share *uint256.Int) (*uint256.Int, error) {
	return MulDiv(amount, share, scale)
}

// Descale divides a scaled value by S.
func Descale(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Div(v, scale)
}

// Decay returns pool*(100-rate)*S/(100*S). rate must not exceed 100.
func Decay(pool *uint256.Int, rate uint8) (*uint256.Int, error) {
	if rate > PercentDenominator {
		return nil, fmt.Errorf("fixedpoint: decay rate %d exceeds %d", rate, PercentDenominator)
	}
	keep := new(uint256.Int).Mul(uint256.NewInt(uint64(PercentDenominator-rate)), scale)
	denom := new(uint256.Int).Mul(uint256.NewInt(PercentDenominator), scale)
	return MulDiv(Copy(pool), keep, denom)
}
