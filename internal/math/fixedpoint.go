package math

import (
	"errors"
	"math/big"
	"sync"
)

// MaxBps is 100% expressed in basis points.
const MaxBps int64 = 10_000

var (
	ErrDivideByZero = errors.New("fixedpoint: divide by zero")
	ErrOverflow     = errors.New("fixedpoint: result overflows int64")
)

// DecimalConfig defines fixed-point precision of an asset.
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

// NewDecimalConfig builds a config for an asset with the given decimals.
func NewDecimalConfig(decimals int) DecimalConfig {
	scale := int64(1)
	for i := 0; i < decimals; i++ {
		scale *= 10
	}
	return DecimalConfig{DecimalPrecision: decimals, Scale: scale}
}

var (
	// USDCConfig is the default want asset precision.
	USDCConfig = NewDecimalConfig(6)
	// BpsConfig treats basis points as a 4-decimal fraction.
	BpsConfig = DecimalConfig{DecimalPrecision: 4, Scale: MaxBps}
)

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0)
	int128Pool.Put(v)
}

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding
	RoundDown
	RoundUp
)

// MultiplyInt128 performs a * b without overflow. The caller owns the result
// and should hand it to DivideInt128 or release it.
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// DivideInt128 performs numerator / denominator with rounding. Operands are
// expected to be non-negative.
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) (int64, error) {
	if denominator == 0 {
		return 0, ErrDivideByZero
	}
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()
	defer putInt128(quotient)
	defer putInt128(remainder)

	quotient.DivMod(numerator, denom, remainder)
	if !quotient.IsInt64() {
		return 0, ErrOverflow
	}
	result := quotient.Int64()

	switch roundingMode {
	case RoundUp:
		if remainder.Sign() != 0 {
			result++
		}
	case RoundHalfEven:
		half := big.NewInt(denominator / 2)
		cmp := remainder.Cmp(half)
		if cmp > 0 {
			result++
		} else if cmp == 0 && denominator%2 == 0 && result%2 != 0 {
			result++
		}
	}

	return result, nil
}

// MulDiv returns a * b / c under the given rounding mode, computing the
// product in 128+ bits.
func MulDiv(a, b, c int64, mode RoundingMode) (int64, error) {
	product := MultiplyInt128(a, b)
	defer putInt128(product)
	return DivideInt128(product, c, mode)
}

// MulDivDown is MulDiv with RoundDown. Share issuance, redemption and credit
// limits all round toward the vault.
func MulDivDown(a, b, c int64) (int64, error) {
	return MulDiv(a, b, c, RoundDown)
}

// BpsOf returns amount * bps / 10_000, rounded down.
func BpsOf(amount, bps int64) int64 {
	// amount and bps are bounded by callers; 10_000 * int64 fits 128 bits.
	v, err := MulDiv(amount, bps, MaxBps, RoundDown)
	if err != nil {
		return 0
	}
	return v
}

// Min returns the smaller of a and b.
func Min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// ClampNonNegative floors v at zero.
func ClampNonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
