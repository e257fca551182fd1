package math

import (
	"math/big"
	"time"
)

// SecondsPerYear is the management-fee year (365.2425 days).
const SecondsPerYear int64 = 31_556_952

// AccrueAnnualBps returns base * rateBps * elapsed / (10_000 * year), rounded
// down. Used for time-proportional fees.
func AccrueAnnualBps(base, rateBps int64, elapsed time.Duration) int64 {
	if base <= 0 || rateBps <= 0 || elapsed <= 0 {
		return 0
	}
	secs := int64(elapsed / time.Second)

	num := MultiplyInt128(base, rateBps)
	defer putInt128(num)
	num.Mul(num, big.NewInt(secs))

	den := getInt128()
	defer putInt128(den)
	den.Mul(big.NewInt(MaxBps), big.NewInt(SecondsPerYear))

	q := getInt128()
	defer putInt128(q)
	q.Quo(num, den)
	if !q.IsInt64() {
		return 0
	}
	return q.Int64()
}

// LinearRemaining returns the part of amount still locked after elapsed out of
// window: amount - amount*elapsed/window, rounded so the unlocked part is
// floored. Zero once elapsed reaches window.
func LinearRemaining(amount int64, elapsed, window time.Duration) int64 {
	if amount <= 0 {
		return 0
	}
	if window <= 0 || elapsed >= window {
		return 0
	}
	if elapsed <= 0 {
		return amount
	}
	unlocked, err := MulDiv(amount, int64(elapsed), int64(window), RoundDown)
	if err != nil {
		return 0
	}
	return amount - unlocked
}
