package utils

import (
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// RoundToPrecision rounds value to the given number of decimal digits using
// half-away-from-zero rounding (1.005 @ 2 -> 1.01). A nil precision or a NaN
// input returns the value unchanged. Every price and quantity sent to an
// exchange goes through this before placement.
func RoundToPrecision(value float64, precision *int) float64 {
	if precision == nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return value
	}
	return decimal.NewFromFloat(value).Round(int32(*precision)).InexactFloat64()
}

// ParsePrice parses a price string, returning NaN when the input is not
// numeric so callers can pass the result through RoundToPrecision safely.
func ParsePrice(raw string) float64 {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// Precision is a convenience for building optional precision arguments.
func Precision(p int) *int {
	return &p
}
