package utils

import (
	"math"
	"testing"
)

func TestRoundToPrecision(t *testing.T) {
	cases := []struct {
		name      string
		value     float64
		precision *int
		want      float64
	}{
		{"truncates extra digits", 1.23456, Precision(2), 1.23},
		{"half rounds away from zero", 1.005, Precision(2), 1.01},
		{"negative half rounds away from zero", -1.005, Precision(2), -1.01},
		{"zero precision", 109.5, Precision(0), 110},
		{"nil precision passes through", 5, nil, 5},
		{"nil precision keeps fraction", 1.23456, nil, 1.23456},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := RoundToPrecision(tc.value, tc.precision)
			if got != tc.want {
				t.Fatalf("RoundToPrecision(%v, %v) = %v, want %v", tc.value, tc.precision, got, tc.want)
			}
		})
	}
}

func TestRoundToPrecisionNaN(t *testing.T) {
	if got := RoundToPrecision(math.NaN(), Precision(2)); !math.IsNaN(got) {
		t.Fatalf("expected NaN passthrough, got %v", got)
	}
}

func TestParsePrice(t *testing.T) {
	if got := ParsePrice("110.25"); got != 110.25 {
		t.Fatalf("expected 110.25, got %v", got)
	}

	if got := ParsePrice("abc"); !math.IsNaN(got) {
		t.Fatalf("expected NaN for non-numeric input, got %v", got)
	}

	// non-numeric input stays NaN through rounding
	if got := RoundToPrecision(ParsePrice("abc"), Precision(2)); !math.IsNaN(got) {
		t.Fatalf("expected NaN passthrough via rounding, got %v", got)
	}
}
