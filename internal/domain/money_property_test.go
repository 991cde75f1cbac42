package domain

import (
	"testing"

	"pgregory.net/rapid"
)

func TestProperty_RoundHalfEvenBounded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		num := rapid.Int64Range(0, 1_000_000_00).Draw(t, "num")
		den := rapid.Int64Range(1, 100_000).Draw(t, "den")

		got := RoundHalfEven(num, den)
		floor := num / den
		if got != floor && got != floor+1 {
			t.Fatalf("RoundHalfEven(%d, %d) = %d, not within one of floor %d", num, den, got, floor)
		}
	})
}

func TestProperty_RoundHalfEvenTiesRoundToEven(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		// Construct an exact half: numerator = odd * den, over denominator 2*den.
		base := rapid.Int64Range(0, 500_000).Draw(t, "base")
		den := rapid.Int64Range(1, 1000).Draw(t, "den")
		num := (2*base + 1) * den // num / (2*den) = base + 0.5 exactly

		got := RoundHalfEven(num, 2*den)
		if got%2 != 0 {
			t.Fatalf("RoundHalfEven(%d, %d) = %d, exact tie should round to even", num, 2*den, got)
		}
	})
}

func TestProperty_CeilDiv100NeverUndershoots(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.Int64Range(0, 1_000_000_000).Draw(t, "n")
		got := CeilDiv100(n)
		if got*100 < n {
			t.Fatalf("CeilDiv100(%d) = %d undershoots: %d*100 < %d", n, got, got, n)
		}
	})
}
