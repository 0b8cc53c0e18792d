package tournament

import "math"

// ELO rating arithmetic. One pairwise comparison produces two deltas
// that always sum to zero; N-participant formats aggregate pairwise
// deltas additively, so the zero-sum property holds for the whole match.

// DefaultKFactor is the standard K used when the config leaves it unset.
const DefaultKFactor = 32.0

// expectedScore returns the logistic expected score of a against b:
//
//	expected(a) = 1 / (1 + 10^((rating(b) - rating(a)) / 400))
func expectedScore(ratingA, ratingB float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (ratingB-ratingA)/400.0))
}

// eloDeltas returns the zero-sum rating deltas for one comparison.
// actualA is 1 for a win by a, 0.5 for a draw, 0 for a loss.
func eloDeltas(k, ratingA, ratingB, actualA float64) (deltaA, deltaB float64) {
	deltaA = k * (actualA - expectedScore(ratingA, ratingB))
	return deltaA, -deltaA
}
