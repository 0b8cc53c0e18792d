package tournament

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpectedScore(t *testing.T) {
	tests := []struct {
		name    string
		ratingA float64
		ratingB float64
		want    float64
	}{
		{
			name:    "equal ratings",
			ratingA: 1000,
			ratingB: 1000,
			want:    0.5,
		},
		{
			name:    "200 point underdog",
			ratingA: 1000,
			ratingB: 1200,
			want:    1.0 / (1.0 + math.Pow(10, 0.5)),
		},
		{
			name:    "200 point favorite",
			ratingA: 1200,
			ratingB: 1000,
			want:    1.0 / (1.0 + math.Pow(10, -0.5)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, expectedScore(tt.ratingA, tt.ratingB), 1e-12)
		})
	}
}

func TestExpectedScoresSumToOne(t *testing.T) {
	pairs := [][2]float64{{1000, 1000}, {1000, 1200}, {800, 1600}, {1432.5, 987.25}}
	for _, p := range pairs {
		sum := expectedScore(p[0], p[1]) + expectedScore(p[1], p[0])
		assert.InDelta(t, 1.0, sum, 1e-12)
	}
}

// Agent A at 1000 beating agent B at 1200 with K=32:
// expected(A) = 1/(1+10^0.5) ~ 0.240, so delta(A) ~ +24.3 and B loses
// exactly what A gains.
func TestEloDeltasUnderdogWin(t *testing.T) {
	deltaA, deltaB := eloDeltas(32, 1000, 1200, 1)

	expectedA := 1.0 / (1.0 + math.Pow(10, 0.5))
	assert.InDelta(t, 32*(1-expectedA), deltaA, 1e-9)
	assert.InDelta(t, 24.3, deltaA, 0.05)
	assert.InDelta(t, 0.0, deltaA+deltaB, 1e-12)
}

func TestEloDeltasZeroSum(t *testing.T) {
	tests := []struct {
		name    string
		ratingA float64
		ratingB float64
		actualA float64
	}{
		{name: "win", ratingA: 1000, ratingB: 1100, actualA: 1},
		{name: "loss", ratingA: 1000, ratingB: 1100, actualA: 0},
		{name: "draw", ratingA: 950, ratingB: 1300, actualA: 0.5},
		{name: "equal draw", ratingA: 1000, ratingB: 1000, actualA: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deltaA, deltaB := eloDeltas(32, tt.ratingA, tt.ratingB, tt.actualA)
			assert.InDelta(t, 0.0, deltaA+deltaB, 1e-12)
		})
	}
}

func TestEloDeltasEqualDrawIsNoOp(t *testing.T) {
	deltaA, deltaB := eloDeltas(32, 1000, 1000, 0.5)
	assert.InDelta(t, 0.0, deltaA, 1e-12)
	assert.InDelta(t, 0.0, deltaB, 1e-12)
}
