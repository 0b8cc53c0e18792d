package tournament

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/warren/internal/registry"
	"github.com/dyluth/warren/pkg/burrow"
)

// stubJudge resolves comparisons from a fixed strength table: the
// stronger agent wins, equals draw. Individual pairings can be forced to
// fail, and the whole judge can block to exercise timeouts.
type stubJudge struct {
	strength map[string]float64
	failPair map[string]bool // key "a|b" in the order compared
	block    bool
}

func pairKey(a, b string) string { return fmt.Sprintf("%s|%s", a, b) }

func (j *stubJudge) Compare(ctx context.Context, agentA, agentB, task string) (Comparison, error) {
	if j.block {
		<-ctx.Done()
		return Comparison{}, ctx.Err()
	}
	if j.failPair[pairKey(agentA, agentB)] {
		return Comparison{}, errors.New("judge unavailable")
	}

	sa, sb := j.strength[agentA], j.strength[agentB]
	switch {
	case sa > sb:
		return Comparison{Winner: agentA, Margin: sa - sb}, nil
	case sb > sa:
		return Comparison{Winner: agentB, Margin: sb - sa}, nil
	default:
		return Comparison{}, nil
	}
}

func (j *stubJudge) Score(ctx context.Context, agentID, task string) (float64, error) {
	if j.block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	if j.failPair[agentID] {
		return 0, errors.New("judge unavailable")
	}
	return j.strength[agentID], nil
}

func newTestRegistry(t *testing.T, ids ...string) *registry.Registry {
	t.Helper()

	reg := registry.New()
	for _, id := range ids {
		_, err := reg.Register(burrow.Agent{
			ID:     id,
			Name:   "Agent " + id,
			Traits: burrow.Traits{Strictness: 0.5},
		})
		require.NoError(t, err)
	}
	return reg
}

func assertZeroSum(t *testing.T, match *burrow.TournamentMatch) {
	t.Helper()

	var sum float64
	for _, d := range match.RatingDeltas {
		sum += d
	}
	assert.InDelta(t, 0.0, sum, 1e-9, "rating deltas must sum to zero")

	for _, pr := range match.Pairs {
		assert.InDelta(t, 0.0, pr.DeltaA+pr.DeltaB, 1e-9,
			"pair %s vs %s not zero-sum", pr.AgentA, pr.AgentB)
		if pr.Inconclusive {
			assert.Zero(t, pr.DeltaA)
			assert.Zero(t, pr.DeltaB)
		}
	}
}

func TestRunValidation(t *testing.T) {
	reg := newTestRegistry(t, "a", "b")
	eng := NewEngine(reg, &stubJudge{strength: map[string]float64{"a": 1, "b": 2}})
	ctx := context.Background()

	_, err := eng.Run(ctx, "bracket", "optimization", "task", []string{"a", "b"})
	require.Error(t, err)

	_, err = eng.Run(ctx, burrow.FormatRoundRobin, "optimization", "task", []string{"a"})
	require.Error(t, err)
	assert.ErrorIs(t, err, burrow.ErrNoCandidates)

	_, err = eng.Run(ctx, burrow.FormatRoundRobin, "optimization", "task", []string{"a", "ghost"})
	require.Error(t, err)
	assert.ErrorIs(t, err, burrow.ErrAgentNotFound)
}

// Two agents rated 1000 and 1200 with K=32. The underdog wins, so its
// delta is 32*(1 - 1/(1+10^0.5)), about +24.3, and the favorite loses
// the same amount.
func TestRunRoundRobinUnderdogUpset(t *testing.T) {
	reg := newTestRegistry(t, "underdog", "favorite")
	require.NoError(t, reg.ApplyRatingDelta("favorite", "optimization", 200))

	judge := &stubJudge{strength: map[string]float64{"underdog": 2, "favorite": 1}}
	eng := NewEngine(reg, judge)

	match, err := eng.Run(context.Background(), burrow.FormatRoundRobin, "optimization", "review claim", []string{"underdog", "favorite"})
	require.NoError(t, err)

	expected := 1.0 / (1.0 + math.Pow(10, 0.5))
	wantDelta := 32 * (1 - expected)

	assert.InDelta(t, wantDelta, match.RatingDeltas["underdog"], 1e-9)
	assert.InDelta(t, -wantDelta, match.RatingDeltas["favorite"], 1e-9)
	assert.InDelta(t, 24.3, match.RatingDeltas["underdog"], 0.05)
	assertZeroSum(t, match)

	assert.Equal(t, []string{"underdog", "favorite"}, match.Ranking)

	// Deltas were applied to the registry, and only ratings moved
	stats, err := reg.GetStats("underdog", "optimization")
	require.NoError(t, err)
	assert.InDelta(t, 1000+wantDelta, stats.Rating, 1e-9)
	assert.Equal(t, int64(0), stats.Pulls)

	stats, err = reg.GetStats("favorite", "optimization")
	require.NoError(t, err)
	assert.InDelta(t, 1200-wantDelta, stats.Rating, 1e-9)
}

func TestRunRoundRobinRanking(t *testing.T) {
	reg := newTestRegistry(t, "a", "b", "c", "d")
	judge := &stubJudge{strength: map[string]float64{"a": 4, "b": 3, "c": 2, "d": 1}}
	eng := NewEngine(reg, judge)

	match, err := eng.Run(context.Background(), burrow.FormatRoundRobin, "optimization", "task", []string{"a", "b", "c", "d"})
	require.NoError(t, err)

	// 4 participants, every pair once
	assert.Len(t, match.Pairs, 6)
	assert.Equal(t, []string{"a", "b", "c", "d"}, match.Ranking)
	assert.Equal(t, 3.0, match.Scores["a"])
	assert.Equal(t, 0.0, match.Scores["d"])
	assertZeroSum(t, match)
}

func TestRunFreeForAll(t *testing.T) {
	reg := newTestRegistry(t, "a", "b", "c")
	judge := &stubJudge{strength: map[string]float64{"a": 60, "b": 90, "c": 75}}
	eng := NewEngine(reg, judge)

	match, err := eng.Run(context.Background(), burrow.FormatFreeForAll, "optimization", "task", []string{"a", "b", "c"})
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "c", "a"}, match.Ranking)
	assert.Equal(t, 90.0, match.Scores["b"])
	assert.Len(t, match.Pairs, 3) // Implied pairwise outcomes
	assertZeroSum(t, match)
}

func TestRunFreeForAllScoreFailure(t *testing.T) {
	reg := newTestRegistry(t, "a", "b", "c")
	judge := &stubJudge{
		strength: map[string]float64{"a": 60, "b": 90},
		failPair: map[string]bool{"c": true},
	}
	eng := NewEngine(reg, judge)

	match, err := eng.Run(context.Background(), burrow.FormatFreeForAll, "optimization", "task", []string{"a", "b", "c"})
	require.NoError(t, err)

	// Pairings touching the failed participant are inconclusive
	assert.Equal(t, 2, match.Inconclusive)
	assert.NotContains(t, match.Scores, "c")
	assert.Equal(t, []string{"b", "a"}, match.Ranking)
	assertZeroSum(t, match)
}

func TestRunSingleElimination(t *testing.T) {
	reg := newTestRegistry(t, "a", "b", "c", "d")
	judge := &stubJudge{strength: map[string]float64{"a": 4, "b": 3, "c": 2, "d": 1}}
	eng := NewEngine(reg, judge)

	match, err := eng.Run(context.Background(), burrow.FormatSingleElimination, "optimization", "task", []string{"a", "b", "c", "d"})
	require.NoError(t, err)

	// Two semifinals plus a final
	assert.Len(t, match.Pairs, 3)
	require.NotEmpty(t, match.Ranking)
	assert.Equal(t, "a", match.Ranking[0])
	assert.Len(t, match.Ranking, 4)
	assertZeroSum(t, match)
}

func TestRunSingleEliminationOddFieldBye(t *testing.T) {
	reg := newTestRegistry(t, "a", "b", "c")
	require.NoError(t, reg.ApplyRatingDelta("a", "optimization", 100))

	judge := &stubJudge{strength: map[string]float64{"a": 3, "b": 2, "c": 1}}
	eng := NewEngine(reg, judge)

	match, err := eng.Run(context.Background(), burrow.FormatSingleElimination, "optimization", "task", []string{"a", "b", "c"})
	require.NoError(t, err)

	// Round 1: top seed "a" gets the bye, b plays c. Round 2: a vs b.
	require.Len(t, match.Pairs, 2)
	assert.Equal(t, 1, match.Pairs[0].Round)
	assert.Equal(t, 2, match.Pairs[1].Round)
	assert.Equal(t, "a", match.Ranking[0])
	assertZeroSum(t, match)
}

func TestRunSwiss(t *testing.T) {
	reg := newTestRegistry(t, "a", "b", "c", "d")
	judge := &stubJudge{strength: map[string]float64{"a": 4, "b": 3, "c": 2, "d": 1}}
	eng := NewEngine(reg, judge, WithSwissRounds(3))

	match, err := eng.Run(context.Background(), burrow.FormatSwiss, "optimization", "task", []string{"a", "b", "c", "d"})
	require.NoError(t, err)

	// 3 rounds of 2 pairings each
	assert.Len(t, match.Pairs, 6)
	assert.Equal(t, "a", match.Ranking[0])
	assert.Equal(t, 3.0, match.Scores["a"]) // Won every round
	assertZeroSum(t, match)
}

func TestRunSwissOddFieldHalfPointBye(t *testing.T) {
	reg := newTestRegistry(t, "a", "b", "c")
	judge := &stubJudge{strength: map[string]float64{"a": 3, "b": 2, "c": 1}}
	eng := NewEngine(reg, judge, WithSwissRounds(2))

	match, err := eng.Run(context.Background(), burrow.FormatSwiss, "optimization", "task", []string{"a", "b", "c"})
	require.NoError(t, err)

	var total float64
	for _, s := range match.Scores {
		total += s
	}
	// Each round awards 1 point to the judged pairing and 0.5 to the bye
	assert.InDelta(t, 3.0, total, 1e-9)
	assertZeroSum(t, match)
}

func TestRunMultiStage(t *testing.T) {
	reg := newTestRegistry(t, "a", "b", "c", "d", "e", "f")
	judge := &stubJudge{strength: map[string]float64{"a": 6, "b": 5, "c": 4, "d": 3, "e": 2, "f": 1}}
	eng := NewEngine(reg, judge)

	match, err := eng.Run(context.Background(), burrow.FormatMultiStage, "optimization", "task", []string{"a", "b", "c", "d", "e", "f"})
	require.NoError(t, err)

	// Default stages: round-robin group, then single-elimination final
	// among the top half
	assert.Equal(t, "a", match.Ranking[0])
	assert.NotEmpty(t, match.Pairs)
	assertZeroSum(t, match)
}

func TestRunInconclusivePairing(t *testing.T) {
	reg := newTestRegistry(t, "a", "b", "c")
	judge := &stubJudge{
		strength: map[string]float64{"a": 3, "b": 2, "c": 1},
		failPair: map[string]bool{pairKey("a", "b"): true},
	}
	eng := NewEngine(reg, judge)

	match, err := eng.Run(context.Background(), burrow.FormatRoundRobin, "optimization", "task", []string{"a", "b", "c"})
	require.NoError(t, err)

	assert.Equal(t, 1, match.Inconclusive)
	assertZeroSum(t, match)

	// The inconclusive pairing moved no ratings at all
	for _, pr := range match.Pairs {
		if pr.Inconclusive {
			assert.Empty(t, pr.Winner)
			assert.Zero(t, pr.DeltaA)
			assert.Zero(t, pr.DeltaB)
		}
	}
}

func TestRunJudgeTimeoutIsInconclusive(t *testing.T) {
	reg := newTestRegistry(t, "a", "b")
	judge := &stubJudge{block: true}
	eng := NewEngine(reg, judge, WithJudgeTimeout(20*time.Millisecond))

	match, err := eng.Run(context.Background(), burrow.FormatRoundRobin, "optimization", "task", []string{"a", "b"})
	require.NoError(t, err)

	assert.Equal(t, 1, match.Inconclusive)
	assert.Empty(t, match.RatingDeltas)

	stats, err := reg.GetStats("a", "optimization")
	require.NoError(t, err)
	assert.Equal(t, burrow.DefaultRating, stats.Rating)
}

func TestRunCancellation(t *testing.T) {
	reg := newTestRegistry(t, "a", "b", "c", "d")
	judge := &stubJudge{strength: map[string]float64{"a": 4, "b": 3, "c": 2, "d": 1}}
	eng := NewEngine(reg, judge)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	match, err := eng.Run(ctx, burrow.FormatSingleElimination, "optimization", "task", []string{"a", "b", "c", "d"})
	require.Error(t, err)
	assert.ErrorIs(t, err, burrow.ErrCancelled)

	// Partial match returned, no round deltas applied
	require.NotNil(t, match)
	assert.Empty(t, match.Pairs)

	stats, err := reg.GetStats("a", "optimization")
	require.NoError(t, err)
	assert.Equal(t, burrow.DefaultRating, stats.Rating)
}

func TestDrawLeavesEqualRatingsUnchanged(t *testing.T) {
	reg := newTestRegistry(t, "a", "b")
	judge := &stubJudge{strength: map[string]float64{"a": 1, "b": 1}}
	eng := NewEngine(reg, judge)

	match, err := eng.Run(context.Background(), burrow.FormatRoundRobin, "optimization", "task", []string{"a", "b"})
	require.NoError(t, err)

	require.Len(t, match.Pairs, 1)
	assert.True(t, match.Pairs[0].Draw)
	assert.InDelta(t, 0.0, match.RatingDeltas["a"], 1e-12)
	assert.InDelta(t, 0.0, match.RatingDeltas["b"], 1e-12)
}

func TestSeedByRating(t *testing.T) {
	reg := newTestRegistry(t, "a", "b", "c")
	require.NoError(t, reg.ApplyRatingDelta("b", "optimization", 100))
	require.NoError(t, reg.ApplyRatingDelta("c", "optimization", 50))

	eng := NewEngine(reg, &stubJudge{})
	seeded := eng.seedByRating("optimization", []string{"a", "b", "c"})
	assert.Equal(t, []string{"b", "c", "a"}, seeded)
}
