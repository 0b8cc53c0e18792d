package bandit

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/warren/internal/registry"
	"github.com/dyluth/warren/pkg/burrow"
)

func newRegistry(t *testing.T, ids ...string) *registry.Registry {
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

func TestSelectColdStart(t *testing.T) {
	reg := newRegistry(t, "a1", "a2", "a3")
	sel := New(reg)

	// No pulls anywhere in the domain: first candidate in supplied
	// order wins, and the order is the caller's, not sorted
	id, err := sel.Select("generation", "optimization", []string{"a2", "a3", "a1"}, 1.4, "")
	require.NoError(t, err)
	assert.Equal(t, "a2", id)
}

func TestSelectUntriedBeatsTried(t *testing.T) {
	reg := newRegistry(t, "a1", "a2")
	sel := New(reg)

	// a1 has history; a2 scores +Inf until tried once
	require.NoError(t, reg.ApplyReward("a1", "optimization", 95))

	id, err := sel.Select("generation", "optimization", []string{"a1", "a2"}, 1.4, "")
	require.NoError(t, err)
	assert.Equal(t, "a2", id)
}

// Three fresh agents, exploration constant 1.4. The first three
// selections walk the candidate list in order (recording a reward
// after each); the fourth selection exploits: every agent has one
// pull, so the exploration bonus 1.4*sqrt(2*ln(3)) is identical and
// only the averages 80, 50, 65 differ.
func TestSelectColdStartThenExploit(t *testing.T) {
	reg := newRegistry(t, "a1", "a2", "a3")
	sel := New(reg)

	candidates := []string{"a1", "a2", "a3"}
	rewards := map[string]float64{"a1": 80, "a2": 50, "a3": 65}

	for _, want := range candidates {
		id, err := sel.Select("generation", "optimization", candidates, 1.4, "")
		require.NoError(t, err)
		assert.Equal(t, want, id)
		require.NoError(t, reg.ApplyReward(id, "optimization", rewards[id]))
	}

	id, err := sel.Select("generation", "optimization", candidates, 1.4, "")
	require.NoError(t, err)
	assert.Equal(t, "a1", id)

	// The winning score is avg 80 plus the shared exploration term
	stats, err := reg.GetStats("a1", "optimization")
	require.NoError(t, err)
	wantScore := 80 + 1.4*math.Sqrt(2*math.Log(3))
	assert.InDelta(t, wantScore, ucb1Score(stats, 3, 1.4), 1e-9)
}

func TestSelectDeterministic(t *testing.T) {
	reg := newRegistry(t, "a1", "a2", "a3")
	sel := New(reg)

	require.NoError(t, reg.ApplyReward("a1", "optimization", 80))
	require.NoError(t, reg.ApplyReward("a2", "optimization", 60))
	require.NoError(t, reg.ApplyReward("a3", "optimization", 70))

	first, err := sel.Select("generation", "optimization", []string{"a1", "a2", "a3"}, 1.4, "")
	require.NoError(t, err)

	// Identical counters and candidate list always produce the same pick
	for i := 0; i < 20; i++ {
		id, err := sel.Select("generation", "optimization", []string{"a1", "a2", "a3"}, 1.4, "")
		require.NoError(t, err)
		assert.Equal(t, first, id)
	}
}

func TestSelectTieBreakFewerPulls(t *testing.T) {
	reg := newRegistry(t, "a1", "a2")
	sel := New(reg)

	// Same average reward, different pull counts. With c=0 the scores
	// are exactly equal, so the tie breaks to fewer pulls.
	require.NoError(t, reg.ApplyReward("a1", "optimization", 50))
	require.NoError(t, reg.ApplyReward("a1", "optimization", 50))
	require.NoError(t, reg.ApplyReward("a2", "optimization", 50))

	id, err := sel.Select("generation", "optimization", []string{"a1", "a2"}, 0, "")
	require.NoError(t, err)
	assert.Equal(t, "a2", id)
}

func TestSelectSkipsInactive(t *testing.T) {
	reg := newRegistry(t, "a1", "a2")
	sel := New(reg)

	require.NoError(t, reg.ApplyReward("a1", "optimization", 99))
	require.NoError(t, reg.Deactivate("a1"))

	id, err := sel.Select("generation", "optimization", []string{"a1", "a2"}, 1.4, "")
	require.NoError(t, err)
	assert.Equal(t, "a2", id)
}

func TestSelectNoCandidates(t *testing.T) {
	reg := newRegistry(t, "a1")
	sel := New(reg)

	require.NoError(t, reg.Deactivate("a1"))

	_, err := sel.Select("generation", "optimization", []string{"a1"}, 1.4, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, burrow.ErrNoCandidates)

	_, err = sel.Select("generation", "optimization", nil, 1.4, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, burrow.ErrNoCandidates)
}

func TestSelectForcedAgent(t *testing.T) {
	reg := newRegistry(t, "a1", "a2")
	sel := New(reg)

	// a1 is far ahead on reward; the override still wins
	require.NoError(t, reg.ApplyReward("a1", "optimization", 99))
	require.NoError(t, reg.ApplyReward("a2", "optimization", 1))

	id, err := sel.Select("generation", "optimization", []string{"a1", "a2"}, 1.4, "a2")
	require.NoError(t, err)
	assert.Equal(t, "a2", id)
}

func TestSelectForcedAgentInactiveFallsThrough(t *testing.T) {
	reg := newRegistry(t, "a1", "a2")
	sel := New(reg)

	require.NoError(t, reg.Deactivate("a2"))

	// Forced agent is not an active candidate: normal scoring applies
	id, err := sel.Select("generation", "optimization", []string{"a1", "a2"}, 1.4, "a2")
	require.NoError(t, err)
	assert.Equal(t, "a1", id)
}

func TestSelectEmptyDomain(t *testing.T) {
	reg := newRegistry(t, "a1")
	sel := New(reg)

	_, err := sel.Select("generation", "", []string{"a1"}, 1.4, "")
	require.Error(t, err)
}

func TestUCB1Score(t *testing.T) {
	tests := []struct {
		name       string
		stats      burrow.DomainStats
		totalPulls int64
		c          float64
		want       float64
	}{
		{
			name:       "untried arm is +Inf",
			stats:      burrow.DomainStats{},
			totalPulls: 10,
			c:          1.4,
			want:       math.Inf(1),
		},
		{
			name:       "single pull",
			stats:      burrow.DomainStats{Pulls: 1, CumulativeReward: 80},
			totalPulls: 3,
			c:          1.4,
			want:       80 + 1.4*math.Sqrt(2*math.Log(3)),
		},
		{
			name:       "zero exploration constant is pure exploitation",
			stats:      burrow.DomainStats{Pulls: 4, CumulativeReward: 200},
			totalPulls: 10,
			c:          0,
			want:       50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ucb1Score(tt.stats, tt.totalPulls, tt.c)
			if math.IsInf(tt.want, 1) {
				assert.True(t, math.IsInf(got, 1))
				return
			}
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}
