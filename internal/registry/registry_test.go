package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/warren/pkg/burrow"
)

func validAgent(id string) burrow.Agent {
	return burrow.Agent{
		ID:   id,
		Name: "Agent " + id,
		Persona: burrow.Persona{
			Emoji:   "🐇",
			Tagline: "digs fast",
		},
		Traits: burrow.Traits{
			Strictness: 0.5,
			Creativity: 0.5,
			Optimism:   0.5,
			Verbosity:  0.5,
		},
	}
}

func TestRegister(t *testing.T) {
	tests := []struct {
		name    string
		agent   burrow.Agent
		wantErr error
	}{
		{
			name:  "valid agent registers",
			agent: validAgent("scout"),
		},
		{
			name: "trait above range rejected",
			agent: burrow.Agent{
				ID:     "hot",
				Name:   "Hot",
				Traits: burrow.Traits{Strictness: 1.5},
			},
			wantErr: burrow.ErrInvalidTraits,
		},
		{
			name: "trait below range rejected",
			agent: burrow.Agent{
				ID:     "cold",
				Name:   "Cold",
				Traits: burrow.Traits{Optimism: -0.1},
			},
			wantErr: burrow.ErrInvalidTraits,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := New()
			id, err := reg.Register(tt.agent)

			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.agent.ID, id)
			assert.True(t, reg.IsActive(id))
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	reg := New()

	_, err := reg.Register(validAgent("scout"))
	require.NoError(t, err)

	_, err = reg.Register(validAgent("scout"))
	require.Error(t, err)
	assert.ErrorIs(t, err, burrow.ErrDuplicateAgent)
}

func TestRegisterRejectsPipeInID(t *testing.T) {
	reg := New()

	agent := validAgent("bad|id")
	_, err := reg.Register(agent)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must not contain '|'")
}

func TestCreateCustomAgentClampsTraits(t *testing.T) {
	reg := New()

	id, err := reg.CreateCustomAgent("Custom", burrow.Persona{}, burrow.Traits{
		Strictness: 1.7,
		Creativity: -0.3,
		Optimism:   0.5,
		Verbosity:  0.5,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	agent, err := reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 1.0, agent.Traits.Strictness)
	assert.Equal(t, 0.0, agent.Traits.Creativity)
	assert.Equal(t, 0.5, agent.Traits.Optimism)
}

func TestGetStatsColdStart(t *testing.T) {
	reg := New()

	_, err := reg.Register(validAgent("scout"))
	require.NoError(t, err)

	// Never-seen (agent, domain) pair is not an error: it returns
	// zero pulls, zero reward and the default rating
	stats, err := reg.GetStats("scout", "optimization")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Pulls)
	assert.Equal(t, 0.0, stats.CumulativeReward)
	assert.Equal(t, burrow.DefaultRating, stats.Rating)
	assert.Equal(t, 0.0, stats.AvgReward())
}

func TestGetStatsUnknownAgent(t *testing.T) {
	reg := New()

	_, err := reg.GetStats("ghost", "optimization")
	require.Error(t, err)
	assert.ErrorIs(t, err, burrow.ErrAgentNotFound)
}

func TestApplyReward(t *testing.T) {
	reg := New()

	_, err := reg.Register(validAgent("scout"))
	require.NoError(t, err)

	require.NoError(t, reg.ApplyReward("scout", "optimization", 80))
	require.NoError(t, reg.ApplyReward("scout", "optimization", 60))

	stats, err := reg.GetStats("scout", "optimization")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Pulls)
	assert.Equal(t, 140.0, stats.CumulativeReward)
	assert.Equal(t, 70.0, stats.AvgReward())

	// Other domains of the same agent are untouched
	other, err := reg.GetStats("scout", "security")
	require.NoError(t, err)
	assert.Equal(t, int64(0), other.Pulls)
}

func TestApplyRewardRejectsNegative(t *testing.T) {
	reg := New()

	_, err := reg.Register(validAgent("scout"))
	require.NoError(t, err)

	err = reg.ApplyReward("scout", "optimization", -5)
	require.Error(t, err)
}

func TestApplyRewardConcurrentConservation(t *testing.T) {
	reg := New()

	_, err := reg.Register(validAgent("scout"))
	require.NoError(t, err)

	const (
		workers = 16
		perWorker = 250
	)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if err := reg.ApplyReward("scout", "optimization", 1); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	stats, err := reg.GetStats("scout", "optimization")
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker), stats.Pulls)
	assert.Equal(t, float64(workers*perWorker), stats.CumulativeReward)
}

func TestApplyRatingDelta(t *testing.T) {
	reg := New()

	_, err := reg.Register(validAgent("scout"))
	require.NoError(t, err)

	require.NoError(t, reg.ApplyRatingDelta("scout", "optimization", 24.3))
	require.NoError(t, reg.ApplyRatingDelta("scout", "optimization", -4.3))

	stats, err := reg.GetStats("scout", "optimization")
	require.NoError(t, err)
	assert.InDelta(t, 1020.0, stats.Rating, 1e-9)

	// Rating moves never touch the pull counters
	assert.Equal(t, int64(0), stats.Pulls)
}

func TestDeactivateReactivate(t *testing.T) {
	reg := New()

	_, err := reg.Register(validAgent("scout"))
	require.NoError(t, err)
	require.NoError(t, reg.ApplyReward("scout", "optimization", 80))

	require.NoError(t, reg.Deactivate("scout"))
	assert.False(t, reg.IsActive("scout"))
	assert.Empty(t, reg.ActiveAgentIDs())

	// History survives deactivation
	stats, err := reg.GetStats("scout", "optimization")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pulls)

	require.NoError(t, reg.Reactivate("scout"))
	assert.True(t, reg.IsActive("scout"))
	assert.Equal(t, []string{"scout"}, reg.ActiveAgentIDs())
}

func TestDeactivateUnknownAgent(t *testing.T) {
	reg := New()

	err := reg.Deactivate("ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, burrow.ErrAgentNotFound)
}

func TestSnapshotDeterministicOrdering(t *testing.T) {
	reg := New()

	for _, id := range []string{"zebra", "alpha", "mole"} {
		_, err := reg.Register(validAgent(id))
		require.NoError(t, err)
	}
	require.NoError(t, reg.ApplyReward("zebra", "security", 50))
	require.NoError(t, reg.ApplyReward("zebra", "optimization", 90))
	require.NoError(t, reg.ApplyReward("alpha", "security", 70))
	require.NoError(t, reg.Deactivate("mole"))

	snap := reg.Snapshot()

	require.Len(t, snap.Agents, 3)
	assert.Equal(t, "alpha", snap.Agents[0].ID)
	assert.Equal(t, "mole", snap.Agents[1].ID)
	assert.Equal(t, "zebra", snap.Agents[2].ID)

	assert.Equal(t, []string{"mole"}, snap.Inactive)

	require.Len(t, snap.Entries, 3)
	assert.Equal(t, "alpha", snap.Entries[0].AgentID)
	assert.Equal(t, "zebra", snap.Entries[1].AgentID)
	assert.Equal(t, "optimization", snap.Entries[1].Domain)
	assert.Equal(t, "zebra", snap.Entries[2].AgentID)
	assert.Equal(t, "security", snap.Entries[2].Domain)
}

func TestSnapshotUnderConcurrentWrites(t *testing.T) {
	reg := New()

	_, err := reg.Register(validAgent("scout"))
	require.NoError(t, err)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				_ = reg.ApplyReward("scout", "optimization", 1)
			}
		}
	}()

	// Every exported snapshot must be internally consistent:
	// cumulative reward equals pulls because every reward is 1
	for i := 0; i < 50; i++ {
		snap := reg.Snapshot()
		for _, entry := range snap.Entries {
			assert.Equal(t, float64(entry.Stats.Pulls), entry.Stats.CumulativeReward,
				"torn snapshot: pulls=%d reward=%g", entry.Stats.Pulls, entry.Stats.CumulativeReward)
		}
	}

	close(done)
	wg.Wait()
}

func TestRestoreIdempotent(t *testing.T) {
	source := New()

	for _, id := range []string{"scout", "digger"} {
		_, err := source.Register(validAgent(id))
		require.NoError(t, err)
	}
	require.NoError(t, source.ApplyReward("scout", "optimization", 80))
	require.NoError(t, source.ApplyRatingDelta("scout", "optimization", 24))
	require.NoError(t, source.Deactivate("digger"))

	snap := source.Snapshot()

	target := New()
	require.NoError(t, target.Restore(snap))
	first := target.Snapshot()

	// Importing the same snapshot twice produces identical state
	require.NoError(t, target.Restore(snap))
	second := target.Snapshot()

	assert.Equal(t, first.Agents, second.Agents)
	assert.Equal(t, first.Inactive, second.Inactive)
	assert.Equal(t, first.Entries, second.Entries)

	stats, err := target.GetStats("scout", "optimization")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pulls)
	assert.Equal(t, 80.0, stats.CumulativeReward)
	assert.InDelta(t, 1024.0, stats.Rating, 1e-9)
	assert.False(t, target.IsActive("digger"))
}

func TestRestoreOverwritesCounters(t *testing.T) {
	reg := New()

	_, err := reg.Register(validAgent("scout"))
	require.NoError(t, err)
	require.NoError(t, reg.ApplyReward("scout", "optimization", 10))

	snap := &burrow.RegistrySnapshot{
		Agents: []burrow.Agent{validAgent("scout")},
		Entries: []burrow.SnapshotEntry{
			{
				AgentID: "scout",
				Domain:  "optimization",
				Stats:   burrow.DomainStats{Pulls: 42, CumulativeReward: 3000, Rating: 1100},
			},
		},
	}
	require.NoError(t, reg.Restore(snap))

	stats, err := reg.GetStats("scout", "optimization")
	require.NoError(t, err)
	assert.Equal(t, int64(42), stats.Pulls)
	assert.Equal(t, 3000.0, stats.CumulativeReward)
	assert.Equal(t, 1100.0, stats.Rating)
}

func TestRestoreRejectsNil(t *testing.T) {
	reg := New()
	require.Error(t, reg.Restore(nil))
}

func TestRestoreUnknownEntryAgent(t *testing.T) {
	reg := New()

	snap := &burrow.RegistrySnapshot{
		Entries: []burrow.SnapshotEntry{
			{AgentID: "ghost", Domain: "optimization"},
		},
	}
	err := reg.Restore(snap)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown agent")
}

func TestAllAgentsSorted(t *testing.T) {
	reg := New()

	for _, id := range []string{"c", "a", "b"} {
		_, err := reg.Register(validAgent(id))
		require.NoError(t, err)
	}

	agents := reg.AllAgents()
	require.Len(t, agents, 3)
	for i, want := range []string{"a", "b", "c"} {
		assert.Equal(t, want, agents[i].ID, fmt.Sprintf("position %d", i))
	}
}
