// Package bandit implements UCB1 arm selection over the registry's
// per-domain counters. Selection is a pure read: counters only move when
// an outcome is recorded through the registry, so a caller can select,
// fail to get a result and simply not record, without corrupting
// statistics.
package bandit

import (
	"fmt"
	"log"
	"math"

	"github.com/dyluth/warren/internal/registry"
	"github.com/dyluth/warren/pkg/burrow"
)

// Selector picks agents using the UCB1 rule. It reads counters without
// holding them against concurrent writes: a stale-by-one-update view only
// shifts exploration slightly, which is acceptable for a heuristic.
type Selector struct {
	registry *registry.Registry
}

// New creates a selector backed by the given registry.
func New(reg *registry.Registry) *Selector {
	return &Selector{registry: reg}
}

// Select returns the agent to invoke for one pipeline stage.
//
// For each active candidate a:
//
//	score(a) = avgReward(a) + c * sqrt(2 * ln(totalPulls) / pulls(a))
//
// An untried candidate scores +Inf, guaranteeing every arm is tried once
// before exploitation begins. When no candidate has any pulls the first
// active candidate in supplied order wins (no logarithm of zero). Ties
// break to fewer pulls, then to candidate-list order, so selection is
// deterministic and reproducible.
//
// If forcedAgentID is non-empty and names an active candidate it is
// returned immediately, bypassing scoring; the caller is still expected
// to record the outcome normally so learning continues.
func (s *Selector) Select(role, domain string, candidates []string, explorationConstant float64, forcedAgentID string) (string, error) {
	if domain == "" {
		return "", fmt.Errorf("domain cannot be empty")
	}

	active := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if s.registry.IsActive(id) {
			active = append(active, id)
		}
	}

	if len(active) == 0 {
		return "", fmt.Errorf("%w: role=%s domain=%s", burrow.ErrNoCandidates, role, domain)
	}

	if forcedAgentID != "" {
		for _, id := range active {
			if id == forcedAgentID {
				log.Printf("[Bandit] Forced selection of %s for role=%s domain=%s", forcedAgentID, role, domain)
				return forcedAgentID, nil
			}
		}
		// Forced agent not among active candidates: fall through to scoring
		log.Printf("[Bandit] Forced agent %s not an active candidate, scoring normally", forcedAgentID)
	}

	stats := make([]burrow.DomainStats, len(active))
	var totalPulls int64
	for i, id := range active {
		st, err := s.registry.GetStats(id, domain)
		if err != nil {
			return "", fmt.Errorf("failed to read stats for %s: %w", id, err)
		}
		stats[i] = st
		totalPulls += st.Pulls
	}

	// Nothing tried yet in this domain: pick the first candidate
	if totalPulls == 0 {
		return active[0], nil
	}

	best := 0
	bestScore := math.Inf(-1)
	for i := range active {
		score := ucb1Score(stats[i], totalPulls, explorationConstant)

		if score > bestScore {
			best, bestScore = i, score
			continue
		}

		// Tie-break: fewer pulls first, then stable candidate order
		if score == bestScore && stats[i].Pulls < stats[best].Pulls {
			best = i
		}
	}

	log.Printf("[Bandit] Selected %s for role=%s domain=%s (score=%.3f, pulls=%d)",
		active[best], role, domain, bestScore, stats[best].Pulls)
	return active[best], nil
}

// ucb1Score computes the UCB1 score for one arm. Untried arms score +Inf
// so the cold-start round robin covers every candidate exactly once.
func ucb1Score(st burrow.DomainStats, totalPulls int64, c float64) float64 {
	if st.Pulls == 0 {
		return math.Inf(1)
	}

	exploration := c * math.Sqrt(2*math.Log(float64(totalPulls))/float64(st.Pulls))
	return st.AvgReward() + exploration
}
