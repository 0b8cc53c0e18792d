// Package swarm gathers weighted votes from many agents concurrently and
// derives a group decision with groupthink detection.
//
// Votes fan out to every candidate at once and fan back in against a
// deadline: whatever quorum has arrived when the deadline passes is what
// gets counted. Late votes are discarded, not retried. Each agent's vote
// weight derives from its domain expertise (normalized rating), so a
// proven agent moves the decision more than a cold one.
package swarm

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/dyluth/warren/internal/registry"
	"github.com/dyluth/warren/pkg/burrow"
)

// Voter is the external collaborator that produces one agent's ballot
// for a question. It may call an LLM; Warren treats it as an opaque,
// time-bounded function.
type Voter interface {
	Vote(ctx context.Context, agentID, domain, question string) (Ballot, error)
}

// Ballot is a single agent's raw answer, before weighting.
type Ballot struct {
	Choice     string
	Confidence float64 // [0,1]
}

// Consensus runs weighted swarm votes against a shared registry.
type Consensus struct {
	registry *registry.Registry
	voter    Voter

	perVoterTimeout     time.Duration
	quorumFraction      float64
	groupthinkThreshold float64
}

// Config tunes a Consensus. Zero values take the documented defaults.
type Config struct {
	PerVoterTimeout     time.Duration // Default 5s
	QuorumFraction      float64       // Default 0.6
	GroupthinkThreshold float64       // Default 0.9
}

// New creates a swarm consensus runner.
func New(reg *registry.Registry, voter Voter, cfg Config) *Consensus {
	if cfg.PerVoterTimeout <= 0 {
		cfg.PerVoterTimeout = 5 * time.Second
	}
	if cfg.QuorumFraction <= 0 {
		cfg.QuorumFraction = 0.6
	}
	if cfg.GroupthinkThreshold <= 0 {
		cfg.GroupthinkThreshold = 0.9
	}

	return &Consensus{
		registry:            reg,
		voter:               voter,
		perVoterTimeout:     cfg.PerVoterTimeout,
		quorumFraction:      cfg.QuorumFraction,
		groupthinkThreshold: cfg.GroupthinkThreshold,
	}
}

// RunVote asks every active candidate concurrently for a ballot and
// derives the weighted group decision.
//
// Decision = the choice with the highest sum of weight * confidence;
// consensus strength = that sum divided by the total weight of all votes
// received. Fails with burrow.ErrNoQuorum when fewer than the quorum
// fraction of dispatched agents respond within the per-voter timeout,
// and with burrow.ErrCancelled when the caller's context ends first.
func (c *Consensus) RunVote(ctx context.Context, domain, question string, candidates []string) (*burrow.VoteResult, error) {
	if domain == "" {
		return nil, fmt.Errorf("domain cannot be empty")
	}
	if question == "" {
		return nil, fmt.Errorf("question cannot be empty")
	}

	active := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if c.registry.IsActive(id) {
			active = append(active, id)
		}
	}
	if len(active) == 0 {
		return nil, fmt.Errorf("%w: domain=%s", burrow.ErrNoCandidates, domain)
	}

	log.Printf("[Swarm] Dispatching vote to %d agents (domain=%s): %q", len(active), domain, question)

	// Fan out: every voter gets its own timeout; results funnel into one
	// channel and the gather loop below owns the deadline
	type arrival struct {
		vote burrow.Vote
		err  error
	}
	arrivals := make(chan arrival, len(active))

	voteCtx, cancel := context.WithTimeout(ctx, c.perVoterTimeout)
	defer cancel()

	for _, agentID := range active {
		go func(agentID string) {
			ballot, err := c.voter.Vote(voteCtx, agentID, domain, question)
			if err != nil {
				arrivals <- arrival{err: fmt.Errorf("agent %s: %w", agentID, err)}
				return
			}

			vote := burrow.Vote{
				AgentID:    agentID,
				Weight:     c.expertiseWeight(agentID, domain),
				Choice:     ballot.Choice,
				Confidence: ballot.Confidence,
			}
			if err := vote.Validate(); err != nil {
				arrivals <- arrival{err: fmt.Errorf("agent %s submitted invalid vote: %w", agentID, err)}
				return
			}

			arrivals <- arrival{vote: vote}
		}(agentID)
	}

	// Fan in: gather until every dispatched voter has answered or the
	// deadline fires. Votes arriving after the deadline are discarded.
	result := &burrow.VoteResult{
		Domain:     domain,
		Question:   question,
		Votes:      []burrow.Vote{},
		Dispatched: len(active),
	}

gather:
	for received := 0; received < len(active); received++ {
		select {
		case <-ctx.Done():
			return result, fmt.Errorf("%w: vote for %q", burrow.ErrCancelled, question)
		case <-voteCtx.Done():
			break gather
		case a := <-arrivals:
			if a.err != nil {
				log.Printf("[Swarm] Vote discarded: %v", a.err)
				continue
			}
			result.Votes = append(result.Votes, a.vote)
		}
	}

	// voteCtx is derived from ctx, so after caller cancellation both Done
	// channels are ready and the select above may take either branch.
	// Re-check the caller's context so cancellation is never misreported
	// as a failed quorum.
	if ctx.Err() != nil {
		return result, fmt.Errorf("%w: vote for %q", burrow.ErrCancelled, question)
	}

	quorum := float64(len(result.Votes)) / float64(len(active))
	if quorum < c.quorumFraction {
		log.Printf("[Swarm] No quorum: %d/%d votes received (need %.0f%%)",
			len(result.Votes), len(active), c.quorumFraction*100)
		return result, fmt.Errorf("%w: received %d of %d votes", burrow.ErrNoQuorum, len(result.Votes), len(active))
	}

	c.decide(result)

	log.Printf("[Swarm] Decision %q (strength=%.3f, suspect=%v, %d/%d votes)",
		result.Decision, result.ConsensusStrength, result.Suspect, len(result.Votes), len(active))
	return result, nil
}

// expertiseWeight derives a vote weight from the agent's learned domain
// rating, normalized against the default rating and floored at 0.1 so a
// cold agent still counts.
func (c *Consensus) expertiseWeight(agentID, domain string) float64 {
	stats, err := c.registry.GetStats(agentID, domain)
	if err != nil {
		return 0.1
	}

	weight := stats.Rating / burrow.DefaultRating
	if weight < 0.1 {
		weight = 0.1
	}
	return weight
}

// decide aggregates the received votes into a decision, strength metric
// and groupthink flag.
func (c *Consensus) decide(result *burrow.VoteResult) {
	sums := make(map[string]float64)
	var totalWeight float64
	for _, v := range result.Votes {
		sums[v.Choice] += v.Weight * v.Confidence
		totalWeight += v.Weight
	}

	// Deterministic winner: highest weighted confidence, ties to the
	// lexicographically smaller choice
	choices := make([]string, 0, len(sums))
	for choice := range sums {
		choices = append(choices, choice)
	}
	sort.Strings(choices)

	var best string
	bestSum := math.Inf(-1)
	for _, choice := range choices {
		if sums[choice] > bestSum {
			best, bestSum = choice, sums[choice]
		}
	}

	result.Decision = best
	if totalWeight > 0 {
		result.ConsensusStrength = bestSum / totalWeight
	}

	result.Suspect = c.detectGroupthink(result)
}

// detectGroupthink flags unanimous-but-shallow agreement.
//
// The rule: flag when consensus strength exceeds the threshold AND the
// minority's mean confidence exceeds the majority's by more than their
// pooled standard deviation. With the tiny
// sample sizes of a swarm vote a formal t-test is meaningless; the
// pooled-stddev gap is the conservative stand-in. An empty minority
// never flags.
func (c *Consensus) detectGroupthink(result *burrow.VoteResult) bool {
	if result.ConsensusStrength <= c.groupthinkThreshold {
		return false
	}

	var majority, minority []float64
	for _, v := range result.Votes {
		if v.Choice == result.Decision {
			majority = append(majority, v.Confidence)
		} else {
			minority = append(minority, v.Confidence)
		}
	}

	if len(minority) == 0 || len(majority) == 0 {
		return false
	}

	majMean, majVar := meanVariance(majority)
	minMean, minVar := meanVariance(minority)

	pooled := pooledStdDev(majVar, minVar, len(majority), len(minority))
	if pooled == 0 {
		// Degenerate spread: fall back to a strict mean comparison
		return minMean > majMean
	}

	return minMean-majMean > pooled
}

// meanVariance returns the sample mean and variance (n-1 denominator;
// variance is 0 for a single observation).
func meanVariance(xs []float64) (mean, variance float64) {
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	if len(xs) < 2 {
		return mean, 0
	}

	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	variance /= float64(len(xs) - 1)
	return mean, variance
}

// pooledStdDev combines two sample variances the usual way. Degenerate
// group sizes (both singletons) pool to zero.
func pooledStdDev(varA, varB float64, nA, nB int) float64 {
	dof := nA + nB - 2
	if dof <= 0 {
		return 0
	}

	pooledVar := (float64(nA-1)*varA + float64(nB-1)*varB) / float64(dof)
	return math.Sqrt(pooledVar)
}
