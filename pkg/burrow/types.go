package burrow

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultRating is the ELO-style rating assigned to an (agent, domain)
// pair that has never played a match. Cold-start stats returned by the
// registry carry this rating.
const DefaultRating = 1000.0

// Agent describes one selectable strategy in the validation pipeline.
// Identity and traits are immutable after registration; the learned
// per-domain statistics live in the registry, not here.
type Agent struct {
	ID      string  `json:"id"`      // Stable identifier, unique within a registry
	Name    string  `json:"name"`    // Display name (cosmetic)
	Persona Persona `json:"persona"` // Flavor only - never read by selection, tournaments or votes
	Traits  Traits  `json:"traits"`  // Behavioral dials in [0,1], validated at registration
}

// Persona is purely cosmetic display metadata. It is kept structurally
// separate from Traits so that nothing in the scoring path can reach it.
type Persona struct {
	Emoji   string `json:"emoji,omitempty"`
	Tagline string `json:"tagline,omitempty"`
}

// Traits are the behavioral dials of an agent. Every field must be in
// [0,1]; registration fails with ErrInvalidTraits otherwise.
type Traits struct {
	Strictness float64 `json:"strictness"`
	Creativity float64 `json:"creativity"`
	Optimism   float64 `json:"optimism"`
	Verbosity  float64 `json:"verbosity"`
}

// DomainStats is the learned state for one (agent, domain) pair.
// Pulls and CumulativeReward only ever increase; Rating moves in both
// directions but only through completed matches or a snapshot import.
type DomainStats struct {
	Pulls            int64   `json:"pulls"`
	CumulativeReward float64 `json:"cumulative_reward"`
	Rating           float64 `json:"rating"`
}

// AvgReward returns the mean observed reward, or 0 for an untried pair.
func (s DomainStats) AvgReward() float64 {
	if s.Pulls == 0 {
		return 0
	}
	return s.CumulativeReward / float64(s.Pulls)
}

// TrajectoryStatus is the lifecycle state of a trajectory.
type TrajectoryStatus string

const (
	// TrajectoryStatusStarted indicates the trajectory is accepting actions
	TrajectoryStatusStarted TrajectoryStatus = "started"

	// TrajectoryStatusCompleted is the immutable terminal state
	TrajectoryStatusCompleted TrajectoryStatus = "completed"
)

// Trajectory is the append-only record of one validation session.
// Terminal fields (CompletedAtMs, Success, FinalScore) are set exactly
// once by completion; a completed trajectory is immutable.
type Trajectory struct {
	ID            string           `json:"id"`     // UUID
	Topic         string           `json:"topic"`  // What is being validated
	Domain        string           `json:"domain"` // Learning domain the counters are keyed by
	Status        TrajectoryStatus `json:"status"`
	StartedAtMs   int64            `json:"started_at_ms"`
	CompletedAtMs int64            `json:"completed_at_ms,omitempty"` // 0 until completed
	Success       *bool            `json:"success,omitempty"`         // nil until completed
	FinalScore    *float64         `json:"final_score,omitempty"`     // nil until completed
	Actions       []Action         `json:"actions"`
	Unflushed     bool             `json:"unflushed,omitempty"` // Completed but not yet durably written
}

// Action is one pipeline-stage outcome within a trajectory.
// Immutable once appended.
type Action struct {
	AgentID     string  `json:"agent_id"`
	Role        string  `json:"role"` // Pipeline stage, e.g. "risk_assessment"
	TimestampMs int64   `json:"timestamp_ms"`
	Success     bool    `json:"success"`
	Score       float64 `json:"score"` // Domain-defined scale, typically 0-100
	DurationMs  int64   `json:"duration_ms"`
	Cost        float64 `json:"cost"`
}

// TournamentFormat selects the competition structure used by the
// tournament engine.
type TournamentFormat string

const (
	// FormatFreeForAll scores every participant once against the same task
	FormatFreeForAll TournamentFormat = "free-for-all"

	// FormatSingleElimination pairs by seed and removes losers each round
	FormatSingleElimination TournamentFormat = "single-elimination"

	// FormatRoundRobin plays every pair once
	FormatRoundRobin TournamentFormat = "round-robin"

	// FormatSwiss pairs by similar running score for a fixed number of rounds
	FormatSwiss TournamentFormat = "swiss"

	// FormatMultiStage runs a configured sequence of the other formats
	FormatMultiStage TournamentFormat = "multi-stage"
)

// PairResult is the outcome of one pairwise comparison inside a
// tournament. An inconclusive pairing carries zero deltas for both
// sides and is excluded from ranking-by-wins.
type PairResult struct {
	Round        int     `json:"round"` // 1-based round number
	AgentA       string  `json:"agent_a"`
	AgentB       string  `json:"agent_b"`
	Winner       string  `json:"winner,omitempty"` // Empty for a draw or inconclusive pairing
	Draw         bool    `json:"draw,omitempty"`
	Inconclusive bool    `json:"inconclusive,omitempty"`
	DeltaA       float64 `json:"delta_a"`
	DeltaB       float64 `json:"delta_b"`
}

// TournamentMatch is the full result of one tournament run.
// Invariant: for every conclusive pairing, DeltaA + DeltaB == 0, so the
// per-agent RatingDeltas always sum to zero across the match.
type TournamentMatch struct {
	Format       TournamentFormat   `json:"format"`
	Domain       string             `json:"domain"`
	Task         string             `json:"task"`
	Participants []string           `json:"participants"` // In supplied order
	Ranking      []string           `json:"ranking"`      // Best first
	Scores       map[string]float64 `json:"scores"`       // Judge scores (FFA) or win counts (other formats)
	RatingDeltas map[string]float64 `json:"rating_deltas"`
	Pairs        []PairResult       `json:"pairs"`
	Inconclusive int                `json:"inconclusive"` // Count of pairings excluded from ranking
}

// Vote is one agent's weighted ballot in a swarm consensus run.
type Vote struct {
	AgentID    string  `json:"agent_id"`
	Weight     float64 `json:"weight"` // Derived from domain expertise, > 0
	Choice     string  `json:"choice"`
	Confidence float64 `json:"confidence"` // [0,1]
}

// VoteResult is the outcome of one swarm consensus run.
// Suspect signals groupthink: near-unanimous agreement where the
// dissenting minority was markedly more confident than the majority.
// The decision stands, but callers should seek additional review.
type VoteResult struct {
	Domain            string  `json:"domain"`
	Question          string  `json:"question"`
	Decision          string  `json:"decision"`
	ConsensusStrength float64 `json:"consensus_strength"` // Winning weighted confidence / total received weight
	Votes             []Vote  `json:"votes"`              // Votes received before the deadline, arrival order
	Dispatched        int     `json:"dispatched"`         // How many agents were asked
	Suspect           bool    `json:"suspect,omitempty"`
}

// SnapshotEntry is the learned state for one (agent, domain) key inside
// a registry snapshot.
type SnapshotEntry struct {
	AgentID string      `json:"agent_id"`
	Domain  string      `json:"domain"`
	Stats   DomainStats `json:"stats"`
}

// RegistrySnapshot is a consistent point-in-time export of the registry.
// Entries are keyed by (agent id, domain), so re-importing the same
// snapshot is idempotent: last write wins per key, never additive.
type RegistrySnapshot struct {
	TakenAtMs int64           `json:"taken_at_ms"`
	Agents    []Agent         `json:"agents"`   // Static descriptors
	Inactive  []string        `json:"inactive"` // Agent IDs excluded from selection
	Entries   []SnapshotEntry `json:"entries"`
}

// AgentSummary is one row of a learning summary.
type AgentSummary struct {
	AgentID   string      `json:"agent_id"`
	Name      string      `json:"name"`
	Active    bool        `json:"active"`
	Stats     DomainStats `json:"stats"`
	AvgReward float64     `json:"avg_reward"`
}

// LearningSummary is the operator-facing view of learning progress and
// durability health for one domain (or all domains combined).
type LearningSummary struct {
	Domain            string         `json:"domain,omitempty"` // Empty means all domains
	TotalTrajectories int            `json:"total_trajectories"`
	OpenTrajectories  int            `json:"open_trajectories"`
	UnflushedCount    int            `json:"unflushed_count"`
	LastFlushError    string         `json:"last_flush_error,omitempty"`
	PerAgent          []AgentSummary `json:"per_agent"`
}

// NowMs returns the current time as Unix milliseconds, the timestamp
// convention used throughout the burrow schema.
func NowMs() int64 {
	return time.Now().UnixMilli()
}

// Validate checks if the Agent has valid field values.
// Returns an error if any validation fails.
func (a *Agent) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("agent ID cannot be empty")
	}

	if a.Name == "" {
		return fmt.Errorf("agent name cannot be empty")
	}

	if err := a.Traits.Validate(); err != nil {
		return fmt.Errorf("invalid traits for agent %q: %w", a.ID, err)
	}

	return nil
}

// Validate checks that every trait is within [0,1].
func (t Traits) Validate() error {
	fields := []struct {
		name  string
		value float64
	}{
		{"strictness", t.Strictness},
		{"creativity", t.Creativity},
		{"optimism", t.Optimism},
		{"verbosity", t.Verbosity},
	}

	for _, f := range fields {
		if f.value < 0 || f.value > 1 {
			return fmt.Errorf("trait %s must be in [0,1], got %g", f.name, f.value)
		}
	}

	return nil
}

// Clamp returns a copy of the traits with every field forced into [0,1].
// Used by the custom-agent builder before validation.
func (t Traits) Clamp() Traits {
	clamp := func(v float64) float64 {
		if v < 0 {
			return 0
		}
		if v > 1 {
			return 1
		}
		return v
	}

	return Traits{
		Strictness: clamp(t.Strictness),
		Creativity: clamp(t.Creativity),
		Optimism:   clamp(t.Optimism),
		Verbosity:  clamp(t.Verbosity),
	}
}

// Validate checks if the Trajectory has valid field values.
func (tr *Trajectory) Validate() error {
	if !isValidUUID(tr.ID) {
		return fmt.Errorf("invalid trajectory ID: not a valid UUID")
	}

	if tr.Topic == "" {
		return fmt.Errorf("trajectory topic cannot be empty")
	}

	if tr.Domain == "" {
		return fmt.Errorf("trajectory domain cannot be empty")
	}

	if err := tr.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}

	// Terminal fields are all-or-nothing
	if tr.Status == TrajectoryStatusCompleted {
		if tr.CompletedAtMs == 0 || tr.Success == nil || tr.FinalScore == nil {
			return fmt.Errorf("completed trajectory missing terminal fields")
		}
	} else {
		if tr.CompletedAtMs != 0 || tr.Success != nil || tr.FinalScore != nil {
			return fmt.Errorf("open trajectory has terminal fields set")
		}
	}

	for i := range tr.Actions {
		if err := tr.Actions[i].Validate(); err != nil {
			return fmt.Errorf("invalid action at index %d: %w", i, err)
		}
	}

	return nil
}

// Validate checks if the TrajectoryStatus is a valid enum value.
func (ts TrajectoryStatus) Validate() error {
	switch ts {
	case TrajectoryStatusStarted, TrajectoryStatusCompleted:
		return nil
	default:
		return fmt.Errorf("unknown trajectory status: %q", ts)
	}
}

// Completed reports whether the trajectory is in its terminal state.
func (tr *Trajectory) Completed() bool {
	return tr.Status == TrajectoryStatusCompleted
}

// Validate checks if the Action has valid field values.
func (a *Action) Validate() error {
	if a.AgentID == "" {
		return fmt.Errorf("action agent_id cannot be empty")
	}

	if a.Role == "" {
		return fmt.Errorf("action role cannot be empty")
	}

	if a.Score < 0 {
		return fmt.Errorf("action score must be >= 0, got %g", a.Score)
	}

	if a.DurationMs < 0 {
		return fmt.Errorf("action duration_ms must be >= 0, got %d", a.DurationMs)
	}

	return nil
}

// Validate checks if the TournamentFormat is a valid enum value.
func (f TournamentFormat) Validate() error {
	switch f {
	case FormatFreeForAll, FormatSingleElimination, FormatRoundRobin,
		FormatSwiss, FormatMultiStage:
		return nil
	default:
		return fmt.Errorf("unknown tournament format: %q", f)
	}
}

// Validate checks if the Vote has valid field values.
func (v *Vote) Validate() error {
	if v.AgentID == "" {
		return fmt.Errorf("vote agent_id cannot be empty")
	}

	if v.Weight <= 0 {
		return fmt.Errorf("vote weight must be > 0, got %g", v.Weight)
	}

	if v.Choice == "" {
		return fmt.Errorf("vote choice cannot be empty")
	}

	if v.Confidence < 0 || v.Confidence > 1 {
		return fmt.Errorf("vote confidence must be in [0,1], got %g", v.Confidence)
	}

	return nil
}

// isValidUUID checks if a string is a valid UUID format.
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
