// Package pipeline wires the learning core together and exposes its
// public surface: trajectory lifecycle, bandit selection, tournaments,
// swarm votes, learning summaries and snapshot export/import.
//
// The engine owns no authoritative state of its own. The registry owns
// agent counters, the recorder owns trajectories, and the burrow store
// owns everything durable; the engine just routes between them.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/dyluth/warren/internal/bandit"
	"github.com/dyluth/warren/internal/config"
	"github.com/dyluth/warren/internal/registry"
	"github.com/dyluth/warren/internal/swarm"
	"github.com/dyluth/warren/internal/tournament"
	"github.com/dyluth/warren/internal/trajectory"
	"github.com/dyluth/warren/pkg/burrow"
)

// Engine is the facade over the learning core. One engine serves many
// concurrent validation sessions; all its methods are safe for
// concurrent use.
type Engine struct {
	cfg      *config.WarrenConfig
	store    *burrow.Store
	registry *registry.Registry
	recorder *trajectory.Recorder
	selector *bandit.Selector
	arena    *tournament.Engine
	swarm    *swarm.Consensus
	scorer   trajectory.Scorer
}

// New builds an engine from configuration and external collaborators.
// The roster from warren.yml is registered immediately; learned state is
// warm-started from a stored snapshot when one exists.
func New(cfg *config.WarrenConfig, store *burrow.Store, scorer trajectory.Scorer, judge tournament.Judge, voter swarm.Voter) (*Engine, error) {
	reg := registry.New()

	for id, agentCfg := range cfg.Agents {
		agent := burrow.Agent{
			ID:   id,
			Name: agentCfg.Name,
			Persona: burrow.Persona{
				Emoji:   agentCfg.Persona.Emoji,
				Tagline: agentCfg.Persona.Tagline,
			},
			Traits: burrow.Traits{
				Strictness: agentCfg.Traits.Strictness,
				Creativity: agentCfg.Traits.Creativity,
				Optimism:   agentCfg.Traits.Optimism,
				Verbosity:  agentCfg.Traits.Verbosity,
			},
		}

		if _, err := reg.Register(agent); err != nil {
			return nil, fmt.Errorf("failed to register agent %q: %w", id, err)
		}
	}

	e := &Engine{
		cfg:      cfg,
		store:    store,
		registry: reg,
		recorder: trajectory.NewRecorder(reg, store, 0),
		selector: bandit.New(reg),
		arena: tournament.NewEngine(reg, judge,
			tournament.WithKFactor(*cfg.Tournament.KFactor),
			tournament.WithJudgeTimeout(*cfg.Tournament.JudgeTimeout),
			tournament.WithSwissRounds(swissRounds(cfg)),
		),
		swarm: swarm.New(reg, voter, swarm.Config{
			PerVoterTimeout:     *cfg.Swarm.VoteTimeout,
			QuorumFraction:      *cfg.Swarm.QuorumFraction,
			GroupthinkThreshold: *cfg.Swarm.GroupthinkThreshold,
		}),
		scorer: scorer,
	}

	return e, nil
}

func swissRounds(cfg *config.WarrenConfig) int {
	if cfg.Tournament.SwissRounds != nil {
		return *cfg.Tournament.SwissRounds
	}
	return 0
}

// WarmStart loads the stored registry snapshot, if any. Missing
// snapshots are the normal first-boot case, not an error.
func (e *Engine) WarmStart(ctx context.Context) error {
	snap, err := e.store.ReadSnapshot(ctx)
	if err != nil {
		if burrow.IsNotFound(err) {
			log.Printf("[Pipeline] No stored snapshot, starting cold")
			return nil
		}
		return fmt.Errorf("failed to read snapshot: %w", err)
	}

	if err := e.registry.Restore(snap); err != nil {
		return fmt.Errorf("failed to restore snapshot: %w", err)
	}

	log.Printf("[Pipeline] Warm-started from snapshot taken at %d", snap.TakenAtMs)
	return nil
}

// Registry exposes the agent registry for direct reads (CLI, tests).
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// StartTrajectory begins one validation session.
func (e *Engine) StartTrajectory(topic, domain string) (string, error) {
	return e.recorder.Start(topic, domain)
}

// RecordAction appends an already-scored action to a trajectory and
// applies its reward.
func (e *Engine) RecordAction(trajectoryID string, action burrow.Action) error {
	return e.recorder.RecordAction(trajectoryID, action)
}

// CompleteTrajectory finalizes a session and flushes it to the burrow.
func (e *Engine) CompleteTrajectory(ctx context.Context, trajectoryID string, success bool, finalScore float64) error {
	return e.recorder.Complete(ctx, trajectoryID, success, finalScore)
}

// GetTrajectory returns a copy of a trajectory's current state.
func (e *Engine) GetTrajectory(trajectoryID string) (burrow.Trajectory, error) {
	return e.recorder.Get(trajectoryID)
}

// SelectAgent picks the agent for one pipeline stage using UCB1 over
// the domain's counters. Selection does not mutate any counter.
func (e *Engine) SelectAgent(role, domain string, candidates []string, forcedAgentID string) (string, error) {
	return e.selector.Select(role, domain, candidates, *e.cfg.Bandit.ExplorationConstant, forcedAgentID)
}

// SelectAndScore is the common per-stage step: select an agent, invoke
// the external scorer, and record the outcome into the trajectory. A
// scoring failure leaves all statistics untouched so the caller can
// retry the stage.
func (e *Engine) SelectAndScore(ctx context.Context, trajectoryID, role, input string, candidates []string) (string, burrow.Action, error) {
	tr, err := e.recorder.Get(trajectoryID)
	if err != nil {
		return "", burrow.Action{}, err
	}

	agentID, err := e.SelectAgent(role, tr.Domain, candidates, "")
	if err != nil {
		return "", burrow.Action{}, err
	}

	action, err := e.recorder.RecordScoredAction(ctx, trajectoryID, agentID, role, input, e.scorer)
	if err != nil {
		return agentID, burrow.Action{}, err
	}

	return agentID, action, nil
}

// RegisterAgent adds an agent to the registry at runtime.
func (e *Engine) RegisterAgent(agent burrow.Agent) (string, error) {
	return e.registry.Register(agent)
}

// CreateCustomAgent builds and registers a validated custom agent.
// Trait values are clamped into [0,1].
func (e *Engine) CreateCustomAgent(name string, persona burrow.Persona, traits burrow.Traits) (string, error) {
	return e.registry.CreateCustomAgent(name, persona, traits)
}

// RunTournament runs a competition and applies rating deltas.
func (e *Engine) RunTournament(ctx context.Context, format burrow.TournamentFormat, domain, task string, participants []string) (*burrow.TournamentMatch, error) {
	return e.arena.Run(ctx, format, domain, task, participants)
}

// RunVote gathers a weighted swarm decision.
func (e *Engine) RunVote(ctx context.Context, domain, question string, candidates []string) (*burrow.VoteResult, error) {
	return e.swarm.RunVote(ctx, domain, question, candidates)
}

// GetLearningSummary reports learning progress and durability health.
// An empty domain summarizes trajectory counts across all domains;
// per-agent stats are keyed by domain, so they are included only when a
// domain is given.
func (e *Engine) GetLearningSummary(domain string) burrow.LearningSummary {
	total, open := e.recorder.Counts(domain)

	summary := burrow.LearningSummary{
		Domain:            domain,
		TotalTrajectories: total,
		OpenTrajectories:  open,
		UnflushedCount:    e.recorder.UnflushedCount(domain),
	}

	if err := e.recorder.LastFlushError(domain); err != nil {
		summary.LastFlushError = err.Error()
	}

	if domain == "" {
		return summary
	}

	for _, agent := range e.registry.AllAgents() {
		stats, err := e.registry.GetStats(agent.ID, domain)
		if err != nil {
			continue
		}

		summary.PerAgent = append(summary.PerAgent, burrow.AgentSummary{
			AgentID:   agent.ID,
			Name:      agent.Name,
			Active:    e.registry.IsActive(agent.ID),
			Stats:     stats,
			AvgReward: stats.AvgReward(),
		})
	}

	return summary
}

// ExportSnapshot takes a consistent registry snapshot and persists it.
func (e *Engine) ExportSnapshot(ctx context.Context) (*burrow.RegistrySnapshot, error) {
	snap := e.registry.Snapshot()

	if err := e.store.WriteSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to persist snapshot: %w", err)
	}

	log.Printf("[Pipeline] Exported snapshot: %d entries", len(snap.Entries))
	return snap, nil
}

// ImportSnapshot restores learned state from the stored snapshot.
// Importing the same snapshot twice is idempotent.
func (e *Engine) ImportSnapshot(ctx context.Context) error {
	snap, err := e.store.ReadSnapshot(ctx)
	if err != nil {
		if burrow.IsNotFound(err) {
			return fmt.Errorf("no snapshot stored for instance %q", e.store.InstanceName())
		}
		return err
	}

	return e.registry.Restore(snap)
}

// RunRecovery periodically retries unflushed trajectory writes until the
// context ends. Intended to run as a background goroutine alongside
// normal operation; one failing trajectory never blocks the others.
func (e *Engine) RunRecovery(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.recorder.UnflushedCount("") == 0 {
				continue
			}
			if _, err := e.recorder.Retry(ctx); err != nil {
				log.Printf("[Pipeline] Recovery pass aborted: %v", err)
			}
		}
	}
}

// RetryUnflushed runs one recovery pass and returns how many
// trajectories were flushed.
func (e *Engine) RetryUnflushed(ctx context.Context) (int, error) {
	return e.recorder.Retry(ctx)
}
