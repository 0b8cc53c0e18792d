// Package trajectory implements the append-only lifecycle log of
// validation sessions. Each trajectory moves Started -> RecordAction* ->
// Completed; completion is terminal and immutable. Recording an action
// forwards the reward to the registry in the same call, so from the
// caller's point of view recording and learning happen atomically:
// either both succeed or the action is not considered recorded.
package trajectory

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/dyluth/warren/internal/registry"
	"github.com/dyluth/warren/pkg/burrow"
)

// Scorer is the external collaborator that produces a reward for one
// pipeline stage. It may call an LLM; Warren treats it as an opaque,
// time-bounded function.
type Scorer interface {
	Score(ctx context.Context, agentID, role, input string) (Outcome, error)
}

// Outcome is what a scorer returns for one stage.
type Outcome struct {
	Success    bool
	Score      float64
	DurationMs int64
	Cost       float64
}

// Recorder owns trajectory records and forwards per-action rewards to
// the registry. Trajectories are independent concurrent units of work:
// each has its own lock, and actions within one trajectory are
// serialized by the caller (each stage depends on the prior stage's
// outcome), not by the recorder.
type Recorder struct {
	registry *registry.Registry
	store    *burrow.Store

	scoreTimeout time.Duration

	mu           sync.RWMutex // guards the trajectories map
	trajectories map[string]*record

	// Durability health is tracked per domain so operator summaries can
	// report degraded durability for one domain without cross-domain
	// noise.
	flushMu      sync.Mutex // guards the durability health fields
	lastFlushErr error
	domainErrs   map[string]error  // domain -> last flush error
	unflushed    map[string]string // trajectory ID -> domain
}

// record pairs a trajectory with its own lock. RecordAction and
// Complete for the same trajectory serialize here; different
// trajectories never contend.
type record struct {
	mu sync.Mutex
	tr burrow.Trajectory
}

// NewRecorder creates a recorder. The store may be shared with other
// components; scoreTimeout bounds every external Scorer call.
func NewRecorder(reg *registry.Registry, store *burrow.Store, scoreTimeout time.Duration) *Recorder {
	if scoreTimeout <= 0 {
		scoreTimeout = 30 * time.Second
	}

	return &Recorder{
		registry:     reg,
		store:        store,
		scoreTimeout: scoreTimeout,
		trajectories: make(map[string]*record),
		domainErrs:   make(map[string]error),
		unflushed:    make(map[string]string),
	}
}

// Start begins a new trajectory and returns its ID.
func (r *Recorder) Start(topic, domain string) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("topic cannot be empty")
	}
	if domain == "" {
		return "", fmt.Errorf("domain cannot be empty")
	}

	tr := burrow.Trajectory{
		ID:          uuid.New().String(),
		Topic:       topic,
		Domain:      domain,
		Status:      burrow.TrajectoryStatusStarted,
		StartedAtMs: burrow.NowMs(),
		Actions:     []burrow.Action{},
	}

	r.mu.Lock()
	r.trajectories[tr.ID] = &record{tr: tr}
	r.mu.Unlock()

	log.Printf("[Recorder] Started trajectory %s (topic=%q domain=%s)", tr.ID, topic, domain)
	return tr.ID, nil
}

// RecordAction appends an action to a trajectory and forwards its score
// as a reward to the registry. Fails with burrow.ErrTrajectoryClosed if
// the trajectory is already completed; in that case the action list is
// left unchanged and no counters move.
func (r *Recorder) RecordAction(trajectoryID string, action burrow.Action) error {
	if err := action.Validate(); err != nil {
		return fmt.Errorf("invalid action: %w", err)
	}

	rec, err := r.record(trajectoryID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.tr.Completed() {
		return fmt.Errorf("%w: %s", burrow.ErrTrajectoryClosed, trajectoryID)
	}

	if action.TimestampMs == 0 {
		action.TimestampMs = burrow.NowMs()
	}

	// Learning first: if the reward cannot be applied (unknown agent),
	// the action is not considered recorded
	if err := r.registry.ApplyReward(action.AgentID, rec.tr.Domain, action.Score); err != nil {
		return fmt.Errorf("failed to apply reward: %w", err)
	}

	rec.tr.Actions = append(rec.tr.Actions, action)
	return nil
}

// RecordScoredAction invokes the external scorer for one stage and, on
// success, records the resulting action. A scorer timeout or error maps
// to burrow.ErrScoringFailed: the action is not recorded and no counter
// is updated, so the caller may retry the stage.
func (r *Recorder) RecordScoredAction(ctx context.Context, trajectoryID, agentID, role, input string, scorer Scorer) (burrow.Action, error) {
	scoreCtx, cancel := context.WithTimeout(ctx, r.scoreTimeout)
	defer cancel()

	outcome, err := scorer.Score(scoreCtx, agentID, role, input)
	if err != nil {
		return burrow.Action{}, fmt.Errorf("%w: agent=%s role=%s: %v", burrow.ErrScoringFailed, agentID, role, err)
	}

	action := burrow.Action{
		AgentID:     agentID,
		Role:        role,
		TimestampMs: burrow.NowMs(),
		Success:     outcome.Success,
		Score:       outcome.Score,
		DurationMs:  outcome.DurationMs,
		Cost:        outcome.Cost,
	}

	if err := r.RecordAction(trajectoryID, action); err != nil {
		return burrow.Action{}, err
	}

	return action, nil
}

// Complete finalizes a trajectory exactly once and flushes it to the
// burrow store. If the flush fails the in-memory state remains Completed
// but flagged unflushed, the ID is pushed onto the recovery queue, and
// durability is retried later - counters already applied per action are
// never rolled back.
func (r *Recorder) Complete(ctx context.Context, trajectoryID string, success bool, finalScore float64) error {
	rec, err := r.record(trajectoryID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.tr.Completed() {
		return fmt.Errorf("%w: %s", burrow.ErrTrajectoryClosed, trajectoryID)
	}

	rec.tr.Status = burrow.TrajectoryStatusCompleted
	rec.tr.CompletedAtMs = burrow.NowMs()
	rec.tr.Success = &success
	rec.tr.FinalScore = &finalScore

	log.Printf("[Recorder] Completed trajectory %s (success=%v score=%.1f, %d actions)",
		trajectoryID, success, finalScore, len(rec.tr.Actions))

	if err := r.flush(ctx, &rec.tr); err != nil {
		rec.tr.Unflushed = true
		r.noteFlushFailure(ctx, trajectoryID, rec.tr.Domain, err)
		return nil // Completion succeeded; durability is degraded, not failed
	}

	rec.tr.Unflushed = false
	return nil
}

// flush writes one trajectory to the store with a short exponential
// backoff. The store write is idempotent, so retrying is always safe.
func (r *Recorder) flush(ctx context.Context, tr *burrow.Trajectory) error {
	policy := backoff.WithContext(flushBackOff(), ctx)

	return backoff.Retry(func() error {
		return r.store.AppendTrajectory(ctx, tr)
	}, policy)
}

// flushBackOff bounds the inline retry to a few seconds; anything that
// stays down longer goes through the recovery queue instead.
func flushBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 1 * time.Second
	b.MaxElapsedTime = 3 * time.Second
	return b
}

// noteFlushFailure records durability degradation and enqueues the
// trajectory for recovery. Both are best effort: if even the queue is
// unreachable the unflushed map still knows about the trajectory.
func (r *Recorder) noteFlushFailure(ctx context.Context, trajectoryID, domain string, cause error) {
	log.Printf("[Recorder] WARN: flush failed for trajectory %s: %v", trajectoryID, cause)

	r.flushMu.Lock()
	r.lastFlushErr = cause
	r.domainErrs[domain] = cause
	r.unflushed[trajectoryID] = domain
	r.flushMu.Unlock()

	if err := r.store.EnqueueUnflushed(ctx, trajectoryID); err != nil {
		log.Printf("[Recorder] WARN: failed to enqueue unflushed trajectory %s: %v", trajectoryID, err)
	}
}

// Retry re-attempts the durability flush for every trajectory flagged
// unflushed. Returns the number successfully flushed. Called by the
// pipeline's recovery loop and the CLI recover command.
func (r *Recorder) Retry(ctx context.Context) (int, error) {
	r.flushMu.Lock()
	pending := make([]string, 0, len(r.unflushed))
	for id := range r.unflushed {
		pending = append(pending, id)
	}
	r.flushMu.Unlock()

	flushed := 0
	for _, id := range pending {
		select {
		case <-ctx.Done():
			return flushed, ctx.Err()
		default:
		}

		rec, err := r.record(id)
		if err != nil {
			continue
		}

		rec.mu.Lock()
		tr := rec.tr
		rec.mu.Unlock()

		if err := r.store.AppendTrajectory(ctx, &tr); err != nil {
			r.flushMu.Lock()
			r.lastFlushErr = err
			r.domainErrs[tr.Domain] = err
			r.flushMu.Unlock()
			continue
		}

		rec.mu.Lock()
		rec.tr.Unflushed = false
		rec.mu.Unlock()

		r.flushMu.Lock()
		delete(r.unflushed, id)
		r.flushMu.Unlock()
		flushed++
	}

	if flushed > 0 {
		log.Printf("[Recorder] Recovered %d unflushed trajectories", flushed)
	}
	return flushed, nil
}

// Get returns a copy of a trajectory's current state.
func (r *Recorder) Get(trajectoryID string) (burrow.Trajectory, error) {
	rec, err := r.record(trajectoryID)
	if err != nil {
		return burrow.Trajectory{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	// Copy the action slice so callers cannot mutate the record
	tr := rec.tr
	tr.Actions = append([]burrow.Action(nil), rec.tr.Actions...)
	return tr, nil
}

// Counts returns (total, open) trajectory counts, optionally filtered by
// domain (empty string means all domains).
func (r *Recorder) Counts(domain string) (total, open int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rec := range r.trajectories {
		rec.mu.Lock()
		match := domain == "" || rec.tr.Domain == domain
		completed := rec.tr.Completed()
		rec.mu.Unlock()

		if !match {
			continue
		}
		total++
		if !completed {
			open++
		}
	}
	return total, open
}

// UnflushedCount returns how many completed trajectories still await a
// durable write, optionally filtered by domain (empty string means all
// domains).
func (r *Recorder) UnflushedCount(domain string) int {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	if domain == "" {
		return len(r.unflushed)
	}

	count := 0
	for _, d := range r.unflushed {
		if d == domain {
			count++
		}
	}
	return count
}

// LastFlushError returns the most recent durability failure for a
// domain, or nil. An empty domain returns the most recent failure
// across all domains.
func (r *Recorder) LastFlushError(domain string) error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	if domain == "" {
		return r.lastFlushErr
	}
	return r.domainErrs[domain]
}

func (r *Recorder) record(trajectoryID string) (*record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.trajectories[trajectoryID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", burrow.ErrTrajectoryNotFound, trajectoryID)
	}

	return rec, nil
}
