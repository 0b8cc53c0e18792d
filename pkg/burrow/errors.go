package burrow

import "errors"

// Error taxonomy shared across the learning core. Every error here is
// recoverable from the caller's point of view: nothing in Warren is
// fatal to the process, and a persistent failure in one trajectory
// never blocks unrelated trajectories.
var (
	// ErrDuplicateAgent is returned when registering an agent whose ID
	// is already present in the registry.
	ErrDuplicateAgent = errors.New("agent already registered")

	// ErrInvalidTraits is returned when an agent's traits fall outside [0,1].
	ErrInvalidTraits = errors.New("agent traits out of range")

	// ErrAgentNotFound is returned when an operation names an unknown agent.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrTrajectoryNotFound is returned when an operation names an
	// unknown trajectory.
	ErrTrajectoryNotFound = errors.New("trajectory not found")

	// ErrTrajectoryClosed is returned when recording or completing a
	// trajectory that is already in its terminal state.
	ErrTrajectoryClosed = errors.New("trajectory already completed")

	// ErrScoringFailed is returned when the external scorer times out or
	// errors. The action is not recorded and no counters are updated, so
	// the caller may retry the stage without corrupting statistics.
	ErrScoringFailed = errors.New("scoring failed")

	// ErrInconclusive marks a tournament pairing whose judge call timed
	// out or errored. The pairing's deltas are zero for both sides and it
	// is excluded from ranking-by-wins.
	ErrInconclusive = errors.New("judge comparison inconclusive")

	// ErrNoQuorum is returned when fewer than the required fraction of
	// dispatched agents voted within the deadline. Callers may retry
	// with a relaxed threshold.
	ErrNoQuorum = errors.New("quorum not reached")

	// ErrNoCandidates is returned when selection or a group decision is
	// asked to choose among zero active agents.
	ErrNoCandidates = errors.New("no active candidate agents")

	// ErrPersistenceUnavailable indicates the burrow store could not be
	// reached. Durability is degraded but in-memory learning continues;
	// affected trajectories are flagged unflushed and retried.
	ErrPersistenceUnavailable = errors.New("persistence unavailable")

	// ErrCancelled is returned when a caller-supplied cancellation signal
	// stopped an in-flight tournament or vote. Partial results accompany
	// it; already-applied counter updates are not rolled back.
	ErrCancelled = errors.New("cancelled")
)
