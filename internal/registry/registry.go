// Package registry owns the catalog of selectable agents and their
// per-domain learned statistics. It is the single writer of those
// counters: the bandit, the tournament engine and the swarm all read
// agent state from here and push updates back through ApplyReward and
// ApplyRatingDelta.
//
// Locking is striped per (agent, domain) so that concurrent trajectories
// touching unrelated keys never block each other. The registry-wide
// RWMutex only guards map membership; Snapshot takes it exclusively for
// a brief moment to get a consistent point-in-time copy.
package registry

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/dyluth/warren/pkg/burrow"
)

// Registry is the authoritative owner of agent records and their
// per-domain counters. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex // guards the agents map and each entry's membership fields
	agents map[string]*agentEntry
}

// agentEntry holds one agent's static descriptor, eligibility flag and
// per-domain counters. The counters map is guarded by the entry mutex;
// each counter has its own lock so updates to different domains of the
// same agent do not serialize.
type agentEntry struct {
	agent  burrow.Agent
	active bool

	mu      sync.Mutex // guards the domains map membership
	domains map[string]*domainCounters
}

// domainCounters is the mutable learned state for one (agent, domain)
// key. All read-modify-write operations hold mu, making ApplyReward and
// ApplyRatingDelta atomic per key.
type domainCounters struct {
	mu    sync.Mutex
	stats burrow.DomainStats
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		agents: make(map[string]*agentEntry),
	}
}

// Register adds an agent to the registry. The agent is active and
// eligible for selection immediately.
//
// Fails with burrow.ErrDuplicateAgent if the ID is already present and
// burrow.ErrInvalidTraits if any trait is outside [0,1].
func (r *Registry) Register(agent burrow.Agent) (string, error) {
	if err := agent.Traits.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", burrow.ErrInvalidTraits, err)
	}

	if err := agent.Validate(); err != nil {
		return "", fmt.Errorf("invalid agent: %w", err)
	}

	// The snapshot hash encodes keys as "{agent_id}|{domain}"
	if strings.Contains(agent.ID, "|") {
		return "", fmt.Errorf("invalid agent: ID must not contain '|', got %q", agent.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[agent.ID]; exists {
		return "", fmt.Errorf("%w: %s", burrow.ErrDuplicateAgent, agent.ID)
	}

	r.agents[agent.ID] = &agentEntry{
		agent:   agent,
		active:  true,
		domains: make(map[string]*domainCounters),
	}

	log.Printf("[Registry] Registered agent %s (%s)", agent.ID, agent.Name)
	return agent.ID, nil
}

// CreateCustomAgent builds and registers an agent at runtime. Trait
// values are clamped into [0,1] before validation, and the ID is
// generated. Returns the new agent's ID.
func (r *Registry) CreateCustomAgent(name string, persona burrow.Persona, traits burrow.Traits) (string, error) {
	agent := burrow.Agent{
		ID:      uuid.New().String(),
		Name:    name,
		Persona: persona,
		Traits:  traits.Clamp(),
	}

	return r.Register(agent)
}

// Get returns the static descriptor for an agent.
// Fails with burrow.ErrAgentNotFound for unknown IDs.
func (r *Registry) Get(agentID string) (burrow.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.agents[agentID]
	if !exists {
		return burrow.Agent{}, fmt.Errorf("%w: %s", burrow.ErrAgentNotFound, agentID)
	}

	return entry.agent, nil
}

// GetStats returns the learned statistics for an (agent, domain) pair.
// A pair that has never been seen returns cold-start stats (zero pulls,
// zero reward, the default rating) - this is not an error.
//
// Fails with burrow.ErrAgentNotFound only if the agent itself is unknown.
func (r *Registry) GetStats(agentID, domain string) (burrow.DomainStats, error) {
	r.mu.RLock()
	entry, exists := r.agents[agentID]
	r.mu.RUnlock()

	if !exists {
		return burrow.DomainStats{}, fmt.Errorf("%w: %s", burrow.ErrAgentNotFound, agentID)
	}

	entry.mu.Lock()
	counters, seen := entry.domains[domain]
	entry.mu.Unlock()

	if !seen {
		// Cold start: the pair exists logically, it just has no history yet
		return burrow.DomainStats{Rating: burrow.DefaultRating}, nil
	}

	counters.mu.Lock()
	defer counters.mu.Unlock()
	return counters.stats, nil
}

// ApplyReward atomically increments pulls by 1 and cumulative reward by
// reward for the (agent, domain) key. Safe under concurrent callers for
// the same key.
func (r *Registry) ApplyReward(agentID, domain string, reward float64) error {
	if reward < 0 {
		return fmt.Errorf("reward must be >= 0, got %g", reward)
	}

	// Hold the registry read lock across the whole update so that
	// Snapshot's exclusive lock excludes in-flight writes. Readers
	// share the lock, so unrelated keys still update concurrently.
	r.mu.RLock()
	defer r.mu.RUnlock()

	counters, err := r.counters(agentID, domain)
	if err != nil {
		return err
	}

	counters.mu.Lock()
	counters.stats.Pulls++
	counters.stats.CumulativeReward += reward
	counters.mu.Unlock()

	return nil
}

// ApplyRatingDelta atomically adds delta to the (agent, domain) rating.
// Deltas come from resolved tournament matches or calibration imports;
// nothing else moves a rating.
func (r *Registry) ApplyRatingDelta(agentID, domain string, delta float64) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counters, err := r.counters(agentID, domain)
	if err != nil {
		return err
	}

	counters.mu.Lock()
	counters.stats.Rating += delta
	counters.mu.Unlock()

	return nil
}

// counters returns the domainCounters for a key, creating it lazily.
// Creation initializes the rating to the default so cold pairs behave
// identically whether or not they have been materialized.
// Callers must hold r.mu (shared is enough).
func (r *Registry) counters(agentID, domain string) (*domainCounters, error) {
	if domain == "" {
		return nil, fmt.Errorf("domain cannot be empty")
	}

	entry, exists := r.agents[agentID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", burrow.ErrAgentNotFound, agentID)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	counters, seen := entry.domains[domain]
	if !seen {
		counters = &domainCounters{
			stats: burrow.DomainStats{Rating: burrow.DefaultRating},
		}
		entry.domains[domain] = counters
	}

	return counters, nil
}

// Deactivate excludes an agent from future selection. History is
// retained; agents are never deleted.
func (r *Registry) Deactivate(agentID string) error {
	return r.setActive(agentID, false)
}

// Reactivate restores a deactivated agent's eligibility.
func (r *Registry) Reactivate(agentID string) error {
	return r.setActive(agentID, true)
}

func (r *Registry) setActive(agentID string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.agents[agentID]
	if !exists {
		return fmt.Errorf("%w: %s", burrow.ErrAgentNotFound, agentID)
	}

	entry.active = active
	log.Printf("[Registry] Agent %s active=%v", agentID, active)
	return nil
}

// IsActive reports whether an agent is eligible for selection.
// Unknown agents are reported inactive.
func (r *Registry) IsActive(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.agents[agentID]
	return exists && entry.active
}

// AllAgents returns every registered agent's descriptor, sorted by ID
// for deterministic output.
func (r *Registry) AllAgents() []burrow.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agents := make([]burrow.Agent, 0, len(r.agents))
	for _, entry := range r.agents {
		agents = append(agents, entry.agent)
	}

	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return agents
}

// ActiveAgentIDs returns the IDs of all active agents, sorted.
func (r *Registry) ActiveAgentIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.agents))
	for id, entry := range r.agents {
		if entry.active {
			ids = append(ids, id)
		}
	}

	sort.Strings(ids)
	return ids
}

// Snapshot takes a consistent point-in-time copy of the full registry
// state. The exclusive lock excludes all writers (every counter write
// holds the registry read lock), so the export can never contain a torn
// write.
func (r *Registry) Snapshot() *burrow.RegistrySnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := &burrow.RegistrySnapshot{
		TakenAtMs: burrow.NowMs(),
		Agents:    make([]burrow.Agent, 0, len(r.agents)),
		Inactive:  []string{},
		Entries:   []burrow.SnapshotEntry{},
	}

	for id, entry := range r.agents {
		snap.Agents = append(snap.Agents, entry.agent)
		if !entry.active {
			snap.Inactive = append(snap.Inactive, id)
		}

		for domain, counters := range entry.domains {
			snap.Entries = append(snap.Entries, burrow.SnapshotEntry{
				AgentID: id,
				Domain:  domain,
				Stats:   counters.stats,
			})
		}
	}

	// Deterministic ordering for stable exports and tests
	sort.Slice(snap.Agents, func(i, j int) bool { return snap.Agents[i].ID < snap.Agents[j].ID })
	sort.Strings(snap.Inactive)
	sort.Slice(snap.Entries, func(i, j int) bool {
		if snap.Entries[i].AgentID != snap.Entries[j].AgentID {
			return snap.Entries[i].AgentID < snap.Entries[j].AgentID
		}
		return snap.Entries[i].Domain < snap.Entries[j].Domain
	})

	return snap
}

// Restore imports a snapshot. Agents missing from the registry are
// registered from the snapshot's descriptors; counters are overwritten
// per (agent, domain) key, last write wins, so importing the same
// snapshot twice produces identical state to importing it once.
func (r *Registry) Restore(snap *burrow.RegistrySnapshot) error {
	if snap == nil {
		return fmt.Errorf("snapshot cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, agent := range snap.Agents {
		if _, exists := r.agents[agent.ID]; exists {
			continue
		}
		if err := agent.Validate(); err != nil {
			return fmt.Errorf("snapshot contains invalid agent %q: %w", agent.ID, err)
		}
		r.agents[agent.ID] = &agentEntry{
			agent:   agent,
			active:  true,
			domains: make(map[string]*domainCounters),
		}
	}

	for _, entry := range snap.Entries {
		agentEntry, exists := r.agents[entry.AgentID]
		if !exists {
			return fmt.Errorf("snapshot entry references unknown agent %q", entry.AgentID)
		}

		agentEntry.domains[entry.Domain] = &domainCounters{stats: entry.Stats}
	}

	inactive := make(map[string]bool, len(snap.Inactive))
	for _, id := range snap.Inactive {
		inactive[id] = true
	}
	for id, entry := range r.agents {
		if inactive[id] {
			entry.active = false
		}
	}

	log.Printf("[Registry] Restored snapshot: %d agents, %d entries", len(snap.Agents), len(snap.Entries))
	return nil
}
