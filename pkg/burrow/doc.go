// Package burrow provides type-safe Go definitions and Redis schema patterns
// for the Warren learning core.
//
// # Overview
//
// The burrow is the durable side of Warren: the place where completed
// trajectories, registry snapshots and the unflushed-recovery queue live.
// All in-memory learning (bandit counters, ratings, vote weights) happens
// in internal/registry; the burrow only ever sees finished records, so a
// Redis outage degrades durability without pausing learning.
//
// # Core Concepts
//
// Agents are the selectable strategies of the validation pipeline. Each
// agent carries immutable identity and traits plus per-domain learned
// statistics (pulls, cumulative reward, ELO-style rating). Persona fields
// are cosmetic only and never feed into selection or scoring.
//
// Trajectories are append-only records of one validation session: an
// ordered sequence of actions, finalized exactly once by completion.
// A completed trajectory is immutable.
//
// Snapshots are full exports of the registry's learned state, keyed by
// (agent id, domain) so that importing the same snapshot twice is
// idempotent.
//
// # Multi-Instance Support
//
// All Redis keys and Pub/Sub channels are namespaced by instance name to
// enable multiple Warren instances to safely coexist on a single Redis
// server. Each instance has complete isolation of its data and events.
//
// # Redis Schema
//
// All Redis keys follow the pattern: warren:{instance_name}:{entity}:{id}
//
// Trajectories: warren:{instance_name}:trajectory:{trajectory_id}
// Trajectory index: warren:{instance_name}:trajectories
// Snapshot: warren:{instance_name}:snapshot
// Unflushed queue: warren:{instance_name}:unflushed
//
// Pub/Sub channels: warren:{instance_name}:trajectory_events
package burrow
