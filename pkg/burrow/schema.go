package burrow

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by instance name to
// enable multiple Warren instances to safely coexist on a single Redis
// server.
//
// Key pattern: warren:{instance_name}:{entity}:{id}
// Channel pattern: warren:{instance_name}:{event_type}_events

// TrajectoryKey returns the Redis key for a trajectory hash.
// Pattern: warren:{instance_name}:trajectory:{trajectory_id}
func TrajectoryKey(instanceName, trajectoryID string) string {
	return fmt.Sprintf("warren:%s:trajectory:%s", instanceName, trajectoryID)
}

// TrajectoryIndexKey returns the Redis key for the set of all trajectory
// IDs known to an instance. Enables listing without a key scan.
// Pattern: warren:{instance_name}:trajectories
func TrajectoryIndexKey(instanceName string) string {
	return fmt.Sprintf("warren:%s:trajectories", instanceName)
}

// SnapshotKey returns the Redis key for the registry snapshot hash.
// The hash is keyed by "{agent_id}|{domain}" so that writing the same
// snapshot twice is idempotent (last write wins per key).
// Pattern: warren:{instance_name}:snapshot
func SnapshotKey(instanceName string) string {
	return fmt.Sprintf("warren:%s:snapshot", instanceName)
}

// SnapshotMetaKey returns the Redis key for snapshot metadata
// (agent descriptors, inactive set, taken-at timestamp).
// Pattern: warren:{instance_name}:snapshot_meta
func SnapshotMetaKey(instanceName string) string {
	return fmt.Sprintf("warren:%s:snapshot_meta", instanceName)
}

// UnflushedQueueKey returns the Redis key for the recovery queue of
// trajectory IDs that completed but failed their durability flush.
// Pattern: warren:{instance_name}:unflushed
func UnflushedQueueKey(instanceName string) string {
	return fmt.Sprintf("warren:%s:unflushed", instanceName)
}

// SnapshotEntryField returns the snapshot hash field for one
// (agent, domain) key.
func SnapshotEntryField(agentID, domain string) string {
	return fmt.Sprintf("%s|%s", agentID, domain)
}

// TrajectoryEventsChannel returns the Pub/Sub channel name for
// trajectory lifecycle events.
// Pattern: warren:{instance_name}:trajectory_events
func TrajectoryEventsChannel(instanceName string) string {
	return fmt.Sprintf("warren:%s:trajectory_events", instanceName)
}
