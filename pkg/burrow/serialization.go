package burrow

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Redis stores data as string-to-string maps (hashes). Complex fields like
// the action list are JSON-encoded into single hash fields. This provides a
// balance between queryability (individual fields) and flexibility (complex
// structures).

// TrajectoryToHash converts a Trajectory struct to a Redis hash format.
// The actions array is JSON-encoded; nullable terminal fields are encoded
// as empty strings until set.
func TrajectoryToHash(tr *Trajectory) (map[string]interface{}, error) {
	actionsJSON, err := json.Marshal(tr.Actions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal actions: %w", err)
	}

	hash := map[string]interface{}{
		"id":              tr.ID,
		"topic":           tr.Topic,
		"domain":          tr.Domain,
		"status":          string(tr.Status),
		"started_at_ms":   tr.StartedAtMs,
		"completed_at_ms": tr.CompletedAtMs,
		"actions":         string(actionsJSON),
		"unflushed":       tr.Unflushed,
	}

	if tr.Success != nil {
		hash["success"] = strconv.FormatBool(*tr.Success)
	} else {
		hash["success"] = ""
	}

	if tr.FinalScore != nil {
		hash["final_score"] = strconv.FormatFloat(*tr.FinalScore, 'g', -1, 64)
	} else {
		hash["final_score"] = ""
	}

	return hash, nil
}

// HashToTrajectory converts a Redis hash to a Trajectory struct.
// JSON fields are decoded back to Go types.
func HashToTrajectory(hash map[string]string) (*Trajectory, error) {
	startedAtMs, err := strconv.ParseInt(hash["started_at_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid started_at_ms field: %w", err)
	}

	completedAtMs, _ := strconv.ParseInt(hash["completed_at_ms"], 10, 64)

	var actions []Action
	if actionsJSON := hash["actions"]; actionsJSON != "" {
		if err := json.Unmarshal([]byte(actionsJSON), &actions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal actions: %w", err)
		}
	}

	// Ensure we have an empty slice instead of nil for consistency
	if actions == nil {
		actions = []Action{}
	}

	tr := &Trajectory{
		ID:            hash["id"],
		Topic:         hash["topic"],
		Domain:        hash["domain"],
		Status:        TrajectoryStatus(hash["status"]),
		StartedAtMs:   startedAtMs,
		CompletedAtMs: completedAtMs,
		Actions:       actions,
	}

	if s := hash["success"]; s != "" {
		success, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("invalid success field: %w", err)
		}
		tr.Success = &success
	}

	if s := hash["final_score"]; s != "" {
		finalScore, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid final_score field: %w", err)
		}
		tr.FinalScore = &finalScore
	}

	tr.Unflushed, _ = strconv.ParseBool(hash["unflushed"])

	return tr, nil
}

// snapshotMeta is the JSON-encoded metadata stored alongside the
// per-(agent, domain) snapshot entries.
type snapshotMeta struct {
	TakenAtMs int64    `json:"taken_at_ms"`
	Agents    []Agent  `json:"agents"`
	Inactive  []string `json:"inactive"`
}

// SnapshotToHash converts a RegistrySnapshot's entries into a Redis hash
// keyed by "{agent_id}|{domain}". Because HSET overwrites fields in
// place, writing the same snapshot twice leaves identical state.
func SnapshotToHash(snap *RegistrySnapshot) (map[string]interface{}, error) {
	hash := make(map[string]interface{}, len(snap.Entries))

	for _, entry := range snap.Entries {
		statsJSON, err := json.Marshal(entry.Stats)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal snapshot entry for %s/%s: %w",
				entry.AgentID, entry.Domain, err)
		}
		hash[SnapshotEntryField(entry.AgentID, entry.Domain)] = string(statsJSON)
	}

	return hash, nil
}

// SnapshotMetaJSON encodes the snapshot's agent descriptors, inactive
// set and timestamp for the snapshot_meta key.
func SnapshotMetaJSON(snap *RegistrySnapshot) ([]byte, error) {
	meta := snapshotMeta{
		TakenAtMs: snap.TakenAtMs,
		Agents:    snap.Agents,
		Inactive:  snap.Inactive,
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot meta: %w", err)
	}

	return data, nil
}

// HashToSnapshot rebuilds a RegistrySnapshot from the entry hash and the
// metadata JSON. Entry field names are split on the first '|'; agent IDs
// containing '|' are rejected at registration, not here.
func HashToSnapshot(hash map[string]string, metaJSON []byte) (*RegistrySnapshot, error) {
	snap := &RegistrySnapshot{
		Agents:   []Agent{},
		Inactive: []string{},
		Entries:  make([]SnapshotEntry, 0, len(hash)),
	}

	if len(metaJSON) > 0 {
		var meta snapshotMeta
		if err := json.Unmarshal(metaJSON, &meta); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot meta: %w", err)
		}
		snap.TakenAtMs = meta.TakenAtMs
		if meta.Agents != nil {
			snap.Agents = meta.Agents
		}
		if meta.Inactive != nil {
			snap.Inactive = meta.Inactive
		}
	}

	for field, statsJSON := range hash {
		agentID, domain, ok := splitEntryField(field)
		if !ok {
			return nil, fmt.Errorf("malformed snapshot field: %q", field)
		}

		var stats DomainStats
		if err := json.Unmarshal([]byte(statsJSON), &stats); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot entry %q: %w", field, err)
		}

		snap.Entries = append(snap.Entries, SnapshotEntry{
			AgentID: agentID,
			Domain:  domain,
			Stats:   stats,
		})
	}

	return snap, nil
}

// splitEntryField splits "{agent_id}|{domain}" on the first separator.
func splitEntryField(field string) (agentID, domain string, ok bool) {
	for i := 0; i < len(field); i++ {
		if field[i] == '|' {
			return field[:i], field[i+1:], field[:i] != "" && field[i+1:] != ""
		}
	}
	return "", "", false
}
