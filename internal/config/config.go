// Package config loads and validates warren.yml, the roster and tuning
// file for a Warren instance.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// WarrenConfig represents the top-level warren.yml configuration.
type WarrenConfig struct {
	Version    string                 `yaml:"version"`
	Instance   string                 `yaml:"instance"` // Namespace for all burrow keys
	Redis      RedisConfig            `yaml:"redis"`
	Agents     map[string]AgentConfig `yaml:"agents"`
	Bandit     BanditConfig           `yaml:"bandit,omitempty"`
	Tournament TournamentConfig       `yaml:"tournament,omitempty"`
	Swarm      SwarmConfig            `yaml:"swarm,omitempty"`
}

// RedisConfig specifies the burrow store connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"` // Default localhost:6379
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// AgentConfig represents a single agent in the roster. The map key is
// the agent's stable ID.
type AgentConfig struct {
	Name    string        `yaml:"name"`
	Persona PersonaConfig `yaml:"persona,omitempty"` // Cosmetic only
	Traits  TraitsConfig  `yaml:"traits"`
}

// PersonaConfig is cosmetic display metadata.
type PersonaConfig struct {
	Emoji   string `yaml:"emoji,omitempty"`
	Tagline string `yaml:"tagline,omitempty"`
}

// TraitsConfig holds the behavioral dials, each required to be in [0,1].
type TraitsConfig struct {
	Strictness float64 `yaml:"strictness"`
	Creativity float64 `yaml:"creativity"`
	Optimism   float64 `yaml:"optimism"`
	Verbosity  float64 `yaml:"verbosity"`
}

// BanditConfig tunes UCB1 selection.
type BanditConfig struct {
	ExplorationConstant *float64 `yaml:"exploration_constant,omitempty"` // Default 1.4
}

// TournamentConfig tunes the tournament engine.
type TournamentConfig struct {
	KFactor      *float64       `yaml:"k_factor,omitempty"`      // Default 32
	JudgeTimeout *time.Duration `yaml:"judge_timeout,omitempty"` // Default 30s
	SwissRounds  *int           `yaml:"swiss_rounds,omitempty"`  // Default ceil(log2(N))
}

// SwarmConfig tunes swarm consensus votes.
type SwarmConfig struct {
	QuorumFraction      *float64       `yaml:"quorum_fraction,omitempty"`      // Default 0.6
	VoteTimeout         *time.Duration `yaml:"vote_timeout,omitempty"`         // Default 5s
	GroupthinkThreshold *float64       `yaml:"groupthink_threshold,omitempty"` // Default 0.9
}

// Validate performs strict validation on the configuration and applies
// defaults in place.
func (c *WarrenConfig) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Instance == "" {
		c.Instance = "default"
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}

	// Required: at least one agent
	if len(c.Agents) == 0 {
		return fmt.Errorf("no agents defined")
	}

	for id, agent := range c.Agents {
		if err := agent.Validate(id); err != nil {
			return err
		}
	}

	if c.Bandit.ExplorationConstant == nil {
		def := 1.4
		c.Bandit.ExplorationConstant = &def
	} else if *c.Bandit.ExplorationConstant < 0 {
		return fmt.Errorf("bandit.exploration_constant must be >= 0, got %g", *c.Bandit.ExplorationConstant)
	}

	if c.Tournament.KFactor == nil {
		def := 32.0
		c.Tournament.KFactor = &def
	} else if *c.Tournament.KFactor <= 0 {
		return fmt.Errorf("tournament.k_factor must be > 0, got %g", *c.Tournament.KFactor)
	}

	if c.Tournament.JudgeTimeout == nil {
		def := 30 * time.Second
		c.Tournament.JudgeTimeout = &def
	} else if *c.Tournament.JudgeTimeout <= 0 {
		return fmt.Errorf("tournament.judge_timeout must be > 0, got %v", *c.Tournament.JudgeTimeout)
	}

	if c.Tournament.SwissRounds != nil && *c.Tournament.SwissRounds < 1 {
		return fmt.Errorf("tournament.swiss_rounds must be >= 1, got %d", *c.Tournament.SwissRounds)
	}

	if c.Swarm.QuorumFraction == nil {
		def := 0.6
		c.Swarm.QuorumFraction = &def
	} else if *c.Swarm.QuorumFraction <= 0 || *c.Swarm.QuorumFraction > 1 {
		return fmt.Errorf("swarm.quorum_fraction must be in (0,1], got %g", *c.Swarm.QuorumFraction)
	}

	if c.Swarm.VoteTimeout == nil {
		def := 5 * time.Second
		c.Swarm.VoteTimeout = &def
	} else if *c.Swarm.VoteTimeout <= 0 {
		return fmt.Errorf("swarm.vote_timeout must be > 0, got %v", *c.Swarm.VoteTimeout)
	}

	if c.Swarm.GroupthinkThreshold == nil {
		def := 0.9
		c.Swarm.GroupthinkThreshold = &def
	} else if *c.Swarm.GroupthinkThreshold <= 0 || *c.Swarm.GroupthinkThreshold > 1 {
		return fmt.Errorf("swarm.groupthink_threshold must be in (0,1], got %g", *c.Swarm.GroupthinkThreshold)
	}

	return nil
}

// Validate performs validation on a single agent configuration.
func (a *AgentConfig) Validate(id string) error {
	if id == "" {
		return fmt.Errorf("agent ID cannot be empty")
	}

	if a.Name == "" {
		return fmt.Errorf("agent '%s': name is required", id)
	}

	traits := []struct {
		name  string
		value float64
	}{
		{"strictness", a.Traits.Strictness},
		{"creativity", a.Traits.Creativity},
		{"optimism", a.Traits.Optimism},
		{"verbosity", a.Traits.Verbosity},
	}
	for _, t := range traits {
		if t.value < 0 || t.value > 1 {
			return fmt.Errorf("agent '%s': trait %s must be in [0,1], got %g", id, t.name, t.value)
		}
	}

	return nil
}

// Load reads and validates warren.yml from the specified path.
func Load(path string) (*WarrenConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config WarrenConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
