package commands

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/dyluth/warren/pkg/burrow"
)

var agentsDomain string

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the agent roster with learned statistics",
	Long: `List every agent in the roster together with its learned statistics
from the stored registry snapshot.

Without --domain, shows the static roster (ID, name, persona). With
--domain, adds that domain's pulls, average reward and rating per agent.

Statistics come from the last exported snapshot; run 'warren snapshot
export' in the host process (or via its API) to refresh them.`,
	RunE: runAgents,
}

func init() {
	agentsCmd.Flags().StringVarP(&agentsDomain, "domain", "d", "", "Show learned statistics for this domain")
	rootCmd.AddCommand(agentsCmd)
}

func runAgents(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, store, err := loadConfigAndStore()
	if err != nil {
		return err
	}
	defer store.Close()

	snap, err := store.ReadSnapshot(ctx)
	if err != nil && !burrow.IsNotFound(err) {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}

	// Index snapshot entries by (agent, domain) for the stats columns
	stats := make(map[string]burrow.DomainStats)
	inactive := make(map[string]bool)
	if snap != nil {
		for _, entry := range snap.Entries {
			if entry.Domain == agentsDomain {
				stats[entry.AgentID] = entry.Stats
			}
		}
		for _, id := range snap.Inactive {
			inactive[id] = true
		}
	}

	ids := make([]string, 0, len(cfg.Agents))
	for id := range cfg.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Printf("Agents for instance '%s':\n\n", cfg.Instance)

	if agentsDomain == "" {
		fmt.Printf("%-16s %-20s %-6s %s\n", "ID", "NAME", "ACTIVE", "PERSONA")
		fmt.Printf("%-16s %-20s %-6s %s\n", "----------------", "--------------------", "------", "--------------------")
		for _, id := range ids {
			a := cfg.Agents[id]
			persona := a.Persona.Emoji
			if a.Persona.Tagline != "" {
				persona = fmt.Sprintf("%s %s", a.Persona.Emoji, a.Persona.Tagline)
			}
			fmt.Printf("%-16s %-20s %-6v %s\n", id, a.Name, !inactive[id], persona)
		}
	} else {
		fmt.Printf("Domain: %s\n\n", agentsDomain)
		fmt.Printf("%-16s %-20s %-7s %-10s %s\n", "ID", "NAME", "PULLS", "AVG", "RATING")
		fmt.Printf("%-16s %-20s %-7s %-10s %s\n", "----------------", "--------------------", "-------", "----------", "--------")
		for _, id := range ids {
			a := cfg.Agents[id]
			st, seen := stats[id]
			if !seen {
				st = burrow.DomainStats{Rating: burrow.DefaultRating}
			}
			fmt.Printf("%-16s %-20s %-7d %-10.2f %.1f\n", id, a.Name, st.Pulls, st.AvgReward(), st.Rating)
		}
	}

	countMsg := "agent"
	if len(ids) != 1 {
		countMsg = "agents"
	}
	fmt.Printf("\n%d %s in roster\n", len(ids), countMsg)
	return nil
}
