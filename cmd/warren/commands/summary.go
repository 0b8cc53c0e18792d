package commands

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/dyluth/warren/pkg/burrow"
)

var summaryDomain string

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show learning progress and durability health",
	Long: `Show an operator summary of the instance: flushed trajectory counts,
unflushed-queue depth, and (with --domain) per-agent learned statistics
for one domain.

Durability degradation shows up here as a non-zero unflushed count:
the host process keeps learning in memory and retries the queue, but
until it drains, those trajectories exist only in process memory.`,
	RunE: runSummary,
}

func init() {
	summaryCmd.Flags().StringVarP(&summaryDomain, "domain", "d", "", "Per-agent statistics for this domain")
	rootCmd.AddCommand(summaryCmd)
}

func runSummary(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, store, err := loadConfigAndStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ids, err := store.ListTrajectoryIDs(ctx)
	if err != nil {
		return err
	}

	unflushed, err := store.UnflushedLen(ctx)
	if err != nil {
		return err
	}

	completed := 0
	succeeded := 0
	byDomain := make(map[string]int)
	for _, id := range ids {
		tr, err := store.LoadTrajectory(ctx, id)
		if err != nil {
			if burrow.IsNotFound(err) {
				continue
			}
			return err
		}
		if summaryDomain != "" && tr.Domain != summaryDomain {
			continue
		}
		byDomain[tr.Domain]++
		if tr.Completed() {
			completed++
			if tr.Success != nil && *tr.Success {
				succeeded++
			}
		}
	}

	fmt.Printf("Learning summary for instance '%s'", cfg.Instance)
	if summaryDomain != "" {
		fmt.Printf(" (domain: %s)", summaryDomain)
	}
	fmt.Printf("\n\n")

	fmt.Printf("  Flushed trajectories: %d (%d succeeded)\n", completed, succeeded)
	fmt.Printf("  Unflushed queue:      %d\n", unflushed)

	if summaryDomain == "" && len(byDomain) > 0 {
		domains := make([]string, 0, len(byDomain))
		for d := range byDomain {
			domains = append(domains, d)
		}
		sort.Strings(domains)

		fmt.Printf("\n  By domain:\n")
		for _, d := range domains {
			fmt.Printf("    %-20s %d\n", d, byDomain[d])
		}
	}

	if summaryDomain != "" {
		snap, err := store.ReadSnapshot(ctx)
		if err != nil && !burrow.IsNotFound(err) {
			return err
		}

		if snap != nil {
			type row struct {
				agentID string
				stats   burrow.DomainStats
			}
			var rows []row
			for _, entry := range snap.Entries {
				if entry.Domain == summaryDomain {
					rows = append(rows, row{agentID: entry.AgentID, stats: entry.Stats})
				}
			}
			sort.Slice(rows, func(i, j int) bool { return rows[i].stats.Rating > rows[j].stats.Rating })

			if len(rows) > 0 {
				fmt.Printf("\n  %-16s %-7s %-10s %s\n", "AGENT", "PULLS", "AVG", "RATING")
				for _, r := range rows {
					fmt.Printf("  %-16s %-7d %-10.2f %.1f\n", r.agentID, r.stats.Pulls, r.stats.AvgReward(), r.stats.Rating)
				}
			}
		}
	}

	return nil
}
