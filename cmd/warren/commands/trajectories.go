package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/dyluth/warren/pkg/burrow"
)

var trajectoriesOutput string

var trajectoriesCmd = &cobra.Command{
	Use:   "trajectories [TRAJECTORY_ID]",
	Short: "Inspect persisted trajectories",
	Long: `Inspect persisted validation trajectories in list or get mode.

List Mode (no TRAJECTORY_ID):
  Displays an overview of all flushed trajectories as a table or JSONL.

Get Mode (with TRAJECTORY_ID):
  Displays complete details of a single trajectory, including its
  ordered action list, as pretty-printed JSON.

Examples:
  # List all trajectories in table format
  warren trajectories

  # Stream as JSONL for processing
  warren trajectories --output=jsonl | jq 'select(.success==false)'

  # Full details of one trajectory
  warren trajectories 550e8400-e29b-41d4-a716-446655440000`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTrajectories,
}

func init() {
	trajectoriesCmd.Flags().StringVarP(&trajectoriesOutput, "output", "o", "default", "Output format: default or jsonl (list mode only)")
	rootCmd.AddCommand(trajectoriesCmd)
}

func runTrajectories(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, store, err := loadConfigAndStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if len(args) == 1 {
		return printTrajectory(ctx, store, args[0])
	}

	ids, err := store.ListTrajectoryIDs(ctx)
	if err != nil {
		return err
	}
	sort.Strings(ids)

	trajectories := make([]*burrow.Trajectory, 0, len(ids))
	for _, id := range ids {
		tr, err := store.LoadTrajectory(ctx, id)
		if err != nil {
			if burrow.IsNotFound(err) {
				continue
			}
			return err
		}
		trajectories = append(trajectories, tr)
	}

	if trajectoriesOutput == "jsonl" {
		enc := json.NewEncoder(os.Stdout)
		for _, tr := range trajectories {
			if err := enc.Encode(tr); err != nil {
				return fmt.Errorf("failed to encode trajectory: %w", err)
			}
		}
		return nil
	}

	if len(trajectories) == 0 {
		fmt.Printf("No trajectories found for instance '%s'\n", cfg.Instance)
		return nil
	}

	fmt.Printf("Trajectories for instance '%s':\n\n", cfg.Instance)
	fmt.Printf("%-10s %-14s %-24s %-8s %-7s %s\n", "ID", "DOMAIN", "TOPIC", "ACTIONS", "SCORE", "STATUS")
	fmt.Printf("%-10s %-14s %-24s %-8s %-7s %s\n", "----------", "--------------", "------------------------", "--------", "-------", "----------")

	for _, tr := range trajectories {
		fmt.Printf("%-10s %-14s %-24s %-8d %-7s %s\n",
			shorten(tr.ID, 10),
			shorten(tr.Domain, 14),
			shorten(tr.Topic, 24),
			len(tr.Actions),
			formatScore(tr.FinalScore),
			formatStatus(tr),
		)
	}

	countMsg := "trajectory"
	if len(trajectories) != 1 {
		countMsg = "trajectories"
	}
	fmt.Printf("\n%d %s found\n", len(trajectories), countMsg)
	return nil
}

func printTrajectory(ctx context.Context, store *burrow.Store, id string) error {
	tr, err := store.LoadTrajectory(ctx, id)
	if err != nil {
		if burrow.IsNotFound(err) {
			return fmt.Errorf("trajectory not found: %s", id)
		}
		return err
	}

	data, err := json.MarshalIndent(tr, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal trajectory: %w", err)
	}

	fmt.Println(string(data))
	return nil
}

func shorten(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}

func formatScore(score *float64) string {
	if score == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *score)
}

func formatStatus(tr *burrow.Trajectory) string {
	if !tr.Completed() {
		return "open"
	}
	if tr.Success != nil && *tr.Success {
		return "success"
	}
	return "failed"
}
