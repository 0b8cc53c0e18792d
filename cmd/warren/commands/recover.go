package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/pkg/burrow"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Inspect and drain the unflushed-recovery queue",
	Long: `Inspect the unflushed-recovery queue and drop entries whose
trajectories have since been durably written.

When a completion flush fails, the host process flags the trajectory
unflushed and pushes its ID here. The process retries the write itself;
this command cleans up queue entries that already made it to the burrow
(the write is idempotent, so a duplicate entry is harmless but noisy).
Entries whose trajectories are still missing are re-queued untouched.`,
	RunE: runRecover,
}

func init() {
	rootCmd.AddCommand(recoverCmd)
}

func runRecover(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	_, store, err := loadConfigAndStore()
	if err != nil {
		return err
	}
	defer store.Close()

	depth, err := store.UnflushedLen(ctx)
	if err != nil {
		return err
	}

	if depth == 0 {
		printer.Success("Recovery queue is empty\n")
		return nil
	}

	printer.Step("Checking %d queued trajectories...\n", depth)

	cleared := 0
	pending := 0
	for i := int64(0); i < depth; i++ {
		id, err := store.DequeueUnflushed(ctx)
		if err != nil {
			if burrow.IsNotFound(err) {
				break
			}
			return err
		}

		_, err = store.LoadTrajectory(ctx, id)
		switch {
		case err == nil:
			// Already durable; the queue entry is stale
			cleared++
		case burrow.IsNotFound(err):
			// Still unflushed: put it back for the host process to retry
			if err := store.EnqueueUnflushed(ctx, id); err != nil {
				return err
			}
			pending++
		default:
			return err
		}
	}

	if pending > 0 {
		printer.Warning("%d trajectories still await the host process flush\n", pending)
	}
	printer.Success("Cleared %d stale queue entries\n", cleared)
	return nil
}
