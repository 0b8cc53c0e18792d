package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/pkg/burrow"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Export or import the learned-state snapshot",
}

var snapshotExportCmd = &cobra.Command{
	Use:   "export [FILE]",
	Short: "Write the stored registry snapshot to a file or stdout",
	Long: `Write the instance's stored registry snapshot as JSON.

With a FILE argument the snapshot is written there; without one it goes
to stdout. Snapshots are keyed by (agent, domain), so a file exported
here can be imported into any instance - importing twice is idempotent.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSnapshotExport,
}

var snapshotImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Load a snapshot file into the instance's burrow",
	Long: `Load a snapshot JSON file into the instance's burrow, where the host
process picks it up on its next warm start or explicit import.

The write is keyed by (agent, domain): last write wins per key, so
re-importing the same file leaves identical state.`,
	Args: cobra.ExactArgs(1),
	RunE: runSnapshotImport,
}

func init() {
	snapshotCmd.AddCommand(snapshotExportCmd)
	snapshotCmd.AddCommand(snapshotImportCmd)
	rootCmd.AddCommand(snapshotCmd)
}

func runSnapshotExport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, store, err := loadConfigAndStore()
	if err != nil {
		return err
	}
	defer store.Close()

	snap, err := store.ReadSnapshot(ctx)
	if err != nil {
		if burrow.IsNotFound(err) {
			return printer.Error(
				"No snapshot stored",
				fmt.Sprintf("Instance '%s' has never exported its learned state.", cfg.Instance),
				[]string{"Trigger a snapshot export from the host process first"},
			)
		}
		return err
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if len(args) == 0 {
		fmt.Println(string(data))
		return nil
	}

	if err := os.WriteFile(args[0], data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}

	printer.Success("Exported snapshot (%d entries) to %s\n", len(snap.Entries), args[0])
	return nil
}

func runSnapshotImport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	_, store, err := loadConfigAndStore()
	if err != nil {
		return err
	}
	defer store.Close()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read snapshot file: %w", err)
	}

	var snap burrow.RegistrySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to parse snapshot file: %w", err)
	}

	if err := store.WriteSnapshot(ctx, &snap); err != nil {
		return err
	}

	printer.Success("Imported snapshot (%d entries) into instance '%s'\n", len(snap.Entries), store.InstanceName())
	return nil
}
