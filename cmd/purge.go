package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Removes expired provenance records",
		Long: `Scans the provenance ledger and deletes every record whose trust
window has passed. Safe to run at any time; governed calls re-fetch
purged facts on demand.`,
		RunE: runPurgeCommand,
	}
}

func runPurgeCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	removed, err := a.Ledger.PurgeExpired(cmd.Context())
	if err != nil {
		return fmt.Errorf("purge provenance: %w", err)
	}
	cmd.Printf("removed %d expired provenance records\n", removed)
	return nil
}
