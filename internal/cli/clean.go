// clean.go implements the "trellis clean" command for pruning persisted
// session state.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/trellis-dev/trellis/internal/config"
	"github.com/trellis-dev/trellis/internal/store"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove persisted session state",
	Long: `Remove session snapshots from the configured persistence backend.

Use --dry-run to preview what would be removed.`,
	RunE: runClean,
}

var dryRunFlag bool

func init() {
	cleanCmd.Flags().BoolVar(&dryRunFlag, "dry-run", false, "Preview what would be removed without deleting")
}

func runClean(cmd *cobra.Command, args []string) error {
	dir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}

	cfg, err := config.ReadConfig(dir)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if cfg.Persistence.Backend == "" || cfg.Persistence.Backend == "none" {
		fmt.Println("No persistence backend configured; nothing to clean.")
		return nil
	}

	adapter, err := store.OpenAdapter(cmd.Context(), cfg.Persistence.Backend, cfg.Persistence.DSN)
	if err != nil {
		return err
	}
	defer adapter.Close()

	ids, err := adapter.List()
	if err != nil {
		return fmt.Errorf("listing persisted sessions: %w", err)
	}
	if len(ids) == 0 {
		fmt.Println("No persisted sessions to clean up.")
		return nil
	}

	verb := "Removed"
	if dryRunFlag {
		verb = "Would remove"
	}
	for _, id := range ids {
		if !dryRunFlag {
			if _, err := adapter.Delete(id); err != nil {
				return fmt.Errorf("deleting session %s: %w", id, err)
			}
		}
		fmt.Printf("  %s %s\n", verb, id)
	}
	fmt.Printf("\n%s %d session snapshot(s).\n", verb, len(ids))
	return nil
}
