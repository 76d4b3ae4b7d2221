// status.go implements the "trellis status" command summarizing the event log.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/trellis-dev/trellis/internal/log"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize recent orchestration activity",
	Long: `Display a summary of the local event log: sessions, executed
steps, parallel groups, and any deadlock or barrier warnings.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	dir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}

	logger, err := log.NewLogger(dir)
	if err != nil {
		return err
	}
	events, err := logger.ReadAll()
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return fmt.Errorf("no activity recorded; start the server with: trellis serve")
	}

	var plans, sessions, steps, waiting, failed, completed int
	groups := make(map[string]bool)
	var warnings []string
	for _, ev := range events {
		switch ev.Event {
		case log.EventPlanCreated:
			plans++
		case log.EventSessionCreated:
			sessions++
		case log.EventStepExecuted:
			steps++
		case log.EventStepWaiting:
			waiting++
		case log.EventStepFailed:
			failed++
		case log.EventSessionComplete:
			completed++
		case log.EventGroupCreated:
			groups[ev.GroupID] = true
		case log.EventDeadlockSuspect:
			warnings = append(warnings, fmt.Sprintf("deadlock suspected in group %s", ev.GroupID))
		case log.EventBarrierDetected:
			warnings = append(warnings, fmt.Sprintf("absorbing barrier on session %s", ev.SessionID))
		}
	}

	fmt.Println("Trellis Status")
	fmt.Println()
	fmt.Printf("  Plans:              %d\n", plans)
	fmt.Printf("  Sessions created:   %d\n", sessions)
	fmt.Printf("  Sessions completed: %d\n", completed)
	fmt.Printf("  Steps executed:     %d\n", steps)
	fmt.Printf("  Steps waited:       %d\n", waiting)
	fmt.Printf("  Steps failed:       %d\n", failed)
	fmt.Printf("  Parallel groups:    %d\n", len(groups))
	if len(warnings) > 0 {
		fmt.Println()
		for _, warning := range warnings {
			fmt.Printf("  ! %s\n", warning)
		}
	}
	return nil
}
