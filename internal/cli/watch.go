// watch.go implements the "trellis watch" command: a live progress view
// over a running server's parallel group.
package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/trellis-dev/trellis/internal/progress"
	"github.com/trellis-dev/trellis/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:   "watch <group-id>",
	Short: "Watch a parallel group's progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

var watchAddrFlag string

func init() {
	watchCmd.Flags().StringVar(&watchAddrFlag, "addr", "127.0.0.1:7420", "Server address")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	groupID := args[0]
	url := fmt.Sprintf("http://%s/progress", watchAddrFlag)

	display := ui.NewProgressDisplay(groupID)
	display.Start()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		gp, err := fetchProgress(url, groupID)
		if err != nil {
			return err
		}
		for id, u := range gp.Sessions {
			display.AddSession(id, u.Technique, u.TotalSteps, nil)
			display.UpdateSession(id, displayStatus(u.Status), u.CurrentStep)
		}
		if done(gp) {
			display.Finish()
			if gp.Deadlocked {
				return fmt.Errorf("group %s is deadlocked", groupID)
			}
			return nil
		}

		select {
		case <-cmd.Context().Done():
			display.Finish()
			return nil
		case <-ticker.C:
		}
	}
}

func fetchProgress(url, groupID string) (*progress.GroupProgress, error) {
	body, err := json.Marshal(map[string]string{"groupId": groupID})
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("querying server: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %s", resp.Status)
	}
	var wrapped struct {
		Progress progress.GroupProgress `json:"progress"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wrapped); err != nil {
		return nil, fmt.Errorf("decoding progress: %w", err)
	}
	return &wrapped.Progress, nil
}

func displayStatus(s progress.Status) ui.SessionStatus {
	switch s {
	case progress.StatusCompleted:
		return ui.StatusCompleted
	case progress.StatusFailed:
		return ui.StatusFailed
	case progress.StatusInProgress:
		return ui.StatusExecuting
	default:
		return ui.StatusWaiting
	}
}

// done reports whether every session reached a terminal state, or the
// group is flagged as deadlocked.
func done(gp *progress.GroupProgress) bool {
	if gp.Deadlocked {
		return true
	}
	if len(gp.Sessions) == 0 {
		return false
	}
	for _, u := range gp.Sessions {
		if u.Status != progress.StatusCompleted && u.Status != progress.StatusFailed {
			return false
		}
	}
	return true
}
