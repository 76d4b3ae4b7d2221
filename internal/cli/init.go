// init.go implements the "trellis init" command.
package cli

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trellis-dev/trellis/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize trellis in the current project",
	Long: `Initialize the .trellis/ directory with a default configuration
file. Existing configuration is only overwritten after confirmation.`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	dir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}

	trellisDir := filepath.Join(dir, ".trellis")
	if info, statErr := os.Stat(trellisDir); statErr == nil && info.IsDir() {
		fmt.Println("Warning: .trellis/ directory already exists.")
		fmt.Print("Reinitialize? [y/N]: ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		answer = strings.TrimSpace(strings.ToLower(answer))
		if answer != "y" && answer != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	if err := config.WriteConfig(dir, config.DefaultConfig()); err != nil {
		return err
	}

	fmt.Println("Initialized .trellis/ with default configuration.")
	fmt.Println("Next: trellis serve")
	return nil
}
