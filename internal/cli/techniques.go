// techniques.go implements the "trellis techniques" command.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trellis-dev/trellis/internal/technique"
)

var techniquesCmd = &cobra.Command{
	Use:   "techniques",
	Short: "List available thinking techniques",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("  %-20s %-6s %s\n", "TECHNIQUE", "STEPS", "KIND")
		for _, info := range technique.All() {
			fmt.Printf("  %-20s %-6d %s\n", info.Name, info.Steps, info.Kind)
		}
		return nil
	},
}
