package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/halvar-l/grabbit/internal/output"
	"github.com/halvar-l/grabbit/internal/utils"
)

func newCleanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean [FILENAME]",
		Short: "Remove leftover fragment temp stores from the temp directory",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			baseName := ""
			if len(args) == 1 {
				baseName = filepath.Base(args[0])
			}
			if err := utils.CleanTempStores(cfg.TempDirectory, baseName); err != nil {
				output.PrintError(fmt.Sprintf("Error cleaning temp stores: %v", err))
				os.Exit(1)
			}
			output.PrintSuccess("Temporary fragment stores cleaned up")
		},
	}
	return cmd
}
