package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/halvar-l/grabbit/internal/engine"
	"github.com/halvar-l/grabbit/internal/output"
)

type BatchEntry struct {
	Link       string `yaml:"link"`
	OutputPath string `yaml:"op,omitempty"`
}

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [YAML_FILE]",
		Short: "Download multiple files listed in a YAML file, one after another",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			data, err := os.ReadFile(args[0])
			if err != nil {
				output.PrintError(fmt.Sprintf("Error reading batch file: %v", err))
				os.Exit(1)
			}
			var entries []BatchEntry
			if err := yaml.Unmarshal(data, &entries); err != nil {
				output.PrintError(fmt.Sprintf("Error parsing batch file: %v", err))
				os.Exit(1)
			}
			if len(entries) == 0 {
				output.PrintError("No entries found in the batch file")
				os.Exit(1)
			}

			failures := 0
			for i, entry := range entries {
				if entry.Link == "" {
					output.PrintWarning(fmt.Sprintf("Entry %d has no link, skipping", i+1))
					continue
				}
				output.PrintInfo(fmt.Sprintf("[%d/%d] %s", i+1, len(entries), entry.Link))
				dest, err := resolveDestination(cfg, entry.Link, []string{entry.Link}, entry.OutputPath)
				if err != nil {
					output.PrintError(err.Error())
					failures++
					continue
				}
				result, err := runDownload(cfg, entry.Link, dest, 0)
				if err != nil {
					output.PrintError(fmt.Sprintf("Download failed: %v", err))
					failures++
					continue
				}
				printSummary(dest, result)
			}
			if failures > 0 {
				output.PrintError(fmt.Sprintf("%d of %d downloads failed", failures, len(entries)))
				os.Exit(engine.ExitFragmentFailure)
			}
		},
	}
	return cmd
}
