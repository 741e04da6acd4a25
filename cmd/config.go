package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/halvar-l/grabbit/internal/engine"
	"github.com/halvar-l/grabbit/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View or change configuration",
		Run: func(cmd *cobra.Command, args []string) {
			printConfig()
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Run: func(cmd *cobra.Command, args []string) {
			printConfig()
		},
	}

	var save bool
	setCmd := &cobra.Command{
		Use:   "set [KEY] [VALUE]",
		Short: "Set a configuration value (use --save to persist)",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			if err := cfg.Set(args[0], args[1]); err != nil {
				output.PrintError(err.Error())
				os.Exit(engine.ExitCode(err))
			}
			if save {
				if err := cfg.Save(configPath); err != nil {
					output.PrintError(err.Error())
					os.Exit(engine.ExitCode(err))
				}
				output.PrintSuccess(fmt.Sprintf("Configuration saved to %s", configPath))
			}
			printConfig()
		},
	}
	setCmd.Flags().BoolVar(&save, "save", false, "Persist the change to the config file")

	cmd.AddCommand(showCmd)
	cmd.AddCommand(setCmd)
	return cmd
}

func printConfig() {
	output.PrintHeader("Grabbit Configuration")
	output.PrintDetail(fmt.Sprintf("  max_concurrent_fragments %s %d", output.StyleSymbols["arrow"], cfg.MaxConcurrentFragments))
	output.PrintDetail(fmt.Sprintf("  chunk_size               %s %d", output.StyleSymbols["arrow"], cfg.ChunkSize))
	output.PrintDetail(fmt.Sprintf("  timeout                  %s %ds", output.StyleSymbols["arrow"], cfg.Timeout))
	output.PrintDetail(fmt.Sprintf("  retry_attempts           %s %d", output.StyleSymbols["arrow"], cfg.RetryAttempts))
	output.PrintDetail(fmt.Sprintf("  output_directory         %s %s", output.StyleSymbols["arrow"], cfg.OutputDirectory))
	output.PrintDetail(fmt.Sprintf("  temp_directory           %s %s", output.StyleSymbols["arrow"], cfg.TempDirectory))
	output.PrintDetail(fmt.Sprintf("  verify_ssl               %s %t", output.StyleSymbols["arrow"], cfg.VerifySSL))
	output.PrintDetail(fmt.Sprintf("  show_progress            %s %t", output.StyleSymbols["arrow"], cfg.ShowProgress))
	output.PrintDetail(fmt.Sprintf("  progress_style           %s %s", output.StyleSymbols["arrow"], cfg.ProgressStyle))
}
