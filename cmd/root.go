package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/halvar-l/grabbit/internal/config"
	"github.com/halvar-l/grabbit/internal/engine"
	"github.com/halvar-l/grabbit/internal/utils"
)

var (
	debug      bool
	configPath string
	cfg        config.Config
)

var GrabbitVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "grabbit",
	Short:   "Grabbit downloads large files fast by fetching byte ranges concurrently",
	Version: GrabbitVersion,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		utils.InitLogger(debug)
		if configPath == "" {
			configPath = config.DefaultPath()
		}
		loaded, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(engine.ExitCode(err))
		}
		cfg = loaded
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the JSON config file (default ~/.grabbit.json)")

	rootCmd.AddCommand(newDownloadCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newCleanCmd())
}
