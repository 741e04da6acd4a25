package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/halvar-l/grabbit/internal/config"
	"github.com/halvar-l/grabbit/internal/engine"
	"github.com/halvar-l/grabbit/internal/output"
	"github.com/halvar-l/grabbit/internal/utils"
)

// highThreadCutoff mirrors the point where extra socket buffer tuning starts
// paying off for many parallel range streams.
const highThreadCutoff = 5

func newDownloadCmd() *cobra.Command {
	var outputPath string
	var noProgress bool
	var style string
	var fragments int
	var jobTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "download [URL] [FILENAME]",
		Short: "Download a file via HTTP/HTTPS using concurrent byte-range fragments",
		Args:  cobra.RangeArgs(1, 2),
		Run: func(cmd *cobra.Command, args []string) {
			link := args[0]

			runCfg := cfg
			if noProgress {
				runCfg.ShowProgress = false
			}
			if style != "" {
				runCfg.ProgressStyle = style
			}
			if fragments > 0 {
				runCfg.MaxConcurrentFragments = fragments
			}
			if err := runCfg.Validate(); err != nil {
				output.PrintError(err.Error())
				os.Exit(engine.ExitCode(err))
			}

			dest, err := resolveDestination(runCfg, link, args, outputPath)
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(engine.ExitCode(engine.NewError(engine.KindDisk, "setup", err)))
			}

			result, err := runDownload(runCfg, link, dest, jobTimeout)
			if err != nil {
				output.PrintError(fmt.Sprintf("Download failed: %v", err))
				os.Exit(engine.ExitCode(err))
			}
			printSummary(dest, result)
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path (overrides output_directory)")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Suppress the progress display")
	cmd.Flags().StringVar(&style, "style", "", "Progress style: inline, full_screen or simple")
	cmd.Flags().IntVarP(&fragments, "connections", "c", 0, "Number of concurrent fragments for this run")
	cmd.Flags().DurationVar(&jobTimeout, "job-timeout", 0, "Overall job deadline (eg. 10m); 0 disables")
	return cmd
}

func resolveDestination(runCfg config.Config, link string, args []string, outputPath string) (string, error) {
	dest := outputPath
	if dest == "" {
		name := utils.InferFileName(link)
		if len(args) == 2 {
			name = args[1]
		}
		dest = filepath.Join(runCfg.OutputDirectory, name)
	}
	if err := utils.EnsureDir(filepath.Dir(dest)); err != nil {
		return "", err
	}
	if _, err := os.Stat(dest); err == nil {
		dest = utils.RenewOutputPath(dest)
	}
	return dest, nil
}

func runDownload(runCfg config.Config, link, dest string, jobTimeout time.Duration) (*engine.Result, error) {
	client := utils.NewHTTPClient(utils.HTTPClientConfig{
		Timeout:        time.Duration(runCfg.Timeout) * time.Second,
		VerifyTLS:      runCfg.VerifySSL,
		HighThreadMode: runCfg.MaxConcurrentFragments > highThreadCutoff,
	})
	var presenter engine.Presenter
	if runCfg.ShowProgress {
		presenter = output.NewPresenter(runCfg.ProgressStyle, os.Stdout)
		if runCfg.ProgressStyle != "simple" {
			// Log lines would tear the in-place redraw.
			utils.SetLogOutput(io.Discard)
			defer utils.InitLogger(debug)
		}
	}
	orchestrator := engine.New(client, engine.Options{
		Fragments:   runCfg.MaxConcurrentFragments,
		Concurrency: runCfg.MaxConcurrentFragments,
		ChunkSize:   runCfg.ChunkSize,
		Retry:       engine.DefaultRetryPolicy(runCfg.RetryAttempts),
		TempDir:     runCfg.TempDirectory,
		JobTimeout:  jobTimeout,
		Presenter:   presenter,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return orchestrator.Run(ctx, link, dest)
}

func printSummary(dest string, result *engine.Result) {
	elapsed := result.Elapsed.Seconds()
	var avg float64
	if elapsed > 0 {
		avg = float64(result.Snapshot.Downloaded) / elapsed
	}
	output.PrintSuccess(fmt.Sprintf("%s Downloaded %s in %.2fs (%s)",
		output.StyleSymbols["pass"], dest, elapsed, utils.FormatSpeed(avg)))
}
