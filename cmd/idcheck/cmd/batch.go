package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/idcheck/internal/batch"
	"github.com/MeKo-Tech/idcheck/internal/pipeline"
)

// exitError carries a process exit status through cobra.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

// batchCmd verifies every entry of a manifest in parallel.
var batchCmd = &cobra.Command{
	Use:   "batch manifest.yaml",
	Short: "Verify many identity cards listed in a YAML manifest",
	Long: `Verify every entry of a YAML manifest with a bounded pool of workers.

The manifest is a list of entries (or a mapping with an "entries" key):

  - image: scans/john.jpg
    name: John Andrew Smith
    dob: 05/03/1999
    id_number: "2345 6789 0123"

Relative image paths are resolved against the manifest's directory. Results
are written in manifest order as JSON lines (default) or a JSON array.

Examples:
  idcheck batch manifest.yaml
  idcheck batch manifest.yaml --workers 8 --format json --output results.json
  idcheck batch manifest.yaml --fail-on-mismatch --stats`,
	Args: cobra.ExactArgs(1),
	RunE: runBatchCommand,
}

func runBatchCommand(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	outputFile := cfg.Output.File
	if cmd.Flags().Changed("output") {
		outputFile, _ = cmd.Flags().GetString("output")
	}
	classify, _ := cmd.Flags().GetBool("classify")
	showProgress, _ := cmd.Flags().GetBool("progress")
	showStats, _ := cmd.Flags().GetBool("stats")

	manifest, err := batch.LoadManifest(args[0])
	if err != nil {
		return err
	}

	p, err := buildPipeline(cfg, classify, nil)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	progress := batchProgress(cmd.ErrOrStderr(), slog.Default(), showProgress, cfg.Verbose)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := batch.NewRunner(p, batch.Config{Workers: cfg.Batch.Workers, Classify: classify, Progress: progress})
	report, runErr := runner.Run(ctx, manifest.Entries)
	if report == nil {
		return runErr
	}

	var out io.Writer = cmd.OutOrStdout()
	if outputFile != "" {
		f, err := os.Create(outputFile) //nolint:gosec // output path is user input
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer func() { _ = f.Close() }()
		out = f
	}
	if err := report.Write(out, cfg.Batch.Format); err != nil {
		return err
	}

	summary := report.Summary()
	if showStats {
		summary.PrintSummary(cmd.ErrOrStderr(), report.Workers)
	}
	if runErr != nil {
		return fmt.Errorf("batch interrupted: %w", runErr)
	}
	if cfg.Batch.FailOnMismatch && !report.AllVerified() {
		return &exitError{code: 1, msg: fmt.Sprintf("%d of %d entries did not verify",
			summary.Total-summary.Verified, summary.Total)}
	}
	return nil
}

// batchProgress combines the console bar with debug-level progress logging
// when verbose. It returns nil when neither is wanted.
func batchProgress(w io.Writer, logger *slog.Logger, bar, verbose bool) pipeline.ProgressCallback {
	var callbacks []pipeline.ProgressCallback
	if bar {
		callbacks = append(callbacks, pipeline.NewConsoleProgressCallback(w, "Verifying: "))
	}
	if verbose {
		callbacks = append(callbacks, pipeline.NewLogProgressCallback(logger, slog.LevelDebug, "batch: "))
	}
	switch len(callbacks) {
	case 0:
		return nil
	case 1:
		return callbacks[0]
	}
	return pipeline.NewMultiProgressCallback(callbacks...)
}

func init() {
	rootCmd.AddCommand(batchCmd)

	f := batchCmd.Flags()
	f.IntP("workers", "w", 2, "number of parallel workers")
	f.String("batch-format", "jsonl", "result format: jsonl or json")
	f.StringP("output", "o", "", "write results to a file instead of stdout")
	f.Bool("fail-on-mismatch", false, "exit with status 1 unless every entry verifies")
	f.Bool("classify", false, "also run the document classifier")
	f.Bool("progress", false, "show a progress bar on stderr")
	f.Bool("stats", false, "print batch statistics on stderr")

	bindFlags(batchCmd, []flagBinding{
		{"batch.workers", "workers"},
		{"batch.format", "batch-format"},
		{"batch.fail_on_mismatch", "fail-on-mismatch"},
	})
}
