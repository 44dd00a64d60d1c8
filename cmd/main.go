package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"cardbatch/internal/app"
	"cardbatch/internal/checkpoint"
	"cardbatch/internal/config"
	"cardbatch/internal/jobs"
	"cardbatch/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configFile string

// exitError carries a non-zero exit code out of a command
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

var rootCmd = &cobra.Command{
	Use:           "cardbatch",
	Short:         "Restartable fixed-width batch report jobs",
	Long:          `Runs control-break report jobs over key-ordered fixed-width card files with chunked checkpoints, so an interrupted run resumes where its last commit left off.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run [job...]",
	Short: "Run the named jobs, or every configured job",
	RunE:  runJobs,
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List the built-in jobs",
	Args:  cobra.NoArgs,
	RunE:  listJobs,
}

var statusCmd = &cobra.Command{
	Use:   "status job...",
	Short: "Show the checkpoint of each named job",
	Args:  cobra.MinimumNArgs(1),
	RunE:  showStatus,
}

var resetCmd = &cobra.Command{
	Use:   "reset job...",
	Short: "Clear job checkpoints so the next run starts from the beginning",
	Args:  cobra.MinimumNArgs(1),
	RunE:  resetJobs,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug/info/warn/error)")
	rootCmd.PersistentFlags().String("checkpoint-driver", "sqlite", "Checkpoint store (sqlite/file)")
	rootCmd.PersistentFlags().String("checkpoint", "./checkpoint.db", "Checkpoint database file or directory")

	// Runtime flags
	runCmd.Flags().Int("concurrency", 4, "Number of jobs run at once")
	runCmd.Flags().String("output-dir", "./out", "Directory for default output paths")
	runCmd.Flags().String("metrics-addr", "", "Serve prometheus metrics on this address")
	runCmd.Flags().Bool("show-progress", true, "Log progress periodically")
	runCmd.Flags().Int("progress-interval-ms", 5000, "Progress log interval in milliseconds")

	// Job parameter flags, applied to every selected job
	runCmd.Flags().String("input", "", "Input card file")
	runCmd.Flags().String("control-card", "", "Control card text")
	runCmd.Flags().String("control-card-file", "", "File whose first line is the control card")
	runCmd.Flags().String("as-of", "", "As-of date (YYYY-MM-DD) for jobs without a control card date")
	runCmd.Flags().String("seed", "", "Skip input keys up to and including this key")
	runCmd.Flags().Int("commit-interval", 0, "Records per chunk (default 100)")
	runCmd.Flags().Int64("run-limit", 0, "Stop after this many records; the rest resumes on the next run")
	runCmd.Flags().String("report", "", "Report output path")
	runCmd.Flags().String("extract", "", "Extract output path")
	runCmd.Flags().String("xlsx", "", "Spreadsheet copy of the extract")

	// Publish flags
	runCmd.Flags().String("publish-endpoint", "", "S3-compatible endpoint for finished outputs")
	runCmd.Flags().String("publish-access-key", "", "Publish access key")
	runCmd.Flags().String("publish-secret-key", "", "Publish secret key")
	runCmd.Flags().Bool("publish-secure", true, "Use HTTPS for publishing")
	runCmd.Flags().String("publish-bucket", "", "Publish bucket")
	runCmd.Flags().String("publish-prefix", "", "Object key prefix")
	runCmd.Flags().Int("retries", 5, "Maximum publish attempts per output")
	runCmd.Flags().Int("retry-backoff-ms", 500, "Initial publish retry backoff in milliseconds")

	rootCmd.AddCommand(runCmd, jobsCmd, statusCmd, resetCmd)
}

// setup loads the configuration, logger and application
func setup(cmd *cobra.Command) (*app.App, *zap.Logger, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a, err := app.New(cfg, log)
	if err != nil {
		log.Sync()
		return nil, nil, fmt.Errorf("failed to create app: %w", err)
	}
	return a, log, nil
}

func runJobs(cmd *cobra.Command, args []string) error {
	a, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go watchSignals(ctx, cancel, sigChan, log)

	results, err := a.Run(ctx, args)

	if closeErr := a.Close(); closeErr != nil {
		log.Error("Error closing app", zap.Error(closeErr))
	}
	if err != nil {
		return err
	}

	for _, r := range results {
		fields := []zap.Field{
			zap.String("job", r.Job),
			zap.String("outcome", string(r.Outcome)),
			zap.Int64("processed", r.Stats.Processed),
		}
		if r.Err != nil {
			fields = append(fields, zap.Error(r.Err))
		}
		log.Info("Result", fields...)
	}

	if code := app.ExitCode(results); code != 0 {
		return &exitError{code: code}
	}
	return nil
}

// watchSignals cancels the run on the first signal. Work since the last
// commit is discarded and redone by the next run.
func watchSignals(ctx context.Context, cancel context.CancelFunc, sigChan <-chan os.Signal, log *zap.Logger) {
	select {
	case <-sigChan:
		log.Info("Received shutdown signal, dropping the uncommitted chunk; the next run resumes from the last checkpoint")
		cancel()
	case <-ctx.Done():
	}
}

func listJobs(cmd *cobra.Command, _ []string) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for _, name := range jobs.Names() {
		def, err := jobs.Lookup(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\n", def.Name, def.Description)
	}
	return w.Flush()
}

func showStatus(cmd *cobra.Command, args []string) error {
	a, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()
	defer a.Close()

	states := make([]*checkpoint.State, len(args))
	for i, name := range args {
		if states[i], err = a.Status(context.Background(), name); err != nil {
			return err
		}
	}
	return writeStatus(cmd.OutOrStdout(), args, states)
}

// writeStatus prints one row per job; jobs without a checkpoint show as new
func writeStatus(out io.Writer, names []string, states []*checkpoint.State) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tSTATUS\tRUNS\tPROCESSED\tWATERMARK\tUPDATED")
	for i, name := range names {
		st := states[i]
		if st == nil {
			fmt.Fprintf(w, "%s\t-\t0\t0\t\t\n", name)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%q\t%s\n", name, st.Status, st.RunCount, st.Processed,
			st.Watermark, st.UpdatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func resetJobs(cmd *cobra.Command, args []string) error {
	a, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()
	defer a.Close()

	return a.Reset(context.Background(), args)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
