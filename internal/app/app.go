package app

import (
	"context"
	"fmt"
	"time"

	"cardbatch/internal/checkpoint"
	"cardbatch/internal/config"
	"cardbatch/internal/job"
	"cardbatch/internal/jobs"
	"cardbatch/internal/metrics"
	"cardbatch/internal/progress"
	"cardbatch/internal/storage"
	"cardbatch/internal/worker"

	"go.uber.org/zap"
)

// ExitIncomplete is the process exit code of a run that stopped early
// and can be resumed
const ExitIncomplete = 55

// App runs the configured batch jobs
type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	checkpoint checkpoint.Store
	metrics    *metrics.Collector
	tracker    *progress.Tracker
	publisher  *storage.Publisher
	workers    *worker.Pool
}

// New creates a new application instance
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	checkpointStore, err := openStore(cfg.Checkpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	metricsCollector := metrics.New()
	tracker := progress.NewTracker()

	opts := []worker.ProcessorOption{
		worker.WithObserver(job.Observers{metricsCollector, tracker}),
		worker.WithHooks(
			func(name string) {
				tracker.Begin(name)
				metricsCollector.JobStarted()
			},
			func(string) { metricsCollector.JobDone() },
		),
	}

	var publisher *storage.Publisher
	if cfg.Publish.Enabled() {
		client, err := storage.NewMinIOClient(storage.Config{
			Endpoint:  cfg.Publish.Endpoint,
			AccessKey: cfg.Publish.AccessKey,
			SecretKey: cfg.Publish.SecretKey,
			Secure:    cfg.Publish.Secure,
		})
		if err != nil {
			checkpointStore.Close()
			return nil, fmt.Errorf("failed to create publish client: %w", err)
		}
		publisher = storage.NewPublisher(client, storage.PublisherConfig{
			Bucket:         cfg.Publish.Bucket,
			Prefix:         cfg.Publish.Prefix,
			Retries:        cfg.Publish.Retries,
			RetryBackoffMs: cfg.Publish.RetryBackoffMs,
		}, metricsCollector, logger)
		opts = append(opts, worker.WithPublisher(publisher))
	}

	processor := worker.NewTaskProcessor(checkpointStore, logger, opts...)

	return &App{
		cfg:        cfg,
		logger:     logger,
		checkpoint: checkpointStore,
		metrics:    metricsCollector,
		tracker:    tracker,
		publisher:  publisher,
		workers:    worker.NewPool(cfg.Concurrency, processor, logger),
	}, nil
}

func openStore(cfg config.Checkpoint) (checkpoint.Store, error) {
	switch cfg.Driver {
	case "file":
		return checkpoint.NewFileStore(cfg.Path)
	default:
		return checkpoint.NewSQLiteStore(cfg.Path)
	}
}

// Run executes the named jobs, or every configured job when names is
// empty. Job failures are reported in the results; the error is
// reserved for problems that prevent any job from starting.
func (a *App) Run(ctx context.Context, names []string) ([]worker.TaskResult, error) {
	selected, err := a.cfg.Select(names)
	if err != nil {
		return nil, err
	}

	tasks, err := plan(selected)
	if err != nil {
		return nil, err
	}

	if a.publisher != nil {
		if err := a.publisher.CheckBucket(ctx); err != nil {
			return nil, err
		}
	}

	a.logger.Info("Starting batch",
		zap.Int("jobs", len(tasks)),
		zap.Int("concurrency", a.cfg.Concurrency),
		zap.String("checkpoint", a.cfg.Checkpoint.Path),
		zap.Bool("publish", a.publisher != nil),
	)

	if a.cfg.Metrics.Addr != "" {
		go func() {
			if err := a.metrics.StartServer(a.cfg.Metrics.Addr); err != nil {
				a.logger.Error("Failed to start metrics server", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := a.metrics.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("Failed to stop metrics server", zap.Error(err))
			}
		}()
	}

	if a.cfg.Progress.Enabled {
		reporter := progress.NewReporter(a.tracker, a.cfg.Progress.Interval(), a.logger)
		reporter.Start()
		defer reporter.Stop()
	}

	results := a.workers.Run(ctx, tasks)

	a.logger.Info("Batch finished", zap.Int("exit_code", ExitCode(results)))
	return results, nil
}

// Reset clears the checkpoints of the named jobs so their next run
// starts from the beginning
func (a *App) Reset(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("at least one job name is required")
	}
	for _, name := range names {
		if _, err := jobs.Lookup(name); err != nil {
			return err
		}
	}
	for _, name := range names {
		if err := a.checkpoint.Clear(ctx, name); err != nil {
			return fmt.Errorf("failed to reset %s: %w", name, err)
		}
		a.logger.Info("Checkpoint cleared", zap.String("job", name))
	}
	return nil
}

// Status returns the stored checkpoint of a job, or nil when there is none
func (a *App) Status(ctx context.Context, name string) (*checkpoint.State, error) {
	if _, err := jobs.Lookup(name); err != nil {
		return nil, err
	}
	return a.checkpoint.Load(ctx, name)
}

// Close cleans up resources
func (a *App) Close() error {
	if a.checkpoint != nil {
		return a.checkpoint.Close()
	}
	return nil
}

// ExitCode maps run results to the process exit code: 1 when any job
// failed, ExitIncomplete when any stopped early, 0 otherwise
func ExitCode(results []worker.TaskResult) int {
	code := 0
	for _, r := range results {
		switch {
		case r.Failed():
			return 1
		case r.Outcome == job.Incomplete:
			code = ExitIncomplete
		}
	}
	return code
}
