package worker

import (
	"context"
	"fmt"
	"time"

	"cardbatch/internal/checkpoint"
	"cardbatch/internal/job"

	"go.uber.org/zap"
)

// Publisher uploads the outputs of a completed run
type Publisher interface {
	Publish(ctx context.Context, res job.Result) ([]string, error)
}

// ProcessorOption configures a TaskProcessor
type ProcessorOption func(*TaskProcessor)

// WithObserver sets the run event observer passed to every runner
func WithObserver(o job.Observer) ProcessorOption {
	return func(p *TaskProcessor) {
		p.observer = o
	}
}

// WithPublisher publishes the outputs of completed runs
func WithPublisher(pub Publisher) ProcessorOption {
	return func(p *TaskProcessor) {
		p.publisher = pub
	}
}

// WithHooks sets functions called when a task starts and ends
func WithHooks(start, done func(jobName string)) ProcessorOption {
	return func(p *TaskProcessor) {
		p.onStart = start
		p.onDone = done
	}
}

// TaskProcessor handles individual task processing
type TaskProcessor struct {
	store     checkpoint.Store
	observer  job.Observer
	publisher Publisher
	logger    *zap.Logger
	onStart   func(string)
	onDone    func(string)
}

// NewTaskProcessor creates a processor running jobs against store
func NewTaskProcessor(store checkpoint.Store, logger *zap.Logger, opts ...ProcessorOption) *TaskProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &TaskProcessor{
		store:    store,
		observer: job.Observers(nil),
		logger:   logger,
		onStart:  func(string) {},
		onDone:   func(string) {},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs a single task to its outcome
func (p *TaskProcessor) Process(ctx context.Context, task Task) TaskResult {
	name := task.Name()
	p.onStart(name)
	defer p.onDone(name)

	startTime := time.Now()

	src, err := task.Open(ctx)
	if err != nil {
		err = fmt.Errorf("job %s: failed to open source: %w", name, err)
		p.logger.Error("Task failed", zap.String("job", name), zap.Error(err))
		p.observer.RunFinished(name, job.Failed)
		return TaskResult{
			Result: job.Result{Job: name, Outcome: job.Failed, Error: err.Error()},
			Err:    err,
		}
	}

	runner := job.NewRunner(task.Definition, p.store, p.logger, job.WithObserver(p.observer))
	res, err := runner.Run(ctx, task.Params, src, task.Outputs)
	if closeErr := src.Close(); closeErr != nil {
		p.logger.Warn("Failed to close source", zap.String("job", name), zap.Error(closeErr))
	}

	out := TaskResult{Result: res, Err: err}
	if err != nil || res.Outcome != job.Completed || p.publisher == nil {
		return out
	}

	keys, err := p.publisher.Publish(ctx, res)
	out.Published = keys
	if err != nil {
		out.Err = fmt.Errorf("job %s: %w", name, err)
		p.logger.Error("Publish failed", zap.String("job", name), zap.Error(err))
		return out
	}

	p.logger.Info("Task completed successfully",
		zap.String("job", name),
		zap.Int("published", len(keys)),
		zap.Duration("duration", time.Since(startTime)),
	)
	return out
}
