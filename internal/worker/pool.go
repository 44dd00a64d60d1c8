package worker

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Pool runs independent tasks with bounded concurrency
type Pool struct {
	size      int
	processor *TaskProcessor
	logger    *zap.Logger
}

// NewPool creates a new worker pool
func NewPool(size int, processor *TaskProcessor, logger *zap.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		size:      size,
		processor: processor,
		logger:    logger,
	}
}

// Run processes every task and returns the results in task order. A
// failing task does not stop the others; cancelling ctx does.
func (p *Pool) Run(ctx context.Context, tasks []Task) []TaskResult {
	results := make([]TaskResult, len(tasks))

	var g errgroup.Group
	g.SetLimit(p.size)

	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			p.logger.Debug("Task started", zap.String("job", task.Name()), zap.Int("index", i))
			results[i] = p.processor.Process(ctx, task)
			return nil
		})
	}
	_ = g.Wait()

	p.logger.Info("All tasks finished", zap.Int("tasks", len(tasks)))
	return results
}
