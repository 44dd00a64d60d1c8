package worker

import (
	"context"

	"cardbatch/internal/job"
	"cardbatch/internal/source"
)

// Task is one job run to execute
type Task struct {
	Definition *job.Definition
	Params     job.Params
	Outputs    job.Outputs

	// Open opens the job's record source
	Open func(ctx context.Context) (source.Source, error)
}

// Name returns the job name
func (t Task) Name() string {
	return t.Definition.Name
}

// TaskResult is the result of a task. Published holds the object keys
// of uploaded outputs.
type TaskResult struct {
	job.Result
	Published []string `json:"published,omitempty"`
	Err       error    `json:"-"`
}

// Failed reports whether the task failed, including a failed publish
func (r TaskResult) Failed() bool {
	return r.Err != nil || r.Outcome == job.Failed
}
