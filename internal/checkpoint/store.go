package checkpoint

import (
	"context"
	"time"
)

// RunStatus represents the status of a job's checkpointed run
type RunStatus string

const (
	StatusInProgress RunStatus = "in_progress"
	StatusCompleted  RunStatus = "completed"
)

// State represents a job's restart slot in the checkpoint store
type State struct {
	Job       string    `json:"job"`
	Layout    string    `json:"layout"`
	Watermark string    `json:"watermark"`
	Status    RunStatus `json:"status"`
	RunCount  int64     `json:"run_count"`
	Processed int64     `json:"processed"`
	RunLimit  int64     `json:"run_limit"`
	RunID     string    `json:"run_id"`
	Context   []byte    `json:"context,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store defines the interface for checkpoint persistence
type Store interface {
	// Load returns nil, nil when the job has no checkpoint
	Load(ctx context.Context, job string) (*State, error)
	Save(ctx context.Context, state *State) error
	Clear(ctx context.Context, job string) error

	// Cleanup
	Close() error
}
