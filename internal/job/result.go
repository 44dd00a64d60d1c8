package job

import (
	"time"
)

// Outcome is the final status of a run
type Outcome string

const (
	Completed  Outcome = "COMPLETED"
	Incomplete Outcome = "INCOMPLETE"
	Failed     Outcome = "FAILED"
)

// Stats counts what one run did
type Stats struct {
	Read      int64         `json:"read"`
	Skipped   int64         `json:"skipped"`
	Processed int64         `json:"processed"`
	Malformed int64         `json:"malformed"`
	Groups    int64         `json:"groups"`
	Chunks    int64         `json:"chunks"`
	Watermark string        `json:"watermark"`
	Duration  time.Duration `json:"duration"`
}

// Result is returned by every run, failed or not
type Result struct {
	Job     string   `json:"job"`
	RunID   string   `json:"run_id"`
	Branch  string   `json:"branch,omitempty"`
	Outcome Outcome  `json:"outcome"`
	Resumed bool     `json:"resumed"`
	Stats   Stats    `json:"stats"`
	Outputs []string `json:"outputs,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// Observer receives run events for metrics and progress reporting
type Observer interface {
	RecordRead(job string)
	RecordSkipped(job string, n int64)
	RecordMalformed(job, field string)
	GroupClosed(job, level string)
	ChunkCommitted(job string, records int64, elapsed time.Duration)
	RunFinished(job string, outcome Outcome)
}

// Observers fans events out to several observers
type Observers []Observer

func (o Observers) RecordRead(job string) {
	for _, x := range o {
		x.RecordRead(job)
	}
}

func (o Observers) RecordSkipped(job string, n int64) {
	for _, x := range o {
		x.RecordSkipped(job, n)
	}
}

func (o Observers) RecordMalformed(job, field string) {
	for _, x := range o {
		x.RecordMalformed(job, field)
	}
}

func (o Observers) GroupClosed(job, level string) {
	for _, x := range o {
		x.GroupClosed(job, level)
	}
}

func (o Observers) ChunkCommitted(job string, records int64, elapsed time.Duration) {
	for _, x := range o {
		x.ChunkCommitted(job, records, elapsed)
	}
}

func (o Observers) RunFinished(job string, outcome Outcome) {
	for _, x := range o {
		x.RunFinished(job, outcome)
	}
}
