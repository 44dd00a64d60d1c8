package progress

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"cardbatch/internal/job"

	"github.com/dustin/go-humanize"
)

// Status represents the progress of one job
type Status struct {
	Job          string
	Read         int64
	Skipped      int64
	Committed    int64
	Malformed    int64
	Groups       int64
	Chunks       int64
	Outcome      job.Outcome // empty while running
	StartTime    time.Time
	LastUpdate   time.Time
	CurrentSpeed float64 // committed records per second over the sample window
	AverageSpeed float64 // committed records per second since start
}

// Running reports whether the job has not finished yet
func (s Status) Running() bool {
	return s.Outcome == ""
}

// Tracker tracks job progress. It is safe for concurrent use by several
// job runners.
type Tracker struct {
	mu         sync.RWMutex
	jobs       map[string]*jobProgress
	maxSamples int
	window     time.Duration
	now        func() time.Time
}

type jobProgress struct {
	status  Status
	samples []speedSample
}

type speedSample struct {
	timestamp time.Time
	records   int64
}

// NewTracker creates a new progress tracker
func NewTracker() *Tracker {
	return &Tracker{
		jobs:       make(map[string]*jobProgress),
		maxSamples: 60,
		window:     5 * time.Second,
		now:        time.Now,
	}
}

// Begin starts tracking a job, resetting any earlier run of it
func (t *Tracker) Begin(jobName string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.jobs[jobName] = &jobProgress{
		status:  Status{Job: jobName, StartTime: now, LastUpdate: now},
		samples: make([]speedSample, 0, t.maxSamples),
	}
}

// get returns the job's progress, creating it on first use (must be
// called with lock held)
func (t *Tracker) get(jobName string) *jobProgress {
	p, ok := t.jobs[jobName]
	if !ok {
		now := t.now()
		p = &jobProgress{status: Status{Job: jobName, StartTime: now, LastUpdate: now}}
		t.jobs[jobName] = p
	}
	return p
}

func (t *Tracker) RecordRead(jobName string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.get(jobName)
	p.status.Read++
	p.status.LastUpdate = t.now()
}

func (t *Tracker) RecordSkipped(jobName string, n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.get(jobName).status.Skipped += n
}

func (t *Tracker) RecordMalformed(jobName, _ string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.get(jobName).status.Malformed++
}

func (t *Tracker) GroupClosed(jobName, _ string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.get(jobName).status.Groups++
}

func (t *Tracker) ChunkCommitted(jobName string, records int64, _ time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.get(jobName)
	p.status.Chunks++
	p.status.Committed += records
	t.updateSpeed(p, records)
}

func (t *Tracker) RunFinished(jobName string, outcome job.Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.get(jobName)
	p.status.Outcome = outcome
	p.status.LastUpdate = t.now()
}

// updateSpeed records a sample and recomputes the speeds (must be called
// with lock held)
func (t *Tracker) updateSpeed(p *jobProgress, records int64) {
	now := t.now()

	p.samples = append(p.samples, speedSample{timestamp: now, records: records})
	if len(p.samples) > t.maxSamples {
		p.samples = p.samples[1:]
	}

	p.status.CurrentSpeed = 0
	cutoff := now.Add(-t.window)
	var recent int64
	var first *speedSample
	for i := len(p.samples) - 1; i >= 0; i-- {
		s := &p.samples[i]
		if s.timestamp.Before(cutoff) {
			break
		}
		recent += s.records
		first = s
	}
	if first != nil {
		if d := now.Sub(first.timestamp); d > 0 {
			p.status.CurrentSpeed = float64(recent) / d.Seconds()
		}
	}

	if elapsed := now.Sub(p.status.StartTime); elapsed > 0 {
		p.status.AverageSpeed = float64(p.status.Committed) / elapsed.Seconds()
	}

	p.status.LastUpdate = now
}

// GetStatus returns the status of one job (thread-safe)
func (t *Tracker) GetStatus(jobName string) (Status, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.jobs[jobName]
	if !ok {
		return Status{}, false
	}
	return p.status, true
}

// Snapshot returns the status of every tracked job ordered by name
func (t *Tracker) Snapshot() []Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Status, 0, len(t.jobs))
	for _, p := range t.jobs {
		out = append(out, p.status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}

// FormatSpeed formats a record rate
func FormatSpeed(recordsPerSecond float64) string {
	return humanize.CommafWithDigits(recordsPerSecond, 1) + " rec/s"
}

// FormatCount formats a record count with thousands separators
func FormatCount(n int64) string {
	return humanize.Comma(n)
}

// FormatBytes formats bytes in human readable format
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.Bytes(uint64(bytes))
}

// FormatDuration formats duration in human readable format
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	} else {
		return fmt.Sprintf("%ds", seconds)
	}
}

var _ job.Observer = (*Tracker)(nil)
