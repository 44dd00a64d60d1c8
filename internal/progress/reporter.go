package progress

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Reporter periodically logs the progress of running jobs
type Reporter struct {
	tracker  *Tracker
	interval time.Duration
	logger   *zap.Logger
	stopCh   chan struct{}
	done     chan struct{}
	once     sync.Once
}

// NewReporter creates a new progress reporter
func NewReporter(tracker *Tracker, interval time.Duration, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{
		tracker:  tracker,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start starts the reporting loop
func (r *Reporter) Start() {
	go r.loop()
}

// Stop stops the loop, waits for it to exit and logs a final summary
func (r *Reporter) Stop() {
	r.once.Do(func() {
		close(r.stopCh)
		<-r.done
	})
}

func (r *Reporter) loop() {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.report()
		case <-r.stopCh:
			r.summary()
			return
		}
	}
}

// report logs one line per running job
func (r *Reporter) report() {
	for _, s := range r.tracker.Snapshot() {
		if !s.Running() {
			continue
		}
		r.logger.Info("Progress",
			zap.String("job", s.Job),
			zap.String("read", FormatCount(s.Read)),
			zap.String("committed", FormatCount(s.Committed)),
			zap.String("skipped", FormatCount(s.Skipped)),
			zap.Int64("chunks", s.Chunks),
			zap.String("speed", FormatSpeed(s.CurrentSpeed)),
			zap.String("elapsed", FormatDuration(time.Since(s.StartTime))))
	}
}

// summary logs one line per tracked job
func (r *Reporter) summary() {
	for _, s := range r.tracker.Snapshot() {
		outcome := string(s.Outcome)
		if outcome == "" {
			outcome = "RUNNING"
		}
		r.logger.Info("Job summary",
			zap.String("job", s.Job),
			zap.String("outcome", outcome),
			zap.String("committed", FormatCount(s.Committed)),
			zap.String("skipped", FormatCount(s.Skipped)),
			zap.Int64("malformed_fields", s.Malformed),
			zap.Int64("groups", s.Groups),
			zap.String("average_speed", FormatSpeed(s.AverageSpeed)),
			zap.String("elapsed", FormatDuration(s.LastUpdate.Sub(s.StartTime))))
	}
}
