// Package checkpoint keeps the restart watermark of a job: the composite
// key of the last record covered by a committed chunk, together with the
// execution context needed to resume aggregation and output after it.
package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrCheckpointMismatch means the persisted watermark cannot be compared
// with keys of the current layout
var ErrCheckpointMismatch = errors.New("checkpoint does not match key layout")

// Options tune a Manager
type Options struct {
	// Seed is used as the watermark when nothing is persisted
	Seed string
	// RunLimit caps records processed per run; 0 means no cap
	RunLimit int64
}

// Manager owns the CheckpointState of one job run. It is used by a single
// goroutine.
type Manager struct {
	store  Store
	job    string
	layout KeyLayout
	opts   Options
	logger *zap.Logger

	state   State
	resumed bool
}

// NewManager creates a checkpoint manager for job
func NewManager(store Store, job string, layout KeyLayout, opts Options, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:  store,
		job:    job,
		layout: layout,
		opts:   opts,
		logger: logger,
	}
}

// Load reads the last persisted state. An in-progress checkpoint is
// resumed; a completed one or none at all starts from the seed.
func (m *Manager) Load(ctx context.Context) (State, error) {
	persisted, err := m.store.Load(ctx, m.job)
	if err != nil {
		return State{}, fmt.Errorf("failed to load checkpoint for %s: %w", m.job, err)
	}

	sig := m.layout.Signature()
	m.state = State{
		Job:      m.job,
		Layout:   sig,
		Status:   StatusInProgress,
		RunLimit: m.opts.RunLimit,
		RunID:    uuid.NewString(),
	}

	if persisted != nil {
		m.state.RunCount = persisted.RunCount
	}
	m.state.RunCount++

	switch {
	case persisted != nil && persisted.Status == StatusInProgress:
		if persisted.Layout != sig {
			return State{}, fmt.Errorf("%w: job %s persisted %q, current %q", ErrCheckpointMismatch, m.job, persisted.Layout, sig)
		}
		if err := m.checkWidth(persisted.Watermark); err != nil {
			return State{}, err
		}
		m.state.Watermark = persisted.Watermark
		m.state.Context = persisted.Context
		m.resumed = true

		m.logger.Info("Resuming from checkpoint",
			zap.String("job", m.job),
			zap.String("watermark", persisted.Watermark),
			zap.String("previous_run_id", persisted.RunID),
		)

	case m.opts.Seed != "":
		if err := m.checkWidth(m.opts.Seed); err != nil {
			return State{}, err
		}
		m.state.Watermark = m.opts.Seed
		m.logger.Info("Starting from seed watermark", zap.String("job", m.job), zap.String("watermark", m.opts.Seed))
	}

	return m.state, nil
}

func (m *Manager) checkWidth(watermark string) error {
	if watermark != "" && len(watermark) != m.layout.Width() {
		return fmt.Errorf("%w: job %s watermark %q has width %d, layout needs %d",
			ErrCheckpointMismatch, m.job, watermark, len(watermark), m.layout.Width())
	}
	return nil
}

// Resumed reports whether Load picked up an interrupted run
func (m *Manager) Resumed() bool {
	return m.resumed
}

// State returns a copy of the current state
func (m *Manager) State() State {
	return m.state
}

// Context returns the execution context saved with the watermark
func (m *Manager) Context() []byte {
	return m.state.Context
}

// ShouldSkip reports whether key is at or before the watermark. An empty
// watermark skips nothing.
func (m *Manager) ShouldSkip(key string) bool {
	return m.state.Watermark != "" && key <= m.state.Watermark
}

// Watermark returns the current watermark
func (m *Manager) Watermark() string {
	return m.state.Watermark
}

// Advance moves the watermark forward; it never moves back
func (m *Manager) Advance(key string) {
	if key > m.state.Watermark {
		m.state.Watermark = key
	}
}

// Count adds n to the records processed by this run
func (m *Manager) Count(n int64) {
	m.state.Processed += n
}

// LimitReached reports whether the run limit has been used up
func (m *Manager) LimitReached() bool {
	return m.state.RunLimit > 0 && m.state.Processed >= m.state.RunLimit
}

// Persist durably writes the watermark with the execution context. It
// must follow the chunk's output commit and precede the next chunk's reads.
func (m *Manager) Persist(ctx context.Context, execCtx []byte) error {
	m.state.Context = execCtx
	m.state.Status = StatusInProgress

	if err := m.store.Save(ctx, &m.state); err != nil {
		return fmt.Errorf("failed to persist checkpoint for %s: %w", m.job, err)
	}
	return nil
}

// Complete marks the run finished: the watermark and context are cleared
// so the next run processes all input again.
func (m *Manager) Complete(ctx context.Context) error {
	m.state.Watermark = ""
	m.state.Context = nil
	m.state.Status = StatusCompleted

	if err := m.store.Save(ctx, &m.state); err != nil {
		return fmt.Errorf("failed to complete checkpoint for %s: %w", m.job, err)
	}
	return nil
}
