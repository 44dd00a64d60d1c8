package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"cardbatch/internal/aggregate"
	"cardbatch/internal/checkpoint"
	"cardbatch/internal/extract"
	"cardbatch/internal/fixedwidth"
	"cardbatch/internal/output"
	"cardbatch/internal/report"
	"cardbatch/internal/source"

	"go.uber.org/zap"
)

const (
	DefaultCommitInterval = 100
	dateLayout            = "2006-01-02"
)

// Params are the job parameters resolved once at start
type Params struct {
	ControlCard    string
	AsOf           time.Time
	Seed           string
	CommitInterval int
	RunLimit       int64
}

// Outputs are the sink paths of one run. Extract and XLSX are optional.
type Outputs struct {
	Report  string
	Extract string
	XLSX    string
}

// execContext is persisted with every watermark so a resumed run
// continues aggregation and output exactly where the last commit left
type execContext struct {
	AsOf          string             `json:"as_of"`
	Branch        string             `json:"branch"`
	Aggregator    aggregate.Snapshot `json:"aggregator"`
	Page          report.PageState   `json:"page"`
	ReportOffset  int64              `json:"report_offset"`
	ExtractOffset int64              `json:"extract_offset"`
	Exceptions    []report.Exception `json:"exceptions"`
}

// Option configures a Runner
type Option func(*Runner)

// WithObserver sets the event observer
func WithObserver(o Observer) Option {
	return func(r *Runner) {
		r.observer = o
	}
}

// WithClock replaces the clock used for report run dates
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// Runner executes a job definition. One Runner may run its job many
// times but never twice concurrently.
type Runner struct {
	def      *Definition
	store    checkpoint.Store
	logger   *zap.Logger
	observer Observer
	now      func() time.Time
}

// NewRunner creates a runner for def backed by store
func NewRunner(def *Definition, store checkpoint.Store, logger *zap.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		def:      def,
		store:    store,
		logger:   logger,
		observer: Observers(nil),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Definition returns the job definition
func (r *Runner) Definition() *Definition {
	return r.def
}

// run is the state of one execution
type run struct {
	*Runner
	params Params
	logger *zap.Logger

	card    Card
	branch  Branch
	mgr     *checkpoint.Manager
	agg     *aggregate.Aggregator
	repSink *output.FileSink
	extSink *output.FileSink
	writer  *report.Writer
	extract *extract.Writer
	resume  *source.Resume

	exceptions []report.Exception
	stats      Stats
	lastKey    string
	inChunk    int64
	outputs    []string
}

// Run executes the job once against src. A non-nil error always comes
// with a FAILED result; INCOMPLETE runs resume on the next call.
func (r *Runner) Run(ctx context.Context, params Params, src source.Source, out Outputs) (Result, error) {
	start := time.Now()
	if params.CommitInterval <= 0 {
		params.CommitInterval = DefaultCommitInterval
	}

	rn := &run{Runner: r, params: params, logger: r.logger.With(zap.String("job", r.def.Name))}
	res := Result{Job: r.def.Name}

	outcome, err := rn.execute(ctx, src, out, &res)
	if rn.resume != nil {
		rn.stats.Skipped = rn.resume.Skipped()
		r.observer.RecordSkipped(r.def.Name, rn.stats.Skipped)
	}

	res.Outcome = outcome
	res.Stats = rn.stats
	res.Stats.Duration = time.Since(start)
	res.Outputs = rn.outputs
	if err != nil {
		res.Error = err.Error()
		rn.logger.Error("Job failed", zap.Error(err), zap.Int64("records_read", rn.stats.Read))
	} else {
		rn.logger.Info("Job finished",
			zap.String("outcome", string(outcome)),
			zap.Int64("processed", rn.stats.Processed),
			zap.Int64("skipped", rn.stats.Skipped),
			zap.Int64("chunks", rn.stats.Chunks),
			zap.Duration("duration", res.Stats.Duration),
		)
	}
	r.observer.RunFinished(r.def.Name, outcome)

	return res, err
}

func (rn *run) execute(ctx context.Context, src source.Source, out Outputs, res *Result) (Outcome, error) {
	def := rn.def
	if err := def.Validate(); err != nil {
		return Failed, err
	}
	if out.Report == "" {
		return Failed, fmt.Errorf("job %s: report path is required", def.Name)
	}

	card, err := ValidateControlCard(def.Control, rn.params.ControlCard, rn.params.AsOf)
	if err != nil {
		return Failed, fmt.Errorf("job %s: %w", def.Name, err)
	}
	rn.card = card

	branch, err := Decide(def.Branches, card.Frequency)
	if err != nil {
		return Failed, fmt.Errorf("job %s: %w", def.Name, err)
	}
	rn.branch = branch
	res.Branch = branch.Name

	rn.mgr = checkpoint.NewManager(rn.store, def.Name, def.Key, checkpoint.Options{
		Seed:     rn.params.Seed,
		RunLimit: rn.params.RunLimit,
	}, rn.logger)
	state, err := rn.mgr.Load(ctx)
	if err != nil {
		return Failed, fmt.Errorf("job %s: %w", def.Name, err)
	}
	res.RunID = state.RunID
	res.Resumed = rn.mgr.Resumed()
	rn.logger = rn.logger.With(zap.String("run_id", state.RunID))

	ec, err := rn.restoreContext()
	if err != nil {
		return Failed, err
	}

	if err := rn.open(ec, out); err != nil {
		return Failed, err
	}
	defer rn.closeSinks()

	rn.lastKey = rn.mgr.Watermark()
	if wm := rn.lastKey; wm != "" {
		if seeker, ok := src.(source.Seeker); ok {
			if err := seeker.SeekAfter(wm); err != nil {
				return Failed, fmt.Errorf("job %s: %w", def.Name, err)
			}
		} else {
			rn.resume = source.NewResume(src, rn.keyOf, rn.mgr.ShouldSkip)
			src = rn.resume
		}
	}

	rn.logger.Info("Job started",
		zap.String("branch", branch.Name),
		zap.String("as_of", card.AsOf.Format(dateLayout)),
		zap.String("watermark", rn.lastKey),
		zap.Bool("resumed", res.Resumed),
		zap.Int("commit_interval", rn.params.CommitInterval),
	)

	return rn.process(ctx, src, out)
}

func (rn *run) restoreContext() (execContext, error) {
	var ec execContext
	if !rn.mgr.Resumed() || len(rn.mgr.Context()) == 0 {
		return ec, nil
	}

	if err := json.Unmarshal(rn.mgr.Context(), &ec); err != nil {
		return ec, fmt.Errorf("job %s: %w: unreadable execution context: %w", rn.def.Name, checkpoint.ErrCheckpointMismatch, err)
	}
	if ec.AsOf != rn.card.AsOf.Format(dateLayout) || ec.Branch != rn.branch.Name {
		return ec, fmt.Errorf("job %s: %w: interrupted run was as of %s (%s), control card says %s (%s)",
			rn.def.Name, checkpoint.ErrCheckpointMismatch,
			ec.AsOf, ec.Branch, rn.card.AsOf.Format(dateLayout), rn.branch.Name)
	}
	return ec, nil
}

func (rn *run) open(ec execContext, out Outputs) error {
	def := rn.def

	agg, err := aggregate.New(def.Levels, def.aging(rn.branch), rn.card.AsOf)
	if err != nil {
		return fmt.Errorf("job %s: %w", def.Name, err)
	}
	if rn.mgr.Resumed() && ec.Aggregator.States != nil {
		if err := agg.Restore(ec.Aggregator); err != nil {
			return fmt.Errorf("job %s: %w: %w", def.Name, checkpoint.ErrCheckpointMismatch, err)
		}
	}
	rn.agg = agg
	rn.exceptions = ec.Exceptions

	rn.repSink, err = output.OpenFile(out.Report, ec.ReportOffset)
	if err != nil {
		return fmt.Errorf("job %s: %w", def.Name, err)
	}
	rn.outputs = append(rn.outputs, out.Report)

	rn.writer, err = report.NewWriter(rn.repSink, def.layout(rn.branch, rn.card.AsOf), agg.Windows(), rn.now())
	if err != nil {
		return fmt.Errorf("job %s: %w", def.Name, err)
	}
	rn.writer.Restore(ec.Page)

	if def.Extract != nil && out.Extract != "" {
		rn.extSink, err = output.OpenFile(out.Extract, ec.ExtractOffset)
		if err != nil {
			return fmt.Errorf("job %s: %w", def.Name, err)
		}
		rn.extract = extract.NewWriter(rn.extSink, def.Extract.Level)
		rn.outputs = append(rn.outputs, out.Extract)
	}
	return nil
}

func (rn *run) closeSinks() {
	if rn.repSink != nil {
		if err := rn.repSink.Close(); err != nil {
			rn.logger.Warn("Failed to close report", zap.Error(err))
		}
	}
	if rn.extSink != nil {
		if err := rn.extSink.Close(); err != nil {
			rn.logger.Warn("Failed to close extract", zap.Error(err))
		}
	}
}

func (rn *run) keyOf(line string) (string, error) {
	rec, err := fixedwidth.Decode(rn.def.Schema, line)
	if err != nil {
		return "", fmt.Errorf("job %s: %w", rn.def.Name, err)
	}
	return rn.def.Key.Compose(rec), nil
}

// process is the chunk loop. A chunk ends at the first key change after
// the commit interval is reached, so records sharing a key always commit
// together and the watermark never splits them.
func (rn *run) process(ctx context.Context, src source.Source, out Outputs) (Outcome, error) {
	def := rn.def
	interval := int64(rn.params.CommitInterval)

	for {
		if ctx.Err() != nil {
			return rn.stop("cancelled")
		}

		line, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return rn.stop("cancelled")
			}
			return Failed, fmt.Errorf("job %s: failed to read input: %w", def.Name, err)
		}
		rn.stats.Read++
		rn.observer.RecordRead(def.Name)

		rec, err := fixedwidth.Decode(def.Schema, line)
		if err != nil {
			return Failed, fmt.Errorf("job %s record %d: %w", def.Name, rn.stats.Read, err)
		}

		key := def.Key.Compose(rec)
		if key < rn.lastKey {
			return Failed, fmt.Errorf("%w: job %s record %d key %q follows %q",
				ErrOutOfOrder, def.Name, rn.stats.Read, key, rn.lastKey)
		}

		if key != rn.lastKey && rn.inChunk > 0 && (rn.inChunk >= interval || rn.mgr.LimitReached()) {
			if err := rn.commit(ctx); err != nil {
				return Failed, err
			}
			if rn.mgr.LimitReached() {
				return rn.stop("run limit reached")
			}
		}

		if err := rn.apply(rec, key); err != nil {
			return Failed, fmt.Errorf("job %s record %d: %w", def.Name, rn.stats.Read, err)
		}
	}

	return rn.finalize(ctx, out)
}

func (rn *run) apply(rec fixedwidth.Record, key string) error {
	for _, issue := range rec.Issues {
		rn.exception(issue.Field, issue.Reason)
		rn.stats.Malformed++
		rn.observer.RecordMalformed(rn.def.Name, issue.Field)
		rn.logger.Debug("Field zeroed", zap.String("field", issue.Field), zap.String("value", issue.Value))
	}

	entry, err := rn.def.Entry(rec)
	if err != nil {
		return err
	}

	closures, err := rn.agg.Add(entry)
	if err != nil {
		return err
	}
	if err := rn.emit(closures); err != nil {
		return err
	}

	if rn.def.Detail != nil {
		if err := rn.writer.WriteDetail(rn.def.Detail(rec, entry)); err != nil {
			return err
		}
	}

	rn.lastKey = key
	rn.inChunk++
	rn.stats.Processed++
	rn.mgr.Count(1)
	return nil
}

func (rn *run) emit(closures []aggregate.Closure) error {
	for _, c := range closures {
		rn.writer.BufferSubtotal(c)
		if rn.extract != nil {
			if err := rn.extract.Write(c); err != nil {
				return err
			}
		}
		rn.stats.Groups++
		rn.observer.GroupClosed(rn.def.Name, c.Name)
	}
	return rn.writer.FlushSubtotals()
}

func (rn *run) exception(field, reason string) {
	for i := range rn.exceptions {
		if rn.exceptions[i].Field == field && rn.exceptions[i].Reason == reason {
			rn.exceptions[i].Count++
			return
		}
	}
	rn.exceptions = append(rn.exceptions, report.Exception{Field: field, Reason: reason, Count: 1})
}

// commit makes the chunk's output durable, then advances and persists
// the watermark with the execution context
func (rn *run) commit(ctx context.Context) error {
	start := time.Now()

	repOff, err := rn.repSink.Commit()
	if err != nil {
		return fmt.Errorf("%w: job %s: %w", ErrCommitFailure, rn.def.Name, err)
	}
	var extOff int64
	if rn.extSink != nil {
		if extOff, err = rn.extSink.Commit(); err != nil {
			return fmt.Errorf("%w: job %s: %w", ErrCommitFailure, rn.def.Name, err)
		}
	}

	rn.mgr.Advance(rn.lastKey)
	data, err := json.Marshal(execContext{
		AsOf:          rn.card.AsOf.Format(dateLayout),
		Branch:        rn.branch.Name,
		Aggregator:    rn.agg.Snapshot(),
		Page:          rn.writer.Page(),
		ReportOffset:  repOff,
		ExtractOffset: extOff,
		Exceptions:    rn.exceptions,
	})
	if err != nil {
		return fmt.Errorf("%w: job %s: %w", ErrCommitFailure, rn.def.Name, err)
	}
	if err := rn.mgr.Persist(ctx, data); err != nil {
		return fmt.Errorf("%w: %w", ErrCommitFailure, err)
	}

	elapsed := time.Since(start)
	rn.stats.Chunks++
	rn.stats.Watermark = rn.mgr.Watermark()
	rn.observer.ChunkCommitted(rn.def.Name, rn.inChunk, elapsed)
	rn.logger.Debug("Chunk committed",
		zap.String("watermark", rn.stats.Watermark),
		zap.Int64("records", rn.inChunk),
		zap.Duration("elapsed", elapsed),
	)
	rn.inChunk = 0
	return nil
}

func (rn *run) stop(reason string) (Outcome, error) {
	rn.logger.Info("Job stopped before end of input, resumable",
		zap.String("reason", reason),
		zap.String("watermark", rn.mgr.Watermark()),
		zap.Int64("uncommitted", rn.inChunk),
	)
	return Incomplete, nil
}

// finalize closes every open group, writes the grand total and footer,
// commits and closes the sinks, converts the extract and completes the
// checkpoint
func (rn *run) finalize(ctx context.Context, out Outputs) (Outcome, error) {
	def := rn.def

	closures, grand := rn.agg.Close()
	if err := rn.emit(closures); err != nil {
		return Failed, fmt.Errorf("job %s: %w", def.Name, err)
	}
	if err := rn.writer.WriteGrandTotalAndFooter(grand, rn.exceptions); err != nil {
		return Failed, fmt.Errorf("job %s: %w", def.Name, err)
	}

	if _, err := rn.repSink.Commit(); err != nil {
		return Failed, fmt.Errorf("%w: job %s: %w", ErrCommitFailure, def.Name, err)
	}
	if rn.extSink != nil {
		if _, err := rn.extSink.Commit(); err != nil {
			return Failed, fmt.Errorf("%w: job %s: %w", ErrCommitFailure, def.Name, err)
		}
	}
	rn.closeSinks()

	if rn.extSink != nil && out.XLSX != "" {
		rows, err := extract.ToXLSX(out.Extract, out.XLSX, def.Name)
		if err != nil {
			return Failed, fmt.Errorf("job %s: %w", def.Name, err)
		}
		rn.outputs = append(rn.outputs, out.XLSX)
		rn.logger.Debug("Extract converted", zap.String("path", out.XLSX), zap.Int("rows", rows))
	}

	if err := rn.mgr.Complete(ctx); err != nil {
		return Failed, err
	}
	rn.stats.Watermark = ""
	return Completed, nil
}
