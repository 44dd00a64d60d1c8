package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"cardbatch/internal/checkpoint"
	"cardbatch/internal/job"
	"cardbatch/internal/jobs"
	"cardbatch/internal/source"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakePublisher struct {
	mu   sync.Mutex
	runs []string
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, res job.Result) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.runs = append(f.runs, res.Job)
	if f.err != nil {
		return nil, f.err
	}
	keys := make([]string, len(res.Outputs))
	for i, o := range res.Outputs {
		keys[i] = res.Job + "/" + filepath.Base(o)
	}
	return keys, nil
}

func glTask(t *testing.T, dir, name string, lines []string, limit int64) Task {
	t.Helper()

	def, err := jobs.Lookup("gl-postings")
	require.NoError(t, err)
	def.Name = name

	input := filepath.Join(dir, name+".dat")
	require.NoError(t, os.WriteFile(input, []byte(strings.Join(lines, "\n")+"\n"), 0o644))

	return Task{
		Definition: def,
		Params:     job.Params{ControlCard: "20250131GL", CommitInterval: 1, RunLimit: limit},
		Outputs: job.Outputs{
			Report:  filepath.Join(dir, name+".rpt"),
			Extract: filepath.Join(dir, name+".ext"),
		},
		Open: func(context.Context) (source.Source, error) {
			return source.OpenFile(input)
		},
	}
}

func glLines(n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("%-3s%-8s%s%s%s%-16s", "001", fmt.Sprintf("4100%04d", i), "D", "20250130", "000000001234E", "INV")
	}
	return lines
}

func newStore(t *testing.T, dir string) checkpoint.Store {
	t.Helper()
	store, err := checkpoint.NewFileStore(filepath.Join(dir, "cp"))
	require.NoError(t, err)
	return store
}

func TestPool_RunsAllTasksWithinLimit(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	var running, peak int32
	start := func(string) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				return
			}
		}
	}
	done := func(string) { atomic.AddInt32(&running, -1) }

	pub := &fakePublisher{}
	proc := NewTaskProcessor(newStore(t, dir), nil, WithPublisher(pub), WithHooks(start, done))
	pool := NewPool(2, proc, nil)

	var tasks []Task
	for i := 0; i < 5; i++ {
		tasks = append(tasks, glTask(t, dir, fmt.Sprintf("gl-%d", i), glLines(3), 0))
	}

	results := pool.Run(context.Background(), tasks)
	require.Len(t, results, 5)
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("gl-%d", i), r.Job)
		assert.Equal(t, job.Completed, r.Outcome)
		assert.False(t, r.Failed())
		assert.Len(t, r.Published, 2)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Len(t, pub.runs, 5)
}

func TestProcessor_IncompleteIsNotPublished(t *testing.T) {
	dir := t.TempDir()
	pub := &fakePublisher{}
	proc := NewTaskProcessor(newStore(t, dir), nil, WithPublisher(pub))

	res := proc.Process(context.Background(), glTask(t, dir, "gl-limited", glLines(4), 2))
	require.NoError(t, res.Err)
	assert.Equal(t, job.Incomplete, res.Outcome)
	assert.Empty(t, res.Published)
	assert.Empty(t, pub.runs)
}

func TestProcessor_OpenFailure(t *testing.T) {
	dir := t.TempDir()
	proc := NewTaskProcessor(newStore(t, dir), nil)

	task := glTask(t, dir, "gl-missing", glLines(1), 0)
	task.Open = func(context.Context) (source.Source, error) {
		return nil, os.ErrNotExist
	}

	res := proc.Process(context.Background(), task)
	assert.True(t, res.Failed())
	assert.Equal(t, job.Failed, res.Outcome)
	assert.ErrorIs(t, res.Err, os.ErrNotExist)
	assert.NoFileExists(t, task.Outputs.Report)
}

func TestProcessor_PublishFailure(t *testing.T) {
	dir := t.TempDir()
	pub := &fakePublisher{err: errors.New("bucket gone")}
	proc := NewTaskProcessor(newStore(t, dir), nil, WithPublisher(pub))

	res := proc.Process(context.Background(), glTask(t, dir, "gl-pub", glLines(2), 0))
	assert.Equal(t, job.Completed, res.Outcome)
	assert.True(t, res.Failed())
	assert.Contains(t, res.Err.Error(), "bucket gone")
}
