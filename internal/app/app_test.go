package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cardbatch/internal/config"
	"cardbatch/internal/job"
	"cardbatch/internal/jobs"
	"cardbatch/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	_ "modernc.org/sqlite"
)

func glLine(i int) string {
	return fmt.Sprintf("%-3s%-8s%s%s%s%-16s", "001", fmt.Sprintf("4100%04d", i), "D", "20250130", "000000001234E", "INV")
}

func writeInput(t *testing.T, dir string, n int) string {
	t.Helper()
	lines := make([]string, n)
	for i := range lines {
		lines[i] = glLine(i)
	}
	path := filepath.Join(dir, "gl.dat")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func testConfig(dir string, jc ...config.JobConfig) *config.Config {
	return &config.Config{
		LogLevel:    "info",
		Concurrency: 2,
		OutputDir:   filepath.Join(dir, "out"),
		Checkpoint:  config.Checkpoint{Driver: "file", Path: filepath.Join(dir, "cp")},
		Progress:    config.Progress{Enabled: true, IntervalMs: 10},
		Jobs:        jc,
	}
}

func newApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestApp_RunCompletes(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	cfg := testConfig(dir, config.JobConfig{
		Name:        "gl-postings",
		Input:       writeInput(t, dir, 5),
		ControlCard: "20250131GL",
		XLSX:        filepath.Join(dir, "out", "gl.xlsx"),
	})
	a := newApp(t, cfg)

	results, err := a.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, job.Completed, results[0].Outcome)
	assert.Equal(t, 0, ExitCode(results))

	assert.FileExists(t, filepath.Join(dir, "out", "gl-postings.rpt"))
	assert.FileExists(t, filepath.Join(dir, "out", "gl-postings.ext"))
	assert.FileExists(t, filepath.Join(dir, "out", "gl.xlsx"))

	status, ok := a.tracker.GetStatus("gl-postings")
	require.True(t, ok)
	assert.Equal(t, int64(5), status.Read)
	assert.Equal(t, job.Completed, status.Outcome)
}

func TestApp_IncompleteThenResume(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir, config.JobConfig{
		Name:           "gl-postings",
		Input:          writeInput(t, dir, 6),
		ControlCard:    "20250131GL",
		CommitInterval: 1,
		RunLimit:       4,
	})
	cfg.Progress.Enabled = false
	a := newApp(t, cfg)
	ctx := context.Background()

	first, err := a.Run(ctx, []string{"gl-postings"})
	require.NoError(t, err)
	assert.Equal(t, job.Incomplete, first[0].Outcome)
	assert.Equal(t, ExitIncomplete, ExitCode(first))

	state, err := a.Status(ctx, "gl-postings")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, int64(4), state.Processed)

	second, err := a.Run(ctx, []string{"gl-postings"})
	require.NoError(t, err)
	assert.Equal(t, job.Completed, second[0].Outcome)
	assert.True(t, second[0].Resumed)
	assert.Equal(t, int64(4), second[0].Stats.Skipped)
}

func TestApp_SQLSource(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "gl.db")

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE postings (key TEXT, line TEXT)`)
	require.NoError(t, err)
	for _, i := range []int{2, 0, 1} {
		line := glLine(i)
		_, err = db.Exec(`INSERT INTO postings VALUES (?, ?)`, line[:11], line)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	cfg := testConfig(dir)
	cfg.Progress.Enabled = false
	cfg.Jobs = []config.JobConfig{{
		Name:        "gl-postings",
		SQL:         &config.SQLInput{Path: dbPath, Table: "postings"},
		ControlCard: "20250131GL",
	}}
	a := newApp(t, cfg)

	results, err := a.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, job.Completed, results[0].Outcome)
	assert.Equal(t, int64(3), results[0].Stats.Processed)
}

func TestApp_Reset(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir, config.JobConfig{
		Name:           "gl-postings",
		Input:          writeInput(t, dir, 3),
		ControlCard:    "20250131GL",
		CommitInterval: 1,
		RunLimit:       1,
	})
	cfg.Progress.Enabled = false
	a := newApp(t, cfg)
	ctx := context.Background()

	_, err := a.Run(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, a.Reset(ctx, []string{"gl-postings"}))
	state, err := a.Status(ctx, "gl-postings")
	require.NoError(t, err)
	assert.Nil(t, state)

	assert.ErrorIs(t, a.Reset(ctx, []string{"nope"}), jobs.ErrUnknownJob)
	assert.Error(t, a.Reset(ctx, nil))
}

func TestApp_RunRejectsBadPlan(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir, config.JobConfig{Name: "voucher-register", Input: "x"})
	a := newApp(t, cfg)

	_, err := a.Run(context.Background(), nil)
	assert.ErrorIs(t, err, jobs.ErrUnknownJob)

	cfg.Jobs = []config.JobConfig{{
		Name:            "gl-postings",
		Input:           "x",
		ControlCardFile: filepath.Join(dir, "missing.card"),
	}}
	_, err = a.Run(context.Background(), nil)
	assert.Error(t, err)
}

func TestExitCode(t *testing.T) {
	done := worker.TaskResult{Result: job.Result{Outcome: job.Completed}}
	partial := worker.TaskResult{Result: job.Result{Outcome: job.Incomplete}}
	failed := worker.TaskResult{Result: job.Result{Outcome: job.Failed}}

	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 0, ExitCode([]worker.TaskResult{done, done}))
	assert.Equal(t, ExitIncomplete, ExitCode([]worker.TaskResult{done, partial}))
	assert.Equal(t, 1, ExitCode([]worker.TaskResult{partial, failed}))
}
