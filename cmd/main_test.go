package main

import (
	"bytes"
	"context"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"cardbatch/internal/checkpoint"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWatchSignals(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	done := make(chan struct{})
	go func() {
		watchSignals(ctx, cancel, sigChan, zap.New(core))
		close(done)
	}()

	sigChan <- syscall.SIGTERM
	<-done

	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	require.Equal(t, 1, logs.Len())
	msg := logs.All()[0].Message
	assert.Contains(t, msg, "dropping the uncommitted chunk")
	assert.Contains(t, msg, "resumes from the last checkpoint")
}

func TestWatchSignals_ReturnsOnCancel(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	watchSignals(ctx, cancel, make(chan os.Signal), zap.New(core))
	assert.Zero(t, logs.Len())
}

func TestWriteStatus(t *testing.T) {
	var buf bytes.Buffer
	states := []*checkpoint.State{
		{
			Job:       "refund-aging",
			Status:    checkpoint.StatusInProgress,
			Watermark: "RET0000000042",
			RunCount:  2,
			Processed: 1500,
			UpdatedAt: time.Date(2025, 1, 31, 22, 15, 0, 0, time.UTC),
		},
		nil,
	}
	require.NoError(t, writeStatus(&buf, []string{"refund-aging", "gl-postings"}, states))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"JOB", "STATUS", "RUNS", "PROCESSED", "WATERMARK", "UPDATED"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"refund-aging", "in_progress", "2", "1500", `"RET0000000042"`, "2025-01-31T22:15:00Z"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"gl-postings", "-", "0", "0"}, strings.Fields(lines[2]))
}

func TestStatusCommand_NoCheckpoint(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"status", "--log-level", "error",
		"--checkpoint-driver", "file", "--checkpoint", t.TempDir(), "gl-postings"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), "gl-postings")
	assert.Equal(t, []string{"gl-postings", "-", "0", "0"}, strings.Fields(strings.Split(buf.String(), "\n")[1]))
}

func TestStatusCommand_UnknownJob(t *testing.T) {
	rootCmd.SetArgs([]string{"status", "--log-level", "error",
		"--checkpoint-driver", "file", "--checkpoint", t.TempDir(), "payroll"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	assert.Error(t, rootCmd.Execute())
}
