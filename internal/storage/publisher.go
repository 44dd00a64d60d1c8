package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cardbatch/internal/job"

	"go.uber.org/zap"
)

const (
	contentTypeText = "text/plain; charset=utf-8"
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Recorder receives publish events
type Recorder interface {
	IncPublished(bytes int64)
	IncPublishSkipped()
	IncPublishFailed()
}

// PublisherConfig contains publisher configuration
type PublisherConfig struct {
	Bucket         string
	Prefix         string
	Retries        int
	RetryBackoffMs int
}

// Publisher uploads the outputs of completed runs to a bucket
type Publisher struct {
	client   Client
	config   PublisherConfig
	recorder Recorder
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewPublisher creates a publisher. recorder may be nil.
func NewPublisher(client Client, config PublisherConfig, recorder Recorder, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Retries <= 0 {
		config.Retries = 1
	}
	return &Publisher{
		client:   client,
		config:   config,
		recorder: recorder,
		logger:   logger,
		sleep:    sleepContext,
	}
}

// CheckBucket verifies the target bucket exists
func (p *Publisher) CheckBucket(ctx context.Context) error {
	ok, err := p.client.BucketExists(ctx, p.config.Bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", p.config.Bucket, err)
	}
	if !ok {
		return fmt.Errorf("bucket %s does not exist", p.config.Bucket)
	}
	return nil
}

// ObjectKey returns the key an output file of a run is stored under
func (p *Publisher) ObjectKey(res job.Result, file string) string {
	return path.Join(p.config.Prefix, res.Job, res.RunID, filepath.Base(file))
}

// Publish uploads every output of a completed run and returns the object
// keys. Outputs already present with the same size are skipped.
func (p *Publisher) Publish(ctx context.Context, res job.Result) ([]string, error) {
	if res.Outcome != job.Completed {
		return nil, fmt.Errorf("job %s is %s, only completed runs are published", res.Job, res.Outcome)
	}

	keys := make([]string, 0, len(res.Outputs))
	for _, file := range res.Outputs {
		key := p.ObjectKey(res, file)
		if err := p.publishFile(ctx, res, file, key); err != nil {
			p.inc(func(r Recorder) { r.IncPublishFailed() })
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (p *Publisher) publishFile(ctx context.Context, res job.Result, file, key string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("failed to open output: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat output: %w", err)
	}
	size := info.Size()

	if p.exists(ctx, key, size) {
		p.logger.Debug("Skipping published output", zap.String("key", key))
		p.inc(func(r Recorder) { r.IncPublishSkipped() })
		return nil
	}

	opts := PutOptions{
		ContentType: contentType(file),
		Metadata: map[string]string{
			"job":     res.Job,
			"run-id":  res.RunID,
			"branch":  res.Branch,
			"outcome": string(res.Outcome),
		},
	}

	var lastErr error
	for attempt := 1; attempt <= p.config.Retries; attempt++ {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("failed to rewind output: %w", err)
		}

		lastErr = p.client.PutObject(ctx, p.config.Bucket, key, f, size, opts)
		if lastErr == nil {
			p.inc(func(r Recorder) { r.IncPublished(size) })
			p.logger.Info("Output published",
				zap.String("bucket", p.config.Bucket),
				zap.String("key", key),
				zap.Int64("size", size),
			)
			return nil
		}

		p.logger.Warn("Publish attempt failed",
			zap.String("key", key),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)

		if !isRetriableError(lastErr) {
			break
		}

		if attempt < p.config.Retries {
			if err := p.sleep(ctx, p.calculateBackoff(attempt)); err != nil {
				return err
			}
		}
	}

	return fmt.Errorf("failed to publish %s: %w", key, lastErr)
}

func (p *Publisher) exists(ctx context.Context, key string, size int64) bool {
	info, err := p.client.HeadObject(ctx, p.config.Bucket, key)
	if err != nil {
		return false
	}
	return info.Size == size
}

func (p *Publisher) inc(f func(Recorder)) {
	if p.recorder != nil {
		f(p.recorder)
	}
}

func (p *Publisher) calculateBackoff(attempt int) time.Duration {
	base := time.Duration(p.config.RetryBackoffMs) * time.Millisecond
	return base * time.Duration(math.Pow(2, float64(attempt-1)))
}

func contentType(file string) string {
	if strings.EqualFold(filepath.Ext(file), ".xlsx") {
		return contentTypeXLSX
	}
	return contentTypeText
}

func isRetriableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "temporary") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "dns") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "gateway timeout")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
