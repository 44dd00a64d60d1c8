package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"cardbatch/internal/job"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects and exposes batch metrics. Each collector owns its
// registry so several may live in one process.
type Collector struct {
	registry *prometheus.Registry

	recordsTotal   *prometheus.CounterVec
	malformedTotal *prometheus.CounterVec
	groupsTotal    *prometheus.CounterVec
	chunksTotal    *prometheus.CounterVec
	runsTotal      *prometheus.CounterVec
	publishedTotal *prometheus.CounterVec
	publishedBytes prometheus.Counter
	inflightJobs   prometheus.Gauge
	commitDuration *prometheus.HistogramVec

	mu     sync.Mutex
	server *http.Server
}

// New creates a new metrics collector
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		recordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardbatch_records_total",
				Help: "Input records seen, by job and status",
			},
			[]string{"job", "status"},
		),
		malformedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardbatch_malformed_fields_total",
				Help: "Fields zeroed under the invalid-data policy",
			},
			[]string{"job", "field"},
		),
		groupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardbatch_groups_closed_total",
				Help: "Control-break groups closed",
			},
			[]string{"job", "level"},
		),
		chunksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardbatch_chunks_committed_total",
				Help: "Chunks committed to the checkpoint store",
			},
			[]string{"job"},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardbatch_runs_total",
				Help: "Job runs by outcome",
			},
			[]string{"job", "outcome"},
		),
		publishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardbatch_outputs_published_total",
				Help: "Output files uploaded to the publish bucket",
			},
			[]string{"status"},
		),
		publishedBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cardbatch_published_bytes_total",
				Help: "Bytes uploaded to the publish bucket",
			},
		),
		inflightJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cardbatch_inflight_jobs",
				Help: "Number of jobs currently running",
			},
		),
		commitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cardbatch_chunk_duration_seconds",
				Help:    "Time taken to process and commit a chunk",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"job"},
		),
	}

	c.registry.MustRegister(
		c.recordsTotal,
		c.malformedTotal,
		c.groupsTotal,
		c.chunksTotal,
		c.runsTotal,
		c.publishedTotal,
		c.publishedBytes,
		c.inflightJobs,
		c.commitDuration,
	)

	return c
}

// Registry returns the collector's registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) RecordRead(jobName string) {
	c.recordsTotal.WithLabelValues(jobName, "read").Inc()
}

func (c *Collector) RecordSkipped(jobName string, n int64) {
	c.recordsTotal.WithLabelValues(jobName, "skipped").Add(float64(n))
}

func (c *Collector) RecordMalformed(jobName, field string) {
	c.malformedTotal.WithLabelValues(jobName, field).Inc()
}

func (c *Collector) GroupClosed(jobName, level string) {
	c.groupsTotal.WithLabelValues(jobName, level).Inc()
}

func (c *Collector) ChunkCommitted(jobName string, records int64, elapsed time.Duration) {
	c.chunksTotal.WithLabelValues(jobName).Inc()
	c.recordsTotal.WithLabelValues(jobName, "committed").Add(float64(records))
	c.commitDuration.WithLabelValues(jobName).Observe(elapsed.Seconds())
}

func (c *Collector) RunFinished(jobName string, outcome job.Outcome) {
	c.runsTotal.WithLabelValues(jobName, string(outcome)).Inc()
}

// JobStarted increments the inflight gauge
func (c *Collector) JobStarted() {
	c.inflightJobs.Inc()
}

// JobDone decrements the inflight gauge
func (c *Collector) JobDone() {
	c.inflightJobs.Dec()
}

// IncPublished counts an uploaded output
func (c *Collector) IncPublished(bytes int64) {
	c.publishedTotal.WithLabelValues("success").Inc()
	c.publishedBytes.Add(float64(bytes))
}

// IncPublishSkipped counts an output already present in the bucket
func (c *Collector) IncPublishSkipped() {
	c.publishedTotal.WithLabelValues("skipped").Inc()
}

// IncPublishFailed counts an output that could not be uploaded
func (c *Collector) IncPublishFailed() {
	c.publishedTotal.WithLabelValues("failed").Inc()
}

// Handler serves the collector's registry in the exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// StartServer starts the metrics HTTP server. It blocks until the server
// is shut down.
func (c *Collector) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	c.mu.Lock()
	c.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	srv := c.server
	c.mu.Unlock()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the metrics server if it is running
func (c *Collector) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	srv := c.server
	c.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

var _ job.Observer = (*Collector)(nil)
