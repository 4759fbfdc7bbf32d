// Package metrics holds the Prometheus metrics of a sweep. A sweep is a
// short-lived process, so metrics are pushed to a Pushgateway at the end of
// the run instead of being scraped.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/nihr43/object-ingest/internal/queue"
)

type Metrics struct {
	gatherer prometheus.Gatherer

	// Job metrics
	JobsTotal       *prometheus.CounterVec // object_ingest_jobs_total{outcome}
	TransformsTotal *prometheus.CounterVec // object_ingest_transforms_total{transform}
	JobDuration     prometheus.Histogram   // object_ingest_job_duration_seconds

	// Lock metrics
	LockContention prometheus.Counter // object_ingest_lock_contention_total
	LocksReclaimed prometheus.Counter // object_ingest_locks_reclaimed_total
	LocksCleared   prometheus.Counter // object_ingest_locks_cleared_total

	// Store metrics
	ObjectsListed        prometheus.Gauge         // object_ingest_objects_listed
	StoreRequests        *prometheus.CounterVec   // object_ingest_store_requests_total{operation,status}
	StoreRequestDuration *prometheus.HistogramVec // object_ingest_store_request_duration_seconds{operation}
}

// New registers all metrics with registry. A nil registry gets a fresh one.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	f := promauto.With(registry)
	return &Metrics{
		gatherer: registry,

		JobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "object_ingest_jobs_total",
			Help: "Finished jobs by outcome",
		}, []string{"outcome"}),

		TransformsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "object_ingest_transforms_total",
			Help: "Transforms applied by kind",
		}, []string{"transform"}),

		JobDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "object_ingest_job_duration_seconds",
			Help:    "Time from lock attempt to unlock for one object",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),

		LockContention: f.NewCounter(prometheus.CounterOpts{
			Name: "object_ingest_lock_contention_total",
			Help: "Objects skipped because another worker held the lock",
		}),

		LocksReclaimed: f.NewCounter(prometheus.CounterOpts{
			Name: "object_ingest_locks_reclaimed_total",
			Help: "Expired locks taken over",
		}),

		LocksCleared: f.NewCounter(prometheus.CounterOpts{
			Name: "object_ingest_locks_cleared_total",
			Help: "Locks removed by a bulk unlock",
		}),

		ObjectsListed: f.NewGauge(prometheus.GaugeOpts{
			Name: "object_ingest_objects_listed",
			Help: "Objects returned by the last bucket listing",
		}),

		StoreRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "object_ingest_store_requests_total",
			Help: "Object store requests by operation and status",
		}, []string{"operation", "status"}),

		StoreRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "object_ingest_store_request_duration_seconds",
			Help:    "Object store request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

// Observe records a finished job.
func (m *Metrics) Observe(res queue.Result) {
	m.JobsTotal.WithLabelValues(string(res.Outcome)).Inc()
	for _, t := range res.Applied {
		m.TransformsTotal.WithLabelValues(string(t)).Inc()
	}
	if res.Outcome == queue.OutcomeSkipped {
		m.LockContention.Inc()
	}
	if res.Reclaimed {
		m.LocksReclaimed.Inc()
	}
	if res.Outcome != queue.OutcomePending {
		m.JobDuration.Observe(res.Duration.Seconds())
	}
}

// ObserveStore records one object store call. It matches s3store.Observer.
func (m *Metrics) ObserveStore(operation string, started time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.StoreRequests.WithLabelValues(operation, status).Inc()
	m.StoreRequestDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func (m *Metrics) Listed(n int) { m.ObjectsListed.Set(float64(n)) }

func (m *Metrics) Cleared(n int) { m.LocksCleared.Add(float64(n)) }

// Push sends everything to a Pushgateway, replacing the previous push of job.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(m.gatherer).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
