// Package metrics exposes crawl progress as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "crawlkeeper"

// Metrics holds the crawl collectors. Every series carries a "job" label so
// several crawls can share one registry.
//
// All methods are safe on a nil *Metrics, which records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// EnqueueRequestsCounter counts URLs offered to the frontier, including
	// duplicates and abandoned URLs the frontier ignored.
	EnqueueRequestsCounter *prometheus.CounterVec

	// CompletedCounter counts URLs marked completed.
	CompletedCounter *prometheus.CounterVec

	// FailedCounter counts failed attempts, labelled by error kind.
	FailedCounter *prometheus.CounterVec

	// FetchDuration observes fetch latency in seconds.
	FetchDuration *prometheus.HistogramVec

	// QueuedGauge tracks how many URLs are waiting in the frontier.
	QueuedGauge *prometheus.GaugeVec

	// InFlightGauge is 1 while a URL of the job is being processed.
	InFlightGauge *prometheus.GaugeVec
}

// New registers the crawl collectors in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		EnqueueRequestsCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "enqueue_requests_total",
			Help:      "Total number of URLs offered to the frontier",
		}, []string{"job"}),
		CompletedCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "urls_completed_total",
			Help:      "Total number of URLs processed successfully",
		}, []string{"job"}),
		FailedCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "urls_failed_total",
			Help:      "Total number of failed fetch or handle attempts",
		}, []string{"job", "kind"}),
		FetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Time spent fetching a page",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		QueuedGauge: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "frontier_queued",
			Help:      "Current number of queued URLs",
		}, []string{"job"}),
		InFlightGauge: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "urls_in_flight",
			Help:      "Number of URLs currently being fetched or handled",
		}, []string{"job"}),
	}
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// EnqueueRequested counts one URL offered to the frontier, whether or not
// the frontier queued it.
func (m *Metrics) EnqueueRequested(job string) {
	if m == nil {
		return
	}
	m.EnqueueRequestsCounter.WithLabelValues(job).Inc()
}

// Completed counts one completed URL.
func (m *Metrics) Completed(job string) {
	if m == nil {
		return
	}
	m.CompletedCounter.WithLabelValues(job).Inc()
}

// Failed counts one failed attempt of the given kind.
func (m *Metrics) Failed(job, kind string) {
	if m == nil {
		return
	}
	m.FailedCounter.WithLabelValues(job, kind).Inc()
}

// ObserveFetch records how long a fetch took.
func (m *Metrics) ObserveFetch(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(job).Observe(d.Seconds())
}

// SetQueued sets the queued gauge.
func (m *Metrics) SetQueued(job string, n int) {
	if m == nil {
		return
	}
	m.QueuedGauge.WithLabelValues(job).Set(float64(n))
}

// SetInFlight sets the in-flight gauge.
func (m *Metrics) SetInFlight(job string, n int) {
	if m == nil {
		return
	}
	m.InFlightGauge.WithLabelValues(job).Set(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx) //nolint:contextcheck // parent is already cancelled
	}
}
