// Package metrics exposes internal engine counters (events queued, checks
// in flight, worker utilization, notifications, retention save duration) as
// Prometheus metrics over an HTTP /metrics endpoint. It is purely an
// observability surface for the engine itself, separate from the
// performance-data postprocessing pipeline in internal/perfdata.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the engine's Prometheus collectors. Callers update the
// exported fields directly from the event loop, result handlers, and the
// worker pool.
type Registry struct {
	reg *prometheus.Registry

	EventsQueued        prometheus.Gauge
	ChecksInFlight       prometheus.Gauge
	WorkerPoolSize       prometheus.Gauge
	ChecksCompletedTotal *prometheus.CounterVec
	NotificationsTotal   *prometheus.CounterVec
	RetentionSaveSeconds prometheus.Histogram

	srv *http.Server
}

// NewRegistry builds a fresh set of collectors registered against their own
// prometheus.Registry (not the global default, so multiple instances in
// tests don't collide).
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		EventsQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sentryd",
			Name:      "events_queued",
			Help:      "Number of events currently pending in the scheduler's timer queue.",
		}),
		ChecksInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sentryd",
			Name:      "checks_in_flight",
			Help:      "Number of check jobs currently dispatched to the worker pool awaiting a result.",
		}),
		WorkerPoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sentryd",
			Name:      "worker_pool_size",
			Help:      "Number of live worker processes.",
		}),
		ChecksCompletedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentryd",
			Name:      "checks_completed_total",
			Help:      "Completed checks, labeled by check_type (host/service) and outcome (ok/timeout/error).",
		}, []string{"check_type", "outcome"}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentryd",
			Name:      "notifications_total",
			Help:      "Notifications sent, labeled by target (host/service).",
		}, []string{"target"}),
		RetentionSaveSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sentryd",
			Name:      "retention_save_seconds",
			Help:      "Time taken to write the state retention file.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		r.EventsQueued,
		r.ChecksInFlight,
		r.WorkerPoolSize,
		r.ChecksCompletedTotal,
		r.NotificationsTotal,
		r.RetentionSaveSeconds,
	)
	return r
}

// Serve starts an HTTP server exposing /metrics on addr. It returns once the
// listener is bound; the server itself runs in a background goroutine.
func (r *Registry) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))

	ln, err := listen(addr)
	if err != nil {
		return err
	}
	r.srv = &http.Server{Handler: mux}
	go r.srv.Serve(ln)
	return nil
}

// Stop shuts the metrics HTTP server down, if one was started.
func (r *Registry) Stop(ctx context.Context) error {
	if r.srv == nil {
		return nil
	}
	return r.srv.Shutdown(ctx)
}

// ObserveRetentionSave records how long a retention save took.
func (r *Registry) ObserveRetentionSave(d time.Duration) {
	r.RetentionSaveSeconds.Observe(d.Seconds())
}
