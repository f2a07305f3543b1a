// Package metrics exposes crawl progress as Prometheus metrics.
//
// A Collector owns its own registry, so several crawls in one process (or
// parallel tests) never collide on metric names. It implements the
// crawler's Observer and is served over HTTP by Serve.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nao1215/minispider/internal/crawler"
)

// Namespace prefixes every metric name.
const Namespace = "minispider"

// shutdownTimeout bounds the graceful shutdown of the metrics server.
const shutdownTimeout = 5 * time.Second

// Collector records crawl metrics.
type Collector struct {
	registry *prometheus.Registry

	jobsTotal   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	mediaTotal  prometheus.Counter
	mediaBytes  prometheus.Counter
	queuedURLs  prometheus.Gauge
	seenURLs    prometheus.Gauge
}

var _ crawler.Observer = (*Collector)(nil)

// NewCollector creates a Collector with a fresh registry. The registry also
// carries the Go runtime and process collectors.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		jobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "jobs_total",
				Help:      "Processed crawl jobs by outcome.",
			},
			[]string{"outcome"},
		),
		jobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "job_duration_seconds",
				Help:      "Time from dequeue to terminal state of a crawl job.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
			},
			[]string{"outcome"},
		),
		mediaTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "media_stored_total",
			Help:      "Media files stored.",
		}),
		mediaBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "media_stored_bytes_total",
			Help:      "Bytes of media stored.",
		}),
		queuedURLs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "frontier_queued_urls",
			Help:      "Jobs waiting in the frontier.",
		}),
		seenURLs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "frontier_seen_urls",
			Help:      "Distinct URLs scheduled so far.",
		}),
	}
}

// ObserveJob counts a finished job.
func (c *Collector) ObserveJob(outcome crawler.Outcome, elapsed time.Duration) {
	label := outcome.String()
	c.jobsTotal.WithLabelValues(label).Inc()
	c.jobDuration.WithLabelValues(label).Observe(elapsed.Seconds())
}

// ObserveMedia counts a stored media file of size bytes.
func (c *Collector) ObserveMedia(size int) {
	c.mediaTotal.Inc()
	c.mediaBytes.Add(float64(size))
}

// ObserveFrontier records the frontier size.
func (c *Collector) ObserveFrontier(queued, seen int) {
	c.queuedURLs.Set(float64(queued))
	c.seenURLs.Set(float64(seen))
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Serve exposes /metrics on addr until ctx is cancelled. It returns nil
// after a clean shutdown.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return c.serve(ctx, ln)
}

func (c *Collector) serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
