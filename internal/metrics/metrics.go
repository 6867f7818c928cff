// Package metrics exports soak trial counters in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deixis/soak/internal/report"
)

// Collector records trial outcomes and durations. It is safe for
// concurrent use by parallel trial workers.
type Collector struct {
	registry *prometheus.Registry
	trials   *prometheus.CounterVec
	duration prometheus.Histogram
	inFlight prometheus.Gauge
}

// New creates a Collector registered on its own registry, so several
// collectors (e.g. one per MCP-triggered run) never collide.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		trials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "soak_trials_total",
				Help: "Completed trials by outcome",
			},
			[]string{"outcome"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "soak_trial_duration_seconds",
				Help:    "Wall time of a trial from start to exit",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
			},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "soak_trials_in_flight",
				Help: "Trials currently running",
			},
		),
	}
	c.registry.MustRegister(c.trials, c.duration, c.inFlight)
	return c
}

// TrialStarted marks a trial as running.
func (c *Collector) TrialStarted(int) {
	c.inFlight.Inc()
}

// TrialFinished records a completed trial.
func (c *Collector) TrialFinished(rec report.TrialRecord) {
	c.inFlight.Dec()
	c.trials.WithLabelValues(string(rec.Outcome)).Inc()
	c.duration.Observe(rec.Duration.Seconds())
}

// TrialAborted marks a trial the harness interrupted. It is not counted
// under any outcome.
func (c *Collector) TrialAborted(int) {
	c.inFlight.Dec()
}

// Handler serves the collector's metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
