// Package metrics exposes load test progress as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "landmarkload"

// Collector owns a private registry so several runs in one process (tests)
// never collide on the default one.
type Collector struct {
	Registry *prometheus.Registry

	attempts       *prometheus.CounterVec
	duration       prometheus.Histogram
	usersCompleted prometheus.Counter
	inflight       prometheus.Gauge
}

func NewCollector() *Collector {
	c := &Collector{
		Registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_total",
				Help:      "Request attempts, partitioned by outcome.",
			},
			[]string{"outcome"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "attempt_duration_seconds",
				Help:      "Latency of successful request attempts.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
			},
		),
		usersCompleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "users_completed_total",
				Help:      "Simulated users that finished all their attempts.",
			},
		),
		inflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "inflight_requests",
				Help:      "Requests currently waiting on the target.",
			},
		),
	}
	c.Registry.MustRegister(c.attempts, c.duration, c.usersCompleted, c.inflight)
	return c
}

func (c *Collector) AttemptStarted() {
	c.inflight.Inc()
}

func (c *Collector) AttemptFinished(outcome string, success bool, latency time.Duration) {
	c.inflight.Dec()
	c.attempts.WithLabelValues(outcome).Inc()
	if success {
		c.duration.Observe(latency.Seconds())
	}
}

func (c *Collector) UserCompleted() {
	c.usersCompleted.Inc()
}

func (c *Collector) UsersCompleted() prometheus.Counter {
	return c.usersCompleted
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{})
}

// Serve listens on addr and serves /metrics until ctx is done. A bind
// failure is returned synchronously.
func (c *Collector) Serve(ctx context.Context, addr string, log zerolog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen on %s: %w", addr, err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", c.Handler())
	srv := &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	log.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")
	return nil
}
