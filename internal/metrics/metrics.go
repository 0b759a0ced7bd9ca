// Package metrics exposes reconciliation counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aura/internal/logging"
	"aura/internal/protocol"
)

const namespace = "aura"

// Metrics holds the collectors on a private registry. It implements
// queue.Observer.
type Metrics struct {
	registry *prometheus.Registry

	eventsApplied *prometheus.CounterVec
	lookupMisses  *prometheus.CounterVec
	decodeErrors  *prometheus.CounterVec
	filesFinished *prometheus.CounterVec
	runActive     prometheus.Gauge
}

// New builds and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		eventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_applied_total",
			Help:      "Worker events applied to the queue.",
		}, []string{"event"}),
		lookupMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookup_misses_total",
			Help:      "File events whose path matched no queue item.",
		}, []string{"event"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Worker stdout lines rejected by the decoder.",
		}, []string{"kind"}),
		filesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_finished_total",
			Help:      "Files that reached a terminal outcome.",
		}, []string{"outcome"}),
		runActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_active",
			Help:      "1 while a worker run is in progress.",
		}),
	}
	m.registry.MustRegister(
		m.eventsApplied,
		m.lookupMisses,
		m.decodeErrors,
		m.filesFinished,
		m.runActive,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) EventApplied(event protocol.EventType) {
	m.eventsApplied.WithLabelValues(string(event)).Inc()
}

func (m *Metrics) LookupMiss(event protocol.EventType) {
	m.lookupMisses.WithLabelValues(string(event)).Inc()
}

func (m *Metrics) FileFinished(outcome string) {
	m.filesFinished.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RunActive(active bool) {
	if active {
		m.runActive.Set(1)
		return
	}
	m.runActive.Set(0)
}

// DecodeError counts a rejected stdout line.
func (m *Metrics) DecodeError(kind protocol.ErrorKind) {
	m.decodeErrors.WithLabelValues(string(kind)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	logger = logging.NewComponentLogger(logger, "metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", logging.String("addr", listener.Addr().String()))
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve metrics: %w", err)
	}
	return nil
}
