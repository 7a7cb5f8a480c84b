// Package metrics exposes the client's sync counters to Prometheus.
//
// Every method on *Metrics is safe to call on a nil receiver, so components
// take a *Metrics and never check whether metrics are enabled.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "replica"

// Metrics holds the client's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	framesReceived     prometheus.Counter
	decodeErrors       prometheus.Counter
	admissions         *prometheus.CounterVec
	forwarded          prometheus.Counter
	resultsSent        prometheus.Counter
	resultsUnsent      prometheus.Gauge
	connects           prometheus.Counter
	connectFailures    prometheus.Counter
	backoffSeconds     prometheus.Gauge
	pending            prometheus.Gauge
	sessionEstablished prometheus.Gauge
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Frames read from the store connection.",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Frames dropped because they could not be decoded.",
		}),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Inbound messages by dedup gate outcome.",
		}, []string{"outcome"}),
		forwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_forwarded_total",
			Help:      "Messages published to the worker.",
		}),
		resultsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_sent_total",
			Help:      "Pipeline results transmitted to the store.",
		}),
		resultsUnsent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "results_unsent",
			Help:      "Logged results waiting for a connection.",
		}),
		connects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connects_total",
			Help:      "Successful connections to the store.",
		}),
		connectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_failures_total",
			Help:      "Failed or lost connections.",
		}),
		backoffSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backoff_seconds",
			Help:      "Current reconnect wait.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_messages",
			Help:      "Requests awaiting a terminal status.",
		}),
		sessionEstablished: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_established",
			Help:      "1 when the store has acknowledged the current handshake.",
		}),
	}

	m.registry.MustRegister(
		m.framesReceived,
		m.decodeErrors,
		m.admissions,
		m.forwarded,
		m.resultsSent,
		m.resultsUnsent,
		m.connects,
		m.connectFailures,
		m.backoffSeconds,
		m.pending,
		m.sessionEstablished,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) FrameReceived() {
	if m != nil {
		m.framesReceived.Inc()
	}
}

func (m *Metrics) DecodeError() {
	if m != nil {
		m.decodeErrors.Inc()
	}
}

// Admission counts one dedup gate outcome.
func (m *Metrics) Admission(outcome string) {
	if m != nil {
		m.admissions.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Forwarded() {
	if m != nil {
		m.forwarded.Inc()
	}
}

func (m *Metrics) ResultSent() {
	if m != nil {
		m.resultsSent.Inc()
	}
}

func (m *Metrics) SetUnsent(n int) {
	if m != nil {
		m.resultsUnsent.Set(float64(n))
	}
}

func (m *Metrics) Connected() {
	if m != nil {
		m.connects.Inc()
	}
}

// Disconnected records a failed or lost connection and the wait before the
// next attempt.
func (m *Metrics) Disconnected(wait time.Duration) {
	if m != nil {
		m.connectFailures.Inc()
		m.backoffSeconds.Set(wait.Seconds())
	}
}

func (m *Metrics) SetPending(n int) {
	if m != nil {
		m.pending.Set(float64(n))
	}
}

func (m *Metrics) SetSessionEstablished(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.sessionEstablished.Set(1)
	} else {
		m.sessionEstablished.Set(0)
	}
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
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
	logger.Info("metrics listening", "addr", addr)

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics: shutdown: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics: %w", err)
		}
		return nil
	}
}
