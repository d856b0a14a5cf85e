// Package telemetry observes dispatch through pluggable hooks: Prometheus
// counters and histograms, and OpenTelemetry spans per category dispatch.
package telemetry

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"relaybot/pkg/pluggable"
)

const namespace = "relaybot"

// Metrics holds the dispatch and correlation collectors.
type Metrics struct {
	handlerTotal     *prometheus.CounterVec
	handlerSeconds   *prometheus.HistogramVec
	correlationTotal *prometheus.CounterVec

	registerer prometheus.Registerer

	mu         sync.Mutex
	registered bool
}

// NewMetrics builds unregistered collectors. A nil registerer selects the
// Prometheus default registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		registerer: registerer,
		handlerTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "handler_total",
			Help:      "Handler invocations by category and outcome",
		}, []string{"category", "outcome"}),
		handlerSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "handler_seconds",
			Help:      "Handler invocation latency",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30, 60},
		}, []string{"category"}),
		correlationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "correlation_total",
			Help:      "Correlation registry operations by kind and operation",
		}, []string{"kind", "op"}),
	}
}

// Register registers the collectors. Calling it again is a no-op.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	for _, c := range []prometheus.Collector{m.handlerTotal, m.handlerSeconds, m.correlationTotal} {
		if err := m.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// Hooks records every handler invocation.
func (m *Metrics) Hooks() pluggable.Hooks {
	return pluggable.Hooks{
		OnHandler: func(_ context.Context, call pluggable.HandlerCall) {
			m.handlerTotal.WithLabelValues(call.Category, string(call.Outcome)).Inc()
			m.handlerSeconds.WithLabelValues(call.Category).Observe(call.Duration.Seconds())
		},
	}
}

// Observe counts one correlation registry operation.
func (m *Metrics) Observe(kind string, op string) {
	m.correlationTotal.WithLabelValues(kind, op).Inc()
}
