// Package metrics exposes Prometheus instrumentation for the gateway flows and
// their outbound calls. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	gwerrors "github.com/kweaver-ai/consolegate/internal/errors"
)

// Outcome labels
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Metrics holds all Prometheus metrics for the gateway
type Metrics struct {
	// Per product flow metrics (login, callback, sso, refresh, logout, ...)
	Flows        *prometheus.CounterVec
	FlowDuration *prometheus.HistogramVec

	// Outbound call metrics
	UpstreamCalls    *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec

	SideChannelFailures *prometheus.CounterVec
	RateLimited         *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		Flows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consolegate_flows_total",
				Help: "Total number of gateway flows by product, flow and outcome code",
			},
			[]string{"product", "flow", "outcome"},
		),
		FlowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "consolegate_flow_duration_seconds",
				Help:    "Gateway flow duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"product", "flow"},
		),
		UpstreamCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consolegate_upstream_calls_total",
				Help: "Total number of outbound calls by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		UpstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "consolegate_upstream_duration_seconds",
				Help:    "Outbound call latency in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"},
		),
		SideChannelFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consolegate_side_channel_failures_total",
				Help: "Audit and observability calls that failed and were discarded",
			},
			[]string{"channel"},
		),
		RateLimited: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consolegate_rate_limited_total",
				Help: "Requests rejected by the login rate limiter",
			},
			[]string{"product", "flow"},
		),
	}
}

// ObserveFlow records the end of a gateway flow. The outcome label is the error
// code for failures so dashboards can split state mismatches from upstream errors.
func (m *Metrics) ObserveFlow(product, flow string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.Flows.WithLabelValues(product, flow, outcomeOf(err)).Inc()
	m.FlowDuration.WithLabelValues(product, flow).Observe(time.Since(start).Seconds())
}

// ObserveUpstream records one outbound call
func (m *Metrics) ObserveUpstream(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	m.UpstreamCalls.WithLabelValues(operation, outcome).Inc()
	m.UpstreamDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) SideChannelFailed(channel string) {
	if m == nil {
		return
	}
	m.SideChannelFailures.WithLabelValues(channel).Inc()
}

func (m *Metrics) Throttled(product, flow string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(product, flow).Inc()
}

func outcomeOf(err error) string {
	if err == nil {
		return OutcomeSuccess
	}
	if gwErr, ok := gwerrors.As(err); ok {
		return string(gwErr.Code)
	}
	return OutcomeError
}
