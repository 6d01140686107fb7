// Package metrics exposes pipeline counters to Prometheus.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "klingsign"

// Metrics holds the daemon's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	RequestsCreated  *prometheus.CounterVec   // kind
	RequestsFinished *prometheus.CounterVec   // kind, status
	PendingRequests  *prometheus.GaugeVec     // kind
	TxBuilt          *prometheus.CounterVec   // chain, extrinsic_type, outcome
	TxBuildDuration  *prometheus.HistogramVec // chain_type
	TxSubmitted      *prometheus.CounterVec   // chain
	TxFinished       *prometheus.CounterVec   // chain, status
	Subscriptions    prometheus.Gauge
	RPCCalls         *prometheus.CounterVec // method, outcome
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RequestsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_created_total",
			Help:      "Pending requests created.",
		}, []string{"kind"}),
		RequestsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_finished_total",
			Help:      "Pending requests that reached a terminal state.",
		}, []string{"kind", "status"}),
		PendingRequests: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_pending",
			Help:      "Requests currently awaiting resolution.",
		}, []string{"kind"}),
		TxBuilt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_built_total",
			Help:      "Transaction build attempts by outcome.",
		}, []string{"chain", "extrinsic_type", "outcome"}),
		TxBuildDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transaction_build_duration_seconds",
			Help:      "Time spent building and validating a transaction.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"chain_type"}),
		TxSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_submitted_total",
			Help:      "Transactions broadcast to a chain.",
		}, []string{"chain"}),
		TxFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_finished_total",
			Help:      "Transactions that succeeded or failed on chain.",
		}, []string{"chain", "status"}),
		Subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions_active",
			Help:      "Live push subscriptions.",
		}),
		RPCCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_calls_total",
			Help:      "JSON-RPC calls by method and outcome.",
		}, []string{"method", "outcome"}),
	}

	m.registry.MustRegister(
		m.RequestsCreated,
		m.RequestsFinished,
		m.PendingRequests,
		m.TxBuilt,
		m.TxBuildDuration,
		m.TxSubmitted,
		m.TxFinished,
		m.Subscriptions,
		m.RPCCalls,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RequestCreated(kind string) {
	if m == nil {
		return
	}
	m.RequestsCreated.WithLabelValues(kind).Inc()
	m.PendingRequests.WithLabelValues(kind).Inc()
}

func (m *Metrics) RequestFinished(kind, status string) {
	if m == nil {
		return
	}
	m.RequestsFinished.WithLabelValues(kind, status).Inc()
	m.PendingRequests.WithLabelValues(kind).Dec()
}

// Built records a build attempt. outcome is "ok", "error" or "warning".
func (m *Metrics) Built(chainSlug, extrinsicType, chainType, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.TxBuilt.WithLabelValues(chainSlug, extrinsicType, outcome).Inc()
	m.TxBuildDuration.WithLabelValues(chainType).Observe(took.Seconds())
}

func (m *Metrics) Submitted(chainSlug string) {
	if m == nil {
		return
	}
	m.TxSubmitted.WithLabelValues(chainSlug).Inc()
}

func (m *Metrics) Finished(chainSlug, status string) {
	if m == nil {
		return
	}
	m.TxFinished.WithLabelValues(chainSlug, status).Inc()
}

func (m *Metrics) SubscriptionOpened() {
	if m == nil {
		return
	}
	m.Subscriptions.Inc()
}

func (m *Metrics) SubscriptionClosed() {
	if m == nil {
		return
	}
	m.Subscriptions.Dec()
}

func (m *Metrics) RPCCall(method, outcome string) {
	if m == nil {
		return
	}
	m.RPCCalls.WithLabelValues(method, outcome).Inc()
}
