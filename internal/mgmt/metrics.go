// Package mgmt implements the thin, specified management-plane interface
// (§11): statistics(), dump_network(), dump_events(), and the HTTP handlers
// exposing them. It follows the teacher's internal/node/server.go shape —
// a *prometheus.CounterVec/*HistogramVec set registered at construction, a
// gorilla/mux router, and an instrumenting handler wrapper — applied to
// this node's management endpoints.
package mgmt

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the Prometheus collector set for the management HTTP plane
// itself (request count/duration per endpoint). The domain-level
// collectors statistics() also reports on — events applied/pending,
// gossip traffic, peer count, history-ring size, targeted-RPC latency —
// live in internal/metrics instead, updated directly by the components
// that produce them (eventlog, fanout, gossip, replog); promhttp.Handler
// serves all of it from the same default registry regardless of which
// package did the registering.
type Metrics struct {
	HTTPRequestTotal *prometheus.CounterVec
	HTTPRequestDur   *prometheus.HistogramVec
}

// NewMetrics constructs and registers the management-plane HTTP
// collectors. Call once per process — a second call against the default
// registry would panic on duplicate registration, same as
// prometheus.MustRegister anywhere else.
func NewMetrics() *Metrics {
	m := &Metrics{
		HTTPRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emberd_mgmt_requests_total",
			Help: "Total number of management-plane HTTP requests.",
		}, []string{"endpoint", "status"}),
		HTTPRequestDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "emberd_mgmt_request_duration_seconds",
			Help: "Management-plane HTTP request duration in seconds.",
		}, []string{"endpoint"}),
	}

	prometheus.MustRegister(m.HTTPRequestTotal, m.HTTPRequestDur)
	return m
}
