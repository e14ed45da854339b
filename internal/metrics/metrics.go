// Package metrics holds the domain-level Prometheus collectors backing
// statistics() (§11): events applied, events pending, gossip messages
// sent/received, peer count, history-ring size, targeted-RPC latency.
// They live in their own package, registered once at process start,
// rather than inside internal/mgmt, because the packages that actually
// produce these numbers (eventlog, fanout, gossip, replog) sit below
// mgmt in the import graph and cannot import it back. internal/mgmt's
// own Metrics keeps only the management-plane HTTP collectors — these
// are exported here for every component that moves the underlying
// counters to update directly, and for mgmt's /metrics handler, which
// serves the whole default Prometheus registry regardless of which
// package registered what.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	EventsApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "emberd_events_applied_total",
		Help: "Total number of events applied to NetworkState.",
	})
	EventsPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "emberd_events_pending",
		Help: "Number of events buffered in the EventLog awaiting their dependencies.",
	})
	GossipMessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "emberd_gossip_messages_sent_total",
		Help: "Total number of gossip frames sent to peers.",
	})
	GossipMessagesRecv = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "emberd_gossip_messages_received_total",
		Help: "Total number of gossip frames received from peers.",
	})
	PeerCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "emberd_peer_count",
		Help: "Number of configured gossip peers.",
	})
	HistoryRingEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "emberd_history_ring_entries",
		Help: "Total entries currently held across all per-user history rings.",
	})
	TargetedRPCLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "emberd_targeted_rpc_latency_seconds",
		Help: "Latency of targeted (server-to-server) RPC round trips.",
	})
)

func init() {
	prometheus.MustRegister(
		EventsApplied,
		EventsPending,
		GossipMessagesSent,
		GossipMessagesRecv,
		PeerCount,
		HistoryRingEntries,
		TargetedRPCLatency,
	)
}
