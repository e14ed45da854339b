package mgmt

import (
	"encoding/json"

	"emberd/internal/clock"
	"emberd/internal/eventlog"
	"emberd/internal/fanout"
	"emberd/internal/gossip"
	"emberd/internal/netstate"
)

// Statistics is the typed shape behind statistics() (§11): a point-in-time
// snapshot of node health assembled from the components' own counters,
// independent of whatever Prometheus exposes on /metrics.
type Statistics struct {
	EventsStored  int              `json:"events_stored"`
	EventsPending int              `json:"events_pending"`
	Peers         []PeerStatus     `json:"peers"`
	HistoryRings  int              `json:"history_ring_entries"`
}

// PeerStatus is one row of the peer table in Statistics.
type PeerStatus struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Enabled bool   `json:"enabled"`
}

// Sources bundles the components Collect reads from. Each field is a
// pointer to the live component; Collect calls only its read accessors
// and skips any field left nil.
type Sources struct {
	Log       *eventlog.EventLog
	Transport *gossip.Transport
	State     *netstate.NetworkState
	FanOut    *fanout.HistoryFanOut
}

// Collect assembles a Statistics snapshot from the live components.
func Collect(src Sources) Statistics {
	var peers []PeerStatus
	if src.Transport != nil {
		for _, p := range src.Transport.Peers() {
			peers = append(peers, PeerStatus{Name: p.Name, Address: p.Address, Enabled: p.Enabled()})
		}
	}

	stats := Statistics{Peers: peers}
	if src.Log != nil {
		stats.EventsStored = src.Log.StoredCount()
		stats.EventsPending = src.Log.PendingCount()
	}
	if src.FanOut != nil {
		stats.HistoryRings = src.FanOut.RingEntryCount()
	}
	return stats
}

// DumpNetwork returns the current NetworkState as the same JSON shape used
// for bootstrap snapshots (§11 dump_network()) — a debugging view, not a
// wire contract of its own.
func DumpNetwork(state *netstate.NetworkState) (json.RawMessage, error) {
	raw, _, err := state.Snapshot()
	return raw, err
}

// DumpEvents returns every event currently stored in the log, the same
// shape GetSince uses for peer sync (§11 dump_events()) — queried from the
// zero clock so nothing is excluded.
func DumpEvents(log *eventlog.EventLog) (json.RawMessage, error) {
	events := log.GetSince(clock.New())
	return json.Marshal(events)
}
