package fanout

import (
	"encoding/json"

	"emberd/internal/clock"
	"emberd/internal/event"
	"emberd/internal/metrics"
	"emberd/internal/netstate"
)

// Host bridges NetworkState and HistoryFanOut into the single seam
// ReplicatedEventLog needs (replog.NetworkStateHost): Apply feeds one event
// through the reducer and publishes everything it produced; Snapshot/Import
// delegate straight through, since bootstrap transfers reducer state only —
// history rings are node-local and are never part of the wire snapshot.
type Host struct {
	ns     *netstate.NetworkState
	fanout *HistoryFanOut
}

// NewHost ties ns and f together behind the replog.NetworkStateHost seam.
func NewHost(ns *netstate.NetworkState, f *HistoryFanOut) *Host {
	return &Host{ns: ns, fanout: f}
}

func (h *Host) Apply(ev event.Event) {
	changes := h.ns.ApplyEvent(ev)
	metrics.EventsApplied.Inc()
	if len(changes) == 0 {
		return
	}
	h.fanout.Publish(changes)
}

func (h *Host) Snapshot() (json.RawMessage, *clock.EventClock, error) {
	return h.ns.Snapshot()
}

func (h *Host) Import(snapshot json.RawMessage) (*clock.EventClock, error) {
	return h.ns.Import(snapshot)
}
