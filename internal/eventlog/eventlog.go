// Package eventlog implements the causal event log: EventLog stamps and
// orders events by causal dependency so that every node reduces each
// event against the same antecedent state (spec §4.2).
package eventlog

import (
	"sort"
	"sync"
	"time"

	"emberd/internal/clock"
	"emberd/internal/event"
	"emberd/internal/ids"
	"emberd/internal/logging"
	"emberd/internal/metrics"
)

// maxBackfillRun bounds how many individual EventIds MissingIdsFor will
// enumerate for a single lagging server: only the most recent
// maxBackfillRun ids are listed (the earlier ones follow via the
// pending-buffer cascade once the first batch lands, or via an explicit
// SyncRequest).
const maxBackfillRun = 256

// EventLog is the per-node causal log. It is safe for concurrent use.
type EventLog struct {
	mu sync.Mutex

	server ids.ServerId
	epoch  ids.EpochId
	seq    ids.LocalSeq

	currentClock *clock.EventClock
	events       map[ids.EventId]event.Event
	pending      map[ids.EventId]event.Event

	ready chan event.Event
}

// New constructs an EventLog for a node with the given identity. The
// current clock starts empty; Adopt can replace it wholesale after a
// bootstrap snapshot import.
func New(server ids.ServerId, epoch ids.EpochId) *EventLog {
	return &EventLog{
		server:       server,
		epoch:        epoch,
		currentClock: clock.New(),
		events:       make(map[ids.EventId]event.Event),
		pending:      make(map[ids.EventId]event.Event),
		ready:        make(chan event.Event, 256),
	}
}

// Ready returns the channel on which causally-ready events are emitted, in
// the order Add makes them ready. A single consumer (ReplicatedEventLog,
// wired to the netstate reducer) is expected to drain it.
func (l *EventLog) Ready() <-chan event.Event { return l.ready }

// Clock returns the log's current causal position. The returned clock is a
// defensive clone; mutating it has no effect on the log.
func (l *EventLog) Clock() *clock.EventClock {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentClock.Clone()
}

// Create stamps a new Event for target/details: a fresh EventId monotonic
// within this node's epoch, the current wall-clock timestamp, and a copy
// of the current clock as the dependency clock. It does not add the event
// to the log — the caller (ReplicatedEventLog.Submit) does that.
func (l *EventLog) Create(target ids.ObjectId, details event.Details) event.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return event.Event{
		Id:        ids.EventId{Server: l.server, Epoch: l.epoch, Seq: l.seq.Next()},
		Timestamp: time.Now().Unix(),
		Clock:     l.currentClock.Clone(),
		Target:    target,
		Details:   details,
	}
}

// Add is idempotent: if ev.Id is already in the log, it is a no-op. If
// ev's dependency clock is satisfied by the log's current clock, ev is
// inserted, the current clock advances to include ev.Id, ev is emitted on
// Ready (along with any pending events ev's arrival unblocks, in causal
// order), and true is returned. Otherwise ev is buffered and false is
// returned — the caller should request ev's missing dependencies.
func (l *EventLog) Add(ev event.Event) bool {
	l.mu.Lock()
	newlyReady, added := l.addLocked(ev)
	pending := len(l.pending)
	l.mu.Unlock()

	metrics.EventsPending.Set(float64(pending))
	for _, e := range newlyReady {
		l.ready <- e
	}
	return added
}

func (l *EventLog) addLocked(ev event.Event) ([]event.Event, bool) {
	if _, ok := l.events[ev.Id]; ok {
		return nil, false
	}
	if _, ok := l.pending[ev.Id]; ok {
		return nil, false
	}

	if !l.hasDependenciesForLocked(ev) {
		l.pending[ev.Id] = ev
		logging.Debug("eventlog: buffering %s, dependencies unmet", ev.Id)
		return nil, false
	}

	var newlyReady []event.Event
	l.insertLocked(ev)
	newlyReady = append(newlyReady, ev)
	newlyReady = append(newlyReady, l.sweepPendingLocked()...)
	return newlyReady, true
}

func (l *EventLog) hasDependenciesForLocked(ev event.Event) bool {
	if ev.Clock == nil {
		return true
	}
	return ev.Clock.LessOrEqual(l.currentClock)
}

func (l *EventLog) insertLocked(ev event.Event) {
	l.events[ev.Id] = ev
	l.currentClock.UpdateWith(ev.Id)
}

// sweepPendingLocked repeatedly scans the pending buffer for entries whose
// dependencies are now satisfied, in case the just-inserted event
// unblocked them (and possibly others it in turn unblocks).
func (l *EventLog) sweepPendingLocked() []event.Event {
	var unblocked []event.Event
	for {
		progressed := false
		for id, ev := range l.pending {
			if l.hasDependenciesForLocked(ev) {
				delete(l.pending, id)
				l.insertLocked(ev)
				unblocked = append(unblocked, ev)
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	return unblocked
}

// MissingIdsFor returns the EventIds referenced by c that are not yet
// present in the log, used to form a GetEvent backfill request. The
// result is best-effort: a server whose clock lags by more than
// maxBackfillRun positions yields only its most recent maxBackfillRun ids,
// and a server whose incarnation has changed yields a single
// representative id rather than every intermediate one — the remainder
// cascades in once those ids' dependencies are met. A server the log has
// seen nothing from is enumerated from seq 1.
func (l *EventLog) MissingIdsFor(c *clock.EventClock) []ids.EventId {
	l.mu.Lock()
	defer l.mu.Unlock()

	var missing []ids.EventId
	for server, target := range c.Snapshot() {
		have := l.currentClock.Get(server)
		if have.Compare(target) >= 0 {
			continue
		}
		if have.Epoch != target.Epoch && have != (clock.Position{}) {
			missing = append(missing, ids.EventId{Server: server, Epoch: target.Epoch, Seq: target.Seq})
			continue
		}
		start := have.Seq + 1
		end := target.Seq
		if end-start+1 > maxBackfillRun {
			start = end - maxBackfillRun + 1
		}
		for seq := start; seq <= end; seq++ {
			missing = append(missing, ids.EventId{Server: server, Epoch: target.Epoch, Seq: seq})
		}
	}
	return missing
}

// Get returns the stored event for id, if present (in either the log or
// the pending buffer — peers asking GetEvent want whichever we have).
func (l *EventLog) Get(id ids.EventId) (event.Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ev, ok := l.events[id]; ok {
		return ev, true
	}
	ev, ok := l.pending[id]
	return ev, ok
}

// GetSince returns events whose id's position exceeds what c records for
// that event's originating server, ordered by (server, seq) for
// determinism. This backs SyncRequest.
func (l *EventLog) GetSince(c *clock.EventClock) []event.Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []event.Event
	for id, ev := range l.events {
		have := c.Get(id.Server)
		pos := clock.Position{Epoch: id.Epoch, Seq: id.Seq}
		if have.Compare(pos) < 0 {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Id.Less(out[j].Id)
	})
	return out
}

// PruneBefore drops events older than ts from the stored history. The log
// is finite; long-term history is the remote store's concern (§4.2).
func (l *EventLog) PruneBefore(ts int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, ev := range l.events {
		if ev.Timestamp < ts {
			delete(l.events, id)
		}
	}
}

// Adopt replaces the log's current clock wholesale, as happens after
// importing a bootstrap NetworkState snapshot (§4.3, §S5). It does not
// alter the stored event history.
func (l *EventLog) Adopt(c *clock.EventClock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.currentClock = c.Clone()
}

// ExportAll returns every event the log holds — stored and pending — plus
// its current clock, for the hot-upgrade ServerState blob (§6 "log_state").
// Unlike GetSince it is not filtered against a baseline clock: a restore
// needs everything, including events still waiting on dependencies.
func (l *EventLog) ExportAll() (stored, pending []event.Event, c *clock.EventClock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		stored = append(stored, ev)
	}
	for _, ev := range l.pending {
		pending = append(pending, ev)
	}
	return stored, pending, l.currentClock.Clone()
}

// RestoreAll replaces the log's contents wholesale with stored/pending
// events and clock, as happens when a hot-upgraded process restores state
// from its predecessor's ServerState blob. It does not replay Ready — the
// restoring process is expected to already have its reducer primed from
// the accompanying NetworkState snapshot, not from re-applying history.
func (l *EventLog) RestoreAll(stored, pending []event.Event, c *clock.EventClock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = make(map[ids.EventId]event.Event, len(stored))
	for _, ev := range stored {
		l.events[ev.Id] = ev
	}
	l.pending = make(map[ids.EventId]event.Event, len(pending))
	for _, ev := range pending {
		l.pending[ev.Id] = ev
	}
	l.currentClock = c.Clone()
	metrics.EventsPending.Set(float64(len(l.pending)))
}

// PendingCount reports how many events are buffered awaiting dependencies
// — surfaced via statistics() (§6).
func (l *EventLog) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// StoredCount reports how many events are currently retained in the log.
func (l *EventLog) StoredCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}
