package fanout

import (
	"sync"
	"time"

	"emberd/internal/ids"
	"emberd/internal/metrics"
	"emberd/internal/netstate"
	"emberd/internal/policy"
)

const (
	defaultRingSize       = 500
	defaultRingTTL        = 24 * time.Hour
	cleanupSweepInterval  = 30 * time.Second
	subscriberChannelSize = 256
)

// HistoryFanOut implements §4.5: it turns each StateChange netstate produces
// into the set of UserIds that must observe it, appends an entry to each of
// their per-user rings, and publishes a HistoryUpdate for every change
// (including audience-less ones, for node-local log consumers) on its
// subscriber channel.
type HistoryFanOut struct {
	ns     *netstate.NetworkState
	policy policy.Policy

	ringSize int
	ringTTL  time.Duration

	mu    sync.RWMutex
	rings map[ids.ObjectId]*ring

	updates chan HistoryUpdate
	cleanup chan struct{}
	once    sync.Once
}

// Option configures a HistoryFanOut at construction time.
type Option func(*HistoryFanOut)

// WithRingLimits overrides the default per-user ring bound and TTL.
func WithRingLimits(maxCount int, ttl time.Duration) Option {
	return func(f *HistoryFanOut) {
		f.ringSize = maxCount
		f.ringTTL = ttl
	}
}

// New constructs a HistoryFanOut reading channel membership from ns.
func New(ns *netstate.NetworkState, pol policy.Policy, opts ...Option) *HistoryFanOut {
	f := &HistoryFanOut{
		ns:       ns,
		policy:   pol,
		ringSize: defaultRingSize,
		ringTTL:  defaultRingTTL,
		rings:    make(map[ids.ObjectId]*ring),
		updates:  make(chan HistoryUpdate, subscriberChannelSize),
		cleanup:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Updates returns the subscriber channel the client-protocol layer reads
// HistoryUpdates from. There is exactly one: fan-out to multiple in-process
// consumers, if ever needed, is the caller's job.
func (f *HistoryFanOut) Updates() <-chan HistoryUpdate { return f.updates }

// Start launches the background ring-pruning worker, grounded on the same
// ticker-plus-stop-channel shape the node's in-memory storage layer uses
// for its own TTL sweeps.
func (f *HistoryFanOut) Start() {
	go f.pruneWorker()
}

func (f *HistoryFanOut) pruneWorker() {
	ticker := time.NewTicker(cleanupSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			f.pruneExpired()
		case <-f.cleanup:
			return
		}
	}
}

func (f *HistoryFanOut) pruneExpired() {
	now := time.Now()
	f.mu.RLock()
	rings := make([]*ring, 0, len(f.rings))
	for _, r := range f.rings {
		rings = append(rings, r)
	}
	f.mu.RUnlock()
	for _, r := range rings {
		r.pruneExpired(now)
	}
	metrics.HistoryRingEntries.Set(float64(f.RingEntryCount()))
}

// Close stops the prune worker. It does not close the updates channel —
// the caller is expected to stop reading once it has also stopped calling
// Publish.
func (f *HistoryFanOut) Close() {
	f.once.Do(func() { close(f.cleanup) })
}

func (f *HistoryFanOut) ringFor(user ids.ObjectId) *ring {
	f.mu.RLock()
	r, ok := f.rings[user]
	f.mu.RUnlock()
	if ok {
		return r
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rings[user]; ok {
		return r
	}
	r = newRing(f.ringSize, f.ringTTL)
	f.rings[user] = r
	return r
}

// Publish computes the audience for each change, appends an entry to every
// audience member's ring, and sends one HistoryUpdate per change on the
// subscriber channel — even when the audience is empty, so node-local
// consumers (the audit log, metrics) still see NewServer/ServerQuit/
// NewAuditLogEntry/EventComplete go by. Called by the ReplicatedEventLog's
// reducer-feed goroutine after the change's event has been fully applied
// and the state write lock released (§4.4 update sink buffering) — never
// while that lock is held.
//
// The send to f.updates blocks if the subscriber is behind (§4.4's
// reducer-to-fan-out path is unbounded, unlike the bounded per-connection
// client-protocol send queue downstream of it, which drops its slowest
// reader instead) — a full channel here means the client-protocol layer
// itself is wedged, and dropping history updates to keep the reducer's
// feed loop moving would silently desync a subscriber's chat history
// rather than just delay it.
func (f *HistoryFanOut) Publish(changes []netstate.StateChange) {
	now := time.Now()
	for _, c := range changes {
		audience := audienceFor(f.ns, f.policy, c)
		update := HistoryUpdate{
			EventId:       c.EventId,
			Timestamp:     c.Timestamp,
			Change:        c,
			UsersToNotify: audience,
		}
		for _, u := range audience {
			f.ringFor(u).append(update, now)
		}

		f.updates <- update
	}
}

// Forward returns up to limit ring entries for user with Seq > from,
// oldest first (limit 0 means unlimited) — the forward-from-id half of the
// chat-history protocol (§4.5).
func (f *HistoryFanOut) Forward(user ids.ObjectId, from uint64, limit int) []Entry {
	f.mu.RLock()
	r, ok := f.rings[user]
	f.mu.RUnlock()
	if !ok {
		return nil
	}
	return r.forwardFrom(from, limit)
}

// Reverse returns up to limit ring entries for user with Seq < from (or all
// of them, if from is 0), newest first — the reverse-from-id half.
func (f *HistoryFanOut) Reverse(user ids.ObjectId, from uint64, limit int) []Entry {
	f.mu.RLock()
	r, ok := f.rings[user]
	f.mu.RUnlock()
	if !ok {
		return nil
	}
	return r.reverseFrom(from, limit)
}

// RingEntryCount returns the total number of entries currently held across
// every per-user ring, for statistics() (§11).
func (f *HistoryFanOut) RingEntryCount() int {
	f.mu.RLock()
	rings := make([]*ring, 0, len(f.rings))
	for _, r := range f.rings {
		rings = append(rings, r)
	}
	f.mu.RUnlock()

	total := 0
	for _, r := range rings {
		r.mu.RLock()
		total += len(r.entries)
		r.mu.RUnlock()
	}
	return total
}
