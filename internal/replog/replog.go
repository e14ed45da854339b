package replog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"emberd/internal/clock"
	"emberd/internal/event"
	"emberd/internal/eventlog"
	"emberd/internal/gossip"
	"emberd/internal/ids"
	"emberd/internal/logging"
	"emberd/internal/metrics"
)

// targetedRPCTimeout is the end-to-end budget for a TargetedMessage round
// trip (§4.3).
const targetedRPCTimeout = 5 * time.Second

// bootstrapAttempts is how many configured peers to try before warning the
// operator that this may be the first node of a new network (§4.3).
const bootstrapAttempts = 3

// ErrResponseTimeout is returned by SendTargeted when no response arrives
// within targetedRPCTimeout.
var ErrResponseTimeout = errors.New("replog: response timeout")

// NetworkStateHost is the reducer-facing seam ReplicatedEventLog needs:
// apply a causally-ready event, and serialize/import a full snapshot for
// bootstrap. Kept minimal and interface-shaped so this package does not
// import netstate.
type NetworkStateHost interface {
	Apply(ev event.Event)
	Snapshot() (json.RawMessage, *clock.EventClock, error)
	Import(snapshot json.RawMessage) (*clock.EventClock, error)
}

// RPCHandler answers a TargetedMessage addressed to this node, e.g. the
// client-protocol layer's node-local command handler.
type RPCHandler func(content json.RawMessage) (json.RawMessage, error)

// ReplicatedEventLog is the network-facing wrapper around an EventLog and a
// GossipTransport (§4.3).
type ReplicatedEventLog struct {
	log       *eventlog.EventLog
	transport *gossip.Transport
	self      ids.Incarnation
	selfName  string

	mu         sync.RWMutex
	state      NetworkStateHost
	rpc        RPCHandler
	tombstones map[ids.Incarnation]struct{}
}

// New constructs a ReplicatedEventLog for a node with the given identity,
// wrapping log and transport. SetStateHost and SetRPCHandler must be
// called before Start if the reducer and node-local RPC handling are to be
// wired in (they can be nil for tests that only exercise replication).
func New(log *eventlog.EventLog, transport *gossip.Transport, self ids.Incarnation, selfName string) *ReplicatedEventLog {
	return &ReplicatedEventLog{
		log:        log,
		transport:  transport,
		self:       self,
		selfName:   selfName,
		tombstones: make(map[ids.Incarnation]struct{}),
	}
}

func (r *ReplicatedEventLog) SetStateHost(h NetworkStateHost) { r.mu.Lock(); r.state = h; r.mu.Unlock() }
func (r *ReplicatedEventLog) SetRPCHandler(h RPCHandler)       { r.mu.Lock(); r.rpc = h; r.mu.Unlock() }

// Start runs the reducer-feed loop (draining EventLog.Ready into the
// NetworkStateHost) and the inbound gossip listener. It blocks until ctx is
// cancelled.
func (r *ReplicatedEventLog) Start(ctx context.Context, listenAddr string) error {
	go r.feedReducer(ctx)
	return r.transport.Listen(ctx, listenAddr, r.handleFrame)
}

func (r *ReplicatedEventLog) feedReducer(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.log.Ready():
			r.mu.RLock()
			host := r.state
			r.mu.RUnlock()
			if host != nil {
				host.Apply(ev)
			}
		}
	}
}

// Submit stamps target/details as a fresh event, adds it locally (which
// triggers reduction via the ready channel), and propagates it to fan-out
// peers (§4.3 event submission).
func (r *ReplicatedEventLog) Submit(ctx context.Context, target ids.ObjectId, details event.Details) event.Event {
	ev := r.log.Create(target, details)
	r.log.Add(ev)
	r.propagateNewEvent(ctx, ev)
	return ev
}

func (r *ReplicatedEventLog) propagateNewEvent(ctx context.Context, ev event.Event) {
	raw, err := encodeEnvelope(r.self, NewEvent{Event: ev})
	if err != nil {
		logging.Warn("replog: encode NewEvent %s: %v", ev.Id, err)
		return
	}
	r.transport.Propagate(ctx, raw, r.respondToPropagation)
}

// respondToPropagation handles whatever a peer sends back while we're
// propagating a NewEvent: normally Done, but a peer missing dependencies
// replies GetEvent(missing_ids), which we must answer with BulkEvents
// before it will accept the event (§4.3).
func (r *ReplicatedEventLog) respondToPropagation(req gossip.Request) ([][]byte, bool) {
	env, err := decodeEnvelope(req.Body)
	if err != nil {
		logging.Warn("replog: decode response from %s: %v", req.PeerName, err)
		return nil, true
	}
	switch m := env.Content.(type) {
	case Done:
		return nil, true
	case GetEvent:
		resp := r.bulkEventsFor(m.Ids)
		raw, err := encodeEnvelope(r.self, resp)
		if err != nil {
			return nil, true
		}
		return [][]byte{raw}, false
	case MessageRejected:
		logging.Warn("replog: peer %s rejected our message: %s", req.PeerName, m.Reason)
		r.transport.DisablePeer(req.PeerName)
		return nil, true
	default:
		return nil, true
	}
}

func (r *ReplicatedEventLog) bulkEventsFor(wanted []ids.EventId) BulkEvents {
	events := make([]event.Event, 0, len(wanted))
	for _, id := range wanted {
		if ev, ok := r.log.Get(id); ok {
			events = append(events, ev)
		}
	}
	return BulkEvents{Events: events}
}

// handleFrame is the gossip.FrameHandler wired to Listen: it decodes the
// envelope, applies the tombstone check, dispatches on message kind, and
// returns the response frame(s).
func (r *ReplicatedEventLog) handleFrame(req gossip.Request) ([][]byte, bool) {
	env, err := decodeEnvelope(req.Body)
	if err != nil {
		logging.Warn("replog: decode inbound from %s: %v", req.PeerName, err)
		return nil, true
	}

	if r.isTombstoned(env.incarnation()) {
		raw, _ := encodeEnvelope(r.self, MessageRejected{Reason: "sender incarnation is tombstoned"})
		return [][]byte{raw}, true
	}

	resp, done := r.dispatch(req.PeerName, env.Content)
	if resp == nil {
		return nil, done
	}
	raw, err := encodeEnvelope(r.self, resp)
	if err != nil {
		logging.Warn("replog: encode response to %s: %v", req.PeerName, err)
		return nil, true
	}
	return [][]byte{raw}, done
}

func (r *ReplicatedEventLog) dispatch(peerName string, m Message) (Message, bool) {
	switch v := m.(type) {
	case NewEvent:
		added := r.log.Add(v.Event)
		if added {
			r.recordTombstoneIfQuit(v.Event)
			go r.propagateNewEvent(context.Background(), v.Event)
		}
		if r.log.Clock().Contains(v.Event.Id) {
			return Done{}, true
		}
		missing := r.log.MissingIdsFor(v.Event.Clock)
		return GetEvent{Ids: missing}, false

	case BulkEvents:
		for _, e := range v.Events {
			if r.log.Add(e) {
				r.recordTombstoneIfQuit(e)
			}
		}
		return Done{}, true

	case GetEvent:
		return r.bulkEventsFor(v.Ids), true

	case SyncRequest:
		return BulkEvents{Events: r.log.GetSince(v.Clock)}, true

	case GetNetworkState:
		r.mu.RLock()
		host := r.state
		r.mu.RUnlock()
		if host == nil {
			return MessageRejected{Reason: "no state host configured"}, true
		}
		snap, _, err := host.Snapshot()
		if err != nil {
			return MessageRejected{Reason: err.Error()}, true
		}
		return NetworkState{Snapshot: snap}, true

	case NetworkState:
		r.mu.RLock()
		host := r.state
		r.mu.RUnlock()
		if host == nil {
			return MessageRejected{Reason: "no state host configured"}, true
		}
		c, err := host.Import(v.Snapshot)
		if err != nil {
			return MessageRejected{Reason: err.Error()}, true
		}
		r.log.Adopt(c)
		for _, p := range r.transport.Peers() {
			r.transport.EnablePeer(p.Name)
		}
		return Done{}, true

	case TargetedMessage:
		return r.handleTargetedMessage(v), true

	case TargetedMessageResponse:
		return nil, true

	case MessageRejected:
		r.transport.DisablePeer(peerName)
		return nil, true

	case Done:
		return nil, true

	default:
		return nil, true
	}
}

func (r *ReplicatedEventLog) handleTargetedMessage(v TargetedMessage) Message {
	if v.Target == r.selfName {
		r.mu.RLock()
		handler := r.rpc
		r.mu.RUnlock()
		if handler == nil {
			return MessageRejected{Reason: "no RPC handler configured"}
		}
		resp, err := handler(v.Content)
		if err != nil {
			return MessageRejected{Reason: err.Error()}
		}
		return TargetedMessageResponse{Response: resp}
	}

	if _, ok := r.transport.Peer(v.Target); ok {
		return r.forwardTargeted(v, v.Target)
	}

	visited := make(map[string]struct{}, len(v.Via)+1)
	visited[r.selfName] = struct{}{}
	for _, name := range v.Via {
		visited[name] = struct{}{}
	}
	for _, p := range r.transport.Peers() {
		if _, seen := visited[p.Name]; seen {
			continue
		}
		return r.forwardTargeted(v, p.Name)
	}
	return MessageRejected{Reason: fmt.Sprintf("no route to %s", v.Target)}
}

func (r *ReplicatedEventLog) forwardTargeted(v TargetedMessage, nextHop string) Message {
	peer, ok := r.transport.Peer(nextHop)
	if !ok {
		return MessageRejected{Reason: fmt.Sprintf("unknown peer %s", nextHop)}
	}
	fwd := TargetedMessage{Source: v.Source, Target: v.Target, Via: append(append([]string{}, v.Via...), r.selfName), Content: v.Content}

	ctx, cancel := context.WithTimeout(context.Background(), targetedRPCTimeout)
	defer cancel()

	var result Message = MessageRejected{Reason: "no response from next hop"}
	raw, err := encodeEnvelope(r.self, fwd)
	if err != nil {
		return MessageRejected{Reason: err.Error()}
	}
	err = r.transport.SendAndProcess(ctx, peer, raw, func(req gossip.Request) ([][]byte, bool) {
		env, err := decodeEnvelope(req.Body)
		if err != nil {
			return nil, true
		}
		result = env.Content
		return nil, true
	})
	if err != nil {
		return MessageRejected{Reason: err.Error()}
	}
	return result
}

// SendTargeted issues a TargetedMessage to target and waits up to
// targetedRPCTimeout for a TargetedMessageResponse (§4.3 targeted RPC
// timeout).
func (r *ReplicatedEventLog) SendTargeted(ctx context.Context, target string, content json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	defer func() { metrics.TargetedRPCLatency.Observe(time.Since(start).Seconds()) }()

	ctx, cancel := context.WithTimeout(ctx, targetedRPCTimeout)
	defer cancel()

	msg := TargetedMessage{Source: r.selfName, Target: target, Content: content}

	var nextHop *gossip.Peer
	if p, ok := r.transport.Peer(target); ok {
		nextHop = p
	} else {
		for _, p := range r.transport.Peers() {
			nextHop = p
			break
		}
	}
	if nextHop == nil {
		return nil, fmt.Errorf("replog: no peers configured to route to %s", target)
	}

	raw, err := encodeEnvelope(r.self, msg)
	if err != nil {
		return nil, err
	}

	var result json.RawMessage
	var resultErr error
	err = r.transport.SendAndProcess(ctx, nextHop, raw, func(req gossip.Request) ([][]byte, bool) {
		env, derr := decodeEnvelope(req.Body)
		if derr != nil {
			resultErr = derr
			return nil, true
		}
		switch v := env.Content.(type) {
		case TargetedMessageResponse:
			result = v.Response
		case MessageRejected:
			resultErr = fmt.Errorf("replog: targeted message rejected: %s", v.Reason)
		}
		return nil, true
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, ErrResponseTimeout
	}
	if err != nil {
		return nil, err
	}
	if resultErr != nil {
		return nil, resultErr
	}
	return result, nil
}

// Bootstrap populates local state from a random configured peer on cold
// start (§4.3). It retries every configured peer with backoff, and after
// bootstrapAttempts failures logs a warning that this may need to be the
// first node of a new network.
func (r *ReplicatedEventLog) Bootstrap(ctx context.Context) error {
	peers := r.transport.Peers()
	if len(peers) == 0 {
		return fmt.Errorf("replog: no configured peers to bootstrap from")
	}
	rand.Shuffle(len(peers), func(i, j int) { peers[i], peers[j] = peers[j], peers[i] })

	var lastErr error
	attempts := 0
	for _, p := range peers {
		attempts++
		if err := r.bootstrapFrom(ctx, p); err != nil {
			lastErr = err
			logging.Warn("replog: bootstrap from %s failed: %v", p, err)
			if attempts == bootstrapAttempts {
				logging.Warn("replog: %d bootstrap attempts failed; pass a bootstrap seed config if this is the first node of a new network", attempts)
			}
			time.Sleep(time.Duration(attempts) * time.Second)
			continue
		}
		return nil
	}
	return fmt.Errorf("replog: bootstrap exhausted all peers: %w", lastErr)
}

func (r *ReplicatedEventLog) bootstrapFrom(ctx context.Context, peer *gossip.Peer) error {
	raw, err := encodeEnvelope(r.self, GetNetworkState{})
	if err != nil {
		return err
	}

	var applyErr error
	err = r.transport.SendAndProcess(ctx, peer, raw, func(req gossip.Request) ([][]byte, bool) {
		env, derr := decodeEnvelope(req.Body)
		if derr != nil {
			applyErr = derr
			return nil, true
		}
		ns, ok := env.Content.(NetworkState)
		if !ok {
			applyErr = fmt.Errorf("replog: expected NetworkState from %s, got %T", peer, env.Content)
			return nil, true
		}
		r.mu.RLock()
		host := r.state
		r.mu.RUnlock()
		if host == nil {
			applyErr = fmt.Errorf("replog: no state host configured for bootstrap import")
			return nil, true
		}
		c, ierr := host.Import(ns.Snapshot)
		if ierr != nil {
			applyErr = ierr
			return nil, true
		}
		r.log.Adopt(c)
		return nil, true
	})
	if err != nil {
		return err
	}
	return applyErr
}

func (r *ReplicatedEventLog) recordTombstoneIfQuit(ev event.Event) {
	sq, ok := ev.Details.(event.ServerQuit)
	if !ok {
		return
	}
	incarnation := ids.Incarnation{Server: sq.Server, Epoch: sq.Epoch}
	r.mu.Lock()
	r.tombstones[incarnation] = struct{}{}
	r.mu.Unlock()
}

func (r *ReplicatedEventLog) isTombstoned(incarnation ids.Incarnation) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tombstones[incarnation]
	return ok
}

// IsSelfTombstoned reports whether the network has declared this exact
// incarnation dead — if so the node must shut down to avoid desync (§4.4
// "server quit during own membership").
func (r *ReplicatedEventLog) IsSelfTombstoned() bool {
	return r.isTombstoned(r.self)
}

// Self returns this node's own incarnation, for the hot-upgrade
// ServerState blob (§6 "node_state") — the re-exec'd process confirms it
// is resuming the same identity rather than one recycled from a stale
// handoff.
func (r *ReplicatedEventLog) Self() ids.Incarnation { return r.self }

// SelfName returns this node's configured server name.
func (r *ReplicatedEventLog) SelfName() string { return r.selfName }

// Tombstones returns every incarnation this node has recorded as dead, for
// the hot-upgrade ServerState blob (§6 "server_tombstones").
func (r *ReplicatedEventLog) Tombstones() []ids.Incarnation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ids.Incarnation, 0, len(r.tombstones))
	for inc := range r.tombstones {
		out = append(out, inc)
	}
	return out
}

// RestoreTombstones replaces the tombstone set wholesale, as happens when
// restoring from a ServerState blob across a hot upgrade.
func (r *ReplicatedEventLog) RestoreTombstones(incarnations []ids.Incarnation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tombstones = make(map[ids.Incarnation]struct{}, len(incarnations))
	for _, inc := range incarnations {
		r.tombstones[inc] = struct{}{}
	}
}
