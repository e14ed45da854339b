// Package clientapi is the seam this core exposes to the client-facing
// line protocol and command dispatcher (out of scope here, per §1):
// submit_event(target, details) and a subscriber channel of HistoryUpdate
// (§6, "Interfaces consumed from external collaborators"). It is a thin
// adapter — validation against ReplicatedEventLog.Submit and a forwarding
// read of HistoryFanOut.Updates() — deliberately free of any line-protocol
// concerns (parsing, numerics, framing).
package clientapi

import (
	"context"
	"fmt"

	"emberd/internal/event"
	"emberd/internal/fanout"
	"emberd/internal/ids"
	"emberd/internal/netstate"
	"emberd/internal/replog"
	"emberd/internal/session"
)

// API is the in-process surface the client protocol layer is built against.
type API struct {
	repl  *replog.ReplicatedEventLog
	state *netstate.NetworkState
	fo    *fanout.HistoryFanOut
}

// New constructs an API wrapping the node's replication, reducer, and
// fan-out components.
func New(repl *replog.ReplicatedEventLog, state *netstate.NetworkState, fo *fanout.HistoryFanOut) *API {
	return &API{repl: repl, state: state, fo: fo}
}

// SubmitEvent validates target/details against current state and, if the
// precondition holds, submits it for causal stamping and gossip
// propagation. Validation is advisory (§4.4): a passed check does not
// guarantee the event's effect once it actually reaches the reducer, since
// concurrent events from other nodes can race it.
func (a *API) SubmitEvent(ctx context.Context, target ids.ObjectId, details event.Details) (event.Event, error) {
	if err := a.state.Validate(target, details); err != nil {
		return event.Event{}, fmt.Errorf("clientapi: %w", err)
	}
	return a.repl.Submit(ctx, target, details), nil
}

// Subscribe returns the channel of HistoryUpdate the client protocol layer
// drains to learn which of its connected users need to see which change,
// per the audience table computed by HistoryFanOut (§4.5).
func (a *API) Subscribe() <-chan fanout.HistoryUpdate {
	return a.fo.Updates()
}

// HistoryForward replays a user's notification ring forward from an event
// id (e.g. the line protocol's CHATHISTORY AFTER).
func (a *API) HistoryForward(user ids.ObjectId, from uint64, limit int) []fanout.Entry {
	return a.fo.Forward(user, from, limit)
}

// HistoryReverse replays a user's notification ring backward from an event
// id (e.g. CHATHISTORY BEFORE / LATEST).
func (a *API) HistoryReverse(user ids.ObjectId, from uint64, limit int) []fanout.Entry {
	return a.fo.Reverse(user, from, limit)
}

// EnablePersistentSession derives a fresh session key from secret (a
// user-supplied passphrase or reconnect token) and submits the resulting
// EnablePersistentSession event for user. The salt session.NewSessionKey
// generates is discarded here — the derived, hex-encoded key is itself the
// opaque token future reconnects present, so nothing downstream needs to
// re-derive it from the original secret.
func (a *API) EnablePersistentSession(ctx context.Context, user ids.ObjectId, secret []byte) (event.Event, error) {
	key, _, err := session.NewSessionKey(secret)
	if err != nil {
		return event.Event{}, fmt.Errorf("clientapi: %w", err)
	}
	return a.SubmitEvent(ctx, user, event.EnablePersistentSession{User: user, SessionKey: key})
}
