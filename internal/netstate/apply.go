package netstate

import (
	"emberd/internal/event"
)

// ApplyEvent is the reducer's entry point (§4.4). If the event is already
// reflected in state.clock, it is a no-op (idempotent re-delivery is
// expected: gossip re-propagation and BulkEvents can both deliver the same
// event more than once). Otherwise it dispatches on ev.Details, advances
// the clock, and returns every StateChange the event produced — the last
// of which is always an EventComplete marker.
//
// The write lock is held for the full dispatch but released before
// returning; the caller (the fanout bridge) must not call back into
// NetworkState while still holding on to the returned slice in a way that
// assumes the lock — it doesn't need to, since the slice is a snapshot of
// what happened, not a live view.
func (s *NetworkState) ApplyEvent(ev event.Event) []StateChange {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.clock.Contains(ev.Id) {
		return nil
	}

	sink := &updateSink{}
	s.dispatch(ev, sink)
	s.clock.UpdateWith(ev.Id)
	sink.emit(StateChange{Kind: ChangeEventComplete, EventId: ev.Id, Timestamp: ev.Timestamp})
	return sink.changes
}

func (s *NetworkState) dispatch(ev event.Event, sink *updateSink) {
	switch d := ev.Details.(type) {
	case event.NewUser:
		s.handleNewUser(ev, d, sink)
	case event.BindNickname:
		s.handleBindNickname(ev, d, sink)
	case event.UserModeChange:
		s.handleUserModeChange(ev, d, sink)
	case event.UserAwayChange:
		s.handleUserAwayChange(ev, d, sink)
	case event.UserQuit:
		s.handleUserQuit(ev, d, sink)
	case event.EnablePersistentSession:
		s.handleEnablePersistentSession(ev, d, sink)
	case event.NewUserConnection:
		// Connection bookkeeping only; no semantic state or fan-out (§3
		// lifecycles — connections aren't a tracked container).
	case event.UserDisconnect:
		// As above.
	case event.NewChannel:
		s.handleNewChannel(ev, d, sink)
	case event.ChannelModeChange:
		s.handleChannelModeChange(ev, d, sink)
	case event.NewChannelTopic:
		s.handleNewChannelTopic(ev, d, sink)
	case event.NewListModeEntry:
		s.handleNewListModeEntry(ev, d, sink)
	case event.DelListModeEntry:
		s.handleDelListModeEntry(ev, d, sink)
	case event.MembershipFlagChange:
		s.handleMembershipFlagChange(ev, d, sink)
	case event.ChannelJoin:
		s.handleChannelJoin(ev, d, sink)
	case event.ChannelPart:
		s.handleChannelPart(ev, d, sink)
	case event.ChannelKick:
		s.handleChannelKick(ev, d, sink)
	case event.ChannelInvite:
		s.handleChannelInvite(ev, d, sink)
	case event.NewMessage:
		s.handleNewMessage(ev, d, sink)
	case event.NewKLine:
		s.handleNewKLine(ev, d, sink)
	case event.NewServer:
		s.handleNewServer(ev, d, sink)
	case event.ServerPing:
		s.handleServerPing(ev, d, sink)
	case event.ServerQuit:
		s.handleServerQuit(ev, d, sink)
	case event.LoadConfig:
		// Config payload is consumed by internal/config, not by state (§12).
	case event.NewAuditLogEntry:
		s.handleNewAuditLogEntry(ev, d, sink)
	}
}
