package netstate

import (
	"strings"

	"emberd/internal/event"
	"emberd/internal/ids"
)

// applyFlags removes every rune in remove then adds every rune in add to
// current, without duplicates — used for both user and channel mode
// strings and membership permission flags.
func applyFlags(current, add, remove string) string {
	set := make(map[rune]struct{}, len(current))
	for _, r := range current {
		set[r] = struct{}{}
	}
	for _, r := range remove {
		delete(set, r)
	}
	for _, r := range add {
		set[r] = struct{}{}
	}
	var b strings.Builder
	for r := range set {
		b.WriteRune(r)
	}
	return b.String()
}

func (s *NetworkState) channelsOfLocked(user ids.ObjectId) []ids.ObjectId {
	var out []ids.ObjectId
	for k := range s.memberships {
		if k.User == user {
			out = append(out, k.Channel)
		}
	}
	return out
}

func (s *NetworkState) membersOfLocked(channel ids.ObjectId) []ids.ObjectId {
	var out []ids.ObjectId
	for k := range s.memberships {
		if k.Channel == channel {
			out = append(out, k.User)
		}
	}
	return out
}

// maybeDestroyEmptyChannelLocked removes channel and everything that
// depends on it once its last membership is gone (§3 invariant 3).
func (s *NetworkState) maybeDestroyEmptyChannelLocked(channel ids.ObjectId) {
	for k := range s.memberships {
		if k.Channel == channel {
			return
		}
	}
	if c, ok := s.channels[channel]; ok {
		delete(s.channelsByName, c.Name)
	}
	delete(s.channels, channel)
	for id, e := range s.listEntries {
		if e.Channel == channel {
			delete(s.listEntries, id)
		}
	}
	for k := range s.invites {
		if k.Channel == channel {
			delete(s.invites, k)
		}
	}
}

func (s *NetworkState) handleNewUser(ev event.Event, d event.NewUser, sink *updateSink) {
	s.users[ev.Target] = &User{
		Id:          ev.Target,
		Server:      ev.Id.Server,
		Username:    d.Username,
		VisibleHost: d.VisibleHost,
		Realname:    d.Realname,
		ModeFlags:   d.ModeFlags,
	}
	sink.emit(StateChange{Kind: ChangeNewUser, EventId: ev.Id, Timestamp: ev.Timestamp, User: ev.Target})
	if d.Nickname != "" {
		s.bindNickname(ev, ev.Target, d.Nickname, sink)
	}
}

func (s *NetworkState) handleBindNickname(ev event.Event, d event.BindNickname, sink *updateSink) {
	s.bindNickname(ev, d.User, d.Nickname, sink)
}

// bindNickname implements the nick binding conflict rule (§4.4): if the new
// binding's clock contains the existing binding's winning event, the
// author already knew and lost, so only the newcomer collides. Otherwise
// the two binds are concurrent and the lower (timestamp, user_id) wins.
func (s *NetworkState) bindNickname(ev event.Event, user ids.ObjectId, nickname string, sink *updateSink) {
	existing, exists := s.nickBindings[nickname]
	if !exists {
		s.installBinding(nickname, user, ev, sink)
		return
	}
	if existing.User == user {
		return
	}

	if ev.Clock != nil && ev.Clock.Contains(existing.CreatedByEventId) {
		s.collideUser(user, ev, sink)
		return
	}

	if timestampUserLess(ev.Timestamp, user, existing.Timestamp, existing.User) {
		loser := existing.User
		delete(s.nickBindings, nickname)
		s.installBinding(nickname, user, ev, sink)
		s.collideUser(loser, ev, sink)
	} else {
		s.collideUser(user, ev, sink)
	}
}

// installBinding binds nickname to user, removing any previous binding the
// user held. It emits UserNickChange only when replacing an existing
// binding — the initial bind alongside NewUser needs no separate
// notification (§4.5 audience table).
func (s *NetworkState) installBinding(nickname string, user ids.ObjectId, ev event.Event, sink *updateSink) {
	hadPrior := false
	for nick, b := range s.nickBindings {
		if b.User == user {
			delete(s.nickBindings, nick)
			hadPrior = true
			break
		}
	}
	s.nickBindings[nickname] = &NickBinding{Nick: nickname, User: user, Timestamp: ev.Timestamp, CreatedByEventId: ev.Id}
	if hadPrior {
		sink.emit(StateChange{Kind: ChangeUserNickChange, EventId: ev.Id, Timestamp: ev.Timestamp, User: user, Nickname: nickname})
	}
}

// collideUser rebinds user to a deterministic fallback nickname, killing
// users as necessary to keep every node in agreement (§4.4).
func (s *NetworkState) collideUser(user ids.ObjectId, ev event.Event, sink *updateSink) {
	fallback := fallbackNickname(user)
	occupant, occupied := s.nickBindings[fallback]
	if !occupied {
		for nick, b := range s.nickBindings {
			if b.User == user {
				delete(s.nickBindings, nick)
				break
			}
		}
		s.nickBindings[fallback] = &NickBinding{Nick: fallback, User: user, Timestamp: ev.Timestamp, CreatedByEventId: ev.Id}
		sink.emit(StateChange{Kind: ChangeUserNickChange, EventId: ev.Id, Timestamp: ev.Timestamp, User: user, Nickname: fallback})
		return
	}
	if occupant.User == user {
		return
	}
	if ev.Clock != nil && ev.Clock.Contains(occupant.CreatedByEventId) {
		s.removeUserLocked(user, ev, "Nickname collision", sink)
		return
	}
	s.removeUserLocked(user, ev, "Nickname collision", sink)
	s.removeUserLocked(occupant.User, ev, "Nickname collision", sink)
}

// removeUserLocked tears a user out of every container it participates in
// — nickname, memberships (cascading empty-channel destruction), pending
// invites — and emits ChannelPart for each membership followed by UserQuit.
// It is a no-op if the user is already gone (idempotent re-delivery, or a
// second collision naming the same user).
func (s *NetworkState) removeUserLocked(user ids.ObjectId, ev event.Event, reason string, sink *updateSink) {
	if _, ok := s.users[user]; !ok {
		return
	}
	delete(s.users, user)
	for nick, b := range s.nickBindings {
		if b.User == user {
			delete(s.nickBindings, nick)
			break
		}
	}
	for _, ch := range s.channelsOfLocked(user) {
		delete(s.memberships, MembershipId{User: user, Channel: ch})
		sink.emit(StateChange{Kind: ChangeChannelPart, EventId: ev.Id, Timestamp: ev.Timestamp, Channel: ch, User: user, Reason: reason})
		s.maybeDestroyEmptyChannelLocked(ch)
	}
	for k := range s.invites {
		if k.User == user {
			delete(s.invites, k)
		}
	}
	sink.emit(StateChange{Kind: ChangeUserQuit, EventId: ev.Id, Timestamp: ev.Timestamp, User: user, Reason: reason})
}

func (s *NetworkState) handleUserQuit(ev event.Event, d event.UserQuit, sink *updateSink) {
	s.removeUserLocked(d.User, ev, d.Reason, sink)
}

func (s *NetworkState) handleUserModeChange(ev event.Event, d event.UserModeChange, sink *updateSink) {
	u, ok := s.users[d.User]
	if !ok {
		return
	}
	u.ModeFlags = applyFlags(u.ModeFlags, d.Add, d.Remove)
	sink.emit(StateChange{Kind: ChangeUserModeChange, EventId: ev.Id, Timestamp: ev.Timestamp, User: d.User, ModeAdd: d.Add, ModeRemove: d.Remove})
}

func (s *NetworkState) handleUserAwayChange(ev event.Event, d event.UserAwayChange, sink *updateSink) {
	u, ok := s.users[d.User]
	if !ok {
		return
	}
	u.AwayReason = d.Reason
	reason := ""
	if d.Reason != nil {
		reason = *d.Reason
	}
	sink.emit(StateChange{Kind: ChangeUserAwayChange, EventId: ev.Id, Timestamp: ev.Timestamp, User: d.User, Reason: reason})
}

// handleEnablePersistentSession implements the persistent-session-key race
// (§4.4): newer event.timestamp wins; tie-break by event.id (lower wins).
// The winning (timestamp, id) is recorded on the user so a later concurrent
// event compares against it the same way at every node.
func (s *NetworkState) handleEnablePersistentSession(ev event.Event, d event.EnablePersistentSession, sink *updateSink) {
	u, ok := s.users[d.User]
	if !ok {
		return
	}
	if u.SessionKey != nil {
		if ev.Timestamp < u.sessionKeySetTs {
			return
		}
		if ev.Timestamp == u.sessionKeySetTs && !ev.Id.Less(u.sessionKeySetEventId) {
			return
		}
	}
	key := d.SessionKey
	u.SessionKey = &key
	u.sessionKeySetTs = ev.Timestamp
	u.sessionKeySetEventId = ev.Id
}

func (s *NetworkState) handleNewChannel(ev event.Event, d event.NewChannel, sink *updateSink) {
	name := d.Name
	if existingId, ok := s.channelsByName[d.Name]; ok && existingId != d.Channel {
		existing := s.channels[existingId]
		if uint64(d.Channel) < uint64(existingId) {
			renamed := fallbackChannelName(existing.Id)
			delete(s.channelsByName, existing.Name)
			existing.Name = renamed
			s.channelsByName[renamed] = existing.Id
			for _, m := range s.membersOfLocked(existing.Id) {
				sink.emit(StateChange{Kind: ChangeChannelRename, EventId: ev.Id, Timestamp: ev.Timestamp, Channel: existing.Id, User: m, NewName: renamed})
			}
		} else {
			name = fallbackChannelName(d.Channel)
		}
	}
	s.channels[d.Channel] = &Channel{Id: d.Channel, Name: name}
	s.channelsByName[name] = d.Channel
}

func (s *NetworkState) handleChannelModeChange(ev event.Event, d event.ChannelModeChange, sink *updateSink) {
	ch, ok := s.channels[d.Channel]
	if !ok {
		return
	}
	ch.ModeFlags = applyFlags(ch.ModeFlags, d.Add, d.Remove)
	if d.Key != nil {
		ch.Key = d.Key
	}
	for _, m := range s.membersOfLocked(d.Channel) {
		sink.emit(StateChange{Kind: ChangeChannelModeChange, EventId: ev.Id, Timestamp: ev.Timestamp, Channel: d.Channel, User: m, ModeAdd: d.Add, ModeRemove: d.Remove, Key: d.Key})
	}
}

// handleNewChannelTopic implements the topic race (§4.4): later timestamp
// wins; tie-break by the lower TopicId.
func (s *NetworkState) handleNewChannelTopic(ev event.Event, d event.NewChannelTopic, sink *updateSink) {
	ch, ok := s.channels[d.Channel]
	if !ok {
		return
	}
	if ch.Topic != nil {
		if ev.Timestamp < ch.Topic.Timestamp {
			return
		}
		if ev.Timestamp == ch.Topic.Timestamp && uint64(d.TopicId) >= uint64(ch.Topic.TopicId) {
			return
		}
	}
	ch.Topic = &ChannelTopic{TopicId: d.TopicId, Text: d.Topic, SetBy: d.SetBy, Timestamp: ev.Timestamp}
	for _, m := range s.membersOfLocked(d.Channel) {
		sink.emit(StateChange{Kind: ChangeChannelTopicChange, EventId: ev.Id, Timestamp: ev.Timestamp, Channel: d.Channel, User: m, OtherUser: d.SetBy, Text: d.Topic})
	}
}

func (s *NetworkState) handleNewListModeEntry(ev event.Event, d event.NewListModeEntry, sink *updateSink) {
	if _, ok := s.channels[d.Channel]; !ok {
		return
	}
	s.listEntries[d.Entry] = &ListModeEntry{Id: d.Entry, Channel: d.Channel, ListType: d.ListType, Pattern: d.Pattern, Setter: d.Setter, Ts: ev.Timestamp}
	sink.emit(StateChange{Kind: ChangeListModeAdded, EventId: ev.Id, Timestamp: ev.Timestamp, Channel: d.Channel, OtherUser: d.Setter, ListType: d.ListType, Pattern: d.Pattern})
}

func (s *NetworkState) handleDelListModeEntry(ev event.Event, d event.DelListModeEntry, sink *updateSink) {
	entry, ok := s.listEntries[d.Entry]
	if !ok {
		return
	}
	delete(s.listEntries, d.Entry)
	sink.emit(StateChange{Kind: ChangeListModeRemoved, EventId: ev.Id, Timestamp: ev.Timestamp, Channel: entry.Channel, ListType: entry.ListType, Pattern: entry.Pattern})
}

func (s *NetworkState) handleMembershipFlagChange(ev event.Event, d event.MembershipFlagChange, sink *updateSink) {
	m, ok := s.memberships[MembershipId{User: d.User, Channel: d.Channel}]
	if !ok {
		return
	}
	m.Permissions = applyFlags(m.Permissions, d.Add, d.Remove)
	for _, u := range s.membersOfLocked(d.Channel) {
		sink.emit(StateChange{Kind: ChangeMembershipFlagChange, EventId: ev.Id, Timestamp: ev.Timestamp, Channel: d.Channel, User: u, OtherUser: d.User, ModeAdd: d.Add, ModeRemove: d.Remove})
	}
}

func (s *NetworkState) handleChannelJoin(ev event.Event, d event.ChannelJoin, sink *updateSink) {
	if _, ok := s.channels[d.Channel]; !ok {
		return
	}
	key := MembershipId{User: d.User, Channel: d.Channel}
	if _, ok := s.memberships[key]; ok {
		return
	}
	s.memberships[key] = &Membership{User: d.User, Channel: d.Channel, JoinedTs: ev.Timestamp}
	sink.emit(StateChange{Kind: ChangeChannelJoin, EventId: ev.Id, Timestamp: ev.Timestamp, Channel: d.Channel, User: d.User})
}

func (s *NetworkState) handleChannelPart(ev event.Event, d event.ChannelPart, sink *updateSink) {
	key := MembershipId{User: d.User, Channel: d.Channel}
	if _, ok := s.memberships[key]; !ok {
		return
	}
	delete(s.memberships, key)
	sink.emit(StateChange{Kind: ChangeChannelPart, EventId: ev.Id, Timestamp: ev.Timestamp, Channel: d.Channel, User: d.User, Reason: d.Reason})
	s.maybeDestroyEmptyChannelLocked(d.Channel)
}

func (s *NetworkState) handleChannelKick(ev event.Event, d event.ChannelKick, sink *updateSink) {
	key := MembershipId{User: d.User, Channel: d.Channel}
	if _, ok := s.memberships[key]; !ok {
		return
	}
	delete(s.memberships, key)
	sink.emit(StateChange{Kind: ChangeChannelKick, EventId: ev.Id, Timestamp: ev.Timestamp, Channel: d.Channel, User: d.User, OtherUser: d.Kicker, Reason: d.Reason})
	s.maybeDestroyEmptyChannelLocked(d.Channel)
}

func (s *NetworkState) handleChannelInvite(ev event.Event, d event.ChannelInvite, sink *updateSink) {
	s.invites[InviteId{User: d.User, Channel: d.Channel}] = &ChannelInvite{Source: d.Source, User: d.User, Channel: d.Channel, Ts: ev.Timestamp}
	sink.emit(StateChange{Kind: ChangeChannelInvite, EventId: ev.Id, Timestamp: ev.Timestamp, Channel: d.Channel, User: d.User, OtherUser: d.Source})
}

func (s *NetworkState) handleNewMessage(ev event.Event, d event.NewMessage, sink *updateSink) {
	s.messages[d.Message] = &Message{Id: d.Message, Source: d.Source, Target: d.Target, TargetIsChannel: d.TargetIsChannel, Type: d.Type, Text: d.Text, Ts: ev.Timestamp}
	s.messageOrder = append(s.messageOrder, d.Message)
	if len(s.messageOrder) > messageRetentionDefault {
		oldest := s.messageOrder[0]
		s.messageOrder = s.messageOrder[1:]
		delete(s.messages, oldest)
	}

	change := StateChange{Kind: ChangeNewMessage, EventId: ev.Id, Timestamp: ev.Timestamp, OtherUser: d.Source, MessageType: d.Type, Text: d.Text}
	if d.TargetIsChannel {
		change.Channel = d.Target
	} else {
		change.User = d.Target
	}
	sink.emit(change)
}

func (s *NetworkState) handleNewKLine(ev event.Event, d event.NewKLine, sink *updateSink) {
	s.kLines[d.KLine] = &KLine{Id: d.KLine, Pattern: d.Pattern, Setter: d.Setter, Reason: d.Reason, Ts: ev.Timestamp, DurationSeconds: d.DurationSeconds}
}

func (s *NetworkState) handleNewServer(ev event.Event, d event.NewServer, sink *updateSink) {
	s.servers[d.Server] = &ServerInfo{Id: d.Server, Name: d.Name, Epoch: d.Epoch, Ts: ev.Timestamp, Flags: d.Flags, Version: d.Version}
	sink.emit(StateChange{Kind: ChangeNewServer, EventId: ev.Id, Timestamp: ev.Timestamp, Server: d.Server})
}

func (s *NetworkState) handleServerPing(ev event.Event, d event.ServerPing, sink *updateSink) {
	if srv, ok := s.servers[d.Server]; ok {
		srv.Ts = ev.Timestamp
	}
}

// handleServerQuit removes the quitting server and, if it names this
// node's own incarnation, triggers shutdown (§4.4 "server quit during own
// membership" — otherwise invariant 6 would break the instant the network
// stops agreeing this node is alive).
func (s *NetworkState) handleServerQuit(ev event.Event, d event.ServerQuit, sink *updateSink) {
	delete(s.servers, d.Server)
	sink.emit(StateChange{Kind: ChangeServerQuit, EventId: ev.Id, Timestamp: ev.Timestamp, Server: d.Server, Reason: d.Reason})

	if d.Server == s.self.Server && d.Epoch == s.self.Epoch {
		s.triggerShutdown("received ServerQuit for our own incarnation")
	}
}

func (s *NetworkState) handleNewAuditLogEntry(ev event.Event, d event.NewAuditLogEntry, sink *updateSink) {
	s.auditLog = append(s.auditLog, &AuditLogEntry{Id: d.Entry, Actor: d.Actor, Action: d.Action, Detail: d.Detail, Ts: ev.Timestamp})
	sink.emit(StateChange{Kind: ChangeNewAuditLogEntry, EventId: ev.Id, Timestamp: ev.Timestamp, User: d.Actor, Reason: d.Action, Text: d.Detail})
}
