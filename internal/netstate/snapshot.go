package netstate

import (
	"encoding/json"
	"fmt"

	"emberd/internal/clock"
	"emberd/internal/ids"
)

// wireState is the on-wire/bootstrap shape of NetworkState (§4.3
// GetNetworkState / NetworkState). Memberships and invites are carried as
// slices since their keys are structs, not strings/integers — the only
// container shapes JSON map keys can't express directly; every other map
// here keys on a string (NickBindings) or on ids.ObjectId or ids.ServerId,
// both integer-kind types that encoding/json renders as quoted decimal
// object keys natively.
type wireState struct {
	Users        map[ids.ObjectId]*User          `json:"users"`
	NickBindings map[string]*NickBinding         `json:"nick_bindings"`
	Channels     map[ids.ObjectId]*Channel       `json:"channels"`
	Memberships  []*Membership                   `json:"memberships"`
	Invites      []*ChannelInvite                `json:"invites"`
	ListEntries  map[ids.ObjectId]*ListModeEntry `json:"list_entries"`
	Servers      map[ids.ServerId]*ServerInfo    `json:"servers"`
	Messages     map[ids.ObjectId]*Message       `json:"messages"`
	KLines       map[ids.ObjectId]*KLine         `json:"k_lines"`
	AuditLog     []*AuditLogEntry                `json:"audit_log"`
	Clock        *clock.EventClock               `json:"clock"`
}

// Snapshot serializes the current state for a bootstrapping peer (§4.3
// GetNetworkState). The returned clock is the state's clock at the moment
// of the snapshot, for the caller to pair with the bytes without taking
// the lock twice.
func (s *NetworkState) Snapshot() (json.RawMessage, *clock.EventClock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w := wireState{
		Users:        s.users,
		NickBindings: s.nickBindings,
		Channels:     s.channels,
		ListEntries:  s.listEntries,
		Servers:      s.servers,
		Messages:     s.messages,
		KLines:       s.kLines,
		AuditLog:     s.auditLog,
		Clock:        s.clock.Clone(),
	}
	for _, m := range s.memberships {
		w.Memberships = append(w.Memberships, m)
	}
	for _, inv := range s.invites {
		w.Invites = append(w.Invites, inv)
	}

	raw, err := json.Marshal(w)
	if err != nil {
		return nil, nil, fmt.Errorf("netstate: marshal snapshot: %w", err)
	}
	return raw, s.clock.Clone(), nil
}

// Import replaces the state wholesale with snapshot's contents (§4.3
// bootstrap / S5 NetworkState adoption). It returns the imported clock so
// the caller can also adopt it into the EventLog.
func (s *NetworkState) Import(snapshot json.RawMessage) (*clock.EventClock, error) {
	var w wireState
	if err := json.Unmarshal(snapshot, &w); err != nil {
		return nil, fmt.Errorf("netstate: unmarshal snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.users = w.Users
	if s.users == nil {
		s.users = make(map[ids.ObjectId]*User)
	}
	s.nickBindings = w.NickBindings
	if s.nickBindings == nil {
		s.nickBindings = make(map[string]*NickBinding)
	}
	s.channels = w.Channels
	if s.channels == nil {
		s.channels = make(map[ids.ObjectId]*Channel)
	}
	s.channelsByName = make(map[string]ids.ObjectId, len(s.channels))
	for id, ch := range s.channels {
		s.channelsByName[ch.Name] = id
	}

	s.memberships = make(map[MembershipId]*Membership, len(w.Memberships))
	for _, m := range w.Memberships {
		s.memberships[MembershipId{User: m.User, Channel: m.Channel}] = m
	}
	s.invites = make(map[InviteId]*ChannelInvite, len(w.Invites))
	for _, inv := range w.Invites {
		s.invites[InviteId{User: inv.User, Channel: inv.Channel}] = inv
	}

	s.listEntries = w.ListEntries
	if s.listEntries == nil {
		s.listEntries = make(map[ids.ObjectId]*ListModeEntry)
	}
	s.servers = w.Servers
	if s.servers == nil {
		s.servers = make(map[ids.ServerId]*ServerInfo)
	}
	s.messages = w.Messages
	if s.messages == nil {
		s.messages = make(map[ids.ObjectId]*Message)
	}
	s.messageOrder = s.messageOrder[:0]
	for id := range s.messages {
		s.messageOrder = append(s.messageOrder, id)
	}
	s.kLines = w.KLines
	if s.kLines == nil {
		s.kLines = make(map[ids.ObjectId]*KLine)
	}
	s.auditLog = w.AuditLog

	if w.Clock != nil {
		s.clock = w.Clock.Clone()
	} else {
		s.clock = clock.New()
	}

	return s.clock.Clone(), nil
}
