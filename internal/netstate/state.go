// Package netstate implements the NetworkState reducer (§4.4): it applies
// events deterministically to in-memory state, resolves conflicts the same
// way on every node, and emits StateChange records for HistoryFanOut.
package netstate

import (
	"sync"

	"emberd/internal/clock"
	"emberd/internal/ids"
	"emberd/internal/logging"
)

// messageRetentionDefault bounds the in-memory message store by count:
// handleNewMessage drops the oldest message once more than this many are
// held. Messages are not pruned by age.
const messageRetentionDefault = 10000

// NetworkState is the full replicated state (§3). It is safe for
// concurrent use; apply takes the write lock, Snapshot/lookups take the
// read lock.
type NetworkState struct {
	mu sync.RWMutex

	self     ids.Incarnation
	selfName string

	users          map[ids.ObjectId]*User
	nickBindings   map[string]*NickBinding
	channels       map[ids.ObjectId]*Channel
	channelsByName map[string]ids.ObjectId
	memberships    map[MembershipId]*Membership
	invites        map[InviteId]*ChannelInvite
	listEntries    map[ids.ObjectId]*ListModeEntry
	servers        map[ids.ServerId]*ServerInfo
	messages       map[ids.ObjectId]*Message
	messageOrder   []ids.ObjectId
	kLines         map[ids.ObjectId]*KLine
	auditLog       []*AuditLogEntry

	clock *clock.EventClock

	// shutdown is closed exactly once, when a ServerQuit event names this
	// node's own (server, epoch) — rule "server quit during own
	// membership" (§4.4). The owner (cmd/emberd) selects on it to trigger
	// a clean process exit.
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// New constructs an empty NetworkState for the node identified by self.
func New(self ids.Incarnation, selfName string) *NetworkState {
	return &NetworkState{
		self:           self,
		selfName:       selfName,
		users:          make(map[ids.ObjectId]*User),
		nickBindings:   make(map[string]*NickBinding),
		channels:       make(map[ids.ObjectId]*Channel),
		channelsByName: make(map[string]ids.ObjectId),
		memberships:    make(map[MembershipId]*Membership),
		invites:        make(map[InviteId]*ChannelInvite),
		listEntries:    make(map[ids.ObjectId]*ListModeEntry),
		servers:        make(map[ids.ServerId]*ServerInfo),
		messages:       make(map[ids.ObjectId]*Message),
		kLines:         make(map[ids.ObjectId]*KLine),
		clock:          clock.New(),
		shutdown:       make(chan struct{}),
	}
}

// ShuttingDown returns a channel closed when this node's own incarnation
// has been tombstoned by the network and it must exit.
func (s *NetworkState) ShuttingDown() <-chan struct{} { return s.shutdown }

// Clock returns a defensive clone of the state's current causal position.
func (s *NetworkState) Clock() *clock.EventClock {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clock.Clone()
}

func (s *NetworkState) triggerShutdown(reason string) {
	s.shutdownOnce.Do(func() {
		logging.Warn("netstate: %s — the network considers this node dead, shutting down", reason)
		close(s.shutdown)
	})
}

// --- read-only lookups, used by Validate and by callers outside the reducer ---

func (s *NetworkState) User(id ids.ObjectId) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, false
	}
	return *u, true
}

func (s *NetworkState) NickBinding(nick string) (NickBinding, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.nickBindings[nick]
	if !ok {
		return NickBinding{}, false
	}
	return *b, true
}

func (s *NetworkState) Channel(id ids.ObjectId) (Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.channels[id]
	if !ok {
		return Channel{}, false
	}
	return *c, true
}

func (s *NetworkState) ChannelByName(name string) (Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.channelsByName[name]
	if !ok {
		return Channel{}, false
	}
	return *s.channels[id], true
}

func (s *NetworkState) Membership(user, channel ids.ObjectId) (Membership, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memberships[MembershipId{User: user, Channel: channel}]
	if !ok {
		return Membership{}, false
	}
	return *m, true
}

// MembersOf returns every UserId currently joined to channel.
func (s *NetworkState) MembersOf(channel ids.ObjectId) []ids.ObjectId {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ids.ObjectId
	for k := range s.memberships {
		if k.Channel == channel {
			out = append(out, k.User)
		}
	}
	return out
}

// ChannelsOf returns every ChannelId user currently belongs to.
func (s *NetworkState) ChannelsOf(user ids.ObjectId) []ids.ObjectId {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ids.ObjectId
	for k := range s.memberships {
		if k.User == user {
			out = append(out, k.Channel)
		}
	}
	return out
}

// SharesChannelWith reports whether a and b are both members of at least
// one common channel — used to compute the audience for user-scoped
// changes (§4.5).
func (s *NetworkState) SharesChannelWith(a, b ids.ObjectId) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k := range s.memberships {
		if k.User != a {
			continue
		}
		if _, ok := s.memberships[MembershipId{User: b, Channel: k.Channel}]; ok {
			return true
		}
	}
	return false
}
