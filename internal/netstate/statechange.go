package netstate

import (
	"emberd/internal/event"
	"emberd/internal/ids"
)

// ChangeKind names one row of the HistoryFanOut audience table (§4.5).
type ChangeKind string

const (
	ChangeNewUser             ChangeKind = "NewUser"
	ChangeUserNickChange      ChangeKind = "UserNickChange"
	ChangeUserQuit            ChangeKind = "UserQuit"
	ChangeUserAwayChange      ChangeKind = "UserAwayChange"
	ChangeUserModeChange      ChangeKind = "UserModeChange"
	ChangeChannelJoin         ChangeKind = "ChannelJoin"
	ChangeChannelPart         ChangeKind = "ChannelPart"
	ChangeChannelKick         ChangeKind = "ChannelKick"
	ChangeChannelModeChange   ChangeKind = "ChannelModeChange"
	ChangeChannelTopicChange  ChangeKind = "ChannelTopicChange"
	ChangeMembershipFlagChange ChangeKind = "MembershipFlagChange"
	ChangeChannelRename       ChangeKind = "ChannelRename"
	ChangeListModeAdded       ChangeKind = "ListModeAdded"
	ChangeListModeRemoved     ChangeKind = "ListModeRemoved"
	ChangeChannelInvite       ChangeKind = "ChannelInvite"
	ChangeNewMessage          ChangeKind = "NewMessage"
	ChangeNewServer           ChangeKind = "NewServer"
	ChangeServerQuit          ChangeKind = "ServerQuit"
	ChangeNewAuditLogEntry    ChangeKind = "NewAuditLogEntry"
	// ChangeEventComplete is emitted once per event after every other
	// change it produced has been handed to the sink, letting HistoryFanOut
	// (and anything downstream watching the subscriber channel) know an
	// event's full set of consequences has been delivered (§9 open
	// question, resolved: emit explicitly rather than rely on channel
	// boundaries).
	ChangeEventComplete ChangeKind = "EventComplete"
)

// StateChange is one consequence of applying an event, destined for
// HistoryFanOut. Fields not meaningful to a given Kind are left zero.
type StateChange struct {
	Kind      ChangeKind
	EventId   ids.EventId
	Timestamp int64

	Channel   ids.ObjectId // zero if not channel-scoped
	User      ids.ObjectId // primary subject: the user who joined/quit/was kicked/etc
	OtherUser ids.ObjectId // secondary subject: kicker, inviter, message sender when User is the recipient
	Server    ids.ServerId // NewServer / ServerQuit subject

	Nickname    string
	Reason      string
	ModeAdd     string
	ModeRemove  string
	Key         *string
	Text        string
	MessageType event.MessageType
	ListType    event.ListType
	Pattern     string
	NewName     string // ChannelRename
}

// updateSink accumulates StateChanges produced during one apply call. The
// reducer must not call into HistoryFanOut while holding the state write
// lock (fan-out reads the state); callers play the sink back to their
// subscriber only after the lock is released (§4.4).
type updateSink struct {
	changes []StateChange
}

func (s *updateSink) emit(c StateChange) { s.changes = append(s.changes, c) }
