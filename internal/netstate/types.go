package netstate

import (
	"emberd/internal/event"
	"emberd/internal/ids"
)

// User is a connected or recently-connected network user. Nickname is
// tracked separately in NickBinding, not here — a user can exist (have
// connected, be mid-registration) before any nickname is bound (§3).
type User struct {
	Id          ids.ObjectId
	Server      ids.ServerId
	Username    string
	VisibleHost string
	Realname    string
	ModeFlags   string
	AwayReason  *string
	Account     *string
	SessionKey  *string

	// sessionKeySetTs/sessionKeySetEventId record the (timestamp, event id)
	// of the EnablePersistentSession that most recently won the
	// persistent-session-key race (§4.4), so a later concurrent event can
	// be compared against the same tie-break deterministically regardless
	// of the order the two events are applied in at a given node.
	sessionKeySetTs      int64
	sessionKeySetEventId ids.EventId
}

// NickBinding records that Nick is currently bound to User. CreatedByEventId
// is the id of the BindNickname event that won this binding — later
// conflicting binds use it to tell whether their author already knew about
// this one (§4.4).
type NickBinding struct {
	Nick             string
	User             ids.ObjectId
	Timestamp        int64
	CreatedByEventId ids.EventId
}

// ChannelTopic is the current topic, if any, set on a Channel.
type ChannelTopic struct {
	TopicId   ids.ObjectId
	Text      string
	SetBy     ids.ObjectId
	Timestamp int64
}

type Channel struct {
	Id        ids.ObjectId
	Name      string
	ModeFlags string
	Key       *string
	Topic     *ChannelTopic
}

// MembershipId is a (UserId, ChannelId) pair, the key for Membership.
type MembershipId struct {
	User    ids.ObjectId
	Channel ids.ObjectId
}

type Membership struct {
	User        ids.ObjectId
	Channel     ids.ObjectId
	Permissions string // op/voice/... flags
	JoinedTs    int64
}

// InviteId is a (UserId, ChannelId) pair, the key for ChannelInvite.
type InviteId struct {
	User    ids.ObjectId
	Channel ids.ObjectId
}

type ChannelInvite struct {
	Source  ids.ObjectId
	User    ids.ObjectId
	Channel ids.ObjectId
	Ts      int64
}

// ListModeId is (ChannelId, ListType), the logical key the spec names even
// though entries are stored by their own ObjectId to support del-by-id.
type ListModeId struct {
	Channel  ids.ObjectId
	ListType event.ListType
}

type ListModeEntry struct {
	Id       ids.ObjectId
	Channel  ids.ObjectId
	ListType event.ListType
	Pattern  string
	Setter   ids.ObjectId
	Ts       int64
}

type ServerInfo struct {
	Id      ids.ServerId
	Name    string
	Epoch   ids.EpochId
	Ts      int64
	Flags   string
	Version string
}

type Message struct {
	Id              ids.ObjectId
	Source          ids.ObjectId
	Target          ids.ObjectId
	TargetIsChannel bool
	Type            event.MessageType
	Text            string
	Ts              int64
}

type KLine struct {
	Id              ids.ObjectId
	Pattern         string
	Setter          ids.ObjectId
	Reason          string
	Ts              int64
	DurationSeconds int64
}

type AuditLogEntry struct {
	Id     ids.ObjectId
	Actor  ids.ObjectId
	Action string
	Detail string
	Ts     int64
}
