package event

import "emberd/internal/ids"

// Kind names one variant of the closed EventDetails union. The reducer
// dispatches on Kind; nothing outside the reducer interprets a variant's
// fields, so conflict resolution lives entirely in netstate, never here.
type Kind string

const (
	KindNewUser                 Kind = "NewUser"
	KindBindNickname            Kind = "BindNickname"
	KindUserModeChange          Kind = "UserModeChange"
	KindUserAwayChange          Kind = "UserAwayChange"
	KindUserQuit                Kind = "UserQuit"
	KindEnablePersistentSession Kind = "EnablePersistentSession"
	KindNewUserConnection       Kind = "NewUserConnection"
	KindUserDisconnect          Kind = "UserDisconnect"
	KindNewChannel              Kind = "NewChannel"
	KindChannelModeChange       Kind = "ChannelModeChange"
	KindNewChannelTopic         Kind = "NewChannelTopic"
	KindNewListModeEntry        Kind = "NewListModeEntry"
	KindDelListModeEntry        Kind = "DelListModeEntry"
	KindMembershipFlagChange    Kind = "MembershipFlagChange"
	KindChannelJoin             Kind = "ChannelJoin"
	KindChannelPart             Kind = "ChannelPart"
	KindChannelKick             Kind = "ChannelKick"
	KindChannelInvite           Kind = "ChannelInvite"
	KindNewMessage              Kind = "NewMessage"
	KindNewKLine                Kind = "NewKLine"
	KindNewServer               Kind = "NewServer"
	KindServerPing              Kind = "ServerPing"
	KindServerQuit              Kind = "ServerQuit"
	KindLoadConfig              Kind = "LoadConfig"
	KindNewAuditLogEntry        Kind = "NewAuditLogEntry"
)

// Details is implemented by every event payload variant. It carries no
// behavior beyond naming its own Kind: conflict resolution and state
// transitions belong to the reducer, not to the event.
type Details interface {
	Kind() Kind
}

// ListType enumerates the four list-mode kinds (bans, quiets, exceptions,
// invite-exceptions).
type ListType string

const (
	ListBan    ListType = "ban"
	ListQuiet  ListType = "quiet"
	ListExcept ListType = "except"
	ListInvex  ListType = "invex"
)

// MessageType distinguishes PRIVMSG from NOTICE for NewMessage.
type MessageType string

const (
	MessagePrivmsg MessageType = "PRIVMSG"
	MessageNotice  MessageType = "NOTICE"
)

type NewUser struct {
	Username    string `json:"username"`
	VisibleHost string `json:"visible_host"`
	Realname    string `json:"realname"`
	Nickname    string `json:"nickname"`
	ModeFlags   string `json:"mode_flags"`
}

func (NewUser) Kind() Kind { return KindNewUser }

// BindNickname requests that Nickname be bound to User. The reducer
// records the winning event's own id as nick_bindings.created_by_event_id,
// used by later conflicting binds to tell whether their author already
// knew about this one (§4.4 nick binding conflict).
type BindNickname struct {
	User     ids.ObjectId `json:"user"`
	Nickname string       `json:"nickname"`
}

func (BindNickname) Kind() Kind { return KindBindNickname }

type UserModeChange struct {
	User   ids.ObjectId `json:"user"`
	Add    string       `json:"add"`
	Remove string       `json:"remove"`
}

func (UserModeChange) Kind() Kind { return KindUserModeChange }

type UserAwayChange struct {
	User   ids.ObjectId `json:"user"`
	Reason *string      `json:"reason,omitempty"` // nil clears away status
}

func (UserAwayChange) Kind() Kind { return KindUserAwayChange }

type UserQuit struct {
	User   ids.ObjectId `json:"user"`
	Reason string       `json:"reason"`
}

func (UserQuit) Kind() Kind { return KindUserQuit }

// EnablePersistentSession races against any other EnablePersistentSession
// for the same user (§4.4 persistent-session-key race).
type EnablePersistentSession struct {
	User       ids.ObjectId `json:"user"`
	SessionKey string       `json:"session_key"`
}

func (EnablePersistentSession) Kind() Kind { return KindEnablePersistentSession }

type NewUserConnection struct {
	User         ids.ObjectId `json:"user"`
	ConnectionId string       `json:"connection_id"`
}

func (NewUserConnection) Kind() Kind { return KindNewUserConnection }

type UserDisconnect struct {
	User         ids.ObjectId `json:"user"`
	ConnectionId string       `json:"connection_id"`
	Reason       string       `json:"reason"`
}

func (UserDisconnect) Kind() Kind { return KindUserDisconnect }

type NewChannel struct {
	Channel ids.ObjectId `json:"channel"`
	Name    string       `json:"name"`
	Creator ids.ObjectId `json:"creator"`
}

func (NewChannel) Kind() Kind { return KindNewChannel }

type ChannelModeChange struct {
	Channel ids.ObjectId `json:"channel"`
	Add     string       `json:"add"`
	Remove  string       `json:"remove"`
	Key     *string      `json:"key,omitempty"`
}

func (ChannelModeChange) Kind() Kind { return KindChannelModeChange }

// NewChannelTopic races against any topic already set on Channel (§4.4
// topic race). TopicId is minted by the submitter and used as the
// tie-break key when two topics race with identical timestamps.
type NewChannelTopic struct {
	Channel ids.ObjectId `json:"channel"`
	TopicId ids.ObjectId `json:"topic_id"`
	Topic   string       `json:"topic"`
	SetBy   ids.ObjectId `json:"set_by"`
}

func (NewChannelTopic) Kind() Kind { return KindNewChannelTopic }

type NewListModeEntry struct {
	Entry    ids.ObjectId     `json:"entry"`
	Channel  ids.ObjectId     `json:"channel"`
	ListType ListType `json:"list_type"`
	Pattern  string           `json:"pattern"`
	Setter   ids.ObjectId     `json:"setter"`
}

func (NewListModeEntry) Kind() Kind { return KindNewListModeEntry }

type DelListModeEntry struct {
	Entry ids.ObjectId `json:"entry"`
}

func (DelListModeEntry) Kind() Kind { return KindDelListModeEntry }

type MembershipFlagChange struct {
	User    ids.ObjectId `json:"user"`
	Channel ids.ObjectId `json:"channel"`
	Add     string       `json:"add"`
	Remove  string       `json:"remove"`
}

func (MembershipFlagChange) Kind() Kind { return KindMembershipFlagChange }

type ChannelJoin struct {
	User    ids.ObjectId `json:"user"`
	Channel ids.ObjectId `json:"channel"`
}

func (ChannelJoin) Kind() Kind { return KindChannelJoin }

type ChannelPart struct {
	User    ids.ObjectId `json:"user"`
	Channel ids.ObjectId `json:"channel"`
	Reason  string       `json:"reason"`
}

func (ChannelPart) Kind() Kind { return KindChannelPart }

type ChannelKick struct {
	Kicker  ids.ObjectId `json:"kicker"`
	User    ids.ObjectId `json:"user"`
	Channel ids.ObjectId `json:"channel"`
	Reason  string       `json:"reason"`
}

func (ChannelKick) Kind() Kind { return KindChannelKick }

type ChannelInvite struct {
	Source  ids.ObjectId `json:"source"`
	User    ids.ObjectId `json:"user"`
	Channel ids.ObjectId `json:"channel"`
}

func (ChannelInvite) Kind() Kind { return KindChannelInvite }

type NewMessage struct {
	Message         ids.ObjectId `json:"message"`
	Source          ids.ObjectId `json:"source"`
	Target          ids.ObjectId `json:"target"`
	TargetIsChannel bool         `json:"target_is_channel"`
	Type            MessageType  `json:"type"`
	Text            string       `json:"text"`
}

func (NewMessage) Kind() Kind { return KindNewMessage }

type NewKLine struct {
	KLine           ids.ObjectId `json:"k_line"`
	Pattern         string       `json:"pattern"`
	Setter          ids.ObjectId `json:"setter"`
	Reason          string       `json:"reason"`
	DurationSeconds int64        `json:"duration_seconds"`
}

func (NewKLine) Kind() Kind { return KindNewKLine }

type NewServer struct {
	Server  ids.ServerId `json:"server"`
	Name    string       `json:"name"`
	Epoch   ids.EpochId  `json:"epoch"`
	Flags   string       `json:"flags"`
	Version string       `json:"version"`
}

func (NewServer) Kind() Kind { return KindNewServer }

type ServerPing struct {
	Server ids.ServerId `json:"server"`
}

func (ServerPing) Kind() Kind { return KindServerPing }

// ServerQuit tombstones (Server, Epoch): any later traffic claiming to be
// from that exact incarnation is rejected (§4.3, §S4).
type ServerQuit struct {
	Server ids.ServerId `json:"server"`
	Epoch  ids.EpochId  `json:"epoch"`
	Reason string       `json:"reason"`
}

func (ServerQuit) Kind() Kind { return KindServerQuit }

type LoadConfig struct {
	Payload string `json:"payload"`
}

func (LoadConfig) Kind() Kind { return KindLoadConfig }

type NewAuditLogEntry struct {
	Entry  ids.ObjectId `json:"entry"`
	Actor  ids.ObjectId `json:"actor"`
	Action string       `json:"action"`
	Detail string       `json:"detail"`
}

func (NewAuditLogEntry) Kind() Kind { return KindNewAuditLogEntry }
