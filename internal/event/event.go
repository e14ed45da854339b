package event

import (
	"encoding/json"
	"fmt"

	"emberd/internal/clock"
	"emberd/internal/ids"
)

// Event is a single immutable entry in the replicated log. Details names
// the intent; every consequence of applying it — including conflict
// resolution — is decided by the netstate reducer, never here.
type Event struct {
	Id        ids.EventId      `json:"id"`
	Timestamp int64            `json:"timestamp"` // wall-clock seconds
	Clock     *clock.EventClock `json:"clock"`     // dependency clock, pre-event
	Target    ids.ObjectId     `json:"target"`
	Details   Details          `json:"-"`
}

type wireEvent struct {
	Id        ids.EventId       `json:"id"`
	Timestamp int64             `json:"timestamp"`
	Clock     *clock.EventClock `json:"clock"`
	Target    ids.ObjectId      `json:"target"`
	Kind      Kind              `json:"kind"`
	Details   json.RawMessage   `json:"details"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	if e.Details == nil {
		return nil, fmt.Errorf("event: nil details for event %s", e.Id)
	}
	raw, err := json.Marshal(e.Details)
	if err != nil {
		return nil, fmt.Errorf("event: marshal details: %w", err)
	}
	return json.Marshal(wireEvent{
		Id:        e.Id,
		Timestamp: e.Timestamp,
		Clock:     e.Clock,
		Target:    e.Target,
		Kind:      e.Details.Kind(),
		Details:   raw,
	})
}

func (e *Event) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	details, err := decodeDetails(w.Kind, w.Details)
	if err != nil {
		return fmt.Errorf("event %s: %w", w.Id, err)
	}
	e.Id = w.Id
	e.Timestamp = w.Timestamp
	e.Clock = w.Clock
	e.Target = w.Target
	e.Details = details
	return nil
}

// decodeDetails unmarshals raw into the concrete Details type named by
// kind. The switch is exhaustive over Kind by construction — any variant
// added to details.go must be added here too, or decoding panics-free
// fails with ErrUnknownKind instead of silently dropping data.
func decodeDetails(kind Kind, raw json.RawMessage) (Details, error) {
	switch kind {
	case KindNewUser:
		var d NewUser
		return d, json.Unmarshal(raw, &d)
	case KindBindNickname:
		var d BindNickname
		return d, json.Unmarshal(raw, &d)
	case KindUserModeChange:
		var d UserModeChange
		return d, json.Unmarshal(raw, &d)
	case KindUserAwayChange:
		var d UserAwayChange
		return d, json.Unmarshal(raw, &d)
	case KindUserQuit:
		var d UserQuit
		return d, json.Unmarshal(raw, &d)
	case KindEnablePersistentSession:
		var d EnablePersistentSession
		return d, json.Unmarshal(raw, &d)
	case KindNewUserConnection:
		var d NewUserConnection
		return d, json.Unmarshal(raw, &d)
	case KindUserDisconnect:
		var d UserDisconnect
		return d, json.Unmarshal(raw, &d)
	case KindNewChannel:
		var d NewChannel
		return d, json.Unmarshal(raw, &d)
	case KindChannelModeChange:
		var d ChannelModeChange
		return d, json.Unmarshal(raw, &d)
	case KindNewChannelTopic:
		var d NewChannelTopic
		return d, json.Unmarshal(raw, &d)
	case KindNewListModeEntry:
		var d NewListModeEntry
		return d, json.Unmarshal(raw, &d)
	case KindDelListModeEntry:
		var d DelListModeEntry
		return d, json.Unmarshal(raw, &d)
	case KindMembershipFlagChange:
		var d MembershipFlagChange
		return d, json.Unmarshal(raw, &d)
	case KindChannelJoin:
		var d ChannelJoin
		return d, json.Unmarshal(raw, &d)
	case KindChannelPart:
		var d ChannelPart
		return d, json.Unmarshal(raw, &d)
	case KindChannelKick:
		var d ChannelKick
		return d, json.Unmarshal(raw, &d)
	case KindChannelInvite:
		var d ChannelInvite
		return d, json.Unmarshal(raw, &d)
	case KindNewMessage:
		var d NewMessage
		return d, json.Unmarshal(raw, &d)
	case KindNewKLine:
		var d NewKLine
		return d, json.Unmarshal(raw, &d)
	case KindNewServer:
		var d NewServer
		return d, json.Unmarshal(raw, &d)
	case KindServerPing:
		var d ServerPing
		return d, json.Unmarshal(raw, &d)
	case KindServerQuit:
		var d ServerQuit
		return d, json.Unmarshal(raw, &d)
	case KindLoadConfig:
		var d LoadConfig
		return d, json.Unmarshal(raw, &d)
	case KindNewAuditLogEntry:
		var d NewAuditLogEntry
		return d, json.Unmarshal(raw, &d)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// ErrUnknownKind is returned by decoding when a peer (or a corrupt local
// record) names a Kind this build does not recognize. The spec calls the
// analogous reducer-side condition WrongIdType and documents it as "fail
// the node" (§7); decoding a malformed event off the wire is recoverable —
// the transport layer drops the connection instead of panicking.
var ErrUnknownKind = fmt.Errorf("event: unknown details kind")
