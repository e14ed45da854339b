// Package replog implements ReplicatedEventLog (§4.3): it nets the causal
// log together, routing NewEvent/BulkEvents/GetEvent/SyncRequest traffic,
// bootstrapping state from a peer, forwarding targeted RPCs, and
// tombstoning dead incarnations.
package replog

import (
	"encoding/json"
	"fmt"

	"emberd/internal/clock"
	"emberd/internal/event"
	"emberd/internal/ids"
)

// Kind names one variant of the peer message union.
type Kind string

const (
	KindNewEvent                Kind = "NewEvent"
	KindBulkEvents              Kind = "BulkEvents"
	KindGetEvent                Kind = "GetEvent"
	KindSyncRequest             Kind = "SyncRequest"
	KindGetNetworkState         Kind = "GetNetworkState"
	KindNetworkState            Kind = "NetworkState"
	KindTargetedMessage         Kind = "TargetedMessage"
	KindTargetedMessageResponse Kind = "TargetedMessageResponse"
	KindMessageRejected         Kind = "MessageRejected"
	KindDone                    Kind = "Done"
)

// Message is implemented by every peer wire message variant.
type Message interface {
	Kind() Kind
}

type NewEvent struct {
	Event event.Event `json:"event"`
}

func (NewEvent) Kind() Kind { return KindNewEvent }

type BulkEvents struct {
	Events []event.Event `json:"events"`
}

func (BulkEvents) Kind() Kind { return KindBulkEvents }

type GetEvent struct {
	Ids []ids.EventId `json:"ids"`
}

func (GetEvent) Kind() Kind { return KindGetEvent }

type SyncRequest struct {
	Clock *clock.EventClock `json:"clock"`
}

func (SyncRequest) Kind() Kind { return KindSyncRequest }

type GetNetworkState struct{}

func (GetNetworkState) Kind() Kind { return KindGetNetworkState }

// NetworkState carries an opaque serialized state snapshot. replog never
// interprets Snapshot's contents — that is the reducer's job (§4.4); it
// only ferries the bytes and, on import, hands them to the NetworkStateHost.
type NetworkState struct {
	Snapshot json.RawMessage `json:"snapshot"`
}

func (NetworkState) Kind() Kind { return KindNetworkState }

// TargetedMessage routes Content to the node named Target, hopping through
// peers listed in Via if there is no direct link (§4.3).
type TargetedMessage struct {
	Source  string          `json:"source"`
	Target  string          `json:"target"`
	Via     []string        `json:"via"`
	Content json.RawMessage `json:"content"`
}

func (TargetedMessage) Kind() Kind { return KindTargetedMessage }

type TargetedMessageResponse struct {
	Response json.RawMessage `json:"response"`
}

func (TargetedMessageResponse) Kind() Kind { return KindTargetedMessageResponse }

// MessageRejected is sent back when the receiving incarnation considers the
// sender tombstoned, or when a TargetedMessage finds no forwarding
// candidate.
type MessageRejected struct {
	Reason string `json:"reason"`
}

func (MessageRejected) Kind() Kind { return KindMessageRejected }

// Done terminates a request/response exchange on the wire (§4.1 framing).
type Done struct{}

func (Done) Kind() Kind { return KindDone }

type wireMessage struct {
	Kind    Kind            `json:"kind"`
	Content json.RawMessage `json:"content"`
}

func encodeMessage(m Message) (json.RawMessage, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("replog: marshal %s: %w", m.Kind(), err)
	}
	return json.Marshal(wireMessage{Kind: m.Kind(), Content: raw})
}

func decodeMessage(raw []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("replog: unmarshal message envelope: %w", err)
	}
	switch w.Kind {
	case KindNewEvent:
		var m NewEvent
		return m, json.Unmarshal(w.Content, &m)
	case KindBulkEvents:
		var m BulkEvents
		return m, json.Unmarshal(w.Content, &m)
	case KindGetEvent:
		var m GetEvent
		return m, json.Unmarshal(w.Content, &m)
	case KindSyncRequest:
		var m SyncRequest
		return m, json.Unmarshal(w.Content, &m)
	case KindGetNetworkState:
		return GetNetworkState{}, nil
	case KindNetworkState:
		var m NetworkState
		return m, json.Unmarshal(w.Content, &m)
	case KindTargetedMessage:
		var m TargetedMessage
		return m, json.Unmarshal(w.Content, &m)
	case KindTargetedMessageResponse:
		var m TargetedMessageResponse
		return m, json.Unmarshal(w.Content, &m)
	case KindMessageRejected:
		var m MessageRejected
		return m, json.Unmarshal(w.Content, &m)
	case KindDone:
		return Done{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageKind, w.Kind)
	}
}

// ErrUnknownMessageKind is returned when a peer sends a Kind this build
// does not recognize — the connection is dropped, not treated as fatal.
var ErrUnknownMessageKind = fmt.Errorf("replog: unknown message kind")
