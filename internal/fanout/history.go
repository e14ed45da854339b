// Package fanout implements HistoryFanOut (§4.5): it turns each applied
// StateChange into the set of users who must observe it, appends an entry
// to each of their per-user history rings, and publishes a HistoryUpdate on
// the subscriber channel the client-protocol layer consumes.
package fanout

import (
	"emberd/internal/ids"
	"emberd/internal/netstate"
)

// HistoryUpdate is one fanned-out consequence of an applied event, ready
// for the client-protocol layer to turn into wire notifications.
type HistoryUpdate struct {
	EventId       ids.EventId
	Timestamp     int64
	Change        netstate.StateChange
	UsersToNotify []ids.ObjectId
}
