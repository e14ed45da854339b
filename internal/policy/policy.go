// Package policy decides who is allowed to see what. HistoryFanOut consults
// it for the one audience rule that needs more than membership lookups: list
// mode visibility (§4.5 "members for whom the channel policy permits seeing
// this list type").
package policy

import "emberd/internal/event"

// ViewAccess is the subset of a membership's permission flags that grant
// visibility into list modes beyond the always-visible operator view.
const ViewAccess = 'v'

// Policy decides visibility and capability questions that span channel
// membership state. StandardPolicy is the only implementation; it exists as
// an interface so HistoryFanOut and the clientapi layer do not hardcode the
// access-flag scheme.
type Policy interface {
	// ShouldSeeListChange reports whether a member holding permissions may
	// observe a ListModeAdded/Removed change of the given list type.
	ShouldSeeListChange(permissions string, listType event.ListType) bool

	// CanSeeTopic reports whether a member holding permissions may observe
	// a channel's topic. Topics are public to any member under the
	// standard policy, but the hook exists for a future +s-style mode.
	CanSeeTopic(permissions string) bool

	// CanEcho reports whether a user gets their own messages echoed back
	// (the IRCv3 echo-message capability), based on the capabilities the
	// client-protocol layer negotiated for that connection.
	CanEcho(capabilities map[string]struct{}) bool
}

// StandardPolicy is the default Policy: operators see every list type;
// everyone else needs the matching view-access flag. This mirrors the
// channel mode scheme used throughout netstate (runes in a flags string).
type StandardPolicy struct{}

func (StandardPolicy) ShouldSeeListChange(permissions string, _ event.ListType) bool {
	return hasFlag(permissions, 'o') || hasFlag(permissions, ViewAccess)
}

func (StandardPolicy) CanSeeTopic(string) bool { return true }

func (StandardPolicy) CanEcho(capabilities map[string]struct{}) bool {
	_, ok := capabilities["echo-message"]
	return ok
}

func hasFlag(flags string, r rune) bool {
	for _, f := range flags {
		if f == r {
			return true
		}
	}
	return false
}
