package fanout

import (
	"emberd/internal/ids"
	"emberd/internal/netstate"
	"emberd/internal/policy"
)

// audienceFor implements the HistoryFanOut audience table (§4.5), evaluated
// against ns's state at the time the change is processed — which, thanks to
// the update-sink buffering in netstate.ApplyEvent, is always after every
// consequence of the same event has already been applied.
func audienceFor(ns *netstate.NetworkState, pol policy.Policy, c netstate.StateChange) []ids.ObjectId {
	switch c.Kind {
	case netstate.ChangeNewUser,
		netstate.ChangeNewServer,
		netstate.ChangeServerQuit,
		netstate.ChangeNewAuditLogEntry,
		netstate.ChangeEventComplete:
		return nil

	case netstate.ChangeUserNickChange,
		netstate.ChangeUserQuit,
		netstate.ChangeUserAwayChange,
		netstate.ChangeUserModeChange:
		return append([]ids.ObjectId{c.User}, coMembers(ns, c.User)...)

	case netstate.ChangeChannelModeChange,
		netstate.ChangeChannelTopicChange,
		netstate.ChangeMembershipFlagChange,
		netstate.ChangeChannelRename:
		// netstate already emits one StateChange per current member for
		// these (the handler loops membersOfLocked itself), so the
		// audience is just the change's own User field.
		return []ids.ObjectId{c.User}

	case netstate.ChangeChannelJoin:
		// A single StateChange covers the whole join; the joiner is
		// already a member by the time this is processed, so MembersOf
		// alone covers the full audience.
		return ns.MembersOf(c.Channel)

	case netstate.ChangeChannelPart, netstate.ChangeChannelKick:
		out := ns.MembersOf(c.Channel)
		return appendUnique(out, c.User)

	case netstate.ChangeListModeAdded, netstate.ChangeListModeRemoved:
		var out []ids.ObjectId
		for _, m := range ns.MembersOf(c.Channel) {
			membership, ok := ns.Membership(m, c.Channel)
			if !ok {
				continue
			}
			if pol.ShouldSeeListChange(membership.Permissions, c.ListType) {
				out = append(out, m)
			}
		}
		return out

	case netstate.ChangeChannelInvite:
		return []ids.ObjectId{c.User}

	case netstate.ChangeNewMessage:
		if c.Channel != 0 {
			members := ns.MembersOf(c.Channel)
			out := make([]ids.ObjectId, 0, len(members))
			for _, m := range members {
				if m != c.OtherUser {
					out = append(out, m)
				}
			}
			return out
		}
		if c.User == c.OtherUser {
			return []ids.ObjectId{c.User}
		}
		return []ids.ObjectId{c.User, c.OtherUser}

	default:
		return nil
	}
}

// coMembers returns every user (other than subject) sharing at least one
// channel with subject, by walking the channels subject belongs to rather
// than scanning every user in the network.
func coMembers(ns *netstate.NetworkState, subject ids.ObjectId) []ids.ObjectId {
	seen := map[ids.ObjectId]struct{}{subject: {}}
	var out []ids.ObjectId
	for _, ch := range ns.ChannelsOf(subject) {
		for _, m := range ns.MembersOf(ch) {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	return out
}

func appendUnique(users []ids.ObjectId, extra ids.ObjectId) []ids.ObjectId {
	for _, u := range users {
		if u == extra {
			return users
		}
	}
	return append(users, extra)
}
