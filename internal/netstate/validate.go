package netstate

import (
	"fmt"

	"emberd/internal/event"
	"emberd/internal/ids"
)

// ValidationError is returned by Validate when a precondition the local
// submitter cares about does not currently hold. Validation is advisory
// only (§4.4) — nothing guarantees state is unchanged by the time the
// event actually reaches ApplyEvent, so a passed Validate does not
// guarantee the event's effect.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "netstate: validation failed: " + e.Reason }

// Validate checks preconditions for target/details against current state.
// It takes the read lock only — it never mutates state.
func (s *NetworkState) Validate(target ids.ObjectId, details event.Details) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch d := details.(type) {
	case event.NewUser:
		if d.Nickname != "" {
			if b, ok := s.nickBindings[d.Nickname]; ok && b.User != target {
				return &ValidationError{Reason: fmt.Sprintf("nickname %q is already bound", d.Nickname)}
			}
		}
	case event.BindNickname:
		if b, ok := s.nickBindings[d.Nickname]; ok && b.User != d.User {
			return &ValidationError{Reason: fmt.Sprintf("nickname %q is already bound", d.Nickname)}
		}
		if _, ok := s.users[d.User]; !ok {
			return &ValidationError{Reason: "user does not exist"}
		}
	case event.NewChannel:
		if _, ok := s.channelsByName[d.Name]; ok {
			return &ValidationError{Reason: fmt.Sprintf("channel %q already exists", d.Name)}
		}
	case event.ChannelJoin:
		if _, ok := s.channels[d.Channel]; !ok {
			return &ValidationError{Reason: "channel does not exist"}
		}
		if _, ok := s.memberships[MembershipId{User: d.User, Channel: d.Channel}]; ok {
			return &ValidationError{Reason: "already a member"}
		}
	case event.ChannelPart:
		if _, ok := s.memberships[MembershipId{User: d.User, Channel: d.Channel}]; !ok {
			return &ValidationError{Reason: "not a member"}
		}
	case event.ChannelKick:
		if _, ok := s.memberships[MembershipId{User: d.User, Channel: d.Channel}]; !ok {
			return &ValidationError{Reason: "target is not a member"}
		}
		kicker, ok := s.memberships[MembershipId{User: d.Kicker, Channel: d.Channel}]
		if !ok {
			return &ValidationError{Reason: "kicker is not a member"}
		}
		if !containsFlag(kicker.Permissions, 'o') {
			return &ValidationError{Reason: "kicker is not an operator"}
		}
	case event.ChannelInvite:
		if _, ok := s.channels[d.Channel]; !ok {
			return &ValidationError{Reason: "channel does not exist"}
		}
		if _, ok := s.memberships[MembershipId{User: d.User, Channel: d.Channel}]; ok {
			return &ValidationError{Reason: "user is already a member"}
		}
	case event.NewMessage:
		if !d.TargetIsChannel {
			if _, ok := s.users[d.Target]; !ok {
				return &ValidationError{Reason: "message target user does not exist"}
			}
		} else if _, ok := s.channels[d.Target]; !ok {
			return &ValidationError{Reason: "message target channel does not exist"}
		}
	case event.EnablePersistentSession:
		if _, ok := s.users[d.User]; !ok {
			return &ValidationError{Reason: "user does not exist"}
		}
	}
	return nil
}

func containsFlag(flags string, r rune) bool {
	for _, f := range flags {
		if f == r {
			return true
		}
	}
	return false
}
