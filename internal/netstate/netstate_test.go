package netstate

import (
	"testing"

	"emberd/internal/clock"
	"emberd/internal/event"
	"emberd/internal/ids"
)

func mkEvent(server ids.ServerId, seq uint64, ts int64, target ids.ObjectId, details event.Details) event.Event {
	return event.Event{
		Id:        ids.EventId{Server: server, Epoch: 1, Seq: seq},
		Timestamp: ts,
		Clock:     clock.New(),
		Target:    target,
		Details:   details,
	}
}

func kindsOf(changes []StateChange) []ChangeKind {
	var out []ChangeKind
	for _, c := range changes {
		out = append(out, c.Kind)
	}
	return out
}

func hasKind(changes []StateChange, k ChangeKind) bool {
	for _, c := range changes {
		if c.Kind == k {
			return true
		}
	}
	return false
}

func TestApplyNewUserAndBindNickname(t *testing.T) {
	s := New(ids.Incarnation{Server: 1, Epoch: 1}, "node-a")
	u := ids.ObjectId(1)
	changes := s.ApplyEvent(mkEvent(1, 1, 100, u, event.NewUser{Username: "a", Nickname: "alice"}))

	if !hasKind(changes, ChangeNewUser) || !hasKind(changes, ChangeEventComplete) {
		t.Fatalf("expected NewUser and EventComplete, got %v", kindsOf(changes))
	}
	b, ok := s.NickBinding("alice")
	if !ok || b.User != u {
		t.Fatal("nickname should be bound to the new user")
	}
}

func TestApplyIdempotent(t *testing.T) {
	s := New(ids.Incarnation{Server: 1, Epoch: 1}, "node-a")
	ev := mkEvent(1, 1, 100, ids.ObjectId(1), event.NewUser{Username: "a", Nickname: "alice"})
	s.ApplyEvent(ev)
	changes := s.ApplyEvent(ev)
	if changes != nil {
		t.Fatalf("re-applying an already-seen event id should be a no-op, got %v", changes)
	}
}

func TestNickCollisionAuthorKnewAndLost(t *testing.T) {
	s := New(ids.Incarnation{Server: 1, Epoch: 1}, "node-a")
	alice := ids.ObjectId(1)
	bob := ids.ObjectId(2)

	first := mkEvent(1, 1, 100, alice, event.NewUser{Username: "a", Nickname: "alice"})
	s.ApplyEvent(first)
	s.ApplyEvent(mkEvent(2, 99, 50, bob, event.NewUser{Username: "b"}))

	// Bob's clock contains the winning event id, so he already knew and
	// loses outright — only Bob collides.
	bobClock := clock.New()
	bobClock.UpdateWith(first.Id)
	bindAttempt := event.Event{
		Id:        ids.EventId{Server: 2, Epoch: 1, Seq: 100},
		Timestamp: 200,
		Clock:     bobClock,
		Target:    bob,
		Details:   event.BindNickname{User: bob, Nickname: "alice"},
	}
	s.ApplyEvent(bindAttempt)

	if _, ok := s.NickBinding("alice"); !ok {
		t.Fatal("alice's original binding should survive")
	}
	b, ok := s.NickBinding("alice")
	if !ok || b.User != alice {
		t.Fatal("alice should still hold the nickname")
	}
	if _, ok := s.User(bob); !ok {
		t.Fatal("bob should not be disconnected, only renamed")
	}
	found := false
	s.mu.RLock()
	for _, nb := range s.nickBindings {
		if nb.User == bob {
			found = true
		}
	}
	s.mu.RUnlock()
	if !found {
		t.Fatal("bob should have a fallback nickname binding")
	}
}

func TestNickCollisionConcurrentLowerTimestampWins(t *testing.T) {
	s := New(ids.Incarnation{Server: 1, Epoch: 1}, "node-a")
	alice := ids.ObjectId(5)
	bob := ids.ObjectId(9)

	evAlice := mkEvent(1, 1, 300, alice, event.BindNickname{User: alice, Nickname: "same"})
	evBob := mkEvent(2, 1, 100, bob, event.BindNickname{User: bob, Nickname: "same"})
	s.ApplyEvent(evAlice)
	// evBob is concurrent (neither clock contains the other) and has the
	// lower timestamp, so bob should win the name even though alice's bind
	// was applied first at this node.
	s.users[alice] = &User{Id: alice}
	s.users[bob] = &User{Id: bob}
	s.ApplyEvent(evBob)

	b, ok := s.NickBinding("same")
	if !ok || b.User != bob {
		t.Fatalf("expected bob to win the concurrent bind, got %+v ok=%v", b, ok)
	}
}

func TestChannelNameCollisionLowerIdWins(t *testing.T) {
	s := New(ids.Incarnation{Server: 1, Epoch: 1}, "node-a")
	lower := ids.ObjectId(10)
	higher := ids.ObjectId(20)

	s.ApplyEvent(mkEvent(1, 1, 100, higher, event.NewChannel{Channel: higher, Name: "#chat", Creator: ids.ObjectId(1)}))
	s.ApplyEvent(mkEvent(1, 2, 101, lower, event.NewChannel{Channel: lower, Name: "#chat", Creator: ids.ObjectId(2)}))

	ch, ok := s.ChannelByName("#chat")
	if !ok || ch.Id != lower {
		t.Fatalf("expected #chat to belong to the lower ChannelId, got %+v", ch)
	}
	if _, ok := s.Channel(higher); !ok {
		t.Fatal("the losing channel should still exist under its fallback name")
	}
}

func TestTopicRaceLaterTimestampWins(t *testing.T) {
	s := New(ids.Incarnation{Server: 1, Epoch: 1}, "node-a")
	ch := ids.ObjectId(1)
	s.ApplyEvent(mkEvent(1, 1, 50, ch, event.NewChannel{Channel: ch, Name: "#x", Creator: ids.ObjectId(1)}))

	s.ApplyEvent(mkEvent(1, 2, 100, ch, event.NewChannelTopic{Channel: ch, TopicId: ids.ObjectId(1), Topic: "first", SetBy: ids.ObjectId(1)}))
	s.ApplyEvent(mkEvent(1, 3, 90, ch, event.NewChannelTopic{Channel: ch, TopicId: ids.ObjectId(2), Topic: "older", SetBy: ids.ObjectId(1)}))
	s.ApplyEvent(mkEvent(1, 4, 150, ch, event.NewChannelTopic{Channel: ch, TopicId: ids.ObjectId(3), Topic: "newer", SetBy: ids.ObjectId(1)}))

	got, _ := s.Channel(ch)
	if got.Topic == nil || got.Topic.Text != "newer" {
		t.Fatalf("expected the later topic to win, got %+v", got.Topic)
	}
}

func TestChannelEmptyingCascade(t *testing.T) {
	s := New(ids.Incarnation{Server: 1, Epoch: 1}, "node-a")
	ch := ids.ObjectId(1)
	u := ids.ObjectId(2)
	s.ApplyEvent(mkEvent(1, 1, 10, ch, event.NewChannel{Channel: ch, Name: "#x", Creator: u}))
	s.ApplyEvent(mkEvent(1, 2, 11, u, event.ChannelJoin{User: u, Channel: ch}))
	if _, ok := s.Channel(ch); !ok {
		t.Fatal("channel should exist while it has a member")
	}

	s.ApplyEvent(mkEvent(1, 3, 12, u, event.ChannelPart{User: u, Channel: ch, Reason: "bye"}))
	if _, ok := s.Channel(ch); ok {
		t.Fatal("channel should be destroyed once its last member leaves")
	}
}

func TestServerQuitForSelfTriggersShutdown(t *testing.T) {
	self := ids.Incarnation{Server: 9, Epoch: 7}
	s := New(self, "node-a")
	s.ApplyEvent(mkEvent(9, 1, 1, ids.ObjectId(0), event.ServerQuit{Server: 9, Epoch: 7, Reason: "dead"}))

	select {
	case <-s.ShuttingDown():
	default:
		t.Fatal("own ServerQuit should trigger shutdown")
	}
}

func TestPersistentSessionRaceNewerTimestampWins(t *testing.T) {
	s := New(ids.Incarnation{Server: 1, Epoch: 1}, "node-a")
	u := ids.ObjectId(1)
	s.ApplyEvent(mkEvent(1, 1, 10, u, event.NewUser{Username: "a"}))

	s.ApplyEvent(mkEvent(1, 2, 50, u, event.EnablePersistentSession{User: u, SessionKey: "old"}))
	s.ApplyEvent(mkEvent(2, 1, 30, u, event.EnablePersistentSession{User: u, SessionKey: "stale"}))

	got, _ := s.User(u)
	if got.SessionKey == nil || *got.SessionKey != "old" {
		t.Fatalf("expected the newer-timestamped key to win, got %+v", got.SessionKey)
	}
}

func TestSnapshotImportRoundTrip(t *testing.T) {
	s := New(ids.Incarnation{Server: 1, Epoch: 1}, "node-a")
	ch := ids.ObjectId(1)
	u := ids.ObjectId(2)
	s.ApplyEvent(mkEvent(1, 1, 1, u, event.NewUser{Username: "a", Nickname: "alice"}))
	s.ApplyEvent(mkEvent(1, 2, 2, ch, event.NewChannel{Channel: ch, Name: "#x", Creator: u}))
	s.ApplyEvent(mkEvent(1, 3, 3, u, event.ChannelJoin{User: u, Channel: ch}))

	raw, _, err := s.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	dst := New(ids.Incarnation{Server: 2, Epoch: 1}, "node-b")
	if _, err := dst.Import(raw); err != nil {
		t.Fatalf("import: %v", err)
	}
	if _, ok := dst.ChannelByName("#x"); !ok {
		t.Fatal("imported state should have the channel")
	}
	if members := dst.MembersOf(ch); len(members) != 1 || members[0] != u {
		t.Fatalf("imported state should preserve membership, got %v", members)
	}
	if b, ok := dst.NickBinding("alice"); !ok || b.User != u {
		t.Fatal("imported state should preserve the nick binding")
	}
}

func TestValidateRejectsDuplicateChannelName(t *testing.T) {
	s := New(ids.Incarnation{Server: 1, Epoch: 1}, "node-a")
	ch := ids.ObjectId(1)
	s.ApplyEvent(mkEvent(1, 1, 1, ch, event.NewChannel{Channel: ch, Name: "#x", Creator: ids.ObjectId(2)}))

	err := s.Validate(ids.ObjectId(2), event.NewChannel{Channel: ids.ObjectId(99), Name: "#x", Creator: ids.ObjectId(3)})
	if err == nil {
		t.Fatal("expected validation error for a duplicate channel name")
	}
}
