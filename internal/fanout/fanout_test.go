package fanout

import (
	"testing"
	"time"

	"emberd/internal/clock"
	"emberd/internal/event"
	"emberd/internal/ids"
	"emberd/internal/netstate"
	"emberd/internal/policy"
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

func TestPublishChannelJoinNotifiesMembers(t *testing.T) {
	ns := netstate.New(ids.Incarnation{Server: 1, Epoch: 1}, "node-a")
	ch := ids.ObjectId(1)
	alice := ids.ObjectId(2)
	bob := ids.ObjectId(3)

	ns.ApplyEvent(mkEvent(1, 1, 1, alice, event.NewUser{Username: "a"}))
	ns.ApplyEvent(mkEvent(1, 2, 2, bob, event.NewUser{Username: "b"}))
	ns.ApplyEvent(mkEvent(1, 3, 3, ch, event.NewChannel{Channel: ch, Name: "#x", Creator: alice}))
	changes := ns.ApplyEvent(mkEvent(1, 4, 4, alice, event.ChannelJoin{User: alice, Channel: ch}))

	f := New(ns, policy.StandardPolicy{})
	f.Publish(changes)

	entries := f.Reverse(alice, 0, 0)
	if len(entries) == 0 {
		t.Fatal("expected the joiner's own ring to receive the join notification")
	}
}

func TestPublishNewMessageExcludesSender(t *testing.T) {
	ns := netstate.New(ids.Incarnation{Server: 1, Epoch: 1}, "node-a")
	ch := ids.ObjectId(1)
	alice := ids.ObjectId(2)
	bob := ids.ObjectId(3)

	ns.ApplyEvent(mkEvent(1, 1, 1, alice, event.NewUser{Username: "a"}))
	ns.ApplyEvent(mkEvent(1, 2, 2, bob, event.NewUser{Username: "b"}))
	ns.ApplyEvent(mkEvent(1, 3, 3, ch, event.NewChannel{Channel: ch, Name: "#x", Creator: alice}))
	ns.ApplyEvent(mkEvent(1, 4, 4, alice, event.ChannelJoin{User: alice, Channel: ch}))
	ns.ApplyEvent(mkEvent(1, 5, 5, bob, event.ChannelJoin{User: bob, Channel: ch}))

	changes := ns.ApplyEvent(mkEvent(1, 6, 6, ch, event.NewMessage{
		Message: ids.ObjectId(99), Source: alice, Target: ch, TargetIsChannel: true,
		Type: event.MessagePrivmsg, Text: "hi",
	}))

	f := New(ns, policy.StandardPolicy{})
	f.Publish(changes)

	if entries := f.Reverse(alice, 0, 0); len(entries) != 0 {
		t.Fatalf("sender should not see their own channel message in the ring, got %d entries", len(entries))
	}
	if entries := f.Reverse(bob, 0, 0); len(entries) != 1 {
		t.Fatalf("expected bob to receive exactly one message notification, got %d", len(entries))
	}
}

func TestPublishNewUserHasEmptyAudienceButStillPublishes(t *testing.T) {
	ns := netstate.New(ids.Incarnation{Server: 1, Epoch: 1}, "node-a")
	alice := ids.ObjectId(1)
	changes := ns.ApplyEvent(mkEvent(1, 1, 1, alice, event.NewUser{Username: "a"}))

	f := New(ns, policy.StandardPolicy{})
	done := make(chan struct{})
	go func() {
		seen := 0
		for range f.Updates() {
			seen++
			if seen == len(changes) {
				close(done)
				return
			}
		}
	}()
	f.Publish(changes)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected every change, including audience-less ones, to reach the subscriber channel")
	}
	if entries := f.Reverse(alice, 0, 0); len(entries) != 0 {
		t.Fatalf("NewUser has no ring audience, got %d entries", len(entries))
	}
}

func TestRingForwardReverseFromId(t *testing.T) {
	r := newRing(10, time.Hour)
	now := time.Now()
	var last uint64
	for i := 0; i < 5; i++ {
		last = r.append(HistoryUpdate{Timestamp: int64(i)}, now)
	}

	fwd := r.forwardFrom(0, 0)
	if len(fwd) != 5 || fwd[0].Seq != 1 {
		t.Fatalf("expected 5 entries starting at seq 1, got %+v", fwd)
	}
	rev := r.reverseFrom(0, 0)
	if len(rev) != 5 || rev[0].Seq != last {
		t.Fatalf("expected newest-first order ending at seq %d, got %+v", last, rev)
	}
	mid := r.forwardFrom(2, 0)
	if len(mid) != 3 {
		t.Fatalf("expected 3 entries after seq 2, got %d", len(mid))
	}
}

func TestRingBoundedByCount(t *testing.T) {
	r := newRing(3, time.Hour)
	now := time.Now()
	for i := 0; i < 10; i++ {
		r.append(HistoryUpdate{Timestamp: int64(i)}, now)
	}
	all := r.forwardFrom(0, 0)
	if len(all) != 3 {
		t.Fatalf("expected ring bounded to 3 entries, got %d", len(all))
	}
	if all[0].Seq != 8 {
		t.Fatalf("expected the oldest surviving entry to be seq 8, got %d", all[0].Seq)
	}
}

func TestRingPruneExpired(t *testing.T) {
	r := newRing(100, 10*time.Millisecond)
	past := time.Now().Add(-time.Hour)
	r.append(HistoryUpdate{Timestamp: 1}, past)
	r.append(HistoryUpdate{Timestamp: 2}, time.Now())

	r.pruneExpired(time.Now())
	remaining := r.forwardFrom(0, 0)
	if len(remaining) != 1 {
		t.Fatalf("expected the stale entry to be pruned, got %d remaining", len(remaining))
	}
}

func TestHostApplyBridgesToFanOut(t *testing.T) {
	ns := netstate.New(ids.Incarnation{Server: 1, Epoch: 1}, "node-a")
	f := New(ns, policy.StandardPolicy{})
	h := NewHost(ns, f)

	alice := ids.ObjectId(1)
	h.Apply(mkEvent(1, 1, 1, alice, event.NewUser{Username: "a", Nickname: "alice"}))

	if _, ok := ns.User(alice); !ok {
		t.Fatal("Host.Apply should have applied the event to NetworkState")
	}

	raw, _, err := h.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	dst := netstate.New(ids.Incarnation{Server: 2, Epoch: 1}, "node-b")
	dstHost := NewHost(dst, New(dst, policy.StandardPolicy{}))
	if _, err := dstHost.Import(raw); err != nil {
		t.Fatalf("import: %v", err)
	}
	if _, ok := dst.User(alice); !ok {
		t.Fatal("imported state should have alice")
	}
}
