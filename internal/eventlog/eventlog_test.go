package eventlog

import (
	"testing"

	"emberd/internal/clock"
	"emberd/internal/event"
	"emberd/internal/ids"
)

func mkEvent(server ids.ServerId, epoch ids.EpochId, seq uint64, deps *clock.EventClock) event.Event {
	if deps == nil {
		deps = clock.New()
	}
	return event.Event{
		Id:        ids.EventId{Server: server, Epoch: epoch, Seq: seq},
		Timestamp: int64(seq),
		Clock:     deps,
		Target:    ids.ObjectId(seq),
		Details:   event.UserQuit{User: ids.ObjectId(seq), Reason: "test"},
	}
}

func TestAddIdempotent(t *testing.T) {
	l := New(1, 1)
	e1 := mkEvent(1, 1, 1, nil)
	if !l.Add(e1) {
		t.Fatal("first add should succeed")
	}
	if l.Add(e1) {
		t.Fatal("re-adding the same event id should be a no-op")
	}
	if l.StoredCount() != 1 {
		t.Fatalf("stored count = %d, want 1", l.StoredCount())
	}
}

func TestCausalDeferral(t *testing.T) {
	// S1: E2 depends on E1. B receives E2 first; it must buffer it, then
	// only surface it once E1 arrives.
	l := New(2, 1) // this is node B's log
	e1 := mkEvent(1, 1, 1, nil)

	depClock := clock.New()
	depClock.UpdateWith(e1.Id)
	e2 := mkEvent(1, 1, 2, depClock)

	if l.Add(e2) {
		t.Fatal("E2 should not be addable before E1 arrives")
	}
	if l.StoredCount() != 0 {
		t.Fatalf("E2 must not be visible yet: stored count = %d", l.StoredCount())
	}

	var readyOrder []ids.EventId
	done := make(chan struct{})
	go func() {
		readyOrder = append(readyOrder, (<-l.Ready()).Id)
		readyOrder = append(readyOrder, (<-l.Ready()).Id)
		close(done)
	}()

	if !l.Add(e1) {
		t.Fatal("E1 has no dependencies and should be addable immediately")
	}
	<-done

	if len(readyOrder) != 2 || readyOrder[0] != e1.Id || readyOrder[1] != e2.Id {
		t.Fatalf("expected E1 then E2 on ready channel, got %v", readyOrder)
	}
	if l.StoredCount() != 2 {
		t.Fatalf("both events should now be stored: %d", l.StoredCount())
	}
}

func TestMissingIdsForSameEpoch(t *testing.T) {
	l := New(9, 1)
	target := clock.New()
	target.UpdateWith(ids.EventId{Server: 1, Epoch: 1, Seq: 3})

	missing := l.MissingIdsFor(target)
	if len(missing) != 3 {
		t.Fatalf("expected 3 missing ids (seq 1..3), got %d: %v", len(missing), missing)
	}
}

func TestMissingIdsForNewerEpoch(t *testing.T) {
	l := New(9, 1)
	l.Add(mkEvent(1, 1, 100, nil))

	target := clock.New()
	target.UpdateWith(ids.EventId{Server: 1, Epoch: 2, Seq: 1})

	missing := l.MissingIdsFor(target)
	if len(missing) != 1 {
		t.Fatalf("a changed epoch should yield one representative id, got %d", len(missing))
	}
}

func TestGetSince(t *testing.T) {
	l := New(1, 1)
	l.Add(mkEvent(1, 1, 1, nil))
	l.Add(mkEvent(1, 1, 2, func() *clock.EventClock {
		c := clock.New()
		c.UpdateWith(ids.EventId{Server: 1, Epoch: 1, Seq: 1})
		return c
	}()))

	caller := clock.New()
	caller.UpdateWith(ids.EventId{Server: 1, Epoch: 1, Seq: 1})

	since := l.GetSince(caller)
	if len(since) != 1 || since[0].Id.Seq != 2 {
		t.Fatalf("expected only seq 2, got %v", since)
	}
}

func TestPruneBefore(t *testing.T) {
	l := New(1, 1)
	old := mkEvent(1, 1, 1, nil)
	old.Timestamp = 100
	l.Add(old)
	newer := mkEvent(1, 1, 2, func() *clock.EventClock {
		c := clock.New()
		c.UpdateWith(ids.EventId{Server: 1, Epoch: 1, Seq: 1})
		return c
	}())
	newer.Timestamp = 200
	l.Add(newer)

	l.PruneBefore(150)
	if l.StoredCount() != 1 {
		t.Fatalf("expected one event pruned, stored count = %d", l.StoredCount())
	}
	if _, ok := l.Get(old.Id); ok {
		t.Fatal("old event should have been pruned")
	}
}

func TestCreateStampsMonotonicSeq(t *testing.T) {
	l := New(5, 1)
	a := l.Create(1, event.UserQuit{})
	b := l.Create(2, event.UserQuit{})
	if a.Id.Seq >= b.Id.Seq {
		t.Fatalf("expected monotonic seq, got %d then %d", a.Id.Seq, b.Id.Seq)
	}
	if a.Id.Server != 5 || a.Id.Epoch != 1 {
		t.Fatalf("unexpected identity on created event: %+v", a.Id)
	}
}

func TestAdopt(t *testing.T) {
	l := New(1, 1)
	snap := clock.New()
	snap.UpdateWith(ids.EventId{Server: 7, Epoch: 3, Seq: 80})
	l.Adopt(snap)
	if l.Clock().Get(7).Seq != 80 {
		t.Fatal("Adopt should replace the log's current clock")
	}
}
