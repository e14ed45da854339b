package replog

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"testing"

	"emberd/internal/clock"
	"emberd/internal/event"
	"emberd/internal/eventlog"
	"emberd/internal/gossip"
	"emberd/internal/ids"
)

type fakeHost struct {
	applied  []event.Event
	snapshot json.RawMessage
	imported json.RawMessage
	clock    *clock.EventClock
}

func (f *fakeHost) Apply(ev event.Event) { f.applied = append(f.applied, ev) }

func (f *fakeHost) Snapshot() (json.RawMessage, *clock.EventClock, error) {
	return f.snapshot, f.clock, nil
}

func (f *fakeHost) Import(snapshot json.RawMessage) (*clock.EventClock, error) {
	f.imported = snapshot
	c := clock.New()
	c.UpdateWith(ids.EventId{Server: 9, Epoch: 1, Seq: 5})
	return c, nil
}

func newTestReplog(t *testing.T) (*ReplicatedEventLog, *eventlog.EventLog) {
	t.Helper()
	log := eventlog.New(1, 1)
	tr := gossip.New("node-a", &tls.Config{}, 1)
	r := New(log, tr, ids.Incarnation{Server: 1, Epoch: 1}, "node-a")
	return r, log
}

func TestDispatchNewEventSatisfied(t *testing.T) {
	r, _ := newTestReplog(t)
	host := &fakeHost{}
	r.SetStateHost(host)

	ev := event.Event{
		Id:        ids.EventId{Server: 2, Epoch: 1, Seq: 1},
		Timestamp: 1,
		Clock:     clock.New(),
		Target:    ids.ObjectId(1),
		Details:   event.UserQuit{User: ids.ObjectId(1), Reason: "x"},
	}
	resp, done := r.dispatch("node-b", NewEvent{Event: ev})
	if !done {
		t.Fatal("expected done=true for a satisfied event")
	}
	if _, ok := resp.(Done); !ok {
		t.Fatalf("expected Done response, got %T", resp)
	}
}

func TestDispatchNewEventMissingDependency(t *testing.T) {
	r, _ := newTestReplog(t)

	dep := clock.New()
	dep.UpdateWith(ids.EventId{Server: 3, Epoch: 1, Seq: 1})
	ev := event.Event{
		Id:        ids.EventId{Server: 2, Epoch: 1, Seq: 1},
		Timestamp: 1,
		Clock:     dep,
		Target:    ids.ObjectId(1),
		Details:   event.UserQuit{User: ids.ObjectId(1), Reason: "x"},
	}
	resp, done := r.dispatch("node-b", NewEvent{Event: ev})
	if done {
		t.Fatal("expected done=false when dependencies are unmet")
	}
	ge, ok := resp.(GetEvent)
	if !ok {
		t.Fatalf("expected GetEvent response, got %T", resp)
	}
	if len(ge.Ids) != 1 || ge.Ids[0].Server != 3 {
		t.Fatalf("unexpected missing ids: %v", ge.Ids)
	}
}

func TestDispatchGetEventAndSyncRequest(t *testing.T) {
	r, log := newTestReplog(t)
	ev := log.Create(ids.ObjectId(1), event.UserQuit{User: ids.ObjectId(1), Reason: "x"})
	log.Add(ev)

	resp, done := r.dispatch("node-b", GetEvent{Ids: []ids.EventId{ev.Id}})
	if !done {
		t.Fatal("GetEvent exchange should terminate immediately")
	}
	be, ok := resp.(BulkEvents)
	if !ok || len(be.Events) != 1 {
		t.Fatalf("expected one event back, got %#v", resp)
	}

	resp2, _ := r.dispatch("node-b", SyncRequest{Clock: clock.New()})
	be2, ok := resp2.(BulkEvents)
	if !ok || len(be2.Events) != 1 {
		t.Fatalf("expected SyncRequest to return the stored event, got %#v", resp2)
	}
}

func TestDispatchNetworkStateBootstrapImport(t *testing.T) {
	r, log := newTestReplog(t)
	host := &fakeHost{}
	r.SetStateHost(host)

	resp, done := r.dispatch("node-b", NetworkState{Snapshot: json.RawMessage(`{"users":{}}`)})
	if !done {
		t.Fatal("NetworkState import should terminate the exchange")
	}
	if _, ok := resp.(Done); !ok {
		t.Fatalf("expected Done ack, got %T", resp)
	}
	if string(host.imported) != `{"users":{}}` {
		t.Fatalf("snapshot not forwarded to host: %s", host.imported)
	}
	if log.Clock().Get(9).Seq != 5 {
		t.Fatal("log clock should adopt the imported clock")
	}
}

func TestTombstoneRejectsInbound(t *testing.T) {
	r, _ := newTestReplog(t)
	bad := ids.Incarnation{Server: 7, Epoch: 1}
	r.mu.Lock()
	r.tombstones[bad] = struct{}{}
	r.mu.Unlock()

	raw, err := encodeEnvelope(bad, GetNetworkState{})
	if err != nil {
		t.Fatalf("encode envelope: %v", err)
	}
	resp, done := r.handleFrame(gossip.Request{PeerName: "ghost", Body: raw})
	if !done {
		t.Fatal("tombstoned sender should terminate the exchange")
	}
	env, err := decodeEnvelope(resp[0])
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, ok := env.Content.(MessageRejected); !ok {
		t.Fatalf("expected MessageRejected, got %T", env.Content)
	}
}

func TestHandleTargetedMessageForSelf(t *testing.T) {
	r, _ := newTestReplog(t)
	r.SetRPCHandler(func(content json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`"pong"`), nil
	})

	resp := r.handleTargetedMessage(TargetedMessage{Source: "node-b", Target: "node-a", Content: json.RawMessage(`"ping"`)})
	tr, ok := resp.(TargetedMessageResponse)
	if !ok {
		t.Fatalf("expected TargetedMessageResponse, got %T", resp)
	}
	if string(tr.Response) != `"pong"` {
		t.Fatalf("unexpected response: %s", tr.Response)
	}
}

func TestHandleTargetedMessageNoRoute(t *testing.T) {
	r, _ := newTestReplog(t)
	resp := r.handleTargetedMessage(TargetedMessage{Source: "node-b", Target: "node-z", Via: nil})
	if _, ok := resp.(MessageRejected); !ok {
		t.Fatalf("expected MessageRejected with no configured peers, got %T", resp)
	}
}

func TestSubmitStoresEventLocally(t *testing.T) {
	r, log := newTestReplog(t)
	ev := r.Submit(context.Background(), ids.ObjectId(1), event.UserQuit{User: ids.ObjectId(1), Reason: "bye"})
	if _, ok := log.Get(ev.Id); !ok {
		t.Fatal("submitted event should be stored locally")
	}
}

func TestDispatchNewEventRecordsTombstone(t *testing.T) {
	r, _ := newTestReplog(t)
	ev := event.Event{
		Id:        ids.EventId{Server: 2, Epoch: 1, Seq: 1},
		Timestamp: 1,
		Clock:     clock.New(),
		Target:    ids.ObjectId(1),
		Details:   event.ServerQuit{Server: 44, Epoch: 7, Reason: "bye"},
	}
	r.dispatch("node-b", NewEvent{Event: ev})
	if !r.isTombstoned(ids.Incarnation{Server: 44, Epoch: 7}) {
		t.Fatal("a ServerQuit event arriving via NewEvent should record a tombstone")
	}
}
