package mgmt

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"emberd/internal/eventlog"
	"emberd/internal/event"
	"emberd/internal/ids"
	"emberd/internal/netstate"
)

func TestCollectReflectsLiveComponents(t *testing.T) {
	log := eventlog.New(1, 1)
	log.Add(log.Create(ids.ObjectId(1), event.NewUser{Username: "a"}))

	state := netstate.New(ids.Incarnation{Server: 1, Epoch: 1}, "node-a")

	stats := Collect(Sources{Log: log, State: state})
	if stats.EventsStored != 1 {
		t.Fatalf("expected 1 stored event, got %d", stats.EventsStored)
	}
}

func TestDumpNetworkProducesValidSnapshot(t *testing.T) {
	state := netstate.New(ids.Incarnation{Server: 1, Epoch: 1}, "node-a")
	state.ApplyEvent(event.Event{
		Id: ids.EventId{Server: 1, Epoch: 1, Seq: 1}, Target: ids.ObjectId(1),
		Details: event.NewUser{Username: "a"},
	})

	raw, err := DumpNetwork(state)
	if err != nil {
		t.Fatalf("DumpNetwork: %v", err)
	}
	var v map[string]any
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("expected valid JSON, got error: %v", err)
	}
}

func TestStatusEndpointServesJSON(t *testing.T) {
	metrics := NewMetrics()
	srv := NewServer(Sources{}, metrics)
	defer srv.Close()

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected valid JSON body: %v", err)
	}
	if body["status"] != "healthy" {
		t.Fatalf("expected status healthy, got %v", body["status"])
	}
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	defer rl.Close()

	if !rl.Allow("1.2.3.4") || !rl.Allow("1.2.3.4") {
		t.Fatal("expected the first burst requests to be allowed")
	}
	if rl.Allow("1.2.3.4") {
		t.Fatal("expected the request past the burst to be rejected")
	}
}
