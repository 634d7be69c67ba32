package telemetry

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/instrument-control/icb/internal/config"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(config.TelemetryConfig{BufferSize: 10, HeartbeatSec: 3600})
	t.Cleanup(hub.Stop)
	return hub
}

func TestPublishAssignsMonotonicIDs(t *testing.T) {
	hub := newTestHub(t)

	hub.Publish("exchange", map[string]interface{}{"payload": "STATUS SYSTEM"})
	hub.Publish("exchange", map[string]interface{}{"payload": "STATUS VIALS"})

	replay := hub.buffer.since(0)
	if len(replay) != 2 {
		t.Fatalf("expected 2 buffered events, got %d", len(replay))
	}
	if replay[0].ID != 1 || replay[1].ID != 2 {
		t.Errorf("ids = %d, %d, want 1, 2", replay[0].ID, replay[1].ID)
	}
}

func TestBufferEvictsOldest(t *testing.T) {
	hub := NewHub(config.TelemetryConfig{BufferSize: 3, HeartbeatSec: 3600})
	defer hub.Stop()

	for i := 0; i < 5; i++ {
		hub.Publish("exchange", nil)
	}

	replay := hub.buffer.since(0)
	if len(replay) != 3 {
		t.Fatalf("expected capacity-bounded buffer of 3, got %d", len(replay))
	}
	if replay[0].ID != 3 {
		t.Errorf("oldest retained id = %d, want 3", replay[0].ID)
	}
}

func TestSubscribeReplaysAfterLastEventID(t *testing.T) {
	hub := newTestHub(t)

	hub.Publish("stateChanged", map[string]interface{}{"state": "PreRun"})
	hub.Publish("stateChanged", map[string]interface{}{"state": "Run"})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest("GET", "/api/v1/telemetry", nil)
	request.Header.Set("Last-Event-ID", "1")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	request = request.WithContext(ctx)

	if err := hub.Subscribe(ctx, recorder, request); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	body := recorder.Body.String()
	if strings.Contains(body, "id: 1\n") {
		t.Error("event 1 must not be replayed past Last-Event-ID")
	}
	if !strings.Contains(body, "id: 2\n") {
		t.Errorf("event 2 must be replayed, body:\n%s", body)
	}
	if !strings.Contains(body, `"state":"Run"`) {
		t.Errorf("event data missing, body:\n%s", body)
	}
	if recorder.Header().Get("Content-Type") != "text/event-stream; charset=utf-8" {
		t.Errorf("unexpected content type %q", recorder.Header().Get("Content-Type"))
	}
}

func TestSubscribeReceivesLiveEvents(t *testing.T) {
	hub := newTestHub(t)

	recorder := httptest.NewRecorder()
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	request := httptest.NewRequest("GET", "/api/v1/telemetry", nil).WithContext(ctx)

	done := make(chan error, 1)
	go func() {
		done <- hub.Subscribe(ctx, recorder, request)
	}()

	// Wait for the client to register, then publish.
	for i := 0; i < 50 && hub.Subscribers() == 0; i++ {
		time.Sleep(5 * time.Millisecond)
	}
	hub.Publish("fault", map[string]interface{}{"code": "TIMEOUT"})

	if err := <-done; err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if !strings.Contains(recorder.Body.String(), "event: fault") {
		t.Errorf("live event not delivered, body:\n%s", recorder.Body.String())
	}
}

func TestStopDisconnectsSubscribers(t *testing.T) {
	hub := NewHub(config.TelemetryConfig{BufferSize: 10, HeartbeatSec: 3600})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest("GET", "/api/v1/telemetry", nil)

	done := make(chan error, 1)
	go func() {
		done <- hub.Subscribe(context.Background(), recorder, request)
	}()

	for i := 0; i < 50 && hub.Subscribers() == 0; i++ {
		time.Sleep(5 * time.Millisecond)
	}
	hub.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("subscribe returned error on stop: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber not released by Stop")
	}
}
