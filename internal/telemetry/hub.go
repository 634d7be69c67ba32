// Package telemetry distributes bridge events (exchanges, state changes,
// faults) to SSE subscribers and exports Prometheus metrics.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/instrument-control/icb/internal/config"
)

// Event is one telemetry event with SSE framing support.
type Event struct {
	ID   int64                  `json:"id,omitempty"`
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// Client is one SSE subscriber.
type Client struct {
	id     string
	events chan Event
	cancel context.CancelFunc
	once   sync.Once
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.events)
	})
}

// Hub manages SSE distribution with a bounded replay buffer.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	buffer  *EventBuffer

	heartbeat time.Duration

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// EventBuffer is a circular replay buffer with monotonic event ids.
type EventBuffer struct {
	mu       sync.Mutex
	events   []Event
	capacity int
	nextID   int64
}

// NewHub creates a telemetry hub and starts its heartbeat loop.
func NewHub(cfg config.TelemetryConfig) *Hub {
	h := &Hub{
		clients:   make(map[string]*Client),
		buffer:    &EventBuffer{capacity: cfg.BufferSize, nextID: 1},
		heartbeat: cfg.Heartbeat(),
		done:      make(chan struct{}),
	}

	h.wg.Add(1)
	go h.heartbeatLoop()

	return h
}

// Publish assigns the event an id, buffers it for replay, and fans it out.
// Slow subscribers are skipped rather than blocking the publisher.
func (h *Hub) Publish(eventType string, data map[string]interface{}) {
	event := Event{Type: eventType, Data: data}
	event.ID = h.buffer.append(&event)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		select {
		case client.events <- event:
		default:
		}
	}
}

// Subscribe attaches an SSE client, replaying buffered events newer than the
// Last-Event-ID header when present. It blocks until the client disconnects
// or the hub stops.
func (h *Hub) Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming unsupported by response writer")
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	clientCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	client := &Client{
		id:     xid.New().String(),
		events: make(chan Event, 16),
		cancel: cancel,
	}

	var lastID int64
	if header := r.Header.Get("Last-Event-ID"); header != "" {
		if id, err := strconv.ParseInt(header, 10, 64); err == nil {
			lastID = id
		}
	}

	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, client.id)
		h.mu.Unlock()
		client.close()
	}()

	// Replay missed events before streaming live ones.
	for _, event := range h.buffer.since(lastID) {
		if err := writeSSE(w, event); err != nil {
			return err
		}
	}
	flusher.Flush()

	for {
		select {
		case <-clientCtx.Done():
			return nil
		case <-h.done:
			return nil
		case event, ok := <-client.events:
			if !ok {
				return nil
			}
			if err := writeSSE(w, event); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}

// Stop terminates the hub and disconnects all subscribers.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
	h.wg.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.clients {
		client.cancel()
		client.close()
		delete(h.clients, id)
	}
}

// Subscribers returns the current subscriber count. Intended for tests and
// the status endpoint.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) heartbeatLoop() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.Publish("heartbeat", map[string]interface{}{
				"ts": time.Now().UTC().Format(time.RFC3339),
			})
		}
	}
}

// writeSSE frames one event for the wire.
func writeSSE(w http.ResponseWriter, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.ID, event.Type, data)
	return err
}

// append stores the event and returns its assigned id.
func (b *EventBuffer) append(event *Event) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	event.ID = b.nextID
	b.nextID++

	b.events = append(b.events, *event)
	if len(b.events) > b.capacity {
		b.events = b.events[len(b.events)-b.capacity:]
	}
	return event.ID
}

// since returns buffered events with ids greater than lastID.
func (b *EventBuffer) since(lastID int64) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	var replay []Event
	for _, event := range b.events {
		if event.ID > lastID {
			replay = append(replay, event)
		}
	}
	return replay
}
