package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

// Hub tests run without a websocket server: clients carry a nil conn and the
// hub guards every conn access.

func newTestHub(t *testing.T, sendBuf int, broadcastBuf int) *Hub {
	t.Helper()
	return NewHub(slog.Default(), HubConfig{
		SendBuf:      sendBuf,
		BroadcastBuf: broadcastBuf,
	})
}

func newTestClient(hub *Hub, name string, buf int) *Client {
	return &Client{
		hub:        hub,
		id:         name,
		send:       make(chan []byte, buf),
		remoteAddr: name,
		logger:     slog.Default(),
	}
}

func registerClient(t *testing.T, hub *Hub, c *Client) {
	t.Helper()
	hub.register <- c
	waitUntil(t, 500*time.Millisecond, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.clients[c]
		return ok
	}, c.remoteAddr+" not registered in time")
}

func runHub(ctx context.Context, hub *Hub) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()
	return done
}

func TestHub_BroadcastDeliveredToAllClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 4, 8)
	done := runHub(ctx, hub)

	c1 := newTestClient(hub, "c1", 4)
	c2 := newTestClient(hub, "c2", 4)
	registerClient(t, hub, c1)
	registerClient(t, hub, c2)

	msg := []byte(`{"type":"volume_changed","data":{"volume":42}}`)

	// BroadcastBytes may drop under scheduling pressure; go straight to the queue.
	hub.broadcast <- msg

	for _, c := range []*Client{c1, c2} {
		select {
		case got := <-c.send:
			if string(got) != string(msg) {
				t.Fatalf("%s got %q, want %q", c.remoteAddr, string(got), string(msg))
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("timeout waiting for %s to receive broadcast", c.remoteAddr)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatalf("timeout waiting for hub to stop")
	}

	// Shutdown closes every client's send channel.
	if _, ok := <-c1.send; ok {
		t.Fatalf("expected c1 send channel closed after shutdown")
	}
}

func TestHub_SlowClientDisconnectedOnFullSendBuffer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 1, 8)
	runHub(ctx, hub)

	slow := newTestClient(hub, "slow", 1)
	fast := newTestClient(hub, "fast", 8)
	registerClient(t, hub, slow)
	registerClient(t, hub, fast)

	slow.send <- []byte(`"already queued"`)

	msg := []byte(`{"type":"playback_changed","data":{"state":"playing","playing":true}}`)
	hub.broadcast <- msg

	select {
	case got := <-fast.send:
		if string(got) != string(msg) {
			t.Fatalf("fast client got %q, want %q", string(got), string(msg))
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for fast client to receive broadcast")
	}

	select {
	case <-slow.send:
	default:
	}

	waitUntil(t, 750*time.Millisecond, func() bool {
		select {
		case _, ok := <-slow.send:
			return !ok
		default:
			return false
		}
	}, "expected slow send channel to be closed")

	if n := hub.ClientCount(); n != 1 {
		t.Fatalf("expected 1 client left, got %d", n)
	}
}

func TestHub_BroadcastEventWrapsEnvelope(t *testing.T) {
	hub := newTestHub(t, 1, 1)

	if err := hub.BroadcastEvent("device_command", wsDeviceCommandData{Command: "play"}); err != nil {
		t.Fatalf("BroadcastEvent: %v", err)
	}

	msg := <-hub.broadcast
	var env struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Type != "device_command" {
		t.Fatalf("type = %q, want device_command", env.Type)
	}
	if string(env.Data) != `{"command":"play"}` {
		t.Fatalf("data = %s", env.Data)
	}
}

func TestClient_HandleInboundForwardsActions(t *testing.T) {
	events := make(chan Event, 1)
	c := newTestClient(nil, "c", 2)
	c.events = events

	c.handleInbound([]byte(`{"type":"select_track","data":{"index":3}}`))

	// The first action still occupies the queue.
	c.handleInbound([]byte(`{"type":"media_next"}`))
	assertErrorFrame(t, c.send, "event queue full")

	select {
	case ev := <-events:
		if got, ok := ev.(SelectTrack); !ok || got.Index != 3 {
			t.Fatalf("got %#v, want SelectTrack{Index:3}", ev)
		}
	default:
		t.Fatalf("expected an event")
	}

	c.handleInbound([]byte(`{"type":"self_destruct"}`))
	assertErrorFrame(t, c.send, "")
}

func assertErrorFrame(t *testing.T, send <-chan []byte, want string) {
	t.Helper()
	select {
	case msg := <-send:
		var env struct {
			Type string      `json:"type"`
			Data wsErrorData `json:"data"`
		}
		if err := json.Unmarshal(msg, &env); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if env.Type != "error" {
			t.Fatalf("type = %q, want error", env.Type)
		}
		if want != "" && env.Data.Error != want {
			t.Fatalf("error = %q, want %q", env.Data.Error, want)
		}
	default:
		t.Fatalf("expected an error frame")
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}
