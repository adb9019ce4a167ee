package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// ============================================================================
// State WebSocket: hub + per-client pumps + broadcaster
// ============================================================================
//
// This file implements:
//   - A Hub that tracks connected WebSocket clients
//   - Per-client write pumps so one slow client doesn't block others
//   - A broadcaster loop that reads reducer-emitted state broadcasts and fans out
//   - Inbound action frames: clients drive the deck with the same {type,data}
//     envelope the IPC socket accepts
//
// Constraints:
//   - DaemonState remains daemon-owned; never expose *DaemonState to other goroutines.
//   - Initial state snapshot on connect goes through the reducer/event loop.
//   - Slow clients are disconnected when their send buffer fills.
//
// Outbound messages are JSON text frames with an envelope: {type, ts, data}.
// The first message on connect is "state_init" with StateSnapshot in data.
//
// ============================================================================

type wsCatalogChangedData struct {
	Status CatalogStatus `json:"status"`
	Count  int           `json:"count"`
	Error  string        `json:"error,omitempty"`
}

type wsTrackChangedData struct {
	Index int    `json:"index"`
	Count int    `json:"count"`
	Track *Track `json:"track"`
}

type wsPlaybackChangedData struct {
	State   PlaybackState `json:"state"`
	Playing bool          `json:"playing"`
}

type wsPositionChangedData struct {
	Position     float64 `json:"position"`
	Duration     float64 `json:"duration"`
	Progress     float64 `json:"progress"`
	ElapsedLabel string  `json:"elapsed_label"`
}

type wsLyricChangedData struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

type wsSelectorChangedData struct {
	Value        int     `json:"value"`
	Dragging     bool    `json:"dragging"`
	KnobRotation float64 `json:"knob_rotation"`
	ActiveDots   int     `json:"active_dots"`
}

type wsVolumeChangedData struct {
	Volume int `json:"volume"`
}

type wsErrorData struct {
	Error string `json:"error"`
}

// wsOutboundEvent is a pre-typed, externally-consumable state event.
type wsOutboundEvent struct {
	Type string
	Data any
	At   time.Time // zero means "use now"
}

// envelope is the wire format envelope for WS messages.
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

func marshalEnvelope(typ string, at time.Time, data any) ([]byte, error) {
	if at.IsZero() {
		at = time.Now()
	}
	ts := at.UTC()
	return json.Marshal(envelope{Type: typ, Ts: &ts, Data: data})
}

// ============================================================================
// Hub
// ============================================================================

type Hub struct {
	logger *slog.Logger

	// Buffered broadcast channel for already-serialized JSON frames.
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size.
	SendBuf int

	// BroadcastBuf is the hub inbound broadcast queue size.
	BroadcastBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = 32
	}
	bcastBuf := cfg.BroadcastBuf
	if bcastBuf <= 0 {
		bcastBuf = 128
	}

	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, bcastBuf),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		sendBuf:    sendBuf,
	}
}

// Run processes hub events until ctx is canceled.
// It disconnects all clients on shutdown.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("ws hub starting")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("ws hub stopping (context canceled)")
			h.closeAllClients()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client registered", "client_id", c.id, "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			// Collect slow clients first, then remove them after we unlock.
			var slow []*Client

			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.removeClient(c, "slow_client")
			}
		}
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		safeCloseChan(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		// Closing send signals writePump to exit.
		safeCloseChan(c.send)

		h.logger.Info("ws client disconnected", "client_id", c.id, "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
	}
}

func safeCloseChan(ch chan []byte) {
	defer func() {
		_ = recover() // ignore "close of closed channel"
	}()
	close(ch)
}

// BroadcastBytes enqueues a pre-serialized JSON WS frame for broadcast.
// It never blocks; if the hub queue is full it drops the message.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws hub broadcast queue full, dropping message", "bytes", len(msg))
	}
}

// BroadcastEvent marshals an envelope and enqueues it for every client.
func (h *Hub) BroadcastEvent(typ string, data any) error {
	msg, err := marshalEnvelope(typ, time.Time{}, data)
	if err != nil {
		return err
	}
	h.BroadcastBytes(msg)
	return nil
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub *Hub

	id   string
	conn *websocket.Conn
	send chan []byte

	// events receives decoded inbound action frames; nil means read-only.
	events chan<- Event

	remoteAddr string
	logger     *slog.Logger
}

// NewClient creates a client with a buffered send channel.
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, events chan<- Event, logger *slog.Logger) *Client {
	sendBuf := 32
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		id:         uuid.NewString(),
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		events:     events,
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second

	// maxInboundFrame bounds inbound action frames.
	maxInboundFrame = 8 * 1024
)

// wsCoalesceWindow is the maximum time window during which bursty updates
// (volume ramps, position ticks, knob drags) are coalesced (latest-wins)
// before broadcasting to clients.
const wsCoalesceWindow = 50 * time.Millisecond

// closeStatus extracts a human-readable websocket close code / text when possible.
func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

// writePump writes messages from the send queue to the websocket.
// It exits on write error or when send is closed.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed: hub is disconnecting us.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					if code, text, ok := closeStatus(err); ok {
						c.logger.Info("ws writePump exiting (close)", "client_id", c.id, "code", code, "reason", text)
					} else {
						c.logger.Info("ws writePump exiting (write error)", "client_id", c.id, "error", err)
					}
				}
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					c.logger.Info("ws writePump exiting (ping error)", "client_id", c.id, "error", err)
				}
				return
			}
		}
	}
}

// readPump reads inbound action frames and forwards them to the daemon.
// It exits on read error, then unregisters the client.
func (c *Client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxInboundFrame)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) {
				if code, text, ok := closeStatus(err); ok {
					c.logger.Info("ws readPump exiting (close)", "client_id", c.id, "code", code, "reason", text)
				} else {
					c.logger.Info("ws readPump exiting (read error)", "client_id", c.id, "error", err)
				}
			}

			if c.hub != nil {
				c.hub.unregister <- c
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if mt != websocket.TextMessage || c.events == nil {
			continue
		}
		c.handleInbound(data)
	}
}

func (c *Client) handleInbound(data []byte) {
	ev, err := UnmarshalEvent(data)
	if err != nil {
		c.logger.Debug("ws inbound frame rejected", "client_id", c.id, "error", err)
		c.sendError(err.Error())
		return
	}

	select {
	case c.events <- ev:
		c.logger.Debug("ws event received", "client_id", c.id, "type", ev)
	default:
		c.logger.Warn("ws event dropped (event queue full)", "client_id", c.id)
		c.sendError("event queue full")
	}
}

func (c *Client) sendError(text string) {
	msg, err := marshalEnvelope("error", time.Time{}, wsErrorData{Error: text})
	if err != nil {
		return
	}
	defer func() { _ = recover() }() // send may already be closed
	select {
	case c.send <- msg:
	default:
	}
}

// ============================================================================
// HTTP Handler + server wiring helpers
// ============================================================================

type Server struct {
	logger *slog.Logger

	hub *Hub

	// Snapshot requests and inbound actions go through the event loop.
	events chan<- Event
}

type ServerConfig struct {
	Hub HubConfig
}

// NewServer constructs the WS state server components. Call Register on a
// router, start hub.Run(ctx), and start the broadcaster loop.
func NewServer(logger *slog.Logger, events chan<- Event, cfg ServerConfig) *Server {
	return &Server{
		logger: logger,
		hub:    NewHub(logger, cfg.Hub),
		events: events,
	}
}

func (s *Server) Hub() *Hub { return s.hub }

// Register registers the WS handler on the provided router.
func (s *Server) Register(r *mux.Router, path string) {
	if r == nil {
		return
	}
	r.HandleFunc(path, s.handleStateWS).Methods(http.MethodGet)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStateWS upgrades and registers a client, then sends state_init.
func (s *Server) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.events, s.logger)

	// Register client first so broadcasts can reach it.
	s.hub.register <- client

	// Pumps must not be tied to r.Context(): net/http cancels it when the
	// handler returns.
	go client.writePump(context.Background())
	go client.readPump(context.Background())

	if s.events == nil {
		return
	}

	snap, err := requestSnapshot(r.Context(), s.events, time.Second)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("ws snapshot request failed", "error", err)
		}
		return
	}

	initMsg, err := marshalEnvelope("state_init", time.Time{}, snap)
	if err != nil {
		return
	}
	// Enqueue init message; if client is already slow, disconnect.
	select {
	case client.send <- initMsg:
	default:
		s.hub.unregister <- client
	}
}

// requestSnapshot asks the daemon loop for a StateSnapshot.
func requestSnapshot(ctx context.Context, events chan<- Event, timeout time.Duration) (StateSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reply := make(chan StateSnapshot, 1)
	select {
	case <-ctx.Done():
		return StateSnapshot{}, ctx.Err()
	case events <- RequestStateSnapshot{Reply: reply}:
	}

	select {
	case <-ctx.Done():
		return StateSnapshot{}, ctx.Err()
	case snap := <-reply:
		return snap, nil
	}
}

// ============================================================================
// Broadcaster
// ============================================================================

// coalescedTypes are rate-limited: the latest pending value is flushed at
// most once every wsCoalesceWindow.
var coalescedTypes = map[string]bool{
	"volume_changed":   true,
	"position_changed": true,
	"selector_changed": true,
}

// RunBroadcaster reads reducer-emitted StateBroadcast events, marshals them,
// and broadcasts them to all hub clients. Intended to run as a single
// goroutine.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan StateBroadcast, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}

	// Latest-wins per type, flushed in first-arrival order.
	pending := map[string]wsOutboundEvent{}
	var order []string
	var timer *time.Timer
	var timerCh <-chan time.Time

	send := func(ev wsOutboundEvent) {
		msg, err := marshalEnvelope(ev.Type, ev.At, ev.Data)
		if err != nil {
			logger.Warn("ws broadcaster marshal failed", "error", err, "type", ev.Type)
			return
		}
		hub.BroadcastBytes(msg)
	}

	flushPending := func() {
		for _, typ := range order {
			send(pending[typ])
		}
		clear(pending)
		order = order[:0]
	}

	stopTimer := func() {
		if timer != nil && !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer = nil
		timerCh = nil
	}

	for {
		select {
		case <-ctx.Done():
			flushPending()
			stopTimer()
			return

		case <-timerCh:
			timer = nil
			timerCh = nil
			if len(order) > 0 {
				flushPending()
			}

		case b, ok := <-src:
			if !ok {
				flushPending()
				stopTimer()
				logger.Info("ws broadcaster stopping (source ended)")
				return
			}

			ev, ok := convertBroadcast(b)
			if !ok {
				continue
			}

			// Do NOT reset the timer on each update; flush periodically while
			// updates keep arriving.
			if coalescedTypes[ev.Type] {
				if _, seen := pending[ev.Type]; !seen {
					order = append(order, ev.Type)
				}
				pending[ev.Type] = ev
				if timer == nil {
					timer = time.NewTimer(wsCoalesceWindow)
					timerCh = timer.C
				}
				continue
			}

			// Discrete event: flush pending updates first to keep ordering.
			flushPending()
			stopTimer()
			send(ev)
		}
	}
}

func convertBroadcast(b StateBroadcast) (wsOutboundEvent, bool) {
	switch ev := b.(type) {
	case BroadcastCatalogChanged:
		return wsOutboundEvent{
			Type: "catalog_changed",
			Data: wsCatalogChangedData{Status: ev.Status, Count: ev.Count, Error: ev.Error},
			At:   ev.At,
		}, true

	case BroadcastTrackChanged:
		return wsOutboundEvent{
			Type: "track_changed",
			Data: wsTrackChangedData{Index: ev.Index, Count: ev.Count, Track: ev.Track},
			At:   ev.At,
		}, true

	case BroadcastPlaybackChanged:
		return wsOutboundEvent{
			Type: "playback_changed",
			Data: wsPlaybackChangedData{State: ev.State, Playing: ev.State == StatePlaying},
			At:   ev.At,
		}, true

	case BroadcastPositionChanged:
		return wsOutboundEvent{
			Type: "position_changed",
			Data: wsPositionChangedData{
				Position:     ev.Seconds,
				Duration:     ev.Duration,
				Progress:     ProgressPercent(ev.Seconds, ev.Duration),
				ElapsedLabel: FormatClock(ev.Seconds),
			},
			At: ev.At,
		}, true

	case BroadcastLyricChanged:
		return wsOutboundEvent{
			Type: "lyric_changed",
			Data: wsLyricChangedData{Index: ev.Index, Text: ev.Text},
			At:   ev.At,
		}, true

	case BroadcastSelectorChanged:
		return wsOutboundEvent{
			Type: "selector_changed",
			Data: wsSelectorChangedData{
				Value:        ev.Value,
				Dragging:     ev.Dragging,
				KnobRotation: KnobRotation(float64(ev.Value)),
				ActiveDots:   ActiveDots(float64(ev.Value), knobDotCount),
			},
			At: ev.At,
		}, true

	case BroadcastVolumeChanged:
		return wsOutboundEvent{
			Type: "volume_changed",
			Data: wsVolumeChangedData{Volume: ev.Volume},
			At:   ev.At,
		}, true

	case BroadcastTogglesChanged:
		return wsOutboundEvent{
			Type: "toggles_changed",
			Data: ev.Toggles,
			At:   ev.At,
		}, true

	default:
		return wsOutboundEvent{}, false
	}
}
