package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// MPVDevice drives an mpv instance through its JSON IPC socket
// (mpv --input-ipc-server=<path> --idle).
//
// Requests are line-delimited JSON objects carrying a request_id; a reader
// goroutine matches replies to pending requests and turns mpv events into
// daemon events.
type MPVDevice struct {
	mu         sync.Mutex // guards conn writes, source, load* and lastPos
	conn       net.Conn
	socketPath string
	timeout    time.Duration
	logger     *slog.Logger

	events chan<- Event
	done   chan struct{}
	closed atomic.Bool

	nextID    atomic.Int64
	pendingMu sync.Mutex
	pending   map[int64]chan mpvMessage

	// source is the URL mpv last accepted with loadfile ("" after Stop).
	// It switches when the reader sees the loadfile reply, so events mpv
	// sent earlier keep the previous URL.
	source string

	// loadReq and loadURL describe the loadfile request awaiting its reply.
	loadReq int64
	loadURL string

	// lastPos throttles time-pos reports.
	lastPos float64
}

// mpvTimePosObserveID is the observe_property id used for time-pos.
const mpvTimePosObserveID = 1

// mpvTimeReportStep is the minimum forward movement reported as a time update.
const mpvTimeReportStep = 0.25 // seconds

type mpvRequest struct {
	Command   []any `json:"command"`
	RequestID int64 `json:"request_id"`
}

// mpvMessage covers both replies and asynchronous events.
type mpvMessage struct {
	RequestID int64           `json:"request_id"`
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data"`

	Event     string `json:"event"`
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Reason    string `json:"reason"`
	FileError string `json:"file_error"`
}

// NewMPVDevice connects to the mpv IPC socket (with retry) and subscribes to
// playback position updates.
func NewMPVDevice(socketPath string, timeoutMS int, events chan<- Event, logger *slog.Logger) (*MPVDevice, error) {
	if socketPath == "" {
		return nil, errors.New("mpv socket path is empty")
	}
	if timeoutMS <= 0 {
		timeoutMS = defaultMPVTimeoutMS
	}
	d := &MPVDevice{
		socketPath: socketPath,
		timeout:    time.Duration(timeoutMS) * time.Millisecond,
		logger:     logger,
		events:     events,
		done:       make(chan struct{}),
		pending:    make(map[int64]chan mpvMessage),
	}
	if err := d.connectWithRetry(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *MPVDevice) connect() error {
	conn, err := net.DialTimeout("unix", d.socketPath, 2*time.Second)
	if err != nil {
		return err
	}

	d.mu.Lock()
	if d.conn != nil {
		d.conn.Close()
	}
	d.conn = conn
	d.mu.Unlock()

	go d.readLoop(conn)

	if _, err := d.command("observe_property", mpvTimePosObserveID, "time-pos"); err != nil {
		return fmt.Errorf("observe time-pos: %w", err)
	}
	return nil
}

func (d *MPVDevice) connectWithRetry() error {
	var lastErr error
	for attempt := 0; attempt < 10; attempt++ {
		err := d.connect()
		if err == nil {
			d.logger.Info("connected to mpv", "socket", d.socketPath)
			return nil
		}
		lastErr = err
		d.logger.Warn("mpv connection failed; retrying...", "error", err, "attempt", attempt+1)
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("failed to connect to mpv after 10 attempts: %w", lastErr)
}

func (d *MPVDevice) ensureConnected() error {
	if d.closed.Load() {
		return ErrDeviceClosed
	}
	d.mu.Lock()
	ok := d.conn != nil
	d.mu.Unlock()
	if ok {
		return nil
	}
	d.logger.Warn("mpv connection lost; reconnecting...")
	return d.connectWithRetry()
}

// command sends one request and waits for its reply.
func (d *MPVDevice) command(args ...any) (json.RawMessage, error) {
	return d.request(d.nextID.Add(1), args...)
}

func (d *MPVDevice) request(id int64, args ...any) (json.RawMessage, error) {
	if d.closed.Load() {
		return nil, ErrDeviceClosed
	}

	payload, err := json.Marshal(mpvRequest{Command: args, RequestID: id})
	if err != nil {
		return nil, fmt.Errorf("marshal mpv command: %w", err)
	}
	payload = append(payload, '\n')

	reply := make(chan mpvMessage, 1)
	d.pendingMu.Lock()
	d.pending[id] = reply
	d.pendingMu.Unlock()
	defer func() {
		d.pendingMu.Lock()
		delete(d.pending, id)
		d.pendingMu.Unlock()
	}()

	d.mu.Lock()
	conn := d.conn
	if conn == nil {
		d.mu.Unlock()
		return nil, errors.New("no mpv connection")
	}
	conn.SetWriteDeadline(time.Now().Add(d.timeout))
	_, err = conn.Write(payload)
	conn.SetWriteDeadline(time.Time{})
	if err != nil {
		conn.Close()
		d.conn = nil
	}
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("write mpv command: %w", err)
	}

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-reply:
		if !ok {
			return nil, errors.New("mpv connection closed")
		}
		if msg.Error != "success" {
			return nil, fmt.Errorf("mpv %v: %s", args[0], msg.Error)
		}
		return msg.Data, nil
	case <-timer.C:
		return nil, fmt.Errorf("mpv %v: timeout after %s", args[0], d.timeout)
	case <-d.done:
		return nil, ErrDeviceClosed
	}
}

func (d *MPVDevice) readLoop(conn net.Conn) {
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 64*1024), 1<<20)

	for sc.Scan() {
		var msg mpvMessage
		if err := json.Unmarshal(sc.Bytes(), &msg); err != nil {
			d.logger.Debug("mpv: ignoring malformed line", "error", err)
			continue
		}
		if msg.Event != "" {
			d.handleEvent(msg)
			continue
		}
		d.mu.Lock()
		if d.loadReq != 0 && msg.RequestID == d.loadReq {
			d.loadReq = 0
			if msg.Error == "success" {
				d.source = d.loadURL
				d.lastPos = 0
			}
		}
		d.mu.Unlock()
		d.pendingMu.Lock()
		ch, ok := d.pending[msg.RequestID]
		d.pendingMu.Unlock()
		if ok {
			select {
			case ch <- msg:
			default:
			}
		}
	}

	d.mu.Lock()
	if d.conn == conn {
		d.conn = nil
	}
	d.mu.Unlock()

	if !d.closed.Load() {
		d.logger.Warn("mpv connection closed", "error", sc.Err())
	}
}

func (d *MPVDevice) currentSource() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.source
}

func (d *MPVDevice) handleEvent(msg mpvMessage) {
	switch msg.Event {
	case "property-change":
		if msg.ID != mpvTimePosObserveID || msg.Name != "time-pos" {
			return
		}
		var pos *float64
		if err := json.Unmarshal(msg.Data, &pos); err != nil || pos == nil {
			return
		}
		d.mu.Lock()
		src := d.source
		report := *pos < d.lastPos || math.Abs(*pos-d.lastPos) >= mpvTimeReportStep
		if report {
			d.lastPos = *pos
		}
		d.mu.Unlock()
		if !report {
			return
		}
		// Position updates are lossy; the next one supersedes a dropped one.
		d.emit(DeviceTimeUpdate{Seconds: *pos, Source: src}, false)

	case "end-file":
		// Delivered off the reader goroutine: the daemon may be waiting on a
		// reply this reader has yet to read.
		src := d.currentSource()
		switch msg.Reason {
		case "eof":
			go d.emit(DeviceEnded{Source: src}, true)
		case "error":
			reason := msg.FileError
			if reason == "" {
				reason = "playback error"
			}
			go d.emit(DevicePlayRejected{Source: src, Reason: reason}, true)
		default:
			// "stop", "quit", "redirect": the daemon asked for it.
		}
	}
}

func (d *MPVDevice) emit(ev Event, mustDeliver bool) {
	if d.events == nil {
		return
	}
	if !mustDeliver {
		select {
		case d.events <- ev:
		default:
		}
		return
	}
	select {
	case d.events <- ev:
	case <-d.done:
	}
}

func (d *MPVDevice) SetSource(url string) error {
	if err := d.ensureConnected(); err != nil {
		return err
	}
	if _, err := d.command("set_property", "pause", true); err != nil {
		return err
	}

	id := d.nextID.Add(1)
	d.mu.Lock()
	d.loadReq, d.loadURL = id, url
	d.mu.Unlock()

	if _, err := d.request(id, "loadfile", url, "replace"); err != nil {
		d.mu.Lock()
		if d.loadReq == id {
			d.loadReq = 0
		}
		d.source = ""
		d.mu.Unlock()
		return err
	}
	return nil
}

func (d *MPVDevice) Play() error {
	if d.currentSource() == "" {
		return fmt.Errorf("%w: no source loaded", ErrPlaybackRejected)
	}
	if err := d.ensureConnected(); err != nil {
		return err
	}
	_, err := d.command("set_property", "pause", false)
	return err
}

func (d *MPVDevice) Pause() error {
	if err := d.ensureConnected(); err != nil {
		return err
	}
	_, err := d.command("set_property", "pause", true)
	return err
}

func (d *MPVDevice) Stop() error {
	if err := d.ensureConnected(); err != nil {
		return err
	}
	d.mu.Lock()
	d.source = ""
	d.mu.Unlock()
	_, err := d.command("stop")
	return err
}

func (d *MPVDevice) SetVolume(percent int) error {
	if err := d.ensureConnected(); err != nil {
		return err
	}
	_, err := d.command("set_property", "volume", clampVolume(percent))
	return err
}

func (d *MPVDevice) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(d.done)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		d.conn.Close()
		d.conn = nil
	}
	return nil
}
