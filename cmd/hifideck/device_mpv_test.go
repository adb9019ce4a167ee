package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeMPV speaks enough of mpv's JSON IPC to exercise MPVDevice.
type fakeMPV struct {
	ln net.Listener

	mu       sync.Mutex
	conn     net.Conn
	commands []string
	failures map[string]string // command name -> error string
	preReply map[string][]any  // command name -> events sent before the reply
}

func startFakeMPV(t *testing.T) (*fakeMPV, string) {
	t.Helper()
	dir, err := os.MkdirTemp("", "mpv")
	if err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "mpv.sock")

	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeMPV{ln: ln, failures: map[string]string{}, preReply: map[string][]any{}}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			f.mu.Lock()
			f.conn = conn
			f.mu.Unlock()
			go f.serve(conn)
		}
	}()
	return f, path
}

func (f *fakeMPV) serve(conn net.Conn) {
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		var req mpvRequest
		if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
			continue
		}
		parts := make([]string, len(req.Command))
		for i, a := range req.Command {
			parts[i] = fmt.Sprint(a)
		}
		name := parts[0]
		if name == "set_property" && len(parts) > 1 {
			name += " " + parts[1]
		}

		f.mu.Lock()
		f.commands = append(f.commands, strings.Join(parts, " "))
		status, failed := f.failures[name]
		early := f.preReply[name]
		f.mu.Unlock()
		if !failed {
			status = "success"
		}
		for _, ev := range early {
			f.send(ev)
		}
		f.send(map[string]any{"request_id": req.RequestID, "error": status, "data": nil})
	}
}

func (f *fakeMPV) send(msg any) {
	b, _ := json.Marshal(msg)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		_, _ = f.conn.Write(append(b, '\n'))
	}
}

func (f *fakeMPV) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

func (f *fakeMPV) sendBeforeReply(name string, events ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.preReply[name] = events
}

func (f *fakeMPV) fail(name, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[name] = status
}

func newTestMPVDevice(t *testing.T) (*MPVDevice, *fakeMPV, chan Event) {
	t.Helper()
	fake, path := startFakeMPV(t)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	events := make(chan Event, 8)
	d, err := NewMPVDevice(path, 500, events, logger)
	if err != nil {
		t.Fatalf("NewMPVDevice: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d, fake, events
}

func nextDeviceEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(time.Second):
		t.Fatalf("no device event")
		return nil
	}
}

func TestMPVDevice_Commands(t *testing.T) {
	d, fake, _ := newTestMPVDevice(t)

	if err := d.SetSource("https://cdn.example/1.m4a"); err != nil {
		t.Fatalf("SetSource: %v", err)
	}
	if err := d.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if err := d.SetVolume(140); err != nil {
		t.Fatalf("SetVolume: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	want := []string{
		"observe_property 1 time-pos",
		"set_property pause true",
		"loadfile https://cdn.example/1.m4a replace",
		"set_property pause false",
		"set_property volume 100",
		"stop",
	}
	if got := fake.Commands(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("commands =\n%v\nwant\n%v", got, want)
	}
}

func TestMPVDevice_PlayWithoutSourceRejected(t *testing.T) {
	d, _, _ := newTestMPVDevice(t)

	if err := d.Play(); !errors.Is(err, ErrPlaybackRejected) {
		t.Fatalf("Play err = %v, want ErrPlaybackRejected", err)
	}
}

func TestMPVDevice_CommandErrorReturned(t *testing.T) {
	d, fake, _ := newTestMPVDevice(t)
	fake.fail("loadfile", "loading failed")

	err := d.SetSource("https://cdn.example/bad.m4a")
	if err == nil || !strings.Contains(err.Error(), "loading failed") {
		t.Fatalf("SetSource err = %v", err)
	}
	if err := d.Play(); !errors.Is(err, ErrPlaybackRejected) {
		t.Fatalf("Play after failed load err = %v, want ErrPlaybackRejected", err)
	}
}

func TestMPVDevice_LateSignalsKeepPreviousSource(t *testing.T) {
	d, fake, events := newTestMPVDevice(t)
	const first, second = "https://cdn.example/1.m4a", "https://cdn.example/2.m4a"
	if err := d.SetSource(first); err != nil {
		t.Fatalf("SetSource: %v", err)
	}

	// mpv reports the tail of the old file before acknowledging loadfile.
	fake.sendBeforeReply("loadfile",
		map[string]any{"event": "property-change", "id": 1, "name": "time-pos", "data": 7.0},
		map[string]any{"event": "end-file", "reason": "eof"},
	)
	if err := d.SetSource(second); err != nil {
		t.Fatalf("SetSource: %v", err)
	}

	got := map[string]Event{}
	for i := 0; i < 2; i++ {
		ev := nextDeviceEvent(t, events)
		got[fmt.Sprintf("%T", ev)] = ev
	}
	if ev := got["main.DeviceTimeUpdate"]; ev != (DeviceTimeUpdate{Seconds: 7, Source: first}) {
		t.Fatalf("time update = %#v", ev)
	}
	if ev := got["main.DeviceEnded"]; ev != (DeviceEnded{Source: first}) {
		t.Fatalf("ended = %#v", ev)
	}

	fake.send(map[string]any{"event": "property-change", "id": 1, "name": "time-pos", "data": 1.0})
	if ev := nextDeviceEvent(t, events); ev != (DeviceTimeUpdate{Seconds: 1, Source: second}) {
		t.Fatalf("event = %#v", ev)
	}
}

func TestMPVDevice_SignalsCarrySource(t *testing.T) {
	d, fake, events := newTestMPVDevice(t)
	const url = "https://cdn.example/2.m4a"
	if err := d.SetSource(url); err != nil {
		t.Fatalf("SetSource: %v", err)
	}

	fake.send(map[string]any{"event": "property-change", "id": 1, "name": "time-pos", "data": 3.5})
	if ev := nextDeviceEvent(t, events); ev != (DeviceTimeUpdate{Seconds: 3.5, Source: url}) {
		t.Fatalf("event = %#v", ev)
	}

	// Sub-step movement is not reported; the following end-file is.
	fake.send(map[string]any{"event": "property-change", "id": 1, "name": "time-pos", "data": 3.6})
	fake.send(map[string]any{"event": "end-file", "reason": "eof"})
	if ev := nextDeviceEvent(t, events); ev != (DeviceEnded{Source: url}) {
		t.Fatalf("event = %#v", ev)
	}

	fake.send(map[string]any{"event": "end-file", "reason": "error", "file_error": "unrecognized file format"})
	if ev := nextDeviceEvent(t, events); ev != (DevicePlayRejected{Source: url, Reason: "unrecognized file format"}) {
		t.Fatalf("event = %#v", ev)
	}

	// Stops requested by the daemon are not signals.
	fake.send(map[string]any{"event": "end-file", "reason": "stop"})
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %#v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMPVDevice_ClosedDeviceErrors(t *testing.T) {
	d, _, _ := newTestMPVDevice(t)
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Pause(); !errors.Is(err, ErrDeviceClosed) {
		t.Fatalf("Pause err = %v, want ErrDeviceClosed", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
