package main

import (
	"bufio"
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeDaemon accepts one connection per request, records the line and
// answers with reply.
func fakeDaemon(t *testing.T, reply string) (string, <-chan string) {
	t.Helper()
	dir, err := os.MkdirTemp("", "ctl")
	if err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "ipc.sock")

	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	lines := make(chan string, 4)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			line, _ := bufio.NewReader(conn).ReadString('\n')
			lines <- strings.TrimSpace(line)
			conn.Write([]byte(reply + "\n"))
			conn.Close()
		}
	}()
	return path, lines
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCommandsSendEnvelopes(t *testing.T) {
	path, lines := fakeDaemon(t, `{"status":"ok"}`)

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"toggle"}, `{"type":"media_play_pause"}`},
		{[]string{"prev"}, `{"type":"media_previous"}`},
		{[]string{"select", "4"}, `{"type":"select_track","data":{"index":4}}`},
		{[]string{"knob", "48.5"}, `{"type":"set_selector","data":{"value":48.5}}`},
		{[]string{"ccw", "2"}, `{"type":"rotary_turn","data":{"steps":-2}}`},
		{[]string{"cw"}, `{"type":"rotary_turn","data":{"steps":1}}`},
		{[]string{"volume", "35"}, `{"type":"set_volume","data":{"volume":35}}`},
		{[]string{"down"}, `{"type":"volume_held","data":{"direction":-1}}`},
		{[]string{"flag", "eq"}, `{"type":"toggle_flag","data":{"flag":"eq"}}`},
	}
	for _, tt := range tests {
		out, err := run(t, append([]string{"--socket", path}, tt.args...)...)
		if err != nil {
			t.Fatalf("%v: %v", tt.args, err)
		}
		if strings.TrimSpace(out) != "ok" {
			t.Errorf("%v: output %q", tt.args, out)
		}
		if got := <-lines; got != tt.want {
			t.Errorf("%v: sent %s, want %s", tt.args, got, tt.want)
		}
	}
}

func TestCommandsRejectBadArguments(t *testing.T) {
	for _, args := range [][]string{
		{"volume", "101"},
		{"knob", "-1"},
		{"select", "x"},
		{"flag", "loud"},
		{"play", "extra"},
		{"cw", "0"},
		{"ccw", "-3"},
	} {
		if _, err := run(t, append([]string{"--socket", "/nonexistent.sock"}, args...)...); err == nil {
			t.Errorf("%v: expected error", args)
		}
	}
}

func TestDaemonErrorIsReturned(t *testing.T) {
	path, _ := fakeDaemon(t, `{"status":"error","error":"event queue full"}`)

	_, err := run(t, "--socket", path, "next")
	if err == nil || !strings.Contains(err.Error(), "event queue full") {
		t.Fatalf("err = %v", err)
	}
}

func TestStatePrintsSnapshot(t *testing.T) {
	path, lines := fakeDaemon(t, `{"status":"ok","state":{"track_count":25,"track_label":"TRK 01/25"}}`)

	out, err := run(t, "--socket", path, "state")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if got := <-lines; got != `{"type":"get_state"}` {
		t.Fatalf("sent %s", got)
	}
	if !strings.Contains(out, `"track_label": "TRK 01/25"`) {
		t.Fatalf("output:\n%s", out)
	}
}
