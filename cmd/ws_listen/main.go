package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// frame is the daemon's outbound websocket envelope.
type frame struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

func main() {
	var (
		wsURL     = flag.String("ws", "ws://127.0.0.1:8080/ws", "hifideck state websocket URL")
		send      = flag.String("send", "", `Send one action envelope after connecting (e.g. '{"type":"media_next"}')`)
		positions = flag.Bool("positions", false, "Also print position_changed frames")
		raw       = flag.Bool("raw", false, "Print frames as raw JSON")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	// Mutex to protect concurrent writes to websocket
	var writeMu sync.Mutex

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	go func() {
		for range pingTicker.C {
			writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				log.Printf("ping failed: %v", err)
				return
			}
		}
	}()

	if *send != "" {
		if !json.Valid([]byte(*send)) {
			log.Fatalf("-send is not valid JSON")
		}
		writeMu.Lock()
		err := conn.WriteMessage(websocket.TextMessage, []byte(*send))
		writeMu.Unlock()
		if err != nil {
			log.Fatalf("error sending action: %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			switch messageType {
			case websocket.TextMessage:
				if *raw {
					fmt.Printf("%s\n", message)
					continue
				}
				handleFrame(message, *positions)
			case websocket.BinaryMessage:
				fmt.Printf("[BINARY] %d bytes\n", len(message))
			}
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// handleFrame prints one state frame as a single readable line.
func handleFrame(message []byte, positions bool) {
	var f frame
	if err := json.Unmarshal(message, &f); err != nil {
		fmt.Printf("[TEXT] %s\n", string(message))
		return
	}
	if f.Type == "position_changed" && !positions {
		return
	}
	if line, ok := describeFrame(f); ok {
		fmt.Println(line)
		return
	}

	var pretty any
	if err := json.Unmarshal(f.Data, &pretty); err != nil {
		fmt.Printf("[%s]\n", f.Type)
		return
	}
	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Printf("[%s]\n%s\n\n", f.Type, out)
}

// describeFrame renders the frequent frame types compactly. Other types
// (state_init, toggles_changed) are pretty-printed by the caller.
func describeFrame(f frame) (string, bool) {
	switch f.Type {
	case "track_changed":
		var d struct {
			Index int `json:"index"`
			Count int `json:"count"`
			Track *struct {
				Title  string `json:"title"`
				Artist string `json:"artist"`
			} `json:"track"`
		}
		if json.Unmarshal(f.Data, &d) != nil {
			return "", false
		}
		if d.Track == nil {
			return fmt.Sprintf("[TRACK] -/%d", d.Count), true
		}
		return fmt.Sprintf("[TRACK] %d/%d %s - %s", d.Index+1, d.Count, d.Track.Title, d.Track.Artist), true

	case "playback_changed":
		var d struct {
			State string `json:"state"`
		}
		if json.Unmarshal(f.Data, &d) != nil {
			return "", false
		}
		return "[PLAYBACK] " + d.State, true

	case "position_changed":
		var d struct {
			ElapsedLabel string  `json:"elapsed_label"`
			Progress     float64 `json:"progress"`
		}
		if json.Unmarshal(f.Data, &d) != nil {
			return "", false
		}
		return fmt.Sprintf("[POSITION] %s (%.0f%%)", d.ElapsedLabel, d.Progress), true

	case "lyric_changed":
		var d struct {
			Index int    `json:"index"`
			Text  string `json:"text"`
		}
		if json.Unmarshal(f.Data, &d) != nil {
			return "", false
		}
		return fmt.Sprintf("[LYRIC %d] %s", d.Index, d.Text), true

	case "selector_changed":
		var d struct {
			Value    int  `json:"value"`
			Dragging bool `json:"dragging"`
		}
		if json.Unmarshal(f.Data, &d) != nil {
			return "", false
		}
		return fmt.Sprintf("[SELECTOR] %d dragging=%v", d.Value, d.Dragging), true

	case "volume_changed":
		var d struct {
			Volume int `json:"volume"`
		}
		if json.Unmarshal(f.Data, &d) != nil {
			return "", false
		}
		return fmt.Sprintf("[VOLUME] %d%%", d.Volume), true

	case "catalog_changed":
		var d struct {
			Status string `json:"status"`
			Count  int    `json:"count"`
			Error  string `json:"error"`
		}
		if json.Unmarshal(f.Data, &d) != nil {
			return "", false
		}
		if d.Error != "" {
			return fmt.Sprintf("[CATALOG] %s: %s", d.Status, d.Error), true
		}
		return fmt.Sprintf("[CATALOG] %s (%d tracks)", d.Status, d.Count), true

	case "device_command":
		var d struct {
			Command string `json:"command"`
			URL     string `json:"url"`
			Volume  *int   `json:"volume"`
		}
		if json.Unmarshal(f.Data, &d) != nil {
			return "", false
		}
		switch {
		case d.URL != "":
			return fmt.Sprintf("[DEVICE] %s %s", d.Command, d.URL), true
		case d.Volume != nil:
			return fmt.Sprintf("[DEVICE] %s %d", d.Command, *d.Volume), true
		}
		return "[DEVICE] " + d.Command, true

	case "error":
		var d struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(f.Data, &d) != nil {
			return "", false
		}
		return "[ERROR] " + d.Error, true
	}
	return "", false
}
