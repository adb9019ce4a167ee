package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// inputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// readInputEvents reads input events from one device until a read fails.
// This runs in a dedicated goroutine and blocks on read operations.
func readInputEvents(f *os.File, events chan<- inputEvent, readErr chan<- error) {
	evSize := binary.Size(inputEvent{})
	buf := make([]byte, evSize)
	reader := bytes.NewReader(buf)

	for {
		if _, err := io.ReadFull(f, buf); err != nil {
			readErr <- fmt.Errorf("read from %s: %w", f.Name(), err)
			return
		}

		reader.Reset(buf)
		var ev inputEvent
		if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
			// Skip malformed events
			continue
		}

		events <- ev
	}
}

// translateInputEvent maps a raw evdev event onto a deck action.
//
// Keys: transport keys fire on press; volume keys report hold/release so the
// reducer can ramp. Relative axes (rotary encoders) turn the selector.
func translateInputEvent(ev inputEvent) (Event, bool) {
	switch ev.Type {
	case EV_KEY:
		switch ev.Code {
		case KEY_VOLUMEUP:
			return volumeKey(ev.Value, 1)
		case KEY_VOLUMEDOWN:
			return volumeKey(ev.Value, -1)
		}

		if ev.Value != evValuePress {
			return nil, false
		}
		switch ev.Code {
		case KEY_PLAYPAUSE:
			return MediaPlayPause{}, true
		case KEY_PLAYCD:
			return MediaPlay{}, true
		case KEY_PAUSECD:
			return MediaPause{}, true
		case KEY_STOPCD:
			return MediaStop{}, true
		case KEY_NEXTSONG:
			return MediaNext{}, true
		case KEY_PREVIOUSSONG:
			return MediaPrevious{}, true
		}

	case EV_REL:
		switch ev.Code {
		case REL_DIAL, REL_WHEEL, REL_MISC:
			if ev.Value != 0 {
				return RotaryTurn{Steps: int(ev.Value)}, true
			}
		}
	}
	return nil, false
}

func volumeKey(value int32, direction int) (Event, bool) {
	switch value {
	case evValuePress, evValueRepeat:
		return VolumeHeld{Direction: direction}, true
	case evValueRelease:
		return VolumeRelease{}, true
	}
	return nil, false
}

// runInputDevices opens the configured evdev nodes and forwards translated
// actions until ctx is canceled or a device fails.
func runInputDevices(ctx context.Context, paths []string, events chan<- Event, logger *slog.Logger) error {
	if len(paths) == 0 {
		return nil
	}

	files := make([]*os.File, 0, len(paths))
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("open input device %s (run as root or add user to 'input' group): %w", p, err)
		}
		files = append(files, f)
	}

	raw := make(chan inputEvent, 64)
	readErr := make(chan error, 1)
	go readInputEventsEpoll(ctx, files, raw, readErr)

	logger.Info("input devices open", "devices", paths)

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-readErr:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("input reader stopped: %w", err)

		case ev := <-raw:
			act, ok := translateInputEvent(ev)
			if !ok {
				continue
			}
			select {
			case events <- act:
			default:
				logger.Warn("input event dropped (event queue full)", "code", ev.Code)
			}
		}
	}
}
