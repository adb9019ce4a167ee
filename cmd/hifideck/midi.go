package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

const midiRescanInterval = 1000 * time.Millisecond

// ============================================================================
// MIDI translation
// ============================================================================

// translateMIDI maps a MIDI message onto a deck action:
//   - knob CC (0..127) sets the selector (0..100, snapped by the reducer)
//   - volume CC (0..127) sets the volume (0..100)
//   - note-on of a mapped note presses a transport or toggle button
func translateMIDI(msg midi.Message, cfg MIDIConfig) (Event, bool) {
	var ch, key, vel, cc, val uint8

	switch {
	case msg.GetControlChange(&ch, &cc, &val):
		switch int(cc) {
		case cfg.KnobCC:
			return SetSelector{Value: float64(val) / 127 * 100}, true
		case cfg.VolumeCC:
			return SetVolume{Volume: int(math.Round(float64(val) / 127 * 100))}, true
		}

	case msg.GetNoteStart(&ch, &key, &vel):
		n := cfg.Notes
		switch int(key) {
		case n.PlayPause:
			return MediaPlayPause{}, true
		case n.Stop:
			return MediaStop{}, true
		case n.Previous:
			return MediaPrevious{}, true
		case n.Next:
			return MediaNext{}, true
		case n.Liked:
			return ToggleFlag{Flag: FlagLiked}, true
		case n.Hot:
			return ToggleFlag{Flag: FlagHot}, true
		case n.EQ:
			return ToggleFlag{Flag: FlagEQ}, true
		case n.FX:
			return ToggleFlag{Flag: FlagFX}, true
		}
	}
	return nil, false
}

// ============================================================================
// MIDIWatcher
// ============================================================================

// MIDIWatcher keeps a connection to the preferred MIDI input and forwards
// translated actions. It handles hot-plug (device appears) and hot-unplug
// (device disappears) by rescanning periodically.
type MIDIWatcher struct {
	mu           sync.Mutex
	drv          *rtmididrv.Driver
	inPort       drivers.In
	stopFn       func()
	connected    bool
	selectedName string

	cfg    MIDIConfig
	events chan<- Event
	logger *slog.Logger
}

// NewMIDIWatcher initialises the rtmidi driver. Call Run to start watching.
func NewMIDIWatcher(cfg MIDIConfig, events chan<- Event, logger *slog.Logger) (*MIDIWatcher, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("rtmididrv: %w", err)
	}
	return &MIDIWatcher{
		drv:    drv,
		cfg:    cfg,
		events: events,
		logger: logger,
	}, nil
}

// Run rescans on midiRescanInterval until ctx is canceled, then closes the
// connection and the driver.
func (m *MIDIWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(midiRescanInterval)
	defer ticker.Stop()
	defer m.close()

	m.rescan()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.rescan()
		}
	}
}

func (m *MIDIWatcher) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeConn()
	m.drv.Close()
}

func (m *MIDIWatcher) rescan() {
	m.mu.Lock()
	defer m.mu.Unlock()

	inputs := m.listInputs()

	if m.connected {
		for _, n := range inputs {
			if n == m.selectedName {
				return
			}
		}
		m.logger.Warn("midi: device disappeared", "device", m.selectedName)
		m.closeConn()
		return
	}

	cand, ok := pickMIDIInput(inputs, m.cfg.Preferred)
	if !ok {
		return
	}
	if err := m.openByName(cand); err != nil {
		m.logger.Error("midi: connect failed", "device", cand, "error", err)
	}
}

func (m *MIDIWatcher) listInputs() []string {
	ins, err := m.drv.Ins()
	if err != nil {
		m.logger.Error("midi: list inputs failed", "error", err)
		return nil
	}
	names := make([]string, 0, len(ins))
	for _, in := range ins {
		names = append(names, in.String())
	}
	return filterMIDIInputs(names, m.cfg.Excluded)
}

// filterMIDIInputs drops virtual/system ports matching any excluded pattern.
func filterMIDIInputs(names, excluded []string) []string {
	var out []string
	for _, name := range names {
		skip := false
		for _, pat := range excluded {
			if containsCI(name, pat) {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, name)
		}
	}
	return out
}

// pickMIDIInput returns the first input matching a preferred pattern (in
// pattern order), or the only input if there is exactly one.
func pickMIDIInput(inputs, preferred []string) (string, bool) {
	for _, pat := range preferred {
		for _, name := range inputs {
			if containsCI(name, pat) {
				return name, true
			}
		}
	}
	if len(inputs) == 1 {
		return inputs[0], true
	}
	return "", false
}

func (m *MIDIWatcher) closeConn() {
	if m.stopFn != nil {
		m.stopFn()
		m.stopFn = nil
	}
	if m.inPort != nil {
		_ = m.inPort.Close()
		m.inPort = nil
	}
	m.connected = false
	m.selectedName = ""
}

func (m *MIDIWatcher) openByName(name string) error {
	ins, err := m.drv.Ins()
	if err != nil {
		return err
	}
	var found drivers.In
	for _, in := range ins {
		if in.String() == name {
			found = in
			break
		}
	}
	if found == nil {
		return fmt.Errorf("input %q not found", name)
	}
	if err := found.Open(); err != nil {
		return fmt.Errorf("open %q: %w", name, err)
	}

	stop, err := midi.ListenTo(found, func(msg midi.Message, _ int32) {
		ev, ok := translateMIDI(msg, m.cfg)
		if !ok {
			m.logger.Debug("midi: unhandled message", "msg", msg.String())
			return
		}
		select {
		case m.events <- ev:
		default:
			m.logger.Warn("midi: event dropped (event queue full)")
		}
	}, midi.HandleError(func(listenErr error) {
		m.logger.Warn("midi: listener error", "device", name, "error", listenErr)
		// closeConn must not run on the listener goroutine.
		go func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.connected && m.selectedName == name {
				m.closeConn()
			}
		}()
	}))
	if err != nil {
		_ = found.Close()
		return fmt.Errorf("listen %q: %w", name, err)
	}

	m.inPort = found
	m.stopFn = stop
	m.connected = true
	m.selectedName = name
	m.logger.Info("midi: connected", "device", name)
	return nil
}

func containsCI(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
