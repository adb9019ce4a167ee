package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"go.bug.st/serial"
)

// ============================================================================
// Serial front panel
// ============================================================================
// A microcontroller panel with an absolute-position knob, push buttons and a
// two-row character LCD talks to the daemon over a serial line.
//
// Frame layout (both directions):
//
//	[SOF0][SOF1][LEN][CMD][payload...][CKS]
//
// LEN counts CMD plus payload. CKS is LEN ^ CMD ^ every payload byte.
//
// Panel -> daemon:
//
//	0x01 knob   payload: int16 big-endian angle in tenths of a degree
//	0x02 button payload: [button id][1 = pressed, 0 = released]
//
// Daemon -> panel:
//
//	0x20 lcd    payload: [row][text bytes, at most panelLCDWidth]
// ============================================================================

const (
	panelSOF0 = 0xAA
	panelSOF1 = 0x55

	panelCmdKnob   = 0x01
	panelCmdButton = 0x02
	panelCmdLCD    = 0x20

	panelLCDWidth = 16

	// panelMaxBuffered bounds the decoder buffer when the line carries junk.
	panelMaxBuffered = 1024
)

// Panel button ids.
const (
	panelButtonPlayPause = iota
	panelButtonStop
	panelButtonPrevious
	panelButtonNext
	panelButtonLiked
	panelButtonHot
	panelButtonEQ
	panelButtonFX
	panelButtonReload
)

type panelFrame struct {
	Cmd     byte
	Payload []byte
}

// Encode builds the on-wire representation.
func (f panelFrame) Encode() []byte {
	length := byte(len(f.Payload) + 1) // +1 for CMD byte
	cks := length ^ f.Cmd
	for _, b := range f.Payload {
		cks ^= b
	}

	out := make([]byte, 0, len(f.Payload)+5)
	out = append(out, panelSOF0, panelSOF1, length, f.Cmd)
	out = append(out, f.Payload...)
	return append(out, cks)
}

// panelDecoder reassembles frames from a byte stream. Bytes before a start
// marker and frames with a bad checksum are skipped.
type panelDecoder struct {
	buf []byte
}

func (d *panelDecoder) Feed(p []byte) []panelFrame {
	d.buf = append(d.buf, p...)
	var frames []panelFrame

	for {
		i := bytes.Index(d.buf, []byte{panelSOF0, panelSOF1})
		if i < 0 {
			// Keep a trailing SOF0 that may start the next frame.
			if n := len(d.buf); n > 0 && d.buf[n-1] == panelSOF0 {
				d.buf = d.buf[n-1:]
			} else {
				d.buf = d.buf[:0]
			}
			return frames
		}
		d.buf = d.buf[i:]

		if len(d.buf) < 3 {
			return frames
		}
		n := int(d.buf[2])
		if n == 0 {
			d.buf = d.buf[2:]
			continue
		}
		total := 3 + n + 1
		if len(d.buf) < total {
			if len(d.buf) > panelMaxBuffered {
				d.buf = d.buf[2:]
				continue
			}
			return frames
		}

		cmd := d.buf[3]
		payload := d.buf[4 : 3+n]
		cks := d.buf[2] ^ cmd
		for _, b := range payload {
			cks ^= b
		}
		if cks != d.buf[3+n] {
			d.buf = d.buf[2:]
			continue
		}

		frames = append(frames, panelFrame{Cmd: cmd, Payload: append([]byte(nil), payload...)})
		d.buf = d.buf[total:]
	}
}

// translatePanelFrame maps an inbound panel frame onto a deck action.
func translatePanelFrame(f panelFrame) (Event, bool) {
	switch f.Cmd {
	case panelCmdKnob:
		if len(f.Payload) != 2 {
			return nil, false
		}
		tenths := int16(binary.BigEndian.Uint16(f.Payload))
		return SetSelector{Value: AngleToRaw(float64(tenths) / 10)}, true

	case panelCmdButton:
		if len(f.Payload) != 2 || f.Payload[1] != 1 {
			return nil, false
		}
		switch f.Payload[0] {
		case panelButtonPlayPause:
			return MediaPlayPause{}, true
		case panelButtonStop:
			return MediaStop{}, true
		case panelButtonPrevious:
			return MediaPrevious{}, true
		case panelButtonNext:
			return MediaNext{}, true
		case panelButtonLiked:
			return ToggleFlag{Flag: FlagLiked}, true
		case panelButtonHot:
			return ToggleFlag{Flag: FlagHot}, true
		case panelButtonEQ:
			return ToggleFlag{Flag: FlagEQ}, true
		case panelButtonFX:
			return ToggleFlag{Flag: FlagFX}, true
		case panelButtonReload:
			return ReloadCatalog{}, true
		}
	}
	return nil, false
}

// lcdFrame renders one LCD row, padded or clipped to the display width.
func lcdFrame(row byte, text string) panelFrame {
	line := []byte(fmt.Sprintf("%-*.*s", panelLCDWidth, panelLCDWidth, text))
	return panelFrame{Cmd: panelCmdLCD, Payload: append([]byte{row}, line...)}
}

// lcdLines returns the LCD rows a broadcast changes: row 0 shows the track
// label and title, row 1 the active lyric line.
func lcdLines(b StateBroadcast) map[byte]string {
	switch ev := b.(type) {
	case BroadcastCatalogChanged:
		switch ev.Status {
		case CatalogLoading:
			return map[byte]string{0: "SCANNING...", 1: ""}
		case CatalogFailed:
			return map[byte]string{0: "NO SIGNAL", 1: ev.Error}
		}
	case BroadcastTrackChanged:
		if ev.Track == nil {
			return map[byte]string{0: fmt.Sprintf("TRK -/%d", ev.Count)}
		}
		return map[byte]string{0: fmt.Sprintf("%d/%d %s", ev.Index+1, ev.Count, ev.Track.Title)}
	case BroadcastLyricChanged:
		return map[byte]string{1: ev.Text}
	}
	return nil
}

// ============================================================================
// Panel I/O
// ============================================================================

type Panel struct {
	mu     sync.Mutex // serializes writes
	port   io.ReadWriteCloser
	events chan<- Event
	logger *slog.Logger
}

// OpenPanel opens the serial device at the given baud rate.
func OpenPanel(name string, baud int, events chan<- Event, logger *slog.Logger) (*Panel, error) {
	p, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open serial panel %s: %w", name, err)
	}
	logger.Info("serial: port opened", "device", name, "baud", baud)
	return newPanel(p, events, logger), nil
}

func newPanel(port io.ReadWriteCloser, events chan<- Event, logger *slog.Logger) *Panel {
	return &Panel{port: port, events: events, logger: logger}
}

func (p *Panel) send(f panelFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.port.Write(f.Encode()); err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	return nil
}

// Run reads panel frames and writes LCD updates until ctx is canceled or the
// port fails. The port is closed on return.
func (p *Panel) Run(ctx context.Context, updates <-chan StateBroadcast) error {
	readErr := make(chan error, 1)
	go p.readLoop(readErr)

	defer func() {
		p.logger.Info("serial: closing port")
		_ = p.port.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-readErr:
			if ctx.Err() != nil {
				return nil
			}
			return err

		case b, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			for row, text := range lcdLines(b) {
				if err := p.send(lcdFrame(row, text)); err != nil {
					p.logger.Error("serial: lcd update failed", "error", err)
				}
			}
		}
	}
}

func (p *Panel) readLoop(readErr chan<- error) {
	var dec panelDecoder
	buf := make([]byte, 256)

	for {
		n, err := p.port.Read(buf)
		if err != nil {
			readErr <- fmt.Errorf("serial read: %w", err)
			return
		}
		for _, f := range dec.Feed(buf[:n]) {
			ev, ok := translatePanelFrame(f)
			if !ok {
				p.logger.Debug("serial: unhandled frame", "cmd", f.Cmd, "len", len(f.Payload))
				continue
			}
			select {
			case p.events <- ev:
			default:
				p.logger.Warn("serial: event dropped (event queue full)")
			}
		}
	}
}
