package main

import (
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================================
// Events
// ============================================================================
// Events are the reducer's inputs. Actions are the subset that express user
// intent (knob, transport, volume, toggles) and can arrive from any input:
// the state websocket, IPC, HTTP, evdev, MIDI or the serial panel. Device
// signals (time updates, end of track, play rejection) are events too so a
// browser acting as the playback device can report them over the same wire.
// ============================================================================

// Event is the input to the reducer.
type Event interface {
	eventMarker()
}

// Action is a user intent. Every Action is also an Event.
type Action interface {
	Event
	actionMarker()
}

// TimedEvent stamps an externally received event with its arrival time.
type TimedEvent struct {
	Event Event
	At    time.Time
}

func (TimedEvent) eventMarker() {}

// Tick is emitted by the daemon loop at a fixed cadence.
// Dt is wall-clock delta in seconds between ticks.
type Tick struct {
	Now time.Time
	Dt  float64
}

func (Tick) eventMarker() {}

// ----------------------------------------------------------------------------
// Transport
// ----------------------------------------------------------------------------

type MediaPlayPause struct{}
type MediaPlay struct{}
type MediaPause struct{}
type MediaStop struct{}
type MediaNext struct{}
type MediaPrevious struct{}

func (MediaPlayPause) eventMarker() {}
func (MediaPlay) eventMarker()      {}
func (MediaPause) eventMarker()     {}
func (MediaStop) eventMarker()      {}
func (MediaNext) eventMarker()      {}
func (MediaPrevious) eventMarker()  {}

func (MediaPlayPause) actionMarker() {}
func (MediaPlay) actionMarker()      {}
func (MediaPause) actionMarker()     {}
func (MediaStop) actionMarker()      {}
func (MediaNext) actionMarker()      {}
func (MediaPrevious) actionMarker()  {}

// ----------------------------------------------------------------------------
// Selector
// ----------------------------------------------------------------------------

// KnobGrab arms the knob drag session (pointer down on the knob).
type KnobGrab struct{}

func (KnobGrab) eventMarker()  {}
func (KnobGrab) actionMarker() {}

// KnobMove reports the pointer position during a drag, either as an offset
// from the knob center in screen pixels or as a ready-made knob angle.
type KnobMove struct {
	DX    float64  `json:"dx,omitempty"`
	DY    float64  `json:"dy,omitempty"`
	Angle *float64 `json:"angle,omitempty"`
}

func (KnobMove) eventMarker()  {}
func (KnobMove) actionMarker() {}

// angle returns the knob angle this move points at.
func (m KnobMove) angle() float64 {
	if m.Angle != nil {
		return *m.Angle
	}
	return PointerAngle(m.DX, m.DY)
}

// KnobRelease disarms the drag session (pointer up anywhere).
type KnobRelease struct{}

func (KnobRelease) eventMarker()  {}
func (KnobRelease) actionMarker() {}

// SetSelector sets the selector to an absolute 0..100 value, e.g. from a MIDI
// knob or a hardware potentiometer. The value is snapped to the notch grid.
type SetSelector struct {
	Value float64 `json:"value"`
}

func (SetSelector) eventMarker()  {}
func (SetSelector) actionMarker() {}

// RotaryTurn is a raw rotary encoder movement in detents.
// The reducer applies velocity scaling and moves the selector by whole notches.
type RotaryTurn struct {
	Steps int `json:"steps"` // positive=clockwise
}

func (RotaryTurn) eventMarker()  {}
func (RotaryTurn) actionMarker() {}

// SelectTrack switches the session directly to a catalog index. Unlike knob
// selection it keeps the current play/pause intent.
type SelectTrack struct {
	Index int `json:"index"`
}

func (SelectTrack) eventMarker()  {}
func (SelectTrack) actionMarker() {}

// ----------------------------------------------------------------------------
// Volume and toggles
// ----------------------------------------------------------------------------

// SetVolume requests an absolute volume in percent.
type SetVolume struct {
	Volume int `json:"volume"`
}

func (SetVolume) eventMarker()  {}
func (SetVolume) actionMarker() {}

// VolumeHeld indicates a volume button is being held
type VolumeHeld struct {
	Direction int `json:"direction"` // -1 for down, 0 for none, +1 for up
}

func (VolumeHeld) eventMarker()  {}
func (VolumeHeld) actionMarker() {}

// VolumeRelease indicates all volume buttons have been released
type VolumeRelease struct{}

func (VolumeRelease) eventMarker()  {}
func (VolumeRelease) actionMarker() {}

// Toggle flags. They are presentation state only and never affect playback.
const (
	FlagLiked = "liked"
	FlagHot   = "hot"
	FlagEQ    = "eq"
	FlagFX    = "fx"
)

// ToggleFlag flips one of the inert device toggles.
type ToggleFlag struct {
	Flag string `json:"flag"`
}

func (ToggleFlag) eventMarker()  {}
func (ToggleFlag) actionMarker() {}

func validFlag(f string) bool {
	switch f {
	case FlagLiked, FlagHot, FlagEQ, FlagFX:
		return true
	}
	return false
}

// ReloadCatalog resets the player and fetches the catalog again.
type ReloadCatalog struct{}

func (ReloadCatalog) eventMarker()  {}
func (ReloadCatalog) actionMarker() {}

// ----------------------------------------------------------------------------
// Playback device signals
// ----------------------------------------------------------------------------
// Source identifies which loaded URL the signal refers to. Signals for a
// source other than the one currently loaded are stale and ignored. An empty
// Source means "whatever is loaded".

// DeviceTimeUpdate reports the device's playback position.
type DeviceTimeUpdate struct {
	Seconds float64 `json:"seconds"`
	Source  string  `json:"source,omitempty"`
}

func (DeviceTimeUpdate) eventMarker() {}

// DeviceEnded reports that the loaded source played to the end.
type DeviceEnded struct {
	Source string `json:"source,omitempty"`
}

func (DeviceEnded) eventMarker() {}

// DevicePlayRejected reports that the device refused or failed to play.
type DevicePlayRejected struct {
	Source string `json:"source,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (DevicePlayRejected) eventMarker() {}

// ----------------------------------------------------------------------------
// Internal observations (never on the wire)
// ----------------------------------------------------------------------------

// CatalogLoaded carries the result of a successful catalog load.
type CatalogLoaded struct {
	Generation uint64
	Source     string
	Tracks     []Track
}

func (CatalogLoaded) eventMarker() {}

// CatalogLoadFailed carries a failed catalog load.
type CatalogLoadFailed struct {
	Generation uint64
	Err        error
}

func (CatalogLoadFailed) eventMarker() {}

// DeviceCommandFailed is emitted when a device command returns an error.
type DeviceCommandFailed struct {
	Command Command
	Err     error
}

func (DeviceCommandFailed) eventMarker() {}

// RequestStateSnapshot asks the daemon loop for a coherent snapshot.
// The reply is delivered by the effects layer.
type RequestStateSnapshot struct {
	Reply chan StateSnapshot
}

func (RequestStateSnapshot) eventMarker() {}

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================

// EventEnvelope wraps events for JSON serialization/deserialization.
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalEvent deserializes a JSON event envelope into a concrete wire Event.
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "media_play_pause":
		return MediaPlayPause{}, nil
	case "media_play":
		return MediaPlay{}, nil
	case "media_pause":
		return MediaPause{}, nil
	case "media_stop":
		return MediaStop{}, nil
	case "media_next":
		return MediaNext{}, nil
	case "media_previous":
		return MediaPrevious{}, nil

	case "knob_grab":
		return KnobGrab{}, nil
	case "knob_release":
		return KnobRelease{}, nil
	case "knob_move":
		var a KnobMove
		if err := decodeData(env, &a); err != nil {
			return nil, err
		}
		return a, nil

	case "set_selector":
		var a SetSelector
		if err := decodeData(env, &a); err != nil {
			return nil, err
		}
		if a.Value < 0 || a.Value > 100 {
			return nil, fmt.Errorf("set_selector: value %v out of range 0..100", a.Value)
		}
		return a, nil

	case "rotary_turn":
		var a RotaryTurn
		if err := decodeData(env, &a); err != nil {
			return nil, err
		}
		return a, nil

	case "select_track":
		var a SelectTrack
		if err := decodeData(env, &a); err != nil {
			return nil, err
		}
		if a.Index < 0 {
			return nil, fmt.Errorf("select_track: negative index %d", a.Index)
		}
		return a, nil

	case "set_volume":
		var a SetVolume
		if err := decodeData(env, &a); err != nil {
			return nil, err
		}
		if a.Volume < 0 || a.Volume > 100 {
			return nil, fmt.Errorf("set_volume: volume %d out of range 0..100", a.Volume)
		}
		return a, nil

	case "volume_held":
		var a VolumeHeld
		if err := decodeData(env, &a); err != nil {
			return nil, err
		}
		if a.Direction < -1 || a.Direction > 1 {
			return nil, fmt.Errorf("volume_held: direction must be -1, 0 or 1")
		}
		return a, nil
	case "volume_release":
		return VolumeRelease{}, nil

	case "toggle_flag":
		var a ToggleFlag
		if err := decodeData(env, &a); err != nil {
			return nil, err
		}
		if !validFlag(a.Flag) {
			return nil, fmt.Errorf("toggle_flag: unknown flag %q", a.Flag)
		}
		return a, nil

	case "reload_catalog":
		return ReloadCatalog{}, nil

	case "time_update":
		var a DeviceTimeUpdate
		if err := decodeData(env, &a); err != nil {
			return nil, err
		}
		return a, nil
	case "ended":
		var a DeviceEnded
		if err := decodeData(env, &a); err != nil {
			return nil, err
		}
		return a, nil
	case "play_rejected":
		var a DevicePlayRejected
		if err := decodeData(env, &a); err != nil {
			return nil, err
		}
		return a, nil

	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

// decodeData unmarshals the envelope payload. A missing payload decodes as the
// zero value.
func decodeData(env EventEnvelope, v any) error {
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", env.Type, err)
	}
	return nil
}

// eventTypeName returns the wire type for a wire Event.
func eventTypeName(e Event) (string, bool) {
	switch e.(type) {
	case MediaPlayPause:
		return "media_play_pause", true
	case MediaPlay:
		return "media_play", true
	case MediaPause:
		return "media_pause", true
	case MediaStop:
		return "media_stop", true
	case MediaNext:
		return "media_next", true
	case MediaPrevious:
		return "media_previous", true
	case KnobGrab:
		return "knob_grab", true
	case KnobMove:
		return "knob_move", true
	case KnobRelease:
		return "knob_release", true
	case SetSelector:
		return "set_selector", true
	case RotaryTurn:
		return "rotary_turn", true
	case SelectTrack:
		return "select_track", true
	case SetVolume:
		return "set_volume", true
	case VolumeHeld:
		return "volume_held", true
	case VolumeRelease:
		return "volume_release", true
	case ToggleFlag:
		return "toggle_flag", true
	case ReloadCatalog:
		return "reload_catalog", true
	case DeviceTimeUpdate:
		return "time_update", true
	case DeviceEnded:
		return "ended", true
	case DevicePlayRejected:
		return "play_rejected", true
	}
	return "", false
}

// MarshalEvent serializes a wire Event into a JSON envelope with type discriminator.
func MarshalEvent(e Event) ([]byte, error) {
	name, ok := eventTypeName(e)
	if !ok {
		return nil, fmt.Errorf("unsupported event type: %T", e)
	}
	env := EventEnvelope{Type: name}

	switch e.(type) {
	case MediaPlayPause, MediaPlay, MediaPause, MediaStop, MediaNext, MediaPrevious,
		KnobGrab, KnobRelease, VolumeRelease, ReloadCatalog:
		// no payload
	default:
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", name, err)
		}
		env.Data = data
	}

	return json.Marshal(env)
}
