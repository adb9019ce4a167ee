package main

import (
	"fmt"
	"math"
	"time"
)

// DaemonState is the top-level, daemon-owned state container.
//
// Only the daemon goroutine touches it. Other goroutines get copies through
// RequestStateSnapshot. Derived values (lyric line, knob rotation, progress)
// are never stored here; BuildSnapshot recomputes them from the inputs.
type DaemonState struct {
	Catalog  CatalogState
	Selector SelectorState
	Session  SessionState
	Toggles  Toggles

	// VolumeCtrl is the reducer-owned hold/velocity controller for volume keys.
	VolumeCtrl VolumeControllerState

	// Rotary tracks recent encoder detents for velocity detection.
	Rotary RotaryReducerState

	// Intent holds changes that are flushed into commands on the next Tick.
	Intent DaemonIntent
}

// CatalogStatus is the lifecycle of the current catalog load.
type CatalogStatus string

const (
	CatalogLoading CatalogStatus = "loading"
	CatalogReady   CatalogStatus = "ready"
	CatalogFailed  CatalogStatus = "failed"
)

type CatalogState struct {
	Status CatalogStatus
	Source string
	Tracks []Track
	Err    string

	// Generation increments on every reload so results of an older load are
	// recognized and dropped.
	Generation uint64
}

// PlaybackState is the playback session state machine.
type PlaybackState string

const (
	StateStopped PlaybackState = "stopped"
	StatePlaying PlaybackState = "playing"
	StatePaused  PlaybackState = "paused"
)

type SessionState struct {
	// Index is the selected catalog index, or noTrack.
	Index int

	State PlaybackState

	// Position is the playback position in seconds, as last reported by the device.
	Position float64

	// Volume in percent, 0..100.
	Volume int

	// LoadedSource is the URL the device currently has loaded ("" if none).
	LoadedSource string
}

// Playing reports the play/pause intent.
func (s SessionState) Playing() bool { return s.State == StatePlaying }

// Toggles are inert device switches. They never affect playback.
type Toggles struct {
	Liked bool `json:"liked"`
	Hot   bool `json:"hot"`
	EQ    bool `json:"eq"`
	FX    bool `json:"fx"`
}

// VolumeControllerState is the reducer-owned state for the velocity/hold volume controller.
type VolumeControllerState struct {
	// Target is the controller's integration position in percent.
	Target float64

	// Velocity in percent/s (signed). Used in accelerating mode.
	Velocity float64

	// HeldDirection: -1 for down, 0 for none, 1 for up
	HeldDirection int

	LastHeldAt  time.Time
	HoldBeganAt time.Time
}

// RotaryReducerState tracks recent rotary turns for reducer-side velocity detection.
type RotaryReducerState struct {
	RecentSteps []RotaryReducerStep
}

// RotaryReducerStep is one observed rotary detent at a given time.
// Direction is -1 or +1.
type RotaryReducerStep struct {
	At        time.Time
	Direction int
}

// DaemonIntent captures pending changes applied on the next Tick.
type DaemonIntent struct {
	// DesiredVolume, if non-nil, is flushed as one CmdSetVolume (latest wins).
	DesiredVolume *int
}

// NewDaemonState returns the startup state: nothing loaded, default volume
// and toggles, selector at zero.
func NewDaemonState(cfg ReducerConfig) *DaemonState {
	s := &DaemonState{}
	s.resetSession(cfg)
	return s
}

// resetSession restores selector, session and toggles to their defaults.
// The catalog generation is preserved.
func (s *DaemonState) resetSession(cfg ReducerConfig) {
	s.Selector = SelectorState{}
	s.Session = SessionState{
		Index:  noTrack,
		State:  StateStopped,
		Volume: clampVolume(cfg.DefaultVolume),
	}
	s.Toggles = Toggles{FX: cfg.DefaultFX}
	s.VolumeCtrl = VolumeControllerState{Target: float64(s.Session.Volume)}
	s.Rotary = RotaryReducerState{}
	s.Intent = DaemonIntent{}
}

// CurrentTrack returns the selected track, if any.
func (s *DaemonState) CurrentTrack() (Track, bool) {
	i := s.Session.Index
	if i < 0 || i >= len(s.Catalog.Tracks) {
		return Track{}, false
	}
	return s.Catalog.Tracks[i], true
}

// SetDesiredVolume records an explicit desired volume intent.
func (s *DaemonState) SetDesiredVolume(v int) {
	v = clampVolume(v)
	s.Intent.DesiredVolume = &v
}

// ConsumeDesiredVolume consumes the desired volume intent, if present.
func (s *DaemonState) ConsumeDesiredVolume() (int, bool) {
	if s.Intent.DesiredVolume == nil {
		return 0, false
	}
	v := *s.Intent.DesiredVolume
	s.Intent.DesiredVolume = nil
	return v, true
}

func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// ============================================================================
// Snapshot
// ============================================================================

// StateSnapshot is a self-contained copy of everything a presentation layer
// needs, including derived display values.
type StateSnapshot struct {
	CatalogStatus CatalogStatus `json:"catalog_status"`
	CatalogSource string        `json:"catalog_source,omitempty"`
	CatalogError  string        `json:"catalog_error,omitempty"`
	TrackCount    int           `json:"track_count"`

	Index int    `json:"index"`
	Track *Track `json:"track,omitempty"`
	// TrackLabel is the "TRK i/n" display string.
	TrackLabel string `json:"track_label"`

	State         PlaybackState `json:"state"`
	Playing       bool          `json:"playing"`
	Position      float64       `json:"position"`
	Duration      float64       `json:"duration"`
	Progress      float64       `json:"progress"` // percent of Duration
	ElapsedLabel  string        `json:"elapsed_label"`
	DurationLabel string        `json:"duration_label"`

	Volume  int     `json:"volume"`
	Toggles Toggles `json:"toggles"`

	SelectorValue int     `json:"selector_value"`
	SelectorSteps int     `json:"selector_steps"`
	Dragging      bool    `json:"dragging"`
	KnobRotation  float64 `json:"knob_rotation"`
	ActiveDots    int     `json:"active_dots"`

	LyricIndex int    `json:"lyric_index"`
	LyricText  string `json:"lyric_text"`
}

// BuildSnapshot copies state and computes derived display values.
func BuildSnapshot(s *DaemonState, cfg ReducerConfig) StateSnapshot {
	snap := StateSnapshot{
		CatalogStatus: s.Catalog.Status,
		CatalogSource: s.Catalog.Source,
		CatalogError:  s.Catalog.Err,
		TrackCount:    len(s.Catalog.Tracks),
		Index:         s.Session.Index,
		State:         s.Session.State,
		Playing:       s.Session.Playing(),
		Position:      s.Session.Position,
		Volume:        s.Session.Volume,
		Toggles:       s.Toggles,
		SelectorValue: s.Selector.Value,
		SelectorSteps: cfg.SelectorSteps,
		Dragging:      s.Selector.Dragging,
		KnobRotation:  KnobRotation(float64(s.Selector.Value)),
		ActiveDots:    ActiveDots(float64(s.Selector.Value), knobDotCount),
		LyricIndex:    NoActiveLyric,
		ElapsedLabel:  FormatClock(s.Session.Position),
		DurationLabel: FormatClock(0),
	}

	if t, ok := s.CurrentTrack(); ok {
		track := t
		snap.Track = &track
		snap.TrackLabel = fmt.Sprintf("TRK %d/%d", s.Session.Index+1, len(s.Catalog.Tracks))
		snap.Duration = t.Duration
		snap.DurationLabel = FormatClock(t.Duration)
		snap.Progress = ProgressPercent(s.Session.Position, t.Duration)
		snap.LyricIndex = ResolveLyric(t.Lyrics, s.Session.Position)
		if snap.LyricIndex >= 0 {
			snap.LyricText = t.Lyrics[snap.LyricIndex].Text
		}
	} else {
		snap.Index = noTrack
		snap.TrackLabel = fmt.Sprintf("TRK -/%d", len(s.Catalog.Tracks))
	}

	return snap
}

// FormatClock renders seconds as m:ss. Invalid or negative input renders 0:00.
func FormatClock(sec float64) string {
	if math.IsNaN(sec) || math.IsInf(sec, 0) || sec < 0 {
		sec = 0
	}
	total := int(math.Floor(sec))
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// ProgressPercent returns position as a percentage of duration, clamped to 0..100.
func ProgressPercent(position, duration float64) float64 {
	if duration <= 0 || math.IsNaN(position) {
		return 0
	}
	p := position / duration * 100
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
