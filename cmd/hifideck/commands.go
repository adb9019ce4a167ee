package main

import (
	"fmt"
	"time"
)

// ==============================
// Commands (side effects)
// ==============================

// Command represents an external side effect to be executed by the daemon loop:
// playback device calls, catalog loads and snapshot replies.
type Command interface {
	commandMarker()
	String() string
}

// CmdLoadCatalog starts an asynchronous catalog load. The result comes back as
// CatalogLoaded or CatalogLoadFailed tagged with the same generation.
type CmdLoadCatalog struct {
	Generation uint64
}

func (CmdLoadCatalog) commandMarker() {}
func (c CmdLoadCatalog) String() string {
	return fmt.Sprintf("CmdLoadCatalog(generation=%d)", c.Generation)
}

// CmdSetSource replaces the device's loaded source. The device stays paused.
type CmdSetSource struct {
	URL string
}

func (CmdSetSource) commandMarker()   {}
func (c CmdSetSource) String() string { return fmt.Sprintf("CmdSetSource(url=%q)", c.URL) }

// CmdPlay starts playback of the loaded source.
type CmdPlay struct {
	Source string
}

func (CmdPlay) commandMarker()   {}
func (c CmdPlay) String() string { return fmt.Sprintf("CmdPlay(source=%q)", c.Source) }

// CmdPause pauses playback.
type CmdPause struct{}

func (CmdPause) commandMarker() {}
func (CmdPause) String() string { return "CmdPause()" }

// CmdStop stops playback and unloads the source.
type CmdStop struct{}

func (CmdStop) commandMarker() {}
func (CmdStop) String() string { return "CmdStop()" }

// CmdSetVolume sets the device volume in percent.
type CmdSetVolume struct {
	Percent int
}

func (CmdSetVolume) commandMarker()   {}
func (c CmdSetVolume) String() string { return fmt.Sprintf("CmdSetVolume(percent=%d)", c.Percent) }

// CmdPublishStateSnapshot delivers a reducer-built snapshot to a requester.
type CmdPublishStateSnapshot struct {
	Reply    chan StateSnapshot
	Snapshot StateSnapshot
}

func (CmdPublishStateSnapshot) commandMarker() {}
func (CmdPublishStateSnapshot) String() string { return "CmdPublishStateSnapshot()" }

// ==============================
// Broadcasts (presentation deltas)
// ==============================

// StateBroadcast is a reducer-emitted change notification for presentation
// clients (websocket, serial panel display).
type StateBroadcast interface {
	broadcastMarker()
}

type BroadcastCatalogChanged struct {
	Status CatalogStatus
	Count  int
	Error  string
	At     time.Time
}

type BroadcastTrackChanged struct {
	Index int
	Count int
	Track *Track // nil when no track is selected
	At    time.Time
}

type BroadcastPlaybackChanged struct {
	State PlaybackState
	At    time.Time
}

type BroadcastPositionChanged struct {
	Seconds  float64
	Duration float64
	At       time.Time
}

type BroadcastLyricChanged struct {
	Index int
	Text  string
	At    time.Time
}

type BroadcastSelectorChanged struct {
	Value    int
	Dragging bool
	At       time.Time
}

type BroadcastVolumeChanged struct {
	Volume int
	At     time.Time
}

type BroadcastTogglesChanged struct {
	Toggles Toggles
	At      time.Time
}

func (BroadcastCatalogChanged) broadcastMarker()  {}
func (BroadcastTrackChanged) broadcastMarker()    {}
func (BroadcastPlaybackChanged) broadcastMarker() {}
func (BroadcastPositionChanged) broadcastMarker() {}
func (BroadcastLyricChanged) broadcastMarker()    {}
func (BroadcastSelectorChanged) broadcastMarker() {}
func (BroadcastVolumeChanged) broadcastMarker()   {}
func (BroadcastTogglesChanged) broadcastMarker()  {}
