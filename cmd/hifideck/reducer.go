package main

import (
	"math"
	"time"
)

// The reducer is pure: it computes the next state, the side effects to run
// (Commands) and the presentation deltas to publish (Broadcasts). It performs
// no I/O and never blocks. The daemon loop executes the commands and feeds
// device/catalog observations back in as events.

// ReducerConfig is the static policy the reducer applies.
type ReducerConfig struct {
	// SelectorSteps is the number of knob notches (>= 1).
	SelectorSteps int

	// AutoplayOnSelect makes knob, next/prev and encoder selection of a new
	// track start playback.
	AutoplayOnSelect bool

	DefaultVolume int
	DefaultFX     bool

	Velocity VelocityConfig
	Rotary   RotaryConfig
}

// ReduceResult is the output of Reduce().
type ReduceResult struct {
	State      *DaemonState
	Commands   []Command
	Broadcasts []StateBroadcast
}

// Reduce applies one event to the state.
func Reduce(s *DaemonState, e Event, cfg ReducerConfig) ReduceResult {
	if s == nil {
		s = NewDaemonState(cfg)
	}
	if cfg.SelectorSteps < 1 {
		cfg.SelectorSteps = 1
	}

	r := &reduction{s: s, cfg: cfg}
	if te, ok := e.(TimedEvent); ok {
		r.at = te.At
		e = te.Event
	}
	r.reduce(e)

	return ReduceResult{
		State:      s,
		Commands:   r.cmds,
		Broadcasts: r.bcasts,
	}
}

// reduction accumulates the output of a single Reduce call.
type reduction struct {
	s   *DaemonState
	cfg ReducerConfig
	at  time.Time

	cmds   []Command
	bcasts []StateBroadcast
}

func (r *reduction) cmd(c Command)         { r.cmds = append(r.cmds, c) }
func (r *reduction) emit(b StateBroadcast) { r.bcasts = append(r.bcasts, b) }
func (r *reduction) steps() int            { return r.cfg.SelectorSteps }
func (r *reduction) trackCount() int       { return len(r.s.Catalog.Tracks) }

func (r *reduction) catalogReady() bool {
	return r.s.Catalog.Status == CatalogReady && r.trackCount() > 0
}

// isStale reports whether a device signal refers to a source other than the
// one loaded. An empty source always matches.
func (r *reduction) isStale(source string) bool {
	return source != "" && source != r.s.Session.LoadedSource
}

func (r *reduction) reduce(e Event) {
	s := r.s

	switch ev := e.(type) {
	case Tick:
		r.at = ev.Now
		r.tick(ev)

	// Transport
	case MediaPlayPause:
		if s.Session.Playing() {
			r.pause()
		} else {
			r.play()
		}
	case MediaPlay:
		r.play()
	case MediaPause:
		r.pause()
	case MediaStop:
		r.stop()
	case MediaNext:
		r.setSelector(NotchValue(NextNotch(NotchOf(float64(s.Selector.Value), r.steps()), r.steps()), r.steps()), r.cfg.AutoplayOnSelect)
	case MediaPrevious:
		r.setSelector(NotchValue(PrevNotch(NotchOf(float64(s.Selector.Value), r.steps()), r.steps()), r.steps()), r.cfg.AutoplayOnSelect)

	// Selector
	case KnobGrab:
		if !s.Selector.Dragging {
			s.Selector.Grab()
			r.emitSelector()
		}
	case KnobMove:
		prev := s.Selector.Value
		if _, ok := s.Selector.Move(ev.angle(), r.steps()); ok {
			if s.Selector.Value != prev {
				r.emitSelector()
			}
			r.followSelector(r.cfg.AutoplayOnSelect)
		}
	case KnobRelease:
		if s.Selector.Dragging {
			s.Selector.Release()
			r.emitSelector()
		}
	case SetSelector:
		r.setSelector(SnapSelectorValue(ev.Value, r.steps()), r.cfg.AutoplayOnSelect)
	case RotaryTurn:
		var delta int
		s.Rotary, delta = rotaryNotches(s.Rotary, ev.Steps, r.at, r.cfg.Rotary)
		notch := NotchOf(float64(s.Selector.Value), r.steps()) + delta
		// Encoders stop at the arc ends like the physical knob.
		if notch < 0 {
			notch = 0
		}
		if notch > r.steps()-1 {
			notch = r.steps() - 1
		}
		r.setSelector(NotchValue(notch, r.steps()), r.cfg.AutoplayOnSelect)
	case SelectTrack:
		r.selectTrack(ev.Index)

	// Volume and toggles
	case SetVolume:
		r.cancelHold()
		r.applyVolume(ev.Volume)
	case VolumeHeld:
		r.hold(ev.Direction)
	case VolumeRelease:
		s.VolumeCtrl.HeldDirection = 0
		s.VolumeCtrl.HoldBeganAt = time.Time{}
	case ToggleFlag:
		r.toggle(ev.Flag)

	// Catalog
	case ReloadCatalog:
		r.reload()
	case CatalogLoaded:
		r.catalogLoaded(ev)
	case CatalogLoadFailed:
		if ev.Generation != s.Catalog.Generation {
			return
		}
		msg := "catalog load failed"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		r.catalogFailed(msg)

	// Device signals
	case DeviceTimeUpdate:
		if _, ok := s.CurrentTrack(); !ok || r.isStale(ev.Source) {
			return
		}
		sec := ev.Seconds
		if math.IsNaN(sec) || math.IsInf(sec, 0) || sec < 0 {
			sec = 0
		}
		r.setPosition(sec)
	case DeviceEnded:
		if r.isStale(ev.Source) || !s.Session.Playing() {
			return
		}
		r.advanceAfterEnd()
	case DevicePlayRejected:
		if r.isStale(ev.Source) {
			return
		}
		r.rejectPlay()
	case DeviceCommandFailed:
		switch c := ev.Command.(type) {
		case CmdPlay:
			r.rejectPlay()
		case CmdSetSource:
			if c.URL == s.Session.LoadedSource {
				r.rejectPlay()
			}
		}

	case RequestStateSnapshot:
		r.cmd(CmdPublishStateSnapshot{Reply: ev.Reply, Snapshot: BuildSnapshot(s, r.cfg)})

	default:
		// Unknown event type: no-op.
	}
}

// ----------------------------------------------------------------------------
// Session
// ----------------------------------------------------------------------------

func (r *reduction) setState(st PlaybackState) {
	if r.s.Session.State == st {
		return
	}
	r.s.Session.State = st
	r.emit(BroadcastPlaybackChanged{State: st, At: r.at})
}

// loadSource replaces the device source unless it is already loaded.
func (r *reduction) loadSource(url string) {
	if url == r.s.Session.LoadedSource {
		return
	}
	r.s.Session.LoadedSource = url
	r.cmd(CmdSetSource{URL: url})
}

func (r *reduction) play() {
	track, ok := r.s.CurrentTrack()
	if !r.catalogReady() || !ok || r.s.Session.Playing() {
		return
	}
	r.loadSource(track.SourceURL)
	r.setState(StatePlaying)
	r.cmd(CmdPlay{Source: r.s.Session.LoadedSource})
}

func (r *reduction) pause() {
	if !r.s.Session.Playing() {
		return
	}
	r.setState(StatePaused)
	r.cmd(CmdPause{})
}

func (r *reduction) stop() {
	if r.s.Session.State == StateStopped && r.s.Session.LoadedSource == "" {
		return
	}
	r.setState(StateStopped)
	r.s.Session.LoadedSource = ""
	r.cmd(CmdStop{})
	r.setPosition(0)
}

// rejectPlay corrects the play intent after the device refused to play.
// The source is forgotten so the next play loads it again.
func (r *reduction) rejectPlay() {
	r.s.Session.LoadedSource = ""
	if r.s.Session.State == StatePlaying {
		r.setState(StatePaused)
	}
}

// setPosition updates the playback position and announces a lyric change
// when the active line moves.
func (r *reduction) setPosition(sec float64) {
	old := r.s.Session.Position
	if sec == old {
		return
	}
	r.s.Session.Position = sec

	track, ok := r.s.CurrentTrack()
	if !ok {
		r.emit(BroadcastPositionChanged{Seconds: sec, At: r.at})
		return
	}
	r.emit(BroadcastPositionChanged{Seconds: sec, Duration: track.Duration, At: r.at})

	if prev, next := ResolveLyric(track.Lyrics, old), ResolveLyric(track.Lyrics, sec); prev != next {
		r.emitLyric(track, next)
	}
}

// switchTrack moves the session to idx: position resets to zero, the previous
// source is replaced and, if the intent is to play, playback is re-issued for
// the new source. autoplay forces the intent to playing.
func (r *reduction) switchTrack(idx int, autoplay bool) bool {
	if idx == r.s.Session.Index || idx < 0 || idx >= r.trackCount() {
		return false
	}
	r.s.Session.Index = idx
	track := r.s.Catalog.Tracks[idx]
	r.emitTrack()

	r.s.Session.Position = 0
	r.emit(BroadcastPositionChanged{Seconds: 0, Duration: track.Duration, At: r.at})
	r.emitLyric(track, ResolveLyric(track.Lyrics, 0))

	if autoplay {
		r.setState(StatePlaying)
	}
	r.loadSource(track.SourceURL)
	if r.s.Session.Playing() {
		r.cmd(CmdPlay{Source: track.SourceURL})
	}
	return true
}

// setSelector moves the knob to an already snapped value and follows it with
// the session.
func (r *reduction) setSelector(value int, autoplay bool) {
	if value != r.s.Selector.Value {
		r.s.Selector.Value = value
		r.emitSelector()
	}
	r.followSelector(autoplay)
}

// followSelector maps the knob value to a track and switches to it if it
// differs from the current one.
func (r *reduction) followSelector(autoplay bool) {
	if !r.catalogReady() {
		return
	}
	r.switchTrack(MapToIndex(float64(r.s.Selector.Value), r.trackCount(), r.steps()), autoplay)
}

// selectTrack is a direct session switch; it keeps the play/pause intent. The
// knob follows when a notch maps exactly onto the chosen index.
func (r *reduction) selectTrack(idx int) {
	if !r.catalogReady() || idx < 0 || idx >= r.trackCount() {
		return
	}
	if idx < r.steps() {
		v := NotchValue(idx, r.steps())
		if MapToIndex(float64(v), r.trackCount(), r.steps()) == idx && v != r.s.Selector.Value {
			r.s.Selector.Value = v
			r.emitSelector()
		}
	}
	r.switchTrack(idx, false)
}

// advanceAfterEnd follows the "next" rule after the device finished a track
// and keeps playing. When the next notch aliases onto the same track, that
// track restarts from the top.
func (r *reduction) advanceAfterEnd() {
	prev := r.s.Session.Index
	next := NotchValue(NextNotch(NotchOf(float64(r.s.Selector.Value), r.steps()), r.steps()), r.steps())
	if next != r.s.Selector.Value {
		r.s.Selector.Value = next
		r.emitSelector()
	}

	idx := MapToIndex(float64(next), r.trackCount(), r.steps())
	if idx != prev {
		r.switchTrack(idx, true)
		return
	}

	track, ok := r.s.CurrentTrack()
	if !ok {
		return
	}
	// The device unloaded the finished source; load it again.
	r.s.Session.LoadedSource = ""
	r.setPosition(0)
	r.loadSource(track.SourceURL)
	r.cmd(CmdPlay{Source: track.SourceURL})
}

// ----------------------------------------------------------------------------
// Volume
// ----------------------------------------------------------------------------

func (r *reduction) cancelHold() {
	r.s.VolumeCtrl.HeldDirection = 0
	r.s.VolumeCtrl.Velocity = 0
	r.s.VolumeCtrl.HoldBeganAt = time.Time{}
}

func (r *reduction) applyVolume(v int) {
	v = clampVolume(v)
	r.s.VolumeCtrl.Target = float64(v)
	r.s.SetDesiredVolume(v)
	if v != r.s.Session.Volume {
		r.s.Session.Volume = v
		r.emit(BroadcastVolumeChanged{Volume: v, At: r.at})
	}
}

func (r *reduction) hold(direction int) {
	ctrl := &r.s.VolumeCtrl
	if direction == 0 {
		ctrl.HeldDirection = 0
		ctrl.HoldBeganAt = time.Time{}
		return
	}
	if ctrl.HeldDirection == 0 && ctrl.Velocity == 0 {
		// Start integrating from the current volume.
		ctrl.Target = float64(r.s.Session.Volume)
	}
	if ctrl.HeldDirection == 0 || direction != ctrl.HeldDirection {
		ctrl.HoldBeganAt = r.at
		if direction != ctrl.HeldDirection {
			ctrl.Velocity = 0
		}
	}
	ctrl.HeldDirection = direction
	ctrl.LastHeldAt = r.at
}

func (r *reduction) tick(ev Tick) {
	s := r.s
	ctrl := s.VolumeCtrl

	if ctrl.HeldDirection != 0 || ctrl.Velocity != 0 {
		next, target := StepVolumeController(ctrl, ctrl.Target, ev.Dt, ev.Now, r.cfg.Velocity)

		v := clampVolume(int(math.Round(target)))
		if v != s.Session.Volume {
			s.Session.Volume = v
			s.SetDesiredVolume(v)
			r.emit(BroadcastVolumeChanged{Volume: v, At: ev.Now})
		}

		// Settle once the motion has died out.
		const velEps = 0.01 // %/s
		if next.HeldDirection == 0 && next.Velocity < velEps && next.Velocity > -velEps {
			next.Velocity = 0
			next.Target = float64(s.Session.Volume)
		}
		s.VolumeCtrl = next
	}

	// Flush intents into commands (coalesced latest-wins).
	if v, ok := s.ConsumeDesiredVolume(); ok {
		r.cmd(CmdSetVolume{Percent: v})
	}
}

// ----------------------------------------------------------------------------
// Toggles
// ----------------------------------------------------------------------------

func (r *reduction) toggle(flag string) {
	t := &r.s.Toggles
	switch flag {
	case FlagLiked:
		t.Liked = !t.Liked
	case FlagHot:
		t.Hot = !t.Hot
	case FlagEQ:
		t.EQ = !t.EQ
	case FlagFX:
		t.FX = !t.FX
	default:
		return
	}
	r.emit(BroadcastTogglesChanged{Toggles: *t, At: r.at})
}

// ----------------------------------------------------------------------------
// Catalog
// ----------------------------------------------------------------------------

// reload is a full reset: playback stops, every attribute returns to its
// default and a fresh catalog load starts.
func (r *reduction) reload() {
	s := r.s
	gen := s.Catalog.Generation + 1
	s.Catalog = CatalogState{Status: CatalogLoading, Generation: gen}
	s.resetSession(r.cfg)

	r.cmd(CmdStop{})
	r.cmd(CmdSetVolume{Percent: s.Session.Volume})
	r.cmd(CmdLoadCatalog{Generation: gen})

	r.emit(BroadcastCatalogChanged{Status: CatalogLoading, At: r.at})
	r.emitTrack()
	r.emit(BroadcastPlaybackChanged{State: s.Session.State, At: r.at})
	r.emit(BroadcastPositionChanged{Seconds: 0, At: r.at})
	r.emit(BroadcastLyricChanged{Index: NoActiveLyric, At: r.at})
	r.emitSelector()
	r.emit(BroadcastVolumeChanged{Volume: s.Session.Volume, At: r.at})
	r.emit(BroadcastTogglesChanged{Toggles: s.Toggles, At: r.at})
}

func (r *reduction) catalogLoaded(ev CatalogLoaded) {
	s := r.s
	if ev.Generation != s.Catalog.Generation {
		return
	}
	if len(ev.Tracks) == 0 {
		r.catalogFailed(ErrEmptyCatalog.Error())
		return
	}

	s.Catalog.Status = CatalogReady
	s.Catalog.Source = ev.Source
	s.Catalog.Tracks = ev.Tracks
	s.Catalog.Err = ""
	r.emit(BroadcastCatalogChanged{Status: CatalogReady, Count: len(ev.Tracks), At: r.at})

	// Initial selection follows the knob without starting playback.
	s.Session.Index = noTrack
	r.switchTrack(MapToIndex(float64(s.Selector.Value), len(ev.Tracks), r.steps()), false)
}

func (r *reduction) catalogFailed(msg string) {
	s := r.s
	s.Catalog.Status = CatalogFailed
	s.Catalog.Tracks = nil
	s.Catalog.Err = msg
	s.Session.Index = noTrack
	r.emit(BroadcastCatalogChanged{Status: CatalogFailed, Error: msg, At: r.at})
	r.emitTrack()
}

// ----------------------------------------------------------------------------
// Broadcast helpers
// ----------------------------------------------------------------------------

func (r *reduction) emitSelector() {
	r.emit(BroadcastSelectorChanged{Value: r.s.Selector.Value, Dragging: r.s.Selector.Dragging, At: r.at})
}

func (r *reduction) emitTrack() {
	b := BroadcastTrackChanged{Index: r.s.Session.Index, Count: r.trackCount(), At: r.at}
	if t, ok := r.s.CurrentTrack(); ok {
		b.Track = &t
	} else {
		b.Index = noTrack
	}
	r.emit(b)
}

func (r *reduction) emitLyric(track Track, idx int) {
	b := BroadcastLyricChanged{Index: idx, At: r.at}
	if idx >= 0 && idx < len(track.Lyrics) {
		b.Text = track.Lyrics[idx].Text
	}
	r.emit(b)
}
