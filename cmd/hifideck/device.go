package main

import "errors"

// PlaybackDevice is the audio output the daemon drives. Implementations
// report asynchronous signals (time updates, end of track, rejected playback)
// as events on the daemon's events channel, tagged with the source URL they
// refer to so the reducer can drop stale ones.
type PlaybackDevice interface {
	// SetSource loads url, replacing whatever was loaded. The device stays paused.
	SetSource(url string) error
	Play() error
	Pause() error
	// Stop halts playback and unloads the source.
	Stop() error
	SetVolume(percent int) error
	Close() error
}

var (
	// ErrPlaybackRejected means the device refused to start playback.
	ErrPlaybackRejected = errors.New("playback rejected")

	// ErrNoDevice means no output is attached to send commands to.
	ErrNoDevice = errors.New("no playback device")

	// ErrDeviceClosed is returned by calls on a closed device.
	ErrDeviceClosed = errors.New("device closed")
)

// nullDevice accepts every command and never produces audio or signals.
type nullDevice struct{}

func (nullDevice) SetSource(string) error { return nil }
func (nullDevice) Play() error            { return nil }
func (nullDevice) Pause() error           { return nil }
func (nullDevice) Stop() error            { return nil }
func (nullDevice) SetVolume(int) error    { return nil }
func (nullDevice) Close() error           { return nil }
