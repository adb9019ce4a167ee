package main

// Linux input event types and codes (from <linux/input.h>)
const (
	EV_KEY = 0x01
	EV_REL = 0x02

	KEY_VOLUMEDOWN   = 114
	KEY_VOLUMEUP     = 115
	KEY_NEXTSONG     = 163
	KEY_PLAYPAUSE    = 164
	KEY_PREVIOUSSONG = 165
	KEY_STOPCD       = 166
	KEY_PLAYCD       = 200
	KEY_PAUSECD      = 201

	// Rotary encoder relative axis codes
	REL_DIAL  = 0x07
	REL_WHEEL = 0x08
	REL_MISC  = 0x09
)

// Input event value constants
const (
	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2
)

// Knob geometry. 0° points up, positive is clockwise.
const (
	knobMinAngle = -135.0
	knobMaxAngle = 135.0
	knobArc      = knobMaxAngle - knobMinAngle

	// knobDotCount is the number of scale dots drawn around the knob.
	knobDotCount = 25
)

// Catalog defaults
const (
	defaultITunesBaseURL      = "https://itunes.apple.com/search"
	defaultCatalogTerm        = "synthwave"
	defaultCatalogLimit       = 25
	defaultCatalogTimeoutMS   = 10000
	defaultPreviewDurationSec = 29.0
)

// Session defaults
const (
	defaultUpdateHz      = 30 // Update loop frequency (Hz)
	defaultSelectorSteps = 25
	defaultVolume        = 70
	defaultMPVTimeoutMS  = 1000
)

// Velocity-based volume hold defaults (percent units)
const (
	defaultVelMaxPctPerS = 40.0 // Maximum velocity in %/s
	defaultAccelTime     = 1.0  // Time to reach max velocity (seconds)
	defaultDecayTau      = 0.2  // Decay time constant (seconds)
	defaultHoldTimeoutMS = 600
)

// Rotary encoder configuration defaults
const (
	defaultRotaryVelocityWindowMS   = 200 // Time window for velocity detection (ms)
	defaultRotaryVelocityMultiplier = 2   // Notch multiplier for "fast spinning"
	defaultRotaryVelocityThreshold  = 3   // Steps in window to trigger velocity mode
)

// Serial panel defaults
const (
	defaultPanelBaud = 115200
)
