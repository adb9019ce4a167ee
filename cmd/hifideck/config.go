package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the hifideck daemon.
//
// Precedence (lowest to highest): DefaultConfig, config file, .env file and
// HIFIDECK_* environment variables, command-line flags. Validate runs last so
// the rest of the code can assume a well-formed config.
type Config struct {
	Catalog  CatalogConfig      `yaml:"catalog"`
	Selector SelectorConfig     `yaml:"selector"`
	Session  SessionConfig      `yaml:"session"`
	Velocity VelocityFileConfig `yaml:"velocity"`
	Device   DeviceConfig       `yaml:"device"`
	Input    InputConfig        `yaml:"input"`
	IPC      IPCConfig          `yaml:"ipc"`
	HTTP     HTTPConfig         `yaml:"http"`
	Logging  LoggingConfig      `yaml:"logging"`
}

type CatalogConfig struct {
	Source string            `yaml:"source"` // "itunes" or "file"
	ITunes ITunesConfig      `yaml:"itunes"`
	File   FileCatalogConfig `yaml:"file"`

	// PreviewDurationSec is the display duration used when a track has none.
	PreviewDurationSec float64 `yaml:"preview_duration_sec"`
}

type ITunesConfig struct {
	BaseURL   string `yaml:"base_url"`
	Term      string `yaml:"term"`
	Limit     int    `yaml:"limit"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type FileCatalogConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"` // reload when the file changes
}

type SelectorConfig struct {
	Steps            int  `yaml:"steps"`
	AutoplayOnSelect bool `yaml:"autoplay_on_select"`
}

type SessionConfig struct {
	DefaultVolume int  `yaml:"default_volume"`
	FXActive      bool `yaml:"fx_active"`
	UpdateHz      int  `yaml:"update_hz"`
}

// VelocityFileConfig is the user-facing volume hold configuration.
type VelocityFileConfig struct {
	Mode string `yaml:"mode"` // "accelerating" or "constant"

	// Shared:
	// - accelerating: max velocity (%/s)
	// - constant: base hold rate (%/s)
	MaxPctPerSec float64 `yaml:"max_pct_per_sec"`

	// Accelerating-mode only:
	AccelTimeSec float64 `yaml:"accel_time_sec,omitempty"`
	DecayTauSec  float64 `yaml:"decay_tau_sec,omitempty"`

	// Constant-mode turbo:
	TurboMult  float64 `yaml:"turbo_mult,omitempty"`
	TurboDelay float64 `yaml:"turbo_delay_sec,omitempty"`

	HoldTimeoutMS int `yaml:"hold_timeout_ms"`
}

type DeviceConfig struct {
	Kind string    `yaml:"kind"` // "mpv", "remote" or "null"
	MPV  MPVConfig `yaml:"mpv"`
}

type MPVConfig struct {
	SocketPath string `yaml:"socket_path"`
	TimeoutMS  int    `yaml:"timeout_ms"`
}

type InputConfig struct {
	// Devices are Linux evdev nodes (IR remotes, media keys, rotary encoders).
	Devices []string         `yaml:"devices"`
	Rotary  RotaryFileConfig `yaml:"rotary"`
	MIDI    MIDIConfig       `yaml:"midi"`
	Panel   PanelConfig      `yaml:"panel"`
}

type RotaryFileConfig struct {
	VelocityWindowMS   int `yaml:"velocity_window_ms"`
	VelocityThreshold  int `yaml:"velocity_threshold"`
	VelocityMultiplier int `yaml:"velocity_multiplier"`
}

type MIDIConfig struct {
	Enabled bool `yaml:"enabled"`

	// Preferred ports are picked first (case-insensitive substring match).
	Preferred []string `yaml:"preferred"`
	// Excluded ports are never connected.
	Excluded []string `yaml:"excluded"`

	// Control change numbers; -1 disables.
	KnobCC   int `yaml:"knob_cc"`
	VolumeCC int `yaml:"volume_cc"`

	Notes MIDINoteMap `yaml:"notes"`
}

// MIDINoteMap assigns note numbers to buttons; -1 disables a button.
type MIDINoteMap struct {
	PlayPause int `yaml:"play_pause"`
	Stop      int `yaml:"stop"`
	Previous  int `yaml:"previous"`
	Next      int `yaml:"next"`
	Liked     int `yaml:"liked"`
	Hot       int `yaml:"hot"`
	EQ        int `yaml:"eq"`
	FX        int `yaml:"fx"`
}

type PanelConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port"`
	Baud    int    `yaml:"baud"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type HTTPConfig struct {
	// Addr is the listen address; empty disables the HTTP server.
	Addr string `yaml:"addr"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`

	// File enables a rotated log file in addition to stdout.
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
	Compress   bool   `yaml:"compress,omitempty"`
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	return Config{
		Catalog: CatalogConfig{
			Source: "itunes",
			ITunes: ITunesConfig{
				BaseURL:   defaultITunesBaseURL,
				Term:      defaultCatalogTerm,
				Limit:     defaultCatalogLimit,
				TimeoutMS: defaultCatalogTimeoutMS,
			},
			PreviewDurationSec: defaultPreviewDurationSec,
		},
		Selector: SelectorConfig{
			Steps:            defaultSelectorSteps,
			AutoplayOnSelect: true,
		},
		Session: SessionConfig{
			DefaultVolume: defaultVolume,
			FXActive:      true,
			UpdateHz:      defaultUpdateHz,
		},
		Velocity: VelocityFileConfig{
			Mode:          string(VelocityModeAccelerating),
			MaxPctPerSec:  defaultVelMaxPctPerS,
			AccelTimeSec:  defaultAccelTime,
			DecayTauSec:   defaultDecayTau,
			TurboMult:     1.0,
			HoldTimeoutMS: defaultHoldTimeoutMS,
		},
		Device: DeviceConfig{
			Kind: "mpv",
			MPV: MPVConfig{
				SocketPath: "/tmp/hifideck-mpv.sock",
				TimeoutMS:  defaultMPVTimeoutMS,
			},
		},
		Input: InputConfig{
			Rotary: RotaryFileConfig{
				VelocityWindowMS:   defaultRotaryVelocityWindowMS,
				VelocityThreshold:  defaultRotaryVelocityThreshold,
				VelocityMultiplier: defaultRotaryVelocityMultiplier,
			},
			MIDI: MIDIConfig{
				Excluded: []string{"Midi Through", "Through Port", "Dummy"},
				KnobCC:   1,
				VolumeCC: 7,
				Notes: MIDINoteMap{
					PlayPause: 60,
					Stop:      61,
					Previous:  62,
					Next:      64,
					Liked:     65,
					Hot:       67,
					EQ:        69,
					FX:        71,
				},
			},
			Panel: PanelConfig{
				Baud: defaultPanelBaud,
			},
		},
		IPC: IPCConfig{
			SocketPath: "/tmp/hifideck.sock",
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// LoadConfigFile reads and parses a YAML config file over DefaultConfig.
// Unknown fields are rejected (helps catch typos).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// ============================================================================
// Environment overlay
// ============================================================================

// envPrefix scopes the environment variables the daemon reads.
const envPrefix = "HIFIDECK_"

// LoadEnv collects HIFIDECK_* settings from an optional .env file, with the
// process environment taking precedence. A missing file is not an error.
func LoadEnv(envFile string) (map[string]string, error) {
	vals := map[string]string{}

	if envFile != "" {
		fileVals, err := godotenv.Read(ExpandPath(envFile))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read env file: %w", err)
		}
		for k, v := range fileVals {
			if strings.HasPrefix(k, envPrefix) {
				vals[k] = v
			}
		}
	}

	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok && strings.HasPrefix(k, envPrefix) {
			vals[k] = v
		}
	}
	return vals, nil
}

// ApplyEnv merges HIFIDECK_* values into cfg. Unknown keys are ignored.
func ApplyEnv(cfg *Config, env map[string]string) error {
	if cfg == nil {
		return nil
	}

	str := func(key string, dst *string) {
		if v, ok := env[envPrefix+key]; ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := env[envPrefix+key]
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = n
		return nil
	}

	str("CATALOG_SOURCE", &cfg.Catalog.Source)
	str("CATALOG_TERM", &cfg.Catalog.ITunes.Term)
	str("CATALOG_FILE", &cfg.Catalog.File.Path)
	str("DEVICE", &cfg.Device.Kind)
	str("MPV_SOCKET", &cfg.Device.MPV.SocketPath)
	str("IPC_SOCKET", &cfg.IPC.SocketPath)
	str("HTTP_ADDR", &cfg.HTTP.Addr)
	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FILE", &cfg.Logging.File)
	str("PANEL_PORT", &cfg.Input.Panel.Port)

	if v, ok := env[envPrefix+"INPUT_DEVICES"]; ok {
		cfg.Input.Devices = splitList(v)
	}

	for key, dst := range map[string]*int{
		"CATALOG_LIMIT":  &cfg.Catalog.ITunes.Limit,
		"SELECTOR_STEPS": &cfg.Selector.Steps,
		"DEFAULT_VOLUME": &cfg.Session.DefaultVolume,
		"UPDATE_HZ":      &cfg.Session.UpdateHz,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ============================================================================
// Flag overrides
// ============================================================================

// FlagOverrides holds flag values that override the config. A nil pointer
// means "not set on the command line"; main.go decides which flags exist.
type FlagOverrides struct {
	CatalogSource *string
	CatalogTerm   *string
	CatalogFile   *string

	SelectorSteps *int
	Autoplay      *bool
	DefaultVolume *int
	UpdateHz      *int

	VelMode          *string
	VelMaxPctPerSec  *float64
	VelHoldTimeoutMS *int

	DeviceKind *string
	MPVSocket  *string

	InputDevices *string // comma-separated
	PanelPort    *string

	IPCSocketPath *string
	HTTPAddr      *string

	LogLevel *string
	LogFile  *string
}

// Apply merges the overrides into cfg. If an override pointer is nil, it is ignored.
// If the pointer is non-nil, the value is applied (even if it is a “zero value”).
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}

	if o.CatalogSource != nil {
		cfg.Catalog.Source = *o.CatalogSource
	}
	if o.CatalogTerm != nil {
		cfg.Catalog.ITunes.Term = *o.CatalogTerm
	}
	if o.CatalogFile != nil {
		cfg.Catalog.File.Path = *o.CatalogFile
	}

	if o.SelectorSteps != nil {
		cfg.Selector.Steps = *o.SelectorSteps
	}
	if o.Autoplay != nil {
		cfg.Selector.AutoplayOnSelect = *o.Autoplay
	}
	if o.DefaultVolume != nil {
		cfg.Session.DefaultVolume = *o.DefaultVolume
	}
	if o.UpdateHz != nil {
		cfg.Session.UpdateHz = *o.UpdateHz
	}

	if o.VelMode != nil {
		cfg.Velocity.Mode = *o.VelMode
	}
	if o.VelMaxPctPerSec != nil {
		cfg.Velocity.MaxPctPerSec = *o.VelMaxPctPerSec
	}
	if o.VelHoldTimeoutMS != nil {
		cfg.Velocity.HoldTimeoutMS = *o.VelHoldTimeoutMS
	}

	if o.DeviceKind != nil {
		cfg.Device.Kind = *o.DeviceKind
	}
	if o.MPVSocket != nil {
		cfg.Device.MPV.SocketPath = *o.MPVSocket
	}

	if o.InputDevices != nil {
		cfg.Input.Devices = splitList(*o.InputDevices)
	}
	if o.PanelPort != nil {
		cfg.Input.Panel.Port = *o.PanelPort
		cfg.Input.Panel.Enabled = *o.PanelPort != ""
	}

	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.HTTPAddr != nil {
		cfg.HTTP.Addr = *o.HTTPAddr
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.LogFile != nil {
		cfg.Logging.File = *o.LogFile
	}
}

// ============================================================================
// Validation and conversion
// ============================================================================

// Validate checks config invariants and returns a user-friendly error.
// This is intended to be called after defaults + file + env + overrides are applied.
func (c *Config) Validate() error {
	// Catalog
	switch c.Catalog.Source {
	case "itunes":
		if c.Catalog.ITunes.BaseURL == "" {
			return errors.New("catalog.itunes.base_url must not be empty")
		}
		if strings.TrimSpace(c.Catalog.ITunes.Term) == "" {
			return errors.New("catalog.itunes.term must not be empty")
		}
		if c.Catalog.ITunes.Limit < 1 || c.Catalog.ITunes.Limit > 200 {
			return errors.New("catalog.itunes.limit must be between 1 and 200")
		}
		if c.Catalog.ITunes.TimeoutMS <= 0 {
			return errors.New("catalog.itunes.timeout_ms must be > 0")
		}
	case "file":
		if c.Catalog.File.Path == "" {
			return errors.New("catalog.file.path must not be empty when catalog.source is \"file\"")
		}
	default:
		return fmt.Errorf("catalog.source must be %q or %q", "itunes", "file")
	}
	if c.Catalog.PreviewDurationSec <= 0 {
		return errors.New("catalog.preview_duration_sec must be > 0")
	}

	// Selector and session
	if c.Selector.Steps < 1 || c.Selector.Steps > 1000 {
		return errors.New("selector.steps must be between 1 and 1000")
	}
	if c.Session.DefaultVolume < 0 || c.Session.DefaultVolume > 100 {
		return errors.New("session.default_volume must be between 0 and 100")
	}
	if c.Session.UpdateHz <= 0 || c.Session.UpdateHz > 1000 {
		return errors.New("session.update_hz must be between 1 and 1000")
	}

	// Velocity
	mode := c.Velocity.Mode
	if mode == "" {
		mode = string(VelocityModeAccelerating)
	}
	if mode != string(VelocityModeAccelerating) && mode != string(VelocityModeConstant) {
		return fmt.Errorf("velocity.mode must be %q or %q", VelocityModeAccelerating, VelocityModeConstant)
	}
	if c.Velocity.MaxPctPerSec < 0 {
		return errors.New("velocity.max_pct_per_sec must be >= 0")
	}
	if c.Velocity.TurboMult < 0 || c.Velocity.TurboDelay < 0 {
		return errors.New("velocity.turbo_mult and velocity.turbo_delay_sec must be >= 0")
	}
	if c.Velocity.HoldTimeoutMS < 0 {
		return errors.New("velocity.hold_timeout_ms must be >= 0")
	}

	// Device
	switch c.Device.Kind {
	case "mpv":
		if c.Device.MPV.SocketPath == "" {
			return errors.New("device.mpv.socket_path must not be empty")
		}
		if c.Device.MPV.TimeoutMS <= 0 {
			return errors.New("device.mpv.timeout_ms must be > 0")
		}
	case "remote":
		if c.HTTP.Addr == "" {
			return errors.New("device.kind \"remote\" requires http.addr")
		}
	case "null":
	default:
		return fmt.Errorf("device.kind must be one of: mpv, remote, null")
	}

	// Inputs
	for i, dev := range c.Input.Devices {
		if dev == "" {
			return fmt.Errorf("input.devices[%d] is empty", i)
		}
	}
	r := c.Input.Rotary
	if r.VelocityWindowMS < 0 || r.VelocityThreshold < 0 || r.VelocityMultiplier < 0 {
		return errors.New("input.rotary values must be >= 0")
	}
	if c.Input.MIDI.Enabled {
		m := c.Input.MIDI
		for name, v := range map[string]int{
			"knob_cc": m.KnobCC, "volume_cc": m.VolumeCC,
			"notes.play_pause": m.Notes.PlayPause, "notes.stop": m.Notes.Stop,
			"notes.previous": m.Notes.Previous, "notes.next": m.Notes.Next,
			"notes.liked": m.Notes.Liked, "notes.hot": m.Notes.Hot,
			"notes.eq": m.Notes.EQ, "notes.fx": m.Notes.FX,
		} {
			if v < -1 || v > 127 {
				return fmt.Errorf("input.midi.%s must be between -1 and 127", name)
			}
		}
	}
	if c.Input.Panel.Enabled {
		if c.Input.Panel.Port == "" {
			return errors.New("input.panel.port must not be empty when the panel is enabled")
		}
		if c.Input.Panel.Baud <= 0 {
			return errors.New("input.panel.baud must be > 0")
		}
	}

	// IPC
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	// Logging
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxBackups < 0 || c.Logging.MaxAgeDays < 0 {
		return errors.New("logging rotation values must be >= 0")
	}

	return nil
}

// ToVelocityConfig converts the file config into the hold controller config.
func (c *Config) ToVelocityConfig() VelocityConfig {
	cfg := VelocityConfig{
		Mode:        VelocityMode(c.Velocity.Mode),
		MaxPerS:     c.Velocity.MaxPctPerSec,
		HoldTimeout: time.Duration(c.Velocity.HoldTimeoutMS) * time.Millisecond,
	}

	switch cfg.Mode {
	case VelocityModeConstant:
		cfg.AccelTime = c.Velocity.TurboMult // turbo multiplier
		cfg.DecayTau = c.Velocity.TurboDelay // turbo delay (seconds)
	default:
		cfg.Mode = VelocityModeAccelerating
		cfg.AccelTime = c.Velocity.AccelTimeSec
		cfg.DecayTau = c.Velocity.DecayTauSec
	}

	return cfg
}

// ToReducerConfig builds the reducer policy.
func (c *Config) ToReducerConfig() ReducerConfig {
	return ReducerConfig{
		SelectorSteps:    c.Selector.Steps,
		AutoplayOnSelect: c.Selector.AutoplayOnSelect,
		DefaultVolume:    c.Session.DefaultVolume,
		DefaultFX:        c.Session.FXActive,
		Velocity:         c.ToVelocityConfig(),
		Rotary: RotaryConfig{
			VelocityWindowMS:   c.Input.Rotary.VelocityWindowMS,
			VelocityThreshold:  c.Input.Rotary.VelocityThreshold,
			VelocityMultiplier: c.Input.Rotary.VelocityMultiplier,
		},
	}
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
