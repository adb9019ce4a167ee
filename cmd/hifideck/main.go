package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("hifideck v%s\n", version)
	fmt.Println("Rotary-selector music deck daemon")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  hifideck [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Loads a track catalog, maps a 270° notched selector knob onto it and")
	fmt.Println("  drives a playback device (mpv, a browser, or nothing). Controls arrive")
	fmt.Println("  from the IPC socket, the state websocket, evdev keys and encoders, a MIDI")
	fmt.Println("  controller or a serial front panel.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        YAML configuration file (optional)")
	fmt.Println()
	fmt.Println("  -env-file string")
	fmt.Println("        .env file with HIFIDECK_* variables (default \".env\", missing file is ignored)")
	fmt.Println()
	fmt.Println("  -catalog-source string")
	fmt.Println("        Catalog source: itunes|file (default \"itunes\")")
	fmt.Println()
	fmt.Println("  -catalog-term string")
	fmt.Printf("        iTunes search term (default %q)\n", defaultCatalogTerm)
	fmt.Println()
	fmt.Println("  -catalog-file string")
	fmt.Println("        YAML catalog file (catalog-source=file)")
	fmt.Println()
	fmt.Println("  -selector-steps int")
	fmt.Printf("        Number of knob notches (default %d)\n", defaultSelectorSteps)
	fmt.Println()
	fmt.Println("  -autoplay")
	fmt.Println("        Start playback when the knob selects a new track (default true)")
	fmt.Println()
	fmt.Println("  -default-volume int")
	fmt.Printf("        Startup volume in percent (default %d)\n", defaultVolume)
	fmt.Println()
	fmt.Println("  -update-hz int")
	fmt.Printf("        Tick frequency in Hz (default %d)\n", defaultUpdateHz)
	fmt.Println()
	fmt.Println("  -vel-mode string")
	fmt.Println("        Volume hold mode: accelerating|constant (default \"accelerating\")")
	fmt.Println()
	fmt.Println("  -vel-max-pct-per-sec float")
	fmt.Printf("        Volume hold max velocity in %%/s (default %.1f)\n", defaultVelMaxPctPerS)
	fmt.Println()
	fmt.Println("  -vel-hold-timeout-ms int")
	fmt.Printf("        Auto-release a silent hold after this many ms (default %d)\n", defaultHoldTimeoutMS)
	fmt.Println()
	fmt.Println("  -device string")
	fmt.Println("        Playback device: mpv|remote|null (default \"mpv\")")
	fmt.Println()
	fmt.Println("  -mpv-socket string")
	fmt.Println("        mpv JSON IPC socket (default \"/tmp/hifideck-mpv.sock\")")
	fmt.Println("        Note: start mpv with --idle --input-ipc-server=<path>")
	fmt.Println()
	fmt.Println("  -input-devices string")
	fmt.Println("        Comma-separated evdev nodes (IR remote, media keys, rotary encoder)")
	fmt.Println()
	fmt.Println("  -panel-port string")
	fmt.Println("        Serial port of the front panel (enables the panel)")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Println("        Unix domain socket path for IPC (default \"/tmp/hifideck.sock\")")
	fmt.Println()
	fmt.Println("  -http-addr string")
	fmt.Println("        HTTP listen address for /ws and /api (default \":8080\", empty disables)")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -log-file string")
	fmt.Println("        Also write logs to this rotated file")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Browse iTunes previews through mpv")
	fmt.Println("  mpv --idle --input-ipc-server=/tmp/hifideck-mpv.sock &")
	fmt.Println("  hifideck")
	fmt.Println()
	fmt.Println("  # Local catalog, audio in the browser")
	fmt.Println("  hifideck -catalog-source file -catalog-file ~/music/deck.yaml -device remote")
	fmt.Println()
	fmt.Println("  # IR remote and encoder")
	fmt.Println("  hifideck -input-devices /dev/input/event6,/dev/input/event7")
	fmt.Println()
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var (
		configPath = flag.String("config", "", "YAML configuration file")
		envFile    = flag.String("env-file", ".env", ".env file with HIFIDECK_* variables")

		catalogSource = flag.String("catalog-source", "", "Catalog source: itunes|file")
		catalogTerm   = flag.String("catalog-term", "", "iTunes search term")
		catalogFile   = flag.String("catalog-file", "", "YAML catalog file")

		selectorSteps = flag.Int("selector-steps", 0, "Number of knob notches")
		autoplay      = flag.Bool("autoplay", true, "Start playback when the knob selects a new track")
		defaultVol    = flag.Int("default-volume", 0, "Startup volume in percent")
		updateHz      = flag.Int("update-hz", 0, "Tick frequency in Hz")

		velMode          = flag.String("vel-mode", "", "Volume hold mode: accelerating|constant")
		velMaxPctPerSec  = flag.Float64("vel-max-pct-per-sec", 0, "Volume hold max velocity in %/s")
		velHoldTimeoutMS = flag.Int("vel-hold-timeout-ms", 0, "Auto-release a silent hold after this many ms")

		deviceKind   = flag.String("device", "", "Playback device: mpv|remote|null")
		mpvSocket    = flag.String("mpv-socket", "", "mpv JSON IPC socket")
		inputDevices = flag.String("input-devices", "", "Comma-separated evdev nodes")
		panelPort    = flag.String("panel-port", "", "Serial port of the front panel")

		ipcSocketPath = flag.String("ipc-socket", "", "Unix domain socket path for IPC")
		httpAddr      = flag.String("http-addr", "", "HTTP listen address")
		logLevelStr   = flag.String("log-level", "", "Log level: error, warn, info, debug")
		logFile       = flag.String("log-file", "", "Also write logs to this rotated file")

		showVersion = flag.Bool("version", false, "Print version and exit")
		showHelp    = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	// Only flags given on the command line override the config.
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	var ov FlagOverrides
	for name, apply := range map[string]func(){
		"catalog-source":      func() { ov.CatalogSource = catalogSource },
		"catalog-term":        func() { ov.CatalogTerm = catalogTerm },
		"catalog-file":        func() { ov.CatalogFile = catalogFile },
		"selector-steps":      func() { ov.SelectorSteps = selectorSteps },
		"autoplay":            func() { ov.Autoplay = autoplay },
		"default-volume":      func() { ov.DefaultVolume = defaultVol },
		"update-hz":           func() { ov.UpdateHz = updateHz },
		"vel-mode":            func() { ov.VelMode = velMode },
		"vel-max-pct-per-sec": func() { ov.VelMaxPctPerSec = velMaxPctPerSec },
		"vel-hold-timeout-ms": func() { ov.VelHoldTimeoutMS = velHoldTimeoutMS },
		"device":              func() { ov.DeviceKind = deviceKind },
		"mpv-socket":          func() { ov.MPVSocket = mpvSocket },
		"input-devices":       func() { ov.InputDevices = inputDevices },
		"panel-port":          func() { ov.PanelPort = panelPort },
		"ipc-socket":          func() { ov.IPCSocketPath = ipcSocketPath },
		"http-addr":           func() { ov.HTTPAddr = httpAddr },
		"log-level":           func() { ov.LogLevel = logLevelStr },
		"log-file":            func() { ov.LogFile = logFile },
	} {
		if set[name] {
			apply()
		}
	}

	cfg, err := loadConfig(*configPath, *envFile, ov)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logLevel, _ := parseLogLevel(cfg.Logging.Level) // validated
	logger, logCloser := setupLogger(logLevel, cfg.Logging)
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runDeck(ctx, cfg, logger); err != nil {
		logger.Error("hifideck stopped", "error", err)
		logCloser.Close()
		os.Exit(1)
	}
	logger.Info("shutting down")
}

// loadConfig layers defaults, the config file, the environment and flags,
// then validates the result.
func loadConfig(path, envFile string, ov FlagOverrides) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadConfigFile(path); err != nil {
			return Config{}, err
		}
	}

	env, err := LoadEnv(envFile)
	if err != nil {
		return Config{}, err
	}
	if err := ApplyEnv(&cfg, env); err != nil {
		return Config{}, err
	}

	ov.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// runDeck wires every component and blocks until ctx is canceled or a
// component fails.
func runDeck(ctx context.Context, cfg Config, logger *slog.Logger) error {
	logger = logger.With("session_id", uuid.NewString())
	rcfg := cfg.ToReducerConfig()

	// Central event bus.
	events := make(chan Event, 256)

	g, gctx := errgroup.WithContext(ctx)

	ws := NewServer(logger, events, ServerConfig{})

	device, err := openDevice(cfg.Device, ws.Hub(), events, logger)
	if err != nil {
		return err
	}
	defer device.Close()

	source, err := openCatalogSource(cfg.Catalog, logger)
	if err != nil {
		return err
	}

	wsBroadcasts := make(chan StateBroadcast, 256)
	subscribers := []chan<- StateBroadcast{wsBroadcasts}

	if cfg.Input.Panel.Enabled {
		panel, err := OpenPanel(cfg.Input.Panel.Port, cfg.Input.Panel.Baud, events, logger)
		if err != nil {
			return err
		}
		panelBroadcasts := make(chan StateBroadcast, 64)
		subscribers = append(subscribers, panelBroadcasts)
		g.Go(func() error { return panel.Run(gctx, panelBroadcasts) })
	}

	fx := newEffects(gctx, device, source, events, logger)

	g.Go(func() error {
		runDaemon(gctx, events, fx, rcfg, NewDaemonState(rcfg), cfg.Session.UpdateHz, subscribers, logger)
		return nil
	})
	g.Go(func() error {
		ws.Hub().Run(gctx)
		return nil
	})
	g.Go(func() error {
		RunBroadcaster(gctx, ws.Hub(), wsBroadcasts, logger)
		return nil
	})
	g.Go(func() error {
		return runIPCServer(gctx, ExpandPath(cfg.IPC.SocketPath), events, logger)
	})

	if cfg.HTTP.Addr != "" {
		g.Go(func() error {
			return runHTTPServer(gctx, cfg.HTTP.Addr, newRouter(ws, events, logger), logger)
		})
	}

	if len(cfg.Input.Devices) > 0 {
		g.Go(func() error {
			return runInputDevices(gctx, cfg.Input.Devices, events, logger)
		})
	}

	if cfg.Input.MIDI.Enabled {
		// A missing MIDI stack is not fatal; the deck has other controls.
		if w, err := NewMIDIWatcher(cfg.Input.MIDI, events, logger); err != nil {
			logger.Error("midi disabled", "error", err)
		} else {
			g.Go(func() error { return w.Run(gctx) })
		}
	}

	if cfg.Catalog.Source == "file" && cfg.Catalog.File.Watch {
		g.Go(func() error {
			return WatchCatalogFile(gctx, cfg.Catalog.File.Path, events, logger)
		})
	}

	logger.Info("hifideck started",
		"version", version,
		"catalog", source.Name(),
		"device", cfg.Device.Kind,
		"selector_steps", rcfg.SelectorSteps,
		"ipc", cfg.IPC.SocketPath,
		"http", cfg.HTTP.Addr,
		"update_rate_hz", cfg.Session.UpdateHz)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openDevice(cfg DeviceConfig, hub *Hub, events chan<- Event, logger *slog.Logger) (PlaybackDevice, error) {
	switch cfg.Kind {
	case "mpv":
		d, err := NewMPVDevice(ExpandPath(cfg.MPV.SocketPath), cfg.MPV.TimeoutMS, events, logger)
		if err != nil {
			return nil, fmt.Errorf("mpv device: %w", err)
		}
		return d, nil
	case "remote":
		return NewRemoteDevice(hub), nil
	case "null":
		return nullDevice{}, nil
	}
	return nil, fmt.Errorf("%w: unknown device kind %q", ErrNoDevice, cfg.Kind)
}

func openCatalogSource(cfg CatalogConfig, logger *slog.Logger) (CatalogSource, error) {
	switch cfg.Source {
	case "itunes":
		return NewITunesSource(cfg.ITunes, cfg.PreviewDurationSec, logger), nil
	case "file":
		return NewFileSource(cfg.File.Path, cfg.PreviewDurationSec), nil
	}
	return nil, fmt.Errorf("unknown catalog source %q", cfg.Source)
}
