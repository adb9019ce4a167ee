package main

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// effects executes reducer-emitted Commands against the playback device and
// the catalog source.
//
// Synchronous observations are reported through onEvent and reduced by the
// daemon loop right away. Catalog loads run in their own goroutine and post
// their result to the events channel; the reducer drops results whose
// generation is stale.
type effects struct {
	ctx     context.Context
	device  PlaybackDevice
	catalog CatalogSource
	events  chan<- Event
	logger  *slog.Logger
}

func newEffects(ctx context.Context, device PlaybackDevice, catalog CatalogSource, events chan<- Event, logger *slog.Logger) *effects {
	if device == nil {
		device = nullDevice{}
	}
	return &effects{
		ctx:     ctx,
		device:  device,
		catalog: catalog,
		events:  events,
		logger:  logger,
	}
}

// run executes a single command. It must never call Reduce() directly.
func (fx *effects) run(cmd Command, onEvent func(Event)) {
	if onEvent == nil {
		return
	}

	switch c := cmd.(type) {
	case CmdLoadCatalog:
		if fx.catalog == nil {
			onEvent(CatalogLoadFailed{Generation: c.Generation, Err: errNoCatalog})
			return
		}
		fx.loadCatalog(c.Generation)

	case CmdSetSource:
		if err := fx.device.SetSource(c.URL); err != nil {
			fx.logger.Error("device SetSource failed", "error", err, "url", c.URL)
			onEvent(DeviceCommandFailed{Command: cmd, Err: err})
		}

	case CmdPlay:
		if err := fx.device.Play(); err != nil {
			if errors.Is(err, ErrPlaybackRejected) {
				fx.logger.Warn("playback rejected", "source", c.Source, "error", err)
				onEvent(DevicePlayRejected{Source: c.Source, Reason: err.Error()})
				return
			}
			fx.logger.Error("device Play failed", "error", err, "source", c.Source)
			onEvent(DeviceCommandFailed{Command: cmd, Err: err})
		}

	case CmdPause:
		if err := fx.device.Pause(); err != nil {
			fx.logger.Error("device Pause failed", "error", err)
			onEvent(DeviceCommandFailed{Command: cmd, Err: err})
		}

	case CmdStop:
		if err := fx.device.Stop(); err != nil {
			fx.logger.Error("device Stop failed", "error", err)
			onEvent(DeviceCommandFailed{Command: cmd, Err: err})
		}

	case CmdSetVolume:
		if err := fx.device.SetVolume(c.Percent); err != nil {
			fx.logger.Error("device SetVolume failed", "error", err, "percent", c.Percent)
			onEvent(DeviceCommandFailed{Command: cmd, Err: err})
		}

	case CmdPublishStateSnapshot:
		if c.Reply == nil {
			fx.logger.Warn("state snapshot requested with nil reply channel")
			return
		}
		// Never block the daemon loop on a slow requester.
		select {
		case c.Reply <- c.Snapshot:
		default:
			fx.logger.Warn("state snapshot reply channel not ready; dropping snapshot")
		}

	default:
		fx.logger.Warn("unknown command type", "command", cmd.String())
		onEvent(DeviceCommandFailed{Command: cmd, Err: errUnknownCommand{cmd: cmd}})
	}
}

// loadCatalog runs the load off the daemon loop.
func (fx *effects) loadCatalog(gen uint64) {
	src := fx.catalog
	go func() {
		start := time.Now()
		tracks, err := src.Load(fx.ctx)
		if err != nil {
			fx.logger.Error("catalog load failed", "source", src.Name(), "generation", gen, "error", err)
			fx.post(CatalogLoadFailed{Generation: gen, Err: err})
			return
		}
		fx.logger.Info("catalog loaded",
			"source", src.Name(),
			"generation", gen,
			"tracks", len(tracks),
			"elapsed", time.Since(start).Round(time.Millisecond))
		fx.post(CatalogLoaded{Generation: gen, Source: src.Name(), Tracks: tracks})
	}()
}

// post delivers an asynchronous observation. Results must not be lost, so
// this blocks until the daemon accepts the event or the context ends.
func (fx *effects) post(ev Event) {
	if fx.events == nil {
		return
	}
	select {
	case fx.events <- ev:
	case <-fx.ctx.Done():
	}
}

var errNoCatalog = errors.New("no catalog source configured")

type errUnknownCommand struct {
	cmd Command
}

func (e errUnknownCommand) Error() string { return "unknown command: " + e.cmd.String() }
