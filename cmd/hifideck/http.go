package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// ============================================================================
// HTTP Server
// ============================================================================
// Serves the state websocket and a small JSON API:
//
//   GET  /ws          state websocket (state_init + deltas, inbound actions)
//   GET  /api/state   current StateSnapshot
//   POST /api/events  one {type,data} event envelope
//   GET  /healthz     liveness
// ============================================================================

// maxEventBody bounds POST /api/events payloads.
const maxEventBody = 8 * 1024

type apiResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// newRouter builds the HTTP routes. ws may be nil (no websocket endpoint).
func newRouter(ws *Server, events chan<- Event, logger *slog.Logger) *mux.Router {
	r := mux.NewRouter()

	if ws != nil {
		ws.Register(r, "/ws")
	}

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, apiResponse{Status: "ok"})
	}).Methods(http.MethodGet)

	r.HandleFunc("/api/state", func(w http.ResponseWriter, req *http.Request) {
		snap, err := requestSnapshot(req.Context(), events, time.Second)
		if err != nil {
			logger.Warn("api state request failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, apiResponse{Status: "error", Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}).Methods(http.MethodGet)

	r.HandleFunc("/api/events", func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(io.LimitReader(req.Body, maxEventBody+1))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, apiResponse{Status: "error", Error: err.Error()})
			return
		}
		if len(body) > maxEventBody {
			writeJSON(w, http.StatusRequestEntityTooLarge, apiResponse{Status: "error", Error: "event too large"})
			return
		}

		ev, err := UnmarshalEvent(body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, apiResponse{Status: "error", Error: fmt.Sprintf("parse event: %v", err)})
			return
		}

		select {
		case events <- ev:
			writeJSON(w, http.StatusAccepted, apiResponse{Status: "ok"})
		default:
			writeJSON(w, http.StatusServiceUnavailable, apiResponse{Status: "error", Error: "event queue full"})
		}
	}).Methods(http.MethodPost)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// runHTTPServer serves handler on addr and shuts it down gracefully when ctx
// is canceled.
func runHTTPServer(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("http server listening", "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on Shutdown; treat that as clean exit.
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}
		<-errCh
		return nil

	case err := <-errCh:
		return err
	}
}
