// Package server is the HTTP surface: race state, controls, soundtrack
// streams and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"github.com/satindergrewal/nyanrace/internal/app"
)

// Engine is the part of the race the HTTP surface drives.
type Engine interface {
	Snapshot() app.Snapshot
	Gesture() error
	ToggleMute() (muted, ok bool)
	SetVisible(visible bool)
}

// Handlers are the streaming and ops endpoints mounted next to the API.
// Nil handlers are not routed.
type Handlers struct {
	View    http.Handler // WebSocket view push
	MP3     http.Handler
	Offer   http.Handler // WebRTC SDP exchange
	Metrics http.Handler
}

// New builds the routed handler, wrapped in CORS.
func New(eng Engine, h Handlers) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /api/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, eng.Snapshot())
	})

	mux.HandleFunc("POST /api/gesture", func(w http.ResponseWriter, r *http.Request) {
		if err := eng.Gesture(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, eng.Snapshot())
	})

	mux.HandleFunc("POST /api/mute", func(w http.ResponseWriter, r *http.Request) {
		muted, ok := eng.ToggleMute()
		if !ok {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "audio not started"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"muted": muted})
	})

	mux.HandleFunc("POST /api/visibility", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Visible *bool `json:"visible"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Visible == nil {
			http.Error(w, `expected {"visible": bool}`, http.StatusBadRequest)
			return
		}
		eng.SetVisible(*req.Visible)
		w.WriteHeader(http.StatusNoContent)
	})

	mount(mux, "/ws", h.View)
	mount(mux, "/stream", h.MP3)
	mount(mux, "/offer", h.Offer)
	mount(mux, "/metrics", h.Metrics)

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(mux)
}

func mount(mux *http.ServeMux, pattern string, h http.Handler) {
	if h != nil {
		mux.Handle(pattern, h)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("write response")
	}
}

// ListenAndServe serves handler on addr until ctx is cancelled, then shuts
// down gracefully.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info().Msg("http server stopped")
	return nil
}
