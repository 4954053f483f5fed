package gamestate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// Listener serves the local HTTP endpoint the game posts telemetry to.
// It binds loopback only; nothing remote ever talks to it.
type Listener struct {
	addr    string
	tracker *Tracker

	once sync.Once // first-POST confirmation log
}

// NewListener wires a listener to a tracker. addr is typically
// "127.0.0.1:3000" to match the gamestate integration cfg shipped with
// the sounds.
func NewListener(addr string, tracker *Tracker) *Listener {
	return &Listener{addr: addr, tracker: tracker}
}

// Run serves until the context is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	r := chi.NewRouter()
	r.Post("/", l.handlePost)

	srv := &http.Server{
		Addr:              l.addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Info().Str("addr", l.addr).Msg("gamestate listener started")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// handlePost ingests one telemetry snapshot. The game posts several
// times a second, so nothing here logs per request.
func (l *Listener) handlePost(w http.ResponseWriter, r *http.Request) {
	var snap Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		http.Error(w, "bad snapshot", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)

	l.once.Do(func() {
		log.Info().Msg("gamestate integration is working")
	})
	l.tracker.Update(&snap)
}
