// Package server implements the sound-sync server: a TCP accept loop,
// a registry of rooms, and per-peer session handling over the framed
// binary protocol.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/muratcansimsek/csgo-quake-sounds/internal/soundstore"
)

// Config holds the server options.
type Config struct {
	Addr string
	// TLSCert/TLSKey enable TLS when both are set. Broken TLS material
	// is fatal at startup; a sound server that silently downgrades
	// would surprise every client configured to expect encryption.
	TLSCert string
	TLSKey  string
	// ClientTimeout is the read deadline per frame; the periodic
	// ClientUpdate keepalive refreshes it.
	ClientTimeout time.Duration
}

// Server accepts client connections and routes their messages through
// the room registry. State is owned here and passed down by reference;
// there are no package-level registries.
type Server struct {
	cfg      Config
	store    *soundstore.Store
	registry *Registry
	clock    clockwork.Clock
}

// New builds a server over the given sound store.
func New(cfg Config, store *soundstore.Store, clock clockwork.Clock) *Server {
	if cfg.ClientTimeout <= 0 {
		cfg.ClientTimeout = 2 * time.Minute
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Server{
		cfg:      cfg,
		store:    store,
		registry: NewRegistry(),
		clock:    clock,
	}
}

// Listen binds the configured address, wrapping it in TLS when
// certificate material is configured.
func (s *Server) Listen() (net.Listener, error) {
	if s.cfg.TLSCert != "" {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLSCert, s.cfg.TLSKey)
		if err != nil {
			return nil, fmt.Errorf("load tls material: %w", err)
		}
		ln, err := tls.Listen("tcp", s.cfg.Addr, &tls.Config{Certificates: []tls.Certificate{cert}})
		if err != nil {
			return nil, fmt.Errorf("bind %s: %w", s.cfg.Addr, err)
		}
		log.Info().Str("addr", s.cfg.Addr).Msg("sound server listening (tls)")
		return ln, nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", s.cfg.Addr, err)
	}
	log.Info().Str("addr", s.cfg.Addr).Msg("sound server listening")
	return ln, nil
}

// Serve accepts connections until the context is cancelled. Each peer
// runs on its own goroutine; a misbehaving peer never affects another.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Warn().Err(err).Msg("accept failed")
			continue
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	newPeer(s, conn).run()
}
