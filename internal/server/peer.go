package server

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/muratcansimsek/csgo-quake-sounds/internal/events"
	"github.com/muratcansimsek/csgo-quake-sounds/internal/protocol"
	"github.com/muratcansimsek/csgo-quake-sounds/internal/soundstore"
)

// roomChangeInterval rate-limits how often a peer may switch rooms.
const roomChangeInterval = time.Second

// Peer is one accepted client connection and its session state. The
// send path is serialized by sendMu so concurrent room broadcasts never
// interleave partial frames on the socket.
type Peer struct {
	id   uuid.UUID
	conn net.Conn
	srv  *Server

	sendMu sync.Mutex

	mu             sync.Mutex
	steamID        int64
	room           *Room
	round          int32
	inMatch        bool
	lastRoomChange time.Time
}

func newPeer(srv *Server, conn net.Conn) *Peer {
	return &Peer{
		id:   uuid.New(),
		conn: conn,
		srv:  srv,
	}
}

// SteamID returns the peer's last declared player id.
func (p *Peer) SteamID() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.steamID
}

// Room returns the peer's current room, or nil.
func (p *Peer) Room() *Room {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.room
}

// run processes frames until the connection dies or misbehaves. Frames
// are handled strictly in arrival order; every error is local to this
// peer.
func (p *Peer) run() {
	log.Info().
		Str("peer_id", p.id.String()).
		Str("addr", p.conn.RemoteAddr().String()).
		Msg("peer connected")

	defer func() {
		p.conn.Close()
		p.mu.Lock()
		room := p.room
		p.room = nil
		p.mu.Unlock()
		if room != nil {
			p.srv.registry.Leave(p, room)
			room.broadcastSounds()
		}
		log.Info().Str("peer_id", p.id.String()).Msg("peer disconnected")
	}()

	for {
		if err := p.conn.SetReadDeadline(time.Now().Add(p.srv.cfg.ClientTimeout)); err != nil {
			return
		}
		msg, err := protocol.ReadFrame(p.conn)
		if err != nil {
			if errors.Is(err, protocol.ErrFrameTooLarge) || errors.Is(err, protocol.ErrUnknownTag) ||
				errors.Is(err, protocol.ErrTruncated) || errors.Is(err, protocol.ErrEmptyFrame) {
				log.Warn().Err(err).Str("peer_id", p.id.String()).Msg("protocol violation, dropping peer")
			}
			return
		}
		if err := p.handle(msg); err != nil {
			log.Warn().Err(err).Str("peer_id", p.id.String()).Msg("dropping peer")
			return
		}
	}
}

// send serializes one message onto the connection. Failures are logged
// and left for the peer's own read loop to notice; a broken socket
// fails its next read.
func (p *Peer) send(msg protocol.Message) {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	p.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := protocol.WriteFrame(p.conn, msg); err != nil {
		log.Debug().Err(err).Str("peer_id", p.id.String()).Msg("send failed")
	}
}

func (p *Peer) handle(msg protocol.Message) error {
	switch v := msg.(type) {
	case *protocol.ClientUpdate:
		p.handleUpdate(v)
	case *protocol.GameEventMsg:
		p.handleEvent(v)
	case *protocol.SoundRequest:
		p.handleSoundRequest(v)
	case *protocol.SoundData:
		p.handleSoundData(v)
	default:
		// Server-to-client messages coming from a client are a
		// protocol violation.
		return fmt.Errorf("unexpected %T from client", msg)
	}
	return nil
}

// handleUpdate refreshes identity and liveness and reconciles room
// membership. Room switches are rate-limited to one per second so a
// misbehaving client cannot thrash the registry.
func (p *Peer) handleUpdate(u *protocol.ClientUpdate) {
	p.mu.Lock()
	p.steamID = u.SteamID
	p.inMatch = u.SteamID != 0
	current := p.room
	currentName := ""
	if current != nil {
		currentName = current.name
	}
	switching := u.Room != currentName
	if switching && !p.lastRoomChange.IsZero() &&
		p.srv.clock.Since(p.lastRoomChange) < roomChangeInterval {
		log.Debug().
			Str("peer_id", p.id.String()).
			Str("room", u.Room).
			Msg("room change rate limited")
		switching = false
	}
	if switching {
		p.lastRoomChange = p.srv.clock.Now()
	}
	p.mu.Unlock()

	if switching {
		if current != nil {
			p.srv.registry.Leave(p, current)
			current.broadcastSounds()
			current = nil
		}
		if u.Room != "" {
			current = p.srv.registry.Join(p, u.Room)
			log.Info().
				Str("peer_id", p.id.String()).
				Int64("steam_id", u.SteamID).
				Str("room", u.Room).
				Msg("peer joined room")
		}
		p.mu.Lock()
		p.room = current
		p.mu.Unlock()
	}

	if current == nil {
		return
	}

	// Reconcile the declared sounds whether or not the room changed;
	// the owned set may have grown since the last update.
	request, changed := current.declare(u.Sounds, p.srv.store.Contains)
	if switching || changed {
		current.broadcastSounds()
	}
	for _, h := range request {
		p.send(&protocol.SoundRequest{Hash: h})
	}
	if len(request) > 0 {
		log.Info().
			Str("peer_id", p.id.String()).
			Int("requested", len(request)).
			Int("declared", len(u.Sounds)).
			Msg("requesting sounds from peer")
	}
}

// handleEvent classifies a game event and relays the matching sound to
// the peer's room. Events from roomless peers go nowhere.
func (p *Peer) handleEvent(g *protocol.GameEventMsg) {
	if !g.Event.Valid() {
		log.Warn().Int32("event", int32(g.Event)).Str("peer_id", p.id.String()).Msg("unknown game event")
		return
	}

	p.mu.Lock()
	p.round = g.Round
	room := p.room
	p.mu.Unlock()

	if room == nil {
		return
	}

	// Make sure the proposed sound ends up in the cache; ask the
	// proposer, who by definition has it.
	if !g.ProposedSound.IsZero() && !p.srv.store.Contains(g.ProposedSound) {
		p.send(&protocol.SoundRequest{Hash: g.ProposedSound})
	}

	switch events.Classify(g.Event, g.KillCount) {
	case events.Shared:
		room.PlayShared(g.Event, g.ProposedSound, g.Round)
	case events.Rare:
		room.Play(nil, g.ProposedSound)
	default:
		room.Play(p, g.ProposedSound)
	}
}

// handleSoundRequest serves a sound from the cache.
func (p *Peer) handleSoundRequest(req *protocol.SoundRequest) {
	data, err := p.srv.store.Get(req.Hash)
	if err != nil {
		if !errors.Is(err, soundstore.ErrNotFound) {
			log.Error().Err(err).Str("hash", req.Hash.Short()).Msg("reading sound for peer")
		}
		return
	}

	log.Debug().
		Str("peer_id", p.id.String()).
		Str("hash", req.Hash.Short()).
		Int("bytes", len(data)).
		Msg("serving sound")
	p.send(&protocol.SoundData{Hash: req.Hash, Data: data})
}

// handleSoundData verifies and caches an uploaded sound, then promotes
// it in the peer's room. Integrity failures are discarded, not fatal.
func (p *Peer) handleSoundData(sd *protocol.SoundData) {
	added, err := p.srv.store.Put(sd.Hash, sd.Data)
	if err != nil {
		// Already logged by the store; nothing to retry.
		return
	}
	if !added {
		return
	}

	if room := p.Room(); room != nil && room.promote(sd.Hash) {
		room.broadcastSounds()
	}
}
