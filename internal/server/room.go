package server

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/muratcansimsek/csgo-quake-sounds/internal/events"
	"github.com/muratcansimsek/csgo-quake-sounds/internal/protocol"
)

// roundEvent keys the shared-event dedup window.
type roundEvent struct {
	round int32
	event events.Type
}

// Room is a named group of peers whose sounds and playback are
// synchronized. All fields behind mu; the lock discipline is that a
// room's lock is never held together with another room's lock, and
// nothing is sent on a peer connection while it is held.
type Room struct {
	name string

	mu        sync.Mutex
	members   map[*Peer]struct{}
	available map[protocol.Hash]struct{} // bytes confirmed on the server or a member
	missing   map[protocol.Hash]struct{} // declared by a member, bytes not yet obtained
	round     int32
	window    map[roundEvent]struct{} // shared events already played this round
}

func newRoom(name string) *Room {
	return &Room{
		name:      name,
		members:   make(map[*Peer]struct{}),
		available: make(map[protocol.Hash]struct{}),
		missing:   make(map[protocol.Hash]struct{}),
		window:    make(map[roundEvent]struct{}),
	}
}

// Name returns the room code.
func (r *Room) Name() string { return r.name }

func (r *Room) join(p *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[p] = struct{}{}
}

// leave removes the peer and reports whether the room is now empty.
func (r *Room) leave(p *Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, p)
	return len(r.members) == 0
}

func (r *Room) memberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// declare reconciles a member's owned hashes into the available/missing
// partition. cached reports whether the server already holds the bytes.
// It returns the hashes that should be requested from the declaring
// peer, and whether the partition changed.
func (r *Room) declare(hashes []protocol.Hash, cached func(protocol.Hash) bool) (request []protocol.Hash, changed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, h := range hashes {
		if h.IsZero() {
			continue
		}
		if _, ok := r.available[h]; ok {
			continue
		}
		if cached(h) {
			if _, ok := r.missing[h]; ok {
				delete(r.missing, h)
			}
			r.available[h] = struct{}{}
			changed = true
			continue
		}
		if _, ok := r.missing[h]; !ok {
			r.missing[h] = struct{}{}
			changed = true
		}
		request = append(request, h)
	}
	return request, changed
}

// promote moves a hash from missing to available once its bytes have
// been obtained. It reports whether anything moved.
func (r *Room) promote(h protocol.Hash) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.missing[h]; !ok {
		return false
	}
	delete(r.missing, h)
	r.available[h] = struct{}{}
	return true
}

// sounds snapshots the current partition for a RoomSounds message.
func (r *Room) sounds() *protocol.RoomSounds {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := &protocol.RoomSounds{}
	for h := range r.available {
		msg.Available = append(msg.Available, h)
	}
	for h := range r.missing {
		msg.Missing = append(msg.Missing, h)
	}
	return msg
}

// broadcastSounds sends the current partition to every member. Sent on
// join and whenever the partition changes, so members backfill without
// waiting for a live event.
func (r *Room) broadcastSounds() {
	msg := r.sounds()
	for _, p := range r.snapshotMembers() {
		p.send(msg)
	}
}

// Play sends PlaySound to the room. A nil actor targets everyone;
// otherwise the actor's connection is excluded, having already heard
// the sound locally. Exclusion is by connection, not steam id, so
// peers that have not reported an id yet never hear their own sound
// twice.
func (r *Room) Play(actor *Peer, h protocol.Hash) {
	members := r.snapshotMembers()

	var actorID int64
	if actor != nil {
		actorID = actor.SteamID()
	}

	log.Debug().
		Str("room", r.name).
		Str("hash", h.Short()).
		Int64("actor_id", actorID).
		Int("members", len(members)).
		Msg("playing sound")

	msg := &protocol.PlaySound{SteamID: actorID, Hash: h}
	for _, p := range members {
		if p == actor {
			continue
		}
		p.send(msg)
	}
}

// PlayShared plays a shared-class event at most once per round per
// event type. The dedup window resets when the round advances.
func (r *Room) PlayShared(event events.Type, h protocol.Hash, round int32) bool {
	r.mu.Lock()
	if round != r.round {
		r.round = round
		r.window = make(map[roundEvent]struct{})
	}
	key := roundEvent{round: round, event: event}
	if _, played := r.window[key]; played {
		r.mu.Unlock()
		log.Debug().
			Str("room", r.name).
			Stringer("event", event).
			Int32("round", round).
			Msg("shared event already played this round")
		return false
	}
	r.window[key] = struct{}{}
	r.mu.Unlock()

	r.Play(nil, h)
	return true
}

// snapshotMembers copies the member set under the lock so sends happen
// outside it.
func (r *Room) snapshotMembers() []*Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Peer, 0, len(r.members))
	for p := range r.members {
		out = append(out, p)
	}
	return out
}
