package server

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Registry owns the room map. Membership moves go through it so a room
// can never be deleted while a joiner holds a stale pointer: join and
// leave both run under the registry lock, and the lock order is always
// registry before room.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*Room)}
}

// Join adds the peer to the named room, creating it on first use.
func (reg *Registry) Join(p *Peer, name string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[name]
	if !ok {
		room = newRoom(name)
		reg.rooms[name] = room
		log.Info().Str("room", name).Msg("room created")
	}
	room.join(p)
	return room
}

// Leave removes the peer from the room, deleting the room once its
// member set is empty.
func (reg *Registry) Leave(p *Peer, room *Room) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if room.leave(p) {
		delete(reg.rooms, room.name)
		log.Info().Str("room", room.name).Msg("empty room deleted")
	}
}

// Get returns the named room, or nil.
func (reg *Registry) Get(name string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.rooms[name]
}

// roomCount returns the number of live rooms.
func (reg *Registry) roomCount() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}
