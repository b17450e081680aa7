package main

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

const maxRooms = 1000

// ErrTooManyRooms is returned when the registry is at capacity
var ErrTooManyRooms = errors.New("too many active rooms")

// RoomRegistry owns the room id -> Room mapping. Its lock only guards the map;
// room contents are guarded by each room's own lock. Lock order is room before
// registry, never the reverse.
type RoomRegistry struct {
	mu     sync.RWMutex
	rooms  map[string]*Room
	ids    IdentitySource
	layout CoinLayout
	events *EventLog
}

// NewRoomRegistry creates an empty registry
func NewRoomRegistry(ids IdentitySource, layout CoinLayout, events *EventLog) *RoomRegistry {
	if layout == nil {
		layout = GridLayout{}
	}
	return &RoomRegistry{
		rooms:  make(map[string]*Room),
		ids:    ids,
		layout: layout,
		events: events,
	}
}

// CreateRoom allocates a room in lobby phase with a fresh coin field and seats
// host as its first player and host. The room is only published once the host
// is seated, so no reader ever sees it empty.
func (rr *RoomRegistry) CreateRoom(host *Player) (*Room, error) {
	room := newRoom(rr.ids.RoomID(), rr.layout.Generate())
	room.addPlayer(host)

	rr.mu.Lock()
	if len(rr.rooms) >= maxRooms {
		rr.mu.Unlock()
		return nil, ErrTooManyRooms
	}
	rr.rooms[room.ID] = room
	rr.mu.Unlock()

	log.Info().Str("room", room.ID).Str("host", host.ConnID).Int("coins", len(room.coins)).Msg("room created")
	rr.events.Track(EvtRoomCreated, room.ID, host.SessionID, "")
	return room, nil
}

// GetRoom returns a live room or nil
func (rr *RoomRegistry) GetRoom(id string) *Room {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	return rr.rooms[id]
}

// DestroyRoom removes a room unconditionally. Destroying an unknown room is a
// no-op. Returns the removed room, nil if there was none.
func (rr *RoomRegistry) DestroyRoom(id string) *Room {
	room := rr.GetRoom(id)
	if room == nil {
		return nil
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if !rr.retireLocked(room) {
		return nil
	}
	return room
}

// retireLocked marks room closed, stops every seat timer and unpublishes it.
// Caller holds room.mu. Returns false if the room was already retired.
func (rr *RoomRegistry) retireLocked(room *Room) bool {
	if room.closed {
		return false
	}
	room.closed = true
	for _, p := range room.players {
		p.stopGrace()
	}

	rr.mu.Lock()
	if rr.rooms[room.ID] == room {
		delete(rr.rooms, room.ID)
	}
	rr.mu.Unlock()

	log.Info().Str("room", room.ID).Int("players", len(room.players)).Msg("room destroyed")
	rr.events.Track(EvtRoomDestroyed, room.ID, "", "")
	return true
}

// RoomCount returns the number of live rooms
func (rr *RoomRegistry) RoomCount() int {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	return len(rr.rooms)
}

// Shutdown destroys every room. Used at process teardown.
func (rr *RoomRegistry) Shutdown() int {
	rr.mu.RLock()
	ids := make([]string, 0, len(rr.rooms))
	for id := range rr.rooms {
		ids = append(ids, id)
	}
	rr.mu.RUnlock()

	n := 0
	for _, id := range ids {
		if rr.DestroyRoom(id) != nil {
			n++
		}
	}
	return n
}
