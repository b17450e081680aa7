package main

import (
	"sort"
	"sync"
	"time"
)

// Phase is the lifecycle stage of a room. A room never goes back to lobby;
// it is destroyed instead.
type Phase int

const (
	PhaseLobby  Phase = 0
	PhaseInGame Phase = 1
)

// ConnStatus tracks whether a seat is backed by a live connection
type ConnStatus int

const (
	StatusConnected      ConnStatus = 0
	StatusPendingRemoval ConnStatus = 1
)

// Player is one seat in a room. ConnID is the key in Room.players and changes
// on reconnect; SessionID is the logical identity that survives it.
type Player struct {
	ConnID         string
	SessionID      string
	Name           string
	Position       Vec3
	Rotation       float64
	CoinsCollected int
	IsSpectator    bool
	Status         ConnStatus
	Deadline       time.Time // zero unless Status == StatusPendingRemoval

	seq      uint64      // join order, keeps snapshots stable
	grace    *time.Timer // owned by this seat; stopped before the seat is dropped
	graceGen uint64      // bumped per scheduled timer so a stale fire is ignored
}

// stopGrace cancels the pending removal timer. Safe to call repeatedly and
// after the timer already fired.
func (p *Player) stopGrace() {
	if p.grace != nil {
		p.grace.Stop()
		p.grace = nil
	}
	p.Deadline = time.Time{}
}

// ToState converts to protocol state
func (p *Player) ToState(hostID string) PlayerState {
	return PlayerState{
		ID:             p.ConnID,
		Name:           p.Name,
		Position:       p.Position,
		Rotation:       p.Rotation,
		CoinsCollected: p.CoinsCollected,
		IsSpectator:    p.IsSpectator,
		IsHost:         p.ConnID == hostID,
		Disconnected:   p.Status == StatusPendingRemoval,
	}
}

// Room holds one game session. Every field below mu is guarded by it; all
// mutation goes through RoomRegistry and Presence, which hold mu for the whole
// logical operation including the broadcast of its result.
type Room struct {
	ID string

	mu      sync.Mutex
	hostID  string
	phase   Phase
	players map[string]*Player
	coins   []Vec3
	nextSeq uint64
	closed  bool // set once the room has left the registry
}

func newRoom(id string, coins []Vec3) *Room {
	return &Room{
		ID:      id,
		phase:   PhaseLobby,
		players: make(map[string]*Player),
		coins:   coins,
	}
}

// addPlayer seats p. The first seat becomes host.
func (r *Room) addPlayer(p *Player) {
	r.nextSeq++
	p.seq = r.nextSeq
	r.players[p.ConnID] = p
	if r.hostID == "" {
		r.hostID = p.ConnID
	}
}

// removePlayer drops a seat, stopping its timer first. When the host leaves
// and others remain, a successor is picked. Returns the removed player and
// whether the host changed.
func (r *Room) removePlayer(connID string) (*Player, bool) {
	p, ok := r.players[connID]
	if !ok {
		return nil, false
	}
	p.stopGrace()
	delete(r.players, connID)

	if r.hostID != connID {
		return p, false
	}
	r.hostID = r.successor()
	return p, r.hostID != ""
}

// rebind moves a seat to a new connection id, carrying host privileges along
func (r *Room) rebind(oldID, newID string) *Player {
	p, ok := r.players[oldID]
	if !ok {
		return nil
	}
	delete(r.players, oldID)
	p.ConnID = newID
	r.players[newID] = p
	if r.hostID == oldID {
		r.hostID = newID
	}
	return p
}

// successor picks the next host: connected seats before pending ones, then
// the lowest connection id. Empty when the room has no players.
func (r *Room) successor() string {
	best := ""
	bestStatus := StatusPendingRemoval
	for id, p := range r.players {
		switch {
		case best == "":
		case p.Status < bestStatus:
		case p.Status == bestStatus && id < best:
		default:
			continue
		}
		best, bestStatus = id, p.Status
	}
	return best
}

// findSession returns the seat holding sessionID, if any
func (r *Room) findSession(sessionID string) *Player {
	for _, p := range r.players {
		if p.SessionID == sessionID {
			return p
		}
	}
	return nil
}

// snapshot returns the roster in join order
func (r *Room) snapshot() []PlayerState {
	list := make([]*Player, 0, len(r.players))
	for _, p := range r.players {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })

	states := make([]PlayerState, len(list))
	for i, p := range list {
		states[i] = p.ToState(r.hostID)
	}
	return states
}

// coinsSnapshot returns a copy of the remaining coin field
func (r *Room) coinsSnapshot() []Vec3 {
	out := make([]Vec3, len(r.coins))
	copy(out, r.coins)
	return out
}

// HostID returns the current host connection id
func (r *Room) HostID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hostID
}

// Phase returns the room phase
func (r *Room) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// PlayerCount returns the number of seats, pending ones included
func (r *Room) PlayerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

// Coins returns a copy of the remaining coin field
func (r *Room) Coins() []Vec3 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.coinsSnapshot()
}

// Players returns the current roster
func (r *Room) Players() []PlayerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

// Player returns a copy of the seat keyed by connID
func (r *Room) Player(connID string) (Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[connID]
	if !ok {
		return Player{}, false
	}
	cp := *p
	cp.grace = nil
	return cp, true
}
