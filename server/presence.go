package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxRoomSize = 6
	DefaultGracePeriod = 5 * time.Minute
)

// Broadcaster fans messages out to connections. Rooms are pub/sub channels
// keyed by room id; a connection receives SendRoom traffic once subscribed.
type Broadcaster interface {
	Send(connID string, msg Envelope)
	SendRoom(roomID string, msg Envelope)
	SendAll(msg Envelope)
	Subscribe(connID, roomID string)
	Unsubscribe(connID, roomID string)
}

// PresenceConfig tunes seat limits and disconnect handling. A zero
// GracePeriod removes players as soon as their connection drops.
type PresenceConfig struct {
	MaxRoomSize int
	GracePeriod time.Duration
}

// Presence drives every seat transition: create, join, leave, disconnect,
// reconnect and grace expiry, plus the in-room actions that mutate a room.
// Each operation holds the room lock from validation through the broadcast of
// its result, so mutations and their broadcasts are serialized per room while
// unrelated rooms proceed independently.
type Presence struct {
	rooms  *RoomRegistry
	out    Broadcaster
	ids    IdentitySource
	events *EventLog
	cfg    PresenceConfig
}

// NewPresence wires the coordinator
func NewPresence(rooms *RoomRegistry, out Broadcaster, ids IdentitySource, events *EventLog, cfg PresenceConfig) *Presence {
	if cfg.MaxRoomSize <= 0 {
		cfg.MaxRoomSize = DefaultMaxRoomSize
	}
	if cfg.GracePeriod < 0 {
		cfg.GracePeriod = 0
	}
	return &Presence{rooms: rooms, out: out, ids: ids, events: events, cfg: cfg}
}

// lockRoom returns the live room with its lock held
func (ps *Presence) lockRoom(roomID string) (*Room, error) {
	room := ps.rooms.GetRoom(roomID)
	if room == nil {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	room.mu.Lock()
	if room.closed {
		room.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	return room, nil
}

func (ps *Presence) newSeat(connID, name string, spectator bool) *Player {
	return &Player{
		ConnID:      connID,
		SessionID:   ps.ids.SessionID(),
		Name:        name,
		Position:    SpawnPoint,
		IsSpectator: spectator,
		Status:      StatusConnected,
	}
}

// Create opens a room with connID as host and first player
func (ps *Presence) Create(connID, name string, spectator bool) (*Room, error) {
	host := ps.newSeat(connID, name, spectator)
	room, err := ps.rooms.CreateRoom(host)
	if err != nil {
		return nil, err
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	if room.closed {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, room.ID)
	}
	ps.out.Subscribe(connID, room.ID)
	ps.out.Send(connID, Envelope{T: MsgCreated, Data: admitted(room, host)})
	ps.broadcastRosterLocked(room)
	return room, nil
}

// Join seats connID in an existing room. Joining a room that is already in
// game is allowed; the joiner is told the game started and gets the coin field.
func (ps *Presence) Join(roomID, connID, name string, spectator bool) (*Room, error) {
	room, err := ps.lockRoom(roomID)
	if err != nil {
		return nil, err
	}
	defer room.mu.Unlock()

	if len(room.players) >= ps.cfg.MaxRoomSize {
		return nil, fmt.Errorf("%w: %s has %d players", ErrRoomFull, roomID, len(room.players))
	}
	if _, seated := room.players[connID]; seated {
		return nil, fmt.Errorf("%w: already seated", ErrBadRequest)
	}

	p := ps.newSeat(connID, name, spectator)
	room.addPlayer(p)
	ps.out.Subscribe(connID, room.ID)
	ps.out.Send(connID, Envelope{T: MsgJoined, Data: admitted(room, p)})
	ps.broadcastRosterLocked(room)
	if room.phase == PhaseInGame {
		ps.out.Send(connID, Envelope{T: MsgStarted})
		ps.out.Send(connID, Envelope{T: MsgCoins, Data: room.coinsSnapshot()})
	}

	log.Info().Str("room", room.ID).Str("conn", connID).Bool("spectator", spectator).Int("players", len(room.players)).Msg("player joined")
	ps.events.Track(EvtPlayerJoined, room.ID, p.SessionID, "")
	return room, nil
}

// Leave removes connID's seat at the player's request
func (ps *Presence) Leave(roomID, connID string) error {
	room, err := ps.lockRoom(roomID)
	if err != nil {
		return err
	}
	defer room.mu.Unlock()

	p, hostChanged := room.removePlayer(connID)
	if p == nil {
		return fmt.Errorf("%w: %s", ErrNotInRoom, roomID)
	}
	ps.out.Unsubscribe(connID, room.ID)
	ps.afterRemovalLocked(room, p, hostChanged, EvtPlayerLeft)
	return nil
}

// Disconnect starts the grace period for connID's seat. With no grace period
// configured the seat is dropped immediately.
func (ps *Presence) Disconnect(roomID, connID string) {
	if ps.cfg.GracePeriod == 0 {
		if err := ps.Leave(roomID, connID); err != nil {
			log.Debug().Err(err).Str("conn", connID).Msg("disconnect: nothing to remove")
		}
		return
	}

	room, err := ps.lockRoom(roomID)
	if err != nil {
		return
	}
	defer room.mu.Unlock()

	p, ok := room.players[connID]
	if !ok || p.Status == StatusPendingRemoval {
		return
	}
	p.stopGrace()
	p.Status = StatusPendingRemoval
	p.Deadline = time.Now().Add(ps.cfg.GracePeriod)
	p.graceGen++
	gen := p.graceGen
	p.grace = time.AfterFunc(ps.cfg.GracePeriod, func() { ps.expire(room, p, gen) })

	ps.out.Unsubscribe(connID, room.ID)
	ps.broadcastRosterLocked(room)
	log.Info().Str("room", room.ID).Str("conn", connID).Time("deadline", p.Deadline).Msg("player disconnected, seat held")
}

// expire runs when a grace timer fires. Whatever happened to the seat first
// (reconnect, leave, room teardown) wins and this becomes a no-op.
func (ps *Presence) expire(room *Room, p *Player, gen uint64) {
	room.mu.Lock()
	defer room.mu.Unlock()

	if room.closed || p.graceGen != gen || p.Status != StatusPendingRemoval || room.players[p.ConnID] != p {
		return
	}
	p.grace = nil
	_, hostChanged := room.removePlayer(p.ConnID)
	ps.afterRemovalLocked(room, p, hostChanged, EvtPlayerExpired)
}

// Reconnect rebinds a held seat to newConnID. Coins, name and host status
// carry over; the position goes back to spawn.
func (ps *Presence) Reconnect(roomID, priorSessionID, newConnID string) (*Room, error) {
	room, err := ps.lockRoom(roomID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	defer room.mu.Unlock()

	p := room.findSession(priorSessionID)
	if p == nil || p.Status != StatusPendingRemoval {
		return nil, fmt.Errorf("%w: no held seat for session in %s", ErrSessionExpired, roomID)
	}
	if _, taken := room.players[newConnID]; taken {
		return nil, fmt.Errorf("%w: connection already seated", ErrBadRequest)
	}

	oldConnID := p.ConnID
	p.stopGrace()
	p.Status = StatusConnected
	room.rebind(oldConnID, newConnID)
	p.Position = SpawnPoint
	p.Rotation = 0

	ps.out.Subscribe(newConnID, room.ID)
	ps.out.Send(newConnID, Envelope{T: MsgReconnected, Data: admitted(room, p)})
	ps.out.Send(newConnID, Envelope{T: MsgCoins, Data: room.coinsSnapshot()})
	ps.broadcastRosterLocked(room)

	log.Info().Str("room", room.ID).Str("from", oldConnID).Str("to", newConnID).Bool("host", room.hostID == newConnID).Msg("player reconnected")
	ps.events.Track(EvtPlayerReconnected, room.ID, p.SessionID, "")
	return room, nil
}

// Start moves the room into game. Host only; starting again just re-sends state.
func (ps *Presence) Start(roomID, connID string) error {
	room, err := ps.lockRoom(roomID)
	if err != nil {
		return err
	}
	defer room.mu.Unlock()

	if err := requireHost(room, connID); err != nil {
		return err
	}
	first := room.phase != PhaseInGame
	room.phase = PhaseInGame

	ps.out.SendRoom(room.ID, Envelope{T: MsgStarted})
	ps.out.SendRoom(room.ID, Envelope{T: MsgCoins, Data: room.coinsSnapshot()})
	ps.broadcastRosterLocked(room)

	if first {
		log.Info().Str("room", room.ID).Int("players", len(room.players)).Msg("game started")
		ps.events.Track(EvtGameStarted, room.ID, "", "")
	}
	return nil
}

// Cancel destroys the room at the host's request and tells every member.
// Returns the connection ids that were seated.
func (ps *Presence) Cancel(roomID, connID string) ([]string, error) {
	room, err := ps.lockRoom(roomID)
	if err != nil {
		return nil, err
	}
	defer room.mu.Unlock()

	if err := requireHost(room, connID); err != nil {
		return nil, err
	}
	members := make([]string, 0, len(room.players))
	for id := range room.players {
		members = append(members, id)
	}
	ps.out.SendRoom(room.ID, Envelope{T: MsgRoomDisconnected, Data: map[string]string{"roomId": room.ID}})
	for _, id := range members {
		ps.out.Unsubscribe(id, room.ID)
	}
	ps.rooms.retireLocked(room)
	return members, nil
}

// Move records the sender's transform. No plausibility checks.
func (ps *Presence) Move(roomID, connID string, pos Vec3, rotation float64) error {
	room, err := ps.lockRoom(roomID)
	if err != nil {
		return err
	}
	defer room.mu.Unlock()

	p, ok := room.players[connID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotInRoom, roomID)
	}
	p.Position = pos
	p.Rotation = rotation
	ps.broadcastRosterLocked(room)
	return nil
}

// ClaimCoin scores the coin at pos for connID if it is still in the field.
// Spectators and unknown positions are ignored.
func (ps *Presence) ClaimCoin(roomID, connID string, pos Vec3) (bool, error) {
	room, err := ps.lockRoom(roomID)
	if err != nil {
		return false, err
	}
	defer room.mu.Unlock()

	p, ok := room.players[connID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotInRoom, roomID)
	}
	if p.IsSpectator {
		return false, nil
	}
	claimed, next := ClaimCoin(room.coins, pos)
	if !claimed {
		return false, nil
	}
	room.coins = next
	p.CoinsCollected++

	ps.out.SendRoom(room.ID, Envelope{T: MsgCoins, Data: room.coinsSnapshot()})
	ps.broadcastRosterLocked(room)
	ps.events.Track(EvtCoinClaimed, room.ID, p.SessionID, "")
	return true, nil
}

// Shutdown tears down every room and tells all connections
func (ps *Presence) Shutdown() {
	n := ps.rooms.Shutdown()
	ps.out.SendAll(Envelope{T: MsgRoomDisconnected})
	log.Info().Int("rooms", n).Msg("presence shut down")
}

// afterRemovalLocked finishes a seat removal: destroys the room if it is now
// empty, otherwise announces any host change and the new roster.
func (ps *Presence) afterRemovalLocked(room *Room, p *Player, hostChanged bool, evt string) {
	log.Info().Str("room", room.ID).Str("conn", p.ConnID).Str("reason", evt).Int("players", len(room.players)).Msg("player removed")
	ps.events.Track(evt, room.ID, p.SessionID, "")

	if len(room.players) == 0 {
		ps.rooms.retireLocked(room)
		return
	}
	if hostChanged {
		log.Info().Str("room", room.ID).Str("host", room.hostID).Msg("host reassigned")
		ps.events.Track(EvtHostChanged, room.ID, room.players[room.hostID].SessionID, "")
	}
	ps.broadcastRosterLocked(room)
}

func (ps *Presence) broadcastRosterLocked(room *Room) {
	ps.out.SendRoom(room.ID, Envelope{T: MsgPlayers, Data: room.snapshot()})
	ps.out.SendRoom(room.ID, Envelope{T: MsgPlayersCount, Data: PlayersCountMsg{
		Count: len(room.players),
		Max:   ps.cfg.MaxRoomSize,
	}})
}

func requireHost(room *Room, connID string) error {
	if _, ok := room.players[connID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotInRoom, room.ID)
	}
	if room.hostID != connID {
		return fmt.Errorf("%w: %s", ErrNotHost, room.ID)
	}
	return nil
}

func admitted(room *Room, p *Player) AdmittedMsg {
	return AdmittedMsg{
		RoomID:    room.ID,
		ID:        p.ConnID,
		SessionID: p.SessionID,
		IsHost:    room.hostID == p.ConnID,
		InGame:    room.phase == PhaseInGame,
	}
}
