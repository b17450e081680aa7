package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

const maxNameLen = 16

// Router is the entry point for every inbound event. It tracks which room
// each connection is bound to, checks that room-scoped events have one, and
// hands off to Presence. It keeps no other state.
type Router struct {
	presence *Presence
	out      Broadcaster

	mu       sync.Mutex
	bindings map[string]string // connID -> roomID
}

// NewRouter creates a Router
func NewRouter(presence *Presence, out Broadcaster) *Router {
	return &Router{
		presence: presence,
		out:      out,
		bindings: make(map[string]string),
	}
}

// Connect greets a new connection with its identifier
func (rt *Router) Connect(connID string) {
	rt.out.Send(connID, Envelope{T: MsgID, Data: IDMsg{ID: connID}})
}

// Disconnect handles a transport drop. The seat, if any, enters its grace period.
func (rt *Router) Disconnect(connID string) {
	roomID, ok := rt.unbind(connID)
	if !ok {
		return
	}
	rt.presence.Disconnect(roomID, connID)
}

// Dispatch routes one inbound message for connID
func (rt *Router) Dispatch(connID string, env InEnvelope) {
	var err error
	switch env.T {
	case MsgCreateRoom:
		err = rt.handleCreate(connID, env.D)
	case MsgJoinRoom:
		err = rt.handleJoin(connID, env.D)
	case MsgReconnect:
		err = rt.handleReconnect(connID, env.D)
	case MsgLeaveRoom:
		err = rt.handleLeave(connID)
	case MsgCancelRoom:
		err = rt.handleCancel(connID)
	case MsgStart:
		err = rt.withRoom(connID, func(roomID string) error {
			return rt.presence.Start(roomID, connID)
		})
	case MsgMove:
		err = rt.handleMove(connID, env.D)
	case MsgCoinPicked:
		err = rt.handleCoinPicked(connID, env.D)
	default:
		err = fmt.Errorf("%w: unknown event %q", ErrBadRequest, env.T)
	}
	if err != nil {
		rt.fail(connID, env.T, err)
	}
}

// RoomOf returns the room bound to connID
func (rt *Router) RoomOf(connID string) (string, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	roomID, ok := rt.bindings[connID]
	return roomID, ok
}

func (rt *Router) bind(connID, roomID string) {
	rt.mu.Lock()
	rt.bindings[connID] = roomID
	rt.mu.Unlock()
}

func (rt *Router) unbind(connID string) (string, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	roomID, ok := rt.bindings[connID]
	delete(rt.bindings, connID)
	return roomID, ok
}

// unbindIf drops connID's binding only if it still points at roomID
func (rt *Router) unbindIf(connID, roomID string) {
	rt.mu.Lock()
	if rt.bindings[connID] == roomID {
		delete(rt.bindings, connID)
	}
	rt.mu.Unlock()
}

// withRoom runs fn against the bound room. A room that vanished underneath
// the connection clears the stale binding.
func (rt *Router) withRoom(connID string, fn func(roomID string) error) error {
	roomID, ok := rt.RoomOf(connID)
	if !ok {
		return fmt.Errorf("%w: connection has no room", ErrRoomNotFound)
	}
	err := fn(roomID)
	if errors.Is(err, ErrRoomNotFound) || errors.Is(err, ErrNotInRoom) {
		rt.unbindIf(connID, roomID)
	}
	return err
}

// leaveCurrent leaves the bound room before the connection enters another
func (rt *Router) leaveCurrent(connID string) {
	roomID, ok := rt.unbind(connID)
	if !ok {
		return
	}
	if err := rt.presence.Leave(roomID, connID); err != nil {
		log.Debug().Err(err).Str("conn", connID).Msg("implicit leave")
	}
}

func (rt *Router) handleCreate(connID string, data json.RawMessage) error {
	var msg CreateMsg
	if err := decode(data, &msg); err != nil {
		return err
	}
	rt.leaveCurrent(connID)
	room, err := rt.presence.Create(connID, cleanName(msg.Name), msg.IsSpectator)
	if err != nil {
		return err
	}
	rt.bind(connID, room.ID)
	return nil
}

func (rt *Router) handleJoin(connID string, data json.RawMessage) error {
	var msg JoinMsg
	if err := decode(data, &msg); err != nil {
		return err
	}
	roomID := strings.TrimSpace(msg.RoomID)
	if current, ok := rt.RoomOf(connID); ok && current == roomID {
		return nil
	}
	rt.leaveCurrent(connID)
	room, err := rt.presence.Join(roomID, connID, cleanName(msg.Name), msg.IsSpectator)
	if err != nil {
		return err
	}
	rt.bind(connID, room.ID)
	return nil
}

func (rt *Router) handleReconnect(connID string, data json.RawMessage) error {
	var msg ReconnectMsg
	if err := decode(data, &msg); err != nil {
		return err
	}
	if _, ok := rt.RoomOf(connID); ok {
		return fmt.Errorf("%w: connection already in a room", ErrBadRequest)
	}
	room, err := rt.presence.Reconnect(strings.TrimSpace(msg.RoomID), msg.PriorSessionID, connID)
	if err != nil {
		return err
	}
	rt.bind(connID, room.ID)
	return nil
}

func (rt *Router) handleLeave(connID string) error {
	roomID, ok := rt.unbind(connID)
	if !ok {
		return fmt.Errorf("%w: connection has no room", ErrRoomNotFound)
	}
	return rt.presence.Leave(roomID, connID)
}

func (rt *Router) handleCancel(connID string) error {
	return rt.withRoom(connID, func(roomID string) error {
		members, err := rt.presence.Cancel(roomID, connID)
		if err != nil {
			return err
		}
		for _, id := range members {
			rt.unbindIf(id, roomID)
		}
		return nil
	})
}

func (rt *Router) handleMove(connID string, data json.RawMessage) error {
	var msg MoveMsg
	if err := decode(data, &msg); err != nil {
		return err
	}
	return rt.withRoom(connID, func(roomID string) error {
		return rt.presence.Move(roomID, connID, msg.Position, msg.Rotation)
	})
}

func (rt *Router) handleCoinPicked(connID string, data json.RawMessage) error {
	var msg CoinPickedMsg
	if err := decode(data, &msg); err != nil {
		return err
	}
	return rt.withRoom(connID, func(roomID string) error {
		_, err := rt.presence.ClaimCoin(roomID, connID, msg.Position)
		return err
	})
}

func (rt *Router) fail(connID, event string, err error) {
	log.Debug().Err(err).Str("conn", connID).Str("event", event).Msg("event rejected")
	rt.out.Send(connID, Envelope{T: MsgError, Data: ErrorMsg{Msg: errorCode(err)}})
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}

// cleanName trims a display name and caps its length; empty means anonymous
func cleanName(name string) string {
	name = strings.TrimSpace(name)
	if r := []rune(name); len(r) > maxNameLen {
		name = string(r[:maxNameLen])
	}
	return name
}
