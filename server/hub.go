package main

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	maxConnsPerIP = 5
	maxTotalConns = 1000
)

// binaryMarker prefixes queued frames that must go out as binary messages
const binaryMarker = 0xFF

// EventHandler receives connection lifecycle and inbound messages
type EventHandler interface {
	Connect(connID string)
	Disconnect(connID string)
	Dispatch(connID string, env InEnvelope)
}

// Hub tracks live connections and the room channels they subscribe to.
// It implements Broadcaster.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]*Client
	channels   map[string]map[string]struct{} // roomID -> connIDs
	register   chan *Client
	unregister chan *Client
	handler    EventHandler
	// Connection limiting (mutex-protected, accessed from HTTP handlers)
	connMu     sync.Mutex
	ipConns    map[string]int
	totalConns int
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		channels:   make(map[string]map[string]struct{}),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		ipConns:    make(map[string]int),
	}
}

// SetHandler installs the event handler. Must be called before Run.
func (h *Hub) SetHandler(handler EventHandler) {
	h.handler = handler
}

func (h *Hub) CanAccept(ip string) bool {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.totalConns >= maxTotalConns {
		return false
	}
	if h.ipConns[ip] >= maxConnsPerIP {
		return false
	}
	return true
}

func (h *Hub) TrackConnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]++
	h.totalConns++
}

func (h *Hub) TrackDisconnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]--
	if h.ipConns[ip] <= 0 {
		delete(h.ipConns, ip)
	}
	h.totalConns--
}

// Run processes register/unregister events until ctx is done
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			if h.handler != nil {
				h.handler.Connect(client.id)
			}
			close(client.ready)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				for roomID, members := range h.channels {
					delete(members, client.id)
					if len(members) == 0 {
						delete(h.channels, roomID)
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			if h.handler != nil {
				h.handler.Disconnect(client.id)
			}

		case <-ctx.Done():
			return
		}
	}
}

// Send delivers msg to one connection
func (h *Hub) Send(connID string, msg Envelope) {
	frame, ok := encodeFrame(msg)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c, ok := h.clients[connID]; ok {
		c.enqueue(frame)
	}
}

// SendRoom delivers msg to every connection subscribed to roomID
func (h *Hub) SendRoom(roomID string, msg Envelope) {
	frame, ok := encodeFrame(msg)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for connID := range h.channels[roomID] {
		if c, ok := h.clients[connID]; ok {
			c.enqueue(frame)
		}
	}
}

// SendAll delivers msg to every live connection
func (h *Hub) SendAll(msg Envelope) {
	frame, ok := encodeFrame(msg)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.enqueue(frame)
	}
}

// Subscribe adds connID to the room channel. Unknown connections are ignored.
func (h *Hub) Subscribe(connID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[connID]; !ok {
		return
	}
	members, ok := h.channels[roomID]
	if !ok {
		members = make(map[string]struct{})
		h.channels[roomID] = members
	}
	members[connID] = struct{}{}
}

// Unsubscribe removes connID from the room channel
func (h *Hub) Unsubscribe(connID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.channels[roomID]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.channels, roomID)
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// TotalConns returns the tracked connection count
func (h *Hub) TotalConns() int {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	return h.totalConns
}

// encodeFrame serializes msg for the write pump. Roster updates go out on
// every move, so they use msgpack binary frames; everything else is JSON text.
func encodeFrame(msg Envelope) ([]byte, bool) {
	if msg.T == MsgPlayers {
		data, err := msgpack.Marshal(msg)
		if err != nil {
			log.Error().Err(err).Str("type", msg.T).Msg("msgpack marshal")
			return nil, false
		}
		frame := make([]byte, len(data)+1)
		frame[0] = binaryMarker
		copy(frame[1:], data)
		return frame, true
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", msg.T).Msg("json marshal")
		return nil, false
	}
	return data, true
}
