package main

import "encoding/json"

// Client -> Server message types
const (
	MsgCreateRoom = "createRoom"
	MsgJoinRoom   = "joinRoom"
	MsgCancelRoom = "cancelRoom"
	MsgLeaveRoom  = "leaveRoom"
	MsgStart      = "start"
	MsgMove       = "move"
	MsgCoinPicked = "coinPicked"
	MsgReconnect  = "reconnect"
	MsgDisconnect = "disconnect" // generated by the transport, never accepted from the wire
)

// Server -> Client message types
const (
	MsgID               = "id"
	MsgCreated          = "created"
	MsgJoined           = "joined"
	MsgError            = "error"
	MsgPlayers          = "players" // sent as a msgpack binary frame
	MsgPlayersCount     = "playersCount"
	MsgStarted          = "started"
	MsgCoins            = "coins"
	MsgRoomDisconnected = "roomDisconnected"
	MsgReconnected      = "reconnected"
)

// Envelope wraps all outgoing messages with a type field
type Envelope struct {
	T    string      `json:"t" msgpack:"t"`
	Data interface{} `json:"d,omitempty" msgpack:"d,omitempty"`
}

// InEnvelope is used for incoming messages; json.RawMessage avoids double-unmarshal
type InEnvelope struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d,omitempty"`
}

// CreateMsg is sent when a player wants to open a new room
type CreateMsg struct {
	Name        string `json:"name"`
	IsSpectator bool   `json:"isSpectator"`
}

// JoinMsg is sent when a player wants to join an existing room
type JoinMsg struct {
	RoomID      string `json:"roomId"`
	Name        string `json:"name"`
	IsSpectator bool   `json:"isSpectator"`
}

// MoveMsg carries the sender's latest transform
type MoveMsg struct {
	Position Vec3    `json:"position"`
	Rotation float64 `json:"rotation"`
}

// CoinPickedMsg reports a coin the client believes it touched
type CoinPickedMsg struct {
	Position Vec3 `json:"position"`
}

// ReconnectMsg asks to take back a seat held during the grace period
type ReconnectMsg struct {
	PriorSessionID string `json:"priorSessionId"`
	RoomID         string `json:"roomId"`
}

// IDMsg announces the connection identifier
type IDMsg struct {
	ID string `json:"id"`
}

// AdmittedMsg is the payload of created, joined and reconnected
type AdmittedMsg struct {
	RoomID    string `json:"roomId"`
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
	IsHost    bool   `json:"isHost"`
	InGame    bool   `json:"inGame"`
}

// PlayerState is one roster entry
type PlayerState struct {
	ID             string  `json:"id" msgpack:"id"`
	Name           string  `json:"name,omitempty" msgpack:"name,omitempty"`
	Position       Vec3    `json:"position" msgpack:"position"`
	Rotation       float64 `json:"rotation" msgpack:"rotation"`
	CoinsCollected int     `json:"coinsCollected" msgpack:"coinsCollected"`
	IsSpectator    bool    `json:"isSpectator" msgpack:"isSpectator"`
	IsHost         bool    `json:"isHost" msgpack:"isHost"`
	Disconnected   bool    `json:"disconnected,omitempty" msgpack:"disconnected,omitempty"`
}

// PlayersCountMsg reports how many seats are taken in a room
type PlayersCountMsg struct {
	Count int `json:"count"`
	Max   int `json:"max"`
}

// ErrorMsg sends error to client
type ErrorMsg struct {
	Msg string `json:"msg"`
}

// RoomInfo is returned by the room check endpoint
type RoomInfo struct {
	ID      string `json:"id"`
	Exists  bool   `json:"exists"`
	InGame  bool   `json:"inGame,omitempty"`
	Players int    `json:"players,omitempty"`
	Max     int    `json:"max,omitempty"`
}
