package main

import (
	"strings"

	"github.com/google/uuid"
)

// IdentitySource hands out identifiers for rooms, connections and player sessions.
// Identifiers are treated as always-unique.
type IdentitySource interface {
	RoomID() string
	ConnID() string
	SessionID() string
}

type uuidIdentity struct{}

// NewIdentitySource returns the uuid-backed identity source
func NewIdentitySource() IdentitySource {
	return uuidIdentity{}
}

// RoomID returns the first group of a v4 uuid, short enough to share by voice
func (uuidIdentity) RoomID() string {
	id, _, _ := strings.Cut(uuid.NewString(), "-")
	return id
}

func (uuidIdentity) ConnID() string {
	return uuid.NewString()
}

func (uuidIdentity) SessionID() string {
	return uuid.NewString()
}
