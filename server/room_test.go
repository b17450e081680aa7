package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seat(connID string) *Player {
	return &Player{ConnID: connID, SessionID: "s-" + connID, Position: SpawnPoint}
}

func TestRoomFirstSeatIsHost(t *testing.T) {
	r := newRoom("r", nil)
	r.addPlayer(seat("b"))
	r.addPlayer(seat("a"))
	assert.Equal(t, "b", r.hostID)
	assert.Equal(t, PhaseLobby, r.phase)
}

func TestRoomSnapshotKeepsJoinOrder(t *testing.T) {
	r := newRoom("r", nil)
	for _, id := range []string{"z", "m", "a"} {
		r.addPlayer(seat(id))
	}
	snap := r.snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "z", snap[0].ID)
	assert.Equal(t, "m", snap[1].ID)
	assert.Equal(t, "a", snap[2].ID)
	assert.True(t, snap[0].IsHost)
	assert.False(t, snap[1].IsHost)
}

func TestRoomSuccessorPrefersConnectedThenLowestID(t *testing.T) {
	r := newRoom("r", nil)
	r.addPlayer(seat("host"))
	r.addPlayer(seat("d"))
	r.addPlayer(seat("b"))
	r.addPlayer(seat("c"))
	r.players["b"].Status = StatusPendingRemoval

	_, changed := r.removePlayer("host")
	require.True(t, changed)
	assert.Equal(t, "c", r.hostID)

	_, changed = r.removePlayer("c")
	require.True(t, changed)
	assert.Equal(t, "d", r.hostID)

	_, changed = r.removePlayer("d")
	require.True(t, changed)
	assert.Equal(t, "b", r.hostID, "pending seats are still eligible when nobody else is left")

	p, changed := r.removePlayer("b")
	require.NotNil(t, p)
	assert.False(t, changed)
	assert.Empty(t, r.hostID)
}

func TestRoomRemoveNonHostKeepsHost(t *testing.T) {
	r := newRoom("r", nil)
	r.addPlayer(seat("a"))
	r.addPlayer(seat("b"))
	_, changed := r.removePlayer("b")
	assert.False(t, changed)
	assert.Equal(t, "a", r.hostID)

	p, _ := r.removePlayer("missing")
	assert.Nil(t, p)
}

func TestRoomRebindCarriesHost(t *testing.T) {
	r := newRoom("r", nil)
	r.addPlayer(seat("a"))
	r.addPlayer(seat("b"))

	p := r.rebind("a", "a2")
	require.NotNil(t, p)
	assert.Equal(t, "a2", p.ConnID)
	assert.Equal(t, "a2", r.hostID)
	assert.NotContains(t, r.players, "a")
	assert.Same(t, p, r.players["a2"])

	r.rebind("b", "b2")
	assert.Equal(t, "a2", r.hostID)
	assert.Nil(t, r.rebind("gone", "x"))
}

func TestRoomFindSession(t *testing.T) {
	r := newRoom("r", nil)
	r.addPlayer(seat("a"))
	assert.Equal(t, "a", r.findSession("s-a").ConnID)
	assert.Nil(t, r.findSession("nope"))
}

func TestPlayerStopGraceIsIdempotent(t *testing.T) {
	p := seat("a")
	p.stopGrace()
	p.stopGrace()
	assert.Nil(t, p.grace)
	assert.True(t, p.Deadline.IsZero())
}
