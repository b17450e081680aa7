package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCreateRoom(t *testing.T) {
	rr := NewRoomRegistry(&seqIdentity{}, GridLayout{}, nil)
	room, err := rr.CreateRoom(seat("a"))
	require.NoError(t, err)

	assert.Equal(t, "room1", room.ID)
	assert.Same(t, room, rr.GetRoom(room.ID))
	assert.Equal(t, "a", room.HostID())
	assert.Equal(t, PhaseLobby, room.Phase())
	assert.Equal(t, 1, room.PlayerCount())
	assert.Equal(t, GridLayout{}.Generate(), room.Coins())

	p, ok := room.Player("a")
	require.True(t, ok)
	assert.Equal(t, 0, p.CoinsCollected)
}

func TestRegistryRoomsGetDistinctIDs(t *testing.T) {
	rr := NewRoomRegistry(NewIdentitySource(), nil, nil)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		room, err := rr.CreateRoom(seat("a"))
		require.NoError(t, err)
		assert.Len(t, room.ID, 8)
		assert.False(t, seen[room.ID])
		seen[room.ID] = true
	}
	assert.Equal(t, 50, rr.RoomCount())
}

func TestRegistryDestroyRoomIsIdempotent(t *testing.T) {
	rr := NewRoomRegistry(&seqIdentity{}, GridLayout{}, nil)
	room, err := rr.CreateRoom(seat("a"))
	require.NoError(t, err)

	assert.Same(t, room, rr.DestroyRoom(room.ID))
	assert.Nil(t, rr.GetRoom(room.ID))
	assert.True(t, room.closed)

	assert.Nil(t, rr.DestroyRoom(room.ID))
	assert.Nil(t, rr.DestroyRoom("never-existed"))
}

func TestRegistryShutdown(t *testing.T) {
	rr := NewRoomRegistry(&seqIdentity{}, GridLayout{}, nil)
	for i := 0; i < 3; i++ {
		_, err := rr.CreateRoom(seat("a"))
		require.NoError(t, err)
	}
	assert.Equal(t, 3, rr.Shutdown())
	assert.Zero(t, rr.RoomCount())
}

func TestRegistryRoomCap(t *testing.T) {
	rr := NewRoomRegistry(&seqIdentity{}, GridLayout{}, nil)
	for i := 0; i < maxRooms; i++ {
		_, err := rr.CreateRoom(seat("a"))
		require.NoError(t, err)
	}
	_, err := rr.CreateRoom(seat("a"))
	assert.ErrorIs(t, err, ErrTooManyRooms)
}
