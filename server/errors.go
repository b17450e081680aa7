package main

import "errors"

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrRoomFull       = errors.New("room full")
	ErrSessionExpired = errors.New("session expired")
	ErrNotHost        = errors.New("not host")
	ErrNotInRoom      = errors.New("not in room")
	ErrBadRequest     = errors.New("bad request")
)

// errorCode maps an error to the reason string sent to clients
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		return "room-not-found"
	case errors.Is(err, ErrRoomFull):
		return "room-full"
	case errors.Is(err, ErrSessionExpired):
		return "session-expired"
	case errors.Is(err, ErrNotHost):
		return "not-host"
	case errors.Is(err, ErrNotInRoom):
		return "not-in-room"
	case errors.Is(err, ErrTooManyRooms):
		return "too-many-rooms"
	case errors.Is(err, ErrBadRequest):
		return "bad-request"
	default:
		return "internal-error"
	}
}
