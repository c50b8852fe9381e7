package coordinator

import "errors"

var (
	// ErrRoomNotFound covers rooms that never existed, were closed by the
	// host, or were evicted by the staleness sweep. Terminal for the caller.
	ErrRoomNotFound = errors.New("room not found")

	// ErrHostOffline means the room still exists but the host has not
	// refreshed liveness within the staleness window. Terminal for clients.
	ErrHostOffline = errors.New("host offline")

	// ErrUnknownFile means a download was recorded against a file ID the
	// host never announced.
	ErrUnknownFile = errors.New("unknown file")
)
