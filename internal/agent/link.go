// Package agent implements the peer side of the system: the coordinator link
// (push or poll), WebRTC negotiation, and the host and fetch sessions built
// on top of them.
package agent

import (
	"github.com/google/uuid"

	"github.com/peerdrop/peerdrop/internal/protocol"
)

// FilesUpdate is a replaced file list observed by a joined client.
type FilesUpdate struct {
	Files   []protocol.FileDescriptor
	Version uint64
}

// Link is the coordinator contract both transports satisfy. A session works
// the same over a websocket as over polled HTTP; only delivery latency
// differs.
type Link interface {
	// RegisterHost creates or takes over a room and returns its code. An
	// empty roomID asks the coordinator for a fresh one.
	RegisterHost(roomID string) (string, error)

	// Join enters an existing room as a downloading client.
	Join(roomID string) (protocol.JoinResult, error)

	SetFiles(files []protocol.FileDescriptor) error
	SendSignal(sig protocol.Signal) error
	RequestFile(fileID string) error
	DownloadComplete(fileID string) error
	Leave() error
	CloseRoom() error

	// Signals streams relayed signals addressed to this identity.
	Signals() <-chan protocol.Signal

	// Downloads streams active-download snapshots (host side only).
	Downloads() <-chan map[string]int

	// FilesUpdated streams file-list replacements (client side only).
	FilesUpdated() <-chan FilesUpdate

	// RoomClosed fires once when the room is gone: closed by the host,
	// evicted by the staleness sweep, or the host went offline.
	RoomClosed() <-chan struct{}

	// Errors streams terminal error strings from the coordinator.
	Errors() <-chan string

	Identity() string
	Close()
}

// NewIdentity mints the peer identity used for signal routing.
func NewIdentity() string {
	return uuid.NewString()
}
