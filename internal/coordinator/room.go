package coordinator

import (
	"sync"
	"time"

	"github.com/peerdrop/peerdrop/internal/protocol"
)

// room is the unit of state in the registry. Every operation on a room takes
// its mutex; no operation spans two rooms, so there is no global lock beyond
// the registry's map guard.
type room struct {
	mu sync.Mutex

	id           string
	hostID       string
	lastSeenHost time.Time
	hostMailbox  []protocol.Signal

	files        []protocol.FileDescriptor
	filesVersion uint64

	clients map[string]*clientSession

	// downloads maps fileID -> the set of clients currently fetching it.
	// Derived index: kept consistent with join/leave/timeout by the same
	// handlers that mutate the client map.
	downloads map[string]map[string]struct{}
}

// clientSession tracks one joined client and its pending signal mailbox.
type clientSession struct {
	id       string
	lastSeen time.Time
	mailbox  []protocol.Signal
}

func newRoom(id, hostID string, now time.Time) *room {
	return &room{
		id:           id,
		hostID:       hostID,
		lastSeenHost: now,
		clients:      make(map[string]*clientSession),
		downloads:    make(map[string]map[string]struct{}),
	}
}

// downloadCounts snapshots the per-file active-peer counts. Caller holds r.mu.
func (r *room) downloadCounts() map[string]int {
	counts := make(map[string]int, len(r.downloads))
	for fileID, peers := range r.downloads {
		counts[fileID] = len(peers)
	}
	return counts
}

// dropClient removes a client session and scrubs it from every download set.
// Caller holds r.mu.
func (r *room) dropClient(clientID string) {
	delete(r.clients, clientID)
	for fileID, peers := range r.downloads {
		delete(peers, clientID)
		if len(peers) == 0 {
			delete(r.downloads, fileID)
		}
	}
}

// filesSnapshot copies the current file list so callers can hold it without
// the room lock. Caller holds r.mu.
func (r *room) filesSnapshot() []protocol.FileDescriptor {
	files := make([]protocol.FileDescriptor, len(r.files))
	copy(files, r.files)
	return files
}

func (r *room) hasFile(fileID string) bool {
	for _, f := range r.files {
		if f.ID == fileID {
			return true
		}
	}
	return false
}
