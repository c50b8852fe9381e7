// Package coordinator owns the ephemeral room registry: room lifecycle, peer
// liveness, per-peer signal mailboxes, and live accounting of which files are
// being fetched by whom. Both delivery transports (websocket push and HTTP
// poll) drive this one registry; nothing here knows how signals reach a peer.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/peerdrop/peerdrop/internal/protocol"
)

const (
	// DefaultStaleAfter is how long a peer may go without refreshing
	// liveness before the sweep evicts it.
	DefaultStaleAfter = 30 * time.Second

	// DefaultSweepInterval is the cadence of the staleness sweep.
	DefaultSweepInterval = 3 * time.Second
)

// NotifyFunc is called after a signal lands in a mailbox, outside any room
// lock. The push transport uses it to drain and deliver immediately; the poll
// transport leaves it nil and picks signals up on the next poll cycle.
type NotifyFunc func(roomID, identity string)

// Options configures a Registry. Zero values fall back to defaults.
type Options struct {
	Logger        *slog.Logger
	StaleAfter    time.Duration
	SweepInterval time.Duration
	Notify        NotifyFunc
}

// Registry is the shared source of truth for every room. All methods are safe
// for concurrent use; each mutation locks exactly one room.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room

	logger        *slog.Logger
	staleAfter    time.Duration
	sweepInterval time.Duration
	notify        NotifyFunc
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	staleAfter := opts.StaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	sweepInterval := opts.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	return &Registry{
		rooms:         make(map[string]*room),
		logger:        logger,
		staleAfter:    staleAfter,
		sweepInterval: sweepInterval,
		notify:        opts.Notify,
	}
}

// SetNotify installs the push-delivery hook. Must be called before the
// registry starts serving requests.
func (g *Registry) SetNotify(fn NotifyFunc) {
	g.notify = fn
}

func (g *Registry) room(roomID string) (*room, bool) {
	g.mu.RLock()
	r, ok := g.rooms[roomID]
	g.mu.RUnlock()
	return r, ok
}

// RegisterHost creates the room if absent, or refreshes host identity and
// liveness if present. Idempotent: a host reconnecting with a fresh identity
// simply takes over its room.
func (g *Registry) RegisterHost(roomID, hostID string) {
	now := time.Now()

	g.mu.Lock()
	r, ok := g.rooms[roomID]
	if !ok {
		r = newRoom(roomID, hostID, now)
		g.rooms[roomID] = r
		g.mu.Unlock()
		g.logger.Info("room created", "room", roomID, "host", hostID)
		return
	}
	g.mu.Unlock()

	r.mu.Lock()
	r.hostID = hostID
	r.lastSeenHost = now
	r.mu.Unlock()
	g.logger.Debug("host refreshed", "room", roomID, "host", hostID)
}

// RoomStatus reports existence, host presence, and file count. Pure read.
func (g *Registry) RoomStatus(roomID string) protocol.RoomStatus {
	r, ok := g.room(roomID)
	if !ok {
		return protocol.RoomStatus{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return protocol.RoomStatus{
		Exists:    true,
		HasHost:   r.hostID != "",
		FileCount: len(r.files),
	}
}

// SetFiles replaces the room's offered file list and bumps its version
// stamp, returning the new version.
func (g *Registry) SetFiles(roomID string, files []protocol.FileDescriptor) (uint64, error) {
	r, ok := g.room(roomID)
	if !ok {
		return 0, ErrRoomNotFound
	}
	r.mu.Lock()
	r.files = make([]protocol.FileDescriptor, len(files))
	copy(r.files, files)
	r.filesVersion++
	version := r.filesVersion
	r.mu.Unlock()

	g.logger.Info("files updated", "room", roomID, "count", len(files), "version", version)
	return version, nil
}

// JoinClient registers (or refreshes) a client session and returns the
// current file list and host identity. Fails if the room is gone or has no
// registered host; re-joining is idempotent.
func (g *Registry) JoinClient(roomID, clientID string) (protocol.JoinResult, error) {
	r, ok := g.room(roomID)
	if !ok {
		return protocol.JoinResult{}, ErrRoomNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hostID == "" {
		return protocol.JoinResult{}, ErrRoomNotFound
	}

	if session, ok := r.clients[clientID]; ok {
		session.lastSeen = time.Now()
	} else {
		r.clients[clientID] = &clientSession{id: clientID, lastSeen: time.Now()}
		g.logger.Info("client joined", "room", roomID, "client", clientID)
	}

	return protocol.JoinResult{
		HostID:       r.hostID,
		Files:        r.filesSnapshot(),
		FilesVersion: r.filesVersion,
	}, nil
}

// LeaveClient removes a client session along with all of its active-download
// entries, and tells the host which peer is gone so its sends stop. Leaving
// a room you are not in is a no-op.
func (g *Registry) LeaveClient(roomID, clientID string) {
	r, ok := g.room(roomID)
	if !ok {
		return
	}
	r.mu.Lock()
	_, present := r.clients[clientID]
	r.dropClient(clientID)
	hostID := r.hostID
	if present {
		r.hostMailbox = append(r.hostMailbox, protocol.Signal{
			From:      clientID,
			To:        hostID,
			Kind:      protocol.SignalPeerGone,
			Timestamp: time.Now(),
		})
	}
	r.mu.Unlock()

	if present {
		g.logger.Info("client left", "room", roomID, "client", clientID)
		if g.notify != nil {
			g.notify(roomID, hostID)
		}
	}
}

// CloseRoom deletes the room and every session and mailbox in it. Terminal:
// a later RegisterHost with the same ID starts a fresh room.
func (g *Registry) CloseRoom(roomID string) {
	g.mu.Lock()
	_, ok := g.rooms[roomID]
	delete(g.rooms, roomID)
	g.mu.Unlock()
	if ok {
		g.logger.Info("room closed", "room", roomID)
	}
}

// RelaySignal appends the signal to its target's mailbox: the host mailbox
// when To is the host identity or the "host" sentinel, otherwise the named
// client's. A vanished client target is silently dropped; the sender learns
// about the peer through liveness, not relay failures.
func (g *Registry) RelaySignal(roomID string, sig protocol.Signal) error {
	r, ok := g.room(roomID)
	if !ok {
		return ErrRoomNotFound
	}

	if sig.Timestamp.IsZero() {
		sig.Timestamp = time.Now()
	}

	r.mu.Lock()
	target := sig.To
	switch {
	case sig.To == protocol.TargetHost || sig.To == r.hostID:
		target = r.hostID
		r.hostMailbox = append(r.hostMailbox, sig)
	default:
		session, ok := r.clients[sig.To]
		if !ok {
			r.mu.Unlock()
			g.logger.Debug("signal dropped, target gone", "room", roomID, "to", sig.To, "kind", sig.Kind)
			return nil
		}
		session.mailbox = append(session.mailbox, sig)
	}
	r.mu.Unlock()

	if g.notify != nil {
		g.notify(roomID, target)
	}
	return nil
}

// RecordDownloadStart marks a client as actively fetching a file and returns
// the per-file active count snapshot. Idempotent per (file, client).
func (g *Registry) RecordDownloadStart(roomID, fileID, clientID string) (map[string]int, error) {
	r, ok := g.room(roomID)
	if !ok {
		return nil, ErrRoomNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasFile(fileID) {
		return nil, ErrUnknownFile
	}
	peers, ok := r.downloads[fileID]
	if !ok {
		peers = make(map[string]struct{})
		r.downloads[fileID] = peers
	}
	peers[clientID] = struct{}{}
	return r.downloadCounts(), nil
}

// RecordDownloadComplete clears a client's active-download entry, dropping
// the file's set entirely once no client is fetching it.
func (g *Registry) RecordDownloadComplete(roomID, fileID, clientID string) (map[string]int, error) {
	r, ok := g.room(roomID)
	if !ok {
		return nil, ErrRoomNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if peers, ok := r.downloads[fileID]; ok {
		delete(peers, clientID)
		if len(peers) == 0 {
			delete(r.downloads, fileID)
		}
	}
	return r.downloadCounts(), nil
}

// DrainMailbox atomically returns and clears the pending signals for one
// identity (host or client). Unknown identities drain empty: both transports
// call this on every cycle and a vanished session already surfaces through
// room status.
func (g *Registry) DrainMailbox(roomID, identity string) []protocol.Signal {
	r, ok := g.room(roomID)
	if !ok {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if identity == r.hostID || identity == protocol.TargetHost {
		signals := r.hostMailbox
		r.hostMailbox = nil
		return signals
	}
	if session, ok := r.clients[identity]; ok {
		signals := session.mailbox
		session.mailbox = nil
		return signals
	}
	return nil
}

// HostPoll refreshes host liveness and drains its mailbox along with the
// observability counters in one atomic step.
func (g *Registry) HostPoll(roomID, hostID string) (protocol.HostPoll, error) {
	r, ok := g.room(roomID)
	if !ok {
		return protocol.HostPoll{}, ErrRoomNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.hostID = hostID
	r.lastSeenHost = time.Now()
	signals := r.hostMailbox
	r.hostMailbox = nil

	return protocol.HostPoll{
		Signals:     signals,
		ClientCount: len(r.clients),
		Downloads:   r.downloadCounts(),
	}, nil
}

// ClientPoll refreshes client liveness and drains its mailbox, reporting the
// current file list and whether the host is still alive. A lapsed host that
// the sweep has not yet evicted surfaces as ErrHostOffline.
func (g *Registry) ClientPoll(roomID, clientID string) (protocol.ClientPoll, error) {
	r, ok := g.room(roomID)
	if !ok {
		return protocol.ClientPoll{}, ErrRoomNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	hostOnline := r.hostID != "" && time.Since(r.lastSeenHost) < g.staleAfter
	if !hostOnline {
		return protocol.ClientPoll{}, ErrHostOffline
	}

	session, ok := r.clients[clientID]
	if !ok {
		// Lazy re-create: a client polling after a coordinator restart or
		// its own eviction gets a fresh session rather than an error.
		session = &clientSession{id: clientID}
		r.clients[clientID] = session
	}
	session.lastSeen = time.Now()

	signals := session.mailbox
	session.mailbox = nil

	return protocol.ClientPoll{
		Signals:      signals,
		Files:        r.filesSnapshot(),
		FilesVersion: r.filesVersion,
		HostOnline:   true,
	}, nil
}

// TouchHost refreshes host liveness without draining anything. The push
// transport calls this on every inbound frame from the host connection.
func (g *Registry) TouchHost(roomID, hostID string) {
	r, ok := g.room(roomID)
	if !ok {
		return
	}
	r.mu.Lock()
	if r.hostID == hostID {
		r.lastSeenHost = time.Now()
	}
	r.mu.Unlock()
}

// TouchClient refreshes a client's liveness without draining anything.
func (g *Registry) TouchClient(roomID, clientID string) {
	r, ok := g.room(roomID)
	if !ok {
		return
	}
	r.mu.Lock()
	if session, ok := r.clients[clientID]; ok {
		session.lastSeen = time.Now()
	}
	r.mu.Unlock()
}

// SweepStale evicts every room whose host has lapsed, and within surviving
// rooms every client past the window, scrubbing active-download entries the
// same way an explicit leave does. Evicted clients learn the host is gone on
// their next interaction (RoomNotFound / HostOffline).
func (g *Registry) SweepStale(now time.Time) {
	cutoff := now.Add(-g.staleAfter)

	g.mu.Lock()
	stale := make([]*room, 0)
	for id, r := range g.rooms {
		r.mu.Lock()
		hostStale := r.lastSeenHost.Before(cutoff)
		r.mu.Unlock()
		if hostStale {
			delete(g.rooms, id)
			stale = append(stale, r)
		}
	}
	survivors := make([]*room, 0, len(g.rooms))
	for _, r := range g.rooms {
		survivors = append(survivors, r)
	}
	g.mu.Unlock()

	for _, r := range stale {
		g.logger.Info("room evicted, host stale", "room", r.id)
	}

	for _, r := range survivors {
		r.mu.Lock()
		evicted := false
		for clientID, session := range r.clients {
			if session.lastSeen.Before(cutoff) {
				r.dropClient(clientID)
				r.hostMailbox = append(r.hostMailbox, protocol.Signal{
					From:      clientID,
					To:        r.hostID,
					Kind:      protocol.SignalPeerGone,
					Timestamp: now,
				})
				evicted = true
				g.logger.Info("client evicted, stale", "room", r.id, "client", clientID)
			}
		}
		hostID := r.hostID
		r.mu.Unlock()
		if evicted && g.notify != nil {
			g.notify(r.id, hostID)
		}
	}
}

// Run drives the staleness sweep until ctx is cancelled, then drops every
// room on the way out.
func (g *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(g.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.mu.Lock()
			g.rooms = make(map[string]*room)
			g.mu.Unlock()
			return
		case now := <-ticker.C:
			g.SweepStale(now)
		}
	}
}

// StaleAfter reports the liveness window, so connection-backed transports
// can refresh their peers on a fraction of it.
func (g *Registry) StaleAfter() time.Duration {
	return g.staleAfter
}

// RoomCount reports how many rooms are live. Used by the health endpoint.
func (g *Registry) RoomCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}
