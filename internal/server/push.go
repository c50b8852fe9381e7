package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/peerdrop/peerdrop/internal/coordinator"
	"github.com/peerdrop/peerdrop/internal/protocol"
	"github.com/peerdrop/peerdrop/internal/roomcode"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,

	// Signaling frames carry no secrets and rooms are unauthenticated by
	// design, so cross-origin upgrades are allowed.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Push is the push-style delivery transport: one websocket per peer, signals
// delivered the moment the coordinator relays them. All room state lives in
// the coordinator; Push only owns connections.
type Push struct {
	registry *coordinator.Registry
	logger   *slog.Logger

	register   chan *client
	unregister chan *client
	inbound    chan *Message

	// mu guards the connection indexes, which the coordinator's notify
	// hook reads from outside the Run goroutine.
	mu    sync.RWMutex
	conns map[string]*client          // identity -> connection
	rooms map[string]map[*client]bool // roomID -> connections

	// touchEvery is how often Run refreshes liveness for every tracked
	// connection. An open websocket is proof of life even when the peer has
	// nothing to send, and the ping cycle is slower than the staleness
	// window, so the sweep would otherwise evict idle connected peers.
	touchEvery time.Duration
}

// NewPush creates the push transport and installs its delivery hook on the
// registry.
func NewPush(registry *coordinator.Registry, logger *slog.Logger) *Push {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Push{
		registry:   registry,
		logger:     logger,
		register:   make(chan *client),
		unregister: make(chan *client),
		inbound:    make(chan *Message),
		conns:      make(map[string]*client),
		rooms:      make(map[string]map[*client]bool),
		touchEvery: registry.StaleAfter() / 3,
	}
	registry.SetNotify(p.deliver)
	return p
}

// ServeWS upgrades an HTTP request and starts the connection's pumps.
func (p *Push) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		push: p,
		conn: conn,
		send: make(chan *Message, 256),
	}
	p.register <- c

	go c.writePump()
	go c.readPump()
}

// Run processes registration and inbound frames until ctx-free shutdown via
// channel closure is not needed; the server exits with the process.
func (p *Push) Run() {
	ticker := time.NewTicker(p.touchEvery)
	defer ticker.Stop()

	for {
		select {
		case c := <-p.register:
			p.logger.Debug("connection registered", "remote", c.conn.RemoteAddr())

		case c := <-p.unregister:
			p.drop(c)

		case msg := <-p.inbound:
			p.handle(msg)

		case <-ticker.C:
			p.touchAll()
		}
	}
}

// deliver is the coordinator's notify hook: drain the identity's mailbox and
// push each signal down its connection. Poll-transport peers have no
// connection here and keep their mailbox for the next poll.
func (p *Push) deliver(roomID, identity string) {
	p.mu.RLock()
	c, ok := p.conns[identity]
	p.mu.RUnlock()
	if !ok {
		return
	}

	for _, sig := range p.registry.DrainMailbox(roomID, identity) {
		p.queue(c, &Message{
			Type:    MessageTypeSignal,
			RoomID:  roomID,
			Payload: mustJSON(sig),
		})
	}
}

// queue hands a frame to a connection's write pump. Every outbound frame
// goes through here: the closed flag is checked under the same lock drop
// sets it, so a delivery racing a disconnect can never send on the closed
// channel. The send is non-blocking; a connection whose buffer is full loses
// the frame rather than wedging the caller, which may be an HTTP handler
// goroutine relaying through the notify hook.
func (p *Push) queue(c *client, msg *Message) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		p.logger.Warn("send buffer full, frame dropped",
			"identity", c.identity, "type", msg.Type)
	}
}

// touchAll refreshes liveness for every tracked connection. A dead socket
// stops being refreshed once its read deadline lapses and the pumps tear it
// down.
func (p *Push) touchAll() {
	p.mu.RLock()
	conns := make([]*client, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.mu.RUnlock()

	for _, c := range conns {
		p.touch(c)
	}
}

// touch refreshes coordinator liveness for one connection.
func (p *Push) touch(c *client) {
	if c.roomID == "" || c.identity == "" {
		return
	}
	if c.isHost {
		p.registry.TouchHost(c.roomID, c.identity)
	} else {
		p.registry.TouchClient(c.roomID, c.identity)
	}
}

func (p *Push) track(c *client) {
	p.mu.Lock()
	p.conns[c.identity] = c
	peers, ok := p.rooms[c.roomID]
	if !ok {
		peers = make(map[*client]bool)
		p.rooms[c.roomID] = peers
	}
	peers[c] = true
	p.mu.Unlock()
}

func (p *Push) drop(c *client) {
	p.mu.Lock()
	c.closed = true
	if c.identity != "" && p.conns[c.identity] == c {
		delete(p.conns, c.identity)
	}
	if peers, ok := p.rooms[c.roomID]; ok {
		delete(peers, c)
		if len(peers) == 0 {
			delete(p.rooms, c.roomID)
		}
	}
	p.mu.Unlock()

	// A dropped client connection is an implicit leave. A dropped host
	// keeps its room alive until the staleness sweep, so a host can
	// reconnect and take the room back over.
	if c.roomID != "" && c.identity != "" && !c.isHost {
		p.registry.LeaveClient(c.roomID, c.identity)
	}

	close(c.send)
	p.logger.Debug("connection dropped", "identity", c.identity, "room", c.roomID)
}

// broadcast sends a frame to every connection in a room, optionally skipping
// one identity.
func (p *Push) broadcast(roomID string, msg *Message, skipIdentity string) {
	p.mu.RLock()
	targets := make([]*client, 0, len(p.rooms[roomID]))
	for c := range p.rooms[roomID] {
		if c.identity != skipIdentity {
			targets = append(targets, c)
		}
	}
	p.mu.RUnlock()

	for _, c := range targets {
		p.queue(c, msg)
	}
}

func (p *Push) sendError(c *client, text string) {
	p.queue(c, &Message{
		Type:    MessageTypeError,
		Payload: mustJSON(ErrorPayload{Error: text}),
	})
}

func (p *Push) handle(msg *Message) {
	c := msg.client

	// Any inbound frame proves the peer is alive.
	if c.roomID != "" && c.identity != "" {
		if c.isHost {
			p.registry.TouchHost(c.roomID, c.identity)
		} else {
			p.registry.TouchClient(c.roomID, c.identity)
		}
	}

	switch msg.Type {
	case MessageTypeRegisterHost:
		p.handleRegisterHost(c, msg)

	case MessageTypeJoinRoom:
		p.handleJoin(c, msg)

	case MessageTypeSetFiles:
		p.handleSetFiles(c, msg)

	case MessageTypeSignal:
		p.handleSignal(c, msg)

	case MessageTypeRequestFile:
		p.handleRequestFile(c, msg)

	case MessageTypeDownloadComplete:
		p.handleDownloadComplete(c, msg)

	case MessageTypeLeaveRoom:
		if c.roomID != "" && !c.isHost {
			p.registry.LeaveClient(c.roomID, c.identity)
		}

	case MessageTypeCloseRoom:
		p.handleCloseRoom(c)

	default:
		p.logger.Warn("unknown frame type", "type", msg.Type)
	}
}

func (p *Push) handleRegisterHost(c *client, msg *Message) {
	var payload RegisterHostPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.Identity == "" {
		p.sendError(c, "invalid register_host payload")
		return
	}

	roomID := msg.RoomID
	if roomID == "" {
		for {
			roomID = roomcode.New()
			if !p.registry.RoomStatus(roomID).Exists {
				break
			}
		}
	}

	p.registry.RegisterHost(roomID, payload.Identity)
	c.identity = payload.Identity
	c.roomID = roomID
	c.isHost = true
	p.track(c)

	p.queue(c, &Message{Type: MessageTypeRoomRegistered, RoomID: roomID})
}

func (p *Push) handleJoin(c *client, msg *Message) {
	var payload JoinPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.Identity == "" {
		p.sendError(c, "invalid join_room payload")
		return
	}

	result, err := p.registry.JoinClient(msg.RoomID, payload.Identity)
	if err != nil {
		p.sendError(c, err.Error())
		return
	}

	c.identity = payload.Identity
	c.roomID = msg.RoomID
	p.track(c)

	p.queue(c, &Message{
		Type:    MessageTypeJoinSuccess,
		RoomID:  msg.RoomID,
		Payload: mustJSON(result),
	})
}

func (p *Push) handleSetFiles(c *client, msg *Message) {
	if !c.isHost {
		p.sendError(c, "only the host can set files")
		return
	}
	var payload SetFilesPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		p.sendError(c, "invalid set_files payload")
		return
	}

	version, err := p.registry.SetFiles(c.roomID, payload.Files)
	if err != nil {
		p.sendError(c, err.Error())
		return
	}

	p.broadcast(c.roomID, &Message{
		Type:   MessageTypeFilesUpdated,
		RoomID: c.roomID,
		Payload: mustJSON(FilesUpdatedPayload{
			Files:        payload.Files,
			FilesVersion: version,
		}),
	}, c.identity)
}

func (p *Push) handleSignal(c *client, msg *Message) {
	var sig protocol.Signal
	if err := json.Unmarshal(msg.Payload, &sig); err != nil {
		p.sendError(c, "invalid signal payload")
		return
	}
	sig.From = c.identity

	if err := p.registry.RelaySignal(c.roomID, sig); err != nil {
		if errors.Is(err, coordinator.ErrRoomNotFound) {
			p.sendError(c, err.Error())
		}
	}
}

func (p *Push) handleRequestFile(c *client, msg *Message) {
	var payload FilePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.FileID == "" {
		p.sendError(c, "invalid request_file payload")
		return
	}

	counts, err := p.registry.RecordDownloadStart(c.roomID, payload.FileID, c.identity)
	if err != nil {
		p.sendError(c, err.Error())
		return
	}

	p.registry.RelaySignal(c.roomID, protocol.Signal{
		From:   c.identity,
		To:     protocol.TargetHost,
		Kind:   protocol.SignalFileRequest,
		FileID: payload.FileID,
	})
	p.notifyDownloads(c.roomID, counts)
}

func (p *Push) handleDownloadComplete(c *client, msg *Message) {
	var payload FilePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.FileID == "" {
		p.sendError(c, "invalid download_complete payload")
		return
	}

	counts, err := p.registry.RecordDownloadComplete(c.roomID, payload.FileID, c.identity)
	if err != nil {
		return
	}
	p.notifyDownloads(c.roomID, counts)
}

// notifyDownloads pushes the active-download snapshot to the room's host for
// observability.
func (p *Push) notifyDownloads(roomID string, counts map[string]int) {
	status := p.registry.RoomStatus(roomID)
	if !status.Exists {
		return
	}
	p.mu.RLock()
	var host *client
	for c := range p.rooms[roomID] {
		if c.isHost {
			host = c
			break
		}
	}
	p.mu.RUnlock()
	if host != nil {
		p.queue(host, &Message{
			Type:    MessageTypeDownloads,
			RoomID:  roomID,
			Payload: mustJSON(DownloadsPayload{Downloads: counts}),
		})
	}
}

func (p *Push) handleCloseRoom(c *client) {
	if !c.isHost || c.roomID == "" {
		return
	}
	p.registry.CloseRoom(c.roomID)
	p.broadcast(c.roomID, &Message{Type: MessageTypeRoomClosed, RoomID: c.roomID}, c.identity)
}
