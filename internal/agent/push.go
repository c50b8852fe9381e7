package agent

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/peerdrop/peerdrop/internal/protocol"
	"github.com/peerdrop/peerdrop/internal/server"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	// replyWait bounds how long RegisterHost and Join wait for the
	// coordinator's response frame.
	replyWait = 10 * time.Second
)

// PushLink talks to the coordinator over one websocket. Signals arrive the
// moment the coordinator relays them.
type PushLink struct {
	identity  string
	serverURL string

	conn     *websocket.Conn
	outgoing chan *server.Message
	done     chan struct{}
	closed   bool

	registered chan string
	joined     chan protocol.JoinResult

	signals      chan protocol.Signal
	downloads    chan map[string]int
	filesUpdated chan FilesUpdate
	roomClosed   chan struct{}
	errs         chan string
}

// NewPushLink creates a push link for the given identity. Connect must be
// called before any other method.
func NewPushLink(serverURL, identity string) *PushLink {
	return &PushLink{
		identity:     identity,
		serverURL:    serverURL,
		outgoing:     make(chan *server.Message, 1),
		done:         make(chan struct{}),
		registered:   make(chan string, 1),
		joined:       make(chan protocol.JoinResult, 1),
		signals:      make(chan protocol.Signal, 32),
		downloads:    make(chan map[string]int, 4),
		filesUpdated: make(chan FilesUpdate, 4),
		roomClosed:   make(chan struct{}, 1),
		errs:         make(chan string, 4),
	}
}

// Connect establishes the websocket connection and starts the pumps.
func (l *PushLink) Connect() error {
	u, err := url.Parse(l.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	l.conn = conn
	l.conn.SetReadLimit(maxMessageSize)
	l.conn.SetPongHandler(func(string) error {
		l.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go l.readPump()
	go l.writePump()

	return nil
}

func (l *PushLink) readPump() {
	defer func() {
		l.conn.Close()
		close(l.signals)
	}()

	l.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var msg server.Message
		if err := l.conn.ReadJSON(&msg); err != nil {
			return
		}
		l.route(&msg)
	}
}

func (l *PushLink) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		l.conn.Close()
	}()

	for {
		select {
		case msg := <-l.outgoing:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-l.done:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			l.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// route dispatches one inbound frame onto the matching channel. Channels are
// buffered; a frame nobody is listening for is dropped rather than wedging
// the read pump.
func (l *PushLink) route(msg *server.Message) {
	switch msg.Type {
	case server.MessageTypeRoomRegistered:
		select {
		case l.registered <- msg.RoomID:
		default:
		}

	case server.MessageTypeJoinSuccess:
		var result protocol.JoinResult
		if err := json.Unmarshal(msg.Payload, &result); err != nil {
			l.pushError("invalid join_success payload")
			return
		}
		select {
		case l.joined <- result:
		default:
		}

	case server.MessageTypeSignal:
		var sig protocol.Signal
		if err := json.Unmarshal(msg.Payload, &sig); err != nil {
			l.pushError("invalid signal payload")
			return
		}
		l.signals <- sig

	case server.MessageTypeDownloads:
		var payload server.DownloadsPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return
		}
		select {
		case l.downloads <- payload.Downloads:
		default:
		}

	case server.MessageTypeFilesUpdated:
		var payload server.FilesUpdatedPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return
		}
		select {
		case l.filesUpdated <- FilesUpdate{Files: payload.Files, Version: payload.FilesVersion}:
		default:
		}

	case server.MessageTypeRoomClosed:
		select {
		case l.roomClosed <- struct{}{}:
		default:
		}

	case server.MessageTypeError:
		var payload server.ErrorPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			l.pushError("unknown error from server")
			return
		}
		l.pushError(payload.Error)
	}
}

func (l *PushLink) pushError(text string) {
	select {
	case l.errs <- text:
	default:
	}
}

func (l *PushLink) send(msgType, roomID string, payload any) error {
	msg := &server.Message{Type: msgType, RoomID: roomID}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		msg.Payload = b
	}

	select {
	case l.outgoing <- msg:
		return nil
	case <-l.done:
		return fmt.Errorf("link closed")
	}
}

func (l *PushLink) RegisterHost(roomID string) (string, error) {
	err := l.send(server.MessageTypeRegisterHost, roomID,
		server.RegisterHostPayload{Identity: l.identity})
	if err != nil {
		return "", err
	}

	select {
	case code := <-l.registered:
		return code, nil
	case text := <-l.errs:
		return "", fmt.Errorf("%w: %s", ErrSignalingError, text)
	case <-time.After(replyWait):
		return "", newError("register host", ErrTimeout)
	}
}

func (l *PushLink) Join(roomID string) (protocol.JoinResult, error) {
	err := l.send(server.MessageTypeJoinRoom, roomID,
		server.JoinPayload{Identity: l.identity})
	if err != nil {
		return protocol.JoinResult{}, err
	}

	select {
	case result := <-l.joined:
		return result, nil
	case text := <-l.errs:
		return protocol.JoinResult{}, fmt.Errorf("%w: %s", ErrSignalingError, text)
	case <-time.After(replyWait):
		return protocol.JoinResult{}, newFileError("join", roomID, ErrTimeout)
	}
}

func (l *PushLink) SetFiles(files []protocol.FileDescriptor) error {
	return l.send(server.MessageTypeSetFiles, "", server.SetFilesPayload{Files: files})
}

func (l *PushLink) SendSignal(sig protocol.Signal) error {
	return l.send(server.MessageTypeSignal, "", sig)
}

func (l *PushLink) RequestFile(fileID string) error {
	return l.send(server.MessageTypeRequestFile, "",
		server.FilePayload{Identity: l.identity, FileID: fileID})
}

func (l *PushLink) DownloadComplete(fileID string) error {
	return l.send(server.MessageTypeDownloadComplete, "",
		server.FilePayload{Identity: l.identity, FileID: fileID})
}

func (l *PushLink) Leave() error {
	return l.send(server.MessageTypeLeaveRoom, "", nil)
}

func (l *PushLink) CloseRoom() error {
	return l.send(server.MessageTypeCloseRoom, "", nil)
}

func (l *PushLink) Signals() <-chan protocol.Signal  { return l.signals }
func (l *PushLink) Downloads() <-chan map[string]int { return l.downloads }
func (l *PushLink) FilesUpdated() <-chan FilesUpdate { return l.filesUpdated }
func (l *PushLink) RoomClosed() <-chan struct{}      { return l.roomClosed }
func (l *PushLink) Errors() <-chan string            { return l.errs }
func (l *PushLink) Identity() string                 { return l.identity }

// Close shuts the connection down. Safe to call once.
func (l *PushLink) Close() {
	if l.closed {
		return
	}
	l.closed = true
	close(l.done)
}
