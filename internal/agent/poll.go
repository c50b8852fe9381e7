package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"time"

	"github.com/peerdrop/peerdrop/internal/protocol"
	"github.com/peerdrop/peerdrop/internal/server"
)

// PollLink talks to the coordinator over plain HTTP, draining its mailbox on
// a fixed interval. Functionally equivalent to PushLink with higher latency;
// for peers that cannot hold a websocket.
type PollLink struct {
	identity string
	baseURL  string
	interval time.Duration
	http     *http.Client

	roomID string
	isHost bool

	done   chan struct{}
	closed bool

	signals      chan protocol.Signal
	downloads    chan map[string]int
	filesUpdated chan FilesUpdate
	roomClosed   chan struct{}
	errs         chan string

	// lastFilesVersion and lastDownloads dedupe updates across poll
	// cycles, so the channels only carry changes like the push transport.
	lastFilesVersion uint64
	lastDownloads    map[string]int
}

// NewPollLink creates a poll link for the given identity.
func NewPollLink(baseURL, identity string, interval time.Duration) *PollLink {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &PollLink{
		identity:     identity,
		baseURL:      baseURL,
		interval:     interval,
		http:         &http.Client{Timeout: 15 * time.Second},
		done:         make(chan struct{}),
		signals:      make(chan protocol.Signal, 32),
		downloads:    make(chan map[string]int, 4),
		filesUpdated: make(chan FilesUpdate, 4),
		roomClosed:   make(chan struct{}, 1),
		errs:         make(chan string, 4),
	}
}

type httpError struct {
	Status int
	Text   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Text)
}

func (l *PollLink) do(method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, l.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return &httpError{Status: resp.StatusCode, Text: errResp.Error}
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (l *PollLink) RegisterHost(roomID string) (string, error) {
	if roomID == "" {
		var created struct {
			RoomID string `json:"room_id"`
		}
		if err := l.do(http.MethodPost, "/api/rooms", nil, &created); err != nil {
			return "", err
		}
		roomID = created.RoomID
	}

	body := map[string]string{"identity": l.identity}
	if err := l.do(http.MethodPost, "/api/rooms/"+roomID+"/host", body, nil); err != nil {
		return "", err
	}

	l.roomID = roomID
	l.isHost = true
	go l.loop()
	return roomID, nil
}

func (l *PollLink) Join(roomID string) (protocol.JoinResult, error) {
	var result protocol.JoinResult
	body := map[string]string{"identity": l.identity}
	if err := l.do(http.MethodPost, "/api/rooms/"+roomID+"/join", body, &result); err != nil {
		return protocol.JoinResult{}, err
	}

	l.roomID = roomID
	l.lastFilesVersion = result.FilesVersion
	go l.loop()
	return result, nil
}

// loop drains the mailbox every interval until the link closes or the room
// goes away.
func (l *PollLink) loop() {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			if !l.poll() {
				select {
				case l.roomClosed <- struct{}{}:
				default:
				}
				return
			}
		}
	}
}

// poll runs one cycle. Returns false when the room is terminally gone.
func (l *PollLink) poll() bool {
	if l.isHost {
		var poll protocol.HostPoll
		err := l.do(http.MethodGet,
			"/api/rooms/"+l.roomID+"/host/poll?identity="+l.identity, nil, &poll)
		if err != nil {
			return !terminal(err)
		}

		for _, sig := range poll.Signals {
			l.signals <- sig
		}
		if !maps.Equal(poll.Downloads, l.lastDownloads) {
			l.lastDownloads = poll.Downloads
			select {
			case l.downloads <- poll.Downloads:
			default:
			}
		}
		return true
	}

	var poll protocol.ClientPoll
	err := l.do(http.MethodGet,
		"/api/rooms/"+l.roomID+"/client/poll?identity="+l.identity, nil, &poll)
	if err != nil {
		return !terminal(err)
	}

	for _, sig := range poll.Signals {
		l.signals <- sig
	}
	if poll.FilesVersion != l.lastFilesVersion {
		l.lastFilesVersion = poll.FilesVersion
		select {
		case l.filesUpdated <- FilesUpdate{Files: poll.Files, Version: poll.FilesVersion}:
		default:
		}
	}
	return poll.HostOnline
}

// terminal reports whether an error means the room is gone for good, as
// opposed to a transient network failure worth retrying next cycle.
func terminal(err error) bool {
	if he, ok := err.(*httpError); ok {
		return he.Status == http.StatusNotFound || he.Status == http.StatusGone
	}
	return false
}

func (l *PollLink) SetFiles(files []protocol.FileDescriptor) error {
	body := map[string]any{"files": files}
	return l.do(http.MethodPut, "/api/rooms/"+l.roomID+"/files", body, nil)
}

func (l *PollLink) SendSignal(sig protocol.Signal) error {
	sig.From = l.identity
	return l.do(http.MethodPost, "/api/rooms/"+l.roomID+"/signal", sig, nil)
}

func (l *PollLink) RequestFile(fileID string) error {
	body := map[string]string{"identity": l.identity, "file_id": fileID}
	var counts server.DownloadsPayload
	return l.do(http.MethodPost, "/api/rooms/"+l.roomID+"/request", body, &counts)
}

func (l *PollLink) DownloadComplete(fileID string) error {
	body := map[string]string{"identity": l.identity, "file_id": fileID}
	var counts server.DownloadsPayload
	return l.do(http.MethodPost, "/api/rooms/"+l.roomID+"/downloaded", body, &counts)
}

func (l *PollLink) Leave() error {
	body := map[string]string{"identity": l.identity}
	return l.do(http.MethodPost, "/api/rooms/"+l.roomID+"/leave", body, nil)
}

func (l *PollLink) CloseRoom() error {
	return l.do(http.MethodDelete, "/api/rooms/"+l.roomID, nil, nil)
}

func (l *PollLink) Signals() <-chan protocol.Signal  { return l.signals }
func (l *PollLink) Downloads() <-chan map[string]int { return l.downloads }
func (l *PollLink) FilesUpdated() <-chan FilesUpdate { return l.filesUpdated }
func (l *PollLink) RoomClosed() <-chan struct{}      { return l.roomClosed }
func (l *PollLink) Errors() <-chan string            { return l.errs }
func (l *PollLink) Identity() string                 { return l.identity }

// Close stops the poll loop. Safe to call once.
func (l *PollLink) Close() {
	if l.closed {
		return
	}
	l.closed = true
	close(l.done)
}
