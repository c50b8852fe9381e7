package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/peerdrop/peerdrop/internal/coordinator"
	"github.com/peerdrop/peerdrop/internal/protocol"
	"github.com/peerdrop/peerdrop/internal/roomcode"
)

// Poll is the heartbeat/poll fallback transport: plain HTTP request/response
// against the same coordinator the push transport uses. Peers that cannot
// hold a websocket drain their mailboxes on a fixed polling interval.
type Poll struct {
	registry *coordinator.Registry
	logger   *slog.Logger
}

// NewPoll creates the poll transport.
func NewPoll(registry *coordinator.Registry, logger *slog.Logger) *Poll {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poll{registry: registry, logger: logger}
}

// Register installs the poll endpoints on mux.
func (p *Poll) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/rooms", p.handleCreateRoom)
	mux.HandleFunc("GET /api/rooms/{id}", p.handleRoomStatus)
	mux.HandleFunc("DELETE /api/rooms/{id}", p.handleCloseRoom)
	mux.HandleFunc("POST /api/rooms/{id}/host", p.handleRegisterHost)
	mux.HandleFunc("PUT /api/rooms/{id}/files", p.handleSetFiles)
	mux.HandleFunc("POST /api/rooms/{id}/join", p.handleJoin)
	mux.HandleFunc("POST /api/rooms/{id}/leave", p.handleLeave)
	mux.HandleFunc("POST /api/rooms/{id}/signal", p.handleSignal)
	mux.HandleFunc("POST /api/rooms/{id}/request", p.handleRequestFile)
	mux.HandleFunc("POST /api/rooms/{id}/downloaded", p.handleDownloadComplete)
	mux.HandleFunc("GET /api/rooms/{id}/host/poll", p.handleHostPoll)
	mux.HandleFunc("GET /api/rooms/{id}/client/poll", p.handleClientPoll)
}

type createRoomResponse struct {
	RoomID string `json:"room_id"`
}

type identityRequest struct {
	Identity string `json:"identity"`
}

type fileRequest struct {
	Identity string `json:"identity"`
	FileID   string `json:"file_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the coordinator taxonomy onto status codes: RoomNotFound
// and HostOffline are terminal for the caller, bad payloads are 400s.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, coordinator.ErrRoomNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, coordinator.ErrHostOffline):
		writeJSON(w, http.StatusGone, errorResponse{Error: err.Error()})
	case errors.Is(err, coordinator.ErrUnknownFile):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

func (p *Poll) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var roomID string
	for {
		roomID = roomcode.New()
		if !p.registry.RoomStatus(roomID).Exists {
			break
		}
	}
	writeJSON(w, http.StatusCreated, createRoomResponse{RoomID: roomID})
}

func (p *Poll) handleRoomStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, p.registry.RoomStatus(r.PathValue("id")))
}

func (p *Poll) handleCloseRoom(w http.ResponseWriter, r *http.Request) {
	p.registry.CloseRoom(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (p *Poll) handleRegisterHost(w http.ResponseWriter, r *http.Request) {
	var req identityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Identity == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "identity required"})
		return
	}
	p.registry.RegisterHost(r.PathValue("id"), req.Identity)
	w.WriteHeader(http.StatusNoContent)
}

func (p *Poll) handleSetFiles(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Files []protocol.FileDescriptor `json:"files"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	version, err := p.registry.SetFiles(r.PathValue("id"), req.Files)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"files_version": version})
}

func (p *Poll) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req identityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := p.registry.JoinClient(r.PathValue("id"), req.Identity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (p *Poll) handleLeave(w http.ResponseWriter, r *http.Request) {
	var req identityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p.registry.LeaveClient(r.PathValue("id"), req.Identity)
	w.WriteHeader(http.StatusNoContent)
}

func (p *Poll) handleSignal(w http.ResponseWriter, r *http.Request) {
	var sig protocol.Signal
	if !decodeBody(w, r, &sig) {
		return
	}
	if err := p.registry.RelaySignal(r.PathValue("id"), sig); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (p *Poll) handleRequestFile(w http.ResponseWriter, r *http.Request) {
	var req fileRequest
	if !decodeBody(w, r, &req) {
		return
	}
	roomID := r.PathValue("id")

	counts, err := p.registry.RecordDownloadStart(roomID, req.FileID, req.Identity)
	if err != nil {
		writeError(w, err)
		return
	}
	p.registry.RelaySignal(roomID, protocol.Signal{
		From:   req.Identity,
		To:     protocol.TargetHost,
		Kind:   protocol.SignalFileRequest,
		FileID: req.FileID,
	})
	writeJSON(w, http.StatusOK, DownloadsPayload{Downloads: counts})
}

func (p *Poll) handleDownloadComplete(w http.ResponseWriter, r *http.Request) {
	var req fileRequest
	if !decodeBody(w, r, &req) {
		return
	}
	counts, err := p.registry.RecordDownloadComplete(r.PathValue("id"), req.FileID, req.Identity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DownloadsPayload{Downloads: counts})
}

func (p *Poll) handleHostPoll(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.Query().Get("identity")
	if identity == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "identity required"})
		return
	}
	poll, err := p.registry.HostPoll(r.PathValue("id"), identity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, poll)
}

func (p *Poll) handleClientPoll(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.Query().Get("identity")
	if identity == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "identity required"})
		return
	}
	poll, err := p.registry.ClientPoll(r.PathValue("id"), identity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, poll)
}
