package server

import (
	"encoding/json"

	"github.com/peerdrop/peerdrop/internal/protocol"
)

// Message is the envelope for every frame on the push (websocket) transport,
// both directions.
type Message struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"room_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// client is the connection the frame arrived on. Set by the read pump,
	// never serialized.
	client *client
}

// Client-to-server frame types.
const (
	MessageTypeRegisterHost     = "register_host"
	MessageTypeSetFiles         = "set_files"
	MessageTypeJoinRoom         = "join_room"
	MessageTypeSignal           = "signal"
	MessageTypeRequestFile      = "request_file"
	MessageTypeDownloadComplete = "download_complete"
	MessageTypeLeaveRoom        = "leave_room"
	MessageTypeCloseRoom        = "close_room"
)

// Server-to-client frame types.
const (
	MessageTypeRoomRegistered = "room_registered"
	MessageTypeJoinSuccess    = "join_success"
	MessageTypeFilesUpdated   = "files_updated"
	MessageTypeDownloads      = "downloads"
	MessageTypeRoomClosed     = "room_closed"
	MessageTypeError          = "error"
)

// RegisterHostPayload asks the server to create or take over a room. An empty
// RoomID in the envelope requests a fresh code.
type RegisterHostPayload struct {
	Identity string `json:"identity"`
}

// JoinPayload asks to join an existing room.
type JoinPayload struct {
	Identity string `json:"identity"`
}

// SetFilesPayload replaces the host's offered file list.
type SetFilesPayload struct {
	Files []protocol.FileDescriptor `json:"files"`
}

// FilePayload names a file for request/complete tracking.
type FilePayload struct {
	Identity string `json:"identity"`
	FileID   string `json:"file_id"`
}

// FilesUpdatedPayload pushes a replaced file list to joined clients.
type FilesUpdatedPayload struct {
	Files        []protocol.FileDescriptor `json:"files"`
	FilesVersion uint64                    `json:"files_version"`
}

// DownloadsPayload is the host-side observability snapshot.
type DownloadsPayload struct {
	Downloads map[string]int `json:"downloads"`
}

// ErrorPayload carries a terminal error string to the peer.
type ErrorPayload struct {
	Error string `json:"error"`
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
