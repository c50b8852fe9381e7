// Package protocol defines the signaling relay contract shared by the
// coordinator, both transports, and the peer agent. The coordinator routes
// Signals by their target without ever inspecting payloads.
package protocol

import (
	"encoding/json"
	"time"
)

// Signal kinds carried end-to-end through the coordinator.
const (
	SignalOffer        = "offer"
	SignalAnswer       = "answer"
	SignalICECandidate = "ice-candidate"
	SignalFileRequest  = "file-request"

	// SignalPeerGone is coordinator-originated, not relayed: it tells the
	// host a client left or timed out, so every transfer keyed to that
	// peer can be torn down. From names the departed client.
	SignalPeerGone = "peer-gone"
)

// TargetHost is the sentinel To value addressing whoever currently hosts the
// room, so clients do not need to know the host identity before joining.
const TargetHost = "host"

// Signal is one relayed message. Payload is opaque to the coordinator; only
// the two endpoints of a negotiation interpret it. Every offer/answer/
// ice-candidate is scoped to (From, FileID): one peer may negotiate several
// files concurrently, so receivers must key negotiation state by that pair.
type Signal struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	FileID    string          `json:"file_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// FileDescriptor describes one file a host offers. Immutable once announced;
// hosts replace the whole list to change it.
type FileDescriptor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
}

// RoomStatus is the answer to a status query.
type RoomStatus struct {
	Exists    bool `json:"exists"`
	HasHost   bool `json:"has_host"`
	FileCount int  `json:"file_count"`
}

// JoinResult is what a client receives on a successful join.
type JoinResult struct {
	HostID       string           `json:"host_id"`
	Files        []FileDescriptor `json:"files"`
	FilesVersion uint64           `json:"files_version"`
}

// HostPoll is the batched state a polling host drains each cycle.
type HostPoll struct {
	Signals     []Signal       `json:"signals,omitempty"`
	ClientCount int            `json:"client_count"`
	Downloads   map[string]int `json:"downloads,omitempty"`
}

// ClientPoll is the batched state a polling client drains each cycle.
// HostOnline false is terminal: the client should stop polling and leave.
type ClientPoll struct {
	Signals      []Signal         `json:"signals,omitempty"`
	Files        []FileDescriptor `json:"files"`
	FilesVersion uint64           `json:"files_version"`
	HostOnline   bool             `json:"host_online"`
}
