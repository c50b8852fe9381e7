// Package recv accumulates inbound data-channel frames into per-file receive
// buffers and assembles the final artifact when the sender's complete marker
// arrives. Purely event-driven: each frame is handled as it arrives.
package recv

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/peerdrop/peerdrop/internal/wire"
)

// Key identifies one receive buffer. Negotiations and transfers are scoped
// to (peer, file), never peer alone, because one peer may send several files
// concurrently.
type Key struct {
	PeerID string
	FileID string
}

// Artifact is an assembled file handed to the delivery collaborator.
type Artifact struct {
	PeerID       string
	FileID       string
	Name         string
	MediaType    string
	DeclaredSize int64
	Data         []byte
	Elapsed      time.Duration
}

// buffer collects ordered chunks for one transfer. Ordering comes from the
// channel's ordered delivery; no sequence numbers are kept.
type buffer struct {
	meta      wire.MetadataPayload
	hasMeta   bool
	chunks    [][]byte
	received  int64
	startTime time.Time
}

// Manager owns every in-flight receive buffer for one peer.
type Manager struct {
	mu      sync.Mutex
	buffers map[Key]*buffer

	logger *slog.Logger

	// OnProgress fires after every chunk with received and declared byte
	// counts; received is clamped to declared for display.
	OnProgress func(key Key, received, declared int64)

	// OnComplete hands the assembled artifact to the delivery
	// collaborator. The buffer is already discarded when it runs.
	OnComplete func(artifact Artifact)
}

// NewManager creates an empty receive manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		buffers: make(map[Key]*buffer),
		logger:  logger,
	}
}

// HandleFrame processes one raw data-channel message from a peer.
func (m *Manager) HandleFrame(peerID string, data []byte) error {
	msg, err := wire.Decode(data)
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}

	switch msg.Type {
	case wire.MessageTypeMetadata:
		var meta wire.MetadataPayload
		if err := msg.DecodePayload(&meta); err != nil {
			return fmt.Errorf("decode metadata: %w", err)
		}
		m.handleMetadata(peerID, meta)
		return nil

	case wire.MessageTypeChunk:
		var chunk wire.ChunkPayload
		if err := msg.DecodePayload(&chunk); err != nil {
			return fmt.Errorf("decode chunk: %w", err)
		}
		return m.handleChunk(peerID, chunk)

	case wire.MessageTypeComplete:
		var done wire.CompletePayload
		if err := msg.DecodePayload(&done); err != nil {
			return fmt.Errorf("decode complete: %w", err)
		}
		return m.handleComplete(peerID, done)

	default:
		m.logger.Warn("unknown frame type", "peer", peerID, "type", msg.Type)
		return nil
	}
}

func (m *Manager) handleMetadata(peerID string, meta wire.MetadataPayload) {
	key := Key{PeerID: peerID, FileID: meta.FileID}
	m.mu.Lock()
	m.buffers[key] = &buffer{
		meta:      meta,
		hasMeta:   true,
		startTime: time.Now(),
	}
	m.mu.Unlock()
	m.logger.Debug("receive started", "peer", peerID, "file", meta.FileID, "size", meta.Size)
}

func (m *Manager) handleChunk(peerID string, chunk wire.ChunkPayload) error {
	key := Key{PeerID: peerID, FileID: chunk.FileID}

	m.mu.Lock()
	b, ok := m.buffers[key]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("chunk for unknown transfer %s/%s", peerID, chunk.FileID)
	}
	b.chunks = append(b.chunks, chunk.Bytes)
	b.received += int64(len(chunk.Bytes))
	received, declared := b.received, b.meta.Size
	m.mu.Unlock()

	if m.OnProgress != nil {
		if received > declared {
			received = declared
		}
		m.OnProgress(key, received, declared)
	}
	return nil
}

func (m *Manager) handleComplete(peerID string, done wire.CompletePayload) error {
	key := Key{PeerID: peerID, FileID: done.FileID}

	m.mu.Lock()
	b, ok := m.buffers[key]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("complete for unknown transfer %s/%s", peerID, done.FileID)
	}
	delete(m.buffers, key)
	m.mu.Unlock()

	// The marker is the authoritative end of stream; a short transfer is
	// honored as-is but worth surfacing in the log.
	if b.received != b.meta.Size {
		m.logger.Warn("transfer completed short of declared size",
			"peer", peerID, "file", done.FileID,
			"received", b.received, "declared", b.meta.Size)
	}

	artifact := Artifact{
		PeerID:       peerID,
		FileID:       done.FileID,
		Name:         b.meta.Name,
		MediaType:    b.meta.Type,
		DeclaredSize: b.meta.Size,
		Data:         bytes.Join(b.chunks, nil),
		Elapsed:      time.Since(b.startTime),
	}
	m.logger.Info("receive complete", "peer", peerID, "file", done.FileID,
		"bytes", len(artifact.Data), "elapsed", artifact.Elapsed)

	if m.OnComplete != nil {
		m.OnComplete(artifact)
	}
	return nil
}

// Cancel drops one in-flight buffer, if any.
func (m *Manager) Cancel(key Key) {
	m.mu.Lock()
	delete(m.buffers, key)
	m.mu.Unlock()
}

// CancelPeer drops every buffer from one peer. Used when a room or peer goes
// away mid-transfer.
func (m *Manager) CancelPeer(peerID string) {
	m.mu.Lock()
	for key := range m.buffers {
		if key.PeerID == peerID {
			delete(m.buffers, key)
		}
	}
	m.mu.Unlock()
}

// Pending reports how many transfers are mid-flight.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buffers)
}
