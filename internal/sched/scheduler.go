// Package sched multiplexes every outbound transfer of one sending peer over
// a single cooperative loop. Each tick splits a fixed chunk budget evenly
// across the transfers that can make progress, so concurrent fetches share
// capacity fairly and a large file cannot starve a small one. A per-channel
// buffered-byte ceiling bounds memory; the loop goes fully idle when no
// transfer is active.
package sched

import (
	"log/slog"
	"sync"
	"time"

	"github.com/peerdrop/peerdrop/internal/wire"
)

const (
	// ChunkSize is the fixed slice of file bytes per data-channel message.
	ChunkSize = 64 * 1024

	// ChunksPerTick is the chunk budget one tick distributes across all
	// active transfers.
	ChunksPerTick = 16

	// MaxBuffered is the per-channel ceiling on queued-but-unsent bytes.
	// A transfer whose channel is above it sits the tick out.
	MaxBuffered = 1024 * 1024

	// DrainThreshold is how far the buffer must drain before the complete
	// marker may follow the last chunk, so the marker cannot overtake
	// queued data on a congested channel.
	DrainThreshold = ChunkSize

	// TickInterval is the pause between ticks while work remains.
	TickInterval = 2 * time.Millisecond
)

// Scheduler fans one peer's send capacity across its live transfers.
type Scheduler struct {
	mu        sync.Mutex
	transfers map[Key]*Transfer
	running   bool

	logger *slog.Logger
}

// New creates an idle scheduler.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		transfers: make(map[Key]*Transfer),
		logger:    logger,
	}
}

// Add registers a transfer and wakes the loop if it was idle.
func (s *Scheduler) Add(key Key, t *Transfer) {
	s.mu.Lock()
	t.startTime = time.Now()
	s.transfers[key] = t
	start := !s.running
	if start {
		s.running = true
	}
	s.mu.Unlock()

	s.logger.Debug("transfer added", "peer", key.PeerID, "file", key.FileID, "size", t.File.Size)
	if start {
		go s.loop()
	}
}

// Remove deregisters a transfer without firing its callback. Used when the
// peer that requested the file leaves or times out; the loop handles its own
// completion and failure removals.
func (s *Scheduler) Remove(key Key) {
	s.mu.Lock()
	_, ok := s.transfers[key]
	delete(s.transfers, key)
	s.mu.Unlock()
	if ok {
		s.logger.Debug("transfer removed", "peer", key.PeerID, "file", key.FileID)
	}
}

// RemovePeer drops every transfer keyed to one peer. Called by the leave and
// stale-timeout handlers so the scheduler stays consistent with the
// coordinator's active-download index.
func (s *Scheduler) RemovePeer(peerID string) {
	s.mu.Lock()
	for key := range s.transfers {
		if key.PeerID == peerID {
			delete(s.transfers, key)
		}
	}
	s.mu.Unlock()
}

// Active reports how many transfers are registered.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transfers)
}

// loop runs while at least one transfer is registered, then parks. No timer
// stays armed while quiescent.
func (s *Scheduler) loop() {
	for {
		if !s.tick() {
			return
		}
		time.Sleep(TickInterval)
	}
}

// tick performs one scheduling round. Returns false once no transfers remain
// and the loop should park. The loop goroutine is the only caller, which
// makes it the sole mutator of per-transfer state.
func (s *Scheduler) tick() bool {
	s.mu.Lock()
	if len(s.transfers) == 0 {
		s.running = false
		s.mu.Unlock()
		return false
	}

	type entry struct {
		key Key
		t   *Transfer
	}
	var failed, finished []entry
	var active []entry

	for key, t := range s.transfers {
		switch {
		case !t.Channel.IsOpen():
			// A channel that closed before the marker went out still
			// counts as delivered for a completed transfer; anything
			// short of that is a failure.
			if t.completed {
				finished = append(finished, entry{key, t})
			} else {
				failed = append(failed, entry{key, t})
			}
			delete(s.transfers, key)
		case t.completed:
			if t.Channel.BufferedAmount() < DrainThreshold {
				if err := s.sendComplete(t); err == nil || !t.Channel.IsOpen() {
					finished = append(finished, entry{key, t})
					delete(s.transfers, key)
				}
				// A full-buffer send failure leaves the marker pending
				// for the next tick.
			}
		case t.Channel.BufferedAmount() < MaxBuffered:
			active = append(active, entry{key, t})
		}
	}

	if len(active) > 0 {
		// Fairness policy: equal chunk allowances per tick regardless of
		// file size, floor of the split, never below one.
		allotment := ChunksPerTick / len(active)
		if allotment < 1 {
			allotment = 1
		}
		for _, e := range active {
			if err := s.sendBurst(e.t, allotment); err != nil {
				failed = append(failed, e)
				delete(s.transfers, e.key)
			}
		}
	}
	s.mu.Unlock()

	for _, e := range finished {
		s.logger.Info("transfer complete",
			"peer", e.key.PeerID, "file", e.key.FileID,
			"chunks", e.t.chunksSent, "elapsed", time.Since(e.t.startTime))
		if e.t.OnComplete != nil {
			e.t.OnComplete(nil)
		}
	}
	for _, e := range failed {
		s.logger.Warn("transfer failed", "peer", e.key.PeerID, "file", e.key.FileID, "offset", e.t.offset)
		if e.t.OnComplete != nil {
			e.t.OnComplete(ErrChannelClosed)
		}
	}

	return true
}

// sendBurst sends up to allotment chunks for one transfer, stopping early if
// the channel's buffer reaches the ceiling mid-burst. A send refused by a
// full buffer just ends this transfer's turn; the chunk is retried next tick
// because the offset only advances on success.
func (s *Scheduler) sendBurst(t *Transfer, allotment int) error {
	if !t.metadataSent {
		if err := s.sendMetadata(t); err != nil {
			return nil // turn over, retry next tick
		}
		t.metadataSent = true
	}

	buf := make([]byte, ChunkSize)
	for i := 0; i < allotment && t.offset < t.File.Size; i++ {
		if t.Channel.BufferedAmount() >= MaxBuffered {
			return nil
		}

		n, err := t.Source.ReadAt(buf, t.offset)
		if remaining := t.File.Size - t.offset; int64(n) > remaining {
			n = int(remaining)
		}
		if n == 0 {
			if err != nil {
				s.logger.Error("source read failed", "file", t.File.ID, "offset", t.offset, "error", err)
				return ErrSourceRead
			}
			return nil
		}

		data, encErr := wire.EncodeTyped(wire.MessageTypeChunk, wire.ChunkPayload{
			FileID: t.File.ID,
			Offset: t.offset,
			Bytes:  buf[:n],
		})
		if encErr != nil {
			return encErr
		}
		if sendErr := t.Channel.Send(data); sendErr != nil {
			if !t.Channel.IsOpen() {
				return ErrChannelClosed
			}
			return nil // transient backpressure, end of turn
		}

		t.offset += int64(n)
		t.chunksSent++
		if t.OnProgress != nil {
			t.OnProgress(t.offset)
		}
	}

	if t.offset >= t.File.Size {
		t.completed = true
	}
	return nil
}

func (s *Scheduler) sendMetadata(t *Transfer) error {
	data, err := wire.EncodeTyped(wire.MessageTypeMetadata, wire.MetadataPayload{
		FileID: t.File.ID,
		Name:   t.File.Name,
		Size:   t.File.Size,
		Type:   t.File.Type,
	})
	if err != nil {
		return err
	}
	return t.Channel.Send(data)
}

func (s *Scheduler) sendComplete(t *Transfer) error {
	data, err := wire.EncodeTyped(wire.MessageTypeComplete, wire.CompletePayload{FileID: t.File.ID})
	if err != nil {
		return err
	}
	return t.Channel.Send(data)
}
