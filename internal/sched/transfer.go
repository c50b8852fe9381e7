package sched

import (
	"errors"
	"io"
	"time"

	"github.com/peerdrop/peerdrop/internal/protocol"
)

var (
	ErrChannelClosed = errors.New("data channel closed")
	ErrSourceRead    = errors.New("source read failed")
)

// Key identifies a transfer: one peer may fetch several files concurrently,
// so the file alone is not enough.
type Key struct {
	PeerID string
	FileID string
}

// Transfer is one outbound file send, owned exclusively by the scheduler
// from Add until its completion callback fires. Only the scheduling loop
// mutates offset, chunksSent, and the phase flags.
type Transfer struct {
	Channel DataChannel
	Source  io.ReaderAt
	File    protocol.FileDescriptor

	// OnComplete fires once, from the scheduling loop, after the complete
	// marker went out (nil) or the transfer failed (the error). The
	// transfer is already deregistered when it runs.
	OnComplete func(error)

	// OnProgress, if set, fires from the loop after every sent chunk with
	// the bytes sent so far.
	OnProgress func(sent int64)

	offset       int64
	chunksSent   int
	metadataSent bool
	completed    bool
	startTime    time.Time
}

// Offset reports bytes sent so far. Monotonically non-decreasing, never past
// the declared size.
func (t *Transfer) Offset() int64 { return t.offset }

// ChunksSent reports how many data chunks have gone out.
func (t *Transfer) ChunksSent() int { return t.chunksSent }

// Completed reports whether every byte has been sent (the marker may still
// be pending buffer drain).
func (t *Transfer) Completed() bool { return t.completed }
