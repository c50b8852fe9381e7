package sched

// DataChannel is the slice of the underlying transport capability the
// scheduler needs: ordered, reliable sends with visible buffering. The pion
// data channel satisfies it through a thin adapter; tests use in-memory
// fakes.
type DataChannel interface {
	// Send queues one message on the channel.
	Send(data []byte) error

	// BufferedAmount reports bytes queued but not yet handed to the
	// transport.
	BufferedAmount() uint64

	// IsOpen reports whether the channel can still carry messages. Once
	// false it never becomes true again.
	IsOpen() bool
}
