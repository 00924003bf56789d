package core

// Frame is a raw encoded event ready for the wire.
type Frame []byte

// ConnID is the transport handle of one live socket. It is never used as
// an application identity; the registry maps it to a user.
type ConnID string

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend enqueues without blocking. It fails with ErrBackpressure when
	// the queue is full and ErrConnClosed after Close.
	TrySend(Frame) error
	Close()
}
