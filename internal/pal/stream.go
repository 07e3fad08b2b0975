package pal

import (
	"context"
	"time"
)

// Attr reports the queryable state of a stream, matching
// PAL_STREAM_ATTR in the platform this subsystem is layered on.
type Attr struct {
	Readable     bool
	Writable     bool
	Disconnected bool
	PendingSize  int
}

// Stream is a typed, polymorphic byte-stream handle. Every operation other
// than Read and Accept is expected to be non-blocking from the caller's
// perspective; Read and Accept may suspend the calling goroutine.
type Stream interface {
	Waitable

	// Read reads up to len(buf) bytes starting logically at offset (most
	// providers ignore offset and track position internally; it exists to
	// mirror the PAL's positional read for seekable streams).
	Read(ctx context.Context, offset int64, buf []byte) (int, error)

	// Write writes buf starting logically at offset.
	Write(ctx context.Context, offset int64, buf []byte) (int, error)

	// Close releases the underlying resource. Close is idempotent: a second
	// call returns nil, and any other operation after Close must return
	// ErrBadHandle rather than panicking or blocking.
	Close() error

	// Attr queries current readability/writability/disconnect state.
	Attr() (Attr, error)

	// URI returns the address this stream was opened against, for logging
	// and for reconnect-by-URI.
	URI() string
}

// ServerStream is a Stream that additionally accepts client connections.
type ServerStream interface {
	Stream
	Accept(ctx context.Context) (Stream, error)
}

// Waitable is anything that can be placed in a MultiWait set: it exposes a
// stable handle value used purely for identity comparison by callers (the
// helper loop matches a signaled slot back to its owning port by handle
// identity), and a way to block until it becomes ready.
type Waitable interface {
	// Handle returns a value that uniquely and stably identifies this
	// waitable for the lifetime of the underlying resource.
	Handle() uintptr

	// WaitReady blocks until the waitable has data to read (for a stream),
	// a client to accept (for a server stream), or has been signaled (for
	// an event). It returns when ctx is canceled without error only if
	// cancellation itself is the reason for returning (MultiWait treats
	// that as WaitInterrupted).
	WaitReady(ctx context.Context) error
}

// WaitResult is the outcome of a MultiWait call.
type WaitResult int

const (
	// WaitReady means Index names the signaled waitable.
	WaitReady WaitResult = iota
	WaitTimeout
	WaitInterrupted
	WaitError
)

// MultiWait blocks until one handle in set becomes ready, the timeout
// elapses, or ctx is canceled. timeout <= 0 means block with no timeout,
// matching the original's NO_TIMEOUT. It returns the index into set of the
// signaled waitable when result is WaitReady.
func MultiWait(ctx context.Context, set []Waitable, timeout time.Duration) (result WaitResult, index int, err error) {
	return multiWait(ctx, set, timeout)
}

// Event is a settable, waitable object used for the helper's self-wakeup
// path: RequestRestart signals it from any goroutine other than the helper
// itself, and the helper waits on it alongside its watched ports.
type Event interface {
	Waitable
	Set()
	Clear()
	// Wait blocks until Set is called or ctx is canceled.
	Wait(ctx context.Context) error
}
