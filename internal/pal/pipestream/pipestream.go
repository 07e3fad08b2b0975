// Package pipestream provides an in-memory pal.Stream pair backed by
// net.Pipe, used by port/registry/framing/helper/broadcast tests in place
// of a real TCP socket.
package pipestream

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/liboscore/shim/internal/pal"
)

// Pair returns two connected Streams, analogous to opening a loopback
// socketpair.
func Pair(uri string) (*Stream, *Stream) {
	a, b := net.Pipe()
	return New(a, uri), New(b, uri)
}

// Stream wraps one end of an in-memory pipe as a pal.Stream.
type Stream struct {
	conn   net.Conn
	uri    string
	handle uintptr
	closed bool
}

// New wraps conn as a pal.Stream identified by uri.
func New(conn net.Conn, uri string) *Stream {
	return &Stream{conn: conn, uri: uri, handle: uintptr(handleSeq.add())}
}

func (s *Stream) Handle() uintptr { return s.handle }

// WaitReady always returns immediately: net.Pipe has no way to peek
// without consuming, so this test double relies on the caller only
// reading when it knows data has been written.
func (s *Stream) WaitReady(ctx context.Context) error { return nil }

func (s *Stream) Read(ctx context.Context, _ int64, buf []byte) (int, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = s.conn.SetReadDeadline(dl)
	} else {
		_ = s.conn.SetReadDeadline(time.Time{})
	}
	return s.conn.Read(buf)
}

func (s *Stream) Write(ctx context.Context, _ int64, buf []byte) (int, error) {
	return s.conn.Write(buf)
}

func (s *Stream) Close() error {
	s.closed = true
	return s.conn.Close()
}

// Attr reports Readable unconditionally since net.Pipe exposes no
// pending-byte count; tests that rely on Attr should only query it after
// a write they know has happened.
func (s *Stream) Attr() (pal.Attr, error) {
	return pal.Attr{Readable: true, Writable: true}, nil
}

func (s *Stream) URI() string { return s.uri }

var handleSeq counter

type counter struct {
	mu sync.Mutex
	n  uint64
}

func (c *counter) add() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.n
}
