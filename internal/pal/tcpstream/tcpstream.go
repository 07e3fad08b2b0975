// Package tcpstream implements pal.Stream over plain TCP, the default
// transport for ports between enclave processes on the same host or
// across a trusted network segment.
package tcpstream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
	"unsafe"

	"github.com/liboscore/shim/internal/ipcerr"
	"github.com/liboscore/shim/internal/pal"
)

// Stream wraps a net.Conn as a pal.Stream. Reads go through a buffered
// reader so WaitReady and Attr can peek for pending bytes without
// consuming them; Read itself always drains the buffer first.
type Stream struct {
	mu     sync.Mutex
	conn   net.Conn
	r      *bufio.Reader
	uri    string
	closed bool
}

// New wraps an already-established connection.
func New(conn net.Conn, uri string) *Stream {
	return &Stream{conn: conn, r: bufio.NewReader(conn), uri: uri}
}

// Open dials uri ("tcp://host:port") and returns a connected Stream.
func Open(ctx context.Context, uri string) (*Stream, error) {
	addr, err := parseURI(uri)
	if err != nil {
		return nil, fmt.Errorf("tcpstream: %w", err)
	}
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcpstream: dial %s: %w", addr, err)
	}
	return New(conn, uri), nil
}

// Listener wraps a net.Listener as a pal.ServerStream. pending holds
// connections accepted by WaitReady's polling loop while the caller has
// not yet called Accept to claim them.
type Listener struct {
	mu       sync.Mutex
	listener net.Listener
	pending  []net.Conn
	uri      string
	closed   bool
}

// Listen binds uri ("tcp://host:port") and returns a server stream.
func Listen(uri string) (*Listener, error) {
	addr, err := parseURI(uri)
	if err != nil {
		return nil, fmt.Errorf("tcpstream: %w", err)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcpstream: listen %s: %w", addr, err)
	}
	return &Listener{listener: ln, uri: uri}, nil
}

func parseURI(uri string) (string, error) {
	const prefix = "tcp://"
	if len(uri) <= len(prefix) || uri[:len(prefix)] != prefix {
		return "", fmt.Errorf("%w: expected tcp://host:port, got %q", ipcerr.ErrInvalidArgument, uri)
	}
	return uri[len(prefix):], nil
}

func (s *Stream) Handle() uintptr { return uintptr(unsafe.Pointer(s)) }

func (s *Stream) WaitReady(ctx context.Context) error {
	s.mu.Lock()
	conn, r, closed := s.conn, s.r, s.closed
	s.mu.Unlock()
	if closed {
		return ipcerr.ErrBadHandle
	}
	return waitReadable(ctx, conn, r)
}

func (s *Stream) Read(ctx context.Context, _ int64, buf []byte) (int, error) {
	s.mu.Lock()
	conn, r, closed := s.conn, s.r, s.closed
	s.mu.Unlock()
	if closed {
		return 0, ipcerr.ErrBadHandle
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(dl)
	} else {
		_ = conn.SetReadDeadline(time.Time{})
	}

	n, err := r.Read(buf)
	if err != nil {
		return n, classifyReadErr(err)
	}
	return n, nil
}

func (s *Stream) Write(ctx context.Context, _ int64, buf []byte) (int, error) {
	s.mu.Lock()
	conn, closed := s.conn, s.closed
	s.mu.Unlock()
	if closed {
		return 0, ipcerr.ErrBadHandle
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(dl)
	} else {
		_ = conn.SetWriteDeadline(time.Time{})
	}

	n, err := conn.Write(buf)
	if err != nil {
		return n, fmt.Errorf("tcpstream: write: %w", err)
	}
	return n, nil
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

func (s *Stream) Attr() (pal.Attr, error) {
	s.mu.Lock()
	closed := s.closed
	conn, r := s.conn, s.r
	s.mu.Unlock()
	if closed {
		return pal.Attr{}, ipcerr.ErrBadHandle
	}

	attr := pal.Attr{Writable: true}
	if n := r.Buffered(); n > 0 {
		attr.Readable = true
		attr.PendingSize = n
		return attr, nil
	}
	if err := pollReadable(conn, r); err == nil {
		attr.Readable = true
	} else if isDisconnected(err) {
		attr.Disconnected = true
	}
	return attr, nil
}

func (s *Stream) URI() string { return s.uri }

func (l *Listener) Handle() uintptr { return uintptr(unsafe.Pointer(l)) }

func (l *Listener) WaitReady(ctx context.Context) error {
	l.mu.Lock()
	ln, closed := l.listener, l.closed
	l.mu.Unlock()
	if closed {
		return ipcerr.ErrBadHandle
	}

	tl, ok := ln.(*net.TCPListener)
	if !ok {
		// No deadline support on this listener type; report ready
		// immediately and let Accept itself block.
		return nil
	}

	ticker := time.NewTicker(pollProbeInterval)
	defer ticker.Stop()
	for {
		_ = tl.SetDeadline(time.Now().Add(pollProbeInterval))
		conn, err := tl.Accept()
		if err == nil {
			l.mu.Lock()
			l.pending = append(l.pending, conn)
			l.mu.Unlock()
			_ = tl.SetDeadline(time.Time{})
			return nil
		}
		_ = tl.SetDeadline(time.Time{})
		var ne net.Error
		if !(errors.As(err, &ne) && ne.Timeout()) {
			return fmt.Errorf("tcpstream: accept: %w", ipcerr.ErrNoSuchProcess)
		}
		select {
		case <-ticker.C:
			continue
		case <-ctx.Done():
			return ipcerr.ErrInterrupted
		}
	}
}

func (l *Listener) Accept(ctx context.Context) (pal.Stream, error) {
	l.mu.Lock()
	ln, closed := l.listener, l.closed
	if !closed && len(l.pending) > 0 {
		conn := l.pending[0]
		l.pending = l.pending[1:]
		l.mu.Unlock()
		return New(conn, "tcp://"+conn.RemoteAddr().String()), nil
	}
	l.mu.Unlock()
	if closed {
		return nil, ipcerr.ErrBadHandle
	}

	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		c, err := ln.Accept()
		done <- result{c, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("tcpstream: accept: %w", ipcerr.ErrNoSuchProcess)
		}
		return New(r.conn, "tcp://"+r.conn.RemoteAddr().String()), nil
	case <-ctx.Done():
		return nil, ipcerr.ErrInterrupted
	}
}

func (l *Listener) Read(context.Context, int64, []byte) (int, error) {
	return 0, ipcerr.ErrNotSupported
}

func (l *Listener) Write(context.Context, int64, []byte) (int, error) {
	return 0, ipcerr.ErrNotSupported
}

func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.listener.Close()
}

func (l *Listener) Attr() (pal.Attr, error) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return pal.Attr{}, ipcerr.ErrBadHandle
	}
	return pal.Attr{Readable: true, Writable: false}, nil
}

func (l *Listener) URI() string { return l.uri }
