// Package tlsstream implements pal.Stream over TLS, for ports that cross a
// boundary the plain tcpstream transport is not trusted to cross (e.g. a
// namespace leader reached over an untrusted network).
package tlsstream

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"
	"unsafe"

	"github.com/liboscore/shim/internal/ipcerr"
	"github.com/liboscore/shim/internal/pal"
)

// Stream wraps a *tls.Conn as a pal.Stream.
type Stream struct {
	mu     sync.Mutex
	conn   *tls.Conn
	r      *bufio.Reader
	uri    string
	closed bool
}

func New(conn *tls.Conn, uri string) *Stream {
	return &Stream{conn: conn, r: bufio.NewReader(conn), uri: uri}
}

// Open dials uri ("tls://host:port") and completes the TLS handshake
// before returning, using cfg for certificate verification.
func Open(ctx context.Context, uri string, cfg *tls.Config) (*Stream, error) {
	addr, err := parseURI(uri)
	if err != nil {
		return nil, fmt.Errorf("tlsstream: %w", err)
	}
	d := tls.Dialer{Config: cfg}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tlsstream: dial %s: %w", addr, err)
	}
	return New(conn.(*tls.Conn), uri), nil
}

// Listener wraps a net.Listener produced by tls.NewListener.
type Listener struct {
	mu       sync.Mutex
	listener net.Listener
	uri      string
	closed   bool
}

// Listen binds uri ("tls://host:port") behind a TLS listener configured
// with cert.
func Listen(uri string, cfg *tls.Config) (*Listener, error) {
	addr, err := parseURI(uri)
	if err != nil {
		return nil, fmt.Errorf("tlsstream: %w", err)
	}
	inner, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tlsstream: listen %s: %w", addr, err)
	}
	return &Listener{listener: tls.NewListener(inner, cfg), uri: uri}, nil
}

func parseURI(uri string) (string, error) {
	const prefix = "tls://"
	if len(uri) <= len(prefix) || uri[:len(prefix)] != prefix {
		return "", fmt.Errorf("%w: expected tls://host:port, got %q", ipcerr.ErrInvalidArgument, uri)
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
	if r.Buffered() > 0 {
		return nil
	}
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Millisecond))
		_, err := r.Peek(1)
		_ = conn.SetReadDeadline(time.Time{})
		if err == nil {
			return nil
		}
		classified := classifyReadErr(err)
		if isDisconnected(classified) {
			return classified
		}
		select {
		case <-ticker.C:
			continue
		case <-ctx.Done():
			return ipcerr.ErrInterrupted
		}
	}
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
		return n, fmt.Errorf("tlsstream: write: %w", err)
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
	closed, r := s.closed, s.r
	s.mu.Unlock()
	if closed {
		return pal.Attr{}, ipcerr.ErrBadHandle
	}
	attr := pal.Attr{Writable: true}
	if n := r.Buffered(); n > 0 {
		attr.Readable = true
		attr.PendingSize = n
	}
	return attr, nil
}

func (s *Stream) URI() string { return s.uri }

func (l *Listener) Handle() uintptr { return uintptr(unsafe.Pointer(l)) }

func (l *Listener) WaitReady(ctx context.Context) error { return nil }

func (l *Listener) Accept(ctx context.Context) (pal.Stream, error) {
	l.mu.Lock()
	ln, closed := l.listener, l.closed
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
			return nil, fmt.Errorf("tlsstream: accept: %w", ipcerr.ErrNoSuchProcess)
		}
		tc, ok := r.conn.(*tls.Conn)
		if !ok {
			return nil, fmt.Errorf("tlsstream: accept: %w", ipcerr.ErrInvalidArgument)
		}
		return New(tc, "tls://"+tc.RemoteAddr().String()), nil
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
	return pal.Attr{Readable: true}, nil
}

func (l *Listener) URI() string { return l.uri }
