// Package securestream wraps any pal.Stream with per-message authenticated
// encryption, for ports whose admitting caller supplied a pre-shared key.
// It is a framing layer, not a transport: Open/Listen live in tcpstream and
// tlsstream; this package only wraps an already-connected pal.Stream.
package securestream

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/liboscore/shim/internal/ipcerr"
	"github.com/liboscore/shim/internal/pal"
)

// KeySize is the secretbox symmetric key length.
const KeySize = 32

// nonceSize is the secretbox nonce length.
const nonceSize = 24

// Stream wraps an inner pal.Stream, encrypting each Write as one sealed
// box and decrypting Reads by reassembling boxes from a length-prefixed
// wire framing (4-byte big-endian length, then the sealed box).
type Stream struct {
	mu     sync.Mutex
	inner  pal.Stream
	key    [KeySize]byte
	plain  bytes.Buffer // decrypted bytes not yet delivered to the caller
	closed bool
}

// Wrap returns a Stream that encrypts/decrypts traffic over inner using
// key, which must have been established out-of-band at port admission.
func Wrap(inner pal.Stream, key [KeySize]byte) *Stream {
	return &Stream{inner: inner, key: key}
}

func (s *Stream) Handle() uintptr { return s.inner.Handle() }

func (s *Stream) WaitReady(ctx context.Context) error {
	s.mu.Lock()
	hasPlain := s.plain.Len() > 0
	s.mu.Unlock()
	if hasPlain {
		return nil
	}
	return s.inner.WaitReady(ctx)
}

// Read decrypts and returns plaintext into buf, pulling and decrypting one
// box from inner when no decrypted bytes are left over from an earlier box.
func (s *Stream) Read(ctx context.Context, offset int64, buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ipcerr.ErrBadHandle
	}

	if s.plain.Len() == 0 {
		if err := s.fillLocked(ctx); err != nil {
			return 0, err
		}
	}
	return s.plain.Read(buf)
}

func (s *Stream) fillLocked(ctx context.Context) error {
	lenBuf := make([]byte, 4)
	if err := pal.ReadFull(ctx, s.inner, lenBuf); err != nil {
		return err
	}
	boxLen := binary.BigEndian.Uint32(lenBuf)
	if boxLen > 1<<24 {
		return fmt.Errorf("securestream: %w: frame too large", ipcerr.ErrInvalidArgument)
	}
	sealed := make([]byte, boxLen)
	if err := pal.ReadFull(ctx, s.inner, sealed); err != nil {
		return err
	}
	if len(sealed) < nonceSize {
		return fmt.Errorf("securestream: %w: short frame", ipcerr.ErrInvalidArgument)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])

	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return fmt.Errorf("securestream: %w: authentication failed", ipcerr.ErrInvalidArgument)
	}
	s.plain.Write(plain)
	return nil
}

// Write seals buf as one box and writes the length-prefixed frame to
// inner.
func (s *Stream) Write(ctx context.Context, offset int64, buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ipcerr.ErrBadHandle
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return 0, fmt.Errorf("securestream: nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], buf, &nonce, &s.key)

	frame := make([]byte, 4+len(sealed))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(sealed)))
	copy(frame[4:], sealed)

	if _, err := pal.WriteFull(ctx, s.inner, frame); err != nil {
		return 0, err
	}
	return len(buf), nil
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.inner.Close()
}

func (s *Stream) Attr() (pal.Attr, error) {
	s.mu.Lock()
	hasPlain := s.plain.Len() > 0
	s.mu.Unlock()
	attr, err := s.inner.Attr()
	if err != nil {
		return attr, err
	}
	if hasPlain {
		attr.Readable = true
	}
	return attr, nil
}

func (s *Stream) URI() string { return s.inner.URI() }

var _ io.Closer = (*Stream)(nil)
