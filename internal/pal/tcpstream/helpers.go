package tcpstream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/liboscore/shim/internal/ipcerr"
)

// pollProbeInterval bounds how long a single non-blocking-style Peek probe
// waits for its deadline before giving up and reporting not-yet-readable.
// It is short enough that Attr() and the readiness probe inside waitReadable
// never stall the caller for longer than one polling tick.
const pollProbeInterval = 2 * time.Millisecond

// waitReadable blocks, respecting ctx, until r has at least one byte
// buffered, the peer has disconnected, or ctx is canceled. bufio.Reader has
// no select-style readiness notification, so this polls Peek under a short
// deadline; pollReadable does the actual non-blocking check for one tick.
func waitReadable(ctx context.Context, conn net.Conn, r *bufio.Reader) error {
	if r.Buffered() > 0 {
		return nil
	}
	ticker := time.NewTicker(pollProbeInterval)
	defer ticker.Stop()
	for {
		if err := pollReadable(conn, r); err == nil {
			return nil
		} else if isDisconnected(err) {
			return err
		}
		select {
		case <-ticker.C:
			continue
		case <-ctx.Done():
			return ipcerr.ErrInterrupted
		}
	}
}

// pollReadable performs a single non-blocking-style check for pending
// bytes: it sets a short read deadline, attempts a one-byte Peek, then
// restores the caller's deadline policy (no deadline). A timeout means
// "not yet readable" and is reported as ErrAgain rather than a hard error.
func pollReadable(conn net.Conn, r *bufio.Reader) error {
	if r.Buffered() > 0 {
		return nil
	}
	_ = conn.SetReadDeadline(time.Now().Add(pollProbeInterval))
	defer conn.SetReadDeadline(time.Time{})

	_, err := r.Peek(1)
	if err == nil {
		return nil
	}
	return classifyReadErr(err)
}

// classifyReadErr maps a net.Conn/bufio.Reader read error onto the small
// taxonomy the stream abstraction promises callers: again, interrupted,
// disconnected, or a generically wrapped I/O error.
func classifyReadErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("tcpstream: %w", ipcerr.ErrConnReset)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("tcpstream: %w", ipcerr.ErrAgain)
	}
	if errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("tcpstream: %w", ipcerr.ErrBadHandle)
	}
	return fmt.Errorf("tcpstream: read: %w", err)
}

// isDisconnected reports whether err (already classified by
// classifyReadErr) indicates the peer is gone rather than merely not ready
// yet or interrupted.
func isDisconnected(err error) bool {
	return errors.Is(err, ipcerr.ErrConnReset) || errors.Is(err, ipcerr.ErrBadHandle)
}
