package tlsstream

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/liboscore/shim/internal/ipcerr"
)

func classifyReadErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("tlsstream: %w", ipcerr.ErrConnReset)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("tlsstream: %w", ipcerr.ErrAgain)
	}
	if errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("tlsstream: %w", ipcerr.ErrBadHandle)
	}
	return fmt.Errorf("tlsstream: read: %w", err)
}

func isDisconnected(err error) bool {
	return errors.Is(err, ipcerr.ErrConnReset) || errors.Is(err, ipcerr.ErrBadHandle)
}
