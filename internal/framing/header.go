// Package framing implements the wire message header, the read/write
// loop built on top of a pal.Stream, and request/response correlation by
// sequence number, grounded on receive_ipc_message and
// __response_ipc_message in the original shim_ipc_helper.c.
package framing

import (
	"encoding/binary"
	"fmt"

	"github.com/liboscore/shim/internal/ipcerr"
)

// Code identifies the payload type carried by a message, mirroring the
// original's msg->code selecting into ipc_callbacks.
type Code uint32

// CodeResp is the reserved code for a response to a correlated request,
// matching IPC_RESP (index 0 in the original's callback table).
const CodeResp Code = 0

// Flag bits carried in the header, reserved bits must be zero on the
// wire.
type Flag uint8

const (
	// FlagCompressed marks the payload as zstd-compressed; never set on
	// a CodeResp message.
	FlagCompressed Flag = 1 << 0
)

// HeaderSize is the fixed, wire-exact size of an encoded Header.
const HeaderSize = 4 + 4 + 8 + 8 + 8 + 1

// Header is the fixed-size record every frame begins with, mirroring
// shim_ipc_msg's {code, size, src, dst, seq}.
type Header struct {
	Code  Code
	Size  uint32 // total frame size, header included, matching msg->size
	Src   uint64
	Dst   uint64
	Seq   uint64
	Flags Flag
}

// Encode serializes h into buf, which must be at least HeaderSize bytes.
func (h Header) Encode(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], uint32(h.Code))
	binary.BigEndian.PutUint32(buf[4:8], h.Size)
	binary.BigEndian.PutUint64(buf[8:16], h.Src)
	binary.BigEndian.PutUint64(buf[16:24], h.Dst)
	binary.BigEndian.PutUint64(buf[24:32], h.Seq)
	buf[32] = byte(h.Flags)
}

// DecodeHeader parses a Header from the first HeaderSize bytes of buf.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("framing: %w: short header", ipcerr.ErrInvalidArgument)
	}
	h := Header{
		Code: Code(binary.BigEndian.Uint32(buf[0:4])),
		Size: binary.BigEndian.Uint32(buf[4:8]),
		Src:  binary.BigEndian.Uint64(buf[8:16]),
		Dst:  binary.BigEndian.Uint64(buf[16:24]),
		Seq:  binary.BigEndian.Uint64(buf[24:32]),
	}
	h.Flags = Flag(buf[32])
	if h.Size < uint32(HeaderSize) {
		return Header{}, fmt.Errorf("framing: %w: size %d smaller than header", ipcerr.ErrInvalidArgument, h.Size)
	}
	return h, nil
}
