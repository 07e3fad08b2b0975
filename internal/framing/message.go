package framing

import (
	"context"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/liboscore/shim/internal/ipcerr"
	"github.com/liboscore/shim/internal/pal"
)

// MaxPayloadSize bounds a single frame's decoded payload, rejecting
// malformed or hostile size fields before they drive a large allocation.
// It has no equivalent limit in the original beyond available memory;
// the original's read-ahead-and-grow loop had no fixed ceiling either,
// but a Go server accepting frames from arbitrary peers needs one.
const MaxPayloadSize = 64 << 20

// Message is one decoded frame: its header plus payload bytes.
type Message struct {
	Header  Header
	Payload []byte
}

var (
	encoderPool sync.Pool
	decoderPool sync.Pool
)

func getEncoder() *zstd.Encoder {
	if e, ok := encoderPool.Get().(*zstd.Encoder); ok {
		return e
	}
	e, _ := zstd.NewWriter(nil)
	return e
}

func putEncoder(e *zstd.Encoder) { encoderPool.Put(e) }

func getDecoder() *zstd.Decoder {
	if d, ok := decoderPool.Get().(*zstd.Decoder); ok {
		return d
	}
	d, _ := zstd.NewReader(nil)
	return d
}

func putDecoder(d *zstd.Decoder) { decoderPool.Put(d) }

// ReadMessage reads exactly one frame from s: the fixed header, then its
// payload, transparently decompressing if FlagCompressed is set. It
// replaces the original's read-ahead-and-grow loop with Go's io.ReadFull
// contract (via pal.ReadFull) — there is no fixed scratch buffer to
// double because each call allocates exactly the payload it needs.
func ReadMessage(ctx context.Context, s pal.Stream) (*Message, error) {
	hdrBuf := make([]byte, HeaderSize)
	if err := pal.ReadFull(ctx, s, hdrBuf); err != nil {
		return nil, err
	}
	h, err := DecodeHeader(hdrBuf)
	if err != nil {
		return nil, err
	}

	bodyLen := int(h.Size) - HeaderSize
	if bodyLen < 0 || bodyLen > MaxPayloadSize {
		return nil, fmt.Errorf("framing: %w: payload size %d out of range", ipcerr.ErrInvalidArgument, bodyLen)
	}
	body := make([]byte, bodyLen)
	if err := pal.ReadFull(ctx, s, body); err != nil {
		return nil, err
	}

	if h.Flags&FlagCompressed != 0 {
		d := getDecoder()
		plain, err := d.DecodeAll(body, nil)
		putDecoder(d)
		if err != nil {
			return nil, fmt.Errorf("framing: decompress: %w", err)
		}
		body = plain
	}

	return &Message{Header: h, Payload: body}, nil
}

// WriteMessage serializes and writes msg to s. If compress is true and
// msg carries a non-control code and a non-empty payload, the payload is
// zstd-compressed and FlagCompressed is set, but only when the compressed
// form is smaller; otherwise it is sent as is. CodeResp messages are never
// compressed.
func WriteMessage(ctx context.Context, s pal.Stream, msg *Message, compress bool) error {
	payload := msg.Payload
	flags := msg.Header.Flags
	if compress && msg.Header.Code != CodeResp && len(payload) > 0 {
		e := getEncoder()
		compressed := e.EncodeAll(payload, nil)
		putEncoder(e)
		if len(compressed) < len(payload) {
			payload = compressed
			flags |= FlagCompressed
		}
	}

	h := msg.Header
	h.Flags = flags
	h.Size = uint32(HeaderSize + len(payload))

	frame := make([]byte, h.Size)
	h.Encode(frame[:HeaderSize])
	copy(frame[HeaderSize:], payload)

	_, err := pal.WriteFull(ctx, s, frame)
	return err
}
