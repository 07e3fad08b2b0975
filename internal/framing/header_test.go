package framing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{Code: 7, Size: HeaderSize + 4, Src: 1, Dst: 2, Seq: 99, Flags: FlagCompressed}
	buf := make([]byte, HeaderSize)
	h.Encode(buf)

	got, err := DecodeHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestDecodeHeaderRejectsUndersizedDeclaration(t *testing.T) {
	h := Header{Code: 1, Size: 3, Src: 1, Dst: 2, Seq: 1}
	buf := make([]byte, HeaderSize)
	h.Encode(buf)

	_, err := DecodeHeader(buf)
	assert.Error(t, err)
}
