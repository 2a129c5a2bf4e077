package wire

import (
	"bufio"
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	hdr := FrameHeader{APIMajor: 1, Kind: KindRequest, SchemaID: 1, Len: 5}
	require.NoError(t, WritePayload(&buf, hdr, []byte("hello")))

	gotHdr, gotPayload, err := ReadPayload(&buf, DefaultMaxPayload)
	require.NoError(t, err)
	assert.Equal(t, hdr, gotHdr)
	assert.Equal(t, []byte("hello"), gotPayload)
}

func TestEmptyPayloadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	hdr := FrameHeader{APIMajor: 1, Kind: KindEvent, SchemaID: 2, Len: 0}
	require.NoError(t, WritePayload(&buf, hdr, nil))

	gotHdr, gotPayload, err := ReadPayload(&buf, DefaultMaxPayload)
	require.NoError(t, err)
	assert.Equal(t, hdr, gotHdr)
	assert.Empty(t, gotPayload)
}

func TestUnknownKindByteDecodesAsEvent(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(1)    // api_major
	buf.WriteByte(0xFF) // unknown kind byte
	buf.Write([]byte{0, 0, 0, 0})
	buf.Write([]byte{0, 0, 0, 0}) // len=0

	hdr, _, err := ReadPayload(&buf, DefaultMaxPayload)
	require.NoError(t, err)
	assert.Equal(t, KindEvent, hdr.Kind)
}

func TestLenMismatchRejected(t *testing.T) {
	var buf bytes.Buffer
	err := WritePayload(&buf, FrameHeader{Len: 3}, []byte("hi"))
	assert.Error(t, err)
}

func TestOversizedFrameRejectedBeforeAllocating(t *testing.T) {
	var buf bytes.Buffer
	hdr := FrameHeader{Len: 1 << 20}
	hb := hdr.bytes()
	buf.Write(hb[:])
	// Deliberately don't write the claimed payload bytes.

	_, _, err := ReadPayload(&buf, 10)
	assert.Error(t, err)
}

func TestReadPayloadFailsOnShortHeader(t *testing.T) {
	r := bytes.NewReader([]byte{1, 2, 3})
	_, _, err := ReadPayload(r, DefaultMaxPayload)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestWritePayloadFlushesWriter(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	hdr := FrameHeader{Len: 2}
	require.NoError(t, WritePayload(bw, hdr, []byte("hi")))
	assert.Equal(t, HeaderSize+2, buf.Len(), "bufio.Writer must have been flushed")
}
