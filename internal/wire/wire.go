// Package wire implements the splicer frame codec: a 10-byte big-endian
// header followed by an opaque payload (spec §4.1). The codec does not
// interpret the payload — that is internal/proto's job.
package wire

import (
	"encoding/binary"
	"io"

	"github.com/ianremillard/splicer/internal/ferr"
)

// Kind distinguishes the three frame directions. Any byte other than the
// two known request/response values decodes as Event, so future schema or
// kind additions degrade gracefully on older readers (spec §4.1).
type Kind uint8

const (
	KindRequest  Kind = 0
	KindResponse Kind = 1
	KindEvent    Kind = 2
)

func decodeKind(b byte) Kind {
	switch b {
	case 0:
		return KindRequest
	case 1:
		return KindResponse
	default:
		return KindEvent
	}
}

// HeaderSize is the fixed size of a FrameHeader on the wire.
const HeaderSize = 1 + 1 + 4 + 4

// DefaultMaxPayload bounds a single frame's payload length (spec §4.1: "a
// configurable maximum, e.g. 16 MiB").
const DefaultMaxPayload = 16 << 20

// FrameHeader is the fixed-size prefix of every frame.
type FrameHeader struct {
	APIMajor uint8
	Kind     Kind
	SchemaID uint32
	Len      uint32
}

func (h FrameHeader) bytes() [HeaderSize]byte {
	var b [HeaderSize]byte
	b[0] = h.APIMajor
	b[1] = byte(h.Kind)
	binary.BigEndian.PutUint32(b[2:6], h.SchemaID)
	binary.BigEndian.PutUint32(b[6:10], h.Len)
	return b
}

func headerFromBytes(b [HeaderSize]byte) FrameHeader {
	return FrameHeader{
		APIMajor: b[0],
		Kind:     decodeKind(b[1]),
		SchemaID: binary.BigEndian.Uint32(b[2:6]),
		Len:      binary.BigEndian.Uint32(b[6:10]),
	}
}

// WritePayload writes a header followed by its payload bytes and flushes
// if w supports it. hdr.Len must equal len(payload).
func WritePayload(w io.Writer, hdr FrameHeader, payload []byte) error {
	if int(hdr.Len) != len(payload) {
		return ferr.Newf(ferr.KindIPC, "header len %d does not match payload length %d", hdr.Len, len(payload))
	}
	hb := hdr.bytes()
	if _, err := w.Write(hb[:]); err != nil {
		return ferr.Wrap(ferr.KindIO, "write frame header", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return ferr.Wrap(ferr.KindIO, "write frame payload", err)
		}
	}
	if f, ok := w.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return ferr.Wrap(ferr.KindIO, "flush frame", err)
		}
	}
	return nil
}

// ReadPayload reads exactly one frame (header + payload) from r. maxLen
// bounds the payload length before any allocation happens; a header
// claiming more fails with a KindIPC error rather than allocating.
func ReadPayload(r io.Reader, maxLen uint32) (FrameHeader, []byte, error) {
	var hb [HeaderSize]byte
	if _, err := io.ReadFull(r, hb[:]); err != nil {
		return FrameHeader{}, nil, ferr.Wrap(ferr.KindIO, "read frame header", err)
	}
	hdr := headerFromBytes(hb)
	if hdr.Len > maxLen {
		return FrameHeader{}, nil, ferr.Newf(ferr.KindIPC, "frame length %d exceeds max %d", hdr.Len, maxLen)
	}
	payload := make([]byte, hdr.Len)
	if hdr.Len > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return FrameHeader{}, nil, ferr.Wrap(ferr.KindIO, "read frame payload", err)
		}
	}
	return hdr, payload, nil
}
