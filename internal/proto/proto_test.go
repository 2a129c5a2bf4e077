package proto

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/ianremillard/splicer/internal/ids"
	"github.com/ianremillard/splicer/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTripThroughWire[T any](t *testing.T, kind wire.Kind, schema uint32, v T) T {
	t.Helper()
	payload, err := json.Marshal(v)
	require.NoError(t, err)

	var buf bytes.Buffer
	hdr := wire.FrameHeader{APIMajor: APIMajor, Kind: kind, SchemaID: schema, Len: uint32(len(payload))}
	require.NoError(t, wire.WritePayload(&buf, hdr, payload))

	gotHdr, gotPayload, err := wire.ReadPayload(&buf, wire.DefaultMaxPayload)
	require.NoError(t, err)
	assert.Equal(t, hdr, gotHdr)

	var out T
	require.NoError(t, json.Unmarshal(gotPayload, &out))
	return out
}

func TestHelloRoundTrip(t *testing.T) {
	h := Hello{ClientAPIMajor: 1, Features: 7, PeerName: "alice"}
	got := roundTripThroughWire(t, wire.KindRequest, SchemaHandshake, h)
	assert.Equal(t, h, got)
}

func TestHelloAckRoundTrip(t *testing.T) {
	ack := HelloAck{ServerAPIMajor: 1, Features: 0}
	got := roundTripThroughWire(t, wire.KindResponse, SchemaHandshake, ack)
	assert.Equal(t, ack, got)
}

func TestRequestRoundTrip(t *testing.T) {
	req := Request{
		Type:    ReqSpawnPane,
		Session: ids.SessionID(3),
		Window:  ids.WindowID(5),
		Title:   "shell",
		Cwd:     "/tmp",
		Argv:    []string{"/bin/sh", "-lc", "echo hi"},
	}
	got := roundTripThroughWire(t, wire.KindRequest, SchemaControl, req)
	assert.Equal(t, req, got)
}

func TestResponseRoundTrip(t *testing.T) {
	resp := Response{
		Type:     RespSessions,
		Sessions: []SessionLite{{ID: ids.SessionID(1), Name: "work"}},
	}
	got := roundTripThroughWire(t, wire.KindResponse, SchemaControl, resp)
	assert.Equal(t, resp, got)
}

func TestErrResponse(t *testing.T) {
	resp := Err(CodeNotFound, "no such session")
	assert.Equal(t, RespErr, resp.Type)
	assert.Equal(t, CodeNotFound, resp.Code)
}

func TestEventRoundTrip(t *testing.T) {
	ev := Event{Type: EvtPtyOutput, Pane: ids.PaneID(2), Bytes: []byte("hello\n")}
	got := roundTripThroughWire(t, wire.KindEvent, SchemaEvent, ev)
	assert.Equal(t, ev, got)
}

func TestDetachTargetHelpers(t *testing.T) {
	assert.Equal(t, Target{Kind: TargetSession, ID: 9}, SessionTarget(ids.SessionID(9)))
	assert.Equal(t, Target{Kind: TargetWindow, ID: 4}, WindowTarget(ids.WindowID(4)))
	assert.Equal(t, Target{Kind: TargetPane, ID: 2}, PaneTarget(ids.PaneID(2)))
}
