package ipc

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ianremillard/splicer/internal/config"
	"github.com/ianremillard/splicer/internal/core"
	"github.com/ianremillard/splicer/internal/proto"
	"github.com/ianremillard/splicer/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClient struct {
	t    *testing.T
	conn net.Conn
}

func dialTestClient(t *testing.T, path string) *testClient {
	t.Helper()
	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	return &testClient{t: t, conn: conn}
}

func (c *testClient) sendFrame(kind wire.Kind, schema uint32, v any) {
	c.t.Helper()
	payload, err := json.Marshal(v)
	require.NoError(c.t, err)
	hdr := wire.FrameHeader{APIMajor: proto.APIMajor, Kind: kind, SchemaID: schema, Len: uint32(len(payload))}
	require.NoError(c.t, wire.WritePayload(c.conn, hdr, payload))
}

func (c *testClient) recvFrame() (wire.FrameHeader, []byte) {
	c.t.Helper()
	hdr, payload, err := wire.ReadPayload(c.conn, wire.DefaultMaxPayload)
	require.NoError(c.t, err)
	return hdr, payload
}

func (c *testClient) handshake() proto.HelloAck {
	c.t.Helper()
	c.sendFrame(wire.KindRequest, proto.SchemaHandshake, proto.Hello{ClientAPIMajor: proto.APIMajor, PeerName: "tester"})
	_, payload := c.recvFrame()
	var ack proto.HelloAck
	require.NoError(c.t, json.Unmarshal(payload, &ack))
	return ack
}

func (c *testClient) request(req proto.Request) proto.Response {
	c.t.Helper()
	c.sendFrame(wire.KindRequest, proto.SchemaControl, req)
	for {
		hdr, payload := c.recvFrame()
		if hdr.SchemaID != proto.SchemaControl {
			continue
		}
		var resp proto.Response
		require.NoError(c.t, json.Unmarshal(payload, &resp))
		return resp
	}
}

func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "splicer.sock")

	disp := core.New()
	ctx, cancel := context.WithCancel(context.Background())
	go disp.Run(ctx)

	srv, err := Bind(path, disp, config.Default())
	require.NoError(t, err)
	go srv.Serve()

	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv, path
}

func TestHandshakeSucceedsWithMatchingAPIMajor(t *testing.T) {
	_, path := startTestServer(t)
	c := dialTestClient(t, path)
	defer c.conn.Close()

	ack := c.handshake()
	assert.Equal(t, proto.APIMajor, ack.ServerAPIMajor)
}

func TestHandshakeClosesConnectionOnVersionMismatch(t *testing.T) {
	_, path := startTestServer(t)
	c := dialTestClient(t, path)
	defer c.conn.Close()

	c.sendFrame(wire.KindRequest, proto.SchemaHandshake, proto.Hello{ClientAPIMajor: 99})
	_, _ = c.recvFrame() // the ack still arrives

	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err := c.conn.Read(buf)
	assert.Error(t, err, "server should close the connection after a version mismatch")
}

func TestRequestRoundTripThroughSocket(t *testing.T) {
	_, path := startTestServer(t)
	c := dialTestClient(t, path)
	defer c.conn.Close()
	c.handshake()

	resp := c.request(proto.Request{Type: proto.ReqCreateSession, Name: "work"})
	assert.Equal(t, proto.RespSessionCreated, resp.Type)
}

func TestStaleSocketIsRemovedOnBind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "splicer.sock")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o600))

	disp := core.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go disp.Run(ctx)

	srv, err := Bind(path, disp, config.Default())
	require.NoError(t, err)
	defer srv.Close()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())
}

func TestSetLimitsAppliesToFutureConnections(t *testing.T) {
	srv, _ := startTestServer(t)

	lim := config.Default()
	lim.MaxFrameBytes = 4096
	srv.SetLimits(lim)

	assert.Equal(t, uint32(4096), srv.currentLimits().MaxFrameBytes)
}

func TestEventsDeliveredAfterAttach(t *testing.T) {
	_, path := startTestServer(t)
	c := dialTestClient(t, path)
	defer c.conn.Close()
	c.handshake()

	sessResp := c.request(proto.Request{Type: proto.ReqCreateSession})
	winResp := c.request(proto.Request{Type: proto.ReqCreateWindow, Session: sessResp.Session})
	require.Equal(t, proto.RespWindowCreated, winResp.Type)
	spawnResp := c.request(proto.Request{
		Type:    proto.ReqSpawnPane,
		Session: sessResp.Session,
		Argv:    []string{"/bin/sh", "-c", "sleep 0.2; echo hi-from-pane"},
	})
	require.Equal(t, proto.RespPaneSpawned, spawnResp.Type)

	attachResp := c.request(proto.Request{Type: proto.ReqAttach, Session: sessResp.Session, Pane: spawnResp.Pane})
	require.Equal(t, proto.RespAttached, attachResp.Type)

	c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		hdr, payload := c.recvFrame()
		if hdr.SchemaID != proto.SchemaEvent {
			continue
		}
		var ev proto.Event
		require.NoError(t, json.Unmarshal(payload, &ev))
		if ev.Type == proto.EvtPtyOutput {
			return
		}
	}
}
