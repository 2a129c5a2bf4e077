package core

import (
	"context"
	"testing"
	"time"

	"github.com/ianremillard/splicer/internal/ids"
	"github.com/ianremillard/splicer/internal/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPeer struct {
	id     ids.PeerID
	events chan proto.Event
}

func startDispatcher(t *testing.T) (*Dispatcher, func()) {
	t.Helper()
	d := New()
	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	return d, cancel
}

func registerPeer(t *testing.T, d *Dispatcher, name string) testPeer {
	t.Helper()
	evCh := make(chan proto.Event, 256)
	reply := make(chan ids.PeerID, 1)
	d.Send(RegisterPeer{Name: name, EventCh: evCh, Reply: reply})
	select {
	case id := <-reply:
		return testPeer{id: id, events: evCh}
	case <-time.After(2 * time.Second):
		t.Fatal("register peer timed out")
		return testPeer{}
	}
}

func doRequest(t *testing.T, d *Dispatcher, peer ids.PeerID, req proto.Request) proto.Response {
	t.Helper()
	reply := make(chan proto.Response, 1)
	d.Send(FromPeer{Peer: peer, Req: req, Reply: reply})
	select {
	case resp := <-reply:
		return resp
	case <-time.After(2 * time.Second):
		t.Fatal("request timed out")
		return proto.Response{}
	}
}

func TestCreateSessionAndListSessions(t *testing.T) {
	d, cancel := startDispatcher(t)
	defer cancel()
	peer := registerPeer(t, d, "alice")

	resp := doRequest(t, d, peer.id, proto.Request{Type: proto.ReqCreateSession, Name: "work"})
	require.Equal(t, proto.RespSessionCreated, resp.Type)

	list := doRequest(t, d, peer.id, proto.Request{Type: proto.ReqListSessions})
	require.Equal(t, proto.RespSessions, list.Type)
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, "work", list.Sessions[0].Name)
}

func TestCreateWindowRequiresExistingSession(t *testing.T) {
	d, cancel := startDispatcher(t)
	defer cancel()
	peer := registerPeer(t, d, "alice")

	resp := doRequest(t, d, peer.id, proto.Request{Type: proto.ReqCreateWindow, Session: ids.SessionID(999)})
	assert.Equal(t, proto.RespErr, resp.Type)
	assert.Equal(t, proto.CodeNotFound, resp.Code)
}

func TestSpawnPaneAndAttachDeliversOutput(t *testing.T) {
	d, cancel := startDispatcher(t)
	defer cancel()
	peer := registerPeer(t, d, "alice")

	sessResp := doRequest(t, d, peer.id, proto.Request{Type: proto.ReqCreateSession, Name: "work"})
	require.Equal(t, proto.RespSessionCreated, sessResp.Type)
	sid := sessResp.Session

	winResp := doRequest(t, d, peer.id, proto.Request{Type: proto.ReqCreateWindow, Session: sid, Title: "main"})
	require.Equal(t, proto.RespWindowCreated, winResp.Type)

	spawnResp := doRequest(t, d, peer.id, proto.Request{
		Type:    proto.ReqSpawnPane,
		Session: sid,
		Argv:    []string{"/bin/sh", "-c", "sleep 0.2; echo from-pane"},
	})
	require.Equal(t, proto.RespPaneSpawned, spawnResp.Type)

	attachResp := doRequest(t, d, peer.id, proto.Request{Type: proto.ReqAttach, Session: sid, Pane: spawnResp.Pane})
	require.Equal(t, proto.RespAttached, attachResp.Type)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-peer.events:
			if ev.Type == proto.EvtPtyOutput && ev.Pane == spawnResp.Pane {
				if containsBytes(ev.Bytes, "from-pane") {
					return
				}
			}
		case <-deadline:
			t.Fatal("never observed pty output event")
		}
	}
}

func TestSpawnPaneRejectsUnknownSession(t *testing.T) {
	d, cancel := startDispatcher(t)
	defer cancel()
	peer := registerPeer(t, d, "alice")

	resp := doRequest(t, d, peer.id, proto.Request{Type: proto.ReqSpawnPane, Session: ids.SessionID(42)})
	assert.Equal(t, proto.CodeNotFound, resp.Code)
}

func TestResizePaneValidatesPositiveDimensions(t *testing.T) {
	d, cancel := startDispatcher(t)
	defer cancel()
	peer := registerPeer(t, d, "alice")

	sessResp := doRequest(t, d, peer.id, proto.Request{Type: proto.ReqCreateSession})
	sid := sessResp.Session
	doRequest(t, d, peer.id, proto.Request{Type: proto.ReqCreateWindow, Session: sid})
	spawnResp := doRequest(t, d, peer.id, proto.Request{Type: proto.ReqSpawnPane, Session: sid, Argv: []string{"/bin/sh"}})
	t.Cleanup(func() {
		doRequest(t, d, peer.id, proto.Request{
			Type: proto.ReqKill, Force: true,
			Target: &proto.Target{Kind: proto.TargetPane, ID: uint64(spawnResp.Pane)},
		})
	})

	resp := doRequest(t, d, peer.id, proto.Request{Type: proto.ReqResizePane, Pane: spawnResp.Pane, Cols: 0, Rows: 24})
	assert.Equal(t, proto.CodeInvalidArgs, resp.Code)

	ok := doRequest(t, d, peer.id, proto.Request{Type: proto.ReqResizePane, Pane: spawnResp.Pane, Cols: 100, Rows: 40})
	assert.Equal(t, proto.RespOk, ok.Type)
}

func TestDetachReassignsInputOwnerAndKillRemovesPane(t *testing.T) {
	d, cancel := startDispatcher(t)
	defer cancel()
	alice := registerPeer(t, d, "alice")
	bob := registerPeer(t, d, "bob")

	sessResp := doRequest(t, d, alice.id, proto.Request{Type: proto.ReqCreateSession})
	sid := sessResp.Session
	doRequest(t, d, alice.id, proto.Request{Type: proto.ReqCreateWindow, Session: sid})
	spawnResp := doRequest(t, d, alice.id, proto.Request{Type: proto.ReqSpawnPane, Session: sid, Argv: []string{"/bin/sh"}})

	doRequest(t, d, alice.id, proto.Request{Type: proto.ReqAttach, Session: sid, Pane: spawnResp.Pane})
	doRequest(t, d, bob.id, proto.Request{Type: proto.ReqAttach, Session: sid, Pane: spawnResp.Pane})

	detachResp := doRequest(t, d, alice.id, proto.Request{
		Type:   proto.ReqDetach,
		Target: &proto.Target{Kind: proto.TargetPane, ID: uint64(spawnResp.Pane)},
	})
	assert.Equal(t, proto.RespDetached, detachResp.Type)

	written := doRequest(t, d, bob.id, proto.Request{Type: proto.ReqWriteInput, Pane: spawnResp.Pane, Bytes: []byte("true\n")})
	assert.Equal(t, proto.RespOk, written.Type)

	killResp := doRequest(t, d, bob.id, proto.Request{
		Type:   proto.ReqKill,
		Target: &proto.Target{Kind: proto.TargetPane, ID: uint64(spawnResp.Pane)},
		Force:  true,
	})
	assert.Equal(t, proto.RespKilled, killResp.Type)

	gone := doRequest(t, d, bob.id, proto.Request{Type: proto.ReqSetPaneTitle, Pane: spawnResp.Pane, Title: "x"})
	assert.Equal(t, proto.CodeNotFound, gone.Code)
}

func TestGetStateReturnsSessionsScope(t *testing.T) {
	d, cancel := startDispatcher(t)
	defer cancel()
	peer := registerPeer(t, d, "alice")

	doRequest(t, d, peer.id, proto.Request{Type: proto.ReqCreateSession, Name: "abc"})
	resp := doRequest(t, d, peer.id, proto.Request{Type: proto.ReqGetState, Scope: proto.ScopeSessions})
	require.Equal(t, proto.RespState, resp.Type)
	assert.Contains(t, string(resp.StateJSON), "abc")
}

func TestUnregisterPeerBroadcastsPeerDetached(t *testing.T) {
	d, cancel := startDispatcher(t)
	defer cancel()
	alice := registerPeer(t, d, "alice")
	bob := registerPeer(t, d, "bob")

	sessResp := doRequest(t, d, alice.id, proto.Request{Type: proto.ReqCreateSession})
	sid := sessResp.Session
	doRequest(t, d, alice.id, proto.Request{Type: proto.ReqAttach, Session: sid})
	doRequest(t, d, bob.id, proto.Request{Type: proto.ReqAttach, Session: sid})

	d.Send(UnregisterPeer{Peer: bob.id})

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-alice.events:
			if ev.Type == proto.EvtPeerDetached && ev.Peer == bob.id {
				return
			}
		case <-deadline:
			t.Fatal("never observed peer detached event")
		}
	}
}

func TestWriteInputOnlyAcceptedFromInputOwner(t *testing.T) {
	d, cancel := startDispatcher(t)
	defer cancel()
	alice := registerPeer(t, d, "alice")
	bob := registerPeer(t, d, "bob")

	sessResp := doRequest(t, d, alice.id, proto.Request{Type: proto.ReqCreateSession})
	sid := sessResp.Session
	doRequest(t, d, alice.id, proto.Request{Type: proto.ReqCreateWindow, Session: sid})
	spawnResp := doRequest(t, d, alice.id, proto.Request{
		Type: proto.ReqSpawnPane, Session: sid, Argv: []string{"/bin/sh", "-c", "cat"},
	})
	t.Cleanup(func() {
		doRequest(t, d, alice.id, proto.Request{
			Type: proto.ReqKill, Force: true,
			Target: &proto.Target{Kind: proto.TargetPane, ID: uint64(spawnResp.Pane)},
		})
	})

	doRequest(t, d, alice.id, proto.Request{Type: proto.ReqAttach, Session: sid, Pane: spawnResp.Pane})
	doRequest(t, d, bob.id, proto.Request{Type: proto.ReqAttach, Session: sid, Pane: spawnResp.Pane})

	denied := doRequest(t, d, bob.id, proto.Request{Type: proto.ReqWriteInput, Pane: spawnResp.Pane, Bytes: []byte("nope\n")})
	assert.Equal(t, proto.RespErr, denied.Type)
	assert.Equal(t, proto.CodeDenied, denied.Code)

	ok := doRequest(t, d, alice.id, proto.Request{Type: proto.ReqWriteInput, Pane: spawnResp.Pane, Bytes: []byte("echo writeback\n")})
	assert.Equal(t, proto.RespOk, ok.Type)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-alice.events:
			if ev.Type == proto.EvtPtyOutput && containsBytes(ev.Bytes, "writeback") {
				return
			}
		case <-deadline:
			t.Fatal("never observed write_input echoed back through the pty")
		}
	}
}

func TestGetStatePanesScopeReportsExitCode(t *testing.T) {
	d, cancel := startDispatcher(t)
	defer cancel()
	peer := registerPeer(t, d, "alice")

	sessResp := doRequest(t, d, peer.id, proto.Request{Type: proto.ReqCreateSession})
	sid := sessResp.Session
	winResp := doRequest(t, d, peer.id, proto.Request{Type: proto.ReqCreateWindow, Session: sid})
	wid := winResp.Window
	doRequest(t, d, peer.id, proto.Request{
		Type: proto.ReqSpawnPane, Session: sid, Window: wid, Argv: []string{"/bin/sh", "-c", "exit 7"},
	})

	deadline := time.After(2 * time.Second)
	for {
		resp := doRequest(t, d, peer.id, proto.Request{Type: proto.ReqGetState, Scope: proto.ScopePanes, Window: wid})
		require.Equal(t, proto.RespState, resp.Type)
		if containsBytes(resp.StateJSON, `"status":"exited"`) && containsBytes(resp.StateJSON, `"code":7`) {
			return
		}
		select {
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatalf("pane never reported as exited with code 7, last state: %s", resp.StateJSON)
		}
	}
}

func TestGetStateWindowsScopeFiltersBySession(t *testing.T) {
	d, cancel := startDispatcher(t)
	defer cancel()
	peer := registerPeer(t, d, "alice")

	sessResp := doRequest(t, d, peer.id, proto.Request{Type: proto.ReqCreateSession})
	sid := sessResp.Session
	doRequest(t, d, peer.id, proto.Request{Type: proto.ReqCreateWindow, Session: sid, Title: "editor"})

	other := doRequest(t, d, peer.id, proto.Request{Type: proto.ReqCreateSession})
	doRequest(t, d, peer.id, proto.Request{Type: proto.ReqCreateWindow, Session: other.Session, Title: "logs"})

	resp := doRequest(t, d, peer.id, proto.Request{Type: proto.ReqGetState, Scope: proto.ScopeWindows, Session: sid})
	require.Equal(t, proto.RespState, resp.Type)
	assert.Contains(t, string(resp.StateJSON), "editor")
	assert.NotContains(t, string(resp.StateJSON), "logs")
}

func containsBytes(b []byte, needle string) bool {
	return indexStrBytes(string(b), needle) >= 0
}

func indexStrBytes(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
