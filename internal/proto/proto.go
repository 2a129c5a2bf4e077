// Package proto defines the splicer protocol schema carried inside wire
// frames: the handshake (schema 0), requests/responses (schema 1), and
// events (schema 2) of spec §4.2, plus the supplemented requests (ping,
// renames, pane title, resize, input owner, and write input) described in
// SPEC_FULL.md and DESIGN.md. Payloads are encoded as JSON, following the
// teacher's own control-plane encoding convention (see SPEC_FULL.md's wire
// encoding rationale).
package proto

import "github.com/ianremillard/splicer/internal/ids"

// Schema IDs, carried in the wire.FrameHeader.
const (
	SchemaHandshake uint32 = 0
	SchemaControl   uint32 = 1
	SchemaEvent     uint32 = 2
)

// APIMajor is this build's protocol major version (spec §4.2).
const APIMajor uint8 = 1

// Hello is the client's first frame on schema 0.
type Hello struct {
	ClientAPIMajor uint8  `json:"client_api_major"`
	Features       uint64 `json:"features"`
	PeerName       string `json:"peer_name,omitempty"`
}

// HelloAck is the server's reply to Hello, also on schema 0.
type HelloAck struct {
	ServerAPIMajor uint8  `json:"server_api_major"`
	Features       uint64 `json:"features"`
}

// ErrorCode is the closed set of wire-level error codes (spec §4.2). A
// client branches on Code; Msg is a human hint and must never be parsed.
type ErrorCode int

const (
	CodeOK              ErrorCode = 0
	CodeNotFound        ErrorCode = 2
	CodeInvalidArgs     ErrorCode = 3
	CodeNotAttached     ErrorCode = 4
	CodeVersionMismatch ErrorCode = 5
	CodeDenied          ErrorCode = 6
	CodeTimeout         ErrorCode = 7
	CodeInternal        ErrorCode = 255
)

// Request-type discriminators (the Request.Type field).
const (
	ReqPing           = "ping"
	ReqCreateSession  = "create_session"
	ReqListSessions   = "list_sessions"
	ReqCreateWindow   = "create_window"
	ReqSpawnPane      = "spawn_pane"
	ReqAttach         = "attach"
	ReqDetach         = "detach"
	ReqKill           = "kill"
	ReqGetState       = "get_state"
	ReqRenameSession  = "rename_session"
	ReqRenameWindow   = "rename_window"
	ReqSetPaneTitle   = "set_pane_title"
	ReqResizePane     = "resize_pane"
	ReqSetInputOwner  = "set_input_owner"
	ReqWriteInput     = "write_input"
)

// Target kinds, used by DetachTarget/KillTarget.
const (
	TargetSession = "session"
	TargetWindow  = "window"
	TargetPane    = "pane"
)

// StateScope kinds, used by Request.Scope.
const (
	ScopeSessions = "sessions"
	ScopeWindows  = "windows"
	ScopePanes    = "panes"
	ScopePeers    = "peers"
)

// Target names a Session, Window, or Pane by kind + numeric id. It is used
// both for DetachTarget/KillTarget and is intentionally untyped (a raw
// uint64) on the wire since the three ID kinds share no common Go type.
type Target struct {
	Kind string `json:"kind"`
	ID   uint64 `json:"id"`
}

// SessionTarget builds a Target naming a session.
func SessionTarget(id ids.SessionID) Target { return Target{Kind: TargetSession, ID: uint64(id)} }

// WindowTarget builds a Target naming a window.
func WindowTarget(id ids.WindowID) Target { return Target{Kind: TargetWindow, ID: uint64(id)} }

// PaneTarget builds a Target naming a pane.
func PaneTarget(id ids.PaneID) Target { return Target{Kind: TargetPane, ID: uint64(id)} }

// Request is the single flat, discriminated request envelope sent on
// schema 1. Only the fields relevant to Type are populated; the rest carry
// their zero value. This mirrors the teacher's own proto.Request shape
// (one struct, a string Type, a grab-bag of optional fields) rather than a
// hand-rolled sum type.
type Request struct {
	Type string `json:"type"`

	// CreateSession / RenameSession
	Name    string        `json:"name,omitempty"`
	Session ids.SessionID `json:"session,omitempty"`

	// CreateWindow / RenameWindow
	Window ids.WindowID `json:"window,omitempty"`
	Title  string       `json:"title,omitempty"`

	// SpawnPane
	Cwd  string   `json:"cwd,omitempty"`
	Argv []string `json:"argv,omitempty"`

	// Attach / SetPaneTitle / ResizePane / SetInputOwner
	Pane ids.PaneID `json:"pane,omitempty"`
	Cols uint16     `json:"cols,omitempty"`
	Rows uint16     `json:"rows,omitempty"`

	// SetInputOwner: the peer to grant ownership to; zero clears ownership.
	InputOwner ids.PeerID `json:"input_owner,omitempty"`

	// WriteInput
	Bytes []byte `json:"bytes,omitempty"`

	// Detach / Kill
	Target *Target `json:"target,omitempty"`
	Force  bool    `json:"force,omitempty"`

	// GetState
	Scope string `json:"scope,omitempty"`
}

// Response-type discriminators (the Response.Type field).
const (
	RespOk             = "ok"
	RespSessionCreated = "session_created"
	RespSessions       = "sessions"
	RespWindowCreated  = "window_created"
	RespPaneSpawned    = "pane_spawned"
	RespAttached       = "attached"
	RespDetached       = "detached"
	RespKilled         = "killed"
	RespState          = "state"
	RespErr            = "err"
)

// SessionLite is a point-in-time snapshot of a session's id and name, used
// in the Sessions response.
type SessionLite struct {
	ID   ids.SessionID `json:"id"`
	Name string        `json:"name"`
}

// Response is the single flat, discriminated response envelope sent on
// schema 1, mirroring Request's shape.
type Response struct {
	Type string `json:"type"`

	Session ids.SessionID `json:"session,omitempty"`
	Window  ids.WindowID  `json:"window,omitempty"`
	Pane    ids.PaneID    `json:"pane,omitempty"`

	Sessions []SessionLite `json:"sessions,omitempty"`

	StateJSON []byte `json:"state_json,omitempty"`

	Code ErrorCode `json:"code,omitempty"`
	Msg  string    `json:"msg,omitempty"`
}

// Err builds an error Response.
func Err(code ErrorCode, msg string) Response {
	return Response{Type: RespErr, Code: code, Msg: msg}
}

// Event-type discriminators (the Event.Type field).
const (
	EvtPtyOutput        = "pty_output"
	EvtTitleChanged     = "title_changed"
	EvtLayoutChanged    = "layout_changed"
	EvtPeerAttached     = "peer_attached"
	EvtPeerDetached     = "peer_detached"
	EvtBye              = "bye"
	EvtStreamDropNotice = "stream_drop_notice"
)

// Event is the single flat, discriminated event envelope sent on schema 2.
type Event struct {
	Type string `json:"type"`

	Session ids.SessionID `json:"session,omitempty"`
	Window  ids.WindowID  `json:"window,omitempty"`
	Pane    ids.PaneID    `json:"pane,omitempty"`
	Peer    ids.PeerID    `json:"peer,omitempty"`

	Title string `json:"title,omitempty"`
	Bytes []byte `json:"bytes,omitempty"`
	Reason string `json:"reason,omitempty"`
}
