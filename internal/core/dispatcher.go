// Package core implements the single-owner dispatcher actor that
// serializes every state mutation behind one goroutine (spec §4.6, §9).
// No other package is allowed to call into internal/state directly.
package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ianremillard/splicer/internal/ferr"
	"github.com/ianremillard/splicer/internal/ids"
	"github.com/ianremillard/splicer/internal/proto"
	"github.com/ianremillard/splicer/internal/ptyengine"
	"github.com/ianremillard/splicer/internal/state"
)

// msgQueueCap bounds the dispatcher's mailbox.
const msgQueueCap = 256

// pollInterval is how often the dispatcher checks spawned panes for a
// completed exit (spec §4.6's "lightweight poller").
const pollInterval = 100 * time.Millisecond

// defaultPaneSize is used for SpawnPane requests, which carry no explicit
// size on the wire; a peer adjusts it afterward with ResizePane.
var defaultPaneSize = state.TermSize{Cols: 80, Rows: 24}

// Dispatcher owns the one *state.Model and one ids.Allocators for the life
// of the process, processing Msg values received on a single goroutine.
type Dispatcher struct {
	model  *state.Model
	allocs ids.Allocators

	msgCh chan Msg

	events map[ids.PeerID]chan proto.Event
}

// New constructs a Dispatcher with an empty model.
func New() *Dispatcher {
	return &Dispatcher{
		model:  state.NewModel(),
		msgCh:  make(chan Msg, msgQueueCap),
		events: make(map[ids.PeerID]chan proto.Event),
	}
}

// Send enqueues msg for processing. It blocks if the mailbox is full,
// matching every other inter-task channel in this server (spec §5).
func (d *Dispatcher) Send(msg Msg) {
	d.msgCh <- msg
}

// Run processes messages until ctx is cancelled. It must be started
// exactly once, on its own goroutine, by the daemon's main.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-d.msgCh:
			d.handle(msg)
		case <-ticker.C:
			d.pollExits()
		}
	}
}

func (d *Dispatcher) handle(msg Msg) {
	switch m := msg.(type) {
	case RegisterPeer:
		d.handleRegisterPeer(m)
	case FromPeer:
		m.Reply <- d.dispatchRequest(m.Peer, m.Req)
	case UnregisterPeer:
		d.handleUnregisterPeer(m)
	case streamDropped:
		d.handleStreamDropped(m)
	}
}

func (d *Dispatcher) handleRegisterPeer(m RegisterPeer) {
	id := d.allocs.NewPeerID()
	name := m.Name
	if name == "" {
		name = id.String()
	}
	d.model.AddPeer(id, name)
	d.events[id] = m.EventCh
	m.Reply <- id
}

func (d *Dispatcher) handleUnregisterPeer(m UnregisterPeer) {
	affectedSessions := map[ids.SessionID]bool{}
	for _, s := range d.model.Sessions() {
		for _, peer := range s.Peers() {
			if peer == m.Peer {
				affectedSessions[s.ID] = true
			}
		}
	}
	d.model.RemovePeer(m.Peer)
	delete(d.events, m.Peer)
	for sid := range affectedSessions {
		d.broadcastToSession(sid, proto.Event{Type: proto.EvtPeerDetached, Peer: m.Peer})
	}
}

func (d *Dispatcher) handleStreamDropped(m streamDropped) {
	_, _, pane, ok := d.model.LocatePane(m.Pane)
	if !ok {
		return
	}
	if ch, ok := pane.TakeTap(m.Peer); ok {
		_ = ch // the forwarder has stopped reading ch; the PTY engine closes it once its queue fills or the child exits
	}
	d.sendTo(m.Peer, proto.Event{Type: proto.EvtStreamDropNotice, Pane: m.Pane})
}

func (d *Dispatcher) pollExits() {
	for _, s := range d.model.Sessions() {
		for _, w := range s.Windows() {
			for _, p := range w.Panes() {
				if !p.HasPty() {
					continue
				}
				if p.PollExit() {
					d.broadcastToSession(s.ID, proto.Event{Type: proto.EvtLayoutChanged, Window: w.ID})
				}
			}
		}
	}
}

// dispatchRequest executes one request against the model and returns the
// response to send back. It never blocks on I/O (spec §5).
func (d *Dispatcher) dispatchRequest(peer ids.PeerID, req proto.Request) proto.Response {
	switch req.Type {
	case proto.ReqPing:
		return proto.Response{Type: proto.RespOk}
	case proto.ReqCreateSession:
		return d.handleCreateSession(req)
	case proto.ReqListSessions:
		return d.handleListSessions()
	case proto.ReqCreateWindow:
		return d.handleCreateWindow(req)
	case proto.ReqSpawnPane:
		return d.handleSpawnPane(req)
	case proto.ReqAttach:
		return d.handleAttach(peer, req)
	case proto.ReqDetach:
		return d.handleDetach(peer, req)
	case proto.ReqKill:
		return d.handleKill(req)
	case proto.ReqGetState:
		return d.handleGetState(req)
	case proto.ReqRenameSession:
		return d.handleRenameSession(req)
	case proto.ReqRenameWindow:
		return d.handleRenameWindow(req)
	case proto.ReqSetPaneTitle:
		return d.handleSetPaneTitle(req)
	case proto.ReqResizePane:
		return d.handleResizePane(req)
	case proto.ReqSetInputOwner:
		return d.handleSetInputOwner(req)
	case proto.ReqWriteInput:
		return d.handleWriteInput(peer, req)
	default:
		return proto.Err(proto.CodeInvalidArgs, "unknown request type")
	}
}

func errResponse(err error) proto.Response {
	switch ferr.KindOf(err) {
	case ferr.KindUserInput:
		return proto.Err(proto.CodeInvalidArgs, err.Error())
	case ferr.KindInvalidState:
		return proto.Err(proto.CodeNotFound, err.Error())
	case ferr.KindDenied:
		return proto.Err(proto.CodeDenied, err.Error())
	case ferr.KindNotAttached:
		return proto.Err(proto.CodeNotAttached, err.Error())
	case ferr.KindPty:
		return proto.Err(proto.CodeInternal, err.Error())
	default:
		return proto.Err(proto.CodeInternal, err.Error())
	}
}

// broadcastToSession sends ev to every peer currently attached to session
// sid. Sends are ordinary blocking channel sends (Open Question
// resolution, see DESIGN.md): this only ever stalls the dispatcher
// goroutine if a peer's own event-forwarder goroutine has stopped
// draining, the same risk the original single-threaded actor accepted.
func (d *Dispatcher) broadcastToSession(sid ids.SessionID, ev proto.Event) {
	s, ok := d.model.Session(sid)
	if !ok {
		return
	}
	ev.Session = sid
	for _, peer := range s.Peers() {
		d.sendTo(peer, ev)
	}
}

// sendTo delivers ev to a single peer's event channel, if still attached.
func (d *Dispatcher) sendTo(peer ids.PeerID, ev proto.Event) {
	ch, ok := d.events[peer]
	if !ok {
		return
	}
	ch <- ev
}

// marshalScope renders a GetState snapshot for the requested scope. req's
// Session/Window fields narrow the Windows/Panes scopes when non-zero
// (spec §4.2, §8 scenario 3's GetState{scope:Panes{window:w1}}).
func marshalScope(m *state.Model, req proto.Request) ([]byte, error) {
	switch req.Scope {
	case proto.ScopeSessions, "":
		type row struct {
			ID   ids.SessionID `json:"id"`
			Name string        `json:"name"`
		}
		var out []row
		for _, s := range m.Sessions() {
			out = append(out, row{ID: s.ID, Name: s.Name})
		}
		return json.Marshal(out)
	case proto.ScopeWindows:
		type row struct {
			ID      ids.WindowID  `json:"id"`
			Session ids.SessionID `json:"session"`
			Title   string        `json:"title"`
			Focused ids.PaneID    `json:"focused,omitempty"`
		}
		var out []row
		for _, s := range m.Sessions() {
			if req.Session != 0 && req.Session != s.ID {
				continue
			}
			for _, w := range s.Windows() {
				out = append(out, row{ID: w.ID, Session: s.ID, Title: w.Name, Focused: w.Focused()})
			}
		}
		return json.Marshal(out)
	case proto.ScopePanes:
		type row struct {
			ID     ids.PaneID   `json:"id"`
			Window ids.WindowID `json:"window"`
			Title  string       `json:"title"`
			Cols   uint16       `json:"cols"`
			Rows   uint16       `json:"rows"`
			Status string       `json:"status"`
			Code   *uint32      `json:"code,omitempty"`
			Signal string       `json:"signal,omitempty"`
		}
		var out []row
		for _, s := range m.Sessions() {
			for _, w := range s.Windows() {
				if req.Window != 0 && req.Window != w.ID {
					continue
				}
				for _, p := range w.Panes() {
					r := row{
						ID:     p.ID,
						Window: w.ID,
						Title:  p.Title,
						Cols:   p.Size.Cols,
						Rows:   p.Size.Rows,
						Status: p.Status().String(),
					}
					if exit, ok := p.ExitStatus(); ok {
						if exit.Signaled {
							r.Signal = exit.SignalName
						} else {
							code := exit.Code
							r.Code = &code
						}
					}
					out = append(out, r)
				}
			}
		}
		return json.Marshal(out)
	case proto.ScopePeers:
		type row struct {
			ID   ids.PeerID `json:"id"`
			Name string     `json:"name"`
		}
		var out []row
		for _, p := range m.Peers() {
			out = append(out, row{ID: p.ID, Name: p.Name})
		}
		return json.Marshal(out)
	default:
		return nil, ferr.New(ferr.KindUserInput, "unsupported scope")
	}
}

// spawnOutputForwarder starts one goroutine that copies chunks from the
// PTY's tap channel into peer's event channel as PtyOutput events, and
// drops the tap with a StreamDropNotice when the peer's channel can't
// keep up (spec §4.3/§8, SPEC_FULL.md "SpawnPane" bridge). Must be called
// from the dispatcher goroutine so the d.events lookup is race-free; the
// returned goroutine only ever touches the channel value it captured, not
// d.events itself, since state and its index are single-owner.
func (d *Dispatcher) spawnOutputForwarder(peer ids.PeerID, pane ids.PaneID, tap <-chan ptyengine.Chunk) {
	ch, ok := d.events[peer]
	if !ok {
		return
	}
	go func() {
		for chunk := range tap {
			ev := proto.Event{Type: proto.EvtPtyOutput, Pane: pane, Bytes: []byte(chunk)}
			select {
			case ch <- ev:
			default:
				d.Send(streamDropped{Peer: peer, Pane: pane})
				return
			}
		}
	}()
}
