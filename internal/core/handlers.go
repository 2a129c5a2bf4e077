package core

import (
	"github.com/ianremillard/splicer/internal/ids"
	"github.com/ianremillard/splicer/internal/proto"
	"github.com/ianremillard/splicer/internal/ptyengine"
	"github.com/ianremillard/splicer/internal/state"
)

func (d *Dispatcher) handleCreateSession(req proto.Request) proto.Response {
	id := d.allocs.NewSessionID()
	name := req.Name
	if name == "" {
		name = id.String()
	}
	if _, err := d.model.AddSession(id, name); err != nil {
		return errResponse(err)
	}
	return proto.Response{Type: proto.RespSessionCreated, Session: id}
}

func (d *Dispatcher) handleListSessions() proto.Response {
	var out []proto.SessionLite
	for _, s := range d.model.Sessions() {
		out = append(out, proto.SessionLite{ID: s.ID, Name: s.Name})
	}
	return proto.Response{Type: proto.RespSessions, Sessions: out}
}

func (d *Dispatcher) handleCreateWindow(req proto.Request) proto.Response {
	id := d.allocs.NewWindowID()
	title := req.Title
	if title == "" {
		title = id.String()
	}
	if _, err := d.model.AddWindow(req.Session, id, title); err != nil {
		return errResponse(err)
	}
	return proto.Response{Type: proto.RespWindowCreated, Session: req.Session, Window: id}
}

func (d *Dispatcher) handleSpawnPane(req proto.Request) proto.Response {
	s, ok := d.model.Session(req.Session)
	if !ok {
		return proto.Err(proto.CodeNotFound, "no such session")
	}
	wid := req.Window
	if wid == 0 {
		wid = s.Focused()
	}
	if wid == 0 {
		return proto.Err(proto.CodeNotFound, "session has no window")
	}

	var program ptyengine.Program
	if len(req.Argv) == 0 {
		program = ptyengine.Program{Shell: true}
	} else {
		program = ptyengine.Program{Argv: req.Argv}
	}

	title := req.Title
	if title == "" {
		title = "shell"
	}

	id := d.allocs.NewPaneID()
	pane, err := d.model.AddPane(req.Session, wid, id, title, defaultPaneSize)
	if err != nil {
		return errResponse(err)
	}

	if err := pane.Spawn(program, req.Cwd, nil); err != nil {
		d.model.RemovePane(id)
		return errResponse(err)
	}

	for _, peer := range pane.Attached() {
		if tap, ok := pane.Tap(peer); ok {
			d.spawnOutputForwarder(peer, id, tap)
		}
	}

	d.broadcastToSession(req.Session, proto.Event{Type: proto.EvtLayoutChanged, Window: wid})
	return proto.Response{Type: proto.RespPaneSpawned, Session: req.Session, Window: wid, Pane: id}
}

func (d *Dispatcher) handleAttach(peer ids.PeerID, req proto.Request) proto.Response {
	s, ok := d.model.Session(req.Session)
	if !ok {
		return proto.Err(proto.CodeNotFound, "no such session")
	}
	s.AttachPeer(peer)

	wid := req.Window
	if wid == 0 {
		wid = s.Focused()
	}
	pid := req.Pane
	if wid != 0 && pid == 0 {
		if w, ok := s.Window(wid); ok {
			pid = w.Focused()
		}
	}
	if pid != 0 {
		_, _, pane, ok := d.model.LocatePane(pid)
		if !ok {
			return proto.Err(proto.CodeNotFound, "no such pane")
		}
		pane.AttachPeer(peer)
		if pane.HasPty() {
			if tap, ok := pane.Tap(peer); ok {
				d.spawnOutputForwarder(peer, pid, tap)
			}
		}
	}

	d.broadcastToSession(req.Session, proto.Event{
		Type: proto.EvtPeerAttached, Peer: peer, Window: wid, Pane: pid,
	})
	return proto.Response{Type: proto.RespAttached, Session: req.Session, Window: wid, Pane: pid}
}

func (d *Dispatcher) handleDetach(peer ids.PeerID, req proto.Request) proto.Response {
	if req.Target == nil {
		for _, s := range d.model.Sessions() {
			d.detachPeerFromSession(peer, s)
		}
		return proto.Response{Type: proto.RespDetached}
	}

	switch req.Target.Kind {
	case proto.TargetSession:
		sid := ids.SessionID(req.Target.ID)
		s, ok := d.model.Session(sid)
		if !ok {
			return proto.Err(proto.CodeNotFound, "no such session")
		}
		d.detachPeerFromSession(peer, s)
		return proto.Response{Type: proto.RespDetached, Session: sid}
	case proto.TargetPane:
		pid := ids.PaneID(req.Target.ID)
		_, _, pane, ok := d.model.LocatePane(pid)
		if !ok {
			return proto.Err(proto.CodeNotFound, "no such pane")
		}
		pane.DetachPeer(peer)
		return proto.Response{Type: proto.RespDetached, Pane: pid}
	default:
		return proto.Err(proto.CodeInvalidArgs, "unsupported detach target")
	}
}

func (d *Dispatcher) detachPeerFromSession(peer ids.PeerID, s *state.Session) {
	s.DetachPeer(peer)
	for _, w := range s.Windows() {
		for _, p := range w.Panes() {
			p.DetachPeer(peer)
		}
	}
	d.broadcastToSession(s.ID, proto.Event{Type: proto.EvtPeerDetached, Peer: peer})
}

func (d *Dispatcher) handleKill(req proto.Request) proto.Response {
	if req.Target == nil {
		return proto.Err(proto.CodeInvalidArgs, "target required")
	}
	switch req.Target.Kind {
	case proto.TargetPane:
		pid := ids.PaneID(req.Target.ID)
		s, w, pane, ok := d.model.LocatePane(pid)
		if !ok {
			return proto.Err(proto.CodeNotFound, "no such pane")
		}
		if err := pane.Kill(req.Force); err != nil {
			return errResponse(err)
		}
		if req.Force {
			d.model.RemovePane(pid)
			d.broadcastToSession(s.ID, proto.Event{Type: proto.EvtLayoutChanged, Window: w.ID})
		}
		return proto.Response{Type: proto.RespKilled, Pane: pid}
	case proto.TargetSession:
		sid := ids.SessionID(req.Target.ID)
		s, ok := d.model.Session(sid)
		if !ok {
			return proto.Err(proto.CodeNotFound, "no such session")
		}
		for _, w := range s.Windows() {
			for _, p := range w.Panes() {
				_ = p.Kill(req.Force)
			}
		}
		d.model.RemoveSession(sid)
		return proto.Response{Type: proto.RespKilled, Session: sid}
	default:
		return proto.Err(proto.CodeInvalidArgs, "unsupported kill target")
	}
}

func (d *Dispatcher) handleGetState(req proto.Request) proto.Response {
	blob, err := marshalScope(d.model, req)
	if err != nil {
		return errResponse(err)
	}
	return proto.Response{Type: proto.RespState, StateJSON: blob}
}

func (d *Dispatcher) handleRenameSession(req proto.Request) proto.Response {
	s, ok := d.model.Session(req.Session)
	if !ok {
		return proto.Err(proto.CodeNotFound, "no such session")
	}
	s.Name = req.Name
	d.broadcastToSession(req.Session, proto.Event{Type: proto.EvtTitleChanged, Title: req.Name})
	return proto.Response{Type: proto.RespOk, Session: req.Session}
}

func (d *Dispatcher) handleRenameWindow(req proto.Request) proto.Response {
	s, ok := d.model.Session(req.Session)
	if !ok {
		return proto.Err(proto.CodeNotFound, "no such session")
	}
	w, ok := s.Window(req.Window)
	if !ok {
		return proto.Err(proto.CodeNotFound, "no such window")
	}
	w.Name = req.Title
	d.broadcastToSession(req.Session, proto.Event{Type: proto.EvtTitleChanged, Window: req.Window, Title: req.Title})
	return proto.Response{Type: proto.RespOk, Session: req.Session, Window: req.Window}
}

func (d *Dispatcher) handleSetPaneTitle(req proto.Request) proto.Response {
	s, _, pane, ok := d.model.LocatePane(req.Pane)
	if !ok {
		return proto.Err(proto.CodeNotFound, "no such pane")
	}
	pane.Title = req.Title
	d.broadcastToSession(s.ID, proto.Event{Type: proto.EvtTitleChanged, Pane: req.Pane, Title: req.Title})
	return proto.Response{Type: proto.RespOk, Pane: req.Pane}
}

func (d *Dispatcher) handleResizePane(req proto.Request) proto.Response {
	if req.Cols == 0 || req.Rows == 0 {
		return proto.Err(proto.CodeInvalidArgs, "cols and rows must be positive")
	}
	s, w, pane, ok := d.model.LocatePane(req.Pane)
	if !ok {
		return proto.Err(proto.CodeNotFound, "no such pane")
	}
	if err := pane.Resize(state.TermSize{Cols: req.Cols, Rows: req.Rows}); err != nil {
		return errResponse(err)
	}
	d.broadcastToSession(s.ID, proto.Event{Type: proto.EvtLayoutChanged, Window: w.ID})
	return proto.Response{Type: proto.RespOk, Pane: req.Pane}
}

func (d *Dispatcher) handleSetInputOwner(req proto.Request) proto.Response {
	_, _, pane, ok := d.model.LocatePane(req.Pane)
	if !ok {
		return proto.Err(proto.CodeNotFound, "no such pane")
	}
	if err := pane.SetInputOwner(req.InputOwner); err != nil {
		return errResponse(err)
	}
	return proto.Response{Type: proto.RespOk, Pane: req.Pane}
}

// handleWriteInput forwards keystrokes from peer to the pane's PTY. Only
// the current input owner may write; everyone else gets CodeDenied via
// errResponse (spec §4.4's write_from, §8 scenario 4).
func (d *Dispatcher) handleWriteInput(peer ids.PeerID, req proto.Request) proto.Response {
	_, _, pane, ok := d.model.LocatePane(req.Pane)
	if !ok {
		return proto.Err(proto.CodeNotFound, "no such pane")
	}
	if _, err := pane.WriteFrom(peer, req.Bytes); err != nil {
		return errResponse(err)
	}
	return proto.Response{Type: proto.RespOk, Pane: req.Pane}
}
