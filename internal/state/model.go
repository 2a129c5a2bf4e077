// Package state implements the session/window/pane/peer hierarchy as a
// pure, synchronous, no-I/O data model, transliterated from the original
// server's state module. Every exported method on Model (and on the types
// it returns) must only ever be called from the single goroutine that
// owns the Model; none of it is safe for concurrent use, by design.
package state

import (
	"github.com/ianremillard/splicer/internal/ferr"
	"github.com/ianremillard/splicer/internal/ids"
)

// paneLocation records which session and window a pane lives in, so a
// pane can be found by id alone without scanning every session.
type paneLocation struct {
	Session ids.SessionID
	Window  ids.WindowID
}

// Model is the top-level container for every session and connected peer.
type Model struct {
	sessions map[ids.SessionID]*Session
	sessOrder []ids.SessionID

	peers     map[ids.PeerID]*Peer
	peerOrder []ids.PeerID

	paneIndex map[ids.PaneID]paneLocation
}

// NewModel constructs an empty Model.
func NewModel() *Model {
	return &Model{
		sessions:  make(map[ids.SessionID]*Session),
		peers:     make(map[ids.PeerID]*Peer),
		paneIndex: make(map[ids.PaneID]paneLocation),
	}
}

// AddSession inserts a new session under the given (caller-allocated) id.
func (m *Model) AddSession(id ids.SessionID, name string) (*Session, error) {
	if _, exists := m.sessions[id]; exists {
		return nil, ferr.New(ferr.KindInvalidState, "session already exists")
	}
	s := NewSession(id, name)
	m.sessions[id] = s
	m.sessOrder = append(m.sessOrder, id)
	return s, nil
}

// RemoveSession deletes session id and every pane it contains from the
// pane index.
func (m *Model) RemoveSession(id ids.SessionID) (*Session, bool) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	for _, w := range s.Windows() {
		for _, p := range w.Panes() {
			delete(m.paneIndex, p.ID)
		}
	}
	delete(m.sessions, id)
	m.sessOrder = removeSessionID(m.sessOrder, id)
	return s, true
}

// Session returns the session with id, if present.
func (m *Model) Session(id ids.SessionID) (*Session, bool) {
	s, ok := m.sessions[id]
	return s, ok
}

// Sessions returns every session in insertion order.
func (m *Model) Sessions() []*Session {
	out := make([]*Session, 0, len(m.sessOrder))
	for _, id := range m.sessOrder {
		out = append(out, m.sessions[id])
	}
	return out
}

// AddWindow adds a window (under a caller-allocated id) to session sid.
func (m *Model) AddWindow(sid ids.SessionID, id ids.WindowID, name string) (*Window, error) {
	s, ok := m.sessions[sid]
	if !ok {
		return nil, ferr.New(ferr.KindInvalidState, "no such session")
	}
	w := NewWindow(id, name)
	if err := s.AddWindow(w); err != nil {
		return nil, err
	}
	return w, nil
}

// AddPane adds a pane (under a caller-allocated id) to window wid of
// session sid, and indexes it for fast lookup by pane id alone.
func (m *Model) AddPane(sid ids.SessionID, wid ids.WindowID, id ids.PaneID, title string, size TermSize) (*Pane, error) {
	s, ok := m.sessions[sid]
	if !ok {
		return nil, ferr.New(ferr.KindInvalidState, "no such session")
	}
	w, ok := s.Window(wid)
	if !ok {
		return nil, ferr.New(ferr.KindInvalidState, "no such window")
	}
	p := NewPane(id, title, size)
	if err := w.AddPane(p); err != nil {
		return nil, err
	}
	m.paneIndex[id] = paneLocation{Session: sid, Window: wid}
	return p, nil
}

// LocatePane finds a pane by id alone, returning its session, window, and
// the pane itself.
func (m *Model) LocatePane(id ids.PaneID) (*Session, *Window, *Pane, bool) {
	loc, ok := m.paneIndex[id]
	if !ok {
		return nil, nil, nil, false
	}
	s, ok := m.sessions[loc.Session]
	if !ok {
		return nil, nil, nil, false
	}
	w, ok := s.Window(loc.Window)
	if !ok {
		return nil, nil, nil, false
	}
	p, ok := w.Pane(id)
	if !ok {
		return nil, nil, nil, false
	}
	return s, w, p, true
}

// RemovePane deletes a pane and its index entry, wherever it lives.
func (m *Model) RemovePane(id ids.PaneID) (*Pane, bool) {
	loc, ok := m.paneIndex[id]
	if !ok {
		return nil, false
	}
	s, ok := m.sessions[loc.Session]
	if !ok {
		return nil, false
	}
	w, ok := s.Window(loc.Window)
	if !ok {
		return nil, false
	}
	p, ok := w.RemovePane(id)
	delete(m.paneIndex, id)
	return p, ok
}

// AddPeer registers a newly connected peer under a caller-allocated id.
func (m *Model) AddPeer(id ids.PeerID, name string) *Peer {
	p := NewPeer(id, name)
	m.peers[id] = p
	m.peerOrder = append(m.peerOrder, id)
	return p
}

// RemovePeer unregisters a peer, detaching it from every session and pane
// it had joined.
func (m *Model) RemovePeer(id ids.PeerID) {
	delete(m.peers, id)
	m.peerOrder = removePeer(m.peerOrder, id)
	for _, s := range m.sessions {
		s.DetachPeer(id)
		for _, w := range s.Windows() {
			for _, p := range w.Panes() {
				p.DetachPeer(id)
			}
		}
	}
}

// Peer returns the peer with id, if present.
func (m *Model) Peer(id ids.PeerID) (*Peer, bool) {
	p, ok := m.peers[id]
	return p, ok
}

// Peers returns every registered peer in registration order.
func (m *Model) Peers() []*Peer {
	out := make([]*Peer, 0, len(m.peerOrder))
	for _, id := range m.peerOrder {
		out = append(out, m.peers[id])
	}
	return out
}

// PollPaneExit checks every pane with a spawned PTY for a newly completed
// exit, returning the ids of panes that transitioned to Exited on this
// call (so the caller can emit one LayoutChanged per session affected).
func (m *Model) PollPaneExit() []ids.PaneID {
	var transitioned []ids.PaneID
	for _, s := range m.sessions {
		for _, w := range s.Windows() {
			for _, p := range w.Panes() {
				if p.HasPty() && p.PollExit() {
					transitioned = append(transitioned, p.ID)
				}
			}
		}
	}
	return transitioned
}

func removeSessionID(s []ids.SessionID, v ids.SessionID) []ids.SessionID {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
