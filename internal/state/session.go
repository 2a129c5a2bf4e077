package state

import (
	"github.com/ianremillard/splicer/internal/ferr"
	"github.com/ianremillard/splicer/internal/ids"
)

// Session groups an ordered set of windows and the peers attached to it.
type Session struct {
	ID   ids.SessionID
	Name string

	windows map[ids.WindowID]*Window
	order   []ids.WindowID
	focused ids.WindowID // 0 means none

	peers      map[ids.PeerID]bool
	peerOrder  []ids.PeerID
}

// NewSession constructs an empty session with no windows or peers.
func NewSession(id ids.SessionID, name string) *Session {
	return &Session{
		ID:      id,
		Name:    name,
		windows: make(map[ids.WindowID]*Window),
		peers:   make(map[ids.PeerID]bool),
	}
}

// AddWindow inserts win, focusing it if the session had no windows yet.
func (s *Session) AddWindow(win *Window) error {
	if _, exists := s.windows[win.ID]; exists {
		return ferr.New(ferr.KindInvalidState, "window already exists")
	}
	s.windows[win.ID] = win
	s.order = append(s.order, win.ID)
	if s.focused == 0 {
		s.focused = win.ID
	}
	return nil
}

// RemoveWindow deletes and returns the window with id, if present,
// reassigning focus to the first remaining window in order when the
// focused window is removed.
func (s *Session) RemoveWindow(id ids.WindowID) (*Window, bool) {
	win, ok := s.windows[id]
	if !ok {
		return nil, false
	}
	delete(s.windows, id)
	s.order = removeWindowID(s.order, id)
	if s.focused == id {
		s.focused = 0
		if len(s.order) > 0 {
			s.focused = s.order[0]
		}
	}
	return win, true
}

// FocusWindow sets the focused window; id must already belong to the
// session.
func (s *Session) FocusWindow(id ids.WindowID) error {
	if _, ok := s.windows[id]; !ok {
		return ferr.New(ferr.KindInvalidState, "window not found")
	}
	s.focused = id
	return nil
}

// Focused returns the currently focused window id, or 0 if none.
func (s *Session) Focused() ids.WindowID { return s.focused }

// AttachPeer records who as attached to this session.
func (s *Session) AttachPeer(who ids.PeerID) {
	if !s.peers[who] {
		s.peers[who] = true
		s.peerOrder = append(s.peerOrder, who)
	}
}

// DetachPeer removes who from this session's attached set.
func (s *Session) DetachPeer(who ids.PeerID) {
	if s.peers[who] {
		delete(s.peers, who)
		s.peerOrder = removePeer(s.peerOrder, who)
	}
}

// Window returns the window with id, if present.
func (s *Session) Window(id ids.WindowID) (*Window, bool) {
	w, ok := s.windows[id]
	return w, ok
}

// Windows returns every window in insertion order.
func (s *Session) Windows() []*Window {
	out := make([]*Window, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.windows[id])
	}
	return out
}

// Peers returns every attached peer id in attach order.
func (s *Session) Peers() []ids.PeerID {
	out := make([]ids.PeerID, len(s.peerOrder))
	copy(out, s.peerOrder)
	return out
}

func removeWindowID(s []ids.WindowID, v ids.WindowID) []ids.WindowID {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
