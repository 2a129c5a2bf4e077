package state

import (
	"github.com/ianremillard/splicer/internal/ferr"
	"github.com/ianremillard/splicer/internal/ids"
)

// Window groups an ordered set of panes and tracks which one is focused.
type Window struct {
	ID   ids.WindowID
	Name string

	panes   map[ids.PaneID]*Pane
	order   []ids.PaneID
	focused ids.PaneID // 0 means none
}

// NewWindow constructs an empty, unfocused window.
func NewWindow(id ids.WindowID, name string) *Window {
	return &Window{ID: id, Name: name, panes: make(map[ids.PaneID]*Pane)}
}

// AddPane inserts pane, focusing it if the window had no panes yet.
func (w *Window) AddPane(pane *Pane) error {
	if _, exists := w.panes[pane.ID]; exists {
		return ferr.New(ferr.KindInvalidState, "pane already exists")
	}
	w.panes[pane.ID] = pane
	w.order = append(w.order, pane.ID)
	if w.focused == 0 {
		w.focused = pane.ID
	}
	return nil
}

// RemovePane deletes and returns the pane with id, if present, reassigning
// focus to the first remaining pane in order when the focused pane is
// removed.
func (w *Window) RemovePane(id ids.PaneID) (*Pane, bool) {
	pane, ok := w.panes[id]
	if !ok {
		return nil, false
	}
	delete(w.panes, id)
	w.order = removePaneID(w.order, id)
	if w.focused == id {
		w.focused = 0
		if len(w.order) > 0 {
			w.focused = w.order[0]
		}
	}
	return pane, true
}

// Focus sets the focused pane; id must already belong to the window.
func (w *Window) Focus(id ids.PaneID) error {
	if _, ok := w.panes[id]; !ok {
		return ferr.New(ferr.KindInvalidState, "pane not found")
	}
	w.focused = id
	return nil
}

// Focused returns the currently focused pane id, or 0 if none.
func (w *Window) Focused() ids.PaneID { return w.focused }

// Pane returns the pane with id, if present.
func (w *Window) Pane(id ids.PaneID) (*Pane, bool) {
	p, ok := w.panes[id]
	return p, ok
}

// Panes returns every pane in insertion order.
func (w *Window) Panes() []*Pane {
	out := make([]*Pane, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, w.panes[id])
	}
	return out
}

func removePaneID(s []ids.PaneID, v ids.PaneID) []ids.PaneID {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
