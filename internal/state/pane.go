package state

import (
	"github.com/ianremillard/splicer/internal/ferr"
	"github.com/ianremillard/splicer/internal/ids"
	"github.com/ianremillard/splicer/internal/ptyengine"
)

// TermSize is a pane's terminal dimensions in character cells.
type TermSize struct {
	Cols uint16
	Rows uint16
}

// PaneStatus is the lifecycle state of a pane's PTY, transliterated from
// the original's PaneState enum (empty/running/exited).
type PaneStatus int

const (
	PaneEmpty PaneStatus = iota
	PaneRunning
	PaneExited
)

func (s PaneStatus) String() string {
	switch s {
	case PaneEmpty:
		return "empty"
	case PaneRunning:
		return "running"
	case PaneExited:
		return "exited"
	default:
		return "unknown"
	}
}

// Pane is one PTY-backed cell within a Window. It holds no locking of its
// own: every method is only ever called from the single goroutine that
// owns the enclosing Model.
type Pane struct {
	ID    ids.PaneID
	Title string
	Size  TermSize

	pty    *ptyengine.Handle
	taps   map[ids.PeerID]<-chan ptyengine.Chunk
	attached []ids.PeerID

	inputOwner ids.PeerID // 0 means none

	status     PaneStatus
	exitStatus *ptyengine.ExitStatus
}

// NewPane constructs a pane with no PTY spawned yet.
func NewPane(id ids.PaneID, title string, size TermSize) *Pane {
	return &Pane{
		ID:    id,
		Title: title,
		Size:  size,
		taps:  make(map[ids.PeerID]<-chan ptyengine.Chunk),
	}
}

// HasPty reports whether a PTY has been spawned for this pane.
func (p *Pane) HasPty() bool { return p.pty != nil }

// IsRunning reports whether the pane's PTY is spawned and not yet exited.
func (p *Pane) IsRunning() bool { return p.status == PaneRunning }

// Status returns the pane's current lifecycle status.
func (p *Pane) Status() PaneStatus { return p.status }

// ExitStatus returns the latched exit status, if the pane has exited.
func (p *Pane) ExitStatus() (ptyengine.ExitStatus, bool) {
	if p.exitStatus == nil {
		return ptyengine.ExitStatus{}, false
	}
	return *p.exitStatus, true
}

// Spawn starts a PTY-backed process for this pane, sized to p.Size, and
// taps every already-attached peer into its output immediately.
func (p *Pane) Spawn(program ptyengine.Program, cwd string, env []string) error {
	if p.pty != nil {
		return ferr.New(ferr.KindInvalidState, "pane already spawned")
	}
	h, err := ptyengine.Spawn(program, ptyengine.Config{
		Cols: p.Size.Cols,
		Rows: p.Size.Rows,
		Cwd:  cwd,
		Env:  env,
	})
	if err != nil {
		return err
	}
	p.pty = h
	for _, peer := range p.attached {
		p.taps[peer] = h.Subscribe()
	}
	if p.inputOwner == 0 && len(p.attached) > 0 {
		p.inputOwner = p.attached[0]
	}
	p.status = PaneRunning
	return nil
}

// AttachPeer records who as viewing this pane, subscribing it to the PTY's
// output if one is already running.
func (p *Pane) AttachPeer(who ids.PeerID) {
	if !containsPeer(p.attached, who) {
		p.attached = append(p.attached, who)
	}
	if p.pty != nil {
		p.taps[who] = p.pty.Subscribe()
		if p.inputOwner == 0 {
			p.inputOwner = who
		}
	}
}

// DetachPeer removes who from this pane, closing its tap (if any) and
// reassigning input focus if who held it.
func (p *Pane) DetachPeer(who ids.PeerID) {
	p.attached = removePeer(p.attached, who)
	if ch, ok := p.taps[who]; ok {
		if p.pty != nil {
			p.pty.Unsubscribe(ch)
		}
		delete(p.taps, who)
	}
	if p.inputOwner == who {
		p.inputOwner = 0
		if len(p.attached) > 0 {
			p.inputOwner = p.attached[0]
		}
	}
}

// SetInputOwner grants typing focus to who, or clears it when who is 0. who
// must already be attached.
func (p *Pane) SetInputOwner(who ids.PeerID) error {
	if who != 0 && !containsPeer(p.attached, who) {
		return ferr.New(ferr.KindNotAttached, "peer not attached")
	}
	p.inputOwner = who
	return nil
}

// InputOwner returns the peer currently holding input focus, or 0.
func (p *Pane) InputOwner() ids.PeerID { return p.inputOwner }

// WriteFrom writes bytes to the pane's PTY on who's behalf, rejecting the
// write unless who currently holds input focus.
func (p *Pane) WriteFrom(who ids.PeerID, b []byte) (int, error) {
	if p.inputOwner != who {
		return 0, ferr.New(ferr.KindDenied, "peer has no input focus")
	}
	if p.pty == nil {
		return 0, ferr.New(ferr.KindInvalidState, "pane has no PTY")
	}
	return p.pty.Write(b)
}

// Resize updates the pane's terminal size and, if a PTY is running,
// forwards the new size to it.
func (p *Pane) Resize(size TermSize) error {
	p.Size = size
	if p.pty == nil || p.status != PaneRunning {
		return nil
	}
	get, _ := p.pty.ExitWatch()
	if _, exited := get(); exited {
		return nil
	}
	return p.pty.Resize(size.Cols, size.Rows)
}

// Kill signals the pane's PTY, if any, to terminate.
func (p *Pane) Kill(force bool) error {
	if p.pty == nil {
		return nil
	}
	sig := ptyengine.SigTerm
	if force {
		sig = ptyengine.SigKill
	}
	return p.pty.Signal(sig)
}

// PollExit checks the PTY's exit watch without blocking, latching Exited
// and returning true the first time it observes a completed child.
func (p *Pane) PollExit() bool {
	if p.pty == nil || p.status == PaneExited {
		return false
	}
	get, _ := p.pty.ExitWatch()
	status, ok := get()
	if !ok {
		return false
	}
	p.exitStatus = &status
	p.status = PaneExited
	return true
}

// Tap returns the output channel tapped for peer, if any.
func (p *Pane) Tap(peer ids.PeerID) (<-chan ptyengine.Chunk, bool) {
	ch, ok := p.taps[peer]
	return ch, ok
}

// TakeTap removes and returns the output channel tapped for peer, if any.
func (p *Pane) TakeTap(peer ids.PeerID) (<-chan ptyengine.Chunk, bool) {
	ch, ok := p.taps[peer]
	if ok {
		delete(p.taps, peer)
	}
	return ch, ok
}

// Attached returns the peers currently viewing this pane, in attach order.
func (p *Pane) Attached() []ids.PeerID {
	out := make([]ids.PeerID, len(p.attached))
	copy(out, p.attached)
	return out
}

func containsPeer(s []ids.PeerID, v ids.PeerID) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func removePeer(s []ids.PeerID, v ids.PeerID) []ids.PeerID {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
