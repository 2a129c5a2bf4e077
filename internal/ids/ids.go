// Package ids implements the typed, monotonically-allocated identifiers
// used throughout the splicer server: SessionID, WindowID, PaneID, and
// PeerID. Each is an opaque, copyable, non-zero uint64 with a compact
// base-36 textual form; zero is reserved to mean "absent".
package ids

import (
	"strconv"
	"sync/atomic"
)

// SessionID identifies a Session.
type SessionID uint64

// WindowID identifies a Window.
type WindowID uint64

// PaneID identifies a Pane.
type PaneID uint64

// PeerID identifies a connected Peer.
type PeerID uint64

const base = 36

func (id SessionID) String() string { return strconv.FormatUint(uint64(id), base) }
func (id WindowID) String() string  { return strconv.FormatUint(uint64(id), base) }
func (id PaneID) String() string    { return strconv.FormatUint(uint64(id), base) }
func (id PeerID) String() string    { return strconv.FormatUint(uint64(id), base) }

// ParseSessionID parses a base-36 string produced by SessionID.String.
func ParseSessionID(s string) (SessionID, error) {
	v, err := strconv.ParseUint(s, base, 64)
	return SessionID(v), err
}

// ParseWindowID parses a base-36 string produced by WindowID.String.
func ParseWindowID(s string) (WindowID, error) {
	v, err := strconv.ParseUint(s, base, 64)
	return WindowID(v), err
}

// ParsePaneID parses a base-36 string produced by PaneID.String.
func ParsePaneID(s string) (PaneID, error) {
	v, err := strconv.ParseUint(s, base, 64)
	return PaneID(v), err
}

// ParsePeerID parses a base-36 string produced by PeerID.String.
func ParsePeerID(s string) (PeerID, error) {
	v, err := strconv.ParseUint(s, base, 64)
	return PeerID(v), err
}

// Allocator hands out monotonic, non-zero uint64 values for a single ID
// kind. The zero value is ready to use and starts at 1.
type Allocator struct {
	next atomic.Uint64
}

// Next returns the next value in the sequence: 1, 2, 3, ...
func (a *Allocator) Next() uint64 {
	return a.next.Add(1)
}

// Allocators bundles one Allocator per ID kind, owned by the core
// dispatcher's state for the lifetime of the server process.
type Allocators struct {
	Session Allocator
	Window  Allocator
	Pane    Allocator
	Peer    Allocator
}

// NewSessionID allocates the next SessionID.
func (a *Allocators) NewSessionID() SessionID { return SessionID(a.Session.Next()) }

// NewWindowID allocates the next WindowID.
func (a *Allocators) NewWindowID() WindowID { return WindowID(a.Window.Next()) }

// NewPaneID allocates the next PaneID.
func (a *Allocators) NewPaneID() PaneID { return PaneID(a.Pane.Next()) }

// NewPeerID allocates the next PeerID.
func (a *Allocators) NewPeerID() PeerID { return PeerID(a.Peer.Next()) }
