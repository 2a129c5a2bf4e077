package core

import (
	"github.com/ianremillard/splicer/internal/ids"
	"github.com/ianremillard/splicer/internal/proto"
)

// Msg is the closed set of messages the dispatcher goroutine consumes,
// mirroring the original's CoreMsg enum as a small Go interface with one
// concrete struct per variant.
type Msg interface{ isCoreMsg() }

// RegisterPeer asks the dispatcher to allocate a PeerId for a newly
// connected peer and remember its outbound event channel.
type RegisterPeer struct {
	Name    string
	EventCh chan proto.Event
	Reply   chan ids.PeerID
}

// FromPeer carries one decoded request from an already-registered peer.
// Reply is buffered(1) so the dispatcher's send never blocks.
type FromPeer struct {
	Peer  ids.PeerID
	Req   proto.Request
	Reply chan proto.Response
}

// UnregisterPeer tells the dispatcher a peer's connection has ended.
type UnregisterPeer struct {
	Peer ids.PeerID
}

// streamDropped is sent by a PTY-output forwarder goroutine when a peer's
// event channel can't keep up; it is internal to this package, not part
// of the public Msg surface peers construct.
type streamDropped struct {
	Peer ids.PeerID
	Pane ids.PaneID
}

func (RegisterPeer) isCoreMsg()   {}
func (FromPeer) isCoreMsg()       {}
func (UnregisterPeer) isCoreMsg() {}
func (streamDropped) isCoreMsg()  {}
