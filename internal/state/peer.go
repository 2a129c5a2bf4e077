package state

import "github.com/ianremillard/splicer/internal/ids"

// Peer is a connected client, identified by a server-assigned PeerID and a
// self-reported display name.
type Peer struct {
	ID   ids.PeerID
	Name string
}

// NewPeer constructs a Peer.
func NewPeer(id ids.PeerID, name string) *Peer {
	return &Peer{ID: id, Name: name}
}
