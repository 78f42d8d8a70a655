// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package remote

type targetKind uint8

const (
	targetMany targetKind = iota
	targetOne
	targetAll
)

// Target selects the recipients of a server-to-client send. The zero Target
// selects nobody.
type Target struct {
	kind  targetKind
	peers []PeerID
}

// ToPeer targets a single client.
func ToPeer(id PeerID) Target {
	return Target{kind: targetOne, peers: []PeerID{id}}
}

// ToPeers targets an explicit list of clients.
func ToPeers(ids ...PeerID) Target {
	return Target{kind: targetMany, peers: ids}
}

// ToEveryone targets every client connected when the send starts.
func ToEveryone() Target {
	return Target{kind: targetAll}
}

// Resolve returns the concrete recipients given the connected peers.
func (t Target) Resolve(connected []PeerID) []PeerID {
	if t.kind == targetAll {
		return connected
	}
	return t.peers
}

func (t Target) String() string {
	switch t.kind {
	case targetAll:
		return "everyone"
	case targetOne:
		return string(t.peers[0])
	default:
		return "list"
	}
}
