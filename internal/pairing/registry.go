package pairing

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/profile"
)

// PeerID identifies one connection for its lifetime.
type PeerID string

// RoomID is assigned from a counter starting at 1. Zero means "no room".
type RoomID uint64

type Peer struct {
	ID           PeerID
	Room         RoomID
	ConnectedAt  time.Time
	LastActiveAt time.Time
	// ConnectAttempts counts rooms this peer has been placed in.
	ConnectAttempts int
	ExternalID      string
	Profile         *profile.Profile
}

func (p *Peer) InSession() bool { return p.Room != 0 }

// Registry tracks every connected peer. Unknown ids are ignored by all
// methods except Register.
type Registry struct {
	clock clock.Clock
	max   int
	peers map[PeerID]*Peer
}

// NewRegistry caps the registry at max peers; max <= 0 means unlimited.
func NewRegistry(clk clock.Clock, max int) *Registry {
	return &Registry{
		clock: clk,
		max:   max,
		peers: make(map[PeerID]*Peer),
	}
}

func (r *Registry) Register(id PeerID) bool {
	if _, ok := r.peers[id]; ok {
		return false
	}
	now := r.clock.Now()
	r.peers[id] = &Peer{
		ID:           id,
		ConnectedAt:  now,
		LastActiveAt: now,
	}
	return true
}

// Unregister drops the peer. The caller releases its room and queue slot
// first.
func (r *Registry) Unregister(id PeerID) {
	delete(r.peers, id)
}

func (r *Registry) Touch(id PeerID) {
	if p, ok := r.peers[id]; ok {
		p.LastActiveAt = r.clock.Now()
	}
}

func (r *Registry) Get(id PeerID) *Peer {
	return r.peers[id]
}

func (r *Registry) Len() int { return len(r.peers) }

func (r *Registry) Full() bool {
	return r.max > 0 && len(r.peers) >= r.max
}
