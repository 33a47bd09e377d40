package pairing

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

type RoomState int

const (
	RoomConnecting RoomState = iota
	RoomConnected
	RoomFailed
)

func (s RoomState) String() string {
	switch s {
	case RoomConnecting:
		return "connecting"
	case RoomConnected:
		return "connected"
	case RoomFailed:
		return "failed"
	default:
		return fmt.Sprintf("RoomState(%d)", int(s))
	}
}

// SignalingState is how far one participant got in offer/answer.
type SignalingState int

const (
	SignalingNew SignalingState = iota
	SignalingOfferSent
	SignalingAnswerSent
)

func (s SignalingState) String() string {
	switch s {
	case SignalingNew:
		return "new"
	case SignalingOfferSent:
		return "offer-sent"
	case SignalingAnswerSent:
		return "answer-sent"
	default:
		return fmt.Sprintf("SignalingState(%d)", int(s))
	}
}

type Room struct {
	ID             RoomID
	MatchID        string
	Participants   [2]PeerID
	CreatedAt      time.Time
	LastActivityAt time.Time
	State          RoomState
	Signaling      [2]SignalingState
}

func (r *Room) indexOf(id PeerID) int {
	switch id {
	case r.Participants[0]:
		return 0
	case r.Participants[1]:
		return 1
	default:
		return -1
	}
}

// Other returns the participant that is not id.
func (r *Room) Other(id PeerID) (PeerID, bool) {
	switch r.indexOf(id) {
	case 0:
		return r.Participants[1], true
	case 1:
		return r.Participants[0], true
	default:
		return "", false
	}
}

// Partnerships owns rooms and the symmetric partner map. A room exists
// exactly when both participants' Peer.Room point at it.
type Partnerships struct {
	clock    clock.Clock
	registry *Registry
	timers   *Supervisor

	rooms    map[RoomID]*Room
	partners map[PeerID]PeerID
	lastID   RoomID
}

func NewPartnerships(clk clock.Clock, registry *Registry, timers *Supervisor) *Partnerships {
	return &Partnerships{
		clock:    clk,
		registry: registry,
		timers:   timers,
		rooms:    make(map[RoomID]*Room),
		partners: make(map[PeerID]PeerID),
	}
}

// Create pairs a and b in a new Connecting room. Nothing changes unless both
// are registered, distinct and unpartnered.
func (p *Partnerships) Create(a, b PeerID) (*Room, bool) {
	if a == b {
		return nil, false
	}
	pa, pb := p.registry.Get(a), p.registry.Get(b)
	if pa == nil || pb == nil || pa.InSession() || pb.InSession() {
		return nil, false
	}
	if _, ok := p.partners[a]; ok {
		return nil, false
	}
	if _, ok := p.partners[b]; ok {
		return nil, false
	}

	p.lastID++
	now := p.clock.Now()
	room := &Room{
		ID:             p.lastID,
		MatchID:        uuid.NewString(),
		Participants:   [2]PeerID{a, b},
		CreatedAt:      now,
		LastActivityAt: now,
		State:          RoomConnecting,
	}
	p.rooms[room.ID] = room
	p.partners[a] = b
	p.partners[b] = a
	pa.Room, pb.Room = room.ID, room.ID
	pa.ConnectAttempts++
	pb.ConnectAttempts++
	return room, true
}

// Break tears down id's room and returns the former partner and the removed
// room. It is a no-op for peers that are not partnered.
func (p *Partnerships) Break(id PeerID) (PeerID, *Room, bool) {
	partner, ok := p.partners[id]
	if !ok {
		return "", nil, false
	}
	var room *Room
	if peer := p.registry.Get(id); peer != nil {
		room = p.rooms[peer.Room]
	}
	if room == nil {
		// Fall back to the partner's view; a half-cleaned peer should not
		// leave the room behind.
		if other := p.registry.Get(partner); other != nil {
			room = p.rooms[other.Room]
		}
	}

	delete(p.partners, id)
	delete(p.partners, partner)
	for _, pid := range []PeerID{id, partner} {
		if peer := p.registry.Get(pid); peer != nil {
			peer.Room = 0
		}
	}
	if room != nil {
		p.timers.Disarm(room.ID)
		delete(p.rooms, room.ID)
	}
	return partner, room, true
}

// Validate authorizes from -> to traffic: both must be the two current
// participants of one room.
func (p *Partnerships) Validate(from, to PeerID) (RoomID, bool) {
	if from == to {
		return 0, false
	}
	room := p.RoomOf(from)
	if room == nil {
		return 0, false
	}
	if other, ok := room.Other(from); !ok || other != to {
		return 0, false
	}
	if pt := p.registry.Get(to); pt == nil || pt.Room != room.ID {
		return 0, false
	}
	return room.ID, true
}

// Transition records peer's signaling progress. An answer moves a Connecting
// room to Connected; the return value is true only on that change.
func (p *Partnerships) Transition(id RoomID, peer PeerID, state SignalingState) bool {
	room := p.rooms[id]
	if room == nil {
		return false
	}
	idx := room.indexOf(peer)
	if idx < 0 {
		return false
	}
	room.LastActivityAt = p.clock.Now()
	if state > room.Signaling[idx] {
		room.Signaling[idx] = state
	}
	if state == SignalingAnswerSent {
		return p.MarkConnected(id)
	}
	return false
}

// MarkConnected moves a Connecting room to Connected and disarms its timer.
func (p *Partnerships) MarkConnected(id RoomID) bool {
	room := p.rooms[id]
	if room == nil || room.State != RoomConnecting {
		return false
	}
	room.State = RoomConnected
	room.LastActivityAt = p.clock.Now()
	p.timers.Disarm(id)
	return true
}

func (p *Partnerships) MarkFailed(id RoomID) bool {
	room := p.rooms[id]
	if room == nil || room.State != RoomConnecting {
		return false
	}
	room.State = RoomFailed
	return true
}

// RoomOf is O(1) through the peer's room pointer.
func (p *Partnerships) RoomOf(id PeerID) *Room {
	peer := p.registry.Get(id)
	if peer == nil || !peer.InSession() {
		return nil
	}
	return p.rooms[peer.Room]
}

func (p *Partnerships) PartnerOf(id PeerID) (PeerID, bool) {
	partner, ok := p.partners[id]
	return partner, ok
}

func (p *Partnerships) Get(id RoomID) *Room { return p.rooms[id] }

// Len is the number of live rooms.
func (p *Partnerships) Len() int { return len(p.rooms) }

// Partnerships is the number of partnered pairs.
func (p *Partnerships) Partnerships() int { return len(p.partners) / 2 }
