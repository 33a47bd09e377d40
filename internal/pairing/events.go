package pairing

import (
	"encoding/json"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/profile"
)

// Event is something the engine wants a peer to hear about. The transport
// decides how it is encoded.
type Event interface {
	EventType() string
}

// Outbound addresses an Event to one peer, or to every connected peer when
// Broadcast is set.
type Outbound struct {
	To        PeerID
	Broadcast bool
	Event     Event
}

func unicast(id PeerID, ev Event) Outbound { return Outbound{To: id, Event: ev} }

func broadcast(ev Event) Outbound { return Outbound{Broadcast: true, Event: ev} }

type Welcome struct {
	PeerID PeerID
}

type Match struct {
	RoomID      RoomID
	MatchID     string
	PartnerID   PeerID
	IsInitiator bool
	// PartnerProfile is nil when the partner has none (yet).
	PartnerProfile *profile.Profile
}

type Waiting struct {
	Position int
}

// Signal is a relayed negotiation message. Payload is forwarded verbatim.
type Signal struct {
	Kind      SignalKind
	From      PeerID
	RoomID    RoomID
	Payload   json.RawMessage
	Timestamp time.Time
}

type LeaveReason string

const (
	ReasonLeft         LeaveReason = "left"
	ReasonDisconnected LeaveReason = "disconnected"
	ReasonTimeout      LeaveReason = "timeout"
	ReasonRematch      LeaveReason = "rematch"
)

type PartnerLeft struct {
	RoomID RoomID
	Reason LeaveReason
}

// PartnerProfile is sent when a partner's profile arrives after the match.
type PartnerProfile struct {
	RoomID  RoomID
	Profile profile.Profile
}

type Error struct {
	Code    string
	Message string
}

func (Welcome) EventType() string        { return "welcome" }
func (Match) EventType() string          { return "match" }
func (Waiting) EventType() string        { return "waiting" }
func (s Signal) EventType() string       { return string(s.Kind) }
func (PartnerLeft) EventType() string    { return "partner-left" }
func (PartnerProfile) EventType() string { return "partner-profile" }
func (Error) EventType() string          { return "error" }
func (Stats) EventType() string          { return "stats-update" }
