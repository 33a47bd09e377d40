package pairing

import (
	"encoding/json"
	"fmt"

	"github.com/benbjohnson/clock"
)

type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalICECandidate SignalKind = "ice-candidate"
)

func (k SignalKind) Valid() bool {
	switch k {
	case SignalOffer, SignalAnswer, SignalICECandidate:
		return true
	default:
		return false
	}
}

// Relay forwards negotiation messages between current partners only.
type Relay struct {
	clock clock.Clock
	rooms *Partnerships
}

func NewRelay(clk clock.Clock, rooms *Partnerships) *Relay {
	return &Relay{clock: clk, rooms: rooms}
}

// Relay authorizes from -> to and stamps payload for delivery to the partner.
// Rejections produce an error event for the sender only. connected reports
// that this message moved the room to Connected.
func (r *Relay) Relay(kind SignalKind, from, to PeerID, payload json.RawMessage) (out []Outbound, connected bool, err error) {
	if !kind.Valid() {
		return []Outbound{toError(from, CodeUnsupportedKind, fmt.Sprintf("unsupported signal kind %q", kind))}, false, ErrUnsupportedKind
	}
	roomID, ok := r.rooms.Validate(from, to)
	if !ok {
		return []Outbound{toError(from, CodeNotPartnered, "target is not your current partner")}, false, ErrNotPartnered
	}

	switch kind {
	case SignalOffer:
		r.rooms.Transition(roomID, from, SignalingOfferSent)
	case SignalAnswer:
		connected = r.rooms.Transition(roomID, from, SignalingAnswerSent)
	default:
		if room := r.rooms.Get(roomID); room != nil {
			room.LastActivityAt = r.clock.Now()
		}
	}

	return []Outbound{unicast(to, Signal{
		Kind:      kind,
		From:      from,
		RoomID:    roomID,
		Payload:   payload,
		Timestamp: r.clock.Now(),
	})}, connected, nil
}

func toError(id PeerID, code, msg string) Outbound {
	return unicast(id, Error{Code: code, Message: msg})
}
