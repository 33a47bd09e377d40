package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/pairing"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/profile"
)

type messageType string

// Client to server.
const (
	messageTypeFindPartner           messageType = "find-partner"
	messageTypeOffer                 messageType = "offer"
	messageTypeAnswer                messageType = "answer"
	messageTypeICECandidate          messageType = "ice-candidate"
	messageTypeConnectionEstablished messageType = "connection-established"
	messageTypeLeave                 messageType = "leave"
	messageTypeHeartbeat             messageType = "heartbeat"
)

// Server to client, besides the relayed offer/answer/ice-candidate.
const (
	messageTypeWelcome        messageType = "welcome"
	messageTypeMatch          messageType = "match"
	messageTypeWaiting        messageType = "waiting"
	messageTypePartnerLeft    messageType = "partner-left"
	messageTypePartnerProfile messageType = "partner-profile"
	messageTypeError          messageType = "error"
	messageTypeStatsUpdate    messageType = "stats-update"
)

// Error codes the transport adds to pairing's.
const (
	codeBadMessage    = "bad_message"
	codeRateLimited   = "rate_limited"
	codeInternalError = "internal_error"
	codeShuttingDown  = "shutting_down"
)

// clientMessage is every frame a client may send. sdp and candidate are kept
// raw so the partner receives the same JSON value.
type clientMessage struct {
	Type      messageType     `json:"type"`
	PeerID    string          `json:"peerId,omitempty"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

func parseClientMessage(data []byte) (clientMessage, error) {
	var msg clientMessage
	if err := decodeStrictJSON(data, &msg); err != nil {
		return clientMessage{}, err
	}
	if err := msg.validate(); err != nil {
		return clientMessage{}, err
	}
	return msg, nil
}

func (m clientMessage) validate() error {
	switch m.Type {
	case messageTypeOffer, messageTypeAnswer:
		if m.PeerID == "" {
			return fmt.Errorf("%s message missing peerId", m.Type)
		}
		if isAbsent(m.SDP) {
			return fmt.Errorf("%s message missing sdp", m.Type)
		}
		if len(m.Candidate) != 0 {
			return fmt.Errorf("%s message has unexpected fields", m.Type)
		}
	case messageTypeICECandidate:
		if m.PeerID == "" {
			return fmt.Errorf("ice-candidate message missing peerId")
		}
		if isAbsent(m.Candidate) {
			return fmt.Errorf("ice-candidate message missing candidate")
		}
		if len(m.SDP) != 0 {
			return fmt.Errorf("ice-candidate message has unexpected fields")
		}
	case messageTypeFindPartner, messageTypeConnectionEstablished, messageTypeLeave, messageTypeHeartbeat:
		if m.PeerID != "" || len(m.SDP) != 0 || len(m.Candidate) != 0 {
			return fmt.Errorf("%s message has unexpected fields", m.Type)
		}
	default:
		return fmt.Errorf("unsupported message type %q", m.Type)
	}
	return nil
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func decodeStrictJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return expectEOF(dec)
}

func expectEOF(dec *json.Decoder) error {
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("unexpected trailing data")
	}
	return nil
}

type welcomeMessage struct {
	Type   messageType `json:"type"`
	PeerID string      `json:"peerId"`
}

type matchMessage struct {
	Type           messageType      `json:"type"`
	RoomID         uint64           `json:"roomId"`
	MatchID        string           `json:"matchId"`
	PeerID         string           `json:"peerId"`
	IsInitiator    bool             `json:"isInitiator"`
	PartnerProfile *profile.Profile `json:"partnerProfile,omitempty"`
}

type waitingMessage struct {
	Type     messageType `json:"type"`
	Position int         `json:"position"`
}

// signalMessage is a relayed offer, answer or ice-candidate. Timestamp is
// Unix milliseconds.
type signalMessage struct {
	Type       messageType     `json:"type"`
	SDP        json.RawMessage `json:"sdp,omitempty"`
	Candidate  json.RawMessage `json:"candidate,omitempty"`
	FromPeerID string          `json:"fromPeerId"`
	RoomID     uint64          `json:"roomId"`
	Timestamp  int64           `json:"timestamp"`
}

type partnerLeftMessage struct {
	Type   messageType `json:"type"`
	RoomID uint64      `json:"roomId"`
	Reason string      `json:"reason"`
}

type partnerProfileMessage struct {
	Type    messageType     `json:"type"`
	RoomID  uint64          `json:"roomId"`
	Profile profile.Profile `json:"profile"`
}

type errorMessage struct {
	Type    messageType `json:"type"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
}

type statsMessage struct {
	Type               messageType `json:"type"`
	TotalPeers         int         `json:"totalPeers"`
	WaitingPeers       int         `json:"waitingPeers"`
	ActivePartnerships int         `json:"activePartnerships"`
}

// encodeEvent renders an engine event as a wire frame.
func encodeEvent(ev pairing.Event) ([]byte, error) {
	var msg any
	switch e := ev.(type) {
	case pairing.Welcome:
		msg = welcomeMessage{Type: messageTypeWelcome, PeerID: string(e.PeerID)}
	case pairing.Match:
		msg = matchMessage{
			Type:           messageTypeMatch,
			RoomID:         uint64(e.RoomID),
			MatchID:        e.MatchID,
			PeerID:         string(e.PartnerID),
			IsInitiator:    e.IsInitiator,
			PartnerProfile: e.PartnerProfile,
		}
	case pairing.Waiting:
		msg = waitingMessage{Type: messageTypeWaiting, Position: e.Position}
	case pairing.Signal:
		out := signalMessage{
			Type:       messageType(e.Kind),
			FromPeerID: string(e.From),
			RoomID:     uint64(e.RoomID),
			Timestamp:  e.Timestamp.UnixMilli(),
		}
		if e.Kind == pairing.SignalICECandidate {
			out.Candidate = e.Payload
		} else {
			out.SDP = e.Payload
		}
		msg = out
	case pairing.PartnerLeft:
		msg = partnerLeftMessage{Type: messageTypePartnerLeft, RoomID: uint64(e.RoomID), Reason: string(e.Reason)}
	case pairing.PartnerProfile:
		msg = partnerProfileMessage{Type: messageTypePartnerProfile, RoomID: uint64(e.RoomID), Profile: e.Profile}
	case pairing.Error:
		msg = errorMessage{Type: messageTypeError, Code: e.Code, Message: e.Message}
	case pairing.Stats:
		msg = statsMessage{
			Type:               messageTypeStatsUpdate,
			TotalPeers:         e.TotalPeers,
			WaitingPeers:       e.WaitingPeers,
			ActivePartnerships: e.ActivePartnerships,
		}
	default:
		return nil, fmt.Errorf("signaling: no wire form for event %T", ev)
	}

	// Relayed payloads keep their bytes apart from insignificant whitespace.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(msg); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
