package signaling

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/pairing"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/profile"
)

func TestClientMessage_ParseOffer(t *testing.T) {
	raw := []byte(`{"type":"offer","peerId":"p2","sdp":{"type":"offer","sdp":"v=0"}}`)

	got, err := parseClientMessage(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Type != messageTypeOffer || got.PeerID != "p2" {
		t.Fatalf("unexpected decoded offer: %#v", got)
	}
	if string(got.SDP) != `{"type":"offer","sdp":"v=0"}` {
		t.Fatalf("sdp=%s, want raw object", got.SDP)
	}
}

func TestClientMessage_ParseCandidate(t *testing.T) {
	raw := []byte(`{
		"type":"ice-candidate",
		"peerId":"p2",
		"candidate":{
			"candidate":"candidate:1 1 udp 1 127.0.0.1 9 typ host",
			"sdpMid":"0",
			"sdpMLineIndex":0
		}
	}`)

	got, err := parseClientMessage(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Type != messageTypeICECandidate || len(got.Candidate) == 0 {
		t.Fatalf("unexpected decoded candidate: %#v", got)
	}
}

func TestClientMessage_Rejects(t *testing.T) {
	for _, raw := range []string{
		`{"type":"leave","unexpected":true}`,
		`{"type":"leave","peerId":"p2"}`,
		`{"type":"offer","sdp":{"type":"offer"}}`,
		`{"type":"offer","peerId":"p2","sdp":null}`,
		`{"type":"answer","peerId":"p2","sdp":{},"candidate":{}}`,
		`{"type":"ice-candidate","peerId":"p2"}`,
		`{"type":"welcome"}`,
		`{"type":"heartbeat"}{"type":"heartbeat"}`,
		`[]`,
		``,
	} {
		if _, err := parseClientMessage([]byte(raw)); err == nil {
			t.Fatalf("parse(%q): expected error", raw)
		}
	}
}

func TestClientMessage_AcceptsBareCommands(t *testing.T) {
	for _, typ := range []messageType{
		messageTypeFindPartner,
		messageTypeConnectionEstablished,
		messageTypeLeave,
		messageTypeHeartbeat,
	} {
		if _, err := parseClientMessage([]byte(`{"type":"` + string(typ) + `"}`)); err != nil {
			t.Fatalf("parse(%s): %v", typ, err)
		}
	}
}

func TestEncodeEvent(t *testing.T) {
	ts := time.UnixMilli(1700000000123)
	cases := []struct {
		ev   pairing.Event
		want string
	}{
		{pairing.Welcome{PeerID: "p1"}, `{"type":"welcome","peerId":"p1"}`},
		{pairing.Waiting{Position: 3}, `{"type":"waiting","position":3}`},
		{
			pairing.Match{RoomID: 7, MatchID: "m", PartnerID: "p2", IsInitiator: true},
			`{"type":"match","roomId":7,"matchId":"m","peerId":"p2","isInitiator":true}`,
		},
		{
			pairing.Match{RoomID: 7, MatchID: "m", PartnerID: "p2", PartnerProfile: &profile.Profile{ExternalID: "bob", DisplayName: "Bob"}},
			`{"type":"match","roomId":7,"matchId":"m","peerId":"p2","isInitiator":false,"partnerProfile":{"externalId":"bob","displayName":"Bob"}}`,
		},
		{
			pairing.Signal{Kind: pairing.SignalAnswer, From: "p2", RoomID: 7, Payload: json.RawMessage(`{"type":"answer","sdp":"a<b"}`), Timestamp: ts},
			`{"type":"answer","sdp":{"type":"answer","sdp":"a<b"},"fromPeerId":"p2","roomId":7,"timestamp":1700000000123}`,
		},
		{
			pairing.Signal{Kind: pairing.SignalICECandidate, From: "p1", RoomID: 7, Payload: json.RawMessage(`{"candidate":""}`), Timestamp: ts},
			`{"type":"ice-candidate","candidate":{"candidate":""},"fromPeerId":"p1","roomId":7,"timestamp":1700000000123}`,
		},
		{pairing.PartnerLeft{RoomID: 7, Reason: pairing.ReasonTimeout}, `{"type":"partner-left","roomId":7,"reason":"timeout"}`},
		{
			pairing.PartnerProfile{RoomID: 7, Profile: profile.Profile{ExternalID: "bob"}},
			`{"type":"partner-profile","roomId":7,"profile":{"externalId":"bob"}}`,
		},
		{pairing.Error{Code: "not_partnered", Message: "nope"}, `{"type":"error","code":"not_partnered","message":"nope"}`},
		{
			pairing.Stats{TotalPeers: 4, WaitingPeers: 1, ActivePartnerships: 1},
			`{"type":"stats-update","totalPeers":4,"waitingPeers":1,"activePartnerships":1}`,
		},
	}
	for _, tc := range cases {
		got, err := encodeEvent(tc.ev)
		if err != nil {
			t.Fatalf("encode %T: %v", tc.ev, err)
		}
		if string(got) != tc.want {
			t.Fatalf("encode %T=%s, want %s", tc.ev, got, tc.want)
		}
	}
}

func TestEncodeEvent_RelayedPayloadIsNotEscaped(t *testing.T) {
	got, err := encodeEvent(pairing.Signal{Kind: pairing.SignalOffer, Payload: json.RawMessage(`{"sdp":"a=x&y<z>"}`)})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(got), `"a=x&y<z>"`) {
		t.Fatalf("payload was rewritten: %s", got)
	}
}
