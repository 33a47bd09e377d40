package signaling

import (
	"encoding/json"
	"reflect"
	"testing"
)

func FuzzParseClientMessage(f *testing.F) {
	f.Add([]byte(`{"type":"offer","peerId":"p2","sdp":{"type":"offer","sdp":"v=0"}}`))
	f.Add([]byte(`{"type":"ice-candidate","peerId":"p2","candidate":{"candidate":"candidate:1 1 udp 1 127.0.0.1 9 typ host","sdpMid":"0","sdpMLineIndex":0}}`))
	f.Add([]byte(`{"type":"find-partner"}`))
	f.Add([]byte(`{"type":"connection-established"}`))
	f.Add([]byte(`{"type":"heartbeat"}`))

	// Known-bad cases from unit tests and common mistakes.
	f.Add([]byte(`{ "type":"leave", "unexpected": true }`))
	f.Add([]byte(`{"type":"offer","peerId":"p2","sdp":null}`))
	f.Add([]byte(`{"type":"bogus"}`))
	f.Add([]byte(`{"type":"leave"}{"type":"leave"}`))
	f.Add([]byte(`[]`))
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		msg1, err1 := parseClientMessage(data)
		msg2, err2 := parseClientMessage(data)
		if (err1 == nil) != (err2 == nil) {
			t.Fatalf("non-deterministic parse result: err1=%v err2=%v", err1, err2)
		}
		if err1 != nil {
			return
		}

		// Successful parses must always produce a message that validates.
		if err := msg1.validate(); err != nil {
			t.Fatalf("validate() failed after successful parse: %v", err)
		}

		if !reflect.DeepEqual(msg1, msg2) {
			t.Fatalf("non-deterministic parse output: msg1=%#v msg2=%#v", msg1, msg2)
		}

		// Re-encoding may compact raw payloads but must stay parseable with
		// the same meaning.
		b, err := json.Marshal(msg1)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		round, err := parseClientMessage(b)
		if err != nil {
			t.Fatalf("re-parse marshaled message: %v (json=%q)", err, string(b))
		}
		if round.Type != msg1.Type || round.PeerID != msg1.PeerID {
			t.Fatalf("round-trip mismatch: msg=%#v round=%#v json=%q", msg1, round, string(b))
		}
	})
}
