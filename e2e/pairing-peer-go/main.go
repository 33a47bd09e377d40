// Command pairing-peer-go is one side of an end-to-end pairing run. Two
// instances pointed at the same signaling URL are matched, negotiate a real
// WebRTC DataChannel through the relay, exchange a greeting and report
// "CONNECTED <roomId>" on stdout.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"golang.org/x/net/websocket"
)

type frame struct {
	Type        string          `json:"type"`
	PeerID      string          `json:"peerId,omitempty"`
	RoomID      uint64          `json:"roomId,omitempty"`
	IsInitiator bool            `json:"isInitiator,omitempty"`
	SDP         json.RawMessage `json:"sdp,omitempty"`
	Candidate   json.RawMessage `json:"candidate,omitempty"`
	FromPeerID  string          `json:"fromPeerId,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Code        string          `json:"code,omitempty"`
	Message     string          `json:"message,omitempty"`
}

type peer struct {
	ws *websocket.Conn
	pc *webrtc.PeerConnection

	sendMu  sync.Mutex
	mu      sync.Mutex
	partner string

	self    string
	roomID  uint64
	remote  bool
	pending []webrtc.ICECandidateInit

	greeted chan string
	failed  chan error
}

func main() {
	signalURL := envOrDefault("SIGNAL_URL", "ws://127.0.0.1:8080/ws")
	originURL := envOrDefault("ORIGIN", "http://localhost/")
	timeout := envDurationOrDefault("TIMEOUT", 30*time.Second)
	linger := envDurationOrDefault("LINGER", time.Second)

	if err := run(signalURL, originURL, timeout, linger); err != nil {
		fmt.Fprintf(os.Stderr, "pairing peer: %v\n", err)
		os.Exit(1)
	}
}

func run(signalURL, originURL string, timeout, linger time.Duration) error {
	ws, err := websocket.Dial(signalURL, "", originURL)
	if err != nil {
		return fmt.Errorf("dial %s: %w", signalURL, err)
	}
	defer ws.Close()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return fmt.Errorf("new peer connection: %w", err)
	}
	defer pc.Close()

	p := &peer{
		ws:      ws,
		pc:      pc,
		greeted: make(chan string, 1),
		failed:  make(chan error, 1),
	}
	p.installHandlers()

	go p.readLoop()

	if err := p.send(frame{Type: "find-partner"}); err != nil {
		return err
	}

	select {
	case msg := <-p.greeted:
		if err := p.send(frame{Type: "connection-established"}); err != nil {
			return err
		}
		fmt.Printf("CONNECTED %d %s\n", p.room(), msg)
		// Give the partner time to read our greeting before tearing down.
		time.Sleep(linger)
		_ = p.send(frame{Type: "leave"})
		return nil
	case err := <-p.failed:
		return err
	case <-time.After(timeout):
		return errors.New("timed out waiting for partner datachannel")
	}
}

func (p *peer) installHandlers() {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			p.fail(fmt.Errorf("marshal candidate: %w", err))
			return
		}
		if err := p.send(frame{Type: "ice-candidate", PeerID: p.partnerID(), Candidate: raw}); err != nil {
			p.fail(err)
		}
	})
	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed {
			p.fail(errors.New("peer connection failed"))
		}
	})
	p.pc.OnDataChannel(p.attach)
}

func (p *peer) attach(dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		if err := dc.SendText("hello from " + p.selfID()); err != nil {
			p.fail(fmt.Errorf("send greeting: %w", err))
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case p.greeted <- string(msg.Data):
		default:
		}
	})
}

func (p *peer) readLoop() {
	for {
		var raw string
		if err := websocket.Message.Receive(p.ws, &raw); err != nil {
			p.fail(fmt.Errorf("signaling connection closed: %w", err))
			return
		}
		var f frame
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			p.fail(fmt.Errorf("decode signaling frame: %w", err))
			return
		}
		if err := p.handle(f); err != nil {
			p.fail(err)
			return
		}
	}
}

func (p *peer) handle(f frame) error {
	switch f.Type {
	case "welcome":
		p.mu.Lock()
		p.self = f.PeerID
		p.mu.Unlock()
	case "match":
		p.mu.Lock()
		p.partner = f.PeerID
		p.roomID = f.RoomID
		p.mu.Unlock()
		if f.IsInitiator {
			return p.offer()
		}
	case "offer":
		if err := p.setRemote(f.SDP); err != nil {
			return err
		}
		answer, err := p.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("create answer: %w", err)
		}
		if err := p.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("set local answer: %w", err)
		}
		return p.sendDescription("answer", answer)
	case "answer":
		return p.setRemote(f.SDP)
	case "ice-candidate":
		var c webrtc.ICECandidateInit
		if err := json.Unmarshal(f.Candidate, &c); err != nil {
			return fmt.Errorf("decode candidate: %w", err)
		}
		if !p.remote {
			p.pending = append(p.pending, c)
			return nil
		}
		if err := p.pc.AddICECandidate(c); err != nil {
			return fmt.Errorf("add candidate: %w", err)
		}
	case "partner-left":
		return fmt.Errorf("partner left room %d: %s", f.RoomID, f.Reason)
	case "error":
		fmt.Fprintf(os.Stderr, "signaling error %s: %s\n", f.Code, f.Message)
	}
	return nil
}

func (p *peer) offer() error {
	dc, err := p.pc.CreateDataChannel("pairing", nil)
	if err != nil {
		return fmt.Errorf("create datachannel: %w", err)
	}
	p.attach(dc)

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	return p.sendDescription("offer", offer)
}

// setRemote applies a relayed description and flushes candidates that
// arrived before it.
func (p *peer) setRemote(raw json.RawMessage) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return fmt.Errorf("decode description: %w", err)
	}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote %s: %w", desc.Type, err)
	}
	p.remote = true
	for _, c := range p.pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			return fmt.Errorf("add buffered candidate: %w", err)
		}
	}
	p.pending = nil
	return nil
}

func (p *peer) sendDescription(typ string, desc webrtc.SessionDescription) error {
	raw, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	return p.send(frame{Type: typ, PeerID: p.partnerID(), SDP: raw})
}

func (p *peer) send(f frame) error {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	if err := websocket.JSON.Send(p.ws, f); err != nil {
		return fmt.Errorf("send %s: %w", f.Type, err)
	}
	return nil
}

func (p *peer) fail(err error) {
	select {
	case p.failed <- err:
	default:
	}
}

func (p *peer) partnerID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.partner
}

func (p *peer) selfID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.self
}

func (p *peer) room() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.roomID
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDurationOrDefault(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}
