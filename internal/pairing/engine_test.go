package pairing

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/profile"
)

type recordingSink struct {
	mu  sync.Mutex
	out []Outbound
}

func (s *recordingSink) Deliver(produce func() []Outbound) {
	s.mu.Lock()
	s.out = append(s.out, produce()...)
	s.mu.Unlock()
}

func (s *recordingSink) snapshot() []Outbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Outbound(nil), s.out...)
}

func newTestEngine(t *testing.T, mutate func(*Config)) (*Engine, *clock.Mock, *recordingSink) {
	t.Helper()
	clk := clock.NewMock()
	cfg := Config{
		RoomConnectTimeout: 20 * time.Second,
		Clock:              clk,
		Logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:            metrics.New(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	e := NewEngine(cfg)
	sink := &recordingSink{}
	e.SetSink(sink)
	t.Cleanup(e.Close)
	return e, clk, sink
}

// eventsFor returns the unicast events addressed to id, in order.
func eventsFor(out []Outbound, id PeerID) []Event {
	var evs []Event
	for _, o := range out {
		if !o.Broadcast && o.To == id {
			evs = append(evs, o.Event)
		}
	}
	return evs
}

func lastStats(t *testing.T, out []Outbound) Stats {
	t.Helper()
	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Broadcast {
			s, ok := out[i].Event.(Stats)
			require.True(t, ok, "broadcast event is %T", out[i].Event)
			return s
		}
	}
	t.Fatalf("no stats broadcast in %+v", out)
	return Stats{}
}

func connect(t *testing.T, e *Engine, ids ...PeerID) {
	t.Helper()
	for _, id := range ids {
		_, err := e.Connect(id, "")
		require.NoError(t, err)
	}
}

// match pairs a (waiting first, so initiator) with b.
func match(t *testing.T, e *Engine, a, b PeerID) RoomID {
	t.Helper()
	_, err := e.FindPartner(a)
	require.NoError(t, err)
	out, err := e.FindPartner(b)
	require.NoError(t, err)
	evs := eventsFor(out, a)
	require.Len(t, evs, 1)
	m, ok := evs[0].(Match)
	require.True(t, ok, "got %T", evs[0])
	return m.RoomID
}

func armed(e *Engine, id RoomID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timers.Armed(id)
}

// checkInvariants verifies the structural guarantees of the engine state.
func checkInvariants(t *testing.T, e *Engine) {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()

	for a, b := range e.rooms.partners {
		require.NotEqual(t, a, b, "peer partnered with itself")
		require.Equal(t, a, e.rooms.partners[b], "partner map not symmetric for %s/%s", a, b)
	}

	for id, p := range e.registry.peers {
		_, partnered := e.rooms.partners[id]
		require.Equal(t, p.InSession(), partnered, "peer %s in-session/partner mismatch", id)
		if p.InSession() {
			room := e.rooms.rooms[p.Room]
			require.NotNil(t, room, "peer %s points at missing room %d", id, p.Room)
			require.GreaterOrEqual(t, room.indexOf(id), 0)
		}
	}

	for id, room := range e.rooms.rooms {
		require.Equal(t, id, room.ID)
		for _, pid := range room.Participants {
			p := e.registry.peers[pid]
			require.NotNil(t, p, "room %d has unregistered participant %s", id, pid)
			require.Equal(t, id, p.Room)
		}
		require.Equal(t, room.Participants[1], e.rooms.partners[room.Participants[0]])
		if room.State == RoomConnecting {
			require.True(t, e.timers.Armed(id), "connecting room %d has no timer", id)
		}
	}
	require.Equal(t, len(e.rooms.rooms), len(e.rooms.partners)/2)

	seen := map[PeerID]bool{}
	for _, id := range e.queue.IDs() {
		require.False(t, seen[id], "duplicate %s in queue", id)
		seen[id] = true
		p := e.registry.peers[id]
		require.NotNil(t, p, "unregistered %s in queue", id)
		require.False(t, p.InSession(), "in-session %s in queue", id)
	}
	require.Equal(t, len(e.queue.index), e.queue.order.Len())

	s := e.stats.Snapshot()
	require.Equal(t, len(e.registry.peers), s.TotalPeers)
	require.Equal(t, e.queue.Len(), s.WaitingPeers)
	require.Equal(t, len(e.rooms.rooms), s.ActivePartnerships)
}

func TestEngine_MatchAndDisconnect(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)

	out, err := e.Connect("p1", "")
	require.NoError(t, err)
	require.Equal(t, []Event{Welcome{PeerID: "p1"}}, eventsFor(out, "p1"))
	require.Equal(t, Stats{TotalPeers: 1}, lastStats(t, out))
	connect(t, e, "p2")

	out, err = e.FindPartner("p1")
	require.NoError(t, err)
	require.Equal(t, []Event{Waiting{Position: 1}}, eventsFor(out, "p1"))
	require.Equal(t, Stats{TotalPeers: 2, WaitingPeers: 1}, lastStats(t, out))

	out, err = e.FindPartner("p2")
	require.NoError(t, err)
	m1 := eventsFor(out, "p1")[0].(Match)
	m2 := eventsFor(out, "p2")[0].(Match)
	require.True(t, m1.IsInitiator, "waiting peer initiates")
	require.False(t, m2.IsInitiator)
	require.Equal(t, PeerID("p2"), m1.PartnerID)
	require.Equal(t, PeerID("p1"), m2.PartnerID)
	require.Equal(t, m1.RoomID, m2.RoomID)
	require.Equal(t, m1.MatchID, m2.MatchID)
	require.Equal(t, Stats{TotalPeers: 2, ActivePartnerships: 1}, lastStats(t, out))
	require.True(t, armed(e, m1.RoomID))
	checkInvariants(t, e)

	out = e.Disconnect("p1")
	require.Equal(t, []Event{PartnerLeft{RoomID: m1.RoomID, Reason: ReasonDisconnected}}, eventsFor(out, "p2"))
	require.Equal(t, Stats{TotalPeers: 1}, lastStats(t, out))
	require.False(t, armed(e, m1.RoomID))

	p2, ok := e.Peer("p2")
	require.True(t, ok)
	require.False(t, p2.InSession())
	_, ok = e.Peer("p1")
	require.False(t, ok)
	checkInvariants(t, e)
}

func TestEngine_RelayDeliversVerbatimToPartnerOnly(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	connect(t, e, "p1", "p2", "p3")
	roomID := match(t, e, "p1", "p2")

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\n"}`)
	out, err := e.Relay(SignalOffer, "p1", "p2", offer)
	require.NoError(t, err)
	require.Empty(t, eventsFor(out, "p1"))
	require.Empty(t, eventsFor(out, "p3"))
	evs := eventsFor(out, "p2")
	require.Len(t, evs, 1)
	sig := evs[0].(Signal)
	require.Equal(t, SignalOffer, sig.Kind)
	require.Equal(t, PeerID("p1"), sig.From)
	require.Equal(t, roomID, sig.RoomID)
	require.Equal(t, []byte(offer), []byte(sig.Payload))

	room, ok := e.RoomOf("p1")
	require.True(t, ok)
	require.Equal(t, RoomConnecting, room.State)
	require.Equal(t, SignalingOfferSent, room.Signaling[0])
	require.True(t, armed(e, roomID))

	answer := json.RawMessage(`{"type":"answer","sdp":"v=0\r\n"}`)
	out, err = e.Relay(SignalAnswer, "p2", "p1", answer)
	require.NoError(t, err)
	require.Equal(t, []byte(answer), []byte(eventsFor(out, "p1")[0].(Signal).Payload))
	room, _ = e.RoomOf("p1")
	require.Equal(t, RoomConnected, room.State)
	require.False(t, armed(e, roomID), "answer disarms the connect timeout")

	for i := 0; i < 3; i++ {
		cand := json.RawMessage(fmt.Sprintf(`{"candidate":"candidate:%d 1 udp 2122260223 10.0.0.%d 5000%d typ host","sdpMid":"0"}`, i, i, i))
		out, err = e.Relay(SignalICECandidate, "p1", "p2", cand)
		require.NoError(t, err)
		require.Len(t, out, 1)
		require.Equal(t, PeerID("p2"), out[0].To)
		require.Equal(t, []byte(cand), []byte(out[0].Event.(Signal).Payload))
	}
	checkInvariants(t, e)
}

func TestEngine_RelayRejectsNonPartners(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	connect(t, e, "p1", "p2", "p3")
	match(t, e, "p1", "p2")

	cases := []struct {
		kind     SignalKind
		from, to PeerID
		err      error
		code     string
	}{
		{SignalOffer, "p3", "p1", ErrNotPartnered, CodeNotPartnered},
		{SignalOffer, "p1", "p3", ErrNotPartnered, CodeNotPartnered},
		{SignalICECandidate, "p1", "p1", ErrNotPartnered, CodeNotPartnered},
		{SignalKind("renegotiate"), "p1", "p2", ErrUnsupportedKind, CodeUnsupportedKind},
	}
	for _, tc := range cases {
		out, err := e.Relay(tc.kind, tc.from, tc.to, json.RawMessage(`{}`))
		require.ErrorIs(t, err, tc.err)
		require.Len(t, out, 1, "only the sender hears about a rejection")
		require.Equal(t, tc.from, out[0].To)
		require.Equal(t, tc.code, out[0].Event.(Error).Code)
	}

	_, err := e.Relay(SignalOffer, "ghost", "p1", nil)
	require.ErrorIs(t, err, ErrUnknownPeer)
	checkInvariants(t, e)
}

func TestEngine_TimeoutFailsRoomAndBlocksPair(t *testing.T) {
	e, clk, sink := newTestEngine(t, func(c *Config) {
		c.PairBlockTTL = time.Hour
		c.PairBlockMaxEntries = 16
	})
	connect(t, e, "p1", "p2", "p3")
	roomID := match(t, e, "p1", "p2")

	clk.Add(19 * time.Second)
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, sink.snapshot())

	clk.Add(time.Second)
	require.Eventually(t, func() bool { return len(sink.snapshot()) > 0 }, time.Second, 5*time.Millisecond)

	out := sink.snapshot()
	for _, id := range []PeerID{"p1", "p2"} {
		require.Equal(t, []Event{PartnerLeft{RoomID: roomID, Reason: ReasonTimeout}}, eventsFor(out, id))
		p, _ := e.Peer(id)
		require.False(t, p.InSession())
	}
	require.Equal(t, Stats{TotalPeers: 3}, lastStats(t, out))
	require.Equal(t, uint64(1), e.metrics.Get(metrics.EventRoomTimeout))
	checkInvariants(t, e)

	out, err := e.FindPartner("p1")
	require.NoError(t, err)
	require.Equal(t, []Event{Waiting{Position: 1}}, eventsFor(out, "p1"))
	out, err = e.FindPartner("p2")
	require.NoError(t, err)
	require.Equal(t, []Event{Waiting{Position: 2}}, eventsFor(out, "p2"), "blocked pair is not re-matched")

	out, err = e.FindPartner("p3")
	require.NoError(t, err)
	m := eventsFor(out, "p3")[0].(Match)
	require.Equal(t, PeerID("p1"), m.PartnerID)
	checkInvariants(t, e)
}

func TestEngine_TimeoutWithoutBlocking(t *testing.T) {
	e, clk, sink := newTestEngine(t, nil)
	connect(t, e, "p1", "p2")
	match(t, e, "p1", "p2")

	clk.Add(20 * time.Second)
	require.Eventually(t, func() bool { return len(sink.snapshot()) > 0 }, time.Second, 5*time.Millisecond)

	_, err := e.FindPartner("p1")
	require.NoError(t, err)
	out, err := e.FindPartner("p2")
	require.NoError(t, err)
	_, ok := eventsFor(out, "p2")[0].(Match)
	require.True(t, ok, "pair may be re-matched when blocking is disabled")
}

func matchesFor(out []Outbound, id PeerID) []Match {
	var ms []Match
	for _, ev := range eventsFor(out, id) {
		if m, ok := ev.(Match); ok {
			ms = append(ms, m)
		}
	}
	return ms
}

func TestEngine_BlockExpiryMatchesWaitingPair(t *testing.T) {
	e, clk, sink := newTestEngine(t, func(c *Config) {
		c.PairBlockTTL = time.Hour
		c.PairBlockMaxEntries = 16
	})
	connect(t, e, "p1", "p2")
	match(t, e, "p1", "p2")

	clk.Add(20 * time.Second)
	require.Eventually(t, func() bool { return len(sink.snapshot()) > 0 }, time.Second, 5*time.Millisecond)
	require.Equal(t, uint64(1), e.metrics.Get(metrics.EventPairBlocked))

	_, err := e.FindPartner("p1")
	require.NoError(t, err)
	_, err = e.FindPartner("p2")
	require.NoError(t, err)
	require.Equal(t, Stats{TotalPeers: 2, WaitingPeers: 2}, e.Stats())

	clk.Add(59 * time.Minute)
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, matchesFor(sink.snapshot(), "p1"))

	// Neither peer sends anything else; the lapse alone pairs them.
	clk.Add(time.Minute)
	require.Eventually(t, func() bool {
		return len(matchesFor(sink.snapshot(), "p2")) == 1
	}, time.Second, 5*time.Millisecond)

	out := sink.snapshot()
	m1, m2 := matchesFor(out, "p1"), matchesFor(out, "p2")
	require.Len(t, m1, 1)
	require.True(t, m1[0].IsInitiator, "the peer queued first initiates")
	require.False(t, m2[0].IsInitiator)
	require.Equal(t, PeerID("p2"), m1[0].PartnerID)
	require.Equal(t, m1[0].RoomID, m2[0].RoomID)
	require.Equal(t, Stats{TotalPeers: 2, ActivePartnerships: 1}, lastStats(t, out))
	require.Equal(t, uint64(2), e.metrics.Get(metrics.EventMatchCreated))
	checkInvariants(t, e)
}

func TestEngine_BlockExpiryLeavesUnrelatedQueueAlone(t *testing.T) {
	e, clk, sink := newTestEngine(t, func(c *Config) {
		c.PairBlockTTL = time.Minute
		c.PairBlockMaxEntries = 16
	})
	connect(t, e, "p1", "p2")
	match(t, e, "p1", "p2")
	clk.Add(20 * time.Second)
	require.Eventually(t, func() bool { return len(sink.snapshot()) > 0 }, time.Second, 5*time.Millisecond)

	_, err := e.FindPartner("p1")
	require.NoError(t, err)
	_, err = e.Leave("p1")
	require.NoError(t, err)
	before := len(sink.snapshot())

	clk.Add(time.Minute)
	time.Sleep(20 * time.Millisecond)
	require.Len(t, sink.snapshot(), before, "nothing to match, nothing delivered")
	require.Equal(t, Stats{TotalPeers: 2}, e.Stats())
}

// orderingSink records the engine state it sees on entry to Deliver, before
// the timer-driven change is applied.
type orderingSink struct {
	e *Engine

	mu     sync.Mutex
	before []Stats
	out    []Outbound
}

func (s *orderingSink) Deliver(produce func() []Outbound) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.before = append(s.before, s.e.Stats())
	s.out = append(s.out, produce()...)
}

func TestEngine_TimeoutAppliedInsideSinkDelivery(t *testing.T) {
	e, clk, _ := newTestEngine(t, nil)
	sink := &orderingSink{e: e}
	e.SetSink(sink)
	connect(t, e, "p1", "p2")
	roomID := match(t, e, "p1", "p2")

	clk.Add(20 * time.Second)
	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.out) > 0
	}, time.Second, 5*time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Equal(t, []Stats{{TotalPeers: 2, ActivePartnerships: 1}}, sink.before,
		"room must still exist when the sink is entered")
	require.Equal(t, []Event{PartnerLeft{RoomID: roomID, Reason: ReasonTimeout}}, eventsFor(sink.out, "p1"))
	require.Equal(t, Stats{TotalPeers: 2}, lastStats(t, sink.out))
}

func TestEngine_RepeatedFindPartnerCountsWaitingOnce(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	connect(t, e, "p1")

	for i := 0; i < 3; i++ {
		out, err := e.FindPartner("p1")
		require.NoError(t, err)
		require.Equal(t, []Event{Waiting{Position: 1}}, eventsFor(out, "p1"))
	}
	require.Equal(t, uint64(1), e.metrics.Get(metrics.EventPeerWaiting))
	require.Equal(t, 1, e.Stats().WaitingPeers)
}

func TestEngine_AnswerPreventsTimeout(t *testing.T) {
	e, clk, sink := newTestEngine(t, nil)
	connect(t, e, "p1", "p2")
	match(t, e, "p1", "p2")

	_, err := e.Relay(SignalOffer, "p1", "p2", json.RawMessage(`{}`))
	require.NoError(t, err)
	_, err = e.Relay(SignalAnswer, "p2", "p1", json.RawMessage(`{}`))
	require.NoError(t, err)

	clk.Add(time.Minute)
	time.Sleep(50 * time.Millisecond)
	require.Empty(t, sink.snapshot())
	room, ok := e.RoomOf("p1")
	require.True(t, ok)
	require.Equal(t, RoomConnected, room.State)
}

func TestEngine_AckMarksConnected(t *testing.T) {
	e, clk, sink := newTestEngine(t, nil)
	connect(t, e, "p1", "p2", "p3")
	roomID := match(t, e, "p1", "p2")

	_, err := e.Ack("p3")
	require.ErrorIs(t, err, ErrNotPartnered)

	_, err = e.Ack("p2")
	require.NoError(t, err)
	require.False(t, armed(e, roomID))
	room, _ := e.RoomOf("p1")
	require.Equal(t, RoomConnected, room.State)

	_, err = e.Ack("p1")
	require.NoError(t, err, "repeated ack is harmless")

	clk.Add(time.Minute)
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, sink.snapshot())
}

func TestEngine_RematchBreaksCurrentRoom(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	connect(t, e, "p1", "p2", "p3")
	oldRoom := match(t, e, "p1", "p2")

	_, err := e.FindPartner("p3")
	require.NoError(t, err)

	out, err := e.FindPartner("p1")
	require.NoError(t, err)
	require.Equal(t, []Event{PartnerLeft{RoomID: oldRoom, Reason: ReasonRematch}}, eventsFor(out, "p2"))
	m := eventsFor(out, "p1")[0].(Match)
	require.Equal(t, PeerID("p3"), m.PartnerID)
	require.False(t, m.IsInitiator)
	require.Greater(t, m.RoomID, oldRoom)
	require.True(t, eventsFor(out, "p3")[0].(Match).IsInitiator)

	p2, _ := e.Peer("p2")
	require.False(t, p2.InSession())
	require.Equal(t, Stats{TotalPeers: 3, ActivePartnerships: 1}, lastStats(t, out))
	checkInvariants(t, e)
}

func TestEngine_FindPartnerWhileWaitingIsIdempotent(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	connect(t, e, "p1")

	for i := 0; i < 3; i++ {
		out, err := e.FindPartner("p1")
		require.NoError(t, err)
		require.Equal(t, []Event{Waiting{Position: 1}}, eventsFor(out, "p1"))
	}
	require.Equal(t, 1, e.Stats().WaitingPeers)
}

func TestEngine_Leave(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	connect(t, e, "p1", "p2", "p3")

	_, err := e.FindPartner("p3")
	require.NoError(t, err)
	out, err := e.Leave("p3")
	require.NoError(t, err)
	require.Equal(t, Stats{TotalPeers: 3}, lastStats(t, out))

	roomID := match(t, e, "p1", "p2")
	out, err = e.Leave("p1")
	require.NoError(t, err)
	require.Equal(t, []Event{PartnerLeft{RoomID: roomID, Reason: ReasonLeft}}, eventsFor(out, "p2"))
	require.Empty(t, eventsFor(out, "p1"))
	require.False(t, armed(e, roomID))

	_, err = e.Leave("ghost")
	require.ErrorIs(t, err, ErrUnknownPeer)
	checkInvariants(t, e)
}

func TestEngine_Capacity(t *testing.T) {
	e, _, _ := newTestEngine(t, func(c *Config) { c.MaxPeers = 1 })
	connect(t, e, "p1")

	out, err := e.Connect("p2", "")
	require.ErrorIs(t, err, ErrCapacity)
	require.Equal(t, []Event{Error{Code: CodeCapacity, Message: "server is at capacity"}}, eventsFor(out, "p2"))
	require.Equal(t, 1, e.Stats().TotalPeers)
	require.Equal(t, uint64(1), e.metrics.Dropped(metrics.DropReasonTooManyPeers))

	e.Disconnect("p1")
	_, err = e.Connect("p2", "")
	require.NoError(t, err)
}

func TestEngine_UnknownPeersAreNoOps(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	connect(t, e, "p1")

	_, err := e.Connect("p1", "")
	require.ErrorIs(t, err, ErrAlreadyRegistered)

	_, err = e.FindPartner("ghost")
	require.ErrorIs(t, err, ErrUnknownPeer)
	_, err = e.Ack("ghost")
	require.ErrorIs(t, err, ErrUnknownPeer)
	require.ErrorIs(t, e.Touch("ghost"), ErrUnknownPeer)
	require.Nil(t, e.Disconnect("ghost"))
	require.Nil(t, e.SetProfile("ghost", profile.Profile{}))
	require.Equal(t, Stats{TotalPeers: 1}, e.Stats())
}

func TestEngine_TouchUpdatesActivity(t *testing.T) {
	e, clk, _ := newTestEngine(t, nil)
	connect(t, e, "p1")
	clk.Add(5 * time.Second)
	require.NoError(t, e.Touch("p1"))
	p, _ := e.Peer("p1")
	require.Equal(t, 5*time.Second, p.LastActiveAt.Sub(p.ConnectedAt))
}

func TestEngine_Profiles(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	_, err := e.Connect("p1", "alice")
	require.NoError(t, err)
	connect(t, e, "p2")

	require.Nil(t, e.SetProfile("p1", profile.Profile{ExternalID: "alice", DisplayName: "Alice"}))

	_, err = e.FindPartner("p1")
	require.NoError(t, err)
	out, err := e.FindPartner("p2")
	require.NoError(t, err)
	m2 := eventsFor(out, "p2")[0].(Match)
	require.NotNil(t, m2.PartnerProfile)
	require.Equal(t, "Alice", m2.PartnerProfile.DisplayName)
	require.Nil(t, eventsFor(out, "p1")[0].(Match).PartnerProfile)

	out = e.SetProfile("p2", profile.Profile{ExternalID: "bob", DisplayName: "Bob"})
	require.Len(t, out, 1)
	require.Equal(t, PeerID("p1"), out[0].To)
	require.Equal(t, "Bob", out[0].Event.(PartnerProfile).Profile.DisplayName)

	p1, _ := e.Peer("p1")
	require.Equal(t, "alice", p1.ExternalID)
}

func TestEngine_RandomOperationsKeepInvariants(t *testing.T) {
	e, clk, _ := newTestEngine(t, func(c *Config) {
		c.PairBlockTTL = time.Minute
		c.PairBlockMaxEntries = 8
	})
	rng := rand.New(rand.NewSource(1))
	ids := []PeerID{"a", "b", "c", "d", "e", "f"}

	for i := 0; i < 2000; i++ {
		id := ids[rng.Intn(len(ids))]
		switch rng.Intn(8) {
		case 0:
			_, _ = e.Connect(id, "")
		case 1:
			e.Disconnect(id)
		case 2, 3:
			_, _ = e.FindPartner(id)
		case 4:
			_, _ = e.Leave(id)
		case 5:
			kinds := []SignalKind{SignalOffer, SignalAnswer, SignalICECandidate}
			_, _ = e.Relay(kinds[rng.Intn(len(kinds))], id, ids[rng.Intn(len(ids))], json.RawMessage(`{}`))
		case 6:
			_, _ = e.Ack(id)
		case 7:
			clk.Add(time.Duration(rng.Intn(15)) * time.Second)
		}
		checkInvariants(t, e)
	}
}

func TestEngine_ConcurrentCommands(t *testing.T) {
	e, clk, _ := newTestEngine(t, func(c *Config) { c.RoomConnectTimeout = time.Second })

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(w)))
			for i := 0; i < 200; i++ {
				id := PeerID(fmt.Sprintf("w%d-%d", w, rng.Intn(4)))
				switch rng.Intn(5) {
				case 0:
					_, _ = e.Connect(id, "")
				case 1:
					_, _ = e.FindPartner(id)
				case 2:
					e.Disconnect(id)
				case 3:
					if room, ok := e.RoomOf(id); ok {
						other, _ := room.Other(id)
						_, _ = e.Relay(SignalAnswer, id, other, json.RawMessage(`{}`))
					}
				case 4:
					clk.Add(300 * time.Millisecond)
				}
			}
		}(w)
	}
	wg.Wait()
	checkInvariants(t, e)
}
