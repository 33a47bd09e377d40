package pairing

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/profile"
)

const DefaultRoomConnectTimeout = 20 * time.Second

type Config struct {
	// MaxPeers <= 0 means unlimited.
	MaxPeers           int
	RoomConnectTimeout time.Duration
	// PairBlockTTL <= 0 disables blocking pairs whose room timed out.
	PairBlockTTL        time.Duration
	PairBlockMaxEntries int

	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Sink delivers events the engine produces on its own: room timeouts and
// matches made when a pair block lapses. Deliver is called without the engine
// lock held; produce takes it, so a sink that serializes its own commands can
// hold that ordering across both steps.
type Sink interface {
	Deliver(produce func() []Outbound)
}

// Engine owns all pairing state. Every exported method runs under one mutex
// for its whole duration, and timer expiry takes the same mutex, so each
// command observes and leaves a consistent state. Methods return the events
// to deliver instead of writing to connections.
type Engine struct {
	mu sync.Mutex

	cfg     Config
	clock   clock.Clock
	log     *slog.Logger
	metrics *metrics.Metrics
	sink    Sink

	registry *Registry
	blocks   *Blocklist
	queue    *Queue
	timers   *Supervisor
	rooms    *Partnerships
	relay    *Relay
	stats    *StatsAggregator
}

func NewEngine(cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RoomConnectTimeout <= 0 {
		cfg.RoomConnectTimeout = DefaultRoomConnectTimeout
	}

	e := &Engine{
		cfg:     cfg,
		clock:   cfg.Clock,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
	}
	e.registry = NewRegistry(cfg.Clock, cfg.MaxPeers)
	e.blocks = NewBlocklist(cfg.Clock, cfg.PairBlockMaxEntries, cfg.PairBlockTTL, e.blockExpired)
	e.queue = NewQueue(e.registry, e.blocks)
	e.timers = NewSupervisor(cfg.Clock, e.expire)
	e.rooms = NewPartnerships(cfg.Clock, e.registry, e.timers)
	e.relay = NewRelay(cfg.Clock, e.rooms)
	e.stats = NewStatsAggregator(e.registry, e.queue, e.rooms)
	return e
}

// SetSink must be called before the first room is created.
func (e *Engine) SetSink(s Sink) {
	e.mu.Lock()
	e.sink = s
	e.mu.Unlock()
}

// Connect registers id. On ErrCapacity the returned events carry the error
// for the rejected peer, which the transport should then disconnect.
func (e *Engine) Connect(id PeerID, externalID string) ([]Outbound, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.registry.Full() {
		e.metrics.Drop(metrics.DropReasonTooManyPeers)
		return []Outbound{toError(id, CodeCapacity, "server is at capacity")}, ErrCapacity
	}
	if !e.registry.Register(id) {
		return nil, ErrAlreadyRegistered
	}
	e.registry.Get(id).ExternalID = externalID
	e.metrics.Inc(metrics.EventPeerConnected)
	e.log.Debug("peer connected", "peer_id", id)

	out := []Outbound{unicast(id, Welcome{PeerID: id})}
	return e.withStatsLocked(out), nil
}

// FindPartner matches id with the longest-waiting eligible peer, or queues
// it. A peer already in a room leaves it first and its partner is told the
// reason was a re-match.
func (e *Engine) FindPartner(id PeerID) ([]Outbound, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.registry.Get(id) == nil {
		return nil, ErrUnknownPeer
	}
	e.registry.Touch(id)

	var out []Outbound
	if partner, room, ok := e.rooms.Break(id); ok {
		out = append(out, e.partnerLeftLocked(partner, room, ReasonRematch)...)
	}

	candidate, ok := e.queue.NextCandidate(id)
	if !ok {
		if e.queue.Enqueue(id) {
			e.metrics.Inc(metrics.EventPeerWaiting)
		}
		out = append(out, unicast(id, Waiting{Position: e.queue.Position(id)}))
		return e.withStatsLocked(out), nil
	}

	e.queue.Dequeue(id)
	// The peer that was already waiting makes the offer.
	out = append(out, e.matchLocked(candidate, id)...)
	return e.withStatsLocked(out), nil
}

// matchLocked puts two peers that are out of the queue into a new room.
func (e *Engine) matchLocked(initiator, responder PeerID) []Outbound {
	room, ok := e.rooms.Create(initiator, responder)
	if !ok {
		// Candidates are registered and unpartnered, so this means the state
		// is corrupt. Keep both peers usable.
		e.log.Error("failed to create room", "initiator_id", initiator, "peer_id", responder)
		e.queue.Enqueue(initiator)
		e.queue.Enqueue(responder)
		return []Outbound{unicast(responder, Waiting{Position: e.queue.Position(responder)})}
	}
	e.timers.Arm(room.ID, e.cfg.RoomConnectTimeout)
	e.metrics.Inc(metrics.EventMatchCreated)
	e.log.Debug("peers matched", "room_id", room.ID, "initiator_id", initiator, "peer_id", responder)

	return []Outbound{
		unicast(initiator, Match{
			RoomID:         room.ID,
			MatchID:        room.MatchID,
			PartnerID:      responder,
			IsInitiator:    true,
			PartnerProfile: e.registry.Get(responder).Profile,
		}),
		unicast(responder, Match{
			RoomID:         room.ID,
			MatchID:        room.MatchID,
			PartnerID:      initiator,
			IsInitiator:    false,
			PartnerProfile: e.registry.Get(initiator).Profile,
		}),
	}
}

// matchWaitingLocked pairs queued peers that became eligible for each other
// while both were waiting, which happens when a pair block lapses. The
// earlier-queued peer of each new pair initiates.
func (e *Engine) matchWaitingLocked() []Outbound {
	ids := e.queue.IDs()
	pos := make(map[PeerID]int, len(ids))
	for i, id := range ids {
		pos[id] = i
	}

	var out []Outbound
	for _, id := range ids {
		if !e.queue.Contains(id) {
			continue
		}
		candidate, ok := e.queue.NextCandidate(id)
		if !ok {
			continue
		}
		e.queue.Dequeue(id)
		initiator, responder := id, candidate
		if pos[candidate] < pos[id] {
			initiator, responder = candidate, id
		}
		out = append(out, e.matchLocked(initiator, responder)...)
	}
	if len(out) == 0 {
		return nil
	}
	return e.withStatsLocked(out)
}

// Relay forwards a negotiation message from one partner to the other.
func (e *Engine) Relay(kind SignalKind, from, to PeerID, payload json.RawMessage) ([]Outbound, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.registry.Get(from) == nil {
		return nil, ErrUnknownPeer
	}
	e.registry.Touch(from)

	out, connected, err := e.relay.Relay(kind, from, to, payload)
	if err != nil {
		e.metrics.Inc(metrics.EventSignalRejected)
		e.log.Debug("signal rejected", "peer_id", from, "target_id", to, "kind", kind, "err", err)
		return out, err
	}
	e.metrics.Inc(metrics.EventSignalRelayed)
	if connected {
		e.metrics.Inc(metrics.EventRoomConnected)
		e.log.Debug("room connected", "room_id", out[0].Event.(Signal).RoomID)
	}
	return out, nil
}

// Ack marks id's room as Connected on an explicit client report.
func (e *Engine) Ack(id PeerID) ([]Outbound, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.registry.Get(id) == nil {
		return nil, ErrUnknownPeer
	}
	e.registry.Touch(id)
	room := e.rooms.RoomOf(id)
	if room == nil {
		return nil, ErrNotPartnered
	}
	if e.rooms.MarkConnected(room.ID) {
		e.metrics.Inc(metrics.EventRoomConnected)
		e.log.Debug("room connected", "room_id", room.ID, "peer_id", id)
	}
	return nil, nil
}

// Leave takes id out of its room or the queue without disconnecting it.
func (e *Engine) Leave(id PeerID) ([]Outbound, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.registry.Get(id) == nil {
		return nil, ErrUnknownPeer
	}
	e.registry.Touch(id)

	var out []Outbound
	e.queue.Dequeue(id)
	if partner, room, ok := e.rooms.Break(id); ok {
		out = e.partnerLeftLocked(partner, room, ReasonLeft)
	}
	return e.withStatsLocked(out), nil
}

// Disconnect removes id and everything that refers to it. Unknown ids are a
// no-op.
func (e *Engine) Disconnect(id PeerID) []Outbound {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.registry.Get(id) == nil {
		return nil
	}

	var out []Outbound
	e.queue.Dequeue(id)
	if partner, room, ok := e.rooms.Break(id); ok {
		out = e.partnerLeftLocked(partner, room, ReasonDisconnected)
	}
	e.registry.Unregister(id)
	e.metrics.Inc(metrics.EventPeerDisconnected)
	e.log.Debug("peer disconnected", "peer_id", id)
	return e.withStatsLocked(out)
}

// Touch records liveness for id.
func (e *Engine) Touch(id PeerID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.registry.Get(id) == nil {
		return ErrUnknownPeer
	}
	e.registry.Touch(id)
	if room := e.rooms.RoomOf(id); room != nil {
		room.LastActivityAt = e.clock.Now()
	}
	return nil
}

// SetProfile attaches a looked-up profile to id. A current partner is sent
// the profile straight away.
func (e *Engine) SetProfile(id PeerID, p profile.Profile) []Outbound {
	e.mu.Lock()
	defer e.mu.Unlock()

	peer := e.registry.Get(id)
	if peer == nil {
		return nil
	}
	peer.Profile = &p
	room := e.rooms.RoomOf(id)
	if room == nil {
		return nil
	}
	partner, ok := room.Other(id)
	if !ok {
		return nil
	}
	return []Outbound{unicast(partner, PartnerProfile{RoomID: room.ID, Profile: p})}
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats.Snapshot()
}

// Peer returns a copy of id's state.
func (e *Engine) Peer(id PeerID) (Peer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.registry.Get(id)
	if p == nil {
		return Peer{}, false
	}
	return *p, true
}

// RoomOf returns a copy of the room id is in.
func (e *Engine) RoomOf(id PeerID) (Room, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.rooms.RoomOf(id)
	if r == nil {
		return Room{}, false
	}
	return *r, true
}

// Close stops all room and block timers. The engine must not be used
// afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timers.StopAll()
	e.blocks.Clear()
}

// expire runs on a timer goroutine.
func (e *Engine) expire(id RoomID, gen uint64) {
	e.runTimed(func() []Outbound { return e.expireLocked(id, gen) })
}

// blockExpired runs on a timer goroutine.
func (e *Engine) blockExpired() {
	e.runTimed(e.matchWaitingLocked)
}

// runTimed applies a timer-driven change under the engine lock. With a sink
// installed the change runs inside Deliver, so the sink orders it against the
// commands it issues itself.
func (e *Engine) runTimed(fn func() []Outbound) {
	e.mu.Lock()
	sink := e.sink
	e.mu.Unlock()

	produce := func() []Outbound {
		e.mu.Lock()
		defer e.mu.Unlock()
		return fn()
	}
	if sink == nil {
		produce()
		return
	}
	sink.Deliver(produce)
}

func (e *Engine) expireLocked(id RoomID, gen uint64) []Outbound {
	if !e.timers.Current(id, gen) {
		return nil
	}
	e.timers.Disarm(id)

	room := e.rooms.Get(id)
	if room == nil || !e.rooms.MarkFailed(id) {
		return nil
	}
	a, b := room.Participants[0], room.Participants[1]
	e.rooms.Break(a)
	if e.blocks.Block(a, b) {
		e.metrics.Inc(metrics.EventPairBlocked)
	}
	e.metrics.Inc(metrics.EventRoomTimeout)
	e.log.Info("room connect timeout", "room_id", id, "peer_a", a, "peer_b", b, "timeout", e.cfg.RoomConnectTimeout)

	out := []Outbound{
		unicast(a, PartnerLeft{RoomID: id, Reason: ReasonTimeout}),
		unicast(b, PartnerLeft{RoomID: id, Reason: ReasonTimeout}),
	}
	return e.withStatsLocked(out)
}

func (e *Engine) partnerLeftLocked(partner PeerID, room *Room, reason LeaveReason) []Outbound {
	var roomID RoomID
	if room != nil {
		roomID = room.ID
	}
	e.metrics.Inc(metrics.EventRoomClosed)
	e.log.Debug("room closed", "room_id", roomID, "partner_id", partner, "reason", reason)
	return []Outbound{unicast(partner, PartnerLeft{RoomID: roomID, Reason: reason})}
}

func (e *Engine) withStatsLocked(out []Outbound) []Outbound {
	s := e.stats.Snapshot()
	e.metrics.SetPopulation(s.TotalPeers, s.WaitingPeers, s.ActivePartnerships)
	return append(out, broadcast(s))
}
