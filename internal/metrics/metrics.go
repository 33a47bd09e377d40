package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "aero_webrtc_pairing"

// Event names used as the `event` label of the events counter.
const (
	EventPeerConnected    = "peer_connected"
	EventPeerDisconnected = "peer_disconnected"
	EventPeerWaiting      = "peer_waiting"
	EventMatchCreated     = "match_created"
	EventRoomConnected    = "room_connected"
	EventRoomTimeout      = "room_timeout"
	EventRoomClosed       = "room_closed"
	EventSignalRelayed    = "signal_relayed"
	EventSignalRejected   = "signal_rejected"
	EventPairBlocked      = "pair_blocked"

	EventProfileLookupOK     = "profile_lookup_ok"
	EventProfileLookupFailed = "profile_lookup_failed"
	EventProfileCacheHit     = "profile_cache_hit"
)

// Drop reasons for rejected connections and frames.
const (
	DropReasonTooManyPeers  = "too_many_peers"
	DropReasonRateLimited   = "rate_limited"
	DropReasonOriginBlocked = "origin_blocked"
	DropReasonBadMessage    = "bad_message"
	DropReasonSendOverflow  = "send_queue_overflow"
)

// Metrics owns a private Prometheus registry. All methods are safe for
// concurrent use and are no-ops on a nil receiver.
type Metrics struct {
	reg    *prometheus.Registry
	events *prometheus.CounterVec
	drops  *prometheus.CounterVec

	totalPeers         prometheus.Gauge
	waitingPeers       prometheus.Gauge
	activePartnerships prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Pairing engine events.",
		}, []string{"event"}),
		drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drops_total",
			Help:      "Rejected connections and frames by reason.",
		}, []string{"reason"}),
		totalPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers",
			Help:      "Currently connected peers.",
		}),
		waitingPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "waiting_peers",
			Help:      "Peers waiting for a partner.",
		}),
		activePartnerships: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_partnerships",
			Help:      "Rooms with two partnered peers.",
		}),
	}
	m.reg.MustRegister(
		m.events,
		m.drops,
		m.totalPeers,
		m.waitingPeers,
		m.activePartnerships,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Inc(event string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(event).Inc()
}

func (m *Metrics) Drop(reason string) {
	if m == nil {
		return
	}
	m.drops.WithLabelValues(reason).Inc()
}

// SetPopulation mirrors the stats snapshot into gauges.
func (m *Metrics) SetPopulation(total, waiting, partnerships int) {
	if m == nil {
		return
	}
	m.totalPeers.Set(float64(total))
	m.waitingPeers.Set(float64(waiting))
	m.activePartnerships.Set(float64(partnerships))
}

// Get returns the current value of an event counter.
func (m *Metrics) Get(event string) uint64 {
	if m == nil {
		return 0
	}
	return counterValue(m.events.WithLabelValues(event))
}

// Dropped returns the current value of a drop counter.
func (m *Metrics) Dropped(reason string) uint64 {
	if m == nil {
		return 0
	}
	return counterValue(m.drops.WithLabelValues(reason))
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func counterValue(c prometheus.Counter) uint64 {
	var out dto.Metric
	if err := c.Write(&out); err != nil || out.Counter == nil {
		return 0
	}
	return uint64(out.Counter.GetValue())
}
