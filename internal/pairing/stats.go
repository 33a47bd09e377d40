package pairing

// Stats is the population snapshot broadcast as stats-update.
type Stats struct {
	TotalPeers         int `json:"totalPeers"`
	WaitingPeers       int `json:"waitingPeers"`
	ActivePartnerships int `json:"activePartnerships"`
}

type StatsAggregator struct {
	registry *Registry
	queue    *Queue
	rooms    *Partnerships
}

func NewStatsAggregator(registry *Registry, queue *Queue, rooms *Partnerships) *StatsAggregator {
	return &StatsAggregator{registry: registry, queue: queue, rooms: rooms}
}

func (s *StatsAggregator) Snapshot() Stats {
	return Stats{
		TotalPeers:         s.registry.Len(),
		WaitingPeers:       s.queue.Len(),
		ActivePartnerships: s.rooms.Partnerships(),
	}
}
