package pairing

import "container/list"

// Queue is the FIFO of peers waiting for a partner. Membership checks are
// O(1) through an index of list elements.
type Queue struct {
	registry *Registry
	blocks   *Blocklist

	order *list.List
	index map[PeerID]*list.Element
}

// NewQueue consults blocks when choosing candidates; blocks may be nil.
func NewQueue(registry *Registry, blocks *Blocklist) *Queue {
	return &Queue{
		registry: registry,
		blocks:   blocks,
		order:    list.New(),
		index:    make(map[PeerID]*list.Element),
	}
}

// Enqueue appends id if it is registered, not in a room and not queued.
func (q *Queue) Enqueue(id PeerID) bool {
	p := q.registry.Get(id)
	if p == nil || p.InSession() {
		return false
	}
	if _, ok := q.index[id]; ok {
		return false
	}
	q.index[id] = q.order.PushBack(id)
	return true
}

func (q *Queue) Dequeue(id PeerID) bool {
	e, ok := q.index[id]
	if !ok {
		return false
	}
	q.order.Remove(e)
	delete(q.index, id)
	return true
}

// NextCandidate pops the longest-waiting peer that seeker may be matched
// with. Stale entries (unregistered or already in a room) met on the way are
// discarded. The seeker itself and peers blocked with it are skipped but
// stay queued.
func (q *Queue) NextCandidate(seeker PeerID) (PeerID, bool) {
	for e := q.order.Front(); e != nil; {
		next := e.Next()
		id := e.Value.(PeerID)

		if p := q.registry.Get(id); p == nil || p.InSession() {
			q.order.Remove(e)
			delete(q.index, id)
			e = next
			continue
		}
		if id == seeker || q.blocks.IsBlocked(seeker, id) {
			e = next
			continue
		}

		q.order.Remove(e)
		delete(q.index, id)
		return id, true
	}
	return "", false
}

func (q *Queue) Contains(id PeerID) bool {
	_, ok := q.index[id]
	return ok
}

// Position is 1-based; 0 means not queued.
func (q *Queue) Position(id PeerID) int {
	if _, ok := q.index[id]; !ok {
		return 0
	}
	pos := 1
	for e := q.order.Front(); e != nil; e = e.Next() {
		if e.Value.(PeerID) == id {
			return pos
		}
		pos++
	}
	return 0
}

func (q *Queue) Len() int { return q.order.Len() }

// IDs returns the queue in order.
func (q *Queue) IDs() []PeerID {
	out := make([]PeerID, 0, q.order.Len())
	for e := q.order.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(PeerID))
	}
	return out
}
