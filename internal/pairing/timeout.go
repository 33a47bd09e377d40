package pairing

import (
	"time"

	"github.com/benbjohnson/clock"
)

type armedTimer struct {
	timer *clock.Timer
	gen   uint64
}

// Supervisor holds one connect-or-fail timer per room. When a timer fires,
// fire is called from the timer's goroutine with the room and the generation
// it was armed with; the callee checks Current under its own lock because a
// Disarm may have raced the firing.
type Supervisor struct {
	clock  clock.Clock
	fire   func(RoomID, uint64)
	timers map[RoomID]armedTimer
	gen    uint64
}

func NewSupervisor(clk clock.Clock, fire func(RoomID, uint64)) *Supervisor {
	return &Supervisor{
		clock:  clk,
		fire:   fire,
		timers: make(map[RoomID]armedTimer),
	}
}

// Arm replaces any timer already armed for id.
func (s *Supervisor) Arm(id RoomID, d time.Duration) {
	s.Disarm(id)
	s.gen++
	gen := s.gen
	t := s.clock.AfterFunc(d, func() { s.fire(id, gen) })
	s.timers[id] = armedTimer{timer: t, gen: gen}
}

// Disarm is idempotent and reports whether a timer was armed.
func (s *Supervisor) Disarm(id RoomID) bool {
	at, ok := s.timers[id]
	if !ok {
		return false
	}
	at.timer.Stop()
	delete(s.timers, id)
	return true
}

// Current reports whether gen is still the live timer for id.
func (s *Supervisor) Current(id RoomID, gen uint64) bool {
	at, ok := s.timers[id]
	return ok && at.gen == gen
}

func (s *Supervisor) Armed(id RoomID) bool {
	_, ok := s.timers[id]
	return ok
}

func (s *Supervisor) Len() int { return len(s.timers) }

func (s *Supervisor) StopAll() {
	for id := range s.timers {
		s.Disarm(id)
	}
}
