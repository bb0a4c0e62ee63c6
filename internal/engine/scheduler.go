package engine

import (
	"sync"
	"time"
)

// auctionTimers holds the at most two outstanding timers per auction:
// one for the scheduled->live transition and one for live->ended.
type auctionTimers struct {
	start Timer
	end   Timer
}

// scheduler drives timer-based lifecycle transitions. Timers are
// cancelled and replaced whenever an auction is extended or ended early;
// overdue transitions (missed while the process was down) fire
// immediately because negative delays are clamped to zero.
type scheduler struct {
	clock   Clock
	onStart func(auctionID string)
	onEnd   func(auctionID string)

	mu     sync.Mutex
	timers map[string]*auctionTimers
}

func newScheduler(clock Clock, onStart, onEnd func(auctionID string)) *scheduler {
	return &scheduler{
		clock:   clock,
		onStart: onStart,
		onEnd:   onEnd,
		timers:  make(map[string]*auctionTimers),
	}
}

func (s *scheduler) entry(auctionID string) *auctionTimers {
	if t, ok := s.timers[auctionID]; ok {
		return t
	}
	t := &auctionTimers{}
	s.timers[auctionID] = t
	return t
}

// ScheduleStart arms the scheduled->live timer, replacing any pending one.
func (s *scheduler) ScheduleStart(auctionID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.entry(auctionID)
	if t.start != nil {
		t.start.Stop()
	}
	t.start = s.clock.AfterFunc(s.delayUntil(at), func() { s.onStart(auctionID) })
}

// ScheduleEnd arms the live->ended timer, replacing any pending one.
// Called again with a later deadline on every anti-sniping extension.
func (s *scheduler) ScheduleEnd(auctionID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.entry(auctionID)
	if t.end != nil {
		t.end.Stop()
	}
	t.end = s.clock.AfterFunc(s.delayUntil(at), func() { s.onEnd(auctionID) })
}

// Cancel stops both timers for an auction, for buy-now and cancellation.
func (s *scheduler) Cancel(auctionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[auctionID]
	if !ok {
		return
	}
	if t.start != nil {
		t.start.Stop()
	}
	if t.end != nil {
		t.end.Stop()
	}
	delete(s.timers, auctionID)
}

// Close cancels every outstanding timer.
func (s *scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		if t.start != nil {
			t.start.Stop()
		}
		if t.end != nil {
			t.end.Stop()
		}
		delete(s.timers, id)
	}
}

func (s *scheduler) delayUntil(at time.Time) time.Duration {
	d := at.Sub(s.clock.Now())
	if d < 0 {
		return 0
	}
	return d
}
