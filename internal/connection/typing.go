package connection

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// typingScheduler keeps at most one pending auto-stop per destination.
type typingScheduler struct {
	clock clock.Clock
	delay time.Duration

	mu     sync.Mutex
	timers map[string]*clock.Timer
}

func newTypingScheduler(clk clock.Clock, delay time.Duration) *typingScheduler {
	return &typingScheduler{
		clock:  clk,
		delay:  delay,
		timers: make(map[string]*clock.Timer),
	}
}

// schedule runs stop after the delay, replacing any pending stop for to.
func (s *typingScheduler) schedule(to string, stop func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.timers[to]; ok {
		prev.Stop()
	}

	var timer *clock.Timer
	timer = s.clock.AfterFunc(s.delay, func() {
		s.mu.Lock()
		if s.timers[to] != timer {
			s.mu.Unlock()
			return
		}
		delete(s.timers, to)
		s.mu.Unlock()
		stop()
	})
	s.timers[to] = timer
}

// cancel drops the pending stop for to.
func (s *typingScheduler) cancel(to string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[to]; ok {
		t.Stop()
		delete(s.timers, to)
	}
}

// stopAll drops every pending stop without running it.
func (s *typingScheduler) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for to, t := range s.timers {
		t.Stop()
		delete(s.timers, to)
	}
}

// pending returns the number of scheduled stops.
func (s *typingScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
