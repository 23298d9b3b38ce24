package throttle

import (
	"sort"
	"sync"
	"time"
)

// Timer is a pending scheduled call.
type Timer interface {
	Stop() bool
}

// Scheduler runs a function after a delay.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// RealScheduler schedules on the runtime timer heap.
type RealScheduler struct{}

func (RealScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// ManualScheduler is a Scheduler driven by Advance, for tests and replays.
type ManualScheduler struct {
	mu      sync.Mutex
	now     time.Duration
	pending []*manualTimer
}

type manualTimer struct {
	s       *ManualScheduler
	at      time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// NewManualScheduler creates a scheduler at time zero.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

func (s *ManualScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{s: s, at: s.now + d, fn: fn}
	s.pending = append(s.pending, t)
	return t
}

// Advance moves time forward and runs every timer that came due, in order.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.now += d
	now := s.now

	var due, rest []*manualTimer
	for _, t := range s.pending {
		switch {
		case t.stopped:
		case t.at <= now:
			t.fired = true
			due = append(due, t)
		default:
			rest = append(rest, t)
		}
	}
	s.pending = rest
	s.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.fn()
	}
}

// Pending returns the number of timers not yet fired or stopped.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.pending {
		if !t.stopped {
			n++
		}
	}
	return n
}
