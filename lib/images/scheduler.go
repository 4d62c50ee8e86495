package images

import (
	"sync"
	"time"
)

// SchedulerState is the state of the refresh loop.
type SchedulerState int

const (
	StateIdle SchedulerState = iota
	StateScheduledWait
	StateRunning
)

func (s SchedulerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduledWait:
		return "scheduled"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Backoff computes the delay before the next refresh from the number of
// consecutive identical errors.
type Backoff struct {
	Base time.Duration
	Step time.Duration
	// Max caps the delay when positive.
	Max time.Duration
}

// DefaultBackoff returns 5s plus 500ms per repeated error, uncapped.
func DefaultBackoff() Backoff {
	return Backoff{
		Base: 5 * time.Second,
		Step: 500 * time.Millisecond,
	}
}

// Delay returns the delay for the given repeat count.
func (b Backoff) Delay(repeats int) time.Duration {
	d := b.Base + time.Duration(repeats)*b.Step
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

// Scheduler is a self-rescheduling refresh loop. Start runs a refresh right
// away; every completed refresh reports back through Complete, which arms
// the next one unless Stop was called. At most one timer is outstanding.
//
// The refresh callback must not block; it is called with no lock held.
type Scheduler struct {
	refresh func()

	mu            sync.Mutex
	state         SchedulerState
	timer         *time.Timer
	generation    uint64
	stopRequested bool
}

// NewScheduler creates an idle scheduler. Until Start is called, Complete
// does not arm timers.
func NewScheduler(refresh func()) *Scheduler {
	return &Scheduler{
		refresh:       refresh,
		stopRequested: true,
	}
}

// Start cancels any pending timer, clears the stop flag and refreshes now.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.cancelTimerLocked()
	s.stopRequested = false
	s.state = StateRunning
	s.mu.Unlock()

	s.refresh()
}

// Stop prevents further scheduling. A pending timer is cancelled; a refresh
// that is already running is left alone. Stop is idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopRequested = true
	if s.state == StateScheduledWait {
		s.cancelTimerLocked()
		s.state = StateIdle
	}
}

// Complete reports the end of a refresh and arms the next one after delay.
// It returns false when a stop was requested and nothing was armed.
func (s *Scheduler) Complete(delay time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelTimerLocked()
	if s.stopRequested {
		s.state = StateIdle
		return false
	}

	gen := s.generation
	s.state = StateScheduledWait
	s.timer = time.AfterFunc(delay, func() { s.fire(gen) })
	return true
}

// State returns the current state.
func (s *Scheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending reports whether a timer is armed.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// StopRequested reports whether Stop was called since the last Start.
func (s *Scheduler) StopRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopRequested
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	// a timer that fired while Stop, Start or Complete replaced it is stale
	if gen != s.generation || s.stopRequested || s.state != StateScheduledWait {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.state = StateRunning
	s.mu.Unlock()

	s.refresh()
}

func (s *Scheduler) cancelTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.generation++
}
