package timer

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Timer measures elapsed time between Start and Stop calls.
type Timer interface {
	Start()
	Stop()
	Reset()
	Elapsed() time.Duration
}

// Stopwatch is a Timer that reads time from a clock.PassiveClock.
// Elapsed is zero until the stopwatch has been started at least once.
type Stopwatch struct {
	mu      sync.Mutex
	clock   clock.PassiveClock
	started time.Time
	running bool
	total   time.Duration
}

// NewStopwatch returns a stopped stopwatch reading from c. A nil clock
// falls back to the wall clock.
func NewStopwatch(c clock.PassiveClock) *Stopwatch {
	if c == nil {
		c = clock.RealClock{}
	}
	return &Stopwatch{clock: c}
}

// Start begins a new measurement segment. Starting a running stopwatch
// restarts the current segment.
func (s *Stopwatch) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = s.clock.Now()
	s.running = true
}

// Stop ends the current segment and folds it into the accumulated total.
func (s *Stopwatch) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.total += s.segment()
	s.running = false
}

// Reset zeroes the accumulated time and stops the stopwatch.
func (s *Stopwatch) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total = 0
	s.running = false
	s.started = time.Time{}
}

func (s *Stopwatch) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return s.total + s.segment()
	}
	return s.total
}

func (s *Stopwatch) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// segment never goes negative, even if the underlying clock is stepped back.
func (s *Stopwatch) segment() time.Duration {
	d := s.clock.Since(s.started)
	if d < 0 {
		return 0
	}
	return d
}

// Ticks converts d into a whole number of unit intervals, truncating toward
// zero. A non-positive unit yields zero.
func Ticks(d, unit time.Duration) int64 {
	if unit <= 0 {
		return 0
	}
	return int64(d / unit)
}
