package processor

import (
	"sync"
	"time"
)

// Stats is the injected metrics sink for the processor. Counters cover this
// process's lifetime; durable queue depth comes from the store, not from
// here. Aggregation across instances happens externally.
type Stats struct {
	mu            sync.Mutex
	processed     int64
	blocked       int64
	failures      int64
	lastProcessAt time.Time
	running       bool
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	MessagesProcessed int64
	MessagesBlocked   int64
	DispatchFailures  int64
	LastProcessTime   time.Time
	ProcessorRunning  bool
}

// NewStats creates an empty sink.
func NewStats() *Stats { return &Stats{} }

func (s *Stats) addProcessed() {
	s.mu.Lock()
	s.processed++
	s.mu.Unlock()
}

func (s *Stats) addBlocked() {
	s.mu.Lock()
	s.blocked++
	s.mu.Unlock()
}

func (s *Stats) addFailure() {
	s.mu.Lock()
	s.failures++
	s.mu.Unlock()
}

func (s *Stats) markTick(at time.Time) {
	s.mu.Lock()
	s.lastProcessAt = at
	s.mu.Unlock()
}

func (s *Stats) setRunning(v bool) {
	s.mu.Lock()
	s.running = v
	s.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		MessagesProcessed: s.processed,
		MessagesBlocked:   s.blocked,
		DispatchFailures:  s.failures,
		LastProcessTime:   s.lastProcessAt,
		ProcessorRunning:  s.running,
	}
}
