// Package stats keeps per-endpoint LLM timing windows used by the
// rate-limit delay simulator and the management stats surface.
package stats

import (
	"sync"
	"time"

	"github.com/mockforge/mockforge/internal/domain/service"
)

// Store keeps a moving window of the last N LLM elapsed times per request
// fingerprint.
type Store struct {
	mu         sync.RWMutex
	endpoints  map[string]*window
	windowSize int
}

type window struct {
	samples  []time.Duration
	next     int
	filled   bool
	lastSeen time.Time
	count    int64
}

// Compile-time interface check
var _ service.EndpointStats = (*Store)(nil)

// NewStore creates a stats store with the given window size (default 10).
func NewStore(windowSize int) *Store {
	if windowSize <= 0 {
		windowSize = 10
	}
	return &Store{
		endpoints:  make(map[string]*window),
		windowSize: windowSize,
	}
}

// Record adds one elapsed-time sample for the fingerprint.
func (s *Store) Record(key string, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.endpoints[key]
	if !ok {
		w = &window{samples: make([]time.Duration, s.windowSize)}
		s.endpoints[key] = w
	}
	w.samples[w.next] = elapsed
	w.next = (w.next + 1) % len(w.samples)
	if w.next == 0 {
		w.filled = true
	}
	w.lastSeen = time.Now()
	w.count++
}

// Average returns the arithmetic mean over the window, zero when no samples
// exist.
func (s *Store) Average(key string) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.endpoints[key]
	if !ok {
		return 0
	}
	return w.average()
}

func (w *window) average() time.Duration {
	n := w.next
	if w.filled {
		n = len(w.samples)
	}
	if n == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < n; i++ {
		sum += w.samples[i]
	}
	return sum / time.Duration(n)
}

// Snapshot returns a copy of every endpoint's timing summary.
func (s *Store) Snapshot() map[string]service.EndpointTiming {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]service.EndpointTiming, len(s.endpoints))
	for key, w := range s.endpoints {
		n := w.next
		if w.filled {
			n = len(w.samples)
		}
		out[key] = service.EndpointTiming{
			Samples:   n,
			Average:   w.average(),
			LastSeen:  w.lastSeen,
			CallCount: w.count,
		}
	}
	return out
}
