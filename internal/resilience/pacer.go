package resilience

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pacer enforces a mandatory pause between consecutive requests to one
// competitor. It wraps a token-bucket limiter configured for exactly one
// request per interval, so pagination within a competitor is naturally
// serialized while different competitors proceed independently.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer creates a Pacer with the given inter-request interval.
func NewPacer(interval time.Duration) *Pacer {
	if interval <= 0 {
		return &Pacer{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the next request is allowed or the context is cancelled.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// PacerSet hands out one Pacer per competitor, keyed by competitor ID.
type PacerSet struct {
	mu     sync.Mutex
	pacers map[string]*Pacer
}

// NewPacerSet creates an empty PacerSet.
func NewPacerSet() *PacerSet {
	return &PacerSet{pacers: make(map[string]*Pacer)}
}

// Get returns the Pacer for key, creating it with interval on first use.
// The interval of an existing Pacer is not changed.
func (s *PacerSet) Get(key string, interval time.Duration) *Pacer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pacers[key]; ok {
		return p
	}
	p := NewPacer(interval)
	s.pacers[key] = p
	return p
}
