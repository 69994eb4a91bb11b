package ratelimit

import (
	"context"
	"sync"
	"time"
)

const bucketTTL = 10 * time.Minute

// MemoryStore keeps buckets in-process. Idle buckets are swept so the
// map does not grow with every fingerprint ever seen.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	stop    chan struct{}
	once    sync.Once
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
	lastSeen   time.Time
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go s.sweep()
	return s
}

func (s *MemoryStore) Take(ctx context.Context, key string, p Policy, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{tokens: p.Capacity, lastRefill: now}
		s.buckets[key] = b
	}
	b.tokens = refill(b.tokens, b.lastRefill, now, p)
	b.lastRefill = now
	b.lastSeen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, nil
	}
	return false, nil
}

func (s *MemoryStore) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-bucketTTL)
			s.mu.Lock()
			for key, b := range s.buckets {
				if b.lastSeen.Before(cutoff) {
					delete(s.buckets, key)
				}
			}
			s.mu.Unlock()
		}
	}
}

// Close stops the sweeper goroutine.
func (s *MemoryStore) Close() {
	s.once.Do(func() { close(s.stop) })
}
