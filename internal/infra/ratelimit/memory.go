package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

const defaultMaxKeys = 10000

// Memory counts requests per key in process. It is used when no Redis is
// configured, so limits apply per replica.
type Memory struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	maxKeys int
	now     func() time.Time
	buckets map[string]*bucket
}

type bucket struct {
	count int64
	until time.Time
}

func NewMemory(limit int, window time.Duration, maxKeys int) *Memory {
	if window <= 0 {
		window = time.Minute
	}
	if maxKeys <= 0 {
		maxKeys = defaultMaxKeys
	}
	return &Memory{
		limit:   limit,
		window:  window,
		maxKeys: maxKeys,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	if m.limit <= 0 {
		return Decision{Allowed: true}, nil
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok || !now.Before(b.until) {
		if !ok && len(m.buckets) >= m.maxKeys {
			m.sweep(now)
			if len(m.buckets) >= m.maxKeys {
				return Decision{}, errors.New("rate limiter capacity exceeded")
			}
		}
		b = &bucket{until: now.Add(m.window)}
		m.buckets[key] = b
	}
	if b.count <= int64(m.limit) {
		b.count++
	}
	return decide(b.count, m.limit, b.until), nil
}

func (m *Memory) sweep(now time.Time) {
	for key, b := range m.buckets {
		if !now.Before(b.until) {
			delete(m.buckets, key)
		}
	}
}
