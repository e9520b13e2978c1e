package rate

import (
	"context"
	"sync"
	"time"
)

// Counter counts events per key inside a fixed window that starts with the
// first event.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int, error)
	Count(ctx context.Context, key string) (int, error)
	Reset(ctx context.Context, key string) error
}

type bucket struct {
	count  int
	start  time.Time
	window time.Duration
}

type Memory struct {
	mu      sync.Mutex
	buckets map[string]bucket
	lastGC  time.Time
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{buckets: map[string]bucket{}, lastGC: time.Now().UTC(), now: time.Now}
}

func (m *Memory) Incr(ctx context.Context, key string, window time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	m.gc(now)
	b, ok := m.buckets[key]
	if !ok || now.Sub(b.start) >= b.window {
		b = bucket{start: now, window: window}
	}
	b.count++
	m.buckets[key] = b
	return b.count, nil
}

func (m *Memory) Count(ctx context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[key]
	if !ok || m.now().UTC().Sub(b.start) >= b.window {
		return 0, nil
	}
	return b.count, nil
}

func (m *Memory) Reset(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buckets, key)
	return nil
}

func (m *Memory) gc(now time.Time) {
	if now.Sub(m.lastGC) <= time.Minute {
		return
	}
	for k, b := range m.buckets {
		if now.Sub(b.start) > b.window {
			delete(m.buckets, k)
		}
	}
	m.lastGC = now
}
