package lock

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	token   uint64
	expires time.Time
}

// MemoryLocker serves single-replica deployments and tests.
type MemoryLocker struct {
	mu    sync.Mutex
	items map[string]memEntry
	seq   uint64
	now   func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{items: map[string]memEntry{}, now: time.Now}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if it, ok := l.items[key]; ok && now.Before(it.expires) {
		return nil, false, nil
	}
	l.seq++
	token := l.seq
	l.items[key] = memEntry{token: token, expires: now.Add(ttl)}
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if it, ok := l.items[key]; ok && it.token == token {
			delete(l.items, key)
		}
	}, true, nil
}
