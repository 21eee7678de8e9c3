package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrHeld = errors.New("lock already held")

// Guard serializes order attempts per key. Acquire returns an idempotent
// release function, or ErrHeld when another holder owns the key.
type Guard interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// Memory is a process-local Guard. Entries expire after ttl so a leaked
// release cannot block a symbol forever.
type Memory struct {
	mu    sync.Mutex
	held  map[string]memoryEntry
	now   func() time.Time
	token uint64
}

type memoryEntry struct {
	token   uint64
	expires time.Time
}

func NewMemory() *Memory {
	return &Memory{held: make(map[string]memoryEntry), now: time.Now}
}

func (m *Memory) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if entry, ok := m.held[key]; ok && (entry.expires.IsZero() || now.Before(entry.expires)) {
		return nil, ErrHeld
	}
	m.token++
	token := m.token
	entry := memoryEntry{token: token}
	if ttl > 0 {
		entry.expires = now.Add(ttl)
	}
	m.held[key] = entry

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if cur, ok := m.held[key]; ok && cur.token == token {
				delete(m.held, key)
			}
		})
	}, nil
}
