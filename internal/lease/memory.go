package lease

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memEntry struct {
	token    string
	deadline time.Time
}

// Memory is an in-process lease manager
type Memory struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

// NewMemory creates an in-process lease manager
func NewMemory() *Memory {
	return NewMemoryWithClock(time.Now)
}

// NewMemoryWithClock creates an in-process lease manager with an injectable clock
func NewMemoryWithClock(now func() time.Time) *Memory {
	return &Memory{entries: make(map[string]memEntry), now: now}
}

func (m *Memory) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.entries[key]; ok && now.Before(e.deadline) {
		return nil, ErrHeld
	}
	l := &Lease{Key: key, Token: uuid.NewString(), Deadline: now.Add(ttl)}
	m.entries[key] = memEntry{token: l.Token, deadline: l.Deadline}
	return l, nil
}

func (m *Memory) Renew(ctx context.Context, l *Lease, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.entries[l.Key]
	if !ok || e.token != l.Token || !now.Before(e.deadline) {
		return ErrLost
	}
	l.Deadline = now.Add(ttl)
	m.entries[l.Key] = memEntry{token: l.Token, deadline: l.Deadline}
	return nil
}

func (m *Memory) Release(_ context.Context, l *Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[l.Key]
	if !ok || e.token != l.Token {
		return ErrLost
	}
	delete(m.entries, l.Key)
	return nil
}

var _ Manager = (*Memory)(nil)
