package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/poolbot/internal/domain"
)

// LocalLocks is an in-process domain.LockManager used when Redis is not
// configured. A key stays held until its unlock func runs or its ttl passes.
type LocalLocks struct {
	mu   sync.Mutex
	held map[string]localLease
	now  func() time.Time
	seq  uint64
}

type localLease struct {
	id      uint64
	expires time.Time
}

// NewLocalLocks creates an empty LocalLocks.
func NewLocalLocks() *LocalLocks {
	return &LocalLocks{held: make(map[string]localLease), now: time.Now}
}

// Acquire takes key for ttl. It fails with domain.ErrLockHeld while another
// holder's lease is live.
func (l *LocalLocks) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if lease, ok := l.held[key]; ok && now.Before(lease.expires) {
		return nil, fmt.Errorf("local lock %q: %w", key, domain.ErrLockHeld)
	}
	l.seq++
	id := l.seq
	l.held[key] = localLease{id: id, expires: now.Add(ttl)}

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if lease, ok := l.held[key]; ok && lease.id == id {
			delete(l.held, key)
		}
	}, nil
}

// Cleanup drops expired leases.
func (l *LocalLocks) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for key, lease := range l.held {
		if !now.Before(lease.expires) {
			delete(l.held, key)
		}
	}
}

var _ domain.LockManager = (*LocalLocks)(nil)
