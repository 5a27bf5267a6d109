// Package memory provides an in-memory lock.DistributedLock for tests and
// single-process deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cnabflow/ingestor/internal/lock"
)

type entry struct {
	token     string
	expiresAt time.Time
}

// Lock is a goroutine-safe, in-memory implementation of lock.DistributedLock.
type Lock struct {
	mu      sync.Mutex
	entries map[string]entry
}

// New returns an empty Lock.
func New() *Lock {
	return &Lock{entries: make(map[string]entry)}
}

func (l *Lock) Acquire(_ context.Context, name string, ttl time.Duration) (lock.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if existing, ok := l.entries[name]; ok && now.Before(existing.expiresAt) {
		return nil, lock.ErrAlreadyLocked
	}

	token := uuid.New().String()
	l.entries[name] = entry{token: token, expiresAt: now.Add(ttl)}
	return &handle{l: l, name: name, token: token}, nil
}

type handle struct {
	l     *Lock
	name  string
	token string
}

func (h *handle) Renew(_ context.Context, ttl time.Duration) error {
	h.l.mu.Lock()
	defer h.l.mu.Unlock()

	existing, ok := h.l.entries[h.name]
	if !ok || existing.token != h.token {
		return lock.ErrNotHeld
	}
	h.l.entries[h.name] = entry{token: h.token, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (h *handle) Release(_ context.Context) error {
	h.l.mu.Lock()
	defer h.l.mu.Unlock()

	existing, ok := h.l.entries[h.name]
	if !ok || existing.token != h.token {
		return lock.ErrNotHeld
	}
	delete(h.l.entries, h.name)
	return nil
}

var _ lock.DistributedLock = (*Lock)(nil)
