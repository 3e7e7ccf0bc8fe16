package idempotency

import (
	"context"
	"errors"
	"sync"
)

var ErrDuplicate = errors.New("external reference already processed")

// Guard deduplicates externally-triggered events by their external reference
// id. Begin reserves the key before any side effect; a failed attempt must
// Release so the gateway's redelivery can retry, and a successful one must
// Commit so every later delivery is recognized as a duplicate.
type Guard interface {
	Begin(ctx context.Context, key string) error
	Commit(ctx context.Context, key string) error
	Release(ctx context.Context, key string) error
}

type state int

const (
	statePending state = iota
	stateDone
)

// MemoryGuard is the in-memory Guard used by tests and standalone runs.
type MemoryGuard struct {
	mu   sync.Mutex
	keys map[string]state
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{keys: make(map[string]state)}
}

func (g *MemoryGuard) Begin(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.keys[key]; exists {
		return ErrDuplicate
	}
	g.keys[key] = statePending
	return nil
}

func (g *MemoryGuard) Commit(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.keys[key] = stateDone
	return nil
}

func (g *MemoryGuard) Release(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.keys[key] == statePending {
		delete(g.keys, key)
	}
	return nil
}
