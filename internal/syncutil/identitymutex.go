// Package syncutil provides keyed locking primitives. The wallet service
// serializes all check-then-act sequences per identity through these locks so
// limit checks against running totals cannot race with concurrent operations
// on the same identity.
package syncutil

import (
	"context"
	"hash/fnv"
	"sync"
)

// IdentityMutex is a fixed-size pool of mutexes keyed by identity ID. Memory
// stays bounded no matter how many identities are seen, at the cost of
// occasional false sharing between identities hashing to the same shard.
type IdentityMutex struct {
	shards [256]sync.Mutex
}

// Lock acquires the mutex for the given identity and returns an unlock
// function.
func (m *IdentityMutex) Lock(identityID string) func() {
	mu := &m.shards[shardIdx(identityID)]
	mu.Lock()
	return mu.Unlock
}

func shardIdx(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % 256
}

// ContextIdentityMutex is the context-aware variant: callers waiting for a
// busy identity can bail out on context cancellation instead of blocking for
// the duration of a slow signer call.
type ContextIdentityMutex struct {
	shards [256]chan struct{}
	once   sync.Once
}

// NewContextIdentityMutex creates a context-aware identity mutex.
func NewContextIdentityMutex() *ContextIdentityMutex {
	m := &ContextIdentityMutex{}
	m.init()
	return m
}

func (m *ContextIdentityMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			m.shards[i] = make(chan struct{}, 1)
			m.shards[i] <- struct{}{} // Start unlocked.
		}
	})
}

// LockContext acquires the mutex for the identity, respecting context
// cancellation. On success it returns an unlock function the caller MUST
// invoke; on cancellation it returns nil and the context error.
func (m *ContextIdentityMutex) LockContext(ctx context.Context, identityID string) (func(), error) {
	m.init()
	shard := m.shards[shardIdx(identityID)]

	select {
	case <-shard:
		return func() { shard <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
