// Package syncutil provides per-key locking for in-process serialisation.
package syncutil

import (
	"context"
	"hash/fnv"
	"sync"
)

// KeyedMutex is a fixed pool of channel-based mutexes selected by key hash.
// Memory is bounded regardless of how many keys are seen; keys that hash to
// the same shard share a lock. Waiters can give up when their context ends.
type KeyedMutex struct {
	shards [256]chan struct{}
	once   sync.Once
}

// NewKeyedMutex creates a ready-to-use KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	m := &KeyedMutex{}
	m.init()
	return m
}

func (m *KeyedMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			m.shards[i] = make(chan struct{}, 1)
			m.shards[i] <- struct{}{}
		}
	})
}

// Lock blocks until the lock for key is held and returns the unlock function.
func (m *KeyedMutex) Lock(key string) func() {
	unlock, _ := m.LockContext(context.Background(), key)
	return unlock
}

// LockContext acquires the lock for key or returns ctx.Err() if ctx ends first.
// The returned unlock function must be called exactly once.
func (m *KeyedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	m.init()
	shard := m.shards[shardIdx(key)]
	select {
	case <-shard:
		return func() { shard <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func shardIdx(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % 256
}
