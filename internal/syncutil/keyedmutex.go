// Package syncutil provides per-key locking with bounded memory.
package syncutil

import (
	"context"
	"hash/fnv"
)

// DefaultShards is the shard count used when NewKeyedMutex is given zero.
const DefaultShards = 256

// KeyedMutex serialises work per string key using a fixed pool of
// channel-based locks, so memory stays bounded no matter how many keys are
// seen. Keys that hash to the same shard contend with each other. Waiters
// can give up when their context ends.
type KeyedMutex struct {
	shards []chan struct{}
}

// NewKeyedMutex creates a mutex pool with the given number of shards.
func NewKeyedMutex(shards int) *KeyedMutex {
	if shards <= 0 {
		shards = DefaultShards
	}
	m := &KeyedMutex{shards: make([]chan struct{}, shards)}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
		m.shards[i] <- struct{}{} // Start unlocked.
	}
	return m
}

// LockContext acquires the lock for key. On success it returns an unlock
// function the caller MUST call. If ctx ends first it returns ctx.Err().
func (m *KeyedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	shard := m.shard(key)

	// Fail fast on an already-dead context even if the lock is free.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	select {
	case <-shard:
		return func() { shard <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *KeyedMutex) shard(key string) chan struct{} {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return m.shards[h.Sum32()%uint32(len(m.shards))]
}
