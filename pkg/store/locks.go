package store

import (
	"hash/fnv"
	"sync"
)

// KeyedMutex is a sharded lock table keyed by unit id. The ingestion
// pipeline locks an entity's id before resolving or merging it, so the
// at-most-one-concurrent-writer-per-id invariant holds even when two
// batches race to the same entity.
type KeyedMutex struct {
	shards []sync.Mutex
}

// NewKeyedMutex returns a KeyedMutex with the given shard count.
// Counts below 1 fall back to 64.
func NewKeyedMutex(shards int) *KeyedMutex {
	if shards < 1 {
		shards = 64
	}
	return &KeyedMutex{shards: make([]sync.Mutex, shards)}
}

// Lock acquires the shard lock for key.
func (m *KeyedMutex) Lock(key string) {
	m.shards[m.shard(key)].Lock()
}

// Unlock releases the shard lock for key.
func (m *KeyedMutex) Unlock(key string) {
	m.shards[m.shard(key)].Unlock()
}

func (m *KeyedMutex) shard(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(m.shards)))
}
