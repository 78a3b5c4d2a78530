package bucketing

import (
	"hash"
	"sync"

	"github.com/spaolacci/murmur3"
)

// DefaultShards is used when a caller asks for a non-positive shard count
const DefaultShards = 32

// BucketingManager maps string keys onto a fixed number of shards
type BucketingManager struct {
	shards     int
	hasherPool sync.Pool
}

func NewBucketingManager(shards int) *BucketingManager {
	if shards <= 0 {
		shards = DefaultShards
	}

	bm := &BucketingManager{shards: shards}

	// Create pool of hash functions to avoid allocation overhead
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// GetShard returns a consistent shard for key (0 to shards-1)
func (bm *BucketingManager) GetShard(key string) int {
	return int(bm.getHash(key) % uint64(bm.shards))
}

// GetShards returns the number of shards
func (bm *BucketingManager) GetShards() int {
	return bm.shards
}

func (bm *BucketingManager) getHash(key string) uint64 {
	// Get hasher from pool
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	// Reset hasher for reuse
	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
