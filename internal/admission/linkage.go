package admission

import (
	"sort"
	"sync"
	"time"

	"bulletin-service/internal/bucketing"
)

// linkage records which addresses an identity posted from today and how
// many posts it made across all of them.
type linkage struct {
	addresses           map[string]struct{}
	aggregateDailyPosts int
	resetAt             time.Time
}

func (l *linkage) resetIfExpired(now time.Time) {
	if now.Sub(l.resetAt) >= DayWindow {
		l.aggregateDailyPosts = 0
		l.resetAt = now
	}
}

func (l *linkage) addressList() []string {
	out := make([]string, 0, len(l.addresses))
	for addr := range l.addresses {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

type linkageShard struct {
	mu      sync.Mutex
	entries map[string]*linkage
}

type linkageStore struct {
	buckets *bucketing.BucketingManager
	shards  []*linkageShard
}

func newLinkageStore(buckets *bucketing.BucketingManager) *linkageStore {
	s := &linkageStore{
		buckets: buckets,
		shards:  make([]*linkageShard, buckets.GetShards()),
	}
	for i := range s.shards {
		s.shards[i] = &linkageShard{entries: make(map[string]*linkage)}
	}
	return s
}

func (s *linkageStore) shard(identity string) *linkageShard {
	return s.shards[s.buckets.GetShard(identity)]
}

func (sh *linkageShard) entry(identity string, now time.Time) *linkage {
	l, ok := sh.entries[identity]
	if !ok {
		l = &linkage{
			addresses: make(map[string]struct{}),
			resetAt:   now,
		}
		sh.entries[identity] = l
	}
	l.resetIfExpired(now)
	return l
}

// touch links address to identity and returns a copy of the linked
// addresses together with the aggregate post count.
func (s *linkageStore) touch(identity, address string, now time.Time) ([]string, int) {
	sh := s.shard(identity)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	l := sh.entry(identity, now)
	l.addresses[address] = struct{}{}
	return l.addressList(), l.aggregateDailyPosts
}

// linked returns the addresses linked to identity without modifying anything
func (s *linkageStore) linked(identity string) []string {
	sh := s.shard(identity)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	l, ok := sh.entries[identity]
	if !ok {
		return nil
	}
	return l.addressList()
}

func (s *linkageStore) recordPost(identity string, now time.Time) {
	sh := s.shard(identity)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sh.entry(identity, now).aggregateDailyPosts++
}

func (s *linkageStore) peek(identity string) *LinkageSnapshot {
	sh := s.shard(identity)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	l, ok := sh.entries[identity]
	if !ok {
		return nil
	}
	return &LinkageSnapshot{
		Identity:            identity,
		Addresses:           l.addressList(),
		AggregateDailyPosts: l.aggregateDailyPosts,
		ResetAt:             l.resetAt,
	}
}

func (s *linkageStore) size() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

func (s *linkageStore) sweep(now time.Time) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for identity, l := range sh.entries {
			if now.Sub(l.resetAt) >= DayWindow {
				delete(sh.entries, identity)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

func (s *linkageStore) reset() {
	for _, sh := range s.shards {
		sh.mu.Lock()
		sh.entries = make(map[string]*linkage)
		sh.mu.Unlock()
	}
}
