package admission

import (
	"sync"
	"time"

	"bulletin-service/internal/bucketing"
)

type authAttempt struct {
	failureCount  int
	lastAttemptAt time.Time
	lockedUntil   time.Time
}

func (a *authAttempt) snapshot(identifier string) *AuthSnapshot {
	return &AuthSnapshot{
		Identifier:    identifier,
		FailureCount:  a.failureCount,
		LastAttemptAt: a.lastAttemptAt,
		LockedUntil:   a.lockedUntil,
	}
}

type authShard struct {
	mu      sync.Mutex
	entries map[string]*authAttempt
}

// authTracker counts consecutive authentication failures per identifier.
// No entry means clean; lockedUntil in the future means locked.
type authTracker struct {
	maxAttempts int
	window      time.Duration
	buckets     *bucketing.BucketingManager
	shards      []*authShard
}

func newAuthTracker(buckets *bucketing.BucketingManager) *authTracker {
	t := &authTracker{
		maxAttempts: MaxAuthAttempts,
		window:      LockoutWindow,
		buckets:     buckets,
		shards:      make([]*authShard, buckets.GetShards()),
	}
	for i := range t.shards {
		t.shards[i] = &authShard{entries: make(map[string]*authAttempt)}
	}
	return t
}

func (t *authTracker) shard(identifier string) *authShard {
	return t.shards[t.buckets.GetShard(identifier)]
}

// check returns how long identifier stays locked, zero when it is not locked
func (t *authTracker) check(identifier string, now time.Time) time.Duration {
	sh := t.shard(identifier)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	a, ok := sh.entries[identifier]
	if !ok || !now.Before(a.lockedUntil) {
		return 0
	}
	return a.lockedUntil.Sub(now)
}

// recordFailure registers a failed attempt. It returns the failure count and,
// when this failure locked the identifier, the lock expiry.
func (t *authTracker) recordFailure(identifier string, now time.Time) (int, time.Time) {
	sh := t.shard(identifier)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	a, ok := sh.entries[identifier]
	if !ok || now.Sub(a.lastAttemptAt) > t.window {
		a = &authAttempt{}
		sh.entries[identifier] = a
	}
	a.failureCount++
	a.lastAttemptAt = now

	if a.failureCount >= t.maxAttempts {
		a.lockedUntil = now.Add(t.window)
		return a.failureCount, a.lockedUntil
	}
	return a.failureCount, time.Time{}
}

// recordSuccess forgets identifier entirely
func (t *authTracker) recordSuccess(identifier string) {
	sh := t.shard(identifier)
	sh.mu.Lock()
	delete(sh.entries, identifier)
	sh.mu.Unlock()
}

func (t *authTracker) peek(identifier string) *AuthSnapshot {
	sh := t.shard(identifier)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	a, ok := sh.entries[identifier]
	if !ok {
		return nil
	}
	return a.snapshot(identifier)
}

func (t *authTracker) size() int {
	n := 0
	for _, sh := range t.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

func (t *authTracker) sweep(now time.Time) int {
	removed := 0
	for _, sh := range t.shards {
		sh.mu.Lock()
		for identifier, a := range sh.entries {
			if !now.Before(a.lockedUntil) && now.Sub(a.lastAttemptAt) >= t.window {
				delete(sh.entries, identifier)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

func (t *authTracker) reset() {
	for _, sh := range t.shards {
		sh.mu.Lock()
		sh.entries = make(map[string]*authAttempt)
		sh.mu.Unlock()
	}
}
