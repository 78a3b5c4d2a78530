package admission

import (
	"sync"
	"time"

	"bulletin-service/internal/bucketing"
)

// quotaEntry is the running state for one address or identity
type quotaEntry struct {
	count           int
	dailyResetAt    time.Time
	lastPostAt      time.Time
	lastRetrievalAt time.Time
}

func (e *quotaEntry) resetIfExpired(now time.Time) {
	if now.Sub(e.dailyResetAt) >= DayWindow {
		e.count = 0
		e.dailyResetAt = now
	}
}

func (e *quotaEntry) stale(now time.Time) bool {
	return now.Sub(e.dailyResetAt) >= DayWindow &&
		now.Sub(e.lastPostAt) >= DayWindow &&
		now.Sub(e.lastRetrievalAt) >= DayWindow
}

func (e *quotaEntry) snapshot(key string) *QuotaSnapshot {
	return &QuotaSnapshot{
		Key:             key,
		Count:           e.count,
		DailyResetAt:    e.dailyResetAt,
		LastPostAt:      e.lastPostAt,
		LastRetrievalAt: e.lastRetrievalAt,
	}
}

type quotaShard struct {
	mu      sync.Mutex
	entries map[string]*quotaEntry
}

// postRule is the daily cap and spacing applied to counted actions.
// A negative cap means uncapped.
type postRule struct {
	cap          int
	interval     time.Duration
	capKind      DenyKind
	intervalKind DenyKind
}

func commentRule(cfg Config) postRule {
	return postRule{
		cap:          cfg.DailyCap,
		interval:     cfg.PostInterval,
		capKind:      DenyDailyCap,
		intervalKind: DenyPostInterval,
	}
}

func registrationRule(cfg Config) postRule {
	limit := cfg.RegistrationCap
	if limit == 0 {
		limit = -1
	}
	return postRule{
		cap:          limit,
		interval:     cfg.RegistrationInterval,
		capKind:      DenyRegistrationCap,
		intervalKind: DenyRegistrationInterval,
	}
}

// quotaStore tracks daily counts and operation spacing per key. Separate
// instances are keyed by address, by identity, and by registering address.
type quotaStore struct {
	rule              postRule
	retrievalInterval time.Duration
	buckets           *bucketing.BucketingManager
	shards            []*quotaShard
}

func newQuotaStore(rule postRule, retrievalInterval time.Duration, buckets *bucketing.BucketingManager) *quotaStore {
	s := &quotaStore{
		rule:              rule,
		retrievalInterval: retrievalInterval,
		buckets:           buckets,
		shards:            make([]*quotaShard, buckets.GetShards()),
	}
	for i := range s.shards {
		s.shards[i] = &quotaShard{entries: make(map[string]*quotaEntry)}
	}
	return s
}

func (s *quotaStore) shard(key string) *quotaShard {
	return s.shards[s.buckets.GetShard(key)]
}

// entry returns the entry for key, creating it if absent and applying the
// daily reset. Caller must hold the shard lock.
func (sh *quotaShard) entry(key string, now time.Time) *quotaEntry {
	e, ok := sh.entries[key]
	if !ok {
		e = &quotaEntry{dailyResetAt: now}
		sh.entries[key] = e
	}
	e.resetIfExpired(now)
	return e
}

func (s *quotaStore) checkPost(key string, now time.Time) Decision {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e := sh.entry(key, now)
	if s.rule.cap >= 0 && e.count >= s.rule.cap {
		return deny(s.rule.capKind, e.dailyResetAt.Add(DayWindow).Sub(now))
	}
	if elapsed := now.Sub(e.lastPostAt); elapsed < s.rule.interval {
		return deny(s.rule.intervalKind, s.rule.interval-elapsed)
	}
	return allow()
}

func (s *quotaStore) recordPost(key string, now time.Time) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e := sh.entry(key, now)
	e.count++
	e.lastPostAt = now
}

func (s *quotaStore) checkRetrieval(key string, now time.Time) Decision {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e := sh.entry(key, now)
	if elapsed := now.Sub(e.lastRetrievalAt); elapsed < s.retrievalInterval {
		return deny(DenyRetrievalInterval, s.retrievalInterval-elapsed)
	}
	return allow()
}

func (s *quotaStore) recordRetrieval(key string, now time.Time) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sh.entry(key, now).lastRetrievalAt = now
}

// current returns the entry for key as seen by a check at now, creating it
// if absent.
func (s *quotaStore) current(key string, now time.Time) QuotaSnapshot {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	return *sh.entry(key, now).snapshot(key)
}

// peek returns a copy of the stored entry without creating or resetting it
func (s *quotaStore) peek(key string) *QuotaSnapshot {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok {
		return nil
	}
	return e.snapshot(key)
}

func (s *quotaStore) size() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

// sweep drops stale entries one shard at a time
func (s *quotaStore) sweep(now time.Time) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, e := range sh.entries {
			if e.stale(now) {
				delete(sh.entries, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

func (s *quotaStore) reset() {
	for _, sh := range s.shards {
		sh.mu.Lock()
		sh.entries = make(map[string]*quotaEntry)
		sh.mu.Unlock()
	}
}
