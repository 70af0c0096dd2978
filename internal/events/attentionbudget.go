package events

import (
	"sync"
	"time"
)

// dayBucket tracks how many times a scope has consumed attention budget
// during a single UTC calendar day.
type dayBucket struct {
	day   string
	count int
}

// AttentionBudget caps how many times a given scope (the rules engine uses
// rule ID plus subject) may be consumed per UTC day. Once the limit is
// reached, the caller (the rules engine) skips the rule with reason
// attention_budget_exceeded; AttentionBudget only tracks and reports
// exhaustion.
type AttentionBudget struct {
	mu      sync.Mutex
	buckets map[string]*dayBucket
	now     func() time.Time
}

// NewAttentionBudget returns a budget tracker using the real wall clock.
func NewAttentionBudget() *AttentionBudget {
	return &AttentionBudget{
		buckets: make(map[string]*dayBucket),
		now:     time.Now,
	}
}

// currentDay returns today's bucket key in UTC, e.g. "2026-07-31".
func (b *AttentionBudget) currentDay() string {
	return b.now().UTC().Format("2006-01-02")
}

// Consume records one unit of attention spend for scope and reports
// whether the scope is still within limit (limit <= 0 means unlimited).
// It always records the spend, even once the limit is exceeded, so
// callers can observe how far over budget a scope has gone.
func (b *AttentionBudget) Consume(scope string, limit int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	today := b.currentDay()
	bucket, ok := b.buckets[scope]
	if !ok || bucket.day != today {
		bucket = &dayBucket{day: today}
		b.buckets[scope] = bucket
	}
	bucket.count++

	if limit <= 0 {
		return true
	}
	return bucket.count <= limit
}

// Remaining reports how many units scope may still consume today. Returns
// -1 for an unlimited (limit <= 0) scope.
func (b *AttentionBudget) Remaining(scope string, limit int) int {
	if limit <= 0 {
		return -1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	today := b.currentDay()
	bucket, ok := b.buckets[scope]
	if !ok || bucket.day != today {
		return limit
	}
	remaining := limit - bucket.count
	if remaining < 0 {
		return 0
	}
	return remaining
}
