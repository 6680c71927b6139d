package ratelimit

import (
	"context"
	"sync"
	"time"
)

const defaultSweepInterval = time.Minute

type windowEntry struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter keeps windows in process memory. Counts are lost on restart and
// are not shared between replicas.
type MemoryLimiter struct {
	mu        sync.Mutex
	clock     func() time.Time
	entries   map[string]windowEntry
	lastSweep time.Time
}

// NewMemoryLimiter constructs an in-process limiter. A nil clock uses time.Now.
func NewMemoryLimiter(clock func() time.Time) *MemoryLimiter {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryLimiter{
		clock:   clock,
		entries: map[string]windowEntry{},
	}
}

func (l *MemoryLimiter) CheckAndConsume(_ context.Context, subject string, policy Policy) (Decision, error) {
	if err := policy.validate(); err != nil {
		return Decision{}, err
	}
	now := l.clock()
	key := policy.key(subject)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweepLocked(now)

	entry, ok := l.entries[key]
	if !ok || !now.Before(entry.resetAt) {
		entry = windowEntry{count: 1, resetAt: now.Add(policy.Window)}
		l.entries[key] = entry
		return Decision{Allowed: true, Remaining: policy.MaxAttempts - 1, ResetAt: entry.resetAt}, nil
	}
	if entry.count >= policy.MaxAttempts {
		return Decision{Allowed: false, Remaining: 0, ResetAt: entry.resetAt}, nil
	}
	entry.count++
	l.entries[key] = entry
	return Decision{Allowed: true, Remaining: policy.MaxAttempts - entry.count, ResetAt: entry.resetAt}, nil
}

func (l *MemoryLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < defaultSweepInterval {
		return
	}
	l.lastSweep = now
	for key, entry := range l.entries {
		if !now.Before(entry.resetAt) {
			delete(l.entries, key)
		}
	}
}

// Len returns the number of tracked windows.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
