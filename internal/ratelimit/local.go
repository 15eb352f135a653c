package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	apperrors "keyword-engine/internal/common/errors"
)

const localShards = 32

// windowCounter tracks one fixed window for one (user, plan, class) tuple.
// When the clock passes windowStart+length the counter is logically zero;
// rollover happens lazily on the next touch.
type windowCounter struct {
	windowStart time.Time
	count       int
}

func (c *windowCounter) current(now time.Time, length time.Duration) int {
	if now.Sub(c.windowStart) >= length {
		return 0
	}
	return c.count
}

type localShard struct {
	mu       sync.Mutex
	counters map[string]*windowCounter
}

// localLimiter is the in-process backend. Counters for all windows of a
// (user, class) pair live in the same shard, so one shard lock makes the
// whole multi-window check-and-increment atomic without a process-wide
// lock serializing unrelated users.
type localLimiter struct {
	quotas QuotaTable
	now    func() time.Time
	shards [localShards]*localShard
}

// NewLocalLimiter creates an in-process quota limiter.
func NewLocalLimiter(quotas QuotaTable, now func() time.Time) (Limiter, error) {
	if quotas == nil {
		quotas = DefaultQuotaTable()
	}
	if err := quotas.Validate(); err != nil {
		return nil, apperrors.ConfigError(err.Error())
	}
	if now == nil {
		now = time.Now
	}

	l := &localLimiter{quotas: quotas, now: now}
	for i := range l.shards {
		l.shards[i] = &localShard{counters: make(map[string]*windowCounter)}
	}
	return l, nil
}

func (l *localLimiter) Admit(ctx context.Context, userID string, plan Plan, op OperationClass) (Decision, error) {
	if userID == "" {
		return Decision{}, apperrors.ValidationError("user id is required")
	}
	if !op.Valid() {
		return Decision{}, apperrors.ValidationError("unknown operation class").WithContext("operation_class", string(op))
	}

	plan = plan.Normalize()
	quota := l.quotas.For(plan, op)
	now := l.now()

	shard := l.shardFor(userID, op)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	// First pass: check every limited window. Any full window denies the
	// whole request before a single counter moves.
	for _, w := range Windows() {
		limit, limited := quota[w]
		if !limited {
			continue
		}
		start := now.Truncate(w.Duration())
		c := shard.counter(counterKey(userID, plan, op, w), start)
		if c.current(now, w.Duration()) >= limit {
			return Decision{Allowed: false, Remaining: 0, ResetAt: start.Add(w.Duration())}, nil
		}
	}

	// Second pass: all windows admit; count the request in each. Still
	// under the shard lock, so no concurrent admit interleaves.
	remaining := -1
	var resetAt time.Time
	for _, w := range Windows() {
		limit, limited := quota[w]
		if !limited {
			continue
		}
		start := now.Truncate(w.Duration())
		c := shard.counter(counterKey(userID, plan, op, w), start)
		if now.Sub(c.windowStart) >= w.Duration() {
			c.windowStart = start
			c.count = 0
		}
		c.count++

		if left := limit - c.count; remaining == -1 || left < remaining {
			remaining = left
			resetAt = start.Add(w.Duration())
		}
	}
	if remaining == -1 {
		// Quota has no limited windows at all; nothing to count against.
		return Decision{Allowed: true, Remaining: 0, ResetAt: now}, nil
	}
	return Decision{Allowed: true, Remaining: remaining, ResetAt: resetAt}, nil
}

func (l *localLimiter) Usage(ctx context.Context, userID string, plan Plan) (Usage, error) {
	if userID == "" {
		return nil, apperrors.ValidationError("user id is required")
	}

	plan = plan.Normalize()
	now := l.now()
	usage := make(Usage)

	for _, op := range []OperationClass{OpGeneration, OpEnrichment, OpRead} {
		quota := l.quotas.For(plan, op)
		if len(quota) == 0 {
			continue
		}

		shard := l.shardFor(userID, op)
		shard.mu.Lock()
		byWindow := make(map[Window]WindowUsage, len(quota))
		for _, w := range Windows() {
			limit, limited := quota[w]
			if !limited {
				continue
			}
			start := now.Truncate(w.Duration())
			used := 0
			if c, ok := shard.counters[counterKey(userID, plan, op, w)]; ok {
				used = c.current(now, w.Duration())
			}
			byWindow[w] = WindowUsage{Used: used, Limit: limit, ResetAt: start.Add(w.Duration())}
		}
		shard.mu.Unlock()
		usage[op] = byWindow
	}
	return usage, nil
}

func (l *localLimiter) Health(ctx context.Context) error {
	return nil
}

func (l *localLimiter) shardFor(userID string, op OperationClass) *localShard {
	h := fnv.New32a()
	h.Write([]byte(userID))
	h.Write([]byte{'|'})
	h.Write([]byte(op))
	return l.shards[h.Sum32()%localShards]
}

// counter returns the live counter for a key, resetting it in place when
// its window has rolled over. Caller holds the shard lock.
func (s *localShard) counter(key string, windowStart time.Time) *windowCounter {
	c, ok := s.counters[key]
	if !ok {
		c = &windowCounter{windowStart: windowStart}
		s.counters[key] = c
	}
	return c
}

func counterKey(userID string, plan Plan, op OperationClass, w Window) string {
	return userID + "|" + string(plan) + "|" + string(op) + "|" + string(w)
}
