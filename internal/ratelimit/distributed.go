package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	apperrors "keyword-engine/internal/common/errors"
)

// admitScript performs the multi-window check-and-increment server-side so
// the whole admission is one atomic step even across processes. KEYS holds
// one counter per limited window; ARGV holds the matching limits followed
// by the matching TTLs in milliseconds. A denial touches no counter.
var admitScript = redis.NewScript(`
local n = #KEYS
for i = 1, n do
	local count = tonumber(redis.call('GET', KEYS[i]) or '0')
	if count >= tonumber(ARGV[i]) then
		return {0, i, 0}
	end
end
local remaining = -1
local binding = 1
for i = 1, n do
	local count = redis.call('INCR', KEYS[i])
	if count == 1 then
		redis.call('PEXPIRE', KEYS[i], tonumber(ARGV[n + i]))
	end
	local left = tonumber(ARGV[i]) - count
	if remaining == -1 or left < remaining then
		remaining = left
		binding = i
	end
end
return {1, binding, remaining}
`)

// distributedLimiter is the Redis-backed limiter for multi-process
// deployments. Counter keys embed the window start, so rollover needs no
// coordination; stale windows expire on their own.
type distributedLimiter struct {
	client    redis.UniversalClient
	quotas    QuotaTable
	keyPrefix string
	now       func() time.Time
}

// NewDistributedLimiter creates a Redis-backed quota limiter.
func NewDistributedLimiter(client redis.UniversalClient, quotas QuotaTable, keyPrefix string, now func() time.Time) (Limiter, error) {
	if client == nil {
		return nil, apperrors.ConfigError("redis client is required for the distributed limiter")
	}
	if quotas == nil {
		quotas = DefaultQuotaTable()
	}
	if err := quotas.Validate(); err != nil {
		return nil, apperrors.ConfigError(err.Error())
	}
	if keyPrefix == "" {
		keyPrefix = "quota:"
	}
	if now == nil {
		now = time.Now
	}

	return &distributedLimiter{
		client:    client,
		quotas:    quotas,
		keyPrefix: keyPrefix,
		now:       now,
	}, nil
}

func (l *distributedLimiter) Admit(ctx context.Context, userID string, plan Plan, op OperationClass) (Decision, error) {
	if userID == "" {
		return Decision{}, apperrors.ValidationError("user id is required")
	}
	if !op.Valid() {
		return Decision{}, apperrors.ValidationError("unknown operation class").WithContext("operation_class", string(op))
	}

	plan = plan.Normalize()
	quota := l.quotas.For(plan, op)
	now := l.now()

	var (
		keys    []string
		limits  []interface{}
		ttls    []interface{}
		windows []Window
		starts  []time.Time
	)
	for _, w := range Windows() {
		limit, limited := quota[w]
		if !limited {
			continue
		}
		start := now.Truncate(w.Duration())
		keys = append(keys, l.counterKey(userID, plan, op, w, start))
		limits = append(limits, limit)
		// Keep the counter a little past its window end so Usage can still
		// observe a just-closed window while a racing admit creates the
		// next one.
		ttls = append(ttls, (w.Duration() + 5*time.Second).Milliseconds())
		windows = append(windows, w)
		starts = append(starts, start)
	}
	if len(keys) == 0 {
		return Decision{Allowed: true, Remaining: 0, ResetAt: now}, nil
	}

	args := append(limits, ttls...)
	raw, err := admitScript.Run(ctx, l.client, keys, args...).Result()
	if err != nil {
		// Fail closed: a limiter that cannot count must not admit.
		return Decision{}, apperrors.InternalError("rate limit backend unavailable", err)
	}

	res, ok := raw.([]interface{})
	if !ok || len(res) != 3 {
		return Decision{}, apperrors.InternalError("rate limit script returned unexpected shape", fmt.Errorf("%T", raw))
	}
	allowed := scriptInt(res[0]) == 1
	binding := int(scriptInt(res[1])) - 1
	remaining := int(scriptInt(res[2]))

	if binding < 0 || binding >= len(windows) {
		return Decision{}, apperrors.InternalError("rate limit script returned bad window index", fmt.Errorf("index %d", binding))
	}
	resetAt := starts[binding].Add(windows[binding].Duration())

	if !allowed {
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}
	return Decision{Allowed: true, Remaining: remaining, ResetAt: resetAt}, nil
}

func (l *distributedLimiter) Usage(ctx context.Context, userID string, plan Plan) (Usage, error) {
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

		var keys []string
		var windows []Window
		var limits []int
		var starts []time.Time
		for _, w := range Windows() {
			limit, limited := quota[w]
			if !limited {
				continue
			}
			start := now.Truncate(w.Duration())
			keys = append(keys, l.counterKey(userID, plan, op, w, start))
			windows = append(windows, w)
			limits = append(limits, limit)
			starts = append(starts, start)
		}

		values, err := l.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, apperrors.InternalError("rate limit backend unavailable", err)
		}

		byWindow := make(map[Window]WindowUsage, len(windows))
		for i, w := range windows {
			used := 0
			if s, ok := values[i].(string); ok {
				if n, err := strconv.Atoi(s); err == nil {
					used = n
				}
			}
			byWindow[w] = WindowUsage{
				Used:    used,
				Limit:   limits[i],
				ResetAt: starts[i].Add(w.Duration()),
			}
		}
		usage[op] = byWindow
	}
	return usage, nil
}

func (l *distributedLimiter) Health(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return apperrors.InternalError("rate limit backend unreachable", err)
	}
	return nil
}

func scriptInt(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	}
	return -1
}

func (l *distributedLimiter) counterKey(userID string, plan Plan, op OperationClass, w Window, start time.Time) string {
	return fmt.Sprintf("%s%s|%s|%s|%s|%d", l.keyPrefix, userID, plan, op, w, start.Unix())
}
