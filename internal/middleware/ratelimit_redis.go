package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrWindow bumps the counter at KEYS[1], arming its expiry on the first
// hit, and replies {count, pttl}.
var incrWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`)

var errUnexpectedReply = errors.New("unexpected rate limit script reply")

// RedisRateLimitStore shares fixed windows across API instances. Redis
// errors admit the request with the full quota.
type RedisRateLimitStore struct {
	client  redis.UniversalClient
	prefix  string
	metrics *Metrics
}

func NewRedisRateLimitStore(client redis.UniversalClient) *RedisRateLimitStore {
	return &RedisRateLimitStore{client: client, prefix: "scanara:ratelimit:"}
}

// WithMetrics counts fail-open decisions on m.
func (s *RedisRateLimitStore) WithMetrics(m *Metrics) *RedisRateLimitStore {
	s.metrics = m
	return s
}

func (s *RedisRateLimitStore) Allow(ctx context.Context, key string, q Quota) Decision {
	reply, err := incrWindow.Run(ctx, s.client, []string{s.prefix + key}, q.Window.Milliseconds()).Int64Slice()
	if err == nil && len(reply) != 2 {
		err = errUnexpectedReply
	}
	if err != nil {
		s.metrics.IncRateLimitRedisErrors()
		slog.WarnContext(ctx, "rate limit store unavailable, admitting request", "error", err)
		return Decision{Allowed: true, Remaining: q.Limit}
	}

	used := int(reply[0])
	if used <= q.Limit {
		return admit(q, used)
	}
	ttl := time.Duration(reply[1]) * time.Millisecond
	if ttl <= 0 {
		ttl = q.Window
	}
	return refuse(ttl)
}
