package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// renewWindowScript bumps the counter of the current window and reports
// whether the caller is still within the limit together with the window's
// remaining time. The first hit in a window sets the expiry.
var renewWindowScript = redis.NewScript(`
local hits = redis.call("INCR", KEYS[1])
if hits == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
local allowed = 0
if hits <= tonumber(ARGV[2]) then
  allowed = 1
end
return {allowed, ttl}
`)

// RenewDecision is the outcome of one renew attempt against the limiter.
type RenewDecision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// RenewLimiter caps renew calls per subscription in a fixed window kept in
// Redis, so every replica shares the same budget.
type RenewLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

// NewRenewLimiter allows limit renewals per subscription per window. A
// non-positive limit disables the check.
func NewRenewLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RenewLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "subscriptions:rate_limit"
	}
	if window < time.Second {
		window = time.Second
	}
	return &RenewLimiter{client: client, prefix: prefix, limit: limit, window: window}
}

// Allow records a renew attempt on subscriptionID by userID. userID may be
// empty when the caller is not authenticated.
func (l *RenewLimiter) Allow(ctx context.Context, subscriptionID int64, userID string) (RenewDecision, error) {
	if l == nil || l.client == nil || l.limit <= 0 {
		return RenewDecision{Allowed: true}, nil
	}

	res, err := renewWindowScript.Run(ctx, l.client, []string{l.key(subscriptionID, userID)},
		l.window.Milliseconds(), l.limit).Int64Slice()
	if err != nil {
		return RenewDecision{}, fmt.Errorf("renew limiter: %w", err)
	}
	if len(res) != 2 {
		return RenewDecision{}, fmt.Errorf("renew limiter: unexpected reply of %d values", len(res))
	}

	ttl := time.Duration(res[1]) * time.Millisecond
	if ttl <= 0 {
		ttl = l.window
	}
	return RenewDecision{Allowed: res[0] == 1, RetryAfter: ttl}, nil
}

func (l *RenewLimiter) key(subscriptionID int64, userID string) string {
	id := strconv.FormatInt(subscriptionID, 10)
	if userID = strings.TrimSpace(userID); userID != "" {
		return l.prefix + ":renew:" + userID + ":" + id
	}
	return l.prefix + ":renew:" + id
}
