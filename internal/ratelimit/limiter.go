// Package ratelimit provides Redis-backed rate limiting using the INCR +
// EXPIRE sliding window algorithm. The signaling server uses it to throttle
// join requests and chat messages per connection. Rate limiting is an
// optional protection: when no Redis address is configured the server runs
// without it, and on Redis errors the limiter fails open so an outage never
// blocks legitimate traffic.
package ratelimit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number
// of requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix (e.g., "rl:join:", "rl:chat:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// Standard rate limiting rules.
var (
	// RuleJoin allows 10 join/next-partner requests per 30 seconds per
	// connection, enough for impatient cycling but not for queue flooding.
	RuleJoin = Rule{Key: "rl:join:", Limit: 10, Window: 30 * time.Second}

	// RuleChat allows 10 chat messages per 10 seconds per connection.
	RuleChat = Rule{Key: "rl:chat:", Limit: 10, Window: 10 * time.Second}
)

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
}

// NewLimiter connects to Redis at addr and returns a Limiter, or an error if
// the instance is unreachable.
func NewLimiter(addr string) (*Limiter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ratelimit: redis connection failed: %w", err)
	}
	return &Limiter{client: client}, nil
}

// Allow checks whether the given identifier is within the rate limit defined
// by rule. It increments the counter in Redis and sets the expiry on first
// access.
//
// Returns true if the request is allowed, false if rate limited. On Redis
// errors the method fails open (returns true). A nil Limiter always allows.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) bool {
	if l == nil {
		return true
	}
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("ratelimit: redis INCR error key=%s: %v (failing open)", key, err)
		return true
	}

	// On the first increment, set the expiry to define the window boundary.
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Printf("ratelimit: redis EXPIRE error key=%s: %v", key, err)
		}
	}

	return count <= int64(rule.Limit)
}

// Reset clears the counters for an identifier, used when its connection goes
// away so keys do not linger for the full window.
func (l *Limiter) Reset(ctx context.Context, identifier string) {
	if l == nil {
		return
	}
	if err := l.client.Del(ctx, RuleJoin.Key+identifier, RuleChat.Key+identifier).Err(); err != nil {
		log.Printf("ratelimit: redis DEL error id=%s: %v", identifier, err)
	}
}

// Close closes the Redis connection. Safe on a nil Limiter.
func (l *Limiter) Close() error {
	if l == nil {
		return nil
	}
	return l.client.Close()
}
