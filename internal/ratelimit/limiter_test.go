package ratelimit

import (
	"context"
	"testing"
)

// A nil Limiter is the "rate limiting off" configuration; every operation
// must be a safe no-op that allows traffic.
func TestNilLimiter(t *testing.T) {
	var l *Limiter
	ctx := context.Background()

	if !l.Allow(ctx, "conn-1", RuleJoin) {
		t.Error("nil limiter must allow joins")
	}
	if !l.Allow(ctx, "conn-1", RuleChat) {
		t.Error("nil limiter must allow chat")
	}
	l.Reset(ctx, "conn-1")
	if err := l.Close(); err != nil {
		t.Errorf("nil limiter Close: %v", err)
	}
}

func TestNewLimiter_UnreachableRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping connection-timeout test in short mode")
	}
	if _, err := NewLimiter("127.0.0.1:1"); err == nil {
		t.Fatal("expected an error for an unreachable Redis")
	}
}
