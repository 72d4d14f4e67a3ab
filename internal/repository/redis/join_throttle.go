package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"liveclass-service/internal/client"
	"liveclass-service/internal/util"
)

const joinAttemptPrefix = "join_attempts:"

// JoinThrottle counts join attempts per user within a fixed window so a
// misbehaving client cannot hammer the policy resolver and the provider
// API.
type JoinThrottle struct {
	client *client.RedisClient
	limit  int64
	window time.Duration
}

func NewJoinThrottle(client *client.RedisClient, limit int, window time.Duration) *JoinThrottle {
	return &JoinThrottle{
		client: client,
		limit:  int64(limit),
		window: window,
	}
}

// Allow counts one attempt for userID and reports whether the user is
// still under the window limit. Redis failures fail open: throttling is
// protection, not policy.
func (t *JoinThrottle) Allow(userID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := joinAttemptPrefix + userID

	count, err := t.client.IncrWithExpire(ctx, key, t.window)
	if err != nil {
		util.Warn("Join throttle check failed, allowing request",
			zap.String("user_id", userID),
			zap.Error(err))
		return true
	}

	if count > t.limit {
		util.Warn("Join attempts throttled",
			zap.String("user_id", userID),
			zap.Int64("count", count),
			zap.Int64("limit", t.limit))
		return false
	}

	return true
}

// Remaining reports how many attempts the user has left in the current
// window, for surfacing in rate-limit response headers.
func (t *JoinThrottle) Remaining(userID string) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := joinAttemptPrefix + userID

	val, err := t.client.Get(ctx, key)
	if err != nil {
		if err.Error() == fmt.Sprintf("key not found: %s", key) {
			return t.limit, nil
		}
		return 0, fmt.Errorf("failed to read join attempts: %w", err)
	}

	var count int64
	if _, err := fmt.Sscanf(val, "%d", &count); err != nil {
		return 0, fmt.Errorf("failed to parse join attempts: %w", err)
	}

	remaining := t.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
