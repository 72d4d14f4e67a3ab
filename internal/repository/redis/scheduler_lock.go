package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"liveclass-service/internal/client"
	"liveclass-service/internal/util"
)

const schedulerLockPrefix = "scheduler_lock:"

// lockKey names the (job, day) lock. The date is rendered in day's own
// location: the scheduler passes local midnight, and converting that to
// UTC would shift deployments east of UTC onto yesterday's key.
func lockKey(job string, day time.Time) string {
	return schedulerLockPrefix + job + ":" + day.Format("2006-01-02")
}

// SchedulerLockCache hands out one lock per (job, day) across all
// service instances so the daily job runs exactly once even when every
// instance fires it at the same time.
type SchedulerLockCache struct {
	client *client.RedisClient
}

func NewSchedulerLockCache(client *client.RedisClient) *SchedulerLockCache {
	return &SchedulerLockCache{client: client}
}

// Acquire takes the lock for job on day. It returns false when another
// instance already holds it. The lock expires on its own; the job never
// releases it so a crashed holder cannot trigger a duplicate run.
func (c *SchedulerLockCache) Acquire(job string, day time.Time, ttl time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := lockKey(job, day)

	acquired, err := c.client.SetNX(ctx, key, "locked", ttl)
	if err != nil {
		util.Error("Failed to acquire scheduler lock",
			zap.String("job", job),
			zap.String("key", key),
			zap.Error(err))
		return false, fmt.Errorf("failed to acquire scheduler lock: %w", err)
	}

	if acquired {
		util.Debug("Scheduler lock acquired",
			zap.String("job", job),
			zap.String("key", key),
			zap.Duration("ttl", ttl))
	}

	return acquired, nil
}
