package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"liveclass-service/internal/client"
	"liveclass-service/internal/util"
)

const consumedTokenPrefix = "consumed_token:"

// ReplayCache is the shared consumed-token set for single-use access
// tokens. It makes the replay guard correct across instances: the first
// redemption of a token id wins everywhere, entries expire with the
// token itself.
type ReplayCache struct {
	client *client.RedisClient
}

func NewReplayCache(client *client.RedisClient) *ReplayCache {
	return &ReplayCache{client: client}
}

// Consume records tokenID as used. It returns false when the id was
// already consumed.
func (c *ReplayCache) Consume(tokenID string, ttl time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := consumedTokenPrefix + tokenID

	first, err := c.client.SetNX(ctx, key, "1", ttl)
	if err != nil {
		util.Error("Failed to record consumed token",
			zap.String("token_id", tokenID),
			zap.Error(err))
		return false, fmt.Errorf("failed to record consumed token: %w", err)
	}

	if !first {
		util.Warn("Replayed access token rejected", zap.String("token_id", tokenID))
	}

	return first, nil
}
