package token

import (
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"

	"liveclass-service/internal/util"
)

// MemoryReplayGuard is the process-local consumed-token set. Token ids
// hash onto shards so redemption bursts contend on different mutexes.
// Each shard prunes expired entries when it grows past its cap, and
// clears outright if pruning is not enough; after such a clear other
// already-used tokens could validate again on this instance, though the
// id that triggered the clear is always kept. Deployments with more
// than one instance use the Redis-backed guard instead.
type MemoryReplayGuard struct {
	shards []replayShard
	cap    int
}

type replayShard struct {
	mu      sync.Mutex
	entries map[string]time.Time // token id -> expiry
}

func NewMemoryReplayGuard(shardCount, maxPerShard int) *MemoryReplayGuard {
	if shardCount < 1 {
		shardCount = 1
	}
	if maxPerShard < 1 {
		maxPerShard = 1024
	}

	guard := &MemoryReplayGuard{
		shards: make([]replayShard, shardCount),
		cap:    maxPerShard,
	}
	for i := range guard.shards {
		guard.shards[i].entries = make(map[string]time.Time)
	}
	return guard
}

// Consume records tokenID and returns false if it was already recorded
// and has not expired.
func (g *MemoryReplayGuard) Consume(tokenID string, ttl time.Duration) (bool, error) {
	shard := &g.shards[g.shardFor(tokenID)]
	now := time.Now()

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if expiry, seen := shard.entries[tokenID]; seen && now.Before(expiry) {
		return false, nil
	}

	shard.entries[tokenID] = now.Add(ttl)

	if len(shard.entries) > g.cap {
		g.pruneShard(shard, now)
		// A wholesale clear must not forget the id we are about to
		// report as consumed.
		shard.entries[tokenID] = now.Add(ttl)
	}

	return true, nil
}

func (g *MemoryReplayGuard) shardFor(tokenID string) int {
	return int(murmur3.Sum32([]byte(tokenID)) % uint32(len(g.shards)))
}

// pruneShard drops expired entries; if the shard is still over cap it
// is cleared entirely, trading a possible replay false negative for
// bounded memory. Caller holds the shard mutex.
func (g *MemoryReplayGuard) pruneShard(shard *replayShard, now time.Time) {
	for id, expiry := range shard.entries {
		if now.After(expiry) {
			delete(shard.entries, id)
		}
	}

	if len(shard.entries) > g.cap {
		util.Warn("Replay guard shard cleared under pressure",
			zap.Int("entries_dropped", len(shard.entries)),
			zap.Int("shard_cap", g.cap))
		shard.entries = make(map[string]time.Time)
	}
}

// Size reports the total number of live entries, for metrics endpoints.
func (g *MemoryReplayGuard) Size() int {
	total := 0
	for i := range g.shards {
		g.shards[i].mu.Lock()
		total += len(g.shards[i].entries)
		g.shards[i].mu.Unlock()
	}
	return total
}
