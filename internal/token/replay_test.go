package token

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumeFirstUseOnly(t *testing.T) {
	guard := NewMemoryReplayGuard(4, 1024)

	first, err := guard.Consume("jti-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := guard.Consume("jti-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, second)
}

func TestConsumeExpiredEntryIsReusable(t *testing.T) {
	guard := NewMemoryReplayGuard(1, 16)

	first, err := guard.Consume("jti-1", time.Millisecond)
	require.NoError(t, err)
	require.True(t, first)

	time.Sleep(5 * time.Millisecond)

	// The entry expired; consuming again succeeds.
	again, err := guard.Consume("jti-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, again)
}

func TestPruneDropsExpiredEntriesUnderPressure(t *testing.T) {
	guard := NewMemoryReplayGuard(1, 10)

	for i := 0; i < 10; i++ {
		first, err := guard.Consume(fmt.Sprintf("old-%d", i), time.Millisecond)
		require.NoError(t, err)
		require.True(t, first)
	}
	time.Sleep(5 * time.Millisecond)

	// The 11th insert pushes the shard over cap and prunes the expired
	// entries away.
	first, err := guard.Consume("fresh", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)
	assert.Equal(t, 1, guard.Size())
}

func TestClearWhenPruningIsNotEnough(t *testing.T) {
	guard := NewMemoryReplayGuard(1, 5)

	for i := 0; i < 6; i++ {
		first, err := guard.Consume(fmt.Sprintf("live-%d", i), time.Hour)
		require.NoError(t, err)
		require.True(t, first)
	}

	// Every entry was still live, so the shard was cleared outright —
	// except for the id that triggered the clear, which stays recorded.
	assert.Equal(t, 1, guard.Size())
}

func TestClearKeepsTheIdJustConsumed(t *testing.T) {
	guard := NewMemoryReplayGuard(1, 5)

	for i := 0; i < 5; i++ {
		first, err := guard.Consume(fmt.Sprintf("live-%d", i), time.Hour)
		require.NoError(t, err)
		require.True(t, first)
	}

	// The 6th id pushes the shard over cap with nothing expired to
	// prune. The resulting clear must not re-admit that same id.
	first, err := guard.Consume("over-cap", time.Hour)
	require.NoError(t, err)
	require.True(t, first)

	again, err := guard.Consume("over-cap", time.Hour)
	require.NoError(t, err)
	assert.False(t, again, "the id that triggered the clear is still consumed")
}

func TestConsumeConcurrent(t *testing.T) {
	guard := NewMemoryReplayGuard(8, 4096)

	const goroutines = 16
	var wg sync.WaitGroup
	var firsts int64
	var mu sync.Mutex

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			first, err := guard.Consume("contended", time.Minute)
			assert.NoError(t, err)
			if first {
				mu.Lock()
				firsts++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), firsts, "exactly one goroutine wins the token")
}
