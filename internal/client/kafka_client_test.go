package client

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsBenignWriteError(t *testing.T) {
	assert.False(t, isBenignWriteError(nil))

	// Missing-topic responses on a zero-message write do not mean the
	// broker is down.
	assert.True(t, isBenignWriteError(errors.New("[3] Unknown Topic Or Partition: unknown topic or partition")))
	assert.True(t, isBenignWriteError(errors.New("[5] Leader Not Available: leader not available")))

	// An unreachable broker must fail the health check.
	assert.False(t, isBenignWriteError(errors.New("dial tcp 127.0.0.1:9092: connect: connection refused")))
	assert.False(t, isBenignWriteError(errors.New("context deadline exceeded")))
}
