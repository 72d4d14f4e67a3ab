package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveclass-service/internal/models"
)

var testSecret = []byte("test-secret-at-least-32-bytes-long!")

func newTestIssuer() *Issuer {
	return NewIssuer(testSecret, 15*time.Minute, NewMemoryReplayGuard(4, 1024))
}

func TestIssueAndValidate(t *testing.T) {
	issuer := newTestIssuer()

	signed, err := issuer.Issue("sess-1", "user-1", models.RoleUser, 0, false)
	require.NoError(t, err)
	require.NotEmpty(t, signed)

	claims, err := issuer.Validate(signed)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", claims.SessionID)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, string(models.RoleUser), claims.Role)
	assert.False(t, claims.SingleUse)
	assert.NotEmpty(t, claims.ID)

	// Reusable tokens validate repeatedly.
	_, err = issuer.Validate(signed)
	assert.NoError(t, err)
}

func TestSingleUseTokenConsumedExactlyOnce(t *testing.T) {
	issuer := newTestIssuer()

	signed, err := issuer.Issue("sess-1", "user-1", models.RoleUser, 0, true)
	require.NoError(t, err)

	claims, err := issuer.Validate(signed)
	require.NoError(t, err)
	assert.True(t, claims.SingleUse)

	_, err = issuer.Validate(signed)
	assert.ErrorIs(t, err, ErrTokenReplayed)

	_, err = issuer.Validate(signed)
	assert.ErrorIs(t, err, ErrTokenReplayed)
}

func TestValidateExpiredToken(t *testing.T) {
	issuer := newTestIssuer()

	signed, err := issuer.Issue("sess-1", "user-1", models.RoleUser, time.Nanosecond, false)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	_, err = issuer.Validate(signed)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestValidateTamperedToken(t *testing.T) {
	issuer := newTestIssuer()

	signed, err := issuer.Issue("sess-1", "user-1", models.RoleUser, 0, false)
	require.NoError(t, err)

	tampered := signed[:len(signed)-4] + "AAAA"
	_, err = issuer.Validate(tampered)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestValidateWrongSecret(t *testing.T) {
	issuer := newTestIssuer()
	other := NewIssuer([]byte("a-completely-different-secret-key!!"), 15*time.Minute, NewMemoryReplayGuard(1, 16))

	signed, err := other.Issue("sess-1", "user-1", models.RoleUser, 0, false)
	require.NoError(t, err)

	_, err = issuer.Validate(signed)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestValidateGarbage(t *testing.T) {
	issuer := newTestIssuer()

	for _, input := range []string{"", "not-a-token", "a.b.c"} {
		_, err := issuer.Validate(input)
		assert.ErrorIs(t, err, ErrTokenInvalid, "input %q", input)
	}
}

func TestIssuedTokensHaveDistinctIDs(t *testing.T) {
	issuer := newTestIssuer()

	first, err := issuer.Issue("sess-1", "user-1", models.RoleUser, 0, true)
	require.NoError(t, err)
	second, err := issuer.Issue("sess-1", "user-1", models.RoleUser, 0, true)
	require.NoError(t, err)

	// Same session, same user: both must still redeem independently.
	_, err = issuer.Validate(first)
	require.NoError(t, err)
	_, err = issuer.Validate(second)
	require.NoError(t, err)
}
