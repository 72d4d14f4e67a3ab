package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"liveclass-service/internal/models"
)

var (
	ErrTokenInvalid  = errors.New("access token invalid")
	ErrTokenExpired  = errors.New("access token expired")
	ErrTokenReplayed = errors.New("access token already used")
)

// Claims binds an access token to a session, a user, and a role. The
// jti (RegisteredClaims.ID) keys the replay guard for single-use tokens.
type Claims struct {
	SessionID string `json:"sid"`
	UserID    string `json:"uid"`
	Role      string `json:"role"`
	SingleUse bool   `json:"single_use,omitempty"`
	jwt.RegisteredClaims
}

// ReplayGuard records consumed token ids. Consume returns false when the
// id was seen before. The in-process implementation lives in this
// package; a Redis-backed one covers multi-instance deployments.
type ReplayGuard interface {
	Consume(tokenID string, ttl time.Duration) (bool, error)
}

// Issuer mints and validates signed access tokens. Expiry is enforced
// by the signature: the exp claim is covered by the HMAC, so a client
// cannot stretch its own lifetime.
type Issuer struct {
	secret     []byte
	defaultTTL time.Duration
	guard      ReplayGuard
}

func NewIssuer(secret []byte, defaultTTL time.Duration, guard ReplayGuard) *Issuer {
	return &Issuer{
		secret:     secret,
		defaultTTL: defaultTTL,
		guard:      guard,
	}
}

// Issue mints a token for user to access session as role. A zero ttl
// uses the issuer default.
func (i *Issuer) Issue(sessionID, userID string, role models.Role, ttl time.Duration, singleUse bool) (string, error) {
	if ttl <= 0 {
		ttl = i.defaultTTL
	}
	now := time.Now()

	claims := Claims{
		SessionID: sessionID,
		UserID:    userID,
		Role:      string(role),
		SingleUse: singleUse,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// Validate checks signature and expiry, then the replay guard for
// single-use tokens. A successful validation of a single-use token
// consumes it: the second call with the same token fails with
// ErrTokenReplayed.
func (i *Issuer) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}

	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !parsed.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.SingleUse {
		remaining := time.Until(claims.ExpiresAt.Time)
		if remaining < time.Minute {
			remaining = time.Minute
		}
		first, err := i.guard.Consume(claims.ID, remaining)
		if err != nil {
			return nil, fmt.Errorf("replay guard check failed: %w", err)
		}
		if !first {
			return nil, ErrTokenReplayed
		}
	}

	return claims, nil
}
