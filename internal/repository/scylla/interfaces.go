package scylla

import (
	"context"
	"errors"
	"time"

	"liveclass-service/internal/models"
)

var ErrNotFound = errors.New("record not found")

// SessionRepository is the durable session registry. Status changes go
// through CompareAndSetStatus only, so a late or duplicate trigger can
// never regress a session that already moved on.
type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	GetByID(ctx context.Context, id string) (*models.Session, error)
	GetByProviderRoomID(ctx context.Context, roomID string) (*models.Session, error)
	ListByStatus(ctx context.Context, status models.SessionStatus) ([]*models.Session, error)
	ListByType(ctx context.Context, sessionType models.SessionType) ([]*models.Session, error)

	// CompareAndSetStatus applies expected -> next conditionally and
	// returns whether the write was applied plus the status observed at
	// decision time.
	CompareAndSetStatus(ctx context.Context, id string, expected, next models.SessionStatus, at time.Time) (bool, models.SessionStatus, error)

	AddParticipant(ctx context.Context, id, userID string) error
	RemoveParticipant(ctx context.Context, id, userID string) error
	AddAttendee(ctx context.Context, id, userID string) error
	SetLocked(ctx context.Context, id string, locked bool) error
	SetStartedAt(ctx context.Context, id string, at time.Time) error
	SetEndedAt(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, session *models.Session) error
}

type UserRepository interface {
	GetByID(ctx context.Context, userID string) (*models.User, error)
}

// SubscriptionRepository reads the subscription ledger. Records come
// back as stored; expiry interpretation (grace buffer, recurring rule)
// belongs to the policy layer.
type SubscriptionRepository interface {
	ListByUser(ctx context.Context, userID string) ([]models.Subscription, error)
}

type PermissionRepository interface {
	ListByUser(ctx context.Context, userID string) ([]models.ModulePermission, error)
	ListActiveByUser(ctx context.Context, userID string) ([]models.ModulePermission, error)

	// Grant inserts a new active permission and deactivates any prior
	// active record for the same (user, capability) pair.
	Grant(ctx context.Context, permission *models.ModulePermission) error
	Revoke(ctx context.Context, userID, capability, revokedBy string) error
}
