package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"liveclass-service/internal/models"
	"liveclass-service/internal/util"
)

type userRepository struct {
	client *ScyllaClient
}

func NewUserRepository(client *ScyllaClient, logger *zap.Logger) UserRepository {
	return &userRepository{client: client}
}

func (r *userRepository) GetByID(ctx context.Context, userID string) (*models.User, error) {
	var (
		user      models.User
		role      string
		updatedAt time.Time
	)

	query := r.client.Prepared.GetUserByID.Bind(userID).WithContext(ctx)

	err := r.client.ScanWithRetry(query,
		&user.UserID, &role, &user.Status, &user.AccessOverride,
		&user.CreatedAt, &updatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		util.Error("Failed to get user by ID",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}

	user.Role = models.Role(role)
	if !updatedAt.IsZero() {
		t := updatedAt
		user.UpdatedAt = &t
	}

	return &user, nil
}
