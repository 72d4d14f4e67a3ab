package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"liveclass-service/internal/models"
	"liveclass-service/internal/util"
)

type permissionRepository struct {
	client *ScyllaClient
}

func NewPermissionRepository(client *ScyllaClient, logger *zap.Logger) PermissionRepository {
	return &permissionRepository{client: client}
}

func (r *permissionRepository) ListByUser(ctx context.Context, userID string) ([]models.ModulePermission, error) {
	query := r.client.Prepared.ListPermissionsByUser.Bind(userID).WithContext(ctx)
	iter := query.Iter()

	var permissions []models.ModulePermission
	for {
		var (
			perm      models.ModulePermission
			source    string
			expiresAt time.Time
			updatedAt time.Time
		)

		ok := iter.Scan(&perm.ID, &perm.UserID, &perm.Capability,
			&perm.HasAccess, &perm.IsActive, &expiresAt,
			&source, &perm.GrantedBy, &perm.CreatedAt, &updatedAt)
		if !ok {
			break
		}

		perm.Source = models.PermissionSource(source)
		if !expiresAt.IsZero() {
			t := expiresAt
			perm.ExpiresAt = &t
		}
		if !updatedAt.IsZero() {
			t := updatedAt
			perm.UpdatedAt = &t
		}

		permissions = append(permissions, perm)
	}

	if err := iter.Close(); err != nil {
		util.Error("Failed to list permissions",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}

	return permissions, nil
}

func (r *permissionRepository) ListActiveByUser(ctx context.Context, userID string) ([]models.ModulePermission, error) {
	all, err := r.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	active := all[:0:0]
	for _, perm := range all {
		if perm.IsActive {
			active = append(active, perm)
		}
	}
	return active, nil
}

// Grant writes the new record and deactivates any prior active record
// for the same (user, capability) in one logged batch, keeping the
// one-active-record invariant without deleting history.
func (r *permissionRepository) Grant(ctx context.Context, permission *models.ModulePermission) error {
	if permission.ID == "" {
		permission.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	permission.CreatedAt = now
	permission.IsActive = true

	existing, err := r.ListActiveByUser(ctx, permission.UserID)
	if err != nil {
		return fmt.Errorf("failed to load existing permissions: %w", err)
	}

	batch := r.client.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)

	for _, prior := range existing {
		if prior.Capability == permission.Capability && prior.ID != permission.ID {
			batch.Query(r.client.Prepared.DeactivatePermission.Statement(),
				false, now, prior.UserID, prior.Capability, prior.ID)
		}
	}

	batch.Query(r.client.Prepared.InsertPermission.Statement(),
		permission.UserID, permission.Capability, permission.ID,
		permission.HasAccess, permission.IsActive, permission.ExpiresAt,
		string(permission.Source), permission.GrantedBy,
		permission.CreatedAt, permission.UpdatedAt)

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to grant permission",
			zap.String("user_id", permission.UserID),
			zap.String("capability", permission.Capability),
			zap.Error(err))
		return fmt.Errorf("failed to grant permission: %w", err)
	}

	util.Info("Permission granted",
		zap.String("user_id", permission.UserID),
		zap.String("capability", permission.Capability),
		zap.String("source", string(permission.Source)),
		zap.String("granted_by", permission.GrantedBy))

	return nil
}

func (r *permissionRepository) Revoke(ctx context.Context, userID, capability, revokedBy string) error {
	existing, err := r.ListActiveByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load existing permissions: %w", err)
	}

	now := time.Now().UTC()
	revoked := 0

	batch := r.client.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	for _, perm := range existing {
		if perm.Capability == capability {
			batch.Query(r.client.Prepared.DeactivatePermission.Statement(),
				false, now, perm.UserID, perm.Capability, perm.ID)
			revoked++
		}
	}

	if revoked == 0 {
		return fmt.Errorf("permission %s for user %s: %w", capability, userID, ErrNotFound)
	}

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to revoke permission",
			zap.String("user_id", userID),
			zap.String("capability", capability),
			zap.Error(err))
		return fmt.Errorf("failed to revoke permission: %w", err)
	}

	util.Info("Permission revoked",
		zap.String("user_id", userID),
		zap.String("capability", capability),
		zap.String("revoked_by", revokedBy))

	return nil
}
