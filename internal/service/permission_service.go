package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"liveclass-service/internal/models"
	"liveclass-service/internal/policy"
	"liveclass-service/internal/repository/scylla"
	"liveclass-service/internal/util"
)

// PermissionService manages per-capability access grants and answers
// ad hoc "can this user do that" queries for the admin surface.
type PermissionService struct {
	users    scylla.UserRepository
	subs     scylla.SubscriptionRepository
	perms    scylla.PermissionRepository
	resolver *policy.Resolver
	logger   *zap.Logger
}

func NewPermissionService(
	users scylla.UserRepository,
	subs scylla.SubscriptionRepository,
	perms scylla.PermissionRepository,
	resolver *policy.Resolver,
	logger *zap.Logger,
) *PermissionService {
	return &PermissionService{
		users:    users,
		subs:     subs,
		perms:    perms,
		resolver: resolver,
		logger:   logger,
	}
}

type GrantRequest struct {
	UserID     string                  `json:"user_id"`
	Capability string                  `json:"capability"`
	ExpiresAt  *time.Time              `json:"expires_at,omitempty"`
	Source     models.PermissionSource `json:"source"`
	GrantedBy  string                  `json:"granted_by"`
}

func (r GrantRequest) validate() error {
	if r.UserID == "" || r.Capability == "" {
		return fmt.Errorf("%w: user_id and capability are required", ErrInvalidInput)
	}
	switch r.Source {
	case models.PermissionSourceManual, models.PermissionSourceEvent, models.PermissionSourceSubscription:
	case "":
		return fmt.Errorf("%w: source is required", ErrInvalidInput)
	default:
		return fmt.Errorf("%w: unknown source %q", ErrInvalidInput, r.Source)
	}
	return nil
}

// Grant creates a new active permission; any prior active record for
// the same (user, capability) is deactivated by the repository.
func (s *PermissionService) Grant(ctx context.Context, req GrantRequest) (*models.ModulePermission, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	if _, err := s.users.GetByID(ctx, req.UserID); err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUserNotFound, req.UserID)
		}
		return nil, err
	}

	permission := &models.ModulePermission{
		UserID:     req.UserID,
		Capability: req.Capability,
		HasAccess:  true,
		ExpiresAt:  req.ExpiresAt,
		Source:     req.Source,
		GrantedBy:  req.GrantedBy,
	}

	if err := s.perms.Grant(ctx, permission); err != nil {
		return nil, err
	}
	return permission, nil
}

func (s *PermissionService) Revoke(ctx context.Context, userID, capability, revokedBy string) error {
	err := s.perms.Revoke(ctx, userID, capability, revokedBy)
	if errors.Is(err, scylla.ErrNotFound) {
		return fmt.Errorf("%w: no active %s permission for %s", ErrPermissionNotFound, capability, userID)
	}
	return err
}

func (s *PermissionService) ListForUser(ctx context.Context, userID string) ([]models.ModulePermission, error) {
	return s.perms.ListByUser(ctx, userID)
}

// BatchItemError reports one failed grant within a batch.
type BatchItemError struct {
	UserID string `json:"user_id"`
	Error  string `json:"error"`
}

type BatchGrantResult struct {
	Granted int              `json:"granted"`
	Errors  []BatchItemError `json:"errors,omitempty"`
}

// BatchGrant applies every grant it can, collecting per-item failures
// instead of aborting. At most eight grants run concurrently.
func (s *PermissionService) BatchGrant(ctx context.Context, requests []GrantRequest) *BatchGrantResult {
	result := &BatchGrantResult{}
	var mu sync.Mutex

	g := &errgroup.Group{}
	g.SetLimit(8)

	for _, req := range requests {
		req := req
		g.Go(func() error {
			_, err := s.Grant(ctx, req)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors = append(result.Errors, BatchItemError{
					UserID: req.UserID,
					Error:  err.Error(),
				})
			} else {
				result.Granted++
			}
			return nil
		})
	}

	_ = g.Wait()

	util.Info("Batch grant completed",
		zap.Int("requested", len(requests)),
		zap.Int("granted", result.Granted),
		zap.Int("failed", len(result.Errors)))

	return result
}

// Check evaluates the access policy for a user and capability outside
// any session context, surfacing the same decision the join path uses.
func (s *PermissionService) Check(ctx context.Context, userID, capability string) (policy.Decision, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			return policy.Decision{}, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		return policy.Decision{}, err
	}

	subs, err := s.subs.ListByUser(ctx, userID)
	if err != nil {
		return policy.Decision{}, err
	}
	user.Subscriptions = subs

	permissions, err := s.perms.ListActiveByUser(ctx, userID)
	if err != nil {
		return policy.Decision{}, err
	}

	return s.resolver.Resolve(user, permissions, capability, nil, time.Now()), nil
}
