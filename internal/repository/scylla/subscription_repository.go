package scylla

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"liveclass-service/internal/models"
	"liveclass-service/internal/util"
)

type subscriptionRepository struct {
	client *ScyllaClient
}

func NewSubscriptionRepository(client *ScyllaClient, logger *zap.Logger) SubscriptionRepository {
	return &subscriptionRepository{client: client}
}

func (r *subscriptionRepository) ListByUser(ctx context.Context, userID string) ([]models.Subscription, error) {
	query := r.client.Prepared.ListSubscriptionsByUser.Bind(userID).WithContext(ctx)
	iter := query.Iter()

	var subscriptions []models.Subscription
	for {
		var (
			sub              models.Subscription
			expiresAt        time.Time
			currentPeriodEnd time.Time
		)

		ok := iter.Scan(&sub.UserID, &sub.PlanID, &sub.Status,
			&expiresAt, &currentPeriodEnd, &sub.RecurringID, &sub.CreatedAt)
		if !ok {
			break
		}

		if !expiresAt.IsZero() {
			t := expiresAt
			sub.ExpiresAt = &t
		}
		if !currentPeriodEnd.IsZero() {
			t := currentPeriodEnd
			sub.CurrentPeriodEnd = &t
		}

		subscriptions = append(subscriptions, sub)
	}

	if err := iter.Close(); err != nil {
		util.Error("Failed to list subscriptions",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	return subscriptions, nil
}
