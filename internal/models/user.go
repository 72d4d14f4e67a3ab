package models

import "time"

type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super-admin"
)

func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

type User struct {
	UserID         string     `db:"user_id"`
	Role           Role       `db:"role"`
	Status         string     `db:"status"`
	AccessOverride bool       `db:"access_override"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      *time.Time `db:"updated_at"`

	// Populated by the subscription repository, not stored on the user row.
	Subscriptions []Subscription `db:"-"`
}

const UserStatusActive = "active"

// Subscription is one plan grant for a user. Recurring subscriptions
// (RecurringID set) are governed solely by CurrentPeriodEnd; ExpiresAt
// is authoritative only for one-off grants.
type Subscription struct {
	UserID           string     `db:"user_id"`
	PlanID           string     `db:"plan_id"`
	Status           string     `db:"status"`
	ExpiresAt        *time.Time `db:"expires_at"`
	CurrentPeriodEnd *time.Time `db:"current_period_end"`
	RecurringID      string     `db:"recurring_id"`
	CreatedAt        time.Time  `db:"created_at"`
}

const SubscriptionStatusActive = "active"

// Current reports whether the subscription still grants access at now,
// extending the governing expiry by a grace buffer to absorb clock skew
// and timezone drift between us and the billing provider.
func (s Subscription) Current(now time.Time, buffer time.Duration) bool {
	if s.Status != SubscriptionStatusActive {
		return false
	}
	expiry := s.governingExpiry()
	if expiry == nil {
		// No expiry recorded means a non-expiring grant.
		return true
	}
	return now.Before(expiry.Add(buffer))
}

func (s Subscription) governingExpiry() *time.Time {
	if s.RecurringID != "" {
		return s.CurrentPeriodEnd
	}
	if s.ExpiresAt != nil {
		return s.ExpiresAt
	}
	return s.CurrentPeriodEnd
}
