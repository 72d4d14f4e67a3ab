package models

import "time"

type PermissionSource string

const (
	PermissionSourceManual       PermissionSource = "manual"
	PermissionSourceEvent        PermissionSource = "event"
	PermissionSourceSubscription PermissionSource = "subscription"
)

// ModulePermission is a per-(user, capability) access grant. At most one
// active record exists per pair; new grants deactivate the prior record
// instead of deleting it, preserving the audit trail.
type ModulePermission struct {
	ID         string           `db:"id"`
	UserID     string           `db:"user_id"`
	Capability string           `db:"capability"`
	HasAccess  bool             `db:"has_access"`
	IsActive   bool             `db:"is_active"`
	ExpiresAt  *time.Time       `db:"expires_at"`
	Source     PermissionSource `db:"source"`
	GrantedBy  string           `db:"granted_by"`
	CreatedAt  time.Time        `db:"created_at"`
	UpdatedAt  *time.Time       `db:"updated_at"`
}

// Grants reports whether the permission allows access at now.
func (p ModulePermission) Grants(now time.Time) bool {
	if !p.IsActive || !p.HasAccess {
		return false
	}
	if p.ExpiresAt != nil && now.After(*p.ExpiresAt) {
		return false
	}
	return true
}
