package policy

import (
	"fmt"
	"strings"
	"time"

	"liveclass-service/internal/models"
)

// Decision is the outcome of an access evaluation. Reason is set on
// denial and names what would have satisfied the check so the caller can
// surface an actionable message.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(format string, args ...interface{}) Decision {
	return Decision{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

// Resolver evaluates the access policy. It holds only configuration and
// performs no I/O: callers load the user, their subscriptions, and their
// active permissions first, then Resolve is a deterministic function of
// its arguments.
type Resolver struct {
	graceBuffer time.Duration
}

func NewResolver(graceBuffer time.Duration) *Resolver {
	return &Resolver{graceBuffer: graceBuffer}
}

// Resolve decides whether user may exercise capability, optionally in
// the context of a specific session. Rules are checked in order and the
// first match wins:
//
//  1. admins and super-admins bypass everything
//  2. a plan-restricted session is decided here: a permission grant for
//     the session's capability overrides the restriction, otherwise a
//     current subscription on one of the listed plans is required
//  3. the per-user override flag
//  4. an active, unexpired permission for the capability
//  5. any current subscription (grace-buffer adjusted)
//  6. the session's public flag
func (r *Resolver) Resolve(
	user *models.User,
	permissions []models.ModulePermission,
	capability string,
	session *models.Session,
	now time.Time,
) Decision {
	if user.Role.IsAdmin() {
		return allow()
	}

	if session != nil && session.IsRestricted() {
		if r.hasPermission(permissions, session.Capability(), now) {
			return allow()
		}
		if r.hasSubscriptionOn(user, session.RestrictedPlans, now) {
			return allow()
		}
		return deny("requires plan %s or a %q permission grant",
			strings.Join(session.RestrictedPlans, " or "), session.Capability())
	}

	if user.AccessOverride {
		return allow()
	}

	if r.hasPermission(permissions, capability, now) {
		return allow()
	}

	if r.hasAnySubscription(user, now) {
		return allow()
	}

	if session != nil && session.Public {
		return allow()
	}

	return deny("requires an active subscription or a %q permission grant", capability)
}

func (r *Resolver) hasPermission(permissions []models.ModulePermission, capability string, now time.Time) bool {
	for _, p := range permissions {
		if p.Capability == capability && p.Grants(now) {
			return true
		}
	}
	return false
}

func (r *Resolver) hasAnySubscription(user *models.User, now time.Time) bool {
	for _, s := range user.Subscriptions {
		if s.Current(now, r.graceBuffer) {
			return true
		}
	}
	return false
}

func (r *Resolver) hasSubscriptionOn(user *models.User, plans []string, now time.Time) bool {
	for _, s := range user.Subscriptions {
		if !s.Current(now, r.graceBuffer) {
			continue
		}
		for _, plan := range plans {
			if s.PlanID == plan {
				return true
			}
		}
	}
	return false
}
