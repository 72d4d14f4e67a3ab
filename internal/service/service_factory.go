package service

import (
	"time"

	"go.uber.org/zap"

	"liveclass-service/internal/lifecycle"
	"liveclass-service/internal/policy"
	"liveclass-service/internal/provider"
	"liveclass-service/internal/repository/scylla"
	"liveclass-service/internal/token"
)

// ServiceFactory wires the business services over shared repositories.
type ServiceFactory struct {
	sessionService    *SessionService
	permissionService *PermissionService
}

func NewServiceFactory(
	users scylla.UserRepository,
	subs scylla.SubscriptionRepository,
	perms scylla.PermissionRepository,
	sessions scylla.SessionRepository,
	resolver *policy.Resolver,
	issuer *token.Issuer,
	providers *provider.Registry,
	reconciler *lifecycle.Reconciler,
	throttle Throttle,
	publisher lifecycle.EventPublisher,
	tokenTTL time.Duration,
	logger *zap.Logger,
) *ServiceFactory {
	return &ServiceFactory{
		sessionService: NewSessionService(
			users, subs, perms, sessions,
			resolver, issuer, providers, reconciler,
			throttle, publisher, tokenTTL, logger,
		),
		permissionService: NewPermissionService(users, subs, perms, resolver, logger),
	}
}

func (f *ServiceFactory) SessionService() *SessionService {
	return f.sessionService
}

func (f *ServiceFactory) PermissionService() *PermissionService {
	return f.permissionService
}
