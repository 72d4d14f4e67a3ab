package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"liveclass-service/internal/lifecycle"
	"liveclass-service/internal/models"
	"liveclass-service/internal/policy"
	"liveclass-service/internal/provider"
	"liveclass-service/internal/repository/scylla"
	"liveclass-service/internal/token"
	"liveclass-service/internal/util"
)

// Throttle limits join attempts per user. Nil disables throttling.
type Throttle interface {
	Allow(userID string) bool
	Remaining(userID string) (int64, error)
}

// SessionService is the front door for everything a session can do:
// joining, leaving, token redemption, and the operator controls.
type SessionService struct {
	users      scylla.UserRepository
	subs       scylla.SubscriptionRepository
	perms      scylla.PermissionRepository
	sessions   scylla.SessionRepository
	resolver   *policy.Resolver
	issuer     *token.Issuer
	providers  *provider.Registry
	reconciler *lifecycle.Reconciler
	throttle   Throttle
	publisher  lifecycle.EventPublisher
	tokenTTL   time.Duration
	logger     *zap.Logger
}

func NewSessionService(
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
) *SessionService {
	return &SessionService{
		users:      users,
		subs:       subs,
		perms:      perms,
		sessions:   sessions,
		resolver:   resolver,
		issuer:     issuer,
		providers:  providers,
		reconciler: reconciler,
		throttle:   throttle,
		publisher:  publisher,
		tokenTTL:   tokenTTL,
		logger:     logger,
	}
}

// JoinResult is what a successful join hands back: a single-use access
// token and the redemption path that exchanges it for the provider URL.
// AttemptsLeft is the user's remaining join-throttle budget, nil when
// throttling is disabled or the count could not be read.
type JoinResult struct {
	SessionID    string      `json:"session_id"`
	Token        string      `json:"token"`
	RedeemPath   string      `json:"join_url"`
	Role         models.Role `json:"role"`
	AttemptsLeft *int64      `json:"-"`
}

// Join runs the access policy for user against session and, when
// allowed, adds them to the roster and mints their access token.
func (s *SessionService) Join(ctx context.Context, sessionID, userID string) (*JoinResult, error) {
	if s.throttle != nil && !s.throttle.Allow(userID) {
		return nil, ErrThrottled
	}

	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: session is %s", ErrSessionFinished, session.Status)
	}

	user, permissions, err := s.loadAccessContext(ctx, userID)
	if err != nil {
		return nil, err
	}

	// A locked session rejects new joins only; current participants and
	// admins keep their access.
	if session.Locked && !session.HasParticipant(userID) && !user.Role.IsAdmin() {
		return nil, ErrSessionLocked
	}

	decision := s.resolver.Resolve(user, permissions, session.Capability(), session, time.Now())
	if !decision.Allowed {
		util.Info("Join denied",
			zap.String("session_id", sessionID),
			zap.String("user_id", userID),
			zap.String("reason", decision.Reason))
		return nil, fmt.Errorf("%w: %s", ErrAccessDenied, decision.Reason)
	}

	if err := s.sessions.AddParticipant(ctx, session.ID, userID); err != nil {
		return nil, fmt.Errorf("failed to update roster: %w", err)
	}

	signed, err := s.issuer.Issue(session.ID, userID, user.Role, s.tokenTTL, true)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}

	s.publish(ctx, models.SessionAuditEvent{
		Kind:      models.AuditUserJoined,
		SessionID: session.ID,
		UserID:    userID,
		Trigger:   "join",
		At:        time.Now().UTC(),
	})

	util.Info("Join granted",
		zap.String("session_id", sessionID),
		zap.String("user_id", userID),
		zap.String("role", string(user.Role)))

	result := &JoinResult{
		SessionID:  session.ID,
		Token:      signed,
		RedeemPath: "/api/v1/access/" + signed,
		Role:       user.Role,
	}
	if s.throttle != nil {
		if left, err := s.throttle.Remaining(userID); err == nil {
			result.AttemptsLeft = &left
		}
	}
	return result, nil
}

// Redeem exchanges a valid access token for the provider's join URL.
// Single-use tokens are consumed here: the second redemption fails with
// token.ErrTokenReplayed.
func (s *SessionService) Redeem(ctx context.Context, tokenString string) (string, error) {
	claims, err := s.issuer.Validate(tokenString)
	if err != nil {
		return "", err
	}

	session, err := s.getSession(ctx, claims.SessionID)
	if err != nil {
		return "", err
	}

	if session.Status.IsTerminal() {
		return "", fmt.Errorf("%w: session is %s", ErrSessionFinished, session.Status)
	}

	prov, err := s.providers.Get(session.ProviderTag)
	if err != nil {
		return "", err
	}

	role := models.Role(claims.Role)
	if claims.UserID == session.HostID {
		// The host always gets the host URL regardless of platform role.
		role = models.RoleAdmin
	}

	joinURL, err := prov.JoinURLFor(ctx, session.ProviderRoomID, role)
	if err != nil {
		return "", err
	}

	if err := s.sessions.AddAttendee(ctx, session.ID, claims.UserID); err != nil {
		util.Warn("Failed to mark attendee",
			zap.String("session_id", session.ID),
			zap.String("user_id", claims.UserID),
			zap.Error(err))
	}

	util.Info("Access token redeemed",
		zap.String("session_id", session.ID),
		zap.String("user_id", claims.UserID))

	return joinURL, nil
}

// Leave removes user from the session roster.
func (s *SessionService) Leave(ctx context.Context, sessionID, userID string) error {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if err := s.sessions.RemoveParticipant(ctx, session.ID, userID); err != nil {
		return fmt.Errorf("failed to update roster: %w", err)
	}

	s.publish(ctx, models.SessionAuditEvent{
		Kind:      models.AuditUserLeft,
		SessionID: session.ID,
		UserID:    userID,
		Trigger:   "leave",
		At:        time.Now().UTC(),
	})

	return nil
}

func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	return s.getSession(ctx, sessionID)
}

// AdHocSessionRequest is an operator's one-off session.
type AdHocSessionRequest struct {
	Title           string        `json:"title"`
	ScheduledAt     time.Time     `json:"scheduled_at"`
	Duration        time.Duration `json:"duration"`
	HostID          string        `json:"host_id"`
	RestrictedPlans []string      `json:"restricted_plans,omitempty"`
	Public          bool          `json:"public"`
}

// CreateAdHoc creates the provider room first and persists the session
// only after that succeeds, so a provider failure leaves no orphan
// record.
func (s *SessionService) CreateAdHoc(ctx context.Context, req AdHocSessionRequest, providerTag string) (*models.Session, error) {
	title := util.SanitizeInput(req.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if req.Duration <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", ErrInvalidInput)
	}

	prov, err := s.providers.Get(providerTag)
	if err != nil {
		return nil, err
	}

	room, err := prov.CreateRoom(ctx, title, req.ScheduledAt, req.Duration)
	if err != nil {
		return nil, fmt.Errorf("create provider room: %w", err)
	}

	session := &models.Session{
		ID:              uuid.New().String(),
		Title:           title,
		ScheduledAt:     req.ScheduledAt,
		Duration:        req.Duration,
		HostID:          req.HostID,
		Status:          models.SessionScheduled,
		Type:            models.SessionTypeAdHoc,
		ProviderTag:     providerTag,
		ProviderRoomID:  room.ID,
		ProviderJoinURL: room.JoinURL,
		RestrictedPlans: req.RestrictedPlans,
		Public:          req.Public,
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	s.publish(ctx, models.SessionAuditEvent{
		Kind:      models.AuditSessionCreated,
		SessionID: session.ID,
		Status:    string(session.Status),
		Trigger:   "operator",
		At:        time.Now().UTC(),
	})

	return session, nil
}

// ForceEnd transitions the session to Completed on behalf of an
// operator, regardless of what the poll or webhooks believe.
func (s *SessionService) ForceEnd(ctx context.Context, sessionID string) error {
	err := s.reconciler.OperatorEnd(ctx, sessionID)
	if errors.Is(err, scylla.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return err
}

// Cancel moves a non-terminal session to Cancelled.
func (s *SessionService) Cancel(ctx context.Context, sessionID string) error {
	err := s.reconciler.Cancel(ctx, sessionID)
	if errors.Is(err, scylla.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return err
}

// SetLocked toggles the join lock.
func (s *SessionService) SetLocked(ctx context.Context, sessionID string, locked bool) error {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.sessions.SetLocked(ctx, session.ID, locked); err != nil {
		return err
	}
	util.Info("Session lock changed",
		zap.String("session_id", sessionID),
		zap.Bool("locked", locked))
	return nil
}

// Recordings lists the provider recordings of a completed session.
func (s *SessionService) Recordings(ctx context.Context, sessionID string) ([]provider.Recording, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionCompleted {
		return nil, fmt.Errorf("%w: recordings exist only for completed sessions", ErrInvalidInput)
	}

	prov, err := s.providers.Get(session.ProviderTag)
	if err != nil {
		return nil, err
	}
	return prov.ListRecordings(ctx, session.ProviderRoomID)
}

// loadAccessContext fetches the user plus the two policy inputs in
// parallel; the three lookups are independent.
func (s *SessionService) loadAccessContext(ctx context.Context, userID string) (*models.User, []models.ModulePermission, error) {
	var (
		user        *models.User
		permissions []models.ModulePermission
		subs        []models.Subscription
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		user, err = s.users.GetByID(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		subs, err = s.subs.ListByUser(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		permissions, err = s.perms.ListActiveByUser(gctx, userID)
		return err
	})

	if err := g.Wait(); err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		return nil, nil, fmt.Errorf("failed to load access context: %w", err)
	}

	user.Subscriptions = subs
	return user, permissions, nil
}

func (s *SessionService) getSession(ctx context.Context, sessionID string) (*models.Session, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, err
	}
	return session, nil
}

func (s *SessionService) publish(ctx context.Context, event models.SessionAuditEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishSessionEvent(ctx, event); err != nil {
		util.Warn("Failed to publish audit event",
			zap.String("kind", event.Kind),
			zap.String("session_id", event.SessionID),
			zap.Error(err))
	}
}
