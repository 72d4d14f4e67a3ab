package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"liveclass-service/internal/models"
	"liveclass-service/internal/provider"
	"liveclass-service/internal/repository/scylla"
	"liveclass-service/internal/util"
)

// EventPublisher receives one audit event per applied transition. A nil
// publisher disables the audit stream.
type EventPublisher interface {
	PublishSessionEvent(ctx context.Context, event models.SessionAuditEvent) error
}

// Reconciler keeps session state in line with what the provider is
// actually doing. Three triggers feed it: webhooks, the liveness poll,
// and operator actions. All of them funnel into the same guarded
// transition, so whichever arrives first wins and the rest collapse
// into no-ops.
type Reconciler struct {
	sessions   scylla.SessionRepository
	providers  *provider.Registry
	publisher  EventPublisher
	interval   time.Duration
	startGrace time.Duration
	logger     *zap.Logger
}

func NewReconciler(
	sessions scylla.SessionRepository,
	providers *provider.Registry,
	publisher EventPublisher,
	interval time.Duration,
	startGrace time.Duration,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		sessions:   sessions,
		providers:  providers,
		publisher:  publisher,
		interval:   interval,
		startGrace: startGrace,
		logger:     logger,
	}
}

// ApplyProviderEvent processes one verified webhook delivery. Repeated
// deliveries of the same event are absorbed by the transition guard.
func (r *Reconciler) ApplyProviderEvent(ctx context.Context, event models.ProviderEvent) error {
	session, err := r.sessions.GetByProviderRoomID(ctx, event.Payload.RoomID)
	if err != nil {
		return err
	}

	if target, ok := TargetForEvent(event.Type); ok {
		applied, err := r.transition(ctx, session, target, TriggerWebhook)
		if err != nil {
			return err
		}
		if applied {
			now := time.Now().UTC()
			switch target {
			case models.SessionLive:
				if err := r.sessions.SetStartedAt(ctx, session.ID, now); err != nil {
					util.Warn("Failed to record session start time",
						zap.String("session_id", session.ID),
						zap.Error(err))
				}
			case models.SessionCompleted:
				if err := r.sessions.SetEndedAt(ctx, session.ID, now); err != nil {
					util.Warn("Failed to record session end time",
						zap.String("session_id", session.ID),
						zap.Error(err))
				}
			}
		}
		return nil
	}

	switch event.Type {
	case models.EventParticipantJoined:
		if event.Payload.ParticipantID == "" {
			return nil
		}
		if err := r.sessions.AddAttendee(ctx, session.ID, event.Payload.ParticipantID); err != nil {
			return err
		}
		r.publish(ctx, models.SessionAuditEvent{
			Kind:      models.AuditUserJoined,
			SessionID: session.ID,
			UserID:    event.Payload.ParticipantID,
			Trigger:   string(TriggerWebhook),
			At:        time.Now().UTC(),
		})
	case models.EventParticipantLeft:
		r.publish(ctx, models.SessionAuditEvent{
			Kind:      models.AuditUserLeft,
			SessionID: session.ID,
			UserID:    event.Payload.ParticipantID,
			Trigger:   string(TriggerWebhook),
			At:        time.Now().UTC(),
		})
	default:
		util.Debug("Ignoring unhandled provider event",
			zap.String("event", event.Type),
			zap.String("session_id", session.ID))
	}

	return nil
}

// OperatorEnd force-completes a session. Ending a session that already
// finished is a no-op, not an error: operators click buttons late.
func (r *Reconciler) OperatorEnd(ctx context.Context, sessionID string) error {
	session, err := r.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}

	applied, err := r.transition(ctx, session, models.SessionCompleted, TriggerOperator)
	if err != nil {
		return err
	}
	if applied {
		if err := r.sessions.SetEndedAt(ctx, session.ID, time.Now().UTC()); err != nil {
			util.Warn("Failed to record session end time",
				zap.String("session_id", session.ID),
				zap.Error(err))
		}
	}
	return nil
}

// Cancel moves a scheduled or live session to Cancelled.
func (r *Reconciler) Cancel(ctx context.Context, sessionID string) error {
	session, err := r.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	_, err = r.transition(ctx, session, models.SessionCancelled, TriggerOperator)
	return err
}

// Run drives the liveness poll until ctx is cancelled. The current
// sweep always finishes; the next one simply never starts.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	util.Info("Liveness poller started",
		zap.Duration("interval", r.interval),
		zap.Duration("start_grace", r.startGrace))

	for {
		select {
		case <-ctx.Done():
			util.Info("Liveness poller stopped")
			return
		case <-ticker.C:
			r.pollOnce(ctx)
		}
	}
}

// pollOnce checks every Live session against the provider. Item
// failures are logged and skipped; one flaky room must not stall the
// sweep for everyone else.
func (r *Reconciler) pollOnce(ctx context.Context) {
	live, err := r.sessions.ListByStatus(ctx, models.SessionLive)
	if err != nil {
		util.Error("Liveness poll failed to list live sessions", zap.Error(err))
		return
	}

	now := time.Now()
	for _, session := range live {
		if session.StartedAt != nil && now.Before(session.StartedAt.Add(r.startGrace)) {
			// Provider room listings lag right after start; trust the
			// webhook for a while before believing an absent room.
			continue
		}

		if err := r.checkLiveness(ctx, session); err != nil {
			util.Warn("Liveness check skipped",
				zap.String("session_id", session.ID),
				zap.Error(err))
		}

		if ctx.Err() != nil {
			return
		}
	}
}

func (r *Reconciler) checkLiveness(ctx context.Context, session *models.Session) error {
	prov, err := r.providers.Get(session.ProviderTag)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	room, err := prov.GetRoom(callCtx, session.ProviderRoomID)
	switch {
	case errors.Is(err, provider.ErrRoomNotFound):
		// Room is gone; the session ended without us hearing about it.
	case err != nil:
		return err
	case room.Active:
		return nil
	}

	applied, err := r.transition(ctx, session, models.SessionCompleted, TriggerPoll)
	if err != nil {
		return err
	}
	if applied {
		util.Info("Poll completed a drifted session",
			zap.String("session_id", session.ID))
		if err := r.sessions.SetEndedAt(ctx, session.ID, time.Now().UTC()); err != nil {
			util.Warn("Failed to record session end time",
				zap.String("session_id", session.ID),
				zap.Error(err))
		}
	}
	return nil
}

// transition applies session -> target through the guarded conditional
// update. On a lost race the fresh state is re-planned once: most races
// resolve into a no-op because someone else already finished the job.
func (r *Reconciler) transition(ctx context.Context, session *models.Session, target models.SessionStatus, trigger Trigger) (bool, error) {
	current := session.Status

	for attempt := 0; attempt < 2; attempt++ {
		switch Plan(current, target) {
		case OutcomeNoop:
			util.Debug("Transition absorbed as no-op",
				zap.String("session_id", session.ID),
				zap.String("current", string(current)),
				zap.String("target", string(target)),
				zap.String("trigger", string(trigger)))
			return false, nil
		case OutcomeReject:
			return false, rejectError(current, target, trigger)
		}

		applied, observed, err := r.sessions.CompareAndSetStatus(ctx, session.ID, current, target, time.Now().UTC())
		if err != nil {
			return false, fmt.Errorf("transition %s -> %s: %w", current, target, err)
		}
		if applied {
			session.Status = target
			util.Info("Session transitioned",
				zap.String("session_id", session.ID),
				zap.String("from", string(current)),
				zap.String("to", string(target)),
				zap.String("trigger", string(trigger)))
			r.publish(ctx, auditForTransition(session.ID, target, trigger))
			return true, nil
		}

		// Lost the race; re-plan against what actually won.
		current = observed
	}

	util.Debug("Transition yielded after repeated races",
		zap.String("session_id", session.ID),
		zap.String("target", string(target)),
		zap.String("trigger", string(trigger)))
	return false, nil
}

func (r *Reconciler) publish(ctx context.Context, event models.SessionAuditEvent) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.PublishSessionEvent(ctx, event); err != nil {
		util.Warn("Failed to publish audit event",
			zap.String("kind", event.Kind),
			zap.String("session_id", event.SessionID),
			zap.Error(err))
	}
}

func auditForTransition(sessionID string, target models.SessionStatus, trigger Trigger) models.SessionAuditEvent {
	kind := ""
	switch target {
	case models.SessionLive:
		kind = models.AuditSessionStarted
	case models.SessionCompleted:
		kind = models.AuditSessionCompleted
	case models.SessionCancelled:
		kind = models.AuditSessionCancelled
	}
	return models.SessionAuditEvent{
		Kind:      kind,
		SessionID: sessionID,
		Status:    string(target),
		Trigger:   string(trigger),
		At:        time.Now().UTC(),
	}
}
