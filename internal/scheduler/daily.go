package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"liveclass-service/internal/config"
	"liveclass-service/internal/lifecycle"
	"liveclass-service/internal/models"
	"liveclass-service/internal/provider"
	"liveclass-service/internal/repository/scylla"
	"liveclass-service/internal/util"
)

const standingJobName = "standing-session"

// LockAcquirer hands out the cross-instance daily lock. A nil acquirer
// means single-instance mode: the in-process once-a-day timer is the
// only guard.
type LockAcquirer interface {
	Acquire(job string, day time.Time, ttl time.Duration) (bool, error)
}

// DailyScheduler owns the standing session: one per active day,
// recreated each morning, never duplicated, with yesterday's leftovers
// swept out first.
type DailyScheduler struct {
	sessions  scylla.SessionRepository
	providers *provider.Registry
	locks     LockAcquirer
	publisher lifecycle.EventPublisher
	cfg       config.SchedulerConfig
	tag       string
	now       func() time.Time
}

func NewDailyScheduler(
	sessions scylla.SessionRepository,
	providers *provider.Registry,
	locks LockAcquirer,
	publisher lifecycle.EventPublisher,
	cfg config.SchedulerConfig,
	providerTag string,
	logger *zap.Logger,
) *DailyScheduler {
	return &DailyScheduler{
		sessions:  sessions,
		providers: providers,
		locks:     locks,
		publisher: publisher,
		cfg:       cfg,
		tag:       providerTag,
		now:       time.Now,
	}
}

// Run fires the daily job at the configured hour until ctx is
// cancelled. A run in progress finishes; the next one never starts.
func (s *DailyScheduler) Run(ctx context.Context) {
	util.Info("Daily scheduler started",
		zap.Int("run_at_hour", s.cfg.RunAtHour))

	for {
		wait := time.Until(s.nextRun())
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			util.Info("Daily scheduler stopped")
			return
		case <-timer.C:
			if err := s.RunOnce(ctx); err != nil {
				util.Error("Daily scheduler run failed", zap.Error(err))
			}
		}
	}
}

func (s *DailyScheduler) nextRun() time.Time {
	now := s.now()
	next := time.Date(now.Year(), now.Month(), now.Day(), s.cfg.RunAtHour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// RunOnce executes one scheduler pass: sweep, then create if needed.
// Running it twice on the same day is a no-op the second time, whether
// stopped by the cross-instance lock or by the standing-session check.
// Cleanup failures are collected, not fatal; they must not block
// today's session.
func (s *DailyScheduler) RunOnce(ctx context.Context) error {
	today := s.today()

	if s.locks != nil {
		acquired, err := s.locks.Acquire(standingJobName, today, 24*time.Hour)
		if err != nil {
			return fmt.Errorf("scheduler lock: %w", err)
		}
		if !acquired {
			util.Info("Daily scheduler pass skipped, another instance holds the lock")
			return nil
		}
	}

	var sweepErrs []error
	sweepErrs = append(sweepErrs, s.sweepTerminal(ctx)...)
	sweepErrs = append(sweepErrs, s.sweepStaleStanding(ctx, today)...)

	if err := s.ensureStandingSession(ctx, today); err != nil {
		sweepErrs = append(sweepErrs, err)
	}

	return errors.Join(sweepErrs...)
}

// sweepTerminal removes completed and cancelled sessions past the
// retention window. Each failed delete is reported and skipped.
func (s *DailyScheduler) sweepTerminal(ctx context.Context) []error {
	var errs []error
	cutoff := s.now().Add(-s.cfg.Retention)

	for _, status := range []models.SessionStatus{models.SessionCompleted, models.SessionCancelled} {
		sessions, err := s.sessions.ListByStatus(ctx, status)
		if err != nil {
			errs = append(errs, fmt.Errorf("list %s sessions: %w", status, err))
			continue
		}
		for _, session := range sessions {
			if s.retainedUntil(session).After(cutoff) {
				continue
			}
			if err := s.sessions.Delete(ctx, session); err != nil {
				errs = append(errs, fmt.Errorf("delete session %s: %w", session.ID, err))
				continue
			}
		}
	}

	return errs
}

func (s *DailyScheduler) retainedUntil(session *models.Session) time.Time {
	if session.EndedAt != nil {
		return *session.EndedAt
	}
	if session.UpdatedAt != nil {
		return *session.UpdatedAt
	}
	return session.CreatedAt
}

// sweepStaleStanding removes standing sessions scheduled for a prior
// day regardless of state. A standing session's identity is "today's";
// yesterday's copy is garbage even if nobody ended it.
func (s *DailyScheduler) sweepStaleStanding(ctx context.Context, today time.Time) []error {
	standing, err := s.sessions.ListByType(ctx, models.SessionTypeStanding)
	if err != nil {
		return []error{fmt.Errorf("list standing sessions: %w", err)}
	}

	var errs []error
	for _, session := range standing {
		if !session.ScheduledAt.Before(today) {
			continue
		}
		if session.ProviderRoomID != "" {
			if err := s.deleteProviderRoom(ctx, session); err != nil {
				util.Warn("Failed to delete stale provider room",
					zap.String("session_id", session.ID),
					zap.String("room_id", session.ProviderRoomID),
					zap.Error(err))
			}
		}
		if err := s.sessions.Delete(ctx, session); err != nil {
			errs = append(errs, fmt.Errorf("delete stale standing session %s: %w", session.ID, err))
			continue
		}
		util.Info("Stale standing session removed",
			zap.String("session_id", session.ID),
			zap.Time("scheduled_at", session.ScheduledAt))
	}

	return errs
}

func (s *DailyScheduler) deleteProviderRoom(ctx context.Context, session *models.Session) error {
	prov, err := s.providers.Get(session.ProviderTag)
	if err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	err = prov.DeleteRoom(callCtx, session.ProviderRoomID)
	if errors.Is(err, provider.ErrRoomNotFound) {
		return nil
	}
	return err
}

// ensureStandingSession creates today's standing session if today is an
// active day and none exists yet. The provider room is created first;
// the local record is only written after that succeeds, so a provider
// failure leaves nothing to clean up and the next run simply retries.
func (s *DailyScheduler) ensureStandingSession(ctx context.Context, today time.Time) error {
	standing, err := s.sessions.ListByType(ctx, models.SessionTypeStanding)
	if err != nil {
		return fmt.Errorf("list standing sessions: %w", err)
	}

	for _, session := range standing {
		if !session.Status.IsTerminal() && sameDay(session.ScheduledAt, today) {
			util.Info("Standing session already exists for today",
				zap.String("session_id", session.ID))
			return nil
		}
	}

	if !activeOn(s.cfg.ActiveDays, today.Weekday()) {
		util.Info("No standing session today, not an active day",
			zap.String("weekday", today.Weekday().String()))
		return nil
	}

	scheduledAt := time.Date(today.Year(), today.Month(), today.Day(),
		s.cfg.StandingHour, s.cfg.StandingMinute, 0, 0, today.Location())

	prov, err := s.providers.Get(s.tag)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	room, err := prov.CreateRoom(callCtx, s.cfg.StandingTitle, scheduledAt, s.cfg.StandingDuration)
	if err != nil {
		// No local record exists yet; the next scheduled run retries.
		return fmt.Errorf("create provider room: %w", err)
	}

	session := &models.Session{
		ID:          uuid.New().String(),
		Title:       s.cfg.StandingTitle,
		ScheduledAt: scheduledAt,
		Duration:    s.cfg.StandingDuration,
		HostID:      s.cfg.StandingHostID,
		Status:      models.SessionScheduled,
		Type:        models.SessionTypeStanding,
		Recurrence: models.Recurrence{
			Days:   s.cfg.ActiveDays,
			Hour:   s.cfg.StandingHour,
			Minute: s.cfg.StandingMinute,
		},
		ProviderTag:     s.tag,
		ProviderRoomID:  room.ID,
		ProviderJoinURL: room.JoinURL,
		RestrictedPlans: s.cfg.RestrictedPlans,
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return fmt.Errorf("persist standing session: %w", err)
	}

	if s.publisher != nil {
		event := models.SessionAuditEvent{
			Kind:      models.AuditSessionCreated,
			SessionID: session.ID,
			Status:    string(session.Status),
			Trigger:   "scheduler",
			At:        s.now().UTC(),
		}
		if err := s.publisher.PublishSessionEvent(ctx, event); err != nil {
			util.Warn("Failed to publish session created event",
				zap.String("session_id", session.ID),
				zap.Error(err))
		}
	}

	util.Info("Standing session created",
		zap.String("session_id", session.ID),
		zap.String("room_id", room.ID),
		zap.Time("scheduled_at", scheduledAt))

	return nil
}

func (s *DailyScheduler) today() time.Time {
	now := s.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func activeOn(days []time.Weekday, day time.Weekday) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}
