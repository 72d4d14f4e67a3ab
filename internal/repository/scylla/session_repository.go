package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"liveclass-service/internal/models"
	"liveclass-service/internal/util"
)

type sessionRepository struct {
	client *ScyllaClient
}

func NewSessionRepository(client *ScyllaClient, logger *zap.Logger) SessionRepository {
	return &sessionRepository{client: client}
}

func (r *sessionRepository) Create(ctx context.Context, session *models.Session) error {
	now := time.Now().UTC()
	session.CreatedAt = now

	// Dual-table write keeps the room-id lookup in step with the main row.
	batch := r.client.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)

	batch.Query(r.client.Prepared.CreateSession.Statement(),
		session.ID, session.Title, session.ScheduledAt, int64(session.Duration.Seconds()),
		session.HostID, session.Participants, session.Attendees,
		string(session.Status), string(session.Type),
		weekdaysToInts(session.Recurrence.Days), session.Recurrence.Hour, session.Recurrence.Minute,
		session.ProviderTag, session.ProviderRoomID, session.ProviderJoinURL,
		session.RestrictedPlans, session.Public, session.Locked,
		session.StartedAt, session.EndedAt, session.CreatedAt, session.UpdatedAt)

	if session.ProviderRoomID != "" {
		batch.Query(r.client.Prepared.CreateSessionByRoom.Statement(),
			session.ProviderRoomID, session.ID, session.CreatedAt)
	}

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to create session",
			zap.String("session_id", session.ID),
			zap.String("type", string(session.Type)),
			zap.Error(err))
		return fmt.Errorf("failed to create session: %w", err)
	}

	util.Info("Session created",
		zap.String("session_id", session.ID),
		zap.String("type", string(session.Type)),
		zap.String("provider_room_id", session.ProviderRoomID))

	return nil
}

func (r *sessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	query := r.client.Prepared.GetSessionByID.Bind(id).WithContext(ctx)

	session, err := scanSession(query)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		util.Error("Failed to get session by ID",
			zap.String("session_id", id),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get session by ID: %w", err)
	}

	return session, nil
}

func (r *sessionRepository) GetByProviderRoomID(ctx context.Context, roomID string) (*models.Session, error) {
	var sessionID string

	query := r.client.Prepared.GetSessionByRoom.Bind(roomID).WithContext(ctx)
	if err := r.client.ScanWithRetry(query, &sessionID); err != nil {
		if err == gocql.ErrNotFound {
			return nil, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to resolve room to session: %w", err)
	}

	return r.GetByID(ctx, sessionID)
}

func (r *sessionRepository) ListByStatus(ctx context.Context, status models.SessionStatus) ([]*models.Session, error) {
	query := r.client.Prepared.ListSessionsByStatus.Bind(string(status)).WithContext(ctx)
	return scanSessions(query)
}

func (r *sessionRepository) ListByType(ctx context.Context, sessionType models.SessionType) ([]*models.Session, error) {
	query := r.client.Prepared.ListSessionsByType.Bind(string(sessionType)).WithContext(ctx)
	return scanSessions(query)
}

func (r *sessionRepository) CompareAndSetStatus(ctx context.Context, id string, expected, next models.SessionStatus, at time.Time) (bool, models.SessionStatus, error) {
	var observed string

	query := r.client.Prepared.CasSessionStatus.
		Bind(string(next), at, id, string(expected)).
		WithContext(ctx)

	applied, err := query.ScanCAS(&observed)
	if err != nil {
		util.Error("Session status CAS failed",
			zap.String("session_id", id),
			zap.String("expected", string(expected)),
			zap.String("next", string(next)),
			zap.Error(err))
		return false, "", fmt.Errorf("failed to update session status: %w", err)
	}

	if applied {
		return true, next, nil
	}
	return false, models.SessionStatus(observed), nil
}

func (r *sessionRepository) AddParticipant(ctx context.Context, id, userID string) error {
	query := r.client.Prepared.AddParticipant.
		Bind([]string{userID}, time.Now().UTC(), id).
		WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to add participant: %w", err)
	}
	return nil
}

func (r *sessionRepository) RemoveParticipant(ctx context.Context, id, userID string) error {
	query := r.client.Prepared.RemoveParticipant.
		Bind([]string{userID}, time.Now().UTC(), id).
		WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to remove participant: %w", err)
	}
	return nil
}

func (r *sessionRepository) AddAttendee(ctx context.Context, id, userID string) error {
	query := r.client.Prepared.AddAttendee.
		Bind([]string{userID}, time.Now().UTC(), id).
		WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to add attendee: %w", err)
	}
	return nil
}

func (r *sessionRepository) SetLocked(ctx context.Context, id string, locked bool) error {
	query := r.client.Prepared.SetSessionLock.
		Bind(locked, time.Now().UTC(), id).
		WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to set session lock: %w", err)
	}
	return nil
}

func (r *sessionRepository) SetStartedAt(ctx context.Context, id string, at time.Time) error {
	query := r.client.Query(`UPDATE sessions SET started_at = ? WHERE id = ?`, at, id).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to set started_at: %w", err)
	}
	return nil
}

func (r *sessionRepository) SetEndedAt(ctx context.Context, id string, at time.Time) error {
	query := r.client.Query(`UPDATE sessions SET ended_at = ? WHERE id = ?`, at, id).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to set ended_at: %w", err)
	}
	return nil
}

func (r *sessionRepository) Delete(ctx context.Context, session *models.Session) error {
	batch := r.client.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)

	batch.Query(r.client.Prepared.DeleteSession.Statement(), session.ID)
	if session.ProviderRoomID != "" {
		batch.Query(r.client.Prepared.DeleteSessionByRoom.Statement(), session.ProviderRoomID)
	}

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to delete session",
			zap.String("session_id", session.ID),
			zap.Error(err))
		return fmt.Errorf("failed to delete session: %w", err)
	}

	util.Info("Session deleted",
		zap.String("session_id", session.ID),
		zap.String("status", string(session.Status)))

	return nil
}

func scanSession(query *gocql.Query) (*models.Session, error) {
	var (
		session      models.Session
		durationSecs int64
		status       string
		sessionType  string
		recDays      []int
		startedAt    time.Time
		endedAt      time.Time
		updatedAt    time.Time
	)

	err := query.Scan(
		&session.ID, &session.Title, &session.ScheduledAt, &durationSecs,
		&session.HostID, &session.Participants, &session.Attendees,
		&status, &sessionType, &recDays,
		&session.Recurrence.Hour, &session.Recurrence.Minute,
		&session.ProviderTag, &session.ProviderRoomID, &session.ProviderJoinURL,
		&session.RestrictedPlans, &session.Public, &session.Locked,
		&startedAt, &endedAt, &session.CreatedAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	finishSession(&session, durationSecs, status, sessionType, recDays, startedAt, endedAt, updatedAt)
	return &session, nil
}

func scanSessions(query *gocql.Query) ([]*models.Session, error) {
	iter := query.Iter()

	var sessions []*models.Session
	for {
		var (
			session      models.Session
			durationSecs int64
			status       string
			sessionType  string
			recDays      []int
			startedAt    time.Time
			endedAt      time.Time
			updatedAt    time.Time
		)

		ok := iter.Scan(
			&session.ID, &session.Title, &session.ScheduledAt, &durationSecs,
			&session.HostID, &session.Participants, &session.Attendees,
			&status, &sessionType, &recDays,
			&session.Recurrence.Hour, &session.Recurrence.Minute,
			&session.ProviderTag, &session.ProviderRoomID, &session.ProviderJoinURL,
			&session.RestrictedPlans, &session.Public, &session.Locked,
			&startedAt, &endedAt, &session.CreatedAt, &updatedAt)
		if !ok {
			break
		}

		finishSession(&session, durationSecs, status, sessionType, recDays, startedAt, endedAt, updatedAt)
		s := session
		sessions = append(sessions, &s)
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

func finishSession(session *models.Session, durationSecs int64, status, sessionType string, recDays []int, startedAt, endedAt, updatedAt time.Time) {
	session.Duration = time.Duration(durationSecs) * time.Second
	session.Status = models.SessionStatus(status)
	session.Type = models.SessionType(sessionType)
	session.Recurrence.Days = intsToWeekdays(recDays)
	if !startedAt.IsZero() {
		t := startedAt
		session.StartedAt = &t
	}
	if !endedAt.IsZero() {
		t := endedAt
		session.EndedAt = &t
	}
	if !updatedAt.IsZero() {
		t := updatedAt
		session.UpdatedAt = &t
	}
}

func weekdaysToInts(days []time.Weekday) []int {
	out := make([]int, len(days))
	for i, d := range days {
		out[i] = int(d)
	}
	return out
}

func intsToWeekdays(days []int) []time.Weekday {
	if len(days) == 0 {
		return nil
	}
	out := make([]time.Weekday, len(days))
	for i, d := range days {
		out[i] = time.Weekday(d)
	}
	return out
}
