package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"liveclass-service/internal/config"
	"liveclass-service/internal/util"
)

// PreparedStatements holds the statements the repositories actually use.
type PreparedStatements struct {
	CreateSession        *gocql.Query
	CreateSessionByRoom  *gocql.Query
	GetSessionByID       *gocql.Query
	GetSessionByRoom     *gocql.Query
	ListSessionsByStatus *gocql.Query
	ListSessionsByType   *gocql.Query
	CasSessionStatus     *gocql.Query
	AddParticipant       *gocql.Query
	RemoveParticipant    *gocql.Query
	AddAttendee          *gocql.Query
	SetSessionLock       *gocql.Query
	DeleteSession        *gocql.Query
	DeleteSessionByRoom  *gocql.Query

	GetUserByID *gocql.Query

	ListSubscriptionsByUser *gocql.Query

	ListPermissionsByUser *gocql.Query
	InsertPermission      *gocql.Query
	DeactivatePermission  *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized with prepared statements",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.CreateSession = s.Session.Query(`
        INSERT INTO sessions (
            id, title, scheduled_at, duration_secs, host_id, participants,
            attendees, status, type, recurrence_days, recurrence_hour,
            recurrence_minute, provider_tag, provider_room_id,
            provider_join_url, restricted_plans, is_public, is_locked,
            started_at, ended_at, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.CreateSessionByRoom = s.Session.Query(`
        INSERT INTO sessions_by_room (provider_room_id, session_id, created_at)
        VALUES (?, ?, ?)`)

	prepared.GetSessionByID = s.Session.Query(`
        SELECT id, title, scheduled_at, duration_secs, host_id, participants,
            attendees, status, type, recurrence_days, recurrence_hour,
            recurrence_minute, provider_tag, provider_room_id,
            provider_join_url, restricted_plans, is_public, is_locked,
            started_at, ended_at, created_at, updated_at
        FROM sessions WHERE id = ?`)

	prepared.GetSessionByRoom = s.Session.Query(`
        SELECT session_id FROM sessions_by_room WHERE provider_room_id = ?`)

	prepared.ListSessionsByStatus = s.Session.Query(`
        SELECT id, title, scheduled_at, duration_secs, host_id, participants,
            attendees, status, type, recurrence_days, recurrence_hour,
            recurrence_minute, provider_tag, provider_room_id,
            provider_join_url, restricted_plans, is_public, is_locked,
            started_at, ended_at, created_at, updated_at
        FROM sessions WHERE status = ? ALLOW FILTERING`)

	prepared.ListSessionsByType = s.Session.Query(`
        SELECT id, title, scheduled_at, duration_secs, host_id, participants,
            attendees, status, type, recurrence_days, recurrence_hour,
            recurrence_minute, provider_tag, provider_room_id,
            provider_join_url, restricted_plans, is_public, is_locked,
            started_at, ended_at, created_at, updated_at
        FROM sessions WHERE type = ? ALLOW FILTERING`)

	// Lightweight transaction: the guard makes racing triggers safe.
	prepared.CasSessionStatus = s.Session.Query(`
        UPDATE sessions SET status = ?, updated_at = ?
        WHERE id = ? IF status = ?`)

	prepared.AddParticipant = s.Session.Query(`
        UPDATE sessions SET participants = participants + ?, updated_at = ?
        WHERE id = ?`)

	prepared.RemoveParticipant = s.Session.Query(`
        UPDATE sessions SET participants = participants - ?, updated_at = ?
        WHERE id = ?`)

	prepared.AddAttendee = s.Session.Query(`
        UPDATE sessions SET attendees = attendees + ?, updated_at = ?
        WHERE id = ?`)

	prepared.SetSessionLock = s.Session.Query(`
        UPDATE sessions SET is_locked = ?, updated_at = ? WHERE id = ?`)

	prepared.DeleteSession = s.Session.Query(`
        DELETE FROM sessions WHERE id = ?`)

	prepared.DeleteSessionByRoom = s.Session.Query(`
        DELETE FROM sessions_by_room WHERE provider_room_id = ?`)

	prepared.GetUserByID = s.Session.Query(`
        SELECT user_id, role, status, access_override, created_at, updated_at
        FROM users WHERE user_id = ?`)

	prepared.ListSubscriptionsByUser = s.Session.Query(`
        SELECT user_id, plan_id, status, expires_at, current_period_end,
            recurring_id, created_at
        FROM subscriptions_by_user WHERE user_id = ?`)

	prepared.ListPermissionsByUser = s.Session.Query(`
        SELECT id, user_id, capability, has_access, is_active, expires_at,
            source, granted_by, created_at, updated_at
        FROM permissions_by_user WHERE user_id = ?`)

	prepared.InsertPermission = s.Session.Query(`
        INSERT INTO permissions_by_user (
            user_id, capability, id, has_access, is_active, expires_at,
            source, granted_by, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.DeactivatePermission = s.Session.Query(`
        UPDATE permissions_by_user SET is_active = ?, updated_at = ?
        WHERE user_id = ? AND capability = ? AND id = ?`)

	s.Prepared = prepared
	s.isPrepared = true

	util.Info("ScyllaDB prepared statements created successfully")
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...)
}

func (s *ScyllaClient) Batch(typ gocql.BatchType) *gocql.Batch {
	return s.Session.NewBatch(typ)
}

func (s *ScyllaClient) ExecuteBatch(batch *gocql.Batch) error {
	return s.Session.ExecuteBatch(batch)
}

func (s *ScyllaClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if err := query.Scan(dest...); err != nil {
			lastErr = err
			if i < 2 {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}
