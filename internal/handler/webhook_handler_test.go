package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"liveclass-service/internal/lifecycle"
	"liveclass-service/internal/models"
	"liveclass-service/internal/provider"
	"liveclass-service/internal/repository/scylla"
)

const webhookSecret = "whsec_test"

// roomSessionRepo holds sessions keyed by provider room id; lookups for
// any other room miss.
type roomSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
}

func newRoomSessionRepo(sessions ...*models.Session) *roomSessionRepo {
	repo := &roomSessionRepo{sessions: make(map[string]*models.Session)}
	for _, s := range sessions {
		repo.sessions[s.ProviderRoomID] = s
	}
	return repo
}

func (r *roomSessionRepo) Create(ctx context.Context, session *models.Session) error { return nil }

func (r *roomSessionRepo) GetByID(ctx context.Context, id string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, scylla.ErrNotFound
}

func (r *roomSessionRepo) GetByProviderRoomID(ctx context.Context, roomID string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[roomID]
	if !ok {
		return nil, scylla.ErrNotFound
	}
	return s, nil
}

func (r *roomSessionRepo) ListByStatus(ctx context.Context, status models.SessionStatus) ([]*models.Session, error) {
	return nil, nil
}

func (r *roomSessionRepo) ListByType(ctx context.Context, sessionType models.SessionType) ([]*models.Session, error) {
	return nil, nil
}

func (r *roomSessionRepo) CompareAndSetStatus(ctx context.Context, id string, expected, next models.SessionStatus, at time.Time) (bool, models.SessionStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.ID != id {
			continue
		}
		if s.Status != expected {
			return false, s.Status, nil
		}
		s.Status = next
		return true, next, nil
	}
	return false, "", scylla.ErrNotFound
}

func (r *roomSessionRepo) AddParticipant(ctx context.Context, id, userID string) error    { return nil }
func (r *roomSessionRepo) RemoveParticipant(ctx context.Context, id, userID string) error { return nil }
func (r *roomSessionRepo) AddAttendee(ctx context.Context, id, userID string) error       { return nil }
func (r *roomSessionRepo) SetLocked(ctx context.Context, id string, locked bool) error    { return nil }
func (r *roomSessionRepo) SetStartedAt(ctx context.Context, id string, at time.Time) error {
	return nil
}
func (r *roomSessionRepo) SetEndedAt(ctx context.Context, id string, at time.Time) error { return nil }
func (r *roomSessionRepo) Delete(ctx context.Context, session *models.Session) error     { return nil }

func newWebhookFixture(sessions ...*models.Session) (*WebhookHandler, *roomSessionRepo) {
	repo := newRoomSessionRepo(sessions...)
	reconciler := lifecycle.NewReconciler(repo, provider.NewRegistry(), nil, time.Minute, 2*time.Minute, zap.NewNop())
	return NewWebhookHandler(reconciler, webhookSecret, zap.NewNop()), repo
}

func sign(timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func signedRequest(t *testing.T, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/provider", bytes.NewReader(body))
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set(timestampHeader, timestamp)
	req.Header.Set(signatureHeader, sign(timestamp, body))
	return req
}

func eventBody(eventType, roomID string) []byte {
	return []byte(fmt.Sprintf(`{"event":%q,"payload":{"room_id":%q}}`, eventType, roomID))
}

func TestWebhookAppliesTransition(t *testing.T) {
	session := &models.Session{
		ID:             "s1",
		Status:         models.SessionScheduled,
		ProviderRoomID: "room-1",
	}
	h, repo := newWebhookFixture(session)

	rec := httptest.NewRecorder()
	h.HandleProviderEvent(rec, signedRequest(t, eventBody(models.EventSessionStarted, "room-1")))

	assert.Equal(t, http.StatusOK, rec.Code)
	stored, err := repo.GetByProviderRoomID(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionLive, stored.Status)
}

func TestWebhookMissingSignatureRejected(t *testing.T) {
	h, _ := newWebhookFixture()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/provider", bytes.NewReader(eventBody(models.EventSessionStarted, "room-1")))
	rec := httptest.NewRecorder()
	h.HandleProviderEvent(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookBadSignatureRejected(t *testing.T) {
	h, repo := newWebhookFixture(&models.Session{
		ID:             "s1",
		Status:         models.SessionScheduled,
		ProviderRoomID: "room-1",
	})

	body := eventBody(models.EventSessionStarted, "room-1")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/provider", bytes.NewReader(body))
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set(timestampHeader, timestamp)
	req.Header.Set(signatureHeader, sign(timestamp, []byte("different body")))

	rec := httptest.NewRecorder()
	h.HandleProviderEvent(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	stored, _ := repo.GetByProviderRoomID(context.Background(), "room-1")
	assert.Equal(t, models.SessionScheduled, stored.Status, "forged delivery must not move state")
}

func TestWebhookStaleTimestampRejected(t *testing.T) {
	h, _ := newWebhookFixture()

	body := eventBody(models.EventSessionStarted, "room-1")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/provider", bytes.NewReader(body))
	stale := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
	req.Header.Set(timestampHeader, stale)
	req.Header.Set(signatureHeader, sign(stale, body))

	rec := httptest.NewRecorder()
	h.HandleProviderEvent(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookUnknownRoomAcknowledged(t *testing.T) {
	h, _ := newWebhookFixture()

	rec := httptest.NewRecorder()
	h.HandleProviderEvent(rec, signedRequest(t, eventBody(models.EventSessionStarted, "ghost")))

	// 200 so the provider stops redelivering an event we cannot use.
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookMalformedBody(t *testing.T) {
	h, _ := newWebhookFixture()

	rec := httptest.NewRecorder()
	h.HandleProviderEvent(rec, signedRequest(t, []byte("{not json")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
