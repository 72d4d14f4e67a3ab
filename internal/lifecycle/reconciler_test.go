package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"liveclass-service/internal/models"
	"liveclass-service/internal/provider"
	"liveclass-service/internal/repository/scylla"
)

// fakeSessionRepo is an in-memory SessionRepository with the same
// conditional-update semantics as the Scylla implementation.
type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	byRoom   map[string]string
	casCalls int
}

func newFakeSessionRepo(sessions ...*models.Session) *fakeSessionRepo {
	repo := &fakeSessionRepo{
		sessions: make(map[string]*models.Session),
		byRoom:   make(map[string]string),
	}
	for _, s := range sessions {
		repo.sessions[s.ID] = s
		if s.ProviderRoomID != "" {
			repo.byRoom[s.ProviderRoomID] = s.ID
		}
	}
	return repo
}

func (r *fakeSessionRepo) Create(ctx context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = session
	if session.ProviderRoomID != "" {
		r.byRoom[session.ProviderRoomID] = session.ID
	}
	return nil
}

func (r *fakeSessionRepo) GetByID(ctx context.Context, id string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return nil, scylla.ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (r *fakeSessionRepo) GetByProviderRoomID(ctx context.Context, roomID string) (*models.Session, error) {
	r.mu.Lock()
	id, ok := r.byRoom[roomID]
	r.mu.Unlock()
	if !ok {
		return nil, scylla.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *fakeSessionRepo) ListByStatus(ctx context.Context, status models.SessionStatus) ([]*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Session
	for _, s := range r.sessions {
		if s.Status == status {
			copied := *s
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeSessionRepo) ListByType(ctx context.Context, sessionType models.SessionType) ([]*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Session
	for _, s := range r.sessions {
		if s.Type == sessionType {
			copied := *s
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeSessionRepo) CompareAndSetStatus(ctx context.Context, id string, expected, next models.SessionStatus, at time.Time) (bool, models.SessionStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.casCalls++
	session, ok := r.sessions[id]
	if !ok {
		return false, "", scylla.ErrNotFound
	}
	if session.Status != expected {
		return false, session.Status, nil
	}
	session.Status = next
	return true, next, nil
}

func (r *fakeSessionRepo) AddParticipant(ctx context.Context, id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.Participants = append(s.Participants, userID)
	}
	return nil
}

func (r *fakeSessionRepo) RemoveParticipant(ctx context.Context, id, userID string) error {
	return nil
}

func (r *fakeSessionRepo) AddAttendee(ctx context.Context, id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.Attendees = append(s.Attendees, userID)
	}
	return nil
}

func (r *fakeSessionRepo) SetLocked(ctx context.Context, id string, locked bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.Locked = locked
	}
	return nil
}

func (r *fakeSessionRepo) SetStartedAt(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.StartedAt = &at
	}
	return nil
}

func (r *fakeSessionRepo) SetEndedAt(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.EndedAt = &at
	}
	return nil
}

func (r *fakeSessionRepo) Delete(ctx context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, session.ID)
	delete(r.byRoom, session.ProviderRoomID)
	return nil
}

func (r *fakeSessionRepo) status(id string) models.SessionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id].Status
}

// fakeProvider answers GetRoom from a fixed map; absent rooms return
// ErrRoomNotFound like the HTTP implementation does on a 404.
type fakeProvider struct {
	rooms map[string]*provider.Room
}

func (p *fakeProvider) CreateRoom(ctx context.Context, title string, startAt time.Time, duration time.Duration) (*provider.Room, error) {
	return nil, provider.ErrUnavailable
}

func (p *fakeProvider) GetRoom(ctx context.Context, roomID string) (*provider.Room, error) {
	room, ok := p.rooms[roomID]
	if !ok {
		return nil, provider.ErrRoomNotFound
	}
	return room, nil
}

func (p *fakeProvider) DeleteRoom(ctx context.Context, roomID string) error {
	delete(p.rooms, roomID)
	return nil
}

func (p *fakeProvider) ListRecordings(ctx context.Context, roomID string) ([]provider.Recording, error) {
	return nil, nil
}

func (p *fakeProvider) JoinURLFor(ctx context.Context, roomID string, role models.Role) (string, error) {
	room, ok := p.rooms[roomID]
	if !ok {
		return "", provider.ErrRoomNotFound
	}
	if role.IsAdmin() {
		return room.HostURL, nil
	}
	return room.JoinURL, nil
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []models.SessionAuditEvent
}

func (p *capturingPublisher) PublishSessionEvent(ctx context.Context, event models.SessionAuditEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturingPublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Kind)
	}
	return out
}

func testRegistry(rooms map[string]*provider.Room) *provider.Registry {
	registry := provider.NewRegistry()
	registry.Register("fake", &fakeProvider{rooms: rooms})
	return registry
}

func liveSession(id, roomID string, startedAgo time.Duration) *models.Session {
	started := time.Now().Add(-startedAgo)
	return &models.Session{
		ID:             id,
		Status:         models.SessionLive,
		ProviderTag:    "fake",
		ProviderRoomID: roomID,
		StartedAt:      &started,
	}
}

func newTestReconciler(repo *fakeSessionRepo, registry *provider.Registry, publisher EventPublisher) *Reconciler {
	return NewReconciler(repo, registry, publisher, time.Minute, 2*time.Minute, zap.NewNop())
}

func TestApplyProviderEventStartsSession(t *testing.T) {
	session := &models.Session{
		ID:             "s1",
		Status:         models.SessionScheduled,
		ProviderTag:    "fake",
		ProviderRoomID: "room-1",
	}
	repo := newFakeSessionRepo(session)
	publisher := &capturingPublisher{}
	r := newTestReconciler(repo, testRegistry(nil), publisher)

	err := r.ApplyProviderEvent(context.Background(), models.ProviderEvent{
		Type:    models.EventSessionStarted,
		Payload: models.ProviderEventPayload{RoomID: "room-1"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.SessionLive, repo.status("s1"))
	assert.Equal(t, []string{models.AuditSessionStarted}, publisher.kinds())

	stored, err := repo.GetByID(context.Background(), "s1")
	require.NoError(t, err)
	assert.NotNil(t, stored.StartedAt)
}

func TestApplyProviderEventUnknownRoom(t *testing.T) {
	repo := newFakeSessionRepo()
	r := newTestReconciler(repo, testRegistry(nil), nil)

	err := r.ApplyProviderEvent(context.Background(), models.ProviderEvent{
		Type:    models.EventSessionStarted,
		Payload: models.ProviderEventPayload{RoomID: "ghost"},
	})
	assert.ErrorIs(t, err, scylla.ErrNotFound)
}

func TestDuplicateEndEventIsAbsorbed(t *testing.T) {
	session := liveSession("s1", "room-1", time.Hour)
	repo := newFakeSessionRepo(session)
	publisher := &capturingPublisher{}
	r := newTestReconciler(repo, testRegistry(nil), publisher)

	end := models.ProviderEvent{
		Type:    models.EventSessionEnded,
		Payload: models.ProviderEventPayload{RoomID: "room-1"},
	}

	require.NoError(t, r.ApplyProviderEvent(context.Background(), end))
	require.NoError(t, r.ApplyProviderEvent(context.Background(), end))

	assert.Equal(t, models.SessionCompleted, repo.status("s1"))
	// Exactly one applied transition, one audit event.
	assert.Equal(t, []string{models.AuditSessionCompleted}, publisher.kinds())
}

func TestLateStartAfterCompletionIsNoop(t *testing.T) {
	session := liveSession("s1", "room-1", time.Hour)
	session.Status = models.SessionCompleted
	repo := newFakeSessionRepo(session)
	r := newTestReconciler(repo, testRegistry(nil), nil)

	err := r.ApplyProviderEvent(context.Background(), models.ProviderEvent{
		Type:    models.EventSessionStarted,
		Payload: models.ProviderEventPayload{RoomID: "room-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, repo.status("s1"))
}

func TestParticipantJoinedMarksAttendee(t *testing.T) {
	session := liveSession("s1", "room-1", time.Hour)
	repo := newFakeSessionRepo(session)
	publisher := &capturingPublisher{}
	r := newTestReconciler(repo, testRegistry(nil), publisher)

	err := r.ApplyProviderEvent(context.Background(), models.ProviderEvent{
		Type:    models.EventParticipantJoined,
		Payload: models.ProviderEventPayload{RoomID: "room-1", ParticipantID: "u7"},
	})
	require.NoError(t, err)

	stored, _ := repo.GetByID(context.Background(), "s1")
	assert.True(t, stored.HasAttendee("u7"))
	assert.Equal(t, []string{models.AuditUserJoined}, publisher.kinds())
}

func TestPollCompletesDriftedSession(t *testing.T) {
	session := liveSession("s1", "room-1", time.Hour)
	repo := newFakeSessionRepo(session)
	// Room no longer exists at the provider.
	r := newTestReconciler(repo, testRegistry(map[string]*provider.Room{}), nil)

	r.pollOnce(context.Background())

	assert.Equal(t, models.SessionCompleted, repo.status("s1"))
}

func TestPollLeavesActiveRoomAlone(t *testing.T) {
	session := liveSession("s1", "room-1", time.Hour)
	repo := newFakeSessionRepo(session)
	rooms := map[string]*provider.Room{
		"room-1": {ID: "room-1", Active: true},
	}
	r := newTestReconciler(repo, testRegistry(rooms), nil)

	r.pollOnce(context.Background())

	assert.Equal(t, models.SessionLive, repo.status("s1"))
}

func TestPollSkipsSessionInsideStartGrace(t *testing.T) {
	// Started 30s ago with a 2m grace: the absent room must be ignored.
	session := liveSession("s1", "room-1", 30*time.Second)
	repo := newFakeSessionRepo(session)
	r := newTestReconciler(repo, testRegistry(map[string]*provider.Room{}), nil)

	r.pollOnce(context.Background())

	assert.Equal(t, models.SessionLive, repo.status("s1"))
}

func TestOperatorEndIdempotent(t *testing.T) {
	session := liveSession("s1", "room-1", time.Hour)
	repo := newFakeSessionRepo(session)
	r := newTestReconciler(repo, testRegistry(nil), nil)

	require.NoError(t, r.OperatorEnd(context.Background(), "s1"))
	require.NoError(t, r.OperatorEnd(context.Background(), "s1"))

	assert.Equal(t, models.SessionCompleted, repo.status("s1"))
}

func TestCancelCompletedSessionRejected(t *testing.T) {
	session := liveSession("s1", "room-1", time.Hour)
	session.Status = models.SessionCompleted
	repo := newFakeSessionRepo(session)
	r := newTestReconciler(repo, testRegistry(nil), nil)

	// Cancelling a finished session is a late duplicate, absorbed.
	require.NoError(t, r.Cancel(context.Background(), "s1"))
	assert.Equal(t, models.SessionCompleted, repo.status("s1"))
}

// racingSessionRepo loses the first conditional update on purpose,
// reporting that another trigger completed the session in between.
type racingSessionRepo struct {
	*fakeSessionRepo
	raced bool
}

func (r *racingSessionRepo) CompareAndSetStatus(ctx context.Context, id string, expected, next models.SessionStatus, at time.Time) (bool, models.SessionStatus, error) {
	if !r.raced {
		r.raced = true
		r.mu.Lock()
		r.sessions[id].Status = models.SessionCompleted
		r.mu.Unlock()
		return false, models.SessionCompleted, nil
	}
	return r.fakeSessionRepo.CompareAndSetStatus(ctx, id, expected, next, at)
}

func TestLostRaceReplansIntoNoop(t *testing.T) {
	session := liveSession("s1", "room-1", time.Hour)
	repo := &racingSessionRepo{fakeSessionRepo: newFakeSessionRepo(session)}
	publisher := &capturingPublisher{}
	r := NewReconciler(repo, testRegistry(nil), publisher, time.Minute, 2*time.Minute, zap.NewNop())

	err := r.ApplyProviderEvent(context.Background(), models.ProviderEvent{
		Type:    models.EventSessionEnded,
		Payload: models.ProviderEventPayload{RoomID: "room-1"},
	})
	require.NoError(t, err)

	// Whoever won already completed the session; no second transition,
	// no duplicate audit event.
	assert.Equal(t, models.SessionCompleted, repo.status("s1"))
	assert.Empty(t, publisher.kinds())
}
