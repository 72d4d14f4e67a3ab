package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"liveclass-service/internal/config"
	"liveclass-service/internal/models"
	"liveclass-service/internal/provider"
	"liveclass-service/internal/repository/scylla"
)

// memorySessionRepo covers the slice of SessionRepository the scheduler
// touches: list, create, delete.
type memorySessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	failNext bool
}

func newMemorySessionRepo(sessions ...*models.Session) *memorySessionRepo {
	repo := &memorySessionRepo{sessions: make(map[string]*models.Session)}
	for _, s := range sessions {
		repo.sessions[s.ID] = s
	}
	return repo
}

func (r *memorySessionRepo) Create(ctx context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext {
		r.failNext = false
		return fmt.Errorf("write timeout")
	}
	r.sessions[session.ID] = session
	return nil
}

func (r *memorySessionRepo) GetByID(ctx context.Context, id string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, scylla.ErrNotFound
	}
	return s, nil
}

func (r *memorySessionRepo) GetByProviderRoomID(ctx context.Context, roomID string) (*models.Session, error) {
	return nil, scylla.ErrNotFound
}

func (r *memorySessionRepo) ListByStatus(ctx context.Context, status models.SessionStatus) ([]*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Session
	for _, s := range r.sessions {
		if s.Status == status {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memorySessionRepo) ListByType(ctx context.Context, sessionType models.SessionType) ([]*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Session
	for _, s := range r.sessions {
		if s.Type == sessionType {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memorySessionRepo) CompareAndSetStatus(ctx context.Context, id string, expected, next models.SessionStatus, at time.Time) (bool, models.SessionStatus, error) {
	return false, "", fmt.Errorf("not used")
}

func (r *memorySessionRepo) AddParticipant(ctx context.Context, id, userID string) error    { return nil }
func (r *memorySessionRepo) RemoveParticipant(ctx context.Context, id, userID string) error { return nil }
func (r *memorySessionRepo) AddAttendee(ctx context.Context, id, userID string) error       { return nil }
func (r *memorySessionRepo) SetLocked(ctx context.Context, id string, locked bool) error    { return nil }
func (r *memorySessionRepo) SetStartedAt(ctx context.Context, id string, at time.Time) error {
	return nil
}
func (r *memorySessionRepo) SetEndedAt(ctx context.Context, id string, at time.Time) error { return nil }

func (r *memorySessionRepo) Delete(ctx context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, session.ID)
	return nil
}

func (r *memorySessionRepo) standing() []*models.Session {
	out, _ := r.ListByType(context.Background(), models.SessionTypeStanding)
	return out
}

func (r *memorySessionRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// creatingProvider counts room creations and can be set to fail.
type creatingProvider struct {
	created      int
	deleted      []string
	failCreation bool
}

func (p *creatingProvider) CreateRoom(ctx context.Context, title string, startAt time.Time, duration time.Duration) (*provider.Room, error) {
	if p.failCreation {
		return nil, provider.ErrUnavailable
	}
	p.created++
	return &provider.Room{
		ID:      fmt.Sprintf("room-%d", p.created),
		JoinURL: fmt.Sprintf("https://conf.example.com/j/room-%d", p.created),
	}, nil
}

func (p *creatingProvider) GetRoom(ctx context.Context, roomID string) (*provider.Room, error) {
	return nil, provider.ErrRoomNotFound
}

func (p *creatingProvider) DeleteRoom(ctx context.Context, roomID string) error {
	p.deleted = append(p.deleted, roomID)
	return nil
}

func (p *creatingProvider) ListRecordings(ctx context.Context, roomID string) ([]provider.Recording, error) {
	return nil, nil
}

func (p *creatingProvider) JoinURLFor(ctx context.Context, roomID string, role models.Role) (string, error) {
	return "", provider.ErrRoomNotFound
}

// memoryLock grants each (job, day) pair exactly once.
type memoryLock struct {
	mu    sync.Mutex
	taken map[string]bool
}

func (l *memoryLock) Acquire(job string, day time.Time, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.taken == nil {
		l.taken = make(map[string]bool)
	}
	key := job + ":" + day.Format("2006-01-02")
	if l.taken[key] {
		return false, nil
	}
	l.taken[key] = true
	return true, nil
}

func weekdaySchedulerConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		RunAtHour:        6,
		ActiveDays:       []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		StandingTitle:    "Daily Live Class",
		StandingHour:     18,
		StandingMinute:   30,
		StandingDuration: 90 * time.Minute,
		StandingHostID:   "host-1",
		Retention:        30 * 24 * time.Hour,
	}
}

func newTestScheduler(repo *memorySessionRepo, prov *creatingProvider, locks LockAcquirer, at time.Time) *DailyScheduler {
	registry := provider.NewRegistry()
	registry.Register("fake", prov)
	s := NewDailyScheduler(repo, registry, locks, nil, weekdaySchedulerConfig(), "fake", zap.NewNop())
	s.now = func() time.Time { return at }
	return s
}

// 2026-03-11 is a Wednesday.
var wednesdayMorning = time.Date(2026, time.March, 11, 6, 0, 0, 0, time.UTC)

func TestRunOnceCreatesStandingSession(t *testing.T) {
	repo := newMemorySessionRepo()
	prov := &creatingProvider{}
	s := newTestScheduler(repo, prov, nil, wednesdayMorning)

	require.NoError(t, s.RunOnce(context.Background()))

	standing := repo.standing()
	require.Len(t, standing, 1)
	session := standing[0]
	assert.Equal(t, models.SessionScheduled, session.Status)
	assert.Equal(t, "Daily Live Class", session.Title)
	assert.Equal(t, "room-1", session.ProviderRoomID)
	assert.Equal(t, 18, session.ScheduledAt.Hour())
	assert.Equal(t, 30, session.ScheduledAt.Minute())
	assert.Equal(t, wednesdayMorning.Day(), session.ScheduledAt.Day())
}

func TestRunOnceTwiceSameDayIsIdempotent(t *testing.T) {
	repo := newMemorySessionRepo()
	prov := &creatingProvider{}
	s := newTestScheduler(repo, prov, nil, wednesdayMorning)

	require.NoError(t, s.RunOnce(context.Background()))
	require.NoError(t, s.RunOnce(context.Background()))

	assert.Len(t, repo.standing(), 1)
	assert.Equal(t, 1, prov.created, "second pass must not create another room")
}

func TestRunOnceSkipsInactiveDay(t *testing.T) {
	// 2026-03-14 is a Saturday.
	saturday := time.Date(2026, time.March, 14, 6, 0, 0, 0, time.UTC)
	repo := newMemorySessionRepo()
	prov := &creatingProvider{}
	s := newTestScheduler(repo, prov, nil, saturday)

	require.NoError(t, s.RunOnce(context.Background()))

	assert.Empty(t, repo.standing())
	assert.Zero(t, prov.created)
}

func TestRunOnceSweepsStaleStandingSession(t *testing.T) {
	yesterday := wednesdayMorning.AddDate(0, 0, -1)
	stale := &models.Session{
		ID:             "stale",
		Status:         models.SessionScheduled, // nobody ever started it
		Type:           models.SessionTypeStanding,
		ScheduledAt:    time.Date(yesterday.Year(), yesterday.Month(), yesterday.Day(), 18, 30, 0, 0, time.UTC),
		ProviderTag:    "fake",
		ProviderRoomID: "room-old",
	}
	repo := newMemorySessionRepo(stale)
	prov := &creatingProvider{}
	s := newTestScheduler(repo, prov, nil, wednesdayMorning)

	require.NoError(t, s.RunOnce(context.Background()))

	standing := repo.standing()
	require.Len(t, standing, 1)
	assert.NotEqual(t, "stale", standing[0].ID)
	assert.Contains(t, prov.deleted, "room-old")
}

func TestRunOnceProviderFailureLeavesNoOrphan(t *testing.T) {
	repo := newMemorySessionRepo()
	prov := &creatingProvider{failCreation: true}
	s := newTestScheduler(repo, prov, nil, wednesdayMorning)

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrUnavailable)

	// No local record without a provider room; the next run retries.
	assert.Zero(t, repo.count())

	prov.failCreation = false
	require.NoError(t, s.RunOnce(context.Background()))
	assert.Len(t, repo.standing(), 1)
}

func TestRunOnceLockContention(t *testing.T) {
	repo := newMemorySessionRepo()
	prov := &creatingProvider{}
	locks := &memoryLock{}

	first := newTestScheduler(repo, prov, locks, wednesdayMorning)
	second := newTestScheduler(repo, prov, locks, wednesdayMorning)

	require.NoError(t, first.RunOnce(context.Background()))
	require.NoError(t, second.RunOnce(context.Background()))

	assert.Len(t, repo.standing(), 1)
	assert.Equal(t, 1, prov.created)
}

func TestSweepTerminalHonorsRetention(t *testing.T) {
	old := wednesdayMorning.Add(-60 * 24 * time.Hour)
	recent := wednesdayMorning.Add(-time.Hour)

	expired := &models.Session{
		ID:      "expired",
		Status:  models.SessionCompleted,
		Type:    models.SessionTypeAdHoc,
		EndedAt: &old,
	}
	fresh := &models.Session{
		ID:      "fresh",
		Status:  models.SessionCompleted,
		Type:    models.SessionTypeAdHoc,
		EndedAt: &recent,
	}
	repo := newMemorySessionRepo(expired, fresh)
	s := newTestScheduler(repo, &creatingProvider{}, nil, wednesdayMorning)

	errs := s.sweepTerminal(context.Background())
	assert.Empty(t, errs)

	_, err := repo.GetByID(context.Background(), "expired")
	assert.ErrorIs(t, err, scylla.ErrNotFound)
	_, err = repo.GetByID(context.Background(), "fresh")
	assert.NoError(t, err)
}

func TestNextRunRollsToTomorrow(t *testing.T) {
	repo := newMemorySessionRepo()
	s := newTestScheduler(repo, &creatingProvider{}, nil, wednesdayMorning.Add(3*time.Hour))

	next := s.nextRun()
	assert.Equal(t, 6, next.Hour())
	assert.Equal(t, wednesdayMorning.Day()+1, next.Day())
}
