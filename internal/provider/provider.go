package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"liveclass-service/internal/models"
)

var (
	// ErrUnavailable marks transient provider failures: timeouts, 5xx,
	// connection errors. Callers may retry the call, nothing else.
	ErrUnavailable = errors.New("provider unavailable")

	ErrRoomNotFound    = errors.New("provider room not found")
	ErrUnknownProvider = errors.New("unknown provider tag")
)

// Room is the provider-side representation of a session's meeting room.
type Room struct {
	ID      string
	JoinURL string
	HostURL string
	Active  bool
}

type Recording struct {
	ID          string
	StartedAt   time.Time
	Duration    time.Duration
	DownloadURL string
}

// Provider is the capability surface the rest of the service needs from
// a conferencing vendor. One implementation per vendor; sessions carry a
// provider tag that selects the implementation at runtime.
type Provider interface {
	CreateRoom(ctx context.Context, title string, startAt time.Time, duration time.Duration) (*Room, error)
	GetRoom(ctx context.Context, roomID string) (*Room, error)
	DeleteRoom(ctx context.Context, roomID string) error
	ListRecordings(ctx context.Context, roomID string) ([]Recording, error)

	// JoinURLFor resolves the connection URL for a role: hosts and
	// admins get the host/start URL, everyone else the attendee URL.
	JoinURLFor(ctx context.Context, roomID string, role models.Role) (string, error)
}

// Registry maps provider tags to implementations.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

func (r *Registry) Register(tag string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[tag] = p
}

func (r *Registry) Get(tag string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, tag)
	}
	return p, nil
}
