package session

import (
	"strings"
	"sync"
	"time"
)

const (
	TokenLifetime = 30 * time.Minute
	RefreshMargin = 5 * time.Minute
	LandingRoute  = "/"
)

type Phase int

const (
	Unauthenticated Phase = iota
	PendingRefresh
	Refreshing
)

func (p Phase) String() string {
	switch p {
	case PendingRefresh:
		return "authenticated (pending refresh)"
	case Refreshing:
		return "authenticated (refreshing)"
	default:
		return "unauthenticated"
	}
}

// Snapshot is the persisted part of a session.
type Snapshot struct {
	AccessToken string    `json:"accessToken,omitempty"`
	Identity    string    `json:"email,omitempty"`
	ExpiresAt   time.Time `json:"accessTokenExpiresAt,omitzero"`
}

func (s Snapshot) Empty() bool {
	return strings.TrimSpace(s.AccessToken) == ""
}

// Store persists snapshots between runs. Clear must leave Load returning an
// empty snapshot.
type Store interface {
	Load() (Snapshot, error)
	Save(Snapshot) error
	Clear() error
}

type memoryStore struct {
	mu       sync.Mutex
	snapshot Snapshot
}

// NewMemoryStore returns a Store that forgets everything on exit.
func NewMemoryStore() Store {
	return &memoryStore{}
}

func (m *memoryStore) Load() (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot, nil
}

func (m *memoryStore) Save(s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = s
	return nil
}

func (m *memoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = Snapshot{}
	return nil
}
