// Package session persists conversation sessions and serializes turns per session.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hyperjump/lumimind/internal/config"
	"github.com/hyperjump/lumimind/internal/models"
)

// ErrNotFound is returned for a missing or expired session.
var ErrNotFound = errors.New("session not found")

// Store persists sessions.
type Store interface {
	Get(ctx context.Context, id string) (*models.Session, error)
	Put(ctx context.Context, s *models.Session) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// New builds the store selected by cfg.
func New(ctx context.Context, cfg config.ConversationConfig) (Store, error) {
	switch cfg.SessionStore {
	case "", "memory":
		return NewMemoryStore(cfg.SessionTTL), nil
	case "redis":
		return NewRedisStore(ctx, cfg.RedisURL, cfg.SessionTTL)
	}
	return nil, &models.ConfigurationError{Field: "conversation.session_store", Reason: fmt.Sprintf("unknown store %q", cfg.SessionStore)}
}

type memoryEntry struct {
	session *models.Session
	expires time.Time
}

// MemoryStore keeps sessions in process memory. Entries expire ttl after their last Put.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore creates a store. ttl <= 0 keeps sessions until deleted.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), ttl: ttl, now: time.Now}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !e.expires.IsZero() && m.now().After(e.expires) {
		delete(m.entries, id)
		return nil, ErrNotFound
	}
	return copySession(e.session), nil
}

func (m *MemoryStore) Put(_ context.Context, s *models.Session) error {
	if s == nil || s.Context.ID == "" {
		return &models.ValidationError{Field: "session.id", Reason: "required"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memoryEntry{session: copySession(s)}
	if m.ttl > 0 {
		e.expires = m.now().Add(m.ttl)
	}
	m.entries[s.Context.ID] = e
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

// Len returns the number of stored sessions, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *MemoryStore) Close() error { return nil }

func copySession(s *models.Session) *models.Session {
	out := &models.Session{
		Context:   s.Context.Clone(),
		History:   make([]models.Turn, len(s.History)),
		UpdatedAt: s.UpdatedAt,
	}
	copy(out.History, s.History)
	return out
}
