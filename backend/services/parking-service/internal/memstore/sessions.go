// Package memstore keeps parking state in process memory. It honours the same
// conditional-update contracts as the Postgres repositories and backs the
// "memory" storage driver.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"parkline/backend/services/parking-service/internal/models"
	"parkline/backend/services/parking-service/internal/repository"
)

// Sessions stores sessions by id with a token index.
type Sessions struct {
	mu      sync.RWMutex
	nextID  int64
	byID    map[int64]*models.Session
	byToken map[string]int64
}

// NewSessions returns initialized store.
func NewSessions() *Sessions {
	return &Sessions{
		byID:    make(map[int64]*models.Session),
		byToken: make(map[string]int64),
	}
}

// Create stores a copy of s and assigns its id.
func (m *Sessions) Create(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.byToken[s.Token]; dup && s.Token != "" {
		return repository.ErrDuplicateToken
	}
	m.nextID++
	s.ID = m.nextID
	s.UpdatedAt = s.CreatedAt
	m.byID[s.ID] = s.Clone()
	if s.Token != "" {
		m.byToken[s.Token] = s.ID
	}
	return nil
}

// GetByID returns a copy of the session.
func (m *Sessions) GetByID(_ context.Context, id int64) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s.Clone(), nil
}

// GetByToken returns a copy of the session addressed by token.
func (m *Sessions) GetByToken(_ context.Context, token string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byToken[token]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return m.byID[id].Clone(), nil
}

// Transition applies upd only if the stored state is still from.
func (m *Sessions) Transition(_ context.Context, id int64, from models.SessionState, upd models.SessionUpdate, now time.Time) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if s.State != from {
		return nil, repository.ErrStateConflict
	}
	upd.Apply(s, now)
	return s.Clone(), nil
}

// LinkTransaction sets the transaction id once.
func (m *Sessions) LinkTransaction(_ context.Context, id, transactionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return repository.ErrStateConflict
	}
	if s.TransactionID != nil && *s.TransactionID != transactionID {
		return repository.ErrStateConflict
	}
	tid := transactionID
	s.TransactionID = &tid
	return nil
}

// List returns sessions matching f, newest first.
func (m *Sessions) List(_ context.Context, f models.SessionFilter) ([]models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Session
	for _, s := range m.byID {
		if f.UserID > 0 && s.UserID != f.UserID {
			continue
		}
		if f.FacilityID > 0 && s.FacilityID != f.FacilityID {
			continue
		}
		if f.Kind != "" && s.Kind != f.Kind {
			continue
		}
		if len(f.States) > 0 && !hasState(f.States, s.State) {
			continue
		}
		out = append(out, *s.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func hasState(states []models.SessionState, s models.SessionState) bool {
	for _, st := range states {
		if st == s {
			return true
		}
	}
	return false
}
