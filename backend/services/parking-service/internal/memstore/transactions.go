package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"parkline/backend/services/parking-service/internal/models"
	"parkline/backend/services/parking-service/internal/repository"
)

type referenceKey struct {
	typ models.TransactionType
	ref int64
}

// Transactions is the in-memory ledger, one row per (type, reference).
type Transactions struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*models.Transaction
	byRef  map[referenceKey]int64
}

// NewTransactions returns initialized store.
func NewTransactions() *Transactions {
	return &Transactions{
		byID:  make(map[int64]*models.Transaction),
		byRef: make(map[referenceKey]int64),
	}
}

// Upsert inserts or updates the row for t's reference. Refunded rows stay untouched.
func (m *Transactions) Upsert(_ context.Context, t *models.Transaction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := referenceKey{t.Type, t.ReferenceID}
	if id, ok := m.byRef[key]; ok {
		stored := m.byID[id]
		if stored.Status != models.TxRefunded {
			stored.Amount = t.Amount
			stored.Method = t.Method
			stored.Status = t.Status
			stored.UpdatedAt = t.UpdatedAt
		}
		*t = *stored
		return false, nil
	}
	m.nextID++
	t.ID = m.nextID
	t.CreatedAt = t.UpdatedAt
	cp := *t
	m.byID[t.ID] = &cp
	m.byRef[key] = t.ID
	return true, nil
}

// GetByID returns a copy of the transaction.
func (m *Transactions) GetByID(_ context.Context, id int64) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// GetByReference returns the transaction for a session or chunk.
func (m *Transactions) GetByReference(_ context.Context, typ models.TransactionType, referenceID int64) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byRef[referenceKey{typ, referenceID}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *m.byID[id]
	return &cp, nil
}

// UpdateStatus moves a transaction from one status to another.
func (m *Transactions) UpdateStatus(_ context.Context, id int64, from, to models.TransactionStatus, now time.Time) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok || t.Status != from {
		return nil, repository.ErrStateConflict
	}
	t.Status = to
	t.UpdatedAt = now
	cp := *t
	return &cp, nil
}

// List returns transactions matching f, newest first.
func (m *Transactions) List(_ context.Context, f models.TransactionFilter) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Transaction
	for _, t := range m.byID {
		if f.UserID > 0 && t.UserID != f.UserID {
			continue
		}
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
