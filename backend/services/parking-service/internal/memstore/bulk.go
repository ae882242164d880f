package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"parkline/backend/services/parking-service/internal/models"
	"parkline/backend/services/parking-service/internal/repository"
)

// Bulk stores chunks and sub-assignments under one lock so an assign's
// check-then-reserve is serialised per store.
type Bulk struct {
	mu          sync.Mutex
	nextChunk   int64
	nextAssign  int64
	chunks      map[int64]*models.BulkChunk
	assignments map[int64]*models.SubAssignment
	tokens      map[string]struct{}
}

// NewBulk returns initialized store.
func NewBulk() *Bulk {
	return &Bulk{
		chunks:      make(map[int64]*models.BulkChunk),
		assignments: make(map[int64]*models.SubAssignment),
		tokens:      make(map[string]struct{}),
	}
}

// CreateChunk stores the chunk and stamps the token derived from its id.
func (m *Bulk) CreateChunk(_ context.Context, c *models.BulkChunk, tokenFor func(id int64) string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextChunk++
	tok := tokenFor(m.nextChunk)
	if _, dup := m.tokens[tok]; dup {
		return repository.ErrDuplicateToken
	}
	m.tokens[tok] = struct{}{}
	c.ID = m.nextChunk
	c.Token = tok
	c.UsedSpots = 0
	c.AvailableSpots = c.TotalSpots
	c.Status = models.ChunkActive
	c.UpdatedAt = c.CreatedAt
	cp := *c
	m.chunks[c.ID] = &cp
	return nil
}

// GetChunk returns a copy of the chunk.
func (m *Bulk) GetChunk(_ context.Context, id int64) (*models.BulkChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chunks[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyChunk(c), nil
}

// ChunkIDs lists chunk ids in ascending order.
func (m *Bulk) ChunkIDs(_ context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.chunks))
	for id := range m.chunks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Assign reserves spots and records the sub-assignment.
func (m *Bulk) Assign(_ context.Context, a *models.SubAssignment, now time.Time, tokenFor func(id int64) string) (*models.BulkChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chunks[a.ChunkID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if c.UsedSpots+a.AssignedSpots > c.TotalSpots {
		return nil, repository.ErrInsufficientSpots
	}
	m.nextAssign++
	tok := tokenFor(m.nextAssign)
	if _, dup := m.tokens[tok]; dup {
		return nil, repository.ErrDuplicateToken
	}
	m.tokens[tok] = struct{}{}
	c.UsedSpots += a.AssignedSpots
	c.Reconcile(now)
	c.UpdatedAt = now

	a.ID = m.nextAssign
	a.Token = tok
	a.Status = models.AssignmentActive
	a.CreatedAt = now
	a.UpdatedAt = now
	cp := *a
	m.assignments[a.ID] = &cp
	return copyChunk(c), nil
}

// GetAssignment returns a copy of the sub-assignment.
func (m *Bulk) GetAssignment(_ context.Context, id int64) (*models.SubAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// ListAssignments returns the sub-assignments of a chunk ordered by id.
func (m *Bulk) ListAssignments(_ context.Context, chunkID int64) ([]models.SubAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SubAssignment
	for _, a := range m.assignments {
		if a.ChunkID == chunkID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AssignmentIDs lists sub-assignment ids in ascending order.
func (m *Bulk) AssignmentIDs(_ context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.assignments))
	for id := range m.assignments {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// ReleaseAssignment frees the assignment's spots once.
func (m *Bulk) ReleaseAssignment(_ context.Context, id int64, now time.Time) (*models.BulkChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if a.Status == models.AssignmentReleased {
		return nil, repository.ErrAlreadyReleased
	}
	a.Status = models.AssignmentReleased
	a.UpdatedAt = now

	c := m.chunks[a.ChunkID]
	c.UsedSpots -= a.AssignedSpots
	c.Reconcile(now)
	c.UpdatedAt = now
	return copyChunk(c), nil
}

// Reconcile recomputes used spots from active assignments, then the derived fields.
func (m *Bulk) Reconcile(_ context.Context, id int64, now time.Time) (*models.BulkChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chunks[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	used := 0
	for _, a := range m.assignments {
		if a.ChunkID == id && a.Status == models.AssignmentActive {
			used += a.AssignedSpots
		}
	}
	c.UsedSpots = used
	c.Reconcile(now)
	c.UpdatedAt = now
	return copyChunk(c), nil
}

// MarkCapacityReleased flips the chunk's released flag once its window ended.
func (m *Bulk) MarkCapacityReleased(_ context.Context, id int64, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chunks[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if c.CapacityReleased || !c.Ended(now) {
		return false, nil
	}
	c.CapacityReleased = true
	c.UpdatedAt = now
	return true, nil
}

// LinkChunkTransaction sets the chunk's transaction id once.
func (m *Bulk) LinkChunkTransaction(_ context.Context, chunkID, transactionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chunks[chunkID]
	if !ok || (c.TransactionID != nil && *c.TransactionID != transactionID) {
		return repository.ErrStateConflict
	}
	tid := transactionID
	c.TransactionID = &tid
	return nil
}

func copyChunk(c *models.BulkChunk) *models.BulkChunk {
	cp := *c
	if c.TransactionID != nil {
		id := *c.TransactionID
		cp.TransactionID = &id
	}
	return &cp
}
