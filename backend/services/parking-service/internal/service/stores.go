package service

import (
	"context"
	"time"

	"parkline/backend/services/parking-service/internal/models"
	redisstore "parkline/backend/services/parking-service/internal/redis"
)

// SessionStore persists sessions. Transition is a compare-and-set on state.
type SessionStore interface {
	Create(ctx context.Context, s *models.Session) error
	GetByID(ctx context.Context, id int64) (*models.Session, error)
	GetByToken(ctx context.Context, token string) (*models.Session, error)
	Transition(ctx context.Context, id int64, from models.SessionState, upd models.SessionUpdate, now time.Time) (*models.Session, error)
	LinkTransaction(ctx context.Context, id, transactionID int64) error
	List(ctx context.Context, f models.SessionFilter) ([]models.Session, error)
}

// CapacityStore keeps slot counters with atomic conditional updates.
type CapacityStore interface {
	Get(ctx context.Context, facilityID int64, vt models.VehicleType) (*models.Capacity, error)
	Provision(ctx context.Context, c models.Capacity) (*models.Capacity, error)
	Take(ctx context.Context, facilityID int64, vt models.VehicleType, q models.Quota, n int) (*models.Capacity, error)
	Release(ctx context.Context, facilityID int64, vt models.VehicleType, q models.Quota, n int) (*models.Capacity, error)
	ListByFacility(ctx context.Context, facilityID int64) ([]models.Capacity, error)
}

// BulkStore keeps bulk chunks and sub-assignments.
type BulkStore interface {
	CreateChunk(ctx context.Context, c *models.BulkChunk, tokenFor func(id int64) string) error
	GetChunk(ctx context.Context, id int64) (*models.BulkChunk, error)
	ChunkIDs(ctx context.Context) ([]int64, error)
	Assign(ctx context.Context, a *models.SubAssignment, now time.Time, tokenFor func(id int64) string) (*models.BulkChunk, error)
	GetAssignment(ctx context.Context, id int64) (*models.SubAssignment, error)
	ListAssignments(ctx context.Context, chunkID int64) ([]models.SubAssignment, error)
	AssignmentIDs(ctx context.Context) ([]int64, error)
	ReleaseAssignment(ctx context.Context, id int64, now time.Time) (*models.BulkChunk, error)
	Reconcile(ctx context.Context, id int64, now time.Time) (*models.BulkChunk, error)
	MarkCapacityReleased(ctx context.Context, id int64, now time.Time) (bool, error)
	LinkChunkTransaction(ctx context.Context, chunkID, transactionID int64) error
}

// TransactionStore is the ledger.
type TransactionStore interface {
	Upsert(ctx context.Context, t *models.Transaction) (bool, error)
	GetByID(ctx context.Context, id int64) (*models.Transaction, error)
	GetByReference(ctx context.Context, typ models.TransactionType, referenceID int64) (*models.Transaction, error)
	UpdateStatus(ctx context.Context, id int64, from, to models.TransactionStatus, now time.Time) (*models.Transaction, error)
	List(ctx context.Context, f models.TransactionFilter) ([]models.Transaction, error)
}

// PricingSource is a facility catalog backend.
type PricingSource interface {
	GetPricing(ctx context.Context, facilityID int64, vt models.VehicleType) (*models.Pricing, error)
}

// ActiveCache indexes sessions whose vehicle is inside.
type ActiveCache interface {
	Save(ctx context.Context, session redisstore.ActiveSession) error
	Delete(ctx context.Context, facilityID int64, token string) error
	ListByFacility(ctx context.Context, facilityID int64) ([]redisstore.ActiveSession, error)
}

// Broadcaster receives every capacity change.
type Broadcaster interface {
	Broadcast(c models.Capacity)
}
