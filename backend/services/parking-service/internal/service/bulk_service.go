package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"parkline/backend/services/parking-service/internal/events"
	"parkline/backend/services/parking-service/internal/fee"
	"parkline/backend/services/parking-service/internal/metrics"
	"parkline/backend/services/parking-service/internal/models"
	"parkline/backend/services/parking-service/internal/repository"
	"parkline/backend/services/parking-service/internal/token"
)

// CreateChunkInput is a bulk purchase request.
type CreateChunkInput struct {
	PurchaserID int64
	FacilityID  int64
	VehicleType models.VehicleType
	TotalSpots  int
	ValidFrom   time.Time
	ValidTo     time.Time
	Method      string
}

// AssignInput hands spots of a chunk to a guest.
type AssignInput struct {
	ChunkID    int64
	AssigneeID int64
	Spots      int
	ValidFrom  time.Time
	ValidTo    time.Time
}

// ChunkResult is a purchased chunk and its ledger entry. Transaction is nil with
// NoticePaymentPending when the ledger write failed; Reconcile records it later.
type ChunkResult struct {
	Chunk       *models.BulkChunk   `json:"chunk"`
	Transaction *models.Transaction `json:"transaction"`
	Notice      Notice              `json:"notice,omitempty"`
}

// AssignResult is a new sub-assignment and the chunk after the reservation.
type AssignResult struct {
	Assignment *models.SubAssignment `json:"assignment"`
	Chunk      *models.BulkChunk     `json:"chunk"`
}

// ReleaseResult is the chunk after a sub-assignment was released.
type ReleaseResult struct {
	Chunk  *models.BulkChunk `json:"chunk"`
	Notice Notice            `json:"notice,omitempty"`
}

// BulkService is the bulk allocation ledger.
type BulkService struct {
	store      BulkStore
	capacity   *CapacityService
	catalog    *CatalogService
	reconciler *Reconciler
	tokens     *token.Registry
	events     events.Publisher
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewBulkService builds service. pub and m may be nil.
func NewBulkService(store BulkStore, capacity *CapacityService, catalog *CatalogService, reconciler *Reconciler, tokens *token.Registry, pub events.Publisher, m *metrics.Metrics, logger *zap.Logger) *BulkService {
	if pub == nil {
		pub = events.Noop{}
	}
	return &BulkService{
		store:      store,
		capacity:   capacity,
		catalog:    catalog,
		reconciler: reconciler,
		tokens:     tokens,
		events:     pub,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

// CreateChunk buys totalSpots reservation slots for the window, issues the chunk token
// and records the purchase.
func (s *BulkService) CreateChunk(ctx context.Context, in CreateChunkInput) (*ChunkResult, error) {
	if in.PurchaserID <= 0 || in.FacilityID <= 0 || in.TotalSpots <= 0 {
		return nil, fmt.Errorf("%w: purchaser, facility and a positive spot count are required", ErrInvalidInput)
	}
	if !in.ValidTo.After(in.ValidFrom) {
		return nil, fmt.Errorf("%w: valid_to must be after valid_from", ErrInvalidInput)
	}
	now := s.now().UTC()
	if !in.ValidTo.After(now) {
		return nil, fmt.Errorf("%w: window ended at %s", ErrOutOfRange, in.ValidTo.UTC().Format(time.RFC3339))
	}

	pricing, err := s.catalog.Pricing(ctx, in.FacilityID, in.VehicleType)
	if err != nil {
		return nil, err
	}
	if _, err := s.capacity.Take(ctx, in.FacilityID, in.VehicleType, models.QuotaReservation, in.TotalSpots); err != nil {
		return nil, err
	}

	chunk := &models.BulkChunk{
		PurchaserID: in.PurchaserID,
		FacilityID:  in.FacilityID,
		VehicleType: in.VehicleType,
		TotalSpots:  in.TotalSpots,
		ValidFrom:   in.ValidFrom.UTC(),
		ValidTo:     in.ValidTo.UTC(),
		CreatedAt:   now,
	}
	tokenFor := func(id int64) string { return s.tokens.IssueTyped(id, token.KindBulkBooking) }
	if err := s.store.CreateChunk(ctx, chunk, tokenFor); err != nil {
		if _, relErr := s.capacity.Release(ctx, in.FacilityID, in.VehicleType, models.QuotaReservation, in.TotalSpots); relErr != nil {
			s.logger.Error("failed to return chunk capacity", zap.Int64("facility_id", in.FacilityID), zap.Error(relErr))
		}
		return nil, internalErr("create chunk", err)
	}

	amount := ChunkPrice(pricing.PricePerDay, in.TotalSpots, chunk.ValidFrom, chunk.ValidTo)
	s.metrics.BulkChunk(*chunk)
	tx, err := s.settle(ctx, chunk, amount, in.Method)
	if err != nil {
		// Chunk and capacity are committed; Reconcile records the purchase.
		s.logger.Error("bulk chunk created without transaction",
			zap.Int64("chunk_id", chunk.ID),
			zap.String("amount", amount.StringFixed(2)),
			zap.Error(err),
		)
		return &ChunkResult{Chunk: chunk, Notice: NoticePaymentPending}, nil
	}

	s.logger.Info("bulk chunk created",
		zap.Int64("chunk_id", chunk.ID),
		zap.Int64("purchaser_id", chunk.PurchaserID),
		zap.Int64("facility_id", chunk.FacilityID),
		zap.Int("total_spots", chunk.TotalSpots),
		zap.String("amount", amount.StringFixed(2)),
	)
	return &ChunkResult{Chunk: chunk, Transaction: tx}, nil
}

func (s *BulkService) settle(ctx context.Context, c *models.BulkChunk, amount decimal.Decimal, method string) (*models.Transaction, error) {
	tx, err := s.reconciler.Reconcile(ctx, LedgerRef{
		Type:        models.TxBulkBooking,
		ReferenceID: c.ID,
		UserID:      c.PurchaserID,
	}, amount, method)
	if err != nil {
		return nil, err
	}
	c.TransactionID = &tx.ID
	return tx, nil
}

// ChunkPrice is spots × daily price × started days of the window.
func ChunkPrice(perDay decimal.Decimal, spots int, from, to time.Time) decimal.Decimal {
	return perDay.Mul(decimal.NewFromInt(int64(spots))).Mul(decimal.NewFromInt(int64(fee.Days(from, to))))
}

// Assign gives spots of a chunk to a guest for a window inside the chunk's window.
func (s *BulkService) Assign(ctx context.Context, in AssignInput) (*AssignResult, error) {
	if in.AssigneeID <= 0 || in.Spots <= 0 {
		return nil, fmt.Errorf("%w: assignee and a positive spot count are required", ErrInvalidInput)
	}
	chunk, err := s.GetChunk(ctx, in.ChunkID)
	if err != nil {
		return nil, err
	}
	if chunk.Status == models.ChunkExpired {
		return nil, fmt.Errorf("%w: chunk %d expired at %s", ErrOutOfRange, chunk.ID, chunk.ValidTo.Format(time.RFC3339))
	}
	from, to := in.ValidFrom.UTC(), in.ValidTo.UTC()
	if !chunk.Covers(from, to) {
		return nil, fmt.Errorf("%w: window is outside chunk %d", ErrOutOfRange, chunk.ID)
	}

	now := s.now().UTC()
	a := &models.SubAssignment{
		ChunkID:       chunk.ID,
		AssigneeID:    in.AssigneeID,
		AssignedSpots: in.Spots,
		ValidFrom:     from,
		ValidTo:       to,
	}
	tokenFor := func(id int64) string { return s.tokens.IssueTyped(id, token.KindSubBulkBooking) }
	updated, err := s.store.Assign(ctx, a, now, tokenFor)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrInsufficientSpots):
			s.metrics.Rejection("INSUFFICIENT_CAPACITY")
			return nil, fmt.Errorf("%w: chunk %d cannot fit %d more spots", ErrInsufficientCapacity, chunk.ID, in.Spots)
		case errors.Is(err, repository.ErrNotFound):
			return nil, fmt.Errorf("%w: chunk %d", ErrNotFound, in.ChunkID)
		}
		return nil, internalErr("assign spots", err)
	}

	s.metrics.BulkChunk(*updated)
	if err := s.events.Publish(ctx, events.BulkAssigned, events.BulkAssignedEvent{
		ChunkID:        updated.ID,
		AssignmentID:   a.ID,
		AssigneeID:     a.AssigneeID,
		AssignedSpots:  a.AssignedSpots,
		AvailableSpots: updated.AvailableSpots,
		ChunkStatus:    string(updated.Status),
	}); err != nil {
		s.logger.Warn("failed to publish assignment", zap.Int64("assignment_id", a.ID), zap.Error(err))
	}
	s.logger.Info("bulk spots assigned",
		zap.Int64("chunk_id", updated.ID),
		zap.Int64("assignment_id", a.ID),
		zap.Int("spots", a.AssignedSpots),
		zap.Int("available_spots", updated.AvailableSpots),
	)
	return &AssignResult{Assignment: a, Chunk: updated}, nil
}

// Release returns a sub-assignment's spots to its chunk. Releasing twice is a no-op.
func (s *BulkService) Release(ctx context.Context, assignmentID int64) (*ReleaseResult, error) {
	chunk, err := s.store.ReleaseAssignment(ctx, assignmentID, s.now().UTC())
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, fmt.Errorf("%w: assignment %d", ErrNotFound, assignmentID)
		case errors.Is(err, repository.ErrAlreadyReleased):
			a, getErr := s.store.GetAssignment(ctx, assignmentID)
			if getErr != nil {
				return nil, internalErr("get assignment", getErr)
			}
			c, getErr := s.GetChunk(ctx, a.ChunkID)
			if getErr != nil {
				return nil, getErr
			}
			return &ReleaseResult{Chunk: c, Notice: NoticeAlreadyReleased}, nil
		}
		return nil, internalErr("release assignment", err)
	}
	s.metrics.BulkChunk(*chunk)
	s.logger.Info("bulk assignment released",
		zap.Int64("assignment_id", assignmentID),
		zap.Int64("chunk_id", chunk.ID),
		zap.Int("available_spots", chunk.AvailableSpots),
	)
	return &ReleaseResult{Chunk: chunk}, nil
}

// Reconcile recomputes the chunk's counters from its active assignments, records a
// purchase whose ledger write failed and returns the spots of an ended chunk.
func (s *BulkService) Reconcile(ctx context.Context, chunkID int64) (*models.BulkChunk, error) {
	now := s.now().UTC()
	c, err := s.store.Reconcile(ctx, chunkID, now)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: chunk %d", ErrNotFound, chunkID)
		}
		return nil, internalErr("reconcile chunk", err)
	}
	if c.TransactionID == nil {
		pricing, err := s.catalog.Pricing(ctx, c.FacilityID, c.VehicleType)
		if err != nil {
			return nil, err
		}
		amount := ChunkPrice(pricing.PricePerDay, c.TotalSpots, c.ValidFrom, c.ValidTo)
		if _, err := s.settle(ctx, c, amount, ""); err != nil {
			return nil, err
		}
		s.logger.Info("pending chunk purchase recorded", zap.Int64("chunk_id", c.ID), zap.String("amount", amount.StringFixed(2)))
	}
	s.returnExpiredSpots(ctx, c, now)
	s.metrics.BulkChunk(*c)
	return c, nil
}

// SweepExpired returns the reservation spots of every chunk whose window ended.
func (s *BulkService) SweepExpired(ctx context.Context) (int, error) {
	ids, err := s.store.ChunkIDs(ctx)
	if err != nil {
		return 0, internalErr("list chunks", err)
	}
	now := s.now().UTC()
	returned := 0
	for _, id := range ids {
		c, err := s.store.GetChunk(ctx, id)
		if err != nil {
			return returned, internalErr("get chunk", err)
		}
		if s.returnExpiredSpots(ctx, c, now) {
			returned++
		}
	}
	return returned, nil
}

// returnExpiredSpots gives an ended chunk's spots back to the reservation quota.
// The store flag makes it happen once per chunk.
func (s *BulkService) returnExpiredSpots(ctx context.Context, c *models.BulkChunk, now time.Time) bool {
	if c.CapacityReleased || !c.Ended(now) {
		return false
	}
	marked, err := s.store.MarkCapacityReleased(ctx, c.ID, now)
	if err != nil {
		s.logger.Warn("failed to mark chunk capacity released", zap.Int64("chunk_id", c.ID), zap.Error(err))
		return false
	}
	c.CapacityReleased = true
	if !marked {
		return false
	}
	if _, err := s.capacity.Release(ctx, c.FacilityID, c.VehicleType, models.QuotaReservation, c.TotalSpots); err != nil {
		s.logger.Error("failed to return expired chunk capacity",
			zap.Int64("chunk_id", c.ID),
			zap.Int64("facility_id", c.FacilityID),
			zap.Int("spots", c.TotalSpots),
			zap.Error(err),
		)
		return false
	}
	s.logger.Info("expired chunk spots returned",
		zap.Int64("chunk_id", c.ID),
		zap.Int64("facility_id", c.FacilityID),
		zap.Int("spots", c.TotalSpots),
	)
	return true
}

// GetChunk returns a chunk with its status derived at the current time.
func (s *BulkService) GetChunk(ctx context.Context, id int64) (*models.BulkChunk, error) {
	c, err := s.store.GetChunk(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: chunk %d", ErrNotFound, id)
		}
		return nil, internalErr("get chunk", err)
	}
	now := s.now().UTC()
	c.Status = c.DeriveStatus(now)
	s.returnExpiredSpots(ctx, c, now)
	return c, nil
}

// AssignmentChunk returns the chunk a sub-assignment draws from.
func (s *BulkService) AssignmentChunk(ctx context.Context, assignmentID int64) (*models.BulkChunk, error) {
	a, err := s.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: assignment %d", ErrNotFound, assignmentID)
		}
		return nil, internalErr("get assignment", err)
	}
	return s.GetChunk(ctx, a.ChunkID)
}

// ListAssignments returns the sub-assignments of a chunk.
func (s *BulkService) ListAssignments(ctx context.Context, chunkID int64) ([]models.SubAssignment, error) {
	if _, err := s.GetChunk(ctx, chunkID); err != nil {
		return nil, err
	}
	out, err := s.store.ListAssignments(ctx, chunkID)
	if err != nil {
		return nil, internalErr("list assignments", err)
	}
	return out, nil
}
