package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parkline/backend/services/parking-service/internal/models"
	"parkline/backend/services/parking-service/internal/repository"
)

var now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func TestSessionTransitionIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	store := NewSessions()
	s := &models.Session{Kind: models.KindBilling, Token: "t1", State: models.StatePending, CreatedAt: now}
	require.NoError(t, store.Create(ctx, s))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Transition(ctx, s.ID, models.StatePending, models.SessionUpdate{State: models.StateCompleted}, now)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, repository.ErrStateConflict)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	got, err := store.GetByToken(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, got.State)
	assert.Equal(t, int64(1), got.Version)
}

func TestSessionStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewSessions()
	s := &models.Session{Token: "t1", State: models.StateActive, CreatedAt: now}
	require.NoError(t, store.Create(ctx, s))

	got, _ := store.GetByID(ctx, s.ID)
	got.State = models.StateCancelled

	again, _ := store.GetByID(ctx, s.ID)
	assert.Equal(t, models.StateActive, again.State)
}

func TestSessionCreateRejectsDuplicateToken(t *testing.T) {
	ctx := context.Background()
	store := NewSessions()
	first := &models.Session{Kind: models.KindBilling, Token: "same", UserID: 7, State: models.StateOngoing, CreatedAt: now}
	require.NoError(t, store.Create(ctx, first))

	second := &models.Session{Kind: models.KindBilling, Token: "same", UserID: 7, State: models.StateOngoing, CreatedAt: now}
	assert.ErrorIs(t, store.Create(ctx, second), repository.ErrDuplicateToken)
	assert.Zero(t, second.ID)

	got, err := store.GetByToken(ctx, "same")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	all, err := store.List(ctx, models.SessionFilter{UserID: 7})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCapacityNeverNegativeNorAboveQuota(t *testing.T) {
	ctx := context.Background()
	store := NewCapacity()
	_, err := store.Provision(ctx, models.Capacity{FacilityID: 1, VehicleType: models.VehicleCar, TotalSlots: 3, ReservationQuota: 1, WalkInQuota: 2})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	taken := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Take(ctx, 1, models.VehicleCar, models.QuotaWalkIn, 1); err == nil {
				mu.Lock()
				taken++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 2, taken)

	for i := 0; i < 5; i++ {
		_, err := store.Release(ctx, 1, models.VehicleCar, models.QuotaWalkIn, 1)
		require.NoError(t, err)
	}
	c, err := store.Get(ctx, 1, models.VehicleCar)
	require.NoError(t, err)
	assert.Equal(t, 2, c.WalkInAvailable)
	assert.Equal(t, 1, c.ReservationAvailable)
}

func TestBulkReconcileRepairsDrift(t *testing.T) {
	ctx := context.Background()
	store := NewBulk()
	c := &models.BulkChunk{TotalSpots: 5, ValidFrom: now, ValidTo: now.Add(24 * time.Hour), CreatedAt: now}
	require.NoError(t, store.CreateChunk(ctx, c, func(int64) string { return "chunk" }))
	_, err := store.Assign(ctx, &models.SubAssignment{ChunkID: c.ID, AssignedSpots: 2}, now, func(int64) string { return "sub" })
	require.NoError(t, err)

	store.chunks[c.ID].UsedSpots = 4
	store.chunks[c.ID].AvailableSpots = 3

	fixed, err := store.Reconcile(ctx, c.ID, now)
	require.NoError(t, err)
	assert.Equal(t, 2, fixed.UsedSpots)
	assert.Equal(t, 3, fixed.AvailableSpots)
	assert.Equal(t, models.ChunkActive, fixed.Status)

	again, err := store.Reconcile(ctx, c.ID, now)
	require.NoError(t, err)
	assert.Equal(t, fixed.AvailableSpots, again.AvailableSpots)

	expired, err := store.Reconcile(ctx, c.ID, now.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, models.ChunkExpired, expired.Status)
}

func TestBulkRejectsDuplicateTokens(t *testing.T) {
	ctx := context.Background()
	store := NewBulk()
	same := func(int64) string { return "dup" }
	c := &models.BulkChunk{TotalSpots: 5, ValidFrom: now, ValidTo: now.Add(24 * time.Hour), CreatedAt: now}
	require.NoError(t, store.CreateChunk(ctx, c, same))

	other := &models.BulkChunk{TotalSpots: 2, ValidFrom: now, ValidTo: now.Add(24 * time.Hour), CreatedAt: now}
	assert.ErrorIs(t, store.CreateChunk(ctx, other, same), repository.ErrDuplicateToken)

	_, err := store.Assign(ctx, &models.SubAssignment{ChunkID: c.ID, AssignedSpots: 2}, now, same)
	assert.ErrorIs(t, err, repository.ErrDuplicateToken)

	got, err := store.GetChunk(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.UsedSpots)
	ids, err := store.ChunkIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{c.ID}, ids)
}

func TestBulkMarkCapacityReleasedOnce(t *testing.T) {
	ctx := context.Background()
	store := NewBulk()
	c := &models.BulkChunk{TotalSpots: 5, ValidFrom: now, ValidTo: now.Add(24 * time.Hour), CreatedAt: now}
	require.NoError(t, store.CreateChunk(ctx, c, func(int64) string { return "chunk" }))

	done, err := store.MarkCapacityReleased(ctx, c.ID, now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, done)

	later := now.Add(48 * time.Hour)
	done, err = store.MarkCapacityReleased(ctx, c.ID, later)
	require.NoError(t, err)
	assert.True(t, done)
	done, err = store.MarkCapacityReleased(ctx, c.ID, later)
	require.NoError(t, err)
	assert.False(t, done)

	got, err := store.GetChunk(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.CapacityReleased)

	_, err = store.MarkCapacityReleased(ctx, 99, later)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestTransactionUpsertKeepsOneRow(t *testing.T) {
	ctx := context.Background()
	store := NewTransactions()

	first := &models.Transaction{Type: models.TxBooking, ReferenceID: 9, Status: models.TxPending, UpdatedAt: now}
	inserted, err := store.Upsert(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)

	second := &models.Transaction{Type: models.TxBooking, ReferenceID: 9, Status: models.TxCompleted, UpdatedAt: now}
	inserted, err = store.Upsert(ctx, second)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, first.ID, second.ID)

	all, _ := store.List(ctx, models.TransactionFilter{})
	require.Len(t, all, 1)
	assert.Equal(t, models.TxCompleted, all[0].Status)
}
