package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"parkline/backend/services/parking-service/internal/clients"
	"parkline/backend/services/parking-service/internal/memstore"
	"parkline/backend/services/parking-service/internal/models"
	"parkline/backend/services/parking-service/internal/token"
)

func (h *harness) chunk(t *testing.T, spots int, from, to time.Time) *ChunkResult {
	t.Helper()
	res, err := h.bulk.CreateChunk(context.Background(), CreateChunkInput{
		PurchaserID: 50,
		FacilityID:  1,
		VehicleType: models.VehicleCar,
		TotalSpots:  spots,
		ValidFrom:   from,
		ValidTo:     to,
		Method:      "invoice",
	})
	require.NoError(t, err)
	return res
}

func TestCreateChunkTakesCapacityAndRecordsPurchase(t *testing.T) {
	h := newHarness(t)

	res := h.chunk(t, 3, day0, day0.Add(48*time.Hour))
	assert.Equal(t, 3, res.Chunk.AvailableSpots)
	assert.Equal(t, models.ChunkActive, res.Chunk.Status)
	assert.Len(t, res.Chunk.Token, token.Length)
	assert.Equal(t, 2, h.available(t, 1, models.QuotaReservation))

	require.NotNil(t, res.Transaction)
	assert.Equal(t, models.TxBulkBooking, res.Transaction.Type)
	assert.Equal(t, res.Chunk.ID, res.Transaction.ReferenceID)
	assert.Equal(t, "invoice", res.Transaction.Method)
	assert.True(t, res.Transaction.Amount.Equal(dec(6000)))

	stored, err := h.bulk.GetChunk(context.Background(), res.Chunk.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.TransactionID)
	assert.Equal(t, res.Transaction.ID, *stored.TransactionID)

	_, err = h.bulk.CreateChunk(context.Background(), CreateChunkInput{
		PurchaserID: 50, FacilityID: 1, VehicleType: models.VehicleCar,
		TotalSpots: 3, ValidFrom: day0, ValidTo: day0.Add(time.Hour),
	})
	assert.ErrorIs(t, err, ErrInsufficientCapacity)
}

func TestCreateChunkRejectsEndedWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.capacity.Provision(ctx, 1, models.VehicleCar)
	require.NoError(t, err)
	h.clock.Set(day0.Add(72 * time.Hour))

	_, err = h.bulk.CreateChunk(ctx, CreateChunkInput{
		PurchaserID: 50, FacilityID: 1, VehicleType: models.VehicleCar,
		TotalSpots: 2, ValidFrom: day0, ValidTo: day0.Add(24 * time.Hour),
	})
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.Equal(t, 5, h.available(t, 1, models.QuotaReservation))
	txs, err := h.txs.List(ctx, models.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, txs)
	ids, err := h.bulkStore.ChunkIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

type failingLedger struct {
	*memstore.Transactions
}

func (failingLedger) Upsert(context.Context, *models.Transaction) (bool, error) {
	return false, errors.New("ledger unavailable")
}

func TestCreateChunkKeepsChunkWhenLedgerFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.bulk.reconciler = NewReconciler(failingLedger{h.txs}, h.sessions, h.bulkStore, zap.NewNop())

	res := h.chunk(t, 3, day0, day0.Add(48*time.Hour))
	assert.Equal(t, NoticePaymentPending, res.Notice)
	assert.Nil(t, res.Transaction)
	assert.Nil(t, res.Chunk.TransactionID)
	assert.Equal(t, 2, h.available(t, 1, models.QuotaReservation))

	h.bulk.reconciler = h.reconciler
	settled, err := h.bulk.Reconcile(ctx, res.Chunk.ID)
	require.NoError(t, err)
	require.NotNil(t, settled.TransactionID)

	tx, err := h.reconciler.ForReference(ctx, models.TxBulkBooking, res.Chunk.ID)
	require.NoError(t, err)
	assert.Equal(t, *settled.TransactionID, tx.ID)
	assert.True(t, tx.Amount.Equal(dec(6000)))
	assert.Equal(t, DefaultPaymentMethod, tx.Method)

	again, err := h.bulk.Reconcile(ctx, res.Chunk.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, *again.TransactionID)
	txs, err := h.txs.List(ctx, models.TransactionFilter{})
	require.NoError(t, err)
	assert.Len(t, txs, 1)
	assert.Equal(t, 2, h.available(t, 1, models.QuotaReservation))
}

func TestExpiredChunkReturnsSpotsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.chunk(t, 5, day0, day0.Add(24*time.Hour)).Chunk
	assert.Equal(t, 0, h.available(t, 1, models.QuotaReservation))

	_, err := h.svc.CreateBooking(ctx, CreateBookingInput{
		FacilityID: 1, UserID: 4, VehicleType: models.VehicleCar,
		ScheduledEntry: at("10:00"), ScheduledExit: at("11:00"),
	})
	require.Error(t, err)

	later := day0.Add(72 * time.Hour)
	h.clock.Set(later)
	expired, err := h.bulk.Reconcile(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChunkExpired, expired.Status)
	assert.True(t, expired.CapacityReleased)
	assert.Equal(t, 5, h.available(t, 1, models.QuotaReservation))

	_, err = h.bulk.Reconcile(ctx, c.ID)
	require.NoError(t, err)
	_, err = h.bulk.GetChunk(ctx, c.ID)
	require.NoError(t, err)
	swept, err := h.bulk.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept)
	assert.Equal(t, 5, h.available(t, 1, models.QuotaReservation))

	h.book(t, 4, later.Add(time.Hour), later.Add(2*time.Hour))
	assert.Equal(t, 4, h.available(t, 1, models.QuotaReservation))
}

func TestSweepExpiredSkipsRunningChunks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.chunk(t, 2, day0, day0.Add(24*time.Hour))
	h.chunk(t, 1, day0, day0.Add(96*time.Hour))
	assert.Equal(t, 2, h.available(t, 1, models.QuotaReservation))

	h.clock.Set(day0.Add(48 * time.Hour))
	swept, err := h.bulk.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)
	assert.Equal(t, 4, h.available(t, 1, models.QuotaReservation))

	swept, err = h.bulk.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept)
}

func TestChunkPriceCountsStartedDays(t *testing.T) {
	assert.True(t, ChunkPrice(dec(1000), 2, day0, day0.Add(25*time.Hour)).Equal(dec(4000)))
	assert.True(t, ChunkPrice(dec(1000), 2, day0, day0.Add(24*time.Hour)).Equal(dec(2000)))
}

func TestAssignNeverOversells(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.chunk(t, 5, day0, day0.Add(24*time.Hour)).Chunk

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		refused   int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(assignee int64) {
			defer wg.Done()
			_, err := h.bulk.Assign(ctx, AssignInput{
				ChunkID: c.ID, AssigneeID: assignee, Spots: 3,
				ValidFrom: day0, ValidTo: day0.Add(time.Hour),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrInsufficientCapacity):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(int64(100 + i))
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, refused)
	got, err := h.bulk.GetChunk(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.UsedSpots)
	assert.Equal(t, 2, got.AvailableSpots)
	assert.Equal(t, 1, h.pub.count("parking.bulk.assigned"))
}

func TestAssignWindowAndExpiry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.chunk(t, 2, day0, day0.Add(24*time.Hour)).Chunk

	_, err := h.bulk.Assign(ctx, AssignInput{
		ChunkID: c.ID, AssigneeID: 1, Spots: 1,
		ValidFrom: day0.Add(-time.Hour), ValidTo: day0.Add(time.Hour),
	})
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = h.bulk.Assign(ctx, AssignInput{
		ChunkID: 999, AssigneeID: 1, Spots: 1,
		ValidFrom: day0, ValidTo: day0.Add(time.Hour),
	})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = h.bulk.Assign(ctx, AssignInput{ChunkID: c.ID, AssigneeID: 1, Spots: 0})
	assert.ErrorIs(t, err, ErrInvalidInput)

	full, err := h.bulk.Assign(ctx, AssignInput{
		ChunkID: c.ID, AssigneeID: 1, Spots: 2,
		ValidFrom: day0, ValidTo: day0.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, models.ChunkFull, full.Chunk.Status)

	_, err = h.bulk.Assign(ctx, AssignInput{
		ChunkID: c.ID, AssigneeID: 2, Spots: 1,
		ValidFrom: day0, ValidTo: day0.Add(time.Hour),
	})
	assert.ErrorIs(t, err, ErrInsufficientCapacity)

	_, err = h.bulk.Release(ctx, full.Assignment.ID)
	require.NoError(t, err)
	h.clock.Set(day0.Add(25 * time.Hour))
	expired, err := h.bulk.GetChunk(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChunkExpired, expired.Status)
	_, err = h.bulk.Assign(ctx, AssignInput{
		ChunkID: c.ID, AssigneeID: 2, Spots: 1,
		ValidFrom: day0, ValidTo: day0.Add(time.Hour),
	})
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestReleaseAssignmentIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.chunk(t, 4, day0, day0.Add(24*time.Hour)).Chunk

	a, err := h.bulk.Assign(ctx, AssignInput{
		ChunkID: c.ID, AssigneeID: 8, Spots: 3,
		ValidFrom: day0, ValidTo: day0.Add(2 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, a.Chunk.AvailableSpots)

	first, err := h.bulk.Release(ctx, a.Assignment.ID)
	require.NoError(t, err)
	assert.Equal(t, NoticeNone, first.Notice)
	assert.Equal(t, 4, first.Chunk.AvailableSpots)

	second, err := h.bulk.Release(ctx, a.Assignment.ID)
	require.NoError(t, err)
	assert.Equal(t, NoticeAlreadyReleased, second.Notice)
	assert.Equal(t, 4, second.Chunk.AvailableSpots)

	_, err = h.bulk.Release(ctx, 404)
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := h.bulk.ListAssignments(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.AssignmentReleased, list[0].Status)

	reconciled, err := h.bulk.Reconcile(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, reconciled.UsedSpots)
	assert.Equal(t, 4, reconciled.AvailableSpots)
}

func TestDecodeToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	c := h.chunk(t, 2, day0, day0.Add(24*time.Hour)).Chunk
	a, err := h.bulk.Assign(ctx, AssignInput{
		ChunkID: c.ID, AssigneeID: 3, Spots: 1,
		ValidFrom: day0, ValidTo: day0.Add(time.Hour),
	})
	require.NoError(t, err)
	booking := h.book(t, 1, at("10:00"), at("11:00"))
	walkIn := h.walkIn(t, 1, 2)

	cases := []struct {
		name string
		tok  string
		want DecodedToken
	}{
		{"chunk", c.Token, DecodedToken{ID: c.ID, Type: token.KindBulkBooking}},
		{"assignment", a.Assignment.Token, DecodedToken{ID: a.Assignment.ID, Type: token.KindSubBulkBooking}},
		{"booking", booking.Token, DecodedToken{ID: booking.ID, Type: token.KindBooking}},
		{"walk-in", walkIn.Token, DecodedToken{ID: walkIn.ID, Type: token.KindBilling}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := h.tokens.Decode(ctx, tc.tok)
			require.NoError(t, err)
			assert.Equal(t, tc.want, *got)
		})
	}

	_, err = h.tokens.Decode(ctx, token.NewRegistry("test-salt").IssueTyped(77, token.KindBulkBooking))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = h.tokens.Decode(ctx, "zz")
	assert.ErrorIs(t, err, ErrNotFound)
}

type failingSource struct{ err error }

func (f failingSource) GetPricing(context.Context, int64, models.VehicleType) (*models.Pricing, error) {
	return nil, f.err
}

func TestCatalogFallback(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()
	local := memstore.NewFacilities(models.Pricing{FacilityID: 1, VehicleType: models.VehicleCar, PricePer30Min: dec(100), TotalSlots: 3})

	p, err := NewCatalogService(failingSource{errors.New("connection refused")}, local, logger).Pricing(ctx, 1, models.VehicleCar)
	require.NoError(t, err)
	assert.Equal(t, 3, p.TotalSlots)

	_, err = NewCatalogService(failingSource{errors.New("connection refused")}, nil, logger).Pricing(ctx, 1, models.VehicleCar)
	assert.ErrorIs(t, err, ErrDependencyUnavailable)

	_, err = NewCatalogService(failingSource{clients.ErrNotFound}, local, logger).Pricing(ctx, 1, models.VehicleCar)
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = NewCatalogService(local, nil, logger).Pricing(ctx, 1, "hovercraft")
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestReconcilerStatusChanges(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	walkIn := h.walkIn(t, 1, 1)
	h.clock.Set(at("09:20"))
	res, err := h.svc.ConfirmExit(ctx, walkIn.Token, "cash")
	require.NoError(t, err)
	txID := res.Transaction.ID

	refunded, err := h.reconciler.SetStatus(ctx, txID, models.TxRefunded)
	require.NoError(t, err)
	assert.Equal(t, models.TxRefunded, refunded.Status)

	again, err := h.reconciler.SetStatus(ctx, txID, models.TxRefunded)
	require.NoError(t, err)
	assert.Equal(t, models.TxRefunded, again.Status)

	_, err = h.reconciler.SetStatus(ctx, txID, models.TxCompleted)
	assert.ErrorIs(t, err, ErrRejected)

	kept, err := h.reconciler.Reconcile(ctx, LedgerRef{Type: models.TxBilling, ReferenceID: walkIn.ID, UserID: 1}, dec(100), "cash")
	require.NoError(t, err)
	assert.Equal(t, txID, kept.ID)
	assert.Equal(t, models.TxRefunded, kept.Status)

	pending := &models.Transaction{Type: models.TxBooking, ReferenceID: 99, UserID: 1, Amount: dec(10), Method: "card", Status: models.TxPending}
	_, err = h.txs.Upsert(ctx, pending)
	require.NoError(t, err)
	failed, err := h.reconciler.SetStatus(ctx, pending.ID, models.TxFailed)
	require.NoError(t, err)
	assert.Equal(t, models.TxFailed, failed.Status)

	_, err = h.reconciler.Get(ctx, 12345)
	assert.ErrorIs(t, err, ErrNotFound)
}
