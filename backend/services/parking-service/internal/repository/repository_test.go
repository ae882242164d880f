package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parkline/backend/services/parking-service/internal/models"
)

var fixedNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func sessionRow(state models.SessionState) *sqlmock.Rows {
	return sqlmock.NewRows(sessionColumns).AddRow(
		int64(1), "booking", "tok", int64(7), int64(42), "car", string(state), "pending",
		fixedNow, fixedNow.Add(30*time.Minute), nil, nil, "100",
		"100", "100", "0", "200", 30, 0,
		"", nil, int64(1), fixedNow, fixedNow,
	)
}

func capacityRow(resAvail, walkAvail int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"facility_id", "vehicle_type", "total_slots", "reservation_quota", "reservation_available",
		"walk_in_quota", "walk_in_available", "updated_at",
	}).AddRow(int64(7), "car", 10, 4, resAvail, 6, walkAvail, fixedNow)
}

func TestSessionTransitionReturnsUpdatedRow(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSessionRepository(db)

	entry := fixedNow
	mock.ExpectQuery(`UPDATE parking_sessions SET`).
		WithArgs(int64(1), "active", "ongoing", nil, entry, nil, nil, nil, nil, nil, nil, nil, nil, fixedNow).
		WillReturnRows(sessionRow(models.StateOngoing))

	s, err := repo.Transition(context.Background(), 1, models.StateActive,
		models.SessionUpdate{State: models.StateOngoing, EntryTime: &entry}, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, models.StateOngoing, s.State)
	assert.True(t, s.Fees.TotalFee.Equal(decimal.NewFromInt(200)))
	assert.Nil(t, s.TransactionID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionTransitionConflict(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSessionRepository(db)

	mock.ExpectQuery(`UPDATE parking_sessions SET`).
		WillReturnRows(sqlmock.NewRows(sessionColumns))

	_, err := repo.Transition(context.Background(), 1, models.StateOngoing,
		models.SessionUpdate{State: models.StateCompleted}, fixedNow)
	assert.ErrorIs(t, err, ErrStateConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionCreateDuplicateToken(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSessionRepository(db)

	mock.ExpectQuery(`INSERT INTO parking_sessions`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "parking_sessions_token_key"})

	err := repo.Create(context.Background(), &models.Session{
		Kind: models.KindBilling, Token: "tok", FacilityID: 7, UserID: 42,
		VehicleType: models.VehicleCar, State: models.StateOngoing, CreatedAt: fixedNow,
	})
	assert.ErrorIs(t, err, ErrDuplicateToken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionGetByTokenNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSessionRepository(db)

	mock.ExpectQuery(`FROM parking_sessions WHERE token = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByToken(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionListBuildsFilter(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSessionRepository(db)

	mock.ExpectQuery(`SELECT .* FROM parking_sessions WHERE user_id = \$1 AND state IN \(\$2,\$3\) ORDER BY created_at DESC LIMIT 5`).
		WithArgs(int64(42), "active", "ongoing").
		WillReturnRows(sessionRow(models.StateActive))

	out, err := repo.List(context.Background(), models.SessionFilter{
		UserID: 42,
		States: []models.SessionState{models.StateActive, models.StateOngoing},
		Limit:  5,
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int64(7), out[0].FacilityID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCapacityTakeSucceeds(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCapacityRepository(db)

	mock.ExpectQuery(`SET walk_in_available = walk_in_available - \$3`).
		WithArgs(int64(7), "car", 1).
		WillReturnRows(capacityRow(4, 5))

	c, err := repo.Take(context.Background(), 7, models.VehicleCar, models.QuotaWalkIn, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, c.WalkInAvailable)
	assert.Equal(t, 1, c.WalkInInUse())
}

func TestCapacityTakeExhausted(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCapacityRepository(db)

	mock.ExpectQuery(`SET reservation_available = reservation_available - \$3`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`FROM facility_capacity WHERE facility_id = \$1`).
		WithArgs(int64(7), "car").
		WillReturnRows(capacityRow(0, 6))

	_, err := repo.Take(context.Background(), 7, models.VehicleCar, models.QuotaReservation, 1)
	assert.ErrorIs(t, err, ErrCapacityExhausted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCapacityTakeMissingRow(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCapacityRepository(db)

	mock.ExpectQuery(`UPDATE facility_capacity`).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT .* FROM facility_capacity`).WillReturnError(sql.ErrNoRows)

	_, err := repo.Take(context.Background(), 9, models.VehicleTruck, models.QuotaWalkIn, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCapacityReleaseClampsToQuota(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCapacityRepository(db)

	mock.ExpectQuery(`SET walk_in_available = LEAST\(walk_in_available \+ \$3, walk_in_quota\)`).
		WithArgs(int64(7), "car", 1).
		WillReturnRows(capacityRow(4, 6))

	c, err := repo.Release(context.Background(), 7, models.VehicleCar, models.QuotaWalkIn, 1)
	require.NoError(t, err)
	assert.Equal(t, 6, c.WalkInAvailable)
}

func TestTransactionUpsertReportsInsert(t *testing.T) {
	db, mock := newMock(t)
	repo := NewTransactionRepository(db)

	cols := append(append([]string{}, transactionColumns...), "inserted")
	mock.ExpectQuery(`ON CONFLICT \(type, reference_id\) DO UPDATE`).
		WithArgs("billing", int64(3), int64(42), sqlmock.AnyArg(), "cash", "Completed", fixedNow).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(11), "billing", int64(3), int64(42), "100", "cash", "Completed", fixedNow, fixedNow, true))

	tx := &models.Transaction{
		Type:        models.TxBilling,
		ReferenceID: 3,
		UserID:      42,
		Amount:      decimal.NewFromInt(100),
		Method:      "cash",
		Status:      models.TxCompleted,
		UpdatedAt:   fixedNow,
	}
	inserted, err := repo.Upsert(context.Background(), tx)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, int64(11), tx.ID)
}

func TestTransactionUpsertKeepsRefunded(t *testing.T) {
	db, mock := newMock(t)
	repo := NewTransactionRepository(db)

	cols := append(append([]string{}, transactionColumns...), "inserted")
	mock.ExpectQuery(`INSERT INTO transactions`).WillReturnRows(sqlmock.NewRows(cols))
	mock.ExpectQuery(`WHERE type = \$1 AND reference_id = \$2`).
		WithArgs("booking", int64(3)).
		WillReturnRows(sqlmock.NewRows(transactionColumns).
			AddRow(int64(11), "booking", int64(3), int64(42), "100", "card", "Refunded", fixedNow, fixedNow))

	tx := &models.Transaction{Type: models.TxBooking, ReferenceID: 3, Status: models.TxCompleted, UpdatedAt: fixedNow}
	inserted, err := repo.Upsert(context.Background(), tx)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, models.TxRefunded, tx.Status)
}

func TestTransactionUpdateStatusConflict(t *testing.T) {
	db, mock := newMock(t)
	repo := NewTransactionRepository(db)

	mock.ExpectQuery(`UPDATE transactions SET status = \$3`).
		WithArgs(int64(11), "Completed", "Refunded", fixedNow).
		WillReturnRows(sqlmock.NewRows(transactionColumns))

	_, err := repo.UpdateStatus(context.Background(), 11, models.TxCompleted, models.TxRefunded, fixedNow)
	assert.ErrorIs(t, err, ErrStateConflict)
}

func chunkRow(used int, status models.ChunkStatus) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "token", "purchaser_id", "facility_id", "vehicle_type", "total_spots", "used_spots",
		"available_spots", "valid_from", "valid_to", "status", "transaction_id", "created_at", "updated_at",
		"capacity_released",
	}).AddRow(int64(5), "chunk-token", int64(9), int64(7), "car", 5, used, 5-used,
		fixedNow, fixedNow.Add(48*time.Hour), string(status), nil, fixedNow, fixedNow, false)
}

func TestBulkCreateChunkStampsToken(t *testing.T) {
	db, mock := newMock(t)
	repo := NewBulkRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO bulk_chunks`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))
	mock.ExpectExec(`UPDATE bulk_chunks SET token = \$2 WHERE id = \$1 AND token IS NULL`).
		WithArgs(int64(5), "tok-5").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	c := &models.BulkChunk{
		PurchaserID: 9, FacilityID: 7, VehicleType: models.VehicleCar, TotalSpots: 5,
		ValidFrom: fixedNow, ValidTo: fixedNow.Add(48 * time.Hour), CreatedAt: fixedNow,
	}
	err := repo.CreateChunk(context.Background(), c, func(id int64) string {
		assert.Equal(t, int64(5), id)
		return "tok-5"
	})
	require.NoError(t, err)
	assert.Equal(t, "tok-5", c.Token)
	assert.Equal(t, 5, c.AvailableSpots)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkAssignInsufficientSpotsRollsBack(t *testing.T) {
	db, mock := newMock(t)
	repo := NewBulkRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`WHERE id = \$1 AND used_spots \+ \$2 <= total_spots`).
		WithArgs(int64(5), 3, fixedNow).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT .* FROM bulk_chunks WHERE id = \$1`).
		WithArgs(int64(5)).
		WillReturnRows(chunkRow(3, models.ChunkActive))
	mock.ExpectRollback()

	a := &models.SubAssignment{ChunkID: 5, AssigneeID: 1, AssignedSpots: 3}
	_, err := repo.Assign(context.Background(), a, fixedNow, func(int64) string { return "x" })
	assert.ErrorIs(t, err, ErrInsufficientSpots)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkReleaseTwice(t *testing.T) {
	db, mock := newMock(t)
	repo := NewBulkRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE sub_assignments SET status = \$2`).
		WithArgs(int64(8), "released", fixedNow, "active").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(int64(8)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := repo.ReleaseAssignment(context.Background(), 8, fixedNow)
	assert.ErrorIs(t, err, ErrAlreadyReleased)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkReconcile(t *testing.T) {
	db, mock := newMock(t)
	repo := NewBulkRepository(db)

	mock.ExpectQuery(`UPDATE bulk_chunks SET\s+used_spots = s.used`).
		WithArgs(int64(5), fixedNow).
		WillReturnRows(chunkRow(5, models.ChunkFull))

	c, err := repo.Reconcile(context.Background(), 5, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, models.ChunkFull, c.Status)
	assert.Equal(t, 0, c.AvailableSpots)
}

func TestBulkMarkCapacityReleasedOnce(t *testing.T) {
	db, mock := newMock(t)
	repo := NewBulkRepository(db)

	mock.ExpectExec(`UPDATE bulk_chunks SET capacity_released = TRUE`).
		WithArgs(int64(5), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE bulk_chunks SET capacity_released = TRUE`).
		WithArgs(int64(5), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 0))

	first, err := repo.MarkCapacityReleased(context.Background(), 5, fixedNow)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := repo.MarkCapacityReleased(context.Background(), 5, fixedNow)
	require.NoError(t, err)
	assert.False(t, second)
	require.NoError(t, mock.ExpectationsWereMet())
}
