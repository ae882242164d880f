package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/shopspring/decimal"

	"parkline/backend/services/parking-service/internal/models"
)

const defaultListLimit = 50

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var sessionColumns = []string{
	"id", "kind", "token", "facility_id", "user_id", "vehicle_type", "state", "payment_status",
	"scheduled_entry", "scheduled_exit", "entry_time", "exit_time", "price_per_30min",
	"usage_fee", "booking_fee", "extra_time_fee", "total_fee", "duration_minutes", "extra_minutes",
	"cancel_reason", "transaction_id", "version", "created_at", "updated_at",
}

var sessionSelect = strings.Join(sessionColumns, ", ")

// SessionRepository handles persistence of parking sessions.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository returns repository.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new session. Token and CreatedAt must already be set.
func (r *SessionRepository) Create(ctx context.Context, s *models.Session) error {
	const query = `
		INSERT INTO parking_sessions (
			kind, token, facility_id, user_id, vehicle_type, state, payment_status,
			scheduled_entry, scheduled_exit, entry_time, exit_time, price_per_30min,
			usage_fee, booking_fee, extra_time_fee, total_fee, duration_minutes, extra_minutes,
			cancel_reason, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,0,$20,$20)
		RETURNING id, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		string(s.Kind),
		s.Token,
		s.FacilityID,
		s.UserID,
		string(s.VehicleType),
		string(s.State),
		string(s.PaymentStatus),
		nullTime(s.ScheduledEntry),
		nullTime(s.ScheduledExit),
		nullTime(s.EntryTime),
		nullTime(s.ExitTime),
		s.PricePer30Min,
		s.Fees.UsageFee,
		s.Fees.BookingFee,
		s.Fees.ExtraTimeFee,
		s.Fees.TotalFee,
		s.Fees.DurationMinutes,
		s.Fees.ExtraMinutes,
		s.CancelReason,
		s.CreatedAt,
	).Scan(&s.ID, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", duplicateAs(err, ErrDuplicateToken))
	}
	return nil
}

// GetByID loads a session by primary key.
func (r *SessionRepository) GetByID(ctx context.Context, id int64) (*models.Session, error) {
	query := "SELECT " + sessionSelect + " FROM parking_sessions WHERE id = $1"
	return r.getOne(ctx, query, id)
}

// GetByToken loads a session by its scannable token.
func (r *SessionRepository) GetByToken(ctx context.Context, token string) (*models.Session, error) {
	query := "SELECT " + sessionSelect + " FROM parking_sessions WHERE token = $1"
	return r.getOne(ctx, query, token)
}

// Transition moves a session out of `from` and writes the update in one statement.
// It returns ErrStateConflict when the stored state is no longer `from`.
func (r *SessionRepository) Transition(ctx context.Context, id int64, from models.SessionState, upd models.SessionUpdate, now time.Time) (*models.Session, error) {
	query := `
		UPDATE parking_sessions SET
			state = $3,
			payment_status = COALESCE($4, payment_status),
			entry_time = COALESCE($5, entry_time),
			exit_time = COALESCE($6, exit_time),
			usage_fee = COALESCE($7, usage_fee),
			booking_fee = COALESCE($8, booking_fee),
			extra_time_fee = COALESCE($9, extra_time_fee),
			total_fee = COALESCE($10, total_fee),
			duration_minutes = COALESCE($11, duration_minutes),
			extra_minutes = COALESCE($12, extra_minutes),
			cancel_reason = COALESCE($13, cancel_reason),
			version = version + 1,
			updated_at = $14
		WHERE id = $1 AND state = $2
		RETURNING ` + sessionSelect

	var payment, reason interface{}
	if upd.PaymentStatus != nil {
		payment = string(*upd.PaymentStatus)
	}
	if upd.CancelReason != nil {
		reason = *upd.CancelReason
	}
	var usage, booking, extra, total, duration, extraMinutes interface{}
	if upd.Fees != nil {
		usage = upd.Fees.UsageFee
		booking = upd.Fees.BookingFee
		extra = upd.Fees.ExtraTimeFee
		total = upd.Fees.TotalFee
		duration = upd.Fees.DurationMinutes
		extraMinutes = upd.Fees.ExtraMinutes
	}

	row := r.db.QueryRowContext(ctx, query,
		id,
		string(from),
		string(upd.State),
		payment,
		nullTime(upd.EntryTime),
		nullTime(upd.ExitTime),
		usage,
		booking,
		extra,
		total,
		duration,
		extraMinutes,
		reason,
		now,
	)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStateConflict
		}
		return nil, fmt.Errorf("transition session %d: %w", id, err)
	}
	return s, nil
}

// LinkTransaction records the ledger entry for a session. Linking the same id twice is a no-op.
func (r *SessionRepository) LinkTransaction(ctx context.Context, id, transactionID int64) error {
	const query = `
		UPDATE parking_sessions
		SET transaction_id = $2, updated_at = NOW()
		WHERE id = $1 AND (transaction_id IS NULL OR transaction_id = $2)
	`
	result, err := r.db.ExecContext(ctx, query, id, transactionID)
	if err != nil {
		return fmt.Errorf("link transaction: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStateConflict
	}
	return nil
}

// List returns sessions matching the filter, newest first.
func (r *SessionRepository) List(ctx context.Context, f models.SessionFilter) ([]models.Session, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	q := psql.Select(sessionColumns...).From("parking_sessions").
		OrderBy("created_at DESC").
		Limit(uint64(limit))
	if f.UserID > 0 {
		q = q.Where(sq.Eq{"user_id": f.UserID})
	}
	if f.FacilityID > 0 {
		q = q.Where(sq.Eq{"facility_id": f.FacilityID})
	}
	if f.Kind != "" {
		q = q.Where(sq.Eq{"kind": string(f.Kind)})
	}
	if len(f.States) > 0 {
		states := make([]string, 0, len(f.States))
		for _, s := range f.States {
			states = append(states, string(s))
		}
		q = q.Where(sq.Eq{"state": states})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build session list: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *SessionRepository) getOne(ctx context.Context, query string, arg interface{}) (*models.Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		s                                  models.Session
		kind, vehicle, state, payment      string
		schedEntry, schedExit, entry, exit sql.NullTime
		txID                               sql.NullInt64
		usage, booking, extra, total       decimal.Decimal
	)
	if err := row.Scan(
		&s.ID,
		&kind,
		&s.Token,
		&s.FacilityID,
		&s.UserID,
		&vehicle,
		&state,
		&payment,
		&schedEntry,
		&schedExit,
		&entry,
		&exit,
		&s.PricePer30Min,
		&usage,
		&booking,
		&extra,
		&total,
		&s.Fees.DurationMinutes,
		&s.Fees.ExtraMinutes,
		&s.CancelReason,
		&txID,
		&s.Version,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	s.Kind = models.SessionKind(kind)
	s.VehicleType = models.VehicleType(vehicle)
	s.State = models.SessionState(state)
	s.PaymentStatus = models.PaymentStatus(payment)
	s.ScheduledEntry = timePtr(schedEntry)
	s.ScheduledExit = timePtr(schedExit)
	s.EntryTime = timePtr(entry)
	s.ExitTime = timePtr(exit)
	s.Fees.UsageFee = usage
	s.Fees.BookingFee = booking
	s.Fees.ExtraTimeFee = extra
	s.Fees.TotalFee = total
	if txID.Valid {
		id := txID.Int64
		s.TransactionID = &id
	}
	return &s, nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
