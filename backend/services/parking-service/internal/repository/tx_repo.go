package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"parkline/backend/services/parking-service/internal/models"
)

var transactionColumns = []string{
	"id", "type", "reference_id", "user_id", "amount", "method", "status", "created_at", "updated_at",
}

var transactionSelect = strings.Join(transactionColumns, ", ")

// TransactionRepository persists ledger transactions. There is at most one row per
// (type, reference_id).
type TransactionRepository struct {
	db *sql.DB
}

// NewTransactionRepository returns repository.
func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Upsert creates the ledger row for t.Type/t.ReferenceID or updates the existing one in
// place. Refunded rows are never overwritten. inserted reports whether a new row was created.
func (r *TransactionRepository) Upsert(ctx context.Context, t *models.Transaction) (inserted bool, err error) {
	query := `
		INSERT INTO transactions (type, reference_id, user_id, amount, method, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (type, reference_id) DO UPDATE
		SET amount = EXCLUDED.amount,
			method = EXCLUDED.method,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
		WHERE transactions.status <> 'Refunded'
		RETURNING ` + transactionSelect + `, (xmax = 0) AS inserted`

	var stored *models.Transaction
	row := r.db.QueryRowContext(ctx, query,
		string(t.Type),
		t.ReferenceID,
		t.UserID,
		t.Amount,
		t.Method,
		string(t.Status),
		t.UpdatedAt,
	)
	stored, err = scanTransaction(row, &inserted)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("upsert transaction: %w", err)
		}
		// The row exists and is refunded; report it unchanged.
		stored, err = r.GetByReference(ctx, t.Type, t.ReferenceID)
		if err != nil {
			return false, err
		}
	}
	*t = *stored
	return inserted, nil
}

// GetByID loads a transaction.
func (r *TransactionRepository) GetByID(ctx context.Context, id int64) (*models.Transaction, error) {
	query := "SELECT " + transactionSelect + " FROM transactions WHERE id = $1"
	return r.getOne(ctx, query, id)
}

// GetByReference loads the transaction for a session or chunk.
func (r *TransactionRepository) GetByReference(ctx context.Context, typ models.TransactionType, referenceID int64) (*models.Transaction, error) {
	query := "SELECT " + transactionSelect + " FROM transactions WHERE type = $1 AND reference_id = $2"
	return r.getOne(ctx, query, string(typ), referenceID)
}

// UpdateStatus moves a transaction from one status to another. It returns
// ErrStateConflict if the stored status is no longer from.
func (r *TransactionRepository) UpdateStatus(ctx context.Context, id int64, from, to models.TransactionStatus, now time.Time) (*models.Transaction, error) {
	query := `
		UPDATE transactions SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
		RETURNING ` + transactionSelect
	t, err := scanTransaction(r.db.QueryRowContext(ctx, query, id, string(from), string(to), now), nil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStateConflict
		}
		return nil, fmt.Errorf("update transaction status: %w", err)
	}
	return t, nil
}

// List returns transactions matching the filter, newest first.
func (r *TransactionRepository) List(ctx context.Context, f models.TransactionFilter) ([]models.Transaction, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	q := psql.Select(transactionColumns...).From("transactions").
		OrderBy("created_at DESC").
		Limit(uint64(limit))
	if f.UserID > 0 {
		q = q.Where(sq.Eq{"user_id": f.UserID})
	}
	if f.Type != "" {
		q = q.Where(sq.Eq{"type": string(f.Type)})
	}
	if f.Status != "" {
		q = q.Where(sq.Eq{"status": string(f.Status)})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build transaction list: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *TransactionRepository) getOne(ctx context.Context, query string, args ...interface{}) (*models.Transaction, error) {
	t, err := scanTransaction(r.db.QueryRowContext(ctx, query, args...), nil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

// scanTransaction reads the standard columns, plus the inserted flag when it is non-nil.
func scanTransaction(row rowScanner, inserted *bool) (*models.Transaction, error) {
	var (
		t           models.Transaction
		typ, status string
	)
	dest := []interface{}{
		&t.ID,
		&typ,
		&t.ReferenceID,
		&t.UserID,
		&t.Amount,
		&t.Method,
		&status,
		&t.CreatedAt,
		&t.UpdatedAt,
	}
	if inserted != nil {
		dest = append(dest, inserted)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	t.Type = models.TransactionType(typ)
	t.Status = models.TransactionStatus(status)
	return &t, nil
}
