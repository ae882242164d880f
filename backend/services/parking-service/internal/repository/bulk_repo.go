package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"parkline/backend/libs/db"
	"parkline/backend/services/parking-service/internal/models"
)

const chunkSelect = `id, COALESCE(token, ''), purchaser_id, facility_id, vehicle_type, total_spots, used_spots,
	available_spots, valid_from, valid_to, status, transaction_id, created_at, updated_at, capacity_released`

const assignmentSelect = `id, chunk_id, COALESCE(token, ''), assignee_id, assigned_spots, valid_from, valid_to,
	status, created_at, updated_at`

// chunkStatusExpr recomputes status from a used-spots expression; $now must be bound.
const chunkStatusExpr = `CASE WHEN %[1]s >= total_spots THEN 'Full' WHEN %[2]s > valid_to THEN 'Expired' ELSE 'Active' END`

// BulkRepository stores bulk chunks and their sub-assignments.
type BulkRepository struct {
	db *sql.DB
}

// NewBulkRepository returns repository.
func NewBulkRepository(db *sql.DB) *BulkRepository {
	return &BulkRepository{db: db}
}

// CreateChunk inserts the chunk and stamps its token in the same transaction,
// since the token is derived from the generated id.
func (r *BulkRepository) CreateChunk(ctx context.Context, c *models.BulkChunk, tokenFor func(id int64) string) error {
	return db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		const insert = `
			INSERT INTO bulk_chunks (
				purchaser_id, facility_id, vehicle_type, total_spots, used_spots, available_spots,
				valid_from, valid_to, status, created_at, updated_at
			) VALUES ($1, $2, $3, $4, 0, $4, $5, $6, $7, $8, $8)
			RETURNING id
		`
		if err := tx.QueryRowContext(ctx, insert,
			c.PurchaserID,
			c.FacilityID,
			string(c.VehicleType),
			c.TotalSpots,
			c.ValidFrom.UTC(),
			c.ValidTo.UTC(),
			string(models.ChunkActive),
			c.CreatedAt,
		).Scan(&c.ID); err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}

		c.Token = tokenFor(c.ID)
		if _, err := tx.ExecContext(ctx,
			`UPDATE bulk_chunks SET token = $2 WHERE id = $1 AND token IS NULL`,
			c.ID, c.Token,
		); err != nil {
			return fmt.Errorf("stamp chunk token: %w", duplicateAs(err, ErrDuplicateToken))
		}

		c.UsedSpots = 0
		c.AvailableSpots = c.TotalSpots
		c.Status = models.ChunkActive
		c.UpdatedAt = c.CreatedAt
		return nil
	})
}

// GetChunk loads a chunk by id.
func (r *BulkRepository) GetChunk(ctx context.Context, id int64) (*models.BulkChunk, error) {
	return r.getChunk(ctx, r.db, id)
}

// ChunkIDs lists every chunk id, the candidate set for token classification.
func (r *BulkRepository) ChunkIDs(ctx context.Context) ([]int64, error) {
	return r.ids(ctx, `SELECT id FROM bulk_chunks ORDER BY id`)
}

// Assign reserves spots on the chunk and records the sub-assignment atomically.
// The conditional update serialises concurrent assigns on the same chunk.
func (r *BulkRepository) Assign(ctx context.Context, a *models.SubAssignment, now time.Time, tokenFor func(id int64) string) (*models.BulkChunk, error) {
	var chunk *models.BulkChunk
	err := db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		reserve := fmt.Sprintf(`
			UPDATE bulk_chunks SET
				used_spots = used_spots + $2,
				available_spots = total_spots - (used_spots + $2),
				status = `+chunkStatusExpr+`,
				updated_at = $3
			WHERE id = $1 AND used_spots + $2 <= total_spots
			RETURNING %[3]s
		`, "used_spots + $2", "$3", chunkSelect)

		c, err := scanChunk(tx.QueryRowContext(ctx, reserve, a.ChunkID, a.AssignedSpots, now))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				if _, getErr := r.getChunk(ctx, tx, a.ChunkID); getErr != nil {
					return getErr
				}
				return ErrInsufficientSpots
			}
			return fmt.Errorf("reserve spots: %w", err)
		}

		const insert = `
			INSERT INTO sub_assignments (
				chunk_id, assignee_id, assigned_spots, valid_from, valid_to, status, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
			RETURNING id
		`
		if err := tx.QueryRowContext(ctx, insert,
			a.ChunkID,
			a.AssigneeID,
			a.AssignedSpots,
			a.ValidFrom.UTC(),
			a.ValidTo.UTC(),
			string(models.AssignmentActive),
			now,
		).Scan(&a.ID); err != nil {
			return fmt.Errorf("insert assignment: %w", err)
		}

		a.Token = tokenFor(a.ID)
		if _, err := tx.ExecContext(ctx,
			`UPDATE sub_assignments SET token = $2 WHERE id = $1 AND token IS NULL`,
			a.ID, a.Token,
		); err != nil {
			return fmt.Errorf("stamp assignment token: %w", duplicateAs(err, ErrDuplicateToken))
		}

		a.Status = models.AssignmentActive
		a.CreatedAt = now
		a.UpdatedAt = now
		chunk = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chunk, nil
}

// GetAssignment loads a sub-assignment by id.
func (r *BulkRepository) GetAssignment(ctx context.Context, id int64) (*models.SubAssignment, error) {
	query := "SELECT " + assignmentSelect + " FROM sub_assignments WHERE id = $1"
	a, err := scanAssignment(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

// ListAssignments returns the sub-assignments of a chunk.
func (r *BulkRepository) ListAssignments(ctx context.Context, chunkID int64) ([]models.SubAssignment, error) {
	query := "SELECT " + assignmentSelect + " FROM sub_assignments WHERE chunk_id = $1 ORDER BY id"
	rows, err := r.db.QueryContext(ctx, query, chunkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SubAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// AssignmentIDs lists every sub-assignment id.
func (r *BulkRepository) AssignmentIDs(ctx context.Context) ([]int64, error) {
	return r.ids(ctx, `SELECT id FROM sub_assignments ORDER BY id`)
}

// ReleaseAssignment marks the assignment released and gives its spots back to the chunk.
// A second release returns ErrAlreadyReleased.
func (r *BulkRepository) ReleaseAssignment(ctx context.Context, id int64, now time.Time) (*models.BulkChunk, error) {
	var chunk *models.BulkChunk
	err := db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var chunkID int64
		var spots int
		err := tx.QueryRowContext(ctx, `
			UPDATE sub_assignments SET status = $2, updated_at = $3
			WHERE id = $1 AND status = $4
			RETURNING chunk_id, assigned_spots
		`, id, string(models.AssignmentReleased), now, string(models.AssignmentActive)).Scan(&chunkID, &spots)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				var exists bool
				if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM sub_assignments WHERE id = $1)`, id).Scan(&exists); err != nil {
					return err
				}
				if !exists {
					return ErrNotFound
				}
				return ErrAlreadyReleased
			}
			return fmt.Errorf("release assignment: %w", err)
		}

		giveBack := fmt.Sprintf(`
			UPDATE bulk_chunks SET
				used_spots = GREATEST(used_spots - $2, 0),
				available_spots = total_spots - GREATEST(used_spots - $2, 0),
				status = `+chunkStatusExpr+`,
				updated_at = $3
			WHERE id = $1
			RETURNING %[3]s
		`, "GREATEST(used_spots - $2, 0)", "$3", chunkSelect)
		c, err := scanChunk(tx.QueryRowContext(ctx, giveBack, chunkID, spots, now))
		if err != nil {
			return fmt.Errorf("return spots: %w", err)
		}
		chunk = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chunk, nil
}

// Reconcile recomputes used spots from the active assignments, then available spots
// and status from the counters. Safe to run repeatedly.
func (r *BulkRepository) Reconcile(ctx context.Context, id int64, now time.Time) (*models.BulkChunk, error) {
	query := fmt.Sprintf(`
		UPDATE bulk_chunks SET
			used_spots = s.used,
			available_spots = GREATEST(total_spots - s.used, 0),
			status = `+chunkStatusExpr+`,
			updated_at = $2
		FROM (
			SELECT COALESCE(SUM(assigned_spots), 0) AS used
			FROM sub_assignments
			WHERE chunk_id = $1 AND status = 'active'
		) s
		WHERE bulk_chunks.id = $1
		RETURNING %[3]s
	`, "s.used", "$2", chunkSelect)

	c, err := scanChunk(r.db.QueryRowContext(ctx, query, id, now))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reconcile chunk: %w", err)
	}
	return c, nil
}

// MarkCapacityReleased flips capacity_released on an ended chunk. It reports false
// when the chunk is still running or was already marked, so the spots go back once.
func (r *BulkRepository) MarkCapacityReleased(ctx context.Context, id int64, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE bulk_chunks SET capacity_released = TRUE, updated_at = $2
		WHERE id = $1 AND NOT capacity_released AND valid_to < $2
	`, id, now)
	if err != nil {
		return false, fmt.Errorf("mark chunk capacity released: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// LinkChunkTransaction records the ledger entry that paid for the chunk.
func (r *BulkRepository) LinkChunkTransaction(ctx context.Context, chunkID, transactionID int64) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE bulk_chunks SET transaction_id = $2
		WHERE id = $1 AND (transaction_id IS NULL OR transaction_id = $2)
	`, chunkID, transactionID)
	if err != nil {
		return fmt.Errorf("link chunk transaction: %w", err)
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

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (r *BulkRepository) getChunk(ctx context.Context, q queryRower, id int64) (*models.BulkChunk, error) {
	query := "SELECT " + chunkSelect + " FROM bulk_chunks WHERE id = $1"
	c, err := scanChunk(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

func (r *BulkRepository) ids(ctx context.Context, query string) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanChunk(row rowScanner) (*models.BulkChunk, error) {
	var (
		c          models.BulkChunk
		vt, status string
		txID       sql.NullInt64
	)
	if err := row.Scan(
		&c.ID,
		&c.Token,
		&c.PurchaserID,
		&c.FacilityID,
		&vt,
		&c.TotalSpots,
		&c.UsedSpots,
		&c.AvailableSpots,
		&c.ValidFrom,
		&c.ValidTo,
		&status,
		&txID,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.CapacityReleased,
	); err != nil {
		return nil, err
	}
	c.VehicleType = models.VehicleType(vt)
	c.Status = models.ChunkStatus(status)
	if txID.Valid {
		id := txID.Int64
		c.TransactionID = &id
	}
	return &c, nil
}

func scanAssignment(row rowScanner) (*models.SubAssignment, error) {
	var (
		a      models.SubAssignment
		status string
	)
	if err := row.Scan(
		&a.ID,
		&a.ChunkID,
		&a.Token,
		&a.AssigneeID,
		&a.AssignedSpots,
		&a.ValidFrom,
		&a.ValidTo,
		&status,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.Status = models.AssignmentStatus(status)
	return &a, nil
}
