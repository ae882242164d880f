package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when the addressed row does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrStateConflict means a compare-and-set lost: the row is no longer in the expected state.
	ErrStateConflict = errors.New("repository: state changed concurrently")
	// ErrCapacityExhausted means a conditional decrement would have gone negative.
	ErrCapacityExhausted = errors.New("repository: capacity exhausted")
	// ErrInsufficientSpots means a chunk can't cover the requested spots.
	ErrInsufficientSpots = errors.New("repository: insufficient spots in chunk")
	// ErrAlreadyReleased is returned when releasing an assignment twice.
	ErrAlreadyReleased = errors.New("repository: assignment already released")
	// ErrDuplicateToken means the token is already bound to another record.
	ErrDuplicateToken = errors.New("repository: token already issued")
)

const pgUniqueViolation = "23505"

// duplicateAs turns a unique violation into target and passes other errors through.
func duplicateAs(err, target error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return target
	}
	return err
}
