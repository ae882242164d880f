package service

import (
	"errors"
	"fmt"

	"parkline/backend/services/parking-service/internal/models"
)

// Business outcomes. Callers branch on these with errors.Is.
var (
	ErrNotFound              = errors.New("not found")
	ErrInsufficientCapacity  = errors.New("insufficient capacity")
	ErrOutOfRange            = errors.New("out of range")
	ErrExpired               = errors.New("booking expired before entry")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	ErrRejected              = errors.New("rejected")
	ErrInvalidInput          = errors.New("invalid input")

	// ErrInternal wraps storage and other infrastructure failures.
	ErrInternal = errors.New("internal error")
)

// RejectionCode is the machine-readable reason of a non-mutating rejection.
type RejectionCode string

const (
	RejectExpired          RejectionCode = "EXPIRED"
	RejectCancelled        RejectionCode = "CANCELLED"
	RejectCompleted        RejectionCode = "ALREADY_COMPLETED"
	RejectNotCheckedIn     RejectionCode = "NOT_CHECKED_IN"
	RejectNotCancellable   RejectionCode = "NOT_CANCELLABLE"
	RejectNotABooking      RejectionCode = "NOT_A_BOOKING"
	RejectStatusTransition RejectionCode = "INVALID_STATUS_TRANSITION"
)

// RejectionError reports that the call legitimately cannot proceed. Nothing was changed,
// except for RejectExpired where the booking has just been cancelled.
type RejectionError struct {
	Code   RejectionCode
	Reason string
	State  models.SessionState
}

func (e *RejectionError) Error() string {
	if e.State != "" {
		return fmt.Sprintf("%s: %s (state %s)", e.Code, e.Reason, e.State)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

// Is matches ErrRejected, and ErrExpired for expiry rejections.
func (e *RejectionError) Is(target error) bool {
	switch target {
	case ErrRejected:
		return true
	case ErrExpired:
		return e.Code == RejectExpired
	}
	return false
}

func reject(code RejectionCode, state models.SessionState, reason string) error {
	return &RejectionError{Code: code, Reason: reason, State: state}
}

// Notice qualifies a successful result: nothing changed, or part of it is still pending.
type Notice string

const (
	NoticeNone             Notice = ""
	NoticeAlreadyEntered   Notice = "ALREADY_ENTERED"
	NoticeAlreadyCompleted Notice = "ALREADY_COMPLETED"
	NoticeAlreadyPaid      Notice = "ALREADY_PAID"
	NoticeAlreadyCancelled Notice = "ALREADY_CANCELLED"
	NoticeAlreadyReleased  Notice = "ALREADY_RELEASED"
	NoticePaymentPending   Notice = "PAYMENT_PENDING"
)

func internalErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrInternal, op, err)
}
