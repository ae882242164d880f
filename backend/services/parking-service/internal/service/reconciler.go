package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"parkline/backend/services/parking-service/internal/models"
	"parkline/backend/services/parking-service/internal/repository"
)

// DefaultPaymentMethod is recorded when the caller doesn't name one.
const DefaultPaymentMethod = "cash"

// LedgerRef addresses the session or chunk a transaction pays for.
type LedgerRef struct {
	Type        models.TransactionType
	ReferenceID int64
	UserID      int64
}

var statusTransitions = map[models.TransactionStatus][]models.TransactionStatus{
	models.TxPending:   {models.TxCompleted, models.TxFailed},
	models.TxCompleted: {models.TxRefunded},
}

// Reconciler is the only write path into the ledger.
type Reconciler struct {
	txs      TransactionStore
	sessions SessionStore
	bulk     BulkStore
	now      func() time.Time
	logger   *zap.Logger
}

// NewReconciler builds reconciler.
func NewReconciler(txs TransactionStore, sessions SessionStore, bulk BulkStore, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		txs:      txs,
		sessions: sessions,
		bulk:     bulk,
		now:      time.Now,
		logger:   logger,
	}
}

// Reconcile upserts the Completed transaction for ref and links it back to its origin.
// Repeated and concurrent calls converge on a single row.
func (r *Reconciler) Reconcile(ctx context.Context, ref LedgerRef, amount decimal.Decimal, method string) (*models.Transaction, error) {
	if method == "" {
		method = DefaultPaymentMethod
	}
	t := &models.Transaction{
		Type:        ref.Type,
		ReferenceID: ref.ReferenceID,
		UserID:      ref.UserID,
		Amount:      amount,
		Method:      method,
		Status:      models.TxCompleted,
		UpdatedAt:   r.now().UTC(),
	}
	inserted, err := r.txs.Upsert(ctx, t)
	if err != nil {
		return nil, internalErr("upsert transaction", err)
	}

	if err := r.link(ctx, ref, t.ID); err != nil {
		if !errors.Is(err, repository.ErrStateConflict) {
			return nil, internalErr("link transaction", err)
		}
		r.logger.Warn("origin already linked to another transaction",
			zap.String("type", string(ref.Type)),
			zap.Int64("reference_id", ref.ReferenceID),
			zap.Int64("transaction_id", t.ID),
		)
	}

	r.logger.Info("transaction reconciled",
		zap.Int64("transaction_id", t.ID),
		zap.String("type", string(t.Type)),
		zap.Int64("reference_id", t.ReferenceID),
		zap.String("amount", t.Amount.StringFixed(2)),
		zap.String("status", string(t.Status)),
		zap.Bool("inserted", inserted),
	)
	return t, nil
}

func (r *Reconciler) link(ctx context.Context, ref LedgerRef, txID int64) error {
	if ref.Type == models.TxBulkBooking {
		return r.bulk.LinkChunkTransaction(ctx, ref.ReferenceID, txID)
	}
	return r.sessions.LinkTransaction(ctx, ref.ReferenceID, txID)
}

// Get returns a transaction by id.
func (r *Reconciler) Get(ctx context.Context, id int64) (*models.Transaction, error) {
	t, err := r.txs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: transaction %d", ErrNotFound, id)
		}
		return nil, internalErr("get transaction", err)
	}
	return t, nil
}

// ForReference returns the transaction of a session or chunk.
func (r *Reconciler) ForReference(ctx context.Context, typ models.TransactionType, referenceID int64) (*models.Transaction, error) {
	t, err := r.txs.GetByReference(ctx, typ, referenceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: no %s transaction for %d", ErrNotFound, typ, referenceID)
		}
		return nil, internalErr("get transaction", err)
	}
	return t, nil
}

// List returns ledger entries matching f.
func (r *Reconciler) List(ctx context.Context, f models.TransactionFilter) ([]models.Transaction, error) {
	out, err := r.txs.List(ctx, f)
	if err != nil {
		return nil, internalErr("list transactions", err)
	}
	return out, nil
}

// SetStatus moves a transaction along Pending→Completed|Failed or Completed→Refunded.
func (r *Reconciler) SetStatus(ctx context.Context, id int64, to models.TransactionStatus) (*models.Transaction, error) {
	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == to {
		return current, nil
	}
	if !statusAllowed(current.Status, to) {
		return nil, &RejectionError{
			Code:   RejectStatusTransition,
			Reason: fmt.Sprintf("transaction %d cannot move from %s to %s", id, current.Status, to),
		}
	}

	updated, err := r.txs.UpdateStatus(ctx, id, current.Status, to, r.now().UTC())
	if err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			latest, getErr := r.Get(ctx, id)
			if getErr != nil {
				return nil, getErr
			}
			if latest.Status == to {
				return latest, nil
			}
			return nil, &RejectionError{
				Code:   RejectStatusTransition,
				Reason: fmt.Sprintf("transaction %d changed concurrently to %s", id, latest.Status),
			}
		}
		return nil, internalErr("update transaction status", err)
	}
	r.logger.Info("transaction status changed",
		zap.Int64("transaction_id", id),
		zap.String("from", string(current.Status)),
		zap.String("to", string(to)),
	)
	return updated, nil
}

func statusAllowed(from, to models.TransactionStatus) bool {
	for _, s := range statusTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
