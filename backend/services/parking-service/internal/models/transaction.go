package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType tags what a ledger entry pays for.
type TransactionType string

const (
	TxBooking     TransactionType = "booking"
	TxBilling     TransactionType = "billing"
	TxBulkBooking TransactionType = "bulkbooking"
)

// TransactionStatus is the payment outcome.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "Pending"
	TxCompleted TransactionStatus = "Completed"
	TxFailed    TransactionStatus = "Failed"
	TxRefunded  TransactionStatus = "Refunded"
)

// Transaction is the single ledger entry for a session or bulk chunk.
type Transaction struct {
	ID          int64             `db:"id" json:"id"`
	Type        TransactionType   `db:"type" json:"type"`
	ReferenceID int64             `db:"reference_id" json:"reference_id"`
	UserID      int64             `db:"user_id" json:"user_id"`
	Amount      decimal.Decimal   `db:"amount" json:"amount"`
	Method      string            `db:"method" json:"method"`
	Status      TransactionStatus `db:"status" json:"status"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time         `db:"updated_at" json:"updated_at"`
}

// TransactionFilter narrows ledger listings.
type TransactionFilter struct {
	UserID int64
	Type   TransactionType
	Status TransactionStatus
	Limit  int
}

// TxTypeFor maps a session kind onto its ledger type.
func TxTypeFor(kind SessionKind) TransactionType {
	if kind == KindBooking {
		return TxBooking
	}
	return TxBilling
}
