package models

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// WithdrawalStatus is the lifecycle state of a payout request.
type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "pending"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalPaid       WithdrawalStatus = "paid"
	WithdrawalFailed     WithdrawalStatus = "failed"
	WithdrawalRejected   WithdrawalStatus = "rejected"
)

// Withdrawal is one payout request. AmountFinal is what was debited from the
// ledger; AmountRequested is what the operator receives after fees.
type Withdrawal struct {
	ID              int64            `db:"id" json:"id"`
	AccountID       int64            `db:"account_id" json:"account_id"`
	AmountRequested decimal.Decimal  `db:"amount_requested" json:"amount_requested"`
	FeeTotal        decimal.Decimal  `db:"fee_total" json:"fee_total"`
	AmountFinal     decimal.Decimal  `db:"amount_final" json:"amount_final"`
	PixKey          string           `db:"pix_key" json:"pix_key"`
	PixType         string           `db:"pix_type" json:"pix_type"`
	Status          WithdrawalStatus `db:"status" json:"status"`
	PayoutID        sql.NullString   `db:"payout_id" json:"-"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	ProcessedAt     sql.NullTime     `db:"processed_at" json:"-"`
}
