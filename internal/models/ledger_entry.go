package models

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// EntryKind classifies a ledger movement.
type EntryKind string

const (
	KindSale          EntryKind = "sale"
	KindPlatformFee   EntryKind = "platform_fee"
	KindServiceFee    EntryKind = "service_fee"
	KindWithdrawal    EntryKind = "withdrawal"
	KindWithdrawalFee EntryKind = "withdrawal_fee"
)

// PendingPrefix marks the description of a placeholder sale that has not been paid yet.
const PendingPrefix = "(pending) "

// LedgerEntry represents a single signed movement on an account.
// Once Amount is non-zero the row is never mutated again.
type LedgerEntry struct {
	ID           int64           `db:"id" json:"id"`
	AccountID    int64           `db:"account_id" json:"account_id"`             // owning operator
	BotID        sql.NullInt64   `db:"bot_id" json:"-"`                          // originating bot, if any
	ExternalID   sql.NullString  `db:"external_id" json:"-"`                     // correlation id of a charge
	Kind         EntryKind       `db:"kind" json:"kind"`
	Amount       decimal.Decimal `db:"amount" json:"amount"`                     // positive = credit, negative = debit
	Description  string          `db:"description" json:"description"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	FollowupSent bool            `db:"followup_sent" json:"followup_sent"`
}

// IsPending reports whether the entry is an unsettled charge placeholder.
func (e LedgerEntry) IsPending() bool {
	return e.Kind == KindSale && e.Amount.IsZero() && e.ExternalID.Valid
}
