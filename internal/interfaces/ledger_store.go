package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/sheikh-saqib/subscription-payments-ledger/internal/models"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned by stores when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a write would break a uniqueness or
	// single-settlement constraint.
	ErrConflict = errors.New("store: conflict")
)

// LedgerTx is the set of operations available on a store, both inside and
// outside a transaction. Methods suffixed ForUpdate take a row lock when run
// inside InTx.
type LedgerTx interface {
	// Ledger entries
	SaveEntry(ctx context.Context, entry *models.LedgerEntry) error
	GetEntryByExternalIDForUpdate(ctx context.Context, externalID string) (*models.LedgerEntry, error)
	SettleEntry(ctx context.Context, entryID int64, amount decimal.Decimal, description string) error
	MarkEntryFollowupSent(ctx context.Context, entryID int64) error
	GetBalance(ctx context.Context, accountID int64) (decimal.Decimal, error)
	GetRecentEntries(ctx context.Context, accountID int64, limit int) ([]models.LedgerEntry, error)
	GetEntriesByAccount(ctx context.Context, accountID int64) ([]models.LedgerEntry, error)
	GetAbandonedCharges(ctx context.Context, createdBefore time.Time, limit int) ([]models.LedgerEntry, error)

	// LockAccount serialises balance-dependent writes for one account until
	// the surrounding transaction ends.
	LockAccount(ctx context.Context, accountID int64) error

	// Withdrawals
	CreateWithdrawal(ctx context.Context, w *models.Withdrawal) error
	GetWithdrawalForUpdate(ctx context.Context, id int64) (*models.Withdrawal, error)
	UpdateWithdrawal(ctx context.Context, w *models.Withdrawal) error

	// Bots and plans
	SaveBot(ctx context.Context, bot *models.Bot) error
	GetBot(ctx context.Context, id int64) (*models.Bot, error)
	SavePlan(ctx context.Context, plan *models.Plan) error
	GetPlan(ctx context.Context, id int64) (*models.Plan, error)

	// Access grants
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	GetExpiredSubscriptions(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
	DeactivateSubscription(ctx context.Context, id int64) (bool, error)
	HasActiveSubscription(ctx context.Context, botID, subscriberID int64) (bool, error)

	// Leads
	TouchLead(ctx context.Context, lead *models.Lead) error
	MarkLeadConverted(ctx context.Context, botID, userID int64) error
	GetLeadsForRemarketing(ctx context.Context, interactedBefore, remarketedBefore time.Time, limit int) ([]models.Lead, error)
	MarkLeadRemarketed(ctx context.Context, id int64, at time.Time) error
}

// LedgerStore is a LedgerTx that can also run a group of operations atomically.
// If fn returns an error every change made through tx is discarded.
type LedgerStore interface {
	LedgerTx
	InTx(ctx context.Context, fn func(tx LedgerTx) error) error
}
