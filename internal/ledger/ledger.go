package ledger

import (
	"context"
	"errors"
	"fmt"

	interfaces "github.com/sheikh-saqib/subscription-payments-ledger/internal/interfaces"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/models"
	"github.com/shopspring/decimal"
)

// DefaultStatementLimit is how many entries a statement shows when no limit is given.
const DefaultStatementLimit = 15

// ErrInvalidEntry is returned for entries that can never be valid ledger rows.
var ErrInvalidEntry = errors.New("ledger: invalid entry")

// Ledger is the append-only record of monetary movements per account.
// Balances are always derived from the entries; nothing is cached.
type Ledger struct {
	store interfaces.LedgerStore
}

// NewLedger creates a Ledger on top of any store implementation.
func NewLedger(store interfaces.LedgerStore) *Ledger {
	return &Ledger{store: store}
}

// RecordEntry validates and appends entry. Only a sale placeholder keyed by a
// correlation id may carry a zero amount.
func (l *Ledger) RecordEntry(ctx context.Context, entry *models.LedgerEntry) error {
	if err := ValidateEntry(entry); err != nil {
		return err
	}
	return l.store.SaveEntry(ctx, entry)
}

// ValidateEntry checks the invariants every appended entry must satisfy.
func ValidateEntry(entry *models.LedgerEntry) error {
	if entry.AccountID == 0 {
		return fmt.Errorf("%w: account id is required", ErrInvalidEntry)
	}
	switch entry.Kind {
	case models.KindSale, models.KindPlatformFee, models.KindServiceFee, models.KindWithdrawal, models.KindWithdrawalFee:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEntry, entry.Kind)
	}
	if entry.Amount.IsZero() && !entry.IsPending() {
		return fmt.Errorf("%w: only a keyed sale placeholder may have a zero amount", ErrInvalidEntry)
	}
	return nil
}

// GetBalance returns the signed sum of every entry of the account, rounded to cents.
func (l *Ledger) GetBalance(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	balance, err := l.store.GetBalance(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return balance.Round(2), nil
}

// GetRecentEntries returns the newest non-zero entries of the account.
func (l *Ledger) GetRecentEntries(ctx context.Context, accountID int64, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 {
		limit = DefaultStatementLimit
	}
	entries, err := l.store.GetRecentEntries(ctx, accountID, limit)
	if err != nil {
		return []models.LedgerEntry{}, err
	}
	return entries, nil
}

// GetLedgerEntries returns every entry of the account including pending placeholders.
func (l *Ledger) GetLedgerEntries(ctx context.Context, accountID int64) ([]models.LedgerEntry, error) {
	ledgerEntries, err := l.store.GetEntriesByAccount(ctx, accountID)
	if err != nil {
		return []models.LedgerEntry{}, err
	}
	return ledgerEntries, nil
}
