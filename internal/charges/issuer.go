// Package charges issues instant-payment charges for plan purchases and
// records the pending sale they will settle into.
package charges

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sheikh-saqib/subscription-payments-ledger/internal/correlation"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/interfaces"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/ledger"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	ErrPlanNotFound = errors.New("charges: plan not found or inactive")
	ErrBotNotFound  = errors.New("charges: bot not found or inactive")
)

// Buyer identifies the person paying.
type Buyer struct {
	ID        int64
	FirstName string
	Username  string
}

// Handle is how the buyer appears in statements.
func (b Buyer) Handle() string {
	if b.Username != "" {
		return b.Username
	}
	return b.FirstName
}

// Result is what the buyer needs to pay.
type Result struct {
	CorrelationID string          `json:"correlation_id"`
	PixCopyPaste  string          `json:"pix_copy_paste"`
	Amount        decimal.Decimal `json:"amount"`
	PlanName      string          `json:"plan_name"`
}

// Issuer creates charges.
type Issuer struct {
	store     interfaces.LedgerStore
	ledger    *ledger.Ledger
	processor interfaces.PaymentProcessor
	logger    logrus.FieldLogger
}

func NewIssuer(store interfaces.LedgerStore, processor interfaces.PaymentProcessor, logger logrus.FieldLogger) *Issuer {
	return &Issuer{
		store:     store,
		ledger:    ledger.NewLedger(store),
		processor: processor,
		logger:    logger,
	}
}

// Issue charges buyer for planID. When the processor refuses, nothing is
// written to the ledger and the error is returned for the buyer to retry.
func (i *Issuer) Issue(ctx context.Context, planID int64, buyer Buyer) (*Result, error) {
	plan, err := i.store.GetPlan(ctx, planID)
	if errors.Is(err, interfaces.ErrNotFound) || (err == nil && !plan.Active) {
		return nil, fmt.Errorf("%w: %d", ErrPlanNotFound, planID)
	}
	if err != nil {
		return nil, err
	}
	bot, err := i.store.GetBot(ctx, plan.BotID)
	if errors.Is(err, interfaces.ErrNotFound) || (err == nil && !bot.Active) {
		return nil, fmt.Errorf("%w: %d", ErrBotNotFound, plan.BotID)
	}
	if err != nil {
		return nil, err
	}

	// Clicking "buy" counts as an interaction for re-engagement purposes.
	lead := &models.Lead{BotID: bot.ID, UserID: buyer.ID, FirstName: buyer.FirstName, Username: buyer.Username}
	if err := i.store.TouchLead(ctx, lead); err != nil {
		i.logger.WithError(err).WithField("bot_id", bot.ID).Warn("failed to record lead interaction")
	}

	id := correlation.New(plan.ID, buyer.ID).String()
	log := i.logger.WithFields(logrus.Fields{"external_id": id, "bot_id": bot.ID, "plan_id": plan.ID})

	charge, err := i.processor.CreateCharge(ctx, interfaces.ChargeRequest{
		Amount:      plan.Price,
		Description: "Plan " + plan.Name,
		PayerName:   buyer.FirstName,
		ExternalID:  id,
	})
	if err != nil {
		log.WithError(err).Warn("charge not created")
		return nil, fmt.Errorf("charges: creating charge: %w", err)
	}

	placeholder := &models.LedgerEntry{
		AccountID:   bot.OwnerID,
		BotID:       sql.NullInt64{Int64: bot.ID, Valid: true},
		ExternalID:  sql.NullString{String: id, Valid: true},
		Kind:        models.KindSale,
		Amount:      decimal.Zero,
		Description: fmt.Sprintf("%s%s - @%s", models.PendingPrefix, plan.Name, buyer.Handle()),
	}
	if err := i.ledger.RecordEntry(ctx, placeholder); err != nil {
		// The charge exists but can never be settled; the buyer must not pay it.
		log.WithError(err).Error("charge created but pending sale not recorded")
		return nil, fmt.Errorf("charges: recording pending sale: %w", err)
	}

	log.WithField("account_id", bot.OwnerID).Info("charge issued")
	return &Result{
		CorrelationID: id,
		PixCopyPaste:  charge.PixCopyPaste,
		Amount:        plan.Price,
		PlanName:      plan.Name,
	}, nil
}
