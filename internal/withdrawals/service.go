// Package withdrawals implements the payout request workflow: a request debits
// the full gross amount immediately, and the request then ends paid, rejected
// (refunded) or, on the automated path, failed (refunded). An automated payout
// whose outcome is unknown stays processing until it is retried or approved.
package withdrawals

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/sheikh-saqib/subscription-payments-ledger/internal/fees"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/interfaces"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/models"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/models/events"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const defaultPixType = "CPF"

// Config holds the workflow settings.
type Config struct {
	Minimum      decimal.Decimal
	AdminGroupID int64 // chat receiving new requests; zero disables
}

// Request is a payout request as entered by the operator.
type Request struct {
	AccountID int64           `json:"-"`
	Gross     decimal.Decimal `json:"amount"`
	PixKey    string          `json:"pix_key"`
	PixType   string          `json:"pix_type"`
}

type Service struct {
	store     interfaces.LedgerStore
	fees      fees.Engine
	processor interfaces.PaymentProcessor
	notifier  interfaces.Notifier
	cfg       Config
	logger    logrus.FieldLogger
	now       func() time.Time
}

func NewService(store interfaces.LedgerStore, engine fees.Engine, processor interfaces.PaymentProcessor, notifier interfaces.Notifier, cfg Config, logger logrus.FieldLogger) *Service {
	return &Service{
		store:     store,
		fees:      engine,
		processor: processor,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Request validates and records a withdrawal, debiting the gross amount as a
// single ledger line. Validation failures are *ValidationError and write nothing.
func (s *Service) Request(ctx context.Context, req Request) (*models.Withdrawal, error) {
	gross := req.Gross.Round(2)
	pixKey := strings.TrimSpace(req.PixKey)
	pixType := strings.ToUpper(strings.TrimSpace(req.PixType))
	if pixType == "" {
		pixType = defaultPixType
	}
	if req.AccountID == 0 || pixKey == "" {
		return nil, invalid(ErrInvalidRequest, "account and pix key are required")
	}
	if gross.LessThan(s.cfg.Minimum) {
		return nil, invalid(ErrBelowMinimum, "the minimum withdrawal is %s", s.cfg.Minimum.StringFixed(2))
	}
	quote, err := s.fees.QuoteWithdrawal(gross)
	if err != nil {
		return nil, invalid(err, "%s does not cover the withdrawal fees", gross.StringFixed(2))
	}

	w := &models.Withdrawal{
		AccountID:       req.AccountID,
		AmountRequested: quote.Net,
		FeeTotal:        quote.Fee,
		AmountFinal:     quote.Gross,
		PixKey:          pixKey,
		PixType:         pixType,
		Status:          models.WithdrawalPending,
	}
	err = s.store.InTx(ctx, func(tx interfaces.LedgerTx) error {
		if err := tx.LockAccount(ctx, req.AccountID); err != nil {
			return err
		}
		balance, err := tx.GetBalance(ctx, req.AccountID)
		if err != nil {
			return err
		}
		if balance.LessThan(quote.Gross) {
			return invalid(ErrInsufficientBalance, "insufficient balance: have %s, requested %s",
				balance.StringFixed(2), quote.Gross.StringFixed(2))
		}
		if err := tx.CreateWithdrawal(ctx, w); err != nil {
			return fmt.Errorf("creating withdrawal: %w", err)
		}
		return tx.SaveEntry(ctx, &models.LedgerEntry{
			AccountID:   req.AccountID,
			Kind:        models.KindWithdrawal,
			Amount:      quote.Gross.Neg(),
			Description: fmt.Sprintf("PIX withdrawal (net %s)", quote.Net.StringFixed(2)),
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"withdrawal_id": w.ID,
		"account_id":    w.AccountID,
		"gross":         w.AmountFinal.StringFixed(2),
		"fee":           w.FeeTotal.StringFixed(2),
	}).Info("withdrawal requested")

	if s.cfg.AdminGroupID != 0 {
		s.notifier.Enqueue(ctx, events.Notification{
			Kind:   events.NotifyWithdrawalRequested,
			ChatID: s.cfg.AdminGroupID,
			Text: fmt.Sprintf("💸 <b>New withdrawal #%d</b>\n\nAccount: <code>%d</code>\nGross: R$ %s\nFee: R$ %s\nPay out: <b>R$ %s</b>\nPix key (%s): <code>%s</code>",
				w.ID, w.AccountID, w.AmountFinal.StringFixed(2), w.FeeTotal.StringFixed(2),
				w.AmountRequested.StringFixed(2), w.PixType, w.PixKey),
			Reference: fmt.Sprint(w.ID),
		})
	}
	return w, nil
}

// Approve marks a withdrawal as paid out manually. A withdrawal stuck in
// processing can be approved once the payout is confirmed out of band.
func (s *Service) Approve(ctx context.Context, id int64) (*models.Withdrawal, error) {
	w, err := s.transition(ctx, id, models.WithdrawalPaid, nil, models.WithdrawalPending, models.WithdrawalProcessing)
	if err != nil {
		return nil, err
	}
	s.notifyRequester(ctx, w, events.NotifyWithdrawalPaid,
		fmt.Sprintf("✅ <b>Withdrawal approved!</b>\n\nYour withdrawal of <b>R$ %s</b> has been paid.", w.AmountRequested.StringFixed(2)))
	return w, nil
}

// Reject refuses a pending withdrawal and refunds the full debited amount.
func (s *Service) Reject(ctx context.Context, id int64) (*models.Withdrawal, error) {
	w, err := s.transition(ctx, id, models.WithdrawalRejected, s.refund("rejected"), models.WithdrawalPending)
	if err != nil {
		return nil, err
	}
	s.notifyRequester(ctx, w, events.NotifyWithdrawalRejected,
		fmt.Sprintf("❌ <b>Withdrawal rejected</b>\n\nYour withdrawal of R$ %s was rejected and the amount returned to your wallet.", w.AmountRequested.StringFixed(2)))
	return w, nil
}

// Process pays a withdrawal through the processor. The row moves to processing
// before the payout call so that Reject can no longer touch it.
//
// A payout the processor refused ends in failed with the gross amount refunded;
// the withdrawal is returned together with an error matching ErrPayoutFailed.
// When the outcome is unknown the row stays processing and the error matches
// ErrPayoutUnconfirmed. Calling Process again resends with the same external
// id, which the processor deduplicates.
func (s *Service) Process(ctx context.Context, id int64) (*models.Withdrawal, error) {
	w, err := s.transition(ctx, id, models.WithdrawalProcessing, nil, models.WithdrawalPending, models.WithdrawalProcessing)
	if err != nil {
		return nil, err
	}
	log := s.logger.WithFields(logrus.Fields{"withdrawal_id": w.ID, "account_id": w.AccountID})

	payout, payoutErr := s.processor.SendPayout(ctx, interfaces.PayoutRequest{
		Amount:     w.AmountRequested,
		PixKey:     w.PixKey,
		PixKeyType: w.PixType,
		ExternalID: payoutExternalID(w.ID),
	})
	// The payout outcome must be recorded even if the request was cancelled.
	ctx = context.WithoutCancel(ctx)

	switch {
	case errors.Is(payoutErr, interfaces.ErrProcessorRejected):
		log.WithError(payoutErr).Warn("payout rejected, refunding")
		w, err = s.transition(ctx, id, models.WithdrawalFailed, s.refund("payout failed"), models.WithdrawalProcessing)
		if err != nil {
			return nil, err
		}
		s.notifyRequester(ctx, w, events.NotifyWithdrawalFailed,
			fmt.Sprintf("⚠️ <b>Withdrawal failed</b>\n\nWe could not pay out R$ %s. The amount was returned to your wallet.", w.AmountRequested.StringFixed(2)))
		return w, fmt.Errorf("%w: withdrawal %d: %w", ErrPayoutFailed, id, payoutErr)
	case payoutErr != nil:
		log.WithError(payoutErr).Error("payout outcome unknown, withdrawal left processing")
		return w, fmt.Errorf("%w: withdrawal %d: %w", ErrPayoutUnconfirmed, id, payoutErr)
	}

	w, err = s.transition(ctx, id, models.WithdrawalPaid, func(_ context.Context, _ interfaces.LedgerTx, w *models.Withdrawal) error {
		w.PayoutID = sql.NullString{String: payout.ID, Valid: payout.ID != ""}
		return nil
	}, models.WithdrawalProcessing)
	if err != nil {
		log.WithError(err).WithField("payout_id", payout.ID).Error("payout sent but withdrawal not marked paid")
		return nil, err
	}
	s.notifyRequester(ctx, w, events.NotifyWithdrawalPaid,
		fmt.Sprintf("✅ <b>Withdrawal paid!</b>\n\nR$ %s is on its way to your account.", w.AmountRequested.StringFixed(2)))
	return w, nil
}

func payoutExternalID(id int64) string {
	return fmt.Sprintf("withdrawal-%d", id)
}

type sideEffect func(ctx context.Context, tx interfaces.LedgerTx, w *models.Withdrawal) error

// refund credits back the full gross amount of the withdrawal.
func (s *Service) refund(reason string) sideEffect {
	return func(ctx context.Context, tx interfaces.LedgerTx, w *models.Withdrawal) error {
		return tx.SaveEntry(ctx, &models.LedgerEntry{
			AccountID:   w.AccountID,
			Kind:        models.KindSale,
			Amount:      w.AmountFinal,
			Description: fmt.Sprintf("Withdrawal #%d refund (%s)", w.ID, reason),
		})
	}
}

// transition moves withdrawal id to status to under a row lock, provided it is
// currently in one of from, applying effect in the same transaction.
func (s *Service) transition(ctx context.Context, id int64, to models.WithdrawalStatus, effect sideEffect, from ...models.WithdrawalStatus) (*models.Withdrawal, error) {
	var (
		w    *models.Withdrawal
		prev models.WithdrawalStatus
	)
	err := s.store.InTx(ctx, func(tx interfaces.LedgerTx) error {
		var err error
		w, err = tx.GetWithdrawalForUpdate(ctx, id)
		if errors.Is(err, interfaces.ErrNotFound) {
			return fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		if !slices.Contains(from, w.Status) {
			return &TransitionError{ID: id, Current: w.Status, Target: to}
		}
		prev = w.Status
		w.Status = to
		if to != models.WithdrawalProcessing {
			w.ProcessedAt = sql.NullTime{Time: s.now(), Valid: true}
		}
		if effect != nil {
			if err := effect(ctx, tx, w); err != nil {
				return err
			}
		}
		return tx.UpdateWithdrawal(ctx, w)
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"withdrawal_id": id, "from": prev, "to": to}).Info("withdrawal status changed")
	return w, nil
}

func (s *Service) notifyRequester(ctx context.Context, w *models.Withdrawal, kind events.NotificationKind, text string) {
	s.notifier.Enqueue(ctx, events.Notification{
		Kind:      kind,
		ChatID:    w.AccountID,
		Text:      text,
		Reference: fmt.Sprint(w.ID),
	})
}
