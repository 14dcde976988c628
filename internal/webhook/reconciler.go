// Package webhook turns processor payment callbacks into settled ledger funds
// and access grants. Every callback is authenticated, parsed into a closed set
// of events, and applied at most once per correlation id.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sheikh-saqib/subscription-payments-ledger/internal/fees"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/interfaces"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/models"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/models/events"
	"github.com/sirupsen/logrus"
)

// Outcome is how a callback was handled. Every outcome is acknowledged to the
// processor; only OutcomeSettled changed state.
type Outcome string

const (
	OutcomeSettled            Outcome = "settled"
	OutcomeIgnoredUnsupported Outcome = "ignored_unsupported"
	OutcomeIgnoredMalformed   Outcome = "ignored_malformed"
	OutcomeIgnoredNotFound    Outcome = "ignored_not_found"
	OutcomeAlreadyProcessed   Outcome = "already_processed"
)

// Result of reconciling one callback. Entry is the placeholder when one was found.
type Result struct {
	Outcome Outcome
	Entry   *models.LedgerEntry
}

const accessGrantedText = "✅ <b>Payment confirmed!</b>\n\nHere is your exclusive access link:"

type Reconciler struct {
	store    interfaces.LedgerStore
	fees     fees.Engine
	verifier Verifier
	notifier interfaces.Notifier
	logger   logrus.FieldLogger
	now      func() time.Time
}

func NewReconciler(store interfaces.LedgerStore, engine fees.Engine, verifier Verifier, notifier interfaces.Notifier, logger logrus.FieldLogger) *Reconciler {
	return &Reconciler{
		store:    store,
		fees:     engine,
		verifier: verifier,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithNow overrides the clock used for access grant dates.
func (r *Reconciler) WithNow(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Handle authenticates and applies a raw callback. It returns
// ErrInvalidSignature or ErrUnparseable for requests the processor must not
// consider delivered; any other result is an acknowledgement.
func (r *Reconciler) Handle(ctx context.Context, signature string, body []byte) (Result, error) {
	if err := r.verifier.Verify(signature, body); err != nil {
		r.logger.WithField("signature_present", signature != "").Warn("webhook rejected: bad signature")
		return Result{}, err
	}
	ev, err := ParseEvent(body)
	if err != nil {
		return Result{}, err
	}
	return r.Reconcile(ctx, ev)
}

// grant is what must be delivered once the settlement commits.
type grant struct {
	botID   int64
	groupID int64
	buyerID int64
}

// Reconcile applies an authenticated event.
func (r *Reconciler) Reconcile(ctx context.Context, ev Event) (Result, error) {
	log := r.logger.WithField("external_id", ev.ExternalID)

	confirmed, outcome := ev.Confirmation()
	if confirmed == nil {
		log.WithFields(logrus.Fields{"type": ev.Type, "status": ev.Status, "outcome": outcome}).Debug("webhook ignored")
		return Result{Outcome: outcome}, nil
	}

	settlement := r.fees.Settle(confirmed.GrossCents, confirmed.NetCents)
	var (
		res     Result
		granted *grant
	)
	err := r.store.InTx(ctx, func(tx interfaces.LedgerTx) error {
		res, granted = Result{}, nil

		entry, err := tx.GetEntryByExternalIDForUpdate(ctx, confirmed.ExternalID)
		if errors.Is(err, interfaces.ErrNotFound) {
			res.Outcome = OutcomeIgnoredNotFound
			return nil
		}
		if err != nil {
			return err
		}
		res.Entry = entry
		if !entry.Amount.IsZero() {
			res.Outcome = OutcomeAlreadyProcessed
			return nil
		}
		if settlement.Credited.IsZero() {
			// Settling to zero would leave the charge looking unpaid forever.
			res.Outcome = OutcomeIgnoredMalformed
			return nil
		}

		description := strings.TrimPrefix(entry.Description, models.PendingPrefix)
		if err := tx.SettleEntry(ctx, entry.ID, settlement.Credited, description); err != nil {
			return fmt.Errorf("settling entry %d: %w", entry.ID, err)
		}
		entry.Amount, entry.Description = settlement.Credited, description

		if settlement.ServiceFee.IsPositive() {
			fee := &models.LedgerEntry{
				AccountID:   entry.AccountID,
				BotID:       entry.BotID,
				Kind:        models.KindServiceFee,
				Amount:      settlement.ServiceFee.Neg(),
				Description: fmt.Sprintf("Platform service fee (%s%%)", r.fees.In.ProfitPct.Shift(2).String()),
			}
			if err := tx.SaveEntry(ctx, fee); err != nil {
				return fmt.Errorf("recording service fee: %w", err)
			}
		}

		granted, err = r.grantAccess(ctx, tx, entry, confirmed)
		if err != nil {
			return err
		}
		res.Outcome = OutcomeSettled
		return nil
	})
	if err != nil {
		log.WithError(err).Error("webhook settlement failed")
		return Result{}, err
	}

	fields := logrus.Fields{"outcome": res.Outcome}
	if res.Entry != nil {
		fields["account_id"] = res.Entry.AccountID
		fields["amount"] = res.Entry.Amount.StringFixed(2)
	}
	log.WithFields(fields).Info("webhook reconciled")

	if granted != nil {
		r.notifier.Enqueue(ctx, events.Notification{
			Kind:      events.NotifyAccessGranted,
			BotID:     granted.botID,
			ChatID:    granted.buyerID,
			GroupID:   granted.groupID,
			Text:      accessGrantedText,
			Reference: confirmed.ExternalID,
		})
	}
	return res, nil
}

// grantAccess records the buyer's subscription. A missing plan or bot leaves
// the money settled and the grant to manual follow-up.
func (r *Reconciler) grantAccess(ctx context.Context, tx interfaces.LedgerTx, entry *models.LedgerEntry, confirmed *PaymentConfirmed) (*grant, error) {
	log := r.logger.WithFields(logrus.Fields{"external_id": confirmed.ExternalID, "plan_id": confirmed.Correlation.PlanID})

	plan, err := tx.GetPlan(ctx, confirmed.Correlation.PlanID)
	if errors.Is(err, interfaces.ErrNotFound) {
		log.Error("settled payment references an unknown plan; access not granted")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	botID := plan.BotID
	if entry.BotID.Valid {
		botID = entry.BotID.Int64
	}
	bot, err := tx.GetBot(ctx, botID)
	if errors.Is(err, interfaces.ErrNotFound) {
		log.WithField("bot_id", botID).Error("settled payment references an unknown bot; access not granted")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	start := r.now()
	sub := &models.Subscription{
		BotID:        bot.ID,
		PlanID:       plan.ID,
		SubscriberID: confirmed.Correlation.BuyerID,
		StartDate:    start,
		EndDate:      plan.AccessEnd(start),
		Active:       true,
	}
	if err := tx.CreateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("creating subscription: %w", err)
	}
	if err := tx.MarkLeadConverted(ctx, bot.ID, sub.SubscriberID); err != nil {
		return nil, fmt.Errorf("marking lead converted: %w", err)
	}
	return &grant{botID: bot.ID, groupID: bot.GroupID, buyerID: sub.SubscriberID}, nil
}
