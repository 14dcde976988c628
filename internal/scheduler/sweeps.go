package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/sheikh-saqib/subscription-payments-ledger/internal/correlation"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/interfaces"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	expiredText = "<b>⛔ Your plan has expired!</b>\n\nYou were removed from the VIP group. Renew now to come back."

	abandonedText = "Hi! 👋\n\nYour request to join the <b>VIP group</b> has not been completed yet.\n\n" +
		"⏳ Spots may run out at any time.\nIf you have questions about the payment, just reply here!"

	remarketingText = "👋 Still thinking about it?\n\nYour access to the <b>VIP group</b> is one tap away. Send /start to see the plans."
)

// expireAccess revokes grants whose end date has passed. A grant is flipped
// inactive even when removal or the goodbye message fails, so it is never
// revisited.
func (s *Scheduler) expireAccess(ctx context.Context, now time.Time) error {
	subs, err := s.store.GetExpiredSubscriptions(ctx, now, batchSize)
	if err != nil {
		return errorf("loading expired grants", err)
	}
	for _, sub := range subs {
		log := s.logger.WithFields(logrus.Fields{"subscription_id": sub.ID, "bot_id": sub.BotID, "subscriber_id": sub.SubscriberID})

		bot, err := s.store.GetBot(ctx, sub.BotID)
		switch {
		case errors.Is(err, interfaces.ErrNotFound):
			log.Warn("grant belongs to an unknown bot; deactivating without removal")
		case err != nil:
			return errorf("loading bot", err)
		default:
			if err := s.messenger.RemoveMember(ctx, bot.Token, bot.GroupID, sub.SubscriberID); err != nil {
				log.WithError(err).Warn("could not remove expired member")
			} else if err := s.messenger.SendMessage(ctx, bot.Token, sub.SubscriberID, expiredText); err != nil {
				log.WithError(err).Info("expiry message not delivered")
			}
		}

		changed, err := s.store.DeactivateSubscription(ctx, sub.ID)
		if err != nil {
			return errorf("deactivating grant", err)
		}
		if changed {
			log.Info("access expired")
		}
	}
	return nil
}

// remindAbandoned sends one reminder per unpaid charge older than
// AbandonedAfter. The reminder goes to the buyer named in the correlation id.
func (s *Scheduler) remindAbandoned(ctx context.Context, now time.Time) error {
	entries, err := s.store.GetAbandonedCharges(ctx, now.Add(-AbandonedAfter), batchSize)
	if err != nil {
		return errorf("loading abandoned charges", err)
	}
	for _, e := range entries {
		log := s.logger.WithFields(logrus.Fields{"entry_id": e.ID, "external_id": e.ExternalID.String})

		bot, buyerID, ok, err := s.abandonedTarget(ctx, e)
		if err != nil {
			return err
		}
		if !ok {
			// Nobody can be reminded; stop considering the charge.
			log.Debug("abandoned charge has no reachable buyer")
			if err := s.store.MarkEntryFollowupSent(ctx, e.ID); err != nil {
				return errorf("marking reminder", err)
			}
			continue
		}

		err = s.messenger.SendMessage(ctx, bot.Token, buyerID, s.variant(bot.Followups, abandonedText))
		switch {
		case err == nil:
			log.WithField("buyer_id", buyerID).Info("abandoned charge reminder sent")
		case errors.Is(err, interfaces.ErrRecipientBlocked):
			log.WithField("buyer_id", buyerID).Info("buyer blocked the bot")
		default:
			log.WithError(err).Warn("reminder not delivered; will retry")
			continue
		}
		if err := s.store.MarkEntryFollowupSent(ctx, e.ID); err != nil {
			return errorf("marking reminder", err)
		}
	}
	return nil
}

func (s *Scheduler) abandonedTarget(ctx context.Context, e models.LedgerEntry) (*models.Bot, int64, bool, error) {
	if !e.BotID.Valid {
		return nil, 0, false, nil
	}
	id, err := correlation.Parse(e.ExternalID.String)
	if err != nil {
		return nil, 0, false, nil
	}
	bot, err := s.store.GetBot(ctx, e.BotID.Int64)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, errorf("loading bot", err)
	}
	if !bot.Active {
		return nil, 0, false, nil
	}
	return bot, id.BuyerID, true, nil
}

// remarket re-engages leads idle for RemarketAfter, at most once per
// RemarketEvery. Leads that cannot or need not be messaged are stamped too, so
// a full batch of them never starves the rest.
func (s *Scheduler) remarket(ctx context.Context, now time.Time) error {
	leads, err := s.store.GetLeadsForRemarketing(ctx, now.Add(-RemarketAfter), now.Add(-RemarketEvery), batchSize)
	if err != nil {
		return errorf("loading leads", err)
	}
	for _, lead := range leads {
		log := s.logger.WithFields(logrus.Fields{"lead_id": lead.ID, "bot_id": lead.BotID, "user_id": lead.UserID})

		send, bot, err := s.shouldRemarket(ctx, lead)
		if err != nil {
			return err
		}
		if send {
			err = s.messenger.SendMessage(ctx, bot.Token, lead.UserID, s.variant(bot.Followups, remarketingText))
			switch {
			case err == nil:
				log.Info("remarketing message sent")
			case errors.Is(err, interfaces.ErrRecipientBlocked):
				log.Info("lead blocked the bot")
			default:
				log.WithError(err).Warn("remarketing message not delivered; will retry")
				continue
			}
		}
		if err := s.store.MarkLeadRemarketed(ctx, lead.ID, now); err != nil {
			return errorf("marking lead", err)
		}
	}
	return nil
}

func (s *Scheduler) shouldRemarket(ctx context.Context, lead models.Lead) (bool, *models.Bot, error) {
	active, err := s.store.HasActiveSubscription(ctx, lead.BotID, lead.UserID)
	if err != nil {
		return false, nil, errorf("checking grant", err)
	}
	if active {
		return false, nil, nil
	}
	bot, err := s.store.GetBot(ctx, lead.BotID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, errorf("loading bot", err)
	}
	return bot.Active, bot, nil
}
